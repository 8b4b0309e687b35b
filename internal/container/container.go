package container

import (
	"context"
	"fmt"

	"repliscope/adapters/postgres"
	"repliscope/adapters/report"
	"repliscope/adapters/rng"
	"repliscope/adapters/tabular"
	"repliscope/adapters/zcurve"
	"repliscope/app"
	"repliscope/internal"
	"repliscope/internal/config"
	"repliscope/ports"

	"github.com/jmoiron/sqlx"
)

// Container holds all application dependencies and manages their lifecycle
type Container struct {
	Config *config.Config
	Logger *internal.Logger

	// Infrastructure
	DB *sqlx.DB

	// Ports
	Source      ports.ObservationSourcePort
	Fitter      ports.CurveFitterPort
	RNG         ports.RNGPort
	ResultsRepo ports.ResultsRepositoryPort

	// Services
	Analysis *app.AnalysisService
	Reports  *report.Generator
}

// New creates a new dependency injection container
func New(cfg *config.Config) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	return &Container{
		Config: cfg,
		Logger: internal.DefaultLogger,
	}, nil
}

// InitWithDatabase wires the components that require database access, then
// the rest of the graph. The observations table becomes the source unless a
// table file is configured, which takes precedence.
func (c *Container) InitWithDatabase(db *sqlx.DB) error {
	if db == nil {
		return fmt.Errorf("database connection cannot be nil")
	}
	c.DB = db

	if err := db.Ping(); err != nil {
		return fmt.Errorf("database connection test failed: %w", err)
	}

	c.ResultsRepo = postgres.NewResultsRepository(c.DB)
	if c.Config.Input.TableFile == "" {
		c.Source = postgres.NewObservationSource(c.DB)
	}

	if err := c.initAnalysis(); err != nil {
		return fmt.Errorf("failed to initialize analysis components: %w", err)
	}

	c.Logger.Info("container initialized with database connection")
	return nil
}

// Init wires the graph without persistence. Results are returned to callers
// but not stored.
func (c *Container) Init() error {
	if err := c.initAnalysis(); err != nil {
		return fmt.Errorf("failed to initialize analysis components: %w", err)
	}
	c.Logger.Info("container initialized without database, results will not be persisted")
	return nil
}

// initAnalysis initializes the estimation engine and its service.
func (c *Container) initAnalysis() error {
	if c.Source == nil {
		if c.Config.Input.TableFile == "" {
			return fmt.Errorf("no observation source configured: set TABLE_FILE or DATABASE_URL")
		}
		c.Source = tabular.NewLoader(c.Config.Input.TableFile)
	}

	c.Fitter = zcurve.NewFitter(zcurve.Config{
		Alpha:          c.Config.Estimation.Alpha,
		MinSignificant: c.Config.Estimation.MinSignificant,
	})
	c.RNG = rng.NewStreamAdapter()
	c.Reports = report.NewGenerator()

	service, err := app.NewAnalysisService(app.AnalysisServiceDeps{
		Source:     c.Source,
		Fitter:     c.Fitter,
		RNG:        c.RNG,
		Repository: c.ResultsRepo,
		Estimation: c.Config.Estimation,
		Logger:     c.Logger,
	})
	if err != nil {
		return err
	}
	c.Analysis = service
	return nil
}

// Shutdown gracefully shuts down all components
func (c *Container) Shutdown(ctx context.Context) error {
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}
