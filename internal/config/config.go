package config

import (
	"os"
	"runtime"
	"strconv"
	"time"

	"repliscope/internal/errors"
)

// Config represents the complete application configuration
type Config struct {
	Estimation EstimationConfig `validate:"required"`
	Database   DatabaseConfig
	Server     ServerConfig `validate:"required"`
	Input      InputConfig
}

// EstimationConfig holds the Monte Carlo estimation settings. The two
// repetition counts are independent: one for the resampling pass, one for
// the bootstrap pass.
type EstimationConfig struct {
	Repetitions          int     `validate:"required"`
	BootstrapRepetitions int     `validate:"required"`
	Seed                 int64   `validate:"required"`
	Workers              int     `validate:"required"`
	Alpha                float64 `validate:"required"`
	ConfidenceLevel      float64 `validate:"required"`
	MinSignificant       int
}

// DatabaseConfig holds database connection settings. Persistence is
// optional: an empty URL disables it.
type DatabaseConfig struct {
	URL string
}

// Enabled reports whether result persistence is configured.
func (c DatabaseConfig) Enabled() bool {
	return c.URL != ""
}

// ServerConfig holds web server settings
type ServerConfig struct {
	Port            string `validate:"required"`
	ShutdownTimeout time.Duration
}

// InputConfig holds default input locations
type InputConfig struct {
	TableFile string
}

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	config := &Config{}

	// Load estimation configuration
	estimationConfig := loadEstimationConfig()
	config.Estimation = *estimationConfig

	// Load database configuration (optional)
	config.Database = DatabaseConfig{
		URL: getEnvOrDefault("DATABASE_URL", ""),
	}

	// Load server configuration
	serverConfig := loadServerConfig()
	config.Server = *serverConfig

	// Load input configuration
	config.Input = InputConfig{
		TableFile: getEnvOrDefault("TABLE_FILE", ""),
	}

	// Validate required fields
	if err := validateConfig(config); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}

	return config, nil
}

func loadEstimationConfig() *EstimationConfig {
	return &EstimationConfig{
		Repetitions:          getEnvIntOrDefault("REPLISCOPE_REPETITIONS", 500),
		BootstrapRepetitions: getEnvIntOrDefault("REPLISCOPE_BOOTSTRAP_REPETITIONS", 500),
		Seed:                 getEnvInt64OrDefault("REPLISCOPE_SEED", 42),
		Workers:              getEnvIntOrDefault("REPLISCOPE_WORKERS", runtime.NumCPU()),
		Alpha:                getEnvFloatOrDefault("REPLISCOPE_ALPHA", 0.05),
		ConfidenceLevel:      getEnvFloatOrDefault("REPLISCOPE_CONFIDENCE_LEVEL", 0.95),
		MinSignificant:       getEnvIntOrDefault("REPLISCOPE_MIN_SIGNIFICANT", 3),
	}
}

func loadServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:            getEnvOrDefault("PORT", "8080"),
		ShutdownTimeout: getEnvDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}

func validateConfig(config *Config) error {
	if err := ValidateEstimation(&config.Estimation); err != nil {
		return err
	}
	if config.Server.Port == "" {
		return errors.ConfigInvalid("server port is required")
	}
	return nil
}

// ValidateEstimation checks the estimation settings. CLI flag overrides
// funnel through this too, so violations surface the same way everywhere.
func ValidateEstimation(c *EstimationConfig) error {
	if c.Repetitions <= 0 {
		return errors.ConfigInvalid("repetitions must be positive")
	}
	if c.BootstrapRepetitions <= 0 {
		return errors.ConfigInvalid("bootstrap repetitions must be positive")
	}
	if c.Workers <= 0 {
		return errors.ConfigInvalid("workers must be positive")
	}
	if c.Alpha <= 0 || c.Alpha >= 1 {
		return errors.ConfigInvalid("alpha must be in (0, 1)")
	}
	if c.ConfidenceLevel <= 0 || c.ConfidenceLevel >= 1 {
		return errors.ConfigInvalid("confidence level must be in (0, 1)")
	}
	if c.MinSignificant < 1 {
		return errors.ConfigInvalid("minimum significant count must be at least 1")
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64OrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
