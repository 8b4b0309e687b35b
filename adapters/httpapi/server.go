package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"repliscope/adapters/report"
	"repliscope/app"
	"repliscope/domain/core"
	"repliscope/domain/study"
	"repliscope/internal/errors"
)

// Server exposes the analysis service as a JSON API.
type Server struct {
	router   *chi.Mux
	analysis *app.AnalysisService
	reports  *report.Generator
}

// NewServer creates the API server around an analysis service.
func NewServer(analysis *app.AnalysisService, reports *report.Generator) (*Server, error) {
	if analysis == nil {
		return nil, errors.InvalidInput("analysis service is required")
	}
	if reports == nil {
		reports = report.NewGenerator()
	}

	s := &Server{
		router:   chi.NewRouter(),
		analysis: analysis,
		reports:  reports,
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s, nil
}

// setupMiddleware configures HTTP middleware
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))
}

// setupRoutes configures the application routes
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Post("/api/analyses", s.handleCreateAnalysis)
	s.router.Get("/api/analyses", s.handleListAnalyses)
	s.router.Get("/api/analyses/{id}", s.handleGetAnalysis)
	s.router.Get("/api/analyses/{id}/report", s.handleAnalysisReport)
	s.router.Get("/api/odr", s.handleODR)
}

// Handler returns the root handler for mounting into an http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// analysisRequest is the POST /api/analyses body. All fields are optional;
// an empty body runs the overall analysis without subgroups.
type analysisRequest struct {
	Dimensions []string                     `json:"dimensions"`
	Collapse   map[string]map[string]string `json:"collapse"`
	Persist    bool                         `json:"persist"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateAnalysis(w http.ResponseWriter, r *http.Request) {
	var req analysisRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}

	result, err := s.analysis.Run(r.Context(), app.AnalysisRequest{
		Dimensions: req.Dimensions,
		Collapse:   toCollapseMaps(req.Collapse),
		Persist:    req.Persist,
	})
	if err != nil {
		s.writeError(w, statusForError(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	runID, err := core.ParseRunID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}

	result, err := s.analysis.GetRun(r.Context(), runID)
	if err != nil {
		s.writeError(w, statusForError(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListAnalyses(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	records, err := s.analysis.ListRuns(r.Context(), limit)
	if err != nil {
		s.writeError(w, statusForError(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"runs": records})
}

func (s *Server) handleAnalysisReport(w http.ResponseWriter, r *http.Request) {
	runID, err := core.ParseRunID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}

	result, err := s.analysis.GetRun(r.Context(), runID)
	if err != nil {
		s.writeError(w, statusForError(err), err.Error())
		return
	}

	if r.URL.Query().Get("format") == "html" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write(s.reports.HTML(result))
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(s.reports.Markdown(result)))
}

func (s *Server) handleODR(w http.ResponseWriter, r *http.Request) {
	odr, err := s.analysis.ODR(r.Context())
	if err != nil {
		s.writeError(w, statusForError(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, odr)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// statusForError maps the error taxonomy onto HTTP statuses.
func statusForError(err error) int {
	if core.IsNotFoundError(err) {
		return http.StatusNotFound
	}
	switch errors.GetCode(err) {
	case errors.CodeNotFound:
		return http.StatusNotFound
	case errors.CodeInvalidInput, errors.CodeEmptyGroup, errors.CodeMismatchedContrast:
		return http.StatusBadRequest
	case errors.CodeConfigInvalid:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func toCollapseMaps(raw map[string]map[string]string) map[string]study.CollapseMap {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]study.CollapseMap, len(raw))
	for dimension, mapping := range raw {
		out[dimension] = study.CollapseMap(mapping)
	}
	return out
}
