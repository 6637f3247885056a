// Package api serves the booth's HTTP interface.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/okian/roastboard/internal/adapters/objectstore"
	"github.com/okian/roastboard/internal/domain/ranking"
	"github.com/okian/roastboard/internal/domain/scoring"
	"github.com/okian/roastboard/internal/domain/upload"
	"github.com/okian/roastboard/internal/domain/validation"
	"github.com/okian/roastboard/pkg/logger"
)

const (
	leaderboardCacheControl = "max-age=2"
	defaultMaxLimit         = 1000
	timestampLayout         = "2006-01-02T15:04:05.000Z07:00"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	SubmitDependencies
	UploadDependencies
	ProcessDependencies
	LeaderboardDependencies
	ReadinessChecker
	StatsProvider
}

// SubmitDependencies issues upload authorizations for accepted submissions.
type SubmitDependencies interface {
	Issue(ctx context.Context, acc validation.Accepted) (upload.Authorization, error)
}

// UploadDependencies verifies capabilities and receives audio bodies.
type UploadDependencies interface {
	VerifyUpload(token, key string) (upload.Capability, error)
	ReceiveUpload(ctx context.Context, c upload.Capability, body io.Reader) (objectstore.PutResult, error)
}

// ProcessDependencies runs the scoring pipeline for one submission.
type ProcessDependencies interface {
	Process(ctx context.Context, req scoring.Request) (scoring.Outcome, error)
}

// LeaderboardDependencies reads ranked sessions.
type LeaderboardDependencies interface {
	Leaderboard(ctx context.Context, q ranking.Query) (ranking.Board, error)
}

// ReadinessChecker reports whether the service can take traffic.
type ReadinessChecker interface {
	Ready(ctx context.Context) error
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	submitHandler      *SubmitHandler
	uploadHandler      *UploadHandler
	processHandler     *ProcessHandler
	leaderboardHandler *LeaderboardHandler
	log                logger.Logger
}

// Option configures a Server.
type Option func(*serverConfig)

type serverConfig struct {
	maxLimit int
	log      logger.Logger
}

// WithMaxLimit caps the leaderboard limit parameter.
func WithMaxLimit(n int) Option {
	return func(c *serverConfig) {
		if n > 0 {
			c.maxLimit = n
		}
	}
}

// WithLogger sets the request logger.
func WithLogger(l logger.Logger) Option {
	return func(c *serverConfig) {
		if l != nil {
			c.log = l
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, opts ...Option) *Server {
	cfg := serverConfig{maxLimit: defaultMaxLimit, log: logger.Get().Named("http")}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{
		healthHandler:      NewHealthHandler(deps),
		statsHandler:       NewStatsHandler(deps),
		submitHandler:      NewSubmitHandler(deps, cfg.log),
		uploadHandler:      NewUploadHandler(deps, cfg.log),
		processHandler:     NewProcessHandler(deps, cfg.log),
		leaderboardHandler: NewLeaderboardHandler(deps, cfg.maxLimit),
		log:                cfg.log,
	}
}

// Register attaches the middleware stack and all HTTP routes to r.
// chi requires middleware before any route, so call it on a fresh router.
// CORS runs for every request on r, including preflights and unmatched paths.
func (s *Server) Register(r chi.Router) {
	r.Use(chimw.RequestID, chimw.Recoverer, CORS, RequestLogger(s.log))

	r.Get("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	r.Get("/readyz", MetricsMiddleware(s.healthHandler.HandleReady, "readyz"))
	r.Get("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	r.Post("/submit", MetricsMiddleware(s.submitHandler.HandleSubmit, "submit"))
	r.Put("/uploads/*", MetricsMiddleware(s.uploadHandler.HandleUpload, "uploads"))
	r.Post("/process", MetricsMiddleware(s.processHandler.HandleProcess, "process"))
	r.Get("/leaderboard", MetricsMiddleware(s.leaderboardHandler.HandleGetLeaderboard, "leaderboard"))
}

// Handler returns a router with every route registered.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	s.Register(r)
	return r
}

// errorResponse covers every error body the API returns.
type errorResponse struct {
	Error      string   `json:"error"`
	Message    string   `json:"message,omitempty"`
	Details    []string `json:"details,omitempty"`
	ResponseID string   `json:"responseId,omitempty"`
	Stage      string   `json:"stage,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, title string, err error) {
	resp := errorResponse{Error: title}
	if err != nil {
		resp.Message = err.Error()
	}
	writeJSON(w, status, resp)
}

func writeInvalid(w http.ResponseWriter, details ...string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid input", Details: details})
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}
