package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/drought-forecast-service/internal/domain"
	"github.com/couchcryptid/drought-forecast-service/internal/pipeline"
)

// ServiceVersion is reported by the index and health endpoints.
const ServiceVersion = "1.0.0"

// Predictor runs single-window predictions.
type Predictor interface {
	Predict(ctx context.Context, records []domain.Record) (domain.PredictionResult, error)
	CheckReadiness(ctx context.Context) error
	Loaded() bool
	ModelInfo() pipeline.ModelInfo
	Schema() *domain.Schema
}

// Batcher runs rolling-window predictions over a table.
type Batcher interface {
	PredictAll(ctx context.Context, rows []domain.Record) (pipeline.BatchResult, error)
}

// Recorder persists and queries predictions.
type Recorder interface {
	SavePrediction(ctx context.Context, res domain.PredictionResult, prov domain.Provenance) string
	SaveBatch(ctx context.Context, filename string, results []domain.PredictionResult, skipped int) string
	Recent(ctx context.Context, location string, limit int) ([]domain.PredictionRecord, error)
	History(ctx context.Context, skip, limit int) ([]domain.PredictionRecord, error)
	Get(ctx context.Context, id string) (domain.PredictionRecord, error)
	Summary(ctx context.Context) (domain.Summary, error)
}

// Deps are the collaborators served over HTTP.
type Deps struct {
	Predictor      Predictor
	Batcher        Batcher
	Recorder       Recorder
	Clock          clockwork.Clock
	MaxUploadBytes int64
}

// Server exposes the prediction API plus health, readiness, and metrics
// endpoints.
type Server struct {
	httpServer *http.Server
	deps       Deps
	validate   *validator.Validate
	dashboard  *dashboardRenderer
	logger     *slog.Logger
}

// NewServer creates the HTTP server and mounts every route.
func NewServer(addr string, deps Deps, logger *slog.Logger) *Server {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = 10 << 20
	}

	s := &Server{
		deps:      deps,
		validate:  newValidator(),
		dashboard: newDashboardRenderer(),
		logger:    logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(allowAllOrigins)

	r.Get("/", s.handleIndex)
	r.Get("/health", s.handleHealth)
	r.Get("/healthz", sharedobs.LivenessHandler())
	r.Get("/readyz", sharedobs.ReadinessHandler(deps.Predictor))
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/predict/manual", s.handlePredictManual)
	r.Post("/data", s.handleUpload)
	r.Get("/forecast", s.handleForecast)
	r.Get("/history", s.handleHistory)
	r.Get("/predictions/{id}", s.handleGetPrediction)
	r.Get("/summary", s.handleSummary)
	r.Get("/model", s.handleModel)
	r.Get("/dashboard", s.handleDashboard)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

// allowAllOrigins answers CORS preflights and tags every response so browser
// dashboards on other origins can call the API.
func allowAllOrigins(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-Id")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
