package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/empi91/Bike-Sharing-Analytics/internal/domain"
	"github.com/empi91/Bike-Sharing-Analytics/internal/observability"
	"github.com/empi91/Bike-Sharing-Analytics/internal/scheduler"
)

const defaultHealthLimit = 10

// ReadinessChecker reports whether the service is ready to serve traffic.
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// Operations is the pipeline surface exposed under /api/internal.
type Operations interface {
	ReadinessChecker
	SyncStations(ctx context.Context, force bool) domain.Result
	SyncAvailability(ctx context.Context) domain.Result
	CalculateReliability(ctx context.Context, stationID *int64, daysBack int) (domain.Result, error)
	GetSyncHealth(ctx context.Context, limit int) (domain.SyncHealth, error)
	DefaultDaysBack() int
}

// Jobs is the scheduler surface exposed under /api/internal/scheduler.
type Jobs interface {
	Status() scheduler.Status
	Trigger(ctx context.Context, id string) (domain.Result, error)
}

// Server exposes health, readiness, metrics and the internal operation routes.
type Server struct {
	httpServer *http.Server
	ops        Operations
	jobs       Jobs
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics and the
// /api/internal routes. jobs may be nil, in which case the scheduler routes
// are not mounted.
func NewServer(addr string, ops Operations, jobs Jobs, logger *slog.Logger, metrics *observability.Metrics) *Server {
	r := chi.NewRouter()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      r,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 2 * time.Minute,
			IdleTimeout:  60 * time.Second,
		},
		ops:     ops,
		jobs:    jobs,
		logger:  logger,
		metrics: metrics,
	}

	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer, s.instrument)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", handleReady(ops))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/internal", func(r chi.Router) {
		r.Post("/sync/stations", s.handleSyncStations)
		r.Post("/sync/availability", s.handleSyncAvailability)
		r.Post("/calculate/reliability", s.handleCalculateReliability)
		r.Get("/health/sync", s.handleSyncHealth)
		if jobs != nil {
			r.Get("/scheduler", s.handleSchedulerStatus)
			r.Post("/scheduler/jobs/{id}/trigger", s.handleTriggerJob)
		}
	})

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

// instrument logs each request and records it by chi route pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		d := time.Since(start)
		s.metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).Inc()
		s.metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(d.Seconds())
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", d,
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func handleReady(checker ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := checker.CheckReadiness(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func (s *Server) handleSyncStations(w http.ResponseWriter, r *http.Request) {
	force, err := boolParam(r, "force_update")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeResult(w, s.ops.SyncStations(r.Context(), force))
}

func (s *Server) handleSyncAvailability(w http.ResponseWriter, r *http.Request) {
	writeResult(w, s.ops.SyncAvailability(r.Context()))
}

func (s *Server) handleCalculateReliability(w http.ResponseWriter, r *http.Request) {
	var stationID *int64
	if raw := r.URL.Query().Get("station_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id < 1 {
			writeError(w, http.StatusBadRequest, errors.New("station_id must be a positive integer"))
			return
		}
		stationID = &id
	}
	daysBack, err := intParam(r, "days_back", s.ops.DefaultDaysBack())
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	res, err := s.ops.CalculateReliability(r.Context(), stationID, daysBack)
	switch {
	case errors.Is(err, domain.ErrInvalidWindow):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, domain.ErrStationNotFound):
		writeError(w, http.StatusNotFound, err)
	case err != nil:
		s.logger.Error("calculate reliability", "error", err)
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeResult(w, res)
	}
}

func (s *Server) handleSyncHealth(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", defaultHealthLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	health, err := s.ops.GetSyncHealth(r.Context(), limit)
	switch {
	case errors.Is(err, domain.ErrInvalidLimit):
		writeError(w, http.StatusBadRequest, err)
	case err != nil:
		s.logger.Error("sync health", "error", err)
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, health)
	}
}

func (s *Server) handleSchedulerStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.jobs.Status())
}

func (s *Server) handleTriggerJob(w http.ResponseWriter, r *http.Request) {
	res, err := s.jobs.Trigger(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, scheduler.ErrJobNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, scheduler.ErrJobRunning):
		writeError(w, http.StatusConflict, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeResult(w, res)
	}
}

// resultResponse renders a run outcome with its counts inlined.
type resultResponse struct {
	Status domain.SyncStatus `json:"status"`
	domain.Counts
	Errors []string `json:"errors,omitempty"`
	Error  string   `json:"error,omitempty"`
}

func writeResult(w http.ResponseWriter, r domain.Result) {
	resp := resultResponse{Status: r.Status(), Counts: r.Tally()}
	switch v := r.(type) {
	case domain.Failed:
		if v.Reason != nil {
			resp.Error = v.Reason.Error()
		}
		writeJSON(w, http.StatusBadGateway, resp)
		return
	case domain.Partial:
		resp.Errors = domain.ErrorMessages(r)
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func boolParam(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, errors.New(name + " must be a boolean")
	}
	return v, nil
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New(name + " must be an integer")
	}
	return v, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
