package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/grib-index-service/internal/domain"
)

// QueryService is the slice of the query surface the API exposes.
type QueryService interface {
	CheckReadiness(ctx context.Context) error
	QueryPoints(ctx context.Context, start, end time.Time, variable, levelType string, bbox domain.Region) ([]domain.PointValue, int, error)
	ResolveNearest(ctx context.Context, target time.Time, variable, levelType string) (domain.Record, bool, error)
}

// Server exposes health, readiness, metrics, and the query endpoints. It is
// a thin adapter: payload translation only, no query logic.
type Server struct {
	httpServer   *http.Server
	svc          QueryService
	queryTimeout time.Duration
	logger       *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics,
// /api/query-data and /api/resolve-nearest routes.
func NewServer(addr string, svc QueryService, queryTimeout time.Duration, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		svc:          svc,
		queryTimeout: queryTimeout,
		logger:       logger,
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("POST /api/query-data", s.handleQueryData)
	mux.HandleFunc("POST /api/resolve-nearest", s.handleResolveNearest)

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

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.svc.CheckReadiness(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// queryDataPayload mirrors the public query contract: ISO-8601 UTC times,
// longitudes in [0,360), lon_min > lon_max for a seam-crossing region.
type queryDataPayload struct {
	StartISO   string  `json:"start_iso"`
	EndISO     string  `json:"end_iso"`
	LonMin0360 float64 `json:"lon_min_0_360"`
	LonMax0360 float64 `json:"lon_max_0_360"`
	LatMin     float64 `json:"lat_min"`
	LatMax     float64 `json:"lat_max"`
	Level      string  `json:"level"`
	Variable   string  `json:"variable"`
}

func (s *Server) handleQueryData(w http.ResponseWriter, r *http.Request) {
	var payload queryDataPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed payload: " + err.Error()})
		return
	}

	start, err := parseISOTime(payload.StartISO)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "start_iso: " + err.Error()})
		return
	}
	end, err := parseISOTime(payload.EndISO)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "end_iso: " + err.Error()})
		return
	}

	bbox := domain.Region{
		LatMin: payload.LatMin,
		LatMax: payload.LatMax,
		LonMin: payload.LonMin0360,
		LonMax: payload.LonMax0360,
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.queryTimeout)
	defer cancel()

	points, failed, err := s.svc.QueryPoints(ctx, start, end, payload.Variable, payload.Level, bbox)
	if err != nil {
		s.writeQueryError(w, err)
		return
	}
	if points == nil {
		points = []domain.PointValue{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":        len(points),
		"failed_files": failed,
		"results":      points,
	})
}

type resolveNearestPayload struct {
	TargetISO string `json:"target_iso"`
	Variable  string `json:"variable"`
	Level     string `json:"level"`
}

func (s *Server) handleResolveNearest(w http.ResponseWriter, r *http.Request) {
	var payload resolveNearestPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed payload: " + err.Error()})
		return
	}
	target, err := parseISOTime(payload.TargetISO)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "target_iso: " + err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.queryTimeout)
	defer cancel()

	rec, ok, err := s.svc.ResolveNearest(ctx, target, payload.Variable, payload.Level)
	if err != nil {
		s.writeQueryError(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"found": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"found": true, "record": rec})
}

func (s *Server) writeQueryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidQuery):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrIndexUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	default:
		s.logger.Error("query failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

// parseISOTime accepts RFC 3339 or a bare "YYYY-MM-DDTHH:MM:SS" assumed UTC.
func parseISOTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.ParseInLocation("2006-01-02T15:04:05", s, time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
