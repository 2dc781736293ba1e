// Package query orchestrates the read path: planner predicates against the
// index store, nearest-match resolution, then parallel extraction of the
// winning files.
package query

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/grib-index-service/internal/domain"
	"github.com/couchcryptid/grib-index-service/internal/extract"
	"github.com/couchcryptid/grib-index-service/internal/observability"
)

// Store is the slice of the index store the read path needs.
type Store interface {
	Ping(ctx context.Context) error
	Query(ctx context.Context, p domain.QueryParams) ([]domain.Record, error)
	Nearest(ctx context.Context, target time.Time, variable, levelType string, maxDelta time.Duration) (domain.Record, bool, error)
	LatestPerForecast(ctx context.Context, start, end time.Time, variable, levelType string) ([]domain.Record, error)
}

// Extractor is the parallel extraction stage.
type Extractor interface {
	Extract(ctx context.Context, records []domain.Record, bbox domain.Region) (extract.Result, error)
	ExtractAggregate(ctx context.Context, records []domain.Record, bbox domain.Region) ([]extract.Aggregate, int, error)
}

// TelemetryPublisher receives one event per answered query. Optional.
type TelemetryPublisher interface {
	Publish(ctx context.Context, ev TelemetryEvent) error
}

// TelemetryEvent summarizes one query for the telemetry topic.
type TelemetryEvent struct {
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Variable   string    `json:"variable"`
	LevelType  string    `json:"level_type"`
	DurationMS float64   `json:"duration_ms"`
	Points     int       `json:"points"`
	Failed     int       `json:"failed_files"`
	At         time.Time `json:"at"`
}

// Service wires store, resolver and extraction engine behind the public
// query surface. It holds no per-request state and no record cache.
type Service struct {
	store     Store
	engine    Extractor
	telemetry TelemetryPublisher
	logger    *slog.Logger
	metrics   *observability.Metrics
	maxDelta  time.Duration
	ready     atomic.Bool
}

// New creates the query service. telemetry may be nil.
func New(store Store, engine Extractor, telemetry TelemetryPublisher, logger *slog.Logger, metrics *observability.Metrics, maxDelta time.Duration) *Service {
	return &Service{
		store:     store,
		engine:    engine,
		telemetry: telemetry,
		logger:    logger,
		metrics:   metrics,
		maxDelta:  maxDelta,
	}
}

// CheckReadiness returns nil once the index store has answered at least one
// probe or query.
func (s *Service) CheckReadiness(ctx context.Context) error {
	if s.ready.Load() {
		return nil
	}
	if err := s.store.Ping(ctx); err != nil {
		return err
	}
	s.ready.Store(true)
	return nil
}

// Query returns de-duplicated candidate summaries for the given predicates.
// This is the file-discovery read path; no field data is touched.
func (s *Service) Query(ctx context.Context, p domain.QueryParams) ([]domain.Record, error) {
	records, err := s.store.Query(ctx, p)
	if err != nil {
		s.countOutcome(err)
		return nil, err
	}
	s.metrics.QueriesTotal.WithLabelValues("success").Inc()
	s.ready.Store(true)
	return records, nil
}

// ResolveNearest picks the single record for (variable, levelType) closest
// to target, ties broken by the newest run.
func (s *Service) ResolveNearest(ctx context.Context, target time.Time, variable, levelType string) (domain.Record, bool, error) {
	rec, ok, err := s.store.Nearest(ctx, target, variable, levelType, s.maxDelta)
	if err != nil {
		s.countOutcome(err)
		return domain.Record{}, false, err
	}
	s.metrics.QueriesTotal.WithLabelValues("success").Inc()
	s.ready.Store(true)
	return rec, ok, nil
}

// QueryBest collapses a window query to a single winner per requested
// variable: the record closest to the window's midpoint, ties broken by the
// newest run. Variables with no candidate are omitted from the result.
func (s *Service) QueryBest(ctx context.Context, p domain.QueryParams) ([]domain.Record, error) {
	if err := p.Validate(); err != nil {
		s.countOutcome(err)
		return nil, err
	}

	target := p.Midpoint()
	out := make([]domain.Record, 0, len(p.Variables))
	for _, v := range p.Variables {
		rec, ok, err := s.store.Nearest(ctx, target, v, p.LevelType, s.maxDelta)
		if err != nil {
			s.countOutcome(err)
			return nil, err
		}
		if ok {
			out = append(out, rec)
		}
	}

	s.metrics.QueriesTotal.WithLabelValues("success").Inc()
	s.ready.Store(true)
	return out, nil
}

// QueryPoints is the point-extraction read path: for every distinct forecast
// time in [start, end], resolve the newest-run record for (variable,
// levelType), then extract every grid point inside bbox from the winning
// files. failed counts files whose extraction was dropped; the batch never
// aborts on a single file.
func (s *Service) QueryPoints(ctx context.Context, start, end time.Time, variable, levelType string, bbox domain.Region) (points []domain.PointValue, failed int, err error) {
	began := time.Now()
	defer func() {
		if err == nil {
			s.observe(ctx, start, end, variable, levelType, began, len(points), failed)
		}
	}()

	if variable == "" {
		return nil, 0, errors.Join(domain.ErrInvalidQuery, errors.New("variable is required"))
	}
	if end.Before(start) {
		return nil, 0, errors.Join(domain.ErrInvalidQuery, errors.New("end before start"))
	}

	records, err := s.store.LatestPerForecast(ctx, start, end, variable, levelType)
	if err != nil {
		s.countOutcome(err)
		return nil, 0, err
	}
	if len(records) == 0 {
		s.metrics.QueriesTotal.WithLabelValues("success").Inc()
		return nil, 0, nil
	}

	res, err := s.engine.Extract(ctx, records, bbox)
	if err != nil {
		s.countOutcome(err)
		return nil, 0, err
	}

	s.metrics.QueriesTotal.WithLabelValues("success").Inc()
	s.ready.Store(true)
	return res.Points, res.Failed, nil
}

// QueryAggregates is QueryPoints' coarse sibling: min/max per variable/time.
func (s *Service) QueryAggregates(ctx context.Context, start, end time.Time, variable, levelType string, bbox domain.Region) ([]extract.Aggregate, int, error) {
	records, err := s.store.LatestPerForecast(ctx, start, end, variable, levelType)
	if err != nil {
		s.countOutcome(err)
		return nil, 0, err
	}
	aggs, failed, err := s.engine.ExtractAggregate(ctx, records, bbox)
	if err != nil {
		s.countOutcome(err)
		return nil, 0, err
	}
	s.metrics.QueriesTotal.WithLabelValues("success").Inc()
	return aggs, failed, nil
}

func (s *Service) observe(ctx context.Context, start, end time.Time, variable, levelType string, began time.Time, points, failed int) {
	elapsed := time.Since(began)
	s.metrics.QueryDuration.Observe(elapsed.Seconds())

	if s.telemetry == nil {
		return
	}
	ev := TelemetryEvent{
		Start:      start.UTC(),
		End:        end.UTC(),
		Variable:   variable,
		LevelType:  levelType,
		DurationMS: float64(elapsed.Milliseconds()),
		Points:     points,
		Failed:     failed,
		At:         domain.Clock().Now().UTC(),
	}
	if err := s.telemetry.Publish(ctx, ev); err != nil {
		s.logger.Warn("telemetry publish failed", "error", err)
	}
}

func (s *Service) countOutcome(err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidQuery):
		s.metrics.QueriesTotal.WithLabelValues("invalid").Inc()
	case errors.Is(err, domain.ErrIndexUnavailable):
		s.metrics.QueriesTotal.WithLabelValues("unavailable").Inc()
	default:
		s.metrics.QueriesTotal.WithLabelValues("error").Inc()
	}
}
