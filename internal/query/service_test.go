package query

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/grib-index-service/internal/domain"
	"github.com/couchcryptid/grib-index-service/internal/extract"
	"github.com/couchcryptid/grib-index-service/internal/observability"
)

type stubStore struct {
	pingErr    error
	queryRecs  []domain.Record
	queryErr   error
	nearestRec domain.Record
	nearestOK  bool
	nearestErr error
	latestRecs []domain.Record
	latestErr  error

	gotLatestStart time.Time
	gotLatestEnd   time.Time
	gotVariable    string
	gotLevelType   string
	gotTarget      time.Time
	nearestCalls   []string
}

func (s *stubStore) Ping(context.Context) error { return s.pingErr }

func (s *stubStore) Query(_ context.Context, p domain.QueryParams) ([]domain.Record, error) {
	return s.queryRecs, s.queryErr
}

func (s *stubStore) Nearest(_ context.Context, target time.Time, variable, levelType string, maxDelta time.Duration) (domain.Record, bool, error) {
	s.gotTarget = target
	s.gotVariable, s.gotLevelType = variable, levelType
	s.nearestCalls = append(s.nearestCalls, variable)
	return s.nearestRec, s.nearestOK, s.nearestErr
}

func (s *stubStore) LatestPerForecast(_ context.Context, start, end time.Time, variable, levelType string) ([]domain.Record, error) {
	s.gotLatestStart, s.gotLatestEnd = start, end
	s.gotVariable, s.gotLevelType = variable, levelType
	return s.latestRecs, s.latestErr
}

type stubEngine struct {
	result     extract.Result
	err        error
	gotRecords []domain.Record
	gotBox     domain.Region
}

func (e *stubEngine) Extract(_ context.Context, records []domain.Record, bbox domain.Region) (extract.Result, error) {
	e.gotRecords, e.gotBox = records, bbox
	return e.result, e.err
}

func (e *stubEngine) ExtractAggregate(_ context.Context, records []domain.Record, bbox domain.Region) ([]extract.Aggregate, int, error) {
	res, err := e.Extract(context.Background(), records, bbox)
	if err != nil {
		return nil, 0, err
	}
	return []extract.Aggregate{{Variable: "t2m", Count: len(res.Points)}}, res.Failed, nil
}

type stubTelemetry struct {
	events []TelemetryEvent
	err    error
}

func (p *stubTelemetry) Publish(_ context.Context, ev TelemetryEvent) error {
	p.events = append(p.events, ev)
	return p.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func utc(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t.UTC()
}

func newService(store Store, engine Extractor, telemetry TelemetryPublisher) *Service {
	return New(store, engine, telemetry, testLogger(), observability.NewMetricsForTesting(), 0)
}

func TestCheckReadiness(t *testing.T) {
	store := &stubStore{pingErr: domain.ErrIndexUnavailable}
	svc := newService(store, &stubEngine{}, nil)

	err := svc.CheckReadiness(context.Background())
	require.Error(t, err)

	store.pingErr = nil
	require.NoError(t, svc.CheckReadiness(context.Background()))

	// Once ready, a later store outage does not flip readiness back.
	store.pingErr = domain.ErrIndexUnavailable
	assert.NoError(t, svc.CheckReadiness(context.Background()))
}

func TestQuery_PassesThrough(t *testing.T) {
	want := []domain.Record{{Variable: "t2m", FilePath: "/c/a.grb2"}}
	svc := newService(&stubStore{queryRecs: want}, &stubEngine{}, nil)

	got, err := svc.Query(context.Background(), domain.QueryParams{
		Start:     utc("2025-10-01T00:00:00Z"),
		End:       utc("2025-10-03T00:00:00Z"),
		Variables: []string{"t2m"},
	})
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestResolveNearest(t *testing.T) {
	want := domain.Record{Variable: "t2m", FilePath: "/c/a.grb2"}
	store := &stubStore{nearestRec: want, nearestOK: true}
	svc := newService(store, &stubEngine{}, nil)

	got, ok, err := svc.ResolveNearest(context.Background(), utc("2025-10-02T16:00:00Z"), "t2m", "surface")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)
	assert.Equal(t, "t2m", store.gotVariable)
	assert.Equal(t, "surface", store.gotLevelType)
}

func TestQueryBest(t *testing.T) {
	want := domain.Record{Variable: "t2m", FilePath: "/c/a.grb2"}
	store := &stubStore{nearestRec: want, nearestOK: true}
	svc := newService(store, &stubEngine{}, nil)

	got, err := svc.QueryBest(context.Background(), domain.QueryParams{
		Start:     utc("2025-10-02T00:00:00Z"),
		End:       utc("2025-10-02T12:00:00Z"),
		Variables: []string{"t2m", "prate"},
		LevelType: "surface",
	})
	require.NoError(t, err)
	require.Len(t, got, 2, "one winner per requested variable")
	assert.Equal(t, []string{"t2m", "prate"}, store.nearestCalls)
	assert.Equal(t, "surface", store.gotLevelType)
	assert.Equal(t, utc("2025-10-02T06:00:00Z"), store.gotTarget, "target is the window midpoint")
}

func TestQueryBest_NoMatchOmitted(t *testing.T) {
	svc := newService(&stubStore{}, &stubEngine{}, nil)

	got, err := svc.QueryBest(context.Background(), domain.QueryParams{
		Start:     utc("2025-10-02T00:00:00Z"),
		End:       utc("2025-10-02T12:00:00Z"),
		Variables: []string{"t2m"},
	})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestQueryBest_Invalid(t *testing.T) {
	svc := newService(&stubStore{}, &stubEngine{}, nil)

	_, err := svc.QueryBest(context.Background(), domain.QueryParams{})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidQuery)
}

func TestQueryPoints(t *testing.T) {
	records := []domain.Record{
		{Variable: "t2m", FilePath: "/c/a.grb2", ForecastTime: utc("2025-10-02T18:00:00Z")},
	}
	points := []domain.PointValue{{Variable: "t2m", Lat: 1, Lon: 2, ValueMin: 281, ValueMax: 281}}
	store := &stubStore{latestRecs: records}
	engine := &stubEngine{result: extract.Result{Points: points, Failed: 1}}
	svc := newService(store, engine, nil)

	bbox := domain.Region{LatMin: -10, LatMax: 10, LonMin: 0, LonMax: 20}
	got, failed, err := svc.QueryPoints(context.Background(),
		utc("2025-10-02T00:00:00Z"), utc("2025-10-03T00:00:00Z"), "t2m", "surface", bbox)
	require.NoError(t, err)
	assert.Equal(t, points, got)
	assert.Equal(t, 1, failed)
	assert.Equal(t, records, engine.gotRecords)
	assert.Equal(t, bbox, engine.gotBox)
}

func TestQueryPoints_Validation(t *testing.T) {
	svc := newService(&stubStore{}, &stubEngine{}, nil)

	_, _, err := svc.QueryPoints(context.Background(),
		utc("2025-10-02T00:00:00Z"), utc("2025-10-03T00:00:00Z"), "", "", domain.Region{})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidQuery)

	_, _, err = svc.QueryPoints(context.Background(),
		utc("2025-10-03T00:00:00Z"), utc("2025-10-02T00:00:00Z"), "t2m", "", domain.Region{})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidQuery)
}

func TestQueryPoints_NoCandidates(t *testing.T) {
	engine := &stubEngine{}
	svc := newService(&stubStore{}, engine, nil)

	got, failed, err := svc.QueryPoints(context.Background(),
		utc("2025-10-02T00:00:00Z"), utc("2025-10-03T00:00:00Z"), "t2m", "", domain.Region{})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Zero(t, failed)
	assert.Nil(t, engine.gotRecords, "extraction never runs without candidates")
}

func TestQueryPoints_StoreError(t *testing.T) {
	svc := newService(&stubStore{latestErr: domain.ErrIndexUnavailable}, &stubEngine{}, nil)

	_, _, err := svc.QueryPoints(context.Background(),
		utc("2025-10-02T00:00:00Z"), utc("2025-10-03T00:00:00Z"), "t2m", "", domain.Region{})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrIndexUnavailable)
}

func TestQueryPoints_Telemetry(t *testing.T) {
	now := utc("2025-10-02T16:00:00Z")
	domain.SetClock(clockwork.NewFakeClockAt(now))
	t.Cleanup(func() { domain.SetClock(clockwork.NewRealClock()) })

	records := []domain.Record{{Variable: "t2m", ForecastTime: utc("2025-10-02T18:00:00Z")}}
	points := []domain.PointValue{{Variable: "t2m"}, {Variable: "t2m"}}
	telemetry := &stubTelemetry{}
	svc := newService(&stubStore{latestRecs: records},
		&stubEngine{result: extract.Result{Points: points, Failed: 1}}, telemetry)

	_, _, err := svc.QueryPoints(context.Background(),
		utc("2025-10-02T00:00:00Z"), utc("2025-10-03T00:00:00Z"), "t2m", "surface", domain.Region{})
	require.NoError(t, err)

	require.Len(t, telemetry.events, 1)
	ev := telemetry.events[0]
	assert.Equal(t, "t2m", ev.Variable)
	assert.Equal(t, "surface", ev.LevelType)
	assert.Equal(t, 2, ev.Points)
	assert.Equal(t, 1, ev.Failed)
	assert.Equal(t, now, ev.At)
}

func TestQueryPoints_TelemetryFailureIsNonFatal(t *testing.T) {
	records := []domain.Record{{Variable: "t2m"}}
	telemetry := &stubTelemetry{err: errors.New("broker down")}
	svc := newService(&stubStore{latestRecs: records}, &stubEngine{}, telemetry)

	_, _, err := svc.QueryPoints(context.Background(),
		utc("2025-10-02T00:00:00Z"), utc("2025-10-03T00:00:00Z"), "t2m", "", domain.Region{})
	assert.NoError(t, err)
}

func TestQueryAggregates(t *testing.T) {
	records := []domain.Record{{Variable: "t2m"}}
	points := []domain.PointValue{{Variable: "t2m"}, {Variable: "t2m"}, {Variable: "t2m"}}
	engine := &stubEngine{result: extract.Result{Points: points}}
	svc := newService(&stubStore{latestRecs: records}, engine, nil)

	aggs, failed, err := svc.QueryAggregates(context.Background(),
		utc("2025-10-02T00:00:00Z"), utc("2025-10-03T00:00:00Z"), "t2m", "", domain.Region{})
	require.NoError(t, err)
	assert.Zero(t, failed)
	require.Len(t, aggs, 1)
	assert.Equal(t, 3, aggs[0].Count)
}
