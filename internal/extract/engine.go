// Package extract pulls cropped grid values out of the winning GRIB files.
// Distinct files are fully independent, so extraction fans out over a
// bounded worker pool; results are reassembled and deterministically
// re-sorted by the collector, not by arrival order.
package extract

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/couchcryptid/grib-index-service/internal/domain"
	"github.com/couchcryptid/grib-index-service/internal/observability"
)

// Result is one extraction batch's output. Failed counts source files whose
// extraction was dropped; a non-zero value flags partial data.
type Result struct {
	Points []domain.PointValue
	Failed int
}

// Engine is the parallel extraction stage. Degree is fixed at construction;
// the pool strategy is decided once at startup, not per call.
type Engine struct {
	dec     domain.GribDecoder
	logger  *slog.Logger
	metrics *observability.Metrics
	workers int
}

// New creates an extraction engine with the given worker-pool degree.
func New(dec domain.GribDecoder, logger *slog.Logger, metrics *observability.Metrics, workers int) *Engine {
	if workers < 1 {
		workers = 1
	}
	return &Engine{dec: dec, logger: logger, metrics: metrics, workers: workers}
}

// fileJob is one unit of work: a single source file and the records whose
// messages should be pulled from it. Grouping by file keeps the "open each
// file at most once" guarantee even when several variables win in one file.
type fileJob struct {
	path    string
	records []domain.Record
}

type fileOutcome struct {
	points []domain.PointValue
	err    error
}

// Extract opens each record's source file at most once, crops matching
// messages to bbox, and returns one PointValue per surviving grid point. A
// single file's failure is logged, counted and dropped; it never aborts the
// batch. Cancelling ctx stops dispatch; in-flight files finish but their
// results are discarded.
func (e *Engine) Extract(ctx context.Context, records []domain.Record, bbox domain.Region) (Result, error) {
	if len(records) == 0 {
		return Result{}, nil
	}
	start := time.Now()
	bbox = bbox.Normalized()

	jobs := groupByFile(records)
	jobCh := make(chan fileJob)
	outCh := make(chan fileOutcome, len(jobs))

	var wg sync.WaitGroup
	for i := 0; i < e.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobCh {
				points, err := e.extractFile(job, bbox)
				if ctx.Err() != nil {
					// Already-dispatched units run to completion; their
					// results are discarded on cancellation.
					return
				}
				outCh <- fileOutcome{points: points, err: err}
			}
		}()
	}

	dispatched := 0
dispatch:
	for _, job := range jobs {
		select {
		case <-ctx.Done():
			break dispatch
		case jobCh <- job:
			dispatched++
		}
	}
	close(jobCh)
	wg.Wait()
	close(outCh)

	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}

	var res Result
	for out := range outCh {
		if out.err != nil {
			e.logger.Warn("file extraction failed, contribution dropped", "error", out.err)
			e.metrics.ExtractionFailures.Inc()
			res.Failed++
			continue
		}
		res.Points = append(res.Points, out.points...)
	}

	res.Points = finalize(res.Points)
	e.metrics.ExtractionDuration.Observe(time.Since(start).Seconds())
	e.metrics.PointsReturned.Observe(float64(len(res.Points)))
	return res, nil
}

// Aggregate is the coarse read path: min/max per (variable, forecast time)
// instead of every surviving point.
type Aggregate struct {
	PredictionTime time.Time `json:"prediction_time"`
	CreateTime     time.Time `json:"create_time"`
	Variable       string    `json:"type"`
	LevelType      string    `json:"level"`
	ValueMin       float64   `json:"value_min"`
	ValueMax       float64   `json:"value_max"`
	Count          int       `json:"count"`
}

// ExtractAggregate runs Extract and collapses the points into one min/max
// summary per (variable, forecast time).
func (e *Engine) ExtractAggregate(ctx context.Context, records []domain.Record, bbox domain.Region) ([]Aggregate, int, error) {
	res, err := e.Extract(ctx, records, bbox)
	if err != nil {
		return nil, 0, err
	}

	type key struct {
		variable string
		forecast time.Time
	}
	byKey := make(map[key]*Aggregate)
	for _, p := range res.Points {
		k := key{p.Variable, p.PredictionTime}
		agg, ok := byKey[k]
		if !ok {
			byKey[k] = &Aggregate{
				PredictionTime: p.PredictionTime,
				CreateTime:     p.CreateTime,
				Variable:       p.Variable,
				LevelType:      p.LevelType,
				ValueMin:       p.ValueMin,
				ValueMax:       p.ValueMax,
				Count:          1,
			}
			continue
		}
		if p.ValueMin < agg.ValueMin {
			agg.ValueMin = p.ValueMin
		}
		if p.ValueMax > agg.ValueMax {
			agg.ValueMax = p.ValueMax
		}
		agg.Count++
	}

	out := make([]Aggregate, 0, len(byKey))
	for _, a := range byKey {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Variable != out[j].Variable {
			return out[i].Variable < out[j].Variable
		}
		return out[i].PredictionTime.Before(out[j].PredictionTime)
	})
	return out, res.Failed, nil
}

// extractFile scans one file and emits cropped points for every wanted
// record. Messages not matching a wanted (variable, level type) are
// unrelated content and skipped silently.
func (e *Engine) extractFile(job fileJob, bbox domain.Region) ([]domain.PointValue, error) {
	f, err := e.dec.Open(job.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []domain.PointValue
	remaining := make([]domain.Record, len(job.records))
	copy(remaining, job.records)

	for len(remaining) > 0 {
		msg, err := f.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &domain.DecodeError{Path: job.path, Err: err}
		}

		points, matched, err := cropMessage(msg, remaining, bbox)
		if err != nil {
			return nil, &domain.DecodeError{Path: job.path, Err: err}
		}
		out = append(out, points...)
		if matched >= 0 {
			remaining = append(remaining[:matched], remaining[matched+1:]...)
		}
	}
	return out, nil
}

// cropMessage matches one message against the wanted records and, on a
// match, masks its arrays to bbox. Returns the index of the matched record
// (-1 if none) so the caller can stop scanning once every record is found.
func cropMessage(msg domain.GribMessage, wanted []domain.Record, bbox domain.Region) ([]domain.PointValue, int, error) {
	defer msg.Release()

	short, _ := msg.Str("shortName")
	cfName, _ := msg.Str("cfVarName")
	levelType, _ := msg.Str("typeOfLevel")

	matched := -1
	for i, r := range wanted {
		if (short == r.Variable || cfName == r.Variable) && levelType == r.LevelType {
			matched = i
			break
		}
	}
	if matched < 0 {
		return nil, -1, nil
	}

	rec := wanted[matched]
	lats, lons, values, err := msg.Arrays()
	if err != nil {
		return nil, -1, err
	}

	jsonKey := rec.Variable + "_" + rec.LevelType
	var out []domain.PointValue
	for i := range values {
		if !bbox.Contains(lats[i], lons[i]) {
			continue
		}
		out = append(out, domain.PointValue{
			PredictionTime: rec.ForecastTime,
			CreateTime:     rec.RunTime,
			Variable:       rec.Variable,
			LevelType:      rec.LevelType,
			JSONKey:        jsonKey,
			ValueMin:       values[i],
			ValueMax:       values[i],
			Path:           rec.FilePath,
			Lat:            lats[i],
			Lon:            domain.NormalizeLon(lons[i]),
		})
	}
	return out, matched, nil
}

// groupByFile buckets winning records so each source file is opened once.
func groupByFile(records []domain.Record) []fileJob {
	byPath := make(map[string][]domain.Record)
	var order []string
	for _, r := range records {
		if _, seen := byPath[r.FilePath]; !seen {
			order = append(order, r.FilePath)
		}
		byPath[r.FilePath] = append(byPath[r.FilePath], r)
	}
	jobs := make([]fileJob, 0, len(order))
	for _, p := range order {
		jobs = append(jobs, fileJob{path: p, records: byPath[p]})
	}
	return jobs
}

// finalize re-sorts points by (variable, forecast time, lat, lon) and, when
// two runs collide on the same (variable, forecast time), keeps only the
// newest run's points. Upstream resolution normally prevents the collision;
// this mirrors the same tie-break at the extraction boundary.
func finalize(points []domain.PointValue) []domain.PointValue {
	type key struct {
		variable string
		forecast time.Time
	}
	newest := make(map[key]time.Time)
	for _, p := range points {
		k := key{p.Variable, p.PredictionTime}
		if cur, ok := newest[k]; !ok || p.CreateTime.After(cur) {
			newest[k] = p.CreateTime
		}
	}

	kept := points[:0]
	for _, p := range points {
		if newest[key{p.Variable, p.PredictionTime}].Equal(p.CreateTime) {
			kept = append(kept, p)
		}
	}

	sort.Slice(kept, func(i, j int) bool {
		a, b := kept[i], kept[j]
		if a.Variable != b.Variable {
			return a.Variable < b.Variable
		}
		if !a.PredictionTime.Equal(b.PredictionTime) {
			return a.PredictionTime.Before(b.PredictionTime)
		}
		if a.Lat != b.Lat {
			return a.Lat < b.Lat
		}
		return a.Lon < b.Lon
	})
	return kept
}
