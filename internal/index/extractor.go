package index

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/grib-index-service/internal/domain"
)

// MessageMeta is the per-message metadata the extractor produces without
// materializing any field data.
type MessageMeta struct {
	Variable     string
	LevelType    string
	LevelValue   *float64
	RunTime      time.Time
	ForecastTime time.Time
	LeadHours    int
}

// ScanResult is the outcome of scanning one file's headers.
type ScanResult struct {
	Messages []MessageMeta
	// Bounds is the file's grid bounding box, derived from the first
	// decodable message's coordinate arrays. Only populated when requested.
	Bounds *domain.Region
}

// Extractor reads per-message metadata through the decoder boundary.
type Extractor struct {
	dec    domain.GribDecoder
	logger *slog.Logger
}

// NewExtractor creates a metadata extractor over the given decoder.
func NewExtractor(dec domain.GribDecoder, logger *slog.Logger) *Extractor {
	return &Extractor{dec: dec, logger: logger}
}

// Scan walks every message in the file and collects its variable, level and
// time metadata. Messages that fail to yield a reference or lead time abort
// the scan with a ParseError (the file is skipped upstream); the decoder
// handle for each message is released even on that path.
func (e *Extractor) Scan(path string, withBounds bool) (ScanResult, error) {
	f, err := e.dec.Open(path)
	if err != nil {
		return ScanResult{}, err
	}
	defer f.Close()

	var res ScanResult
	for {
		msg, err := f.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return ScanResult{}, &domain.DecodeError{Path: path, Err: err}
		}

		meta, bounds, err := e.scanMessage(msg, withBounds && res.Bounds == nil)
		if err != nil {
			return ScanResult{}, &domain.ParseError{Path: path, Err: err}
		}
		res.Messages = append(res.Messages, meta)
		if bounds != nil {
			res.Bounds = bounds
		}
	}
	return res, nil
}

// scanMessage reads one message inside its own scope so Release always runs.
func (e *Extractor) scanMessage(msg domain.GribMessage, wantBounds bool) (MessageMeta, *domain.Region, error) {
	defer msg.Release()

	run, forecast, lead, err := messageTimes(msg)
	if err != nil {
		return MessageMeta{}, nil, err
	}

	variable, ok := msg.Str("shortName")
	if !ok {
		variable, ok = msg.Str("name")
	}
	if !ok {
		variable = "unknown"
	}

	meta := MessageMeta{
		Variable:     variable,
		RunTime:      run,
		ForecastTime: forecast,
		LeadHours:    lead,
	}
	if lt, ok := msg.Str("typeOfLevel"); ok {
		meta.LevelType = lt
	}
	if lv, ok := msg.Int("level"); ok {
		f := float64(lv)
		meta.LevelValue = &f
	}

	var bounds *domain.Region
	if wantBounds {
		if b, err := messageBounds(msg); err != nil {
			e.logger.Warn("bounding box unavailable, message skipped for spatial index", "error", err)
		} else {
			bounds = b
		}
	}
	return meta, bounds, nil
}

// messageTimes derives (run, forecast, lead) from a message's header keys.
// The reference instant comes from dataDate+dataTime; lead hours come from
// forecastTime, else the end of stepRange, else endStep, else step, in that
// priority order.
func messageTimes(msg domain.GribMessage) (run, forecast time.Time, lead int, err error) {
	dataDate, okDate := msg.Int("dataDate")
	dataTime, okTime := msg.Int("dataTime")
	if !okDate || !okTime {
		return time.Time{}, time.Time{}, 0, domain.ErrMissingReferenceTime
	}

	// dataTime can be HHMM or bare HH.
	hh := dataTime
	if dataTime >= 100 {
		hh = dataTime / 100
	}
	run, err = time.ParseInLocation(stampLayout, fmt.Sprintf("%08d%02d", dataDate, hh), time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, 0, fmt.Errorf("%w: dataDate=%d dataTime=%d", domain.ErrMissingReferenceTime, dataDate, dataTime)
	}

	leadHours, ok := leadFromMessage(msg)
	if !ok {
		return time.Time{}, time.Time{}, 0, domain.ErrMissingLeadTime
	}
	if leadHours < 0 {
		return time.Time{}, time.Time{}, 0, fmt.Errorf("%w: negative lead %d", domain.ErrMissingLeadTime, leadHours)
	}

	forecast = run.Add(time.Duration(leadHours) * time.Hour)
	return run, forecast, leadHours, nil
}

func leadFromMessage(msg domain.GribMessage) (int, bool) {
	if ft, ok := msg.Int("forecastTime"); ok {
		return int(ft), true
	}
	if sr, ok := msg.Str("stepRange"); ok && sr != "" {
		// "0-6" means the end of the accumulation window; "6" is a plain step.
		s := sr
		if i := strings.LastIndex(sr, "-"); i >= 0 {
			s = sr[i+1:]
		}
		if n, err := strconv.Atoi(s); err == nil {
			return n, true
		}
	}
	for _, key := range []string{"endStep", "step"} {
		if v, ok := msg.Int(key); ok {
			return int(v), true
		}
	}
	return 0, false
}

// messageBounds computes the grid's bounding box from the coordinate
// arrays, longitudes normalized to [0,360).
func messageBounds(msg domain.GribMessage) (*domain.Region, error) {
	lats, lons, _, err := msg.Arrays()
	if err != nil {
		return nil, err
	}
	if len(lats) == 0 || len(lats) != len(lons) {
		return nil, errors.New("empty or mismatched coordinate arrays")
	}
	b := domain.Region{LatMin: lats[0], LatMax: lats[0], LonMin: 360, LonMax: 0}
	for i := range lats {
		if lats[i] < b.LatMin {
			b.LatMin = lats[i]
		}
		if lats[i] > b.LatMax {
			b.LatMax = lats[i]
		}
		lon := domain.NormalizeLon(lons[i])
		if lon < b.LonMin {
			b.LonMin = lon
		}
		if lon > b.LonMax {
			b.LonMax = lon
		}
	}
	return &b, nil
}
