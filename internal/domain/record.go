package domain

import "time"

// Record is one indexed GRIB message: a (source file, variable, level,
// forecast time) tuple. JSON field names match the public query API, which
// kept the shape of the original prediction_time/create_time payloads.
type Record struct {
	ID           int64     `json:"-"`
	Product      string    `json:"product"`
	FilePath     string    `json:"file_path"`
	RunTime      time.Time `json:"create_time"`
	ForecastTime time.Time `json:"prediction_time"`
	LeadHours    int       `json:"lead_hours"`
	Variable     string    `json:"type"`
	LevelType    string    `json:"level_type,omitempty"` // empty when only a file/variable summary is kept
	LevelValue   *float64  `json:"level_value,omitempty"`
}

// NaturalKey identifies a record for de-duplication purposes.
type NaturalKey struct {
	FilePath     string
	Variable     string
	LevelType    string
	LevelValue   float64
	ForecastTime time.Time
}

// Key returns the record's natural key. A nil level value maps to -1, which
// cannot collide with real GRIB level values (they are non-negative).
func (r Record) Key() NaturalKey {
	lv := -1.0
	if r.LevelValue != nil {
		lv = *r.LevelValue
	}
	return NaturalKey{
		FilePath:     r.FilePath,
		Variable:     r.Variable,
		LevelType:    r.LevelType,
		LevelValue:   lv,
		ForecastTime: r.ForecastTime.UTC(),
	}
}

// PointValue is one grid point surviving the bounding-box crop during
// extraction. ValueMin and ValueMax are equal in point mode; the aggregate
// read path collapses many points into one PointValue per variable/time.
type PointValue struct {
	PredictionTime time.Time `json:"prediction_time"`
	CreateTime     time.Time `json:"create_time"`
	Variable       string    `json:"type"`
	LevelType      string    `json:"level"`
	JSONKey        string    `json:"json_key"`
	ValueMin       float64   `json:"value_min"`
	ValueMax       float64   `json:"value_max"`
	Path           string    `json:"path"`
	Lat            float64   `json:"lat"`
	Lon            float64   `json:"lon"`
}

// FileMeta is what a corpus file name encodes: product family plus the
// forecast and run instants. Kept as a sanity fallback next to the
// per-message times, and used directly in summary-only indexing.
type FileMeta struct {
	Product      string
	ForecastTime time.Time
	RunTime      time.Time
	Path         string
}
