// Package grib adapts the gogrib2 decoder to the domain.GribDecoder
// boundary. gogrib2 parses a whole file into per-message structs with the
// reference and verification instants already resolved; this adapter
// re-exposes them through the scalar-key surface the extractor reads
// (dataDate, dataTime, forecastTime, shortName, typeOfLevel), so the
// extractor's fallback chain stays decoder-agnostic.
package grib

import (
	"io"
	"math"
	"os"

	"github.com/sdifrance/gogrib2"

	"github.com/couchcryptid/grib-index-service/internal/domain"
)

// Codec is the production decoder.
type Codec struct{}

// NewCodec returns a gogrib2-backed decoder.
func NewCodec() *Codec { return &Codec{} }

// Open reads and parses the whole file. gogrib2 has no streaming interface,
// so messages are materialized up front; header scans still avoid touching
// the value arrays until Arrays is called.
func (c *Codec) Open(path string) (domain.GribFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &domain.DecodeError{Path: path, Err: err}
	}
	msgs, err := gogrib2.Read(data)
	if err != nil {
		return nil, &domain.DecodeError{Path: path, Err: err}
	}
	return &file{msgs: msgs}, nil
}

type file struct {
	msgs []gogrib2.GRIB2
	next int
}

func (f *file) Next() (domain.GribMessage, error) {
	if f.next >= len(f.msgs) {
		return nil, io.EOF
	}
	m := &message{g: &f.msgs[f.next]}
	f.next++
	return m, nil
}

func (f *file) Close() error {
	f.msgs = nil
	return nil
}

type message struct {
	g *gogrib2.GRIB2
}

// Int synthesizes the numeric header keys from gogrib2's resolved times.
// forecastTime is the lead in whole hours between reference and
// verification time.
func (m *message) Int(key string) (int64, bool) {
	switch key {
	case "dataDate":
		t := m.g.RefTime.UTC()
		return int64(t.Year()*10000 + int(t.Month())*100 + t.Day()), true
	case "dataTime":
		return int64(m.g.RefTime.UTC().Hour() * 100), true
	case "forecastTime":
		if m.g.VerfTime.IsZero() || m.g.RefTime.IsZero() {
			return 0, false
		}
		lead := m.g.VerfTime.Sub(m.g.RefTime).Hours()
		return int64(math.Round(lead)), true
	default:
		return 0, false
	}
}

func (m *message) Str(key string) (string, bool) {
	switch key {
	case "shortName":
		return m.g.Name, m.g.Name != ""
	case "name":
		return m.g.Description, m.g.Description != ""
	case "typeOfLevel":
		return m.g.Level, m.g.Level != ""
	default:
		return "", false
	}
}

func (m *message) Arrays() (lats, lons, values []float64, err error) {
	n := len(m.g.Values)
	lats = make([]float64, n)
	lons = make([]float64, n)
	values = make([]float64, n)
	for i, v := range m.g.Values {
		lats[i] = v.Latitude
		lons[i] = domain.NormalizeLon(v.Longitude)
		values[i] = float64(v.Value)
	}
	return lats, lons, values, nil
}

func (m *message) Release() { m.g = nil }
