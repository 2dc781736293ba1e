package index

import (
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/grib-index-service/internal/domain"
)

func mustUTC(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return ts.UTC()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeMessage is an in-memory GribMessage for exercising the extractor
// without a real decoder.
type fakeMessage struct {
	ints map[string]int64
	strs map[string]string

	lats, lons, vals []float64
	arraysErr        error

	released int
}

func (m *fakeMessage) Int(key string) (int64, bool) {
	v, ok := m.ints[key]
	return v, ok
}

func (m *fakeMessage) Str(key string) (string, bool) {
	v, ok := m.strs[key]
	return v, ok
}

func (m *fakeMessage) Arrays() ([]float64, []float64, []float64, error) {
	if m.arraysErr != nil {
		return nil, nil, nil, m.arraysErr
	}
	return m.lats, m.lons, m.vals, nil
}

func (m *fakeMessage) Release() { m.released++ }

type fakeFile struct {
	msgs    []*fakeMessage
	nextErr error
	pos     int
	closed  bool
}

func (f *fakeFile) Next() (domain.GribMessage, error) {
	if f.pos >= len(f.msgs) {
		if f.nextErr != nil {
			return nil, f.nextErr
		}
		return nil, io.EOF
	}
	m := f.msgs[f.pos]
	f.pos++
	return m, nil
}

func (f *fakeFile) Close() error {
	f.closed = true
	return nil
}

type fakeDecoder struct {
	files   map[string]*fakeFile
	openErr error
}

func (d *fakeDecoder) Open(path string) (domain.GribFile, error) {
	if d.openErr != nil {
		return nil, d.openErr
	}
	f, ok := d.files[path]
	if !ok {
		return nil, fmt.Errorf("open %s: no such file", path)
	}
	return f, nil
}

// tempMessage builds a message carrying a standard reference time of
// 2025-10-02T12:00Z with the given lead and identity keys.
func tempMessage(variable, levelType string, level int64, leadHours int64) *fakeMessage {
	return &fakeMessage{
		ints: map[string]int64{
			"dataDate":     20251002,
			"dataTime":     1200,
			"forecastTime": leadHours,
			"level":        level,
		},
		strs: map[string]string{
			"shortName":   variable,
			"typeOfLevel": levelType,
		},
	}
}
