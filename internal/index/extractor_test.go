package index

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/grib-index-service/internal/domain"
)

func TestExtractor_Scan(t *testing.T) {
	f := &fakeFile{msgs: []*fakeMessage{
		tempMessage("t2m", "heightAboveGround", 2, 6),
		tempMessage("prate", "surface", 0, 6),
	}}
	dec := &fakeDecoder{files: map[string]*fakeFile{"a.grb2": f}}

	res, err := NewExtractor(dec, discardLogger()).Scan("a.grb2", false)
	require.NoError(t, err)
	require.Len(t, res.Messages, 2)
	assert.True(t, f.closed)
	for _, m := range f.msgs {
		assert.Equal(t, 1, m.released)
	}

	m := res.Messages[0]
	assert.Equal(t, "t2m", m.Variable)
	assert.Equal(t, "heightAboveGround", m.LevelType)
	require.NotNil(t, m.LevelValue)
	assert.Equal(t, 2.0, *m.LevelValue)
	assert.Equal(t, mustUTC(t, "2025-10-02T12:00:00Z"), m.RunTime)
	assert.Equal(t, mustUTC(t, "2025-10-02T18:00:00Z"), m.ForecastTime)
	assert.Equal(t, 6, m.LeadHours)
	assert.Nil(t, res.Bounds)
}

func TestExtractor_Scan_Bounds(t *testing.T) {
	first := tempMessage("t2m", "surface", 0, 6)
	first.lats = []float64{-10, 0, 10}
	first.lons = []float64{-20, 0, 40}
	first.vals = []float64{1, 2, 3}

	f := &fakeFile{msgs: []*fakeMessage{first, tempMessage("prate", "surface", 0, 6)}}
	dec := &fakeDecoder{files: map[string]*fakeFile{"a.grb2": f}}

	res, err := NewExtractor(dec, discardLogger()).Scan("a.grb2", true)
	require.NoError(t, err)
	require.NotNil(t, res.Bounds)
	assert.Equal(t, -10.0, res.Bounds.LatMin)
	assert.Equal(t, 10.0, res.Bounds.LatMax)
	assert.Equal(t, 0.0, res.Bounds.LonMin)
	assert.Equal(t, 340.0, res.Bounds.LonMax, "negative longitudes normalize into [0,360)")
}

func TestExtractor_Scan_BoundsUnavailable(t *testing.T) {
	// Arrays failing must not fail the scan; the file just has no bbox.
	bad := tempMessage("t2m", "surface", 0, 6)
	bad.arraysErr = errors.New("corrupt section 7")

	f := &fakeFile{msgs: []*fakeMessage{bad}}
	dec := &fakeDecoder{files: map[string]*fakeFile{"a.grb2": f}}

	res, err := NewExtractor(dec, discardLogger()).Scan("a.grb2", true)
	require.NoError(t, err)
	assert.Nil(t, res.Bounds)
	require.Len(t, res.Messages, 1)
}

func TestExtractor_Scan_MissingReferenceTime(t *testing.T) {
	msg := tempMessage("t2m", "surface", 0, 6)
	delete(msg.ints, "dataDate")

	f := &fakeFile{msgs: []*fakeMessage{msg}}
	dec := &fakeDecoder{files: map[string]*fakeFile{"a.grb2": f}}

	_, err := NewExtractor(dec, discardLogger()).Scan("a.grb2", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMissingReferenceTime)
	var perr *domain.ParseError
	assert.ErrorAs(t, err, &perr)
	assert.Equal(t, 1, msg.released, "released even on the error path")
}

func TestExtractor_Scan_MissingLeadTime(t *testing.T) {
	msg := tempMessage("t2m", "surface", 0, 6)
	delete(msg.ints, "forecastTime")

	f := &fakeFile{msgs: []*fakeMessage{msg}}
	dec := &fakeDecoder{files: map[string]*fakeFile{"a.grb2": f}}

	_, err := NewExtractor(dec, discardLogger()).Scan("a.grb2", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMissingLeadTime)
}

func TestExtractor_Scan_DecodeFailure(t *testing.T) {
	f := &fakeFile{nextErr: errors.New("not a grib file")}
	dec := &fakeDecoder{files: map[string]*fakeFile{"a.grb2": f}}

	_, err := NewExtractor(dec, discardLogger()).Scan("a.grb2", false)
	require.Error(t, err)
	var derr *domain.DecodeError
	assert.ErrorAs(t, err, &derr)
	assert.True(t, f.closed)
}

func TestLeadFromMessage_Priority(t *testing.T) {
	tests := []struct {
		name string
		ints map[string]int64
		strs map[string]string
		want int
		ok   bool
	}{
		{
			name: "forecastTime wins",
			ints: map[string]int64{"forecastTime": 6, "endStep": 12, "step": 24},
			strs: map[string]string{"stepRange": "0-18"},
			want: 6, ok: true,
		},
		{
			name: "stepRange window end",
			ints: map[string]int64{"endStep": 12},
			strs: map[string]string{"stepRange": "0-6"},
			want: 6, ok: true,
		},
		{
			name: "plain stepRange",
			strs: map[string]string{"stepRange": "9"},
			want: 9, ok: true,
		},
		{
			name: "endStep before step",
			ints: map[string]int64{"endStep": 12, "step": 24},
			want: 12, ok: true,
		},
		{
			name: "step as last resort",
			ints: map[string]int64{"step": 24},
			want: 24, ok: true,
		},
		{
			name: "nothing usable",
			strs: map[string]string{"stepRange": "a-b"},
			ok:   false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := &fakeMessage{ints: tt.ints, strs: tt.strs}
			got, ok := leadFromMessage(msg)
			require.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestMessageTimes_BareHourDataTime(t *testing.T) {
	msg := &fakeMessage{ints: map[string]int64{
		"dataDate":     20251002,
		"dataTime":     6, // bare HH, not HHMM
		"forecastTime": 0,
	}}
	run, forecast, lead, err := messageTimes(msg)
	require.NoError(t, err)
	assert.Equal(t, mustUTC(t, "2025-10-02T06:00:00Z"), run)
	assert.Equal(t, run, forecast)
	assert.Zero(t, lead)
}

func TestMessageTimes_NegativeLead(t *testing.T) {
	msg := &fakeMessage{ints: map[string]int64{
		"dataDate":     20251002,
		"dataTime":     0,
		"forecastTime": -6,
	}}
	_, _, _, err := messageTimes(msg)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMissingLeadTime)
}
