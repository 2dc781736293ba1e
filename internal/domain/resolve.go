package domain

import (
	"sort"
	"time"
)

// Nearest returns the record whose ForecastTime is closest to target. Ties
// on distance are broken by the most recently initialized run (RunTime
// descending), so the freshest forecast wins. ok is false when cands is
// empty. Pure function of the candidate set: no I/O.
func Nearest(cands []Record, target time.Time) (best Record, ok bool) {
	target = target.UTC()
	for _, c := range cands {
		if !ok {
			best, ok = c, true
			continue
		}
		d := absDuration(c.ForecastTime.Sub(target))
		bd := absDuration(best.ForecastTime.Sub(target))
		if d < bd || (d == bd && c.RunTime.After(best.RunTime)) {
			best = c
		}
	}
	return best, ok
}

// NearestWithin is Nearest with a maximum allowed distance; maxDelta <= 0
// disables the guard.
func NearestWithin(cands []Record, target time.Time, maxDelta time.Duration) (Record, bool) {
	best, ok := Nearest(cands, target)
	if !ok {
		return Record{}, false
	}
	if maxDelta > 0 && absDuration(best.ForecastTime.Sub(target.UTC())) > maxDelta {
		return Record{}, false
	}
	return best, true
}

// LatestPerForecast reduces overlapping runs to one record per distinct
// (variable, level type, forecast time): the one from the newest run. The
// result is sorted by forecast time ascending, then variable. This models
// the common case where several model cycles cover the same valid time and
// the freshest forecast is preferred.
func LatestPerForecast(cands []Record) []Record {
	type key struct {
		variable  string
		levelType string
		forecast  time.Time
	}
	newest := make(map[key]Record, len(cands))
	for _, c := range cands {
		k := key{c.Variable, c.LevelType, c.ForecastTime.UTC()}
		if prev, seen := newest[k]; !seen || c.RunTime.After(prev.RunTime) {
			newest[k] = c
		}
	}
	out := make([]Record, 0, len(newest))
	for _, r := range newest {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ForecastTime.Equal(out[j].ForecastTime) {
			return out[i].ForecastTime.Before(out[j].ForecastTime)
		}
		return out[i].Variable < out[j].Variable
	})
	return out
}

// DedupeByKey removes records sharing a natural key, keeping first
// occurrence. Used to merge the two halves of a seam-split region query.
func DedupeByKey(records []Record) []Record {
	seen := make(map[NaturalKey]struct{}, len(records))
	out := records[:0]
	for _, r := range records {
		k := r.Key()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r)
	}
	return out
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
