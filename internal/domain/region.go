package domain

import "math"

// Region is a rectangular latitude/longitude box. Longitudes are normalized
// to [0,360). LonMin > LonMax means the box crosses the 360/0 seam and is
// interpreted as the union of [LonMin,360) and [0,LonMax].
type Region struct {
	LatMin float64 `json:"lat_min"`
	LatMax float64 `json:"lat_max"`
	LonMin float64 `json:"lon_min_0_360"`
	LonMax float64 `json:"lon_max_0_360"`
}

// NormalizeLon maps any longitude onto [0,360).
func NormalizeLon(lon float64) float64 {
	m := math.Mod(lon, 360)
	if m < 0 {
		m += 360
	}
	return m
}

// NormalizeLonMax maps an upper longitude bound onto (0,360]. Exact
// multiples of 360 stay at 360 rather than wrapping to 0, so a whole-globe
// box (0,360) keeps its width instead of collapsing to the degenerate (0,0).
func NormalizeLonMax(lon float64) float64 {
	m := NormalizeLon(lon)
	if m == 0 && lon != 0 {
		return 360
	}
	return m
}

// Normalized returns the region with both longitudes wrapped into [0,360],
// the upper bound keeping 360 as 360.
func (r Region) Normalized() Region {
	r.LonMin = NormalizeLon(r.LonMin)
	r.LonMax = NormalizeLonMax(r.LonMax)
	return r
}

// Wraps reports whether the region crosses the 360/0 longitude seam.
func (r Region) Wraps() bool {
	return r.LonMin > r.LonMax
}

// Split returns the region as one or two non-wrapping sub-regions. A
// wrapping region becomes [LonMin,360) and [0,LonMax]; anything else is
// returned unchanged.
func (r Region) Split() []Region {
	if !r.Wraps() {
		return []Region{r}
	}
	return []Region{
		{LatMin: r.LatMin, LatMax: r.LatMax, LonMin: r.LonMin, LonMax: 360},
		{LatMin: r.LatMin, LatMax: r.LatMax, LonMin: 0, LonMax: r.LonMax},
	}
}

// Contains reports whether a grid point falls inside the region. The
// longitude is normalized before testing so callers may pass either
// convention.
func (r Region) Contains(lat, lon float64) bool {
	if lat < r.LatMin || lat > r.LatMax {
		return false
	}
	lon = NormalizeLon(lon)
	if r.Wraps() {
		return lon >= r.LonMin || lon <= r.LonMax
	}
	return lon >= r.LonMin && lon <= r.LonMax
}

// Overlaps reports whether the region intersects a non-wrapping bounding
// box, testing each seam-split sub-range separately.
func (r Region) Overlaps(latMin, latMax, lonMin, lonMax float64) bool {
	if latMax < r.LatMin || latMin > r.LatMax {
		return false
	}
	for _, sub := range r.Split() {
		if lonMax >= sub.LonMin && lonMin <= sub.LonMax {
			return true
		}
	}
	return false
}
