package domain

import (
	"fmt"
	"strings"
	"time"
)

// VariableMode selects whether a candidate file must contain at least one of
// the requested variables, or every one of them.
type VariableMode string

const (
	// ModeAny matches records whose variable is in the requested set.
	ModeAny VariableMode = "any"
	// ModeAll restricts candidates to files whose variable set is a superset
	// of the requested set. A satisfying file contributes one candidate per
	// requested variable, not one per file.
	ModeAll VariableMode = "all"
)

// GroupBy selects the query read path: file discovery returns one candidate
// per (file, variable); point extraction returns one candidate per
// (variable, forecast time), reduced to the newest run.
type GroupBy string

const (
	GroupByFile     GroupBy = "file"
	GroupByForecast GroupBy = "forecast"
)

// QueryParams is the planner input. Start/End bound ForecastTime inclusively
// on both ends. Products are matched after lower-casing. A nil Region means
// no spatial predicate.
type QueryParams struct {
	Start time.Time
	End   time.Time

	Variables []string
	Mode      VariableMode

	Products []string

	LevelType  string
	LevelValue *float64

	Region *Region

	GroupBy GroupBy
}

// Validate rejects empty or contradictory filter sets. Variables and
// Products are required to be non-empty when the query carries a variable or
// product predicate at all; an unordered time window is always an error.
func (p QueryParams) Validate() error {
	if p.Start.IsZero() || p.End.IsZero() {
		return fmt.Errorf("%w: start and end are required", ErrInvalidQuery)
	}
	if p.End.Before(p.Start) {
		return fmt.Errorf("%w: end %s before start %s", ErrInvalidQuery, p.End.Format(time.RFC3339), p.Start.Format(time.RFC3339))
	}
	if len(p.Variables) == 0 {
		return fmt.Errorf("%w: variables must be non-empty", ErrInvalidQuery)
	}
	for _, v := range p.Variables {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("%w: blank variable", ErrInvalidQuery)
		}
	}
	// A nil Products means no product filter; a provided-but-empty set is a
	// contradiction, same as an empty variable set.
	if p.Products != nil && len(p.Products) == 0 {
		return fmt.Errorf("%w: products must be non-empty when provided", ErrInvalidQuery)
	}
	for _, pr := range p.Products {
		if strings.TrimSpace(pr) == "" {
			return fmt.Errorf("%w: blank product", ErrInvalidQuery)
		}
	}
	switch p.Mode {
	case "", ModeAny, ModeAll:
	default:
		return fmt.Errorf("%w: unknown variable mode %q", ErrInvalidQuery, p.Mode)
	}
	if p.Region != nil {
		if p.Region.LatMax < p.Region.LatMin {
			return fmt.Errorf("%w: lat_max below lat_min", ErrInvalidQuery)
		}
	}
	return nil
}

// NormalizedProducts returns the product codes lower-cased, for exact-match
// comparison against stored product codes.
func (p QueryParams) NormalizedProducts() []string {
	out := make([]string, len(p.Products))
	for i, s := range p.Products {
		out[i] = strings.ToLower(strings.TrimSpace(s))
	}
	return out
}

// Midpoint returns the center of the query window, the target instant used
// when a single best record is wanted for a window.
func (p QueryParams) Midpoint() time.Time {
	return p.Start.Add(p.End.Sub(p.Start) / 2).UTC()
}
