package index

import (
	"strings"

	"github.com/couchcryptid/grib-index-service/internal/domain"
)

// buildQuery compiles validated QueryParams into one SELECT over records.
// The time window is inclusive on both ends. A seam-crossing region becomes
// two longitude range tests ORed inside a single scan, which unions the two
// halves without producing duplicate rows. Region predicates are compiled
// only when the spatial side table exists; otherwise the corpus is
// globally-covering and the region is advisory (cropping happens at
// extraction).
func buildQuery(p domain.QueryParams, spatial bool) (string, []any) {
	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString(`
		SELECT id, product, file_path, run_time_utc, forecast_time_utc, lead_hours, var, level_type, level_value
		FROM records
		WHERE forecast_time_utc >= ? AND forecast_time_utc <= ?`)
	args = append(args, fmtTime(p.Start), fmtTime(p.End))

	sb.WriteString(` AND var IN ` + placeholders(len(p.Variables)))
	for _, v := range p.Variables {
		args = append(args, v)
	}

	if p.Mode == domain.ModeAll {
		// A file qualifies only when it carries every requested variable
		// inside the query window; it then contributes one candidate per
		// requested variable.
		sb.WriteString(`
		  AND file_path IN (
		    SELECT file_path FROM records
		    WHERE forecast_time_utc >= ? AND forecast_time_utc <= ?
		      AND var IN ` + placeholders(len(p.Variables)) + `
		    GROUP BY file_path
		    HAVING COUNT(DISTINCT var) = ?
		  )`)
		args = append(args, fmtTime(p.Start), fmtTime(p.End))
		for _, v := range p.Variables {
			args = append(args, v)
		}
		args = append(args, len(distinct(p.Variables)))
	}

	if products := p.NormalizedProducts(); len(products) > 0 {
		sb.WriteString(` AND lower(product) IN ` + placeholders(len(products)))
		for _, pr := range products {
			args = append(args, pr)
		}
	}

	if p.LevelType != "" {
		sb.WriteString(` AND level_type = ?`)
		args = append(args, p.LevelType)
	}
	if p.LevelValue != nil {
		sb.WriteString(` AND level_value = ?`)
		args = append(args, *p.LevelValue)
	}

	if spatial && p.Region != nil {
		subs := p.Region.Normalized().Split()
		sb.WriteString(`
		  AND EXISTS (
		    SELECT 1 FROM files f
		    WHERE f.file_path = records.file_path
		      AND f.lat_max >= ? AND f.lat_min <= ?
		      AND (`)
		args = append(args, p.Region.LatMin, p.Region.LatMax)
		for i, sub := range subs {
			if i > 0 {
				sb.WriteString(` OR `)
			}
			sb.WriteString(`(f.lon_max >= ? AND f.lon_min <= ?)`)
			args = append(args, sub.LonMin, sub.LonMax)
		}
		sb.WriteString(`)
		  )`)
	}

	sb.WriteString(` ORDER BY var, forecast_time_utc, run_time_utc DESC, file_path`)
	return sb.String(), args
}

func placeholders(n int) string {
	return "(" + strings.TrimSuffix(strings.Repeat("?,", n), ",") + ")"
}

func distinct(vals []string) []string {
	seen := make(map[string]struct{}, len(vals))
	out := vals[:0:0]
	for _, v := range vals {
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
