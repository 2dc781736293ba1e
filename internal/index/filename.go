package index

import (
	"fmt"
	"path/filepath"
	"regexp"
	"time"

	"github.com/couchcryptid/grib-index-service/internal/domain"
)

// cfsNameRe matches CFS/NCEP-style GRIB2 file names, e.g.
// "ocnf2026040800.01.2025100312.grb2": product prefix, forecast instant,
// ensemble member, run instant.
var cfsNameRe = regexp.MustCompile(`^(?P<product>[a-z]+)(?P<forecast>\d{10})\.\d{2}\.(?P<run>\d{10})\.grb2$`)

const stampLayout = "2006010215" // YYYYMMDDHH

// ParseCFSName extracts product, forecast time and run time from a corpus
// file name. Returns ErrUnrecognizedName (wrapped in a ParseError) when the
// name does not follow the convention; callers skip such files with a
// warning rather than failing the batch.
func ParseCFSName(path string) (domain.FileMeta, error) {
	name := filepath.Base(path)
	m := cfsNameRe.FindStringSubmatch(name)
	if m == nil {
		return domain.FileMeta{}, &domain.ParseError{Path: path, Err: fmt.Errorf("%w: %s", domain.ErrUnrecognizedName, name)}
	}

	forecast, err := time.ParseInLocation(stampLayout, m[2], time.UTC)
	if err != nil {
		return domain.FileMeta{}, &domain.ParseError{Path: path, Err: fmt.Errorf("forecast stamp: %w", err)}
	}
	run, err := time.ParseInLocation(stampLayout, m[3], time.UTC)
	if err != nil {
		return domain.FileMeta{}, &domain.ParseError{Path: path, Err: fmt.Errorf("run stamp: %w", err)}
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return domain.FileMeta{
		Product:      m[1],
		ForecastTime: forecast,
		RunTime:      run,
		Path:         abs,
	}, nil
}
