package index

import (
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
)

// WalkCorpus enumerates candidate GRIB2 files: explicit paths first, then a
// recursive walk of each root. Only .grb2 files are returned; unreadable
// directories are logged and skipped, never fatal.
func WalkCorpus(roots, files []string, logger *slog.Logger) []string {
	var out []string
	for _, fp := range files {
		if strings.HasSuffix(fp, ".grb2") {
			out = append(out, fp)
		} else {
			logger.Debug("skipping non-grib2 file", "path", fp)
		}
	}
	for _, root := range roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				logger.Warn("corpus walk error", "path", path, "error", err)
				return nil
			}
			if !d.IsDir() && strings.HasSuffix(d.Name(), ".grb2") {
				out = append(out, path)
			}
			return nil
		})
		if err != nil {
			logger.Warn("corpus root unreadable", "root", root, "error", err)
		}
	}
	return out
}
