package index

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/couchcryptid/grib-index-service/internal/domain"
	"github.com/couchcryptid/grib-index-service/internal/observability"
)

// IndexerOptions selects how files are turned into rows.
type IndexerOptions struct {
	// SummaryOnly inserts one row per (file, variable), using
	// filename-derived run/forecast times and no level fields, instead of
	// one row per message. Cheaper for corpora where per-level detail is
	// never queried.
	SummaryOnly bool
}

// Indexer drives the write path: parse name, scan headers, upsert rows.
type Indexer struct {
	extractor *Extractor
	store     *Store
	logger    *slog.Logger
	metrics   *observability.Metrics
	opts      IndexerOptions
}

// NewIndexer wires the extractor and store into a batch indexer.
func NewIndexer(e *Extractor, s *Store, logger *slog.Logger, metrics *observability.Metrics, opts IndexerOptions) *Indexer {
	return &Indexer{extractor: e, store: s, logger: logger, metrics: metrics, opts: opts}
}

// IndexFile indexes a single corpus file and returns the number of new rows.
// Duplicate rows are ignored, so calling this twice for an unchanged file
// inserts nothing the second time.
func (ix *Indexer) IndexFile(ctx context.Context, path string) (int, error) {
	meta, err := ParseCFSName(path)
	if err != nil {
		return 0, err
	}

	res, err := ix.extractor.Scan(meta.Path, ix.store.Spatial())
	if err != nil {
		return 0, err
	}

	records := ix.buildRecords(meta, res.Messages)
	inserted, err := ix.store.InsertRecords(ctx, records)
	if err != nil {
		return 0, err
	}

	if ix.store.Spatial() && res.Bounds != nil {
		vars := variableSet(res.Messages)
		if err := ix.store.UpsertFileBounds(ctx, meta, *res.Bounds, vars); err != nil {
			return inserted, err
		}
	}
	return inserted, nil
}

// ReindexFile refreshes a file's rows: delete, then insert. Used when a
// corpus file was replaced in place.
func (ix *Indexer) ReindexFile(ctx context.Context, path string) (int, error) {
	meta, err := ParseCFSName(path)
	if err != nil {
		return 0, err
	}
	if err := ix.store.DeleteFile(ctx, meta.Path); err != nil {
		return 0, err
	}
	return ix.IndexFile(ctx, path)
}

// IndexTree indexes every recognizable GRIB2 file under roots plus the
// explicit file list. Per-file failures (bad names, decode errors) are
// logged and skipped; they never abort the batch.
func (ix *Indexer) IndexTree(ctx context.Context, roots, files []string) (indexed, rows int, err error) {
	ix.metrics.IndexRunning.Set(1)
	defer ix.metrics.IndexRunning.Set(0)

	for _, fp := range WalkCorpus(roots, files, ix.logger) {
		if ctx.Err() != nil {
			return indexed, rows, ctx.Err()
		}
		n, err := ix.IndexFile(ctx, fp)
		if err != nil {
			var pe *domain.ParseError
			var de *domain.DecodeError
			switch {
			case errors.As(err, &pe):
				ix.logger.Warn("skipping file", "path", fp, "error", pe.Err)
			case errors.As(err, &de):
				ix.logger.Warn("decode failed, file skipped", "path", fp, "error", de.Err)
			default:
				// Storage failures are not per-file noise; abort the batch.
				return indexed, rows, err
			}
			ix.metrics.FilesSkipped.Inc()
			continue
		}
		indexed++
		rows += n
		ix.metrics.FilesIndexed.Inc()
		ix.metrics.RecordsIndexed.Add(float64(n))
		ix.logger.Info("indexed", "path", fp, "new_rows", n)
	}
	return indexed, rows, nil
}

func (ix *Indexer) buildRecords(meta domain.FileMeta, msgs []MessageMeta) []domain.Record {
	if ix.opts.SummaryOnly {
		// One row per variable with filename times and no level detail.
		lead := int(meta.ForecastTime.Sub(meta.RunTime).Hours())
		vars := variableSet(msgs)
		out := make([]domain.Record, 0, len(vars))
		for _, v := range vars {
			out = append(out, domain.Record{
				Product:      meta.Product,
				FilePath:     meta.Path,
				RunTime:      meta.RunTime,
				ForecastTime: meta.ForecastTime,
				LeadHours:    lead,
				Variable:     v,
			})
		}
		return out
	}

	out := make([]domain.Record, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, domain.Record{
			Product:      meta.Product,
			FilePath:     meta.Path,
			RunTime:      m.RunTime,
			ForecastTime: m.ForecastTime,
			LeadHours:    m.LeadHours,
			Variable:     m.Variable,
			LevelType:    m.LevelType,
			LevelValue:   m.LevelValue,
		})
	}
	return out
}

func variableSet(msgs []MessageMeta) []string {
	seen := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		seen[m.Variable] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
