package fetcher

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Record is one dataset row keyed by normalized (lower-case, trimmed)
// column name.
type Record map[string]string

// Float returns the first of names that is present and parses as a float.
func (r Record) Float(names ...string) (float64, bool) {
	for _, n := range names {
		v, ok := r[n]
		if !ok || v == "" {
			continue
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// Has reports whether any of names is a column of the record.
func (r Record) Has(names ...string) bool {
	for _, n := range names {
		if _, ok := r[n]; ok {
			return true
		}
	}
	return false
}

// SupportedFormat reports whether StreamTable can read path.
func SupportedFormat(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".xlsx", ".shp":
		return true
	}
	return false
}

// StreamTable reads a CSV, XLSX, or shapefile dataset and emits each data
// row as a Record. CSV and XLSX files must carry a header row.
func StreamTable(ctx context.Context, path string) (<-chan Record, <-chan error, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, nil, eris.Wrapf(err, "table: open %s", path)
		}
		rows, errs := StreamCSV(ctx, f, CSVOptions{TrimSpace: true, LazyQuotes: true})
		recs, out := keyRows(ctx, nil, rows, errs, f)
		return recs, out, nil
	case ".xlsx":
		rows, errs := StreamXLSX(ctx, path, XLSXOptions{})
		recs, out := keyRows(ctx, nil, rows, errs, nil)
		return recs, out, nil
	case ".shp":
		header, rows, errs, err := StreamShapefile(ctx, path)
		if err != nil {
			return nil, nil, err
		}
		recs, out := keyRows(ctx, header, rows, errs, nil)
		return recs, out, nil
	default:
		return nil, nil, eris.Errorf("table: unsupported format %q", filepath.Ext(path))
	}
}

func keyRows(ctx context.Context, header []string, rows <-chan []string, errs <-chan error, closer io.Closer) (<-chan Record, <-chan error) {
	recCh := make(chan Record, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(recCh)
		defer close(errCh)
		if closer != nil {
			defer func() { _ = closer.Close() }()
		}

		keys := normalizeHeader(header)
		for row := range rows {
			if keys == nil {
				keys = normalizeHeader(row)
				continue
			}
			rec := make(Record, len(keys))
			for i, k := range keys {
				if i < len(row) && k != "" {
					rec[k] = row[i]
				}
			}
			select {
			case recCh <- rec:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "table: context cancelled")
				return
			}
		}
		if err := <-errs; err != nil {
			errCh <- err
		}
	}()

	return recCh, errCh
}

func normalizeHeader(cols []string) []string {
	if cols == nil {
		return nil
	}
	out := make([]string, len(cols))
	for i, c := range cols {
		c = strings.TrimPrefix(c, "\ufeff")
		out[i] = strings.ToLower(strings.TrimSpace(c))
	}
	return out
}
