package fetcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/safespace/saferoute/internal/model"
)

// Manifest lists where each risk layer is downloaded from.
type Manifest struct {
	Datasets []DatasetSource `yaml:"datasets"`
}

// DatasetSource is one downloadable layer.
type DatasetSource struct {
	Layer model.Layer `yaml:"layer"`
	URL   string      `yaml:"url"`
	// File is the name written into the dataset directory.
	File string `yaml:"file"`
	// Extract names the archive entry to keep when URL points at a .zip.
	Extract string `yaml:"extract,omitempty"`
}

// LoadManifest reads and validates a YAML manifest.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "manifest: read %s", path)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, eris.Wrap(err, "manifest: parse")
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks every entry names a known layer, a URL, and a readable
// target format.
func (m *Manifest) Validate() error {
	if len(m.Datasets) == 0 {
		return eris.New("manifest: no datasets")
	}
	seen := make(map[model.Layer]bool)
	for i, d := range m.Datasets {
		if !d.Layer.Valid() {
			return eris.Errorf("manifest: dataset %d: unknown layer %q", i, d.Layer)
		}
		if seen[d.Layer] {
			return eris.Errorf("manifest: layer %q listed twice", d.Layer)
		}
		seen[d.Layer] = true
		if d.URL == "" {
			return eris.Errorf("manifest: dataset %q: url is required", d.Layer)
		}
		if d.File == "" || filepath.Base(d.File) != d.File {
			return eris.Errorf("manifest: dataset %q: file must be a plain file name", d.Layer)
		}
		if !SupportedFormat(d.File) {
			return eris.Errorf("manifest: dataset %q: unsupported format %q", d.Layer, filepath.Ext(d.File))
		}
	}
	return nil
}

// SyncResult reports one downloaded layer.
type SyncResult struct {
	Layer    model.Layer
	Path     string
	Bytes    int64
	Duration time.Duration
}

// Sync downloads every dataset of the manifest into dir, at most two at a
// time. Existing files are replaced only after a complete download.
func Sync(ctx context.Context, f Fetcher, m *Manifest, dir string) ([]SyncResult, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "manifest: create %s", dir)
	}

	results := make([]SyncResult, len(m.Datasets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(2)
	for i, d := range m.Datasets {
		g.Go(func() error {
			start := time.Now()
			path, n, err := syncOne(gctx, f, d, dir)
			if err != nil {
				return eris.Wrapf(err, "manifest: sync %s", d.Layer)
			}
			results[i] = SyncResult{Layer: d.Layer, Path: path, Bytes: n, Duration: time.Since(start)}
			zap.L().Info("dataset downloaded",
				zap.String("layer", string(d.Layer)),
				zap.String("path", path),
				zap.Int64("bytes", n),
			)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func syncOne(ctx context.Context, f Fetcher, d DatasetSource, dir string) (string, int64, error) {
	target := filepath.Join(dir, d.File)
	if !strings.EqualFold(filepath.Ext(urlPath(d.URL)), ".zip") {
		n, err := f.DownloadToFile(ctx, d.URL, target)
		return target, n, err
	}

	tmp, err := os.MkdirTemp(dir, "."+string(d.Layer)+"-*")
	if err != nil {
		return "", 0, eris.Wrap(err, "create temp dir")
	}
	defer func() { _ = os.RemoveAll(tmp) }()

	archive := filepath.Join(tmp, "archive.zip")
	n, err := f.DownloadToFile(ctx, d.URL, archive)
	if err != nil {
		return "", 0, err
	}
	files, err := ExtractZIP(archive, filepath.Join(tmp, "x"))
	if err != nil {
		return "", 0, err
	}

	want := d.Extract
	if want == "" {
		want = d.File
	}
	// Shapefiles travel with sidecar files sharing the base name.
	stem := strings.TrimSuffix(filepath.Base(want), filepath.Ext(want))
	targetStem := strings.TrimSuffix(d.File, filepath.Ext(d.File))
	found := false
	for _, p := range files {
		base := filepath.Base(p)
		if !strings.EqualFold(strings.TrimSuffix(base, filepath.Ext(base)), stem) {
			continue
		}
		dest := filepath.Join(dir, targetStem+strings.ToLower(filepath.Ext(base)))
		if err := os.Rename(p, dest); err != nil {
			return "", 0, eris.Wrapf(err, "move %s", base)
		}
		if strings.EqualFold(base, filepath.Base(want)) {
			found = true
		}
	}
	if !found {
		return "", 0, eris.Errorf("archive does not contain %q", want)
	}
	return target, n, nil
}

func urlPath(raw string) string {
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		raw = raw[:i]
	}
	return raw
}
