// Package fetcher reads tabular risk datasets (CSV, XLSX, shapefile) and
// downloads them from HTTP(S) or FTP sources.
package fetcher

import (
	"context"
	"io"
	"net/url"

	"github.com/rotisserie/eris"
)

// Fetcher downloads a remote dataset.
type Fetcher interface {
	// Download returns the body of rawURL. The caller closes it.
	Download(ctx context.Context, rawURL string) (io.ReadCloser, error)

	// DownloadToFile writes rawURL to path and returns the bytes written.
	DownloadToFile(ctx context.Context, rawURL string, path string) (int64, error)
}

// Mux dispatches downloads to a fetcher by URL scheme.
type Mux struct {
	HTTP Fetcher
	FTP  Fetcher
}

func (m *Mux) pick(rawURL string) (Fetcher, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: parse url %q", rawURL)
	}
	switch u.Scheme {
	case "http", "https":
		if m.HTTP != nil {
			return m.HTTP, nil
		}
	case "ftp":
		if m.FTP != nil {
			return m.FTP, nil
		}
	}
	return nil, eris.Errorf("fetcher: unsupported scheme %q", u.Scheme)
}

// Download implements Fetcher.
func (m *Mux) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	f, err := m.pick(rawURL)
	if err != nil {
		return nil, err
	}
	return f.Download(ctx, rawURL)
}

// DownloadToFile implements Fetcher.
func (m *Mux) DownloadToFile(ctx context.Context, rawURL string, path string) (int64, error) {
	f, err := m.pick(rawURL)
	if err != nil {
		return 0, err
	}
	return f.DownloadToFile(ctx, rawURL, path)
}
