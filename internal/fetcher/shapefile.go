package fetcher

import (
	"context"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Column names synthesized from shapefile geometry.
const (
	ColLatitude  = "latitude"
	ColLongitude = "longitude"
)

// StreamShapefile reads a shapefile as a table. The header is the DBF field
// names followed by longitude and latitude; each row carries the attribute
// values plus the point coordinates (or the bounding-box center for
// non-point shapes). Records without geometry are skipped.
func StreamShapefile(ctx context.Context, path string) ([]string, <-chan []string, <-chan error, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, nil, nil, eris.Wrapf(err, "shapefile: open %s", path)
	}

	fields := reader.Fields()
	header := make([]string, 0, len(fields)+2)
	for _, f := range fields {
		header = append(header, strings.TrimRight(f.String(), "\x00"))
	}
	header = append(header, ColLongitude, ColLatitude)

	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)
		defer func() { _ = reader.Close() }()

		skipped := 0
		for reader.Next() {
			_, shape := reader.Shape()
			if shape == nil {
				skipped++
				continue
			}
			lon, lat := shapeCenter(shape)

			row := make([]string, 0, len(header))
			for i := range fields {
				v := strings.TrimSpace(strings.TrimRight(reader.Attribute(i), "\x00"))
				row = append(row, v)
			}
			row = append(row,
				strconv.FormatFloat(lon, 'f', -1, 64),
				strconv.FormatFloat(lat, 'f', -1, 64),
			)

			select {
			case rowCh <- row:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "shapefile: context cancelled")
				return
			}
		}
		if skipped > 0 {
			zap.L().Debug("shapefile: skipped records without geometry",
				zap.String("path", path),
				zap.Int("skipped", skipped),
			)
		}
	}()

	return header, rowCh, errCh, nil
}

func shapeCenter(s shp.Shape) (x, y float64) {
	if p, ok := s.(*shp.Point); ok {
		return p.X, p.Y
	}
	b := s.BBox()
	return (b.MinX + b.MaxX) / 2, (b.MinY + b.MaxY) / 2
}
