package riskindex

import (
	"context"
	"errors"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/safespace/saferoute/internal/fetcher"
	"github.com/safespace/saferoute/internal/model"
)

// Accepted column names, first match wins. Shapefile DBF names are limited
// to ten characters, hence the short aliases.
var (
	latColumns        = []string{"latitude", "lat", fetcher.ColLatitude}
	lonColumns        = []string{"longitude", "lon", "lng", fetcher.ColLongitude}
	lightingColumns   = []string{"lighting_score", "lighting", "light_scr"}
	populationColumns = []string{"population_density", "pop_densit", "pop_dens", "population"}
	trafficColumns    = []string{"traffic_level", "traffic_lv", "traffic"}
	mainRoadColumns   = []string{"is_main_road", "is_main_rd", "main_road"}
)

// Files locates the three layer files. Relative names resolve against Dir.
type Files struct {
	Dir        string
	Crime      string
	Lighting   string
	Population string
}

// Path returns the resolved path of a layer file.
func (f Files) Path(layer model.Layer) string {
	var name string
	switch layer {
	case model.LayerCrime:
		name = f.Crime
	case model.LayerLighting:
		name = f.Lighting
	case model.LayerPopulation:
		name = f.Population
	}
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(f.Dir, name)
}

// LayerStats describes how one layer loaded.
type LayerStats struct {
	Layer   model.Layer   `json:"layer"`
	Path    string        `json:"path"`
	Rows    int           `json:"rows"`
	Skipped int           `json:"skipped"`
	Missing bool          `json:"missing"`
	Error   string        `json:"error,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
}

// Load reads every layer and builds an Index. A missing or unreadable layer
// is logged and left empty; only context cancellation fails the load.
func Load(ctx context.Context, files Files) (*Index, []LayerStats, error) {
	layers := make(map[model.Layer][]model.RiskSample, len(model.Layers))
	stats := make([]LayerStats, 0, len(model.Layers))

	for _, layer := range model.Layers {
		start := time.Now()
		samples, st, err := loadLayer(ctx, layer, files.Path(layer))
		if err != nil {
			return nil, stats, err
		}
		st.Elapsed = time.Since(start)
		layers[layer] = samples
		stats = append(stats, st)
	}

	ix := New(layers[model.LayerCrime], layers[model.LayerLighting], layers[model.LayerPopulation])
	return ix, stats, nil
}

func loadLayer(ctx context.Context, layer model.Layer, path string) ([]model.RiskSample, LayerStats, error) {
	st := LayerStats{Layer: layer, Path: path}
	log := zap.L().With(zap.String("layer", string(layer)), zap.String("path", path))

	if path == "" {
		st.Missing = true
		log.Warn("risk layer not configured, using neutral defaults")
		return nil, st, nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		st.Missing = true
		log.Warn("risk layer file missing, using neutral defaults")
		return nil, st, nil
	}

	recs, errs, err := fetcher.StreamTable(ctx, path)
	if err != nil {
		st.Error = err.Error()
		log.Warn("risk layer unreadable, using neutral defaults", zap.Error(err))
		return nil, st, nil
	}

	var samples []model.RiskSample
	hasCoords := false
	for rec := range recs {
		if !hasCoords && rec.Has(latColumns...) && rec.Has(lonColumns...) {
			hasCoords = true
		}
		s, ok := parseSample(layer, rec)
		if !ok {
			st.Skipped++
			continue
		}
		samples = append(samples, s)
	}
	if err := <-errs; err != nil {
		if ctx.Err() != nil {
			return nil, st, eris.Wrap(ctx.Err(), "riskindex: load cancelled")
		}
		st.Error = err.Error()
		log.Warn("risk layer read failed, using neutral defaults", zap.Error(err))
		return nil, st, nil
	}

	if !hasCoords && st.Skipped > 0 {
		st.Error = "riskindex: no latitude/longitude columns"
		log.Warn("risk layer has no coordinate columns, using neutral defaults")
	}

	st.Rows = len(samples)
	log.Info("risk layer loaded", zap.Int("rows", st.Rows), zap.Int("skipped", st.Skipped))
	return samples, st, nil
}

// parseSample converts a record. Rows with unusable coordinates are
// rejected; unusable metric cells become NaN and are ignored when averaging.
func parseSample(layer model.Layer, rec fetcher.Record) (model.RiskSample, bool) {
	lat, ok := rec.Float(latColumns...)
	if !ok {
		return model.RiskSample{}, false
	}
	lon, ok := rec.Float(lonColumns...)
	if !ok {
		return model.RiskSample{}, false
	}
	s := model.RiskSample{Location: model.GeoPoint{Lat: lat, Lon: lon}}
	if !s.Location.Finite() {
		return model.RiskSample{}, false
	}

	switch layer {
	case model.LayerLighting:
		s.Value = floatOrNaN(rec, lightingColumns)
		if math.IsNaN(s.Value) {
			return model.RiskSample{}, false
		}
	case model.LayerPopulation:
		s.Value = floatOrNaN(rec, populationColumns)
		s.Traffic = floatOrNaN(rec, trafficColumns)
		s.MainRoad = flagOrNaN(rec, mainRoadColumns)
	}
	return s, true
}

func floatOrNaN(rec fetcher.Record, cols []string) float64 {
	if v, ok := rec.Float(cols...); ok && !math.IsInf(v, 0) {
		return v
	}
	return math.NaN()
}

// flagOrNaN accepts numeric flags as well as true/false/yes/no.
func flagOrNaN(rec fetcher.Record, cols []string) float64 {
	for _, c := range cols {
		v, ok := rec[c]
		if !ok {
			continue
		}
		v = strings.TrimSpace(v)
		if b, err := strconv.ParseBool(v); err == nil {
			if b {
				return 1
			}
			return 0
		}
		switch strings.ToLower(v) {
		case "yes", "y":
			return 1
		case "no", "n":
			return 0
		}
		return floatOrNaN(rec, []string{c})
	}
	return math.NaN()
}
