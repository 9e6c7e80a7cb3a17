// Package riskindex holds the read-only crime, lighting, and population
// layers and answers windowed proximity queries against them.
package riskindex

import (
	"math"

	"github.com/safespace/saferoute/internal/model"
)

// Query radii in degrees.
const (
	CrimeRadius      = 0.003
	LightingRadius   = 0.005
	PopulationRadius = 0.005
)

// Neutral values returned when a window holds no usable samples.
const (
	DefaultLighting   = 5.0
	DefaultPopulation = 5.0
	DefaultTraffic    = 5.0
)

// cellSize is the grid bucket edge in degrees. It is larger than every query
// radius so a window touches at most a 2x2 block of cells.
const cellSize = 0.01

// Status tells a caller where a measurement came from.
type Status int

const (
	// Measured means at least one sample fell in the window.
	Measured Status = iota
	// NoData means the window was empty and the neutral default was used.
	NoData
	// Invalid means the query point or radius was not usable and the
	// neutral default was used.
	Invalid
)

func (s Status) String() string {
	switch s {
	case Measured:
		return "measured"
	case NoData:
		return "no_data"
	case Invalid:
		return "invalid"
	}
	return "unknown"
}

// Measurement is a single-valued lookup result.
type Measurement struct {
	Value   float64
	Samples int
	Status  Status
}

// Defaulted reports whether Value is a fallback.
func (m Measurement) Defaulted() bool { return m.Status != Measured }

// PopulationMeasurement is the population/traffic lookup result. Population
// is density/1000 and Traffic is level/10, both on a 0-10 scale.
type PopulationMeasurement struct {
	Population float64
	Traffic    float64
	MainRoad   bool
	Samples    int
	Status     Status
}

// Defaulted reports whether the values are fallbacks.
func (m PopulationMeasurement) Defaulted() bool { return m.Status != Measured }

var defaultPopulation = PopulationMeasurement{
	Population: DefaultPopulation,
	Traffic:    DefaultTraffic,
}

// Index is the immutable risk index. It is safe for concurrent use.
type Index struct {
	crime      *grid
	lighting   *grid
	population *grid
}

// New builds an index from the three layers. Samples with non-finite
// coordinates are dropped. The slices are not retained.
func New(crime, lighting, population []model.RiskSample) *Index {
	return &Index{
		crime:      newGrid(crime),
		lighting:   newGrid(lighting),
		population: newGrid(population),
	}
}

// Empty returns an index with no data; every lookup yields its default.
func Empty() *Index { return New(nil, nil, nil) }

// CrimeExposure counts crime samples inside the square window
// |Δlat| < radius and |Δlon| < radius around p.
func (ix *Index) CrimeExposure(p model.GeoPoint, radius float64) Measurement {
	if !usable(p, radius) {
		return Measurement{Status: Invalid}
	}
	n := 0
	ix.crime.window(p, radius, func(model.RiskSample) { n++ })
	if n == 0 {
		return Measurement{Status: NoData}
	}
	return Measurement{Value: float64(n), Samples: n, Status: Measured}
}

// LightingScore is the mean lighting score (0-10) inside the window, or
// DefaultLighting when the window is empty.
func (ix *Index) LightingScore(p model.GeoPoint, radius float64) Measurement {
	if !usable(p, radius) {
		return Measurement{Value: DefaultLighting, Status: Invalid}
	}
	var sum float64
	n := 0
	ix.lighting.window(p, radius, func(s model.RiskSample) {
		if !math.IsNaN(s.Value) {
			sum += s.Value
			n++
		}
	})
	if n == 0 {
		return Measurement{Value: DefaultLighting, Status: NoData}
	}
	return Measurement{Value: sum / float64(n), Samples: n, Status: Measured}
}

// PopulationProfile averages the population layer inside the window. Each
// field is averaged over the samples that carry it; a field with no values
// takes its default.
func (ix *Index) PopulationProfile(p model.GeoPoint, radius float64) PopulationMeasurement {
	if !usable(p, radius) {
		out := defaultPopulation
		out.Status = Invalid
		return out
	}

	var density, traffic, main mean
	n := 0
	ix.population.window(p, radius, func(s model.RiskSample) {
		n++
		density.add(s.Value)
		traffic.add(s.Traffic)
		main.add(s.MainRoad)
	})
	if n == 0 {
		out := defaultPopulation
		out.Status = NoData
		return out
	}
	return PopulationMeasurement{
		Population: density.or(DefaultPopulation*1000) / 1000,
		Traffic:    traffic.or(DefaultTraffic*10) / 10,
		MainRoad:   main.or(0) > 0.5,
		Samples:    n,
		Status:     Measured,
	}
}

// Counts returns the number of samples per layer.
func (ix *Index) Counts() map[model.Layer]int {
	return map[model.Layer]int{
		model.LayerCrime:      ix.crime.len(),
		model.LayerLighting:   ix.lighting.len(),
		model.LayerPopulation: ix.population.len(),
	}
}

// Points returns up to limit samples of layer in load order, restricted to
// bbox when it is non-nil. limit <= 0 means no cap.
func (ix *Index) Points(layer model.Layer, bbox *model.BBox, limit int) []model.RiskSample {
	var g *grid
	switch layer {
	case model.LayerCrime:
		g = ix.crime
	case model.LayerLighting:
		g = ix.lighting
	case model.LayerPopulation:
		g = ix.population
	default:
		return nil
	}

	out := make([]model.RiskSample, 0, min(g.len(), max(limit, 0)))
	for _, s := range g.all {
		if bbox != nil && !bbox.Contains(s.Location) {
			continue
		}
		out = append(out, s)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func usable(p model.GeoPoint, radius float64) bool {
	return p.Finite() && radius > 0 && !math.IsInf(radius, 0)
}

type mean struct {
	sum float64
	n   int
}

func (m *mean) add(v float64) {
	if !math.IsNaN(v) {
		m.sum += v
		m.n++
	}
}

func (m mean) or(def float64) float64 {
	if m.n == 0 {
		return def
	}
	return m.sum / float64(m.n)
}

type cellKey struct{ row, col int32 }

// grid buckets samples into cellSize squares.
type grid struct {
	all   []model.RiskSample
	cells map[cellKey][]model.RiskSample
}

func newGrid(samples []model.RiskSample) *grid {
	g := &grid{
		all:   make([]model.RiskSample, 0, len(samples)),
		cells: make(map[cellKey][]model.RiskSample),
	}
	for _, s := range samples {
		if !s.Location.Finite() {
			continue
		}
		g.all = append(g.all, s)
		k := keyOf(s.Location.Lat, s.Location.Lon)
		g.cells[k] = append(g.cells[k], s)
	}
	return g
}

func (g *grid) len() int { return len(g.all) }

func keyOf(lat, lon float64) cellKey {
	return cellKey{row: int32(math.Floor(lat / cellSize)), col: int32(math.Floor(lon / cellSize))}
}

// window calls fn for every sample strictly inside the square window.
func (g *grid) window(p model.GeoPoint, radius float64, fn func(model.RiskSample)) {
	if len(g.all) == 0 {
		return
	}
	lo := keyOf(p.Lat-radius, p.Lon-radius)
	hi := keyOf(p.Lat+radius, p.Lon+radius)
	// Very large radii degrade to a linear scan.
	if int64(hi.row-lo.row+1)*int64(hi.col-lo.col+1) > int64(len(g.cells)) {
		for _, s := range g.all {
			if inWindow(s.Location, p, radius) {
				fn(s)
			}
		}
		return
	}
	for r := lo.row; r <= hi.row; r++ {
		for c := lo.col; c <= hi.col; c++ {
			for _, s := range g.cells[cellKey{r, c}] {
				if inWindow(s.Location, p, radius) {
					fn(s)
				}
			}
		}
	}
}

func inWindow(s, p model.GeoPoint, radius float64) bool {
	return math.Abs(s.Lat-p.Lat) < radius && math.Abs(s.Lon-p.Lon) < radius
}
