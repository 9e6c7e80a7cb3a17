package model

import (
	"encoding/json"
	"math"

	"github.com/rotisserie/eris"
)

// GeoPoint is a WGS-84 coordinate.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Finite reports whether both coordinates are real numbers.
func (p GeoPoint) Finite() bool {
	return !math.IsNaN(p.Lat) && !math.IsNaN(p.Lon) &&
		!math.IsInf(p.Lat, 0) && !math.IsInf(p.Lon, 0)
}

// BBox is a lat/lon rectangle. Bounds are inclusive.
type BBox struct {
	MinLat float64 `json:"min_lat" mapstructure:"min_lat"`
	MinLon float64 `json:"min_lon" mapstructure:"min_lon"`
	MaxLat float64 `json:"max_lat" mapstructure:"max_lat"`
	MaxLon float64 `json:"max_lon" mapstructure:"max_lon"`
}

// BangaloreBounds is the default service area.
var BangaloreBounds = BBox{
	MinLat: 12.704192,
	MinLon: 77.269876,
	MaxLat: 13.173706,
	MaxLon: 77.850066,
}

// Contains reports whether p lies inside the box. Non-finite points are never contained.
func (b BBox) Contains(p GeoPoint) bool {
	if !p.Finite() {
		return false
	}
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat &&
		p.Lon >= b.MinLon && p.Lon <= b.MaxLon
}

// Validate checks that the box is non-empty.
func (b BBox) Validate() error {
	if b.MinLat > b.MaxLat || b.MinLon > b.MaxLon {
		return eris.Errorf("model: invalid bbox %v", b)
	}
	return nil
}

// Path is an ordered route geometry. It marshals as [[lat, lon], ...] which
// is what map clients draw directly.
type Path []GeoPoint

// MarshalJSON implements json.Marshaler.
func (p Path) MarshalJSON() ([]byte, error) {
	out := make([][2]float64, len(p))
	for i, pt := range p {
		out[i] = [2]float64{pt.Lat, pt.Lon}
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Path) UnmarshalJSON(data []byte) error {
	var raw [][2]float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return eris.Wrap(err, "model: decode path")
	}
	out := make(Path, len(raw))
	for i, pair := range raw {
		out[i] = GeoPoint{Lat: pair[0], Lon: pair[1]}
	}
	*p = out
	return nil
}

// Layer names a risk dataset.
type Layer string

const (
	LayerCrime      Layer = "crime"
	LayerLighting   Layer = "lighting"
	LayerPopulation Layer = "population"
)

// RiskSample is one row of a risk dataset. Which value fields are meaningful
// depends on the layer: crime rows carry only a location, lighting rows carry
// a 0-10 score in Value, population rows carry density in Value plus Traffic
// and the MainRoad flag.
type RiskSample struct {
	Location GeoPoint `json:"location"`
	Value    float64  `json:"value"`
	Traffic  float64  `json:"traffic,omitempty"`
	MainRoad float64  `json:"main_road,omitempty"`
}

// Layers lists every risk layer in load order.
var Layers = []Layer{LayerCrime, LayerLighting, LayerPopulation}

// Valid reports whether l names a known layer.
func (l Layer) Valid() bool {
	switch l {
	case LayerCrime, LayerLighting, LayerPopulation:
		return true
	}
	return false
}
