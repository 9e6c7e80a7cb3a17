// Package explore generates detour waypoints around the direct line between
// two points.
package explore

import (
	"math"

	"github.com/safespace/saferoute/internal/geo"
	"github.com/safespace/saferoute/internal/model"
)

// Defaults for Options.
const (
	DefaultMaxWaypoints = 25
	DefaultDetourRatio  = 1.8
)

var (
	// Positions are fractions along the start->end line.
	Positions = []float64{0.25, 0.5, 0.75}
	// OffsetsKm are perpendicular offset magnitudes.
	OffsetsKm = []float64{0.5, 1.2, 2.5}
	// Directions select the side of the line.
	Directions = []float64{1, -1}
)

// Options bounds the generated set.
type Options struct {
	Bounds         model.BBox
	MaxWaypoints   int
	MaxDetourRatio float64
}

// Waypoint is an accepted detour point.
type Waypoint struct {
	Point       model.GeoPoint
	Position    float64
	OffsetKm    float64
	Direction   float64
	DetourRatio float64
}

// Generate returns detour waypoints in position, offset, direction order.
// Points outside opts.Bounds or with a detour ratio above
// opts.MaxDetourRatio are skipped. When start and end coincide no
// perpendicular exists and nothing is returned. Zero options use the
// defaults and the Bangalore service area.
func Generate(start, end model.GeoPoint, opts Options) []Waypoint {
	if opts.Bounds == (model.BBox{}) {
		opts.Bounds = model.BangaloreBounds
	}
	if opts.MaxWaypoints <= 0 {
		opts.MaxWaypoints = DefaultMaxWaypoints
	}
	if opts.MaxDetourRatio <= 0 {
		opts.MaxDetourRatio = DefaultDetourRatio
	}

	dLat := end.Lat - start.Lat
	dLon := end.Lon - start.Lon
	perpLat, perpLon := -dLon, dLat
	if mag := math.Hypot(perpLat, perpLon); mag > 0 {
		perpLat /= mag
		perpLon /= mag
	}

	out := make([]Waypoint, 0, len(Positions)*len(OffsetsKm)*len(Directions))
	for _, pos := range Positions {
		mid := model.GeoPoint{Lat: start.Lat + dLat*pos, Lon: start.Lon + dLon*pos}
		for _, km := range OffsetsKm {
			off := km / geo.KmPerDegree
			for _, dir := range Directions {
				if len(out) >= opts.MaxWaypoints {
					return out
				}
				wp := model.GeoPoint{
					Lat: mid.Lat + perpLat*off*dir,
					Lon: mid.Lon + perpLon*off*dir,
				}
				if !opts.Bounds.Contains(wp) {
					continue
				}
				ratio := geo.DetourRatio(start, wp, end)
				if ratio > opts.MaxDetourRatio {
					continue
				}
				out = append(out, Waypoint{
					Point:       wp,
					Position:    pos,
					OffsetKm:    km,
					Direction:   dir,
					DetourRatio: ratio,
				})
			}
		}
	}
	return out
}
