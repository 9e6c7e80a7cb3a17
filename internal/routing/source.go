// Package routing turns routing engine responses into candidate routes.
package routing

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/safespace/saferoute/internal/geo"
	"github.com/safespace/saferoute/internal/model"
	"github.com/safespace/saferoute/pkg/osrm"
)

// DefaultEndpointToleranceKm is how far a route may start or end from the
// requested endpoints before it is rejected.
const DefaultEndpointToleranceKm = 0.2

// Source fetches candidate routes from the routing engine. Engine failures
// are logged and reported as no routes.
type Source struct {
	engine      osrm.Client
	toleranceKm float64
}

// NewSource creates a Source. A non-positive tolerance uses the default.
func NewSource(engine osrm.Client, toleranceKm float64) *Source {
	if toleranceKm <= 0 {
		toleranceKm = DefaultEndpointToleranceKm
	}
	return &Source{engine: engine, toleranceKm: toleranceKm}
}

// Routes returns the engine's alternatives from start to end, through via
// when it is non-nil. Candidates carry geometry, distance, duration, steps,
// fingerprint, and type; Source labels are left to the caller.
func (s *Source) Routes(ctx context.Context, start, end model.GeoPoint, via *model.GeoPoint) []model.CandidateRoute {
	points := []osrm.Point{{Lat: start.Lat, Lon: start.Lon}}
	if via != nil {
		points = append(points, osrm.Point{Lat: via.Lat, Lon: via.Lon})
	}
	points = append(points, osrm.Point{Lat: end.Lat, Lon: end.Lon})

	routes, err := s.engine.Route(ctx, points)
	if err != nil {
		zap.L().Warn("routing: engine call failed",
			zap.Bool("waypoint", via != nil),
			zap.Error(err),
		)
		return nil
	}

	out := make([]model.CandidateRoute, 0, len(routes))
	for i, r := range routes {
		c, ok := s.candidate(r, start, end)
		if !ok {
			zap.L().Debug("routing: rejected engine route", zap.Int("index", i))
			continue
		}
		if via != nil {
			wp := *via
			c.Waypoint = &wp
			c.Type = model.RouteTypeWaypoint
		} else {
			c.Type = model.RouteTypeDirect
		}
		out = append(out, c)
	}
	return out
}

func (s *Source) candidate(r osrm.Route, start, end model.GeoPoint) (model.CandidateRoute, bool) {
	if r.Geometry == nil || r.Geometry.NumCoords() < 2 {
		return model.CandidateRoute{}, false
	}

	path := make(model.Path, r.Geometry.NumCoords())
	for i := range path {
		c := r.Geometry.Coord(i)
		path[i] = model.GeoPoint{Lat: c.Y(), Lon: c.X()}
	}

	if geo.HaversineKm(start, path[0]) > s.toleranceKm ||
		geo.HaversineKm(end, path[len(path)-1]) > s.toleranceKm {
		return model.CandidateRoute{}, false
	}

	return model.CandidateRoute{
		Geometry:    path,
		DistanceKm:  r.Distance / 1000,
		DurationMin: r.Duration / 60,
		Steps:       Steps(r.Legs),
		Fingerprint: geo.Fingerprint(path),
	}, true
}

// Steps flattens the legs into numbered maneuvers.
func Steps(legs []osrm.Leg) []model.Step {
	steps := make([]model.Step, 0)
	n := 1
	for _, leg := range legs {
		for _, st := range leg.Steps {
			instruction := st.Maneuver.Instruction
			if instruction == "" {
				instruction = st.Name
			}
			if instruction == "" {
				instruction = "Continue"
			}
			steps = append(steps, model.Step{
				Number:       n,
				Instruction:  instruction,
				Distance:     math.Round(st.Distance*10) / 10,
				DistanceText: DistanceText(st.Distance),
			})
			n++
		}
	}
	return steps
}

// DistanceText renders meters as "350m" or "1.2km".
func DistanceText(meters float64) string {
	if meters < 1000 {
		return fmt.Sprintf("%.0fm", meters)
	}
	return fmt.Sprintf("%.1fkm", meters/1000)
}
