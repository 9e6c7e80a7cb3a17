// Package ranking deduplicates scored candidate routes, orders them by a
// preference-weighted composite score, and labels the finalists.
package ranking

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"github.com/safespace/saferoute/internal/model"
)

// DefaultTopN is the number of finalists returned.
const DefaultTopN = 7

// Distance beyond which the distance term of the composite is zero.
const distanceHorizonKm = 30.0

// preferenceBonus is the composite bonus of one fully satisfied preference.
const preferenceBonus = 0.15

// Scored is a candidate with its safety profile.
type Scored struct {
	Route   model.CandidateRoute
	Profile model.SafetyProfile
}

// Options tunes Rank.
type Options struct {
	// TopN caps the finalists. It is clamped to the number of distinct
	// categories so labels stay unique.
	TopN int
	// Bonus returns an extra composite term for a fingerprint, e.g. for
	// routes the caller rated highly before. Nil means none.
	Bonus func(fingerprint string) float64
}

// Dedupe keeps the first candidate per fingerprint. Candidates without a
// fingerprint are dropped. When maxWaypoint is positive, at most that many
// distinct waypoint routes are kept; duplicates do not count toward it.
func Dedupe(routes []model.CandidateRoute, maxWaypoint int) []model.CandidateRoute {
	seen := make(map[string]struct{}, len(routes))
	out := make([]model.CandidateRoute, 0, len(routes))
	waypoints := 0
	for _, r := range routes {
		if r.Fingerprint == "" {
			continue
		}
		if _, dup := seen[r.Fingerprint]; dup {
			continue
		}
		if r.Type == model.RouteTypeWaypoint {
			if maxWaypoint > 0 && waypoints >= maxWaypoint {
				continue
			}
			waypoints++
		}
		seen[r.Fingerprint] = struct{}{}
		out = append(out, r)
	}
	return out
}

// Composite blends safety, distance, and preference terms:
//
//	safety/100 * (1 - crimePenalty*0.5) * safetyWeight
//	+ max(0, 1 - distance/30) * distanceWeight
//	+ 0.15 * metric/max for each active preference
//
// where crimePenalty = min(1, (crimeDensity*0.3 + maxCrime*0.7) / 20).
func Composite(p model.SafetyProfile, distanceKm float64, prefs model.Preferences) float64 {
	crimePenalty := math.Min(1, (p.CrimeDensity*0.3+p.MaxCrimeExposure*0.7)/20)
	safety := p.SafetyScore / 100 * (1 - crimePenalty*0.5)
	distance := math.Max(0, 1-distanceKm/distanceHorizonKm)

	var bonus float64
	if prefs.PreferMainRoads {
		bonus += p.MainRoadPct / 100 * preferenceBonus
	}
	if prefs.PreferWellLit {
		bonus += p.LightingScore / 10 * preferenceBonus
	}
	if prefs.PreferPopulated {
		bonus += p.PopulationScore / 10 * preferenceBonus
	}
	return safety*prefs.SafetyWeight + distance*prefs.DistanceWeight + bonus
}

// Rank scores, sorts (stable, descending), truncates, and labels routes.
// Fingerprints are assumed unique; see Dedupe.
func Rank(scored []Scored, prefs model.Preferences, opts Options) []model.RankedRoute {
	topN := opts.TopN
	if topN <= 0 {
		topN = DefaultTopN
	}
	topN = min(topN, len(categoryOrder))

	ranked := make([]model.RankedRoute, len(scored))
	for i, s := range scored {
		score := Composite(s.Profile, s.Route.DistanceKm, prefs)
		if opts.Bonus != nil {
			score += opts.Bonus(s.Route.Fingerprint)
		}
		ranked[i] = model.RankedRoute{
			CandidateRoute: s.Route,
			SafetyProfile:  s.Profile,
			CompositeScore: score,
		}
	}

	slices.SortStableFunc(ranked, func(a, b model.RankedRoute) int {
		return cmp.Compare(b.CompositeScore, a.CompositeScore)
	})
	if len(ranked) > topN {
		ranked = ranked[:topN]
	}

	Categorize(ranked)
	for i := range ranked {
		r := &ranked[i]
		r.Rank = i + 1
		r.IsRecommended = i == 0
		r.CompositeScore = math.Round(r.CompositeScore*1e4) / 1e4
		r.Reasons = Reasons(r.SafetyProfile)
		r.WarningLevel, r.Warning = Warning(r.SafetyProfile)
		r.DistanceDisplay = fmt.Sprintf("%.2f km", r.DistanceKm)
		r.DurationDisplay = fmt.Sprintf("%d min", int(r.DurationMin))
		r.SafetyDisplay = fmt.Sprintf("%.0f/100", r.SafetyScore)
	}
	return ranked
}
