package ranking

import (
	"fmt"

	"github.com/safespace/saferoute/internal/model"
)

type categoryInfo struct {
	emoji       string
	description string
}

var categories = map[model.Category]categoryInfo{
	model.CategoryBest:        {"⭐", "Best match for your preferences"},
	model.CategorySafest:      {"🛡️", "Safest route (avoids crime hotspots)"},
	model.CategoryFastest:     {"⚡", "Shortest distance"},
	model.CategoryMainRoads:   {"🛣️", "Uses main roads"},
	model.CategoryBalanced:    {"⚖️", "Well-balanced option"},
	model.CategoryLowCrime:    {"🔒", "Low crime exposure"},
	model.CategoryShort:       {"⏱️", "Short alternative"},
	model.CategoryMajorRoads:  {"🚗", "Mostly major roads"},
	model.CategoryAlternative: {"🔀", "Alternative route"},
}

// categoryOrder is the fallback order once every rule-based label is taken.
var categoryOrder = []model.Category{
	model.CategoryBest,
	model.CategorySafest,
	model.CategoryFastest,
	model.CategoryMainRoads,
	model.CategoryBalanced,
	model.CategoryLowCrime,
	model.CategoryShort,
	model.CategoryMajorRoads,
	model.CategoryAlternative,
}

type rule struct {
	category model.Category
	match    func(r *model.RankedRoute, minDistance float64) bool
}

// Primary rules are tried first, then the secondary ones; the first rule
// that matches and whose label is still free wins.
var (
	primaryRules = []rule{
		{model.CategorySafest, func(r *model.RankedRoute, _ float64) bool {
			return r.CrimeDensity <= 1.5 && r.MaxCrimeExposure <= 3
		}},
		{model.CategoryFastest, func(r *model.RankedRoute, minDist float64) bool {
			return r.DistanceKm <= minDist*1.05
		}},
		{model.CategoryMainRoads, func(r *model.RankedRoute, _ float64) bool {
			return r.MainRoadPct >= 70
		}},
		{model.CategoryBalanced, func(*model.RankedRoute, float64) bool { return true }},
	}
	secondaryRules = []rule{
		{model.CategoryLowCrime, func(r *model.RankedRoute, _ float64) bool {
			return r.CrimeDensity <= 3 && r.MaxCrimeExposure <= 5
		}},
		{model.CategoryShort, func(r *model.RankedRoute, minDist float64) bool {
			return r.DistanceKm <= minDist*1.15
		}},
		{model.CategoryMajorRoads, func(r *model.RankedRoute, _ float64) bool {
			return r.MainRoadPct >= 50
		}},
		{model.CategoryAlternative, func(*model.RankedRoute, float64) bool { return true }},
	}
)

// Categorize labels routes in rank order. The first route is "best"; the
// rest take the first free label whose rule matches. No label repeats as
// long as there are no more routes than labels.
func Categorize(routes []model.RankedRoute) {
	if len(routes) == 0 {
		return
	}
	minDist := routes[0].DistanceKm
	for _, r := range routes[1:] {
		minDist = min(minDist, r.DistanceKm)
	}

	used := make(map[model.Category]bool, len(categoryOrder))
	for i := range routes {
		r := &routes[i]
		c := pickCategory(r, i, minDist, used)
		used[c] = true
		info := categories[c]
		r.Category, r.Emoji, r.Description = c, info.emoji, info.description
	}
}

func pickCategory(r *model.RankedRoute, idx int, minDist float64, used map[model.Category]bool) model.Category {
	if idx == 0 {
		return model.CategoryBest
	}
	for _, rules := range [][]rule{primaryRules, secondaryRules} {
		for _, ru := range rules {
			if !used[ru.category] && ru.match(r, minDist) {
				return ru.category
			}
		}
	}
	for _, c := range categoryOrder {
		if !used[c] {
			return c
		}
	}
	return model.CategoryAlternative
}

// Reasons lists every matching highlight for a profile.
func Reasons(p model.SafetyProfile) []string {
	reasons := make([]string, 0, 5)

	switch {
	case p.CrimeDensity <= 1:
		reasons = append(reasons, "Very low crime area")
	case p.CrimeDensity <= 2:
		reasons = append(reasons, "Low crime density")
	case p.CrimeDensity > 4:
		reasons = append(reasons, fmt.Sprintf("⚠️ Crime density: %.1f", p.CrimeDensity))
	}

	switch {
	case p.MaxCrimeExposure <= 2:
		reasons = append(reasons, "No crime hotspots")
	case p.MaxCrimeExposure <= 5:
		reasons = append(reasons, "Minimal crime exposure")
	default:
		reasons = append(reasons, fmt.Sprintf("⚠️ Max crime exposure: %.0f", p.MaxCrimeExposure))
	}

	if p.MainRoadPct > 70 {
		reasons = append(reasons, fmt.Sprintf("%.0f%% main roads", p.MainRoadPct))
	}
	if p.LightingScore > 7.5 {
		reasons = append(reasons, "Well-lit area")
	}
	if p.PopulationScore > 6 {
		reasons = append(reasons, "Populated area")
	}
	return reasons
}

// Warning grades crime exposure. The message is nil when there is nothing
// to warn about.
func Warning(p model.SafetyProfile) (model.WarningLevel, *string) {
	var level model.WarningLevel
	var msg string
	switch {
	case p.MaxCrimeExposure > 8 || p.CrimeDensity > 5:
		level, msg = model.WarningHigh, "⚠️ High crime exposure"
	case p.MaxCrimeExposure > 5 || p.CrimeDensity > 3:
		level, msg = model.WarningModerate, "⚠️ Moderate crime exposure"
	default:
		return model.WarningNone, nil
	}
	return level, &msg
}
