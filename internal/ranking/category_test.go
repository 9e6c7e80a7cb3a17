package ranking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safespace/saferoute/internal/model"
)

func assertUniqueCategories(t *testing.T, routes []model.RankedRoute) {
	t.Helper()
	seen := map[model.Category]int{}
	for i, r := range routes {
		if prev, dup := seen[r.Category]; dup {
			t.Errorf("routes %d and %d share category %q", prev, i, r.Category)
		}
		seen[r.Category] = i
		assert.NotEmpty(t, r.Emoji)
		assert.NotEmpty(t, r.Description)
	}
}

func ranked(dist float64, p model.SafetyProfile) model.RankedRoute {
	return model.RankedRoute{
		CandidateRoute: model.CandidateRoute{DistanceKm: dist},
		SafetyProfile:  p,
	}
}

func TestCategorize_PrimaryRules(t *testing.T) {
	routes := []model.RankedRoute{
		ranked(8, model.SafetyProfile{CrimeDensity: 0.5, MaxCrimeExposure: 1}),
		ranked(9, model.SafetyProfile{CrimeDensity: 1.0, MaxCrimeExposure: 3}),
		ranked(6, model.SafetyProfile{CrimeDensity: 4, MaxCrimeExposure: 6}),
		ranked(10, model.SafetyProfile{CrimeDensity: 4, MaxCrimeExposure: 6, MainRoadPct: 85}),
		ranked(11, model.SafetyProfile{CrimeDensity: 4, MaxCrimeExposure: 6}),
	}
	Categorize(routes)

	assert.Equal(t, model.CategoryBest, routes[0].Category, "rank one is best even when safest")
	assert.Equal(t, model.CategorySafest, routes[1].Category)
	assert.Equal(t, model.CategoryFastest, routes[2].Category)
	assert.Equal(t, model.CategoryMainRoads, routes[3].Category)
	assert.Equal(t, model.CategoryBalanced, routes[4].Category)
	assert.Equal(t, "🛡️", routes[1].Emoji)
}

func TestCategorize_UniqueWhenRulesCollide(t *testing.T) {
	// Seven equally safe, equally short routes all match "safest" and
	// "fastest"; labels must still be distinct.
	p := model.SafetyProfile{CrimeDensity: 0.2, MaxCrimeExposure: 1, MainRoadPct: 90}
	routes := make([]model.RankedRoute, 7)
	for i := range routes {
		routes[i] = ranked(5, p)
	}
	Categorize(routes)
	assertUniqueCategories(t, routes)

	assert.Equal(t, model.CategorySafest, routes[1].Category)
	assert.Equal(t, model.CategoryFastest, routes[2].Category)
	assert.Equal(t, model.CategoryMainRoads, routes[3].Category)
	assert.Equal(t, model.CategoryBalanced, routes[4].Category)
	assert.Equal(t, model.CategoryLowCrime, routes[5].Category)
	assert.Equal(t, model.CategoryShort, routes[6].Category)
}

func TestCategorize_FallbackOrder(t *testing.T) {
	bad := model.SafetyProfile{CrimeDensity: 9, MaxCrimeExposure: 12}
	routes := []model.RankedRoute{ranked(5, bad)}
	for i := range 8 {
		routes = append(routes, ranked(20+float64(i), bad))
	}
	Categorize(routes)
	assertUniqueCategories(t, routes)
	assert.Equal(t, model.CategoryBalanced, routes[1].Category)
	assert.Equal(t, model.CategoryAlternative, routes[2].Category)
}

func TestCategorize_Empty(t *testing.T) {
	require.NotPanics(t, func() { Categorize(nil) })
}

func TestReasons(t *testing.T) {
	tests := []struct {
		name string
		p    model.SafetyProfile
		want []string
	}{
		{
			name: "clean and well served",
			p:    model.SafetyProfile{CrimeDensity: 0.5, MaxCrimeExposure: 1, MainRoadPct: 82, LightingScore: 8, PopulationScore: 7},
			want: []string{"Very low crime area", "No crime hotspots", "82% main roads", "Well-lit area", "Populated area"},
		},
		{
			name: "low density minimal exposure",
			p:    model.SafetyProfile{CrimeDensity: 1.8, MaxCrimeExposure: 4},
			want: []string{"Low crime density", "Minimal crime exposure"},
		},
		{
			name: "middle density has no density reason",
			p:    model.SafetyProfile{CrimeDensity: 3, MaxCrimeExposure: 2},
			want: []string{"No crime hotspots"},
		},
		{
			name: "dangerous",
			p:    model.SafetyProfile{CrimeDensity: 4.26, MaxCrimeExposure: 11, MainRoadPct: 70, LightingScore: 7.5, PopulationScore: 6},
			want: []string{"⚠️ Crime density: 4.3", "⚠️ Max crime exposure: 11"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Reasons(tt.p))
		})
	}
}

func TestWarning(t *testing.T) {
	tests := []struct {
		p     model.SafetyProfile
		level model.WarningLevel
		msg   string
	}{
		{model.SafetyProfile{MaxCrimeExposure: 9}, model.WarningHigh, "⚠️ High crime exposure"},
		{model.SafetyProfile{CrimeDensity: 5.1}, model.WarningHigh, "⚠️ High crime exposure"},
		{model.SafetyProfile{MaxCrimeExposure: 6}, model.WarningModerate, "⚠️ Moderate crime exposure"},
		{model.SafetyProfile{CrimeDensity: 3.5}, model.WarningModerate, "⚠️ Moderate crime exposure"},
		{model.SafetyProfile{MaxCrimeExposure: 5, CrimeDensity: 3}, model.WarningNone, ""},
	}
	for _, tt := range tests {
		level, msg := Warning(tt.p)
		assert.Equal(t, tt.level, level)
		if tt.msg == "" {
			assert.Nil(t, msg)
			continue
		}
		require.NotNil(t, msg)
		assert.Equal(t, tt.msg, *msg)
	}
}
