package safety

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safespace/saferoute/internal/model"
	"github.com/safespace/saferoute/internal/riskindex"
)

// stubRisk returns fixed values for every point.
type stubRisk struct {
	crime    float64
	lighting float64
	pop      riskindex.PopulationMeasurement
	calls    int
}

func (s *stubRisk) CrimeExposure(model.GeoPoint, float64) riskindex.Measurement {
	s.calls++
	return riskindex.Measurement{Value: s.crime, Status: riskindex.Measured}
}

func (s *stubRisk) LightingScore(model.GeoPoint, float64) riskindex.Measurement {
	return riskindex.Measurement{Value: s.lighting, Status: riskindex.Measured}
}

func (s *stubRisk) PopulationProfile(model.GeoPoint, float64) riskindex.PopulationMeasurement {
	return s.pop
}

func straight(n int) model.Path {
	p := make(model.Path, n)
	for i := range p {
		p[i] = model.GeoPoint{Lat: 12.95 + float64(i)*0.0002, Lon: 77.60 + float64(i)*0.0002}
	}
	return p
}

func TestSample(t *testing.T) {
	assert.Len(t, Sample(straight(10)), 10)
	assert.Len(t, Sample(straight(50)), 50)
	assert.Len(t, Sample(straight(99)), 99, "stride stays 1 below 100 points")
	assert.Len(t, Sample(straight(100)), 50)
	assert.Len(t, Sample(straight(149)), 75)
	assert.Empty(t, Sample(nil))

	p := straight(200)
	s := Sample(p)
	assert.Equal(t, p[0], s[0])
	assert.Equal(t, p[4], s[1])
}

func TestScore_SafeWellLitZone(t *testing.T) {
	var lights []model.RiskSample
	for i := range 40 {
		lights = append(lights, model.RiskSample{
			Location: model.GeoPoint{Lat: 12.95 + float64(i)*0.001, Lon: 77.60 + float64(i)*0.001},
			Value:    10,
		})
	}
	s := NewScorer(riskindex.New(nil, lights, nil))

	prof := s.Score(straight(120), model.DefaultPreferences())
	assert.InDelta(t, 100.0, prof.SafetyScore, 0)
	assert.Zero(t, prof.CrimeDensity)
	assert.Zero(t, prof.MaxCrimeExposure)
	assert.InDelta(t, 10.0, prof.LightingScore, 0)
	assert.InDelta(t, 100.0, prof.CrimeDensityScore, 0)
	assert.Equal(t, 60, prof.SampledPoints)
}

func TestScore_SaturatedCrime(t *testing.T) {
	s := NewScorer(&stubRisk{crime: 10, lighting: 10, pop: riskindex.PopulationMeasurement{Population: 10, Traffic: 10, MainRoad: true}})

	prof := s.Score(straight(30), model.Preferences{PreferMainRoads: true, PreferWellLit: true, PreferPopulated: true})
	assert.Zero(t, prof.SafetyScore)
	assert.InDelta(t, 10.0, prof.CrimeDensity, 0)
	assert.InDelta(t, 10.0, prof.MaxCrimeExposure, 0)
	assert.InDelta(t, 100.0, prof.CrimeHotspotPct, 0)
	assert.Zero(t, prof.CrimeDensityScore)
}

func TestBaseSafety(t *testing.T) {
	assert.InDelta(t, 100.0, BaseSafety(0, 0, 0), 0)
	assert.InDelta(t, 0.0, BaseSafety(10, 10, 100), 0)

	// avg 1 -> 5, max 2 -> 2^1.4*7, hotspot 10% -> 5
	want := 100 - 5 - math.Pow(2, 1.4)*7 - 5
	assert.InDelta(t, want, BaseSafety(1, 2, 10), 1e-9)
}

func TestMultiplier(t *testing.T) {
	neutral := Multiplier(5, 5, 5, 0, model.DefaultPreferences())
	assert.InDelta(t, (1.4+1.3+1.2+1.0)/4, neutral, 1e-12)

	lit := Multiplier(5, 5, 5, 0, model.Preferences{PreferWellLit: true})
	assert.InDelta(t, (2.25+1.3+1.2+1.0)/4, lit, 1e-12)

	populated := Multiplier(5, 5, 5, 0, model.Preferences{PreferPopulated: true})
	assert.InDelta(t, (1.4+2.0+1.75+1.0)/4, populated, 1e-12)

	main := Multiplier(0, 0, 0, 100, model.Preferences{PreferMainRoads: true})
	assert.InDelta(t, (1+1+1+3.5)/4, main, 1e-12)
}

func TestScore_Deterministic(t *testing.T) {
	var crimes []model.RiskSample
	for i := range 30 {
		crimes = append(crimes, model.RiskSample{Location: model.GeoPoint{Lat: 12.95 + float64(i%7)*0.003, Lon: 77.60 + float64(i%5)*0.004}})
	}
	s := NewScorer(riskindex.New(crimes, nil, nil))
	p := straight(300)

	first := s.Score(p, model.DefaultPreferences())
	for range 5 {
		assert.Equal(t, first, s.Score(p, model.DefaultPreferences()))
	}
}

func TestScore_Degenerate(t *testing.T) {
	s := NewScorer(riskindex.Empty())

	for _, p := range []model.Path{nil, {{Lat: 12.97, Lon: 77.59}}} {
		prof := s.Score(p, model.DefaultPreferences())
		assert.GreaterOrEqual(t, prof.SafetyScore, 0.0)
		assert.LessOrEqual(t, prof.SafetyScore, 100.0)
		assert.Equal(t, 1, prof.DefaultedSamples)
	}
	assert.Zero(t, s.Score(nil, model.DefaultPreferences()).SampledPoints)
}

func TestScore_BoundsWithHostileData(t *testing.T) {
	s := NewScorer(&stubRisk{crime: 0, lighting: -500, pop: riskindex.PopulationMeasurement{Population: -50, Traffic: -50}})
	prof := s.Score(straight(10), model.DefaultPreferences())
	assert.GreaterOrEqual(t, prof.SafetyScore, 0.0)
	assert.LessOrEqual(t, prof.SafetyScore, 100.0)
}

func TestScore_UsesSampledPointsOnly(t *testing.T) {
	stub := &stubRisk{lighting: 5, pop: riskindex.PopulationMeasurement{Population: 5, Traffic: 5}}
	s := NewScorer(stub)
	prof := s.Score(straight(1000), model.DefaultPreferences())
	require.Equal(t, 50, prof.SampledPoints)
	assert.Equal(t, 50, stub.calls)
}

func TestScore_PreferenceRaisesScore(t *testing.T) {
	stub := &stubRisk{crime: 2, lighting: 9, pop: riskindex.PopulationMeasurement{Population: 3, Traffic: 3}}
	s := NewScorer(stub)
	p := straight(20)
	plain := s.Score(p, model.DefaultPreferences())
	lit := s.Score(p, model.Preferences{PreferWellLit: true})
	assert.Greater(t, lit.SafetyScore, plain.SafetyScore)
}
