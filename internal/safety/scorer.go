// Package safety turns a route geometry into a SafetyProfile by sampling it
// against the risk index.
package safety

import (
	"math"

	"github.com/safespace/saferoute/internal/model"
	"github.com/safespace/saferoute/internal/riskindex"
)

// MaxSamples bounds how many geometry points are looked up per route.
const MaxSamples = 50

// HotspotThreshold is the crime count above which a sample is a hotspot.
const HotspotThreshold = 3

// Penalty caps. Together they can exceed 100; base safety clamps at 0.
const (
	maxBaseCrimePenalty = 40.0
	maxPeakCrimePenalty = 40.0
	maxHotspotPenalty   = 30.0
)

// RiskLookup is the subset of the risk index the scorer queries.
type RiskLookup interface {
	CrimeExposure(p model.GeoPoint, radius float64) riskindex.Measurement
	LightingScore(p model.GeoPoint, radius float64) riskindex.Measurement
	PopulationProfile(p model.GeoPoint, radius float64) riskindex.PopulationMeasurement
}

// Scorer computes safety profiles. It holds no mutable state.
type Scorer struct {
	risk RiskLookup
}

// NewScorer returns a scorer backed by risk.
func NewScorer(risk RiskLookup) *Scorer {
	return &Scorer{risk: risk}
}

// Sample downsamples a geometry with stride max(1, len/MaxSamples), keeping
// the first point. Up to 2*MaxSamples-1 points may survive.
func Sample(path model.Path) model.Path {
	stride := max(1, len(path)/MaxSamples)
	if stride == 1 {
		return path
	}
	out := make(model.Path, 0, (len(path)+stride-1)/stride)
	for i := 0; i < len(path); i += stride {
		out = append(out, path[i])
	}
	return out
}

type totals struct {
	crime, lighting, population, traffic float64
	maxCrime                             float64
	hotspots, mainRoads, defaulted       int
}

// Score returns the profile of path under prefs. An empty path is scored as
// a single sample with every layer at its neutral default.
func (s *Scorer) Score(path model.Path, prefs model.Preferences) model.SafetyProfile {
	samples := Sample(path)

	var t totals
	n := len(samples)
	if n == 0 {
		n = 1
		t.lighting = riskindex.DefaultLighting
		t.population = riskindex.DefaultPopulation
		t.traffic = riskindex.DefaultTraffic
		t.defaulted = 1
	}
	for _, p := range samples {
		s.accumulate(&t, p)
	}

	fn := float64(n)
	avgCrime := t.crime / fn
	avgLighting := t.lighting / fn
	avgPopulation := t.population / fn
	avgTraffic := t.traffic / fn
	mainRoadPct := float64(t.mainRoads) / fn * 100
	hotspotPct := float64(t.hotspots) / fn * 100

	base := BaseSafety(avgCrime, t.maxCrime, hotspotPct)
	mult := Multiplier(avgLighting, avgPopulation, avgTraffic, mainRoadPct, prefs)
	final := math.Max(0, math.Min(100, base*mult))

	return model.SafetyProfile{
		SafetyScore:       round2(final),
		CrimeDensity:      round2(avgCrime),
		MaxCrimeExposure:  round2(t.maxCrime),
		CrimeHotspotPct:   round2(hotspotPct),
		LightingScore:     round2(avgLighting),
		PopulationScore:   round2(avgPopulation),
		TrafficScore:      round2(avgTraffic),
		MainRoadPct:       round2(mainRoadPct),
		CrimeDensityScore: round2(100 - math.Min(100, avgCrime*10)),
		SampledPoints:     len(samples),
		DefaultedSamples:  t.defaulted,
	}
}

func (s *Scorer) accumulate(t *totals, p model.GeoPoint) {
	crime := s.risk.CrimeExposure(p, riskindex.CrimeRadius)
	light := s.risk.LightingScore(p, riskindex.LightingRadius)
	pop := s.risk.PopulationProfile(p, riskindex.PopulationRadius)

	t.crime += crime.Value
	t.maxCrime = math.Max(t.maxCrime, crime.Value)
	if crime.Value > HotspotThreshold {
		t.hotspots++
	}
	t.lighting += light.Value
	t.population += pop.Population
	t.traffic += pop.Traffic
	if pop.MainRoad {
		t.mainRoads++
	}
	if light.Defaulted() && pop.Defaulted() {
		t.defaulted++
	}
}

// BaseSafety is 100 minus the three crime penalties, floored at 0.
func BaseSafety(avgCrime, maxCrime, hotspotPct float64) float64 {
	penalty := math.Min(maxBaseCrimePenalty, math.Pow(avgCrime, 1.2)*5) +
		math.Min(maxPeakCrimePenalty, math.Pow(maxCrime, 1.4)*7) +
		math.Min(maxHotspotPenalty, hotspotPct*0.5)
	return math.Max(0, 100-penalty)
}

// Multiplier is the mean of the lighting, population, traffic, and main-road
// multipliers. Each is at least 1 and grows with its metric, faster when the
// matching preference is set.
func Multiplier(avgLighting, avgPopulation, avgTraffic, mainRoadPct float64, prefs model.Preferences) float64 {
	lighting := 1 + avgLighting/10*pick(prefs.PreferWellLit, 2.5, 0.8)
	population := 1 + avgPopulation/10*pick(prefs.PreferPopulated, 2.0, 0.6)
	traffic := 1 + avgTraffic/10*pick(prefs.PreferPopulated, 1.5, 0.4)
	mainRoad := 1 + mainRoadPct/100*pick(prefs.PreferMainRoads, 2.5, 0.7)
	return (lighting + population + traffic + mainRoad) / 4
}

func pick(flag bool, on, off float64) float64 {
	if flag {
		return on
	}
	return off
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
