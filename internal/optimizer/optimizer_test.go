package optimizer

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safespace/saferoute/internal/explore"
	"github.com/safespace/saferoute/internal/geo"
	"github.com/safespace/saferoute/internal/model"
	"github.com/safespace/saferoute/internal/resilience"
	"github.com/safespace/saferoute/internal/riskindex"
	"github.com/safespace/saferoute/internal/routing"
	"github.com/safespace/saferoute/internal/safety"
	"github.com/safespace/saferoute/pkg/osrm"
)

var (
	mgRoad      = model.GeoPoint{Lat: 12.9716, Lon: 77.5946}
	koramangala = model.GeoPoint{Lat: 12.9279, Lon: 77.6271}
)

// fakeSource answers every call through fn and counts calls.
type fakeSource struct {
	calls atomic.Int32
	fn    func(ctx context.Context, via *model.GeoPoint) []model.CandidateRoute
}

func (f *fakeSource) Routes(ctx context.Context, start, end model.GeoPoint, via *model.GeoPoint) []model.CandidateRoute {
	f.calls.Add(1)
	return f.fn(ctx, via)
}

func candidate(start, end model.GeoPoint, via *model.GeoPoint, distKm float64) model.CandidateRoute {
	path := model.Path{start, end}
	typ := model.RouteTypeDirect
	if via != nil {
		path = model.Path{start, *via, end}
		typ = model.RouteTypeWaypoint
	}
	return model.CandidateRoute{
		Geometry:    path,
		DistanceKm:  distKm,
		DurationMin: distKm * 3,
		Steps:       []model.Step{},
		Fingerprint: geo.Fingerprint(path),
		Type:        typ,
		Waypoint:    via,
	}
}

// everyCall returns one route per call: direct is shortest, detours longer.
func everyCall(ctx context.Context, via *model.GeoPoint) []model.CandidateRoute {
	if via == nil {
		return []model.CandidateRoute{candidate(mgRoad, koramangala, nil, 6)}
	}
	return []model.CandidateRoute{candidate(mgRoad, koramangala, via, 8)}
}

func newOptimizer(src RouteSource, cfg Config, opts ...Option) *Optimizer {
	return New(src, safety.NewScorer(riskindex.Empty()), cfg, opts...)
}

func TestOptimize_Success(t *testing.T) {
	src := &fakeSource{fn: everyCall}
	o := newOptimizer(src, Config{})

	resp, err := o.Optimize(context.Background(), Request{Start: mgRoad, End: koramangala, Preferences: model.DefaultPreferences()})
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.NotEmpty(t, resp.Routes)

	wps := explore.Generate(mgRoad, koramangala, explore.Options{})
	assert.Equal(t, int32(1+len(wps)), src.calls.Load())
	assert.Equal(t, 1+len(wps), resp.TotalAnalyzed)
	assert.Len(t, resp.Routes, 7)
	assert.Equal(t, "Found 7 optimized routes", resp.Message)

	first := resp.Routes[0]
	assert.Equal(t, model.CategoryBest, first.Category)
	assert.Equal(t, 1, first.Rank)
	assert.True(t, first.IsRecommended)
	assert.Equal(t, "direct_1", first.Source, "shortest route wins when safety is equal")

	seen := map[string]bool{}
	for i, r := range resp.Routes {
		assert.False(t, seen[r.Fingerprint], "duplicate fingerprint at %d", i)
		seen[r.Fingerprint] = true
		assert.GreaterOrEqual(t, r.SafetyScore, 0.0)
		assert.LessOrEqual(t, r.SafetyScore, 100.0)
	}
}

func TestOptimize_OutOfBoundsMakesNoCalls(t *testing.T) {
	src := &fakeSource{fn: everyCall}
	o := newOptimizer(src, Config{})

	_, err := o.Optimize(context.Background(), Request{
		Start:       model.GeoPoint{Lat: 0, Lon: 0},
		End:         koramangala,
		Preferences: model.DefaultPreferences(),
	})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrOutOfBounds))
	assert.Zero(t, src.calls.Load())
}

func TestOptimize_InvalidInput(t *testing.T) {
	o := newOptimizer(&fakeSource{fn: everyCall}, Config{})

	_, err := o.Optimize(context.Background(), Request{
		Start:       model.GeoPoint{Lat: math.NaN(), Lon: 77.6},
		End:         koramangala,
		Preferences: model.DefaultPreferences(),
	})
	assert.True(t, eris.Is(err, ErrInvalidCoordinates))

	_, err = o.Optimize(context.Background(), Request{
		Start:       mgRoad,
		End:         koramangala,
		Preferences: model.Preferences{SafetyWeight: -1, DistanceWeight: 0.3},
	})
	assert.True(t, eris.Is(err, ErrInvalidPreferences))
}

func TestOptimize_NoRoutes(t *testing.T) {
	src := &fakeSource{fn: func(context.Context, *model.GeoPoint) []model.CandidateRoute { return nil }}
	o := newOptimizer(src, Config{})

	_, err := o.Optimize(context.Background(), Request{Start: mgRoad, End: koramangala, Preferences: model.DefaultPreferences()})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNoRoutes))

	wps := explore.Generate(mgRoad, koramangala, explore.Options{})
	assert.Equal(t, int32(1+len(wps)), src.calls.Load(), "every detour is still attempted")
}

func TestOptimize_DedupesIdenticalGeometry(t *testing.T) {
	// Every call returns the same direct geometry.
	src := &fakeSource{fn: func(context.Context, *model.GeoPoint) []model.CandidateRoute {
		return []model.CandidateRoute{candidate(mgRoad, koramangala, nil, 6)}
	}}
	o := newOptimizer(src, Config{})

	resp, err := o.Optimize(context.Background(), Request{Start: mgRoad, End: koramangala, Preferences: model.DefaultPreferences()})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.TotalAnalyzed)
	require.Len(t, resp.Routes, 1)
	assert.Equal(t, "direct_1", resp.Routes[0].Source)
}

func TestCollect_DeterministicOrder(t *testing.T) {
	// Later slots answer first; labels must still follow explorer order.
	var mu sync.Mutex
	order := map[model.GeoPoint]int{}
	wps := explore.Generate(mgRoad, koramangala, explore.Options{})
	for i, wp := range wps {
		order[wp.Point] = i
	}

	src := &fakeSource{fn: func(ctx context.Context, via *model.GeoPoint) []model.CandidateRoute {
		if via != nil {
			mu.Lock()
			i := order[*via]
			mu.Unlock()
			time.Sleep(time.Duration(len(wps)-i) * time.Millisecond)
		}
		return everyCall(ctx, via)
	}}
	o := newOptimizer(src, Config{})

	got := o.collect(context.Background(), mgRoad, koramangala)
	require.Len(t, got, 1+len(wps))
	assert.Equal(t, "direct_1", got[0].Source)
	for i, wp := range wps {
		c := got[i+1]
		require.NotNil(t, c.Waypoint)
		assert.Equal(t, wp.Point, *c.Waypoint)
		assert.Equal(t, "waypoint_"+strconv.Itoa(i), c.Source)
	}
}

// variant is a detour through via with a distinct kink k.
func variant(via model.GeoPoint, k int, distKm float64) model.CandidateRoute {
	kink := model.GeoPoint{Lat: via.Lat, Lon: via.Lon + 0.001*float64(k)}
	path := model.Path{mgRoad, via, kink, koramangala}
	wp := via
	return model.CandidateRoute{
		Geometry:    path,
		DistanceKm:  distKm,
		DurationMin: distKm * 3,
		Steps:       []model.Step{},
		Fingerprint: geo.Fingerprint(path),
		Type:        model.RouteTypeWaypoint,
		Waypoint:    &wp,
	}
}

func TestOptimize_CapsDistinctWaypointRoutes(t *testing.T) {
	// Each detour yields three distinct alternatives; only 25 are kept.
	src := &fakeSource{fn: func(_ context.Context, via *model.GeoPoint) []model.CandidateRoute {
		if via == nil {
			return []model.CandidateRoute{candidate(mgRoad, koramangala, nil, 6), candidate(mgRoad, koramangala, nil, 6)}
		}
		return []model.CandidateRoute{variant(*via, 1, 8), variant(*via, 2, 9), variant(*via, 3, 10)}
	}}
	o := newOptimizer(src, Config{})

	resp, err := o.Optimize(context.Background(), Request{Start: mgRoad, End: koramangala, Preferences: model.DefaultPreferences()})
	require.NoError(t, err)
	require.Greater(t, 3*(int(src.calls.Load())-1), MaxWaypointRoutes)
	assert.Equal(t, 1+MaxWaypointRoutes, resp.TotalAnalyzed)
}

func TestOptimize_DirectDuplicatesDoNotUseWaypointSlots(t *testing.T) {
	// Detour calls often echo the direct route back; only new geometry counts.
	direct := candidate(mgRoad, koramangala, nil, 6)
	src := &fakeSource{fn: func(_ context.Context, via *model.GeoPoint) []model.CandidateRoute {
		if via == nil {
			return []model.CandidateRoute{direct}
		}
		echo := direct
		echo.Type = model.RouteTypeWaypoint
		return []model.CandidateRoute{echo, echo, variant(*via, 1, 8)}
	}}
	o := newOptimizer(src, Config{})

	resp, err := o.Optimize(context.Background(), Request{Start: mgRoad, End: koramangala, Preferences: model.DefaultPreferences()})
	require.NoError(t, err)
	waypointCalls := int(src.calls.Load()) - 1
	require.Greater(t, waypointCalls, 9)
	assert.Equal(t, 1+waypointCalls, resp.TotalAnalyzed)
}

func TestOptimize_BudgetReturnsPartialResults(t *testing.T) {
	src := &fakeSource{fn: func(ctx context.Context, via *model.GeoPoint) []model.CandidateRoute {
		if via == nil {
			return everyCall(ctx, nil)
		}
		<-ctx.Done()
		return nil
	}}
	o := newOptimizer(src, Config{Budget: 50 * time.Millisecond})

	start := time.Now()
	resp, err := o.Optimize(context.Background(), Request{Start: mgRoad, End: koramangala, Preferences: model.DefaultPreferences()})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	require.Len(t, resp.Routes, 1)
	assert.Equal(t, "direct_1", resp.Routes[0].Source)
}

func TestOptimize_CallerCancel(t *testing.T) {
	src := &fakeSource{fn: func(ctx context.Context, _ *model.GeoPoint) []model.CandidateRoute {
		<-ctx.Done()
		return nil
	}}
	o := newOptimizer(src, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := o.Optimize(ctx, Request{Start: mgRoad, End: koramangala, Preferences: model.DefaultPreferences()})
	assert.True(t, eris.Is(err, ErrNoRoutes))
}

func TestOptimize_LikedBonus(t *testing.T) {
	src := &fakeSource{fn: everyCall}
	wps := explore.Generate(mgRoad, koramangala, explore.Options{})
	require.NotEmpty(t, wps)
	via := wps[0].Point
	liked := candidate(mgRoad, koramangala, &via, 8).Fingerprint

	p := stubPersonalizer{p: &Personalization{Liked: map[string]struct{}{liked: {}}, LikedBonus: 0.5}}
	o := newOptimizer(src, Config{}, WithPersonalizer(p))

	resp, err := o.Optimize(context.Background(), Request{Start: mgRoad, End: koramangala, Preferences: model.DefaultPreferences()})
	require.NoError(t, err)
	assert.Equal(t, liked, resp.Routes[0].Fingerprint)
}

func TestOptimize_PersonalizerErrorIsIgnored(t *testing.T) {
	o := newOptimizer(&fakeSource{fn: everyCall}, Config{}, WithPersonalizer(stubPersonalizer{err: assert.AnError}))

	resp, err := o.Optimize(context.Background(), Request{Start: mgRoad, End: koramangala, Preferences: model.DefaultPreferences()})
	require.NoError(t, err)
	assert.True(t, resp.Success)
}

type stubPersonalizer struct {
	p   *Personalization
	err error
}

func (s stubPersonalizer) Personalize(context.Context, model.GeoPoint, model.GeoPoint, model.Preferences) (*Personalization, error) {
	return s.p, s.err
}

func throughPoint(mid model.GeoPoint, distKm float64) model.CandidateRoute {
	path := model.Path{mgRoad, mid, koramangala}
	return model.CandidateRoute{
		Geometry:    path,
		DistanceKm:  distKm,
		DurationMin: distKm * 3,
		Steps:       []model.Step{},
		Fingerprint: geo.Fingerprint(path),
		Type:        model.RouteTypeDirect,
	}
}

func TestOptimize_RejectsNegativeOverride(t *testing.T) {
	hot := model.GeoPoint{Lat: 12.95, Lon: 77.61}
	quiet := model.GeoPoint{Lat: 12.94, Lon: 77.58}
	crimes := make([]model.RiskSample, 20)
	for i := range crimes {
		crimes[i] = model.RiskSample{Location: hot}
	}
	src := &fakeSource{fn: func(_ context.Context, via *model.GeoPoint) []model.CandidateRoute {
		if via != nil {
			return nil
		}
		return []model.CandidateRoute{throughPoint(hot, 6), throughPoint(quiet, 7)}
	}}
	poisoned := &model.Preferences{SafetyWeight: -5, DistanceWeight: 10}
	o := New(src, safety.NewScorer(riskindex.New(crimes, nil, nil)), Config{},
		WithPersonalizer(stubPersonalizer{p: &Personalization{Override: poisoned}}))

	resp, err := o.Optimize(context.Background(), Request{Start: mgRoad, End: koramangala, Preferences: model.DefaultPreferences()})
	require.NoError(t, err)
	require.Len(t, resp.Routes, 2)
	assert.Equal(t, throughPoint(quiet, 7).Fingerprint, resp.Routes[0].Fingerprint)
	assert.Zero(t, resp.Routes[0].MaxCrimeExposure)
}

const engineBody = `{"code":"Ok","routes":[{
  "geometry":{"type":"LineString","coordinates":[[77.5946,12.9716],[77.61,12.95],[77.6271,12.9279]]},
  "distance":6543.2,"duration":901.5,"legs":[]
}]}`

func TestOptimize_ExpiredBudgetLeavesEngineBreakerClosed(t *testing.T) {
	var slow atomic.Bool
	slow.Store(true)
	engine := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if slow.Load() {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(2 * time.Second):
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(engineBody))
	}))
	defer engine.Close()

	sb := resilience.NewServiceBreakers(resilience.DefaultCircuitBreakerConfig())
	client := osrm.NewClient(
		osrm.WithBaseURL(engine.URL),
		osrm.WithRateLimit(0),
		osrm.WithRetry(resilience.RetryConfig{MaxAttempts: 1}),
		osrm.WithBreakers(sb),
	)
	o := newOptimizer(routing.NewSource(client, 0), Config{Budget: 300 * time.Millisecond})
	req := Request{Start: mgRoad, End: koramangala, Preferences: model.DefaultPreferences()}

	_, err := o.Optimize(context.Background(), req)
	require.True(t, eris.Is(err, ErrNoRoutes))
	assert.Equal(t, resilience.CircuitClosed, sb.States()["osrm"])

	slow.Store(false)
	resp, err := o.Optimize(context.Background(), req)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Routes)
	assert.Equal(t, resilience.CircuitClosed, sb.States()["osrm"])
}
