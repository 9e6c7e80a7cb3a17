// Package optimizer composes route sourcing, safety scoring, and ranking
// into one optimization request.
package optimizer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/safespace/saferoute/internal/explore"
	"github.com/safespace/saferoute/internal/model"
	"github.com/safespace/saferoute/internal/ranking"
)

// Errors callers map to client-facing failures.
var (
	ErrInvalidCoordinates = eris.New("optimizer: invalid coordinates")
	ErrOutOfBounds        = eris.New("optimizer: coordinates outside service area")
	ErrInvalidPreferences = eris.New("optimizer: invalid preferences")
	ErrNoRoutes           = eris.New("optimizer: no valid routes found")
)

// Defaults for Config.
const (
	DefaultConcurrency = 6
	DefaultBudget      = 25 * time.Second
)

// MaxWaypointRoutes caps distinct detour-derived candidates per request.
const MaxWaypointRoutes = 25

// RouteSource produces candidate routes. It reports failures as an empty
// result.
type RouteSource interface {
	Routes(ctx context.Context, start, end model.GeoPoint, via *model.GeoPoint) []model.CandidateRoute
}

// SafetyScorer rates one route geometry.
type SafetyScorer interface {
	Score(path model.Path, prefs model.Preferences) model.SafetyProfile
}

// Config tunes the optimizer.
type Config struct {
	Bounds         model.BBox
	Concurrency    int
	Budget         time.Duration
	MaxWaypoints   int
	MaxDetourRatio float64
	TopN           int
}

func (c Config) withDefaults() Config {
	if c.Bounds == (model.BBox{}) {
		c.Bounds = model.BangaloreBounds
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.Budget <= 0 {
		c.Budget = DefaultBudget
	}
	if c.MaxWaypoints <= 0 {
		c.MaxWaypoints = explore.DefaultMaxWaypoints
	}
	if c.MaxDetourRatio <= 0 {
		c.MaxDetourRatio = explore.DefaultDetourRatio
	}
	if c.TopN <= 0 {
		c.TopN = ranking.DefaultTopN
	}
	return c
}

// Request is one optimization request.
type Request struct {
	Start       model.GeoPoint
	End         model.GeoPoint
	Preferences model.Preferences
}

// Response is the optimization result envelope.
type Response struct {
	Success       bool                `json:"success"`
	Routes        []model.RankedRoute `json:"routes"`
	TotalAnalyzed int                 `json:"total_analyzed"`
	Message       string              `json:"message"`
}

// Option configures an Optimizer.
type Option func(*Optimizer)

// WithPersonalizer enables preference overrides and liked-route bonuses.
func WithPersonalizer(p Personalizer) Option {
	return func(o *Optimizer) {
		o.personalizer = p
	}
}

// Optimizer runs optimization requests. It is safe for concurrent use.
type Optimizer struct {
	cfg          Config
	routes       RouteSource
	scorer       SafetyScorer
	personalizer Personalizer
}

// New creates an Optimizer.
func New(routes RouteSource, scorer SafetyScorer, cfg Config, opts ...Option) *Optimizer {
	o := &Optimizer{cfg: cfg.withDefaults(), routes: routes, scorer: scorer}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Validate checks endpoints and preferences without calling the engine.
func (o *Optimizer) Validate(req Request) error {
	if !req.Start.Finite() || !req.End.Finite() {
		return ErrInvalidCoordinates
	}
	if !o.cfg.Bounds.Contains(req.Start) || !o.cfg.Bounds.Contains(req.End) {
		return ErrOutOfBounds
	}
	if err := req.Preferences.Validate(); err != nil {
		return eris.Wrap(ErrInvalidPreferences, err.Error())
	}
	return nil
}

// Optimize gathers direct and detour candidates, scores them, and returns
// the ranked finalists. Engine calls run concurrently within the request
// budget; whatever completed by the deadline is used.
func (o *Optimizer) Optimize(ctx context.Context, req Request) (*Response, error) {
	if err := o.Validate(req); err != nil {
		return nil, err
	}

	log := zap.L().With(
		zap.Float64("start_lat", req.Start.Lat), zap.Float64("start_lon", req.Start.Lon),
		zap.Float64("end_lat", req.End.Lat), zap.Float64("end_lon", req.End.Lon),
	)

	prefs := req.Preferences
	var bonus func(string) float64
	if o.personalizer != nil {
		p, err := o.personalizer.Personalize(ctx, req.Start, req.End, prefs)
		if err != nil {
			log.Warn("optimizer: personalization unavailable", zap.Error(err))
		} else {
			bonus = p.Bonus
			if applied := p.Apply(prefs); applied.Validate() == nil {
				prefs = applied
			} else {
				log.Warn("optimizer: personalized preferences rejected, keeping request preferences")
			}
		}
	}

	began := time.Now()
	candidates := o.collect(ctx, req.Start, req.End)
	unique := ranking.Dedupe(candidates, MaxWaypointRoutes)
	log.Info("optimizer: candidates collected",
		zap.Int("candidates", len(candidates)),
		zap.Int("unique", len(unique)),
		zap.Duration("elapsed", time.Since(began)),
	)
	if len(unique) == 0 {
		return nil, ErrNoRoutes
	}

	scored := make([]ranking.Scored, len(unique))
	for i, c := range unique {
		scored[i] = ranking.Scored{Route: c, Profile: o.scorer.Score(c.Geometry, prefs)}
	}

	ranked := ranking.Rank(scored, prefs, ranking.Options{TopN: o.cfg.TopN, Bonus: bonus})
	return &Response{
		Success:       true,
		Routes:        ranked,
		TotalAnalyzed: len(unique),
		Message:       fmt.Sprintf("Found %d optimized routes", len(ranked)),
	}, nil
}

// collect fans engine calls out and reassembles results in a fixed order:
// direct alternatives first, then detours in explorer order.
func (o *Optimizer) collect(ctx context.Context, start, end model.GeoPoint) []model.CandidateRoute {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Budget)
	defer cancel()

	waypoints := explore.Generate(start, end, explore.Options{
		Bounds:         o.cfg.Bounds,
		MaxWaypoints:   o.cfg.MaxWaypoints,
		MaxDetourRatio: o.cfg.MaxDetourRatio,
	})

	slots := make([][]model.CandidateRoute, 1+len(waypoints))
	var g errgroup.Group
	g.SetLimit(o.cfg.Concurrency)

	g.Go(func() error {
		slots[0] = o.routes.Routes(ctx, start, end, nil)
		return nil
	})
	for i, wp := range waypoints {
		via := wp.Point
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			slots[i+1] = o.routes.Routes(ctx, start, end, &via)
			return nil
		})
	}
	_ = g.Wait()

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		zap.L().Warn("optimizer: request budget exhausted, using partial results",
			zap.Duration("budget", o.cfg.Budget))
	}

	var out []model.CandidateRoute
	for i, r := range slots[0] {
		r.Source = fmt.Sprintf("direct_%d", i+1)
		out = append(out, r)
	}
	n := 0
	for _, slot := range slots[1:] {
		for _, r := range slot {
			r.Source = fmt.Sprintf("waypoint_%d", n)
			out = append(out, r)
			n++
		}
	}
	return out
}
