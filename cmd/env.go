package main

import (
	"context"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/safespace/saferoute/internal/model"
	"github.com/safespace/saferoute/internal/optimizer"
	"github.com/safespace/saferoute/internal/resilience"
	"github.com/safespace/saferoute/internal/riskindex"
	"github.com/safespace/saferoute/internal/routing"
	"github.com/safespace/saferoute/internal/safety"
	"github.com/safespace/saferoute/internal/store"
	"github.com/safespace/saferoute/pkg/nominatim"
	"github.com/safespace/saferoute/pkg/osrm"
)

// appEnv holds the wired collaborators shared by serve and optimize.
type appEnv struct {
	Risk      *riskindex.Index
	Breakers  *resilience.ServiceBreakers
	Optimizer *optimizer.Optimizer
	Geocoder  nominatim.Client
	Store     store.Store // nil when the store is disabled
}

// Close releases the store.
func (e *appEnv) Close() {
	if e.Store != nil {
		if err := e.Store.Close(); err != nil {
			zap.L().Warn("close store", zap.Error(err))
		}
	}
}

func datasetFiles() riskindex.Files {
	return riskindex.Files{
		Dir:        cfg.Datasets.Dir,
		Crime:      cfg.Datasets.Crime,
		Lighting:   cfg.Datasets.Lighting,
		Population: cfg.Datasets.Population,
	}
}

// initStore opens and migrates the configured store. It returns nil, nil
// when the store is disabled.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store.Options())
	if eris.Is(err, store.ErrDisabled) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "init store")
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initEnv loads the risk layers and wires the optimizer. A store that fails
// to open disables personalization and ratings instead of failing startup.
func initEnv(ctx context.Context) (*appEnv, error) {
	idx, stats, err := riskindex.Load(ctx, datasetFiles())
	if err != nil {
		return nil, eris.Wrap(err, "load datasets")
	}
	for _, s := range stats {
		zap.L().Info("dataset loaded",
			zap.String("layer", string(s.Layer)),
			zap.String("path", filepath.Clean(s.Path)),
			zap.Int("rows", s.Rows),
			zap.Int("skipped", s.Skipped),
			zap.Bool("missing", s.Missing),
		)
	}

	breakers := resilience.NewServiceBreakers(resilience.DefaultCircuitBreakerConfig())
	bounds := cfg.Bounds

	engine := osrm.NewClient(
		osrm.WithBaseURL(cfg.OSRM.BaseURL),
		osrm.WithProfile(cfg.OSRM.Profile),
		osrm.WithTimeout(time.Duration(cfg.OSRM.TimeoutSecs)*time.Second),
		osrm.WithRateLimit(cfg.OSRM.RateLimitRPS),
		osrm.WithRetry(resilience.DefaultRetryConfig().WithAttempts(cfg.OSRM.MaxAttempts)),
		osrm.WithBreakers(breakers),
	)
	geocoder := nominatim.NewClient(
		nominatim.WithBaseURL(cfg.Nominatim.BaseURL),
		nominatim.WithUserAgent(cfg.Nominatim.UserAgent),
		nominatim.WithTimeout(time.Duration(cfg.Nominatim.TimeoutSecs)*time.Second),
		nominatim.WithRateLimit(cfg.Nominatim.RPS),
		nominatim.WithSearchSuffix(cfg.Nominatim.SearchSuffix),
		nominatim.WithCache(cfg.Nominatim.CacheSize, time.Duration(cfg.Nominatim.CacheTTLMinutes)*time.Minute),
		nominatim.WithFilter(func(lat, lon float64) bool {
			return bounds.Contains(model.GeoPoint{Lat: lat, Lon: lon})
		}),
		nominatim.WithBreakers(breakers),
	)

	st, err := initStore(ctx)
	if err != nil {
		zap.L().Warn("store unavailable, ratings disabled", zap.Error(err))
		st = nil
	}

	var opts []optimizer.Option
	if st != nil && cfg.Personalization.Enabled {
		opts = append(opts, optimizer.WithPersonalizer(optimizer.NewFeedbackPersonalizer(st, optimizer.FeedbackConfig{
			LikedBonus: cfg.Personalization.LikedBonus,
			MinRatings: cfg.Personalization.MinRatings,
		})))
	}

	opt := optimizer.New(
		routing.NewSource(engine, cfg.Optimizer.EndpointToleranceKm),
		safety.NewScorer(idx),
		optimizer.Config{
			Bounds:         bounds,
			Concurrency:    cfg.Optimizer.Concurrency,
			Budget:         cfg.Server.RequestBudget(),
			MaxWaypoints:   cfg.Optimizer.MaxWaypoints,
			MaxDetourRatio: cfg.Optimizer.DetourRatio,
			TopN:           cfg.Optimizer.TopN,
		},
		opts...,
	)

	return &appEnv{
		Risk:      idx,
		Breakers:  breakers,
		Optimizer: opt,
		Geocoder:  geocoder,
		Store:     st,
	}, nil
}
