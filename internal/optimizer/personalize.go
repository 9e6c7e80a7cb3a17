package optimizer

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/safespace/saferoute/internal/model"
)

// Personalizer derives per-request adjustments from stored feedback.
type Personalizer interface {
	Personalize(ctx context.Context, start, end model.GeoPoint, prefs model.Preferences) (*Personalization, error)
}

// Personalization adjusts one request.
type Personalization struct {
	// Override replaces the request preferences when set.
	Override *model.Preferences
	// Liked holds fingerprints of routes rated highly before.
	Liked      map[string]struct{}
	LikedBonus float64
}

// Apply returns the preferences to use.
func (p *Personalization) Apply(prefs model.Preferences) model.Preferences {
	if p == nil || p.Override == nil {
		return prefs
	}
	return *p.Override
}

// Bonus returns the composite bonus for a fingerprint.
func (p *Personalization) Bonus(fingerprint string) float64 {
	if p == nil {
		return 0
	}
	if _, ok := p.Liked[fingerprint]; ok {
		return p.LikedBonus
	}
	return 0
}

// FeedbackSource is the read side of the rating store.
type FeedbackSource interface {
	LikedFingerprints(ctx context.Context, minRating int) ([]string, error)
	PreferenceStats(ctx context.Context, minRating int) (model.PreferenceStats, error)
}

// FeedbackConfig tunes FeedbackPersonalizer.
type FeedbackConfig struct {
	// LikedRating is the lowest rating that counts as liked. Default: 4.
	LikedRating int
	// LikedBonus is added to the composite of liked routes. Default: 0.05.
	LikedBonus float64
	// MinRatings is how many liked ratings with preferences are needed
	// before their preferences override request defaults. Default: 3.
	MinRatings int
}

// FeedbackPersonalizer personalizes from the shared rating history.
type FeedbackPersonalizer struct {
	src FeedbackSource
	cfg FeedbackConfig
}

// NewFeedbackPersonalizer creates a FeedbackPersonalizer.
func NewFeedbackPersonalizer(src FeedbackSource, cfg FeedbackConfig) *FeedbackPersonalizer {
	if cfg.LikedRating <= 0 {
		cfg.LikedRating = 4
	}
	if cfg.LikedBonus <= 0 {
		cfg.LikedBonus = 0.05
	}
	if cfg.MinRatings <= 0 {
		cfg.MinRatings = 3
	}
	return &FeedbackPersonalizer{src: src, cfg: cfg}
}

// Personalize implements Personalizer. Preferences are only overridden when
// the request left everything at its defaults.
func (f *FeedbackPersonalizer) Personalize(ctx context.Context, _, _ model.GeoPoint, prefs model.Preferences) (*Personalization, error) {
	liked, err := f.src.LikedFingerprints(ctx, f.cfg.LikedRating)
	if err != nil {
		return nil, eris.Wrap(err, "optimizer: liked fingerprints")
	}
	p := &Personalization{
		Liked:      make(map[string]struct{}, len(liked)),
		LikedBonus: f.cfg.LikedBonus,
	}
	for _, fp := range liked {
		p.Liked[fp] = struct{}{}
	}

	if prefs != model.DefaultPreferences() {
		return p, nil
	}
	stats, err := f.src.PreferenceStats(ctx, f.cfg.LikedRating)
	if err != nil {
		return nil, eris.Wrap(err, "optimizer: preference stats")
	}
	if stats.Ratings < f.cfg.MinRatings || stats.SafetyWeight+stats.DistanceWeight <= 0 {
		return p, nil
	}
	override := model.Preferences{
		PreferMainRoads: stats.MainRoads > 0.5,
		PreferWellLit:   stats.WellLit > 0.5,
		PreferPopulated: stats.Populated > 0.5,
		SafetyWeight:    stats.SafetyWeight,
		DistanceWeight:  stats.DistanceWeight,
	}
	if err := override.Validate(); err != nil {
		zap.L().Warn("optimizer: ignoring invalid preference override", zap.Error(err))
		return p, nil
	}
	p.Override = &override
	return p, nil
}
