// Package store persists route ratings and derives feedback statistics.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/safespace/saferoute/internal/db"
	"github.com/safespace/saferoute/internal/model"
)

// Drivers accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverNone     = "none"
)

// ErrDisabled is returned by Open for the "none" driver.
var ErrDisabled = eris.New("store: disabled")

// RatingFilter specifies criteria for listing ratings.
type RatingFilter struct {
	RouteID string `json:"route_id,omitempty"`
	Limit   int    `json:"limit,omitempty"`
	Offset  int    `json:"offset,omitempty"`
}

// RouteFeedback aggregates the ratings of one route fingerprint.
type RouteFeedback struct {
	RouteID     string    `json:"route_id"`
	Ratings     int       `json:"ratings"`
	AvgRating   float64   `json:"avg_rating"`
	Likes       int       `json:"likes"`
	LastRatedAt time.Time `json:"last_rated_at"`
}

// Store defines rating persistence.
type Store interface {
	// SaveRating validates and stores a rating and updates the route's
	// aggregate in one transaction. ID and CreatedAt are filled in when empty.
	SaveRating(ctx context.Context, r *model.Rating) error
	ListRatings(ctx context.Context, filter RatingFilter) ([]model.Rating, error)
	GetRouteFeedback(ctx context.Context, routeID string) (*RouteFeedback, error)

	// LikedFingerprints returns routes whose average rating is at least
	// minRating or that were explicitly liked.
	LikedFingerprints(ctx context.Context, minRating int) ([]string, error)
	// PreferenceStats summarizes preferences attached to ratings of at
	// least minRating.
	PreferenceStats(ctx context.Context, minRating int) (model.PreferenceStats, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// Config selects and tunes a store.
type Config struct {
	Driver      string        `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string        `yaml:"database_url" mapstructure:"database_url"`
	Pool        db.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// Open creates the configured store. It does not migrate.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case DriverSQLite, "":
		dsn := cfg.DatabaseURL
		if dsn == "" {
			dsn = "saferoute.db"
		}
		return NewSQLite(dsn)
	case DriverPostgres:
		return NewPostgres(ctx, cfg.DatabaseURL, &cfg.Pool)
	case DriverNone:
		return nil, ErrDisabled
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}

// prepare validates r and fills in generated fields.
func prepare(r *model.Rating) error {
	if r == nil {
		return eris.New("store: nil rating")
	}
	if err := r.Validate(); err != nil {
		return err
	}
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	return nil
}

func listLimit(n int) int {
	if n <= 0 || n > 1000 {
		return 100
	}
	return n
}

// ratingColumns is the column order shared by both drivers.
var ratingColumns = []string{
	"id", "route_id", "rating", "feedback", "liked",
	"start_lat", "start_lon", "end_lat", "end_lon",
	"pref_main_roads", "pref_well_lit", "pref_populated", "safety_weight", "distance_weight",
	"safety_score", "created_at",
}

// ratingArgs flattens r in ratingColumns order. Absent optional values are nil.
func ratingArgs(r *model.Rating) []any {
	args := []any{r.ID, r.RouteID, r.Rating, r.Feedback, r.Liked}
	args = append(args, pointArgs(r.Start)...)
	args = append(args, pointArgs(r.End)...)
	if p := r.Preferences; p != nil {
		args = append(args, p.PreferMainRoads, p.PreferWellLit, p.PreferPopulated, p.SafetyWeight, p.DistanceWeight)
	} else {
		args = append(args, nil, nil, nil, nil, nil)
	}
	if r.SafetyScore != nil {
		args = append(args, *r.SafetyScore)
	} else {
		args = append(args, nil)
	}
	return append(args, r.CreatedAt)
}

func pointArgs(p *model.GeoPoint) []any {
	if p == nil {
		return []any{nil, nil}
	}
	return []any{p.Lat, p.Lon}
}

// ratingScan receives one row in ratingColumns order.
type ratingScan struct {
	r                            model.Rating
	startLat, startLon           *float64
	endLat, endLon               *float64
	mainRoads, wellLit, populate *bool
	safetyW, distanceW           *float64
	safetyScore                  *float64
	feedback                     *string
}

func (s *ratingScan) dest() []any {
	return []any{
		&s.r.ID, &s.r.RouteID, &s.r.Rating, &s.feedback, &s.r.Liked,
		&s.startLat, &s.startLon, &s.endLat, &s.endLon,
		&s.mainRoads, &s.wellLit, &s.populate, &s.safetyW, &s.distanceW,
		&s.safetyScore, &s.r.CreatedAt,
	}
}

func (s *ratingScan) rating() model.Rating {
	r := s.r
	if s.feedback != nil {
		r.Feedback = *s.feedback
	}
	if s.startLat != nil && s.startLon != nil {
		r.Start = &model.GeoPoint{Lat: *s.startLat, Lon: *s.startLon}
	}
	if s.endLat != nil && s.endLon != nil {
		r.End = &model.GeoPoint{Lat: *s.endLat, Lon: *s.endLon}
	}
	if s.safetyW != nil && s.distanceW != nil {
		r.Preferences = &model.Preferences{
			PreferMainRoads: deref(s.mainRoads),
			PreferWellLit:   deref(s.wellLit),
			PreferPopulated: deref(s.populate),
			SafetyWeight:    *s.safetyW,
			DistanceWeight:  *s.distanceW,
		}
	}
	r.SafetyScore = s.safetyScore
	r.CreatedAt = r.CreatedAt.UTC()
	return r
}

func deref(b *bool) bool {
	return b != nil && *b
}
