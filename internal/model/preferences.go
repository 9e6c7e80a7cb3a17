package model

import (
	"math"
	"time"

	"github.com/rotisserie/eris"
)

// Default weights applied when a request omits them.
const (
	DefaultSafetyWeight   = 0.7
	DefaultDistanceWeight = 0.3
)

// Preferences are the caller's routing options.
type Preferences struct {
	PreferMainRoads bool    `json:"prefer_main_roads"`
	PreferWellLit   bool    `json:"prefer_well_lit"`
	PreferPopulated bool    `json:"prefer_populated"`
	SafetyWeight    float64 `json:"safety_weight"`
	DistanceWeight  float64 `json:"distance_weight"`
}

// DefaultPreferences returns preferences with no flags set and default weights.
func DefaultPreferences() Preferences {
	return Preferences{
		SafetyWeight:   DefaultSafetyWeight,
		DistanceWeight: DefaultDistanceWeight,
	}
}

// Validate rejects negative or non-finite weights.
func (p Preferences) Validate() error {
	for name, w := range map[string]float64{
		"safety_weight":   p.SafetyWeight,
		"distance_weight": p.DistanceWeight,
	} {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return eris.Errorf("model: %s must be a number", name)
		}
		if w < 0 {
			return eris.Errorf("model: %s must be >= 0, got %g", name, w)
		}
	}
	return nil
}

// ActiveFlags counts the preference flags that are set.
func (p Preferences) ActiveFlags() int {
	n := 0
	for _, f := range []bool{p.PreferMainRoads, p.PreferWellLit, p.PreferPopulated} {
		if f {
			n++
		}
	}
	return n
}

// Rating is user feedback on a route previously returned by the optimizer.
type Rating struct {
	ID          string       `json:"id"`
	RouteID     string       `json:"route_id"` // route fingerprint
	Rating      int          `json:"rating"`
	Feedback    string       `json:"feedback,omitempty"`
	Liked       bool         `json:"liked"`
	Start       *GeoPoint    `json:"start,omitempty"`
	End         *GeoPoint    `json:"end,omitempty"`
	Preferences *Preferences `json:"preferences,omitempty"`
	SafetyScore *float64     `json:"safety_score,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Validate checks the rating is within 1..5, references a route, and
// carries valid preferences if any.
func (r Rating) Validate() error {
	if r.RouteID == "" {
		return eris.New("model: route_id is required")
	}
	if r.Rating < 1 || r.Rating > 5 {
		return eris.Errorf("model: rating must be between 1 and 5, got %d", r.Rating)
	}
	if r.Preferences != nil {
		if err := r.Preferences.Validate(); err != nil {
			return eris.Wrap(err, "model: rating preferences")
		}
	}
	return nil
}

// PreferenceStats summarizes the preferences attached to well-rated routes.
type PreferenceStats struct {
	Ratings        int     `json:"ratings"`
	SafetyWeight   float64 `json:"avg_safety_weight"`
	DistanceWeight float64 `json:"avg_distance_weight"`
	MainRoads      float64 `json:"main_roads_share"`
	WellLit        float64 `json:"well_lit_share"`
	Populated      float64 `json:"populated_share"`
}
