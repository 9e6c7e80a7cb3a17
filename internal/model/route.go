package model

// RouteType records how a candidate was produced.
type RouteType string

const (
	RouteTypeDirect   RouteType = "direct"
	RouteTypeWaypoint RouteType = "waypoint"
)

// Step is one turn-by-turn maneuver passed through from the routing engine.
type Step struct {
	Number       int     `json:"number"`
	Instruction  string  `json:"instruction"`
	Distance     float64 `json:"distance"`      // meters, one decimal
	DistanceText string  `json:"distance_text"` // "350m" or "1.2km"
}

// CandidateRoute is a drivable path returned by the routing engine. It lives
// only for the duration of one optimization request.
type CandidateRoute struct {
	Geometry    Path      `json:"route"`
	DistanceKm  float64   `json:"distance_km"`
	DurationMin float64   `json:"duration_min"`
	Steps       []Step    `json:"steps"`
	Fingerprint string    `json:"id"`
	Source      string    `json:"source,omitempty"` // direct_1, waypoint_3, ...
	Type        RouteType `json:"type,omitempty"`
	Waypoint    *GeoPoint `json:"-"`
}

// SafetyProfile is the multi-dimensional safety assessment of one route.
type SafetyProfile struct {
	SafetyScore       float64 `json:"safety_score"`
	CrimeDensity      float64 `json:"crime_density"`
	MaxCrimeExposure  float64 `json:"max_crime_exposure"`
	CrimeHotspotPct   float64 `json:"crime_hotspot_percentage"`
	LightingScore     float64 `json:"lighting_score"`
	PopulationScore   float64 `json:"population_score"`
	TrafficScore      float64 `json:"traffic_score"`
	MainRoadPct       float64 `json:"main_road_percentage"`
	CrimeDensityScore float64 `json:"crime_density_score"`
	SampledPoints     int     `json:"sampled_points"`
	DefaultedSamples  int     `json:"defaulted_samples"`
}

// Category is the descriptive label assigned to a finalist route.
type Category string

const (
	CategoryBest        Category = "best"
	CategorySafest      Category = "safest"
	CategoryFastest     Category = "fastest"
	CategoryMainRoads   Category = "main_roads"
	CategoryBalanced    Category = "balanced"
	CategoryLowCrime    Category = "low_crime"
	CategoryShort       Category = "short"
	CategoryMajorRoads  Category = "major_roads"
	CategoryAlternative Category = "alternative"
)

// WarningLevel grades crime exposure along a route.
type WarningLevel string

const (
	WarningNone     WarningLevel = ""
	WarningModerate WarningLevel = "moderate"
	WarningHigh     WarningLevel = "high"
)

// RankedRoute is a scored, categorized finalist returned to the caller.
type RankedRoute struct {
	CandidateRoute
	SafetyProfile

	CompositeScore  float64      `json:"composite_score"`
	Rank            int          `json:"rank"`
	IsRecommended   bool         `json:"is_recommended"`
	Category        Category     `json:"category"`
	Emoji           string       `json:"emoji"`
	Description     string       `json:"description"`
	Reasons         []string     `json:"reasons"`
	WarningLevel    WarningLevel `json:"warning_level,omitempty"`
	Warning         *string      `json:"warning"`
	DistanceDisplay string       `json:"distance_display"`
	DurationDisplay string       `json:"duration_display"`
	SafetyDisplay   string       `json:"safety_display"`
}
