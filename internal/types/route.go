package types

type CandidateRoute struct {
	Index           int          `json:"index"`
	Polyline        string       `json:"polyline"`
	Summary         string       `json:"summary,omitempty"`
	DurationSeconds float64      `json:"durationSeconds"`
	DistanceMeters  float64      `json:"distanceMeters"`
	Waypoints       []Coordinate `json:"waypoints,omitempty"`
	FromFallback    bool         `json:"fromFallback,omitempty"`

	// Derived from Polyline, never supplied by the routing provider.
	SamplePoints []Coordinate `json:"samplePoints,omitempty"`
	// Features is either nil or parallel to SamplePoints.
	Features []PointFeatures `json:"-"`
}

// FeaturesAt returns the adjunct data for sample point i, if any.
func (r CandidateRoute) FeaturesAt(i int) PointFeatures {
	if i < 0 || i >= len(r.Features) {
		return PointFeatures{}
	}
	return r.Features[i]
}

const (
	SpotPolice      = "police"
	SpotHospital    = "hospital"
	SpotFireStation = "fire_station"
	SpotConvenience = "convenience_store"
)

type SafetySpot struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

type Vibe struct {
	Score      float64  `json:"score"`
	Atmosphere string   `json:"atmosphere,omitempty"`
	ImageURL   string   `json:"imageUrl,omitempty"`
	Tags       []string `json:"tags,omitempty"`
}

type PointFeatures struct {
	ElevationMeters *float64     `json:"elevationMeters,omitempty"`
	SafetySpots     []SafetySpot `json:"safetySpots,omitempty"`
	Shadow          bool         `json:"shadow,omitempty"`
	Vibe            *Vibe        `json:"vibe,omitempty"`
	// VisualError is set when street-level analysis was attempted and failed.
	VisualError string `json:"visualError,omitempty"`
}

const (
	TagFloodRisk      = "FLOOD_RISK"
	TagTsunamiRisk    = "TSUNAMI_RISK"
	TagLandslideRisk  = "LANDSLIDE_RISK"
	TagStormSurgeRisk = "STORM_SURGE_RISK"
	TagCrimeRisk      = "CRIME_RISK"
	TagShadowRisk     = "SHADOW_RISK"
	TagVibeRisk       = "VIBE_RISK"
	TagSafetyBonus    = "SAFETY_BONUS"
)

// HazardTag is the avoidance tag for a hazard layer.
func HazardTag(h HazardType) string {
	switch h {
	case HazardTsunami:
		return TagTsunamiRisk
	case HazardLandslide:
		return TagLandslideRisk
	case HazardStormSurge:
		return TagStormSurgeRisk
	}
	return TagFloodRisk
}

type PointAssessment struct {
	Coordinate Coordinate `json:"coordinate"`
	Score      float64    `json:"score"`
	RiskTags   []string   `json:"riskTags"`
	Factors    []string   `json:"factors,omitempty"`
	ImageURL   string     `json:"imageUrl,omitempty"`
	Atmosphere string     `json:"atmosphere,omitempty"`
	Error      string     `json:"error,omitempty"`
}

type RiskLevel string

const (
	RiskHigh   RiskLevel = "HIGH"
	RiskMedium RiskLevel = "MEDIUM"
	RiskLow    RiskLevel = "LOW"
)

type RouteAssessment struct {
	Route            CandidateRoute    `json:"route"`
	PointAssessments []PointAssessment `json:"pointAssessments"`
	BottleneckScore  float64           `json:"bottleneckScore"`
	BottleneckIndex  int               `json:"bottleneckIndex"`
	AggregateTags    []string          `json:"aggregateTags"`
	Level            RiskLevel         `json:"level"`
	BelowThreshold   bool              `json:"belowThreshold"`
	// VisualScore is the bottleneck score once street-level analysis is
	// counted. It is reported only and never changes the verdict above.
	VisualScore *float64 `json:"visualScore,omitempty"`
}

// Bottleneck returns the worst point of the route.
func (a RouteAssessment) Bottleneck() (PointAssessment, bool) {
	if a.BottleneckIndex < 0 || a.BottleneckIndex >= len(a.PointAssessments) {
		return PointAssessment{}, false
	}
	return a.PointAssessments[a.BottleneckIndex], true
}
