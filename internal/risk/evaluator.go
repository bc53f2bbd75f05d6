package risk

import (
	"fmt"
	"math"

	"github.com/evanhutnik/saferoute-service/internal/route"
	t "github.com/evanhutnik/saferoute-service/internal/types"
)

const (
	maxScore = 100.0
	// vibeNeutral is the vibe score below which a point is penalised.
	vibeNeutral = 50.0
	// crimeTagRate is the incident rate from which a point is tagged.
	crimeTagRate = 0.25
)

type Weights struct {
	Hazard float64
	Social float64
}

// Config holds the scoring policy. Every number here is a tunable policy
// constant rather than a derived value.
type Config struct {
	ProximityMeters       float64
	ActiveAlertMultiplier float64
	CrimeMaxPenalty       float64
	VibeFactor            float64
	ShadowPenalty         float64
	SafetyBonusCap        float64

	// Level bands: [0,HighMax] HIGH, (HighMax,MediumMax] MEDIUM, above LOW.
	HighMax   float64
	MediumMax float64

	NormalThreshold    float64
	EmergencyThreshold float64

	Normal    Weights
	Emergency Weights
}

func DefaultConfig() Config {
	return Config{
		ProximityMeters:       50,
		ActiveAlertMultiplier: 1.5,
		CrimeMaxPenalty:       30,
		VibeFactor:            0.4,
		ShadowPenalty:         5,
		SafetyBonusCap:        20,
		HighMax:               30,
		MediumMax:             70,
		NormalThreshold:       60,
		EmergencyThreshold:    40,
		Normal:                Weights{Hazard: 0.8, Social: 1.2},
		Emergency:             Weights{Hazard: 1.5, Social: 0.5},
	}
}

// ScoreOverride replaces the computed score of a sample point. It exists
// for tests and debugging and is never set in production.
type ScoreOverride func(r t.CandidateRoute, idx int, score float64) float64

type Option func(*Evaluator)

func WithScoreOverride(fn ScoreOverride) Option {
	return func(e *Evaluator) {
		e.override = fn
	}
}

type Evaluator struct {
	cfg      Config
	override ScoreOverride
}

func New(cfg Config, opts ...Option) *Evaluator {
	e := &Evaluator{cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Threshold is the minimum bottleneck score a route needs to be accepted.
func (e *Evaluator) Threshold(m t.Mode) float64 {
	if m == t.ModeEmergency {
		return e.cfg.EmergencyThreshold
	}
	return e.cfg.NormalThreshold
}

func (e *Evaluator) Level(score float64) t.RiskLevel {
	switch {
	case score <= e.cfg.HighMax:
		return t.RiskHigh
	case score <= e.cfg.MediumMax:
		return t.RiskMedium
	}
	return t.RiskLow
}

func (e *Evaluator) weights(m t.Mode) Weights {
	if m == t.ModeEmergency {
		return e.cfg.Emergency
	}
	return e.cfg.Normal
}

// Evaluate scores every sample point of r and rates the route by its worst
// point. It has no side effects and never fails: missing context data
// contributes no penalty.
func (e *Evaluator) Evaluate(r t.CandidateRoute, sc t.SituationContext) t.RouteAssessment {
	a := t.RouteAssessment{
		Route:            r,
		PointAssessments: make([]t.PointAssessment, len(r.SamplePoints)),
		BottleneckIndex:  -1,
		AggregateTags:    []string{},
	}

	seen := make(map[string]struct{})
	for i := range r.SamplePoints {
		pa := e.EvaluatePoint(r, i, sc)
		a.PointAssessments[i] = pa

		if a.BottleneckIndex < 0 || pa.Score < a.BottleneckScore {
			a.BottleneckScore = pa.Score
			a.BottleneckIndex = i
		}
		for _, tag := range pa.RiskTags {
			if _, ok := seen[tag]; !ok {
				seen[tag] = struct{}{}
				a.AggregateTags = append(a.AggregateTags, tag)
			}
		}
	}

	// a route without geometry cannot be shown to be safe
	if a.BottleneckIndex < 0 {
		a.BottleneckScore = 0
	}
	a.Level = e.Level(a.BottleneckScore)
	a.BelowThreshold = a.BottleneckScore < e.Threshold(sc.Mode)
	return a
}

// EvaluatePoint scores sample point i of r on its own.
func (e *Evaluator) EvaluatePoint(r t.CandidateRoute, i int, sc t.SituationContext) t.PointAssessment {
	if i < 0 || i >= len(r.SamplePoints) {
		return t.PointAssessment{RiskTags: []string{}}
	}
	pa := e.scorePoint(r.SamplePoints[i], r.FeaturesAt(i), sc)
	if e.override != nil {
		pa.Score = clamp(e.override(r, i, pa.Score))
	}
	return pa
}

func (e *Evaluator) scorePoint(p t.Coordinate, f t.PointFeatures, sc t.SituationContext) t.PointAssessment {
	pa := t.PointAssessment{Coordinate: p, RiskTags: []string{}}
	w := e.weights(sc.Mode)
	score := maxScore

	var alertHazard t.HazardType
	if sc.Alert != nil {
		alertHazard, _ = sc.Alert.Type.Hazard()
	}

	tags := make(map[string]bool)
	addTag := func(tag string) {
		if !tags[tag] {
			tags[tag] = true
			pa.RiskTags = append(pa.RiskTags, tag)
		}
	}

	for _, h := range t.HazardTypes {
		layer, ok := sc.HazardLayers[h]
		if !ok || !layer.Present {
			continue
		}
		depth, hit := e.zoneDepth(layer.Zones, p)
		if !hit {
			continue
		}
		pen := hazardPenalty(h, depth) * w.Hazard
		if h == alertHazard {
			pen *= e.cfg.ActiveAlertMultiplier
		}
		score -= pen
		addTag(t.HazardTag(h))
		pa.Factors = append(pa.Factors, fmt.Sprintf("%s hazard zone (%.1fm) -%.0f", h, depth, pen))
	}

	if f.ElevationMeters != nil {
		if pen := elevationPenalty(*f.ElevationMeters); pen > 0 {
			pen *= w.Hazard
			if isWaterHazard(alertHazard) {
				pen *= e.cfg.ActiveAlertMultiplier
			}
			score -= pen
			addTag(t.TagFloodRisk)
			pa.Factors = append(pa.Factors, fmt.Sprintf("low elevation %.1fm -%.0f", *f.ElevationMeters, pen))
		}
	}

	if rate, label := crimeRate(sc.Crime, p); rate > 0 {
		pen := rate * e.cfg.CrimeMaxPenalty * w.Social
		score -= pen
		if rate >= crimeTagRate {
			addTag(t.TagCrimeRisk)
			pa.Factors = append(pa.Factors, fmt.Sprintf("crime %s -%.0f", label, pen))
		}
	}

	if f.Vibe != nil {
		pa.ImageURL = f.Vibe.ImageURL
		pa.Atmosphere = f.Vibe.Atmosphere
		if f.Vibe.Score < vibeNeutral {
			pen := (vibeNeutral - f.Vibe.Score) * e.cfg.VibeFactor * w.Social
			score -= pen
			addTag(t.TagVibeRisk)
			pa.Factors = append(pa.Factors, fmt.Sprintf("street atmosphere %.0f/100 -%.0f", f.Vibe.Score, pen))
		}
	}
	if f.VisualError != "" {
		pa.Error = f.VisualError
	}

	if f.Shadow {
		pen := e.cfg.ShadowPenalty * w.Social
		score -= pen
		addTag(t.TagShadowRisk)
		pa.Factors = append(pa.Factors, fmt.Sprintf("building shadow -%.0f", pen))
	}

	if bonus, names := e.safetyBonus(f.SafetySpots); bonus > 0 {
		score += bonus
		addTag(t.TagSafetyBonus)
		pa.Factors = append(pa.Factors, fmt.Sprintf("near %s +%.0f", names, bonus))
	}

	pa.Score = clamp(score)
	return pa
}

// zoneDepth returns the deepest zone whose edge is within ProximityMeters
// of p.
func (e *Evaluator) zoneDepth(zones []t.HazardZone, p t.Coordinate) (float64, bool) {
	depth, hit := 0.0, false
	for _, z := range zones {
		if route.Distance(z.Center, p)-z.RadiusMeters > e.cfg.ProximityMeters {
			continue
		}
		if !hit || z.DepthMeters > depth {
			depth = z.DepthMeters
		}
		hit = true
	}
	return depth, hit
}

func hazardPenalty(h t.HazardType, depth float64) float64 {
	switch h {
	case t.HazardTsunami:
		switch {
		case depth >= 10:
			return 60
		case depth >= 5:
			return 45
		case depth >= 1:
			return 30
		}
		return 15
	case t.HazardLandslide:
		return 40
	}
	// flood and storm surge share the inundation scale
	switch {
	case depth >= 10:
		return 50
	case depth >= 3:
		return 35
	case depth >= 0.5:
		return 20
	}
	return 10
}

func elevationPenalty(meters float64) float64 {
	switch {
	case meters < 0:
		return 50
	case meters < 3:
		return 30
	case meters < 5:
		return 10
	}
	return 0
}

func isWaterHazard(h t.HazardType) bool {
	return h == t.HazardFlood || h == t.HazardTsunami || h == t.HazardStormSurge
}

// crimeRate is the highest rate among zones covering p and p's cell,
// falling back to the area default.
func crimeRate(c t.CrimeDensity, p t.Coordinate) (float64, string) {
	rate, label, found := 0.0, "area average", false
	for _, z := range c.Zones {
		if route.Distance(z.Center, p) > z.RadiusMeters || z.Rate <= rate {
			continue
		}
		rate, found = z.Rate, true
		label = z.Name
		if z.Label != "" {
			label = fmt.Sprintf("%s (%s)", z.Name, z.Label)
		}
	}
	if len(c.Cells) > 0 {
		if r, ok := c.Cells[route.CellKey(p, c.CellZoom)]; ok && r > rate {
			rate, label, found = r, "local statistics", true
		}
	}
	if !found {
		return math.Min(math.Max(c.Default, 0), 1), label
	}
	return math.Min(rate, 1), label
}

var spotBonus = map[string]float64{
	t.SpotPolice:      10,
	t.SpotHospital:    8,
	t.SpotFireStation: 8,
	t.SpotConvenience: 5,
}

func (e *Evaluator) safetyBonus(spots []t.SafetySpot) (float64, string) {
	var bonus float64
	var names string
	for _, s := range spots {
		b, ok := spotBonus[s.Kind]
		if !ok {
			continue
		}
		bonus += b
		if names != "" {
			names += ", "
		}
		if s.Name != "" {
			names += s.Name
		} else {
			names += s.Kind
		}
	}
	return math.Min(bonus, e.cfg.SafetyBonusCap), names
}

func clamp(score float64) float64 {
	return math.Max(0, math.Min(maxScore, score))
}
