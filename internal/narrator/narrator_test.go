package narrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/evanhutnik/saferoute-service/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type rewriterFunc func(ctx context.Context, persona types.Persona, narrative string) (string, error)

func (f rewriterFunc) Rewrite(ctx context.Context, persona types.Persona, narrative string) (string, error) {
	return f(ctx, persona, narrative)
}

var bottleneck = types.Coordinate{Latitude: 35.66, Longitude: 139.75}

func briefing(mode types.Mode, accepted bool) Briefing {
	assessment := types.RouteAssessment{
		Route: types.CandidateRoute{Index: 2, Summary: "Hibiya-dori", DurationSeconds: 1500, DistanceMeters: 2100},
		PointAssessments: []types.PointAssessment{
			{Coordinate: types.Coordinate{Latitude: 35.68, Longitude: 139.76}, Score: 90, RiskTags: []string{}},
			{Coordinate: bottleneck, Score: 35, RiskTags: []string{types.TagFloodRisk, types.TagCrimeRisk}},
		},
		BottleneckScore: 35,
		BottleneckIndex: 1,
		Level:           types.RiskMedium,
		BelowThreshold:  !accepted,
	}
	return Briefing{
		Situation:  types.SituationContext{Mode: mode},
		Assessment: assessment,
		Accepted:   accepted,
		Threshold:  40,
		Attempts:   []types.AttemptSummary{{Round: 0, Candidates: 3, BestScore: 35}},
	}
}

func TestConciergeMentionsFindings(t *testing.T) {
	b := briefing(types.ModeNormal, false)
	b.Threshold = 60
	alert := types.NewAlert(types.AlertRain, types.SeverityAdvisory, "Light rain", "", "openweather")
	b.Situation.Alert = &alert
	b.Situation.DataQuality.CrimeDegraded = true

	out := New(zap.NewNop().Sugar()).Narrate(context.Background(), b)
	assert.Equal(t, types.PersonaConcierge, out.Persona)
	assert.Contains(t, out.Narrative, "rain alert (advisory)")
	assert.Contains(t, out.Narrative, "Hibiya-dori")
	assert.Contains(t, out.Narrative, "25 minutes")
	assert.Contains(t, out.Narrative, "2.1 km")
	assert.Contains(t, out.Narrative, "safety score of 60")
	assert.Contains(t, out.Narrative, "35.660000,139.750000")
	assert.Contains(t, out.Narrative, "flood risk and crime risk")
	assert.Contains(t, out.Narrative, "(crime)")
}

func TestTacticalIsTerse(t *testing.T) {
	b := briefing(types.ModeEmergency, true)
	alert := types.NewAlert(types.AlertTsunami, types.SeverityCritical, "Major tsunami warning", "", "p2pquake")
	b.Situation.Alert = &alert

	out := New(zap.NewNop().Sugar()).Narrate(context.Background(), b)
	assert.Equal(t, types.PersonaTactical, out.Persona)
	assert.Contains(t, out.Narrative, "WARNING: TSUNAMI CRITICAL.")
	assert.Contains(t, out.Narrative, "TAKE THE ROUTE VIA HIBIYA-DORI. 25 MINUTES.")
	assert.Contains(t, out.Narrative, "FLOOD_RISK, CRIME_RISK")
	assert.NotContains(t, out.Narrative, "NO ROUTE MEETS")
	assert.NotContains(t, out.Narrative, "Please")
}

func TestNoFabricatedDetails(t *testing.T) {
	b := briefing(types.ModeNormal, true)
	b.Assessment.PointAssessments[1].RiskTags = []string{}

	out := New(zap.NewNop().Sugar()).Narrate(context.Background(), b)
	assert.NotContains(t, out.Narrative, "alert")
	assert.NotContains(t, out.Narrative, "noticed")
	assert.NotContains(t, out.Narrative, "unavailable")
}

func TestThinkingLogMirrorsStages(t *testing.T) {
	b := briefing(types.ModeEmergency, true)
	b.Situation.DataQuality = types.DataQuality{WeatherDegraded: true, WeatherFromCache: true, HazardDegraded: true}
	b.Attempts = []types.AttemptSummary{
		{Round: 0, Candidates: 3, BestScore: 20},
		{Round: 1, Candidates: 2, BestScore: 45, Waypoints: []types.Coordinate{bottleneck}},
	}
	b.Enriched, b.AnalysedPoints, b.UnavailablePoints = true, 5, 1

	log := ThinkingLog(b)
	require.Len(t, log, 8)
	assert.Contains(t, log[0], "Gathered context")
	assert.Contains(t, log[1], "Mode EMERGENCY, persona TACTICAL, safety threshold 40")
	assert.Contains(t, log[2], "last cached snapshot")
	assert.Contains(t, log[3], "hazard maps unavailable")
	assert.Equal(t, "Round 1: 3 candidate routes, best bottleneck score 20.", log[4])
	assert.Equal(t, "Round 2: 2 candidate routes, best bottleneck score 45, via waypoint 35.660000,139.750000.", log[5])
	assert.Equal(t, "Inspected street-level imagery at 5 points, 1 unavailable.", log[6])
	assert.Contains(t, log[7], "accepted")
}

func TestRewriter(t *testing.T) {
	b := briefing(types.ModeNormal, true)
	template := Template(types.PersonaConcierge, b)

	polite := rewriterFunc(func(_ context.Context, p types.Persona, narrative string) (string, error) {
		assert.Equal(t, types.PersonaConcierge, p)
		assert.Equal(t, template, narrative)
		return "  A calm walk along Hibiya-dori.  ", nil
	})
	out := New(zap.NewNop().Sugar(), WithRewriter(polite)).Narrate(context.Background(), b)
	assert.Equal(t, "A calm walk along Hibiya-dori.", out.Narrative)

	empty := rewriterFunc(func(context.Context, types.Persona, string) (string, error) { return " ", nil })
	out = New(zap.NewNop().Sugar(), WithRewriter(empty)).Narrate(context.Background(), b)
	assert.Equal(t, template, out.Narrative)

	failing := rewriterFunc(func(context.Context, types.Persona, string) (string, error) { return "", errors.New("quota") })
	out = New(zap.NewNop().Sugar(), WithRewriter(failing)).Narrate(context.Background(), b)
	assert.Equal(t, template, out.Narrative)

	slow := rewriterFunc(func(ctx context.Context, _ types.Persona, _ string) (string, error) {
		<-ctx.Done()
		return "too late", ctx.Err()
	})
	out = New(zap.NewNop().Sugar(), WithRewriter(slow), WithTimeout(10*time.Millisecond)).Narrate(context.Background(), b)
	assert.Equal(t, template, out.Narrative)
}
