package narrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/evanhutnik/saferoute-service/internal/route"
	t "github.com/evanhutnik/saferoute-service/internal/types"
	"go.uber.org/zap"
)

// Rewriter rephrases a template narrative in the persona's voice.
type Rewriter interface {
	Rewrite(ctx context.Context, persona t.Persona, narrative string) (string, error)
}

// Briefing holds the facts the narrator may talk about. Nothing outside it
// ends up in the narrative.
type Briefing struct {
	Situation  t.SituationContext
	Assessment t.RouteAssessment
	Accepted   bool
	Threshold  float64
	Attempts   []t.AttemptSummary

	// Enriched is set when the visual analysis ran.
	Enriched          bool
	AnalysedPoints    int
	UnavailablePoints int
}

type Narration struct {
	Persona   t.Persona
	Narrative string
	Log       []string
}

type Option func(*Narrator)

func WithRewriter(r Rewriter) Option {
	return func(n *Narrator) { n.rewriter = r }
}

func WithTimeout(d time.Duration) Option {
	return func(n *Narrator) { n.timeout = d }
}

type Narrator struct {
	rewriter Rewriter
	timeout  time.Duration
	logger   *zap.SugaredLogger
}

func New(logger *zap.SugaredLogger, opts ...Option) *Narrator {
	n := &Narrator{timeout: 6 * time.Second, logger: logger}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Narrate explains the briefing. The rewriter only ever replaces the
// narrative, never the log.
func (n *Narrator) Narrate(ctx context.Context, b Briefing) Narration {
	persona := t.PersonaFor(b.Situation.Mode)
	out := Narration{
		Persona:   persona,
		Narrative: Template(persona, b),
		Log:       ThinkingLog(b),
	}
	if n.rewriter == nil {
		return out
	}

	rctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	text, err := n.rewriter.Rewrite(rctx, persona, out.Narrative)
	if err != nil {
		n.logger.Warnw("narrative rewrite failed, keeping template", "persona", persona, "error", err)
		return out
	}
	if text = strings.TrimSpace(text); text != "" {
		out.Narrative = text
	}
	return out
}

// Template renders the narrative without any model involved.
func Template(persona t.Persona, b Briefing) string {
	if persona == t.PersonaTactical {
		return tactical(b)
	}
	return concierge(b)
}

func concierge(b Briefing) string {
	var sb strings.Builder
	if a := b.Situation.Alert; a != nil {
		fmt.Fprintf(&sb, "Please note that a %s alert (%s) is in effect: %s. ", humanize(string(a.Type)), a.Severity, a.Title)
	}

	r := b.Assessment.Route
	fmt.Fprintf(&sb, "I recommend %s, about %s and %s.", routeName(r), minutes(r.DurationSeconds), kilometres(r.DistanceMeters))

	bn, ok := b.Assessment.Bottleneck()
	switch {
	case !ok:
		sb.WriteString(" I could not inspect this route in detail.")
	case b.Accepted:
		fmt.Fprintf(&sb, " Its least safe point scores %.0f out of 100, near %s", bn.Score, place(bn.Coordinate))
		if len(bn.RiskTags) > 0 {
			fmt.Fprintf(&sb, ", where I noticed %s", tagList(bn.RiskTags))
		}
		sb.WriteString(".")
	default:
		fmt.Fprintf(&sb, " None of the routes I found reached the safety score of %.0f, so this is the safest one available. "+
			"Please take extra care near %s, which scores %.0f", b.Threshold, place(bn.Coordinate), bn.Score)
		if len(bn.RiskTags) > 0 {
			fmt.Fprintf(&sb, " because of %s", tagList(bn.RiskTags))
		}
		sb.WriteString(".")
	}

	if flags := b.Situation.DataQuality.Flags(); len(flags) > 0 {
		fmt.Fprintf(&sb, " Some information was unavailable (%s), so this assessment may be incomplete.", strings.Join(flags, ", "))
	}
	return sb.String()
}

func tactical(b Briefing) string {
	var parts []string
	if a := b.Situation.Alert; a != nil {
		parts = append(parts, fmt.Sprintf("WARNING: %s %s.", strings.ReplaceAll(string(a.Type), "_", " "), strings.ToUpper(string(a.Severity))))
	}

	r := b.Assessment.Route
	parts = append(parts, fmt.Sprintf("TAKE %s. %s.", strings.ToUpper(routeName(r)), strings.ToUpper(minutes(r.DurationSeconds))))

	if bn, ok := b.Assessment.Bottleneck(); ok {
		line := fmt.Sprintf("CAUTION AT %s, SCORE %.0f", place(bn.Coordinate), bn.Score)
		if len(bn.RiskTags) > 0 {
			line += ": " + strings.Join(bn.RiskTags, ", ")
		}
		parts = append(parts, line+".")
		if !b.Accepted {
			parts = append(parts, fmt.Sprintf("NO ROUTE MEETS SAFETY SCORE %.0f. MOVE WITH CAUTION.", b.Threshold))
		}
	}

	if flags := b.Situation.DataQuality.Flags(); len(flags) > 0 {
		parts = append(parts, fmt.Sprintf("DATA INCOMPLETE: %s.", strings.ToUpper(strings.Join(flags, ", "))))
	}
	return strings.Join(parts, " ")
}

// ThinkingLog lists the stages that ran, in order.
func ThinkingLog(b Briefing) []string {
	sc := b.Situation
	log := []string{fmt.Sprintf("Gathered context: rain %.1f mm/h, wind %.1f m/s, %d hazard layers, crime baseline %.2f.",
		sc.Weather.PrecipitationMMPerHour, sc.Weather.WindSpeedMPS, presentLayers(sc.HazardLayers), sc.Crime.Default)}

	if a := sc.Alert; a != nil {
		log = append(log, fmt.Sprintf("Detected %s alert (%s) from %s.", a.Type, a.Severity, a.Source))
	}
	log = append(log, fmt.Sprintf("Mode %s, persona %s, safety threshold %.0f.", sc.Mode, t.PersonaFor(sc.Mode), b.Threshold))

	q := sc.DataQuality
	if q.WeatherDegraded {
		if q.WeatherFromCache {
			log = append(log, "Warning: weather unavailable, using the last cached snapshot.")
		} else {
			log = append(log, "Warning: weather unavailable, assuming no rain or wind.")
		}
	}
	if q.AlertDegraded {
		log = append(log, "Warning: disaster alert feed unavailable.")
	}
	if q.HazardDegraded {
		log = append(log, "Warning: hazard maps unavailable, treating the area as hazard free.")
	}
	if q.CrimeDegraded {
		log = append(log, "Warning: crime statistics unavailable.")
	}

	for i, at := range b.Attempts {
		line := fmt.Sprintf("Round %d: %d candidate routes", at.Round+1, at.Candidates)
		if at.FromFallback {
			line += " from fallback data"
		}
		if at.ProviderError != "" {
			line += fmt.Sprintf(", routing failed (%s)", at.ProviderError)
		} else {
			line += fmt.Sprintf(", best bottleneck score %.0f", at.BestScore)
		}
		if i > 0 && len(at.Waypoints) > 0 {
			line += fmt.Sprintf(", via waypoint %s", place(at.Waypoints[len(at.Waypoints)-1]))
		}
		log = append(log, line+".")
	}

	if b.Enriched {
		line := fmt.Sprintf("Inspected street-level imagery at %d points", b.AnalysedPoints)
		if b.UnavailablePoints > 0 {
			line += fmt.Sprintf(", %d unavailable", b.UnavailablePoints)
		}
		log = append(log, line+".")
		if q.ImageryDegraded {
			log = append(log, "Warning: street-level imagery unavailable.")
		}
	}

	a := b.Assessment
	if b.Accepted {
		log = append(log, fmt.Sprintf("Selected route %d: bottleneck %.0f (%s risk), accepted.", a.Route.Index, a.BottleneckScore, a.Level))
	} else {
		log = append(log, fmt.Sprintf("Selected route %d: bottleneck %.0f (%s risk), best available below threshold.", a.Route.Index, a.BottleneckScore, a.Level))
	}
	return log
}

func presentLayers(layers t.HazardLayers) int {
	n := 0
	for _, l := range layers {
		if l.Present {
			n++
		}
	}
	return n
}

func routeName(r t.CandidateRoute) string {
	if r.Summary != "" {
		return "the route via " + r.Summary
	}
	return fmt.Sprintf("route %d", r.Index)
}

func minutes(seconds float64) string {
	m := int(seconds/60 + 0.5)
	if m < 1 {
		m = 1
	}
	if m == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", m)
}

func kilometres(meters float64) string {
	if meters < 1000 {
		return fmt.Sprintf("%.0f m", meters)
	}
	return fmt.Sprintf("%.1f km", meters/1000)
}

func place(c t.Coordinate) string {
	return route.PointKey(c)
}

func humanize(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, "_", " "))
}

func tagList(tags []string) string {
	words := make([]string, len(tags))
	for i, tag := range tags {
		words[i] = humanize(tag)
	}
	if len(words) == 1 {
		return words[0]
	}
	return strings.Join(words[:len(words)-1], ", ") + " and " + words[len(words)-1]
}
