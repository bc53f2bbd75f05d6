package saferoute

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/evanhutnik/saferoute-service/internal/analyst"
	"github.com/evanhutnik/saferoute-service/internal/common"
	"github.com/evanhutnik/saferoute-service/internal/events"
	"github.com/evanhutnik/saferoute-service/internal/narrator"
	"github.com/evanhutnik/saferoute-service/internal/selector"
	"github.com/evanhutnik/saferoute-service/internal/situation"
	t "github.com/evanhutnik/saferoute-service/internal/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type State string

const (
	StateInit          State = "INIT"
	StateGatherContext State = "GATHER_CONTEXT"
	StateSelectRoute   State = "SELECT_ROUTE"
	StateEnrich        State = "ENRICH"
	StateNarrate       State = "NARRATE"
	StateDone          State = "DONE"
	StateError         State = "ERROR"
)

type Geocoder interface {
	GeoCode(ctx context.Context, location string) (*t.Coordinate, error)
}

type Gatherer interface {
	Gather(ctx context.Context, req situation.Request) t.SituationContext
}

type RouteSelector interface {
	Select(ctx context.Context, sc t.SituationContext, sink events.Sink) (*selector.Outcome, error)
}

type Evaluator interface {
	Evaluate(r t.CandidateRoute, sc t.SituationContext) t.RouteAssessment
	EvaluatePoint(r t.CandidateRoute, i int, sc t.SituationContext) t.PointAssessment
	Threshold(m t.Mode) float64
}

type Analyzer interface {
	Analyze(ctx context.Context, r t.CandidateRoute, emit func(analyst.PointResult)) []analyst.PointResult
}

type Narrator interface {
	Narrate(ctx context.Context, b narrator.Briefing) narrator.Narration
}

type OrchestratorOption func(*Orchestrator)

func WithGeocoder(g Geocoder) OrchestratorOption {
	return func(o *Orchestrator) { o.geocoder = g }
}

// WithAnalyzer enables the enrichment stage.
func WithAnalyzer(a Analyzer) OrchestratorOption {
	return func(o *Orchestrator) { o.analyzer = a }
}

func WithMaxAlternatives(n int) OrchestratorOption {
	return func(o *Orchestrator) { o.maxAlternatives = n }
}

// WithTransitions observes state changes, mainly for tests.
func WithTransitions(fn func(requestID string, from, to State)) OrchestratorOption {
	return func(o *Orchestrator) { o.onTransition = fn }
}

// Orchestrator runs one request through the pipeline.
type Orchestrator struct {
	geocoder        Geocoder
	gatherer        Gatherer
	selector        RouteSelector
	eval            Evaluator
	analyzer        Analyzer
	narrator        Narrator
	maxAlternatives int
	onTransition    func(requestID string, from, to State)
	logger          *zap.SugaredLogger
}

func NewOrchestrator(g Gatherer, s RouteSelector, e Evaluator, n Narrator, logger *zap.SugaredLogger, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		gatherer:        g,
		selector:        s,
		eval:            e,
		narrator:        n,
		maxAlternatives: 2,
		logger:          logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// run is the request-scoped state of one pipeline execution.
type run struct {
	id    string
	state State
	sink  events.Sink
	o     *Orchestrator
}

func (r *run) to(s State) {
	if r.o.onTransition != nil {
		r.o.onTransition(r.id, r.state, s)
	}
	r.o.logger.Debugw("state transition", "requestId", r.id, "from", r.state, "to", s)
	r.state = s
}

// fail moves the run to ERROR and publishes the terminal error event.
func (r *run) fail(err error) error {
	ce := common.AsCodeError(err)
	r.to(StateError)
	if ce.Code == common.CodeCancelled {
		r.o.logger.Infow("request cancelled", "requestId", r.id, "error", err)
	} else {
		r.o.logger.Errorw("request failed", "requestId", r.id, "code", ce.Code, "error", err)
	}
	r.sink.Publish(events.Error{Code: ce.Code, Message: ce.Msg})
	return ce
}

// Run executes the pipeline for req. Progress goes to sink, ending with
// exactly one result or error event. Only an unavailable routing provider,
// an unusable request or cancellation produce an error; every other
// failure degrades the result.
func (o *Orchestrator) Run(ctx context.Context, req t.RouteRequest, sink events.Sink) (*t.FinalResult, error) {
	return o.RunWithID(ctx, "", req, sink)
}

// RunWithID is Run with a caller supplied request id.
func (o *Orchestrator) RunWithID(ctx context.Context, id string, req t.RouteRequest, sink events.Sink) (*t.FinalResult, error) {
	if sink == nil {
		sink = events.Discard
	}
	if id == "" {
		id = uuid.NewString()
	}
	r := &run{id: id, state: StateInit, sink: sink, o: o}
	return o.execute(ctx, r, req)
}

func (o *Orchestrator) execute(ctx context.Context, r *run, req t.RouteRequest) (*t.FinalResult, error) {
	override, err := parseOverride(req.AlertTypeOverride)
	if err != nil {
		return nil, r.fail(err)
	}
	sink := r.sink
	sink.Publish(events.AgentStatus{Agent: events.AgentContext, Status: events.StateWaiting, Progress: 0, Message: "Resolving locations"})
	origin, destination, err := o.tripCoordinates(ctx, req)
	if err != nil {
		return nil, r.fail(err)
	}

	r.to(StateGatherContext)
	sink.Publish(events.AgentStatus{Agent: events.AgentContext, Status: events.StateProcessing, Progress: 10,
		Message: "Checking weather, disaster alerts, hazard maps and crime data"})
	sc := o.gatherer.Gather(ctx, situation.Request{Origin: origin, Destination: destination, Mode: req.Mode, Override: override})
	if err := ctx.Err(); err != nil {
		return nil, r.fail(common.Cancelled(err))
	}
	if sc.Alert != nil {
		sink.Publish(events.Status{Agent: events.AgentContext, Message: fmt.Sprintf("%s alert (%s): %s", sc.Alert.Type, sc.Alert.Severity, sc.Alert.Title)})
	}
	if flags := sc.DataQuality.Flags(); len(flags) > 0 {
		sink.Publish(events.Status{Agent: events.AgentContext, Message: "Degraded data: " + strings.Join(flags, ", ")})
	}
	sink.Publish(events.AgentStatus{Agent: events.AgentContext, Status: events.StateComplete, Progress: 100,
		Message: fmt.Sprintf("%s mode, safety threshold %.0f", sc.Mode, o.eval.Threshold(sc.Mode))})

	r.to(StateSelectRoute)
	outcome, err := o.selector.Select(ctx, sc, sink)
	if err != nil {
		return nil, r.fail(err)
	}
	selected := outcome.Best

	b := narrator.Briefing{
		Threshold: o.eval.Threshold(sc.Mode),
		Attempts:  outcome.Attempts,
	}
	var points []t.PointAssessment
	if o.analyzer != nil && len(selected.Route.SamplePoints) > 0 {
		r.to(StateEnrich)
		var failed int
		selected, points, failed = o.enrich(ctx, sink, selected, sc)
		if err := ctx.Err(); err != nil {
			return nil, r.fail(common.Cancelled(err))
		}
		b.Enriched, b.AnalysedPoints, b.UnavailablePoints = true, len(points), failed
		if len(points) > 0 && failed == len(points) {
			sc.DataQuality.ImageryDegraded = true
		}
	}

	r.to(StateNarrate)
	sink.Publish(events.AgentStatus{Agent: events.AgentNarrator, Status: events.StateProcessing, Progress: 0, Message: "Writing the briefing"})
	b.Situation = sc
	b.Assessment = selected
	b.Accepted = outcome.State == selector.StateAccepted
	narration := o.narrator.Narrate(ctx, b)
	if err := ctx.Err(); err != nil {
		return nil, r.fail(common.Cancelled(err))
	}
	sink.Publish(events.AgentStatus{Agent: events.AgentNarrator, Status: events.StateComplete, Progress: 100, Message: "Briefing ready"})

	result := &t.FinalResult{
		RequestID:     r.id,
		Mode:          sc.Mode,
		Persona:       narration.Persona,
		Alert:         sc.Alert,
		SelectedRoute: selected.Route,
		Assessment:    selected,
		Alternatives:  o.alternatives(outcome.Ranked, selected.Route),
		Points:        points,
		Attempts:      outcome.Attempts,
		Narrative:     narration.Narrative,
		ThinkingLog:   narration.Log,
		DataQuality:   sc.DataQuality,
	}
	if flags := sc.DataQuality.Flags(); len(flags) > 0 {
		result.PartialFailure = &t.PartialFailure{
			Code:    common.CodePartialDataFailure,
			Message: "Some data sources were unavailable: " + strings.Join(flags, ", "),
		}
	}

	r.to(StateDone)
	sink.Publish(events.Result{Data: NewRouteResponse(result)})
	return result, nil
}

// enrich runs the visual analysis on the selected route. Imagery, tags and
// errors are merged into the selected points; scores, level and threshold
// verdict stay as selected.
func (o *Orchestrator) enrich(ctx context.Context, sink events.Sink, selected t.RouteAssessment, sc t.SituationContext) (t.RouteAssessment, []t.PointAssessment, int) {
	sink.Publish(events.AgentStatus{Agent: events.AgentAnalyst, Status: events.StateProcessing, Progress: 0, Message: "Inspecting street-level imagery"})

	base := selected.Route
	results := o.analyzer.Analyze(ctx, base, func(res analyst.PointResult) {
		one := analyst.Apply(base, []analyst.PointResult{res})
		seen := o.eval.EvaluatePoint(one, res.Index, sc)
		sink.Publish(events.AnalysisPoint{Point: withImagery(selected.PointAssessments, res.Index, seen)})
	})

	visual := o.eval.Evaluate(analyst.Apply(base, results), sc)
	enriched := selected
	enriched.Route = visual.Route
	enriched.PointAssessments = append([]t.PointAssessment(nil), selected.PointAssessments...)
	enriched.AggregateTags = mergeTags(selected.AggregateTags, visual.AggregateTags)
	if len(visual.PointAssessments) > 0 {
		score := visual.BottleneckScore
		enriched.VisualScore = &score
	}

	points := make([]t.PointAssessment, 0, len(results))
	failed := 0
	for _, res := range results {
		if res.Error != "" {
			failed++
		}
		if res.Index < 0 || res.Index >= len(enriched.PointAssessments) || res.Index >= len(visual.PointAssessments) {
			continue
		}
		p := withImagery(enriched.PointAssessments, res.Index, visual.PointAssessments[res.Index])
		enriched.PointAssessments[res.Index] = p
		points = append(points, p)
	}

	sink.Publish(events.AgentStatus{Agent: events.AgentAnalyst, Status: events.StateComplete, Progress: 100,
		Message: fmt.Sprintf("Inspected %d points, %d unavailable", len(results), failed)})
	return enriched, points, failed
}

// withImagery returns points[i] carrying what the analysis saw there. The
// score and factors are the ones the route was selected on.
func withImagery(points []t.PointAssessment, i int, seen t.PointAssessment) t.PointAssessment {
	if i < 0 || i >= len(points) {
		return seen
	}
	p := points[i]
	p.RiskTags = mergeTags(p.RiskTags, seen.RiskTags)
	p.ImageURL = seen.ImageURL
	p.Atmosphere = seen.Atmosphere
	p.Error = seen.Error
	return p
}

func mergeTags(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	seen := make(map[string]bool, len(a)+len(b))
	for _, tags := range [][]string{a, b} {
		for _, tag := range tags {
			if !seen[tag] {
				seen[tag] = true
				out = append(out, tag)
			}
		}
	}
	return out
}

// alternatives are the next best distinct routes after the selected one.
func (o *Orchestrator) alternatives(ranked []t.RouteAssessment, selected t.CandidateRoute) []t.RouteAssessment {
	seen := map[string]bool{selected.Polyline: true}
	var out []t.RouteAssessment
	for _, a := range ranked {
		if len(out) >= o.maxAlternatives {
			break
		}
		if seen[a.Route.Polyline] {
			continue
		}
		seen[a.Route.Polyline] = true
		out = append(out, a)
	}
	return out
}

// tripCoordinates resolves both ends of the trip concurrently.
func (o *Orchestrator) tripCoordinates(ctx context.Context, req t.RouteRequest) (t.Coordinate, t.Coordinate, error) {
	var origin, destination t.Coordinate
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		origin, err = o.geoCode(gctx, "origin", req.Origin)
		return err
	})
	g.Go(func() error {
		var err error
		destination, err = o.geoCode(gctx, "destination", req.Destination)
		return err
	})
	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return t.Coordinate{}, t.Coordinate{}, common.Cancelled(ctxErr)
		}
		return t.Coordinate{}, t.Coordinate{}, err
	}
	return origin, destination, nil
}

func (o *Orchestrator) geoCode(ctx context.Context, field string, l t.Location) (t.Coordinate, error) {
	if l.Coordinate != nil {
		return *l.Coordinate, nil
	}
	query := strings.TrimSpace(l.Query)
	if query == "" {
		return t.Coordinate{}, common.InvalidRequest(fmt.Sprintf("missing %s", field))
	}
	if o.geocoder == nil {
		return t.Coordinate{}, common.InvalidRequest(fmt.Sprintf("%s must be a coordinate", field))
	}
	c, err := o.geocoder.GeoCode(ctx, query)
	if err != nil {
		return t.Coordinate{}, common.NewCodeError(common.CodeGeocodeFailed, http.StatusBadGateway,
			fmt.Sprintf("internal error geocoding %s '%v'", field, query)).WithCause(err)
	}
	if c == nil {
		return t.Coordinate{}, common.NewCodeError(common.CodeGeocodeFailed, http.StatusBadRequest,
			fmt.Sprintf("unrecognized %s '%v', check spelling or be more specific", field, query))
	}
	return *c, nil
}

func parseOverride(s string) (*t.AlertType, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	at, ok := t.ParseAlertType(s)
	if !ok {
		return nil, common.InvalidRequest(fmt.Sprintf("unknown alertTypeOverride '%v'", s))
	}
	return &at, nil
}
