package selector

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/evanhutnik/saferoute-service/internal/common"
	"github.com/evanhutnik/saferoute-service/internal/config"
	"github.com/evanhutnik/saferoute-service/internal/events"
	"github.com/evanhutnik/saferoute-service/internal/route"
	"github.com/evanhutnik/saferoute-service/internal/survey"
	t "github.com/evanhutnik/saferoute-service/internal/types"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// mockMatchMeters is how close a request endpoint must be to a configured
// mock route endpoint for the mock to apply.
const mockMatchMeters = 300

type Router interface {
	Routes(ctx context.Context, origin, destination t.Coordinate, waypoints []t.Coordinate, alternatives int) ([]t.CandidateRoute, error)
}

type RouteCache interface {
	Get(ctx context.Context, origin, destination t.Coordinate) ([]t.CandidateRoute, bool, error)
	Put(ctx context.Context, origin, destination t.Coordinate, routes []t.CandidateRoute) error
}

type Surveyor interface {
	Survey(ctx context.Context, points []t.Coordinate) map[string]t.PointFeatures
}

type Evaluator interface {
	Evaluate(r t.CandidateRoute, sc t.SituationContext) t.RouteAssessment
	Threshold(m t.Mode) float64
}

type State string

const (
	StateAccepted  State = "ACCEPTED"
	StateExhausted State = "EXHAUSTED"
)

// MockRoute is served when the provider is down and both endpoints match.
type MockRoute struct {
	Origin      t.Coordinate
	Destination t.Coordinate
	Route       t.CandidateRoute
}

// ParseMockRoutes reads mock routes whose endpoints are "lat,lng" strings.
func ParseMockRoutes(cfg []config.MockRoute) ([]MockRoute, error) {
	out := make([]MockRoute, 0, len(cfg))
	for i, m := range cfg {
		o, err := parseLatLng(m.Origin)
		if err != nil {
			return nil, errors.Wrapf(err, "mock route %d origin", i)
		}
		d, err := parseLatLng(m.Destination)
		if err != nil {
			return nil, errors.Wrapf(err, "mock route %d destination", i)
		}
		if _, err := route.Decode(m.Polyline); err != nil {
			return nil, errors.Wrapf(err, "mock route %d polyline", i)
		}
		out = append(out, MockRoute{Origin: o, Destination: d, Route: t.CandidateRoute{
			Polyline:        m.Polyline,
			Summary:         m.Summary,
			DurationSeconds: m.DurationSeconds,
			DistanceMeters:  m.DistanceMeters,
		}})
	}
	return out, nil
}

func parseLatLng(s string) (t.Coordinate, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return t.Coordinate{}, errors.Errorf("expected lat,lng, got %q", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return t.Coordinate{}, errors.Wrapf(err, "latitude %q", parts[0])
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return t.Coordinate{}, errors.Wrapf(err, "longitude %q", parts[1])
	}
	return t.Coordinate{Latitude: lat, Longitude: lng}, nil
}

type Config struct {
	// MaxRetries counts routing rounds, the first included.
	MaxRetries     int
	IntervalMeters float64
	Alternatives   int
	Timeout        time.Duration
}

type Option func(*Selector)

func WithRouteCache(c RouteCache) Option {
	return func(s *Selector) { s.cache = c }
}

func WithSurveyor(sv Surveyor) Option {
	return func(s *Selector) { s.surveyor = sv }
}

func WithMockRoutes(m []MockRoute) Option {
	return func(s *Selector) { s.mocks = m }
}

type Selector struct {
	router   Router
	eval     Evaluator
	cache    RouteCache
	surveyor Surveyor
	mocks    []MockRoute
	cfg      Config
	logger   *zap.SugaredLogger
}

func New(router Router, eval Evaluator, cfg Config, logger *zap.SugaredLogger, opts ...Option) *Selector {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	if cfg.IntervalMeters <= 0 {
		cfg.IntervalMeters = 100
	}
	if cfg.Alternatives < 1 {
		cfg.Alternatives = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 8 * time.Second
	}
	s := &Selector{router: router, eval: eval, cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Outcome is what the retry loop settled on.
type Outcome struct {
	State State
	Best  t.RouteAssessment
	// Ranked holds every evaluated candidate of every round, best first.
	Ranked    []t.RouteAssessment
	Attempts  []t.AttemptSummary
	Waypoints []t.Coordinate
}

// retryState is the loop's bookkeeping for one request.
type retryState struct {
	attempt   int
	tried     []t.Coordinate
	evaluated []t.RouteAssessment
	best      *t.RouteAssessment
}

// Select requests candidate routes, scores them, and retries with a
// corrective waypoint until a route clears the mode's threshold or the
// round budget is spent. It fails only when the very first round gets no
// routes at all, or when ctx is cancelled.
func (s *Selector) Select(ctx context.Context, sc t.SituationContext, sink events.Sink) (*Outcome, error) {
	if sink == nil {
		sink = events.Discard
	}
	threshold := s.eval.Threshold(sc.Mode)
	st := &retryState{}
	var attempts []t.AttemptSummary

	for ; st.attempt < s.cfg.MaxRetries; st.attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, common.Cancelled(err)
		}
		sink.Publish(events.AgentStatus{
			Agent:    events.AgentNavigator,
			Status:   events.StateProcessing,
			Progress: 100 * st.attempt / s.cfg.MaxRetries,
			Message:  fmt.Sprintf("Requesting routes (round %d of %d)", st.attempt+1, s.cfg.MaxRetries),
		})

		summary := t.AttemptSummary{Round: st.attempt, Waypoints: slices.Clone(st.tried)}
		routes, fromFallback, err := s.candidates(ctx, sc.Origin, sc.Destination, st.tried)
		if err == nil {
			routes = s.sample(routes, len(st.evaluated))
			if len(routes) == 0 {
				err = errors.New("no route could be sampled")
			}
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, common.Cancelled(ctxErr)
			}
			if st.best == nil {
				return nil, common.NewCodeError(common.CodeRouteProviderUnavailable, http.StatusBadGateway,
					"routing provider unavailable").WithCause(err)
			}
			s.logger.Warnw("routing round failed, keeping best route so far", "round", st.attempt, "error", err)
			summary.ProviderError = err.Error()
			attempts = append(attempts, summary)
			break
		}
		summary.FromFallback = fromFallback
		summary.Candidates = len(routes)

		s.publishRound(sink, routes)
		s.survey(ctx, routes)

		round := make([]t.RouteAssessment, len(routes))
		for i, r := range routes {
			round[i] = s.eval.Evaluate(r, sc)
		}
		rank(round)
		summary.BestScore = round[0].BottleneckScore
		attempts = append(attempts, summary)

		st.evaluated = append(st.evaluated, round...)
		if st.best == nil || better(round[0], *st.best) {
			best := round[0]
			st.best = &best
		}
		if st.best.BottleneckScore >= threshold {
			break
		}
		if st.attempt+1 >= s.cfg.MaxRetries {
			break
		}

		wp, ok := correctiveWaypoint(st.evaluated, threshold)
		if !ok || tried(st.tried, wp) {
			s.logger.Infow("no new corrective waypoint, stopping", "round", st.attempt)
			break
		}
		st.tried = append(st.tried, wp)
		sink.Publish(events.Status{
			Agent:   events.AgentNavigator,
			Message: fmt.Sprintf("Best route scores %.0f, below %.0f. Retrying via %v", st.best.BottleneckScore, threshold, wp),
		})
	}

	best := *st.best
	best.BelowThreshold = best.BottleneckScore < threshold
	out := &Outcome{
		State:     StateAccepted,
		Best:      best,
		Ranked:    slices.Clone(st.evaluated),
		Attempts:  attempts,
		Waypoints: st.tried,
	}
	if best.BelowThreshold {
		out.State = StateExhausted
	}
	rank(out.Ranked)

	sink.Publish(events.AgentStatus{
		Agent:    events.AgentNavigator,
		Status:   events.StateComplete,
		Progress: 100,
		Message:  fmt.Sprintf("Selected route scoring %.0f after %d round(s)", best.BottleneckScore, len(attempts)),
	})
	return out, nil
}

// candidates asks the provider for routes. Without waypoints a failing
// provider falls back to cached and then mock routes.
func (s *Selector) candidates(ctx context.Context, origin, destination t.Coordinate, waypoints []t.Coordinate) ([]t.CandidateRoute, bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	routes, err := s.router.Routes(callCtx, origin, destination, waypoints, s.cfg.Alternatives)
	cancel()
	if err == nil && len(routes) > 0 {
		if s.cache != nil && len(waypoints) == 0 {
			if err := s.cache.Put(ctx, origin, destination, routes); err != nil {
				s.logger.Warnw("route cache write failed", "error", err)
			}
		}
		return routes, false, nil
	}
	if err == nil {
		err = errors.New("provider returned no routes")
	}
	s.logger.Warnw("routing provider failed", "origin", origin.String(), "destination", destination.String(),
		"waypoints", len(waypoints), "error", err)
	if len(waypoints) > 0 || ctx.Err() != nil {
		return nil, false, err
	}

	if s.cache != nil {
		cached, ok, cerr := s.cache.Get(ctx, origin, destination)
		if cerr != nil {
			s.logger.Warnw("route cache read failed", "error", cerr)
		} else if ok {
			return markFallback(cached), true, nil
		}
	}
	var mocks []t.CandidateRoute
	for _, m := range s.mocks {
		if route.Distance(m.Origin, origin) <= mockMatchMeters && route.Distance(m.Destination, destination) <= mockMatchMeters {
			mocks = append(mocks, m.Route)
		}
	}
	if len(mocks) > 0 {
		return markFallback(mocks), true, nil
	}
	return nil, false, err
}

func markFallback(routes []t.CandidateRoute) []t.CandidateRoute {
	out := make([]t.CandidateRoute, len(routes))
	for i, r := range routes {
		r.FromFallback = true
		out[i] = r
	}
	return out
}

// sample resamples every route and numbers them from offset. Routes whose
// polyline cannot be decoded are dropped.
func (s *Selector) sample(routes []t.CandidateRoute, offset int) []t.CandidateRoute {
	out := make([]t.CandidateRoute, 0, len(routes))
	for _, r := range routes {
		points, err := route.Sample(r.Polyline, s.cfg.IntervalMeters)
		if err != nil {
			s.logger.Warnw("dropping unusable route", "summary", r.Summary, "error", err)
			continue
		}
		r.SamplePoints = points
		r.Features = nil
		r.Index = offset + len(out)
		out = append(out, r)
	}
	return out
}

func (s *Selector) survey(ctx context.Context, routes []t.CandidateRoute) {
	if s.surveyor == nil {
		return
	}
	survey.Attach(routes, s.surveyor.Survey(ctx, route.UniquePoints(routes)))
}

func (s *Selector) publishRound(sink events.Sink, routes []t.CandidateRoute) {
	lines := make([]events.RouteLine, len(routes))
	var points []t.Coordinate
	for i, r := range routes {
		lines[i] = events.RouteLine{Index: r.Index, Polyline: r.Polyline}
		points = append(points, r.SamplePoints...)
	}
	sink.Publish(events.CandidateRoutes{Routes: lines})
	sink.Publish(events.SamplingPoints{Points: points})
}

// better orders assessments by bottleneck score, then by shorter duration.
func better(a, b t.RouteAssessment) bool {
	if a.BottleneckScore != b.BottleneckScore {
		return a.BottleneckScore > b.BottleneckScore
	}
	return a.Route.DurationSeconds < b.Route.DurationSeconds
}

func rank(as []t.RouteAssessment) {
	slices.SortStableFunc(as, func(a, b t.RouteAssessment) int {
		switch {
		case better(a, b):
			return -1
		case better(b, a):
			return 1
		}
		return 0
	})
}

// correctiveWaypoint is the centroid of every sample point scoring above
// threshold, or the single best point when there is none.
func correctiveWaypoint(evaluated []t.RouteAssessment, threshold float64) (t.Coordinate, bool) {
	var safe []t.Coordinate
	var bestPoint t.Coordinate
	bestScore, found := -1.0, false
	for _, a := range evaluated {
		for _, p := range a.PointAssessments {
			if p.Score > threshold {
				safe = append(safe, p.Coordinate)
			}
			if p.Score > bestScore {
				bestScore, bestPoint, found = p.Score, p.Coordinate, true
			}
		}
	}
	if c, ok := route.Centroid(safe); ok {
		return c, true
	}
	return bestPoint, found
}

func tried(waypoints []t.Coordinate, wp t.Coordinate) bool {
	key := route.PointKey(wp)
	for _, w := range waypoints {
		if route.PointKey(w) == key {
			return true
		}
	}
	return false
}
