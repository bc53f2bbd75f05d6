package survey

import (
	"context"
	"sync"
	"time"

	"github.com/evanhutnik/saferoute-service/internal/route"
	t "github.com/evanhutnik/saferoute-service/internal/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type ElevationSource interface {
	Elevations(ctx context.Context, points []t.Coordinate) ([]float64, error)
}

type SpotSource interface {
	SafetySpots(ctx context.Context, p t.Coordinate) ([]t.SafetySpot, error)
}

type ShadowSource interface {
	Shadow(ctx context.Context, p t.Coordinate) (bool, error)
}

type Option func(*Surveyor)

// Surveyor gathers per-point adjunct data. Every source is optional and
// a failing source only leaves its field empty.
type Surveyor struct {
	elevation   ElevationSource
	spots       SpotSource
	shadow      ShadowSource
	timeout     time.Duration
	concurrency int
	logger      *zap.SugaredLogger
}

func WithElevation(s ElevationSource) Option {
	return func(sv *Surveyor) { sv.elevation = s }
}

func WithSpots(s SpotSource) Option {
	return func(sv *Surveyor) { sv.spots = s }
}

func WithShadow(s ShadowSource) Option {
	return func(sv *Surveyor) { sv.shadow = s }
}

func WithTimeout(d time.Duration) Option {
	return func(sv *Surveyor) { sv.timeout = d }
}

func WithConcurrency(n int) Option {
	return func(sv *Surveyor) { sv.concurrency = n }
}

func New(logger *zap.SugaredLogger, opts ...Option) *Surveyor {
	s := &Surveyor{timeout: 4 * time.Second, concurrency: 8, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	if s.concurrency < 1 {
		s.concurrency = 1
	}
	return s
}

// Enabled reports whether any source is configured.
func (s *Surveyor) Enabled() bool {
	return s.elevation != nil || s.spots != nil || s.shadow != nil
}

// Survey fetches features once per distinct point, keyed by route.PointKey.
// Each lookup gets its own timeout; ctx bounds the survey as a whole.
func (s *Surveyor) Survey(ctx context.Context, points []t.Coordinate) map[string]t.PointFeatures {
	out := make(map[string]t.PointFeatures, len(points))
	if len(points) == 0 || !s.Enabled() {
		return out
	}
	var mu sync.Mutex
	update := func(p t.Coordinate, fn func(f *t.PointFeatures)) {
		mu.Lock()
		defer mu.Unlock()
		key := route.PointKey(p)
		f := out[key]
		fn(&f)
		out[key] = f
	}

	g := new(errgroup.Group)
	g.SetLimit(s.concurrency)

	if s.elevation != nil {
		g.Go(func() error {
			ctx, cancel := s.lookupContext(ctx)
			defer cancel()
			elevations, err := s.elevation.Elevations(ctx, points)
			if err != nil {
				s.logger.Warnw("elevation survey failed", "points", len(points), "error", err)
				return nil
			}
			for i, e := range elevations {
				if i >= len(points) {
					break
				}
				update(points[i], func(f *t.PointFeatures) { f.ElevationMeters = &e })
			}
			return nil
		})
	}

	for _, p := range points {
		if s.spots != nil {
			g.Go(func() error {
				ctx, cancel := s.lookupContext(ctx)
				defer cancel()
				spots, err := s.spots.SafetySpots(ctx, p)
				if err != nil {
					s.logger.Debugw("safety spot lookup failed", "point", p.String(), "error", err)
					return nil
				}
				if len(spots) > 0 {
					update(p, func(f *t.PointFeatures) { f.SafetySpots = spots })
				}
				return nil
			})
		}
		if s.shadow != nil {
			g.Go(func() error {
				ctx, cancel := s.lookupContext(ctx)
				defer cancel()
				shadow, err := s.shadow.Shadow(ctx, p)
				if err != nil {
					s.logger.Debugw("shadow lookup failed", "point", p.String(), "error", err)
					return nil
				}
				if shadow {
					update(p, func(f *t.PointFeatures) { f.Shadow = true })
				}
				return nil
			})
		}
	}
	_ = g.Wait()
	return out
}

// lookupContext bounds a single lookup. The clock starts when the lookup
// gets a worker slot, not when the survey starts.
func (s *Surveyor) lookupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Attach fills each route's Features from surveyed features.
func Attach(routes []t.CandidateRoute, features map[string]t.PointFeatures) {
	if len(features) == 0 {
		return
	}
	for i := range routes {
		fs := make([]t.PointFeatures, len(routes[i].SamplePoints))
		for j, p := range routes[i].SamplePoints {
			fs[j] = features[route.PointKey(p)]
		}
		routes[i].Features = fs
	}
}
