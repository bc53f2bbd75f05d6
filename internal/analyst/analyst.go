package analyst

import (
	"context"
	"sync"
	"time"

	"github.com/evanhutnik/saferoute-service/internal/route"
	t "github.com/evanhutnik/saferoute-service/internal/types"
	"github.com/paulmach/orb/geo"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Unavailable marks a point whose imagery could not be analysed.
const Unavailable = "unavailable"

type Imagery interface {
	Available(ctx context.Context, p t.Coordinate) (bool, error)
	ImageURL(p t.Coordinate, heading float64) string
	Image(ctx context.Context, url string) ([]byte, string, error)
}

type VibeScorer interface {
	Vibe(ctx context.Context, image []byte, contentType string) (t.Vibe, error)
}

// PointResult is the analysis of one sample point of the route.
type PointResult struct {
	Index int
	Vibe  *t.Vibe
	Error string
}

type Option func(*Analyst)

func WithScorer(s VibeScorer) Option {
	return func(a *Analyst) { a.scorer = s }
}

func WithMaxPoints(n int) Option {
	return func(a *Analyst) { a.maxPoints = n }
}

func WithConcurrency(n int) Option {
	return func(a *Analyst) { a.concurrency = n }
}

// WithTimeout bounds the analysis of a single point.
func WithTimeout(d time.Duration) Option {
	return func(a *Analyst) { a.timeout = d }
}

// Analyst looks at street-level imagery along the selected route. Without a
// scorer the image is attached with a neutral score.
type Analyst struct {
	imagery     Imagery
	scorer      VibeScorer
	maxPoints   int
	concurrency int
	timeout     time.Duration
	logger      *zap.SugaredLogger
}

func New(imagery Imagery, logger *zap.SugaredLogger, opts ...Option) *Analyst {
	a := &Analyst{imagery: imagery, maxPoints: 5, concurrency: 3, timeout: 3 * time.Second, logger: logger}
	for _, opt := range opts {
		opt(a)
	}
	if a.concurrency < 1 {
		a.concurrency = 1
	}
	if a.timeout <= 0 || a.timeout > 3*time.Second {
		a.timeout = 3 * time.Second
	}
	return a
}

// Analyze inspects up to maxPoints evenly spread sample points of r. emit
// is called as each point finishes; the returned results follow sample
// order. A failing point is reported as Unavailable and never stops the
// batch.
func (a *Analyst) Analyze(ctx context.Context, r t.CandidateRoute, emit func(PointResult)) []PointResult {
	indexes := route.Spread(len(r.SamplePoints), a.maxPoints)
	results := make([]PointResult, len(indexes))

	var emitMu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(a.concurrency)
	for slot, idx := range indexes {
		g.Go(func() error {
			res := PointResult{Index: idx}
			vibe, err := a.point(ctx, r.SamplePoints, idx)
			if err != nil {
				a.logger.Debugw("imagery analysis failed", "point", r.SamplePoints[idx].String(), "error", err)
				res.Error = Unavailable
			} else {
				res.Vibe = vibe
			}
			results[slot] = res
			if emit != nil {
				emitMu.Lock()
				emit(res)
				emitMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (a *Analyst) point(ctx context.Context, points []t.Coordinate, idx int) (*t.Vibe, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	p := points[idx]
	ok, err := a.imagery.Available(ctx, p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("no street-level imagery")
	}
	url := a.imagery.ImageURL(p, heading(points, idx))
	if a.scorer == nil {
		return &t.Vibe{Score: 50, ImageURL: url}, nil
	}

	img, contentType, err := a.imagery.Image(ctx, url)
	if err != nil {
		return nil, err
	}
	vibe, err := a.scorer.Vibe(ctx, img, contentType)
	if err != nil {
		return nil, err
	}
	vibe.ImageURL = url
	return &vibe, nil
}

// heading faces along the route at idx.
func heading(points []t.Coordinate, idx int) float64 {
	switch {
	case idx+1 < len(points):
		return geo.Bearing(points[idx].Point(), points[idx+1].Point())
	case idx > 0:
		return geo.Bearing(points[idx-1].Point(), points[idx].Point())
	}
	return 0
}

// Apply attaches results to r's features.
func Apply(r t.CandidateRoute, results []PointResult) t.CandidateRoute {
	features := make([]t.PointFeatures, len(r.SamplePoints))
	copy(features, r.Features)
	for _, res := range results {
		if res.Index < 0 || res.Index >= len(features) {
			continue
		}
		f := features[res.Index]
		f.Vibe, f.VisualError = res.Vibe, res.Error
		features[res.Index] = f
	}
	r.Features = features
	return r
}
