package situation

import (
	"context"
	"fmt"
	"time"

	"github.com/evanhutnik/saferoute-service/internal/route"
	t "github.com/evanhutnik/saferoute-service/internal/types"
	"github.com/paulmach/orb"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type WeatherSource interface {
	Weather(ctx context.Context, at t.Coordinate) (*t.Weather, error)
}

// AlertSource may return an alert together with an error when only part of
// the feed could be evaluated.
type AlertSource interface {
	Alert(ctx context.Context, near t.Coordinate) (*t.Alert, error)
}

// HazardSource returns the layers it could read even when it also reports
// an error.
type HazardSource interface {
	Layers(ctx context.Context, area orb.Bound) (t.HazardLayers, error)
}

type CrimeSource interface {
	Density(ctx context.Context, area orb.Bound) (t.CrimeDensity, error)
}

type WeatherCache interface {
	Get(ctx context.Context, at t.Coordinate) (*t.Weather, bool, error)
	Put(ctx context.Context, at t.Coordinate, w t.Weather) error
}

// Request carries what Gather needs from the route request.
type Request struct {
	Origin      t.Coordinate
	Destination t.Coordinate
	Mode        t.Mode
	// Override replaces whatever alert the sources report. AlertNone
	// clears it.
	Override *t.AlertType
}

type Option func(*Aggregator)

func WithWeather(w WeatherSource) Option {
	return func(a *Aggregator) { a.weather = w }
}

func WithAlerts(s AlertSource) Option {
	return func(a *Aggregator) { a.alerts = s }
}

func WithHazards(h HazardSource) Option {
	return func(a *Aggregator) { a.hazards = h }
}

func WithCrime(c CrimeSource) Option {
	return func(a *Aggregator) { a.crime = c }
}

func WithWeatherCache(c WeatherCache) Option {
	return func(a *Aggregator) { a.cache = c }
}

// WithTimeout bounds each source call.
func WithTimeout(d time.Duration) Option {
	return func(a *Aggregator) { a.timeout = d }
}

// WithAreaPad widens the lookup area around origin and destination.
func WithAreaPad(meters float64) Option {
	return func(a *Aggregator) { a.areaPad = meters }
}

// Aggregator builds the SituationContext for a request. Sources left unset
// are not consulted.
type Aggregator struct {
	weather WeatherSource
	alerts  AlertSource
	hazards HazardSource
	crime   CrimeSource
	cache   WeatherCache
	timeout time.Duration
	areaPad float64
	logger  *zap.SugaredLogger
}

func New(logger *zap.SugaredLogger, opts ...Option) *Aggregator {
	a := &Aggregator{timeout: 4 * time.Second, areaPad: 500, logger: logger}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Gather queries every source concurrently. It never fails: a failing
// source contributes its safe default and sets its data quality flag.
func (a *Aggregator) Gather(ctx context.Context, req Request) t.SituationContext {
	sc := t.SituationContext{
		Origin:       req.Origin,
		Destination:  req.Destination,
		Area:         route.Area(a.areaPad, req.Origin, req.Destination),
		HazardLayers: t.HazardLayers{},
		Mode:         req.Mode,
	}
	if sc.Mode == "" {
		sc.Mode = t.ModeNormal
	}
	center, ok := route.Centroid([]t.Coordinate{req.Origin, req.Destination})
	if !ok {
		center = req.Origin
	}

	var feedAlert *t.Alert
	g := new(errgroup.Group)
	if a.weather != nil {
		g.Go(func() error {
			sc.Weather, sc.DataQuality.WeatherDegraded, sc.DataQuality.WeatherFromCache = a.gatherWeather(ctx, center)
			return nil
		})
	}
	if a.alerts != nil {
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(ctx, a.timeout)
			defer cancel()
			alert, err := a.alerts.Alert(callCtx, center)
			// an alert returned with an error is a partial answer
			feedAlert = alert
			if err != nil {
				a.logger.Warnw("alert feed unavailable", "near", center.String(), "error", err)
				sc.DataQuality.AlertDegraded = true
			}
			return nil
		})
	}
	if a.hazards != nil {
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(ctx, a.timeout)
			defer cancel()
			layers, err := a.hazards.Layers(callCtx, sc.Area)
			if err != nil {
				a.logger.Warnw("hazard lookup failed", "area", sc.Area, "error", err)
				sc.DataQuality.HazardDegraded = true
			}
			if layers != nil {
				sc.HazardLayers = layers
			}
			return nil
		})
	}
	if a.crime != nil {
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(ctx, a.timeout)
			defer cancel()
			density, err := a.crime.Density(callCtx, sc.Area)
			if err != nil {
				a.logger.Warnw("crime lookup failed", "area", sc.Area, "error", err)
				sc.DataQuality.CrimeDegraded = true
				return nil
			}
			sc.Crime = density
			return nil
		})
	}
	_ = g.Wait()

	sc.Alert = t.MostSevere(sc.Weather.Alert, feedAlert)
	if req.Override != nil {
		sc.Alert = overrideAlert(*req.Override)
	}
	if sc.Alert != nil && sc.Alert.ShouldEscalate {
		sc.Mode = t.ModeEmergency
	}
	return sc
}

// gatherWeather fetches weather at p, falling back to the cached snapshot of
// p's cell and then to calm weather.
func (a *Aggregator) gatherWeather(ctx context.Context, p t.Coordinate) (w t.Weather, degraded, fromCache bool) {
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	fresh, err := a.weather.Weather(callCtx, p)
	if err == nil && fresh != nil {
		if a.cache != nil {
			if err := a.cache.Put(ctx, p, *fresh); err != nil {
				a.logger.Warnw("weather cache write failed", "at", p.String(), "error", err)
			}
		}
		return *fresh, false, false
	}
	if err == nil {
		err = errors.New("empty weather response")
	}
	a.logger.Warnw("weather unavailable", "at", p.String(), "error", err)

	if a.cache != nil && ctx.Err() == nil {
		cached, ok, cerr := a.cache.Get(ctx, p)
		if cerr != nil {
			a.logger.Warnw("weather cache read failed", "at", p.String(), "error", cerr)
		} else if ok {
			return *cached, true, true
		}
	}
	return t.Weather{}, true, false
}

func overrideAlert(at t.AlertType) *t.Alert {
	if at == t.AlertNone {
		return nil
	}
	alert := t.NewAlert(at, t.SeverityWarning, fmt.Sprintf("Simulated %v alert", at),
		"Alert injected by request override.", "override")
	alert.ShouldEscalate = true
	return &alert
}
