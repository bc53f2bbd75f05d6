package saferoute

import (
	"context"
	"net/http"
	"strings"

	"github.com/evanhutnik/saferoute-service/internal/analyst"
	"github.com/evanhutnik/saferoute-service/internal/assistant"
	"github.com/evanhutnik/saferoute-service/internal/cache"
	"github.com/evanhutnik/saferoute-service/internal/config"
	"github.com/evanhutnik/saferoute-service/internal/crime"
	"github.com/evanhutnik/saferoute-service/internal/gmaps"
	"github.com/evanhutnik/saferoute-service/internal/gsi"
	"github.com/evanhutnik/saferoute-service/internal/narrator"
	ow "github.com/evanhutnik/saferoute-service/internal/openweather"
	"github.com/evanhutnik/saferoute-service/internal/osrm"
	"github.com/evanhutnik/saferoute-service/internal/p2pquake"
	ps "github.com/evanhutnik/saferoute-service/internal/positionstack"
	"github.com/evanhutnik/saferoute-service/internal/risk"
	"github.com/evanhutnik/saferoute-service/internal/selector"
	"github.com/evanhutnik/saferoute-service/internal/situation"
	"github.com/evanhutnik/saferoute-service/internal/streetview"
	"github.com/evanhutnik/saferoute-service/internal/survey"
	t "github.com/evanhutnik/saferoute-service/internal/types"
	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// hazardLayerKeys maps config layer keys to hazard types.
var hazardLayerKeys = map[string]t.HazardType{
	"flood":       t.HazardFlood,
	"tsunami":     t.HazardTsunami,
	"storm_surge": t.HazardStormSurge,
	"landslide":   t.HazardLandslide,
}

// New builds the service and every adapter enabled in cfg. Adapters whose
// credentials are missing are left out and their data treated as absent.
func New(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) (*Service, error) {
	var closers []func()
	fail := func(err error) (*Service, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
		return nil, err
	}
	hc := &http.Client{}
	googleKey := cfg.Google.APIKey

	var gm *gmaps.Client
	if googleKey != "" {
		gm = gmaps.New(
			gmaps.ApiKeyOption(googleKey),
			gmaps.TravelModeOption(cfg.Routing.TravelMode),
			gmaps.PlacesRadiusOption(cfg.Google.PlacesRadius),
			gmaps.HTTPClientOption(hc),
		)
	}

	// caches
	var store cache.Store
	if cfg.Cache.Backend == "redis" && cfg.Redis.Enabled {
		rc := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		closers = append(closers, func() { _ = rc.Close() })
		store = cache.NewRedisStore(rc, cfg.Env.ServiceName+":")
	} else {
		mem := cache.NewMemoryStore()
		if err := mem.StartSweeper(cfg.Cache.SweepSpec); err != nil {
			return fail(err)
		}
		closers = append(closers, mem.Close)
		store = mem
	}
	weatherCache := cache.NewWeatherCache(store, cfg.Cache.CellZoom, cfg.Cache.WeatherTTL)
	routeCache := cache.NewRouteCache(store, cfg.Cache.RouteTTL)

	// context sources
	aggOpts := []situation.Option{
		situation.WithWeatherCache(weatherCache),
		situation.WithTimeout(cfg.Timeouts.Adapter),
	}
	if cfg.OpenWeather.APIKey != "" {
		aggOpts = append(aggOpts, situation.WithWeather(ow.New(
			ow.ApiKeyOption(cfg.OpenWeather.APIKey),
			ow.BaseUrlOption(cfg.OpenWeather.BaseURL),
			ow.HTTPClientOption(hc),
		)))
	} else {
		logger.Warnw("openweather apikey missing, weather lookups disabled")
	}
	if cfg.P2PQuake.Enabled {
		quakeOpts := []p2pquake.ClientOption{
			p2pquake.BaseUrlOption(cfg.P2PQuake.BaseURL),
			p2pquake.WindowOption(cfg.P2PQuake.Window),
			p2pquake.RadiusOption(cfg.P2PQuake.RadiusKm),
			p2pquake.HTTPClientOption(hc),
		}
		if gm != nil {
			quakeOpts = append(quakeOpts, p2pquake.AreaResolverOption(gm))
		} else {
			logger.Warnw("google apikey missing, regional tsunami reports cannot be matched")
		}
		aggOpts = append(aggOpts, situation.WithAlerts(p2pquake.New(quakeOpts...)))
	}
	if cfg.GSI.Enabled {
		gsiOpts := []gsi.ClientOption{
			gsi.BaseUrlOption(cfg.GSI.BaseURL),
			gsi.ZoomOption(cfg.GSI.MinZoom, cfg.GSI.MaxZoom),
			gsi.MaxTilesOption(cfg.GSI.MaxTiles),
			gsi.BlockOption(cfg.GSI.BlockPixels),
			gsi.HTTPClientOption(hc),
		}
		for key, name := range cfg.GSI.Layers {
			h, ok := hazardLayerKeys[strings.ToLower(key)]
			if !ok {
				logger.Warnw("ignoring unknown hazard layer", "layer", key)
				continue
			}
			gsiOpts = append(gsiOpts, gsi.LayerOption(h, name))
		}
		aggOpts = append(aggOpts, situation.WithHazards(gsi.New(gsiOpts...)))
	}
	switch cfg.Crime.Source {
	case "postgres":
		pcfg, err := pgxpool.ParseConfig(cfg.Postgres.DSN)
		if err != nil {
			return fail(errors.Wrap(err, "parse postgres dsn"))
		}
		if cfg.Postgres.MaxConns > 0 {
			pcfg.MaxConns = cfg.Postgres.MaxConns
		}
		pool, err := pgxpool.NewWithConfig(ctx, pcfg)
		if err != nil {
			return fail(errors.Wrap(err, "connect postgres"))
		}
		closers = append(closers, pool.Close)
		aggOpts = append(aggOpts, situation.WithCrime(crime.NewPostgres(pool, cfg.Crime)))
	default:
		aggOpts = append(aggOpts, situation.WithCrime(crime.NewStatic(cfg.Crime)))
	}
	gatherer := situation.New(logger, aggOpts...)

	// routing
	var router selector.Router
	switch {
	case cfg.Routing.Provider == "osrm":
		router = osrm.New(osrm.BaseUrlOption(cfg.Routing.OSRMBaseURL), osrm.HTTPClientOption(hc))
	case gm != nil:
		router = gm
	default:
		logger.Warnw("google apikey missing, routing with osrm")
		router = osrm.New(osrm.BaseUrlOption(cfg.Routing.OSRMBaseURL), osrm.HTTPClientOption(hc))
	}
	mocks, err := selector.ParseMockRoutes(cfg.Routing.MockRoutes)
	if err != nil {
		return fail(err)
	}

	surveyOpts := []survey.Option{survey.WithTimeout(cfg.Timeouts.Survey)}
	if gm != nil && cfg.Google.ElevationEnabled {
		surveyOpts = append(surveyOpts, survey.WithElevation(gm))
	}
	if gm != nil && cfg.Google.PlacesEnabled {
		surveyOpts = append(surveyOpts, survey.WithSpots(gm))
	}
	if googleKey != "" && cfg.Google.SolarEnabled {
		surveyOpts = append(surveyOpts, survey.WithShadow(gmaps.NewSolar(googleKey, cfg.Google.SolarBaseURL, cfg.Google.ShadowSunshineMax, hc)))
	}
	selOpts := []selector.Option{selector.WithRouteCache(routeCache), selector.WithMockRoutes(mocks)}
	if sv := survey.New(logger, surveyOpts...); sv.Enabled() {
		selOpts = append(selOpts, selector.WithSurveyor(sv))
	}

	eval := risk.New(riskConfig(cfg.Risk))
	sel := selector.New(router, eval, selector.Config{
		MaxRetries:     cfg.Selector.MaxRetries,
		IntervalMeters: cfg.Selector.IntervalMeters,
		Alternatives:   cfg.Routing.Alternatives,
		Timeout:        cfg.Timeouts.Routing,
	}, logger, selOpts...)

	// AI
	var ai *assistant.Client
	if cfg.OpenAI.APIKey != "" && (cfg.OpenAI.VibeEnabled || cfg.OpenAI.RewriteEnabled) {
		ai = assistant.New(
			assistant.ApiKeyOption(cfg.OpenAI.APIKey),
			assistant.BaseUrlOption(cfg.OpenAI.BaseURL),
			assistant.ModelOption(cfg.OpenAI.Model),
			assistant.HTTPClientOption(hc),
		)
	}
	narrOpts := []narrator.Option{narrator.WithTimeout(cfg.Timeouts.Rewrite)}
	if ai != nil && cfg.OpenAI.RewriteEnabled {
		narrOpts = append(narrOpts, narrator.WithRewriter(ai))
	}

	orchOpts := []OrchestratorOption{}
	switch {
	case cfg.Routing.Geocoder == "positionstack" && cfg.PositionStack.APIKey != "":
		orchOpts = append(orchOpts, WithGeocoder(ps.New(
			ps.ApiKeyOption(cfg.PositionStack.APIKey),
			ps.BaseUrlOption(cfg.PositionStack.BaseURL),
			ps.HTTPClientOption(hc),
		)))
	case gm != nil:
		orchOpts = append(orchOpts, WithGeocoder(gm))
	default:
		logger.Warnw("no geocoder configured, only coordinates are accepted")
	}
	if cfg.Analyst.Enabled && googleKey != "" {
		imagery := streetview.New(
			streetview.ApiKeyOption(googleKey),
			streetview.BaseUrlOption(cfg.StreetView.BaseURL),
			streetview.SizeOption(cfg.StreetView.Size, cfg.StreetView.FOV),
			streetview.HTTPClientOption(hc),
		)
		anOpts := []analyst.Option{
			analyst.WithMaxPoints(cfg.Analyst.MaxPoints),
			analyst.WithConcurrency(cfg.Analyst.Concurrency),
			analyst.WithTimeout(cfg.Timeouts.Imagery),
		}
		if ai != nil && cfg.OpenAI.VibeEnabled {
			anOpts = append(anOpts, analyst.WithScorer(ai))
		}
		orchOpts = append(orchOpts, WithAnalyzer(analyst.New(imagery, logger, anOpts...)))
	}

	o := NewOrchestrator(gatherer, sel, eval, narrator.New(logger, narrOpts...), logger, orchOpts...)
	s := NewService(o, HTTPOptions{
		Port:            cfg.HTTP.Port,
		RequestTimeout:  cfg.HTTP.RequestTimeout,
		ReadTimeout:     cfg.HTTP.Timeouts.ReadTimeout,
		WriteTimeout:    cfg.HTTP.Timeouts.WriteTimeout,
		IdleTimeout:     cfg.HTTP.Timeouts.IdleTimeout,
		ShutdownTimeout: cfg.HTTP.Timeouts.ShutdownTimeout,
	}, logger)
	s.closers = closers
	return s, nil
}

func riskConfig(c config.RiskConfig) risk.Config {
	return risk.Config{
		ProximityMeters:       c.ProximityMeters,
		ActiveAlertMultiplier: c.ActiveAlertMultiplier,
		CrimeMaxPenalty:       c.CrimeMaxPenalty,
		VibeFactor:            c.VibeFactor,
		ShadowPenalty:         c.ShadowPenalty,
		SafetyBonusCap:        c.SafetyBonusCap,
		HighMax:               c.HighMax,
		MediumMax:             c.MediumMax,
		NormalThreshold:       c.NormalThreshold,
		EmergencyThreshold:    c.EmergencyThreshold,
		Normal:                risk.Weights{Hazard: c.Normal.Hazard, Social: c.Normal.Social},
		Emergency:             risk.Weights{Hazard: c.Emergency.Hazard, Social: c.Emergency.Social},
	}
}
