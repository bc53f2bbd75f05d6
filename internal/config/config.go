package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
)

const (
	defaultPath = "."
	envPrefix   = "SAFEROUTE_"
)

type Config struct {
	Env struct {
		Env         string `json:"env" yaml:"env"`
		ServiceName string `json:"serviceName" yaml:"serviceName"`
		Debug       bool   `json:"debug" yaml:"debug"`
		Log         Log    `json:"log" yaml:"log"`
	} `json:"env" yaml:"env"`

	HTTP struct {
		Port           int           `json:"port" yaml:"port"`
		RequestTimeout time.Duration `json:"requestTimeout" yaml:"requestTimeout"`
		Timeouts       struct {
			ReadTimeout     time.Duration `json:"readTimeout" yaml:"readTimeout"`
			WriteTimeout    time.Duration `json:"writeTimeout" yaml:"writeTimeout"`
			IdleTimeout     time.Duration `json:"idleTimeout" yaml:"idleTimeout"`
			ShutdownTimeout time.Duration `json:"shutdownTimeout" yaml:"shutdownTimeout"`
		} `json:"timeouts" yaml:"timeouts"`
	} `json:"http" yaml:"http"`

	Redis    RedisConfig    `json:"redis" yaml:"redis"`
	Postgres PostgresConfig `json:"postgres" yaml:"postgres"`
	Cache    CacheConfig    `json:"cache" yaml:"cache"`
	Timeouts TimeoutConfig  `json:"timeouts" yaml:"timeouts"`

	Routing       RoutingConfig       `json:"routing" yaml:"routing"`
	OpenWeather   OpenWeatherConfig   `json:"openweather" yaml:"openweather"`
	P2PQuake      P2PQuakeConfig      `json:"p2pquake" yaml:"p2pquake"`
	GSI           GSIConfig           `json:"gsi" yaml:"gsi"`
	Crime         CrimeConfig         `json:"crime" yaml:"crime"`
	Google        GoogleConfig        `json:"google" yaml:"google"`
	PositionStack PositionStackConfig `json:"positionstack" yaml:"positionstack"`
	StreetView    StreetViewConfig    `json:"streetview" yaml:"streetview"`
	OpenAI        OpenAIConfig        `json:"openai" yaml:"openai"`

	Risk     RiskConfig     `json:"risk" yaml:"risk"`
	Selector SelectorConfig `json:"selector" yaml:"selector"`
	Analyst  AnalystConfig  `json:"analyst" yaml:"analyst"`
}

type Log struct {
	Level string `json:"level" yaml:"level"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Address  string `json:"address" yaml:"address"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

type PostgresConfig struct {
	DSN      string `json:"dsn" yaml:"dsn"`
	MaxConns int32  `json:"maxConns" yaml:"maxConns"`
}

// CacheConfig controls the shared weather and route caches. Backend is
// "redis" or "memory"; redis falls back to memory when redis is disabled.
type CacheConfig struct {
	Backend    string        `json:"backend" yaml:"backend"`
	CellZoom   uint32        `json:"cellZoom" yaml:"cellZoom"`
	WeatherTTL time.Duration `json:"weatherTTL" yaml:"weatherTTL"`
	RouteTTL   time.Duration `json:"routeTTL" yaml:"routeTTL"`
	SweepSpec  string        `json:"sweepSpec" yaml:"sweepSpec"`
}

type TimeoutConfig struct {
	Adapter time.Duration `json:"adapter" yaml:"adapter"`
	Routing time.Duration `json:"routing" yaml:"routing"`
	Survey  time.Duration `json:"survey" yaml:"survey"`
	Imagery time.Duration `json:"imagery" yaml:"imagery"`
	Rewrite time.Duration `json:"rewrite" yaml:"rewrite"`
}

type MockRoute struct {
	Origin          string  `json:"origin" yaml:"origin"`
	Destination     string  `json:"destination" yaml:"destination"`
	Polyline        string  `json:"polyline" yaml:"polyline"`
	Summary         string  `json:"summary" yaml:"summary"`
	DurationSeconds float64 `json:"durationSeconds" yaml:"durationSeconds"`
	DistanceMeters  float64 `json:"distanceMeters" yaml:"distanceMeters"`
}

// RoutingConfig selects the routing and geocoding providers. Provider is
// "google" or "osrm"; Geocoder is "google" or "positionstack".
type RoutingConfig struct {
	Provider     string      `json:"provider" yaml:"provider"`
	Geocoder     string      `json:"geocoder" yaml:"geocoder"`
	TravelMode   string      `json:"travelMode" yaml:"travelMode"`
	Alternatives int         `json:"alternatives" yaml:"alternatives"`
	OSRMBaseURL  string      `json:"osrmBaseUrl" yaml:"osrmBaseUrl"`
	MockRoutes   []MockRoute `json:"mockRoutes" yaml:"mockRoutes"`
}

type OpenWeatherConfig struct {
	APIKey  string `json:"apiKey" yaml:"apiKey"`
	BaseURL string `json:"baseUrl" yaml:"baseUrl"`
}

type P2PQuakeConfig struct {
	Enabled  bool          `json:"enabled" yaml:"enabled"`
	BaseURL  string        `json:"baseUrl" yaml:"baseUrl"`
	Window   time.Duration `json:"window" yaml:"window"`
	RadiusKm float64       `json:"radiusKm" yaml:"radiusKm"`
}

type GSIConfig struct {
	Enabled     bool              `json:"enabled" yaml:"enabled"`
	BaseURL     string            `json:"baseUrl" yaml:"baseUrl"`
	MinZoom     uint32            `json:"minZoom" yaml:"minZoom"`
	MaxZoom     uint32            `json:"maxZoom" yaml:"maxZoom"`
	MaxTiles    int               `json:"maxTiles" yaml:"maxTiles"`
	BlockPixels int               `json:"blockPixels" yaml:"blockPixels"`
	Layers      map[string]string `json:"layers" yaml:"layers"`
}

type CrimeZoneConfig struct {
	Name         string  `json:"name" yaml:"name"`
	Lat          float64 `json:"lat" yaml:"lat"`
	Lng          float64 `json:"lng" yaml:"lng"`
	RadiusMeters float64 `json:"radiusMeters" yaml:"radiusMeters"`
	Rate         float64 `json:"rate" yaml:"rate"`
	Label        string  `json:"label" yaml:"label"`
}

// CrimeConfig picks the crime statistics source: "static" zones from this
// file or "postgres" cells.
type CrimeConfig struct {
	Source   string            `json:"source" yaml:"source"`
	CellZoom uint32            `json:"cellZoom" yaml:"cellZoom"`
	Default  float64           `json:"default" yaml:"default"`
	Zones    []CrimeZoneConfig `json:"zones" yaml:"zones"`
}

type GoogleConfig struct {
	APIKey            string  `json:"apiKey" yaml:"apiKey"`
	ElevationEnabled  bool    `json:"elevationEnabled" yaml:"elevationEnabled"`
	PlacesEnabled     bool    `json:"placesEnabled" yaml:"placesEnabled"`
	PlacesRadius      uint    `json:"placesRadius" yaml:"placesRadius"`
	SolarEnabled      bool    `json:"solarEnabled" yaml:"solarEnabled"`
	SolarBaseURL      string  `json:"solarBaseUrl" yaml:"solarBaseUrl"`
	ShadowSunshineMax float64 `json:"shadowSunshineMax" yaml:"shadowSunshineMax"`
}

type PositionStackConfig struct {
	APIKey  string `json:"apiKey" yaml:"apiKey"`
	BaseURL string `json:"baseUrl" yaml:"baseUrl"`
}

type StreetViewConfig struct {
	BaseURL string `json:"baseUrl" yaml:"baseUrl"`
	Size    string `json:"size" yaml:"size"`
	FOV     int    `json:"fov" yaml:"fov"`
}

type OpenAIConfig struct {
	APIKey         string `json:"apiKey" yaml:"apiKey"`
	BaseURL        string `json:"baseUrl" yaml:"baseUrl"`
	Model          string `json:"model" yaml:"model"`
	VibeEnabled    bool   `json:"vibeEnabled" yaml:"vibeEnabled"`
	RewriteEnabled bool   `json:"rewriteEnabled" yaml:"rewriteEnabled"`
}

type ModeWeights struct {
	Hazard float64 `json:"hazard" yaml:"hazard"`
	Social float64 `json:"social" yaml:"social"`
}

type RiskConfig struct {
	ProximityMeters       float64     `json:"proximityMeters" yaml:"proximityMeters"`
	ActiveAlertMultiplier float64     `json:"activeAlertMultiplier" yaml:"activeAlertMultiplier"`
	CrimeMaxPenalty       float64     `json:"crimeMaxPenalty" yaml:"crimeMaxPenalty"`
	VibeFactor            float64     `json:"vibeFactor" yaml:"vibeFactor"`
	ShadowPenalty         float64     `json:"shadowPenalty" yaml:"shadowPenalty"`
	SafetyBonusCap        float64     `json:"safetyBonusCap" yaml:"safetyBonusCap"`
	HighMax               float64     `json:"highMax" yaml:"highMax"`
	MediumMax             float64     `json:"mediumMax" yaml:"mediumMax"`
	NormalThreshold       float64     `json:"normalThreshold" yaml:"normalThreshold"`
	EmergencyThreshold    float64     `json:"emergencyThreshold" yaml:"emergencyThreshold"`
	Normal                ModeWeights `json:"normal" yaml:"normal"`
	Emergency             ModeWeights `json:"emergency" yaml:"emergency"`
}

type SelectorConfig struct {
	MaxRetries     int     `json:"maxRetries" yaml:"maxRetries"`
	IntervalMeters float64 `json:"intervalMeters" yaml:"intervalMeters"`
}

type AnalystConfig struct {
	Enabled     bool `json:"enabled" yaml:"enabled"`
	MaxPoints   int  `json:"maxPoints" yaml:"maxPoints"`
	Concurrency int  `json:"concurrency" yaml:"concurrency"`
}

// Default returns the compiled defaults that config.yaml and the
// environment override.
func Default() *Config {
	cfg := &Config{}
	cfg.Env.Env = "local"
	cfg.Env.ServiceName = "saferoute-service"
	cfg.Env.Log.Level = "info"

	cfg.HTTP.Port = 8080
	cfg.HTTP.RequestTimeout = 60 * time.Second
	cfg.HTTP.Timeouts.ReadTimeout = 10 * time.Second
	cfg.HTTP.Timeouts.WriteTimeout = 90 * time.Second
	cfg.HTTP.Timeouts.IdleTimeout = 60 * time.Second
	cfg.HTTP.Timeouts.ShutdownTimeout = 10 * time.Second

	cfg.Redis.Address = "localhost:6379"
	cfg.Postgres.MaxConns = 4

	cfg.Cache.Backend = "memory"
	cfg.Cache.CellZoom = 14
	cfg.Cache.WeatherTTL = 30 * time.Minute
	cfg.Cache.RouteTTL = 24 * time.Hour
	cfg.Cache.SweepSpec = "@every 1m"

	cfg.Timeouts.Adapter = 4 * time.Second
	cfg.Timeouts.Routing = 8 * time.Second
	cfg.Timeouts.Survey = 4 * time.Second
	cfg.Timeouts.Imagery = 3 * time.Second
	cfg.Timeouts.Rewrite = 6 * time.Second

	cfg.Routing.Provider = "google"
	cfg.Routing.Geocoder = "google"
	cfg.Routing.TravelMode = "walking"
	cfg.Routing.Alternatives = 3
	cfg.Routing.OSRMBaseURL = "https://router.project-osrm.org/route/v1/foot"

	cfg.OpenWeather.BaseURL = "https://api.openweathermap.org/data/3.0/onecall"

	cfg.P2PQuake.Enabled = true
	cfg.P2PQuake.BaseURL = "https://api.p2pquake.net/v2"
	cfg.P2PQuake.Window = 6 * time.Hour
	cfg.P2PQuake.RadiusKm = 300

	cfg.GSI.Enabled = true
	cfg.GSI.BaseURL = "https://disaportaldata.gsi.go.jp/raster"
	cfg.GSI.MinZoom = 12
	cfg.GSI.MaxZoom = 15
	cfg.GSI.MaxTiles = 16
	cfg.GSI.BlockPixels = 8
	cfg.GSI.Layers = map[string]string{
		"flood":       "01_flood_l2_shinsuishin_data",
		"tsunami":     "04_tsunami_l2_shinsuishin_data",
		"storm_surge": "03_hightide_l2_shinsuishin_data",
		"landslide":   "05_doshasakaiarea_1",
	}

	cfg.Crime.Source = "static"
	cfg.Crime.CellZoom = 15

	cfg.Google.ElevationEnabled = true
	cfg.Google.PlacesEnabled = true
	cfg.Google.PlacesRadius = 100
	cfg.Google.SolarBaseURL = "https://solar.googleapis.com/v1/buildingInsights:findClosest"
	cfg.Google.ShadowSunshineMax = 800

	cfg.PositionStack.BaseURL = "http://api.positionstack.com/v1"

	cfg.StreetView.BaseURL = "https://maps.googleapis.com/maps/api/streetview"
	cfg.StreetView.Size = "640x400"
	cfg.StreetView.FOV = 90

	cfg.OpenAI.Model = "gpt-4o-mini"

	cfg.Risk.ProximityMeters = 50
	cfg.Risk.ActiveAlertMultiplier = 1.5
	cfg.Risk.CrimeMaxPenalty = 30
	cfg.Risk.VibeFactor = 0.4
	cfg.Risk.ShadowPenalty = 5
	cfg.Risk.SafetyBonusCap = 20
	cfg.Risk.HighMax = 30
	cfg.Risk.MediumMax = 70
	cfg.Risk.NormalThreshold = 60
	cfg.Risk.EmergencyThreshold = 40
	cfg.Risk.Normal = ModeWeights{Hazard: 0.8, Social: 1.2}
	cfg.Risk.Emergency = ModeWeights{Hazard: 1.5, Social: 0.5}

	cfg.Selector.MaxRetries = 2
	cfg.Selector.IntervalMeters = 100

	cfg.Analyst.Enabled = true
	cfg.Analyst.MaxPoints = 5
	cfg.Analyst.Concurrency = 3
	return cfg
}

// Load reads name.yaml from the first search path that has it, then applies
// SAFEROUTE_* environment variables on top of Default(). A missing file is
// not an error.
func Load(name string, configPath ...string) (*Config, error) {
	cfg := Default()
	k := koanf.New(".")

	searchPaths := []string{defaultPath}
	if len(configPath) != 0 {
		pwd, err := os.Getwd()
		if err != nil {
			return nil, errors.Wrap(err, "os.Getwd")
		}
		for _, path := range configPath {
			searchPaths = append(searchPaths, filepath.Join(pwd, path))
		}
	}

	for _, path := range searchPaths {
		candidate := filepath.Join(path, name+".yaml")
		if _, err := os.Stat(candidate); err != nil {
			continue
		}
		if err := k.Load(file.Provider(candidate), yaml.Parser()); err != nil {
			return nil, errors.Wrapf(err, "read %s config failed", candidate)
		}
		break
	}

	existing := k.Raw()
	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, v string) (string, any) {
			return canonicalizeEnvKey(strings.TrimPrefix(key, envPrefix), existing), v
		},
	}), nil); err != nil {
		return nil, errors.Wrap(err, "load env variables failed")
	}

	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           cfg,
			WeaklyTypedInput: true,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
			),
			MatchName: func(mapKey, fieldName string) bool {
				return strings.EqualFold(mapKey, fieldName)
			},
		},
	}); err != nil {
		return nil, errors.Wrapf(err, "unmarshal %s config failed", name)
	}

	cfg.normalize()
	return cfg, nil
}

func New() (*Config, error) {
	return Load("config", "config", "../config", "../../config")
}

func (c *Config) normalize() {
	if c.Selector.MaxRetries < 1 {
		c.Selector.MaxRetries = 1
	}
	if c.Selector.IntervalMeters <= 0 {
		c.Selector.IntervalMeters = 100
	}
	if c.Routing.Alternatives < 1 {
		c.Routing.Alternatives = 1
	}
	if c.Analyst.Concurrency < 1 {
		c.Analyst.Concurrency = 1
	}
	if c.Timeouts.Imagery <= 0 || c.Timeouts.Imagery > 3*time.Second {
		c.Timeouts.Imagery = 3 * time.Second
	}
}

func canonicalizeEnvKey(rawKey string, existing map[string]any) string {
	segments := strings.Split(strings.ToLower(rawKey), "_")
	canonical := make([]string, 0, len(segments))
	current := existing

	for _, segment := range segments {
		if segment == "" {
			continue
		}

		if matched, next, ok := findExistingSegment(current, segment); ok {
			canonical = append(canonical, matched)
			current = next
		} else {
			canonical = append(canonical, segment)
			current = nil
		}
	}

	return strings.Join(canonical, ".")
}

func findExistingSegment(current map[string]any, segment string) (matched string, next map[string]any, ok bool) {
	if len(current) == 0 {
		return "", nil, false
	}

	needle := normalizeToken(segment)
	for key, value := range current {
		if normalizeToken(key) != needle {
			continue
		}

		child, _ := value.(map[string]any)

		return key, child, true
	}

	return "", nil, false
}

func normalizeToken(s string) string {
	var normalized strings.Builder
	normalized.Grow(len(s))

	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			continue
		}
		normalized.WriteRune(unicode.ToLower(r))
	}

	return normalized.String()
}
