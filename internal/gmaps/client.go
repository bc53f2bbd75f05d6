package gmaps

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	t "github.com/evanhutnik/saferoute-service/internal/types"
	"github.com/pkg/errors"
	"googlemaps.github.io/maps"
)

// elevationBatch is the most locations the Elevation API takes per call.
const elevationBatch = 256

type ClientOption func(*Client)

type Client struct {
	apiKey       string
	baseUrl      string
	http         *http.Client
	travelMode   maps.Mode
	placesRadius uint

	maps *maps.Client
}

func ApiKeyOption(apiKey string) ClientOption {
	return func(c *Client) {
		c.apiKey = apiKey
	}
}

// BaseUrlOption points the client at a different API host.
func BaseUrlOption(baseUrl string) ClientOption {
	return func(c *Client) {
		c.baseUrl = baseUrl
	}
}

func HTTPClientOption(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.http = hc
	}
}

// TravelModeOption accepts "walking", "driving", "bicycling" or "transit".
func TravelModeOption(mode string) ClientOption {
	return func(c *Client) {
		c.travelMode = maps.Mode(strings.ToLower(mode))
	}
}

func PlacesRadiusOption(meters uint) ClientOption {
	return func(c *Client) {
		c.placesRadius = meters
	}
}

func New(opts ...ClientOption) *Client {
	c := &Client{travelMode: maps.TravelModeWalking, placesRadius: 100}
	for _, opt := range opts {
		opt(c)
	}

	if c.apiKey == "" {
		panic("Missing apikey in google maps client")
	}

	mapsOpts := []maps.ClientOption{maps.WithAPIKey(c.apiKey)}
	if c.baseUrl != "" {
		mapsOpts = append(mapsOpts, maps.WithBaseURL(c.baseUrl))
	}
	if c.http != nil {
		mapsOpts = append(mapsOpts, maps.WithHTTPClient(c.http))
	}
	mc, err := maps.NewClient(mapsOpts...)
	if err != nil {
		panic(fmt.Sprintf("Invalid google maps client: %v", err))
	}
	c.maps = mc
	return c
}

func latLng(c t.Coordinate) maps.LatLng {
	return maps.LatLng{Lat: c.Latitude, Lng: c.Longitude}
}

// Routes requests alternative routes through waypoints. Waypoints are passed
// as via points so they shape the route without splitting it into stops.
func (c *Client) Routes(ctx context.Context, origin, destination t.Coordinate, waypoints []t.Coordinate, alternatives int) ([]t.CandidateRoute, error) {
	req := &maps.DirectionsRequest{
		Origin:       origin.String(),
		Destination:  destination.String(),
		Mode:         c.travelMode,
		Alternatives: alternatives > 1,
	}
	for _, wp := range waypoints {
		req.Waypoints = append(req.Waypoints, "via:"+wp.String())
	}

	routes, _, err := c.maps.Directions(ctx, req)
	if err != nil {
		return nil, errors.Wrap(err, "google directions")
	}
	if len(routes) == 0 {
		return nil, errors.New("google directions returned no routes")
	}
	if alternatives > 0 && len(routes) > alternatives {
		routes = routes[:alternatives]
	}

	out := make([]t.CandidateRoute, 0, len(routes))
	for i, r := range routes {
		cr := t.CandidateRoute{
			Index:     i,
			Polyline:  r.OverviewPolyline.Points,
			Summary:   r.Summary,
			Waypoints: append([]t.Coordinate(nil), waypoints...),
		}
		for _, leg := range r.Legs {
			cr.DurationSeconds += leg.Duration.Seconds()
			cr.DistanceMeters += float64(leg.Distance.Meters)
		}
		out = append(out, cr)
	}
	return out, nil
}

// GeoCode resolves a free-text location. A nil coordinate with a nil error
// means the location was not recognised.
func (c *Client) GeoCode(ctx context.Context, location string) (*t.Coordinate, error) {
	results, err := c.maps.Geocode(ctx, &maps.GeocodingRequest{Address: location})
	if err != nil {
		if strings.Contains(err.Error(), "ZERO_RESULTS") {
			return nil, nil
		}
		return nil, errors.Wrap(err, "google geocode")
	}
	if len(results) == 0 {
		return nil, nil
	}
	loc := results[0].Geometry.Location
	return &t.Coordinate{Latitude: loc.Lat, Longitude: loc.Lng}, nil
}

// AreaNames reverse geocodes p into its municipality and prefecture names,
// in Japanese to match the JMA feeds.
func (c *Client) AreaNames(ctx context.Context, p t.Coordinate) ([]string, error) {
	ll := latLng(p)
	results, err := c.maps.ReverseGeocode(ctx, &maps.GeocodingRequest{LatLng: &ll, Language: "ja"})
	if err != nil {
		if strings.Contains(err.Error(), "ZERO_RESULTS") {
			return nil, nil
		}
		return nil, errors.Wrap(err, "google reverse geocode")
	}

	seen := make(map[string]bool)
	var names []string
	for _, r := range results {
		for _, ac := range r.AddressComponents {
			if ac.LongName == "" || seen[ac.LongName] || !isArea(ac.Types) {
				continue
			}
			seen[ac.LongName] = true
			names = append(names, ac.LongName)
		}
	}
	return names, nil
}

func isArea(types []string) bool {
	for _, typ := range types {
		if typ == "locality" || typ == "administrative_area_level_1" {
			return true
		}
	}
	return false
}

// Elevations returns the elevation in meters of every point, in order.
func (c *Client) Elevations(ctx context.Context, points []t.Coordinate) ([]float64, error) {
	out := make([]float64, 0, len(points))
	for start := 0; start < len(points); start += elevationBatch {
		end := start + elevationBatch
		if end > len(points) {
			end = len(points)
		}
		req := &maps.ElevationRequest{}
		for _, p := range points[start:end] {
			req.Locations = append(req.Locations, latLng(p))
		}
		results, err := c.maps.Elevation(ctx, req)
		if err != nil {
			return nil, errors.Wrap(err, "google elevation")
		}
		if len(results) != end-start {
			return nil, errors.Errorf("google elevation returned %d results for %d points", len(results), end-start)
		}
		for _, r := range results {
			out = append(out, r.Elevation)
		}
	}
	return out, nil
}

var safetyKinds = []string{t.SpotPolice, t.SpotHospital, t.SpotFireStation, t.SpotConvenience}

// SafetySpots lists police, hospitals, fire stations and convenience stores
// near p.
func (c *Client) SafetySpots(ctx context.Context, p t.Coordinate) ([]t.SafetySpot, error) {
	loc := latLng(p)
	resp, err := c.maps.NearbySearch(ctx, &maps.NearbySearchRequest{
		Location: &loc,
		Radius:   c.placesRadius,
	})
	if err != nil {
		if strings.Contains(err.Error(), "ZERO_RESULTS") {
			return nil, nil
		}
		return nil, errors.Wrap(err, "google nearby search")
	}

	var spots []t.SafetySpot
	for _, r := range resp.Results {
		if kind, ok := classify(r.Types); ok {
			spots = append(spots, t.SafetySpot{Name: r.Name, Kind: kind})
		}
	}
	return spots, nil
}

func classify(placeTypes []string) (string, bool) {
	for _, kind := range safetyKinds {
		for _, pt := range placeTypes {
			if pt == kind {
				return kind, true
			}
		}
	}
	return "", false
}
