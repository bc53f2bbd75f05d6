package osrm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/evanhutnik/saferoute-service/internal/common"
	t "github.com/evanhutnik/saferoute-service/internal/types"
	"github.com/pkg/errors"
)

type Response struct {
	Code    string  `json:"code"`
	Message string  `json:"message,omitempty"`
	Routes  []Route `json:"routes"`
}

type Route struct {
	Geometry string  `json:"geometry"`
	Duration float64 `json:"duration"`
	Distance float64 `json:"distance"`
	Legs     []Leg   `json:"legs"`
}

type Leg struct {
	Summary  string  `json:"summary"`
	Duration float64 `json:"duration"`
	Distance float64 `json:"distance"`
}

type ClientOption func(*Client)

type Client struct {
	baseUrl string
	http    *http.Client
}

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

func New(opts ...ClientOption) *Client {
	c := &Client{http: http.DefaultClient}
	for _, opt := range opts {
		opt(c)
	}

	if c.baseUrl == "" {
		panic("Missing baseUrl in osrm client")
	}
	return c
}

// Routes asks OSRM for up to alternatives routes through waypoints. OSRM only
// offers alternatives for two-point requests, so a request with waypoints
// returns a single route.
func (c *Client) Routes(ctx context.Context, origin, destination t.Coordinate, waypoints []t.Coordinate, alternatives int) ([]t.CandidateRoute, error) {
	coords := make([]string, 0, len(waypoints)+2)
	for _, p := range append(append([]t.Coordinate{origin}, waypoints...), destination) {
		coords = append(coords, fmt.Sprintf("%f,%f", p.Longitude, p.Latitude))
	}
	reqUrl := fmt.Sprintf("%v/%v", strings.TrimRight(c.baseUrl, "/"), strings.Join(coords, ";"))
	req, err := url.Parse(reqUrl)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse osrm url %s", reqUrl)
	}

	q := req.Query()
	q.Add("overview", "full")
	q.Add("geometries", "polyline")
	q.Add("steps", "false")
	if alternatives > 1 && len(waypoints) == 0 {
		q.Add("alternatives", strconv.Itoa(alternatives))
	}
	req.RawQuery = q.Encode()

	ctxReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "build osrm request")
	}
	resp, err := common.GetWithRetry(c.http, ctxReq, "osrm")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "error reading osrm response body")
	}

	var respObj Response
	if err = json.Unmarshal(body, &respObj); err != nil {
		return nil, errors.Wrap(err, "error unmarshalling response from osrm")
	}
	if respObj.Code != "Ok" {
		return nil, errors.Errorf("osrm returned %v: %v", respObj.Code, respObj.Message)
	}
	if len(respObj.Routes) == 0 {
		return nil, errors.New("osrm returned no routes")
	}

	return routesFromOSRM(respObj.Routes, waypoints, alternatives), nil
}

func routesFromOSRM(routes []Route, waypoints []t.Coordinate, limit int) []t.CandidateRoute {
	if limit > 0 && len(routes) > limit {
		routes = routes[:limit]
	}
	out := make([]t.CandidateRoute, 0, len(routes))
	for i, r := range routes {
		var summaries []string
		for _, leg := range r.Legs {
			if leg.Summary != "" {
				summaries = append(summaries, leg.Summary)
			}
		}
		out = append(out, t.CandidateRoute{
			Index:           i,
			Polyline:        r.Geometry,
			Summary:         strings.Join(summaries, " / "),
			DurationSeconds: r.Duration,
			DistanceMeters:  r.Distance,
			Waypoints:       append([]t.Coordinate(nil), waypoints...),
		})
	}
	return out
}
