package p2pquake

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/evanhutnik/saferoute-service/internal/common"
	"github.com/evanhutnik/saferoute-service/internal/route"
	t "github.com/evanhutnik/saferoute-service/internal/types"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const source = "p2pquake"

// Seismic intensity scale as reported by the feed: 45 is lower 5, 55 is
// lower 6.
const (
	scaleWarning  = 45
	scaleCritical = 55
)

// unknownCoordinate marks a hypocenter without a position.
const unknownCoordinate = -200

var jst = time.FixedZone("JST", 9*60*60)

type TsunamiReport struct {
	ID        string        `json:"id"`
	Time      string        `json:"time"`
	Cancelled bool          `json:"cancelled"`
	Areas     []TsunamiArea `json:"areas"`
}

type TsunamiArea struct {
	Grade     string `json:"grade"`
	Immediate bool   `json:"immediate"`
	Name      string `json:"name"`
}

type QuakeReport struct {
	ID         string             `json:"id"`
	Time       string             `json:"time"`
	Earthquake Earthquake         `json:"earthquake"`
	Points     []ObservationPoint `json:"points"`
}

// ObservationPoint is one station that felt the quake.
type ObservationPoint struct {
	Pref  string `json:"pref"`
	Addr  string `json:"addr"`
	Scale int    `json:"scale"`
}

type Earthquake struct {
	Time       string     `json:"time"`
	MaxScale   int        `json:"maxScale"`
	Hypocenter Hypocenter `json:"hypocenter"`
}

type Hypocenter struct {
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Depth     float64 `json:"depth"`
	Magnitude float64 `json:"magnitude"`
}

// ErrUnlocated is returned alongside any located alert when regional
// reports could not be matched to the trip.
var ErrUnlocated = errors.New("p2pquake: cannot match regional reports without area names")

// AreaResolver names the prefecture and municipality containing a point, in
// the Japanese naming the JMA feeds use.
type AreaResolver interface {
	AreaNames(ctx context.Context, p t.Coordinate) ([]string, error)
}

type ClientOption func(*Client)

type Client struct {
	baseUrl  string
	window   time.Duration
	radiusKm float64
	areas    AreaResolver
	http     *http.Client
	now      func() time.Time
}

func BaseUrlOption(baseUrl string) ClientOption {
	return func(c *Client) {
		c.baseUrl = baseUrl
	}
}

// WindowOption limits alerts to reports issued within d.
func WindowOption(d time.Duration) ClientOption {
	return func(c *Client) {
		c.window = d
	}
}

// RadiusOption limits earthquake alerts to hypocenters within km.
func RadiusOption(km float64) ClientOption {
	return func(c *Client) {
		c.radiusKm = km
	}
}

// AreaResolverOption enables matching tsunami forecast areas and observation
// points against the trip's location.
func AreaResolverOption(r AreaResolver) ClientOption {
	return func(c *Client) {
		c.areas = r
	}
}

func HTTPClientOption(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.http = hc
	}
}

func New(opts ...ClientOption) *Client {
	c := &Client{
		window:   6 * time.Hour,
		radiusKm: 300,
		http:     http.DefaultClient,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.baseUrl == "" {
		panic("Missing baseUrl in p2pquake client")
	}
	return c
}

// Alert returns the most severe recent tsunami or earthquake alert relevant
// to near, or nil when there is none. Tsunami reports and quakes without a
// located hypocenter only count when their areas cover near. If those areas
// cannot be resolved the located alerts are still returned together with
// ErrUnlocated.
func (c *Client) Alert(ctx context.Context, near t.Coordinate) (*t.Alert, error) {
	var tsunamis []TsunamiReport
	var quakes []QuakeReport

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.get(gctx, "/jma/tsunami?limit=5", &tsunamis)
	})
	g.Go(func() error {
		return c.get(gctx, "/jma/quake?limit=10", &quakes)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	now := c.now()
	var areas []string
	var areaErr error
	if c.needsAreas(tsunamis, quakes, now) {
		areas, areaErr = c.resolveAreas(ctx, near)
	}

	var alerts []*t.Alert
	for _, r := range tsunamis {
		if a := c.tsunamiAlert(r, areas, now); a != nil {
			alerts = append(alerts, a)
		}
	}
	for _, r := range quakes {
		if a := c.quakeAlert(r, near, areas, now); a != nil {
			alerts = append(alerts, a)
		}
	}
	return t.MostSevere(alerts...), areaErr
}

// needsAreas reports whether any live report can only be placed by area name.
func (c *Client) needsAreas(tsunamis []TsunamiReport, quakes []QuakeReport, now time.Time) bool {
	for _, r := range tsunamis {
		if r.Cancelled || !c.recent(r.Time, now) {
			continue
		}
		for _, a := range r.Areas {
			if gradeRank(a.Grade) > 0 {
				return true
			}
		}
	}
	for _, r := range quakes {
		if !located(r.Earthquake.Hypocenter) && r.Earthquake.MaxScale >= scaleWarning && c.recent(quakeTime(r), now) {
			return true
		}
	}
	return false
}

func (c *Client) resolveAreas(ctx context.Context, near t.Coordinate) ([]string, error) {
	if c.areas == nil {
		return nil, ErrUnlocated
	}
	areas, err := c.areas.AreaNames(ctx, near)
	if err != nil {
		return nil, errors.Wrapf(ErrUnlocated, "resolve areas: %v", err)
	}
	if len(areas) == 0 {
		return nil, ErrUnlocated
	}
	return areas, nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	ctxReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseUrl+path, nil)
	if err != nil {
		return errors.Wrap(err, "build p2pquake request")
	}
	resp, err := common.GetWithRetry(c.http, ctxReq, source)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "error reading p2pquake response body")
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errors.Wrapf(err, "error unmarshalling p2pquake %v", path)
	}
	return nil
}

func (c *Client) recent(ts string, now time.Time) bool {
	issued, ok := parseTime(ts)
	if !ok {
		return false
	}
	return now.Sub(issued) <= c.window && !issued.After(now.Add(time.Minute))
}

func (c *Client) tsunamiAlert(r TsunamiReport, areas []string, now time.Time) *t.Alert {
	if r.Cancelled || !c.recent(r.Time, now) {
		return nil
	}

	grade, area := "", ""
	for _, a := range r.Areas {
		if !matchesArea(a.Name, areas) {
			continue
		}
		if gradeRank(a.Grade) > gradeRank(grade) {
			grade, area = a.Grade, a.Name
		}
	}

	var alert t.Alert
	switch grade {
	case "MajorWarning":
		alert = t.NewAlert(t.AlertTsunami, t.SeverityCritical, "Major tsunami warning",
			fmt.Sprintf("Major tsunami warning for %v. Move to high ground immediately.", area), source)
	case "Warning":
		alert = t.NewAlert(t.AlertTsunami, t.SeverityWarning, "Tsunami warning",
			fmt.Sprintf("Tsunami warning for %v. Stay away from the coast.", area), source)
	case "Watch":
		alert = t.NewAlert(t.AlertTsunamiAdvisory, t.SeverityAdvisory, "Tsunami advisory",
			fmt.Sprintf("Tsunami advisory for %v.", area), source)
	default:
		return nil
	}
	return &alert
}

func gradeRank(g string) int {
	switch g {
	case "MajorWarning":
		return 3
	case "Warning":
		return 2
	case "Watch":
		return 1
	}
	return 0
}

func (c *Client) quakeAlert(r QuakeReport, near t.Coordinate, areas []string, now time.Time) *t.Alert {
	if !c.recent(quakeTime(r), now) {
		return nil
	}

	h := r.Earthquake.Hypocenter
	switch {
	case located(h):
		if c.radiusKm > 0 {
			epicenter := t.Coordinate{Latitude: h.Latitude, Longitude: h.Longitude}
			if route.Distance(epicenter, near) > c.radiusKm*1000 {
				return nil
			}
		}
	case !feltIn(r.Points, areas):
		return nil
	}

	var sev t.Severity
	switch {
	case r.Earthquake.MaxScale >= scaleCritical:
		sev = t.SeverityCritical
	case r.Earthquake.MaxScale >= scaleWarning:
		sev = t.SeverityWarning
	default:
		return nil
	}
	name := h.Name
	if name == "" {
		name = "unknown epicenter"
	}
	alert := t.NewAlert(t.AlertEarthquake, sev, "Strong earthquake",
		fmt.Sprintf("Earthquake near %v (M%.1f, intensity scale %d).", name, h.Magnitude, r.Earthquake.MaxScale), source)
	return &alert
}

func quakeTime(r QuakeReport) string {
	if r.Earthquake.Time != "" {
		return r.Earthquake.Time
	}
	return r.Time
}

func located(h Hypocenter) bool {
	return h.Latitude > unknownCoordinate && h.Longitude > unknownCoordinate
}

func feltIn(points []ObservationPoint, areas []string) bool {
	for _, p := range points {
		if matchesArea(p.Pref, areas) || matchesArea(p.Addr, areas) {
			return true
		}
	}
	return false
}

// prefectureSuffixes are dropped before matching so that 東京都 matches the
// forecast area 東京湾内湾. 北海道 keeps its suffix, forecast areas spell it
// out in full.
var prefectureSuffixes = []string{"都", "府", "県"}

// matchesArea reports whether the feed's area name lies in one of areas.
// Forecast areas are named after their prefecture, so a prefix match is
// enough; a substring match would put 東京都 inside 京都.
func matchesArea(name string, areas []string) bool {
	if name == "" {
		return false
	}
	for _, a := range areas {
		if name == a {
			return true
		}
		key := a
		for _, suffix := range prefectureSuffixes {
			if trimmed := strings.TrimSuffix(a, suffix); trimmed != a && trimmed != "" {
				key = trimmed
				break
			}
		}
		if key != "" && strings.HasPrefix(name, key) {
			return true
		}
	}
	return false
}

func parseTime(s string) (time.Time, bool) {
	for _, layout := range []string{"2006/01/02 15:04:05.000", "2006/01/02 15:04:05", "2006/01/02 15:04"} {
		if ts, err := time.ParseInLocation(layout, s, jst); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}
