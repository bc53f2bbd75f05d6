package openweather

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/evanhutnik/saferoute-service/internal/common"
	t "github.com/evanhutnik/saferoute-service/internal/types"
	"github.com/pkg/errors"
)

const source = "openweather"

// Rain rates that raise an alert when the provider issued none.
const (
	heavyRainAdvisory = 20.0
	heavyRainWarning  = 50.0
)

type Response struct {
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Current Current `json:"current"`
	Alerts  []Alert `json:"alerts"`
}

type Current struct {
	Time       int64        `json:"dt"`
	WindSpeed  float64      `json:"wind_speed"`
	Rain       *Volume      `json:"rain,omitempty"`
	Snow       *Volume      `json:"snow,omitempty"`
	Conditions []Conditions `json:"weather"`
}

type Volume struct {
	OneHour float64 `json:"1h"`
}

type Conditions struct {
	Id          int    `json:"id"`
	Main        string `json:"main"`
	Description string `json:"description"`
}

type Alert struct {
	SenderName  string   `json:"sender_name"`
	Event       string   `json:"event"`
	Start       int64    `json:"start"`
	End         int64    `json:"end"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

type ClientOption func(*Client)

type Client struct {
	apiKey  string
	baseUrl string
	http    *http.Client
}

func ApiKeyOption(apiKey string) ClientOption {
	return func(c *Client) {
		c.apiKey = apiKey
	}
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

	if c.apiKey == "" {
		panic("Missing apikey in openweather client")
	}
	if c.baseUrl == "" {
		panic("Missing baseUrl in openweather client")
	}
	return c
}

// Weather returns current conditions at coords and the most severe active
// alert, if any.
func (c *Client) Weather(ctx context.Context, coords t.Coordinate) (*t.Weather, error) {
	req, err := url.Parse(c.baseUrl)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse baseUrl %s", c.baseUrl)
	}

	q := req.Query()
	q.Add("appid", c.apiKey)
	q.Add("lat", strconv.FormatFloat(coords.Latitude, 'f', -1, 64))
	q.Add("lon", strconv.FormatFloat(coords.Longitude, 'f', -1, 64))
	q.Add("units", "metric")
	q.Add("exclude", "minutely,hourly,daily")
	req.RawQuery = q.Encode()

	ctxReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "build openweather request")
	}
	resp, err := common.GetWithRetry(c.http, ctxReq, source)
	if err != nil {
		return nil, err
	}

	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "error reading body of response")
	}

	var respObj Response
	if err = json.Unmarshal(body, &respObj); err != nil {
		return nil, errors.Wrap(err, "error unmarshalling response from openweather")
	}

	return weatherFromOW(respObj), nil
}

func weatherFromOW(r Response) *t.Weather {
	w := &t.Weather{
		WindSpeedMPS: r.Current.WindSpeed,
		ObservedAt:   time.Unix(r.Current.Time, 0).UTC(),
	}
	if r.Current.Rain != nil {
		w.PrecipitationMMPerHour += r.Current.Rain.OneHour
	}
	if r.Current.Snow != nil {
		w.PrecipitationMMPerHour += r.Current.Snow.OneHour
	}
	if len(r.Current.Conditions) > 0 {
		w.Condition = r.Current.Conditions[0].Description
	}

	alerts := make([]*t.Alert, 0, len(r.Alerts))
	for _, a := range r.Alerts {
		if converted, ok := alertFromOW(a); ok {
			alerts = append(alerts, &converted)
		}
	}
	w.Alert = t.MostSevere(alerts...)

	if w.Alert == nil {
		w.Alert = rainAlert(w.PrecipitationMMPerHour)
	}
	return w
}

func rainAlert(mmPerHour float64) *t.Alert {
	var sev t.Severity
	switch {
	case mmPerHour >= heavyRainWarning:
		sev = t.SeverityWarning
	case mmPerHour >= heavyRainAdvisory:
		sev = t.SeverityAdvisory
	default:
		return nil
	}
	a := t.NewAlert(t.AlertRain, sev, "Heavy rain",
		strconv.FormatFloat(mmPerHour, 'f', 1, 64)+" mm/h observed", source)
	return &a
}

// alertKeywords maps words in an alert's event name to an alert type, most
// specific first.
var alertKeywords = []struct {
	word string
	typ  t.AlertType
}{
	{"tsunami", t.AlertTsunami},
	{"storm surge", t.AlertStormSurge},
	{"high tide", t.AlertStormSurge},
	{"landslide", t.AlertLandslide},
	{"sediment", t.AlertLandslide},
	{"mudslide", t.AlertLandslide},
	{"earthquake", t.AlertEarthquake},
	{"flood", t.AlertFlood},
	{"rain", t.AlertRain},
	{"thunderstorm", t.AlertRain},
	{"typhoon", t.AlertRain},
}

func alertFromOW(a Alert) (t.Alert, bool) {
	event := strings.ToLower(a.Event + " " + strings.Join(a.Tags, " "))

	typ := t.AlertNone
	for _, kw := range alertKeywords {
		if strings.Contains(event, kw.word) {
			typ = kw.typ
			break
		}
	}
	if typ == t.AlertNone {
		return t.Alert{}, false
	}

	var sev t.Severity
	switch {
	case strings.Contains(event, "emergency"), strings.Contains(event, "extreme"), strings.Contains(event, "major"):
		sev = t.SeverityCritical
	case strings.Contains(event, "warning"):
		sev = t.SeverityWarning
	default:
		sev = t.SeverityAdvisory
	}
	if typ == t.AlertTsunami && sev == t.SeverityAdvisory {
		typ = t.AlertTsunamiAdvisory
	}

	return t.NewAlert(typ, sev, a.Event, a.Description, source), true
}
