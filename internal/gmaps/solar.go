package gmaps

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/evanhutnik/saferoute-service/internal/common"
	t "github.com/evanhutnik/saferoute-service/internal/types"
	"github.com/pkg/errors"
)

type buildingInsights struct {
	Name           string `json:"name"`
	SolarPotential struct {
		MaxSunshineHoursPerYear float64 `json:"maxSunshineHoursPerYear"`
	} `json:"solarPotential"`
}

// Solar looks up the closest building through the Solar API. The maps
// library does not cover this API.
type Solar struct {
	apiKey      string
	baseUrl     string
	sunshineMax float64
	http        *http.Client
}

// NewSolar builds a Solar client. A point is shadowed when a building is
// found next to it whose yearly sunshine is below sunshineMax hours; zero
// treats any nearby building as shadowing.
func NewSolar(apiKey, baseUrl string, sunshineMax float64, hc *http.Client) *Solar {
	if apiKey == "" {
		panic("Missing apikey in solar client")
	}
	if baseUrl == "" {
		panic("Missing baseUrl in solar client")
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Solar{apiKey: apiKey, baseUrl: baseUrl, sunshineMax: sunshineMax, http: hc}
}

func (s *Solar) Shadow(ctx context.Context, p t.Coordinate) (bool, error) {
	req, err := url.Parse(s.baseUrl)
	if err != nil {
		return false, errors.Wrapf(err, "failed to parse solar baseUrl %s", s.baseUrl)
	}
	q := req.Query()
	q.Add("location.latitude", strconv.FormatFloat(p.Latitude, 'f', -1, 64))
	q.Add("location.longitude", strconv.FormatFloat(p.Longitude, 'f', -1, 64))
	q.Add("requiredQuality", "HIGH")
	q.Add("key", s.apiKey)
	req.RawQuery = q.Encode()

	ctxReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.String(), nil)
	if err != nil {
		return false, errors.Wrap(err, "build solar request")
	}
	resp, err := common.GetWithRetry(s.http, ctxReq, "solar")
	if common.IsNotFound(err) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, errors.Wrap(err, "error reading solar response body")
	}
	var insights buildingInsights
	if err := json.Unmarshal(body, &insights); err != nil {
		return false, errors.Wrap(err, "error unmarshalling response from solar")
	}
	if s.sunshineMax <= 0 {
		return true, nil
	}
	return insights.SolarPotential.MaxSunshineHoursPerYear < s.sunshineMax, nil
}
