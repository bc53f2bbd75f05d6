package positionstack

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/evanhutnik/saferoute-service/internal/common"
	t "github.com/evanhutnik/saferoute-service/internal/types"
	"github.com/pkg/errors"
)

type ForwardResponse struct {
	Data []Place `json:"data"`
}

type Place struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Label     string  `json:"label"`
	Name      string  `json:"name"`
}

type ClientOption func(*Client)

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

type Client struct {
	apiKey  string
	baseUrl string
	http    *http.Client
}

func New(opts ...ClientOption) *Client {
	c := &Client{http: http.DefaultClient}
	for _, opt := range opts {
		opt(c)
	}

	if c.apiKey == "" {
		panic("Missing apikey in positionStack client")
	}
	if c.baseUrl == "" {
		panic("Missing baseUrl in positionStack client")
	}
	return c
}

// GeoCode resolves a free-text location. A nil coordinate with a nil error
// means the location was not recognised.
func (c *Client) GeoCode(ctx context.Context, location string) (*t.Coordinate, error) {
	req, err := url.Parse(fmt.Sprintf("%v/forward", c.baseUrl))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse positionstack baseUrl %s", c.baseUrl)
	}

	q := req.Query()
	q.Add("access_key", c.apiKey)
	q.Add("query", location)
	q.Add("limit", "1")
	req.RawQuery = q.Encode()

	ctxReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "build positionstack request")
	}
	resp, err := common.GetWithRetry(c.http, ctxReq, "positionstack")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "error reading positionstack response body")
	}

	var respObj ForwardResponse
	if err = json.Unmarshal(body, &respObj); err != nil {
		return nil, errors.Wrap(err, "error unmarshalling response from positionstack")
	} else if len(respObj.Data) == 0 {
		return nil, nil
	}
	return &t.Coordinate{
		Latitude:  respObj.Data[0].Latitude,
		Longitude: respObj.Data[0].Longitude,
	}, nil
}
