package streetview

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"

	"github.com/evanhutnik/saferoute-service/internal/common"
	t "github.com/evanhutnik/saferoute-service/internal/types"
	"github.com/pkg/errors"
)

// maxImageBytes bounds a downloaded street-level image.
const maxImageBytes = 4 << 20

type metadataResponse struct {
	Status string `json:"status"`
	PanoID string `json:"pano_id"`
	Date   string `json:"date"`
}

type ClientOption func(*Client)

type Client struct {
	apiKey  string
	baseUrl string
	size    string
	fov     int
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

func SizeOption(size string, fov int) ClientOption {
	return func(c *Client) {
		c.size = size
		c.fov = fov
	}
}

func HTTPClientOption(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.http = hc
	}
}

func New(opts ...ClientOption) *Client {
	c := &Client{size: "640x400", fov: 90, http: http.DefaultClient}
	for _, opt := range opts {
		opt(c)
	}

	if c.apiKey == "" {
		panic("Missing apikey in streetview client")
	}
	if c.baseUrl == "" {
		panic("Missing baseUrl in streetview client")
	}
	return c
}

// Available reports whether street-level imagery exists near p.
func (c *Client) Available(ctx context.Context, p t.Coordinate) (bool, error) {
	req, err := url.Parse(c.baseUrl + "/metadata")
	if err != nil {
		return false, errors.Wrapf(err, "failed to parse streetview baseUrl %s", c.baseUrl)
	}
	q := req.Query()
	q.Add("location", p.String())
	q.Add("key", c.apiKey)
	req.RawQuery = q.Encode()

	ctxReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.String(), nil)
	if err != nil {
		return false, errors.Wrap(err, "build streetview metadata request")
	}
	resp, err := common.GetWithRetry(c.http, ctxReq, "streetview")
	if common.IsNotFound(err) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, errors.Wrap(err, "error reading streetview metadata body")
	}
	var meta metadataResponse
	if err := json.Unmarshal(body, &meta); err != nil {
		return false, errors.Wrap(err, "error unmarshalling streetview metadata")
	}

	switch meta.Status {
	case "OK":
		return true, nil
	case "ZERO_RESULTS", "NOT_FOUND":
		return false, nil
	}
	return false, errors.Errorf("streetview metadata status %v", meta.Status)
}

// ImageURL is the static image facing heading degrees from p.
func (c *Client) ImageURL(p t.Coordinate, heading float64) string {
	q := url.Values{}
	q.Add("size", c.size)
	q.Add("location", p.String())
	q.Add("heading", strconv.Itoa(int(math.Round(normalizeHeading(heading)))))
	q.Add("pitch", "0")
	q.Add("fov", strconv.Itoa(c.fov))
	q.Add("key", c.apiKey)
	return fmt.Sprintf("%v?%v", c.baseUrl, q.Encode())
}

// Image downloads the image at imageURL.
func (c *Client) Image(ctx context.Context, imageURL string) ([]byte, string, error) {
	ctxReq, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, "", errors.Wrap(err, "build streetview image request")
	}
	resp, err := common.GetWithRetry(c.http, ctxReq, "streetview")
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, "", errors.Wrap(err, "error reading streetview image")
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/jpeg"
	}
	return body, contentType, nil
}

func normalizeHeading(h float64) float64 {
	h = math.Mod(h, 360)
	if h < 0 {
		h += 360
	}
	return h
}
