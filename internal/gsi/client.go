package gsi

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"sync"

	"github.com/evanhutnik/saferoute-service/internal/common"
	"github.com/evanhutnik/saferoute-service/internal/route"
	t "github.com/evanhutnik/saferoute-service/internal/types"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const tileSize = 256

// Client reads the hazard map raster tiles published by the Geospatial
// Information Authority and turns coloured pixels into hazard zones.
type Client struct {
	baseUrl     string
	layers      map[t.HazardType]string
	minZoom     maptile.Zoom
	maxZoom     maptile.Zoom
	maxTiles    int
	blockPixels int
	http        *http.Client
}

type ClientOption func(*Client)

func BaseUrlOption(baseUrl string) ClientOption {
	return func(c *Client) {
		c.baseUrl = baseUrl
	}
}

// LayerOption maps a hazard to its tile set name.
func LayerOption(h t.HazardType, name string) ClientOption {
	return func(c *Client) {
		c.layers[h] = name
	}
}

func ZoomOption(min, max uint32) ClientOption {
	return func(c *Client) {
		c.minZoom = maptile.Zoom(min)
		c.maxZoom = maptile.Zoom(max)
	}
}

func MaxTilesOption(n int) ClientOption {
	return func(c *Client) {
		c.maxTiles = n
	}
}

// BlockOption sets the edge in pixels of the square that becomes one zone.
func BlockOption(pixels int) ClientOption {
	return func(c *Client) {
		c.blockPixels = pixels
	}
}

func HTTPClientOption(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.http = hc
	}
}

func New(opts ...ClientOption) *Client {
	c := &Client{
		layers:      make(map[t.HazardType]string),
		minZoom:     12,
		maxZoom:     15,
		maxTiles:    16,
		blockPixels: 8,
		http:        http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.baseUrl == "" {
		panic("Missing baseUrl in gsi client")
	}
	if c.blockPixels < 1 || c.blockPixels > tileSize {
		c.blockPixels = 8
	}
	if c.minZoom > c.maxZoom {
		c.minZoom = c.maxZoom
	}
	return c
}

// Layers reads every configured hazard layer over area. Layers that could
// be read are returned even when another layer fails; the error then names
// the first failed layer. A failed layer is left out of the result.
func (c *Client) Layers(ctx context.Context, area orb.Bound) (t.HazardLayers, error) {
	z, tiles, err := c.cover(area)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	out := make(t.HazardLayers, len(c.layers))
	g := new(errgroup.Group)
	for h, name := range c.layers {
		g.Go(func() error {
			layer, err := c.layer(ctx, h, name, z, tiles)
			if err != nil {
				return errors.Wrapf(err, "gsi layer %v", name)
			}
			mu.Lock()
			out[h] = layer
			mu.Unlock()
			return nil
		})
	}
	err = g.Wait()
	return out, err
}

// cover picks the most detailed zoom whose tile cover of area stays within
// maxTiles.
func (c *Client) cover(area orb.Bound) (maptile.Zoom, []maptile.Tile, error) {
	for z := c.maxZoom; ; z-- {
		// Tile rows grow southwards, so the north-west corner holds the
		// smallest x and y.
		nw := maptile.At(orb.Point{area.Min.Lon(), area.Max.Lat()}, z)
		se := maptile.At(orb.Point{area.Max.Lon(), area.Min.Lat()}, z)
		count := int(se.X-nw.X+1) * int(se.Y-nw.Y+1)
		if count <= c.maxTiles {
			tiles := make([]maptile.Tile, 0, count)
			for x := nw.X; x <= se.X; x++ {
				for y := nw.Y; y <= se.Y; y++ {
					tiles = append(tiles, maptile.New(x, y, z))
				}
			}
			return z, tiles, nil
		}
		if z <= c.minZoom {
			return 0, nil, errors.Errorf("area needs %d tiles at zoom %d, limit is %d", count, z, c.maxTiles)
		}
	}
}

func (c *Client) layer(ctx context.Context, h t.HazardType, name string, z maptile.Zoom, tiles []maptile.Tile) (t.HazardLayer, error) {
	var layer t.HazardLayer
	for _, tile := range tiles {
		img, err := c.tile(ctx, name, tile)
		if err != nil {
			return t.HazardLayer{}, err
		}
		if img == nil {
			continue
		}
		for _, zone := range c.zones(h, img, tile) {
			layer.Present = true
			if zone.DepthMeters > layer.MaxDepthMeters {
				layer.MaxDepthMeters = zone.DepthMeters
			}
			layer.Zones = append(layer.Zones, zone)
		}
	}
	return layer, nil
}

// tile fetches one raster tile. A missing tile means the hazard is absent
// there and returns nil.
func (c *Client) tile(ctx context.Context, layer string, tile maptile.Tile) (image.Image, error) {
	url := fmt.Sprintf("%v/%v/%d/%d/%d.png", c.baseUrl, layer, tile.Z, tile.X, tile.Y)
	ctxReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build gsi tile request")
	}
	resp, err := common.GetWithRetry(c.http, ctxReq, "gsi")
	if common.IsNotFound(err) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "error reading gsi tile")
	}
	img, err := png.Decode(bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrapf(err, "error decoding gsi tile %v", url)
	}
	return img, nil
}

// zones splits a tile into blocks and keeps one zone per block holding any
// hazard colour, at the deepest depth seen in the block.
func (c *Client) zones(h t.HazardType, img image.Image, tile maptile.Tile) []t.HazardZone {
	var zones []t.HazardZone
	b := img.Bounds()
	n := c.blockPixels
	for by := 0; by < tileSize; by += n {
		for bx := 0; bx < tileSize; bx += n {
			depth, found := 0.0, false
			for py := by; py < by+n && py < b.Dy(); py++ {
				for px := bx; px < bx+n && px < b.Dx(); px++ {
					d, ok := Depth(img.At(b.Min.X+px, b.Min.Y+py))
					if !ok {
						continue
					}
					found = true
					if d > depth {
						depth = d
					}
				}
			}
			if !found {
				continue
			}
			if h == t.HazardLandslide {
				depth = 0
			}
			zones = append(zones, blockZone(tile, bx, by, n, depth, string(h)))
		}
	}
	return zones
}

// blockZone is the circle around an n by n pixel block starting at px, py.
func blockZone(tile maptile.Tile, px, py, n int, depth float64, label string) t.HazardZone {
	pixelZoom := tile.Z + 8
	first := maptile.New(tile.X<<8+uint32(px), tile.Y<<8+uint32(py), pixelZoom).Bound()
	last := maptile.New(tile.X<<8+uint32(px+n-1), tile.Y<<8+uint32(py+n-1), pixelZoom).Bound()
	block := first.Union(last)

	nw := t.FromPoint(orb.Point{block.Min.Lon(), block.Max.Lat()})
	se := t.FromPoint(orb.Point{block.Max.Lon(), block.Min.Lat()})
	return t.HazardZone{
		Center:       t.FromPoint(block.Center()),
		RadiusMeters: route.Distance(nw, se) / 2,
		DepthMeters:  depth,
		Label:        label,
	}
}

// Depth reads the legend colour of a hazard tile pixel as an inundation
// depth in meters, rounded up to its band.
func Depth(px color.Color) (float64, bool) {
	c := color.NRGBAModel.Convert(px).(color.NRGBA)
	if c.A < 100 {
		return 0, false
	}
	r, g, b := int(c.R), int(c.G), int(c.B)
	switch {
	case r >= 100 && r <= 180 && g < 80 && b > 100:
		return 20, true
	case r > 180 && g < 80 && b < 80:
		return 10, true
	case r > 200 && g >= 50 && g <= 100 && b < 80:
		return 5, true
	case r > 200 && g >= 100 && g <= 180 && b < 100:
		return 2, true
	case r > 200 && g > 180 && b < 150:
		return 1, true
	case r > 220 && g > 200:
		return 0.3, true
	case r > 150 || g > 150:
		return 0.3, true
	}
	return 0, false
}
