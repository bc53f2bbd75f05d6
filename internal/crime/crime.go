package crime

import (
	"context"
	"math"

	"github.com/evanhutnik/saferoute-service/internal/config"
	"github.com/evanhutnik/saferoute-service/internal/route"
	t "github.com/evanhutnik/saferoute-service/internal/types"
	"github.com/jackc/pgx/v5"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/maptile"
	"github.com/pkg/errors"
)

// Static serves crime zones declared in configuration.
type Static struct {
	cellZoom uint32
	fallback float64
	zones    []t.CrimeZone
}

func NewStatic(cfg config.CrimeConfig) *Static {
	zones := make([]t.CrimeZone, 0, len(cfg.Zones))
	for _, z := range cfg.Zones {
		zones = append(zones, t.CrimeZone{
			Name:         z.Name,
			Center:       t.Coordinate{Latitude: z.Lat, Longitude: z.Lng},
			RadiusMeters: z.RadiusMeters,
			Rate:         normalize(z.Rate),
			Label:        z.Label,
		})
	}
	return &Static{cellZoom: cfg.CellZoom, fallback: normalize(cfg.Default), zones: zones}
}

// Density returns the zones that reach into area.
func (s *Static) Density(_ context.Context, area orb.Bound) (t.CrimeDensity, error) {
	d := t.CrimeDensity{Default: s.fallback, CellZoom: s.cellZoom}
	for _, z := range s.zones {
		if geo.BoundPad(area, z.RadiusMeters).Contains(z.Center.Point()) {
			d.Zones = append(d.Zones, z)
		}
	}
	return d, nil
}

// Querier is satisfied by *pgxpool.Pool.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const cellsQuery = `
	SELECT x, y, rate
	FROM crime_cells
	WHERE zoom = $1 AND x BETWEEN $2 AND $3 AND y BETWEEN $4 AND $5
`

// Postgres reads normalised incident rates per map tile cell from the
// crime_cells table (zoom, x, y, rate). Static zones are layered on top.
type Postgres struct {
	db     Querier
	static *Static
}

func NewPostgres(db Querier, cfg config.CrimeConfig) *Postgres {
	return &Postgres{db: db, static: NewStatic(cfg)}
}

func (p *Postgres) Density(ctx context.Context, area orb.Bound) (t.CrimeDensity, error) {
	d, _ := p.static.Density(ctx, area)

	z := maptile.Zoom(d.CellZoom)
	nw := maptile.At(orb.Point{area.Min.Lon(), area.Max.Lat()}, z)
	se := maptile.At(orb.Point{area.Max.Lon(), area.Min.Lat()}, z)

	rows, err := p.db.Query(ctx, cellsQuery, int(z), int64(nw.X), int64(se.X), int64(nw.Y), int64(se.Y))
	if err != nil {
		return t.CrimeDensity{}, errors.Wrap(err, "postgres: failed to query crime cells")
	}
	defer rows.Close()

	d.Cells = make(map[string]float64)
	for rows.Next() {
		var x, y int64
		var rate float64
		if err := rows.Scan(&x, &y, &rate); err != nil {
			return t.CrimeDensity{}, errors.Wrap(err, "postgres: failed to scan crime cell")
		}
		tile := maptile.New(uint32(x), uint32(y), z)
		d.Cells[cellKey(tile)] = normalize(rate)
	}
	if err := rows.Err(); err != nil {
		return t.CrimeDensity{}, errors.Wrap(err, "postgres: crime cells")
	}
	return d, nil
}

func cellKey(tile maptile.Tile) string {
	return route.CellKey(t.FromPoint(tile.Center()), uint32(tile.Z))
}

func normalize(rate float64) float64 {
	if math.IsNaN(rate) {
		return 0
	}
	return math.Max(0, math.Min(rate, 1))
}
