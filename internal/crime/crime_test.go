package crime

import (
	"context"
	"errors"
	"testing"

	"github.com/evanhutnik/saferoute-service/internal/config"
	"github.com/evanhutnik/saferoute-service/internal/route"
	"github.com/evanhutnik/saferoute-service/internal/types"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/paulmach/orb/maptile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var shibuya = types.Coordinate{Latitude: 35.6595, Longitude: 139.7005}

func crimeConfig() config.CrimeConfig {
	return config.CrimeConfig{
		Source:   "static",
		CellZoom: 15,
		Default:  0.1,
		Zones: []config.CrimeZoneConfig{
			{Name: "Center Gai", Lat: 35.6600, Lng: 139.6985, RadiusMeters: 300, Rate: 1.4, Label: "nightlife"},
			{Name: "Far away", Lat: 34.70, Lng: 135.50, RadiusMeters: 500, Rate: 0.5},
		},
	}
}

func TestStaticDensity(t *testing.T) {
	s := NewStatic(crimeConfig())
	d, err := s.Density(context.Background(), route.Area(100, shibuya))
	require.NoError(t, err)

	assert.Equal(t, 0.1, d.Default)
	assert.Equal(t, uint32(15), d.CellZoom)
	require.Len(t, d.Zones, 1)
	assert.Equal(t, "Center Gai", d.Zones[0].Name)
	assert.Equal(t, 1.0, d.Zones[0].Rate)
}

type fakeRows struct {
	rows [][]any
	i    int
	err  error
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	r.i++
	return r.i <= len(r.rows)
}

func (r *fakeRows) Values() ([]any, error) {
	return r.rows[r.i-1], nil
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.rows[r.i-1]
	*dest[0].(*int64) = row[0].(int64)
	*dest[1].(*int64) = row[1].(int64)
	*dest[2].(*float64) = row[2].(float64)
	return nil
}

type fakeDB struct {
	rows *fakeRows
	err  error
	args []any
}

func (f *fakeDB) Query(_ context.Context, _ string, args ...any) (pgx.Rows, error) {
	f.args = args
	if f.err != nil {
		return nil, f.err
	}
	return f.rows, nil
}

func TestPostgresDensity(t *testing.T) {
	tile := maptile.At(shibuya.Point(), 15)
	db := &fakeDB{rows: &fakeRows{rows: [][]any{
		{int64(tile.X), int64(tile.Y), 0.7},
		{int64(tile.X + 1), int64(tile.Y), -2.0},
	}}}

	p := NewPostgres(db, crimeConfig())
	d, err := p.Density(context.Background(), route.Area(100, shibuya))
	require.NoError(t, err)

	assert.Equal(t, 15, db.args[0])
	assert.Equal(t, 0.7, d.Cells[route.CellKey(shibuya, 15)])
	assert.Len(t, d.Cells, 2)
	assert.Len(t, d.Zones, 1)
}

func TestPostgresFailure(t *testing.T) {
	p := NewPostgres(&fakeDB{err: errors.New("connection refused")}, crimeConfig())
	_, err := p.Density(context.Background(), route.Area(100, shibuya))
	assert.ErrorContains(t, err, "connection refused")

	p = NewPostgres(&fakeDB{rows: &fakeRows{err: errors.New("reset")}}, crimeConfig())
	_, err = p.Density(context.Background(), route.Area(100, shibuya))
	assert.ErrorContains(t, err, "reset")
}
