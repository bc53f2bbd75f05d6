package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/pkg/errors"
)

type Coordinate struct {
	Latitude  float64 `json:"lat" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"lng" validate:"gte=-180,lte=180"`
}

// Point converts the coordinate to an orb point, which is ordered lng/lat.
func (c Coordinate) Point() orb.Point {
	return orb.Point{c.Longitude, c.Latitude}
}

func (c Coordinate) String() string {
	return fmt.Sprintf("%.6f,%.6f", c.Latitude, c.Longitude)
}

func FromPoint(p orb.Point) Coordinate {
	return Coordinate{Latitude: p.Lat(), Longitude: p.Lon()}
}

// Location is either a coordinate or a free-text place query. On the wire it
// is a JSON string or a {"lat","lng"} object.
type Location struct {
	Coordinate *Coordinate `validate:"omitempty"`
	Query      string
}

func (l Location) IsZero() bool {
	return l.Coordinate == nil && strings.TrimSpace(l.Query) == ""
}

func (l Location) String() string {
	if l.Coordinate != nil {
		return l.Coordinate.String()
	}
	return l.Query
}

func (l *Location) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*l = Location{}
		return nil
	}
	if b[0] == '"' {
		var q string
		if err := json.Unmarshal(b, &q); err != nil {
			return errors.Wrap(err, "location query")
		}
		*l = Location{Query: q}
		return nil
	}
	var c Coordinate
	if err := json.Unmarshal(b, &c); err != nil {
		return errors.Wrap(err, "location coordinate")
	}
	*l = Location{Coordinate: &c}
	return nil
}

func (l Location) MarshalJSON() ([]byte, error) {
	if l.Coordinate != nil {
		return json.Marshal(l.Coordinate)
	}
	return json.Marshal(l.Query)
}

type Mode string

const (
	ModeNormal    Mode = "NORMAL"
	ModeEmergency Mode = "EMERGENCY"
)

type AlertType string

const (
	AlertRain            AlertType = "RAIN"
	AlertFlood           AlertType = "FLOOD"
	AlertTsunami         AlertType = "TSUNAMI"
	AlertTsunamiAdvisory AlertType = "TSUNAMI_ADVISORY"
	AlertLandslide       AlertType = "LANDSLIDE"
	AlertEarthquake      AlertType = "EARTHQUAKE"
	AlertStormSurge      AlertType = "STORM_SURGE"
	AlertNone            AlertType = "NONE"
)

// alertPriority orders alert types for tie-breaking when two alerts share a
// severity. Lower index wins.
var alertPriority = []AlertType{
	AlertTsunami,
	AlertEarthquake,
	AlertStormSurge,
	AlertLandslide,
	AlertFlood,
	AlertRain,
	AlertTsunamiAdvisory,
	AlertNone,
}

func (t AlertType) priority() int {
	for i, p := range alertPriority {
		if p == t {
			return i
		}
	}
	return len(alertPriority)
}

// ParseAlertType accepts alert type names case-insensitively.
func ParseAlertType(s string) (AlertType, bool) {
	t := AlertType(strings.ToUpper(strings.TrimSpace(s)))
	for _, p := range alertPriority {
		if p == t {
			return t, true
		}
	}
	return "", false
}

// Hazard maps an alert to the hazard layer it makes relevant, if any.
func (t AlertType) Hazard() (HazardType, bool) {
	switch t {
	case AlertRain, AlertFlood:
		return HazardFlood, true
	case AlertTsunami, AlertTsunamiAdvisory:
		return HazardTsunami, true
	case AlertLandslide:
		return HazardLandslide, true
	case AlertStormSurge:
		return HazardStormSurge, true
	}
	return "", false
}

type Severity string

const (
	SeverityAdvisory Severity = "advisory"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityWarning:
		return 2
	case SeverityAdvisory:
		return 1
	}
	return 0
}

type Alert struct {
	Type           AlertType `json:"type"`
	Severity       Severity  `json:"severity"`
	Title          string    `json:"title"`
	Message        string    `json:"message,omitempty"`
	Source         string    `json:"source"`
	ShouldEscalate bool      `json:"shouldEscalate"`
}

// NewAlert builds an alert; warnings and critical alerts escalate the
// request to emergency mode.
func NewAlert(t AlertType, sev Severity, title, msg, source string) Alert {
	return Alert{
		Type:           t,
		Severity:       sev,
		Title:          title,
		Message:        msg,
		Source:         source,
		ShouldEscalate: t != AlertNone && sev.Rank() >= SeverityWarning.Rank(),
	}
}

// Outranks reports whether a should be preferred over b.
func (a Alert) Outranks(b Alert) bool {
	if a.Severity.Rank() != b.Severity.Rank() {
		return a.Severity.Rank() > b.Severity.Rank()
	}
	return a.Type.priority() < b.Type.priority()
}

// MostSevere returns the highest ranked alert, or nil when none are given.
func MostSevere(alerts ...*Alert) *Alert {
	var best *Alert
	for _, a := range alerts {
		if a == nil || a.Type == AlertNone {
			continue
		}
		if best == nil || a.Outranks(*best) {
			best = a
		}
	}
	return best
}

type Weather struct {
	PrecipitationMMPerHour float64   `json:"precipitationMmPerHour"`
	WindSpeedMPS           float64   `json:"windSpeedMps"`
	Condition              string    `json:"condition,omitempty"`
	Alert                  *Alert    `json:"alert,omitempty"`
	ObservedAt             time.Time `json:"observedAt"`
}

type HazardType string

const (
	HazardFlood      HazardType = "FLOOD"
	HazardLandslide  HazardType = "LANDSLIDE"
	HazardTsunami    HazardType = "TSUNAMI"
	HazardStormSurge HazardType = "STORM_SURGE"
)

var HazardTypes = []HazardType{HazardFlood, HazardLandslide, HazardTsunami, HazardStormSurge}

type HazardZone struct {
	Center       Coordinate `json:"center"`
	RadiusMeters float64    `json:"radiusMeters"`
	DepthMeters  float64    `json:"depthMeters"`
	Label        string     `json:"label,omitempty"`
}

type HazardLayer struct {
	Present        bool         `json:"present"`
	MaxDepthMeters float64      `json:"maxDepthMeters"`
	Zones          []HazardZone `json:"zones,omitempty"`
}

type HazardLayers map[HazardType]HazardLayer

type CrimeZone struct {
	Name         string     `json:"name"`
	Center       Coordinate `json:"center"`
	RadiusMeters float64    `json:"radiusMeters"`
	Rate         float64    `json:"rate"`
	Label        string     `json:"label,omitempty"`
}

// CrimeDensity holds normalised incident rates in [0,1]. Cells are keyed by
// the maptile cell key at CellZoom.
type CrimeDensity struct {
	Default  float64            `json:"default"`
	CellZoom uint32             `json:"cellZoom,omitempty"`
	Cells    map[string]float64 `json:"cells,omitempty"`
	Zones    []CrimeZone        `json:"zones,omitempty"`
}

type DataQuality struct {
	WeatherDegraded  bool `json:"weatherDegraded"`
	WeatherFromCache bool `json:"weatherFromCache"`
	AlertDegraded    bool `json:"alertDegraded"`
	HazardDegraded   bool `json:"hazardDegraded"`
	CrimeDegraded    bool `json:"crimeDegraded"`
	ImageryDegraded  bool `json:"imageryDegraded"`
}

func (q DataQuality) Degraded() bool {
	return len(q.Flags()) > 0
}

// Flags lists degraded sources by name, in a fixed order.
func (q DataQuality) Flags() []string {
	var flags []string
	if q.WeatherDegraded {
		flags = append(flags, "weather")
	}
	if q.AlertDegraded {
		flags = append(flags, "alerts")
	}
	if q.HazardDegraded {
		flags = append(flags, "hazard")
	}
	if q.CrimeDegraded {
		flags = append(flags, "crime")
	}
	if q.ImageryDegraded {
		flags = append(flags, "imagery")
	}
	return flags
}

type SituationContext struct {
	Origin       Coordinate   `json:"origin"`
	Destination  Coordinate   `json:"destination"`
	Area         orb.Bound    `json:"-"`
	Weather      Weather      `json:"weather"`
	Alert        *Alert       `json:"alert,omitempty"`
	HazardLayers HazardLayers `json:"hazardLayers"`
	Crime        CrimeDensity `json:"crimeDensity"`
	Mode         Mode         `json:"mode"`
	DataQuality  DataQuality  `json:"dataQuality"`
}
