package saferoute

import (
	"github.com/evanhutnik/saferoute-service/internal/common"
	t "github.com/evanhutnik/saferoute-service/internal/types"
)

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type RouteOption struct {
	Index           int            `json:"index"`
	Polyline        string         `json:"polyline"`
	Summary         string         `json:"summary,omitempty"`
	DurationSeconds float64        `json:"durationSeconds"`
	DistanceMeters  float64        `json:"distanceMeters"`
	SafetyScore     float64        `json:"safetyScore"`
	Level           t.RiskLevel    `json:"level"`
	Warnings        []string       `json:"warnings"`
	Waypoints       []t.Coordinate `json:"waypoints,omitempty"`
}

type RiskAssessment struct {
	Level          t.RiskLevel   `json:"level"`
	Score          float64       `json:"score"`
	Factors        []string      `json:"factors"`
	Tags           []string      `json:"tags"`
	BelowThreshold bool          `json:"belowThreshold"`
	Bottleneck     *t.Coordinate `json:"bottleneck,omitempty"`
	VisualScore    *float64      `json:"visualScore,omitempty"`
}

// RouteResponse is the body of POST /v1/routes and the data of the
// stream's result event. The selected route is always routes[0].
type RouteResponse struct {
	RequestID          string              `json:"requestId"`
	Mode               t.Mode              `json:"mode,omitempty"`
	Persona            t.Persona           `json:"persona,omitempty"`
	Alert              *t.Alert            `json:"alert,omitempty"`
	Routes             []RouteOption       `json:"routes"`
	Narrative          string              `json:"narrative,omitempty"`
	ThinkingProcessLog []string            `json:"thinkingProcessLog,omitempty"`
	RiskAssessment     *RiskAssessment     `json:"riskAssessment,omitempty"`
	Points             []t.PointAssessment `json:"points,omitempty"`
	Attempts           []t.AttemptSummary  `json:"attempts,omitempty"`
	DataQuality        *t.DataQuality      `json:"dataQuality,omitempty"`
	Error              *ErrorBody          `json:"error,omitempty"`
}

func NewRouteResponse(res *t.FinalResult) RouteResponse {
	resp := RouteResponse{
		RequestID:          res.RequestID,
		Mode:               res.Mode,
		Persona:            res.Persona,
		Alert:              res.Alert,
		Routes:             make([]RouteOption, 0, 1+len(res.Alternatives)),
		Narrative:          res.Narrative,
		ThinkingProcessLog: res.ThinkingLog,
		Points:             res.Points,
		Attempts:           res.Attempts,
	}
	resp.Routes = append(resp.Routes, routeOption(res.Assessment))
	for _, alt := range res.Alternatives {
		resp.Routes = append(resp.Routes, routeOption(alt))
	}

	a := res.Assessment
	ra := &RiskAssessment{
		Level:          a.Level,
		Score:          a.BottleneckScore,
		Factors:        []string{},
		Tags:           a.AggregateTags,
		BelowThreshold: a.BelowThreshold,
		VisualScore:    a.VisualScore,
	}
	if bn, ok := a.Bottleneck(); ok {
		c := bn.Coordinate
		ra.Bottleneck = &c
		ra.Factors = append(ra.Factors, bn.Factors...)
	}
	resp.RiskAssessment = ra

	if res.DataQuality.Degraded() {
		q := res.DataQuality
		resp.DataQuality = &q
	}
	if pf := res.PartialFailure; pf != nil {
		resp.Error = &ErrorBody{Code: pf.Code, Message: pf.Message}
	}
	return resp
}

func routeOption(a t.RouteAssessment) RouteOption {
	warnings := a.AggregateTags
	if warnings == nil {
		warnings = []string{}
	}
	return RouteOption{
		Index:           a.Route.Index,
		Polyline:        a.Route.Polyline,
		Summary:         a.Route.Summary,
		DurationSeconds: a.Route.DurationSeconds,
		DistanceMeters:  a.Route.DistanceMeters,
		SafetyScore:     a.BottleneckScore,
		Level:           a.Level,
		Warnings:        warnings,
		Waypoints:       a.Route.Waypoints,
	}
}

// ErrorResponse reports a request that produced no route.
func ErrorResponse(requestID string, ce common.CodeError) RouteResponse {
	return RouteResponse{
		RequestID: requestID,
		Routes:    []RouteOption{},
		Error:     &ErrorBody{Code: ce.Code, Message: ce.Msg},
	}
}
