package types

// RouteRequest is the orchestrator input after boundary parsing.
type RouteRequest struct {
	Origin            Location `json:"origin"`
	Destination       Location `json:"destination"`
	Mode              Mode     `json:"mode,omitempty" validate:"omitempty,oneof=NORMAL EMERGENCY"`
	AlertTypeOverride string   `json:"alertTypeOverride,omitempty"`
}

type Persona string

const (
	PersonaConcierge Persona = "CONCIERGE"
	PersonaTactical  Persona = "TACTICAL"
)

func PersonaFor(m Mode) Persona {
	if m == ModeEmergency {
		return PersonaTactical
	}
	return PersonaConcierge
}

type PartialFailure struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AttemptSummary records one routing round of the selector.
type AttemptSummary struct {
	Round         int          `json:"round"`
	Candidates    int          `json:"candidates"`
	BestScore     float64      `json:"bestScore"`
	Waypoints     []Coordinate `json:"waypoints,omitempty"`
	FromFallback  bool         `json:"fromFallback,omitempty"`
	ProviderError string       `json:"providerError,omitempty"`
}

type FinalResult struct {
	RequestID     string            `json:"requestId"`
	Mode          Mode              `json:"mode"`
	Persona       Persona           `json:"persona"`
	Alert         *Alert            `json:"alert,omitempty"`
	SelectedRoute CandidateRoute    `json:"selectedRoute"`
	Assessment    RouteAssessment   `json:"assessment"`
	Alternatives  []RouteAssessment `json:"-"`
	// Points are the sample points the visual analysis looked at.
	Points         []PointAssessment `json:"points,omitempty"`
	Attempts       []AttemptSummary  `json:"attempts"`
	Narrative      string            `json:"narrative"`
	ThinkingLog    []string          `json:"thinkingLog"`
	DataQuality    DataQuality       `json:"dataQuality"`
	PartialFailure *PartialFailure   `json:"partialFailure,omitempty"`
}
