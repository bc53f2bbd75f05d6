package events

import (
	"encoding/json"
	"fmt"
	"io"

	t "github.com/evanhutnik/saferoute-service/internal/types"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

type Type string

const (
	TypeStatus          Type = "status"
	TypeAgentStatus     Type = "agent_status"
	TypeSamplingPoints  Type = "sampling_points"
	TypeCandidateRoutes Type = "candidate_routes"
	TypeAnalysisPoint   Type = "analysis_point"
	TypeResult          Type = "result"
	TypeError           Type = "error"
)

// Agents reported in status events.
const (
	AgentContext   = "context"
	AgentNavigator = "navigator"
	AgentAnalyst   = "analyst"
	AgentNarrator  = "narrator"
)

type AgentState string

const (
	StateWaiting    AgentState = "waiting"
	StateProcessing AgentState = "processing"
	StateComplete   AgentState = "complete"
)

// Event is one of the progress event types below.
type Event interface {
	Kind() Type
}

type Status struct {
	Agent   string `json:"agent" validate:"required,oneof=context navigator analyst narrator"`
	Message string `json:"message" validate:"required"`
}

type AgentStatus struct {
	Agent    string     `json:"agent" validate:"required,oneof=context navigator analyst narrator"`
	Status   AgentState `json:"status" validate:"required,oneof=waiting processing complete"`
	Progress int        `json:"progress" validate:"gte=0,lte=100"`
	Message  string     `json:"message,omitempty"`
}

type SamplingPoints struct {
	Points []t.Coordinate `json:"points" validate:"required,dive"`
}

type RouteLine struct {
	Index    int    `json:"index" validate:"gte=0"`
	Polyline string `json:"polyline" validate:"required"`
}

type CandidateRoutes struct {
	Routes []RouteLine `json:"routes" validate:"required,dive"`
}

type AnalysisPoint struct {
	Point t.PointAssessment `json:"point"`
}

type Result struct {
	Data any `json:"data" validate:"required"`
}

type Error struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message" validate:"required"`
}

func (Status) Kind() Type          { return TypeStatus }
func (AgentStatus) Kind() Type     { return TypeAgentStatus }
func (SamplingPoints) Kind() Type  { return TypeSamplingPoints }
func (CandidateRoutes) Kind() Type { return TypeCandidateRoutes }
func (AnalysisPoint) Kind() Type   { return TypeAnalysisPoint }
func (Result) Kind() Type          { return TypeResult }
func (Error) Kind() Type           { return TypeError }

// Terminal reports whether e ends a stream.
func Terminal(e Event) bool {
	k := e.Kind()
	return k == TypeResult || k == TypeError
}

var validate = validator.New()

func Validate(e Event) error {
	if e == nil {
		return errors.New("nil event")
	}
	if err := validate.Struct(e); err != nil {
		return errors.Wrapf(err, "invalid %v event", e.Kind())
	}
	return nil
}

// Marshal validates e and encodes it as a JSON object carrying its type.
func Marshal(e Event) ([]byte, error) {
	if err := Validate(e); err != nil {
		return nil, err
	}
	body, err := json.Marshal(e)
	if err != nil {
		return nil, errors.Wrapf(err, "marshal %v event", e.Kind())
	}
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, errors.Wrapf(err, "marshal %v event", e.Kind())
	}
	fields["type"], _ = json.Marshal(e.Kind())
	return json.Marshal(fields)
}

// WriteSSE writes e as one server-sent event frame.
func WriteSSE(w io.Writer, e Event) error {
	data, err := Marshal(e)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Kind(), data); err != nil {
		return errors.Wrap(err, "write event")
	}
	return nil
}
