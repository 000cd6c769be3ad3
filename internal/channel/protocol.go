package channel

import "encoding/json"

// Close codes sent before any session exists.
const (
	CloseAuthFailed       = 4001
	CloseCapacityExceeded = 4029
	CloseUnknownSurvey    = 4004
)

// Text message types and control events.
const (
	TypeAuth    = "auth"
	TypeControl = "control"

	EventHangup        = "hangup"
	EventProgress      = "progress"
	EventQuestionIndex = "question-index"
)

// inbound is any text message from the telephony platform.
type inbound struct {
	Type       string `json:"type"`
	Credential string `json:"credential,omitempty"`
	SessionID  string `json:"sessionId,omitempty"`
	CallerID   string `json:"callerId,omitempty"`
	SurveyID   string `json:"surveyId,omitempty"`
	Language   string `json:"language,omitempty"`
	Event      string `json:"event,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

type control struct {
	Type  string `json:"type"`
	Event string `json:"event"`
	Value *int   `json:"value,omitempty"`
}

func parseInbound(b []byte) (inbound, error) {
	var m inbound
	err := json.Unmarshal(b, &m)
	return m, err
}

func controlMessage(event string, value *int) []byte {
	b, _ := json.Marshal(control{Type: TypeControl, Event: event, Value: value})
	return b
}
