package models

type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomePartial   Outcome = "partial"
	OutcomeFailed    Outcome = "failed"
)

// OutcomeFor maps a terminal status to the submitted outcome.
// Failed and cancelled sessions are handled identically.
func OutcomeFor(status SessionStatus, answers int) Outcome {
	switch {
	case status == StatusCompleted:
		return OutcomeCompleted
	case answers > 0:
		return OutcomePartial
	default:
		return OutcomeFailed
	}
}

type SubmissionRecord struct {
	SessionID       string        `json:"session_id"`
	CallerID        string        `json:"caller_id,omitempty"`
	SurveyID        string        `json:"survey_id,omitempty"`
	Answers         []Answer      `json:"answers"`
	DurationSeconds int64         `json:"duration_seconds"`
	Outcome         Outcome       `json:"outcome"`
	Status          SessionStatus `json:"status"`
	FailureReason   string        `json:"failure_reason,omitempty"`
}
