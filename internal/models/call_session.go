package models

import "time"

type SessionStatus string

const (
	StatusInitiated      SessionStatus = "initiated"
	StatusGreeting       SessionStatus = "greeting"
	StatusAskingQuestion SessionStatus = "asking_question"
	StatusAwaitingAnswer SessionStatus = "awaiting_answer"
	StatusCompleted      SessionStatus = "completed"
	StatusFailed         SessionStatus = "failed"
	StatusCancelled      SessionStatus = "cancelled"
)

func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Session is one call's survey state. It is owned by a single state machine goroutine.
type Session struct {
	ID        string
	CallerID  string
	SurveyID  string
	Language  string
	Questions []QuestionSpec
	Index     int
	Status    SessionStatus
	Answers   []Answer
	StartedAt time.Time
	EndedAt   time.Time
	Deadline  time.Time

	FailureReason string
}

// Record builds the submission payload for a terminal session.
func (s *Session) Record() SubmissionRecord {
	end := s.EndedAt
	if end.IsZero() {
		end = time.Now()
	}
	dur := int64(end.Sub(s.StartedAt).Seconds())
	if dur < 0 {
		dur = 0
	}

	answers := make([]Answer, len(s.Answers))
	copy(answers, s.Answers)

	return SubmissionRecord{
		SessionID:       s.ID,
		CallerID:        s.CallerID,
		SurveyID:        s.SurveyID,
		Answers:         answers,
		DurationSeconds: dur,
		Outcome:         OutcomeFor(s.Status, len(answers)),
		Status:          s.Status,
		FailureReason:   s.FailureReason,
	}
}
