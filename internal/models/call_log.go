package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// CallLog is the audit document kept per call in the "call_sessions" collection.
type CallLog struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	SessionID string             `bson:"session_id" json:"session_id"`
	CallerID  string             `bson:"caller_id,omitempty" json:"caller_id,omitempty"`
	SurveyID  string             `bson:"survey_id,omitempty" json:"survey_id,omitempty"`
	RemoteIP  string             `bson:"remote_ip,omitempty" json:"remote_ip,omitempty"`

	Status        string `bson:"status" json:"status"`
	QuestionIndex int    `bson:"question_index" json:"question_index"`
	Outcome       string `bson:"outcome,omitempty" json:"outcome,omitempty"`
	FailureReason string `bson:"failure_reason,omitempty" json:"failure_reason,omitempty"`
	AnswerCount   int    `bson:"answer_count" json:"answer_count"`

	CreatedAt time.Time  `bson:"created_at" json:"created_at"`
	EndedAt   *time.Time `bson:"ended_at,omitempty" json:"ended_at,omitempty"`

	DurationSeconds int64 `bson:"duration_seconds" json:"duration_seconds"`
}
