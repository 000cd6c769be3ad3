package models

import "time"

type Category string

const (
	CategoryYes          Category = "yes"
	CategoryNo           Category = "no"
	CategoryUncertain    Category = "uncertain"
	CategoryNumericScale Category = "numeric_scale"
	CategoryUnrecognized Category = "unrecognized"

	// CategoryUnanswered marks a question whose pause window ended without usable speech.
	CategoryUnanswered Category = "unanswered"
)

// Answer is immutable once appended to a Session.
type Answer struct {
	QuestionOrder   int       `json:"question_order"`
	Text            string    `json:"text,omitempty"`
	Category        Category  `json:"category"`
	NormalizedValue *int      `json:"normalized_value"`
	Confidence      float64   `json:"confidence"`
	At              time.Time `json:"at"`
}

// Unanswered builds the explicit marker for a question that got no usable speech.
func Unanswered(order int, at time.Time) Answer {
	return Answer{QuestionOrder: order, Category: CategoryUnanswered, At: at}
}
