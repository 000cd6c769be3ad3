package models

import (
	"time"

	"gorm.io/datatypes"
)

type OutboxStatus string

const (
	OutboxPending   OutboxStatus = "pending"
	OutboxDelivered OutboxStatus = "delivered"
)

// OutboxEntry is a submission that exhausted its retry budget and awaits reconciliation.
type OutboxEntry struct {
	SessionID string         `gorm:"column:session_id;type:text;primaryKey" json:"session_id"`
	Payload   datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload"`
	Status    OutboxStatus   `gorm:"column:status;type:text;index" json:"status"`
	Attempts  int            `gorm:"column:attempts;type:integer" json:"attempts"`
	LastError string         `gorm:"column:last_error;type:text" json:"last_error,omitempty"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamptz" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamptz;index" json:"updated_at"`
}

func (OutboxEntry) TableName() string { return "submission_outbox" }
