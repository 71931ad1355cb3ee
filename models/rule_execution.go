package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// RuleExecutionRecord is the per (rule, subject) firing history. The unique index is the
// claim primitive: two concurrent first firings cannot both insert it.
type RuleExecutionRecord struct {
	ID             string    `gorm:"primaryKey;type:uuid" json:"id"`
	RuleID         string    `gorm:"type:uuid;not null;uniqueIndex:idx_rule_subject,priority:1" json:"rule_id"`
	SubjectID      string    `gorm:"type:uuid;not null;uniqueIndex:idx_rule_subject,priority:2" json:"subject_id"`
	ExecutionCount int64     `gorm:"not null" json:"execution_count"`
	LastFiredAt    time.Time `gorm:"not null" json:"last_fired_at"`
	CreatedAt      time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt      time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (r *RuleExecutionRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// Run log statuses
const (
	RunStatusSuccess = "success"
	RunStatusFailed  = "failed"
)

// RuleExecutionLog is an append-only audit row for one fired or failed attempt.
type RuleExecutionLog struct {
	ID          uint64            `gorm:"primaryKey;autoIncrement" json:"id"`
	RuleID      string            `gorm:"type:uuid;not null;index" json:"rule_id"`
	SubjectID   string            `gorm:"type:uuid;not null;index" json:"subject_id"`
	TriggerType TriggerType       `gorm:"type:varchar(32);not null" json:"trigger_type"`
	EventID     string            `gorm:"type:varchar(64)" json:"event_id,omitempty"`
	Status      string            `gorm:"type:varchar(16);not null;index" json:"status"`
	Message     string            `gorm:"type:text" json:"message,omitempty"`
	Context     datatypes.JSONMap `json:"context,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}
