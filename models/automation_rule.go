package models

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// TriggerType names the domain event (or the clock) that wakes a rule up.
type TriggerType string

const (
	TriggerCron             TriggerType = "CRON"
	TriggerPostCreate       TriggerType = "POST_CREATE"
	TriggerPostReply        TriggerType = "POST_REPLY"
	TriggerCheckin          TriggerType = "CHECKIN"
	TriggerDonation         TriggerType = "DONATION"
	TriggerPostLikeGiven    TriggerType = "POST_LIKE_GIVEN"
	TriggerPostLikeReceived TriggerType = "POST_LIKE_RECEIVED"
	TriggerUserRegister     TriggerType = "USER_REGISTER"
	TriggerUserLogin        TriggerType = "USER_LOGIN"
)

// TriggerTypes lists every supported trigger, CRON first.
var TriggerTypes = []TriggerType{
	TriggerCron,
	TriggerPostCreate,
	TriggerPostReply,
	TriggerCheckin,
	TriggerDonation,
	TriggerPostLikeGiven,
	TriggerPostLikeReceived,
	TriggerUserRegister,
	TriggerUserLogin,
}

func (t TriggerType) Valid() bool {
	for _, known := range TriggerTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Condition operators
const (
	OpEq  = "eq"
	OpGte = "gte"
	OpLte = "lte"
	OpIn  = "in"
)

// Condition is one field/operator/value triple. A rule's conditions are AND-ed.
type Condition struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

// TriggerConditions holds the predicate of a rule and, for CRON rules, its schedule
// (standard 5-field crontab or a descriptor such as "@daily", optional CRON_TZ= prefix).
type TriggerConditions struct {
	Schedule   string      `json:"schedule,omitempty"`
	Conditions []Condition `json:"conditions,omitempty"`
}

// UnmarshalJSON accepts either the object form or a bare condition array.
func (tc *TriggerConditions) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*tc = TriggerConditions{}
		return nil
	}
	if trimmed[0] == '[' {
		var conds []Condition
		if err := json.Unmarshal(trimmed, &conds); err != nil {
			return err
		}
		*tc = TriggerConditions{Conditions: conds}
		return nil
	}
	type plain TriggerConditions
	var p plain
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return err
	}
	*tc = TriggerConditions(p)
	return nil
}

// AutomationRule is a persisted trigger + condition + action policy.
type AutomationRule struct {
	ID                string                                `gorm:"primaryKey;type:uuid" json:"id"`
	Name              string                                `gorm:"not null" json:"name"`
	Slug              string                                `gorm:"type:varchar(160);index" json:"slug"`
	Description       string                                `gorm:"type:text" json:"description"`
	TriggerType       TriggerType                           `gorm:"type:varchar(32);not null;index:idx_rule_trigger,priority:1" json:"trigger_type"`
	TriggerConditions datatypes.JSONType[TriggerConditions] `json:"trigger_conditions"`
	Actions           datatypes.JSONSlice[ActionSpec]       `gorm:"not null" json:"actions"`
	Priority          int                                   `gorm:"not null;index:idx_rule_trigger,priority:3" json:"priority"`
	IsEnabled         bool                                  `gorm:"not null;index:idx_rule_trigger,priority:2" json:"is_enabled"`
	IsRepeatable      bool                                  `gorm:"not null" json:"is_repeatable"`
	MaxExecutions     *int64                                `json:"max_executions,omitempty"`
	CooldownSeconds   *int64                                `json:"cooldown_seconds,omitempty"`
	StartTime         *time.Time                            `json:"start_time,omitempty"`
	EndTime           *time.Time                            `json:"end_time,omitempty"`
	CreatedAt         time.Time                             `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt         time.Time                             `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt         gorm.DeletedAt                        `json:"-" gorm:"index"`
}

func (r *AutomationRule) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// BeforeSave keeps the slug in step with the name.
func (r *AutomationRule) BeforeSave(tx *gorm.DB) error {
	if r.Name != "" {
		r.Slug = slug.Make(r.Name)
	}
	return nil
}

// IsDeleted reports whether the rule was soft-deleted.
func (r *AutomationRule) IsDeleted() bool {
	return r.DeletedAt.Valid
}

// Conditions returns the rule's predicate list.
func (r *AutomationRule) Conditions() []Condition {
	return r.TriggerConditions.Data().Conditions
}

// Schedule returns the cron expression of a CRON rule.
func (r *AutomationRule) Schedule() string {
	return r.TriggerConditions.Data().Schedule
}

// InWindow reports whether now falls inside the rule's [StartTime, EndTime] window.
func (r *AutomationRule) InWindow(now time.Time) bool {
	if r.StartTime != nil && now.Before(*r.StartTime) {
		return false
	}
	if r.EndTime != nil && now.After(*r.EndTime) {
		return false
	}
	return true
}

// DecodedActions decodes the persisted action list into its typed variants.
func (r *AutomationRule) DecodedActions() ([]Action, error) {
	out := make([]Action, 0, len(r.Actions))
	for i, spec := range r.Actions {
		a, err := spec.Decode()
		if err != nil {
			return nil, &ActionDecodeError{Index: i, Type: spec.Type, Err: err}
		}
		out = append(out, a)
	}
	return out, nil
}
