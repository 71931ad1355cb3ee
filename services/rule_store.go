package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/robfig/cron/v3"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"nextbb-automation/models"
)

// ScheduleSync keeps the cron registry consistent with rule writes.
type ScheduleSync interface {
	Sync(rule *models.AutomationRule) error
	Deregister(ruleID string) error
}

// RuleStore persists rule definitions. Every write validates first and then
// re-syncs the rule's cron registration.
type RuleStore struct {
	DB        *gorm.DB
	Schedules ScheduleSync
}

func NewRuleStore(db *gorm.DB) *RuleStore {
	return &RuleStore{DB: db}
}

// RuleInput is the create payload. The legacy single-action fields are folded into Actions.
type RuleInput struct {
	Name              string                   `json:"name"`
	Description       string                   `json:"description"`
	TriggerType       models.TriggerType       `json:"trigger_type"`
	TriggerConditions models.TriggerConditions `json:"trigger_conditions"`
	Actions           []models.ActionSpec      `json:"actions"`
	ActionType        models.ActionType        `json:"action_type,omitempty"`
	ActionParams      json.RawMessage          `json:"action_params,omitempty"`
	Priority          int                      `json:"priority"`
	IsEnabled         *bool                    `json:"is_enabled"`
	IsRepeatable      bool                     `json:"is_repeatable"`
	MaxExecutions     *int64                   `json:"max_executions"`
	CooldownSeconds   *int64                   `json:"cooldown_seconds"`
	StartTime         *time.Time               `json:"start_time"`
	EndTime           *time.Time               `json:"end_time"`
}

// Optional distinguishes an absent JSON field from an explicit null.
type Optional[T any] struct {
	Set   bool
	Value *T
}

func (o *Optional[T]) UnmarshalJSON(b []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		o.Value = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	o.Value = &v
	return nil
}

// RuleUpdate is a partial update; nil / unset fields are left unchanged.
type RuleUpdate struct {
	Name              *string                   `json:"name"`
	Description       *string                   `json:"description"`
	TriggerType       *models.TriggerType       `json:"trigger_type"`
	TriggerConditions *models.TriggerConditions `json:"trigger_conditions"`
	Actions           *[]models.ActionSpec      `json:"actions"`
	ActionType        models.ActionType         `json:"action_type,omitempty"`
	ActionParams      json.RawMessage           `json:"action_params,omitempty"`
	Priority          *int                      `json:"priority"`
	IsEnabled         *bool                     `json:"is_enabled"`
	IsRepeatable      *bool                     `json:"is_repeatable"`
	MaxExecutions     Optional[int64]           `json:"max_executions"`
	CooldownSeconds   Optional[int64]           `json:"cooldown_seconds"`
	StartTime         Optional[time.Time]       `json:"start_time"`
	EndTime           Optional[time.Time]       `json:"end_time"`
}

// RuleFilter narrows List.
type RuleFilter struct {
	TriggerType models.TriggerType
	Enabled     *bool
	Query       string
	Page        int
	Size        int
}

func (s *RuleStore) Create(ctx context.Context, in RuleInput) (*models.AutomationRule, error) {
	actions, err := normalizeActions(in.Actions, in.ActionType, in.ActionParams)
	if err != nil {
		return nil, err
	}
	enabled := true
	if in.IsEnabled != nil {
		enabled = *in.IsEnabled
	}

	rule := &models.AutomationRule{
		Name:              strings.TrimSpace(in.Name),
		Description:       in.Description,
		TriggerType:       in.TriggerType,
		TriggerConditions: datatypes.NewJSONType(in.TriggerConditions),
		Actions:           datatypes.NewJSONSlice(actions),
		Priority:          in.Priority,
		IsEnabled:         enabled,
		IsRepeatable:      in.IsRepeatable,
		MaxExecutions:     in.MaxExecutions,
		CooldownSeconds:   in.CooldownSeconds,
		StartTime:         utcPtr(in.StartTime),
		EndTime:           utcPtr(in.EndTime),
	}
	if err := ValidateRule(rule); err != nil {
		return nil, err
	}
	if err := s.DB.WithContext(ctx).Create(rule).Error; err != nil {
		return nil, err
	}
	log.Printf("[Rules] created rule %s (%s, %s)", rule.ID, rule.Name, rule.TriggerType)
	return rule, s.sync(rule)
}

func (s *RuleStore) Update(ctx context.Context, id string, up RuleUpdate) (*models.AutomationRule, error) {
	rule, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if up.Name != nil {
		rule.Name = strings.TrimSpace(*up.Name)
	}
	if up.Description != nil {
		rule.Description = *up.Description
	}
	if up.TriggerType != nil {
		rule.TriggerType = *up.TriggerType
	}
	if up.TriggerConditions != nil {
		rule.TriggerConditions = datatypes.NewJSONType(*up.TriggerConditions)
	}
	if up.Actions != nil || up.ActionType != "" || len(bytes.TrimSpace(up.ActionParams)) > 0 {
		var list []models.ActionSpec
		if up.Actions != nil {
			list = *up.Actions
		}
		actions, err := normalizeActions(list, up.ActionType, up.ActionParams)
		if err != nil {
			return nil, err
		}
		rule.Actions = datatypes.NewJSONSlice(actions)
	}
	if up.Priority != nil {
		rule.Priority = *up.Priority
	}
	if up.IsEnabled != nil {
		rule.IsEnabled = *up.IsEnabled
	}
	if up.IsRepeatable != nil {
		rule.IsRepeatable = *up.IsRepeatable
	}
	if up.MaxExecutions.Set {
		rule.MaxExecutions = up.MaxExecutions.Value
	}
	if up.CooldownSeconds.Set {
		rule.CooldownSeconds = up.CooldownSeconds.Value
	}
	if up.StartTime.Set {
		rule.StartTime = utcPtr(up.StartTime.Value)
	}
	if up.EndTime.Set {
		rule.EndTime = utcPtr(up.EndTime.Value)
	}

	if err := ValidateRule(rule); err != nil {
		return nil, err
	}
	if err := s.DB.WithContext(ctx).Save(rule).Error; err != nil {
		return nil, err
	}
	return rule, s.sync(rule)
}

func (s *RuleStore) SetEnabled(ctx context.Context, id string, enabled bool) (*models.AutomationRule, error) {
	rule, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.DB.WithContext(ctx).Model(rule).Update("is_enabled", enabled).Error; err != nil {
		return nil, err
	}
	rule.IsEnabled = enabled
	return rule, s.sync(rule)
}

// Delete soft-deletes the rule and drops its cron job.
func (s *RuleStore) Delete(ctx context.Context, id string) error {
	rule, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.DB.WithContext(ctx).Delete(rule).Error; err != nil {
		return err
	}
	if s.Schedules != nil {
		return s.Schedules.Deregister(rule.ID)
	}
	return nil
}

// Get loads a live rule by id, or by slug when ref is not a uuid.
func (s *RuleStore) Get(ctx context.Context, id string) (*models.AutomationRule, error) {
	if _, err := uuid.Parse(id); err != nil {
		return s.getBySlug(ctx, id)
	}
	var rule models.AutomationRule
	if err := s.DB.WithContext(ctx).Where("id = ?", id).First(&rule).Error; err != nil {
		return nil, notFound(err, "rule", id)
	}
	return &rule, nil
}

func (s *RuleStore) getBySlug(ctx context.Context, ref string) (*models.AutomationRule, error) {
	key := slug.Make(ref)
	if key == "" {
		return nil, &NotFoundError{Kind: "rule", ID: ref}
	}
	var rules []models.AutomationRule
	if err := s.DB.WithContext(ctx).Where("slug = ?", key).Order("id ASC").Limit(2).Find(&rules).Error; err != nil {
		return nil, err
	}
	switch len(rules) {
	case 0:
		return nil, &NotFoundError{Kind: "rule", ID: ref}
	case 1:
		return &rules[0], nil
	}
	ve := &ValidationError{}
	ve.add("slug %q is shared by several rules; use the rule id", key)
	return nil, ve
}

func (s *RuleStore) List(ctx context.Context, f RuleFilter) ([]models.AutomationRule, int64, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Size < 1 || f.Size > 100 {
		f.Size = 20
	}

	q := s.DB.WithContext(ctx).Model(&models.AutomationRule{})
	if f.TriggerType != "" {
		q = q.Where("trigger_type = ?", f.TriggerType)
	}
	if f.Enabled != nil {
		q = q.Where("is_enabled = ?", *f.Enabled)
	}
	if f.Query != "" {
		q = q.Where("LOWER(name) LIKE ?", "%"+strings.ToLower(strings.TrimSpace(f.Query))+"%")
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var rules []models.AutomationRule
	err := q.Order("priority DESC, id ASC").Limit(f.Size).Offset((f.Page - 1) * f.Size).Find(&rules).Error
	return rules, total, err
}

// ActiveForTrigger returns enabled, non-deleted rules of the trigger type,
// highest priority first and id ascending on ties.
func (s *RuleStore) ActiveForTrigger(ctx context.Context, t models.TriggerType) ([]models.AutomationRule, error) {
	var rules []models.AutomationRule
	err := s.DB.WithContext(ctx).
		Where("trigger_type = ? AND is_enabled = ?", t, true).
		Order("priority DESC, id ASC").
		Find(&rules).Error
	return rules, err
}

func (s *RuleStore) ListActiveCron(ctx context.Context) ([]models.AutomationRule, error) {
	return s.ActiveForTrigger(ctx, models.TriggerCron)
}

// Logs returns a page of a rule's run history, newest first.
func (s *RuleStore) Logs(ctx context.Context, ruleID string, page, size int) ([]models.RuleExecutionLog, int64, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}
	q := s.DB.WithContext(ctx).Model(&models.RuleExecutionLog{}).Where("rule_id = ?", ruleID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var logs []models.RuleExecutionLog
	err := q.Order("id DESC").Limit(size).Offset((page - 1) * size).Find(&logs).Error
	return logs, total, err
}

func (s *RuleStore) sync(rule *models.AutomationRule) error {
	if s.Schedules == nil {
		return nil
	}
	return s.Schedules.Sync(rule)
}

// ValidateRule checks a rule definition before it is persisted.
func ValidateRule(rule *models.AutomationRule) error {
	ve := &ValidationError{}

	if strings.TrimSpace(rule.Name) == "" {
		ve.add("name is required")
	}
	if !rule.TriggerType.Valid() {
		ve.add("unknown trigger_type %q", rule.TriggerType)
	}

	if len(rule.Actions) == 0 {
		ve.add("at least one action is required")
	}
	for i, spec := range rule.Actions {
		action, err := spec.Decode()
		if err != nil {
			ve.add("actions[%d]: %v", i, err)
			continue
		}
		if err := action.Validate(); err != nil {
			ve.add("actions[%d] %s: %v", i, spec.Type, err)
		}
	}

	for i, c := range rule.Conditions() {
		if strings.TrimSpace(c.Field) == "" {
			ve.add("conditions[%d]: field is required", i)
		}
		if !ValidOperator(c.Operator) {
			ve.add("conditions[%d]: unknown operator %q", i, c.Operator)
		}
		if c.Operator == models.OpIn {
			if _, ok := c.Value.([]any); !ok {
				ve.add("conditions[%d]: %q needs a list value", i, models.OpIn)
			}
		}
	}

	schedule := strings.TrimSpace(rule.Schedule())
	if rule.TriggerType == models.TriggerCron {
		if schedule == "" {
			ve.add("CRON rules need trigger_conditions.schedule")
		} else if _, err := cron.ParseStandard(schedule); err != nil {
			ve.add("invalid schedule %q: %v", schedule, err)
		}
	} else if schedule != "" {
		ve.add("schedule is only allowed on CRON rules")
	}

	if rule.MaxExecutions != nil && *rule.MaxExecutions < 1 {
		ve.add("max_executions must be at least 1")
	}
	if rule.CooldownSeconds != nil && *rule.CooldownSeconds < 0 {
		ve.add("cooldown_seconds must not be negative")
	}
	if rule.StartTime != nil && rule.EndTime != nil && !rule.StartTime.Before(*rule.EndTime) {
		ve.add("start_time must be before end_time")
	}

	return ve.orNil()
}

// NextScheduledRun previews the next fire time of a schedule after from.
func NextScheduledRun(schedule string, from time.Time) (time.Time, error) {
	sched, err := cron.ParseStandard(schedule)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(from), nil
}

// normalizeActions folds the legacy action_type/action_params pair into the list form.
func normalizeActions(list []models.ActionSpec, legacyType models.ActionType, legacyParams json.RawMessage) ([]models.ActionSpec, error) {
	hasLegacy := legacyType != "" || len(bytes.TrimSpace(legacyParams)) > 0
	switch {
	case hasLegacy && len(list) > 0:
		return nil, &ValidationError{Problems: []string{"use either actions or action_type/action_params, not both"}}
	case hasLegacy && legacyType == "":
		return nil, &ValidationError{Problems: []string{"action_params given without action_type"}}
	case hasLegacy:
		return []models.ActionSpec{{Type: legacyType, Params: legacyParams}}, nil
	}
	if list == nil {
		list = []models.ActionSpec{}
	}
	return list, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// IsSchedulerError reports whether err carries a *SchedulerError.
func IsSchedulerError(err error) bool {
	var se *SchedulerError
	return errors.As(err, &se)
}
