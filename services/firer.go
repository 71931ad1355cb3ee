package services

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/jonboulle/clockwork"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"nextbb-automation/metrics"
	"nextbb-automation/models"
)

// Firing outcomes
const (
	OutcomeFired           = "fired"
	OutcomeSkipped         = "skipped"
	OutcomeAlreadyClaimed  = "already_claimed"
	OutcomeConditionsUnmet = "conditions_unmet"
	OutcomeFailed          = "failed"
)

// FiringResult describes one (rule, subject) attempt.
type FiringResult struct {
	RuleID    string `json:"rule_id"`
	SubjectID string `json:"subject_id"`
	Outcome   string `json:"outcome"`
	Reason    string `json:"reason,omitempty"`
	Err       error  `json:"-"`
}

var errNotEligible = errors.New("not eligible")

// Firer composes the pipeline for one firing: check eligibility, claim, execute, then commit
// or roll back. The claim and the action effects share one transaction.
type Firer struct {
	DB       *gorm.DB
	Gate     *EligibilityGate
	Executor *ActionExecutor
	Clock    clockwork.Clock
	Timeout  time.Duration
}

func NewFirer(db *gorm.DB, gate *EligibilityGate, executor *ActionExecutor, clock clockwork.Clock, timeout time.Duration) *Firer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Firer{DB: db, Gate: gate, Executor: executor, Clock: clock, Timeout: timeout}
}

// Fire runs the rule for evt.SubjectID. Conditions are expected to have been checked by the caller.
func (f *Firer) Fire(ctx context.Context, rule *models.AutomationRule, evt Event) FiringResult {
	res := FiringResult{RuleID: rule.ID, SubjectID: evt.SubjectID}
	started := time.Now()

	txCtx := ctx
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		txCtx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	var dec Decision
	err := f.DB.WithContext(txCtx).Transaction(func(tx *gorm.DB) error {
		now := f.Clock.Now().UTC()

		var err error
		dec, err = f.Gate.Evaluate(tx, rule, evt.SubjectID, now)
		if err != nil {
			return err
		}
		if !dec.Eligible() {
			return errNotEligible
		}
		if _, err := f.Gate.Claim(tx, rule, dec, now); err != nil {
			return err
		}
		return f.Executor.Execute(tx, rule, evt)
	})
	metrics.FiringDuration.WithLabelValues(string(evt.Type)).Observe(time.Since(started).Seconds())

	switch {
	case err == nil:
		res.Outcome = OutcomeFired
	case errors.Is(err, errNotEligible):
		res.Outcome, res.Reason = OutcomeSkipped, dec.Reason
	case errors.Is(err, ErrAlreadyClaimed):
		res.Outcome = OutcomeAlreadyClaimed
	default:
		res.Outcome, res.Err = OutcomeFailed, err
		res.Reason = err.Error()
		log.Printf("[Automation] ❌ rule %s (%s) failed for %s: %v", rule.ID, rule.Name, evt.SubjectID, err)
	}
	metrics.Firings.WithLabelValues(string(evt.Type), res.Outcome).Inc()

	if res.Outcome == OutcomeFired || res.Outcome == OutcomeFailed {
		f.appendLog(ctx, rule, evt, res)
	}
	return res
}

func (f *Firer) appendLog(ctx context.Context, rule *models.AutomationRule, evt Event, res FiringResult) {
	entry := models.RuleExecutionLog{
		RuleID:      rule.ID,
		SubjectID:   evt.SubjectID,
		TriggerType: evt.Type,
		EventID:     evt.ID,
		Status:      models.RunStatusSuccess,
		Context:     datatypes.JSONMap(evt.Context()),
		CreatedAt:   f.Clock.Now().UTC(),
	}
	if res.Outcome == OutcomeFailed {
		entry.Status = models.RunStatusFailed
		entry.Message = res.Reason
	}
	if err := f.DB.WithContext(context.WithoutCancel(ctx)).Create(&entry).Error; err != nil {
		log.Printf("[Automation] ⚠️ could not write run log for rule %s: %v", rule.ID, err)
	}
}
