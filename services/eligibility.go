package services

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"nextbb-automation/models"
)

// EligibilityState is the per (rule, subject) firing state.
type EligibilityState string

const (
	StateIneligible EligibilityState = "INELIGIBLE"
	StateEligible   EligibilityState = "ELIGIBLE"
	StateClaimed    EligibilityState = "CLAIMED"
	StateExecuted   EligibilityState = "EXECUTED"
	StateComplete   EligibilityState = "COMPLETE"
	StateFailed     EligibilityState = "FAILED"
)

// Skip reasons
const (
	ReasonDisabled      = "disabled"
	ReasonOutsideWindow = "outside_window"
	ReasonComplete      = "complete"
	ReasonCooldown      = "cooldown"
	ReasonCapReached    = "cap_reached"
)

// Decision is the outcome of an eligibility check. Record is the existing history row, if any.
type Decision struct {
	State     EligibilityState
	Reason    string
	SubjectID string
	Record    *models.RuleExecutionRecord
}

func (d Decision) Eligible() bool { return d.State == StateEligible }

// Claim is a reserved firing. It becomes EXECUTED when the enclosing transaction commits
// and FAILED (released) when it rolls back.
type Claim struct {
	Record models.RuleExecutionRecord
	First  bool
}

// EligibilityGate enforces repeatability, cooldowns, execution caps and validity windows.
// All reads and writes go through the caller's transaction.
type EligibilityGate struct{}

func NewEligibilityGate() *EligibilityGate {
	return &EligibilityGate{}
}

// Evaluate checks, in order: disabled/deleted, time window, completed non-repeatable rule,
// cooldown, execution cap.
func (g *EligibilityGate) Evaluate(tx *gorm.DB, rule *models.AutomationRule, subjectID string, now time.Time) (Decision, error) {
	dec := Decision{SubjectID: subjectID}

	if !rule.IsEnabled || rule.IsDeleted() {
		dec.State, dec.Reason = StateIneligible, ReasonDisabled
		return dec, nil
	}
	if !rule.InWindow(now) {
		dec.State, dec.Reason = StateIneligible, ReasonOutsideWindow
		return dec, nil
	}

	var records []models.RuleExecutionRecord
	if err := tx.Where("rule_id = ? AND subject_id = ?", rule.ID, subjectID).Limit(1).Find(&records).Error; err != nil {
		return dec, err
	}
	if len(records) == 0 {
		dec.State = StateEligible
		return dec, nil
	}
	rec := records[0]
	dec.Record = &rec

	if !rule.IsRepeatable && rec.ExecutionCount > 0 {
		dec.State, dec.Reason = StateComplete, ReasonComplete
		return dec, nil
	}
	if rule.CooldownSeconds != nil && *rule.CooldownSeconds > 0 {
		cooldown := time.Duration(*rule.CooldownSeconds) * time.Second
		if now.Sub(rec.LastFiredAt) < cooldown {
			dec.State, dec.Reason = StateIneligible, ReasonCooldown
			return dec, nil
		}
	}
	if rule.MaxExecutions != nil && rec.ExecutionCount >= *rule.MaxExecutions {
		dec.State, dec.Reason = StateComplete, ReasonCapReached
		return dec, nil
	}

	dec.State = StateEligible
	return dec, nil
}

// Claim reserves the firing with an atomic conditional write. The first firing inserts the
// history row and loses to a concurrent insert through the unique (rule_id, subject_id) index.
// Later firings compare-and-swap on execution_count. Losing either race returns ErrAlreadyClaimed.
func (g *EligibilityGate) Claim(tx *gorm.DB, rule *models.AutomationRule, dec Decision, now time.Time) (*Claim, error) {
	if !dec.Eligible() {
		return nil, ErrAlreadyClaimed
	}

	if dec.Record == nil {
		rec := models.RuleExecutionRecord{
			RuleID:         rule.ID,
			SubjectID:      dec.SubjectID,
			ExecutionCount: 1,
			LastFiredAt:    now,
		}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "rule_id"}, {Name: "subject_id"}},
			DoNothing: true,
		}).Create(&rec)
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			return nil, ErrAlreadyClaimed
		}
		return &Claim{Record: rec, First: true}, nil
	}

	rec := *dec.Record
	res := tx.Model(&models.RuleExecutionRecord{}).
		Where("id = ? AND execution_count = ?", rec.ID, rec.ExecutionCount).
		Updates(map[string]any{
			"execution_count": gorm.Expr("execution_count + 1"),
			"last_fired_at":   now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrAlreadyClaimed
	}
	rec.ExecutionCount++
	rec.LastFiredAt = now
	return &Claim{Record: rec}, nil
}
