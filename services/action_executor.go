package services

import (
	"errors"
	"fmt"
	"math"
	"regexp"

	"gorm.io/gorm"

	"nextbb-automation/models"
)

// ActionExecutor applies a rule's action list for one subject on the caller's transaction.
type ActionExecutor struct {
	Ledger   *Ledger
	Badges   *BadgeService
	Subjects *SubjectService
}

func NewActionExecutor(ledger *Ledger, badges *BadgeService, subjects *SubjectService) *ActionExecutor {
	return &ActionExecutor{Ledger: ledger, Badges: badges, Subjects: subjects}
}

// Execute runs every action in order. The first failure aborts the list and is returned
// as an *ActionExecutionError; the caller rolls back the transaction.
func (x *ActionExecutor) Execute(tx *gorm.DB, rule *models.AutomationRule, evt Event) error {
	actions, err := rule.DecodedActions()
	if err != nil {
		var de *models.ActionDecodeError
		if errors.As(err, &de) {
			return &ActionExecutionError{RuleID: rule.ID, Index: de.Index, Type: de.Type, Err: de.Err}
		}
		return &ActionExecutionError{RuleID: rule.ID, Index: -1, Err: err}
	}
	if len(actions) == 0 {
		return &ActionExecutionError{RuleID: rule.ID, Index: -1, Err: errors.New("rule has no actions")}
	}

	ctx := evt.Context()
	for i, action := range actions {
		if err := x.apply(tx, rule, evt.SubjectID, ctx, action); err != nil {
			return &ActionExecutionError{RuleID: rule.ID, Index: i, Type: action.Type(), Err: err}
		}
	}
	return nil
}

func (x *ActionExecutor) apply(tx *gorm.DB, rule *models.AutomationRule, subjectID string, ctx map[string]any, action models.Action) error {
	source := "rule:" + rule.ID

	switch a := action.(type) {
	case models.CreditChange:
		amount, err := creditAmount(a, ctx)
		if err != nil {
			return err
		}
		_, err = x.Ledger.Apply(tx, subjectID, amount, models.LedgerTypeAutomation, creditDescription(a, rule, ctx), source)
		return err
	case models.BadgeGrant:
		_, err := x.Badges.Grant(tx, subjectID, a.BadgeID, source)
		return err
	case models.BadgeRevoke:
		_, err := x.Badges.Revoke(tx, subjectID, a.BadgeID)
		return err
	case models.UserGroupChange:
		return x.Subjects.AssignGroup(tx, subjectID, a.GroupID)
	default:
		return fmt.Errorf("%w: %T", models.ErrUnknownActionType, action)
	}
}

// creditAmount returns the fixed amount or the rounded value of the referenced context field.
// The sign is kept as configured.
func creditAmount(a models.CreditChange, ctx map[string]any) (int64, error) {
	if a.AmountField == "" {
		return a.Amount, nil
	}
	raw, ok := ctx[a.AmountField]
	if !ok {
		return 0, fmt.Errorf("amount field %q missing from event", a.AmountField)
	}
	f, ok := parseFloatString(raw)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("amount field %q is not numeric", a.AmountField)
	}
	f = math.Round(f)
	if f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("%w: amount field %q is out of range", ErrInvalidAmount, a.AmountField)
	}
	amount := int64(f)
	if amount == 0 {
		return 0, fmt.Errorf("%w: amount field %q rounds to zero", ErrInvalidAmount, a.AmountField)
	}
	return amount, nil
}

var placeholder = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

func creditDescription(a models.CreditChange, rule *models.AutomationRule, ctx map[string]any) string {
	if a.Description == "" {
		return "Automation: " + rule.Name
	}
	return placeholder.ReplaceAllStringFunc(a.Description, func(m string) string {
		key := m[1 : len(m)-1]
		if v, ok := ctx[key]; ok && v != nil {
			return fmt.Sprint(v)
		}
		return m
	})
}
