package services

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"nextbb-automation/models"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrNotFound            = errors.New("not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("invalid amount")
	// ErrAlreadyClaimed means another attempt won the (rule, subject) claim. It is a skip, not a failure.
	ErrAlreadyClaimed = errors.New("already claimed")
	ErrBusClosed      = errors.New("event bus is shutting down")
)

// ValidationError lists every problem found in a rule definition.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid rule: " + strings.Join(e.Problems, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func (e *ValidationError) add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

func (e *ValidationError) orNil() error {
	if len(e.Problems) == 0 {
		return nil
	}
	return e
}

type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// notFound maps gorm.ErrRecordNotFound onto a NotFoundError and passes other errors through.
func notFound(err error, kind, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &NotFoundError{Kind: kind, ID: id}
	}
	return err
}

// ActionExecutionError wraps the failure of one action in a rule's list. The whole firing is rolled back.
type ActionExecutionError struct {
	RuleID string
	Index  int
	Type   models.ActionType
	Err    error
}

func (e *ActionExecutionError) Error() string {
	return fmt.Sprintf("rule %s action[%d] %s: %v", e.RuleID, e.Index, e.Type, e.Err)
}

func (e *ActionExecutionError) Unwrap() error { return e.Err }

// SchedulerError reports a CRON rule that could not be registered.
type SchedulerError struct {
	RuleID   string
	Schedule string
	Err      error
}

func (e *SchedulerError) Error() string {
	return fmt.Sprintf("schedule %q for rule %s: %v", e.Schedule, e.RuleID, e.Err)
}

func (e *SchedulerError) Unwrap() error { return e.Err }
