package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ActionType tags one variant of a rule action.
type ActionType string

const (
	ActionCreditChange    ActionType = "CREDIT_CHANGE"
	ActionBadgeGrant      ActionType = "BADGE_GRANT"
	ActionBadgeRevoke     ActionType = "BADGE_REVOKE"
	ActionUserGroupChange ActionType = "USER_GROUP_CHANGE"
)

var ErrUnknownActionType = errors.New("unknown action type")

// ActionSpec is the persisted {type, params} form of an action.
type ActionSpec struct {
	Type   ActionType      `json:"type"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Action is the decoded, typed form of an ActionSpec. The set of implementations is closed:
// CreditChange, BadgeGrant, BadgeRevoke and UserGroupChange.
type Action interface {
	Type() ActionType
	Validate() error
}

// CreditChange adds (or, with a negative amount, removes) credits from the acting subject.
// Either Amount is fixed or AmountField names a numeric event-context field.
// Description may reference context fields as {field}.
type CreditChange struct {
	Amount      int64  `json:"amount,omitempty"`
	AmountField string `json:"amount_field,omitempty"`
	Description string `json:"description,omitempty"`
}

func (CreditChange) Type() ActionType { return ActionCreditChange }

func (a CreditChange) Validate() error {
	switch {
	case a.AmountField != "" && a.Amount != 0:
		return errors.New("amount and amount_field are mutually exclusive")
	case a.AmountField == "" && a.Amount == 0:
		return errors.New("amount must be non-zero")
	}
	return nil
}

type BadgeGrant struct {
	BadgeID string `json:"badge_id"`
}

func (BadgeGrant) Type() ActionType { return ActionBadgeGrant }

func (a BadgeGrant) Validate() error {
	if strings.TrimSpace(a.BadgeID) == "" {
		return errors.New("badge_id is required")
	}
	return nil
}

type BadgeRevoke struct {
	BadgeID string `json:"badge_id"`
}

func (BadgeRevoke) Type() ActionType { return ActionBadgeRevoke }

func (a BadgeRevoke) Validate() error {
	if strings.TrimSpace(a.BadgeID) == "" {
		return errors.New("badge_id is required")
	}
	return nil
}

type UserGroupChange struct {
	GroupID string `json:"group_id"`
}

func (UserGroupChange) Type() ActionType { return ActionUserGroupChange }

func (a UserGroupChange) Validate() error {
	if strings.TrimSpace(a.GroupID) == "" {
		return errors.New("group_id is required")
	}
	return nil
}

// Decode turns s into its typed variant. Unknown fields in params are rejected.
func (s ActionSpec) Decode() (Action, error) {
	switch s.Type {
	case ActionCreditChange:
		var a CreditChange
		return a, decodeParams(s.Params, &a)
	case ActionBadgeGrant:
		var a BadgeGrant
		return a, decodeParams(s.Params, &a)
	case ActionBadgeRevoke:
		var a BadgeRevoke
		return a, decodeParams(s.Params, &a)
	case ActionUserGroupChange:
		var a UserGroupChange
		return a, decodeParams(s.Params, &a)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownActionType, s.Type)
}

func decodeParams(raw json.RawMessage, dst any) error {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode params: %w", err)
	}
	return nil
}

// ActionDecodeError reports which entry of a rule's action list failed to decode.
type ActionDecodeError struct {
	Index int
	Type  ActionType
	Err   error
}

func (e *ActionDecodeError) Error() string {
	return fmt.Sprintf("action[%d] (%s): %v", e.Index, e.Type, e.Err)
}

func (e *ActionDecodeError) Unwrap() error { return e.Err }
