package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"gorm.io/datatypes"
)

func TestActionSpecDecode(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		want    Action
		wantErr bool
	}{
		{"credit", `{"type":"CREDIT_CHANGE","params":{"amount":-25,"description":"fine"}}`, CreditChange{Amount: -25, Description: "fine"}, false},
		{"credit from field", `{"type":"CREDIT_CHANGE","params":{"amount_field":"amount"}}`, CreditChange{AmountField: "amount"}, false},
		{"grant", `{"type":"BADGE_GRANT","params":{"badge_id":"B1"}}`, BadgeGrant{BadgeID: "B1"}, false},
		{"revoke", `{"type":"BADGE_REVOKE","params":{"badge_id":"B1"}}`, BadgeRevoke{BadgeID: "B1"}, false},
		{"group", `{"type":"USER_GROUP_CHANGE","params":{"group_id":"g"}}`, UserGroupChange{GroupID: "g"}, false},
		{"unknown field", `{"type":"BADGE_GRANT","params":{"badge":"B1"}}`, nil, true},
		{"unknown type", `{"type":"SEND_EMAIL","params":{}}`, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var spec ActionSpec
			if err := json.Unmarshal([]byte(tt.spec), &spec); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			got, err := spec.Decode()
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Decode() = %#v, want error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Decode() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestActionSpecDecodeUnknownType(t *testing.T) {
	_, err := ActionSpec{Type: "SEND_EMAIL"}.Decode()
	if !errors.Is(err, ErrUnknownActionType) {
		t.Fatalf("err = %v, want ErrUnknownActionType", err)
	}
}

func TestCreditChangeValidate(t *testing.T) {
	if err := (CreditChange{}).Validate(); err == nil {
		t.Error("zero amount without field should be invalid")
	}
	if err := (CreditChange{Amount: 5, AmountField: "amount"}).Validate(); err == nil {
		t.Error("amount together with amount_field should be invalid")
	}
	if err := (CreditChange{Amount: -5}).Validate(); err != nil {
		t.Errorf("negative amount should be valid, got %v", err)
	}
}

func TestDecodedActionsReportsIndex(t *testing.T) {
	rule := AutomationRule{
		Actions: datatypes.NewJSONSlice([]ActionSpec{
			{Type: ActionCreditChange, Params: json.RawMessage(`{"amount":1}`)},
			{Type: "NOPE"},
		}),
	}
	_, err := rule.DecodedActions()
	var de *ActionDecodeError
	if !errors.As(err, &de) {
		t.Fatalf("err = %v, want *ActionDecodeError", err)
	}
	if de.Index != 1 || de.Type != "NOPE" {
		t.Errorf("got index %d type %q, want 1 NOPE", de.Index, de.Type)
	}
}

func TestTriggerConditionsUnmarshal(t *testing.T) {
	var obj TriggerConditions
	if err := json.Unmarshal([]byte(`{"schedule":"@daily","conditions":[{"field":"credits","operator":"lte","value":99}]}`), &obj); err != nil {
		t.Fatalf("object form: %v", err)
	}
	if obj.Schedule != "@daily" || len(obj.Conditions) != 1 {
		t.Errorf("object form = %+v", obj)
	}

	var arr TriggerConditions
	if err := json.Unmarshal([]byte(`[{"field":"amount","operator":"gte","value":10}]`), &arr); err != nil {
		t.Fatalf("array form: %v", err)
	}
	if arr.Schedule != "" || len(arr.Conditions) != 1 || arr.Conditions[0].Field != "amount" {
		t.Errorf("array form = %+v", arr)
	}

	var empty TriggerConditions
	if err := json.Unmarshal([]byte(`null`), &empty); err != nil || len(empty.Conditions) != 0 {
		t.Errorf("null form = %+v, %v", empty, err)
	}
}

func TestRuleInWindow(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	rule := AutomationRule{StartTime: &start, EndTime: &end}

	cases := map[time.Time]bool{
		start.Add(-time.Second): false,
		start:                   true,
		start.Add(time.Hour):    true,
		end:                     true,
		end.Add(time.Second):    false,
	}
	for at, want := range cases {
		if got := rule.InWindow(at); got != want {
			t.Errorf("InWindow(%s) = %v, want %v", at, got, want)
		}
	}

	if !(&AutomationRule{}).InWindow(start) {
		t.Error("rule without window should always be in window")
	}
}

func TestTriggerTypeValid(t *testing.T) {
	for _, tt := range TriggerTypes {
		if !tt.Valid() {
			t.Errorf("%s should be valid", tt)
		}
	}
	if TriggerType("POST_DELETE").Valid() {
		t.Error("POST_DELETE should not be valid")
	}
}
