package services

import (
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	"nextbb-automation/models"
	"nextbb-automation/testutil"
)

func evaluateAndClaim(t *testing.T, e *engine, rule *models.AutomationRule, userID string) Decision {
	t.Helper()
	now := e.clock.Now().UTC()
	dec, err := e.gate.Evaluate(e.db, rule, userID, now)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if dec.Eligible() {
		if _, err := e.gate.Claim(e.db, rule, dec, now); err != nil {
			t.Fatalf("Claim: %v", err)
		}
	}
	return dec
}

func TestGateNonRepeatableCompletes(t *testing.T) {
	e := newEngine(t)
	u := testutil.SeedUser(t, e.db, "once", 0)
	rule := testutil.SaveRule(t, e.db, testutil.Rule("once", models.TriggerUserRegister, testutil.Credit(1)))

	if dec := evaluateAndClaim(t, e, rule, u.ID); dec.State != StateEligible {
		t.Fatalf("first state = %s, want ELIGIBLE", dec.State)
	}
	dec := evaluateAndClaim(t, e, rule, u.ID)
	if dec.State != StateComplete || dec.Reason != ReasonComplete {
		t.Fatalf("second = %s/%s, want COMPLETE/complete", dec.State, dec.Reason)
	}
}

func TestGateCooldown(t *testing.T) {
	e := newEngine(t)
	u := testutil.SeedUser(t, e.db, "cool", 0)
	rule := testutil.Rule("cool", models.TriggerCheckin, testutil.Credit(1))
	rule.IsRepeatable = true
	rule.CooldownSeconds = ptr(int64(60))
	testutil.SaveRule(t, e.db, rule)

	evaluateAndClaim(t, e, rule, u.ID)

	e.clock.Advance(59 * time.Second)
	if dec := evaluateAndClaim(t, e, rule, u.ID); dec.Reason != ReasonCooldown {
		t.Fatalf("at +59s = %s/%s, want cooldown", dec.State, dec.Reason)
	}

	e.clock.Advance(time.Second)
	if dec := evaluateAndClaim(t, e, rule, u.ID); !dec.Eligible() {
		t.Fatalf("at +60s = %s/%s, want ELIGIBLE", dec.State, dec.Reason)
	}
	if rec := e.record(t, rule.ID, u.ID); rec.ExecutionCount != 2 {
		t.Errorf("count = %d, want 2", rec.ExecutionCount)
	}
}

func TestGateExecutionCap(t *testing.T) {
	e := newEngine(t)
	u := testutil.SeedUser(t, e.db, "capped", 0)
	rule := testutil.Rule("capped", models.TriggerPostCreate, testutil.Credit(1))
	rule.IsRepeatable = true
	rule.MaxExecutions = ptr(int64(2))
	testutil.SaveRule(t, e.db, rule)

	for i := 0; i < 5; i++ {
		evaluateAndClaim(t, e, rule, u.ID)
		e.clock.Advance(time.Minute)
	}

	rec := e.record(t, rule.ID, u.ID)
	if rec.ExecutionCount != 2 {
		t.Fatalf("count = %d, want 2", rec.ExecutionCount)
	}
	dec, _ := e.gate.Evaluate(e.db, rule, u.ID, e.clock.Now())
	if dec.Reason != ReasonCapReached {
		t.Errorf("reason = %q, want cap_reached", dec.Reason)
	}
}

func TestGateIneligibleRules(t *testing.T) {
	e := newEngine(t)
	u := testutil.SeedUser(t, e.db, "nobody", 0)
	now := e.clock.Now()

	disabled := testutil.Rule("disabled", models.TriggerCheckin, testutil.Credit(1))
	disabled.IsEnabled = false

	deleted := testutil.Rule("deleted", models.TriggerCheckin, testutil.Credit(1))
	deleted.DeletedAt = gorm.DeletedAt{Time: now, Valid: true}

	future := testutil.Rule("future", models.TriggerCheckin, testutil.Credit(1))
	future.StartTime = ptr(now.Add(time.Hour))

	expired := testutil.Rule("expired", models.TriggerCheckin, testutil.Credit(1))
	expired.EndTime = ptr(now.Add(-time.Hour))

	tests := []struct {
		rule   *models.AutomationRule
		reason string
	}{
		{disabled, ReasonDisabled},
		{deleted, ReasonDisabled},
		{future, ReasonOutsideWindow},
		{expired, ReasonOutsideWindow},
	}
	for _, tt := range tests {
		t.Run(tt.rule.Name, func(t *testing.T) {
			dec, err := e.gate.Evaluate(e.db, tt.rule, u.ID, now)
			if err != nil {
				t.Fatal(err)
			}
			if dec.State != StateIneligible || dec.Reason != tt.reason {
				t.Errorf("got %s/%s, want INELIGIBLE/%s", dec.State, dec.Reason, tt.reason)
			}
		})
	}
}

func TestGateClaimRaceOnFirstFiring(t *testing.T) {
	e := newEngine(t)
	u := testutil.SeedUser(t, e.db, "racer", 0)
	rule := testutil.SaveRule(t, e.db, testutil.Rule("race", models.TriggerUserRegister, testutil.Credit(1)))
	now := e.clock.Now()

	// both attempts observed "no record yet"
	first, _ := e.gate.Evaluate(e.db, rule, u.ID, now)
	second, _ := e.gate.Evaluate(e.db, rule, u.ID, now)

	if _, err := e.gate.Claim(e.db, rule, first, now); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if _, err := e.gate.Claim(e.db, rule, second, now); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("second claim err = %v, want ErrAlreadyClaimed", err)
	}
}

func TestGateClaimRaceOnRepeatFiring(t *testing.T) {
	e := newEngine(t)
	u := testutil.SeedUser(t, e.db, "repeat", 0)
	rule := testutil.Rule("repeat", models.TriggerPostReply, testutil.Credit(1))
	rule.IsRepeatable = true
	testutil.SaveRule(t, e.db, rule)

	evaluateAndClaim(t, e, rule, u.ID)
	now := e.clock.Now()

	first, _ := e.gate.Evaluate(e.db, rule, u.ID, now)
	second, _ := e.gate.Evaluate(e.db, rule, u.ID, now)
	if first.Record == nil || second.Record == nil {
		t.Fatal("expected existing record")
	}

	claim, err := e.gate.Claim(e.db, rule, first, now)
	if err != nil || claim.Record.ExecutionCount != 2 {
		t.Fatalf("first claim = %+v, %v", claim, err)
	}
	if _, err := e.gate.Claim(e.db, rule, second, now); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("second claim err = %v, want ErrAlreadyClaimed", err)
	}
	if rec := e.record(t, rule.ID, u.ID); rec.ExecutionCount != 2 {
		t.Errorf("count = %d, want 2", rec.ExecutionCount)
	}
}
