package services

import (
	"testing"

	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"

	"nextbb-automation/models"
	"nextbb-automation/testutil"
)

type engine struct {
	db       *gorm.DB
	clock    *clockwork.FakeClock
	ledger   *Ledger
	badges   *BadgeService
	subjects *SubjectService
	rules    *RuleStore
	gate     *EligibilityGate
	firer    *Firer
	bus      *EventBus
}

func newEngine(t *testing.T) *engine {
	t.Helper()
	return newEngineOn(t, testutil.NewDB(t))
}

func newEngineOn(t *testing.T, db *gorm.DB) *engine {
	t.Helper()
	clock := testutil.NewClock()

	e := &engine{db: db, clock: clock}
	e.ledger = NewLedger(db, clock)
	e.badges = NewBadgeService(db, clock)
	e.subjects = NewSubjectService(db, clock)
	e.rules = NewRuleStore(db)
	e.gate = NewEligibilityGate()
	e.firer = NewFirer(db, e.gate, NewActionExecutor(e.ledger, e.badges, e.subjects), clock, 0)
	e.bus = NewEventBus(e.rules, e.firer, clock)
	t.Cleanup(e.bus.Wait)
	return e
}

func (e *engine) event(typ models.TriggerType, userID string, payload map[string]any) Event {
	return Event{ID: "evt-" + string(typ), Type: typ, SubjectID: userID, Payload: payload, OccurredAt: e.clock.Now()}
}

func (e *engine) record(t *testing.T, ruleID, userID string) *models.RuleExecutionRecord {
	t.Helper()
	var recs []models.RuleExecutionRecord
	if err := e.db.Where("rule_id = ? AND subject_id = ?", ruleID, userID).Find(&recs).Error; err != nil {
		t.Fatalf("load record: %v", err)
	}
	if len(recs) == 0 {
		return nil
	}
	return &recs[0]
}

func (e *engine) countEntries(t *testing.T, userID, reference string) int64 {
	t.Helper()
	var n int64
	q := e.db.Model(&models.CreditLedgerEntry{}).Where("user_id = ?", userID)
	if reference != "" {
		q = q.Where("reference = ?", reference)
	}
	if err := q.Count(&n).Error; err != nil {
		t.Fatalf("count entries: %v", err)
	}
	return n
}

func ptr[T any](v T) *T { return &v }
