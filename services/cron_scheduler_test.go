package services

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/go-co-op/gocron/v2"
	"gorm.io/datatypes"

	"nextbb-automation/models"
	"nextbb-automation/testutil"
)

func newCron(t *testing.T, e *engine) *CronScheduler {
	t.Helper()
	c, err := NewCronScheduler(e.rules, e.subjects, e.firer, e.clock, CronOptions{BatchSize: 2})
	if err != nil {
		t.Fatalf("NewCronScheduler: %v", err)
	}
	t.Cleanup(func() { _ = c.Shutdown() })
	e.rules.Schedules = c
	return c
}

func cronRule(name, schedule string, conds []models.Condition, actions ...models.ActionSpec) *models.AutomationRule {
	r := testutil.Rule(name, models.TriggerCron, actions...)
	r.TriggerConditions = datatypes.NewJSONType(models.TriggerConditions{Schedule: schedule, Conditions: conds})
	return r
}

func TestCronRegistryFollowsRuleWrites(t *testing.T) {
	e := newEngine(t)
	c := newCron(t, e)
	ctx := context.Background()

	rule, err := e.rules.Create(ctx, RuleInput{
		Name:              "Nightly stipend",
		TriggerType:       models.TriggerCron,
		TriggerConditions: models.TriggerConditions{Schedule: "0 3 * * *"},
		Actions:           []models.ActionSpec{testutil.Credit(1)},
		IsRepeatable:      true,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if got := c.Registered(); !slices.Equal(got, []string{rule.ID}) {
		t.Fatalf("registered = %v", got)
	}
	if tags := c.sched.Jobs()[0].Tags(); !slices.Equal(tags, []string{ruleJobTag, "nightly-stipend"}) {
		t.Errorf("job tags = %v", tags)
	}

	schedule := models.TriggerConditions{Schedule: "*/15 * * * *"}
	if _, err := e.rules.Update(ctx, rule.ID, RuleUpdate{TriggerConditions: &schedule}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if n := len(c.sched.Jobs()); n != 1 {
		t.Fatalf("jobs after update = %d, want 1 (replaced)", n)
	}

	if _, err := e.rules.SetEnabled(ctx, rule.ID, false); err != nil {
		t.Fatal(err)
	}
	if got := c.Registered(); len(got) != 0 {
		t.Fatalf("registered after disable = %v", got)
	}

	if _, err := e.rules.SetEnabled(ctx, rule.ID, true); err != nil {
		t.Fatal(err)
	}
	if got := c.Registered(); len(got) != 1 {
		t.Fatalf("registered after enable = %v", got)
	}

	if err := e.rules.Delete(ctx, rule.ID); err != nil {
		t.Fatal(err)
	}
	if got := c.Registered(); len(got) != 0 {
		t.Fatalf("registered after delete = %v", got)
	}
	if n := len(c.sched.Jobs()); n != 0 {
		t.Errorf("jobs after delete = %d, want 0", n)
	}
}

func TestCronEventRuleIsNeverRegistered(t *testing.T) {
	e := newEngine(t)
	c := newCron(t, e)

	if _, err := e.rules.Create(context.Background(), checkinInput()); err != nil {
		t.Fatal(err)
	}
	if got := c.Registered(); len(got) != 0 {
		t.Errorf("registered = %v, want none", got)
	}
}

func TestCronRebuildFromStore(t *testing.T) {
	e := newEngine(t)
	c := newCron(t, e)
	ctx := context.Background()

	a := testutil.SaveRule(t, e.db, cronRule("a", "@daily", nil, testutil.Credit(1)))
	b := testutil.SaveRule(t, e.db, cronRule("b", "@hourly", nil, testutil.Credit(1)))
	off := cronRule("off", "@daily", nil, testutil.Credit(1))
	off.IsEnabled = false
	testutil.SaveRule(t, e.db, off)
	testutil.SaveRule(t, e.db, testutil.Rule("event", models.TriggerCheckin, testutil.Credit(1)))

	noop := gocron.NewTask(func() {})
	if _, err := c.sched.NewJob(gocron.CronJob("@daily", false), noop, gocron.WithTags(ruleJobTag)); err != nil {
		t.Fatal(err)
	}
	if _, err := c.sched.NewJob(gocron.CronJob("@daily", false), noop, gocron.WithTags("housekeeping")); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		if err := c.RebuildFromStore(ctx); err != nil {
			t.Fatalf("rebuild %d: %v", i, err)
		}
		got := c.Registered()
		slices.Sort(got)
		want := []string{a.ID, b.ID}
		slices.Sort(want)
		if !slices.Equal(got, want) {
			t.Fatalf("rebuild %d registered = %v, want %v", i, got, want)
		}
		// the untagged job is not ours and survives
		if n := len(c.sched.Jobs()); n != 3 {
			t.Fatalf("rebuild %d jobs = %d, want 3", i, n)
		}
	}
}

func TestCronRebuildReportsBadSchedules(t *testing.T) {
	e := newEngine(t)
	c := newCron(t, e)

	good := testutil.SaveRule(t, e.db, cronRule("good", "@daily", nil, testutil.Credit(1)))
	bad := testutil.SaveRule(t, e.db, cronRule("bad", "61 * * * *", nil, testutil.Credit(1)))

	err := c.RebuildFromStore(context.Background())
	var se *SchedulerError
	if !errors.As(err, &se) || se.RuleID != bad.ID {
		t.Fatalf("err = %v, want SchedulerError for %s", err, bad.ID)
	}
	if got := c.Registered(); !slices.Equal(got, []string{good.ID}) {
		t.Errorf("registered = %v, want only the good rule", got)
	}
}

func TestCronFireRuleUsesSelectionSnapshot(t *testing.T) {
	e := newEngine(t)
	c := newCron(t, e)
	ctx := context.Background()

	poor := testutil.SeedUser(t, e.db, "poor", 20)
	middle := testutil.SeedUser(t, e.db, "middle", 50)
	rich := testutil.SeedUser(t, e.db, "rich", 150)

	rule := cronRule("top up", "@daily",
		[]models.Condition{{Field: "credits", Operator: models.OpLte, Value: float64(99)}},
		testutil.Credit(60),
	)
	rule.IsRepeatable = true
	rule.CooldownSeconds = ptr(int64(3600))
	testutil.SaveRule(t, e.db, rule)

	summary, err := c.FireRule(ctx, rule.ID)
	if err != nil {
		t.Fatalf("FireRule: %v", err)
	}
	if summary.Matched != 2 || summary.Fired != 2 || summary.Failed != 0 {
		t.Fatalf("summary = %+v, want 2 matched and fired", summary)
	}

	want := map[string]int64{poor.ID: 80, middle.ID: 110, rich.ID: 150}
	for id, credits := range want {
		if got := testutil.Credits(t, e.db, id); got != credits {
			t.Errorf("user %s = %d, want %d", id, got, credits)
		}
	}

	// same tick again: poor is still under 100 but inside its cooldown
	again, err := c.FireRule(ctx, rule.ID)
	if err != nil {
		t.Fatal(err)
	}
	if again.Matched != 1 || again.Fired != 0 || again.Skipped != 1 {
		t.Errorf("second run = %+v, want 1 matched, 0 fired", again)
	}

	var cronLogs []models.RuleExecutionLog
	e.db.Where("rule_id = ? AND trigger_type = ?", rule.ID, models.TriggerCron).Find(&cronLogs)
	if len(cronLogs) != 2 {
		t.Errorf("run logs = %d, want 2", len(cronLogs))
	}
}

func TestCronFireRuleRejectsEventRules(t *testing.T) {
	e := newEngine(t)
	c := newCron(t, e)
	rule := testutil.SaveRule(t, e.db, testutil.Rule("event", models.TriggerCheckin, testutil.Credit(1)))

	if _, err := c.FireRule(context.Background(), rule.ID); !errors.Is(err, ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
	if _, err := c.FireRule(context.Background(), "6f1c1f9e-0000-4000-8000-000000000000"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestCronTickFiresRule(t *testing.T) {
	e := newEngine(t)
	c := newCron(t, e)
	u := testutil.SeedUser(t, e.db, "early-bird", 0)

	rule, err := e.rules.Create(context.Background(), RuleInput{
		Name:              "Minute bonus",
		TriggerType:       models.TriggerCron,
		TriggerConditions: models.TriggerConditions{Schedule: "* * * * *"},
		Actions:           []models.ActionSpec{testutil.Credit(5)},
	})
	if err != nil {
		t.Fatal(err)
	}
	c.Start(context.Background())

	deadline := time.Now().Add(5 * time.Second)
	for testutil.Credits(t, e.db, u.ID) != 5 {
		if time.Now().After(deadline) {
			t.Fatal("scheduled tick never fired the rule")
		}
		e.clock.Advance(time.Minute)
		time.Sleep(10 * time.Millisecond)
	}

	// non-repeatable: later ticks find the rule complete for this user
	for i := 0; i < 3; i++ {
		e.clock.Advance(time.Minute)
		time.Sleep(10 * time.Millisecond)
	}
	if got := testutil.Credits(t, e.db, u.ID); got != 5 {
		t.Errorf("balance = %d, want 5", got)
	}
	if rec := e.record(t, rule.ID, u.ID); rec == nil || rec.ExecutionCount != 1 {
		t.Errorf("record = %+v, want count 1", rec)
	}
}
