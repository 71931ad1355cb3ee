package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"nextbb-automation/metrics"
	"nextbb-automation/models"
)

// CronRunSummary tallies one scheduled run of a rule.
type CronRunSummary struct {
	RuleID  string `json:"rule_id"`
	Matched int    `json:"matched"`
	Fired   int    `json:"fired"`
	Skipped int    `json:"skipped"`
	Failed  int    `json:"failed"`
}

// CronOptions configures the underlying gocron scheduler.
type CronOptions struct {
	Location  *time.Location
	Locker    gocron.Locker
	BatchSize int
}

// CronScheduler owns the rule id → gocron job registry. The registry is process state and
// is rebuilt from the rule store on start.
type CronScheduler struct {
	Rules     *RuleStore
	Subjects  *SubjectService
	Firer     *Firer
	Clock     clockwork.Clock
	BatchSize int

	mu      sync.Mutex
	sched   gocron.Scheduler
	jobs    map[string]uuid.UUID
	baseCtx context.Context
}

func NewCronScheduler(rules *RuleStore, subjects *SubjectService, firer *Firer, clock clockwork.Clock, opts CronOptions) (*CronScheduler, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	schedOpts := []gocron.SchedulerOption{gocron.WithClock(clock)}
	if opts.Location != nil {
		schedOpts = append(schedOpts, gocron.WithLocation(opts.Location))
	}
	if opts.Locker != nil {
		schedOpts = append(schedOpts, gocron.WithDistributedLocker(opts.Locker))
	}
	sched, err := gocron.NewScheduler(schedOpts...)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	return &CronScheduler{
		Rules:     rules,
		Subjects:  subjects,
		Firer:     firer,
		Clock:     clock,
		BatchSize: opts.BatchSize,
		sched:     sched,
		jobs:      make(map[string]uuid.UUID),
		baseCtx:   context.Background(),
	}, nil
}

// ruleJobTag marks every job owned by the registry.
const ruleJobTag = "automation-rule"

func jobName(ruleID string) string {
	return "automation-rule-" + ruleID
}

// Register adds the rule's job, or replaces it when one is already registered.
func (c *CronScheduler) Register(rule *models.AutomationRule) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.register(rule)
}

// Update re-derives the job from the rule's current schedule.
func (c *CronScheduler) Update(rule *models.AutomationRule) error {
	return c.Register(rule)
}

func (c *CronScheduler) register(rule *models.AutomationRule) error {
	schedule := rule.Schedule()
	if rule.TriggerType != models.TriggerCron {
		return &SchedulerError{RuleID: rule.ID, Schedule: schedule, Err: errors.New("rule is not CRON-triggered")}
	}

	def := gocron.CronJob(schedule, false)
	task := gocron.NewTask(c.run, rule.ID)
	tags := []string{ruleJobTag}
	if rule.Slug != "" {
		tags = append(tags, rule.Slug)
	}
	opts := []gocron.JobOption{
		gocron.WithName(jobName(rule.ID)),
		gocron.WithTags(tags...),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	}

	var (
		job gocron.Job
		err error
	)
	if id, ok := c.jobs[rule.ID]; ok {
		job, err = c.sched.Update(id, def, task, opts...)
	} else {
		job, err = c.sched.NewJob(def, task, opts...)
	}
	if err != nil {
		return &SchedulerError{RuleID: rule.ID, Schedule: schedule, Err: err}
	}
	c.jobs[rule.ID] = job.ID()
	metrics.CronJobs.Set(float64(len(c.jobs)))
	return nil
}

// Deregister removes the rule's job. Unknown ids are ignored.
func (c *CronScheduler) Deregister(ruleID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deregister(ruleID)
}

func (c *CronScheduler) deregister(ruleID string) error {
	id, ok := c.jobs[ruleID]
	if !ok {
		return nil
	}
	delete(c.jobs, ruleID)
	metrics.CronJobs.Set(float64(len(c.jobs)))
	if err := c.sched.RemoveJob(id); err != nil && !errors.Is(err, gocron.ErrJobNotFound) {
		return err
	}
	return nil
}

// Sync registers enabled, live CRON rules and deregisters everything else.
func (c *CronScheduler) Sync(rule *models.AutomationRule) error {
	if rule.TriggerType == models.TriggerCron && rule.IsEnabled && !rule.IsDeleted() {
		return c.Register(rule)
	}
	return c.Deregister(rule.ID)
}

// RebuildFromStore drops every job and registers the persisted set of enabled CRON rules.
// Rules that fail to register are reported together; the rest stay registered.
func (c *CronScheduler) RebuildFromStore(ctx context.Context) error {
	rules, err := c.Rules.ListActiveCron(ctx)
	if err != nil {
		return fmt.Errorf("load cron rules: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for ruleID := range c.jobs {
		if err := c.deregister(ruleID); err != nil {
			return err
		}
	}
	// jobs missing from the map are found by their tag
	for _, job := range c.sched.Jobs() {
		if slices.Contains(job.Tags(), ruleJobTag) {
			if err := c.sched.RemoveJob(job.ID()); err != nil && !errors.Is(err, gocron.ErrJobNotFound) {
				return err
			}
		}
	}

	var errs []error
	for i := range rules {
		if err := c.register(&rules[i]); err != nil {
			log.Printf("[Cron] ⚠️ %v", err)
			errs = append(errs, err)
		}
	}
	log.Printf("[Cron] registry rebuilt: %d job(s)", len(c.jobs))
	return errors.Join(errs...)
}

// Start begins running jobs. Runs use ctx as their parent context.
func (c *CronScheduler) Start(ctx context.Context) {
	c.mu.Lock()
	c.baseCtx = ctx
	c.mu.Unlock()
	c.sched.Start()
}

func (c *CronScheduler) Shutdown() error {
	return c.sched.Shutdown()
}

// Registered returns the rule ids that currently have a job.
func (c *CronScheduler) Registered() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.jobs))
	for id := range c.jobs {
		ids = append(ids, id)
	}
	return ids
}

// NextRun returns the next fire time of the rule's job.
func (c *CronScheduler) NextRun(ruleID string) (time.Time, bool) {
	c.mu.Lock()
	id, ok := c.jobs[ruleID]
	c.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	for _, job := range c.sched.Jobs() {
		if job.ID() == id {
			next, err := job.NextRun()
			return next, err == nil
		}
	}
	return time.Time{}, false
}

func (c *CronScheduler) run(ruleID string) {
	c.mu.Lock()
	ctx := c.baseCtx
	c.mu.Unlock()

	summary, err := c.FireRule(ctx, ruleID)
	if err != nil {
		metrics.CronRuns.WithLabelValues("error").Inc()
		log.Printf("[Cron] ❌ rule %s: %v", ruleID, err)
		return
	}
	metrics.CronRuns.WithLabelValues("ok").Inc()
	log.Printf("[Cron] ✅ rule %s: matched=%d fired=%d skipped=%d failed=%d",
		ruleID, summary.Matched, summary.Fired, summary.Skipped, summary.Failed)
}

// FireRule runs one scheduled tick of the rule: the target set is selected first, then each
// target goes through the same eligibility and action pipeline as an event-driven firing.
func (c *CronScheduler) FireRule(ctx context.Context, ruleID string) (CronRunSummary, error) {
	summary := CronRunSummary{RuleID: ruleID}

	rule, err := c.Rules.Get(ctx, ruleID)
	if err != nil {
		return summary, err
	}
	if rule.TriggerType != models.TriggerCron {
		return summary, &ValidationError{Problems: []string{"only CRON rules can be run on demand"}}
	}
	if !rule.IsEnabled {
		return summary, nil
	}

	targets, err := c.Subjects.ResolveTargets(ctx, rule.Conditions(), c.BatchSize)
	if err != nil {
		return summary, fmt.Errorf("resolve targets: %w", err)
	}
	summary.Matched = len(targets)

	tick := uuid.NewString()
	now := c.Clock.Now().UTC()
	for _, t := range targets {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		evt := Event{
			ID:         tick,
			Type:       models.TriggerCron,
			SubjectID:  t.UserID,
			Payload:    t.Context,
			OccurredAt: now,
		}
		switch res := c.Firer.Fire(ctx, rule, evt); res.Outcome {
		case OutcomeFired:
			summary.Fired++
		case OutcomeFailed:
			summary.Failed++
		default:
			summary.Skipped++
		}
	}
	return summary, nil
}
