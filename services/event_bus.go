package services

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"nextbb-automation/metrics"
	"nextbb-automation/models"
)

// EventQueue accepts events for asynchronous dispatch. Submit must not block;
// it returns false when the event was not queued.
type EventQueue interface {
	Submit(evt Event) bool
}

// EventBus routes domain events to the enabled rules of the matching trigger type.
// It holds no firing state of its own.
type EventBus struct {
	Rules *RuleStore
	Firer *Firer
	Clock clockwork.Clock

	queue    EventQueue
	inflight sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewEventBus(rules *RuleStore, firer *Firer, clock clockwork.Clock) *EventBus {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &EventBus{Rules: rules, Firer: firer, Clock: clock}
}

// SetQueue attaches the asynchronous dispatcher.
func (b *EventBus) SetQueue(q EventQueue) {
	b.queue = q
}

// Emit validates and hands the event off without waiting for it to be processed.
// Only an invalid event is reported back to the caller.
func (b *EventBus) Emit(ctx context.Context, evt Event) error {
	if err := evt.validate(); err != nil {
		return err
	}
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = b.Clock.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}
	metrics.EventsEmitted.WithLabelValues(string(evt.Type)).Inc()

	if b.queue != nil && b.queue.Submit(evt) {
		return nil
	}

	detached := context.WithoutCancel(ctx)
	b.inflight.Add(1)
	go func() {
		defer b.inflight.Done()
		b.Dispatch(detached, evt)
	}()
	return nil
}

// Close makes later Emit calls fail with ErrBusClosed. Call it before stopping the
// queue and waiting, so no detached dispatch starts during Wait.
func (b *EventBus) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
}

// Wait blocks until events dispatched outside the queue have finished.
func (b *EventBus) Wait() {
	b.inflight.Wait()
}

// Dispatch processes every candidate rule for evt in priority order. Each rule is isolated:
// an error or panic in one is logged and the next rule still runs.
func (b *EventBus) Dispatch(ctx context.Context, evt Event) []FiringResult {
	rules, err := b.Rules.ActiveForTrigger(ctx, evt.Type)
	if err != nil {
		log.Printf("[EventBus] ⚠️ could not load rules for %s: %v", evt, err)
		return nil
	}

	evtCtx := evt.Context()
	results := make([]FiringResult, 0, len(rules))
	for i := range rules {
		results = append(results, b.dispatchOne(ctx, &rules[i], evt, evtCtx))
	}
	return results
}

func (b *EventBus) dispatchOne(ctx context.Context, rule *models.AutomationRule, evt Event, evtCtx map[string]any) (res FiringResult) {
	defer func() {
		if r := recover(); r != nil {
			res = FiringResult{
				RuleID:    rule.ID,
				SubjectID: evt.SubjectID,
				Outcome:   OutcomeFailed,
				Err:       fmt.Errorf("panic: %v", r),
			}
			res.Reason = res.Err.Error()
			log.Printf("[EventBus] ❌ rule %s panicked on %s: %v", rule.ID, evt, r)
		}
	}()

	if !EvaluateConditions(rule.Conditions(), evtCtx) {
		metrics.Firings.WithLabelValues(string(evt.Type), OutcomeConditionsUnmet).Inc()
		return FiringResult{RuleID: rule.ID, SubjectID: evt.SubjectID, Outcome: OutcomeConditionsUnmet}
	}
	return b.Firer.Fire(ctx, rule, evt)
}
