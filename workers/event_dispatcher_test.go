package workers

import (
	"context"
	"sync"
	"testing"
	"time"

	"nextbb-automation/models"
	"nextbb-automation/services"
)

type recordingBus struct {
	mu   sync.Mutex
	seen []string
}

func (b *recordingBus) Dispatch(ctx context.Context, evt services.Event) []services.FiringResult {
	b.mu.Lock()
	b.seen = append(b.seen, evt.ID)
	b.mu.Unlock()
	return nil
}

func (b *recordingBus) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.seen)
}

func checkin(id string) services.Event {
	return services.Event{ID: id, Type: models.TriggerCheckin, SubjectID: "u"}
}

func TestEventDispatcherDeliversAndDrains(t *testing.T) {
	bus := &recordingBus{}
	d := NewEventDispatcher(bus, 3, 16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		if !d.Submit(checkin(id)) {
			t.Fatalf("Submit(%s) rejected", id)
		}
	}
	d.Stop()

	if got := bus.count(); got != 5 {
		t.Errorf("dispatched %d events, want 5", got)
	}
	if d.Submit(checkin("late")) {
		t.Error("Submit after Stop accepted")
	}
}

func TestEventDispatcherFullQueueRejects(t *testing.T) {
	d := NewEventDispatcher(&recordingBus{}, 1, 1)

	if !d.Submit(checkin("first")) {
		t.Fatal("first Submit rejected")
	}
	if d.Submit(checkin("second")) {
		t.Fatal("Submit on a full queue accepted")
	}
	d.Stop()
	d.Stop()
}

func TestEventDispatcherStopsWithContext(t *testing.T) {
	bus := &recordingBus{}
	d := NewEventDispatcher(bus, 1, 4)
	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for {
		d.mu.RLock()
		closed := d.closed
		d.mu.RUnlock()
		if closed {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("dispatcher not stopped after context cancel")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if d.Submit(checkin("late")) {
		t.Error("Submit after cancel accepted")
	}
}
