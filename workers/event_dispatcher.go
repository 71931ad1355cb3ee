package workers

import (
	"context"
	"log"
	"sync"

	"nextbb-automation/metrics"
	"nextbb-automation/services"
)

// Dispatcher processes one event against its matching rules.
type Dispatcher interface {
	Dispatch(ctx context.Context, evt services.Event) []services.FiringResult
}

// EventDispatcher is a bounded worker pool that drains emitted events off the request path.
type EventDispatcher struct {
	bus     Dispatcher
	queue   chan services.Event
	workers int

	mu       sync.RWMutex
	closed   bool
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewEventDispatcher(bus Dispatcher, workers, queueSize int) *EventDispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	return &EventDispatcher{
		bus:     bus,
		queue:   make(chan services.Event, queueSize),
		workers: workers,
	}
}

func (d *EventDispatcher) Start(ctx context.Context) {
	log.Printf("🔁 Starting event dispatcher (%d workers, queue %d)…", d.workers, cap(d.queue))
	runCtx := context.WithoutCancel(ctx)
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.run(runCtx)
	}
	go func() {
		<-ctx.Done()
		d.Stop()
	}()
}

func (d *EventDispatcher) run(ctx context.Context) {
	defer d.wg.Done()
	for evt := range d.queue {
		metrics.DispatchQueueDepth.Set(float64(len(d.queue)))
		d.bus.Dispatch(ctx, evt)
	}
}

// Submit queues evt without blocking. It returns false when the queue is full or stopped.
func (d *EventDispatcher) Submit(evt services.Event) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	select {
	case d.queue <- evt:
		metrics.DispatchQueueDepth.Set(float64(len(d.queue)))
		return true
	default:
		log.Printf("[Dispatcher] ⚠️ queue full, %s handed to a detached goroutine", evt)
		return false
	}
}

// Stop refuses new events, drains the queue and waits for the workers.
func (d *EventDispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
		d.wg.Wait()
		log.Println("[Dispatcher] stopped")
	})
}
