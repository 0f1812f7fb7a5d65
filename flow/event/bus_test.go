package event

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

// recordingPersister captures persisted envelopes and marks whether any
// subscriber had already received the event when Persist ran.
type recordingPersister struct {
	mu       sync.Mutex
	events   []Envelope
	failWith error
}

func (p *recordingPersister) Persist(_ context.Context, env Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWith != nil {
		return p.failWith
	}
	p.events = append(p.events, env)
	return nil
}

func (p *recordingPersister) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.EventType
	}
	return out
}

func TestEmitPersistsBeforeDelivery(t *testing.T) {
	persister := &recordingPersister{}
	bus := NewBus(persister, zerolog.Nop())
	sub := bus.Subscribe("run-1")
	defer sub.Close()

	bus.Emit(context.Background(), "run-1", StepStarted, "a", map[string]any{"attempt": 1})

	env := <-sub.C
	if env.EventType != StepStarted || env.StepID != "a" {
		t.Fatalf("delivered envelope = %+v", env)
	}
	// By the time the subscriber holds the event, it is already durable.
	if got := persister.types(); len(got) != 1 || got[0] != StepStarted {
		t.Fatalf("persisted = %v", got)
	}
	if env.Type != env.EventType {
		t.Errorf("Type %q differs from EventType %q", env.Type, env.EventType)
	}
	if env.Timestamp.IsZero() {
		t.Error("envelope has zero timestamp")
	}
}

func TestEmitRoutesByRun(t *testing.T) {
	bus := NewBus(nil, zerolog.Nop())
	sub1 := bus.Subscribe("run-1")
	defer sub1.Close()
	sub2 := bus.Subscribe("run-2")
	defer sub2.Close()

	bus.Emit(context.Background(), "run-1", RunStarted, "", nil)

	if env := <-sub1.C; env.RunID != "run-1" {
		t.Fatalf("sub1 got %+v", env)
	}
	select {
	case env := <-sub2.C:
		t.Fatalf("sub2 got foreign event %+v", env)
	default:
	}
}

func TestEmitSurvivesPersistFailure(t *testing.T) {
	persister := &recordingPersister{failWith: errors.New("disk full")}
	bus := NewBus(persister, zerolog.Nop())
	sub := bus.Subscribe("run-1")
	defer sub.Close()

	bus.Emit(context.Background(), "run-1", RunStarted, "", nil)

	// Delivery still happens; the failure is logged, not propagated.
	if env := <-sub.C; env.EventType != RunStarted {
		t.Fatalf("delivered = %+v", env)
	}
}

func TestSlowSubscriberDropsNotBlocks(t *testing.T) {
	bus := NewBus(nil, zerolog.Nop())
	sub := bus.Subscribe("run-1")
	defer sub.Close()

	// Never read: the queue fills, then further emits are dropped for this
	// subscriber without blocking the emitter.
	for i := 0; i < queueCapacity+10; i++ {
		bus.Emit(context.Background(), "run-1", StepCompleted, fmt.Sprintf("s%d", i), nil)
	}

	var received int
	for {
		select {
		case <-sub.C:
			received++
			continue
		default:
		}
		break
	}
	if received != queueCapacity {
		t.Fatalf("received %d events, want %d", received, queueCapacity)
	}
}

func TestSubscriptionClose(t *testing.T) {
	bus := NewBus(nil, zerolog.Nop())
	sub := bus.Subscribe("run-1")
	if got := bus.SubscriberCount("run-1"); got != 1 {
		t.Fatalf("SubscriberCount = %d", got)
	}

	sub.Close()
	sub.Close() // idempotent

	if got := bus.SubscriberCount("run-1"); got != 0 {
		t.Fatalf("SubscriberCount after close = %d", got)
	}
	if _, ok := <-sub.C; ok {
		t.Fatal("channel still open after Close")
	}

	// Emitting after close must not panic.
	bus.Emit(context.Background(), "run-1", RunCompleted, "", nil)
}

func TestListeners(t *testing.T) {
	bus := NewBus(nil, zerolog.Nop())

	var mu sync.Mutex
	var seen []string
	remove := bus.AddListener(func(env Envelope) {
		mu.Lock()
		seen = append(seen, env.EventType)
		mu.Unlock()
	})

	bus.Emit(context.Background(), "run-1", RunStarted, "", nil)
	bus.Emit(context.Background(), "run-2", RunCompleted, "", nil)
	remove()
	bus.Emit(context.Background(), "run-1", RunFailed, "", nil)

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != RunStarted || seen[1] != RunCompleted {
		t.Fatalf("listener saw %v", seen)
	}
}

func TestConcurrentEmitAndClose(t *testing.T) {
	bus := NewBus(nil, zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		sub := bus.Subscribe("run-1")
		wg.Add(2)
		go func() {
			defer wg.Done()
			for range sub.C {
			}
		}()
		go func(s *Subscription) {
			defer wg.Done()
			s.Close()
		}(sub)
	}
	for i := 0; i < 100; i++ {
		bus.Emit(context.Background(), "run-1", StepStarted, "a", nil)
	}
	wg.Wait()
}
