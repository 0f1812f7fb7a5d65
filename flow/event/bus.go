package event

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// queueCapacity bounds each subscriber channel. A subscriber that falls more
// than this many events behind starts losing events; the persisted log remains
// complete.
const queueCapacity = 256

// Persister writes an envelope to durable storage. Emit calls it before any
// fan-out so that persistence failures never reorder delivery.
type Persister interface {
	Persist(ctx context.Context, env Envelope) error
}

// Listener receives every envelope emitted on the bus regardless of run.
// Listeners are invoked synchronously on the emitting goroutine and must not
// block.
type Listener func(env Envelope)

// Subscription is a bounded, per-run event feed. Close detaches it from the
// bus and closes C.
type Subscription struct {
	RunID string
	C     <-chan Envelope

	bus  *Bus
	ch   chan Envelope
	once sync.Once
}

// Close removes the subscription from the bus and closes the channel.
// Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		s.bus.removeLocked(s)
		close(s.ch)
		s.bus.mu.Unlock()
	})
}

// Bus fans run events out to per-run subscribers and global listeners.
// Emission is persist-first: the envelope is handed to the Persister before
// any subscriber or listener sees it. Delivery to subscribers is non-blocking;
// a full queue drops the event for that subscriber only.
type Bus struct {
	mu        sync.Mutex
	subs      map[string][]*Subscription
	listeners map[int]Listener
	nextID    int

	persister Persister
	log       zerolog.Logger
}

// NewBus returns a Bus backed by the given persister. A nil persister
// disables durable logging (useful in tests).
func NewBus(p Persister, log zerolog.Logger) *Bus {
	return &Bus{
		subs:      make(map[string][]*Subscription),
		listeners: make(map[int]Listener),
		persister: p,
		log:       log,
	}
}

// Subscribe registers a bounded feed for a single run's events.
func (b *Bus) Subscribe(runID string) *Subscription {
	sub := &Subscription{
		RunID: runID,
		bus:   b,
		ch:    make(chan Envelope, queueCapacity),
	}
	sub.C = sub.ch

	b.mu.Lock()
	b.subs[runID] = append(b.subs[runID], sub)
	b.mu.Unlock()
	return sub
}

// removeLocked detaches a subscription. Callers hold b.mu; holding the lock
// across removal and channel close keeps Emit from sending on a closed
// channel.
func (b *Bus) removeLocked(sub *Subscription) {
	subs := b.subs[sub.RunID]
	for i, s := range subs {
		if s == sub {
			b.subs[sub.RunID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[sub.RunID]) == 0 {
		delete(b.subs, sub.RunID)
	}
}

// AddListener registers a global listener and returns a function that removes
// it.
func (b *Bus) AddListener(l Listener) (remove func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = l
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	}
}

// SubscriberCount reports how many subscriptions are attached for a run.
func (b *Bus) SubscriberCount(runID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[runID])
}

// Emit persists the event, then fans it out. Persistence and delivery
// failures are logged and never propagated to the caller: event emission
// must not fail a run.
func (b *Bus) Emit(ctx context.Context, runID, eventType, stepID string, payload map[string]any) Envelope {
	env := NewEnvelope(runID, eventType, stepID, payload)

	if b.persister != nil {
		if err := b.persister.Persist(ctx, env); err != nil {
			b.log.Error().
				Err(err).
				Str("run_id", runID).
				Str("event_type", eventType).
				Msg("event persist failed")
		}
	}

	b.mu.Lock()
	for _, sub := range b.subs[runID] {
		select {
		case sub.ch <- env:
		default:
			b.log.Warn().
				Str("run_id", runID).
				Str("event_type", eventType).
				Msg("subscriber queue full, dropping event")
		}
	}
	listeners := make([]Listener, 0, len(b.listeners))
	for _, l := range b.listeners {
		listeners = append(listeners, l)
	}
	b.mu.Unlock()

	for _, l := range listeners {
		l(env)
	}
	return env
}
