package store

import (
	"context"

	"github.com/oklog/ulid/v2"

	"github.com/dagflow/dagflow-go/flow/event"
)

// EventLog adapts a Store's EventStore to the bus persister boundary,
// assigning each envelope a ULID so the persisted log sorts in emission
// order.
type EventLog struct {
	store Store
}

// NewEventLog returns a bus persister backed by the store's event log.
func NewEventLog(s Store) *EventLog {
	return &EventLog{store: s}
}

// Persist appends the envelope to the run's event log.
func (l *EventLog) Persist(ctx context.Context, env event.Envelope) error {
	return l.store.Events().Append(ctx, &RunEvent{
		ID:        ulid.Make().String(),
		RunID:     env.RunID,
		StepID:    env.StepID,
		EventType: env.EventType,
		Payload:   env.Payload,
		CreatedAt: env.Timestamp,
	})
}
