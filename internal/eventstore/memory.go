// internal/eventstore/memory.go
package eventstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"libradesk/internal/store/memstore"
)

// MemoryJournal keeps events in process. Used by the memory storage driver
// and in tests.
type MemoryJournal struct {
	mu     sync.Mutex
	nextID int64
	events []Event
	now    func() time.Time
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{now: time.Now}
}

func (m *MemoryJournal) Record(ctx context.Context, aggregateType string, aggregateID uuid.UUID, eventType string, payload any) error {
	data, err := encode(eventType, payload)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	version := 0
	for _, e := range m.events {
		if e.AggregateID == aggregateID && e.Version > version {
			version = e.Version
		}
	}
	m.nextID++
	m.events = append(m.events, Event{
		ID:            m.nextID,
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		EventData:     data,
		Version:       version + 1,
		CreatedAt:     m.now().UTC(),
	})

	id := m.nextID
	memstore.OnRollback(ctx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, e := range m.events {
			if e.ID == id {
				m.events = append(m.events[:i], m.events[i+1:]...)
				return
			}
		}
	})
	return nil
}

func (m *MemoryJournal) Load(_ context.Context, aggregateID uuid.UUID) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, 0)
	for _, e := range m.events {
		if e.AggregateID == aggregateID {
			out = append(out, e)
		}
	}
	return out, nil
}

// Types lists the recorded event types in order, across all aggregates.
func (m *MemoryJournal) Types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = e.EventType
	}
	return out
}

var (
	_ Journal = (*MemoryJournal)(nil)
	_ Journal = (*EventStore)(nil)
)
