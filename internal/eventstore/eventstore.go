// internal/eventstore/eventstore.go
package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"libradesk/internal/store/pgstore"
)

var (
	ErrConcurrencyConflict = errors.New("concurrency conflict: version mismatch")
	ErrInvalidEvent        = errors.New("invalid event")
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// Event is one recorded domain fact about an aggregate.
type Event struct {
	ID            int64           `json:"id" db:"id"`
	AggregateID   uuid.UUID       `json:"aggregate_id" db:"aggregate_id"`
	AggregateType string          `json:"aggregate_type" db:"aggregate_type"`
	EventType     string          `json:"event_type" db:"event_type"`
	EventData     json.RawMessage `json:"event_data" db:"event_data"`
	Version       int             `json:"version" db:"version"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// Journal records and replays domain events.
type Journal interface {
	Record(ctx context.Context, aggregateType string, aggregateID uuid.UUID, eventType string, payload any) error
	Load(ctx context.Context, aggregateID uuid.UUID) ([]Event, error)
}

// EventStore is the Postgres journal. Record joins the transaction carried
// by ctx so events commit together with the state change they describe.
type EventStore struct {
	db     *pgstore.DB
	tracer trace.Tracer
	now    func() time.Time
}

// NewEventStore creates a journal over the events table.
func NewEventStore(db *pgstore.DB) *EventStore {
	return &EventStore{
		db:     db,
		tracer: otel.Tracer("libradesk/eventstore"),
		now:    time.Now,
	}
}

// Record appends one event at the aggregate's next version.
func (es *EventStore) Record(ctx context.Context, aggregateType string, aggregateID uuid.UUID, eventType string, payload any) error {
	ctx, span := es.tracer.Start(ctx, "eventstore.append",
		trace.WithAttributes(
			attribute.String("aggregate.id", aggregateID.String()),
			attribute.String("aggregate.type", aggregateType),
			attribute.String("event.type", eventType),
		),
	)
	defer span.End()

	data, err := encode(eventType, payload)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	var appended struct {
		ID      int64 `db:"id"`
		Version int   `db:"version"`
	}
	err = sqlx.GetContext(ctx, es.db.Executor(ctx), &appended, `
		INSERT INTO events (aggregate_id, aggregate_type, event_type, event_data, version, created_at)
		SELECT $1, $2, $3, $4, COALESCE(MAX(version), 0) + 1, $5
		FROM events
		WHERE aggregate_id = $1
		RETURNING id, version
	`, aggregateID, aggregateType, eventType, []byte(data), es.now().UTC())
	if err != nil {
		// Check for unique constraint violation (race condition)
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			span.SetAttributes(attribute.Bool("conflict.detected", true))
			return ErrConcurrencyConflict
		}
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("insert event: %w", err)
	}

	span.AddEvent("event.appended", trace.WithAttributes(
		attribute.Int64("event.id", appended.ID),
		attribute.Int("event.version", appended.Version),
	))
	return nil
}

// Load returns every event of an aggregate in version order.
func (es *EventStore) Load(ctx context.Context, aggregateID uuid.UUID) ([]Event, error) {
	ctx, span := es.tracer.Start(ctx, "eventstore.load",
		trace.WithAttributes(attribute.String("aggregate.id", aggregateID.String())),
	)
	defer span.End()

	events := make([]Event, 0)
	err := sqlx.SelectContext(ctx, es.db.Executor(ctx), &events, `
		SELECT id, aggregate_id, aggregate_type, event_type, event_data, version, created_at
		FROM events
		WHERE aggregate_id = $1
		ORDER BY version ASC
	`, aggregateID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query events: %w", err)
	}

	span.SetAttributes(attribute.Int("events.loaded", len(events)))
	return events, nil
}

func encode(eventType string, payload any) (json.RawMessage, error) {
	if eventType == "" {
		return nil, fmt.Errorf("%w: empty event type", ErrInvalidEvent)
	}
	data, err := jsonAPI.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return data, nil
}

// Decode unmarshals an event's data into dst.
func (e Event) Decode(dst any) error {
	return jsonAPI.Unmarshal(e.EventData, dst)
}
