// Package outbox stores domain events in the same transaction as the state
// that produced them and relays them to the broker afterwards.
package outbox

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	HeaderEventType    = "x-event-type"
	HeaderEventVersion = "x-event-version"
	HeaderEventID      = "x-event-id"

	EnvelopeVersion = 1
)

// Envelope is the wire format of every published event.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// Event is what the aggregates return from their methods.
type Event interface {
	Type() string
	AggregateID() string
}

// Message is one outbox row. Value is the encoded Envelope.
type Message struct {
	ID        string
	Topic     string
	Key       string
	EventType string
	Value     []byte
	CreatedAt time.Time
}

func (m Message) Headers() map[string]string {
	return map[string]string{
		HeaderEventType:    m.EventType,
		HeaderEventVersion: strconv.Itoa(EnvelopeVersion),
		HeaderEventID:      m.ID,
	}
}

func (m Message) Envelope() (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(m.Value, &env)
	return env, errors.Wrap(err, "outbox: decode envelope")
}

type traceKey struct{}

// WithTraceID tags events recorded under ctx with the request id.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

func TraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}

// Messages wraps evs in envelopes bound for topic.
func Messages[E Event](ctx context.Context, producer, topic string, evs []E, now time.Time) ([]Message, error) {
	out := make([]Message, 0, len(evs))
	for _, ev := range evs {
		payload, err := json.Marshal(ev)
		if err != nil {
			return nil, errors.Wrapf(err, "outbox: encode %s", ev.Type())
		}
		env := Envelope{
			EventID:       uuid.NewString(),
			EventType:     ev.Type(),
			EventVersion:  EnvelopeVersion,
			OccurredAt:    now.UTC(),
			Producer:      producer,
			TraceID:       TraceID(ctx),
			CorrelationID: ev.AggregateID(),
			Payload:       payload,
		}
		value, err := json.Marshal(env)
		if err != nil {
			return nil, errors.Wrap(err, "outbox: encode envelope")
		}
		out = append(out, Message{
			ID:        env.EventID,
			Topic:     topic,
			Key:       ev.AggregateID(),
			EventType: env.EventType,
			Value:     value,
			CreatedAt: env.OccurredAt,
		})
	}
	return out, nil
}

// Decode reads the payload of env into T.
func Decode[T any](env Envelope) (T, error) {
	var t T
	err := json.Unmarshal(env.Payload, &t)
	return t, errors.Wrapf(err, "outbox: decode %s payload", env.EventType)
}
