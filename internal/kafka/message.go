package kafka

import (
	"encoding/json"

	"github.com/ariefcatur/go-store-orders/internal/outbox"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

// toKafka keys the record on the aggregate id so one order's events stay
// on one partition.
func toKafka(m outbox.Message) kafka.Message {
	hs := m.Headers()
	headers := make([]kafka.Header, 0, len(hs))
	for _, k := range []string{outbox.HeaderEventID, outbox.HeaderEventType, outbox.HeaderEventVersion} {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(hs[k])})
	}
	return kafka.Message{
		Topic:   m.Topic,
		Key:     []byte(m.Key),
		Value:   m.Value,
		Headers: headers,
		Time:    m.CreatedAt,
	}
}

func header(m kafka.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// envelopeOf decodes a record. The event type header wins over the body so
// records written by older producers still route.
func envelopeOf(m kafka.Message) (outbox.Envelope, error) {
	var env outbox.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return env, errors.Wrapf(err, "kafka: decode envelope at %s/%d/%d", m.Topic, m.Partition, m.Offset)
	}
	if t := header(m, outbox.HeaderEventType); t != "" {
		env.EventType = t
	}
	if env.EventID == "" {
		env.EventID = header(m, outbox.HeaderEventID)
	}
	return env, nil
}
