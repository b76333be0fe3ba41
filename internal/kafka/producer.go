package kafka

import (
	"context"

	"github.com/ariefcatur/go-store-orders/internal/outbox"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

// Publisher writes outbox messages to the topic each message names. Writes
// are synchronous so the relay only marks a batch published once every
// broker ack is in.
type Publisher struct {
	w *kafka.Writer
}

func NewPublisher(brokers []string) *Publisher {
	return &Publisher{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
	}
}

var _ outbox.Publisher = (*Publisher)(nil)

func (p *Publisher) Publish(ctx context.Context, msgs []outbox.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]kafka.Message, len(msgs))
	for i, m := range msgs {
		out[i] = toKafka(m)
	}
	return errors.Wrap(p.w.WriteMessages(ctx, out...), "kafka: write")
}

func (p *Publisher) Close() error { return p.w.Close() }
