package kafka

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-store-orders/internal/apperr"
	"github.com/ariefcatur/go-store-orders/internal/outbox"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []kafka.Message
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		m := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) offsets(partition int) []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int64
	for _, m := range r.committed {
		if m.Partition == partition {
			out = append(out, m.Offset)
		}
	}
	return out
}

func record(t *testing.T, orderID string, partition int, offset int64) kafka.Message {
	t.Helper()
	msgs, err := outbox.Messages(context.Background(), "test", "store.payments", []delivered{{OrderID: orderID}}, time.Now())
	require.NoError(t, err)
	m := toKafka(msgs[0])
	m.Partition = partition
	m.Offset = offset
	return m
}

func quietLog() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestConsumerRetriesInPlaceAndCommitsInOrder(t *testing.T) {
	r := &fakeReader{queue: []kafka.Message{
		record(t, "o-1", 0, 0),
		record(t, "o-2", 1, 0),
		record(t, "o-1", 0, 1),
		record(t, "o-3", 0, 2),
	}}
	c := newConsumer(r, 2, quietLog())
	c.backoff = time.Millisecond

	var (
		mu      sync.Mutex
		seen    []string
		failed  bool
		dropped bool
	)
	h := func(_ context.Context, env outbox.Envelope) error {
		ev, err := outbox.Decode[delivered](env)
		assert.NoError(t, err)
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, ev.OrderID)
		if ev.OrderID == "o-1" && !failed {
			failed = true
			return errors.New("database unavailable")
		}
		if ev.OrderID == "o-3" && !dropped {
			dropped = true
			return apperr.Validation("bad.event", "unusable event")
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx, h) }()

	require.Eventually(t, func() bool {
		return len(r.offsets(0)) == 3 && len(r.offsets(1)) == 1
	}, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []int64{0, 1, 2}, r.offsets(0), "a failed record holds back its partition")
	mu.Lock()
	defer mu.Unlock()
	var partitionZero []string
	for _, id := range seen {
		if id != "o-2" {
			partitionZero = append(partitionZero, id)
		}
	}
	assert.Equal(t, []string{"o-1", "o-1", "o-1", "o-3"}, partitionZero)
}

func TestConsumerLeavesRecordUncommittedOnShutdown(t *testing.T) {
	r := &fakeReader{queue: []kafka.Message{record(t, "o-1", 0, 0)}}
	c := newConsumer(r, 1, quietLog())
	c.backoff = time.Hour

	calls := make(chan struct{}, 1)
	h := func(context.Context, outbox.Envelope) error {
		select {
		case calls <- struct{}{}:
		default:
		}
		return errors.New("database unavailable")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx, h) }()
	<-calls
	cancel()
	require.NoError(t, <-done)
	assert.Empty(t, r.offsets(0))
}

func TestLaneKeepsPartitionsTogether(t *testing.T) {
	assert.Equal(t, lane(kafka.Message{Partition: 5}, 4), lane(kafka.Message{Partition: 5}, 4))
	assert.Equal(t, 1, lane(kafka.Message{Partition: 5}, 4))
	assert.Equal(t, 0, lane(kafka.Message{Partition: 3}, 1))
}
