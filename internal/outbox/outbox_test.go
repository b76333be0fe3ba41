package outbox

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-store-orders/internal/apperr"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type shipped struct {
	OrderID  string `json:"order_id"`
	Tracking string `json:"tracking"`
}

func (shipped) Type() string          { return "OrderShipped" }
func (e shipped) AggregateID() string { return e.OrderID }

// sliceSource marks messages published only when the callback succeeds.
type sliceSource struct {
	mu      sync.Mutex
	pending []Message
	sent    []Message
}

func (s *sliceSource) Drain(_ context.Context, limit int, fn func([]Message) error) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := min(limit, len(s.pending))
	if n == 0 {
		return 0, nil
	}
	batch := s.pending[:n]
	if err := fn(batch); err != nil {
		return 0, err
	}
	s.sent = append(s.sent, batch...)
	s.pending = s.pending[n:]
	return n, nil
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, []Message) error { return errors.New("broker down") }

func quietLog() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestMessagesWrapEvents(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("WIB", 7*3600))
	ctx := WithTraceID(context.Background(), "req-9")

	msgs, err := Messages(ctx, "store-api", "store.orders", []shipped{{OrderID: "o-1", Tracking: "TRK"}}, at)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	m := msgs[0]
	assert.Equal(t, "store.orders", m.Topic)
	assert.Equal(t, "o-1", m.Key)
	assert.Equal(t, "OrderShipped", m.Headers()[HeaderEventType])
	assert.Equal(t, m.ID, m.Headers()[HeaderEventID])

	env, err := m.Envelope()
	require.NoError(t, err)
	assert.Equal(t, m.ID, env.EventID)
	assert.Equal(t, "req-9", env.TraceID)
	assert.Equal(t, "o-1", env.CorrelationID)
	assert.Equal(t, time.UTC, env.OccurredAt.Location())

	ev, err := Decode[shipped](env)
	require.NoError(t, err)
	assert.Equal(t, "TRK", ev.Tracking)
}

func TestRelayPublishesInBatches(t *testing.T) {
	var evs []shipped
	for _, id := range []string{"o-1", "o-2", "o-3"} {
		evs = append(evs, shipped{OrderID: id})
	}
	msgs, err := Messages(context.Background(), "test", "store.orders", evs, time.Now())
	require.NoError(t, err)

	var seen []string
	bus := &Dispatcher{Log: quietLog()}
	bus.Subscribe("store.orders", func(_ context.Context, env Envelope) error {
		ev, err := Decode[shipped](env)
		seen = append(seen, ev.OrderID)
		return err
	})
	bus.Subscribe("store.orders", func(context.Context, Envelope) error {
		return apperr.Validation("event.unusable", "poison")
	})

	src := &sliceSource{pending: msgs}
	relay := &Relay{Source: src, Publisher: bus, Batch: 2, Log: quietLog()}

	n, err := relay.Once(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = relay.Once(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, []string{"o-1", "o-2", "o-3"}, seen, "a rejecting handler does not block the others")
	assert.Empty(t, src.pending)
}

func TestRelayKeepsMessagesWhenPublishFails(t *testing.T) {
	msgs, err := Messages(context.Background(), "test", "store.orders", []shipped{{OrderID: "o-1"}}, time.Now())
	require.NoError(t, err)

	src := &sliceSource{pending: msgs}
	relay := &Relay{Source: src, Publisher: failingPublisher{}, Log: quietLog()}

	_, err = relay.Once(context.Background())
	require.Error(t, err)
	assert.Len(t, src.pending, 1)
	assert.Empty(t, src.sent)
}

func TestDispatcherRetriesFailedHandler(t *testing.T) {
	msgs, err := Messages(context.Background(), "test", "store.payments", []shipped{{OrderID: "o-1"}, {OrderID: "o-2"}}, time.Now())
	require.NoError(t, err)

	var (
		seen []string
		down = true
	)
	bus := &Dispatcher{Log: quietLog()}
	bus.Subscribe("store.payments", func(_ context.Context, env Envelope) error {
		ev, err := Decode[shipped](env)
		if err != nil {
			return err
		}
		if ev.OrderID == "o-1" && down {
			return errors.New("database unavailable")
		}
		seen = append(seen, ev.OrderID)
		return nil
	})

	src := &sliceSource{pending: msgs}
	relay := &Relay{Source: src, Publisher: bus, Log: quietLog()}

	_, err = relay.Once(context.Background())
	require.Error(t, err)
	assert.Len(t, src.pending, 2)
	assert.Empty(t, seen, "later messages wait for the failed one")

	down = false
	n, err := relay.Once(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"o-1", "o-2"}, seen)
}

func TestRelayRunStopsOnCancel(t *testing.T) {
	msgs, err := Messages(context.Background(), "test", "store.orders", []shipped{{OrderID: "o-1"}}, time.Now())
	require.NoError(t, err)

	src := &sliceSource{pending: msgs}
	relay := &Relay{Source: src, Publisher: &Dispatcher{}, Interval: 10 * time.Millisecond, Log: quietLog()}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	require.Eventually(t, func() bool {
		src.mu.Lock()
		defer src.mu.Unlock()
		return len(src.sent) == 1
	}, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}
