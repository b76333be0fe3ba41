package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/ariefcatur/go-store-orders/internal/apperr"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Source yields unpublished messages. Drain calls fn with up to limit of
// them and marks them published only when fn succeeds.
type Source interface {
	Drain(ctx context.Context, limit int, fn func([]Message) error) (int, error)
}

type Publisher interface {
	Publish(ctx context.Context, msgs []Message) error
}

// Relay moves committed events from the outbox to a Publisher. Delivery is
// at least once; consumers dedupe on the event id.
type Relay struct {
	Source    Source
	Publisher Publisher
	Batch     int
	Interval  time.Duration
	Log       logrus.FieldLogger
}

// Run polls until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	interval := r.Interval
	if interval <= 0 {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	r.Log.WithField("interval", interval).Info("outbox relay started")
	for {
		for {
			n, err := r.Once(ctx)
			if err != nil {
				r.Log.WithError(err).Warn("outbox relay batch failed")
				break
			}
			if n < r.batch() {
				break
			}
		}
		select {
		case <-ctx.Done():
			r.Log.Info("outbox relay stopped")
			return nil
		case <-t.C:
		}
	}
}

// Once publishes a single batch and returns how many messages went out.
func (r *Relay) Once(ctx context.Context) (int, error) {
	return r.Source.Drain(ctx, r.batch(), func(msgs []Message) error {
		return errors.Wrap(r.Publisher.Publish(ctx, msgs), "outbox: publish")
	})
}

func (r *Relay) batch() int {
	if r.Batch <= 0 {
		return 100
	}
	return r.Batch
}

// Handler consumes one envelope.
type Handler func(ctx context.Context, env Envelope) error

// Dispatcher is an in-process Publisher that hands envelopes straight to
// registered handlers. It stands in for the broker in the memory driver.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	Log      logrus.FieldLogger
}

func (d *Dispatcher) Subscribe(topic string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handlers == nil {
		d.handlers = map[string][]Handler{}
	}
	d.handlers[topic] = append(d.handlers[topic], h)
}

// Publish runs handlers synchronously and in order. A retryable handler
// error stops the batch and is returned, so the relay offers the batch
// again; other handler errors are logged and the message is skipped.
func (d *Dispatcher) Publish(ctx context.Context, msgs []Message) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, m := range msgs {
		hs := d.handlers[m.Topic]
		if len(hs) == 0 {
			continue
		}
		env, err := m.Envelope()
		if err != nil {
			return err
		}
		for _, h := range hs {
			err := h(ctx, env)
			if err == nil {
				continue
			}
			if apperr.Retryable(err) {
				return errors.Wrapf(err, "outbox: handle %s", m.ID)
			}
			if d.Log != nil {
				d.Log.WithError(err).WithFields(logrus.Fields{
					"topic":      m.Topic,
					"event_type": m.EventType,
					"event_id":   m.ID,
				}).Error("event handler rejected message, skipped")
			}
		}
	}
	return nil
}
