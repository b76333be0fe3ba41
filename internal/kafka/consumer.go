package kafka

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ariefcatur/go-store-orders/internal/apperr"
	"github.com/ariefcatur/go-store-orders/internal/outbox"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// reader is the part of *kafka.Reader the consumer uses.
type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads envelopes for a consumer group and hands them to a pool
// of workers. All records of one partition go to the same worker, so they
// are handled and committed in offset order.
type Consumer struct {
	r          reader
	workers    int
	log        logrus.FieldLogger
	backoff    time.Duration
	maxBackoff time.Duration
}

func NewConsumer(brokers []string, group string, topics []string, workers int, log logrus.FieldLogger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		GroupTopics:    topics,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0,
	})
	return newConsumer(r, workers, log)
}

func newConsumer(r reader, workers int, log logrus.FieldLogger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{r: r, workers: workers, log: log, backoff: 200 * time.Millisecond, maxBackoff: 5 * time.Second}
}

// lane picks the worker for a record. Partitions of different topics may
// share a worker.
func lane(m kafka.Message, workers int) int {
	return m.Partition % workers
}

// Start blocks until ctx is done or the reader fails. A retryable handler
// error is retried in place, holding back the rest of its partition;
// records that do not decode or that the handler rejects for good are
// committed and dropped.
func (c *Consumer) Start(ctx context.Context, h outbox.Handler) error {
	defer c.r.Close()

	lanes := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	for i := range lanes {
		lanes[i] = make(chan kafka.Message, 64)
		wg.Add(1)
		go func(jobs <-chan kafka.Message) {
			defer wg.Done()
			for m := range jobs {
				if !c.handle(ctx, h, m) {
					// shutting down; the rest stays uncommitted
					for range jobs {
					}
					return
				}
			}
		}(lanes[i])
	}
	defer wg.Wait()
	defer func() {
		for _, l := range lanes {
			close(l)
		}
	}()

	c.log.WithField("workers", c.workers).Info("kafka consumer started")
	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				c.log.Info("kafka consumer stopped")
				return nil
			}
			return err
		}
		select {
		case lanes[lane(m, c.workers)] <- m:
		case <-ctx.Done():
			return nil
		}
	}
}

// handle runs h until it succeeds or fails for good, then commits m. It
// returns false when ctx ended first and m was left uncommitted.
func (c *Consumer) handle(ctx context.Context, h outbox.Handler, m kafka.Message) bool {
	log := c.log.WithFields(logrus.Fields{
		"topic":     m.Topic,
		"partition": m.Partition,
		"offset":    m.Offset,
	})

	env, err := envelopeOf(m)
	if err != nil {
		log.WithError(err).Error("dropping undecodable record")
	} else {
		wait := c.backoff
		for {
			err := h(ctx, env)
			if err == nil {
				break
			}
			log := log.WithError(err).WithField("event_id", env.EventID)
			if !apperr.Retryable(err) {
				log.Error("handler rejected record, dropping")
				break
			}
			log.WithField("retry_in", wait).Warn("handler failed, retrying")
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return false
			}
			wait = min(wait*2, c.maxBackoff)
		}
	}

	if err := c.r.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
		log.WithError(err).Warn("commit failed")
	}
	return ctx.Err() == nil
}
