package outbox

import (
	"context"

	"github.com/ariefcatur/go-store-orders/internal/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// Repo writes outbox rows. DB is normally the unit of work's tx.
type Repo struct {
	DB postgres.DBTX
}

func (r *Repo) Append(ctx context.Context, msgs ...Message) error {
	for _, m := range msgs {
		_, err := r.DB.Exec(ctx, `
			INSERT INTO outbox(id, topic, partition_key, event_type, payload, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			m.ID, m.Topic, m.Key, m.EventType, m.Value, m.CreatedAt)
		if err != nil {
			return errors.Wrapf(err, "outbox: append %s", m.EventType)
		}
	}
	return nil
}

// pending locks up to limit unpublished rows. Rows held by another relay
// are skipped.
func (r *Repo) pending(ctx context.Context, limit int) ([]Message, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, topic, partition_key, event_type, payload, created_at
		FROM outbox WHERE published_at IS NULL
		ORDER BY created_at, id
		LIMIT $1 FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "outbox: pending")
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Topic, &m.Key, &m.EventType, &m.Value, &m.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "outbox: scan")
		}
		out = append(out, m)
	}
	return out, errors.Wrap(rows.Err(), "outbox: pending")
}

func (r *Repo) markPublished(ctx context.Context, ids []string) error {
	_, err := r.DB.Exec(ctx, `UPDATE outbox SET published_at = now() WHERE id = ANY($1)`, ids)
	return errors.Wrap(err, "outbox: mark published")
}

// PostgresSource hands out batches of pending rows for the relay.
type PostgresSource struct {
	Pool *pgxpool.Pool
}

func (s *PostgresSource) Drain(ctx context.Context, limit int, fn func([]Message) error) (int, error) {
	var n int
	err := postgres.WithTx(ctx, s.Pool, func(tx pgx.Tx) error {
		r := &Repo{DB: tx}
		msgs, err := r.pending(ctx, limit)
		if err != nil || len(msgs) == 0 {
			return err
		}
		if err := fn(msgs); err != nil {
			return err
		}
		ids := make([]string, len(msgs))
		for i, m := range msgs {
			ids[i] = m.ID
		}
		n = len(msgs)
		return r.markPublished(ctx, ids)
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}
