package redisx

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySetNX(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }

	ok, err := m.SetNX(ctx, "k", "1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.SetNX(ctx, "k", "2", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	clock = clock.Add(time.Minute)
	_, err = m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)

	ok, err = m.SetNX(ctx, "k", "3", 0)
	require.NoError(t, err)
	assert.True(t, ok)
	v, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "3", v)

	require.NoError(t, m.Del(ctx, "k"))
	_, err = m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "idem:acme:u-1:abc", IdempotencyKey("acme", "u-1", "abc"))
	assert.Equal(t, "order_status:default:o-1", OrderStatusKey("", "o-1"))
	assert.Equal(t, "dedup:webhook:sandbox:evt_1", DedupKey("webhook:sandbox", "evt_1"))
	assert.Equal(t, "customer:acme:sandbox:u-1", CustomerKey("acme", "sandbox", "u-1"))
}
