package payments

import (
	"testing"
	"time"

	"github.com/ariefcatur/go-store-orders/internal/money"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newPayment(t *testing.T) *Payment {
	t.Helper()
	p, evs, err := NewPayment(NewPaymentParams{
		ID:         "pay-1",
		OrderID:    "ord-1",
		UserID:     "u-1",
		Amount:     money.MustNew("26.60", "USD"),
		MethodType: TypeCreditCard,
		Provider:   "sandbox",
		Now:        now,
	})
	require.NoError(t, err)
	require.Len(t, evs, 1)
	return p
}

func TestNewPaymentValidation(t *testing.T) {
	_, _, err := NewPayment(NewPaymentParams{ID: "p", Amount: money.Zero("USD"), Provider: "sandbox"})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, _, err = NewPayment(NewPaymentParams{ID: "p", Amount: money.MustNew("1", "USD")})
	assert.ErrorIs(t, err, ErrInvalidProvider)
}

func TestPaymentLifecycle(t *testing.T) {
	p := newPayment(t)
	assert.Equal(t, StatusPending, p.Status())

	evs, err := p.AwaitAction("pi_1", "pi_1_secret", "three_d_secure", now)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, "pi_1_secret", p.Metadata().ClientSecret)

	evs, err = p.MarkSucceeded("pi_1", "txn_1", now)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	succeeded := evs[0].(PaymentSucceeded)
	assert.Equal(t, "ord-1", succeeded.OrderID)
	assert.Equal(t, StatusSucceeded, p.Status())
	assert.Empty(t, p.Metadata().ClientSecret)
	assert.NotNil(t, p.Snapshot().ProcessedAt)

	evs, err = p.MarkSucceeded("pi_1", "txn_1", now)
	require.NoError(t, err)
	assert.Empty(t, evs)

	_, err = p.MarkFailed("", "late failure", now)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = p.Cancel(now)
	assert.ErrorIs(t, err, ErrCannotCancel)

	require.NoError(t, p.RecordPartialRefund("re_1", now))
	evs, err = p.Refund("re_2", now)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, StatusRefunded, p.Status())
	assert.Equal(t, []string{"re_1", "re_2"}, p.Metadata().RefundIDs)

	evs, err = p.Refund("re_3", now)
	require.NoError(t, err)
	assert.Empty(t, evs)

	_, err = p.Cancel(now)
	assert.ErrorIs(t, err, ErrCannotCancel)
}

func TestRefundRequiresSucceeded(t *testing.T) {
	for _, status := range []Status{StatusPending, StatusFailed, StatusCanceled} {
		t.Run(string(status), func(t *testing.T) {
			s := newPayment(t).Snapshot()
			s.Status = status
			p := Restore(s)

			_, err := p.Refund("re_1", now)
			assert.ErrorIs(t, err, ErrNotRefundable)
			assert.ErrorIs(t, p.RecordPartialRefund("re_1", now), ErrNotRefundable)
		})
	}
}

func TestFailedPayment(t *testing.T) {
	p := newPayment(t)

	evs, err := p.MarkFailed("pi_9", "card declined", now)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, "card declined", p.ErrorMessage())
	assert.Equal(t, "pi_9", p.ExternalReference())

	_, err = p.MarkSucceeded("", "", now)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCancelPending(t *testing.T) {
	p := newPayment(t)
	evs, err := p.Cancel(now)
	require.NoError(t, err)
	assert.Len(t, evs, 1)

	evs, err = p.Cancel(now)
	require.NoError(t, err)
	assert.Empty(t, evs)
}
