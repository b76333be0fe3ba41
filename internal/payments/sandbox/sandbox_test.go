package sandbox

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/ariefcatur/go-store-orders/internal/money"
	"github.com/ariefcatur/go-store-orders/internal/payments"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessPaymentOutcomes(t *testing.T) {
	ctx := context.Background()
	g := New("")
	amount := money.MustNew("10", "USD")

	cases := map[string]payments.Outcome{
		"tok_visa":  payments.OutcomeSucceeded,
		"tok_fail":  payments.OutcomeFailed,
		"tok_3ds_x": payments.OutcomeRequiresAction,
	}
	for token, want := range cases {
		t.Run(token, func(t *testing.T) {
			res, err := g.ProcessPayment(ctx, payments.PaymentRequest{Amount: amount, MethodToken: token})
			require.NoError(t, err)
			assert.Equal(t, want, res.Outcome)
			assert.NotEmpty(t, res.ExternalReference)
		})
	}

	_, err := g.ProcessPayment(ctx, payments.PaymentRequest{Amount: amount})
	assert.ErrorIs(t, err, payments.ErrMissingToken)
}

func TestIdempotentPaymentAndRefund(t *testing.T) {
	ctx := context.Background()
	g := New("")
	req := payments.PaymentRequest{Amount: money.MustNew("10", "USD"), MethodToken: "tok_visa", IdempotencyKey: "pay-1"}

	first, err := g.ProcessPayment(ctx, req)
	require.NoError(t, err)
	again, err := g.ProcessPayment(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	refund := payments.RefundRequest{ExternalReference: first.ExternalReference, Amount: money.MustNew("6", "USD"), IdempotencyKey: "r1"}
	r1, err := g.RefundPayment(ctx, refund)
	require.NoError(t, err)
	r1again, err := g.RefundPayment(ctx, refund)
	require.NoError(t, err)
	assert.Equal(t, r1.RefundID, r1again.RefundID)

	_, err = g.RefundPayment(ctx, payments.RefundRequest{ExternalReference: first.ExternalReference, Amount: money.MustNew("5", "USD")})
	assert.ErrorIs(t, err, ErrRefundTooLarge)
}

func TestSetupIntentFlow(t *testing.T) {
	ctx := context.Background()
	g := New("")

	cus, err := g.GetOrCreateCustomer(ctx, "u-1")
	require.NoError(t, err)
	again, err := g.GetOrCreateCustomer(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, cus, again)

	si, err := g.CreateSetupIntent(ctx, payments.SetupIntentRequest{UserID: "u-1", CustomerID: cus})
	require.NoError(t, err)
	assert.Equal(t, payments.IntentRequiresAction, si.Status)
	assert.NotEmpty(t, si.ClientSecret)

	g.Hold(si.ID, true)
	res, err := g.ConfirmSetupIntent(ctx, si.ID)
	require.NoError(t, err)
	assert.Equal(t, payments.IntentRequiresAction, res.Status)

	g.Hold(si.ID, false)
	res, err = g.ConfirmSetupIntent(ctx, si.ID)
	require.NoError(t, err)
	assert.Equal(t, payments.IntentSucceeded, res.Status)
	assert.NotEmpty(t, res.PaymentMethodID)

	res, err = g.ConfirmSetupIntent(ctx, si.ID)
	assert.ErrorIs(t, err, payments.ErrIntentAlreadySucceeded)
	assert.Equal(t, payments.IntentSucceeded, res.Status)

	err = g.AttachPaymentMethodToCustomer(ctx, cus, res.PaymentMethodID)
	assert.ErrorIs(t, err, payments.ErrAlreadyAttached)
	err = g.AttachPaymentMethodToCustomer(ctx, "cus_other", res.PaymentMethodID)
	assert.ErrorIs(t, err, ErrForeignMethod)
}

func TestWebhookSignature(t *testing.T) {
	ctx := context.Background()
	g := New("whsec")
	body, err := json.Marshal(Event{ID: "evt_1", Type: "payment.succeeded", Data: EventData{Reference: "pi_1"}})
	require.NoError(t, err)

	_, err = g.ProcessWebhook(ctx, body, map[string]string{SignatureHeader: "nope"})
	assert.ErrorIs(t, err, payments.ErrInvalidSignature)

	res, err := g.ProcessWebhook(ctx, body, map[string]string{"sandbox-signature": g.Sign(body)})
	require.NoError(t, err)
	assert.Equal(t, "evt_1", res.EventID)
	assert.Equal(t, payments.WebhookPaymentSucceeded, res.Kind)
	assert.Equal(t, "pi_1", res.ExternalReference)

	body, _ = json.Marshal(Event{ID: "evt_2", Type: "customer.updated"})
	res, err = g.ProcessWebhook(ctx, body, map[string]string{SignatureHeader: g.Sign(body)})
	require.NoError(t, err)
	assert.Equal(t, payments.WebhookIgnored, res.Kind)
}
