package orders

import (
	"testing"
	"time"

	"github.com/ariefcatur/go-store-orders/internal/money"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newOrder(t *testing.T) *Order {
	t.Helper()
	o, evs, err := New(NewParams{
		ID:                "ord-1",
		UserID:            "u-1",
		ShippingAddressID: "addr-1",
		BillingAddressID:  "addr-1",
		Currency:          "usd",
		Now:               now,
	})
	require.NoError(t, err)
	require.Len(t, evs, 1)
	return o
}

// orderIn builds a paid order with the given status and total.
func orderIn(status Status, payment PaymentStatus, total string) *Order {
	return Restore(Snapshot{
		ID:                "ord-r",
		UserID:            "u-1",
		ShippingAddressID: "addr-1",
		BillingAddressID:  "addr-1",
		Currency:          "USD",
		Subtotal:          money.MustNew(total, "USD"),
		Tax:               money.Zero("USD"),
		ShippingCost:      money.Zero("USD"),
		Total:             money.MustNew(total, "USD"),
		Status:            status,
		PaymentStatus:     payment,
		ShippingMethod:    ShippingPickup,
		RefundedAmount:    money.Zero("USD"),
		Version:           3,
		CreatedAt:         now,
		UpdatedAt:         now,
	})
}

func addTenDollarItem(t *testing.T, o *Order, id string) {
	t.Helper()
	_, err := o.AddItem(NewItem{
		ID:        id,
		ProductID: "p-" + id,
		VariantID: "v-" + id,
		Quantity:  1,
		UnitPrice: money.MustNew("10", "USD"),
		Product:   ProductSnapshot{Name: "Mug", SKU: "MUG-" + id, Slug: "mug"},
	}, now)
	require.NoError(t, err)
}

func assertTotalsConsistent(t *testing.T, o *Order) {
	t.Helper()
	sum, err := o.Subtotal().Add(o.Tax())
	require.NoError(t, err)
	sum, err = sum.Add(o.ShippingCost())
	require.NoError(t, err)
	assert.True(t, sum.Equal(o.Total()), "total %s != %s", o.Total(), sum)
}

func TestNewOrderDefaults(t *testing.T) {
	o := newOrder(t)

	assert.Equal(t, StatusPending, o.Status())
	assert.Equal(t, PaymentPending, o.PaymentStatus())
	assert.Equal(t, ShippingStandard, o.ShippingMethod())
	assert.Equal(t, "USD", o.Currency())
	assert.True(t, o.Total().Equal(money.MustNew("5.00", "USD")))
	assertTotalsConsistent(t, o)

	_, _, err := New(NewParams{ID: "x", Currency: "USD", Now: now})
	assert.ErrorIs(t, err, ErrAddressRequired)

	_, _, err = New(NewParams{ID: "x", ShippingAddressID: "a", BillingAddressID: "a", Currency: "USD", ShippingMethod: "DRONE", Now: now})
	assert.ErrorIs(t, err, ErrInvalidShippingMethod)
}

func TestItemMutationsKeepTotalConsistent(t *testing.T) {
	o := newOrder(t)
	addTenDollarItem(t, o, "a")
	addTenDollarItem(t, o, "b")

	assert.True(t, o.Subtotal().Equal(money.MustNew("20.00", "USD")))
	assert.True(t, o.Tax().Equal(money.MustNew("1.60", "USD")))
	assert.True(t, o.Total().Equal(money.MustNew("26.60", "USD")))
	assertTotalsConsistent(t, o)

	evs, err := o.UpdateItemQuantity("a", 3, now)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	recalc, ok := evs[1].(TotalsRecalculated)
	require.True(t, ok)
	assert.True(t, recalc.OldSubtotal.Equal(money.MustNew("20", "USD")))
	assert.True(t, recalc.NewSubtotal.Equal(money.MustNew("40", "USD")))
	assertTotalsConsistent(t, o)

	_, err = o.RemoveItem("b", now)
	require.NoError(t, err)
	assert.True(t, o.Subtotal().Equal(money.MustNew("30", "USD")))
	assertTotalsConsistent(t, o)

	_, err = o.RemoveItem("missing", now)
	assert.ErrorIs(t, err, ErrItemNotFound)
	_, err = o.UpdateItemQuantity("a", 0, now)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestItemsOnlyChangeWhilePending(t *testing.T) {
	o := newOrder(t)
	addTenDollarItem(t, o, "a")
	_, err := o.MarkAsPaid(now)
	require.NoError(t, err)

	_, err = o.AddItem(NewItem{ID: "b", ProductID: "p", Quantity: 1, UnitPrice: money.MustNew("1", "USD")}, now)
	assert.ErrorIs(t, err, ErrNotModifiable)
	_, err = o.UpdateItemQuantity("a", 2, now)
	assert.ErrorIs(t, err, ErrNotModifiable)
	_, err = o.RemoveItem("a", now)
	assert.ErrorIs(t, err, ErrNotModifiable)
}

func TestAddItemRejectsOtherCurrency(t *testing.T) {
	o := newOrder(t)
	_, err := o.AddItem(NewItem{ID: "a", ProductID: "p", Quantity: 1, UnitPrice: money.MustNew("1", "EUR")}, now)
	assert.ErrorIs(t, err, money.ErrCurrencyMismatch)
}

func TestMarkAsPaidIsIdempotent(t *testing.T) {
	o := newOrder(t)

	evs, err := o.MarkAsPaid(now)
	require.NoError(t, err)
	assert.Len(t, evs, 2)
	assert.Equal(t, StatusProcessing, o.Status())
	assert.Equal(t, PaymentSucceeded, o.PaymentStatus())

	evs, err = o.MarkAsPaid(now)
	require.NoError(t, err)
	assert.Empty(t, evs)
}

func TestMarkAsDeliveredMatrix(t *testing.T) {
	cases := []struct {
		from    Status
		wantErr error
		events  int
	}{
		{StatusPending, ErrInvalidTransition, 0},
		{StatusProcessing, ErrInvalidTransition, 0},
		{StatusShipped, nil, 1},
		{StatusDelivered, nil, 0},
		{StatusCancelled, ErrInvalidTransition, 0},
	}
	for _, tc := range cases {
		t.Run(string(tc.from), func(t *testing.T) {
			o := orderIn(tc.from, PaymentSucceeded, "100")
			evs, err := o.MarkAsDelivered(now)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				assert.Equal(t, tc.from, o.Status())
				return
			}
			require.NoError(t, err)
			assert.Len(t, evs, tc.events)
			assert.Equal(t, StatusDelivered, o.Status())
		})
	}
}

func TestMarkAsShipped(t *testing.T) {
	t.Run("requires payment", func(t *testing.T) {
		o := orderIn(StatusProcessing, PaymentPending, "10")
		_, err := o.MarkAsShipped("TRK", now)
		assert.ErrorIs(t, err, ErrPaymentRequired)
	})
	t.Run("records tracking number", func(t *testing.T) {
		o := orderIn(StatusProcessing, PaymentSucceeded, "10")
		evs, err := o.MarkAsShipped("TRK-1", now)
		require.NoError(t, err)
		require.Len(t, evs, 1)
		assert.Equal(t, StatusShipped, o.Status())
		assert.Equal(t, "TRK-1", o.Metadata().TrackingNumber)
	})
	t.Run("idempotent when shipped", func(t *testing.T) {
		o := orderIn(StatusShipped, PaymentSucceeded, "10")
		evs, err := o.MarkAsShipped("", now)
		require.NoError(t, err)
		assert.Empty(t, evs)
	})
	for _, from := range []Status{StatusCancelled, StatusDelivered} {
		t.Run("fails from "+string(from), func(t *testing.T) {
			o := orderIn(from, PaymentSucceeded, "10")
			_, err := o.MarkAsShipped("", now)
			assert.ErrorIs(t, err, ErrInvalidTransition)
		})
	}
}

func TestMarkAsReturned(t *testing.T) {
	o := orderIn(StatusShipped, PaymentSucceeded, "10")
	_, err := o.MarkAsReturned("damaged", now)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	o = orderIn(StatusDelivered, PaymentSucceeded, "10")
	evs, err := o.MarkAsReturned("damaged", now)
	require.NoError(t, err)
	assert.Len(t, evs, 1)
	assert.Equal(t, "damaged", o.Metadata().ReturnReason)

	evs, err = o.MarkAsReturned("again", now)
	require.NoError(t, err)
	assert.Empty(t, evs)
}

func TestCancelIsRoleGated(t *testing.T) {
	cases := []struct {
		from    Status
		role    Role
		wantErr error
	}{
		{StatusPending, RoleCustomer, nil},
		{StatusProcessing, RoleCustomer, nil},
		{StatusShipped, RoleCustomer, ErrCancelForbidden},
		{StatusShipped, RoleStaff, nil},
		{StatusShipped, RoleAdmin, nil},
		{StatusDelivered, RoleAdmin, ErrInvalidTransition},
		{StatusDelivered, RoleCustomer, ErrInvalidTransition},
		{StatusReturnedAndRefunded, RoleAdmin, ErrInvalidTransition},
	}
	for _, tc := range cases {
		t.Run(string(tc.from)+"/"+string(tc.role), func(t *testing.T) {
			o := orderIn(tc.from, PaymentSucceeded, "10")
			evs, err := o.Cancel("changed my mind", tc.role, now)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				assert.Equal(t, tc.from, o.Status())
				return
			}
			require.NoError(t, err)
			require.Len(t, evs, 1)
			assert.Equal(t, StatusCancelled, o.Status())
			assert.Equal(t, "changed my mind", o.Metadata().CancellationReason)
		})
	}
}

func TestCancelReturnedNeedsRefund(t *testing.T) {
	o := orderIn(StatusReturned, PaymentSucceeded, "10")
	_, err := o.Cancel("", RoleStaff, now)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	o = orderIn(StatusReturned, PaymentRefunded, "10")
	_, err = o.Cancel("", RoleStaff, now)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, o.Status())
}

func TestPartialThenFullRefund(t *testing.T) {
	o := orderIn(StatusProcessing, PaymentSucceeded, "100")

	evs, err := o.ProcessPartialRefund(money.MustNew("30", "USD"), "scratch", "", now)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	partial, ok := evs[0].(PartialRefundProcessed)
	require.True(t, ok)
	assert.True(t, partial.Remaining.Equal(money.MustNew("70", "USD")))
	assert.Equal(t, StatusProcessing, o.Status())
	assert.Equal(t, PaymentSucceeded, o.PaymentStatus())
	assert.True(t, o.RefundedAmount().Equal(money.MustNew("30", "USD")))

	evs, err = o.ProcessPartialRefund(money.MustNew("70", "USD"), "rest", "", now)
	require.NoError(t, err)
	require.Len(t, evs, 3)
	assert.IsType(t, RefundProcessed{}, evs[0])
	assert.Equal(t, StatusCancelled, o.Status())
	assert.Equal(t, PaymentRefunded, o.PaymentStatus())
	assert.True(t, o.RefundedAmount().Equal(o.Total()))
	require.Len(t, o.Metadata().Refunds, 1, "the completing refund is not a history entry")
	assert.True(t, o.Metadata().Refunds[0].Amount.Equal(money.MustNew("30", "USD")))

	_, err = o.ProcessPartialRefund(money.MustNew("1", "USD"), "", "", now)
	assert.ErrorIs(t, err, ErrAlreadyRefunded)
	_, err = o.ProcessRefund("", "", now)
	assert.ErrorIs(t, err, ErrAlreadyRefunded)
}

func TestRefundKeysAreRecorded(t *testing.T) {
	o := orderIn(StatusDelivered, PaymentSucceeded, "100")
	assert.False(t, o.RefundApplied("rk-1"))

	_, err := o.ProcessPartialRefund(money.MustNew("10", "USD"), "dent", "rk-1", now)
	require.NoError(t, err)
	assert.True(t, o.RefundApplied("rk-1"))
	assert.False(t, o.RefundApplied(""))
	require.Len(t, o.Metadata().Refunds, 1)
	assert.Equal(t, "rk-1", o.Metadata().Refunds[0].IdempotencyKey)

	_, err = o.ProcessRefund("rest", "rk-2", now)
	require.NoError(t, err)
	assert.True(t, o.RefundApplied("rk-2"))
	assert.Len(t, o.Metadata().Refunds, 1)
	assert.Equal(t, []string{"rk-1", "rk-2"}, o.Snapshot().Metadata.RefundKeys)
}

func TestFullRefundOfReturnedOrder(t *testing.T) {
	o := orderIn(StatusReturned, PaymentSucceeded, "55.20")

	evs, err := o.ProcessRefund("return accepted", "", now)
	require.NoError(t, err)
	require.Len(t, evs, 3)
	assert.Equal(t, StatusReturnedAndRefunded, o.Status())
	assert.True(t, o.RefundedAmount().Equal(money.MustNew("55.20", "USD")))
	assert.Equal(t, "return accepted", o.Snapshot().RefundReason)
	assert.NotNil(t, o.Snapshot().RefundedAt)
}

func TestRefundRules(t *testing.T) {
	cases := []struct {
		name    string
		order   *Order
		amount  money.Money
		wantErr error
	}{
		{"pending payment", orderIn(StatusProcessing, PaymentPending, "10"), money.MustNew("1", "USD"), ErrPaymentRequired},
		{"pending order", orderIn(StatusPending, PaymentSucceeded, "10"), money.MustNew("1", "USD"), ErrNotRefundable},
		{"cancelled order", orderIn(StatusCancelled, PaymentSucceeded, "10"), money.MustNew("1", "USD"), ErrNotRefundable},
		{"zero amount", orderIn(StatusShipped, PaymentSucceeded, "10"), money.Zero("USD"), ErrInvalidRefundAmount},
		{"other currency", orderIn(StatusShipped, PaymentSucceeded, "10"), money.MustNew("1", "EUR"), money.ErrCurrencyMismatch},
		{"over total", orderIn(StatusShipped, PaymentSucceeded, "10"), money.MustNew("10.01", "USD"), ErrRefundExceedsTotal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before := tc.order.Snapshot()
			_, err := tc.order.ProcessPartialRefund(tc.amount, "", "", now)
			assert.ErrorIs(t, err, tc.wantErr)
			assert.Equal(t, before, tc.order.Snapshot())
		})
	}
}

func TestRefundedNeverExceedsTotal(t *testing.T) {
	o := orderIn(StatusDelivered, PaymentSucceeded, "10")
	for _, amt := range []string{"3", "3", "3", "3", "1", "0.5"} {
		_, _ = o.ProcessPartialRefund(money.MustNew(amt, "USD"), "", "", now)
		cmp, err := o.RefundedAmount().Cmp(o.Total())
		require.NoError(t, err)
		assert.LessOrEqual(t, cmp, 0)
	}
	assert.True(t, o.RefundableAmount().Equal(money.MustNew("0", "USD")))
	assert.Equal(t, StatusCancelled, o.Status())
}

func TestPaymentStatusPropagation(t *testing.T) {
	o := orderIn(StatusPending, PaymentPending, "10")
	evs, err := o.MarkPaymentFailed(now)
	require.NoError(t, err)
	assert.Len(t, evs, 1)
	assert.Equal(t, PaymentFailed, o.PaymentStatus())

	evs, err = o.MarkPaymentFailed(now)
	require.NoError(t, err)
	assert.Empty(t, evs)

	o = orderIn(StatusProcessing, PaymentSucceeded, "10")
	_, err = o.MarkPaymentFailed(now)
	assert.ErrorIs(t, err, ErrInvalidPaymentTransition)

	_, err = o.MarkPaymentRefunded(now)
	require.NoError(t, err)
	assert.Equal(t, PaymentRefunded, o.PaymentStatus())
}

func TestSnapshotIsACopy(t *testing.T) {
	o := newOrder(t)
	addTenDollarItem(t, o, "a")

	s := o.Snapshot()
	s.Items[0].Quantity = 99
	s.Metadata.Notes = map[string]string{"x": "y"}

	assert.Equal(t, 1, o.Items()[0].Quantity)
	assert.Empty(t, o.Metadata().Notes)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusPending, StatusProcessing))
	assert.False(t, CanTransition(StatusPending, StatusDelivered))
	assert.False(t, CanTransition(StatusCancelled, StatusPending))
	assert.False(t, CanTransition(StatusReturnedAndRefunded, StatusCancelled))
	assert.True(t, StatusReturned.Valid())
	assert.False(t, Status("LOST").Valid())
}
