package orders

import (
	"context"
	"encoding/json"

	"github.com/ariefcatur/go-store-orders/internal/apperr"
	"github.com/ariefcatur/go-store-orders/internal/money"
	"github.com/ariefcatur/go-store-orders/internal/postgres"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Repo persists orders. DB is either the pool or the unit of work's tx.
type Repo struct {
	DB   postgres.DBTX
	Opts []Option
}

const orderColumns = `id, COALESCE(user_id, ''), shipping_address_id, billing_address_id, currency,
	subtotal, tax, shipping_cost, total, status, payment_status, shipping_method,
	refunded_amount, refunded_at, refund_reason, metadata, version, created_at, updated_at`

func (r *Repo) Create(ctx context.Context, o *Order) error {
	s := o.Snapshot()
	meta, err := json.Marshal(s.Metadata)
	if err != nil {
		return errors.Wrap(err, "orders: encode metadata")
	}
	_, err = r.DB.Exec(ctx, `
		INSERT INTO orders(id, user_id, shipping_address_id, billing_address_id, currency,
			subtotal, tax, shipping_cost, total, status, payment_status, shipping_method,
			refunded_amount, refunded_at, refund_reason, metadata, version, created_at, updated_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		s.ID, s.UserID, s.ShippingAddressID, s.BillingAddressID, s.Currency,
		s.Subtotal.Amount(), s.Tax.Amount(), s.ShippingCost.Amount(), s.Total.Amount(),
		string(s.Status), string(s.PaymentStatus), string(s.ShippingMethod),
		s.RefundedAmount.Amount(), s.RefundedAt, s.RefundReason, meta, s.Version, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "orders: insert %s", s.ID)
	}
	return r.insertItems(ctx, s)
}

func (r *Repo) insertItems(ctx context.Context, s Snapshot) error {
	for i, it := range s.Items {
		snap, err := json.Marshal(it.Product)
		if err != nil {
			return errors.Wrap(err, "orders: encode item snapshot")
		}
		_, err = r.DB.Exec(ctx, `
			INSERT INTO order_items(order_id, position, id, product_id, variant_id, qty, unit_price, total_price, snapshot)
			VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9)`,
			s.ID, i, it.ID, it.ProductID, it.VariantID, it.Quantity,
			it.UnitPrice.Amount(), it.TotalPrice.Amount(), snap,
		)
		if err != nil {
			return errors.Wrapf(err, "orders: insert item %s", it.ID)
		}
	}
	return nil
}

// Update writes o if nobody else changed it since it was loaded.
func (r *Repo) Update(ctx context.Context, o *Order) error {
	s := o.Snapshot()
	meta, err := json.Marshal(s.Metadata)
	if err != nil {
		return errors.Wrap(err, "orders: encode metadata")
	}
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders SET
			subtotal=$3, tax=$4, shipping_cost=$5, total=$6, status=$7, payment_status=$8,
			refunded_amount=$9, refunded_at=$10, refund_reason=$11, metadata=$12,
			updated_at=$13, version=version+1
		WHERE id=$1 AND version=$2`,
		s.ID, s.Version,
		s.Subtotal.Amount(), s.Tax.Amount(), s.ShippingCost.Amount(), s.Total.Amount(),
		string(s.Status), string(s.PaymentStatus),
		s.RefundedAmount.Amount(), s.RefundedAt, s.RefundReason, meta, s.UpdatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "orders: update %s", s.ID)
	}
	if ct.RowsAffected() != 1 {
		return apperr.ErrConcurrentModification.WithDetails(map[string]string{"order_id": s.ID})
	}

	// items can only change while pending, so rewriting them is cheap
	if _, err := r.DB.Exec(ctx, `DELETE FROM order_items WHERE order_id=$1`, s.ID); err != nil {
		return errors.Wrapf(err, "orders: clear items %s", s.ID)
	}
	return r.insertItems(ctx, s)
}

func (r *Repo) Get(ctx context.Context, id string) (*Order, error) {
	return r.get(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id)
}

// GetForUpdate locks the order row until the surrounding tx ends.
func (r *Repo) GetForUpdate(ctx context.Context, id string) (*Order, error) {
	return r.get(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1 FOR UPDATE`, id)
}

func (r *Repo) ListByUser(ctx context.Context, userID string, limit int) ([]*Order, error) {
	rows, err := r.DB.Query(ctx, `SELECT id FROM orders WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "orders: list")
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "orders: scan id")
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "orders: list")
	}

	out := make([]*Order, 0, len(ids))
	for _, id := range ids {
		o, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

func (r *Repo) get(ctx context.Context, q, id string) (*Order, error) {
	var (
		s                                        Snapshot
		subtotal, tax, shipping, total, refunded decimal.Decimal
		status, paymentStatus, method            string
		meta                                     []byte
	)
	err := r.DB.QueryRow(ctx, q, id).Scan(
		&s.ID, &s.UserID, &s.ShippingAddressID, &s.BillingAddressID, &s.Currency,
		&subtotal, &tax, &shipping, &total, &status, &paymentStatus, &method,
		&refunded, &s.RefundedAt, &s.RefundReason, &meta, &s.Version, &s.CreatedAt, &s.UpdatedAt,
	)
	if postgres.IsNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "orders: get %s", id)
	}
	s.Status, s.PaymentStatus, s.ShippingMethod = Status(status), PaymentStatus(paymentStatus), ShippingMethod(method)

	amounts := []struct {
		dst *money.Money
		src decimal.Decimal
	}{{&s.Subtotal, subtotal}, {&s.Tax, tax}, {&s.ShippingCost, shipping}, {&s.Total, total}, {&s.RefundedAmount, refunded}}
	for _, a := range amounts {
		if *a.dst, err = money.New(a.src, s.Currency); err != nil {
			return nil, errors.Wrapf(err, "orders: decode amount of %s", id)
		}
	}
	if err := json.Unmarshal(meta, &s.Metadata); err != nil {
		return nil, errors.Wrapf(err, "orders: decode metadata of %s", id)
	}
	if s.Items, err = r.items(ctx, id, s.Currency); err != nil {
		return nil, err
	}
	return Restore(s, r.Opts...), nil
}

func (r *Repo) items(ctx context.Context, orderID, currency string) ([]Item, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, product_id, COALESCE(variant_id, ''), qty, unit_price, total_price, snapshot
		FROM order_items WHERE order_id=$1 ORDER BY position`, orderID)
	if err != nil {
		return nil, errors.Wrapf(err, "orders: items of %s", orderID)
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		var (
			it           Item
			unit, totalP decimal.Decimal
			snap         []byte
		)
		if err := rows.Scan(&it.ID, &it.ProductID, &it.VariantID, &it.Quantity, &unit, &totalP, &snap); err != nil {
			return nil, errors.Wrap(err, "orders: scan item")
		}
		if it.UnitPrice, err = money.New(unit, currency); err != nil {
			return nil, err
		}
		if it.TotalPrice, err = money.New(totalP, currency); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(snap, &it.Product); err != nil {
			return nil, errors.Wrap(err, "orders: decode item snapshot")
		}
		out = append(out, it)
	}
	return out, rows.Err()
}
