package payments

import (
	"context"
	"encoding/json"

	"github.com/ariefcatur/go-store-orders/internal/apperr"
	"github.com/ariefcatur/go-store-orders/internal/money"
	"github.com/ariefcatur/go-store-orders/internal/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type Repo struct {
	DB postgres.DBTX
}

const paymentColumns = `id, order_id, COALESCE(user_id, ''), amount, currency, method_type, provider, status,
	external_reference, transaction_id, COALESCE(payment_method_id, ''), metadata, processed_at,
	error_message, version, created_at, updated_at`

func (r *Repo) Create(ctx context.Context, p *Payment) error {
	s := p.Snapshot()
	meta, err := json.Marshal(s.Metadata)
	if err != nil {
		return errors.Wrap(err, "payments: encode metadata")
	}
	_, err = r.DB.Exec(ctx, `
		INSERT INTO payments(id, order_id, user_id, amount, currency, method_type, provider, status,
			external_reference, transaction_id, payment_method_id, metadata, processed_at,
			error_message, version, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10, NULLIF($11, ''), $12, $13, $14, $15, $16, $17)`,
		s.ID, s.OrderID, s.UserID, s.Amount.Amount(), s.Amount.Currency(), string(s.MethodType), s.Provider,
		string(s.Status), s.ExternalReference, s.TransactionID, s.PaymentMethodID, meta, s.ProcessedAt,
		s.ErrorMessage, s.Version, s.CreatedAt, s.UpdatedAt,
	)
	return errors.Wrapf(err, "payments: insert %s", s.ID)
}

func (r *Repo) Update(ctx context.Context, p *Payment) error {
	s := p.Snapshot()
	meta, err := json.Marshal(s.Metadata)
	if err != nil {
		return errors.Wrap(err, "payments: encode metadata")
	}
	ct, err := r.DB.Exec(ctx, `
		UPDATE payments SET status=$3, external_reference=$4, transaction_id=$5, metadata=$6,
			processed_at=$7, error_message=$8, updated_at=$9, version=version+1
		WHERE id=$1 AND version=$2`,
		s.ID, s.Version, string(s.Status), s.ExternalReference, s.TransactionID, meta,
		s.ProcessedAt, s.ErrorMessage, s.UpdatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "payments: update %s", s.ID)
	}
	if ct.RowsAffected() != 1 {
		return apperr.ErrConcurrentModification.WithDetails(map[string]string{"payment_id": s.ID})
	}
	return nil
}

func (r *Repo) Get(ctx context.Context, id string) (*Payment, error) {
	return r.one(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id=$1`, id)
}

func (r *Repo) GetByExternalReference(ctx context.Context, provider, ref string) (*Payment, error) {
	return r.one(ctx, `SELECT `+paymentColumns+` FROM payments WHERE provider=$1 AND external_reference=$2`, provider, ref)
}

func (r *Repo) ListByOrder(ctx context.Context, orderID string) ([]*Payment, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+paymentColumns+` FROM payments WHERE order_id=$1 ORDER BY created_at`, orderID)
	if err != nil {
		return nil, errors.Wrapf(err, "payments: list by order %s", orderID)
	}
	defer rows.Close()

	var out []*Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, errors.Wrap(rows.Err(), "payments: list by order")
}

func (r *Repo) one(ctx context.Context, q string, args ...any) (*Payment, error) {
	p, err := scanPayment(r.DB.QueryRow(ctx, q, args...))
	if postgres.IsNoRows(err) {
		return nil, ErrNotFound
	}
	return p, errors.Wrap(err, "payments: get")
}

func scanPayment(row pgx.Row) (*Payment, error) {
	var (
		s                            Snapshot
		amount                       decimal.Decimal
		currency, methodType, status string
		meta                         []byte
	)
	err := row.Scan(&s.ID, &s.OrderID, &s.UserID, &amount, &currency, &methodType, &s.Provider, &status,
		&s.ExternalReference, &s.TransactionID, &s.PaymentMethodID, &meta, &s.ProcessedAt,
		&s.ErrorMessage, &s.Version, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if s.Amount, err = money.New(amount, currency); err != nil {
		return nil, err
	}
	s.MethodType, s.Status = MethodType(methodType), Status(status)
	if err := json.Unmarshal(meta, &s.Metadata); err != nil {
		return nil, errors.Wrap(err, "payments: decode metadata")
	}
	return Restore(s), nil
}

// MethodRepo persists payment methods.
type MethodRepo struct {
	DB postgres.DBTX
}

const methodColumns = `id, user_id, type, provider, token, display_name, card_brand, card_last4,
	exp_month, exp_year, is_default, is_active, metadata, version, created_at, updated_at`

func (r *MethodRepo) Create(ctx context.Context, m *PaymentMethod) error {
	s := m.Snapshot()
	meta, err := json.Marshal(s.Metadata)
	if err != nil {
		return errors.Wrap(err, "payment methods: encode metadata")
	}
	var card CardDetails
	if s.Card != nil {
		card = *s.Card
	}
	_, err = r.DB.Exec(ctx, `
		INSERT INTO payment_methods(id, user_id, type, provider, token, display_name, card_brand, card_last4,
			exp_month, exp_year, is_default, is_active, metadata, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		s.ID, s.UserID, string(s.Type), s.Provider, s.Token, s.DisplayName, card.Brand, card.Last4,
		card.ExpMonth, card.ExpYear, s.IsDefault, s.IsActive, meta, s.Version, s.CreatedAt, s.UpdatedAt,
	)
	if postgres.IsUniqueViolation(err) {
		return ErrDuplicateToken
	}
	return errors.Wrapf(err, "payment methods: insert %s", s.ID)
}

func (r *MethodRepo) Update(ctx context.Context, m *PaymentMethod) error {
	s := m.Snapshot()
	meta, err := json.Marshal(s.Metadata)
	if err != nil {
		return errors.Wrap(err, "payment methods: encode metadata")
	}
	var card CardDetails
	if s.Card != nil {
		card = *s.Card
	}
	ct, err := r.DB.Exec(ctx, `
		UPDATE payment_methods SET display_name=$3, exp_month=$4, exp_year=$5, is_default=$6,
			is_active=$7, metadata=$8, updated_at=$9, version=version+1
		WHERE id=$1 AND version=$2`,
		s.ID, s.Version, s.DisplayName, card.ExpMonth, card.ExpYear, s.IsDefault, s.IsActive, meta, s.UpdatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "payment methods: update %s", s.ID)
	}
	if ct.RowsAffected() != 1 {
		return apperr.ErrConcurrentModification.WithDetails(map[string]string{"payment_method_id": s.ID})
	}
	return nil
}

func (r *MethodRepo) Get(ctx context.Context, id string) (*PaymentMethod, error) {
	return r.one(ctx, `SELECT `+methodColumns+` FROM payment_methods WHERE id=$1`, id)
}

func (r *MethodRepo) GetByToken(ctx context.Context, userID, token string) (*PaymentMethod, error) {
	return r.one(ctx, `SELECT `+methodColumns+` FROM payment_methods WHERE user_id=$1 AND token=$2`, userID, token)
}

func (r *MethodRepo) ListByUser(ctx context.Context, userID string) ([]*PaymentMethod, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+methodColumns+` FROM payment_methods WHERE user_id=$1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, errors.Wrapf(err, "payment methods: list %s", userID)
	}
	defer rows.Close()

	var out []*PaymentMethod
	for rows.Next() {
		m, err := scanMethod(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, errors.Wrap(rows.Err(), "payment methods: list")
}

func (r *MethodRepo) one(ctx context.Context, q string, args ...any) (*PaymentMethod, error) {
	m, err := scanMethod(r.DB.QueryRow(ctx, q, args...))
	if postgres.IsNoRows(err) {
		return nil, ErrMethodNotFound
	}
	return m, errors.Wrap(err, "payment methods: get")
}

func scanMethod(row pgx.Row) (*PaymentMethod, error) {
	var (
		s    MethodSnapshot
		typ  string
		card CardDetails
		meta []byte
	)
	err := row.Scan(&s.ID, &s.UserID, &typ, &s.Provider, &s.Token, &s.DisplayName, &card.Brand, &card.Last4,
		&card.ExpMonth, &card.ExpYear, &s.IsDefault, &s.IsActive, &meta, &s.Version, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.Type = MethodType(typ)
	if s.Type == TypeCreditCard {
		s.Card = &card
	}
	if err := json.Unmarshal(meta, &s.Metadata); err != nil {
		return nil, errors.Wrap(err, "payment methods: decode metadata")
	}
	return RestoreMethod(s), nil
}
