package money

import (
	"encoding/json"
	"strings"

	"github.com/ariefcatur/go-store-orders/internal/apperr"
	"github.com/shopspring/decimal"
)

var (
	ErrNegativeAmount   = apperr.Validation("money.negative_amount", "amount cannot be negative")
	ErrCurrencyRequired = apperr.Validation("money.currency_required", "currency is required")
	ErrCurrencyMismatch = apperr.Validation("money.currency_mismatch", "currencies do not match")
)

// Money is an amount in a currency. Amounts are kept to two decimal places.
type Money struct {
	amount   decimal.Decimal
	currency string
}

func New(amount decimal.Decimal, currency string) (Money, error) {
	if amount.IsNegative() {
		return Money{}, ErrNegativeAmount
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return Money{}, ErrCurrencyRequired
	}
	return Money{amount: amount.Round(2), currency: currency}, nil
}

// MustNew is New for constants and tests.
func MustNew(amount, currency string) Money {
	m, err := New(decimal.RequireFromString(amount), currency)
	if err != nil {
		panic(err)
	}
	return m
}

func Zero(currency string) Money {
	return Money{amount: decimal.Zero, currency: strings.ToUpper(currency)}
}

func (m Money) Amount() decimal.Decimal { return m.amount }
func (m Money) Currency() string        { return m.currency }
func (m Money) IsZero() bool            { return m.amount.IsZero() }
func (m Money) IsPositive() bool        { return m.amount.IsPositive() }

func (m Money) sameCurrency(o Money) error {
	if m.currency != o.currency {
		return ErrCurrencyMismatch.WithMessage("currencies do not match: %s vs %s", m.currency, o.currency)
	}
	return nil
}

func (m Money) Add(o Money) (Money, error) {
	if err := m.sameCurrency(o); err != nil {
		return Money{}, err
	}
	return Money{amount: m.amount.Add(o.amount), currency: m.currency}, nil
}

// Sub fails when the result would be negative.
func (m Money) Sub(o Money) (Money, error) {
	if err := m.sameCurrency(o); err != nil {
		return Money{}, err
	}
	r := m.amount.Sub(o.amount)
	if r.IsNegative() {
		return Money{}, ErrNegativeAmount
	}
	return Money{amount: r, currency: m.currency}, nil
}

func (m Money) Mul(qty int) Money {
	return Money{amount: m.amount.Mul(decimal.NewFromInt(int64(qty))), currency: m.currency}
}

// Percent returns m * rate rounded half-up to cents.
func (m Money) Percent(rate decimal.Decimal) Money {
	return Money{amount: m.amount.Mul(rate).Round(2), currency: m.currency}
}

func (m Money) Cmp(o Money) (int, error) {
	if err := m.sameCurrency(o); err != nil {
		return 0, err
	}
	return m.amount.Cmp(o.amount), nil
}

func (m Money) Equal(o Money) bool {
	return m.currency == o.currency && m.amount.Equal(o.amount)
}

func (m Money) String() string {
	return m.amount.StringFixed(2) + " " + m.currency
}

type wire struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(wire{Amount: m.amount, Currency: m.currency})
}

func (m *Money) UnmarshalJSON(b []byte) error {
	var w wire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	v, err := New(w.Amount, w.Currency)
	if err != nil {
		return err
	}
	*m = v
	return nil
}
