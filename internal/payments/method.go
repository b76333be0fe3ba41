package payments

import (
	"fmt"
	"strings"
	"time"

	"github.com/ariefcatur/go-store-orders/internal/apperr"
)

var (
	ErrMethodNotFound   = apperr.NotFound("payment_method.not_found", "payment method not found")
	ErrMethodInactive   = apperr.Conflict("payment_method.inactive", "payment method is no longer active")
	ErrDuplicateToken   = apperr.Conflict("payment_method.duplicate_token", "payment method is already saved for this user")
	ErrCardExpired      = apperr.Validation("payment_method.card_expired", "card expiry must be in the future")
	ErrInvalidCard      = apperr.Validation("payment_method.invalid_card", "card details are incomplete")
	ErrUnsupportedType  = apperr.Validation("payment_method.unsupported_type", "unsupported payment method type")
	ErrNotCard          = apperr.Validation("payment_method.not_card", "only card methods have an expiry")
	ErrDefaultInactive  = apperr.Conflict("payment_method.default_inactive", "an inactive method cannot be the default")
	ErrMissingUser      = apperr.Validation("payment_method.user_required", "payment methods belong to a user")
	ErrDisplayNameLimit = apperr.Validation("payment_method.display_name_too_long", "display name is too long")
)

type MethodType string

const (
	TypeCreditCard MethodType = "CREDIT_CARD"
	TypePayPal     MethodType = "PAYPAL"
)

// CardDetails are the non-sensitive card facts the provider reports back.
type CardDetails struct {
	Brand    string `json:"brand"`
	Last4    string `json:"last4"`
	ExpMonth int    `json:"exp_month"`
	ExpYear  int    `json:"exp_year"`
}

func (c CardDetails) validate(now time.Time) error {
	if c.ExpMonth < 1 || c.ExpMonth > 12 || c.ExpYear <= 0 {
		return ErrInvalidCard.WithMessage("card expiry %02d/%d is not a valid month", c.ExpMonth, c.ExpYear)
	}
	if len(c.Last4) != 4 {
		return ErrInvalidCard.WithMessage("card last four digits are required")
	}
	if expired(c.ExpMonth, c.ExpYear, now) {
		return ErrCardExpired.WithMessage("card expired %02d/%d", c.ExpMonth, c.ExpYear)
	}
	return nil
}

// expired treats a card as usable through the last day of its expiry month.
func expired(month, year int, now time.Time) bool {
	y, m, _ := now.Date()
	return year < y || (year == y && month < int(m))
}

// MethodMetadata keeps the provider linkage of a saved method.
type MethodMetadata struct {
	CustomerID    string `json:"customer_id,omitempty"`
	SetupIntentID string `json:"setup_intent_id,omitempty"`
	Fingerprint   string `json:"fingerprint,omitempty"`
}

type MethodSnapshot struct {
	ID          string
	UserID      string
	Type        MethodType
	Provider    string
	Token       string
	DisplayName string
	Card        *CardDetails
	IsDefault   bool
	IsActive    bool
	Metadata    MethodMetadata
	Version     int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (s MethodSnapshot) clone() MethodSnapshot {
	if s.Card != nil {
		c := *s.Card
		s.Card = &c
	}
	return s
}

type PaymentMethod struct {
	s MethodSnapshot
}

type NewMethodParams struct {
	ID          string
	UserID      string
	Type        MethodType
	Provider    string
	Token       string
	DisplayName string
	Card        *CardDetails
	Metadata    MethodMetadata
	Now         time.Time
}

// NewMethod builds a card or PayPal method. The token is the provider's
// reference; raw card numbers never reach this type.
func NewMethod(p NewMethodParams) (*PaymentMethod, []Event, error) {
	if strings.TrimSpace(p.UserID) == "" {
		return nil, nil, ErrMissingUser
	}
	if strings.TrimSpace(p.Provider) == "" {
		return nil, nil, ErrInvalidProvider
	}
	if strings.TrimSpace(p.Token) == "" {
		return nil, nil, ErrMissingToken
	}
	if len(p.DisplayName) > 100 {
		return nil, nil, ErrDisplayNameLimit
	}

	s := MethodSnapshot{
		ID:          p.ID,
		UserID:      p.UserID,
		Type:        p.Type,
		Provider:    p.Provider,
		Token:       p.Token,
		DisplayName: strings.TrimSpace(p.DisplayName),
		IsActive:    true,
		Metadata:    p.Metadata,
		Version:     1,
		CreatedAt:   p.Now,
		UpdatedAt:   p.Now,
	}

	switch p.Type {
	case TypeCreditCard:
		if p.Card == nil {
			return nil, nil, ErrInvalidCard
		}
		if err := p.Card.validate(p.Now); err != nil {
			return nil, nil, err
		}
		card := *p.Card
		card.Brand = strings.ToLower(strings.TrimSpace(card.Brand))
		s.Card = &card
		if s.DisplayName == "" {
			s.DisplayName = fmt.Sprintf("%s ending in %s", brandLabel(card.Brand), card.Last4)
		}
	case TypePayPal:
		if s.DisplayName == "" {
			s.DisplayName = "PayPal"
		}
	default:
		return nil, nil, ErrUnsupportedType.WithMessage("unsupported payment method type %q", p.Type)
	}

	m := &PaymentMethod{s: s}
	return m, []Event{MethodAdded{
		MethodID:      s.ID,
		UserID:        s.UserID,
		MethodType:    s.Type,
		Provider:      s.Provider,
		SetupIntentID: s.Metadata.SetupIntentID,
		OccurredAt:    p.Now,
	}}, nil
}

func brandLabel(brand string) string {
	if brand == "" {
		return "Card"
	}
	return strings.ToUpper(brand[:1]) + brand[1:]
}

func RestoreMethod(s MethodSnapshot) *PaymentMethod { return &PaymentMethod{s: s.clone()} }

func (m *PaymentMethod) Snapshot() MethodSnapshot { return m.s.clone() }

func (m *PaymentMethod) ID() string               { return m.s.ID }
func (m *PaymentMethod) UserID() string           { return m.s.UserID }
func (m *PaymentMethod) Type() MethodType         { return m.s.Type }
func (m *PaymentMethod) Provider() string         { return m.s.Provider }
func (m *PaymentMethod) Token() string            { return m.s.Token }
func (m *PaymentMethod) DisplayName() string      { return m.s.DisplayName }
func (m *PaymentMethod) IsDefault() bool          { return m.s.IsDefault }
func (m *PaymentMethod) IsActive() bool           { return m.s.IsActive }
func (m *PaymentMethod) Metadata() MethodMetadata { return m.s.Metadata }
func (m *PaymentMethod) Version() int             { return m.s.Version }

func (m *PaymentMethod) Card() *CardDetails {
	if m.s.Card == nil {
		return nil
	}
	c := *m.s.Card
	return &c
}

// Usable reports whether the method can be charged at now.
func (m *PaymentMethod) Usable(now time.Time) error {
	if !m.s.IsActive {
		return ErrMethodInactive
	}
	if m.s.Card != nil && expired(m.s.Card.ExpMonth, m.s.Card.ExpYear, now) {
		return ErrCardExpired
	}
	return nil
}

func (m *PaymentMethod) SetDefault(now time.Time) ([]Event, error) {
	if !m.s.IsActive {
		return nil, ErrDefaultInactive
	}
	if m.s.IsDefault {
		return nil, nil
	}
	m.s.IsDefault = true
	m.s.UpdatedAt = now
	return []Event{MethodDefaultChanged{MethodID: m.s.ID, UserID: m.s.UserID, IsDefault: true, OccurredAt: now}}, nil
}

func (m *PaymentMethod) ClearDefault(now time.Time) []Event {
	if !m.s.IsDefault {
		return nil
	}
	m.s.IsDefault = false
	m.s.UpdatedAt = now
	return []Event{MethodDefaultChanged{MethodID: m.s.ID, UserID: m.s.UserID, IsDefault: false, OccurredAt: now}}
}

// Deactivate hides the method from checkout. It also drops the default flag.
func (m *PaymentMethod) Deactivate(now time.Time) []Event {
	if !m.s.IsActive {
		return nil
	}
	evs := m.ClearDefault(now)
	m.s.IsActive = false
	m.s.UpdatedAt = now
	return append(evs, MethodDeactivated{MethodID: m.s.ID, UserID: m.s.UserID, OccurredAt: now})
}

func (m *PaymentMethod) UpdateExpiry(month, year int, now time.Time) ([]Event, error) {
	if m.s.Card == nil {
		return nil, ErrNotCard
	}
	if !m.s.IsActive {
		return nil, ErrMethodInactive
	}
	next := *m.s.Card
	next.ExpMonth, next.ExpYear = month, year
	if err := next.validate(now); err != nil {
		return nil, err
	}
	ev := MethodExpiryUpdated{
		MethodID:   m.s.ID,
		OldMonth:   m.s.Card.ExpMonth,
		OldYear:    m.s.Card.ExpYear,
		NewMonth:   month,
		NewYear:    year,
		OccurredAt: now,
	}
	m.s.Card = &next
	m.s.UpdatedAt = now
	return []Event{ev}, nil
}
