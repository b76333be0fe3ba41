// Package payments holds the Payment and PaymentMethod aggregates and the
// contract every payment provider integration satisfies.
package payments

import (
	"slices"
	"strings"
	"time"

	"github.com/ariefcatur/go-store-orders/internal/apperr"
	"github.com/ariefcatur/go-store-orders/internal/money"
)

var (
	ErrNotFound          = apperr.NotFound("payment.not_found", "payment not found")
	ErrInvalidAmount     = apperr.Validation("payment.invalid_amount", "payment amount must be positive")
	ErrInvalidTransition = apperr.Conflict("payment.invalid_transition", "payment cannot transition from its current status")
	ErrNotRefundable     = apperr.Conflict("payment.not_refundable", "only succeeded payments can be refunded")
	ErrCannotCancel      = apperr.Conflict("payment.cannot_cancel", "succeeded or refunded payments cannot be canceled")
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
	StatusRefunded  Status = "REFUNDED"
	StatusCanceled  Status = "CANCELED"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:   {StatusSucceeded: true, StatusFailed: true, StatusCanceled: true},
	StatusSucceeded: {StatusRefunded: true},
	StatusFailed:    {},
	StatusRefunded:  {},
	StatusCanceled:  {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// PaymentMetadata carries the provider fields we keep per payment.
type PaymentMetadata struct {
	ClientSecret   string   `json:"client_secret,omitempty"`
	NextActionType string   `json:"next_action_type,omitempty"`
	RefundIDs      []string `json:"refund_ids,omitempty"`
}

type Snapshot struct {
	ID                string
	OrderID           string
	UserID            string
	Amount            money.Money
	MethodType        MethodType
	Provider          string
	Status            Status
	ExternalReference string
	TransactionID     string
	PaymentMethodID   string
	Metadata          PaymentMetadata
	ProcessedAt       *time.Time
	ErrorMessage      string
	Version           int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (s Snapshot) clone() Snapshot {
	s.Metadata.RefundIDs = slices.Clone(s.Metadata.RefundIDs)
	if s.ProcessedAt != nil {
		at := *s.ProcessedAt
		s.ProcessedAt = &at
	}
	return s
}

type Payment struct {
	s Snapshot
}

type NewPaymentParams struct {
	ID              string
	OrderID         string
	UserID          string
	Amount          money.Money
	MethodType      MethodType
	Provider        string
	PaymentMethodID string
	Now             time.Time
}

func NewPayment(p NewPaymentParams) (*Payment, []Event, error) {
	if !p.Amount.IsPositive() {
		return nil, nil, ErrInvalidAmount
	}
	if strings.TrimSpace(p.Provider) == "" {
		return nil, nil, ErrInvalidProvider
	}
	pay := &Payment{s: Snapshot{
		ID:              p.ID,
		OrderID:         p.OrderID,
		UserID:          p.UserID,
		Amount:          p.Amount,
		MethodType:      p.MethodType,
		Provider:        p.Provider,
		Status:          StatusPending,
		PaymentMethodID: p.PaymentMethodID,
		Version:         1,
		CreatedAt:       p.Now,
		UpdatedAt:       p.Now,
	}}
	return pay, []Event{PaymentCreated{
		PaymentID:  p.ID,
		OrderID:    p.OrderID,
		Amount:     p.Amount,
		Provider:   p.Provider,
		OccurredAt: p.Now,
	}}, nil
}

func Restore(s Snapshot) *Payment { return &Payment{s: s.clone()} }

func (p *Payment) Snapshot() Snapshot { return p.s.clone() }

func (p *Payment) ID() string                { return p.s.ID }
func (p *Payment) OrderID() string           { return p.s.OrderID }
func (p *Payment) UserID() string            { return p.s.UserID }
func (p *Payment) Amount() money.Money       { return p.s.Amount }
func (p *Payment) Provider() string          { return p.s.Provider }
func (p *Payment) Status() Status            { return p.s.Status }
func (p *Payment) ExternalReference() string { return p.s.ExternalReference }
func (p *Payment) TransactionID() string     { return p.s.TransactionID }
func (p *Payment) PaymentMethodID() string   { return p.s.PaymentMethodID }
func (p *Payment) ErrorMessage() string      { return p.s.ErrorMessage }
func (p *Payment) Version() int              { return p.s.Version }
func (p *Payment) Metadata() PaymentMetadata { return p.Snapshot().Metadata }

func (p *Payment) transition(to Status, now time.Time) error {
	if !CanTransition(p.s.Status, to) {
		return ErrInvalidTransition.WithMessage("payment %s cannot move from %s to %s", p.s.ID, p.s.Status, to)
	}
	p.s.Status = to
	p.s.UpdatedAt = now
	return nil
}

// AwaitAction records a provider challenge. The payment stays pending until
// the provider reports the outcome.
func (p *Payment) AwaitAction(externalRef, clientSecret, nextAction string, now time.Time) ([]Event, error) {
	if p.s.Status != StatusPending {
		return nil, ErrInvalidTransition.WithMessage("payment %s is %s", p.s.ID, p.s.Status)
	}
	p.s.ExternalReference = externalRef
	p.s.Metadata.ClientSecret = clientSecret
	p.s.Metadata.NextActionType = nextAction
	p.s.UpdatedAt = now
	return []Event{PaymentActionRequired{
		PaymentID:      p.s.ID,
		OrderID:        p.s.OrderID,
		NextActionType: nextAction,
		OccurredAt:     now,
	}}, nil
}

// TrackReference records the provider reference of a charge that is still
// in flight.
func (p *Payment) TrackReference(externalRef string, now time.Time) error {
	if p.s.Status != StatusPending {
		return ErrInvalidTransition.WithMessage("payment %s is %s", p.s.ID, p.s.Status)
	}
	p.s.ExternalReference = externalRef
	p.s.UpdatedAt = now
	return nil
}

// MarkSucceeded is a no-op when the payment already succeeded.
func (p *Payment) MarkSucceeded(externalRef, transactionID string, now time.Time) ([]Event, error) {
	if p.s.Status == StatusSucceeded {
		return nil, nil
	}
	if err := p.transition(StatusSucceeded, now); err != nil {
		return nil, err
	}
	if externalRef != "" {
		p.s.ExternalReference = externalRef
	}
	p.s.TransactionID = transactionID
	p.s.ProcessedAt = &now
	p.s.ErrorMessage = ""
	p.s.Metadata.ClientSecret = ""
	return []Event{PaymentSucceeded{
		PaymentID:     p.s.ID,
		OrderID:       p.s.OrderID,
		Amount:        p.s.Amount,
		TransactionID: transactionID,
		OccurredAt:    now,
	}}, nil
}

func (p *Payment) MarkFailed(externalRef, message string, now time.Time) ([]Event, error) {
	if p.s.Status == StatusFailed {
		return nil, nil
	}
	if err := p.transition(StatusFailed, now); err != nil {
		return nil, err
	}
	if externalRef != "" {
		p.s.ExternalReference = externalRef
	}
	p.s.ErrorMessage = message
	p.s.ProcessedAt = &now
	return []Event{PaymentFailed{
		PaymentID:  p.s.ID,
		OrderID:    p.s.OrderID,
		Error:      message,
		OccurredAt: now,
	}}, nil
}

// RecordPartialRefund keeps the provider refund id of a refund that did not
// cover the whole amount. Status is unchanged.
func (p *Payment) RecordPartialRefund(refundID string, now time.Time) error {
	if p.s.Status != StatusSucceeded {
		return ErrNotRefundable
	}
	p.s.Metadata.RefundIDs = append(p.s.Metadata.RefundIDs, refundID)
	p.s.UpdatedAt = now
	return nil
}

// Refund settles the payment as refunded. Refunding twice is a no-op.
func (p *Payment) Refund(refundID string, now time.Time) ([]Event, error) {
	if p.s.Status == StatusRefunded {
		return nil, nil
	}
	if p.s.Status != StatusSucceeded {
		return nil, ErrNotRefundable.WithMessage("payment %s is %s", p.s.ID, p.s.Status)
	}
	if err := p.transition(StatusRefunded, now); err != nil {
		return nil, err
	}
	if refundID != "" {
		p.s.Metadata.RefundIDs = append(p.s.Metadata.RefundIDs, refundID)
	}
	return []Event{PaymentRefunded{
		PaymentID:  p.s.ID,
		OrderID:    p.s.OrderID,
		Amount:     p.s.Amount,
		RefundID:   refundID,
		OccurredAt: now,
	}}, nil
}

func (p *Payment) Cancel(now time.Time) ([]Event, error) {
	switch p.s.Status {
	case StatusCanceled:
		return nil, nil
	case StatusSucceeded, StatusRefunded:
		return nil, ErrCannotCancel
	}
	if err := p.transition(StatusCanceled, now); err != nil {
		return nil, err
	}
	return []Event{PaymentCanceled{PaymentID: p.s.ID, OrderID: p.s.OrderID, OccurredAt: now}}, nil
}
