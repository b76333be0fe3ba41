package httpx

import (
	"time"

	"github.com/ariefcatur/go-store-orders/internal/money"
	"github.com/ariefcatur/go-store-orders/internal/orders"
	"github.com/ariefcatur/go-store-orders/internal/payments"
)

type itemView struct {
	ID         string                 `json:"id"`
	ProductID  string                 `json:"product_id"`
	VariantID  string                 `json:"variant_id,omitempty"`
	Quantity   int                    `json:"quantity"`
	UnitPrice  money.Money            `json:"unit_price"`
	TotalPrice money.Money            `json:"total_price"`
	Product    orders.ProductSnapshot `json:"product"`
}

type orderView struct {
	ID                string                `json:"id"`
	UserID            string                `json:"user_id,omitempty"`
	Status            orders.Status         `json:"status"`
	PaymentStatus     orders.PaymentStatus  `json:"payment_status"`
	ShippingMethod    orders.ShippingMethod `json:"shipping_method"`
	ShippingAddressID string                `json:"shipping_address_id"`
	BillingAddressID  string                `json:"billing_address_id"`
	Subtotal          money.Money           `json:"subtotal"`
	Tax               money.Money           `json:"tax"`
	ShippingCost      money.Money           `json:"shipping_cost"`
	Total             money.Money           `json:"total"`
	RefundedAmount    money.Money           `json:"refunded_amount"`
	RefundedAt        *time.Time            `json:"refunded_at,omitempty"`
	Metadata          orders.Metadata       `json:"metadata"`
	Items             []itemView            `json:"items"`
	Version           int                   `json:"version"`
	CreatedAt         time.Time             `json:"created_at"`
	UpdatedAt         time.Time             `json:"updated_at"`
}

func orderOf(o *orders.Order) orderView {
	s := o.Snapshot()
	v := orderView{
		ID:                s.ID,
		UserID:            s.UserID,
		Status:            s.Status,
		PaymentStatus:     s.PaymentStatus,
		ShippingMethod:    s.ShippingMethod,
		ShippingAddressID: s.ShippingAddressID,
		BillingAddressID:  s.BillingAddressID,
		Subtotal:          s.Subtotal,
		Tax:               s.Tax,
		ShippingCost:      s.ShippingCost,
		Total:             s.Total,
		RefundedAmount:    s.RefundedAmount,
		RefundedAt:        s.RefundedAt,
		Metadata:          s.Metadata,
		Items:             make([]itemView, len(s.Items)),
		Version:           s.Version,
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
	}
	for i, it := range s.Items {
		v.Items[i] = itemView(it)
	}
	return v
}

type methodView struct {
	ID          string                  `json:"id"`
	Type        payments.MethodType     `json:"type"`
	Provider    string                  `json:"provider"`
	DisplayName string                  `json:"display_name"`
	Card        *payments.CardDetails   `json:"card,omitempty"`
	IsDefault   bool                    `json:"is_default"`
	IsActive    bool                    `json:"is_active"`
	Metadata    payments.MethodMetadata `json:"metadata"`
	CreatedAt   time.Time               `json:"created_at"`
}

// methodOf leaves the provider token out of responses.
func methodOf(m *payments.PaymentMethod) methodView {
	s := m.Snapshot()
	return methodView{
		ID:          s.ID,
		Type:        s.Type,
		Provider:    s.Provider,
		DisplayName: s.DisplayName,
		Card:        s.Card,
		IsDefault:   s.IsDefault,
		IsActive:    s.IsActive,
		Metadata:    s.Metadata,
		CreatedAt:   s.CreatedAt,
	}
}
