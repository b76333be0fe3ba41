// Package identity carries the caller established by the upstream gateway.
// Issuing and verifying credentials happens before requests reach us.
package identity

import (
	"context"

	"github.com/ariefcatur/go-store-orders/internal/orders"
)

type Identity struct {
	UserID   string
	Role     orders.Role
	TenantID string
}

// Elevated reports staff and admin callers.
func (i Identity) Elevated() bool { return i.Role.Elevated() }

type ctxKey struct{}

func With(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// From returns the caller. Missing identities are anonymous customers.
func From(ctx context.Context) Identity {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	if !ok {
		return Identity{Role: orders.RoleCustomer}
	}
	return id
}
