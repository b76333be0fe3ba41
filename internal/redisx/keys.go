package redisx

import (
	"fmt"
	"time"
)

const (
	// idem:{tenant}:{user}:{key} -> request fingerprint
	keyIdempotency = "idem:%s:%s:%s"

	// order_status:{tenant}:{order_id} -> {"status": "...", "payment_status": "...", ...}
	keyOrderStatus = "order_status:%s:%s"

	// dedup:{scope}:{event_id}
	keyDedup = "dedup:%s:%s"

	// customer:{tenant}:{provider}:{user_id} -> provider customer id
	keyCustomer = "customer:%s:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
	TTLCustomer    = 30 * 24 * time.Hour
)

func tenantOr(t string) string {
	if t == "" {
		return "default"
	}
	return t
}

func IdempotencyKey(tenant, userID, key string) string {
	return fmt.Sprintf(keyIdempotency, tenantOr(tenant), userID, key)
}

func OrderStatusKey(tenant, orderID string) string {
	return fmt.Sprintf(keyOrderStatus, tenantOr(tenant), orderID)
}

func DedupKey(scope, eventID string) string {
	return fmt.Sprintf(keyDedup, scope, eventID)
}

func CustomerKey(tenant, provider, userID string) string {
	return fmt.Sprintf(keyCustomer, tenantOr(tenant), provider, userID)
}
