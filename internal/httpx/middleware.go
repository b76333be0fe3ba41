package httpx

import (
	"net/http"
	"strings"

	"github.com/ariefcatur/go-store-orders/internal/apperr"
	"github.com/ariefcatur/go-store-orders/internal/identity"
	"github.com/ariefcatur/go-store-orders/internal/orders"
	"github.com/ariefcatur/go-store-orders/internal/outbox"
	"github.com/ariefcatur/go-store-orders/internal/redisx"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// Headers set by the upstream gateway after it authenticated the caller.
const (
	HeaderUserID         = "X-User-ID"
	HeaderUserRole       = "X-User-Role"
	HeaderTenantID       = "X-Tenant-ID"
	HeaderIdempotencyKey = "Idempotency-Key"
)

var ErrDuplicateRequest = apperr.Conflict("http.duplicate_request", "a request with this idempotency key was already received")

func roleOf(s string) orders.Role {
	switch r := orders.Role(strings.ToLower(strings.TrimSpace(s))); r {
	case orders.RoleStaff, orders.RoleAdmin:
		return r
	default:
		return orders.RoleCustomer
	}
}

// withIdentity puts the caller and the request id into the context. The
// request id doubles as the trace id of events recorded by the request.
func withIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := identity.With(r.Context(), identity.Identity{
			UserID:   strings.TrimSpace(r.Header.Get(HeaderUserID)),
			Role:     roleOf(r.Header.Get(HeaderUserRole)),
			TenantID: strings.TrimSpace(r.Header.Get(HeaderTenantID)),
		})
		if id := middleware.GetReqID(ctx); id != "" {
			ctx = outbox.WithTraceID(ctx, id)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// idempotent claims the Idempotency-Key of a mutating request. A second
// request with the same key gets 409. The claim is released when the
// first request fails on our side so the client can retry.
func idempotent(cache redisx.Store, log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
			if key == "" || cache == nil {
				next.ServeHTTP(w, r)
				return
			}
			caller := identity.From(r.Context())
			claim := redisx.IdempotencyKey(caller.TenantID, caller.UserID, r.Method+" "+r.URL.Path+" "+key)
			first, err := cache.SetNX(r.Context(), claim, "1", redisx.TTLIdempotency)
			if err != nil {
				log.WithError(err).Warn("idempotency claim failed, serving request")
				next.ServeHTTP(w, r)
				return
			}
			if !first {
				writeError(w, log, ErrDuplicateRequest)
				return
			}

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			if ww.Status() >= http.StatusInternalServerError {
				_ = cache.Del(r.Context(), claim)
			}
		})
	}
}
