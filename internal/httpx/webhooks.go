package httpx

import (
	"io"
	"net/http"

	"github.com/ariefcatur/go-store-orders/internal/apperr"
	"github.com/go-chi/chi/v5"
)

var errPayloadTooLarge = apperr.Validation("http.payload_too_large", "webhook payload is too large")

const maxWebhookBytes = 1 << 20

// webhook hands the raw body to the provider, which verifies the signature
// against the exact bytes received.
func (a *API) webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes+1))
	if err != nil {
		writeError(w, a.Log, err)
		return
	}
	if len(body) > maxWebhookBytes {
		writeError(w, a.Log, errPayloadTooLarge)
		return
	}
	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}

	res, err := a.Webhooks.Handle(r.Context(), chi.URLParam(r, "provider"), body, headers)
	if err != nil {
		writeError(w, a.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"received": true, "event_id": res.EventID, "kind": res.Kind})
}
