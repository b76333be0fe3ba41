package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/ariefcatur/go-store-orders/internal/apperr"
	"github.com/sirupsen/logrus"
)

var errBadJSON = apperr.Validation("http.invalid_json", "request body is not valid json")

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func statusOf(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// writeError hides failure messages from clients; they go to the log.
func writeError(w http.ResponseWriter, log logrus.FieldLogger, err error) {
	var e *apperr.Error
	if !errors.As(apperr.Wrap(err), &e) {
		e = apperr.Failure(err)
	}
	code := statusOf(e.Kind)
	if code == http.StatusInternalServerError {
		log.WithError(err).Error("request failed")
		writeJSON(w, code, map[string]errorBody{"error": {Code: e.Code, Message: "internal error"}})
		return
	}
	writeJSON(w, code, map[string]errorBody{"error": {Code: e.Code, Message: e.Message, Details: e.Details}})
}

// decode accepts an empty body as the zero value.
func decode(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return errBadJSON.WithMessage("request body is not valid json: %v", err)
}
