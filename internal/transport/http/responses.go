package httptransport

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	dErrors "contactguard/pkg/domain-errors"
)

// errorBody is the JSON error envelope. Structured metadata rides alongside
// the code so clients can render a specific message without string matching.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`

	Fields            []string `json:"fields,omitempty"`
	Escalation        []string `json:"escalation,omitempty"`
	RetryAfterSeconds string   `json:"retry_after_seconds,omitempty"`
}

var statusByCode = map[dErrors.Code]int{
	dErrors.CodeInvalidInput:       http.StatusBadRequest,
	dErrors.CodeNotFound:           http.StatusNotFound,
	dErrors.CodeConflict:           http.StatusConflict,
	dErrors.CodeCollision:          http.StatusConflict,
	dErrors.CodeInvariantViolation: http.StatusConflict,
	dErrors.CodeLocked:             http.StatusLocked,
	dErrors.CodeQuotaExceeded:      http.StatusTooManyRequests,
	dErrors.CodeRateLimited:        http.StatusTooManyRequests,
	dErrors.CodeCryptoUnavailable:  http.StatusServiceUnavailable,
	dErrors.CodeTimeout:            http.StatusGatewayTimeout,
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError translates a domain error into the HTTP envelope. Internal
// errors surface a generic message only; their detail belongs in the log.
func writeError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	status, ok := statusByCode[code]
	if !ok {
		status = http.StatusInternalServerError
	}

	body := errorBody{Code: string(code)}
	var de *dErrors.Error
	if errors.As(err, &de) && code != dErrors.CodeInternal {
		body.Message = de.Message
		body.Fields = splitMeta(de.Meta[dErrors.MetaFields])
		body.Escalation = splitMeta(de.Meta[dErrors.MetaEscalation])
		body.RetryAfterSeconds = de.Meta[dErrors.MetaRetryAfter]
	} else {
		body.Message = "internal error"
	}

	if retry := body.RetryAfterSeconds; retry != "" {
		w.Header().Set("Retry-After", retry)
	}
	writeJSON(w, status, map[string]errorBody{"error": body})
}

func splitMeta(csv string) []string {
	if csv == "" {
		return nil
	}
	return strings.Split(csv, ",")
}
