// Package gateway is the keyed HTTP control plane: chat, sessions,
// marathons, webhooks, and streaming.
package gateway

import (
	"encoding/json"
	"net/http"
)

// Stable error codes in every error body.
const (
	codeUnauthorized   = "unauthorized"
	codeForbidden      = "forbidden"
	codeRateLimited    = "rate_limit_exceeded"
	codeBadRequest     = "bad_request"
	codeNotFound       = "not_found"
	codeInternal       = "internal_error"
	codeBudgetExceeded = "budget_exceeded"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Docs       string `json:"docs,omitempty"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

func writeRateLimited(w http.ResponseWriter, retryAfter int) {
	writeJSON(w, http.StatusTooManyRequests, errorBody{Error: errorDetail{
		Code:       codeRateLimited,
		Message:    "rate limit exceeded",
		RetryAfter: retryAfter,
	}})
}
