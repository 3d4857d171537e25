package gateway

import (
	"encoding/json"
	"net/http"
)

// Error codes returned in the error envelope. Every 4xx is terminal for the
// caller; 5xx means the vendor failed and the core does not retry.
const (
	codeBadRequest          = "bad_request"
	codeUnauthenticated     = "unauthenticated"
	codeInsufficientBalance = "insufficient_balance"
	codeForbidden           = "forbidden"
	codeModelUnavailable    = "model_unavailable"
	codeUpstreamError       = "upstream_error"
	codeInternal            = "internal_error"
)

type errorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

// writeError writes the structured error envelope.
func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{
		Message: msg,
		Type:    "gateway_error",
		Code:    code,
	}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
