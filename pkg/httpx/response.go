package httpx

import (
	"encoding/json"
	"net/http"
)

// Error codes shared by every endpoint.
const (
	CodeInvalidRequest     = "invalid_request"
	CodeInvalidToken       = "invalid_token"
	CodeAccessDenied       = "access_denied"
	CodeNotFound           = "not_found"
	CodeConflict           = "conflict"
	CodeServerError        = "server_error"
	CodeUnavailable        = "temporarily_unavailable"
	CodeRateLimitExceeded  = "rate_limit_exceeded"
	MessageUnauthenticated = "invalid or expired session"
	MessageForbidden       = "not permitted"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

// WriteJSON writes v as JSON with the given status. Responses are never
// cacheable.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	NoCache(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes an error body. 401 responses also carry an RFC 6750
// WWW-Authenticate challenge.
func WriteError(w http.ResponseWriter, status int, code, description string) {
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer error="`+code+`", error_description="`+description+`"`)
	}
	WriteJSON(w, status, ErrorBody{Code: code, Description: description})
}

// Unauthenticated writes the uniform 401. The specific reason is logged by
// the caller, never returned.
func Unauthenticated(w http.ResponseWriter) {
	WriteError(w, http.StatusUnauthorized, CodeInvalidToken, MessageUnauthenticated)
}

// Forbidden writes the uniform 403.
func Forbidden(w http.ResponseWriter) {
	WriteError(w, http.StatusForbidden, CodeAccessDenied, MessageForbidden)
}

// NoCache sets headers that stop clients and proxies caching the response.
func NoCache(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
}

// DecodeJSON reads a JSON body of at most 1 MiB into v, rejecting unknown
// fields.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
