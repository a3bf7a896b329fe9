package jwtx

import "errors"

// Issuance and key management failures.
var (
	ErrInvalidInput   = errors.New("jwtx: invalid input")
	ErrKeyUnavailable = errors.New("jwtx: no active signing key")
	ErrKeyNotFound    = errors.New("jwtx: key not found")
)

// Verification rejections. Callers should surface all of these uniformly as
// "unauthenticated" and only log the specific reason.
var (
	ErrMalformed        = errors.New("jwtx: malformed token")
	ErrSignatureInvalid = errors.New("jwtx: invalid signature")
	ErrExpired          = errors.New("jwtx: token expired")
	ErrNotYetValid      = errors.New("jwtx: token not yet valid")
	ErrIssuerMismatch   = errors.New("jwtx: issuer mismatch")
	ErrAudienceMismatch = errors.New("jwtx: audience mismatch")
	ErrRevoked          = errors.New("jwtx: token revoked")
)

var rejections = []error{
	ErrMalformed,
	ErrSignatureInvalid,
	ErrKeyNotFound,
	ErrExpired,
	ErrNotYetValid,
	ErrIssuerMismatch,
	ErrAudienceMismatch,
	ErrRevoked,
}

// IsRejection reports whether err is a verdict about the token itself, as
// opposed to an infrastructure failure such as an unreachable revocation
// backend.
func IsRejection(err error) bool {
	for _, target := range rejections {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Reason returns a short stable label for logs and metrics.
func Reason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	case errors.Is(err, ErrSignatureInvalid):
		return "signature_invalid"
	case errors.Is(err, ErrKeyNotFound):
		return "key_not_found"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrNotYetValid):
		return "not_yet_valid"
	case errors.Is(err, ErrIssuerMismatch):
		return "issuer_mismatch"
	case errors.Is(err, ErrAudienceMismatch):
		return "audience_mismatch"
	case errors.Is(err, ErrRevoked):
		return "revoked"
	default:
		return "error"
	}
}
