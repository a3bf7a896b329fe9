package domain

import "time"

// SigningKey is a persisted JWT signing key. The private PEM is sealed with
// the deployment master key.
type SigningKey struct {
	ID                  string // ULID
	KID                 string
	Algorithm           string
	PrivateKeyEncrypted []byte
	CreatedAt           time.Time
	RetiredAt           *time.Time // nil while active
	ExpiresAt           *time.Time // end of the verification window, set on retirement
}

// IsActive reports whether the key still signs new tokens.
func (k SigningKey) IsActive() bool { return k.RetiredAt == nil }

// IsExpired reports whether a retired key can no longer verify tokens.
func (k SigningKey) IsExpired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}
