// Package revocation tracks revoked token ids until the tokens could no
// longer verify anyway.
package revocation

import (
	"context"
	"errors"
	"time"
)

// ErrEmptyJTI is returned when revoking a blank token id.
var ErrEmptyJTI = errors.New("revocation: empty jti")

// Registry is a time-bounded set of revoked jtis. until is the last instant
// a verifier would still accept the token, i.e. its exp plus the verifier's
// clock-skew leeway. An entry is kept through until and may be dropped
// afterwards.
type Registry interface {
	// Revoke records jti. It reports true only for the call that created
	// the entry; revoking a jti that is already revoked is a no-op
	// reporting false. A until that has already passed records nothing.
	Revoke(ctx context.Context, jti string, until time.Time) (bool, error)
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// Purger is implemented by registries that need periodic cleanup.
type Purger interface {
	Purge(ctx context.Context, now time.Time) (int, error)
}
