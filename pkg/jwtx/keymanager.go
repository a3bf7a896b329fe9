package jwtx

import (
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// KeyManager holds the signing keys of one issuer: exactly one active key used
// for new signatures, plus retired keys kept for verification until their
// retention window elapses.
//
// The key set is an immutable keyring swapped atomically. Readers load the
// current snapshot without locking and therefore always see either the
// pre-rotation or the post-rotation ring. Writers serialise on mu.
type KeyManager struct {
	algorithm string
	rsaBits   int
	retention time.Duration
	now       func() time.Time

	mu   sync.Mutex
	ring atomic.Pointer[keyring]
}

type keyring struct {
	active  Signer
	retired map[string]retiredKey
	// static keys come from configuration and are never pruned.
	static map[string]VerificationKey
}

type retiredKey struct {
	key   VerificationKey
	until time.Time
}

// KeyInfo describes one key for status listings.
type KeyInfo struct {
	KID          string
	Algorithm    string
	Active       bool
	Static       bool
	RetiredUntil *time.Time
}

// KeyManagerOptions configures a KeyManager.
type KeyManagerOptions struct {
	// Algorithm used for keys generated by Rotate.
	// Supported values: "RS256", "ES256", "EdDSA", "HS256".
	Algorithm string

	// RSABits is the RSA modulus size for RS256 keys. Defaults to 4096.
	RSABits int

	// Retention is how long a retired key stays usable for verification. It
	// must cover the longest token lifetime. Defaults to DefaultRefreshTokenTTL.
	Retention time.Duration

	// AdditionalKeys are verification-only keys published by other issuers
	// or by a previous deployment.
	AdditionalKeys []VerificationKey

	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

// NewKeyManager returns a KeyManager with no active key. Call Rotate or
// Install before issuing tokens.
func NewKeyManager(opts KeyManagerOptions) (*KeyManager, error) {
	if signingMethod(opts.Algorithm) == nil {
		return nil, fmt.Errorf("jwtx: unsupported algorithm %q (supported: RS256, ES256, EdDSA, HS256)", opts.Algorithm)
	}
	if opts.Algorithm == AlgorithmRS256 && opts.RSABits != 0 && opts.RSABits < 2048 {
		return nil, fmt.Errorf("jwtx: RSA key size must be at least 2048 bits")
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRefreshTokenTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	static := make(map[string]VerificationKey, len(opts.AdditionalKeys))
	for _, k := range opts.AdditionalKeys {
		if k.KID == "" || signingMethod(k.Algorithm) == nil || k.Key == nil {
			return nil, fmt.Errorf("%w: additional key %q", ErrInvalidInput, k.KID)
		}
		static[k.KID] = k
	}

	km := &KeyManager{
		algorithm: opts.Algorithm,
		rsaBits:   opts.RSABits,
		retention: opts.Retention,
		now:       opts.Now,
	}
	km.ring.Store(&keyring{retired: map[string]retiredKey{}, static: static})
	return km, nil
}

// NewEphemeralKeyManager returns a KeyManager with a freshly generated active
// key that only lives in memory.
func NewEphemeralKeyManager(opts KeyManagerOptions) (*KeyManager, error) {
	km, err := NewKeyManager(opts)
	if err != nil {
		return nil, err
	}
	if _, err := km.Rotate(); err != nil {
		return nil, err
	}
	return km, nil
}

// Algorithm returns the algorithm used for newly generated keys.
func (km *KeyManager) Algorithm() string { return km.algorithm }

// RSABits returns the configured RSA modulus size, 0 meaning the default.
func (km *KeyManager) RSABits() int { return km.rsaBits }

// Retention returns how long retired keys stay verifiable.
func (km *KeyManager) Retention() time.Duration { return km.retention }

// IsReady reports whether an active signing key is loaded.
func (km *KeyManager) IsReady() bool {
	return km.ring.Load().active != nil
}

// ActiveKeyID returns the kid used for new signatures.
func (km *KeyManager) ActiveKeyID() (string, error) {
	ring := km.ring.Load()
	if ring.active == nil {
		return "", ErrKeyUnavailable
	}
	return ring.active.KID(), nil
}

// ActiveSigner returns the active signer from a single snapshot, so the kid
// and the private material always belong together.
func (km *KeyManager) ActiveSigner() (Signer, error) {
	ring := km.ring.Load()
	if ring.active == nil {
		return nil, ErrKeyUnavailable
	}
	return ring.active, nil
}

// SigningKey returns private material for kid. Only the active key is ever
// exposed; retired and unknown kids yield ErrKeyNotFound.
func (km *KeyManager) SigningKey(kid string) (Signer, error) {
	ring := km.ring.Load()
	if ring.active == nil || ring.active.KID() != kid {
		return nil, fmt.Errorf("%w: no signing key for kid %q", ErrKeyNotFound, kid)
	}
	return ring.active, nil
}

// VerificationKey returns the verification material for kid, whether it is
// the active key, a retired key inside its retention window, or a static key.
func (km *KeyManager) VerificationKey(kid string) (VerificationKey, error) {
	ring := km.ring.Load()
	if ring.active != nil && ring.active.KID() == kid {
		return ring.active.VerificationKey(), nil
	}
	if rk, ok := ring.retired[kid]; ok && !km.now().After(rk.until) {
		return rk.key, nil
	}
	if sk, ok := ring.static[kid]; ok {
		return sk, nil
	}
	return VerificationKey{}, fmt.Errorf("%w: unknown kid %q", ErrKeyNotFound, kid)
}

// Rotate generates a new key with the configured algorithm and makes it
// active. The previous active key is retired, not discarded.
func (km *KeyManager) Rotate() (string, error) {
	kid, err := NewKeyID()
	if err != nil {
		return "", err
	}
	_, signer, err := GenerateKey(km.algorithm, kid, km.rsaBits)
	if err != nil {
		return "", err
	}
	if err := km.Install(signer); err != nil {
		return "", err
	}
	return kid, nil
}

// Install makes signer the active key and retires the current one. It is
// how externally generated keys (persisted rotation, configured PEM) enter
// the manager.
func (km *KeyManager) Install(signer Signer) error {
	if signer == nil {
		return fmt.Errorf("%w: signer cannot be nil", ErrInvalidInput)
	}

	km.mu.Lock()
	defer km.mu.Unlock()

	cur := km.ring.Load()
	if cur.active != nil && cur.active.KID() == signer.KID() {
		return fmt.Errorf("%w: kid %q is already active", ErrInvalidInput, signer.KID())
	}

	next := cur.clone()
	if cur.active != nil {
		next.retired[cur.active.KID()] = retiredKey{
			key:   cur.active.VerificationKey(),
			until: km.now().Add(km.retention),
		}
	}
	delete(next.retired, signer.KID())
	next.active = signer

	km.ring.Store(next)
	return nil
}

// Retain registers a verification-only key that stays usable until the
// given time. Used when reloading retired keys from storage.
func (km *KeyManager) Retain(key VerificationKey, until time.Time) error {
	if key.KID == "" || key.Key == nil {
		return fmt.Errorf("%w: retained key needs kid and material", ErrInvalidInput)
	}

	km.mu.Lock()
	defer km.mu.Unlock()

	cur := km.ring.Load()
	if cur.active != nil && cur.active.KID() == key.KID {
		return nil
	}
	next := cur.clone()
	next.retired[key.KID] = retiredKey{key: key, until: until}
	km.ring.Store(next)
	return nil
}

// Prune drops retired keys whose retention has elapsed and reports how many
// were removed.
func (km *KeyManager) Prune(now time.Time) int {
	km.mu.Lock()
	defer km.mu.Unlock()

	cur := km.ring.Load()
	next := cur.clone()
	removed := 0
	for kid, rk := range next.retired {
		if now.After(rk.until) {
			delete(next.retired, kid)
			removed++
		}
	}
	if removed > 0 {
		km.ring.Store(next)
	}
	return removed
}

// PublicJWKS returns every asymmetric key that can still verify tokens.
// Shared secrets are never published.
func (km *KeyManager) PublicJWKS() JWKS {
	ring := km.ring.Load()
	now := km.now()

	set := JWKS{Keys: []JWK{}}
	if ring.active != nil {
		if jwk, ok := ring.active.PublicJWK(); ok {
			set.Keys = append(set.Keys, jwk)
		}
	}
	for _, kid := range slices.Sorted(maps.Keys(ring.retired)) {
		rk := ring.retired[kid]
		if now.After(rk.until) {
			continue
		}
		if jwk, ok := rk.key.JWK(); ok {
			set.Keys = append(set.Keys, jwk)
		}
	}
	for _, kid := range slices.Sorted(maps.Keys(ring.static)) {
		if jwk, ok := ring.static[kid].JWK(); ok {
			set.Keys = append(set.Keys, jwk)
		}
	}
	return set
}

// Keys lists the managed keys, active first.
func (km *KeyManager) Keys() []KeyInfo {
	ring := km.ring.Load()

	var out []KeyInfo
	if ring.active != nil {
		out = append(out, KeyInfo{KID: ring.active.KID(), Algorithm: ring.active.Alg(), Active: true})
	}
	for _, kid := range slices.Sorted(maps.Keys(ring.retired)) {
		rk := ring.retired[kid]
		until := rk.until
		out = append(out, KeyInfo{KID: kid, Algorithm: rk.key.Algorithm, RetiredUntil: &until})
	}
	for _, kid := range slices.Sorted(maps.Keys(ring.static)) {
		out = append(out, KeyInfo{KID: kid, Algorithm: ring.static[kid].Algorithm, Static: true})
	}
	return out
}

func (r *keyring) clone() *keyring {
	return &keyring{
		active:  r.active,
		retired: maps.Clone(r.retired),
		static:  r.static,
	}
}
