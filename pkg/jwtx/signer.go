package jwtx

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/qhomebase/iam/pkg/cryptox"
)

// Supported JWT signing algorithms.
const (
	AlgorithmRS256 = "RS256"
	AlgorithmES256 = "ES256"
	AlgorithmEdDSA = "EdDSA"
	AlgorithmHS256 = "HS256"
)

// MinHMACSecretSize is the smallest shared secret accepted for HS256.
const MinHMACSecretSize = 32

// Signer holds private signing material for one key id.
type Signer interface {
	Alg() string
	KID() string
	Sign(Claims) (string, error)

	// VerificationKey returns the material needed to check this signer's
	// signatures. For HS256 that is the shared secret itself.
	VerificationKey() VerificationKey

	// PublicJWK returns the publishable key. ok is false for symmetric keys,
	// which must never leave the process.
	PublicJWK() (jwk JWK, ok bool)
}

// VerificationKey is what a verifier needs for one kid.
type VerificationKey struct {
	KID       string
	Algorithm string
	// Key is *rsa.PublicKey, *ecdsa.PublicKey, ed25519.PublicKey or, for
	// HS256, the []byte secret.
	Key any
}

// Symmetric reports whether the key is a shared secret.
func (k VerificationKey) Symmetric() bool { return k.Algorithm == AlgorithmHS256 }

// JWK returns the publishable form of an asymmetric key.
func (k VerificationKey) JWK() (JWK, bool) {
	switch pub := k.Key.(type) {
	case *rsa.PublicKey:
		return NewRSAJWK(k.KID, "sig", k.Algorithm, pub), true
	case *ecdsa.PublicKey:
		return NewES256JWK(k.KID, "sig", k.Algorithm, pub), true
	case ed25519.PublicKey:
		return NewEd25519JWK(k.KID, "sig", k.Algorithm, pub), true
	}
	return JWK{}, false
}

// NewSigner builds a signer from key material: a PEM private key for the
// asymmetric algorithms, or the raw shared secret for HS256.
func NewSigner(alg, kid string, material []byte) (Signer, error) {
	if kid == "" {
		return nil, fmt.Errorf("%w: kid is required", ErrInvalidInput)
	}

	if alg == AlgorithmHS256 {
		if len(material) < MinHMACSecretSize {
			return nil, fmt.Errorf("jwtx: HS256 secret must be at least %d bytes", MinHMACSecretSize)
		}
		secret := append([]byte(nil), material...)
		return &hmacSigner{kid: kid, secret: secret}, nil
	}

	method := signingMethod(alg)
	if method == nil {
		return nil, fmt.Errorf("jwtx: unsupported algorithm %q (supported: RS256, ES256, EdDSA, HS256)", alg)
	}
	priv, err := parsePrivateKey(alg, material)
	if err != nil {
		return nil, err
	}
	return &asymmetricSigner{
		kid:    kid,
		method: method,
		key:    priv,
		pub:    publicKeyOf(priv),
	}, nil
}

// GenerateKey creates fresh key material for alg and returns it together
// with a signer over it. The material is what gets persisted (encrypted).
func GenerateKey(alg, kid string, rsaBits int) ([]byte, Signer, error) {
	var (
		material []byte
		err      error
	)
	switch alg {
	case AlgorithmRS256:
		if rsaBits == 0 {
			rsaBits = 4096
		}
		material, err = cryptox.GenerateRSAKey(rsaBits)
	case AlgorithmES256:
		material, err = cryptox.GenerateES256Key()
	case AlgorithmEdDSA:
		material, err = cryptox.GenerateEd25519Key()
	case AlgorithmHS256:
		material, err = cryptox.GenerateSecret(MinHMACSecretSize)
	default:
		return nil, nil, fmt.Errorf("jwtx: unsupported algorithm %q", alg)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("jwtx: generate %s key: %w", alg, err)
	}

	signer, err := NewSigner(alg, kid, material)
	if err != nil {
		return nil, nil, err
	}
	return material, signer, nil
}

// NewKeyID returns a random key identifier.
func NewKeyID() (string, error) {
	token, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		return "", fmt.Errorf("jwtx: generate key id: %w", err)
	}
	return "iam-" + token, nil
}

func signingMethod(alg string) jwt.SigningMethod {
	switch alg {
	case AlgorithmRS256:
		return jwt.SigningMethodRS256
	case AlgorithmES256:
		return jwt.SigningMethodES256
	case AlgorithmEdDSA:
		return jwt.SigningMethodEdDSA
	case AlgorithmHS256:
		return jwt.SigningMethodHS256
	}
	return nil
}

type asymmetricSigner struct {
	kid    string
	method jwt.SigningMethod
	key    any
	pub    any
}

func (s *asymmetricSigner) Alg() string { return s.method.Alg() }
func (s *asymmetricSigner) KID() string { return s.kid }

func (s *asymmetricSigner) Sign(claims Claims) (string, error) {
	t := jwt.NewWithClaims(s.method, claims)
	t.Header["kid"] = s.kid
	return t.SignedString(s.key)
}

func (s *asymmetricSigner) VerificationKey() VerificationKey {
	return VerificationKey{KID: s.kid, Algorithm: s.method.Alg(), Key: s.pub}
}

func (s *asymmetricSigner) PublicJWK() (JWK, bool) {
	return s.VerificationKey().JWK()
}

type hmacSigner struct {
	kid    string
	secret []byte
}

func (s *hmacSigner) Alg() string { return AlgorithmHS256 }
func (s *hmacSigner) KID() string { return s.kid }

func (s *hmacSigner) Sign(claims Claims) (string, error) {
	if len(s.secret) == 0 {
		return "", errors.New("jwtx: empty HMAC secret")
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	t.Header["kid"] = s.kid
	return t.SignedString(s.secret)
}

func (s *hmacSigner) VerificationKey() VerificationKey {
	return VerificationKey{KID: s.kid, Algorithm: AlgorithmHS256, Key: s.secret}
}

func (s *hmacSigner) PublicJWK() (JWK, bool) { return JWK{}, false }
