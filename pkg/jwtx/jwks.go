package jwtx

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
)

// JWK represents a public key in JSON Web Key format (RFC 7517).
type JWK struct {
	Kty string `json:"kty"`           // "RSA", "OKP" or "EC"
	Use string `json:"use,omitempty"` // "sig"
	Alg string `json:"alg,omitempty"` // "RS256", "EdDSA", "ES256"
	Kid string `json:"kid,omitempty"`

	// RSA
	N string `json:"n,omitempty"`
	E string `json:"e,omitempty"`

	// OKP and EC
	Crv string `json:"crv,omitempty"`
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`
}

// JWKS is a JSON Web Key Set (RFC 7517).
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// Find returns the key with the given kid.
func (s JWKS) Find(kid string) (JWK, bool) {
	for _, k := range s.Keys {
		if k.Kid == kid {
			return k, true
		}
	}
	return JWK{}, false
}

// NewRSAJWK builds a JWK for an RSA public key.
func NewRSAJWK(kid, use, alg string, pub *rsa.PublicKey) JWK {
	return JWK{
		Kty: "RSA",
		Use: use,
		Alg: alg,
		Kid: kid,
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}

// NewEd25519JWK builds an OKP JWK for an Ed25519 public key.
func NewEd25519JWK(kid, use, alg string, pub ed25519.PublicKey) JWK {
	return JWK{
		Kty: "OKP",
		Use: use,
		Alg: alg,
		Kid: kid,
		Crv: "Ed25519",
		X:   base64.RawURLEncoding.EncodeToString(pub),
	}
}

// NewES256JWK builds an EC JWK for a P-256 public key. Coordinates are left
// padded to the 32 byte field size.
func NewES256JWK(kid, use, alg string, pub *ecdsa.PublicKey) JWK {
	x := make([]byte, 32)
	y := make([]byte, 32)
	pub.X.FillBytes(x)
	pub.Y.FillBytes(y)

	return JWK{
		Kty: "EC",
		Use: use,
		Alg: alg,
		Kid: kid,
		Crv: "P-256",
		X:   base64.RawURLEncoding.EncodeToString(x),
		Y:   base64.RawURLEncoding.EncodeToString(y),
	}
}

// ParseJWK converts a published JWK back into a verification key. The alg
// member is required so the verifier can refuse algorithm substitution.
func ParseJWK(j JWK) (VerificationKey, error) {
	if j.Kid == "" {
		return VerificationKey{}, errors.New("jwtx: jwk without kid")
	}

	vk := VerificationKey{KID: j.Kid, Algorithm: j.Alg}
	switch j.Kty {
	case "RSA":
		nb, err := base64.RawURLEncoding.DecodeString(j.N)
		if err != nil {
			return VerificationKey{}, fmt.Errorf("jwtx: jwk n: %w", err)
		}
		eb, err := base64.RawURLEncoding.DecodeString(j.E)
		if err != nil {
			return VerificationKey{}, fmt.Errorf("jwtx: jwk e: %w", err)
		}
		vk.Key = &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: int(new(big.Int).SetBytes(eb).Int64())}
		if vk.Algorithm == "" {
			vk.Algorithm = AlgorithmRS256
		}

	case "OKP":
		if j.Crv != "Ed25519" {
			return VerificationKey{}, errors.New("jwtx: unsupported OKP curve " + j.Crv)
		}
		xb, err := base64.RawURLEncoding.DecodeString(j.X)
		if err != nil {
			return VerificationKey{}, fmt.Errorf("jwtx: jwk x: %w", err)
		}
		if len(xb) != ed25519.PublicKeySize {
			return VerificationKey{}, errors.New("jwtx: invalid Ed25519 public key size")
		}
		vk.Key = ed25519.PublicKey(xb)
		if vk.Algorithm == "" {
			vk.Algorithm = AlgorithmEdDSA
		}

	case "EC":
		if j.Crv != "P-256" {
			return VerificationKey{}, errors.New("jwtx: unsupported EC curve " + j.Crv)
		}
		xb, err := base64.RawURLEncoding.DecodeString(j.X)
		if err != nil {
			return VerificationKey{}, fmt.Errorf("jwtx: jwk x: %w", err)
		}
		yb, err := base64.RawURLEncoding.DecodeString(j.Y)
		if err != nil {
			return VerificationKey{}, fmt.Errorf("jwtx: jwk y: %w", err)
		}
		vk.Key = &ecdsa.PublicKey{
			Curve: elliptic.P256(),
			X:     new(big.Int).SetBytes(xb),
			Y:     new(big.Int).SetBytes(yb),
		}
		if vk.Algorithm == "" {
			vk.Algorithm = AlgorithmES256
		}

	default:
		return VerificationKey{}, errors.New("jwtx: unsupported kty " + j.Kty)
	}

	return vk, nil
}

// PEM converts the JWK to a PKIX PEM public key, handy for jwt.io and for
// feeding another deployment's additional-keys configuration.
func (j JWK) PEM() (string, error) {
	vk, err := ParseJWK(j)
	if err != nil {
		return "", err
	}

	der, err := x509.MarshalPKIXPublicKey(vk.Key)
	if err != nil {
		return "", err
	}

	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}
