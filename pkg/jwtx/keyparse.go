package jwtx

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

// parsePrivateKey loads a PEM private key and checks it suits the algorithm.
// RSA keys may be PKCS1 or PKCS8, EC keys SEC1 or PKCS8, Ed25519 PKCS8 only.
func parsePrivateKey(alg string, pemKey []byte) (any, error) {
	block, _ := pem.Decode(pemKey)
	if block == nil {
		return nil, errors.New("jwtx: invalid PEM private key")
	}

	var (
		key any
		err error
	)
	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		key, err = x509.ParseECPrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	default:
		return nil, fmt.Errorf("jwtx: unsupported PEM type %q", block.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("jwtx: parse private key: %w", err)
	}

	switch k := key.(type) {
	case *rsa.PrivateKey:
		if alg != AlgorithmRS256 {
			break
		}
		if k.N.BitLen() < 2048 {
			return nil, errors.New("jwtx: RSA key must be at least 2048 bits")
		}
		return k, nil
	case *ecdsa.PrivateKey:
		if alg != AlgorithmES256 {
			break
		}
		if k.Curve != elliptic.P256() {
			return nil, errors.New("jwtx: ES256 requires a P-256 key")
		}
		return k, nil
	case ed25519.PrivateKey:
		if alg == AlgorithmEdDSA {
			return k, nil
		}
	}
	return nil, fmt.Errorf("jwtx: %T cannot be used for %s", key, alg)
}

// ParsePublicKeyPEM loads a PKIX public key and infers its algorithm.
func ParsePublicKeyPEM(kid string, pemKey []byte) (VerificationKey, error) {
	if kid == "" {
		return VerificationKey{}, fmt.Errorf("%w: kid is required", ErrInvalidInput)
	}
	block, _ := pem.Decode(pemKey)
	if block == nil || block.Type != "PUBLIC KEY" {
		return VerificationKey{}, errors.New("jwtx: expected PEM PUBLIC KEY block")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return VerificationKey{}, fmt.Errorf("jwtx: parse public key: %w", err)
	}

	vk := VerificationKey{KID: kid, Key: pub}
	switch k := pub.(type) {
	case *rsa.PublicKey:
		vk.Algorithm = AlgorithmRS256
	case *ecdsa.PublicKey:
		if k.Curve != elliptic.P256() {
			return VerificationKey{}, errors.New("jwtx: only P-256 EC keys are supported")
		}
		vk.Algorithm = AlgorithmES256
	case ed25519.PublicKey:
		vk.Algorithm = AlgorithmEdDSA
	default:
		return VerificationKey{}, fmt.Errorf("jwtx: unsupported public key %T", pub)
	}
	return vk, nil
}

// publicKeyOf returns the public half of a supported private key.
func publicKeyOf(priv any) any {
	switch k := priv.(type) {
	case *rsa.PrivateKey:
		return &k.PublicKey
	case *ecdsa.PrivateKey:
		return &k.PublicKey
	case ed25519.PrivateKey:
		return k.Public().(ed25519.PublicKey)
	}
	return nil
}
