package app

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"

	"github.com/qhomebase/iam/internal/iam/store"
	"github.com/qhomebase/iam/pkg/cryptox"
	"github.com/qhomebase/iam/pkg/jwtx"
)

// InitKeys creates the KeyManager for the configured algorithm and storage
// mode.
//
// Storage modes:
//   - "ephemeral": a key is generated on startup and kept only in memory.
//     Tokens signed before a restart stop verifying.
//   - "persistent": keys are sealed with the master key and stored in the
//     database, so tokens survive restarts and rotations are durable.
//
// HS256 never generates a key at startup: the shared secret comes from
// IAM_HMAC_SECRET and its kid is derived from the secret, so every replica
// agrees on it.
func InitKeys(ctx context.Context, cfg Config, db store.Store, sealer *cryptox.Sealer, logger *slog.Logger) (*jwtx.KeyManager, error) {
	additional, err := ParseAdditionalKeys(cfg.AdditionalPublicKeys)
	if err != nil {
		return nil, err
	}

	opts := jwtx.KeyManagerOptions{
		Algorithm:      cfg.Algorithm,
		RSABits:        cfg.RSABits,
		Retention:      cfg.KeyRetention,
		AdditionalKeys: additional,
	}

	var km *jwtx.KeyManager
	switch {
	case cfg.Algorithm == jwtx.AlgorithmHS256:
		km, err = jwtx.NewKeyManager(opts)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize key manager: %w", err)
		}
		signer, err := jwtx.NewSigner(jwtx.AlgorithmHS256, HMACKeyID(cfg.HMACSecret), []byte(cfg.HMACSecret))
		if err != nil {
			return nil, err
		}
		if err := km.Install(signer); err != nil {
			return nil, err
		}
		logger.Info("shared secret signing key installed", "algorithm", jwtx.AlgorithmHS256, "kid", signer.KID())

	case cfg.KeyStorageMode == KeyStoragePersistent:
		if sealer.Ephemeral() {
			logger.Warn("no master key configured; persisted keys will be unreadable after restart",
				"hint", "set IAM_MASTER_KEY_PATH or "+cryptox.MasterKeyEnv)
		}
		km, err = jwtx.NewPersistentKeyManager(ctx, jwtx.PersistentKeyManagerOptions{
			KeyManagerOptions: opts,
			Store:             store.NewKeyStoreAdapter(db),
			Sealer:            sealer,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize persistent key manager: %w", err)
		}
		logger.Info("persistent key mode enabled - tokens will survive restarts",
			"algorithm", km.Algorithm(), "retention", km.Retention(),
		)

	default:
		km, err = jwtx.NewEphemeralKeyManager(opts)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize ephemeral key manager: %w", err)
		}
		logger.Warn("ephemeral signing key generated; tokens issued before this start are no longer valid",
			"algorithm", km.Algorithm(),
		)
	}

	kid, err := km.ActiveKeyID()
	if err != nil {
		return nil, err
	}
	logger.Info("signing key ready", "kid", kid, "additional_keys", len(additional))
	return km, nil
}

// HMACKeyID derives a stable kid from a shared secret without revealing it.
func HMACKeyID(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return "hs-" + hex.EncodeToString(sum[:8])
}

// ParseAdditionalKeys reads verification-only public keys in the form
// "kid:base64pem;;kid2:base64pem".
func ParseAdditionalKeys(s string) ([]jwtx.VerificationKey, error) {
	var keys []jwtx.VerificationKey
	for _, entry := range strings.Split(s, ";;") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		kid, encoded, ok := strings.Cut(entry, ":")
		if !ok || kid == "" || encoded == "" {
			return nil, fmt.Errorf("additional public key %q: want kid:base64pem", entry)
		}
		pemBytes, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("additional public key %s: %w", kid, err)
		}
		key, err := jwtx.ParsePublicKeyPEM(kid, pemBytes)
		if err != nil {
			return nil, fmt.Errorf("additional public key %s: %w", kid, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}
