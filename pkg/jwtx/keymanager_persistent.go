package jwtx

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/qhomebase/iam/pkg/cryptox"
	"github.com/qhomebase/iam/pkg/idx"
)

// SigningKeyRecord is a signing key as persisted by a KeyStore. The private
// material is sealed with the deployment master key.
type SigningKeyRecord struct {
	ID                  string
	KID                 string
	Algorithm           string
	PrivateKeyEncrypted []byte
	CreatedAt           time.Time
	RetiredAt           *time.Time
	// ExpiresAt is set on retirement: the end of the verification window.
	ExpiresAt *time.Time
}

// Active reports whether the record has not been retired.
func (r SigningKeyRecord) Active() bool { return r.RetiredAt == nil }

// KeyStore is the persistence the key manager needs. It is declared here so
// jwtx does not depend on the service's store package.
type KeyStore interface {
	ListSigningKeys(ctx context.Context) ([]SigningKeyRecord, error)
	CreateSigningKey(ctx context.Context, key SigningKeyRecord) error
	RetireSigningKey(ctx context.Context, kid string, retiredAt, expiresAt time.Time) error
}

// PersistentKeyManagerOptions configures NewPersistentKeyManager.
type PersistentKeyManagerOptions struct {
	KeyManagerOptions

	Store  KeyStore
	Sealer *cryptox.Sealer
}

// NewPersistentKeyManager loads signing keys from store so they survive
// restarts.
//
// The newest unretired record becomes the active key. Retired records stay
// verification-only until their ExpiresAt. When no usable active key exists,
// or the configured algorithm changed, a fresh key is generated and stored.
func NewPersistentKeyManager(ctx context.Context, opts PersistentKeyManagerOptions) (*KeyManager, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("%w: key store is required", ErrInvalidInput)
	}
	if opts.Sealer == nil {
		return nil, fmt.Errorf("%w: sealer is required", ErrInvalidInput)
	}

	km, err := NewKeyManager(opts.KeyManagerOptions)
	if err != nil {
		return nil, err
	}
	now := km.now()

	records, err := opts.Store.ListSigningKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("jwtx: load signing keys: %w", err)
	}
	slices.SortFunc(records, func(a, b SigningKeyRecord) int {
		return cmp.Compare(a.CreatedAt.UnixNano(), b.CreatedAt.UnixNano())
	})

	var (
		active       Signer
		activeRecord SigningKeyRecord
	)
	for _, rec := range records {
		if !rec.Active() {
			if rec.ExpiresAt == nil || now.After(*rec.ExpiresAt) {
				continue
			}
			signer, err := openRecord(opts.Sealer, rec)
			if err != nil {
				return nil, err
			}
			if err := km.Retain(signer.VerificationKey(), *rec.ExpiresAt); err != nil {
				return nil, err
			}
			continue
		}

		signer, err := openRecord(opts.Sealer, rec)
		if err != nil {
			return nil, err
		}
		if active != nil {
			// An older unretired key: keep it verifiable and retire it.
			if err := retireRecord(ctx, opts.Store, km, activeRecord.KID, active, now); err != nil {
				return nil, err
			}
		}
		active, activeRecord = signer, rec
	}

	if active != nil && active.Alg() != km.algorithm {
		if err := retireRecord(ctx, opts.Store, km, activeRecord.KID, active, now); err != nil {
			return nil, err
		}
		active = nil
	}

	if active == nil {
		rec, signer, err := NewSigningKeyRecord(km.algorithm, km.rsaBits, opts.Sealer, now)
		if err != nil {
			return nil, err
		}
		if err := opts.Store.CreateSigningKey(ctx, rec); err != nil {
			return nil, fmt.Errorf("jwtx: store signing key: %w", err)
		}
		active = signer
	}

	if err := km.Install(active); err != nil {
		return nil, err
	}
	return km, nil
}

// NewSigningKeyRecord generates a key and seals it for storage. The caller
// persists the record and installs the signer.
func NewSigningKeyRecord(alg string, rsaBits int, sealer *cryptox.Sealer, now time.Time) (SigningKeyRecord, Signer, error) {
	kid, err := NewKeyID()
	if err != nil {
		return SigningKeyRecord{}, nil, err
	}
	material, signer, err := GenerateKey(alg, kid, rsaBits)
	if err != nil {
		return SigningKeyRecord{}, nil, err
	}
	sealed, err := sealer.Seal(kid, material)
	if err != nil {
		return SigningKeyRecord{}, nil, fmt.Errorf("jwtx: seal signing key: %w", err)
	}

	return SigningKeyRecord{
		ID:                  string(idx.NewAt(now)),
		KID:                 kid,
		Algorithm:           alg,
		PrivateKeyEncrypted: sealed,
		CreatedAt:           now,
	}, signer, nil
}

func openRecord(sealer *cryptox.Sealer, rec SigningKeyRecord) (Signer, error) {
	material, err := sealer.Open(rec.KID, rec.PrivateKeyEncrypted)
	if err != nil {
		return nil, fmt.Errorf("jwtx: decrypt key %s: %w", rec.KID, err)
	}
	signer, err := NewSigner(rec.Algorithm, rec.KID, material)
	if err != nil {
		return nil, fmt.Errorf("jwtx: load key %s: %w", rec.KID, err)
	}
	return signer, nil
}

func retireRecord(ctx context.Context, store KeyStore, km *KeyManager, kid string, signer Signer, now time.Time) error {
	until := now.Add(km.retention)
	if err := store.RetireSigningKey(ctx, kid, now, until); err != nil {
		return fmt.Errorf("jwtx: retire key %s: %w", kid, err)
	}
	return km.Retain(signer.VerificationKey(), until)
}
