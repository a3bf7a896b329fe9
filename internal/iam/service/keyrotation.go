package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/qhomebase/iam/internal/iam/store"
	"github.com/qhomebase/iam/pkg/cryptox"
	"github.com/qhomebase/iam/pkg/jwtx"
	"github.com/qhomebase/iam/pkg/obs"
	"github.com/qhomebase/iam/pkg/slogx"
)

// KeyRotationService rotates the signing key at runtime.
//
// With a Store the new key is sealed and persisted, and the previous key is
// marked retired in the same transaction, so a restart resumes with the
// same keyring. Without one the rotation only lives in memory.
type KeyRotationService struct {
	Store      store.Store // nil in ephemeral mode
	Sealer     *cryptox.Sealer
	KeyManager *jwtx.KeyManager
	Now        func() time.Time
}

// RotateResult describes a completed rotation.
type RotateResult struct {
	NewKID       string     `json:"new_kid"`
	Algorithm    string     `json:"algorithm"`
	RetiredKID   string     `json:"retired_kid,omitempty"`
	RetiredUntil *time.Time `json:"retired_until,omitempty"`
}

// Rotate makes a freshly generated key active. The previous key stays
// verifiable for the key manager's retention.
func (s *KeyRotationService) Rotate(ctx context.Context) (RotateResult, error) {
	if s.KeyManager == nil {
		return RotateResult{}, errors.New("key manager is required")
	}
	km := s.KeyManager
	prev, _ := km.ActiveKeyID()

	var (
		kid string
		err error
	)
	if s.Store == nil {
		kid, err = km.Rotate()
		if err != nil {
			return RotateResult{}, fmt.Errorf("rotate key: %w", err)
		}
	} else {
		kid, err = s.rotatePersistent(ctx, prev)
		if err != nil {
			return RotateResult{}, err
		}
	}

	obs.KeyRotated()
	res := RotateResult{NewKID: kid, Algorithm: km.Algorithm(), RetiredKID: prev}
	if prev != "" {
		until := nowFrom(s.Now).Add(km.Retention())
		res.RetiredUntil = &until
	}
	slogx.FromContext(ctx).Info("signing key rotated", "kid", kid, "retired_kid", prev, "algorithm", res.Algorithm)
	return res, nil
}

func (s *KeyRotationService) rotatePersistent(ctx context.Context, prev string) (string, error) {
	if s.Sealer == nil {
		return "", errors.New("sealer is required in persistent mode")
	}
	km := s.KeyManager
	now := nowFrom(s.Now)

	rec, signer, err := jwtx.NewSigningKeyRecord(km.Algorithm(), km.RSABits(), s.Sealer, now)
	if err != nil {
		return "", err
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if prev != "" {
			err := tx.SigningKeys().RetireSigningKey(ctx, prev, now, now.Add(km.Retention()))
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("retire key %s: %w", prev, err)
			}
		}
		if err := tx.SigningKeys().CreateSigningKey(ctx, store.FromRecord(rec)); err != nil {
			return fmt.Errorf("store key %s: %w", rec.KID, err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	if err := km.Install(signer); err != nil {
		return "", err
	}
	return rec.KID, nil
}

// Keys lists the keys the manager currently holds.
func (s *KeyRotationService) Keys() []jwtx.KeyInfo {
	return s.KeyManager.Keys()
}
