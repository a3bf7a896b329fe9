package jwtx_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/qhomebase/iam/pkg/cryptox"
	"github.com/qhomebase/iam/pkg/jwtx"
)

type memKeyStore struct {
	mu      sync.Mutex
	records []jwtx.SigningKeyRecord
}

func (s *memKeyStore) ListSigningKeys(context.Context) ([]jwtx.SigningKeyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]jwtx.SigningKeyRecord(nil), s.records...), nil
}

func (s *memKeyStore) CreateSigningKey(_ context.Context, rec jwtx.SigningKeyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *memKeyStore) RetireSigningKey(_ context.Context, kid string, retiredAt, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.records {
		if s.records[i].KID == kid {
			s.records[i].RetiredAt = &retiredAt
			s.records[i].ExpiresAt = &expiresAt
		}
	}
	return nil
}

func (s *memKeyStore) active() []jwtx.SigningKeyRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []jwtx.SigningKeyRecord
	for _, r := range s.records {
		if r.Active() {
			out = append(out, r)
		}
	}
	return out
}

func newSealer(t *testing.T) *cryptox.Sealer {
	t.Helper()
	s, err := cryptox.NewSealer([]byte("persistent-key-manager-test"))
	require.NoError(t, err)
	return s
}

func TestPersistentKeyManager_GeneratesAndReloads(t *testing.T) {
	ctx := context.Background()
	store := &memKeyStore{}
	sealer := newSealer(t)
	opts := jwtx.PersistentKeyManagerOptions{
		KeyManagerOptions: jwtx.KeyManagerOptions{Algorithm: jwtx.AlgorithmEdDSA},
		Store:             store,
		Sealer:            sealer,
	}

	first, err := jwtx.NewPersistentKeyManager(ctx, opts)
	require.NoError(t, err)
	require.Len(t, store.records, 1)
	require.NotEmpty(t, store.records[0].ID)

	kid, err := first.ActiveKeyID()
	require.NoError(t, err)
	require.Equal(t, store.records[0].KID, kid)

	// A restart picks up the same key instead of generating a new one.
	second, err := jwtx.NewPersistentKeyManager(ctx, opts)
	require.NoError(t, err)
	require.Len(t, store.records, 1)

	kid2, err := second.ActiveKeyID()
	require.NoError(t, err)
	require.Equal(t, kid, kid2)

	// Tokens minted before the restart still verify.
	iss, err := jwtx.NewIssuer(first, jwtx.IssuerOptions{Issuer: testIssuer})
	require.NoError(t, err)
	token, _, err := iss.Issue(accessRequest())
	require.NoError(t, err)

	v, err := jwtx.NewVerifier(second, jwtx.VerifierOptions{Issuer: testIssuer})
	require.NoError(t, err)
	_, err = v.Verify(ctx, token)
	require.NoError(t, err)
}

func TestPersistentKeyManager_RetiredKeysStayVerifiable(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	store := &memKeyStore{}
	sealer := newSealer(t)

	old, oldSigner, err := jwtx.NewSigningKeyRecord(jwtx.AlgorithmES256, 0, sealer, now.Add(-48*time.Hour))
	require.NoError(t, err)
	retired := now.Add(-24 * time.Hour)
	until := now.Add(24 * time.Hour)
	old.RetiredAt, old.ExpiresAt = &retired, &until

	expired, _, err := jwtx.NewSigningKeyRecord(jwtx.AlgorithmES256, 0, sealer, now.Add(-96*time.Hour))
	require.NoError(t, err)
	gone := now.Add(-time.Hour)
	expired.RetiredAt, expired.ExpiresAt = &gone, &gone

	current, _, err := jwtx.NewSigningKeyRecord(jwtx.AlgorithmES256, 0, sealer, now.Add(-24*time.Hour))
	require.NoError(t, err)

	store.records = []jwtx.SigningKeyRecord{old, expired, current}

	km, err := jwtx.NewPersistentKeyManager(ctx, jwtx.PersistentKeyManagerOptions{
		KeyManagerOptions: jwtx.KeyManagerOptions{Algorithm: jwtx.AlgorithmES256, Now: func() time.Time { return now }},
		Store:             store,
		Sealer:            sealer,
	})
	require.NoError(t, err)

	kid, _ := km.ActiveKeyID()
	require.Equal(t, current.KID, kid)

	vk, err := km.VerificationKey(old.KID)
	require.NoError(t, err)
	require.Equal(t, oldSigner.KID(), vk.KID)
	require.Equal(t, jwtx.AlgorithmES256, vk.Algorithm)

	_, err = km.VerificationKey(expired.KID)
	require.ErrorIs(t, err, jwtx.ErrKeyNotFound)
}

func TestPersistentKeyManager_AlgorithmChange(t *testing.T) {
	ctx := context.Background()
	store := &memKeyStore{}
	sealer := newSealer(t)

	_, err := jwtx.NewPersistentKeyManager(ctx, jwtx.PersistentKeyManagerOptions{
		KeyManagerOptions: jwtx.KeyManagerOptions{Algorithm: jwtx.AlgorithmEdDSA},
		Store:             store,
		Sealer:            sealer,
	})
	require.NoError(t, err)
	edKID := store.records[0].KID

	km, err := jwtx.NewPersistentKeyManager(ctx, jwtx.PersistentKeyManagerOptions{
		KeyManagerOptions: jwtx.KeyManagerOptions{Algorithm: jwtx.AlgorithmES256},
		Store:             store,
		Sealer:            sealer,
	})
	require.NoError(t, err)

	signer, err := km.ActiveSigner()
	require.NoError(t, err)
	require.Equal(t, jwtx.AlgorithmES256, signer.Alg())

	active := store.active()
	require.Len(t, active, 1)
	require.Equal(t, signer.KID(), active[0].KID)

	_, err = km.VerificationKey(edKID)
	require.NoError(t, err, "previous algorithm's key stays verifiable")
}

func TestPersistentKeyManager_WrongMasterKey(t *testing.T) {
	ctx := context.Background()
	store := &memKeyStore{}

	_, err := jwtx.NewPersistentKeyManager(ctx, jwtx.PersistentKeyManagerOptions{
		KeyManagerOptions: jwtx.KeyManagerOptions{Algorithm: jwtx.AlgorithmEdDSA},
		Store:             store,
		Sealer:            newSealer(t),
	})
	require.NoError(t, err)

	other, err := cryptox.NewSealer([]byte("a different master key"))
	require.NoError(t, err)
	_, err = jwtx.NewPersistentKeyManager(ctx, jwtx.PersistentKeyManagerOptions{
		KeyManagerOptions: jwtx.KeyManagerOptions{Algorithm: jwtx.AlgorithmEdDSA},
		Store:             store,
		Sealer:            other,
	})
	require.Error(t, err)
}

func TestPersistentKeyManager_RequiresStoreAndSealer(t *testing.T) {
	_, err := jwtx.NewPersistentKeyManager(context.Background(), jwtx.PersistentKeyManagerOptions{
		KeyManagerOptions: jwtx.KeyManagerOptions{Algorithm: jwtx.AlgorithmEdDSA},
	})
	require.ErrorIs(t, err, jwtx.ErrInvalidInput)
}
