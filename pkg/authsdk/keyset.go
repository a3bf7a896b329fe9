package authsdk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/qhomebase/iam/pkg/jwtx"
)

// DefaultMinRefreshInterval limits how often an unknown kid may trigger a
// JWKS fetch.
const DefaultMinRefreshInterval = time.Minute

// RemoteKeySet is a jwtx.KeySource backed by the service's published JWKS.
// Keys are fetched on Refresh and again when a token names an unknown kid,
// no more than once per minRefresh.
type RemoteKeySet struct {
	client     *SDKClient
	minRefresh time.Duration
	timeout    time.Duration
	now        func() time.Time

	mu          sync.RWMutex
	keys        map[string]jwtx.VerificationKey
	lastAttempt time.Time

	fetchMu sync.Mutex
}

// NewRemoteKeySet creates an empty key set. Call Refresh once at startup.
func NewRemoteKeySet(client *SDKClient, minRefresh time.Duration) *RemoteKeySet {
	if minRefresh <= 0 {
		minRefresh = DefaultMinRefreshInterval
	}
	return &RemoteKeySet{
		client:     client,
		minRefresh: minRefresh,
		timeout:    5 * time.Second,
		now:        time.Now,
		keys:       map[string]jwtx.VerificationKey{},
	}
}

// Refresh replaces the cached keys with the current JWKS. Keys that fail to
// parse are skipped; an empty result keeps the previous keys.
func (s *RemoteKeySet) Refresh(ctx context.Context) error {
	s.fetchMu.Lock()
	defer s.fetchMu.Unlock()
	return s.fetch(ctx)
}

func (s *RemoteKeySet) fetch(ctx context.Context) error {
	s.mu.Lock()
	s.lastAttempt = s.now()
	s.mu.Unlock()

	jwks, err := s.client.GetJWKS(ctx)
	if err != nil {
		return fmt.Errorf("fetch jwks: %w", err)
	}

	keys := make(map[string]jwtx.VerificationKey, len(jwks.Keys))
	for _, j := range jwks.Keys {
		k, err := jwtx.ParseJWK(j)
		if err != nil {
			continue
		}
		keys[k.KID] = k
	}
	if len(keys) == 0 {
		return fmt.Errorf("fetch jwks: no usable keys")
	}

	s.mu.Lock()
	s.keys = keys
	s.mu.Unlock()
	return nil
}

// VerificationKey returns the public key for kid, refetching the JWKS when
// kid is unknown and the last fetch is older than the refresh interval.
func (s *RemoteKeySet) VerificationKey(kid string) (jwtx.VerificationKey, error) {
	if k, ok := s.lookup(kid); ok {
		return k, nil
	}

	s.fetchMu.Lock()
	defer s.fetchMu.Unlock()

	// Another caller may have fetched while we waited.
	if k, ok := s.lookup(kid); ok {
		return k, nil
	}
	s.mu.RLock()
	recent := s.now().Sub(s.lastAttempt) < s.minRefresh
	s.mu.RUnlock()
	if recent {
		return jwtx.VerificationKey{}, fmt.Errorf("%w: %s", jwtx.ErrKeyNotFound, kid)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.fetch(ctx); err != nil {
		return jwtx.VerificationKey{}, err
	}

	if k, ok := s.lookup(kid); ok {
		return k, nil
	}
	return jwtx.VerificationKey{}, fmt.Errorf("%w: %s", jwtx.ErrKeyNotFound, kid)
}

// KIDs returns the cached key ids.
func (s *RemoteKeySet) KIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.keys))
	for kid := range s.keys {
		out = append(out, kid)
	}
	return out
}

func (s *RemoteKeySet) lookup(kid string) (jwtx.VerificationKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keys[kid]
	return k, ok
}
