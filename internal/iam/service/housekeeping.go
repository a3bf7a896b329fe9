package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/qhomebase/iam/internal/iam/store"
	"github.com/qhomebase/iam/pkg/jwtx"
	"github.com/qhomebase/iam/pkg/revocation"
)

// DefaultOverrideRetention is how long expired overrides are kept for
// auditing before housekeeping deletes them.
const DefaultOverrideRetention = 30 * 24 * time.Hour

// HousekeepingService periodically drops state that can no longer matter:
// revocations of expired tokens, long-expired overrides, expired signing
// keys.
type HousekeepingService struct {
	Store       store.Store // optional
	KeyManager  *jwtx.KeyManager
	Revocations revocation.Purger // optional
	Logger      *slog.Logger
	Interval    time.Duration

	OverrideRetention time.Duration
	Now               func() time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// HousekeepingReport counts what one pass removed.
type HousekeepingReport struct {
	Revocations int
	Overrides   int64
	SigningKeys int64
	PrunedKeys  int
	Failures    int
}

// NewHousekeepingService returns a service running every interval,
// defaulting to one hour.
func NewHousekeepingService(s store.Store, km *jwtx.KeyManager, rev revocation.Purger, logger *slog.Logger, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = time.Hour
	}
	return &HousekeepingService{
		Store:       s,
		KeyManager:  km,
		Revocations: rev,
		Logger:      logger,
		Interval:    interval,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start runs the worker in the background until Stop.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval)
}

// Stop ends the worker and waits for an in-progress pass.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.RunOnce(context.Background())
	for {
		select {
		case <-ticker.C:
			s.RunOnce(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// RunOnce performs one pass. Each step is independent; a failing step is
// logged and counted.
func (s *HousekeepingService) RunOnce(ctx context.Context) HousekeepingReport {
	now := nowFrom(s.Now)
	var rep HousekeepingReport

	if s.Revocations != nil {
		n, err := s.Revocations.Purge(ctx, now)
		if err != nil {
			s.Logger.Error("failed to purge revocations", "error", err)
			rep.Failures++
		}
		rep.Revocations = n
	}

	if s.KeyManager != nil {
		rep.PrunedKeys = s.KeyManager.Prune(now)
	}

	if s.Store != nil {
		retention := s.OverrideRetention
		if retention <= 0 {
			retention = DefaultOverrideRetention
		}
		n, err := s.Store.Overrides().DeleteExpiredBefore(ctx, now.Add(-retention))
		if err != nil {
			s.Logger.Error("failed to delete expired overrides", "error", err)
			rep.Failures++
		}
		rep.Overrides = n

		n, err = s.Store.SigningKeys().DeleteExpiredSigningKeys(ctx, now)
		if err != nil {
			s.Logger.Error("failed to delete expired signing keys", "error", err)
			rep.Failures++
		}
		rep.SigningKeys = n
	}

	s.Logger.Info("housekeeping cleanup completed",
		"revocations", rep.Revocations,
		"overrides", rep.Overrides,
		"signing_keys", rep.SigningKeys,
		"pruned_keys", rep.PrunedKeys,
		"failures", rep.Failures,
	)
	return rep
}
