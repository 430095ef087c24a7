package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/handshake/internal/handshake/store"
)

// DefaultRetention is how long settled records outlive their purpose.
const DefaultRetention = 48 * time.Hour

// HousekeepingService periodically cleans up records nothing reads any
// more, to prevent unbounded growth of signing_keys, challenges,
// idempotency_records and the upload spool.
type HousekeepingService struct {
	Store     store.Store
	Uploads   *UploadService // nil skips the spool purge
	Logger    *slog.Logger
	Clock     Clock
	Interval  time.Duration
	Retention time.Duration

	// Internal channels for lifecycle management
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService creates a new housekeeping service with the given interval.
// If interval is 0 or negative, defaults to 1 hour.
func NewHousekeepingService(store store.Store, uploads *UploadService, logger *slog.Logger, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = 1 * time.Hour
	}

	return &HousekeepingService{
		Store:     store,
		Uploads:   uploads,
		Logger:    logger,
		Interval:  interval,
		Retention: DefaultRetention,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start begins the background worker that periodically runs cleanup.
// This is non-blocking and should be called after the database is ready.
// Call Stop() to gracefully shutdown the worker.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval)
}

// Stop gracefully shuts down the background worker.
// Blocks until the worker has finished any in-progress cleanup.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	// Run cleanup immediately on startup
	s.Cleanup(context.Background())

	for {
		select {
		case <-ticker.C:
			s.Cleanup(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// Cleanup performs one pass. Each deletion is independent; failures in one
// won't stop the others. It returns the number of successful steps.
func (s *HousekeepingService) Cleanup(ctx context.Context) int {
	s.Logger.Info("starting housekeeping cleanup")

	retention := s.Retention
	if retention <= 0 {
		retention = DefaultRetention
	}
	cutoff := s.Clock.Now().Add(-retention)
	successful := 0

	// Signing keys closed before the cutoff can verify nothing.
	if n, err := s.Store.SigningKeys().DeleteClosedSigningKeys(ctx, cutoff); err != nil {
		s.Logger.Error("failed to delete closed signing keys", "error", err)
	} else {
		s.Logger.Debug("deleted closed signing keys", slog.Int64("count", n))
		successful++
	}

	if n, err := s.Store.Challenges().DeleteSettledChallenges(ctx, cutoff); err != nil {
		s.Logger.Error("failed to delete settled challenges", "error", err)
	} else {
		s.Logger.Debug("deleted settled challenges", slog.Int64("count", n))
		successful++
	}

	if n, err := s.Store.Idempotency().DeleteIdempotencyRecordsBefore(ctx, cutoff); err != nil {
		s.Logger.Error("failed to delete idempotency records", "error", err)
	} else {
		s.Logger.Debug("deleted idempotency records", slog.Int64("count", n))
		successful++
	}

	if s.Uploads != nil {
		if n, err := s.Uploads.PurgeSpool(ctx); err != nil {
			s.Logger.Error("failed to purge upload spool", "error", err)
		} else {
			s.Logger.Debug("purged spool files", slog.Int("count", n))
			successful++
		}
	}

	s.Logger.Info("housekeeping cleanup completed", "successful_cleanups", successful)
	return successful
}
