package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/handshake/internal/handshake/store"
	"github.com/aussiebroadwan/handshake/pkg/slogx"
)

// WatchdogService enforces the time limits nobody is waiting on: pending
// challenges past their expiry (including those whose delivery worker was
// lost to a restart) and upload sessions that stopped receiving bytes.
type WatchdogService struct {
	Orchestrator *Orchestrator
	Store        store.Store
	Uploads      *UploadService
	Logger       *slog.Logger
	Clock        Clock
	Interval     time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewWatchdogService creates a watchdog with the given interval.
// If interval is 0 or negative, defaults to 5 seconds.
func NewWatchdogService(o *Orchestrator, uploads *UploadService, logger *slog.Logger, interval time.Duration) *WatchdogService {
	if interval <= 0 {
		interval = 5 * time.Second
	}

	return &WatchdogService{
		Orchestrator: o,
		Store:        o.Store,
		Uploads:      uploads,
		Logger:       logger,
		Clock:        o.Clock,
		Interval:     interval,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// Start begins the background worker. Call Stop() to shut it down.
func (s *WatchdogService) Start() {
	go s.run()
	s.Logger.Info("watchdog service started", "interval", s.Interval)
}

// Stop gracefully shuts down the background worker.
func (s *WatchdogService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("watchdog service stopped")
}

func (s *WatchdogService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.Check(context.Background())

	for {
		select {
		case <-ticker.C:
			s.Check(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// Check runs one pass and returns the number of challenges expired and
// uploads stalled.
func (s *WatchdogService) Check(ctx context.Context) (expired, stalled int) {
	ctx = slogx.WithContext(ctx, s.Logger)

	overdue, err := s.Store.Challenges().ListOverdueChallenges(ctx, s.Clock.Now())
	if err != nil {
		s.Logger.Error("failed to list overdue challenges", "error", err)
	}
	for _, ch := range overdue {
		if err := s.Orchestrator.ExpireChallenge(ctx, ch); err != nil {
			s.Logger.Error("failed to expire challenge", slog.String("challenge_id", ch.ID), slog.Any("error", err))
			continue
		}
		expired++
	}

	if s.Uploads != nil {
		if stalled, err = s.Uploads.SweepStalled(ctx); err != nil {
			s.Logger.Error("failed to sweep stalled uploads", "error", err)
		}
	}

	if expired > 0 || stalled > 0 {
		s.Logger.Info("watchdog pass", slog.Int("challenges_expired", expired), slog.Int("uploads_stalled", stalled))
	}
	return expired, stalled
}
