package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/handshake/pkg/jwtx"
)

// KeyRotationService keeps the rotating signing key set ahead of the
// clock. Each tick mints the successor kid once the current window enters
// its overlap, seeds the verifier cache with it and evicts closed windows.
type KeyRotationService struct {
	Rotator  *jwtx.Rotator
	Cache    *jwtx.KeyCache // nil skips seeding and eviction
	Logger   *slog.Logger
	Clock    Clock
	Interval time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewKeyRotationService creates a rotation service with the given interval.
// If interval is 0 or negative, defaults to 30 seconds.
func NewKeyRotationService(rotator *jwtx.Rotator, cache *jwtx.KeyCache, logger *slog.Logger, interval time.Duration) *KeyRotationService {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	return &KeyRotationService{
		Rotator:  rotator,
		Cache:    cache,
		Logger:   logger,
		Interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Rotate runs one rotation step and reports the minted window, if any.
func (s *KeyRotationService) Rotate(ctx context.Context) (jwtx.KeyWindow, bool, error) {
	now := s.Clock.Now()

	w, minted, err := s.Rotator.Rotate(ctx, now)
	if err != nil {
		return jwtx.KeyWindow{}, false, err
	}
	if minted {
		s.Logger.Info("signing key minted",
			slog.String("kid", w.Kid),
			slog.Time("valid_from", w.ValidFrom),
			slog.Time("valid_until", w.ValidUntil),
		)
	}

	if s.Cache != nil {
		if minted {
			if err := s.Cache.Put(w, now); err != nil {
				s.Logger.Error("failed to seed key cache", slog.String("kid", w.Kid), slog.Any("error", err))
			}
		}
		if n := s.Cache.Evict(now); n > 0 {
			s.Logger.Debug("evicted closed key windows", slog.Int("count", n))
		}
	}
	return w, minted, nil
}

// Start begins the background worker. Call Stop() to shut it down.
func (s *KeyRotationService) Start() {
	go s.run()
	s.Logger.Info("key rotation service started", "interval", s.Interval)
}

// Stop gracefully shuts down the background worker.
func (s *KeyRotationService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("key rotation service stopped")
}

func (s *KeyRotationService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.tick()

	for {
		select {
		case <-ticker.C:
			s.tick()
		case <-s.stopCh:
			return
		}
	}
}

func (s *KeyRotationService) tick() {
	if _, _, err := s.Rotate(context.Background()); err != nil {
		s.Logger.Error("key rotation failed", "error", err)
	}
}
