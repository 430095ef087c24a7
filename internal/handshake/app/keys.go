package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/handshake/internal/handshake/store"
	"github.com/aussiebroadwan/handshake/pkg/cryptox"
	"github.com/aussiebroadwan/handshake/pkg/jwtx"
)

// Keys is the signing side and the verifying side of the rotating key set.
type Keys struct {
	Rotator  *jwtx.Rotator
	Cache    *jwtx.KeyCache
	Verifier *jwtx.Verifier
}

// InitSigningKeys loads the open signing keys from the database and mints
// the first window when none is left, so a token can be signed as soon as
// the server accepts connections.
//
// Private keys are sealed with the master key. An ephemeral master key
// cannot open keys sealed by an earlier process, so in that mode the
// previous windows are left to expire and a fresh one is minted.
func InitSigningKeys(ctx context.Context, cfg Config, db store.Store, mk cryptox.MasterKey, ephemeral bool, logger *slog.Logger) (*Keys, error) {
	keyStore := store.NewKeyStoreAdapter(db)

	rotator, err := jwtx.NewRotator(jwtx.RotatorOptions{
		Store:     keyStore,
		Sealer:    mk,
		Algorithm: cfg.KeyAlgorithm,
		Window:    cfg.KeyWindow,
		Overlap:   cfg.KeyOverlap,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create key rotator: %w", err)
	}

	now := time.Now()
	if !ephemeral {
		if err := rotator.Load(ctx, now); err != nil {
			return nil, fmt.Errorf("failed to load signing keys: %w", err)
		}
	} else {
		logger.Warn("master key is ephemeral; signing keys will not survive a restart")
	}

	if w, minted, err := rotator.Rotate(ctx, now); err != nil {
		return nil, fmt.Errorf("failed to mint signing key: %w", err)
	} else if minted {
		logger.Info("signing key minted",
			"kid", w.Kid,
			"algorithm", cfg.KeyAlgorithm,
			"valid_until", w.ValidUntil,
		)
	}

	cache := jwtx.NewKeyCache(jwtx.StoreKeySource{Store: keyStore}, cfg.KeyCacheRefresh)
	for _, w := range rotator.Windows(now) {
		if err := cache.Put(w, now); err != nil {
			return nil, fmt.Errorf("failed to seed key cache: %w", err)
		}
	}

	verifier := jwtx.NewVerifier(cache, jwtx.VerifyOptions{
		Issuer:   cfg.Issuer,
		Audience: []string{tokenAudience},
		Leeway:   5 * time.Second,
	})

	logger.Info("signing keys ready",
		"open_windows", len(rotator.Windows(now)),
		"window", cfg.KeyWindow,
		"overlap", cfg.KeyOverlap,
	)
	return &Keys{Rotator: rotator, Cache: cache, Verifier: verifier}, nil
}
