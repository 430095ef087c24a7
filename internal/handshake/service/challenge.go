package service

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/handshake/internal/handshake/domain"
	"github.com/aussiebroadwan/handshake/internal/handshake/store"
	"github.com/aussiebroadwan/handshake/pkg/cryptox"
	"github.com/aussiebroadwan/handshake/pkg/idx"
	"github.com/aussiebroadwan/handshake/pkg/slogx"
)

// DefaultChallengeAttempts is how many invalid signatures a challenge
// tolerates before it expires and the stage fails.
const DefaultChallengeAttempts = 5

// ChallengeIssuer creates Stage 1 challenges and checks their answers.
// Signing secrets are derived on demand from the master key and never
// stored.
type ChallengeIssuer struct {
	MasterKey   cryptox.MasterKey
	TTL         time.Duration
	MaxAttempts int
}

func (c *ChallengeIssuer) ttl() time.Duration {
	if c.TTL <= 0 {
		return domain.ChallengeTTL
	}
	return c.TTL
}

func (c *ChallengeIssuer) maxAttempts() int {
	if c.MaxAttempts <= 0 {
		return DefaultChallengeAttempts
	}
	return c.MaxAttempts
}

// Issue creates a pending challenge for applicantID in s, which may be a
// transaction.
func (c *ChallengeIssuer) Issue(ctx context.Context, s store.Store, applicantID string, now time.Time) (domain.Challenge, error) {
	nonce, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		return domain.Challenge{}, err
	}
	token, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return domain.Challenge{}, err
	}

	id := idx.NewWithPrefix(idx.PrefixChallenge).String()
	payload, err := json.Marshal(domain.ChallengeDelivery{
		ChallengeID: id,
		Nonce:       nonce,
		Payload:     token,
	})
	if err != nil {
		return domain.Challenge{}, err
	}

	ch := domain.Challenge{
		ID:          id,
		ApplicantID: applicantID,
		Nonce:       nonce,
		Payload:     payload,
		Status:      domain.ChallengePending,
		IssuedAt:    now,
		ExpiresAt:   now.Add(c.ttl()),
	}
	if err := s.Challenges().CreateChallenge(ctx, ch); err != nil {
		return domain.Challenge{}, fmt.Errorf("create challenge: %w", err)
	}
	return ch, nil
}

// Secret derives the HMAC key of ch, bound to its nonce and both ids.
func (c *ChallengeIssuer) Secret(ch domain.Challenge) []byte {
	return c.MasterKey.Derive([]byte(ch.Nonce), "handshake/challenge/"+ch.ApplicantID+"/"+ch.ID)
}

// Sign returns the X-Signature value sent with the delivered payload.
func (c *ChallengeIssuer) Sign(ch domain.Challenge) string {
	return cryptox.SignaturePrefix + cryptox.SignHMAC(c.Secret(ch), ch.Payload)
}

// Check reports whether body is the delivered payload and signature is
// the HMAC over it. Both comparisons are constant time.
func (c *ChallengeIssuer) Check(ch domain.Challenge, signature string, body []byte) bool {
	validMAC := cryptox.VerifyHMAC(c.Secret(ch), body, signature)
	samePayload := subtle.ConstantTimeCompare(body, ch.Payload) == 1
	return validMAC && samePayload
}

// VerifyResult is a solved challenge. RegistrationKey is only ever
// returned here.
type VerifyResult struct {
	ApplicantID     string
	RegistrationKey string
	Stage           domain.Stage
}

// VerifyChallenge checks the applicant's echo of a delivered challenge.
// A valid answer consumes the challenge, mints the registration key and
// advances the applicant to Registered; a replay after that finds the
// challenge consumed.
func (o *Orchestrator) VerifyChallenge(ctx context.Context, challengeID, signature string, body []byte) (*VerifyResult, error) {
	log := slogx.FromContext(ctx)

	ch, err := o.Store.Challenges().GetChallenge(ctx, challengeID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrChallengeExpired
	}
	if err != nil {
		return nil, err
	}

	unlock := o.Lock(ch.ApplicantID)
	defer unlock()

	// 1. Re-read under the lock; a concurrent verify may have consumed it.
	ch, err = o.Store.Challenges().GetChallenge(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	now := o.Clock.Now()
	if ch.Expired(now) {
		return nil, ErrChallengeExpired
	}

	a, err := o.Store.Applicants().GetApplicant(ctx, ch.ApplicantID)
	if err != nil {
		return nil, err
	}
	if err := o.Require(a, domain.StageChallengePending); err != nil {
		return nil, err
	}

	// 2. Signature over the exact bytes.
	if !o.Challenges.Check(ch, signature, body) {
		attempts, err := o.Store.Challenges().IncrementVerifyAttempts(ctx, ch.ID)
		if err != nil {
			return nil, err
		}
		log.Info("challenge signature mismatch",
			slog.String("challenge_id", ch.ID),
			slog.Int("attempts", attempts),
		)
		if attempts >= o.Challenges.maxAttempts() {
			if err := o.expireChallenge(ctx, ch, ReasonSignatureInvalid); err != nil {
				return nil, err
			}
		}
		return nil, ErrSignatureInvalid
	}

	// 3. Consume the challenge, mint the key and advance together.
	key, fingerprint, err := MintRegistrationKey()
	if err != nil {
		return nil, err
	}
	err = o.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Challenges().MarkChallengeVerified(ctx, ch.ID, now); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return ErrChallengeExpired
			}
			return err
		}
		if err := tx.Applicants().SetRegistrationKeyHash(ctx, a.ID, fingerprint); err != nil {
			if errors.Is(err, store.ErrAlreadyExists) {
				return &StageError{Current: a.Stage}
			}
			return err
		}
		return o.Advance(ctx, tx, a.ID, domain.StageChallengePending, domain.StageRegistered)
	})
	if err != nil {
		return nil, err
	}

	log.Info("challenge verified", slog.String("applicant_id", a.ID), slog.String("challenge_id", ch.ID))
	return &VerifyResult{
		ApplicantID:     a.ID,
		RegistrationKey: key,
		Stage:           domain.StageRegistered,
	}, nil
}

// ExpireChallenge retires a pending challenge that ran out of time and
// fails the applicant's Stage 1. Expiring a settled challenge is a no-op.
func (o *Orchestrator) ExpireChallenge(ctx context.Context, ch domain.Challenge) error {
	return o.expireChallenge(ctx, ch, ReasonChallengeExpired)
}

func (o *Orchestrator) expireChallenge(ctx context.Context, ch domain.Challenge, reason string) error {
	expired, err := o.Store.Challenges().ExpireChallenge(ctx, ch.ID)
	if err != nil {
		return fmt.Errorf("expire challenge %s: %w", ch.ID, err)
	}
	if !expired {
		return nil
	}
	return o.Fail(ctx, ch.ApplicantID, domain.StageChallengePending, reason)
}
