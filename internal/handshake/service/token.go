package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/handshake/internal/handshake/domain"
	"github.com/aussiebroadwan/handshake/internal/handshake/store"
	"github.com/aussiebroadwan/handshake/pkg/jwtx"
	"github.com/aussiebroadwan/handshake/pkg/slogx"
)

// IssuedToken is a signed acceptance token.
type IssuedToken struct {
	Token     string
	Kid       string
	ExpiresAt time.Time
}

// AcceptResult is the outcome of POST /v1/accept.
type AcceptResult struct {
	Applicant  domain.Applicant
	AcceptedAt time.Time
}

// TokenService signs Stage 6 tokens with the current rotating key and
// verifies them on acceptance.
type TokenService struct {
	Orchestrator *Orchestrator
	Store        store.Store
	Rotator      *jwtx.Rotator
	Verifier     *jwtx.Verifier
	Issuer       string
	Audience     []string
	TTL          time.Duration
	Clock        Clock
}

// Issue signs a token for applicantID with the key whose window contains
// now.
func (s *TokenService) Issue(applicantID string) (*IssuedToken, error) {
	ttl := s.TTL
	if ttl <= 0 {
		ttl = jwtx.DefaultTokenTTL
	}
	now := s.Clock.Now()

	claims := jwtx.NewApplicantClaims(applicantID, domain.StageTokenPending.String(), s.Issuer, s.Audience, ttl, now)
	tok, w, err := s.Rotator.Sign(claims, now)
	if err != nil {
		return nil, fmt.Errorf("sign acceptance token: %w", err)
	}
	return &IssuedToken{Token: tok, Kid: w.Kid, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// Reissue signs a fresh token for an applicant still in TokenPending, e.g.
// after the previous one expired or its key window closed.
func (s *TokenService) Reissue(ctx context.Context, applicantID string) (*IssuedToken, error) {
	a, err := s.Store.Applicants().GetApplicant(ctx, applicantID)
	if err != nil {
		return nil, err
	}
	if err := s.Orchestrator.Require(a, domain.StageTokenPending); err != nil {
		return nil, err
	}

	tok, err := s.Issue(applicantID)
	if err != nil {
		return nil, err
	}
	slogx.FromContext(ctx).Info("acceptance token reissued",
		slog.String("applicant_id", applicantID),
		slog.String("kid", tok.Kid),
	)
	return tok, nil
}

// Accept verifies bearer and moves the applicant from TokenPending to the
// terminal Accepted stage. The token subject must be the applicant itself.
// Accepting twice returns the first acceptance.
func (s *TokenService) Accept(ctx context.Context, applicantID, bearer string) (*AcceptResult, error) {
	// 1. Token.
	claims, err := s.Verifier.Verify(ctx, bearer)
	if err != nil {
		return nil, tokenError(err)
	}
	if claims.Subject != applicantID {
		return nil, fmt.Errorf("%w: token subject does not match the registration key", ErrSignatureInvalid)
	}

	// 2. Stage.
	a, release, err := s.Orchestrator.Acquire(ctx, applicantID, domain.StageTokenPending, domain.StageAccepted)
	if err != nil {
		return nil, err
	}
	defer release()

	if a.Stage == domain.StageAccepted {
		return &AcceptResult{Applicant: a, AcceptedAt: acceptedAt(a)}, nil
	}

	if err := s.Orchestrator.Advance(ctx, s.Store, applicantID, domain.StageTokenPending, domain.StageAccepted); err != nil {
		return nil, err
	}
	a, err = s.Store.Applicants().GetApplicant(ctx, applicantID)
	if err != nil {
		return nil, err
	}

	slogx.FromContext(ctx).Info("applicant accepted",
		slog.String("applicant_id", applicantID),
		slog.String("jti", claims.ID),
	)
	s.Orchestrator.Audit.Record(ctx, domain.AuditEvent{
		ApplicantID: applicantID,
		Stage:       domain.StageAccepted,
		Kind:        "Accepted",
		Detail:      "token " + claims.ID,
	})
	return &AcceptResult{Applicant: a, AcceptedAt: acceptedAt(a)}, nil
}

func acceptedAt(a domain.Applicant) time.Time {
	if a.AcceptedAt != nil {
		return *a.AcceptedAt
	}
	return a.LastActivityAt
}

// tokenError maps verifier failures onto the protocol taxonomy. A kid the
// key store has never heard of counts as stale.
func tokenError(err error) error {
	switch {
	case errors.Is(err, jwtx.ErrStaleKey), errors.Is(err, jwtx.ErrUnknownKID):
		return fmt.Errorf("%w: %v", ErrStaleKey, err)
	case errors.Is(err, jwtx.ErrExpired):
		return ErrTokenExpired
	default:
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
}
