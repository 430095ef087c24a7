package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/aussiebroadwan/handshake/internal/handshake/domain"
	"github.com/aussiebroadwan/handshake/internal/handshake/store"
	"github.com/aussiebroadwan/handshake/pkg/idx"
	"github.com/aussiebroadwan/handshake/pkg/slogx"
)

// DefaultCooldown is how long a failed stage stays closed before retry.
const DefaultCooldown = 24 * time.Hour

// ResetHook releases in-process resources an applicant holds for stage.
// Hooks run after a failure is recorded and before a retry discards the
// stage's records. They must not take the applicant lock.
type ResetHook func(ctx context.Context, applicantID string, stage domain.Stage)

// EnterHook runs once an applicant's move into stage has committed, by
// advance or by retry. It must not take the applicant lock.
type EnterHook func(ctx context.Context, applicantID string, stage domain.Stage)

// Orchestrator is the handshake state machine and the only writer of an
// applicant's stage. Stage writes are a single compare-and-set on the
// applicant row; multi-step mutations additionally hold a per-applicant
// lock so concurrent requests for one applicant queue while other
// applicants proceed.
type Orchestrator struct {
	Store      store.Store
	Challenges *ChallengeIssuer
	Delivery   *DeliveryWorker // nil leaves challenges undelivered
	Audit      *AuditTrail
	Observer   Observer
	Cooldown   time.Duration
	Clock      Clock

	locks KeyedMutex

	hooksMu    sync.RWMutex
	hooks      []ResetHook
	enterHooks []EnterHook
}

// InitResult is a freshly issued Stage 1.
type InitResult struct {
	Applicant domain.Applicant
	Challenge domain.Challenge
}

func (o *Orchestrator) cooldown() time.Duration {
	if o.Cooldown <= 0 {
		return DefaultCooldown
	}
	return o.Cooldown
}

func (o *Orchestrator) observer() Observer { return observerOrNop(o.Observer) }

// OnReset registers a hook; see ResetHook.
func (o *Orchestrator) OnReset(h ResetHook) {
	o.hooksMu.Lock()
	defer o.hooksMu.Unlock()
	o.hooks = append(o.hooks, h)
}

// OnEnter registers a hook; see EnterHook.
func (o *Orchestrator) OnEnter(h EnterHook) {
	o.hooksMu.Lock()
	defer o.hooksMu.Unlock()
	o.enterHooks = append(o.enterHooks, h)
}

func (o *Orchestrator) entered(ctx context.Context, applicantID string, stage domain.Stage) {
	o.hooksMu.RLock()
	hooks := slices.Clone(o.enterHooks)
	o.hooksMu.RUnlock()

	for _, h := range hooks {
		h(ctx, applicantID, stage)
	}
}

func (o *Orchestrator) runHooks(ctx context.Context, applicantID string, stage domain.Stage) {
	o.hooksMu.RLock()
	hooks := slices.Clone(o.hooks)
	o.hooksMu.RUnlock()

	for _, h := range hooks {
		h(ctx, applicantID, stage)
	}
}

// Lock takes the applicant's lock and returns its release.
func (o *Orchestrator) Lock(applicantID string) (unlock func()) {
	return o.locks.Lock(applicantID)
}

// ValidateCallbackURL accepts absolute https URLs with a host and returns
// the normalised form.
func ValidateCallbackURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme != "https" || u.Hostname() == "" || u.User != nil || u.Fragment != "" {
		return "", ErrInvalidCallback
	}
	return u.String(), nil
}

// Init admits a new applicant: it creates it in Init, issues the Stage 1
// challenge and moves it to ChallengePending in one transaction, then
// schedules delivery to the callback. A callback whose previous applicant
// failed is refused until the cooldown passes; after that a Stage 1
// failure is retried in place with a fresh challenge.
func (o *Orchestrator) Init(ctx context.Context, callbackURL string) (*InitResult, error) {
	log := slogx.FromContext(ctx)
	now := o.Clock.Now()

	// 1. Validate the callback.
	callback, err := ValidateCallbackURL(callbackURL)
	if err != nil {
		return nil, err
	}

	// 2. Honour the cooldown of an earlier attempt on the same callback.
	prev, err := o.Store.Applicants().GetLatestApplicantByCallback(ctx, callback)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return nil, err
	case prev.Failure.CoolingDown(now):
		return nil, &RetryError{Err: ErrCooldownActive, After: prev.Failure.CooldownUntil.Sub(now)}
	case prev.Failure != nil && prev.Failure.Stage == domain.StageChallengePending:
		return o.reissue(ctx, prev.ID)
	}

	// 3. Applicant, challenge and transition commit together.
	a := domain.Applicant{
		ID:             idx.NewWithPrefix(idx.PrefixApplicant).String(),
		CallbackURL:    callback,
		Stage:          domain.StageInit,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	var ch domain.Challenge
	err = o.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Applicants().CreateApplicant(ctx, a); err != nil {
			return fmt.Errorf("create applicant: %w", err)
		}
		var err error
		if ch, err = o.Challenges.Issue(ctx, tx, a.ID, now); err != nil {
			return err
		}
		return o.Advance(ctx, tx, a.ID, domain.StageInit, domain.StageChallengePending)
	})
	if err != nil {
		return nil, err
	}
	a.Stage = domain.StageChallengePending

	log.Info("applicant admitted",
		slog.String("applicant_id", a.ID),
		slog.String("challenge_id", ch.ID),
	)

	// 4. Deliver after commit so the callback can verify immediately.
	o.deliver(ch, a.CallbackURL)
	return &InitResult{Applicant: a, Challenge: ch}, nil
}

// reissue restarts a failed Stage 1 with a new challenge.
func (o *Orchestrator) reissue(ctx context.Context, applicantID string) (*InitResult, error) {
	unlock := o.Lock(applicantID)
	defer unlock()

	a, err := o.Store.Applicants().GetApplicant(ctx, applicantID)
	if err != nil {
		return nil, err
	}
	now := o.Clock.Now()
	if a.Failure.CoolingDown(now) {
		return nil, &RetryError{Err: ErrCooldownActive, After: a.Failure.CooldownUntil.Sub(now)}
	}
	if a.Failure == nil || a.Failure.Stage != domain.StageChallengePending {
		return nil, &StageError{Current: a.Stage}
	}

	var ch domain.Challenge
	err = o.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Challenges().DeleteChallengesForApplicant(ctx, a.ID); err != nil {
			return err
		}
		if err := tx.Applicants().ClearFailure(ctx, a.ID, domain.StageChallengePending, now); err != nil {
			return err
		}
		var err error
		ch, err = o.Challenges.Issue(ctx, tx, a.ID, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	a.Failure = nil
	a.Stage = domain.StageChallengePending

	slogx.FromContext(ctx).Info("challenge reissued",
		slog.String("applicant_id", a.ID),
		slog.String("challenge_id", ch.ID),
	)
	o.deliver(ch, a.CallbackURL)
	return &InitResult{Applicant: a, Challenge: ch}, nil
}

func (o *Orchestrator) deliver(ch domain.Challenge, callbackURL string) {
	if o.Delivery != nil {
		o.Delivery.Schedule(ch, callbackURL)
	}
}

// Advance moves an applicant from one stage to the next with a single
// compare-and-set against s, which may be a transaction. Losing the race
// to a request that already advanced past from is a silent success, so
// retried requests never advance twice; any other miss is a stage
// mismatch.
func (o *Orchestrator) Advance(ctx context.Context, s store.Store, applicantID string, from, to domain.Stage) error {
	changed, err := s.Applicants().CompareAndSetStage(ctx, applicantID, from, to, o.Clock.Now())
	if err != nil {
		return fmt.Errorf("advance %s: %w", applicantID, err)
	}
	if changed {
		o.observer().StageTransition(from.String(), to.String())
		slogx.FromContext(ctx).Info("stage advanced",
			slog.String("applicant_id", applicantID),
			slog.String("from", from.String()),
			slog.String("to", to.String()),
		)
		return nil
	}

	a, err := s.Applicants().GetApplicant(ctx, applicantID)
	if err != nil {
		return err
	}
	if a.Failure == nil && a.Stage > from {
		return nil
	}
	if err := o.Require(a, from); err != nil {
		return err
	}
	return &StageError{Current: a.Stage}
}

// Fail records a failure of stage and starts the cooldown. It is a no-op
// when the applicant has already left stage or failed. Fail never takes
// the applicant lock, so it is safe to call while holding it, but it must
// not be called inside a transaction.
func (o *Orchestrator) Fail(ctx context.Context, applicantID string, stage domain.Stage, reason string) error {
	now := o.Clock.Now()
	f := domain.Failure{
		Stage:         stage,
		Reason:        reason,
		FailedAt:      now,
		CooldownUntil: now.Add(o.cooldown()),
	}

	recorded, err := o.Store.Applicants().RecordFailure(ctx, applicantID, f)
	if err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	if !recorded {
		return nil
	}

	slogx.FromContext(ctx).Warn("stage failed",
		slog.String("applicant_id", applicantID),
		slog.String("stage", stage.String()),
		slog.String("reason", reason),
		slog.Time("cooldown_until", f.CooldownUntil),
	)
	o.observer().StageFailed(stage.String(), reason)
	o.Audit.Record(ctx, domain.AuditEvent{
		ApplicantID: applicantID,
		Stage:       stage,
		Kind:        reason,
		Detail:      "stage failed; cooldown until " + f.CooldownUntil.UTC().Format(time.RFC3339),
	})

	o.runHooks(ctx, applicantID, stage)
	return nil
}

// Retry reopens a failed stage once its cooldown has passed. Everything
// the stage produced is discarded and the applicant resumes at the
// stage's entry point. A Stage 1 failure has no registration key and
// retries through Init instead.
func (o *Orchestrator) Retry(ctx context.Context, registrationKey string) (domain.Applicant, error) {
	resolved, err := o.Resolve(ctx, registrationKey)
	if err != nil {
		return domain.Applicant{}, err
	}

	unlock := o.Lock(resolved.ID)
	defer unlock()

	a, err := o.Store.Applicants().GetApplicant(ctx, resolved.ID)
	if err != nil {
		return domain.Applicant{}, err
	}
	now := o.Clock.Now()
	if a.Failure == nil {
		return a, &StageError{Current: a.Stage}
	}
	if a.Failure.CoolingDown(now) {
		return a, &RetryError{Err: ErrCooldownActive, After: a.Failure.CooldownUntil.Sub(now)}
	}

	failed := a.Failure.Stage
	target := failed.RetryStage()

	// In-process resources go before the rows that describe them.
	o.runHooks(ctx, a.ID, failed)

	err = o.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := discardStage(ctx, tx, a.ID, failed); err != nil {
			return fmt.Errorf("discard %s artifacts: %w", failed, err)
		}
		return tx.Applicants().ClearFailure(ctx, a.ID, target, now)
	})
	if err != nil {
		return domain.Applicant{}, err
	}

	o.observer().StageTransition(failed.String(), target.String())
	o.entered(ctx, a.ID, target)
	slogx.FromContext(ctx).Info("stage retried",
		slog.String("applicant_id", a.ID),
		slog.String("failed", failed.String()),
		slog.String("resume", target.String()),
	)
	return o.Store.Applicants().GetApplicant(ctx, a.ID)
}

// discardStage drops the records a failed stage produced.
func discardStage(ctx context.Context, tx store.Tx, applicantID string, stage domain.Stage) error {
	switch stage {
	case domain.StageChallengePending:
		return tx.Challenges().DeleteChallengesForApplicant(ctx, applicantID)
	case domain.StageRegistered, domain.StageProfileDraft, domain.StageProfileLocked:
		return tx.Profiles().DeleteProfile(ctx, applicantID)
	case domain.StageUploading:
		sessions, err := tx.Uploads().ListUploadsForApplicant(ctx, applicantID)
		if err != nil {
			return err
		}
		for _, u := range sessions {
			if err := tx.Uploads().DeleteUploadSession(ctx, u.ID); err != nil {
				return err
			}
		}
		return nil
	case domain.StageStreaming:
		return tx.StreamCursors().DeleteStreamCursor(ctx, applicantID)
	}
	return nil
}

// Require checks that a sits in one of stages with no failure pending. A
// failure still cooling down is ErrCooldownActive with the time left.
func (o *Orchestrator) Require(a domain.Applicant, stages ...domain.Stage) error {
	if a.Failure != nil {
		now := o.Clock.Now()
		if a.Failure.CoolingDown(now) {
			return &RetryError{Err: ErrCooldownActive, After: a.Failure.CooldownUntil.Sub(now)}
		}
		return &StageError{Current: a.Stage, Failed: true}
	}
	if slices.Contains(stages, a.Stage) {
		return nil
	}
	return &StageError{Current: a.Stage}
}

// Acquire takes the applicant lock, re-reads the applicant and checks its
// stage. On success the caller owns the lock and must call release.
func (o *Orchestrator) Acquire(ctx context.Context, applicantID string, stages ...domain.Stage) (a domain.Applicant, release func(), err error) {
	unlock := o.Lock(applicantID)

	a, err = o.Store.Applicants().GetApplicant(ctx, applicantID)
	if err != nil {
		unlock()
		return domain.Applicant{}, nil, err
	}
	if err := o.Require(a, stages...); err != nil {
		unlock()
		return a, nil, err
	}
	return a, unlock, nil
}

// Authorize resolves a registration key and checks the applicant's stage
// without locking.
func (o *Orchestrator) Authorize(ctx context.Context, registrationKey string, stages ...domain.Stage) (domain.Applicant, error) {
	a, err := o.Resolve(ctx, registrationKey)
	if err != nil {
		return domain.Applicant{}, err
	}
	if err := o.Require(a, stages...); err != nil {
		return a, err
	}
	return a, nil
}
