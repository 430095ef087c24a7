package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/aussiebroadwan/handshake/internal/handshake/domain"
	"github.com/aussiebroadwan/handshake/internal/handshake/store"
)

const (
	DefaultDeliveryBackoff    = time.Second
	DefaultDeliveryMaxBackoff = 30 * time.Second

	deliveryAttemptTimeout = 10 * time.Second
	deliveryDrainLimit     = 64 << 10
)

// DeliveryWorker posts issued challenges to applicant callbacks in the
// background. Each challenge is retried with exponential backoff until a
// 2xx arrives or it expires.
type DeliveryWorker struct {
	Store      store.Store
	Challenges *ChallengeIssuer
	Client     *http.Client // nil: no redirects, 10s timeout
	Logger     *slog.Logger
	Clock      Clock
	Backoff    time.Duration // first retry delay, doubling
	MaxBackoff time.Duration // retry delay cap

	// OnExpired runs when a challenge runs out of time undelivered.
	OnExpired func(ctx context.Context, ch domain.Challenge)

	once   sync.Once
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (d *DeliveryWorker) init() {
	d.once.Do(func() {
		d.ctx, d.cancel = context.WithCancel(context.Background())
		if d.Client == nil {
			d.Client = &http.Client{
				Timeout: deliveryAttemptTimeout,
				CheckRedirect: func(*http.Request, []*http.Request) error {
					return http.ErrUseLastResponse
				},
			}
		}
		if d.Logger == nil {
			d.Logger = slog.Default()
		}
	})
}

// Schedule delivers ch to callbackURL in the background.
func (d *DeliveryWorker) Schedule(ch domain.Challenge, callbackURL string) {
	d.init()
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.deliver(d.ctx, ch, callbackURL)
	}()
}

// Stop abandons pending retries and waits for in-flight attempts; the
// watchdog expires whatever was left undelivered.
func (d *DeliveryWorker) Stop() {
	d.init()
	d.cancel()
	d.wg.Wait()
}

func (d *DeliveryWorker) deliver(ctx context.Context, ch domain.Challenge, callbackURL string) {
	log := d.Logger.With(
		slog.String("applicant_id", ch.ApplicantID),
		slog.String("challenge_id", ch.ID),
	)
	// Bookkeeping outlives Stop so the last attempt is still recorded.
	bg := context.WithoutCancel(ctx)
	signature := d.Challenges.Sign(ch)

	attempts := 0
	op := func() error {
		attempts++
		err := d.post(ctx, ch, callbackURL, signature)
		if rerr := d.Store.Challenges().RecordDeliveryAttempt(bg, ch.ID, err == nil, d.Clock.Now()); rerr != nil {
			log.Error("failed to record delivery attempt", slog.Any("error", rerr))
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		log.Info("challenge delivery failed",
			slog.Int("attempt", attempts),
			slog.Duration("retry_in", wait),
			slog.Any("error", err),
		)
	}

	err := backoff.RetryNotify(op, backoff.WithContext(d.schedule(ch.ExpiresAt), ctx), notify)
	switch {
	case err == nil:
		log.Info("challenge delivered", slog.Int("attempts", attempts))
	case ctx.Err() != nil:
	default:
		log.Warn("challenge expired undelivered", slog.Int("attempts", attempts), slog.Any("error", err))
		if d.OnExpired != nil {
			d.OnExpired(bg, ch)
		}
	}
}

// schedule is the retry policy of one challenge: delays double from
// Backoff up to MaxBackoff, and the last one is cut short at expiresAt.
func (d *DeliveryWorker) schedule(expiresAt time.Time) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = d.Backoff
	if exp.InitialInterval <= 0 {
		exp.InitialInterval = DefaultDeliveryBackoff
	}
	exp.MaxInterval = d.MaxBackoff
	if exp.MaxInterval <= 0 {
		exp.MaxInterval = DefaultDeliveryMaxBackoff
	}
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0
	exp.Clock = d.Clock
	exp.Reset()

	return &deadlineBackOff{BackOff: exp, deadline: expiresAt, clock: d.Clock}
}

// deadlineBackOff stops retrying at deadline and never waits past it.
type deadlineBackOff struct {
	backoff.BackOff
	deadline time.Time
	clock    Clock
}

func (b *deadlineBackOff) NextBackOff() time.Duration {
	remaining := b.deadline.Sub(b.clock.Now())
	if remaining <= 0 {
		return backoff.Stop
	}
	next := b.BackOff.NextBackOff()
	if next == backoff.Stop {
		return backoff.Stop
	}
	return min(next, remaining)
}

func (d *DeliveryWorker) post(ctx context.Context, ch domain.Challenge, callbackURL, signature string) error {
	ctx, cancel := context.WithTimeout(ctx, deliveryAttemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(ch.Payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signature", signature)
	req.Header.Set("X-Challenge-Id", ch.ID)

	resp, err := d.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, deliveryDrainLimit))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("callback answered %s", resp.Status)
	}
	return nil
}
