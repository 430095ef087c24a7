package service_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aussiebroadwan/handshake/internal/handshake/domain"
	"github.com/aussiebroadwan/handshake/internal/handshake/service"
	"github.com/aussiebroadwan/handshake/pkg/slogx"
	"github.com/stretchr/testify/require"
)

type delivered struct {
	body        []byte
	signature   string
	challengeID string
}

func TestDeliveryWorkerRetriesUntil2xx(t *testing.T) {
	h := newHarness(t)

	var calls atomic.Int32
	got := make(chan delivered, 4)
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		got <- delivered{body: body, signature: r.Header.Get("X-Signature"), challengeID: r.Header.Get("X-Challenge-Id")}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	worker := &service.DeliveryWorker{
		Store:      h.store,
		Challenges: h.issuer,
		Client:     srv.Client(),
		Logger:     slogx.Discard(),
		Clock:      h.orch.Clock,
		Backoff:    10 * time.Millisecond,
	}
	defer worker.Stop()
	h.orch.Delivery = worker

	res, err := h.orch.Init(h.ctx, srv.URL+"/webhook")
	require.NoError(t, err)

	var d delivered
	select {
	case d = <-got:
	case <-time.After(5 * time.Second):
		t.Fatal("challenge was not delivered")
	}
	require.Equal(t, res.Challenge.ID, d.challengeID)
	require.Equal(t, res.Challenge.Payload, d.body)

	// The applicant echoes exactly what it received.
	verified, err := h.orch.VerifyChallenge(h.ctx, d.challengeID, d.signature, d.body)
	require.NoError(t, err)
	require.Equal(t, domain.StageRegistered, verified.Stage)

	require.Eventually(t, func() bool {
		ch, err := h.store.Challenges().GetChallenge(h.ctx, res.Challenge.ID)
		return err == nil && ch.DeliveryTries == 2 && ch.DeliveredAt != nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDeliveryWorkerExpiresUndelivered(t *testing.T) {
	s := newStore(t)
	ctx := slogx.WithContext(context.Background(), slogx.Discard())

	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	issuer := &service.ChallengeIssuer{TTL: 200 * time.Millisecond}
	orch := &service.Orchestrator{Store: s, Challenges: issuer}
	worker := &service.DeliveryWorker{
		Store:      s,
		Challenges: issuer,
		Client:     srv.Client(),
		Logger:     slogx.Discard(),
		Backoff:    20 * time.Millisecond,
		MaxBackoff: 40 * time.Millisecond,
		OnExpired: func(ctx context.Context, ch domain.Challenge) {
			_ = orch.ExpireChallenge(ctx, ch)
		},
	}
	defer worker.Stop()
	orch.Delivery = worker

	res, err := orch.Init(ctx, srv.URL+"/webhook")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		a, err := s.Applicants().GetApplicant(ctx, res.Applicant.ID)
		return err == nil && a.Failure != nil && a.Failure.Reason == service.ReasonChallengeExpired
	}, 3*time.Second, 20*time.Millisecond)

	ch, err := s.Challenges().GetChallenge(ctx, res.Challenge.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ChallengeExpired, ch.Status)
	require.Nil(t, ch.DeliveredAt)
	require.GreaterOrEqual(t, ch.DeliveryTries, 2)
}

func TestDeliveryWorkerDoesNotFollowRedirects(t *testing.T) {
	h := newHarness(t)

	var hits atomic.Int32
	target := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer target.Close()
	origin := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target.URL, http.StatusTemporaryRedirect)
	}))
	defer origin.Close()

	client := origin.Client()
	client.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	worker := &service.DeliveryWorker{
		Store:      h.store,
		Challenges: h.issuer,
		Client:     client,
		Logger:     slogx.Discard(),
		Clock:      h.orch.Clock,
		Backoff:    time.Hour,
	}
	h.orch.Delivery = worker

	res, err := h.orch.Init(h.ctx, origin.URL+"/webhook")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		ch, err := h.store.Challenges().GetChallenge(h.ctx, res.Challenge.ID)
		return err == nil && ch.DeliveryTries == 1
	}, 2*time.Second, 10*time.Millisecond)
	worker.Stop()

	ch, err := h.store.Challenges().GetChallenge(h.ctx, res.Challenge.ID)
	require.NoError(t, err)
	require.Nil(t, ch.DeliveredAt, "a redirect is not a 2xx")
	require.Zero(t, hits.Load())
}

func TestDeliveryWorkerLastRetryWaitsOnlyUntilExpiry(t *testing.T) {
	s := newStore(t)
	ctx := slogx.WithContext(context.Background(), slogx.Discard())

	var calls atomic.Int32
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	expired := make(chan time.Time, 1)
	issuer := &service.ChallengeIssuer{TTL: 150 * time.Millisecond}
	orch := &service.Orchestrator{Store: s, Challenges: issuer}
	worker := &service.DeliveryWorker{
		Store:      s,
		Challenges: issuer,
		Client:     srv.Client(),
		Logger:     slogx.Discard(),
		Backoff:    time.Hour,
		OnExpired: func(ctx context.Context, ch domain.Challenge) {
			expired <- time.Now()
		},
	}
	defer worker.Stop()
	orch.Delivery = worker

	started := time.Now()
	_, err := orch.Init(ctx, srv.URL+"/webhook")
	require.NoError(t, err)

	select {
	case at := <-expired:
		require.Less(t, at.Sub(started), 2*time.Second, "an hour-long delay is cut at expiry")
	case <-time.After(5 * time.Second):
		t.Fatal("challenge did not expire")
	}
	// The first attempt, then one more once the delay ran out at expiry.
	require.GreaterOrEqual(t, calls.Load(), int32(2))
}
