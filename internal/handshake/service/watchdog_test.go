package service_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/aussiebroadwan/handshake/internal/handshake/domain"
	"github.com/aussiebroadwan/handshake/internal/handshake/service"
	"github.com/aussiebroadwan/handshake/internal/handshake/store"
	"github.com/aussiebroadwan/handshake/pkg/slogx"
	"github.com/stretchr/testify/require"
)

func TestWatchdogCheck(t *testing.T) {
	h := newHarness(t)
	wd := service.NewWatchdogService(h.orch, h.uploads, slogx.Discard(), time.Minute)

	res, err := h.orch.Init(h.ctx, "https://late.example/webhook")
	require.NoError(t, err)

	up, _ := h.seed(t, domain.StageProfileLocked)
	_, _, err = h.uploads.Begin(h.ctx, up.ID, int64(len(resume)), digest(resume))
	require.NoError(t, err)

	expired, stalled := wd.Check(h.ctx)
	require.Zero(t, expired)
	require.Zero(t, stalled)

	h.clock.Advance(domain.ChallengeTTL + time.Second)
	expired, stalled = wd.Check(h.ctx)
	require.Equal(t, 1, expired)
	require.Equal(t, 1, stalled)

	got := h.applicant(t, res.Applicant.ID)
	require.NotNil(t, got.Failure)
	require.Equal(t, domain.StageChallengePending, got.Failure.Stage)
	require.Equal(t, service.ReasonChallengeExpired, got.Failure.Reason)
	require.Equal(t, service.ReasonUploadStalled, h.applicant(t, up.ID).Failure.Reason)

	expired, stalled = wd.Check(h.ctx)
	require.Zero(t, expired, "an expired challenge is not expired twice")
	require.Zero(t, stalled)
}

func TestHousekeepingCleanup(t *testing.T) {
	h := newHarness(t)
	hk := service.NewHousekeepingService(h.store, h.uploads, slogx.Discard(), time.Hour)
	hk.Clock = h.clock.Now

	a, _ := h.seed(t, domain.StageRegistered)
	_, err := h.profiles.Guard.Execute(h.ctx, a.ID, "k1", "fp", func(context.Context, store.Tx) (service.Response, error) {
		return service.Response{StatusCode: http.StatusCreated}, nil
	})
	require.NoError(t, err)

	require.Equal(t, 4, hk.Cleanup(h.ctx))
	_, err = h.store.Idempotency().GetIdempotencyRecord(h.ctx, a.ID, "k1")
	require.NoError(t, err, "records inside the retention window stay")

	h.clock.Advance(service.DefaultRetention + time.Hour)
	require.Equal(t, 4, hk.Cleanup(h.ctx))

	_, err = h.store.Idempotency().GetIdempotencyRecord(h.ctx, a.ID, "k1")
	require.ErrorIs(t, err, store.ErrNotFound)

	keys, err := h.store.SigningKeys().ListOpenSigningKeys(h.ctx, t0)
	require.NoError(t, err)
	require.Empty(t, keys)
}
