package service_test

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/aussiebroadwan/handshake/internal/handshake/domain"
	"github.com/aussiebroadwan/handshake/internal/handshake/service"
	"github.com/aussiebroadwan/handshake/pkg/handshakesdk"
	"github.com/stretchr/testify/require"
)

func TestParseProfileFields(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		ok   bool
	}{
		{"single field", `{"name":"A"}`, true},
		{"several fields", `{"name":"A","email":"a@x.example"}`, true},
		{"empty object", `{}`, false},
		{"not an object", `["name"]`, false},
		{"non-string value", `{"age":3}`, false},
		{"bad field name", `{"1name":"A"}`, false},
		{"malformed", `{"name":`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.ParseProfileFields([]byte(tt.body))
			if tt.ok {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, service.ErrInvalidRequest)
			}
		})
	}
}

func TestProfileCreate(t *testing.T) {
	h := newHarness(t)
	_, verified := h.register(t, "https://x.example/webhook")
	id := verified.ApplicantID

	body := []byte(`{"name":"A","email":"a@x.example"}`)
	fp := service.RequestFingerprint(http.MethodPost, "/v1/profile", body)

	res, err := h.profiles.Create(h.ctx, id, "k1", fp, body)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, res.StatusCode)
	require.False(t, res.Replayed)

	var out handshakesdk.ProfileResponse
	require.NoError(t, json.Unmarshal(res.Body, &out))
	require.Equal(t, domain.StageProfileDraft.String(), out.Stage)
	require.Equal(t, []handshakesdk.ProfileField{
		{Name: "email", Value: "a@x.example", Version: 1},
		{Name: "name", Value: "A", Version: 1},
	}, out.Fields)
	next, ok := out.Next()
	require.True(t, ok)
	require.Equal(t, http.MethodPatch, next.Method)

	t.Run("repeat returns the identical response", func(t *testing.T) {
		again, err := h.profiles.Create(h.ctx, id, "k1", fp, body)
		require.NoError(t, err)
		require.True(t, again.Replayed)
		require.Equal(t, http.StatusCreated, again.StatusCode)
		require.Equal(t, res.Body, again.Body)
	})

	t.Run("same key with another payload conflicts", func(t *testing.T) {
		other := []byte(`{"name":"B"}`)
		_, err := h.profiles.Create(h.ctx, id, "k1", service.RequestFingerprint(http.MethodPost, "/v1/profile", other), other)
		require.ErrorIs(t, err, service.ErrIdempotencyConflict)
	})

	t.Run("a new key after creation is a stage mismatch", func(t *testing.T) {
		_, err := h.profiles.Create(h.ctx, id, "k2", fp, body)
		require.ErrorIs(t, err, service.ErrStageMismatch)
	})
}

func TestConditionalUpdate(t *testing.T) {
	h := newHarness(t)
	a, _ := h.seed(t, domain.StageRegistered)
	body := []byte(`{"name":"A"}`)
	_, err := h.profiles.Create(h.ctx, a.ID, "k1", service.RequestFingerprint(http.MethodPost, "/v1/profile", body), body)
	require.NoError(t, err)

	up, err := h.profiles.ConditionalUpdate(h.ctx, a.ID, "name", 1, "B")
	require.NoError(t, err)
	require.Equal(t, int64(2), up.Field.Version)
	require.Equal(t, "B", up.Field.Value)
	require.Equal(t, domain.StageProfileLocked, up.Stage)
	require.Equal(t, domain.StageProfileLocked, h.applicant(t, a.ID).Stage)

	t.Run("stale version never writes", func(t *testing.T) {
		_, err := h.profiles.ConditionalUpdate(h.ctx, a.ID, "name", 1, "C")
		var verr *service.VersionError
		require.ErrorAs(t, err, &verr)
		require.ErrorIs(t, err, service.ErrPreconditionFailed)
		require.Equal(t, int64(2), verr.Current)

		f, err := h.store.Profiles().GetProfileField(h.ctx, a.ID, "name")
		require.NoError(t, err)
		require.Equal(t, "B", f.Value)
		require.Equal(t, int64(2), f.Version)
	})

	t.Run("current version writes again while locked", func(t *testing.T) {
		up, err := h.profiles.ConditionalUpdate(h.ctx, a.ID, "name", 2, "C")
		require.NoError(t, err)
		require.Equal(t, int64(3), up.Field.Version)
	})

	t.Run("unknown field", func(t *testing.T) {
		_, err := h.profiles.ConditionalUpdate(h.ctx, a.ID, "nickname", 1, "x")
		require.ErrorIs(t, err, service.ErrNotFound)
	})

	t.Run("wrong stage", func(t *testing.T) {
		other, _ := h.seed(t, domain.StageRegistered)
		_, err := h.profiles.ConditionalUpdate(h.ctx, other.ID, "name", 1, "x")
		require.ErrorIs(t, err, service.ErrStageMismatch)
	})
}

func TestAdmitRateLimit(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.profiles.Admit("203.0.113.7"))

	err := h.profiles.Admit("203.0.113.7")
	require.ErrorIs(t, err, service.ErrRateLimited)
	var retry *service.RetryError
	require.ErrorAs(t, err, &retry)
	require.InDelta(t, 5*time.Second, retry.After, float64(100*time.Millisecond))

	require.NoError(t, h.profiles.Admit("203.0.113.8"), "buckets are per IP")

	h.clock.Advance(5 * time.Second)
	require.NoError(t, h.profiles.Admit("203.0.113.7"))
}
