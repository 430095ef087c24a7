package handshakesdk_test

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aussiebroadwan/handshake/pkg/handshakesdk"
	"github.com/stretchr/testify/require"
)

func TestWriteErrorRoundTrip(t *testing.T) {
	rec := httptest.NewRecorder()
	handshakesdk.ErrPreconditionFailed.WithVersion(4).WriteError(rec)

	require.Equal(t, http.StatusPreconditionFailed, rec.Code)
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "PreconditionFailed", body["error"])
	require.EqualValues(t, 4, body["current_version"])

	resp := rec.Result()
	raw, _ := io.ReadAll(resp.Body)
	err := handshakesdk.ParseError(resp, raw)
	require.ErrorIs(t, err, handshakesdk.ErrPreconditionFailed)

	var he *handshakesdk.Error
	require.True(t, errors.As(err, &he))
	require.Equal(t, int64(4), *he.CurrentVersion)
}

func TestRetryAfterHeader(t *testing.T) {
	rec := httptest.NewRecorder()
	handshakesdk.ErrRateLimited.WithRetryAfter(5).WriteError(rec)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "5", rec.Header().Get("Retry-After"))
}

func TestKindStatus(t *testing.T) {
	tests := map[handshakesdk.Kind]int{
		handshakesdk.KindStageMismatch:        http.StatusConflict,
		handshakesdk.KindChallengeExpired:     http.StatusNotFound,
		handshakesdk.KindUploadStalled:        http.StatusRequestTimeout,
		handshakesdk.KindChecksumMismatch:     http.StatusUnprocessableEntity,
		handshakesdk.KindCooldownActive:       http.StatusLocked,
		handshakesdk.KindPreconditionRequired: http.StatusPreconditionRequired,
		handshakesdk.Kind("Bogus"):            http.StatusInternalServerError,
	}
	for kind, want := range tests {
		require.Equal(t, want, kind.Status(), string(kind))
	}
}

func TestSentinelsDoNotAlias(t *testing.T) {
	custom := handshakesdk.Errorf(handshakesdk.KindStageMismatch, "applicant is in %s", "Streaming")
	require.ErrorIs(t, custom, handshakesdk.ErrStageMismatch)
	require.NotErrorIs(t, custom, handshakesdk.ErrAckMissing)

	// With* must copy rather than mutate the shared sentinel.
	_ = handshakesdk.ErrPreconditionFailed.WithVersion(9)
	require.Nil(t, handshakesdk.ErrPreconditionFailed.CurrentVersion)
}

func TestNextLink(t *testing.T) {
	links := handshakesdk.NextLink(http.MethodPost, "/v1/profile")
	next, ok := links.Next()
	require.True(t, ok)
	require.Equal(t, "/v1/profile", next.Href)

	_, ok = handshakesdk.Links{}.Next()
	require.False(t, ok)
}
