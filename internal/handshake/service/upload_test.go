package service_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aussiebroadwan/handshake/internal/handshake/blob"
	"github.com/aussiebroadwan/handshake/internal/handshake/domain"
	"github.com/aussiebroadwan/handshake/internal/handshake/service"
	"github.com/aussiebroadwan/handshake/pkg/httpx"
	"github.com/stretchr/testify/require"
)

var resume = []byte("PK\x03\x04 resume.zip content for the upload tests, thirty-odd bytes")

func digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func chunk(start, end int64) httpx.ContentRange {
	return httpx.ContentRange{Start: start, End: end, Total: int64(len(resume))}
}

func (h *harness) put(t *testing.T, id string, start, end int64) (*service.ChunkResult, error) {
	t.Helper()
	return h.uploads.WriteChunk(h.ctx, id, chunk(start, end), bytes.NewReader(resume[start:end+1]))
}

func TestUploadResumableChunks(t *testing.T) {
	h := newHarness(t)
	a, _ := h.seed(t, domain.StageProfileLocked)
	size := int64(len(resume))

	sess, target, err := h.uploads.Begin(h.ctx, a.ID, size, digest(resume))
	require.NoError(t, err)
	require.Equal(t, domain.UploadInProgress, sess.Status)
	require.Equal(t, domain.StageUploading, h.applicant(t, a.ID).Stage)
	require.True(t, strings.HasPrefix(target.URL, "https://handshake.example/v1/uploads/"+sess.ID+"?"))

	t.Run("repeated begin returns the open session", func(t *testing.T) {
		again, _, err := h.uploads.Begin(h.ctx, a.ID, size, strings.ToUpper(digest(resume)))
		require.NoError(t, err)
		require.Equal(t, sess.ID, again.ID)

		_, _, err = h.uploads.Begin(h.ctx, a.ID, size+1, digest(resume))
		require.ErrorIs(t, err, service.ErrStageMismatch)
	})

	res, err := h.put(t, sess.ID, 0, 9)
	require.NoError(t, err)
	require.False(t, res.Complete)
	require.Equal(t, int64(10), res.Session.Offset)

	t.Run("query reports the held offset", func(t *testing.T) {
		res, err := h.uploads.WriteChunk(h.ctx, sess.ID, httpx.ContentRange{Total: size, Query: true}, emptyBody())
		require.NoError(t, err)
		require.Equal(t, int64(10), res.Session.Offset)
		require.Equal(t, "bytes=0-9", httpx.ResumeRange(res.Session.Offset))
	})

	t.Run("chunks out of order are refused", func(t *testing.T) {
		for _, start := range []int64{0, 5, 20} {
			_, err := h.put(t, sess.ID, start, start+4)
			var oerr *service.OffsetError
			require.ErrorAs(t, err, &oerr)
			require.Equal(t, int64(10), oerr.Offset)
		}
	})

	t.Run("total must match the declaration", func(t *testing.T) {
		_, err := h.uploads.WriteChunk(h.ctx, sess.ID, httpx.ContentRange{Start: 10, End: 11, Total: size + 1}, bytes.NewReader(resume[10:12]))
		require.ErrorIs(t, err, service.ErrInvalidRequest)
	})

	t.Run("short body leaves the offset", func(t *testing.T) {
		_, err := h.uploads.WriteChunk(h.ctx, sess.ID, chunk(10, 19), bytes.NewReader(resume[10:15]))
		require.ErrorIs(t, err, service.ErrInvalidRequest)

		got, err := h.uploads.Session(h.ctx, a.ID, sess.ID)
		require.NoError(t, err)
		require.Equal(t, int64(10), got.Offset)
	})

	res, err = h.put(t, sess.ID, 10, size-1)
	require.NoError(t, err)
	require.True(t, res.Complete)
	require.Equal(t, domain.UploadComplete, res.Session.Status)
	require.Equal(t, domain.StageStreaming, h.applicant(t, a.ID).Stage)

	rc, err := h.blobs.Open(h.ctx, res.Session.BlobRef)
	require.NoError(t, err)
	stored, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	require.Equal(t, resume, stored)

	_, err = os.Stat(sess.SpoolPath)
	require.ErrorIs(t, err, os.ErrNotExist, "spool is removed once the blob is stored")

	t.Run("retried final put reports completion", func(t *testing.T) {
		again, err := h.put(t, sess.ID, 10, size-1)
		require.NoError(t, err)
		require.True(t, again.Complete)
		require.Equal(t, res.Session.BlobRef, again.Session.BlobRef)
	})

	t.Run("sessions are private to their applicant", func(t *testing.T) {
		other, _ := h.seed(t, domain.StageProfileLocked)
		_, err := h.uploads.Session(h.ctx, other.ID, sess.ID)
		require.ErrorIs(t, err, service.ErrNotFound)
	})
}

func emptyBody() io.Reader { return bytes.NewReader(nil) }

func TestUploadChecksumMismatch(t *testing.T) {
	h := newHarness(t)
	a, _ := h.seed(t, domain.StageProfileLocked)

	sess, _, err := h.uploads.Begin(h.ctx, a.ID, int64(len(resume)), digest([]byte("something else")))
	require.NoError(t, err)

	_, err = h.put(t, sess.ID, 0, int64(len(resume))-1)
	require.ErrorIs(t, err, service.ErrChecksumMismatch)

	got := h.applicant(t, a.ID)
	require.NotNil(t, got.Failure)
	require.Equal(t, domain.StageUploading, got.Failure.Stage)
	require.Equal(t, service.ReasonChecksumMismatch, got.Failure.Reason)
	require.Equal(t, 1, h.observer.failures[service.ReasonChecksumMismatch])

	_, err = os.Stat(sess.SpoolPath)
	require.ErrorIs(t, err, os.ErrNotExist)

	// Retrying the final PUT does not resurrect the session.
	_, err = h.put(t, sess.ID, 0, int64(len(resume))-1)
	require.ErrorIs(t, err, service.ErrChecksumMismatch)
}

func TestUploadBeginValidation(t *testing.T) {
	h := newHarness(t)
	a, _ := h.seed(t, domain.StageProfileLocked)

	_, _, err := h.uploads.Begin(h.ctx, a.ID, 2<<20, digest(resume))
	require.ErrorIs(t, err, service.ErrUploadTooLarge)

	_, _, err = h.uploads.Begin(h.ctx, a.ID, 0, digest(resume))
	require.ErrorIs(t, err, service.ErrInvalidRequest)

	_, _, err = h.uploads.Begin(h.ctx, a.ID, 10, "not-a-digest")
	require.ErrorIs(t, err, service.ErrInvalidRequest)

	early, _ := h.seed(t, domain.StageProfileDraft)
	_, _, err = h.uploads.Begin(h.ctx, early.ID, 10, digest(resume))
	require.ErrorIs(t, err, service.ErrStageMismatch)

	require.Equal(t, domain.StageProfileLocked, h.applicant(t, a.ID).Stage)
}

func TestUploadTargetSignature(t *testing.T) {
	h := newHarness(t)
	target := h.uploads.Target("u-1", h.clock.Now())
	require.Equal(t, h.clock.Now().Add(service.DefaultUploadURLTTL), target.ExpiresAt)

	u, err := url.Parse(target.URL)
	require.NoError(t, err)
	q := u.Query()

	require.NoError(t, h.uploads.CheckTarget("u-1", q.Get("expires"), q.Get("sig")))
	require.ErrorIs(t, h.uploads.CheckTarget("u-2", q.Get("expires"), q.Get("sig")), service.ErrInvalidUploadSignature)
	require.ErrorIs(t, h.uploads.CheckTarget("u-1", "9999999999", q.Get("sig")), service.ErrInvalidUploadSignature)
	require.ErrorIs(t, h.uploads.CheckTarget("u-1", q.Get("expires"), ""), service.ErrInvalidUploadSignature)
	require.ErrorIs(t, h.uploads.CheckTarget("u-1", "soon", q.Get("sig")), service.ErrInvalidUploadSignature)

	h.clock.Advance(service.DefaultUploadURLTTL)
	require.ErrorIs(t, h.uploads.CheckTarget("u-1", q.Get("expires"), q.Get("sig")), service.ErrInvalidUploadSignature)
}

func TestUploadStallAndRetry(t *testing.T) {
	h := newHarness(t)
	a, key := h.seed(t, domain.StageProfileLocked)

	sess, _, err := h.uploads.Begin(h.ctx, a.ID, int64(len(resume)), digest(resume))
	require.NoError(t, err)
	_, err = h.put(t, sess.ID, 0, 9)
	require.NoError(t, err)

	h.clock.Advance(30 * time.Second)
	n, err := h.uploads.SweepStalled(h.ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	h.clock.Advance(service.DefaultUploadStallTimeout)
	n, err = h.uploads.SweepStalled(h.ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got := h.applicant(t, a.ID)
	require.NotNil(t, got.Failure)
	require.Equal(t, service.ReasonUploadStalled, got.Failure.Reason)

	_, err = h.put(t, sess.ID, 10, 19)
	require.ErrorIs(t, err, service.ErrUploadStalled)

	_, err = h.orch.Retry(h.ctx, key)
	require.ErrorIs(t, err, service.ErrCooldownActive)

	h.clock.Advance(service.DefaultCooldown)
	retried, err := h.orch.Retry(h.ctx, key)
	require.NoError(t, err)
	require.Equal(t, domain.StageProfileLocked, retried.Stage)
	require.Nil(t, retried.Failure)

	sessions, err := h.store.Uploads().ListUploadsForApplicant(h.ctx, a.ID)
	require.NoError(t, err)
	require.Empty(t, sessions)

	fresh, _, err := h.uploads.Begin(h.ctx, a.ID, int64(len(resume)), digest(resume))
	require.NoError(t, err)
	require.NotEqual(t, sess.ID, fresh.ID)
	require.Zero(t, fresh.Offset, "a retried upload restarts from zero")
}

// flakyBlobs fails the next failures Puts, then defers to the wrapped store.
type flakyBlobs struct {
	blob.Store
	failures int
}

func (f *flakyBlobs) Put(ctx context.Context, key string, r io.ReadSeeker, size int64, sum string) (string, error) {
	if f.failures > 0 {
		f.failures--
		return "", errors.New("transient s3 outage")
	}
	return f.Store.Put(ctx, key, r, size, sum)
}

func TestUploadCompletionSurvivesBlobStoreFailure(t *testing.T) {
	size := int64(len(resume))

	retries := []struct {
		name  string
		retry func(h *harness, id string) (*service.ChunkResult, error)
	}{
		{"query", func(h *harness, id string) (*service.ChunkResult, error) {
			return h.uploads.WriteChunk(h.ctx, id, httpx.ContentRange{Total: size, Query: true}, emptyBody())
		}},
		{"final chunk again", func(h *harness, id string) (*service.ChunkResult, error) {
			return h.uploads.WriteChunk(h.ctx, id, chunk(0, size-1), bytes.NewReader(resume))
		}},
	}
	for _, tt := range retries {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			flaky := &flakyBlobs{Store: h.blobs, failures: 1}
			h.uploads.Blobs = flaky
			a, _ := h.seed(t, domain.StageProfileLocked)

			sess, _, err := h.uploads.Begin(h.ctx, a.ID, size, digest(resume))
			require.NoError(t, err)

			_, err = h.put(t, sess.ID, 0, size-1)
			require.ErrorContains(t, err, "transient s3 outage")
			require.Equal(t, domain.StageUploading, h.applicant(t, a.ID).Stage)

			res, err := tt.retry(h, sess.ID)
			require.NoError(t, err)
			require.True(t, res.Complete)
			require.Equal(t, domain.StageStreaming, h.applicant(t, a.ID).Stage)

			rc, err := h.blobs.Open(h.ctx, res.Session.BlobRef)
			require.NoError(t, err)
			stored, err := io.ReadAll(rc)
			require.NoError(t, rc.Close())
			require.NoError(t, err)
			require.Equal(t, resume, stored)
		})
	}

	t.Run("sweep completes instead of stalling", func(t *testing.T) {
		h := newHarness(t)
		h.uploads.Blobs = &flakyBlobs{Store: h.blobs, failures: 1}
		a, _ := h.seed(t, domain.StageProfileLocked)

		sess, _, err := h.uploads.Begin(h.ctx, a.ID, size, digest(resume))
		require.NoError(t, err)
		_, err = h.put(t, sess.ID, 0, size-1)
		require.Error(t, err)

		h.clock.Advance(service.DefaultUploadStallTimeout + time.Second)
		n, err := h.uploads.SweepStalled(h.ctx)
		require.NoError(t, err)
		require.Zero(t, n)

		got := h.applicant(t, a.ID)
		require.Nil(t, got.Failure)
		require.Equal(t, domain.StageStreaming, got.Stage)
	})

	t.Run("sweep stalls when the store stays down", func(t *testing.T) {
		h := newHarness(t)
		h.uploads.Blobs = &flakyBlobs{Store: h.blobs, failures: 2}
		a, _ := h.seed(t, domain.StageProfileLocked)

		sess, _, err := h.uploads.Begin(h.ctx, a.ID, size, digest(resume))
		require.NoError(t, err)
		_, err = h.put(t, sess.ID, 0, size-1)
		require.Error(t, err)

		h.clock.Advance(service.DefaultUploadStallTimeout + time.Second)
		n, err := h.uploads.SweepStalled(h.ctx)
		require.NoError(t, err)
		require.Equal(t, 1, n)
		require.Equal(t, service.ReasonUploadStalled, h.applicant(t, a.ID).Failure.Reason)
	})
}

func TestUploadStallDetectedOnWrite(t *testing.T) {
	h := newHarness(t)
	a, _ := h.seed(t, domain.StageProfileLocked)

	sess, _, err := h.uploads.Begin(h.ctx, a.ID, int64(len(resume)), digest(resume))
	require.NoError(t, err)

	h.clock.Advance(service.DefaultUploadStallTimeout + time.Second)
	_, err = h.put(t, sess.ID, 0, 9)
	require.ErrorIs(t, err, service.ErrUploadStalled)
	require.Equal(t, service.ReasonUploadStalled, h.applicant(t, a.ID).Failure.Reason)
}

func TestPurgeSpool(t *testing.T) {
	h := newHarness(t)
	a, _ := h.seed(t, domain.StageProfileLocked)

	sess, _, err := h.uploads.Begin(h.ctx, a.ID, int64(len(resume)), digest(resume))
	require.NoError(t, err)

	orphan := filepath.Join(h.uploads.SpoolDir, "orphan.part")
	require.NoError(t, os.WriteFile(orphan, []byte("x"), 0o600))

	n, err := h.uploads.PurgeSpool(h.ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = os.Stat(orphan)
	require.ErrorIs(t, err, os.ErrNotExist)
	_, err = os.Stat(sess.SpoolPath)
	require.NoError(t, err, "open sessions keep their spool")
}
