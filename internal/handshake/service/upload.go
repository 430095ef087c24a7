package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aussiebroadwan/handshake/internal/handshake/blob"
	"github.com/aussiebroadwan/handshake/internal/handshake/domain"
	"github.com/aussiebroadwan/handshake/internal/handshake/store"
	"github.com/aussiebroadwan/handshake/pkg/cryptox"
	"github.com/aussiebroadwan/handshake/pkg/httpx"
	"github.com/aussiebroadwan/handshake/pkg/slogx"
)

const (
	DefaultUploadMaxBytes     = 50 << 20
	DefaultUploadStallTimeout = 60 * time.Second
	DefaultUploadURLTTL       = 30 * time.Minute

	spoolSuffix = ".part"

	// reasonDiscarded marks sessions dropped because their stage failed.
	reasonDiscarded = "Discarded"
)

var sha256Hex = regexp.MustCompile(`^[0-9a-f]{64}$`)

// UploadService coordinates the Stage 4 resumable upload of resume.zip.
// Bytes are spooled to local disk in strict order; only content whose
// SHA-256 matches the declared digest reaches the blob store.
type UploadService struct {
	Orchestrator *Orchestrator
	Store        store.Store
	Blobs        blob.Store
	SigningKey   []byte // HMAC key of pre-signed targets
	SpoolDir     string
	PublicURL    string // base of pre-signed targets
	MaxBytes     int64
	StallTimeout time.Duration
	URLTTL       time.Duration
	Clock        Clock
}

// Target is a pre-signed, time-limited write URL for one session.
type Target struct {
	URL       string
	ExpiresAt time.Time
}

// ChunkResult is the state of a session after a PUT.
type ChunkResult struct {
	Session  domain.UploadSession
	Complete bool
}

func (s *UploadService) maxBytes() int64 {
	if s.MaxBytes <= 0 {
		return DefaultUploadMaxBytes
	}
	return s.MaxBytes
}

func (s *UploadService) stallTimeout() time.Duration {
	if s.StallTimeout <= 0 {
		return DefaultUploadStallTimeout
	}
	return s.StallTimeout
}

func (s *UploadService) urlTTL() time.Duration {
	if s.URLTTL <= 0 {
		return DefaultUploadURLTTL
	}
	return s.URLTTL
}

// Begin opens an upload session for size bytes with the given digest and
// advances ProfileLocked to Uploading. Repeating Begin with the same
// declaration while the session is still open returns that session with
// a fresh target.
func (s *UploadService) Begin(ctx context.Context, applicantID string, size int64, digest string) (domain.UploadSession, Target, error) {
	// 1. Validate the declaration.
	digest = strings.ToLower(strings.TrimSpace(digest))
	switch {
	case size <= 0:
		return domain.UploadSession{}, Target{}, invalid("size must be positive")
	case size > s.maxBytes():
		return domain.UploadSession{}, Target{}, fmt.Errorf("%w: limit is %d bytes", ErrUploadTooLarge, s.maxBytes())
	case !sha256Hex.MatchString(digest):
		return domain.UploadSession{}, Target{}, invalid("sha256 must be 64 hex characters")
	}

	a, release, err := s.Orchestrator.Acquire(ctx, applicantID, domain.StageProfileLocked, domain.StageUploading)
	if err != nil {
		return domain.UploadSession{}, Target{}, err
	}
	defer release()

	now := s.Clock.Now()

	// 2. A retried Begin finds its open session.
	if a.Stage == domain.StageUploading {
		sessions, err := s.Store.Uploads().ListUploadsForApplicant(ctx, applicantID)
		if err != nil {
			return domain.UploadSession{}, Target{}, err
		}
		for _, u := range sessions {
			if u.Status == domain.UploadInProgress && u.DeclaredSize == size && u.DeclaredSHA256 == digest {
				return u, s.Target(u.ID, now), nil
			}
		}
		return domain.UploadSession{}, Target{}, &StageError{Current: a.Stage}
	}

	// 3. Spool file, session row and transition.
	id := uuid.NewString()
	spool, err := s.createSpool(id)
	if err != nil {
		return domain.UploadSession{}, Target{}, err
	}
	target := s.Target(id, now)
	sess := domain.UploadSession{
		ID:             id,
		ApplicantID:    applicantID,
		DeclaredSize:   size,
		DeclaredSHA256: digest,
		Status:         domain.UploadInProgress,
		SpoolPath:      spool,
		CreatedAt:      now,
		LastChunkAt:    now,
		TargetExpires:  target.ExpiresAt,
	}
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Uploads().CreateUploadSession(ctx, sess); err != nil {
			return err
		}
		return s.Orchestrator.Advance(ctx, tx, applicantID, domain.StageProfileLocked, domain.StageUploading)
	})
	if err != nil {
		removeSpool(ctx, spool)
		return domain.UploadSession{}, Target{}, err
	}

	slogx.FromContext(ctx).Info("upload session opened",
		slog.String("applicant_id", applicantID),
		slog.String("upload_id", id),
		slog.Int64("size", size),
	)
	return sess, target, nil
}

func (s *UploadService) createSpool(id string) (string, error) {
	if err := os.MkdirAll(s.SpoolDir, 0o700); err != nil {
		return "", fmt.Errorf("create spool dir: %w", err)
	}
	path := filepath.Join(s.SpoolDir, id+spoolSuffix)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", fmt.Errorf("create spool file: %w", err)
	}
	return path, f.Close()
}

func removeSpool(ctx context.Context, path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slogx.FromContext(ctx).Warn("failed to remove spool file", slog.String("path", path), slog.Any("error", err))
	}
}

// Target signs a write URL for session id valid for URLTTL from now.
func (s *UploadService) Target(id string, now time.Time) Target {
	expires := now.Add(s.urlTTL()).Unix()
	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("sig", s.sign(id, expires))
	return Target{
		URL:       strings.TrimRight(s.PublicURL, "/") + "/v1/uploads/" + url.PathEscape(id) + "?" + q.Encode(),
		ExpiresAt: time.Unix(expires, 0).UTC(),
	}
}

func (s *UploadService) sign(id string, expires int64) string {
	return cryptox.SignHMAC(s.SigningKey, []byte(id+"|"+strconv.FormatInt(expires, 10)))
}

// CheckTarget validates the expires and sig query parameters of a
// pre-signed PUT.
func (s *UploadService) CheckTarget(id, expires, sig string) error {
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil || sig == "" {
		return ErrInvalidUploadSignature
	}
	if !cryptox.VerifyHMAC(s.SigningKey, []byte(id+"|"+expires), sig) {
		return ErrInvalidUploadSignature
	}
	if !s.Clock.Now().Before(time.Unix(exp, 0)) {
		return fmt.Errorf("%w: target expired", ErrInvalidUploadSignature)
	}
	return nil
}

// Session returns an applicant's upload session. Sessions of other
// applicants are reported as not found.
func (s *UploadService) Session(ctx context.Context, applicantID, id string) (domain.UploadSession, error) {
	sess, err := s.Store.Uploads().GetUploadSession(ctx, id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && sess.ApplicantID != applicantID) {
		return domain.UploadSession{}, ErrNotFound
	}
	return sess, err
}

// WriteChunk appends the bytes of rng read from body to session id. A
// chunk must start exactly at the held offset. The final byte triggers
// checksum verification: a match moves the content to the blob store and
// advances Uploading to Streaming, a mismatch discards the session and
// fails the stage. A query range ("bytes */total") only reports progress.
func (s *UploadService) WriteChunk(ctx context.Context, id string, rng httpx.ContentRange, body io.Reader) (*ChunkResult, error) {
	sess, err := s.Store.Uploads().GetUploadSession(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	unlock := s.Orchestrator.Lock(sess.ApplicantID)
	defer unlock()

	// 1. Settled sessions answer without touching the spool.
	if sess, err = s.Store.Uploads().GetUploadSession(ctx, id); err != nil {
		return nil, err
	}
	switch sess.Status {
	case domain.UploadComplete:
		return &ChunkResult{Session: sess, Complete: true}, nil
	case domain.UploadFailed:
		return nil, failedUploadErr(sess.FailReason)
	}

	a, err := s.Store.Applicants().GetApplicant(ctx, sess.ApplicantID)
	if err != nil {
		return nil, err
	}
	if err := s.Orchestrator.Require(a, domain.StageUploading); err != nil {
		return nil, err
	}

	// Every byte is held but completion did not commit, e.g. the blob
	// store failed on the final chunk. Any request retries it.
	if sess.Received() {
		if rng.Total != sess.DeclaredSize {
			return nil, invalid("Content-Range total %d does not match the declared size %d", rng.Total, sess.DeclaredSize)
		}
		return s.finish(ctx, sess)
	}

	now := s.Clock.Now()
	if sess.Stalled(now, s.stallTimeout()) {
		if err := s.Stall(ctx, sess); err != nil {
			return nil, err
		}
		return nil, ErrUploadStalled
	}

	// 2. Range checks.
	if rng.Total != sess.DeclaredSize {
		return nil, invalid("Content-Range total %d does not match the declared size %d", rng.Total, sess.DeclaredSize)
	}
	if rng.Query {
		return &ChunkResult{Session: sess}, nil
	}
	if rng.Start != sess.Offset {
		return nil, &OffsetError{Offset: sess.Offset}
	}

	// 3. Append and move the high-water mark.
	if err := appendSpool(sess.SpoolPath, sess.Offset, rng.Len(), body); err != nil {
		return nil, err
	}
	next := sess.Offset + rng.Len()
	if err := s.Store.Uploads().AdvanceUploadOffset(ctx, id, sess.Offset, next, now); err != nil {
		if !errors.Is(err, store.ErrConflict) {
			return nil, err
		}
		// The watchdog failed the session while the chunk was in flight.
		current, gerr := s.Store.Uploads().GetUploadSession(ctx, id)
		if gerr == nil && current.Status == domain.UploadFailed {
			return nil, failedUploadErr(current.FailReason)
		}
		return nil, &OffsetError{Offset: current.Offset}
	}
	sess.Offset = next
	sess.LastChunkAt = now

	if sess.Offset < sess.DeclaredSize {
		return &ChunkResult{Session: sess}, nil
	}

	// 4. Final byte.
	return s.finish(ctx, sess)
}

// appendSpool writes exactly n bytes from body at offset. Anything beyond
// offset left by an earlier torn write is dropped first, and a short or
// long body leaves the spool as it was.
func appendSpool(path string, offset, n int64, body io.Reader) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("open spool: %w", err)
	}
	defer f.Close()

	if err := f.Truncate(offset); err != nil {
		return fmt.Errorf("truncate spool: %w", err)
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("seek spool: %w", err)
	}

	written, err := io.Copy(f, io.LimitReader(body, n+1))
	if err == nil && written != n {
		err = invalid("chunk carries %d bytes where Content-Range declares %d", written, n)
	}
	if err != nil {
		_ = f.Truncate(offset)
		return err
	}
	return f.Sync()
}

func (s *UploadService) finish(ctx context.Context, sess domain.UploadSession) (*ChunkResult, error) {
	log := slogx.FromContext(ctx).With(
		slog.String("applicant_id", sess.ApplicantID),
		slog.String("upload_id", sess.ID),
	)

	sum, err := fileSHA256(sess.SpoolPath)
	if err != nil {
		return nil, err
	}
	if sum != sess.DeclaredSHA256 {
		log.Warn("upload checksum mismatch", slog.String("declared", sess.DeclaredSHA256), slog.String("actual", sum))
		if _, err := s.Store.Uploads().FailUploadSession(ctx, sess.ID, ReasonChecksumMismatch); err != nil {
			return nil, err
		}
		removeSpool(ctx, sess.SpoolPath)
		if err := s.Orchestrator.Fail(ctx, sess.ApplicantID, domain.StageUploading, ReasonChecksumMismatch); err != nil {
			return nil, err
		}
		return nil, ErrChecksumMismatch
	}

	f, err := os.Open(sess.SpoolPath)
	if err != nil {
		return nil, fmt.Errorf("open spool: %w", err)
	}
	defer f.Close()

	ref, err := s.Blobs.Put(ctx, sess.ApplicantID+"/"+domain.UploadResource, f, sess.DeclaredSize, sum)
	if err != nil {
		return nil, fmt.Errorf("store %s: %w", domain.UploadResource, err)
	}

	now := s.Clock.Now()
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Uploads().CompleteUploadSession(ctx, sess.ID, ref, now); err != nil {
			return err
		}
		return s.Orchestrator.Advance(ctx, tx, sess.ApplicantID, domain.StageUploading, domain.StageStreaming)
	})
	if err != nil {
		return nil, err
	}
	removeSpool(ctx, sess.SpoolPath)
	s.Orchestrator.entered(ctx, sess.ApplicantID, domain.StageStreaming)

	sess.Status = domain.UploadComplete
	sess.BlobRef = ref
	sess.CompletedAt = &now
	log.Info("upload complete", slog.String("blob", ref), slog.Int64("size", sess.DeclaredSize))
	return &ChunkResult{Session: sess, Complete: true}, nil
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open spool: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash spool: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func failedUploadErr(reason string) error {
	if reason == ReasonChecksumMismatch {
		return ErrChecksumMismatch
	}
	return ErrUploadStalled
}

// Stall fails an in-progress session that stopped receiving bytes and
// fails the applicant's Stage 4. The session must restart from offset 0.
func (s *UploadService) Stall(ctx context.Context, sess domain.UploadSession) error {
	failed, err := s.Store.Uploads().FailUploadSession(ctx, sess.ID, ReasonUploadStalled)
	if err != nil {
		return err
	}
	if !failed {
		return nil
	}
	removeSpool(ctx, sess.SpoolPath)
	return s.Orchestrator.Fail(ctx, sess.ApplicantID, domain.StageUploading, ReasonUploadStalled)
}

// SweepStalled stalls every session idle for longer than StallTimeout.
// A session that already holds every byte gets its completion retried
// first and is stalled only if that fails again.
func (s *UploadService) SweepStalled(ctx context.Context) (int, error) {
	sessions, err := s.Store.Uploads().ListStalledUploads(ctx, s.Clock.Now().Add(-s.stallTimeout()))
	if err != nil {
		return 0, err
	}
	stalled := 0
	for _, sess := range sessions {
		if sess.Received() && s.retryFinish(ctx, sess.ApplicantID, sess.ID) {
			continue
		}
		if err := s.Stall(ctx, sess); err != nil {
			slogx.FromContext(ctx).Error("failed to stall upload", slog.String("upload_id", sess.ID), slog.Any("error", err))
			continue
		}
		stalled++
	}
	return stalled, nil
}

// retryFinish completes a session whose bytes all arrived. It reports
// whether the session is settled.
func (s *UploadService) retryFinish(ctx context.Context, applicantID, id string) bool {
	unlock := s.Orchestrator.Lock(applicantID)
	defer unlock()

	sess, err := s.Store.Uploads().GetUploadSession(ctx, id)
	if err != nil {
		return false
	}
	if sess.Status != domain.UploadInProgress {
		return true
	}
	if _, err := s.finish(ctx, sess); err != nil {
		if errors.Is(err, ErrChecksumMismatch) {
			return true
		}
		slogx.FromContext(ctx).Warn("upload completion retry failed", slog.String("upload_id", id), slog.Any("error", err))
		return false
	}
	return true
}

// Release is the upload ResetHook: when Stage 4 fails, open sessions are
// discarded along with their spooled bytes.
func (s *UploadService) Release(ctx context.Context, applicantID string, stage domain.Stage) {
	if stage != domain.StageUploading {
		return
	}
	sessions, err := s.Store.Uploads().ListUploadsForApplicant(ctx, applicantID)
	if err != nil {
		slogx.FromContext(ctx).Error("failed to list uploads", slog.String("applicant_id", applicantID), slog.Any("error", err))
		return
	}
	for _, sess := range sessions {
		if sess.Status == domain.UploadInProgress {
			if _, err := s.Store.Uploads().FailUploadSession(ctx, sess.ID, reasonDiscarded); err != nil {
				slogx.FromContext(ctx).Error("failed to discard upload", slog.String("upload_id", sess.ID), slog.Any("error", err))
			}
		}
		if sess.Status != domain.UploadComplete {
			removeSpool(ctx, sess.SpoolPath)
		}
	}
}

// PurgeSpool removes spool files no open session refers to.
func (s *UploadService) PurgeSpool(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(s.SpoolDir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, e := range entries {
		id, ok := strings.CutSuffix(e.Name(), spoolSuffix)
		if e.IsDir() || !ok {
			continue
		}
		sess, err := s.Store.Uploads().GetUploadSession(ctx, id)
		if err == nil && sess.Status == domain.UploadInProgress {
			continue
		}
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return removed, err
		}
		removeSpool(ctx, filepath.Join(s.SpoolDir, e.Name()))
		removed++
	}
	return removed, nil
}
