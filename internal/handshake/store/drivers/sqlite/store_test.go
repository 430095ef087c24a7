package sqlite_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/handshake/internal/handshake/domain"
	"github.com/aussiebroadwan/handshake/internal/handshake/store"
	"github.com/aussiebroadwan/handshake/internal/handshake/store/drivers/sqlite"
	"github.com/aussiebroadwan/handshake/pkg/idx"
	"github.com/stretchr/testify/require"
)

var t0 = time.UnixMilli(1_700_000_000_000).UTC()

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.NewStore(sqlite.DSN(":memory:"))
	require.NoError(t, err)
	require.NoError(t, s.ApplyMigrations())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedApplicant(t *testing.T, s store.Store, stage domain.Stage) domain.Applicant {
	t.Helper()
	a := domain.Applicant{
		ID:             idx.NewWithPrefix(idx.PrefixApplicant).String(),
		CallbackURL:    "https://x.example/webhook",
		Stage:          stage,
		CreatedAt:      t0,
		LastActivityAt: t0,
	}
	require.NoError(t, s.Applicants().CreateApplicant(context.Background(), a))
	return a
}

func TestMigrationsIdempotent(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.ApplyMigrations())

	version, dirty, err := s.SchemaVersion()
	require.NoError(t, err)
	require.False(t, dirty)
	require.Equal(t, uint(1), version)
}

func TestApplicantRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	a := seedApplicant(t, s, domain.StageInit)

	got, err := s.Applicants().GetApplicant(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, a.ID, got.ID)
	require.Equal(t, domain.StageInit, got.Stage)
	require.True(t, got.CreatedAt.Equal(t0))
	require.Nil(t, got.Failure)
	require.False(t, got.Registered())

	_, err = s.Applicants().GetApplicant(ctx, "app_missing")
	require.ErrorIs(t, err, store.ErrNotFound)

	require.ErrorIs(t, s.Applicants().CreateApplicant(ctx, a), store.ErrAlreadyExists)
}

func TestCompareAndSetStage(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	a := seedApplicant(t, s, domain.StageInit)
	repo := s.Applicants()

	ok, err := repo.CompareAndSetStage(ctx, a.ID, domain.StageInit, domain.StageChallengePending, t0)
	require.NoError(t, err)
	require.True(t, ok)

	// Second writer from the same stage loses.
	ok, err = repo.CompareAndSetStage(ctx, a.ID, domain.StageInit, domain.StageChallengePending, t0)
	require.NoError(t, err)
	require.False(t, ok)

	// An outstanding failure blocks every transition.
	failure := domain.Failure{
		Stage:         domain.StageChallengePending,
		Reason:        "ChallengeExpired",
		FailedAt:      t0,
		CooldownUntil: t0.Add(24 * time.Hour),
	}
	recorded, err := repo.RecordFailure(ctx, a.ID, failure)
	require.NoError(t, err)
	require.True(t, recorded)

	// Only the first failure of a stage is kept.
	recorded, err = repo.RecordFailure(ctx, a.ID, failure)
	require.NoError(t, err)
	require.False(t, recorded)

	ok, err = repo.CompareAndSetStage(ctx, a.ID, domain.StageChallengePending, domain.StageRegistered, t0)
	require.NoError(t, err)
	require.False(t, ok)

	got, err := repo.GetApplicant(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Failure)
	require.Equal(t, "ChallengeExpired", got.Failure.Reason)
	require.True(t, got.Failure.CoolingDown(t0.Add(time.Hour)))

	require.NoError(t, repo.ClearFailure(ctx, a.ID, domain.StageChallengePending, t0))
	got, err = repo.GetApplicant(ctx, a.ID)
	require.NoError(t, err)
	require.Nil(t, got.Failure)
}

func TestConcurrentStageCAS(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	a := seedApplicant(t, s, domain.StageRegistered)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.Applicants().CompareAndSetStage(ctx, a.ID, domain.StageRegistered, domain.StageProfileDraft, t0)
			require.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, wins)
}

func TestAcceptedIsTerminal(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	a := seedApplicant(t, s, domain.StageTokenPending)

	ok, err := s.Applicants().CompareAndSetStage(ctx, a.ID, domain.StageTokenPending, domain.StageAccepted, t0)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := s.Applicants().GetApplicant(ctx, a.ID)
	require.NoError(t, err)
	require.True(t, got.Terminal)
	require.NotNil(t, got.AcceptedAt)
}

func TestRegistrationKeyOnce(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	a := seedApplicant(t, s, domain.StageChallengePending)

	require.NoError(t, s.Applicants().SetRegistrationKeyHash(ctx, a.ID, "hash-1"))
	require.ErrorIs(t, s.Applicants().SetRegistrationKeyHash(ctx, a.ID, "hash-2"), store.ErrAlreadyExists)

	got, err := s.Applicants().GetApplicantByKeyHash(ctx, "hash-1")
	require.NoError(t, err)
	require.Equal(t, a.ID, got.ID)

	_, err = s.Applicants().GetApplicantByKeyHash(ctx, "hash-2")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestChallengeLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	a := seedApplicant(t, s, domain.StageChallengePending)
	repo := s.Challenges()

	c := domain.Challenge{
		ID:          idx.NewWithPrefix(idx.PrefixChallenge).String(),
		ApplicantID: a.ID,
		Nonce:       "n1",
		Payload:     []byte(`{"challengeId":"c1"}`),
		Status:      domain.ChallengePending,
		IssuedAt:    t0,
		ExpiresAt:   t0.Add(domain.ChallengeTTL),
	}
	require.NoError(t, repo.CreateChallenge(ctx, c))

	require.NoError(t, repo.RecordDeliveryAttempt(ctx, c.ID, false, t0))
	require.NoError(t, repo.RecordDeliveryAttempt(ctx, c.ID, true, t0.Add(time.Second)))

	n, err := repo.IncrementVerifyAttempts(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := repo.GetChallenge(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, 2, got.DeliveryTries)
	require.NotNil(t, got.DeliveredAt)
	require.Equal(t, c.Payload, got.Payload)

	overdue, err := repo.ListOverdueChallenges(ctx, t0.Add(domain.ChallengeTTL))
	require.NoError(t, err)
	require.Len(t, overdue, 1)

	require.NoError(t, repo.MarkChallengeVerified(ctx, c.ID, t0.Add(time.Minute)))
	require.ErrorIs(t, repo.MarkChallengeVerified(ctx, c.ID, t0.Add(time.Minute)), store.ErrConflict)

	expired, err := repo.ExpireChallenge(ctx, c.ID)
	require.NoError(t, err)
	require.False(t, expired, "a verified challenge is not pending")

	removed, err := repo.DeleteSettledChallenges(ctx, t0.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), removed)
}

func TestConditionalUpdateField(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	a := seedApplicant(t, s, domain.StageProfileDraft)
	repo := s.Profiles()

	require.NoError(t, repo.CreateProfileField(ctx, domain.ProfileField{
		ApplicantID: a.ID, Name: "name", Value: "A", UpdatedAt: t0,
	}))
	require.ErrorIs(t, repo.CreateProfileField(ctx, domain.ProfileField{
		ApplicantID: a.ID, Name: "name", Value: "B", UpdatedAt: t0,
	}), store.ErrAlreadyExists)

	v, err := repo.ConditionalUpdateField(ctx, a.ID, "name", 1, "B", t0)
	require.NoError(t, err)
	require.Equal(t, int64(2), v)

	// Stale writes never mutate and report the current version.
	v, err = repo.ConditionalUpdateField(ctx, a.ID, "name", 1, "C", t0)
	require.ErrorIs(t, err, store.ErrConflict)
	require.Equal(t, int64(2), v)

	f, err := repo.GetProfileField(ctx, a.ID, "name")
	require.NoError(t, err)
	require.Equal(t, "B", f.Value)
	require.Equal(t, `"2"`, f.ETag())

	_, err = repo.ConditionalUpdateField(ctx, a.ID, "missing", 1, "x", t0)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestIdempotencyRecords(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	a := seedApplicant(t, s, domain.StageRegistered)
	b := seedApplicant(t, s, domain.StageRegistered)
	repo := s.Idempotency()

	rec := domain.IdempotencyRecord{
		ApplicantID: a.ID, Key: "k1", Fingerprint: "fp", StatusCode: 201,
		Body: []byte(`{"ok":true}`), CreatedAt: t0,
	}
	require.NoError(t, repo.CreateIdempotencyRecord(ctx, rec))
	require.ErrorIs(t, repo.CreateIdempotencyRecord(ctx, rec), store.ErrAlreadyExists)

	// Same key, other applicant: independent.
	rec.ApplicantID = b.ID
	require.NoError(t, repo.CreateIdempotencyRecord(ctx, rec))

	got, err := repo.GetIdempotencyRecord(ctx, a.ID, "k1")
	require.NoError(t, err)
	require.Equal(t, []byte(`{"ok":true}`), got.Body)
	require.Equal(t, 201, got.StatusCode)

	n, err := repo.DeleteIdempotencyRecordsBefore(ctx, t0.Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
}

func TestUploadOffsets(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	a := seedApplicant(t, s, domain.StageUploading)
	repo := s.Uploads()

	u := domain.UploadSession{
		ID: "5b0c0d7e-2f0a-4a53-9e1c-0c9d1f1b9a11", ApplicantID: a.ID,
		DeclaredSize: 10, DeclaredSHA256: "00", Status: domain.UploadInProgress,
		SpoolPath: "/tmp/x", CreatedAt: t0, LastChunkAt: t0, TargetExpires: t0.Add(time.Hour),
	}
	require.NoError(t, repo.CreateUploadSession(ctx, u))

	require.NoError(t, repo.AdvanceUploadOffset(ctx, u.ID, 0, 4, t0.Add(time.Second)))
	require.ErrorIs(t, repo.AdvanceUploadOffset(ctx, u.ID, 0, 4, t0), store.ErrConflict)

	stalled, err := repo.ListStalledUploads(ctx, t0.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, stalled, 1)
	require.Equal(t, int64(4), stalled[0].Offset)

	require.NoError(t, repo.AdvanceUploadOffset(ctx, u.ID, 4, 10, t0.Add(2*time.Second)))
	require.NoError(t, repo.CompleteUploadSession(ctx, u.ID, "file://resume.zip", t0.Add(2*time.Second)))

	failed, err := repo.FailUploadSession(ctx, u.ID, "late")
	require.NoError(t, err)
	require.False(t, failed)

	list, err := repo.ListUploadsForApplicant(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, domain.UploadComplete, list[0].Status)
	require.Equal(t, "file://resume.zip", list[0].BlobRef)
}

func TestStreamCursorUpsert(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	a := seedApplicant(t, s, domain.StageStreaming)
	repo := s.StreamCursors()

	_, err := repo.GetStreamCursor(ctx, a.ID)
	require.ErrorIs(t, err, store.ErrNotFound)

	c := domain.StreamCursor{ApplicantID: a.ID, NextSeq: 1, Generation: 1, UpdatedAt: t0}
	require.NoError(t, repo.SaveStreamCursor(ctx, c))
	c.NextSeq, c.LastAcked = 1001, 1000
	require.NoError(t, repo.SaveStreamCursor(ctx, c))

	got, err := repo.GetStreamCursor(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1000), got.LastAcked)
	require.Equal(t, int64(1000), got.Produced())

	require.NoError(t, repo.DeleteStreamCursor(ctx, a.ID))
	_, err = repo.GetStreamCursor(ctx, a.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestSigningKeysThroughAdapter(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	adapter := store.NewKeyStoreAdapter(s)

	key := domain.SigningKey{
		ID: "key_1", Kid: "kid-1", Algorithm: "EdDSA",
		PublicJWK: []byte(`{"kty":"OKP"}`), PrivateKeyEncrypted: []byte{1, 2, 3},
		ValidFrom: t0, ValidUntil: t0.Add(10 * time.Minute), CreatedAt: t0,
	}
	require.NoError(t, s.SigningKeys().CreateSigningKey(ctx, key))

	rec, err := adapter.GetSigningKey(ctx, "kid-1")
	require.NoError(t, err)
	require.True(t, rec.ValidUntil.Equal(key.ValidUntil))

	open, err := adapter.ListOpenSigningKeys(ctx, t0.Add(5*time.Minute))
	require.NoError(t, err)
	require.Len(t, open, 1)

	open, err = adapter.ListOpenSigningKeys(ctx, t0.Add(10*time.Minute))
	require.NoError(t, err)
	require.Empty(t, open)

	n, err := s.SigningKeys().DeleteClosedSigningKeys(ctx, t0.Add(11*time.Minute))
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestWithTxRollsBack(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	a := seedApplicant(t, s, domain.StageRegistered)

	err := s.WithTx(ctx, func(tx store.Tx) error {
		require.NoError(t, tx.Profiles().CreateProfileField(ctx, domain.ProfileField{
			ApplicantID: a.ID, Name: "name", Value: "A", UpdatedAt: t0,
		}))
		return store.ErrConflict
	})
	require.ErrorIs(t, err, store.ErrConflict)

	fields, err := s.Profiles().ListProfileFields(ctx, a.ID)
	require.NoError(t, err)
	require.Empty(t, fields)
}

func TestAuditTrail(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	a := seedApplicant(t, s, domain.StageRegistered)

	for i, kind := range []string{"StageMismatch", "RateLimited"} {
		require.NoError(t, s.Audit().RecordAuditEvent(ctx, domain.AuditEvent{
			ID: idx.NewWithPrefix(idx.PrefixAudit).String(), ApplicantID: a.ID,
			Stage: domain.StageRegistered, Kind: kind, CreatedAt: t0.Add(time.Duration(i) * time.Second),
		}))
	}
	// Unidentified callers are still recorded.
	require.NoError(t, s.Audit().RecordAuditEvent(ctx, domain.AuditEvent{
		ID: idx.NewWithPrefix(idx.PrefixAudit).String(), Kind: "RegistrationRequired", CreatedAt: t0,
	}))

	events, err := s.Audit().ListAuditEvents(ctx, a.ID, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, "RateLimited", events[0].Kind)
}
