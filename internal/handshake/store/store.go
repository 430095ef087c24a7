package store

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/handshake/internal/handshake/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
	// ErrConflict reports a compare-and-set that found a different value.
	ErrConflict = errors.New("store: conflict")
)

// Store is the root data access interface, the Registration Store every
// component reads from. Sub-repositories keep concerns apart, and because a
// Tx cannot open another Tx, nested transactions are impossible by
// construction.
type Store interface {
	Applicants() Applicants
	Challenges() Challenges
	Profiles() Profiles
	Idempotency() Idempotency
	Uploads() Uploads
	StreamCursors() StreamCursors
	SigningKeys() SigningKeys
	Audit() Audit

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise it is committed.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Applicants interface {
	// CreateApplicant inserts a new applicant (id is provided by the caller).
	CreateApplicant(ctx context.Context, a domain.Applicant) error

	// GetApplicant returns an applicant by id.
	GetApplicant(ctx context.Context, id string) (domain.Applicant, error)

	// GetApplicantByKeyHash resolves a registration key fingerprint.
	GetApplicantByKeyHash(ctx context.Context, keyHash string) (domain.Applicant, error)

	// GetLatestApplicantByCallback returns the newest applicant registered
	// against callbackURL.
	GetLatestApplicantByCallback(ctx context.Context, callbackURL string) (domain.Applicant, error)

	// CompareAndSetStage moves the applicant from one stage to the next only
	// if it is still in from and has no failure outstanding. It reports
	// whether the row changed.
	CompareAndSetStage(ctx context.Context, id string, from, to domain.Stage, now time.Time) (bool, error)

	// SetRegistrationKeyHash stores the key fingerprint once; a second call
	// returns ErrAlreadyExists.
	SetRegistrationKeyHash(ctx context.Context, id, keyHash string) error

	// RecordFailure stores f if the applicant is still in f.Stage with no
	// failure outstanding, and reports whether it did.
	RecordFailure(ctx context.Context, id string, f domain.Failure) (bool, error)

	// ClearFailure drops the failure record and resets the stage to stage.
	ClearFailure(ctx context.Context, id string, stage domain.Stage, now time.Time) error
}

type Challenges interface {
	// CreateChallenge stores a freshly issued challenge.
	CreateChallenge(ctx context.Context, c domain.Challenge) error

	// GetChallenge fetches a challenge by id.
	GetChallenge(ctx context.Context, id string) (domain.Challenge, error)

	// RecordDeliveryAttempt bumps the attempt counter, setting delivered_at
	// the first time delivered is true.
	RecordDeliveryAttempt(ctx context.Context, id string, delivered bool, now time.Time) error

	// IncrementVerifyAttempts counts an invalid signature and returns the total.
	IncrementVerifyAttempts(ctx context.Context, id string) (int, error)

	// MarkChallengeVerified consumes a pending challenge. It returns
	// ErrConflict if it was no longer pending.
	MarkChallengeVerified(ctx context.Context, id string, now time.Time) error

	// ExpireChallenge flips a pending challenge to expired and reports
	// whether it was still pending.
	ExpireChallenge(ctx context.Context, id string) (bool, error)

	// ListOverdueChallenges returns pending challenges whose expiry is at or
	// before now.
	ListOverdueChallenges(ctx context.Context, now time.Time) ([]domain.Challenge, error)

	// DeleteChallengesForApplicant discards an applicant's challenges.
	DeleteChallengesForApplicant(ctx context.Context, applicantID string) error

	// DeleteSettledChallenges removes non-pending challenges issued before
	// the cutoff (housekeeping).
	DeleteSettledChallenges(ctx context.Context, before time.Time) (int64, error)
}

type Profiles interface {
	// CreateProfileField inserts a field at version 1.
	CreateProfileField(ctx context.Context, f domain.ProfileField) error

	// GetProfileField fetches one field.
	GetProfileField(ctx context.Context, applicantID, name string) (domain.ProfileField, error)

	// ListProfileFields returns an applicant's fields ordered by name.
	ListProfileFields(ctx context.Context, applicantID string) ([]domain.ProfileField, error)

	// ConditionalUpdateField writes value only if the stored version equals
	// expected and returns the new version. A version mismatch is
	// ErrConflict, a missing field ErrNotFound.
	ConditionalUpdateField(ctx context.Context, applicantID, name string, expected int64, value string, now time.Time) (int64, error)

	// DeleteProfile removes every field of an applicant.
	DeleteProfile(ctx context.Context, applicantID string) error
}

type Idempotency interface {
	// GetIdempotencyRecord fetches the record for (applicant, key).
	GetIdempotencyRecord(ctx context.Context, applicantID, key string) (domain.IdempotencyRecord, error)

	// CreateIdempotencyRecord stores the first outcome for (applicant, key).
	CreateIdempotencyRecord(ctx context.Context, rec domain.IdempotencyRecord) error

	// DeleteIdempotencyRecordsBefore is housekeeping.
	DeleteIdempotencyRecordsBefore(ctx context.Context, before time.Time) (int64, error)
}

type Uploads interface {
	// CreateUploadSession stores a new in-progress session.
	CreateUploadSession(ctx context.Context, u domain.UploadSession) error

	// GetUploadSession fetches a session by id.
	GetUploadSession(ctx context.Context, id string) (domain.UploadSession, error)

	// AdvanceUploadOffset moves the high-water mark from `from` to `to`. It
	// returns ErrConflict if the session is no longer at from or no longer
	// in progress.
	AdvanceUploadOffset(ctx context.Context, id string, from, to int64, now time.Time) error

	// CompleteUploadSession marks the session complete with its blob reference.
	CompleteUploadSession(ctx context.Context, id, blobRef string, now time.Time) error

	// FailUploadSession fails an in-progress session and reports whether it
	// was still in progress.
	FailUploadSession(ctx context.Context, id, reason string) (bool, error)

	// ListStalledUploads returns in-progress sessions whose last chunk
	// arrived before the cutoff.
	ListStalledUploads(ctx context.Context, before time.Time) ([]domain.UploadSession, error)

	// ListUploadsForApplicant returns an applicant's sessions, newest first.
	ListUploadsForApplicant(ctx context.Context, applicantID string) ([]domain.UploadSession, error)

	// DeleteUploadSession removes one session row.
	DeleteUploadSession(ctx context.Context, id string) error
}

type StreamCursors interface {
	// GetStreamCursor fetches the cursor of an applicant.
	GetStreamCursor(ctx context.Context, applicantID string) (domain.StreamCursor, error)

	// SaveStreamCursor inserts or replaces the cursor.
	SaveStreamCursor(ctx context.Context, c domain.StreamCursor) error

	// DeleteStreamCursor discards the cursor of an applicant.
	DeleteStreamCursor(ctx context.Context, applicantID string) error
}

type SigningKeys interface {
	// CreateSigningKey stores a new signing key with encrypted private key material.
	CreateSigningKey(ctx context.Context, key domain.SigningKey) error

	// GetSigningKeyByKid fetches a signing key by its key identifier.
	GetSigningKeyByKid(ctx context.Context, kid string) (domain.SigningKey, error)

	// ListOpenSigningKeys returns keys whose window has not closed at now,
	// ordered by valid_from.
	ListOpenSigningKeys(ctx context.Context, now time.Time) ([]domain.SigningKey, error)

	// DeleteClosedSigningKeys removes keys whose window closed before the
	// cutoff (housekeeping).
	DeleteClosedSigningKeys(ctx context.Context, before time.Time) (int64, error)
}

type Audit interface {
	// RecordAuditEvent appends to the audit trail.
	RecordAuditEvent(ctx context.Context, e domain.AuditEvent) error

	// ListAuditEvents returns an applicant's most recent events, newest first.
	ListAuditEvents(ctx context.Context, applicantID string, limit int) ([]domain.AuditEvent, error)
}
