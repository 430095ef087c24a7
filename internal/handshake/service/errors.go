package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/handshake/internal/handshake/domain"
)

var (
	ErrInvalidCallback        = errors.New("invalid_callback")
	ErrInvalidRequest         = errors.New("invalid_request")
	ErrRegistrationRequired   = errors.New("registration_required")
	ErrStageMismatch          = errors.New("stage_mismatch")
	ErrCooldownActive         = errors.New("cooldown_active")
	ErrChallengeExpired       = errors.New("challenge_expired")
	ErrSignatureInvalid       = errors.New("signature_invalid")
	ErrIdempotencyConflict    = errors.New("idempotency_conflict")
	ErrRateLimited            = errors.New("rate_limited")
	ErrPreconditionFailed     = errors.New("precondition_failed")
	ErrPreconditionRequired   = errors.New("precondition_required")
	ErrNotFound               = errors.New("not_found")
	ErrOffsetMismatch         = errors.New("offset_mismatch")
	ErrChecksumMismatch       = errors.New("checksum_mismatch")
	ErrUploadTooLarge         = errors.New("upload_too_large")
	ErrUploadStalled          = errors.New("upload_stalled")
	ErrInvalidUploadSignature = errors.New("invalid_upload_signature")
	ErrStreamStalled          = errors.New("stream_stalled")
	ErrAckMissing             = errors.New("ack_missing")
	ErrInvalidAck             = errors.New("invalid_ack")
	ErrStaleKey               = errors.New("stale_key")
	ErrTokenExpired           = errors.New("token_expired")
)

// Failure reasons recorded against a stage. They double as error kinds.
const (
	ReasonChallengeExpired = "ChallengeExpired"
	ReasonSignatureInvalid = "SignatureInvalid"
	ReasonChecksumMismatch = "ChecksumMismatch"
	ReasonUploadStalled    = "UploadStalled"
	ReasonStreamStalled    = "StreamStalled"
	ReasonAckMissing       = "AckMissing"
)

// invalid wraps ErrInvalidRequest with a client-facing description.
func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// StageError is a request for a stage the applicant is not in. Failed is
// set when the applicant sits on a failure whose cooldown has elapsed, so
// the only way forward is a retry.
type StageError struct {
	Current domain.Stage
	Failed  bool
}

func (e *StageError) Error() string {
	if e.Failed {
		return fmt.Sprintf("stage_mismatch: %s failed, retry required", e.Current)
	}
	return fmt.Sprintf("stage_mismatch: applicant is in %s", e.Current)
}

func (e *StageError) Unwrap() error { return ErrStageMismatch }

// RetryError tells the client when to try again.
type RetryError struct {
	Err   error
	After time.Duration
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("%v (retry after %s)", e.Err, e.After.Round(time.Second))
}

func (e *RetryError) Unwrap() error { return e.Err }

// VersionError is a conditional write against a stale version.
type VersionError struct {
	Current int64
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("precondition_failed: current version is %d", e.Current)
}

func (e *VersionError) Unwrap() error { return ErrPreconditionFailed }

// OffsetError is a chunk that does not start at the held offset.
type OffsetError struct {
	Offset int64
}

func (e *OffsetError) Error() string {
	return fmt.Sprintf("offset_mismatch: server holds %d bytes", e.Offset)
}

func (e *OffsetError) Unwrap() error { return ErrOffsetMismatch }
