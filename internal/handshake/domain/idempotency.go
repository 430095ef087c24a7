package domain

import "time"

// IdempotencyRecord is the stored outcome of the first request sent with a
// given Idempotency-Key. Keys are scoped per applicant.
type IdempotencyRecord struct {
	ApplicantID string
	Key         string
	Fingerprint string // hash of method, path and body
	StatusCode  int
	Body        []byte // response bytes, replayed verbatim
	CreatedAt   time.Time
}
