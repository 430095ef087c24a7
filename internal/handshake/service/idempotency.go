package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/aussiebroadwan/handshake/internal/handshake/domain"
	"github.com/aussiebroadwan/handshake/internal/handshake/store"
	"github.com/aussiebroadwan/handshake/pkg/cryptox"
)

// MaxIdempotencyKey bounds the Idempotency-Key header.
const MaxIdempotencyKey = 255

// Response is a stored or freshly produced HTTP outcome.
type Response struct {
	StatusCode int
	Body       []byte
	Replayed   bool // served from the idempotency record
}

// Operation is the write guarded by an idempotency key. It runs inside the
// guard's transaction and must use tx for every store access.
type Operation func(ctx context.Context, tx store.Tx) (Response, error)

// IdempotencyGuard deduplicates writes by (applicant, key). The record is
// looked up, the operation run and its outcome stored in one transaction,
// so an outcome exists exactly when the operation's writes do.
type IdempotencyGuard struct {
	Store store.Store
	Clock Clock
}

// RequestFingerprint identifies a logical request: the base64url SHA-256
// of method, path and the canonical body, newline separated. JSON bodies
// are canonicalised so whitespace and key order do not count as a
// different payload.
func RequestFingerprint(method, path string, body []byte) string {
	var b strings.Builder
	b.WriteString(strings.ToUpper(method))
	b.WriteByte('\n')
	b.WriteString(path)
	b.WriteByte('\n')
	b.Write(canonicalBody(body))
	return cryptox.Fingerprint([]byte(b.String()))
}

func canonicalBody(body []byte) []byte {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return body
	}
	// encoding/json sorts map keys, which is all the canonical form needs.
	out, err := json.Marshal(v)
	if err != nil {
		return body
	}
	return out
}

// Execute runs op at most once per (applicantID, key). A repeat with the
// same fingerprint returns the stored response byte for byte without
// running op; a repeat with a different fingerprint is
// ErrIdempotencyConflict. Errors from op are not recorded, so the client
// may retry them with the same key.
//
// The caller holds the applicant lock, which makes exactly one of several
// concurrent duplicates the original.
func (g *IdempotencyGuard) Execute(ctx context.Context, applicantID, key, fingerprint string, op Operation) (Response, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Response{}, invalid("Idempotency-Key header is required")
	}
	if len(key) > MaxIdempotencyKey {
		return Response{}, invalid("Idempotency-Key is longer than %d bytes", MaxIdempotencyKey)
	}

	var resp Response
	err := g.Store.WithTx(ctx, func(tx store.Tx) error {
		// 1. Replay or conflict.
		rec, err := tx.Idempotency().GetIdempotencyRecord(ctx, applicantID, key)
		switch {
		case err == nil:
			if rec.Fingerprint != fingerprint {
				return ErrIdempotencyConflict
			}
			resp = Response{StatusCode: rec.StatusCode, Body: rec.Body, Replayed: true}
			return nil
		case !errors.Is(err, store.ErrNotFound):
			return err
		}

		// 2. First sighting: run and remember.
		resp, err = op(ctx, tx)
		if err != nil {
			return err
		}
		err = tx.Idempotency().CreateIdempotencyRecord(ctx, domain.IdempotencyRecord{
			ApplicantID: applicantID,
			Key:         key,
			Fingerprint: fingerprint,
			StatusCode:  resp.StatusCode,
			Body:        resp.Body,
			CreatedAt:   g.Clock.Now(),
		})
		if errors.Is(err, store.ErrAlreadyExists) {
			return ErrIdempotencyConflict
		}
		return err
	})
	if err != nil {
		return Response{}, err
	}
	return resp, nil
}
