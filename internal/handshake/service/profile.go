package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"slices"
	"time"

	"github.com/aussiebroadwan/handshake/internal/handshake/domain"
	"github.com/aussiebroadwan/handshake/internal/handshake/store"
	"github.com/aussiebroadwan/handshake/pkg/handshakesdk"
	"github.com/aussiebroadwan/handshake/pkg/httpx"
)

const (
	MaxProfileFields = 32
	MaxFieldValue    = 4096
)

// DefaultProfileLimit is the Stage 3 bucket: one token every five seconds
// per IP, holding at most one.
var DefaultProfileLimit = httpx.RateLimitConfig{
	RequestsPerWindow: 1,
	Window:            5 * time.Second,
	Burst:             1,
}

var fieldName = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]{0,63}$`)

// ProfileService owns Stage 2 (profile creation behind an idempotency key)
// and Stage 3 (conditional field updates behind a per-IP rate limit).
type ProfileService struct {
	Orchestrator *Orchestrator
	Store        store.Store
	Guard        *IdempotencyGuard
	Limiter      *httpx.KeyedLimiter // nil disables Admit
	Clock        Clock
}

// FieldUpdate is the outcome of a successful conditional write.
type FieldUpdate struct {
	Field domain.ProfileField
	Stage domain.Stage
}

// Admit takes a token from ip's bucket. It runs before anything else on a
// Stage 3 request, so malformed and stale attempts pay too.
func (s *ProfileService) Admit(ip string) error {
	if s.Limiter == nil {
		return nil
	}
	if ok, delay := s.Limiter.Allow(ip); !ok {
		return &RetryError{Err: ErrRateLimited, After: delay}
	}
	return nil
}

// ParseProfileFields decodes a POST /v1/profile body: a JSON object of
// string fields.
func ParseProfileFields(body []byte) (map[string]string, error) {
	var fields map[string]string
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, invalid("profile must be a JSON object of string fields")
	}
	if len(fields) == 0 {
		return nil, invalid("profile needs at least one field")
	}
	if len(fields) > MaxProfileFields {
		return nil, invalid("profile has more than %d fields", MaxProfileFields)
	}
	for name, value := range fields {
		if !fieldName.MatchString(name) {
			return nil, invalid("invalid field name %q", name)
		}
		if len(value) > MaxFieldValue {
			return nil, invalid("field %q is longer than %d bytes", name, MaxFieldValue)
		}
	}
	return fields, nil
}

// Create stores the draft profile and advances Registered to ProfileDraft.
// The whole operation runs under the idempotency guard; its response body
// is what a replay returns.
func (s *ProfileService) Create(ctx context.Context, applicantID, idempotencyKey, fingerprint string, body []byte) (Response, error) {
	unlock := s.Orchestrator.Lock(applicantID)
	defer unlock()

	return s.Guard.Execute(ctx, applicantID, idempotencyKey, fingerprint, func(ctx context.Context, tx store.Tx) (Response, error) {
		fields, err := ParseProfileFields(body)
		if err != nil {
			return Response{}, err
		}

		a, err := tx.Applicants().GetApplicant(ctx, applicantID)
		if err != nil {
			return Response{}, err
		}
		if err := s.Orchestrator.Require(a, domain.StageRegistered); err != nil {
			return Response{}, err
		}

		now := s.Clock.Now()
		names := make([]string, 0, len(fields))
		for name := range fields {
			names = append(names, name)
		}
		slices.Sort(names)

		created := make([]domain.ProfileField, 0, len(names))
		for _, name := range names {
			f := domain.ProfileField{
				ApplicantID: applicantID,
				Name:        name,
				Value:       fields[name],
				Version:     1,
				UpdatedAt:   now,
			}
			if err := tx.Profiles().CreateProfileField(ctx, f); err != nil {
				return Response{}, err
			}
			created = append(created, f)
		}

		if err := s.Orchestrator.Advance(ctx, tx, applicantID, domain.StageRegistered, domain.StageProfileDraft); err != nil {
			return Response{}, err
		}

		out, err := json.Marshal(handshakesdk.ProfileResponse{
			ApplicantID: applicantID,
			Fields:      FieldsToSDK(created),
			Stage:       domain.StageProfileDraft.String(),
			Links:       NextLinks(domain.Applicant{Stage: domain.StageProfileDraft}),
		})
		if err != nil {
			return Response{}, err
		}
		return Response{StatusCode: http.StatusCreated, Body: out}, nil
	})
}

// ConditionalUpdate writes value only if the field is still at expected.
// A stale version never mutates state and reports the current one. The
// first successful write locks the profile (ProfileDraft to
// ProfileLocked). Callers run Admit first.
func (s *ProfileService) ConditionalUpdate(ctx context.Context, applicantID, name string, expected int64, value string) (*FieldUpdate, error) {
	if len(value) > MaxFieldValue {
		return nil, invalid("value is longer than %d bytes", MaxFieldValue)
	}

	a, release, err := s.Orchestrator.Acquire(ctx, applicantID, domain.StageProfileDraft, domain.StageProfileLocked)
	if err != nil {
		return nil, err
	}
	defer release()

	var out FieldUpdate
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		version, err := tx.Profiles().ConditionalUpdateField(ctx, applicantID, name, expected, value, s.Clock.Now())
		switch {
		case errors.Is(err, store.ErrConflict):
			return &VersionError{Current: version}
		case errors.Is(err, store.ErrNotFound):
			return ErrNotFound
		case err != nil:
			return err
		}

		if a.Stage == domain.StageProfileDraft {
			if err := s.Orchestrator.Advance(ctx, tx, applicantID, domain.StageProfileDraft, domain.StageProfileLocked); err != nil {
				return err
			}
		}

		out.Field, err = tx.Profiles().GetProfileField(ctx, applicantID, name)
		out.Stage = domain.StageProfileLocked
		return err
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Fields returns the applicant's profile once it exists.
func (s *ProfileService) Fields(ctx context.Context, a domain.Applicant) ([]domain.ProfileField, error) {
	if a.Stage < domain.StageProfileDraft {
		return nil, &StageError{Current: a.Stage}
	}
	return s.Store.Profiles().ListProfileFields(ctx, a.ID)
}

// FieldsToSDK converts stored fields to their wire form.
func FieldsToSDK(fields []domain.ProfileField) []handshakesdk.ProfileField {
	out := make([]handshakesdk.ProfileField, 0, len(fields))
	for _, f := range fields {
		out = append(out, handshakesdk.ProfileField{Name: f.Name, Value: f.Value, Version: f.Version})
	}
	return out
}
