package service

import (
	"context"
	"errors"
	"strings"

	"github.com/aussiebroadwan/handshake/internal/handshake/domain"
	"github.com/aussiebroadwan/handshake/internal/handshake/store"
	"github.com/aussiebroadwan/handshake/pkg/cryptox"
)

// MintRegistrationKey returns a fresh 256-bit registration key and the
// fingerprint it is stored under. The key itself is never persisted.
func MintRegistrationKey() (key, fingerprint string, err error) {
	key, err = cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return "", "", err
	}
	return key, cryptox.FingerprintToken(key), nil
}

// Resolve maps a registration key to its applicant. Unknown, empty and
// malformed keys all fail with ErrRegistrationRequired.
func (o *Orchestrator) Resolve(ctx context.Context, key string) (domain.Applicant, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.Applicant{}, ErrRegistrationRequired
	}

	a, err := o.Store.Applicants().GetApplicantByKeyHash(ctx, cryptox.FingerprintToken(key))
	if errors.Is(err, store.ErrNotFound) {
		return domain.Applicant{}, ErrRegistrationRequired
	}
	if err != nil {
		return domain.Applicant{}, err
	}
	return a, nil
}
