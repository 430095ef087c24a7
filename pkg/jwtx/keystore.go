package jwtx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrKeyNotFound is returned by a KeyStore for a kid it has never held.
var ErrKeyNotFound = errors.New("jwtx: signing key not found")

// SigningKeyRecord is a persisted signing key. This type avoids importing
// the domain package so jwtx stays free of service dependencies.
type SigningKeyRecord struct {
	ID                  string
	Kid                 string
	Algorithm           string
	PublicJWK           []byte // JSON encoded JWK
	PrivateKeyEncrypted []byte
	ValidFrom           time.Time
	ValidUntil          time.Time
	CreatedAt           time.Time
}

// Window decodes the record's public half.
func (r SigningKeyRecord) Window() (KeyWindow, error) {
	var jwk JWK
	if err := json.Unmarshal(r.PublicJWK, &jwk); err != nil {
		return KeyWindow{}, fmt.Errorf("jwtx: decode public jwk for %s: %w", r.Kid, err)
	}
	return KeyWindow{
		Kid:        r.Kid,
		Alg:        r.Algorithm,
		JWK:        jwk,
		ValidFrom:  r.ValidFrom,
		ValidUntil: r.ValidUntil,
	}, nil
}

// KeyStore is the durable source of truth for signing keys.
type KeyStore interface {
	// CreateSigningKey stores a new signing key.
	CreateSigningKey(ctx context.Context, key SigningKeyRecord) error

	// GetSigningKey returns the key for kid or ErrKeyNotFound.
	GetSigningKey(ctx context.Context, kid string) (SigningKeyRecord, error)

	// ListOpenSigningKeys returns keys whose window has not closed at now.
	ListOpenSigningKeys(ctx context.Context, now time.Time) ([]SigningKeyRecord, error)
}

// KeySource resolves a kid to its window for the verifier cache.
type KeySource interface {
	FetchKey(ctx context.Context, kid string) (KeyWindow, error)
}

// StoreKeySource reads windows straight from a KeyStore.
type StoreKeySource struct {
	Store KeyStore
}

// FetchKey implements KeySource.
func (s StoreKeySource) FetchKey(ctx context.Context, kid string) (KeyWindow, error) {
	rec, err := s.Store.GetSigningKey(ctx, kid)
	if errors.Is(err, ErrKeyNotFound) {
		return KeyWindow{}, ErrUnknownKID
	}
	if err != nil {
		return KeyWindow{}, err
	}
	return rec.Window()
}
