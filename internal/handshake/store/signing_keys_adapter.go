package store

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/handshake/internal/handshake/domain"
	"github.com/aussiebroadwan/handshake/pkg/jwtx"
)

// KeyStoreAdapter adapts Store to jwtx.KeyStore so the jwtx package can
// persist signing keys without depending on the domain package.
type KeyStoreAdapter struct {
	store Store
}

// NewKeyStoreAdapter creates a new adapter that implements jwtx.KeyStore using a Store.
func NewKeyStoreAdapter(store Store) *KeyStoreAdapter {
	return &KeyStoreAdapter{store: store}
}

// CreateSigningKey stores a new signing key with encrypted private key material.
func (a *KeyStoreAdapter) CreateSigningKey(ctx context.Context, key jwtx.SigningKeyRecord) error {
	return a.store.SigningKeys().CreateSigningKey(ctx, recordToDomain(key))
}

// GetSigningKey returns the key for kid, mapping ErrNotFound to jwtx.ErrKeyNotFound.
func (a *KeyStoreAdapter) GetSigningKey(ctx context.Context, kid string) (jwtx.SigningKeyRecord, error) {
	key, err := a.store.SigningKeys().GetSigningKeyByKid(ctx, kid)
	if errors.Is(err, ErrNotFound) {
		return jwtx.SigningKeyRecord{}, jwtx.ErrKeyNotFound
	}
	if err != nil {
		return jwtx.SigningKeyRecord{}, err
	}
	return domainToRecord(key), nil
}

// ListOpenSigningKeys returns keys whose window has not closed at now.
func (a *KeyStoreAdapter) ListOpenSigningKeys(ctx context.Context, now time.Time) ([]jwtx.SigningKeyRecord, error) {
	keys, err := a.store.SigningKeys().ListOpenSigningKeys(ctx, now)
	if err != nil {
		return nil, err
	}

	records := make([]jwtx.SigningKeyRecord, len(keys))
	for i, key := range keys {
		records[i] = domainToRecord(key)
	}
	return records, nil
}

func domainToRecord(key domain.SigningKey) jwtx.SigningKeyRecord {
	return jwtx.SigningKeyRecord{
		ID:                  key.ID,
		Kid:                 key.Kid,
		Algorithm:           key.Algorithm,
		PublicJWK:           key.PublicJWK,
		PrivateKeyEncrypted: key.PrivateKeyEncrypted,
		ValidFrom:           key.ValidFrom,
		ValidUntil:          key.ValidUntil,
		CreatedAt:           key.CreatedAt,
	}
}

func recordToDomain(record jwtx.SigningKeyRecord) domain.SigningKey {
	return domain.SigningKey{
		ID:                  record.ID,
		Kid:                 record.Kid,
		Algorithm:           record.Algorithm,
		PublicJWK:           record.PublicJWK,
		PrivateKeyEncrypted: record.PrivateKeyEncrypted,
		ValidFrom:           record.ValidFrom,
		ValidUntil:          record.ValidUntil,
		CreatedAt:           record.CreatedAt,
	}
}
