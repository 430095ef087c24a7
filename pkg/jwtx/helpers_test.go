package jwtx_test

import (
	"context"
	"sync"
	"time"

	"github.com/aussiebroadwan/handshake/pkg/cryptox"
	"github.com/aussiebroadwan/handshake/pkg/jwtx"
)

// memStore is an in-memory jwtx.KeyStore.
type memStore struct {
	mu   sync.Mutex
	keys map[string]jwtx.SigningKeyRecord
}

func newMemStore() *memStore {
	return &memStore{keys: make(map[string]jwtx.SigningKeyRecord)}
}

func (m *memStore) CreateSigningKey(_ context.Context, k jwtx.SigningKeyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[k.Kid] = k
	return nil
}

func (m *memStore) GetSigningKey(_ context.Context, kid string) (jwtx.SigningKeyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[kid]
	if !ok {
		return jwtx.SigningKeyRecord{}, jwtx.ErrKeyNotFound
	}
	return k, nil
}

func (m *memStore) ListOpenSigningKeys(_ context.Context, now time.Time) ([]jwtx.SigningKeyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []jwtx.SigningKeyRecord
	for _, k := range m.keys {
		if now.Before(k.ValidUntil) {
			out = append(out, k)
		}
	}
	return out, nil
}

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func newRotator(store jwtx.KeyStore, alg string) *jwtx.Rotator {
	r, err := jwtx.NewRotator(jwtx.RotatorOptions{
		Store:     store,
		Sealer:    cryptox.NewMasterKey([]byte("jwtx-tests")),
		Algorithm: alg,
		Window:    10 * time.Minute,
		Overlap:   2 * time.Minute,
	})
	if err != nil {
		panic(err)
	}
	return r
}
