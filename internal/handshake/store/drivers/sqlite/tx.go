package sqlite

import (
	"context"
	"database/sql"

	"github.com/aussiebroadwan/handshake/internal/handshake/store"
)

type txStore struct {
	tx *sql.Tx
}

func newTx(tx *sql.Tx) *txStore {
	return &txStore{tx: tx}
}

func (t *txStore) Commit() error   { return t.tx.Commit() }
func (t *txStore) Rollback() error { return t.tx.Rollback() }

func (t *txStore) Close() error { return nil } // caller commits or rolls back; the DB stays open

// Ping is a no-op; the connection is held for the life of the transaction.
func (t *txStore) Ping(ctx context.Context) error {
	return nil
}

func (t *txStore) Tx(ctx context.Context) (store.Tx, error) {
	// Nested tx not supported; could emulate with SAVEPOINT if needed
	return nil, sql.ErrTxDone
}

func (t *txStore) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	// Nested tx not supported; could emulate with SAVEPOINT if needed
	return sql.ErrTxDone
}

func (t *txStore) Applicants() store.Applicants       { return &applicantsRepo{db: t.tx} }
func (t *txStore) Challenges() store.Challenges       { return &challengesRepo{db: t.tx} }
func (t *txStore) Profiles() store.Profiles           { return &profilesRepo{db: t.tx} }
func (t *txStore) Idempotency() store.Idempotency     { return &idempotencyRepo{db: t.tx} }
func (t *txStore) Uploads() store.Uploads             { return &uploadsRepo{db: t.tx} }
func (t *txStore) StreamCursors() store.StreamCursors { return &streamCursorsRepo{db: t.tx} }
func (t *txStore) SigningKeys() store.SigningKeys     { return &signingKeysRepo{db: t.tx} }
func (t *txStore) Audit() store.Audit                 { return &auditRepo{db: t.tx} }

func (t *txStore) ApplyMigrations() error { return nil } // no-op; migrations run before any tx
