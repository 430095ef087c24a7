package sqlite

import (
	"context"
	"time"

	"github.com/aussiebroadwan/handshake/internal/handshake/domain"
)

type signingKeysRepo struct {
	db dbtx
}

const signingKeyColumns = `id, kid, algorithm, public_jwk, private_key_encrypted, valid_from, valid_until, created_at`

func (r *signingKeysRepo) CreateSigningKey(ctx context.Context, key domain.SigningKey) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO signing_keys (`+signingKeyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		key.ID, key.Kid, key.Algorithm, key.PublicJWK, key.PrivateKeyEncrypted,
		toMillis(key.ValidFrom), toMillis(key.ValidUntil), toMillis(key.CreatedAt))
	return mapConstraint(err)
}

func (r *signingKeysRepo) GetSigningKeyByKid(ctx context.Context, kid string) (domain.SigningKey, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+signingKeyColumns+` FROM signing_keys WHERE kid = ?`, kid)
	return scanSigningKey(row)
}

func (r *signingKeysRepo) ListOpenSigningKeys(ctx context.Context, now time.Time) ([]domain.SigningKey, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+signingKeyColumns+` FROM signing_keys
		WHERE valid_until > ?
		ORDER BY valid_from, kid`, toMillis(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []domain.SigningKey
	for rows.Next() {
		k, err := scanSigningKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (r *signingKeysRepo) DeleteClosedSigningKeys(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM signing_keys WHERE valid_until < ?`, toMillis(before))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanSigningKey(row rowScanner) (domain.SigningKey, error) {
	var (
		k                             domain.SigningKey
		validFrom, validUntil, create int64
	)
	err := row.Scan(&k.ID, &k.Kid, &k.Algorithm, &k.PublicJWK, &k.PrivateKeyEncrypted,
		&validFrom, &validUntil, &create)
	if err != nil {
		return domain.SigningKey{}, mapNotFound(err)
	}
	k.ValidFrom = fromMillis(validFrom)
	k.ValidUntil = fromMillis(validUntil)
	k.CreatedAt = fromMillis(create)
	return k, nil
}
