package sqlite

import (
	"context"
	"time"

	"github.com/aussiebroadwan/handshake/internal/handshake/domain"
)

type idempotencyRepo struct {
	db dbtx
}

func (r *idempotencyRepo) GetIdempotencyRecord(ctx context.Context, applicantID, key string) (domain.IdempotencyRecord, error) {
	var (
		rec       domain.IdempotencyRecord
		createdAt int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT applicant_id, key, fingerprint, status_code, body, created_at
		FROM idempotency_records WHERE applicant_id = ? AND key = ?`, applicantID, key).
		Scan(&rec.ApplicantID, &rec.Key, &rec.Fingerprint, &rec.StatusCode, &rec.Body, &createdAt)
	if err != nil {
		return domain.IdempotencyRecord{}, mapNotFound(err)
	}
	rec.CreatedAt = fromMillis(createdAt)
	return rec, nil
}

func (r *idempotencyRepo) CreateIdempotencyRecord(ctx context.Context, rec domain.IdempotencyRecord) error {
	body := rec.Body
	if body == nil {
		body = []byte{}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO idempotency_records (applicant_id, key, fingerprint, status_code, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ApplicantID, rec.Key, rec.Fingerprint, rec.StatusCode, body, toMillis(rec.CreatedAt))
	return mapConstraint(err)
}

func (r *idempotencyRepo) DeleteIdempotencyRecordsBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM idempotency_records WHERE created_at < ?`, toMillis(before))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
