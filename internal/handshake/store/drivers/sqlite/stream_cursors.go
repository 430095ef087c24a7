package sqlite

import (
	"context"

	"github.com/aussiebroadwan/handshake/internal/handshake/domain"
)

type streamCursorsRepo struct {
	db dbtx
}

func (r *streamCursorsRepo) GetStreamCursor(ctx context.Context, applicantID string) (domain.StreamCursor, error) {
	var (
		c         domain.StreamCursor
		updatedAt int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT applicant_id, next_seq, last_acked, generation, updated_at
		FROM stream_cursors WHERE applicant_id = ?`, applicantID).
		Scan(&c.ApplicantID, &c.NextSeq, &c.LastAcked, &c.Generation, &updatedAt)
	if err != nil {
		return domain.StreamCursor{}, mapNotFound(err)
	}
	c.UpdatedAt = fromMillis(updatedAt)
	return c, nil
}

func (r *streamCursorsRepo) SaveStreamCursor(ctx context.Context, c domain.StreamCursor) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO stream_cursors (applicant_id, next_seq, last_acked, generation, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (applicant_id) DO UPDATE SET
			next_seq = excluded.next_seq,
			last_acked = excluded.last_acked,
			generation = excluded.generation,
			updated_at = excluded.updated_at`,
		c.ApplicantID, c.NextSeq, c.LastAcked, c.Generation, toMillis(c.UpdatedAt))
	return err
}

func (r *streamCursorsRepo) DeleteStreamCursor(ctx context.Context, applicantID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM stream_cursors WHERE applicant_id = ?`, applicantID)
	return err
}
