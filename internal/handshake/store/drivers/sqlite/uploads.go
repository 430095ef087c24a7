package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/handshake/internal/handshake/domain"
	"github.com/aussiebroadwan/handshake/internal/handshake/store"
)

type uploadsRepo struct {
	db dbtx
}

const uploadColumns = `id, applicant_id, declared_size, declared_sha256, byte_offset, status,
	spool_path, blob_ref, fail_reason, created_at, last_chunk_at, target_expires, completed_at`

func (r *uploadsRepo) CreateUploadSession(ctx context.Context, u domain.UploadSession) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO upload_sessions (id, applicant_id, declared_size, declared_sha256, byte_offset, status,
			spool_path, created_at, last_chunk_at, target_expires)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.ApplicantID, u.DeclaredSize, u.DeclaredSHA256, u.Offset, string(u.Status),
		u.SpoolPath, toMillis(u.CreatedAt), toMillis(u.LastChunkAt), toMillis(u.TargetExpires))
	return mapConstraint(err)
}

func (r *uploadsRepo) GetUploadSession(ctx context.Context, id string) (domain.UploadSession, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+uploadColumns+` FROM upload_sessions WHERE id = ?`, id)
	return scanUpload(row)
}

func (r *uploadsRepo) AdvanceUploadOffset(ctx context.Context, id string, from, to int64, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE upload_sessions SET byte_offset = ?, last_chunk_at = ?
		WHERE id = ? AND byte_offset = ? AND status = ?`,
		to, toMillis(now), id, from, string(domain.UploadInProgress))
	if err != nil {
		return err
	}
	if ok, err := affected(res); err != nil {
		return err
	} else if !ok {
		return store.ErrConflict
	}
	return nil
}

func (r *uploadsRepo) CompleteUploadSession(ctx context.Context, id, blobRef string, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE upload_sessions SET status = ?, blob_ref = ?, completed_at = ?
		WHERE id = ? AND status = ?`,
		string(domain.UploadComplete), blobRef, toMillis(now), id, string(domain.UploadInProgress))
	if err != nil {
		return err
	}
	if ok, err := affected(res); err != nil {
		return err
	} else if !ok {
		return store.ErrConflict
	}
	return nil
}

func (r *uploadsRepo) FailUploadSession(ctx context.Context, id, reason string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE upload_sessions SET status = ?, fail_reason = ?
		WHERE id = ? AND status = ?`,
		string(domain.UploadFailed), reason, id, string(domain.UploadInProgress))
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (r *uploadsRepo) ListStalledUploads(ctx context.Context, before time.Time) ([]domain.UploadSession, error) {
	return r.list(ctx, `
		SELECT `+uploadColumns+` FROM upload_sessions
		WHERE status = ? AND last_chunk_at < ?
		ORDER BY last_chunk_at`, string(domain.UploadInProgress), toMillis(before))
}

func (r *uploadsRepo) ListUploadsForApplicant(ctx context.Context, applicantID string) ([]domain.UploadSession, error) {
	return r.list(ctx, `
		SELECT `+uploadColumns+` FROM upload_sessions
		WHERE applicant_id = ?
		ORDER BY created_at DESC, id DESC`, applicantID)
}

func (r *uploadsRepo) DeleteUploadSession(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM upload_sessions WHERE id = ?`, id)
	return err
}

func (r *uploadsRepo) list(ctx context.Context, query string, args ...any) ([]domain.UploadSession, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.UploadSession
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func scanUpload(row rowScanner) (domain.UploadSession, error) {
	var (
		u                                   domain.UploadSession
		status                              string
		blobRef, failReason                 sql.NullString
		createdAt, lastChunkAt, targetExpAt int64
		completedAt                         sql.NullInt64
	)
	err := row.Scan(&u.ID, &u.ApplicantID, &u.DeclaredSize, &u.DeclaredSHA256, &u.Offset, &status,
		&u.SpoolPath, &blobRef, &failReason, &createdAt, &lastChunkAt, &targetExpAt, &completedAt)
	if err != nil {
		return domain.UploadSession{}, mapNotFound(err)
	}
	u.Status = domain.UploadStatus(status)
	u.BlobRef = mapNullString(blobRef)
	u.FailReason = mapNullString(failReason)
	u.CreatedAt = fromMillis(createdAt)
	u.LastChunkAt = fromMillis(lastChunkAt)
	u.TargetExpires = fromMillis(targetExpAt)
	u.CompletedAt = mapNullMillis(completedAt)
	return u, nil
}
