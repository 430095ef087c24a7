package sqlite

import (
	"context"
	"database/sql"

	"github.com/aussiebroadwan/handshake/internal/handshake/domain"
)

type auditRepo struct {
	db dbtx
}

func (r *auditRepo) RecordAuditEvent(ctx context.Context, e domain.AuditEvent) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, applicant_id, stage, kind, detail, route, remote_addr, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, mapStringNull(e.ApplicantID), int(e.Stage), e.Kind, e.Detail, e.Route, e.RemoteAddr,
		toMillis(e.CreatedAt))
	return mapConstraint(err)
}

func (r *auditRepo) ListAuditEvents(ctx context.Context, applicantID string, limit int) ([]domain.AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, applicant_id, stage, kind, detail, route, remote_addr, created_at
		FROM audit_events WHERE applicant_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, applicantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AuditEvent
	for rows.Next() {
		var (
			e         domain.AuditEvent
			appID     sql.NullString
			stage     int
			createdAt int64
		)
		if err := rows.Scan(&e.ID, &appID, &stage, &e.Kind, &e.Detail, &e.Route, &e.RemoteAddr, &createdAt); err != nil {
			return nil, err
		}
		e.ApplicantID = mapNullString(appID)
		e.Stage = domain.Stage(stage)
		e.CreatedAt = fromMillis(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}
