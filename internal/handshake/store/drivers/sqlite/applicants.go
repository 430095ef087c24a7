package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/handshake/internal/handshake/domain"
	"github.com/aussiebroadwan/handshake/internal/handshake/store"
)

type applicantsRepo struct {
	db dbtx
}

const applicantColumns = `id, registration_key_hash, callback_url, stage, terminal,
	failed_stage, failure_reason, failed_at, cooldown_until, accepted_at,
	created_at, last_activity_at`

func (r *applicantsRepo) CreateApplicant(ctx context.Context, a domain.Applicant) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO applicants (id, registration_key_hash, callback_url, stage, terminal, created_at, last_activity_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, mapStringNull(a.RegistrationKeyHash), a.CallbackURL, int(a.Stage), a.Terminal,
		toMillis(a.CreatedAt), toMillis(a.LastActivityAt),
	)
	return mapConstraint(err)
}

func (r *applicantsRepo) GetApplicant(ctx context.Context, id string) (domain.Applicant, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+applicantColumns+` FROM applicants WHERE id = ?`, id)
	return scanApplicant(row)
}

func (r *applicantsRepo) GetApplicantByKeyHash(ctx context.Context, keyHash string) (domain.Applicant, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+applicantColumns+` FROM applicants WHERE registration_key_hash = ?`, keyHash)
	return scanApplicant(row)
}

func (r *applicantsRepo) GetLatestApplicantByCallback(ctx context.Context, callbackURL string) (domain.Applicant, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+applicantColumns+` FROM applicants
		WHERE callback_url = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, callbackURL)
	return scanApplicant(row)
}

func (r *applicantsRepo) CompareAndSetStage(ctx context.Context, id string, from, to domain.Stage, now time.Time) (bool, error) {
	terminal := to == domain.StageAccepted
	res, err := r.db.ExecContext(ctx, `
		UPDATE applicants
		SET stage = ?, terminal = ?, last_activity_at = ?,
		    accepted_at = CASE WHEN ? THEN ? ELSE accepted_at END
		WHERE id = ? AND stage = ? AND failed_stage IS NULL AND terminal = 0`,
		int(to), terminal, toMillis(now), terminal, toMillis(now), id, int(from),
	)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (r *applicantsRepo) SetRegistrationKeyHash(ctx context.Context, id, keyHash string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE applicants SET registration_key_hash = ?
		WHERE id = ? AND registration_key_hash IS NULL`, keyHash, id)
	if err != nil {
		return mapConstraint(err)
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		if _, err := r.GetApplicant(ctx, id); err != nil {
			return err
		}
		return store.ErrAlreadyExists
	}
	return nil
}

func (r *applicantsRepo) RecordFailure(ctx context.Context, id string, f domain.Failure) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE applicants
		SET failed_stage = ?, failure_reason = ?, failed_at = ?, cooldown_until = ?, last_activity_at = ?
		WHERE id = ? AND stage = ? AND failed_stage IS NULL AND terminal = 0`,
		int(f.Stage), f.Reason, toMillis(f.FailedAt), toMillis(f.CooldownUntil), toMillis(f.FailedAt),
		id, int(f.Stage),
	)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (r *applicantsRepo) ClearFailure(ctx context.Context, id string, stage domain.Stage, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE applicants
		SET stage = ?, failed_stage = NULL, failure_reason = NULL, failed_at = NULL,
		    cooldown_until = NULL, last_activity_at = ?
		WHERE id = ?`, int(stage), toMillis(now), id)
	if err != nil {
		return err
	}
	if ok, err := affected(res); err != nil {
		return err
	} else if !ok {
		return store.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApplicant(row rowScanner) (domain.Applicant, error) {
	var (
		a                                   domain.Applicant
		keyHash, reason                     sql.NullString
		stage                               int
		failedStage                         sql.NullInt64
		failedAt, cooldownUntil, acceptedAt sql.NullInt64
		createdAt, lastActivityAt           int64
	)
	err := row.Scan(&a.ID, &keyHash, &a.CallbackURL, &stage, &a.Terminal,
		&failedStage, &reason, &failedAt, &cooldownUntil, &acceptedAt,
		&createdAt, &lastActivityAt)
	if err != nil {
		return domain.Applicant{}, mapNotFound(err)
	}

	a.RegistrationKeyHash = mapNullString(keyHash)
	a.Stage = domain.Stage(stage)
	a.CreatedAt = fromMillis(createdAt)
	a.LastActivityAt = fromMillis(lastActivityAt)
	a.AcceptedAt = mapNullMillis(acceptedAt)
	if failedStage.Valid {
		a.Failure = &domain.Failure{
			Stage:         domain.Stage(failedStage.Int64),
			Reason:        mapNullString(reason),
			FailedAt:      fromMillis(failedAt.Int64),
			CooldownUntil: fromMillis(cooldownUntil.Int64),
		}
	}
	return a, nil
}
