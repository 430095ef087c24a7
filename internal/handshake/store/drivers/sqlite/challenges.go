package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/handshake/internal/handshake/domain"
	"github.com/aussiebroadwan/handshake/internal/handshake/store"
)

type challengesRepo struct {
	db dbtx
}

const challengeColumns = `id, applicant_id, nonce, payload, status, issued_at, expires_at,
	delivered_at, delivery_tries, verify_attempts, verified_at`

func (r *challengesRepo) CreateChallenge(ctx context.Context, c domain.Challenge) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO challenges (id, applicant_id, nonce, payload, status, issued_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ApplicantID, c.Nonce, c.Payload, string(c.Status), toMillis(c.IssuedAt), toMillis(c.ExpiresAt),
	)
	return mapConstraint(err)
}

func (r *challengesRepo) GetChallenge(ctx context.Context, id string) (domain.Challenge, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+challengeColumns+` FROM challenges WHERE id = ?`, id)
	return scanChallenge(row)
}

func (r *challengesRepo) RecordDeliveryAttempt(ctx context.Context, id string, delivered bool, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE challenges
		SET delivery_tries = delivery_tries + 1,
		    delivered_at = CASE WHEN ? AND delivered_at IS NULL THEN ? ELSE delivered_at END
		WHERE id = ?`, delivered, toMillis(now), id)
	return err
}

func (r *challengesRepo) IncrementVerifyAttempts(ctx context.Context, id string) (int, error) {
	var attempts int
	err := r.db.QueryRowContext(ctx, `
		UPDATE challenges SET verify_attempts = verify_attempts + 1
		WHERE id = ?
		RETURNING verify_attempts`, id).Scan(&attempts)
	if err != nil {
		return 0, mapNotFound(err)
	}
	return attempts, nil
}

func (r *challengesRepo) MarkChallengeVerified(ctx context.Context, id string, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE challenges SET status = ?, verified_at = ?
		WHERE id = ? AND status = ?`,
		string(domain.ChallengeVerified), toMillis(now), id, string(domain.ChallengePending))
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

func (r *challengesRepo) ExpireChallenge(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE challenges SET status = ? WHERE id = ? AND status = ?`,
		string(domain.ChallengeExpired), id, string(domain.ChallengePending))
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (r *challengesRepo) ListOverdueChallenges(ctx context.Context, now time.Time) ([]domain.Challenge, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+challengeColumns+` FROM challenges
		WHERE status = ? AND expires_at <= ?
		ORDER BY expires_at`, string(domain.ChallengePending), toMillis(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Challenge
	for rows.Next() {
		c, err := scanChallenge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *challengesRepo) DeleteChallengesForApplicant(ctx context.Context, applicantID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM challenges WHERE applicant_id = ?`, applicantID)
	return err
}

func (r *challengesRepo) DeleteSettledChallenges(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM challenges WHERE status != ? AND issued_at < ?`,
		string(domain.ChallengePending), toMillis(before))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanChallenge(row rowScanner) (domain.Challenge, error) {
	var (
		c                     domain.Challenge
		status                string
		issuedAt, expiresAt   int64
		deliveredAt, verified sql.NullInt64
	)
	err := row.Scan(&c.ID, &c.ApplicantID, &c.Nonce, &c.Payload, &status, &issuedAt, &expiresAt,
		&deliveredAt, &c.DeliveryTries, &c.VerifyAttempts, &verified)
	if err != nil {
		return domain.Challenge{}, mapNotFound(err)
	}
	c.Status = domain.ChallengeStatus(status)
	c.IssuedAt = fromMillis(issuedAt)
	c.ExpiresAt = fromMillis(expiresAt)
	c.DeliveredAt = mapNullMillis(deliveredAt)
	c.VerifiedAt = mapNullMillis(verified)
	return c, nil
}
