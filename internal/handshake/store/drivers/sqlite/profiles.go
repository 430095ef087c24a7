package sqlite

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/handshake/internal/handshake/domain"
	"github.com/aussiebroadwan/handshake/internal/handshake/store"
)

type profilesRepo struct {
	db dbtx
}

func (r *profilesRepo) CreateProfileField(ctx context.Context, f domain.ProfileField) error {
	version := f.Version
	if version < 1 {
		version = 1
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO profile_fields (applicant_id, name, value, version, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		f.ApplicantID, f.Name, f.Value, version, toMillis(f.UpdatedAt))
	return mapConstraint(err)
}

func (r *profilesRepo) GetProfileField(ctx context.Context, applicantID, name string) (domain.ProfileField, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT applicant_id, name, value, version, updated_at
		FROM profile_fields WHERE applicant_id = ? AND name = ?`, applicantID, name)
	return scanProfileField(row)
}

func (r *profilesRepo) ListProfileFields(ctx context.Context, applicantID string) ([]domain.ProfileField, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT applicant_id, name, value, version, updated_at
		FROM profile_fields WHERE applicant_id = ?
		ORDER BY name`, applicantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ProfileField
	for rows.Next() {
		f, err := scanProfileField(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *profilesRepo) ConditionalUpdateField(ctx context.Context, applicantID, name string, expected int64, value string, now time.Time) (int64, error) {
	var version int64
	err := r.db.QueryRowContext(ctx, `
		UPDATE profile_fields
		SET value = ?, version = version + 1, updated_at = ?
		WHERE applicant_id = ? AND name = ? AND version = ?
		RETURNING version`,
		value, toMillis(now), applicantID, name, expected).Scan(&version)
	if err == nil {
		return version, nil
	}

	if err = mapNotFound(err); !errors.Is(err, store.ErrNotFound) {
		return 0, err
	}

	// Nothing matched: either the field is missing or the version is stale.
	current, err := r.GetProfileField(ctx, applicantID, name)
	if err != nil {
		return 0, err
	}
	return current.Version, store.ErrConflict
}

func (r *profilesRepo) DeleteProfile(ctx context.Context, applicantID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM profile_fields WHERE applicant_id = ?`, applicantID)
	return err
}

func scanProfileField(row rowScanner) (domain.ProfileField, error) {
	var (
		f         domain.ProfileField
		updatedAt int64
	)
	if err := row.Scan(&f.ApplicantID, &f.Name, &f.Value, &f.Version, &updatedAt); err != nil {
		return domain.ProfileField{}, mapNotFound(err)
	}
	f.UpdatedAt = fromMillis(updatedAt)
	return f, nil
}
