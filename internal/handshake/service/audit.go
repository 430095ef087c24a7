package service

import (
	"context"
	"log/slog"

	"github.com/aussiebroadwan/handshake/internal/handshake/domain"
	"github.com/aussiebroadwan/handshake/internal/handshake/store"
	"github.com/aussiebroadwan/handshake/pkg/idx"
	"github.com/aussiebroadwan/handshake/pkg/slogx"
)

// AuditTrail appends rejected requests and stage failures to the
// applicant's audit log. Writing the trail never fails the request that
// triggered it; errors are logged instead.
type AuditTrail struct {
	Store store.Store
	Clock Clock
}

// Record fills in the id and timestamp of e and stores it. A nil trail
// discards the event.
func (a *AuditTrail) Record(ctx context.Context, e domain.AuditEvent) {
	if a == nil || a.Store == nil {
		return
	}
	if e.ID == "" {
		e.ID = idx.NewWithPrefix(idx.PrefixAudit).String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = a.Clock.Now()
	}

	if err := a.Store.Audit().RecordAuditEvent(ctx, e); err != nil {
		slogx.FromContext(ctx).Error("failed to record audit event",
			slog.String("kind", e.Kind),
			slog.String("applicant_id", e.ApplicantID),
			slog.Any("error", err),
		)
	}
}

// List returns the newest limit events for an applicant.
func (a *AuditTrail) List(ctx context.Context, applicantID string, limit int) ([]domain.AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	return a.Store.Audit().ListAuditEvents(ctx, applicantID, limit)
}
