package slogx

import (
	"context"
	"log/slog"
)

type ctxKey struct{}

// WithContext stores logger in ctx.
func WithContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext returns the request logger, or slog.Default when none is set.
func FromContext(ctx context.Context) *slog.Logger {
	l, ok := ctx.Value(ctxKey{}).(*slog.Logger)
	if !ok {
		return slog.Default()
	}
	return l
}

// WithApplicant tags every later log line in ctx with the applicant id and
// stage the request resolved to.
func WithApplicant(ctx context.Context, applicantID string, stage string) context.Context {
	l := FromContext(ctx)
	return WithContext(ctx, l.With("applicant_id", applicantID, "stage", stage))
}
