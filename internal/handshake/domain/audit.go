package domain

import "time"

// AuditEvent records a rejected request or a notable transition.
type AuditEvent struct {
	ID          string
	ApplicantID string // empty when the caller could not be identified
	Stage       Stage
	Kind        string // error kind, e.g. "StageMismatch", or "Transition"
	Detail      string
	Route       string
	RemoteAddr  string
	CreatedAt   time.Time
}
