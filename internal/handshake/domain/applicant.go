package domain

import "time"

// Applicant is an external party working through the handshake. Only the
// orchestrator writes Stage; every other component reads it.
type Applicant struct {
	ID                  string     // ULID, "app_" prefixed
	RegistrationKeyHash string     // fingerprint of the registration key; empty before Stage 1 succeeds
	CallbackURL         string     // HTTPS endpoint the challenge is delivered to
	Stage               Stage      // current stage
	Terminal            bool       // set once Accepted
	CreatedAt           time.Time  // when /init was accepted
	LastActivityAt      time.Time  // bumped on every stage transition
	Failure             *Failure   // non-nil while a stage failure is outstanding
	AcceptedAt          *time.Time // when the acceptance token was verified
}

// Failure records why and where an applicant failed.
type Failure struct {
	Stage         Stage
	Reason        string
	FailedAt      time.Time
	CooldownUntil time.Time
}

// CoolingDown reports whether a retry is still forbidden at now.
func (f *Failure) CoolingDown(now time.Time) bool {
	return f != nil && now.Before(f.CooldownUntil)
}

// Registered reports whether a registration key has been minted.
func (a *Applicant) Registered() bool { return a.RegistrationKeyHash != "" }
