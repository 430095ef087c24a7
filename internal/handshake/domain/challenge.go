package domain

import "time"

// ChallengeTTL is how long an applicant has to prove control of its callback.
const ChallengeTTL = 5 * time.Minute

// ChallengeStatus tracks a challenge through its single use.
type ChallengeStatus string

const (
	ChallengePending  ChallengeStatus = "pending"
	ChallengeVerified ChallengeStatus = "verified"
	ChallengeExpired  ChallengeStatus = "expired"
)

// Challenge is the Stage 1 HMAC handshake. The signing secret is never
// stored; it is derived from the service master key, the nonce and the ids.
type Challenge struct {
	ID             string          // ULID, "chl_" prefixed
	ApplicantID    string          // owner
	Nonce          string          // 128-bit random, base64url
	Payload        []byte          // exact bytes delivered to the callback and signed
	Status         ChallengeStatus // pending, verified or expired
	IssuedAt       time.Time       // creation time
	ExpiresAt      time.Time       // IssuedAt + ChallengeTTL
	DeliveredAt    *time.Time      // first 2xx from the callback
	DeliveryTries  int             // outbound attempts so far
	VerifyAttempts int             // invalid signatures presented so far
	VerifiedAt     *time.Time      // single successful verification
}

// Expired reports whether the challenge can no longer be verified at now.
func (c *Challenge) Expired(now time.Time) bool {
	return c.Status != ChallengePending || !now.Before(c.ExpiresAt)
}

// ChallengeDelivery is what the applicant's callback receives.
type ChallengeDelivery struct {
	ChallengeID string `json:"challengeId"`
	Nonce       string `json:"nonce"`
	Payload     string `json:"payload"`
}
