package domain

import "time"

// SigningKey is a token signing key bound to one validity window. The
// private half is AES-256-GCM sealed under the service master key.
type SigningKey struct {
	ID                  string    // ULID, "key_" prefixed
	Kid                 string    // key identifier in the JWT header and JWKS
	Algorithm           string    // EdDSA or ES256
	PublicJWK           []byte    // JSON encoded public JWK
	PrivateKeyEncrypted []byte    // sealed private key PEM
	ValidFrom           time.Time // first instant the kid may appear as iat
	ValidUntil          time.Time // window close, tokens are stale from here
	CreatedAt           time.Time
}

// IsOpen reports whether the key can still verify tokens at now.
func (k *SigningKey) IsOpen(now time.Time) bool {
	return now.Before(k.ValidUntil)
}
