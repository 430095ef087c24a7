package jwtx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// VerifyOptions captures common expectations used by verifiers.
type VerifyOptions struct {
	// Issuer the token must have (claims.iss). Empty means "don't care".
	Issuer string

	// Audience values the token must contain (claims.aud). Empty means "don't care".
	Audience []string

	// Leeway allows small clock skew when validating exp/nbf.
	Leeway time.Duration
}

// Verifier checks tokens signed by rotating keys.
type Verifier struct {
	cache *KeyCache
	opts  VerifyOptions
	now   func() time.Time
}

// NewVerifier returns a Verifier resolving keys through cache.
func NewVerifier(cache *KeyCache, opts VerifyOptions) *Verifier {
	return &Verifier{cache: cache, opts: opts, now: time.Now}
}

// SetNow overrides the clock. Tests only.
func (v *Verifier) SetNow(now func() time.Time) { v.now = now }

var validMethods = []string{jwt.SigningMethodEdDSA.Alg(), jwt.SigningMethodES256.Alg()}

// Verify validates tokenStr and returns its claims.
//
// The key is chosen by the kid header and must have a window containing the
// token's iat. A key whose window has closed is ErrStaleKey regardless of
// what the cache still holds; an expired token is ErrExpired.
func (v *Verifier) Verify(ctx context.Context, tokenStr string) (*Claims, error) {
	now := v.now()

	// 1. Read kid and iat without trusting them yet.
	unverified, _, err := jwt.NewParser().ParseUnverified(tokenStr, &Claims{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	kid, _ := unverified.Header["kid"].(string)
	if kid == "" {
		return nil, fmt.Errorf("%w: missing kid", ErrMalformed)
	}
	uc := unverified.Claims.(*Claims)
	if uc.IssuedAt == nil {
		return nil, fmt.Errorf("%w: missing iat", ErrMalformed)
	}
	iat := uc.IssuedAt.Time

	// 2. Resolve the key for that kid and issuance time.
	window, key, err := v.cache.Get(ctx, kid, iat, now)
	if err != nil {
		return nil, err
	}
	if window.ClosedAt(now) || !window.Contains(iat) {
		return nil, ErrStaleKey
	}

	// 3. Signature, with claim timing checked below against our clock.
	parser := jwt.NewParser(
		jwt.WithValidMethods(validMethods),
		jwt.WithoutClaimsValidation(),
	)
	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != window.Alg {
			return nil, ErrAlgMismatch
		}
		return key, nil
	})
	if err != nil {
		if errors.Is(err, ErrAlgMismatch) {
			return nil, ErrAlgMismatch
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidSig, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidClaim
	}

	// 4. Claim requirements.
	if err := claims.ValidateIssuer(v.opts.Issuer); err != nil {
		return nil, err
	}
	if err := claims.ValidateAudience(v.opts.Audience); err != nil {
		return nil, err
	}
	if err := claims.ValidateExpiryAt(now, v.opts.Leeway); err != nil {
		return nil, err
	}

	return claims, nil
}
