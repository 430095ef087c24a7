package jwtx

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Signer is our interface for anything that can sign JWTs.
type Signer interface {
	Alg() string
	KID() string
	Sign(Claims) (string, error)
	PublicJWK() JWK
}

// NewSigner loads a PKCS8 PEM private key for alg ("EdDSA" or "ES256").
func NewSigner(alg, kid string, pemKey []byte) (Signer, error) {
	block, _ := pem.Decode(pemKey)
	if block == nil {
		return nil, errors.New("jwtx: invalid PEM private key")
	}
	if block.Type != "PRIVATE KEY" {
		return nil, fmt.Errorf("jwtx: expected PRIVATE KEY, got %q (PKCS8 required)", block.Type)
	}

	priv, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("jwtx: parse PKCS8: %w", err)
	}

	switch alg {
	case jwt.SigningMethodEdDSA.Alg():
		key, ok := priv.(ed25519.PrivateKey)
		if !ok {
			return nil, errors.New("jwtx: not an Ed25519 private key")
		}
		return &signer{
			kid:    kid,
			method: jwt.SigningMethodEdDSA,
			key:    key,
			jwk:    NewEd25519JWK(kid, alg, key.Public().(ed25519.PublicKey)),
		}, nil

	case jwt.SigningMethodES256.Alg():
		key, ok := priv.(*ecdsa.PrivateKey)
		if !ok {
			return nil, errors.New("jwtx: not an ECDSA private key")
		}
		if key.Curve.Params().Name != "P-256" {
			return nil, fmt.Errorf("jwtx: expected P-256 curve, got %s", key.Curve.Params().Name)
		}
		return &signer{
			kid:    kid,
			method: jwt.SigningMethodES256,
			key:    key,
			jwk:    NewES256JWK(kid, alg, &key.PublicKey),
		}, nil

	default:
		return nil, fmt.Errorf("jwtx: unsupported algorithm %q", alg)
	}
}

type signer struct {
	kid    string
	method jwt.SigningMethod
	key    any
	jwk    JWK
}

func (s *signer) Alg() string    { return s.method.Alg() }
func (s *signer) KID() string    { return s.kid }
func (s *signer) PublicJWK() JWK { return s.jwk }

// Sign serialises claims with the kid header set.
func (s *signer) Sign(claims Claims) (string, error) {
	t := jwt.NewWithClaims(s.method, claims)
	t.Header["kid"] = s.kid
	return t.SignedString(s.key)
}
