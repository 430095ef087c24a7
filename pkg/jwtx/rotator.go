package jwtx

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/aussiebroadwan/handshake/pkg/cryptox"
	"github.com/aussiebroadwan/handshake/pkg/idx"
)

// DefaultKeyOverlap is how long before a window closes its successor is
// minted and takes over signing.
const DefaultKeyOverlap = 2 * time.Minute

// Sealer encrypts private key material at rest. cryptox.MasterKey
// implements it.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// RotatorOptions configures a Rotator.
type RotatorOptions struct {
	Store     KeyStore
	Sealer    Sealer
	Algorithm string        // "EdDSA" (default) or "ES256"
	Window    time.Duration // lifetime of each kid, default 10m
	Overlap   time.Duration // successor lead time, default 2m
}

// Rotator owns the signing side of the rotating key set. Every kid signs
// for exactly one window; the next kid is minted when the current window
// enters its final Overlap, so consecutive windows always overlap.
type Rotator struct {
	store   KeyStore
	sealer  Sealer
	alg     string
	window  time.Duration
	overlap time.Duration

	mu      sync.RWMutex
	windows WindowSet
	signers map[string]Signer
}

// NewRotator validates opts and returns an empty Rotator; call Load next.
func NewRotator(opts RotatorOptions) (*Rotator, error) {
	if opts.Store == nil || opts.Sealer == nil {
		return nil, fmt.Errorf("jwtx: rotator requires a Store and a Sealer")
	}
	if opts.Algorithm == "" {
		opts.Algorithm = cryptox.AlgEdDSA
	}
	if opts.Window <= 0 {
		opts.Window = DefaultKeyWindow
	}
	if opts.Overlap <= 0 {
		opts.Overlap = DefaultKeyOverlap
	}
	if opts.Overlap >= opts.Window {
		return nil, fmt.Errorf("jwtx: overlap %s must be shorter than window %s", opts.Overlap, opts.Window)
	}

	return &Rotator{
		store:   opts.Store,
		sealer:  opts.Sealer,
		alg:     opts.Algorithm,
		window:  opts.Window,
		overlap: opts.Overlap,
		signers: make(map[string]Signer),
	}, nil
}

// Load reads every open key from the store, so signing resumes after a
// restart with the same kids.
func (r *Rotator) Load(ctx context.Context, now time.Time) error {
	recs, err := r.store.ListOpenSigningKeys(ctx, now)
	if err != nil {
		return fmt.Errorf("jwtx: load signing keys: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range recs {
		if err := r.addLocked(rec); err != nil {
			return err
		}
	}
	return nil
}

func (r *Rotator) addLocked(rec SigningKeyRecord) error {
	pemData, err := r.sealer.Open(rec.PrivateKeyEncrypted)
	if err != nil {
		return fmt.Errorf("jwtx: decrypt key %s: %w", rec.Kid, err)
	}
	signer, err := NewSigner(rec.Algorithm, rec.Kid, pemData)
	if err != nil {
		return fmt.Errorf("jwtx: signer for key %s: %w", rec.Kid, err)
	}
	w, err := rec.Window()
	if err != nil {
		return err
	}

	r.windows.Insert(w)
	r.signers[rec.Kid] = signer
	return nil
}

// Rotate mints a new key when there is none, when the latest window has
// closed, or when it is inside its final overlap. It also forgets closed
// windows. The returned window is the new key, if one was minted.
func (r *Rotator) Rotate(ctx context.Context, now time.Time) (KeyWindow, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, kid := range r.windows.Prune(now) {
		delete(r.signers, kid)
	}

	if latest, ok := r.windows.Latest(); ok && now.Before(latest.ValidUntil.Add(-r.overlap)) {
		return KeyWindow{}, false, nil
	}

	rec, err := r.mintLocked(now)
	if err != nil {
		return KeyWindow{}, false, err
	}
	if err := r.store.CreateSigningKey(ctx, rec); err != nil {
		return KeyWindow{}, false, fmt.Errorf("jwtx: store signing key: %w", err)
	}
	if err := r.addLocked(rec); err != nil {
		return KeyWindow{}, false, err
	}

	w, _ := rec.Window()
	return w, true, nil
}

func (r *Rotator) mintLocked(now time.Time) (SigningKeyRecord, error) {
	pemData, err := cryptox.GenerateSigningKey(r.alg)
	if err != nil {
		return SigningKeyRecord{}, err
	}

	// iat has second precision, so windows start on a whole second.
	from := now.Truncate(time.Second)
	id := idx.NewWithPrefix(idx.PrefixKey)
	kid := idx.NewAt(from).String()

	signer, err := NewSigner(r.alg, kid, pemData)
	if err != nil {
		return SigningKeyRecord{}, err
	}
	jwkJSON, err := json.Marshal(signer.PublicJWK())
	if err != nil {
		return SigningKeyRecord{}, err
	}
	sealed, err := r.sealer.Seal(pemData)
	if err != nil {
		return SigningKeyRecord{}, fmt.Errorf("jwtx: seal key: %w", err)
	}

	return SigningKeyRecord{
		ID:                  id.String(),
		Kid:                 kid,
		Algorithm:           r.alg,
		PublicJWK:           jwkJSON,
		PrivateKeyEncrypted: sealed,
		ValidFrom:           from,
		ValidUntil:          from.Add(r.window),
		CreatedAt:           now,
	}, nil
}

// Sign signs claims with the newest key whose window contains now. The
// claims' iat must be now so the verifier selects the same window.
func (r *Rotator) Sign(claims Claims, now time.Time) (string, KeyWindow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, ok := r.windows.Current(now)
	if !ok {
		return "", KeyWindow{}, ErrNoSigner
	}
	tok, err := r.signers[w.Kid].Sign(claims)
	if err != nil {
		return "", KeyWindow{}, fmt.Errorf("jwtx: sign: %w", err)
	}
	return tok, w, nil
}

// Ready reports whether a key can sign at now.
func (r *Rotator) Ready(now time.Time) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.windows.Current(now)
	return ok
}

// Windows returns the windows still open at now.
func (r *Rotator) Windows(now time.Time) []KeyWindow {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []KeyWindow
	for _, w := range r.windows.All() {
		if !w.ClosedAt(now) {
			out = append(out, w)
		}
	}
	return out
}

// PublicJWKS returns the public keys of windows still open at now.
func (r *Rotator) PublicJWKS(now time.Time) JWKS {
	jwks := JWKS{Keys: []JWK{}}
	for _, w := range r.Windows(now) {
		jwks.Keys = append(jwks.Keys, w.JWK)
	}
	return jwks
}
