package jwtx_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aussiebroadwan/handshake/pkg/cryptox"
	"github.com/aussiebroadwan/handshake/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store    *memStore
	rotator  *jwtx.Rotator
	verifier *jwtx.Verifier
	now      time.Time
}

func newFixture(t *testing.T, alg string) *fixture {
	t.Helper()
	f := &fixture{store: newMemStore(), now: t0}
	f.rotator = newRotator(f.store, alg)
	_, _, err := f.rotator.Rotate(context.Background(), f.now)
	require.NoError(t, err)

	cache := jwtx.NewKeyCache(jwtx.StoreKeySource{Store: f.store}, time.Minute)
	f.verifier = jwtx.NewVerifier(cache, jwtx.VerifyOptions{Issuer: "handshake"})
	f.verifier.SetNow(func() time.Time { return f.now })
	return f
}

func (f *fixture) sign(t *testing.T, at time.Time, ttl time.Duration) (string, jwtx.KeyWindow) {
	t.Helper()
	claims := jwtx.NewApplicantClaims("app_1", "TokenPending", "handshake", nil, ttl, at)
	tok, w, err := f.rotator.Sign(claims, at)
	require.NoError(t, err)
	return tok, w
}

func TestVerifyAcrossRotation(t *testing.T) {
	for _, alg := range []string{cryptox.AlgEdDSA, cryptox.AlgES256} {
		t.Run(alg, func(t *testing.T) {
			f := newFixture(t, alg)
			ctx := context.Background()

			// Issued under the first key with a long expiry.
			tok, first := f.sign(t, t0.Add(time.Minute), time.Hour)

			f.now = t0.Add(5 * time.Minute)
			claims, err := f.verifier.Verify(ctx, tok)
			require.NoError(t, err)
			require.Equal(t, "app_1", claims.Subject)

			// Successor minted; first key still inside its window.
			_, _, err = f.rotator.Rotate(ctx, t0.Add(8*time.Minute))
			require.NoError(t, err)
			f.now = t0.Add(9*time.Minute + 59*time.Second)
			_, err = f.verifier.Verify(ctx, tok)
			require.NoError(t, err, "still valid in the overlap")

			// First window fully closed, even though the cache still holds it.
			f.now = first.ValidUntil
			_, err = f.verifier.Verify(ctx, tok)
			require.ErrorIs(t, err, jwtx.ErrStaleKey)
		})
	}
}

func TestVerifyExpired(t *testing.T) {
	f := newFixture(t, cryptox.AlgEdDSA)
	tok, _ := f.sign(t, t0, 30*time.Second)

	f.now = t0.Add(31 * time.Second)
	_, err := f.verifier.Verify(context.Background(), tok)
	require.ErrorIs(t, err, jwtx.ErrExpired)
}

func TestVerifyRejects(t *testing.T) {
	f := newFixture(t, cryptox.AlgEdDSA)
	ctx := context.Background()
	tok, _ := f.sign(t, t0, time.Minute)

	t.Run("garbage", func(t *testing.T) {
		_, err := f.verifier.Verify(ctx, "not.a.jwt")
		require.ErrorIs(t, err, jwtx.ErrMalformed)
	})

	t.Run("tampered signature", func(t *testing.T) {
		b := []byte(tok)
		if b[len(b)-2] == 'A' {
			b[len(b)-2] = 'B'
		} else {
			b[len(b)-2] = 'A'
		}
		_, err := f.verifier.Verify(ctx, string(b))
		require.ErrorIs(t, err, jwtx.ErrInvalidSig)
	})

	t.Run("unknown kid", func(t *testing.T) {
		other := newFixture(t, cryptox.AlgEdDSA)
		foreign, _ := other.sign(t, t0, time.Minute)
		_, err := f.verifier.Verify(ctx, foreign)
		require.ErrorIs(t, err, jwtx.ErrUnknownKID)
	})

	t.Run("iat before the key existed", func(t *testing.T) {
		claims := jwtx.NewApplicantClaims("app_1", "", "handshake", nil, time.Hour, t0.Add(-time.Minute))
		backdated, _, err := f.rotator.Sign(claims, t0)
		require.NoError(t, err)
		_, err = f.verifier.Verify(ctx, backdated)
		require.ErrorIs(t, err, jwtx.ErrStaleKey)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		claims := jwtx.NewApplicantClaims("app_1", "", "someone-else", nil, time.Minute, t0)
		bad, _, err := f.rotator.Sign(claims, t0)
		require.NoError(t, err)
		_, err = f.verifier.Verify(ctx, bad)
		require.ErrorIs(t, err, jwtx.ErrIssuer)
	})
}

// slowSource blocks every fetch until released.
type slowSource struct {
	inner   jwtx.KeySource
	release chan struct{}
	calls   atomic.Int32
}

func (s *slowSource) FetchKey(ctx context.Context, kid string) (jwtx.KeyWindow, error) {
	s.calls.Add(1)
	<-s.release
	return s.inner.FetchKey(ctx, kid)
}

func TestKeyCacheSingleFlight(t *testing.T) {
	f := newFixture(t, cryptox.AlgEdDSA)
	tok, _ := f.sign(t, t0, time.Minute)

	src := &slowSource{inner: jwtx.StoreKeySource{Store: f.store}, release: make(chan struct{})}
	v := jwtx.NewVerifier(jwtx.NewKeyCache(src, time.Minute), jwtx.VerifyOptions{})
	v.SetNow(func() time.Time { return t0.Add(time.Second) })

	const n = 32
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := v.Verify(context.Background(), tok)
			errs <- err
		}()
	}

	// Give every goroutine time to pile up on the same kid.
	time.Sleep(50 * time.Millisecond)
	close(src.release)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, int32(1), src.calls.Load())

	// Cached now: no further fetches.
	_, err := v.Verify(context.Background(), tok)
	require.NoError(t, err)
	require.Equal(t, int32(1), src.calls.Load())
}

func TestKeyCacheRefreshesWhenWindowMissesIat(t *testing.T) {
	f := newFixture(t, cryptox.AlgEdDSA)
	tok, w := f.sign(t, t0, time.Hour)

	var fetches atomic.Int32
	cache := jwtx.NewKeyCache(jwtx.StoreKeySource{Store: f.store}, time.Hour)
	cache.OnFetch(func() { fetches.Add(1) })

	// Seed a stale view of the window that does not cover iat.
	seeded := w
	seeded.ValidFrom = t0.Add(time.Minute)
	require.NoError(t, cache.Put(seeded, t0))

	v := jwtx.NewVerifier(cache, jwtx.VerifyOptions{})
	v.SetNow(func() time.Time { return t0.Add(2 * time.Minute) })

	_, err := v.Verify(context.Background(), tok)
	require.NoError(t, err)
	require.Equal(t, int32(1), fetches.Load())

	require.Equal(t, 1, cache.Evict(w.ValidUntil))
}
