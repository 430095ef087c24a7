package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/handshake/internal/handshake/blob"
	"github.com/aussiebroadwan/handshake/internal/handshake/domain"
	"github.com/aussiebroadwan/handshake/internal/handshake/service"
	"github.com/aussiebroadwan/handshake/internal/handshake/store"
	"github.com/aussiebroadwan/handshake/internal/handshake/store/drivers/sqlite"
	"github.com/aussiebroadwan/handshake/pkg/cryptox"
	"github.com/aussiebroadwan/handshake/pkg/httpx"
	"github.com/aussiebroadwan/handshake/pkg/idx"
	"github.com/aussiebroadwan/handshake/pkg/jwtx"
	"github.com/aussiebroadwan/handshake/pkg/slogx"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: t0} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// countingObserver tallies transitions and failures.
type countingObserver struct {
	mu          sync.Mutex
	transitions int
	failures    map[string]int
	emitted     int
}

func (o *countingObserver) StageTransition(string, string) {
	o.mu.Lock()
	o.transitions++
	o.mu.Unlock()
}

func (o *countingObserver) StageFailed(_, reason string) {
	o.mu.Lock()
	if o.failures == nil {
		o.failures = make(map[string]int)
	}
	o.failures[reason]++
	o.mu.Unlock()
}

func (o *countingObserver) EventsEmitted(n int) {
	o.mu.Lock()
	o.emitted += n
	o.mu.Unlock()
}

func (o *countingObserver) StreamOpened() {}
func (o *countingObserver) StreamClosed() {}

type harness struct {
	ctx      context.Context
	store    *sqlite.Store
	clock    *fakeClock
	observer *countingObserver
	orch     *service.Orchestrator
	issuer   *service.ChallengeIssuer
	profiles *service.ProfileService
	limiter  *httpx.KeyedLimiter
	uploads  *service.UploadService
	blobs    blob.Store
	tokens   *service.TokenService
	rotator  *jwtx.Rotator
	cache    *jwtx.KeyCache
	hub      *service.StreamHub
}

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.NewStore(sqlite.DSN(":memory:"))
	require.NoError(t, err)
	require.NoError(t, s.ApplyMigrations())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		ctx:      slogx.WithContext(context.Background(), slogx.Discard()),
		store:    newStore(t),
		clock:    newFakeClock(),
		observer: &countingObserver{},
	}
	clock := service.Clock(h.clock.Now)

	h.issuer = &service.ChallengeIssuer{MasterKey: cryptox.NewMasterKey([]byte("service-tests")), MaxAttempts: 2}
	h.orch = &service.Orchestrator{
		Store:      h.store,
		Challenges: h.issuer,
		Audit:      &service.AuditTrail{Store: h.store, Clock: clock},
		Observer:   h.observer,
		Clock:      clock,
	}

	h.limiter = httpx.NewKeyedLimiter(service.DefaultProfileLimit)
	h.limiter.SetNow(h.clock.Now)
	h.profiles = &service.ProfileService{
		Orchestrator: h.orch,
		Store:        h.store,
		Guard:        &service.IdempotencyGuard{Store: h.store, Clock: clock},
		Limiter:      h.limiter,
		Clock:        clock,
	}

	blobs, err := blob.NewFileBackend(t.TempDir(), slogx.Discard())
	require.NoError(t, err)
	h.blobs = blobs
	h.uploads = &service.UploadService{
		Orchestrator: h.orch,
		Store:        h.store,
		Blobs:        blobs,
		SigningKey:   []byte("upload-url-tests"),
		SpoolDir:     t.TempDir(),
		PublicURL:    "https://handshake.example",
		MaxBytes:     1 << 20,
		Clock:        clock,
	}

	rotator, err := jwtx.NewRotator(jwtx.RotatorOptions{
		Store:  store.NewKeyStoreAdapter(h.store),
		Sealer: cryptox.NewMasterKey([]byte("service-tests")),
	})
	require.NoError(t, err)
	_, _, err = rotator.Rotate(h.ctx, h.clock.Now())
	require.NoError(t, err)
	h.rotator = rotator

	h.cache = jwtx.NewKeyCache(jwtx.StoreKeySource{Store: store.NewKeyStoreAdapter(h.store)}, time.Minute)
	verifier := jwtx.NewVerifier(h.cache, jwtx.VerifyOptions{Issuer: "handshake-tests", Audience: []string{"handshake"}})
	verifier.SetNow(h.clock.Now)
	h.tokens = &service.TokenService{
		Orchestrator: h.orch,
		Store:        h.store,
		Rotator:      rotator,
		Verifier:     verifier,
		Issuer:       "handshake-tests",
		Audience:     []string{"handshake"},
		Clock:        clock,
	}

	h.hub = &service.StreamHub{
		Orchestrator: h.orch,
		Store:        h.store,
		Tokens:       h.tokens,
		Observer:     h.observer,
		Logger:       slogx.Discard(),
		Config: service.StreamConfig{
			Budget: 20,
			Batch:  10,
			Window: 100 * time.Millisecond,
		},
		Clock: clock,
	}

	h.orch.OnReset(h.uploads.Release)
	h.orch.OnReset(h.hub.Release)
	h.orch.OnEnter(h.hub.Expect)
	return h
}

// seed creates a registered applicant directly at stage and returns it
// with its registration key.
func (h *harness) seed(t *testing.T, stage domain.Stage) (domain.Applicant, string) {
	t.Helper()

	key, fingerprint, err := service.MintRegistrationKey()
	require.NoError(t, err)
	a := domain.Applicant{
		ID:             idx.NewWithPrefix(idx.PrefixApplicant).String(),
		CallbackURL:    "https://applicant.example/" + idx.New().String(),
		Stage:          stage,
		CreatedAt:      h.clock.Now(),
		LastActivityAt: h.clock.Now(),
	}
	require.NoError(t, h.store.Applicants().CreateApplicant(h.ctx, a))
	if stage >= domain.StageRegistered {
		require.NoError(t, h.store.Applicants().SetRegistrationKeyHash(h.ctx, a.ID, fingerprint))
		a.RegistrationKeyHash = fingerprint
	}
	return a, key
}

func (h *harness) applicant(t *testing.T, id string) domain.Applicant {
	t.Helper()
	a, err := h.store.Applicants().GetApplicant(h.ctx, id)
	require.NoError(t, err)
	return a
}

// register runs Init and a correct verification.
func (h *harness) register(t *testing.T, callback string) (*service.InitResult, *service.VerifyResult) {
	t.Helper()

	res, err := h.orch.Init(h.ctx, callback)
	require.NoError(t, err)
	ch := res.Challenge
	verified, err := h.orch.VerifyChallenge(h.ctx, ch.ID, h.issuer.Sign(ch), ch.Payload)
	require.NoError(t, err)
	return res, verified
}
