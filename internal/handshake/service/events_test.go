package service_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/aussiebroadwan/handshake/internal/handshake/domain"
	"github.com/aussiebroadwan/handshake/internal/handshake/service"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// recordingSink collects events and ends the connection after stopAfter
// events, or at the first keep-alive (the feed is paused).
type recordingSink struct {
	sub        *service.Subscription
	stopAfter  int
	events     []domain.Event
	keepAlives int
}

func (s *recordingSink) Event(e domain.Event) error {
	s.events = append(s.events, e)
	if s.stopAfter > 0 && len(s.events) == s.stopAfter {
		s.sub.Close()
	}
	return nil
}

func (s *recordingSink) KeepAlive() error {
	s.keepAlives++
	s.sub.Close()
	return nil
}

func (s *recordingSink) ids() []int64 {
	out := make([]int64, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.ID)
	}
	return out
}

// stream connects after lastEventID and serves until the sink stops.
func (h *harness) stream(t *testing.T, applicantID string, lastEventID int64, stopAfter int) *recordingSink {
	t.Helper()
	sub, err := h.hub.Connect(h.ctx, applicantID, lastEventID)
	require.NoError(t, err)
	sink := &recordingSink{sub: sub, stopAfter: stopAfter}
	require.NoError(t, h.hub.Serve(sub, sink))
	return sink
}

func seqs(from, to int64) []int64 {
	var out []int64
	for i := from; i <= to; i++ {
		out = append(out, i)
	}
	return out
}

func TestStreamBatchesAndAcks(t *testing.T) {
	h := newHarness(t)
	a, _ := h.seed(t, domain.StageStreaming)

	sink := h.stream(t, a.ID, 0, 0)
	require.Equal(t, seqs(1, 10), sink.ids(), "the feed pauses at the batch boundary")
	require.Equal(t, 1, sink.keepAlives)
	require.Equal(t, int64(1), sink.events[0].Batch)
	require.Equal(t, int64(10), sink.events[9].Ordinal)

	_, err := h.hub.Ack(h.ctx, a.ID, 5)
	require.ErrorIs(t, err, service.ErrInvalidAck, "acks name the batch boundary")

	res, err := h.hub.Ack(h.ctx, a.ID, 10)
	require.NoError(t, err)
	require.Equal(t, int64(10), res.Remaining)
	require.Nil(t, res.Token)

	again, err := h.hub.Ack(h.ctx, a.ID, 10)
	require.NoError(t, err)
	require.True(t, again.Replayed)

	sink = h.stream(t, a.ID, 10, 0)
	require.Equal(t, seqs(11, 20), sink.ids())
	require.Equal(t, int64(2), sink.events[0].Batch)

	final, err := h.hub.Ack(h.ctx, a.ID, 20)
	require.NoError(t, err)
	require.Equal(t, domain.StageTokenPending, final.Stage)
	require.NotNil(t, final.Token)
	require.NotEmpty(t, final.Token.Token)
	require.Equal(t, domain.StageTokenPending, h.applicant(t, a.ID).Stage)
	require.Equal(t, 20, h.observer.emitted)

	t.Run("repeating the final ack reissues", func(t *testing.T) {
		res, err := h.hub.Ack(h.ctx, a.ID, 20)
		require.NoError(t, err)
		require.True(t, res.Replayed)
		require.NotNil(t, res.Token)

		_, err = h.hub.Ack(h.ctx, a.ID, 10)
		require.ErrorIs(t, err, service.ErrInvalidAck)
	})

	t.Run("the feed is closed once complete", func(t *testing.T) {
		_, err := h.hub.Connect(h.ctx, a.ID, 20)
		require.ErrorIs(t, err, service.ErrStageMismatch)
	})
}

func TestStreamResumeReplaysSamePayload(t *testing.T) {
	h := newHarness(t)
	a, _ := h.seed(t, domain.StageStreaming)

	first := h.stream(t, a.ID, 0, 7)
	require.Equal(t, seqs(1, 7), first.ids())

	resumed := h.stream(t, a.ID, 3, 0)
	require.Equal(t, seqs(4, 10), resumed.ids(), "ids after Last-Event-ID are sent again")
	require.Equal(t, first.events[3:7], resumed.events[:4])

	require.Equal(t, h.hub.EventAt(a.ID, 5), first.events[4])
	require.NotEqual(t, h.hub.EventAt(a.ID, 5).Digest, h.hub.EventAt("someone-else", 5).Digest)

	t.Run("acknowledged ids are never sent again", func(t *testing.T) {
		_, err := h.hub.Ack(h.ctx, a.ID, 10)
		require.NoError(t, err)

		sink := h.stream(t, a.ID, 0, 1)
		require.Equal(t, []int64{11}, sink.ids())
	})

	t.Run("a Last-Event-ID ahead of the feed does not skip", func(t *testing.T) {
		sink := h.stream(t, a.ID, 99, 1)
		require.Equal(t, []int64{12}, sink.ids())
	})
}

func TestAckRejectsUndeliveredEvents(t *testing.T) {
	h := newHarness(t)
	a, _ := h.seed(t, domain.StageStreaming)

	sink := h.stream(t, a.ID, 0, 3)
	require.Len(t, sink.events, 3)

	_, err := h.hub.Ack(h.ctx, a.ID, 10)
	require.ErrorIs(t, err, service.ErrInvalidAck)

	other, _ := h.seed(t, domain.StageUploading)
	_, err = h.hub.Ack(h.ctx, other.ID, 10)
	require.ErrorIs(t, err, service.ErrStageMismatch)
}

func TestConnectSupersedesOlderConnection(t *testing.T) {
	h := newHarness(t)
	a, _ := h.seed(t, domain.StageStreaming)

	old, err := h.hub.Connect(h.ctx, a.ID, 0)
	require.NoError(t, err)
	newer, err := h.hub.Connect(h.ctx, a.ID, 0)
	require.NoError(t, err)
	require.Greater(t, newer.Generation, old.Generation)

	select {
	case <-old.Done():
	case <-time.After(time.Second):
		t.Fatal("superseded connection is still open")
	}

	sink := &recordingSink{sub: old}
	require.NoError(t, h.hub.Serve(old, sink))
	require.Empty(t, sink.events)

	sink = &recordingSink{sub: newer, stopAfter: 2}
	require.NoError(t, h.hub.Serve(newer, sink))
	require.Equal(t, []int64{1, 2}, sink.ids())
}

func TestSweepFailsStalledStreams(t *testing.T) {
	t.Run("silent feed", func(t *testing.T) {
		h := newHarness(t)
		a, _ := h.seed(t, domain.StageStreaming)
		h.stream(t, a.ID, 0, 2)

		require.Zero(t, h.hub.Sweep(h.ctx))

		h.clock.Advance(service.DefaultStreamReconnectGrace + time.Millisecond)
		require.Equal(t, 1, h.hub.Sweep(h.ctx))

		got := h.applicant(t, a.ID)
		require.NotNil(t, got.Failure)
		require.Equal(t, service.ReasonStreamStalled, got.Failure.Reason)

		_, err := h.hub.Connect(h.ctx, a.ID, 2)
		require.ErrorIs(t, err, service.ErrCooldownActive)
		require.Zero(t, h.hub.Sweep(h.ctx), "a failed feed is swept once")
	})

	t.Run("unacknowledged batch", func(t *testing.T) {
		h := newHarness(t)
		a, _ := h.seed(t, domain.StageStreaming)
		h.stream(t, a.ID, 0, 0)

		h.clock.Advance(service.DefaultStreamAckGrace + time.Millisecond)
		require.Equal(t, 1, h.hub.Sweep(h.ctx))
		require.Equal(t, service.ReasonAckMissing, h.applicant(t, a.ID).Failure.Reason)

		_, err := h.hub.Ack(h.ctx, a.ID, 10)
		require.ErrorIs(t, err, service.ErrCooldownActive)
	})
}

func TestStreamRetryStartsOver(t *testing.T) {
	h := newHarness(t)
	a, key := h.seed(t, domain.StageStreaming)

	h.stream(t, a.ID, 0, 0)
	_, err := h.hub.Ack(h.ctx, a.ID, 10)
	require.NoError(t, err)

	h.clock.Advance(time.Second)
	require.Equal(t, 1, h.hub.Sweep(h.ctx))

	h.clock.Advance(service.DefaultCooldown)
	retried, err := h.orch.Retry(h.ctx, key)
	require.NoError(t, err)
	require.Equal(t, domain.StageStreaming, retried.Stage)

	sub, err := h.hub.Connect(h.ctx, a.ID, 15)
	require.NoError(t, err)
	require.Equal(t, int64(1), sub.Start, "a retried feed restarts from the first event")
	sub.Close()
}

// liveSink stays connected through keep-alives.
type liveSink struct {
	events     atomic.Int64
	keepAlives atomic.Int64
}

func (s *liveSink) Event(domain.Event) error { s.events.Add(1); return nil }
func (s *liveSink) KeepAlive() error         { s.keepAlives.Add(1); return nil }

func TestSlowFeedIsKeptAlive(t *testing.T) {
	h := newHarness(t)
	a, _ := h.seed(t, domain.StageStreaming)

	// One event per second, far slower than the reconnect grace.
	hub := &service.StreamHub{
		Orchestrator: h.orch,
		Store:        h.store,
		Tokens:       h.tokens,
		Observer:     h.observer,
		Config: service.StreamConfig{
			Budget:         10,
			Batch:          10,
			Window:         10 * time.Second,
			ReconnectGrace: 500 * time.Millisecond,
			KeepAlive:      20 * time.Millisecond,
		},
		Clock: service.Clock(h.clock.Now),
	}

	sub, err := hub.Connect(h.ctx, a.ID, 0)
	require.NoError(t, err)
	sink := &liveSink{}
	done := make(chan error, 1)
	go func() { done <- hub.Serve(sub, sink) }()

	for range 15 {
		time.Sleep(30 * time.Millisecond)
		h.clock.Advance(50 * time.Millisecond)
		require.Zero(t, hub.Sweep(h.ctx), "a connection waiting on the limiter is not silent")
	}

	sub.Close()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("serve did not return after close")
	}

	require.Positive(t, sink.keepAlives.Load())
	require.Less(t, sink.events.Load(), int64(10))
	got := h.applicant(t, a.ID)
	require.Equal(t, domain.StageStreaming, got.Stage)
	require.Nil(t, got.Failure)
}

func TestDefaultRateDeliversBudgetWithinWindow(t *testing.T) {
	cfg := service.StreamConfig{}.WithDefaults()
	require.Equal(t, rate.Limit(100), cfg.Rate(), "at least 100 events per second")
	require.Equal(t, 50, cfg.Burst(), "burst covers the reconnect grace")

	// Reserve the whole budget at once; the last event's delay is the
	// time a continuously connected client waits for the full feed.
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	lim := rate.NewLimiter(cfg.Rate(), cfg.Burst())
	var last time.Duration
	for range cfg.Budget {
		r := lim.ReserveN(start, 1)
		require.True(t, r.OK())
		last = r.DelayFrom(start)
	}
	require.LessOrEqual(t, last, cfg.Window)
}

func TestDisconnectReleasesOnce(t *testing.T) {
	h := newHarness(t)
	a, _ := h.seed(t, domain.StageStreaming)

	sub, err := h.hub.Connect(h.ctx, a.ID, 0)
	require.NoError(t, err)
	require.Equal(t, int64(1), h.hub.Open())

	h.hub.Disconnect(sub)
	h.hub.Disconnect(sub)
	require.Zero(t, h.hub.Open())

	select {
	case <-sub.Done():
	default:
		t.Fatal("disconnected subscription is still open")
	}

	require.NoError(t, h.hub.Serve(sub, &recordingSink{sub: sub}))
	require.Zero(t, h.hub.Open(), "serve does not release an already released connection")

	t.Run("the feed can still be resumed", func(t *testing.T) {
		sink := h.stream(t, a.ID, 0, 1)
		require.Equal(t, []int64{1}, sink.ids())
	})
}

func TestStreamHubStopTwice(t *testing.T) {
	h := newHarness(t)

	h.hub.Start()
	h.hub.Stop()
	require.NotPanics(t, h.hub.Stop)

	idle := &service.StreamHub{Orchestrator: h.orch, Store: h.store}
	require.NotPanics(t, idle.Stop, "a hub that never started stops cleanly")
}

func TestSweepFailsFeedsNeverConnected(t *testing.T) {
	t.Run("after the upload completes", func(t *testing.T) {
		h := newHarness(t)
		a, _ := h.seed(t, domain.StageProfileLocked)

		sess, _, err := h.uploads.Begin(h.ctx, a.ID, int64(len(resume)), digest(resume))
		require.NoError(t, err)
		res, err := h.put(t, sess.ID, 0, int64(len(resume))-1)
		require.NoError(t, err)
		require.True(t, res.Complete)

		require.Zero(t, h.hub.Sweep(h.ctx))
		h.clock.Advance(service.DefaultStreamReconnectGrace + time.Millisecond)
		require.Equal(t, 1, h.hub.Sweep(h.ctx))

		got := h.applicant(t, a.ID)
		require.NotNil(t, got.Failure)
		require.Equal(t, service.ReasonStreamStalled, got.Failure.Reason)
	})

	t.Run("after a retry", func(t *testing.T) {
		h := newHarness(t)
		a, key := h.seed(t, domain.StageStreaming)

		h.stream(t, a.ID, 0, 1)
		h.clock.Advance(service.DefaultStreamReconnectGrace + time.Millisecond)
		require.Equal(t, 1, h.hub.Sweep(h.ctx))

		h.clock.Advance(service.DefaultCooldown)
		_, err := h.orch.Retry(h.ctx, key)
		require.NoError(t, err)

		require.Zero(t, h.hub.Sweep(h.ctx))
		h.clock.Advance(service.DefaultStreamReconnectGrace + time.Millisecond)
		require.Equal(t, 1, h.hub.Sweep(h.ctx))
		require.Equal(t, service.ReasonStreamStalled, h.applicant(t, a.ID).Failure.Reason)
	})
}
