package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/time/rate"

	"github.com/aussiebroadwan/handshake/internal/handshake/domain"
	"github.com/aussiebroadwan/handshake/internal/handshake/store"
	"github.com/aussiebroadwan/handshake/pkg/slogx"
)

const (
	DefaultStreamBudget         = 1000
	DefaultStreamBatch          = 1000
	DefaultStreamWindow         = 10 * time.Second
	DefaultStreamAckGrace       = 10 * time.Second
	DefaultStreamReconnectGrace = 500 * time.Millisecond
	DefaultKeepAliveInterval    = 250 * time.Millisecond

	EventKind = "tick"
)

// StreamConfig sizes the Stage 5 feed.
type StreamConfig struct {
	Budget         int64         // events owed per applicant
	Batch          int64         // events per acknowledgment
	Window         time.Duration // time to emit one batch
	AckGrace       time.Duration // wait for an ack after a full batch
	ReconnectGrace time.Duration // tolerated silence without a live connection
	KeepAlive      time.Duration
}

// WithDefaults fills unset fields with the Default* values.
func (c StreamConfig) WithDefaults() StreamConfig {
	if c.Budget <= 0 {
		c.Budget = DefaultStreamBudget
	}
	if c.Batch <= 0 {
		c.Batch = DefaultStreamBatch
	}
	c.Batch = min(c.Batch, c.Budget)
	if c.Window <= 0 {
		c.Window = DefaultStreamWindow
	}
	if c.AckGrace <= 0 {
		c.AckGrace = DefaultStreamAckGrace
	}
	if c.ReconnectGrace <= 0 {
		c.ReconnectGrace = DefaultStreamReconnectGrace
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = DefaultKeepAliveInterval
	}
	return c
}

// Rate is the steady emission rate in events per second.
func (c StreamConfig) Rate() rate.Limit {
	return rate.Limit(float64(c.Batch) / c.Window.Seconds())
}

// Burst lets a reconnecting client catch up on what the reconnect grace
// would have carried.
func (c StreamConfig) Burst() int {
	return max(1, int(float64(c.Rate())*c.ReconnectGrace.Seconds()))
}

// EventSink writes frames to one connection.
type EventSink interface {
	Event(e domain.Event) error
	KeepAlive() error
}

// AckResult is the outcome of POST /v1/ack.
type AckResult struct {
	Acked     int64
	Remaining int64
	Stage     domain.Stage
	Token     *IssuedToken // set once the final batch is acknowledged
	Replayed  bool
}

// Subscription is one live connection to an applicant's feed.
type Subscription struct {
	ApplicantID string
	Generation  int64
	Start       int64 // first sequence this connection emits

	entry    *streamEntry
	ctx      context.Context
	cancel   context.CancelFunc
	released sync.Once
}

// Done is closed when the connection is superseded or the feed ends.
func (s *Subscription) Done() <-chan struct{} { return s.ctx.Done() }

// Close releases the connection.
func (s *Subscription) Close() { s.cancel() }

type streamEntry struct {
	mu          sync.Mutex
	cursor      domain.StreamCursor
	limiter     *rate.Limiter
	cancel      context.CancelFunc // live connection, nil when disconnected
	lastSeen    time.Time          // last successful frame, connect or ack
	batchFullAt time.Time          // when the pending boundary was emitted
	failed      bool
}

// StreamHub owns the Stage 5 feeds. Connection state lives in memory
// per applicant; the cursor is persisted on connect, disconnect, batch
// boundaries and acks. Event payloads are regenerated from (applicant,
// sequence), so any id the applicant is still owed can be replayed
// byte-for-byte after a reconnect.
type StreamHub struct {
	Orchestrator *Orchestrator
	Store        store.Store
	Tokens       *TokenService
	Observer     Observer
	Logger       *slog.Logger
	Config       StreamConfig
	Clock        Clock
	Interval     time.Duration // sweep interval, default 100ms

	mu      sync.Mutex
	entries map[string]*streamEntry
	open    atomic.Int64

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

func (h *StreamHub) config() StreamConfig { return h.Config.WithDefaults() }

func (h *StreamHub) observer() Observer { return observerOrNop(h.Observer) }

func (h *StreamHub) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

// Open reports the number of live connections.
func (h *StreamHub) Open() int64 { return h.open.Load() }

// EventAt returns event seq of an applicant's feed. It is a pure function
// of its arguments and the batch size.
func (h *StreamHub) EventAt(applicantID string, seq int64) domain.Event {
	batch := h.config().Batch
	sum := sha256.Sum256([]byte(applicantID + "|" + strconv.FormatInt(seq, 10)))
	return domain.Event{
		ID:      seq,
		Kind:    EventKind,
		Digest:  hex.EncodeToString(sum[:16]),
		Batch:   (seq-1)/batch + 1,
		Ordinal: (seq-1)%batch + 1,
	}
}

// boundary is the sequence the next ack must name.
func (h *StreamHub) boundary(lastAcked int64) int64 {
	cfg := h.config()
	return min(lastAcked+cfg.Batch, cfg.Budget)
}

// entry returns the hub entry of an applicant, loading its cursor on
// first use.
func (h *StreamHub) entry(ctx context.Context, applicantID string) (*streamEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if e, ok := h.entries[applicantID]; ok {
		return e, nil
	}

	c, err := h.Store.StreamCursors().GetStreamCursor(ctx, applicantID)
	if errors.Is(err, store.ErrNotFound) {
		c = domain.StreamCursor{ApplicantID: applicantID, NextSeq: 1}
	} else if err != nil {
		return nil, err
	}

	cfg := h.config()
	e := &streamEntry{
		cursor:   c,
		limiter:  rate.NewLimiter(cfg.Rate(), cfg.Burst()),
		lastSeen: h.Clock.Now(),
	}
	if h.entries == nil {
		h.entries = make(map[string]*streamEntry)
	}
	h.entries[applicantID] = e
	return e, nil
}

// Expect is the stream EnterHook: a feed is watched for silence from the
// moment the applicant enters Streaming, connected or not.
func (h *StreamHub) Expect(ctx context.Context, applicantID string, stage domain.Stage) {
	if stage != domain.StageStreaming {
		return
	}
	if _, err := h.entry(ctx, applicantID); err != nil {
		h.logger().Error("failed to track stream", slog.String("applicant_id", applicantID), slog.Any("error", err))
	}
}

func (h *StreamHub) saveLocked(ctx context.Context, e *streamEntry) {
	e.cursor.UpdatedAt = h.Clock.Now()
	if err := h.Store.StreamCursors().SaveStreamCursor(ctx, e.cursor); err != nil {
		slogx.FromContext(ctx).Error("failed to save stream cursor",
			slog.String("applicant_id", e.cursor.ApplicantID),
			slog.Any("error", err),
		)
	}
}

// Connect opens a connection resuming after lastEventID, the client's
// Last-Event-ID (0 when absent). Emission starts at
// max(lastAcked, min(lastEventID, produced)) + 1, so acknowledged ids are
// never re-sent and owed ones are never skipped. Any older connection of
// the applicant is closed.
func (h *StreamHub) Connect(ctx context.Context, applicantID string, lastEventID int64) (*Subscription, error) {
	a, err := h.Store.Applicants().GetApplicant(ctx, applicantID)
	if err != nil {
		return nil, err
	}
	if err := h.Orchestrator.Require(a, domain.StageStreaming); err != nil {
		return nil, err
	}

	e, err := h.entry(ctx, applicantID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.failed {
		return nil, ErrStreamStalled
	}

	start := max(e.cursor.LastAcked, min(max(lastEventID, 0), e.cursor.Produced())) + 1
	if e.cancel != nil {
		e.cancel()
	}

	subCtx, cancel := context.WithCancel(ctx)
	e.cursor.NextSeq = start
	e.cursor.Generation++
	e.cancel = cancel
	e.lastSeen = h.Clock.Now()
	h.saveLocked(ctx, e)

	h.open.Inc()
	h.observer().StreamOpened()
	slogx.FromContext(ctx).Info("stream connected",
		slog.String("applicant_id", applicantID),
		slog.Int64("generation", e.cursor.Generation),
		slog.Int64("start", start),
	)

	return &Subscription{
		ApplicantID: applicantID,
		Generation:  e.cursor.Generation,
		Start:       start,
		entry:       e,
		ctx:         subCtx,
		cancel:      cancel,
	}, nil
}

// Serve emits events to sink until the connection ends. The feed pauses
// at each batch boundary until it is acknowledged, writing keep-alive
// frames in the meantime. It returns nil when the connection was
// superseded or the context ended, and the sink's error otherwise.
func (h *StreamHub) Serve(sub *Subscription, sink EventSink) error {
	defer h.Disconnect(sub)

	keepAlive := time.NewTicker(h.config().KeepAlive)
	defer keepAlive.Stop()

	e := sub.entry

	for {
		if sub.ctx.Err() != nil {
			return nil
		}

		e.mu.Lock()
		if e.cursor.Generation != sub.Generation || e.failed {
			e.mu.Unlock()
			return nil
		}
		next := e.cursor.NextSeq
		paused := next > h.boundary(e.cursor.LastAcked)
		e.mu.Unlock()

		// 1. Waiting for an ack, or the budget is spent.
		if paused {
			select {
			case <-sub.ctx.Done():
				return nil
			case <-keepAlive.C:
			}
			if err := sink.KeepAlive(); err != nil {
				return err
			}
			h.touch(e, sub.Generation)
			continue
		}

		// 2. Pace and emit, keeping the connection alive between events.
		if ok, err := h.pace(sub, sink, keepAlive); !ok {
			return err
		}
		if err := sink.Event(h.EventAt(sub.ApplicantID, next)); err != nil {
			return err
		}

		e.mu.Lock()
		if e.cursor.Generation == sub.Generation && e.cursor.NextSeq == next {
			now := h.Clock.Now()
			e.cursor.NextSeq++
			e.lastSeen = now
			if next == h.boundary(e.cursor.LastAcked) && !e.failed {
				e.batchFullAt = now
				h.saveLocked(context.WithoutCancel(sub.ctx), e)
			}
		}
		e.mu.Unlock()
		h.observer().EventsEmitted(1)
	}
}

// pace waits for the limiter to release the next event. Keep-alives are
// written while it waits, so a slow feed is never mistaken for a silent
// one. It reports false when the connection should end.
func (h *StreamHub) pace(sub *Subscription, sink EventSink, keepAlive *time.Ticker) (bool, error) {
	r := sub.entry.limiter.Reserve()
	delay := r.Delay()
	if delay <= 0 {
		return true, nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	for {
		select {
		case <-sub.ctx.Done():
			r.Cancel()
			return false, nil
		case <-timer.C:
			return true, nil
		case <-keepAlive.C:
			if err := sink.KeepAlive(); err != nil {
				r.Cancel()
				return false, err
			}
			h.touch(sub.entry, sub.Generation)
		}
	}
}

func (h *StreamHub) touch(e *streamEntry, generation int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cursor.Generation == generation {
		e.lastSeen = h.Clock.Now()
	}
}

// Disconnect releases a connection that will not be served. Serve
// releases its own; releasing twice is a no-op.
func (h *StreamHub) Disconnect(sub *Subscription) {
	sub.released.Do(func() { h.disconnect(sub) })
}

func (h *StreamHub) disconnect(sub *Subscription) {
	sub.cancel()
	h.open.Dec()
	h.observer().StreamClosed()

	// A forgotten entry belongs to a finished or discarded feed.
	h.mu.Lock()
	e := h.entries[sub.ApplicantID]
	h.mu.Unlock()
	if e != sub.entry {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cursor.Generation != sub.Generation || e.failed {
		return
	}
	e.cancel = nil
	e.lastSeen = h.Clock.Now()
	h.saveLocked(context.WithoutCancel(sub.ctx), e)
}

// Ack acknowledges the feed up to n. n must be the pending batch boundary
// and must already have been delivered. Acknowledging the current
// boundary again replays the earlier result. The final ack advances
// Streaming to TokenPending and carries a signed token; repeating it in
// TokenPending returns a fresh token.
func (h *StreamHub) Ack(ctx context.Context, applicantID string, n int64) (*AckResult, error) {
	a, release, err := h.Orchestrator.Acquire(ctx, applicantID, domain.StageStreaming, domain.StageTokenPending)
	if err != nil {
		return nil, err
	}
	defer release()

	cfg := h.config()

	if a.Stage == domain.StageTokenPending {
		if n != cfg.Budget {
			return nil, fmt.Errorf("%w: the feed is complete at %d", ErrInvalidAck, cfg.Budget)
		}
		tok, err := h.Tokens.Issue(applicantID)
		if err != nil {
			return nil, err
		}
		return &AckResult{Acked: n, Stage: a.Stage, Token: tok, Replayed: true}, nil
	}

	e, err := h.entry(ctx, applicantID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.failed {
		e.mu.Unlock()
		return nil, ErrAckMissing
	}
	if n > 0 && n == e.cursor.LastAcked {
		res := &AckResult{Acked: n, Remaining: cfg.Budget - n, Stage: a.Stage, Replayed: true}
		e.mu.Unlock()
		return res, nil
	}
	if want := h.boundary(e.cursor.LastAcked); n != want {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: expected lastEventId %d", ErrInvalidAck, want)
	}
	if n > e.cursor.Produced() {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: event %d has not been delivered", ErrInvalidAck, n)
	}

	e.cursor.LastAcked = n
	e.batchFullAt = time.Time{}
	e.lastSeen = h.Clock.Now()
	h.saveLocked(ctx, e)
	final := n == cfg.Budget
	if final && e.cancel != nil {
		e.cancel()
	}
	e.mu.Unlock()

	slogx.FromContext(ctx).Info("stream acknowledged",
		slog.String("applicant_id", applicantID),
		slog.Int64("acked", n),
	)

	if !final {
		return &AckResult{Acked: n, Remaining: cfg.Budget - n, Stage: a.Stage}, nil
	}

	// Final batch.
	if err := h.Orchestrator.Advance(ctx, h.Store, applicantID, domain.StageStreaming, domain.StageTokenPending); err != nil {
		return nil, err
	}
	h.forget(applicantID)

	res := &AckResult{Acked: n, Stage: domain.StageTokenPending}
	tok, err := h.Tokens.Issue(applicantID)
	if err != nil {
		// The stage has moved; repeating the ack reissues.
		return nil, err
	}
	res.Token = tok
	return res, nil
}

func (h *StreamHub) forget(applicantID string) *streamEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	e := h.entries[applicantID]
	delete(h.entries, applicantID)
	return e
}

// Release is the stream ResetHook: a failed Stage 5 drops its connection
// and in-memory state.
func (h *StreamHub) Release(_ context.Context, applicantID string, stage domain.Stage) {
	if stage != domain.StageStreaming {
		return
	}
	e := h.forget(applicantID)
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failed = true
	if e.cancel != nil {
		e.cancel()
	}
}

type stalledStream struct {
	applicantID string
	reason      string
}

// Sweep fails feeds whose full batch went unacknowledged for AckGrace
// (AckMissing) and feeds silent for longer than ReconnectGrace
// (StreamStalled). A connection counts as silent when no frame could be
// written to it.
func (h *StreamHub) Sweep(ctx context.Context) int {
	cfg := h.config()
	now := h.Clock.Now()

	h.mu.Lock()
	entries := make(map[string]*streamEntry, len(h.entries))
	for id, e := range h.entries {
		entries[id] = e
	}
	h.mu.Unlock()

	var stalled []stalledStream
	for id, e := range entries {
		e.mu.Lock()
		reason := ""
		switch {
		case e.failed:
		case !e.batchFullAt.IsZero() && now.Sub(e.batchFullAt) > cfg.AckGrace:
			reason = ReasonAckMissing
		case now.Sub(e.lastSeen) > cfg.ReconnectGrace:
			reason = ReasonStreamStalled
		}
		if reason != "" {
			e.failed = true
			if e.cancel != nil {
				e.cancel()
			}
			stalled = append(stalled, stalledStream{applicantID: id, reason: reason})
		}
		e.mu.Unlock()
	}

	// Fail outside the entry locks; the reset hooks take them again.
	for _, s := range stalled {
		if err := h.Orchestrator.Fail(ctx, s.applicantID, domain.StageStreaming, s.reason); err != nil {
			h.logger().Error("failed to fail stream", slog.String("applicant_id", s.applicantID), slog.Any("error", err))
		}
		h.forget(s.applicantID)
	}
	return len(stalled)
}

// Start begins the background sweeper. Call Stop to shut it down.
func (h *StreamHub) Start() {
	if h.Interval <= 0 {
		h.Interval = 100 * time.Millisecond
	}
	h.stopCh = make(chan struct{})
	h.doneCh = make(chan struct{})
	go h.run()
	h.logger().Info("stream sweeper started", slog.Duration("interval", h.Interval))
}

// Stop shuts down the sweeper and closes every live connection. It may
// be called more than once.
func (h *StreamHub) Stop() {
	h.stopOnce.Do(h.stop)
}

func (h *StreamHub) stop() {
	if h.stopCh != nil {
		close(h.stopCh)
		<-h.doneCh
	}

	h.mu.Lock()
	for _, e := range h.entries {
		e.mu.Lock()
		if e.cancel != nil {
			e.cancel()
		}
		e.mu.Unlock()
	}
	h.mu.Unlock()
	h.logger().Info("stream sweeper stopped")
}

func (h *StreamHub) run() {
	defer close(h.doneCh)

	ticker := time.NewTicker(h.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx := slogx.WithContext(context.Background(), h.logger())
			if n := h.Sweep(ctx); n > 0 {
				h.logger().Warn("stalled streams failed", slog.Int("count", n))
			}
		case <-h.stopCh:
			return
		}
	}
}
