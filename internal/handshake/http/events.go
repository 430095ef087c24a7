package http

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aussiebroadwan/handshake/internal/handshake/domain"
	"github.com/aussiebroadwan/handshake/internal/handshake/service"
	"github.com/aussiebroadwan/handshake/pkg/handshakesdk"
	"github.com/aussiebroadwan/handshake/pkg/httpx"
	"github.com/aussiebroadwan/handshake/pkg/slogx"
)

// LastEventIDHeader is sent by SSE clients when they reconnect.
const LastEventIDHeader = "Last-Event-ID"

// EventsHandler serves Stage 5.
type EventsHandler struct {
	Orchestrator *service.Orchestrator
	Streams      *service.StreamHub
	errors       *errorWriter
}

// HandleStream godoc
//
//	@Summary		Subscribe to the event feed
//	@Description	Server-sent events paced in batches. Each batch must be acknowledged through POST /v1/ack before the next one flows; keep-alive comments are written meanwhile. Reconnect with Last-Event-ID to resume.
//	@Tags			Events
//	@Produce		text/event-stream
//	@Security		RegistrationKey
//	@Param			Last-Event-ID	header		int					false	"Last event id received"
//	@Success		200				{string}	string				"event stream"
//	@Failure		401				{object}	handshakesdk.Error	"RegistrationRequired"
//	@Failure		408				{object}	handshakesdk.Error	"StreamStalled"
//	@Failure		409				{object}	handshakesdk.Error	"StageMismatch"
//	@Router			/v1/events [get].
func (h *EventsHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	a, r, err := authenticate(h.Orchestrator, r)
	if err != nil {
		h.errors.write(w, r, nil, err)
		return
	}

	var last int64
	if v := strings.TrimSpace(r.Header.Get(LastEventIDHeader)); v != "" {
		last, err = strconv.ParseInt(v, 10, 64)
		if err != nil || last < 0 {
			h.errors.write(w, r, a, handshakesdk.Errorf(handshakesdk.KindInvalidRequest, "Last-Event-ID must be a non-negative integer"))
			return
		}
	}

	sub, err := h.Streams.Connect(r.Context(), a.ID, last)
	if err != nil {
		h.errors.write(w, r, a, err)
		return
	}
	defer h.Streams.Disconnect(sub)

	rc := http.NewResponseController(w)
	// The feed outlives the server's write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		slogx.FromContext(r.Context()).Warn("event stream cannot flush", slog.Any("error", err))
		return
	}

	sink := &sseSink{w: w, rc: rc}
	if err := h.Streams.Serve(sub, sink); err != nil {
		slogx.FromContext(r.Context()).Debug("event stream ended",
			slog.Int64("generation", sub.Generation),
			slog.Any("error", err),
		)
	}
}

// sseSink frames events as "text/event-stream".
type sseSink struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

func (s *sseSink) Event(e domain.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "id: %d\nevent: %s\ndata: %s\n\n", e.ID, e.Kind, data); err != nil {
		return err
	}
	return s.rc.Flush()
}

func (s *sseSink) KeepAlive() error {
	if _, err := fmt.Fprint(s.w, ": keep-alive\n\n"); err != nil {
		return err
	}
	return s.rc.Flush()
}

// HandleAck godoc
//
//	@Summary		Acknowledge a batch
//	@Description	lastEventId must be the final id of the pending batch. The final acknowledgment carries the acceptance token; repeating it returns a fresh one.
//	@Tags			Events
//	@Accept			json
//	@Produce		json
//	@Security		RegistrationKey
//	@Param			request	body		handshakesdk.AckRequest		true	"Batch boundary"
//	@Success		200		{object}	handshakesdk.AckResponse	"acknowledged"
//	@Failure		400		{object}	handshakesdk.Error			"InvalidAck"
//	@Failure		408		{object}	handshakesdk.Error			"AckMissing"
//	@Failure		409		{object}	handshakesdk.Error			"StageMismatch"
//	@Router			/v1/ack [post].
func (h *EventsHandler) HandleAck(w http.ResponseWriter, r *http.Request) {
	a, r, err := authenticate(h.Orchestrator, r)
	if err != nil {
		h.errors.write(w, r, nil, err)
		return
	}

	body, err := httpx.ReadBody(r, httpx.MaxJSONBody)
	if err != nil {
		h.errors.write(w, r, a, handshakesdk.ErrInvalidRequest)
		return
	}
	var req handshakesdk.AckRequest
	if err := httpx.DecodeJSON(body, &req); err != nil {
		h.errors.write(w, r, a, handshakesdk.Errorf(handshakesdk.KindInvalidAck, "invalid body: %v", err))
		return
	}

	res, err := h.Streams.Ack(r.Context(), a.ID, req.LastEventID)
	if err != nil {
		h.errors.write(w, r, a, err)
		return
	}

	resp := handshakesdk.AckResponse{
		Acked:     res.Acked,
		Remaining: res.Remaining,
		Stage:     res.Stage.String(),
		Links:     handshakesdk.NextLink(http.MethodGet, service.RouteEvents),
	}
	if res.Token != nil {
		resp.Token = res.Token.Token
		resp.Links = handshakesdk.NextLink(http.MethodPost, service.RouteAccept)
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}
