package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/aussiebroadwan/handshake/internal/handshake/domain"
	"github.com/aussiebroadwan/handshake/internal/handshake/service"
	"github.com/aussiebroadwan/handshake/pkg/handshakesdk"
	"github.com/aussiebroadwan/handshake/pkg/httpx"
)

// StatusResumeIncomplete is the resumable-upload "keep sending" status.
const StatusResumeIncomplete = http.StatusPermanentRedirect

// UploadHandler serves Stage 4.
type UploadHandler struct {
	Orchestrator *service.Orchestrator
	Uploads      *service.UploadService
	errors       *errorWriter
}

// HandleCreate godoc
//
//	@Summary		Open an upload session
//	@Description	Declares the size and SHA-256 of resume.zip and returns a pre-signed, time-limited PUT target.
//	@Tags			Upload
//	@Accept			json
//	@Produce		json
//	@Security		RegistrationKey
//	@Param			request	body		handshakesdk.UploadRequest	true	"Declared size and digest"
//	@Success		201		{object}	handshakesdk.UploadResponse	"session and target"
//	@Header			201		{string}	Location					"pre-signed target"
//	@Failure		400		{object}	handshakesdk.Error			"InvalidRequest"
//	@Failure		409		{object}	handshakesdk.Error			"StageMismatch"
//	@Failure		413		{object}	handshakesdk.Error			"UploadTooLarge"
//	@Router			/v1/uploads [post].
func (h *UploadHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	a, r, err := authenticate(h.Orchestrator, r)
	if err != nil {
		h.errors.write(w, r, nil, err)
		return
	}

	body, err := httpx.ReadBody(r, httpx.MaxJSONBody)
	if err != nil {
		h.errors.write(w, r, a, handshakesdk.Errorf(handshakesdk.KindInvalidRequest, "%v", err))
		return
	}
	var req handshakesdk.UploadRequest
	if err := httpx.DecodeJSON(body, &req); err != nil {
		h.errors.write(w, r, a, handshakesdk.Errorf(handshakesdk.KindInvalidRequest, "invalid body: %v", err))
		return
	}

	sess, target, err := h.Uploads.Begin(r.Context(), a.ID, req.Size, req.SHA256)
	if err != nil {
		h.errors.write(w, r, a, err)
		return
	}

	w.Header().Set("Location", target.URL)
	httpx.WriteJSON(w, http.StatusCreated, uploadResponse(sess, target.ExpiresAt, handshakesdk.NextLink(http.MethodPut, target.URL)))
}

// HandleGet godoc
//
//	@Summary		Upload progress
//	@Description	Reports how many bytes the server holds. An open session answers 308 with a Range header and a fresh target.
//	@Tags			Upload
//	@Produce		json
//	@Security		RegistrationKey
//	@Param			id	path		string						true	"Upload ID"
//	@Success		200	{object}	handshakesdk.UploadResponse	"settled session"
//	@Success		308	{object}	handshakesdk.UploadResponse	"open session"
//	@Failure		404	{object}	handshakesdk.Error			"NotFound"
//	@Router			/v1/uploads/{id} [get].
func (h *UploadHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	a, r, err := authenticate(h.Orchestrator, r)
	if err != nil {
		h.errors.write(w, r, nil, err)
		return
	}

	sess, err := h.Uploads.Session(r.Context(), a.ID, r.PathValue("id"))
	if err != nil {
		h.errors.write(w, r, a, err)
		return
	}

	switch sess.Status {
	case domain.UploadInProgress:
		target := h.Uploads.Target(sess.ID, h.Orchestrator.Clock.Now())
		if rng := httpx.ResumeRange(sess.Offset); rng != "" {
			w.Header().Set("Range", rng)
		}
		httpx.WriteJSON(w, StatusResumeIncomplete, uploadResponse(sess, target.ExpiresAt, handshakesdk.NextLink(http.MethodPut, target.URL)))
	default:
		httpx.WriteJSON(w, http.StatusOK, uploadResponse(sess, sess.TargetExpires, service.NextLinks(*a)))
	}
}

// HandlePut godoc
//
//	@Summary		Upload a chunk
//	@Description	Pre-signed target. Each chunk carries Content-Range "bytes a-b/total" and must start at the held offset; "bytes */total" with an empty body only queries. The final byte triggers checksum verification.
//	@Tags			Upload
//	@Accept			application/octet-stream
//	@Produce		json
//	@Param			id					path		string						true	"Upload ID"
//	@Param			expires				query		int							true	"Target expiry, unix seconds"
//	@Param			sig					query		string						true	"Target signature"
//	@Param			Content-Range		header		string						true	"bytes a-b/total"
//	@Param			X-Registration-Key	header		string						false	"Must match the session owner when sent"
//	@Success		201					{object}	handshakesdk.UploadResponse	"upload verified and stored"
//	@Success		308					{object}	handshakesdk.UploadResponse	"resume incomplete"
//	@Failure		403					{object}	handshakesdk.Error			"InvalidUploadSignature"
//	@Failure		408					{object}	handshakesdk.Error			"UploadStalled"
//	@Failure		409					{object}	handshakesdk.Error			"OffsetMismatch"
//	@Failure		422					{object}	handshakesdk.Error			"ChecksumMismatch"
//	@Router			/v1/uploads/{id} [put].
func (h *UploadHandler) HandlePut(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	// 1. The target must be ours and unexpired
	q := r.URL.Query()
	if err := h.Uploads.CheckTarget(id, q.Get("expires"), q.Get("sig")); err != nil {
		h.errors.write(w, r, nil, err)
		return
	}

	// 2. A registration key is optional on the target, but must match
	var owner *domain.Applicant
	if r.Header.Get(RegistrationKeyHeader) != "" {
		a, req, err := authenticate(h.Orchestrator, r)
		if err != nil {
			h.errors.write(w, r, nil, err)
			return
		}
		if _, err := h.Uploads.Session(req.Context(), a.ID, id); err != nil {
			h.errors.write(w, req, a, service.ErrRegistrationRequired)
			return
		}
		owner, r = a, req
	}

	// 3. Range
	rng, err := httpx.ParseContentRange(r.Header.Get("Content-Range"))
	if err != nil {
		h.errors.write(w, r, owner, handshakesdk.Errorf(handshakesdk.KindInvalidRequest, "Content-Range must be \"bytes a-b/total\" or \"bytes */total\""))
		return
	}
	if r.ContentLength >= 0 && !rng.Query && r.ContentLength != rng.Len() {
		h.errors.write(w, r, owner, handshakesdk.Errorf(handshakesdk.KindInvalidRequest, "Content-Length %d does not match Content-Range", r.ContentLength))
		return
	}

	// 4. Append
	res, err := h.Uploads.WriteChunk(r.Context(), id, rng, r.Body)
	if err != nil {
		var oerr *service.OffsetError
		if errors.As(err, &oerr) {
			if held := httpx.ResumeRange(oerr.Offset); held != "" {
				w.Header().Set("Range", held)
			}
		}
		h.errors.write(w, r, owner, err)
		return
	}

	if res.Complete {
		httpx.WriteJSON(w, http.StatusCreated, uploadResponse(res.Session, res.Session.TargetExpires,
			handshakesdk.NextLink(http.MethodGet, service.RouteEvents)))
		return
	}

	if held := httpx.ResumeRange(res.Session.Offset); held != "" {
		w.Header().Set("Range", held)
	}
	httpx.WriteJSON(w, StatusResumeIncomplete, uploadResponse(res.Session, res.Session.TargetExpires,
		handshakesdk.NextLink(http.MethodPut, r.URL.RequestURI())))
}

func uploadResponse(sess domain.UploadSession, expires time.Time, links handshakesdk.Links) handshakesdk.UploadResponse {
	return handshakesdk.UploadResponse{
		UploadID:  sess.ID,
		Resource:  domain.UploadResource,
		Size:      sess.DeclaredSize,
		Offset:    sess.Offset,
		Status:    string(sess.Status),
		ExpiresAt: expires,
		Links:     links,
	}
}
