package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/aussiebroadwan/handshake/internal/handshake/service"
	"github.com/aussiebroadwan/handshake/pkg/handshakesdk"
	"github.com/aussiebroadwan/handshake/pkg/httpx"
)

const (
	IdempotencyKeyHeader = "Idempotency-Key"
	ReplayedHeader       = "Idempotent-Replayed"
)

// ProfileHandler serves Stage 2 (idempotent create) and Stage 3
// (conditional field updates).
type ProfileHandler struct {
	Orchestrator *service.Orchestrator
	Profiles     *service.ProfileService
	ClientIP     httpx.KeyExtractor // keys the Stage 3 bucket
	errors       *errorWriter
}

// HandleCreate godoc
//
//	@Summary		Create the profile
//	@Description	Stores the draft profile, a JSON object of string fields. Retries with the same Idempotency-Key and body return the original response byte for byte.
//	@Tags			Profile
//	@Accept			json
//	@Produce		json
//	@Security		RegistrationKey
//	@Param			Idempotency-Key	header		string							true	"Client-chosen request key"
//	@Param			request			body		map[string]string				true	"Profile fields"
//	@Success		201				{object}	handshakesdk.ProfileResponse	"created profile"
//	@Header			201				{string}	Idempotent-Replayed				"true on a replay"
//	@Failure		400				{object}	handshakesdk.Error				"InvalidRequest"
//	@Failure		401				{object}	handshakesdk.Error				"RegistrationRequired"
//	@Failure		409				{object}	handshakesdk.Error				"IdempotencyConflict, StageMismatch"
//	@Router			/v1/profile [post].
func (h *ProfileHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
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

	fingerprint := service.RequestFingerprint(r.Method, r.URL.Path, body)
	res, err := h.Profiles.Create(r.Context(), a.ID, r.Header.Get(IdempotencyKeyHeader), fingerprint, body)
	if err != nil {
		h.errors.write(w, r, a, err)
		return
	}

	if res.Replayed {
		w.Header().Set(ReplayedHeader, "true")
	}
	httpx.WriteRaw(w, res.StatusCode, res.Body)
}

// HandleGet godoc
//
//	@Summary		Read the profile
//	@Description	Returns every field with its current version.
//	@Tags			Profile
//	@Produce		json
//	@Security		RegistrationKey
//	@Success		200	{object}	handshakesdk.ProfileResponse	"fields and versions"
//	@Failure		401	{object}	handshakesdk.Error				"RegistrationRequired"
//	@Failure		409	{object}	handshakesdk.Error				"StageMismatch"
//	@Router			/v1/profile [get].
func (h *ProfileHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	a, r, err := authenticate(h.Orchestrator, r)
	if err != nil {
		h.errors.write(w, r, nil, err)
		return
	}

	fields, err := h.Profiles.Fields(r.Context(), *a)
	if err != nil {
		h.errors.write(w, r, a, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, handshakesdk.ProfileResponse{
		ApplicantID: a.ID,
		Fields:      service.FieldsToSDK(fields),
		Stage:       a.Stage.String(),
		Links:       service.NextLinks(*a),
	})
}

// HandlePatch godoc
//
//	@Summary		Conditionally update a field
//	@Description	Writes the field only if If-Match names its current version. Every attempt, including malformed ones, takes a token from the caller's per-IP bucket.
//	@Tags			Profile
//	@Accept			json
//	@Produce		json
//	@Security		RegistrationKey
//	@Param			field		path		string							true	"Field name"
//	@Param			If-Match	header		string							true	"Expected version, e.g. \"1\""
//	@Param			request		body		handshakesdk.PatchFieldRequest	true	"New value"
//	@Success		200			{object}	handshakesdk.PatchFieldResponse	"updated field"
//	@Header			200			{string}	ETag							"new version"
//	@Failure		404			{object}	handshakesdk.Error				"NotFound"
//	@Failure		412			{object}	handshakesdk.Error				"PreconditionFailed"
//	@Failure		428			{object}	handshakesdk.Error				"PreconditionRequired"
//	@Failure		429			{object}	handshakesdk.Error				"RateLimited"
//	@Router			/v1/profile/{field} [patch].
func (h *ProfileHandler) HandlePatch(w http.ResponseWriter, r *http.Request) {
	// 1. The bucket comes first, so rejected attempts pay too
	clientIP := h.ClientIP
	if clientIP == nil {
		clientIP = httpx.IPKeyExtractor
	}
	if err := h.Profiles.Admit(clientIP(r)); err != nil {
		h.errors.write(w, r, nil, err)
		return
	}

	// 2. Identity and precondition
	a, r, err := authenticate(h.Orchestrator, r)
	if err != nil {
		h.errors.write(w, r, nil, err)
		return
	}
	ifMatch := r.Header.Get("If-Match")
	if ifMatch == "" {
		h.errors.write(w, r, a, service.ErrPreconditionRequired)
		return
	}
	expected, err := parseETag(ifMatch)
	if err != nil {
		h.errors.write(w, r, a, handshakesdk.Errorf(handshakesdk.KindInvalidRequest, "If-Match must be a version, e.g. \"1\""))
		return
	}

	// 3. Body
	body, err := httpx.ReadBody(r, httpx.MaxJSONBody)
	if err != nil {
		h.errors.write(w, r, a, handshakesdk.Errorf(handshakesdk.KindInvalidRequest, "%v", err))
		return
	}
	var req handshakesdk.PatchFieldRequest
	if err := httpx.DecodeJSON(body, &req); err != nil {
		h.errors.write(w, r, a, handshakesdk.Errorf(handshakesdk.KindInvalidRequest, "invalid body: %v", err))
		return
	}

	// 4. Compare and set
	up, err := h.Profiles.ConditionalUpdate(r.Context(), a.ID, r.PathValue("field"), expected, req.Value)
	if err != nil {
		var verr *service.VersionError
		if errors.As(err, &verr) {
			w.Header().Set("ETag", formatETag(verr.Current))
		}
		h.errors.write(w, r, a, err)
		return
	}

	w.Header().Set("ETag", formatETag(up.Field.Version))
	a.Stage = up.Stage
	httpx.WriteJSON(w, http.StatusOK, handshakesdk.PatchFieldResponse{
		ProfileField: handshakesdk.ProfileField{
			Name:    up.Field.Name,
			Value:   up.Field.Value,
			Version: up.Field.Version,
		},
		Stage: up.Stage.String(),
		Links: service.NextLinks(*a),
	})
}

// formatETag renders a field version as a strong entity tag.
func formatETag(version int64) string {
	return `"` + strconv.FormatInt(version, 10) + `"`
}

// parseETag accepts a strong tag ("3") or a bare version (3).
func parseETag(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if unq, ok := strings.CutPrefix(s, `"`); ok {
		s, ok = strings.CutSuffix(unq, `"`)
		if !ok {
			return 0, strconv.ErrSyntax
		}
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v < 1 {
		return 0, strconv.ErrSyntax
	}
	return v, nil
}
