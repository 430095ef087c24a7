package http

import (
	"net/http"

	"github.com/aussiebroadwan/handshake/internal/handshake/domain"
	"github.com/aussiebroadwan/handshake/internal/handshake/service"
	"github.com/aussiebroadwan/handshake/pkg/cryptox"
	"github.com/aussiebroadwan/handshake/pkg/handshakesdk"
	"github.com/aussiebroadwan/handshake/pkg/httpx"
)

// SignatureHeader carries the challenge HMAC, "sha256=<hex>".
const SignatureHeader = "X-Signature"

// ChallengeHandler serves Stage 0 and Stage 1.
type ChallengeHandler struct {
	Orchestrator *service.Orchestrator
	errors       *errorWriter
}

// HandleInit godoc
//
//	@Summary		Start a handshake
//	@Description	Admits an applicant and delivers an HMAC-signed challenge to its callback URL. The callback must be an absolute https URL.
//	@Tags			Challenge
//	@Accept			json
//	@Produce		json
//	@Param			request	body		handshakesdk.InitRequest	true	"Callback URL"
//	@Success		200		{object}	handshakesdk.InitResponse	"applicant and challenge ids"
//	@Failure		400		{object}	handshakesdk.Error			"InvalidCallback, InvalidRequest"
//	@Failure		423		{object}	handshakesdk.Error			"CooldownActive"
//	@Failure		429		{object}	handshakesdk.Error			"RateLimited"
//	@Router			/v1/init [post].
func (h *ChallengeHandler) HandleInit(w http.ResponseWriter, r *http.Request) {
	// 1. Decode the request
	body, err := httpx.ReadBody(r, httpx.MaxJSONBody)
	if err != nil {
		h.errors.write(w, r, nil, handshakesdk.ErrInvalidRequest)
		return
	}
	var req handshakesdk.InitRequest
	if err := httpx.DecodeJSON(body, &req); err != nil {
		h.errors.write(w, r, nil, handshakesdk.Errorf(handshakesdk.KindInvalidRequest, "invalid body: %v", err))
		return
	}

	// 2. Admit and issue
	res, err := h.Orchestrator.Init(r.Context(), req.CallbackURL)
	if err != nil {
		h.errors.write(w, r, nil, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, handshakesdk.InitResponse{
		ApplicantID: res.Applicant.ID,
		ChallengeID: res.Challenge.ID,
		Nonce:       res.Challenge.Nonce,
		ExpiresAt:   res.Challenge.ExpiresAt,
		Links:       handshakesdk.NextLink(http.MethodPost, "/v1/challenges/"+res.Challenge.ID+"/verify"),
	})
}

// HandleVerify godoc
//
//	@Summary		Answer a challenge
//	@Description	The applicant echoes the exact delivered body with the X-Signature it received. Success mints the registration key, which is returned only here.
//	@Tags			Challenge
//	@Accept			json
//	@Produce		json
//	@Param			id			path		string							true	"Challenge ID"
//	@Param			X-Signature	header		string							true	"sha256=<hex hmac>"
//	@Success		200			{object}	handshakesdk.VerifyResponse		"registration key"
//	@Failure		401			{object}	handshakesdk.Error				"SignatureInvalid"
//	@Failure		404			{object}	handshakesdk.Error				"ChallengeExpired"
//	@Failure		409			{object}	handshakesdk.Error				"StageMismatch"
//	@Router			/v1/challenges/{id}/verify [post].
func (h *ChallengeHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	body, err := httpx.ReadBody(r, httpx.MaxJSONBody)
	if err != nil {
		h.errors.write(w, r, nil, handshakesdk.ErrInvalidRequest)
		return
	}
	signature := r.Header.Get(SignatureHeader)
	if signature == "" {
		h.errors.write(w, r, nil, handshakesdk.Errorf(handshakesdk.KindSignatureInvalid, "%s header is required (%s<hex>)", SignatureHeader, cryptox.SignaturePrefix))
		return
	}

	res, err := h.Orchestrator.VerifyChallenge(r.Context(), r.PathValue("id"), signature, body)
	if err != nil {
		h.errors.write(w, r, nil, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, handshakesdk.VerifyResponse{
		ApplicantID:     res.ApplicantID,
		RegistrationKey: res.RegistrationKey,
		Stage:           res.Stage.String(),
		Links:           service.NextLinks(domain.Applicant{Stage: res.Stage}),
	})
}
