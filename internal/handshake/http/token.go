package http

import (
	"errors"
	"net/http"

	"github.com/aussiebroadwan/handshake/internal/handshake/service"
	"github.com/aussiebroadwan/handshake/pkg/handshakesdk"
	"github.com/aussiebroadwan/handshake/pkg/httpx"
	"github.com/aussiebroadwan/handshake/pkg/jwtx"
)

// TokenHandler serves Stage 6.
type TokenHandler struct {
	Orchestrator *service.Orchestrator
	Tokens       *service.TokenService
	errors       *errorWriter
}

// HandleToken godoc
//
//	@Summary		Reissue the acceptance token
//	@Description	Signs a fresh token with the current key, for applicants whose token expired or whose key window closed before acceptance.
//	@Tags			Token
//	@Produce		json
//	@Security		RegistrationKey
//	@Success		200	{object}	handshakesdk.TokenResponse	"fresh token"
//	@Failure		401	{object}	handshakesdk.Error			"RegistrationRequired"
//	@Failure		409	{object}	handshakesdk.Error			"StageMismatch"
//	@Router			/v1/token [post].
func (h *TokenHandler) HandleToken(w http.ResponseWriter, r *http.Request) {
	a, r, err := authenticate(h.Orchestrator, r)
	if err != nil {
		h.errors.write(w, r, nil, err)
		return
	}

	tok, err := h.Tokens.Reissue(r.Context(), a.ID)
	if err != nil {
		h.errors.write(w, r, a, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, handshakesdk.TokenResponse{
		Token:     tok.Token,
		TokenType: "Bearer",
		Kid:       tok.Kid,
		ExpiresAt: tok.ExpiresAt,
		Links:     handshakesdk.NextLink(http.MethodPost, service.RouteAccept),
	})
}

// HandleAccept godoc
//
//	@Summary		Present the acceptance token
//	@Description	Verifies the bearer token against the rotating key set and completes the handshake. Tokens signed by a closed key window fail with StaleKey; fetch a new one through POST /v1/token.
//	@Tags			Token
//	@Produce		json
//	@Security		RegistrationKey
//	@Security		BearerAuth
//	@Success		200	{object}	handshakesdk.AcceptResponse	"accepted"
//	@Failure		401	{object}	handshakesdk.Error			"SignatureInvalid, StaleKey, TokenExpired"
//	@Failure		409	{object}	handshakesdk.Error			"StageMismatch"
//	@Router			/v1/accept [post].
func (h *TokenHandler) HandleAccept(w http.ResponseWriter, r *http.Request) {
	a, r, err := authenticate(h.Orchestrator, r)
	if err != nil {
		h.errors.write(w, r, nil, err)
		return
	}

	bearer, ok := httpx.BearerToken(r)
	if !ok {
		httpx.WriteBearerChallenge(w, "invalid_request", "missing bearer token")
		h.errors.write(w, r, a, handshakesdk.Errorf(handshakesdk.KindSignatureInvalid, "Authorization: Bearer <token> is required"))
		return
	}

	res, err := h.Tokens.Accept(r.Context(), a.ID, bearer)
	if err != nil {
		if code, desc, bad := bearerChallenge(err); bad {
			httpx.WriteBearerChallenge(w, code, desc)
		}
		h.errors.write(w, r, a, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, handshakesdk.AcceptResponse{
		ApplicantID: res.Applicant.ID,
		Stage:       res.Applicant.Stage.String(),
		AcceptedAt:  res.AcceptedAt,
		Links:       handshakesdk.NextLink(http.MethodGet, service.RouteStatus),
	})
}

// bearerChallenge picks the RFC 6750 error for a rejected token.
func bearerChallenge(err error) (code, desc string, ok bool) {
	switch {
	case errors.Is(err, service.ErrTokenExpired), errors.Is(err, jwtx.ErrExpired):
		return "invalid_token", "token expired", true
	case errors.Is(err, service.ErrStaleKey):
		return "invalid_token", "signing key retired", true
	case errors.Is(err, service.ErrSignatureInvalid):
		return "invalid_token", "token rejected", true
	}
	return "", "", false
}
