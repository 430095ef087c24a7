package http

import (
	"net/http"

	"github.com/aussiebroadwan/handshake/internal/handshake/service"
	"github.com/aussiebroadwan/handshake/pkg/httpx"
	"github.com/aussiebroadwan/handshake/pkg/jwtx"
)

// JWKSHandler exposes the public keys of every window that has not closed.
//
//	@Summary		Get JWKS
//	@Description	Returns the JSON Web Key Set used to verify acceptance tokens.
//	@Tags			well-known
//	@Produce		json
//	@Success		200	{object}	jwtx.JWKS	"The JSON Web Key Set"
//	@Router			/.well-known/jwks.json [get].
func JWKSHandler(rotator *jwtx.Rotator, clock service.Clock) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, rotator.PublicJWKS(clock.Now()))
	}
}
