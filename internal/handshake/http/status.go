package http

import (
	"net/http"

	"github.com/aussiebroadwan/handshake/internal/handshake/domain"
	"github.com/aussiebroadwan/handshake/internal/handshake/service"
	"github.com/aussiebroadwan/handshake/pkg/handshakesdk"
	"github.com/aussiebroadwan/handshake/pkg/httpx"
)

// StatusHandler reports an applicant's position and reopens failed stages.
type StatusHandler struct {
	Orchestrator *service.Orchestrator
	errors       *errorWriter
}

// HandleStatus godoc
//
//	@Summary		Current stage
//	@Description	Returns the applicant's stage, any outstanding failure with its cooldown, and the next request to make.
//	@Tags			Status
//	@Produce		json
//	@Security		RegistrationKey
//	@Success		200	{object}	handshakesdk.StatusResponse	"stage and next link"
//	@Failure		401	{object}	handshakesdk.Error			"RegistrationRequired"
//	@Router			/v1/status [get].
func (h *StatusHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	a, r, err := authenticate(h.Orchestrator, r)
	if err != nil {
		h.errors.write(w, r, nil, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, statusResponse(*a))
}

// HandleRetry godoc
//
//	@Summary		Retry a failed stage
//	@Description	Discards everything the failed stage produced and resumes at its entry point once the cooldown has passed. A Stage 1 failure retries through POST /v1/init instead.
//	@Tags			Status
//	@Produce		json
//	@Security		RegistrationKey
//	@Success		200	{object}	handshakesdk.StatusResponse	"resumed stage"
//	@Failure		409	{object}	handshakesdk.Error			"StageMismatch"
//	@Failure		423	{object}	handshakesdk.Error			"CooldownActive"
//	@Router			/v1/retry [post].
func (h *StatusHandler) HandleRetry(w http.ResponseWriter, r *http.Request) {
	a, r, err := authenticate(h.Orchestrator, r)
	if err != nil {
		h.errors.write(w, r, nil, err)
		return
	}

	resumed, err := h.Orchestrator.Retry(r.Context(), r.Header.Get(RegistrationKeyHeader))
	if err != nil {
		h.errors.write(w, r, a, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, statusResponse(resumed))
}

func statusResponse(a domain.Applicant) handshakesdk.StatusResponse {
	resp := handshakesdk.StatusResponse{
		ApplicantID: a.ID,
		Stage:       a.Stage.String(),
		Terminal:    a.Terminal,
		Links:       service.NextLinks(a),
	}
	if f := a.Failure; f != nil {
		resp.Failure = &handshakesdk.Failure{
			Stage:         f.Stage.String(),
			Reason:        f.Reason,
			FailedAt:      f.FailedAt,
			CooldownUntil: f.CooldownUntil,
		}
	}
	return resp
}
