package http

import (
	"net/http"

	"github.com/aussiebroadwan/handshake/internal/handshake/domain"
	"github.com/aussiebroadwan/handshake/internal/handshake/service"
	"github.com/aussiebroadwan/handshake/pkg/slogx"
)

// RegistrationKeyHeader carries the credential minted by Stage 1.
const RegistrationKeyHeader = "X-Registration-Key"

// authenticate resolves the registration key of r. On success the request
// context is tagged with the applicant.
func authenticate(o *service.Orchestrator, r *http.Request) (*domain.Applicant, *http.Request, error) {
	a, err := o.Resolve(r.Context(), r.Header.Get(RegistrationKeyHeader))
	if err != nil {
		return nil, r, err
	}
	ctx := slogx.WithApplicant(r.Context(), a.ID, a.Stage.String())
	return &a, r.WithContext(ctx), nil
}
