package http

import (
	"net/http"
	"time"

	"go.uber.org/atomic"

	"github.com/aussiebroadwan/handshake/internal/handshake/service"
	"github.com/aussiebroadwan/handshake/internal/handshake/store"
	"github.com/aussiebroadwan/handshake/pkg/handshakesdk"
	"github.com/aussiebroadwan/handshake/pkg/httpx"
	"github.com/aussiebroadwan/handshake/pkg/jwtx"
)

// ReadyzHandler godoc
//
//	@Summary		Readiness Check Endpoint
//	@Description	Readiness probe returning service health status and checks for critical dependencies
//	@Description	Reports the database, the signing key set and whether the server is draining
//	@Tags			Health
//	@Produce		json
//	@Success		200	{object}	handshakesdk.HealthResponse	"status, uptime, version, checks"
//	@Failure		503	{object}	handshakesdk.HealthResponse	"status, uptime, version, checks - service not ready"
//	@Router			/readyz [get].
func ReadyzHandler(
	startTime time.Time,
	version string,
	st store.Store,
	rotator *jwtx.Rotator,
	draining *atomic.Bool,
	clock service.Clock,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"signer":   "ok",
		}
		overallStatus := "ok"
		statusCode := http.StatusOK

		// Check database connectivity
		if err := st.Ping(r.Context()); err != nil {
			checks["database"] = "error: " + err.Error()
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		// A key must be able to sign right now
		if rotator == nil || !rotator.Ready(clock.Now()) {
			checks["signer"] = "error: no signing key for the current window"
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		if draining != nil && draining.Load() {
			checks["server"] = "draining"
			overallStatus = "draining"
			statusCode = http.StatusServiceUnavailable
		}

		httpx.WriteJSON(w, statusCode, handshakesdk.HealthResponse{
			Status:  overallStatus,
			Uptime:  time.Since(startTime).Round(time.Second).String(),
			Version: version,
			Checks:  checks,
		})
	}
}
