package http

import (
	"log/slog"
	"net/http"
	"time"

	"go.uber.org/atomic"

	"github.com/aussiebroadwan/handshake/internal/handshake/service"
	"github.com/aussiebroadwan/handshake/internal/handshake/store"
	"github.com/aussiebroadwan/handshake/pkg/httpx"
	"github.com/aussiebroadwan/handshake/pkg/jwtx"
	"github.com/aussiebroadwan/handshake/pkg/obs"
	"github.com/aussiebroadwan/handshake/pkg/slogx"

	_ "github.com/aussiebroadwan/handshake/api/handshake" // Swagger docs
	httpSwagger "github.com/swaggo/http-swagger"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	buildVersion string
	startTime    time.Time
	logger       *slog.Logger
	store        store.Store
	metrics      *obs.Metrics
	errors       *errorWriter

	Orchestrator *service.Orchestrator
	Profiles     *service.ProfileService
	Uploads      *service.UploadService
	Streams      *service.StreamHub
	Tokens       *service.TokenService
	Rotator      *jwtx.Rotator

	// TrustedProxies may name clients in forwarding headers. Set before
	// ApplyRoutes.
	TrustedProxies httpx.TrustedProxies

	// Draining is set during shutdown so /readyz reports 503 while
	// in-flight requests finish.
	Draining *atomic.Bool
}

func NewRouter(
	buildVersion string,
	st store.Store,
	audit *service.AuditTrail,
	metrics *obs.Metrics,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		buildVersion: buildVersion,
		startTime:    time.Now(),
		logger:       logger,
		store:        st,
		metrics:      metrics,
		errors:       &errorWriter{Audit: audit, Metrics: metrics},
		Draining:     atomic.NewBool(false),
	}

	// Set default middleware chain
	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}
	if metrics != nil {
		r.middlewares = append(r.middlewares, metrics.Instrument)
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.errors.ClientIP = r.TrustedProxies.ClientIP

	r.registerChallenge()
	r.registerProfile()
	r.registerUploads()
	r.registerEvents()
	r.registerToken()
	r.registerStatus()
	r.registerSystem()

	r.Mux.Handle("/swagger/", httpSwagger.Handler())
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
//
//	@title			Applicant Handshake API
//	@version		0.1.0
//	@description	Multi-stage trust handshake for remote applicants: callback challenge, registration key, idempotent profile writes, conditional updates, resumable upload, acknowledged event stream and rotating-key token acceptance.
//	@description
//	@description				Every success response carries a links array; follow the link whose rel is "next".
//
//	@contact.name				AussieBroadWAN Team
//	@contact.url				https://github.com/aussiebroadwan/handshake
//
//	@license.name				MIT
//	@license.url				https://opensource.org/licenses/MIT
//
//	@host						localhost:8080
//	@BasePath					/
//
//	@schemes					http https
//
//	@securityDefinitions.apikey	RegistrationKey
//	@in							header
//	@name						X-Registration-Key
//	@description				Registration key returned once by challenge verification.
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Acceptance token. Format: "Bearer {token}".
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerChallenge() {
	h := &ChallengeHandler{Orchestrator: r.Orchestrator, errors: r.errors}

	// Unauthenticated entry points - strict rate limit by IP
	r.Mux.Handle("POST /v1/init",
		httpx.Chain(http.HandlerFunc(h.HandleInit),
			httpx.RateLimitByIP(httpx.StrictLimit, r.TrustedProxies.ClientIP, r.rejectRateLimited),
		),
	)
	r.Mux.Handle("POST /v1/challenges/{id}/verify",
		httpx.Chain(http.HandlerFunc(h.HandleVerify),
			httpx.RateLimitByIP(httpx.StrictLimit, r.TrustedProxies.ClientIP, r.rejectRateLimited),
		),
	)
}

func (r *Router) registerProfile() {
	h := &ProfileHandler{
		Orchestrator: r.Orchestrator,
		Profiles:     r.Profiles,
		ClientIP:     r.TrustedProxies.ClientIP,
		errors:       r.errors,
	}

	r.Mux.Handle("POST /v1/profile",
		httpx.Chain(http.HandlerFunc(h.HandleCreate),
			httpx.RateLimitByIP(httpx.ModerateLimit, r.TrustedProxies.ClientIP, r.rejectRateLimited),
		),
	)
	r.Mux.Handle("GET /v1/profile",
		httpx.Chain(http.HandlerFunc(h.HandleGet),
			httpx.RateLimitByIP(httpx.ModerateLimit, r.TrustedProxies.ClientIP, r.rejectRateLimited),
		),
	)

	// The Stage 3 bucket is the only limit here; it is taken before
	// anything else is checked.
	r.Mux.HandleFunc("PATCH /v1/profile/{field}", h.HandlePatch)
}

func (r *Router) registerUploads() {
	h := &UploadHandler{
		Orchestrator: r.Orchestrator,
		Uploads:      r.Uploads,
		errors:       r.errors,
	}

	r.Mux.Handle("POST /v1/uploads",
		httpx.Chain(http.HandlerFunc(h.HandleCreate),
			httpx.RateLimitByIP(httpx.ModerateLimit, r.TrustedProxies.ClientIP, r.rejectRateLimited),
		),
	)
	r.Mux.Handle("GET /v1/uploads/{id}",
		httpx.Chain(http.HandlerFunc(h.HandleGet),
			httpx.RateLimitByIP(httpx.ModerateLimit, r.TrustedProxies.ClientIP, r.rejectRateLimited),
		),
	)

	// Pre-signed target - chunk PUTs arrive in quick succession
	r.Mux.Handle("PUT /v1/uploads/{id}",
		httpx.Chain(http.HandlerFunc(h.HandlePut),
			httpx.RateLimitByIP(httpx.UploadLimit, r.TrustedProxies.ClientIP, r.rejectRateLimited),
		),
	)
}

func (r *Router) registerEvents() {
	h := &EventsHandler{
		Orchestrator: r.Orchestrator,
		Streams:      r.Streams,
		errors:       r.errors,
	}

	r.Mux.Handle("GET /v1/events",
		httpx.Chain(http.HandlerFunc(h.HandleStream),
			httpx.RateLimitByIP(httpx.ModerateLimit, r.TrustedProxies.ClientIP, r.rejectRateLimited),
		),
	)
	r.Mux.Handle("POST /v1/ack",
		httpx.Chain(http.HandlerFunc(h.HandleAck),
			httpx.RateLimitByIP(httpx.ModerateLimit, r.TrustedProxies.ClientIP, r.rejectRateLimited),
		),
	)
}

func (r *Router) registerToken() {
	h := &TokenHandler{
		Orchestrator: r.Orchestrator,
		Tokens:       r.Tokens,
		errors:       r.errors,
	}

	r.Mux.Handle("POST /v1/token",
		httpx.Chain(http.HandlerFunc(h.HandleToken),
			httpx.RateLimitByIP(httpx.ModerateLimit, r.TrustedProxies.ClientIP, r.rejectRateLimited),
		),
	)
	r.Mux.Handle("POST /v1/accept",
		httpx.Chain(http.HandlerFunc(h.HandleAccept),
			httpx.RateLimitByIP(httpx.StrictLimit, r.TrustedProxies.ClientIP, r.rejectRateLimited),
		),
	)

	// GET /jwks.json - public endpoint with high limit
	r.Mux.Handle("GET /.well-known/jwks.json",
		httpx.Chain(JWKSHandler(r.Rotator, r.Orchestrator.Clock),
			httpx.RateLimitByIP(httpx.PublicLimit, r.TrustedProxies.ClientIP, nil),
		),
	)
}

func (r *Router) registerStatus() {
	h := &StatusHandler{Orchestrator: r.Orchestrator, errors: r.errors}

	r.Mux.Handle("GET /v1/status",
		httpx.Chain(http.HandlerFunc(h.HandleStatus),
			httpx.RateLimitByIP(httpx.ModerateLimit, r.TrustedProxies.ClientIP, r.rejectRateLimited),
		),
	)
	r.Mux.Handle("POST /v1/retry",
		httpx.Chain(http.HandlerFunc(h.HandleRetry),
			httpx.RateLimitByIP(httpx.StrictLimit, r.TrustedProxies.ClientIP, r.rejectRateLimited),
		),
	)
}

func (r *Router) registerSystem() {
	// Health check endpoints - public limits (monitoring systems may poll frequently)
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion),
			httpx.RateLimitByIP(httpx.PublicLimit, r.TrustedProxies.ClientIP, nil),
		),
	)
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.store, r.Rotator, r.Draining, r.Orchestrator.Clock),
			httpx.RateLimitByIP(httpx.PublicLimit, r.TrustedProxies.ClientIP, nil),
		),
	)
	if r.metrics != nil {
		r.Mux.Handle("GET /metrics", r.metrics.Handler())
	}
}

// rejectRateLimited writes a route-level 429 through the error writer so
// it is audited like any other rejection.
func (r *Router) rejectRateLimited(w http.ResponseWriter, req *http.Request, retryAfter time.Duration) {
	r.errors.write(w, req, nil, &service.RetryError{Err: service.ErrRateLimited, After: retryAfter})
}
