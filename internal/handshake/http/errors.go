package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aussiebroadwan/handshake/internal/handshake/domain"
	"github.com/aussiebroadwan/handshake/internal/handshake/service"
	"github.com/aussiebroadwan/handshake/pkg/handshakesdk"
	"github.com/aussiebroadwan/handshake/pkg/httpx"
	"github.com/aussiebroadwan/handshake/pkg/obs"
	"github.com/aussiebroadwan/handshake/pkg/slogx"
)

// sentinels maps service errors onto their wire form. Order matters only
// for errors that wrap more than one sentinel.
var sentinels = []struct {
	err error
	sdk *handshakesdk.Error
}{
	{service.ErrInvalidCallback, handshakesdk.ErrInvalidCallback},
	{service.ErrInvalidRequest, handshakesdk.ErrInvalidRequest},
	{service.ErrInvalidAck, handshakesdk.ErrInvalidAck},
	{service.ErrRegistrationRequired, handshakesdk.ErrRegistrationRequired},
	{service.ErrSignatureInvalid, handshakesdk.ErrSignatureInvalid},
	{service.ErrStaleKey, handshakesdk.ErrStaleKey},
	{service.ErrTokenExpired, handshakesdk.ErrTokenExpired},
	{service.ErrInvalidUploadSignature, handshakesdk.ErrInvalidUploadSignature},
	{service.ErrChallengeExpired, handshakesdk.ErrChallengeExpired},
	{service.ErrNotFound, handshakesdk.ErrNotFound},
	{service.ErrUploadStalled, handshakesdk.ErrUploadStalled},
	{service.ErrStreamStalled, handshakesdk.ErrStreamStalled},
	{service.ErrIdempotencyConflict, handshakesdk.ErrIdempotencyConflict},
	{service.ErrOffsetMismatch, handshakesdk.ErrOffsetMismatch},
	{service.ErrAckMissing, handshakesdk.ErrAckMissing},
	{service.ErrStageMismatch, handshakesdk.ErrStageMismatch},
	{service.ErrPreconditionFailed, handshakesdk.ErrPreconditionFailed},
	{service.ErrUploadTooLarge, handshakesdk.ErrUploadTooLarge},
	{service.ErrChecksumMismatch, handshakesdk.ErrChecksumMismatch},
	{service.ErrCooldownActive, handshakesdk.ErrCooldownActive},
	{service.ErrPreconditionRequired, handshakesdk.ErrPreconditionRequired},
	{service.ErrRateLimited, handshakesdk.ErrRateLimited},
}

// toSDKError converts err into the error body the client sees. The second
// return is false for errors that are not part of the protocol.
func toSDKError(err error) (*handshakesdk.Error, bool) {
	var sdkErr *handshakesdk.Error
	if errors.As(err, &sdkErr) {
		return sdkErr, true
	}

	var out *handshakesdk.Error
	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			out = s.sdk
			if desc := describe(err, s.err); desc != "" {
				out = handshakesdk.NewError(s.sdk.Kind, desc)
			}
			break
		}
	}
	if out == nil {
		return handshakesdk.ErrServerError, false
	}

	var (
		retryErr   *service.RetryError
		versionErr *service.VersionError
		stageErr   *service.StageError
	)
	switch {
	case errors.As(err, &retryErr):
		out = out.WithRetryAfter(httpx.RetryAfterSeconds(retryErr.After))
	case errors.As(err, &versionErr):
		out = out.WithVersion(versionErr.Current)
	case errors.As(err, &stageErr):
		if stageErr.Failed {
			out = out.WithLinks(service.RecoveryLink(&domain.Failure{Stage: stageErr.Current}))
		} else {
			out = out.WithLinks(service.StageLink(stageErr.Current))
		}
	}
	return out, true
}

// describe strips the sentinel prefix from err, leaving the detail the
// service attached. It returns "" when there is none.
func describe(err, sentinel error) string {
	msg := err.Error()
	if msg == sentinel.Error() {
		return ""
	}
	if rest, ok := strings.CutPrefix(msg, sentinel.Error()+": "); ok {
		return rest
	}
	return ""
}

// errorWriter writes rejections. Each one is logged, audited and counted.
type errorWriter struct {
	Audit    *service.AuditTrail
	Metrics  *obs.Metrics
	ClientIP httpx.KeyExtractor
}

func (e *errorWriter) clientIP(r *http.Request) string {
	if e.ClientIP == nil {
		return httpx.IPKeyExtractor(r)
	}
	return e.ClientIP(r)
}

func (e *errorWriter) write(w http.ResponseWriter, r *http.Request, a *domain.Applicant, err error) {
	log := slogx.FromContext(r.Context())

	sdkErr, known := toSDKError(err)
	if !known {
		log.Error("request failed", slog.String("route", r.Pattern), slog.Any("error", err))
	} else {
		log.Info("request rejected", slog.String("kind", string(sdkErr.Kind)), slog.String("detail", sdkErr.Description))
	}

	if sdkErr.Kind == handshakesdk.KindRegistrationRequired {
		w.Header().Set("WWW-Authenticate", "Registration-Key")
	}

	if e != nil {
		ev := domain.AuditEvent{
			Kind:       string(sdkErr.Kind),
			Detail:     sdkErr.Description,
			Route:      r.Method + " " + r.URL.Path,
			RemoteAddr: e.clientIP(r),
		}
		if a != nil {
			ev.ApplicantID = a.ID
			ev.Stage = a.Stage
		}
		e.Audit.Record(r.Context(), ev)
		if e.Metrics != nil {
			e.Metrics.Rejection(string(sdkErr.Kind))
		}
	}

	sdkErr.WriteError(w)
}
