package service

import (
	"net/http"

	"github.com/aussiebroadwan/handshake/internal/handshake/domain"
	"github.com/aussiebroadwan/handshake/pkg/handshakesdk"
)

// Route templates handed out as next links. Placeholders in braces are
// filled in by the client from the response it holds.
const (
	RouteInit    = "/v1/init"
	RouteVerify  = "/v1/challenges/{challengeId}/verify"
	RouteProfile = "/v1/profile"
	RouteField   = "/v1/profile/{field}"
	RouteUploads = "/v1/uploads"
	RouteUpload  = "/v1/uploads/{uploadId}"
	RouteEvents  = "/v1/events"
	RouteAck     = "/v1/ack"
	RouteToken   = "/v1/token"
	RouteAccept  = "/v1/accept"
	RouteStatus  = "/v1/status"
	RouteRetry   = "/v1/retry"
)

// StageLink returns the request that moves an applicant in stage forward.
func StageLink(stage domain.Stage) handshakesdk.Link {
	method, href := http.MethodGet, RouteStatus
	switch stage {
	case domain.StageInit:
		method, href = http.MethodPost, RouteInit
	case domain.StageChallengePending:
		method, href = http.MethodPost, RouteVerify
	case domain.StageRegistered:
		method, href = http.MethodPost, RouteProfile
	case domain.StageProfileDraft:
		method, href = http.MethodPatch, RouteField
	case domain.StageProfileLocked:
		method, href = http.MethodPost, RouteUploads
	case domain.StageUploading:
		method, href = http.MethodPut, RouteUpload
	case domain.StageStreaming:
		method, href = http.MethodGet, RouteEvents
	case domain.StageTokenPending:
		method, href = http.MethodPost, RouteAccept
	}
	return handshakesdk.Link{Rel: "next", Href: href, Method: method}
}

// RecoveryLink is the next link for an applicant whose failure cooldown
// has passed. A Stage 1 failure has no registration key and starts over
// through init.
func RecoveryLink(f *domain.Failure) handshakesdk.Link {
	if f != nil && f.Stage <= domain.StageChallengePending {
		return handshakesdk.Link{Rel: "next", Href: RouteInit, Method: http.MethodPost}
	}
	return handshakesdk.Link{Rel: "next", Href: RouteRetry, Method: http.MethodPost}
}

// NextLinks is the links block for a in its current state.
func NextLinks(a domain.Applicant) handshakesdk.Links {
	if a.Failure != nil {
		return handshakesdk.Links{Links: []handshakesdk.Link{RecoveryLink(a.Failure)}}
	}
	return handshakesdk.Links{Links: []handshakesdk.Link{StageLink(a.Stage)}}
}
