package handshakesdk

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/aussiebroadwan/handshake/pkg/httpx"
)

// Kind is the machine-readable failure class of a rejected request.
type Kind string

const (
	KindInvalidCallback        Kind = "InvalidCallback"
	KindInvalidRequest         Kind = "InvalidRequest"
	KindInvalidAck             Kind = "InvalidAck"
	KindRegistrationRequired   Kind = "RegistrationRequired"
	KindSignatureInvalid       Kind = "SignatureInvalid"
	KindStaleKey               Kind = "StaleKey"
	KindTokenExpired           Kind = "TokenExpired"
	KindInvalidUploadSignature Kind = "InvalidUploadSignature"
	KindChallengeExpired       Kind = "ChallengeExpired"
	KindNotFound               Kind = "NotFound"
	KindUploadStalled          Kind = "UploadStalled"
	KindStreamStalled          Kind = "StreamStalled"
	KindIdempotencyConflict    Kind = "IdempotencyConflict"
	KindOffsetMismatch         Kind = "OffsetMismatch"
	KindAckMissing             Kind = "AckMissing"
	KindStageMismatch          Kind = "StageMismatch"
	KindPreconditionFailed     Kind = "PreconditionFailed"
	KindUploadTooLarge         Kind = "UploadTooLarge"
	KindChecksumMismatch       Kind = "ChecksumMismatch"
	KindCooldownActive         Kind = "CooldownActive"
	KindPreconditionRequired   Kind = "PreconditionRequired"
	KindRateLimited            Kind = "RateLimited"
	KindServerError            Kind = "ServerError"
)

var kindStatus = map[Kind]int{
	KindInvalidCallback:        http.StatusBadRequest,
	KindInvalidRequest:         http.StatusBadRequest,
	KindInvalidAck:             http.StatusBadRequest,
	KindRegistrationRequired:   http.StatusUnauthorized,
	KindSignatureInvalid:       http.StatusUnauthorized,
	KindStaleKey:               http.StatusUnauthorized,
	KindTokenExpired:           http.StatusUnauthorized,
	KindInvalidUploadSignature: http.StatusForbidden,
	KindChallengeExpired:       http.StatusNotFound,
	KindNotFound:               http.StatusNotFound,
	KindUploadStalled:          http.StatusRequestTimeout,
	KindStreamStalled:          http.StatusRequestTimeout,
	KindIdempotencyConflict:    http.StatusConflict,
	KindOffsetMismatch:         http.StatusConflict,
	KindAckMissing:             http.StatusConflict,
	KindStageMismatch:          http.StatusConflict,
	KindPreconditionFailed:     http.StatusPreconditionFailed,
	KindUploadTooLarge:         http.StatusRequestEntityTooLarge,
	KindChecksumMismatch:       http.StatusUnprocessableEntity,
	KindCooldownActive:         http.StatusLocked,
	KindPreconditionRequired:   http.StatusPreconditionRequired,
	KindRateLimited:            http.StatusTooManyRequests,
	KindServerError:            http.StatusInternalServerError,
}

// Status returns the HTTP status code for k. Unknown kinds are 500.
func (k Kind) Status() int {
	if code, ok := kindStatus[k]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// Error is a rejected request. It implements error, and the server writes
// it with WriteError.
type Error struct {
	// StatusCode is the HTTP status code for this error
	StatusCode int `json:"-"`

	// Kind is the failure class, e.g. "PreconditionFailed"
	Kind Kind `json:"error"`

	// Description is a human-readable description of the error
	Description string `json:"error_description"`

	// CurrentVersion is set on PreconditionFailed so the client can retry
	CurrentVersion *int64 `json:"current_version,omitempty"`

	// RetryAfter is sent as the Retry-After header, in seconds
	RetryAfter int `json:"-"`

	// Links point at the recovery route where one exists
	Links []Link `json:"links,omitempty"`
}

// NewError creates an Error with the status code implied by kind.
func NewError(kind Kind, description string) *Error {
	return &Error{StatusCode: kind.Status(), Kind: kind, Description: description}
}

// Errorf is NewError with a formatted description.
func Errorf(kind Kind, format string, args ...any) *Error {
	return NewError(kind, fmt.Sprintf(format, args...))
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Description)
}

// Is matches any *Error of the same Kind, so errors.Is(err, ErrStageMismatch)
// works regardless of description.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// WithVersion returns a copy carrying the current version.
func (e *Error) WithVersion(v int64) *Error {
	cp := *e
	cp.CurrentVersion = &v
	return &cp
}

// WithRetryAfter returns a copy carrying a Retry-After hint.
func (e *Error) WithRetryAfter(seconds int) *Error {
	cp := *e
	cp.RetryAfter = seconds
	return &cp
}

// WithLinks returns a copy carrying links.
func (e *Error) WithLinks(links ...Link) *Error {
	cp := *e
	cp.Links = links
	return &cp
}

// WriteError writes this Error to an HTTP response writer.
func (e *Error) WriteError(w http.ResponseWriter) {
	if e.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(e.RetryAfter))
	}
	status := e.StatusCode
	if status == 0 {
		status = e.Kind.Status()
	}
	httpx.WriteJSON(w, status, e)
}

// ParseError decodes an error body. It returns nil for 2xx and 3xx.
func ParseError(resp *http.Response, body []byte) error {
	if resp.StatusCode < 400 {
		return nil
	}
	e := &Error{}
	if err := json.Unmarshal(body, e); err != nil || e.Kind == "" {
		return &Error{
			StatusCode:  resp.StatusCode,
			Kind:        KindServerError,
			Description: fmt.Sprintf("unexpected response: %s", resp.Status),
		}
	}
	e.StatusCode = resp.StatusCode
	if ra, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
		e.RetryAfter = ra
	}
	return e
}

// Sentinels for errors.Is matching; descriptions are generic.
var (
	ErrInvalidCallback        = NewError(KindInvalidCallback, "callback must be an absolute https URL")
	ErrInvalidRequest         = NewError(KindInvalidRequest, "the request is malformed or missing required parameters")
	ErrInvalidAck             = NewError(KindInvalidAck, "acknowledgement does not match a delivered batch boundary")
	ErrRegistrationRequired   = NewError(KindRegistrationRequired, "a valid X-Registration-Key is required")
	ErrSignatureInvalid       = NewError(KindSignatureInvalid, "signature does not match")
	ErrStaleKey               = NewError(KindStaleKey, "the signing key window has closed")
	ErrTokenExpired           = NewError(KindTokenExpired, "the token has expired")
	ErrInvalidUploadSignature = NewError(KindInvalidUploadSignature, "upload target signature is invalid or expired")
	ErrChallengeExpired       = NewError(KindChallengeExpired, "challenge not found, expired or already used")
	ErrNotFound               = NewError(KindNotFound, "not found")
	ErrUploadStalled          = NewError(KindUploadStalled, "upload stalled and was discarded")
	ErrStreamStalled          = NewError(KindStreamStalled, "event stream stalled")
	ErrIdempotencyConflict    = NewError(KindIdempotencyConflict, "idempotency key reused with a different request")
	ErrOffsetMismatch         = NewError(KindOffsetMismatch, "chunk does not start at the current offset")
	ErrAckMissing             = NewError(KindAckMissing, "batch was not acknowledged in time")
	ErrStageMismatch          = NewError(KindStageMismatch, "request does not match the current stage")
	ErrPreconditionFailed     = NewError(KindPreconditionFailed, "version does not match")
	ErrUploadTooLarge         = NewError(KindUploadTooLarge, "upload exceeds the size limit")
	ErrChecksumMismatch       = NewError(KindChecksumMismatch, "content digest does not match the declared sha256")
	ErrCooldownActive         = NewError(KindCooldownActive, "stage failed; retry after the cooldown")
	ErrPreconditionRequired   = NewError(KindPreconditionRequired, "If-Match is required")
	ErrRateLimited            = NewError(KindRateLimited, "too many requests, please try again later")
	ErrServerError            = NewError(KindServerError, "internal server error")
)
