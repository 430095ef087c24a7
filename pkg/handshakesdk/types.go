package handshakesdk

import "time"

// Link is a hypermedia control.
type Link struct {
	Rel    string `json:"rel"`
	Href   string `json:"href"`
	Method string `json:"method,omitempty"`
}

// Links is embedded in every success response.
type Links struct {
	Links []Link `json:"links"`
}

// Next returns the rel="next" link.
func (l Links) Next() (Link, bool) {
	for _, link := range l.Links {
		if link.Rel == "next" {
			return link, true
		}
	}
	return Link{}, false
}

// NextLink builds a one-element links list.
func NextLink(method, href string) Links {
	return Links{Links: []Link{{Rel: "next", Href: href, Method: method}}}
}

// InitRequest is the body of POST /v1/init.
type InitRequest struct {
	CallbackURL string `json:"callbackUrl"`
}

// InitResponse is returned by POST /v1/init.
type InitResponse struct {
	ApplicantID string    `json:"applicantId"`
	ChallengeID string    `json:"challengeId"`
	Nonce       string    `json:"nonce"`
	ExpiresAt   time.Time `json:"expiresAt"`
	Links
}

// VerifyResponse is returned once the challenge is answered. The
// registration key is shown only here.
type VerifyResponse struct {
	ApplicantID     string `json:"applicantId"`
	RegistrationKey string `json:"registrationKey"`
	Stage           string `json:"stage"`
	Links
}

// ProfileField is one versioned field.
type ProfileField struct {
	Name    string `json:"name"`
	Value   string `json:"value"`
	Version int64  `json:"version"`
}

// ProfileResponse is returned by POST and GET /v1/profile.
type ProfileResponse struct {
	ApplicantID string         `json:"applicantId"`
	Fields      []ProfileField `json:"fields"`
	Stage       string         `json:"stage"`
	Links
}

// PatchFieldRequest is the body of PATCH /v1/profile/{field}.
type PatchFieldRequest struct {
	Value string `json:"value"`
}

// PatchFieldResponse is returned by a successful conditional update.
type PatchFieldResponse struct {
	ProfileField
	Stage string `json:"stage"`
	Links
}

// UploadRequest is the body of POST /v1/uploads.
type UploadRequest struct {
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// UploadResponse describes an upload session and its pre-signed target.
type UploadResponse struct {
	UploadID  string    `json:"uploadId"`
	Resource  string    `json:"resource"`
	Size      int64     `json:"size"`
	Offset    int64     `json:"offset"`
	Status    string    `json:"status"`
	ExpiresAt time.Time `json:"expiresAt"`
	Links
}

// AckRequest is the body of POST /v1/ack.
type AckRequest struct {
	LastEventID int64 `json:"lastEventId"`
}

// AckResponse is returned by POST /v1/ack. Token is set once the final
// batch is acknowledged.
type AckResponse struct {
	Acked     int64  `json:"acked"`
	Remaining int64  `json:"remaining"`
	Stage     string `json:"stage"`
	Token     string `json:"token,omitempty"`
	Links
}

// TokenResponse carries the signed acceptance token.
type TokenResponse struct {
	Token     string    `json:"token"`
	TokenType string    `json:"tokenType"`
	Kid       string    `json:"kid"`
	ExpiresAt time.Time `json:"expiresAt"`
	Links
}

// AcceptResponse is returned by POST /v1/accept.
type AcceptResponse struct {
	ApplicantID string    `json:"applicantId"`
	Stage       string    `json:"stage"`
	AcceptedAt  time.Time `json:"acceptedAt"`
	Links
}

// Failure describes an outstanding stage failure.
type Failure struct {
	Stage         string    `json:"stage"`
	Reason        string    `json:"reason"`
	FailedAt      time.Time `json:"failedAt"`
	CooldownUntil time.Time `json:"cooldownUntil"`
}

// StatusResponse is returned by GET /v1/status and POST /v1/retry.
type StatusResponse struct {
	ApplicantID string   `json:"applicantId"`
	Stage       string   `json:"stage"`
	Terminal    bool     `json:"terminal"`
	Failure     *Failure `json:"failure,omitempty"`
	Links
}

// HealthResponse is returned by /livez and /readyz.
type HealthResponse struct {
	Status  string            `json:"status"`
	Uptime  string            `json:"uptime"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks,omitempty"`
}
