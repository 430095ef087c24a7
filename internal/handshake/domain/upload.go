package domain

import "time"

// UploadResource is the only object an applicant may upload.
const UploadResource = "resume.zip"

// UploadStatus is the lifecycle of an upload session.
type UploadStatus string

const (
	UploadInProgress UploadStatus = "in-progress"
	UploadComplete   UploadStatus = "complete"
	UploadFailed     UploadStatus = "failed"
)

// UploadSession is a resumable, checksummed transfer. Offset is the
// contiguous high-water mark: bytes [0, Offset) have been received once.
type UploadSession struct {
	ID             string // UUID
	ApplicantID    string
	DeclaredSize   int64
	DeclaredSHA256 string // lowercase hex
	Offset         int64
	Status         UploadStatus
	SpoolPath      string // partial content on local disk
	BlobRef        string // final location once complete
	FailReason     string
	CreatedAt      time.Time
	LastChunkAt    time.Time
	TargetExpires  time.Time // pre-signed target expiry
	CompletedAt    *time.Time
}

// Remaining returns the number of bytes still owed.
func (u *UploadSession) Remaining() int64 { return u.DeclaredSize - u.Offset }

// Received reports whether an in-progress session holds every byte.
func (u *UploadSession) Received() bool {
	return u.Status == UploadInProgress && u.DeclaredSize > 0 && u.Offset == u.DeclaredSize
}

// Stalled reports whether no bytes arrived within grace before now.
func (u *UploadSession) Stalled(now time.Time, grace time.Duration) bool {
	return u.Status == UploadInProgress && now.Sub(u.LastChunkAt) > grace
}
