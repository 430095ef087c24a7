package domain

import "time"

// StreamCursor is the durable position of an applicant's event feed.
// Sequence numbers start at 1 and are gapless.
type StreamCursor struct {
	ApplicantID string
	NextSeq     int64 // next sequence to emit
	LastAcked   int64 // highest acknowledged sequence, 0 for none
	Generation  int64 // incremented on every (re)connect
	UpdatedAt   time.Time
}

// Produced returns the highest sequence emitted so far.
func (c StreamCursor) Produced() int64 { return c.NextSeq - 1 }

// Event is one item of the feed. Payload is a pure function of the
// applicant and sequence, so a replayed id always carries the same bytes.
type Event struct {
	ID      int64  `json:"id"`
	Kind    string `json:"kind"`
	Digest  string `json:"digest"`
	Batch   int64  `json:"batch"`
	Ordinal int64  `json:"ordinal"`
}
