package httpx

import (
	"errors"
	"strconv"
	"strings"
)

// ErrContentRange reports a Content-Range header that cannot be used.
var ErrContentRange = errors.New("httpx: malformed Content-Range")

// ContentRange is a parsed request Content-Range. Start and End are
// inclusive. Query is set for "bytes */total", which carries no body and
// asks how much the server holds.
type ContentRange struct {
	Start int64
	End   int64
	Total int64
	Query bool
}

// Len is the number of bytes the range covers.
func (c ContentRange) Len() int64 {
	if c.Query {
		return 0
	}
	return c.End - c.Start + 1
}

// ParseContentRange parses "bytes a-b/total" and "bytes */total". The
// total must be known.
func ParseContentRange(h string) (ContentRange, error) {
	unit, spec, ok := strings.Cut(strings.TrimSpace(h), " ")
	if !ok || unit != "bytes" {
		return ContentRange{}, ErrContentRange
	}
	rng, totalStr, ok := strings.Cut(strings.TrimSpace(spec), "/")
	if !ok {
		return ContentRange{}, ErrContentRange
	}
	total, err := strconv.ParseInt(totalStr, 10, 64)
	if err != nil || total <= 0 {
		return ContentRange{}, ErrContentRange
	}
	if rng == "*" {
		return ContentRange{Total: total, Query: true}, nil
	}

	startStr, endStr, ok := strings.Cut(rng, "-")
	if !ok {
		return ContentRange{}, ErrContentRange
	}
	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return ContentRange{}, ErrContentRange
	}
	end, err := strconv.ParseInt(endStr, 10, 64)
	if err != nil || end < start || end >= total {
		return ContentRange{}, ErrContentRange
	}
	return ContentRange{Start: start, End: end, Total: total}, nil
}

// ResumeRange is the Range header of a resumable upload holding n bytes,
// "bytes=0-<n-1>", or "" when nothing has arrived yet.
func ResumeRange(n int64) string {
	if n <= 0 {
		return ""
	}
	return "bytes=0-" + strconv.FormatInt(n-1, 10)
}
