package idx

import (
	"crypto/rand"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ID is a ULID, optionally carrying a short resource prefix ("app_01J...").
type ID string

// Zero represents the zero value ID, don't use this unless its a placeholder.
const Zero ID = ""

// Resource prefixes used across the service.
const (
	PrefixApplicant = "app"
	PrefixChallenge = "chl"
	PrefixAudit     = "aud"
	PrefixKey       = "key"
)

// ErrInvalid reports a malformed ID string.
var ErrInvalid = errors.New("idx: invalid id")

var (
	globalOnce sync.Once
	global     *generator
)

// generator hands out monotonic ULIDs; the entropy source is not safe for
// concurrent use so it sits behind a mutex.
type generator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func (g *generator) at(t time.Time) ulid.ULID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), g.entropy)
}

func gen() *generator {
	globalOnce.Do(func() {
		global = &generator{entropy: ulid.Monotonic(rand.Reader, 0)}
	})
	return global
}

// New returns an unprefixed ULID for the current UTC time.
func New() ID {
	return ID(gen().at(time.Now().UTC()).String())
}

// NewAt returns an unprefixed ULID stamped with t.
func NewAt(t time.Time) ID {
	return ID(gen().at(t.UTC()).String())
}

// NewWithPrefix returns "<prefix>_<ulid>".
func NewWithPrefix(prefix string) ID {
	return ID(prefix + "_" + gen().at(time.Now().UTC()).String())
}

// Parse validates s and returns it as an ID. A prefix, when present, must be
// one lowercase word followed by an underscore.
func Parse(s string) (ID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Zero, ErrInvalid
	}

	if _, err := ulid.ParseStrict(ulidPart(s)); err != nil {
		return Zero, ErrInvalid
	}
	return ID(s), nil
}

// ParseWithPrefix is Parse but also requires the given prefix.
func ParseWithPrefix(s, prefix string) (ID, error) {
	id, err := Parse(s)
	if err != nil {
		return Zero, err
	}
	if id.Prefix() != prefix {
		return Zero, ErrInvalid
	}
	return id, nil
}

// MustParse parses or panics. Useful for hard-coded IDs in tests.
func MustParse(s string) ID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

func ulidPart(s string) string {
	if i := strings.IndexByte(s, '_'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// IsZero reports whether id is the zero value.
func (id ID) IsZero() bool { return id == Zero }

// String returns the canonical string form.
func (id ID) String() string { return string(id) }

// Prefix returns the resource prefix, or "" for bare ULIDs.
func (id ID) Prefix() string {
	s := string(id)
	if i := strings.IndexByte(s, '_'); i >= 0 {
		return s[:i]
	}
	return ""
}

// Time extracts the embedded UTC timestamp from the ID. Invalid or zero IDs
// return the zero time.
func (id ID) Time() time.Time {
	if id.IsZero() {
		return time.Time{}
	}
	u, err := ulid.ParseStrict(ulidPart(string(id)))
	if err != nil {
		return time.Time{}
	}
	return ulid.Time(u.Time()).UTC()
}

// Compare orders a and b by their ULID component, so ids of the same
// resource sort by creation time.
func Compare(a, b ID) int {
	as, bs := ulidPart(string(a)), ulidPart(string(b))
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}
