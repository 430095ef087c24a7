package jwtx

import (
	"sort"
	"time"
)

// DefaultKeyWindow is how long a single kid may be used.
const DefaultKeyWindow = 10 * time.Minute

// KeyWindow is a verification key together with the half-open interval
// [ValidFrom, ValidUntil) in which tokens issued under it are honoured.
type KeyWindow struct {
	Kid        string
	Alg        string
	JWK        JWK
	ValidFrom  time.Time
	ValidUntil time.Time
}

// Contains reports whether t falls inside the window.
func (w KeyWindow) Contains(t time.Time) bool {
	return !t.Before(w.ValidFrom) && t.Before(w.ValidUntil)
}

// ClosedAt reports whether the window has fully closed at now.
func (w KeyWindow) ClosedAt(now time.Time) bool {
	return !now.Before(w.ValidUntil)
}

// WindowSet is the small ordered list of live key windows, sorted by
// ValidFrom. It is not safe for concurrent use; owners lock around it.
type WindowSet struct {
	windows []KeyWindow
}

// Insert adds or replaces w, keeping the set ordered.
func (s *WindowSet) Insert(w KeyWindow) {
	for i := range s.windows {
		if s.windows[i].Kid == w.Kid {
			s.windows[i] = w
			s.sort()
			return
		}
	}
	s.windows = append(s.windows, w)
	s.sort()
}

func (s *WindowSet) sort() {
	sort.SliceStable(s.windows, func(i, j int) bool {
		return s.windows[i].ValidFrom.Before(s.windows[j].ValidFrom)
	})
}

// Len returns the number of windows held.
func (s *WindowSet) Len() int { return len(s.windows) }

// All returns a copy of the windows in ValidFrom order.
func (s *WindowSet) All() []KeyWindow {
	return append([]KeyWindow(nil), s.windows...)
}

// Covering returns every window containing t, oldest first. Windows are
// sorted by ValidFrom so the search stops at the first window starting
// after t.
func (s *WindowSet) Covering(t time.Time) []KeyWindow {
	end := sort.Search(len(s.windows), func(i int) bool {
		return s.windows[i].ValidFrom.After(t)
	})

	var out []KeyWindow
	for _, w := range s.windows[:end] {
		if w.Contains(t) {
			out = append(out, w)
		}
	}
	return out
}

// Current returns the newest window containing t.
func (s *WindowSet) Current(t time.Time) (KeyWindow, bool) {
	covering := s.Covering(t)
	if len(covering) == 0 {
		return KeyWindow{}, false
	}
	return covering[len(covering)-1], true
}

// Latest returns the window with the greatest ValidFrom.
func (s *WindowSet) Latest() (KeyWindow, bool) {
	if len(s.windows) == 0 {
		return KeyWindow{}, false
	}
	return s.windows[len(s.windows)-1], true
}

// Prune drops windows closed at now and returns their kids.
func (s *WindowSet) Prune(now time.Time) []string {
	var dropped []string
	kept := s.windows[:0]
	for _, w := range s.windows {
		if w.ClosedAt(now) {
			dropped = append(dropped, w.Kid)
			continue
		}
		kept = append(kept, w)
	}
	s.windows = kept
	return dropped
}
