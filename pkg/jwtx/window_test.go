package jwtx_test

import (
	"testing"
	"time"

	"github.com/aussiebroadwan/handshake/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

func win(kid string, fromMin, untilMin int) jwtx.KeyWindow {
	return jwtx.KeyWindow{
		Kid:        kid,
		ValidFrom:  t0.Add(time.Duration(fromMin) * time.Minute),
		ValidUntil: t0.Add(time.Duration(untilMin) * time.Minute),
	}
}

func kids(ws []jwtx.KeyWindow) []string {
	var out []string
	for _, w := range ws {
		out = append(out, w.Kid)
	}
	return out
}

func TestWindowContains(t *testing.T) {
	w := win("a", 0, 10)
	require.True(t, w.Contains(t0))
	require.True(t, w.Contains(t0.Add(10*time.Minute-time.Nanosecond)))
	require.False(t, w.Contains(t0.Add(10*time.Minute)), "upper bound is exclusive")
	require.False(t, w.Contains(t0.Add(-time.Second)))
	require.True(t, w.ClosedAt(t0.Add(10*time.Minute)))
}

func TestWindowSetCovering(t *testing.T) {
	var s jwtx.WindowSet
	// Inserted out of order on purpose.
	s.Insert(win("c", 16, 26))
	s.Insert(win("a", 0, 10))
	s.Insert(win("b", 8, 18))

	tests := []struct {
		at      int
		want    []string
		current string
	}{
		{at: 0, want: []string{"a"}, current: "a"},
		{at: 9, want: []string{"a", "b"}, current: "b"},
		{at: 10, want: []string{"b"}, current: "b"},
		{at: 17, want: []string{"b", "c"}, current: "c"},
		{at: 30, want: nil},
	}
	for _, tt := range tests {
		at := t0.Add(time.Duration(tt.at) * time.Minute)
		require.Equal(t, tt.want, kids(s.Covering(at)), "minute %d", tt.at)

		cur, ok := s.Current(at)
		require.Equal(t, tt.current != "", ok)
		require.Equal(t, tt.current, cur.Kid)
	}

	latest, ok := s.Latest()
	require.True(t, ok)
	require.Equal(t, "c", latest.Kid)

	dropped := s.Prune(t0.Add(18 * time.Minute))
	require.ElementsMatch(t, []string{"a", "b"}, dropped)
	require.Equal(t, 1, s.Len())
}

func TestWindowSetInsertReplaces(t *testing.T) {
	var s jwtx.WindowSet
	s.Insert(win("a", 0, 10))
	s.Insert(win("a", 5, 15))
	require.Equal(t, 1, s.Len())
	require.Equal(t, t0.Add(5*time.Minute), s.All()[0].ValidFrom)
}
