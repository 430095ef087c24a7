package idx_test

import (
	"testing"
	"time"

	"github.com/aussiebroadwan/handshake/pkg/idx"
	"github.com/stretchr/testify/require"
)

func TestNewAndParse(t *testing.T) {
	id := idx.New()
	require.NotEmpty(t, id.String())

	parsed, err := idx.Parse(id.String())
	require.NoError(t, err)
	require.Equal(t, id, parsed)
	require.False(t, id.IsZero())
	require.Empty(t, id.Prefix())
}

func TestPrefixed(t *testing.T) {
	id := idx.NewWithPrefix(idx.PrefixApplicant)
	require.Equal(t, "app", id.Prefix())

	_, err := idx.ParseWithPrefix(id.String(), idx.PrefixApplicant)
	require.NoError(t, err)

	// Right ULID, wrong resource
	_, err = idx.ParseWithPrefix(id.String(), idx.PrefixChallenge)
	require.ErrorIs(t, err, idx.ErrInvalid)
}

func TestParseRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "   ", "app_", "not-a-ulid", "chl_zzzz"} {
		_, err := idx.Parse(s)
		require.ErrorIs(t, err, idx.ErrInvalid, "input %q", s)
	}
}

func TestOrdering(t *testing.T) {
	a := idx.NewAt(time.Unix(1, 0).UTC())
	b := idx.NewAt(time.Unix(2, 0).UTC())

	require.Equal(t, -1, idx.Compare(a, b))
	require.Equal(t, 1, idx.Compare(b, a))
	require.Equal(t, 0, idx.Compare(a, a))
}

func TestTimeExtraction(t *testing.T) {
	tm := time.Unix(1700000000, 0).UTC()
	id := idx.NewAt(tm)

	require.WithinDuration(t, tm, id.Time(), time.Millisecond)
}

func TestMustParse(t *testing.T) {
	require.NotPanics(t, func() { idx.MustParse("01HQ7T3Z1MZ0JQ3M6MZQ1FQ3ZV") })
	require.Panics(t, func() { idx.MustParse("nope") })
}
