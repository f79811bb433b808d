package idx_test

import (
	"testing"
	"time"

	"github.com/aussiebroadwan/shutter/pkg/idx"
	"github.com/stretchr/testify/require"
)

func TestNewAndParse(t *testing.T) {
	id := idx.New()
	require.Len(t, id.String(), 26)
	require.False(t, id.IsZero())

	parsed, err := idx.Parse(id.String())
	require.NoError(t, err)
	require.Equal(t, id, parsed)
}

func TestParseInvalid(t *testing.T) {
	for _, s := range []string{"", "nope", "01ARZ3NDEKTSV4RRFFQ69G5FA"} {
		_, err := idx.Parse(s)
		require.ErrorIs(t, err, idx.ErrInvalid, s)
	}
}

func TestMonotonicOrdering(t *testing.T) {
	at := time.Unix(1700000000, 0)
	prev := idx.NewAt(at)
	for range 100 {
		next := idx.NewAt(at)
		require.Less(t, prev.String(), next.String())
		prev = next
	}

	require.Less(t, idx.NewAt(time.Unix(1, 0)).String(), idx.NewAt(time.Unix(2, 0)).String())
}

func TestTime(t *testing.T) {
	tm := time.UnixMilli(1700000000123).UTC()
	require.Equal(t, tm, idx.NewAt(tm).Time())
	require.True(t, idx.Zero.Time().IsZero())
}
