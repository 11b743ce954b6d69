package ecmailbox

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestNextCounterCyclesOneToSeven checks the session-counter law spec.md
// §6 calls for: values 1..7 in order, 0 never issued, wrapping back to 1.
func TestNextCounterCyclesOneToSeven(t *testing.T) {
	m := &Mailbox{}

	want := []uint8{1, 2, 3, 4, 5, 6, 7, 1, 2, 3}
	for i, w := range want {
		got := m.nextCounter()
		require.NotZero(t, got, "counter %d issued reserved value 0", i)
		require.Equalf(t, w, got, "counter %d", i)
	}
}

func TestBuildMailboxHeaderRoundTrip(t *testing.T) {
	h := buildMailboxHeader(42, 5)
	length, mtype, counter, ok := parseMailboxHeader(h)
	require.True(t, ok)
	require.Equal(t, 42, length)
	require.EqualValues(t, TypeCoE, mtype)
	require.EqualValues(t, 5, counter)
}
