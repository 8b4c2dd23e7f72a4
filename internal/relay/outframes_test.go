package relay

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOutFrameStreamPrioritizesOutboundThenConfirmationThenRelayed(t *testing.T) {
	s := newOutFrameStream()
	require.Equal(t, 0, s.len())

	s.pushRelayed([]byte("relayed"))
	s.pushConfirmation([]byte("confirmation"))
	s.pushOutbound([]byte("outbound"))
	require.Equal(t, 3, s.len())

	require.Equal(t, []byte("outbound"), s.pop())
	require.Equal(t, []byte("confirmation"), s.pop())
	require.Equal(t, []byte("relayed"), s.pop())
	require.Nil(t, s.pop())
}

func TestOutFrameStreamFIFOWithinLane(t *testing.T) {
	s := newOutFrameStream()
	s.pushOutbound([]byte("first"))
	s.pushOutbound([]byte("second"))

	require.Equal(t, []byte("first"), s.pop())
	require.Equal(t, []byte("second"), s.pop())
}
