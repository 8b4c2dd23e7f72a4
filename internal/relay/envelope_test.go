package relay

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testEnvelope(data []byte) *Envelope {
	env := &Envelope{
		Version:  ProtocolVersion,
		Type:     PacketTxFragment,
		TTL:      8,
		HopCount: 0,
	}
	env.Sender[0] = 0xAA
	env.Fragment = Fragment{
		TxID:  HashPayload(data),
		Index: 0,
		Total: 1,
		Data:  data,
	}
	return env
}

func TestEnvelopeEncodeDecodeRoundTrip(t *testing.T) {
	env := testEnvelope([]byte("hello mesh"))
	frame, err := env.Encode()
	require.NoError(t, err)
	require.Len(t, frame, envelopeHeaderSize+len("hello mesh"))

	decoded, err := Decode(frame)
	require.NoError(t, err)
	require.Equal(t, env.Version, decoded.Version)
	require.Equal(t, env.Type, decoded.Type)
	require.Equal(t, env.Sender, decoded.Sender)
	require.Equal(t, env.TTL, decoded.TTL)
	require.Equal(t, env.Fragment.TxID, decoded.Fragment.TxID)
	require.Equal(t, env.Fragment.Data, decoded.Fragment.Data)
}

func TestEnvelopeEncodeRejectsOversizedFragment(t *testing.T) {
	env := testEnvelope(make([]byte, MaxFragmentDataSize+1))
	_, err := env.Encode()
	require.Error(t, err)
}

func TestDecodeRejectsShortFrame(t *testing.T) {
	_, err := Decode([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrMalformedEnvelope)
}

func TestDecodeRejectsUnsupportedVersion(t *testing.T) {
	env := testEnvelope([]byte("x"))
	frame, err := env.Encode()
	require.NoError(t, err)
	frame[0] = ProtocolVersion + 1

	_, err = Decode(frame)
	require.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestDecodeRejectsLengthMismatch(t *testing.T) {
	env := testEnvelope([]byte("x"))
	frame, err := env.Encode()
	require.NoError(t, err)

	truncated := frame[:len(frame)-1]
	_, err = Decode(truncated)
	require.ErrorIs(t, err, ErrMalformedEnvelope)
}

func TestEnvelopeRelayDecrementsTTLAndIncrementsHop(t *testing.T) {
	env := testEnvelope([]byte("x"))
	env.TTL = 2
	require.True(t, env.Relay())
	require.Equal(t, uint8(1), env.TTL)
	require.Equal(t, uint8(1), env.HopCount)

	require.False(t, env.Relay())
	require.Equal(t, uint8(0), env.TTL)
}

func TestEnvelopeRelayAlreadyZeroTTL(t *testing.T) {
	env := testEnvelope([]byte("x"))
	env.TTL = 0
	require.False(t, env.Relay())
	require.Equal(t, uint8(0), env.HopCount)
}
