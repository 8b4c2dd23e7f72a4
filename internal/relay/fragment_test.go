package relay

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFragmenterRoundTrip(t *testing.T) {
	f := NewFragmenter(16)
	payload := bytes.Repeat([]byte{0xAB}, 50)

	frags, err := f.Fragment(payload)
	require.NoError(t, err)
	require.Len(t, frags, 4) // ceil(50/16)

	for i, frag := range frags {
		require.Equal(t, uint16(i), frag.Index)
		require.Equal(t, uint16(len(frags)), frag.Total)
	}

	out, err := f.Reassemble(frags)
	require.NoError(t, err)
	require.Equal(t, payload, out)
}

func TestFragmenterEmptyPayload(t *testing.T) {
	f := NewFragmenter(16)
	_, err := f.Fragment(nil)
	require.ErrorIs(t, err, ErrEmptyPayload)
}

func TestFragmenterDefaultsSize(t *testing.T) {
	f := NewFragmenter(0)
	require.Equal(t, MaxFragmentDataSize, f.maxFragmentSize)
}

func TestReassembleMissingFragment(t *testing.T) {
	f := NewFragmenter(16)
	frags, err := f.Fragment(bytes.Repeat([]byte{1}, 40))
	require.NoError(t, err)

	_, err = f.Reassemble(frags[:len(frags)-1])
	require.ErrorIs(t, err, ErrMissingFragments)
}

func TestReassembleInconsistentGroup(t *testing.T) {
	f := NewFragmenter(16)
	a, err := f.Fragment([]byte("aaaaaaaaaaaaaaaa"))
	require.NoError(t, err)
	b, err := f.Fragment([]byte("bbbbbbbbbbbbbbbb"))
	require.NoError(t, err)

	mixed := []Fragment{a[0], b[0]}
	_, err = f.Reassemble(mixed)
	require.ErrorIs(t, err, ErrInconsistentGroup)
}

func TestReassembleDuplicateFragmentsIgnored(t *testing.T) {
	f := NewFragmenter(16)
	payload := bytes.Repeat([]byte{7}, 20)
	frags, err := f.Fragment(payload)
	require.NoError(t, err)

	withDup := append(append([]Fragment{}, frags...), frags[0])
	out, err := f.Reassemble(withDup)
	require.NoError(t, err)
	require.Equal(t, payload, out)
}

func TestReassembleIntegrityMismatch(t *testing.T) {
	f := NewFragmenter(16)
	payload := bytes.Repeat([]byte{9}, 20)
	frags, err := f.Fragment(payload)
	require.NoError(t, err)

	tampered := append([]Fragment{}, frags...)
	tampered[0].Data = append([]byte{}, tampered[0].Data...)
	tampered[0].Data[0] ^= 0xFF

	_, err = f.Reassemble(tampered)
	require.ErrorIs(t, err, ErrIntegrityError)
}

func TestHashPayloadDeterministic(t *testing.T) {
	payload := []byte("same bytes every device")
	require.Equal(t, HashPayload(payload), HashPayload(payload))
}

func TestTxIDString(t *testing.T) {
	id := HashPayload([]byte("x"))
	require.Len(t, id.String(), 64)
}
