package relay

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReassemblyBufferCompletesAndInvokesCallback(t *testing.T) {
	f := NewFragmenter(8)
	payload := []byte("this is a longer payload than one fragment")
	frags, err := f.Fragment(payload)
	require.NoError(t, err)

	var mu sync.Mutex
	var gotTxID TxID
	var gotPayload []byte
	done := make(chan struct{})

	buf := NewReassemblyBuffer(f, nil, func(txID TxID, payload []byte) {
		mu.Lock()
		gotTxID = txID
		gotPayload = payload
		mu.Unlock()
		close(done)
	})

	for i, frag := range frags {
		if i == len(frags)-1 {
			continue
		}
		buf.AddFragment(frag)
	}
	require.Equal(t, 1, buf.Len())

	buf.AddFragment(frags[len(frags)-1])

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("onComplete was not invoked")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, frags[0].TxID, gotTxID)
	require.Equal(t, payload, gotPayload)
	require.Equal(t, 0, buf.Len())
}

func TestReassemblyBufferDropsInconsistentFragment(t *testing.T) {
	f := NewFragmenter(8)
	a, err := f.Fragment([]byte("aaaaaaaaaaaaaaaa"))
	require.NoError(t, err)

	buf := NewReassemblyBuffer(f, nil, nil)
	buf.AddFragment(a[0])
	require.Equal(t, 1, buf.Len())

	bogus := a[0]
	bogus.Total = a[0].Total + 5
	buf.AddFragment(bogus)

	require.Equal(t, 1, buf.Len())
}

func TestReassemblyBufferCleansUpStaleGroups(t *testing.T) {
	f := NewFragmenter(8)
	frags, err := f.Fragment([]byte("aaaaaaaaaaaaaaaaaaaaaaaaaa"))
	require.NoError(t, err)

	buf := NewReassemblyBuffer(f, nil, nil)
	buf.AddFragment(frags[0])
	require.Equal(t, 1, buf.Len())

	removed := buf.CleanupStaleFragments(-time.Second) // everything is "stale"
	require.Equal(t, 1, removed)
	require.Equal(t, 0, buf.Len())
}

func TestReassemblyBufferIntegrityFailureDoesNotInvokeCallback(t *testing.T) {
	f := NewFragmenter(8)
	frags, err := f.Fragment([]byte("aaaaaaaaaaaaaaaaaaaaaaaaaa"))
	require.NoError(t, err)

	called := false
	buf := NewReassemblyBuffer(f, nil, func(TxID, []byte) { called = true })

	tampered := append([]Fragment{}, frags...)
	tampered[0].Data = append([]byte{}, tampered[0].Data...)
	tampered[0].Data[0] ^= 0xFF
	for _, frag := range tampered {
		buf.AddFragment(frag)
	}

	require.False(t, called)
	require.Equal(t, 0, buf.Len()) // group is deleted even though it failed verification
}
