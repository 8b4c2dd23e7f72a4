package relay

import "testing"

import "github.com/stretchr/testify/require"

func TestPendingSubmissionQueueFIFO(t *testing.T) {
	q := newPendingSubmissionQueue()
	require.Equal(t, 0, q.len())

	idA := HashPayload([]byte("a"))
	idB := HashPayload([]byte("b"))
	q.push(idA, []byte("a"))
	q.push(idB, []byte("b"))
	require.Equal(t, 2, q.len())

	txID, payload, ok := q.pop()
	require.True(t, ok)
	require.Equal(t, idA, txID)
	require.Equal(t, []byte("a"), payload)

	txID, payload, ok = q.pop()
	require.True(t, ok)
	require.Equal(t, idB, txID)
	require.Equal(t, []byte("b"), payload)

	_, _, ok = q.pop()
	require.False(t, ok)
}
