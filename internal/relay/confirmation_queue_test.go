package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConfirmationQueuePopIncrementsHopCount(t *testing.T) {
	q := NewConfirmationQueue(0, 0, 0, nil)
	txID := HashPayload([]byte("tx"))
	q.Add(txID, ConfirmationStatus{Success: true, Signature: "sig"})

	conf := q.Pop()
	require.NotNil(t, conf)
	require.Equal(t, uint8(1), conf.HopCount)
	require.Nil(t, q.Pop())
}

func TestConfirmationQueueDropsOverMaxHops(t *testing.T) {
	q := NewConfirmationQueue(0, 1, time.Hour, nil)
	txID := HashPayload([]byte("tx"))
	q.Add(txID, ConfirmationStatus{Success: true})

	// First pop takes HopCount to 1, which is within maxHops 1 and returned.
	first := q.Pop()
	require.NotNil(t, first)

	q.Add(txID, ConfirmationStatus{Success: true})
	q.items[0].HopCount = 1 // simulate an already-relayed confirmation
	require.Nil(t, q.Pop())
}

func TestConfirmationQueueDropsExpired(t *testing.T) {
	q := NewConfirmationQueue(0, 0, time.Millisecond, nil)
	txID := HashPayload([]byte("tx"))
	q.Add(txID, ConfirmationStatus{Success: false, ErrorMsg: "boom"})
	time.Sleep(5 * time.Millisecond)

	require.Nil(t, q.Pop())
}

func TestConfirmationQueueCleanupExpired(t *testing.T) {
	q := NewConfirmationQueue(0, 0, time.Millisecond, nil)
	q.Add(HashPayload([]byte("a")), ConfirmationStatus{Success: true})
	time.Sleep(5 * time.Millisecond)

	removed := q.CleanupExpired()
	require.Equal(t, 1, removed)
	require.Equal(t, 0, q.Len())
}

func TestConfirmationQueueEvictsOldestAtCapacity(t *testing.T) {
	q := NewConfirmationQueue(1, 0, time.Hour, nil)
	first := HashPayload([]byte("a"))
	second := HashPayload([]byte("b"))

	q.Add(first, ConfirmationStatus{Success: true})
	q.Add(second, ConfirmationStatus{Success: true}) // evicts first

	require.Equal(t, 1, q.Len())
	items := q.Items()
	require.Equal(t, second, items[0].TxID)
}

func TestConfirmationQueueRestore(t *testing.T) {
	q := NewConfirmationQueue(0, 0, 0, nil)
	items := []*Confirmation{{TxID: HashPayload([]byte("x")), CreatedAt: time.Now()}}
	q.Restore(items)
	require.Equal(t, 1, q.Len())
}
