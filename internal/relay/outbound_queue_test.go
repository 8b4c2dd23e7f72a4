package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newOutboundItem(seed byte, prio Priority) *OutboundItem {
	return &OutboundItem{
		TxID:          HashPayload([]byte{seed}),
		OriginalBytes: []byte{seed},
		Priority:      prio,
		CreatedAt:     time.Now(),
	}
}

func TestOutboundQueueDrainsHighBeforeNormalBeforeLow(t *testing.T) {
	q := NewOutboundQueue(0, nil)
	low := newOutboundItem(1, PriorityLow)
	normal := newOutboundItem(2, PriorityNormal)
	high := newOutboundItem(3, PriorityHigh)

	require.NoError(t, q.Push(low))
	require.NoError(t, q.Push(normal))
	require.NoError(t, q.Push(high))

	require.Equal(t, high, q.Pop())
	require.Equal(t, normal, q.Pop())
	require.Equal(t, low, q.Pop())
	require.Nil(t, q.Pop())
}

func TestOutboundQueueRejectsDuplicate(t *testing.T) {
	q := NewOutboundQueue(0, nil)
	item := newOutboundItem(9, PriorityNormal)
	require.NoError(t, q.Push(item))
	err := q.Push(newOutboundItem(9, PriorityHigh))
	require.ErrorIs(t, err, ErrDuplicate)
}

func TestOutboundQueueEvictsOldestLowOnOverflow(t *testing.T) {
	q := NewOutboundQueue(2, nil)
	first := newOutboundItem(1, PriorityLow)
	second := newOutboundItem(2, PriorityLow)
	third := newOutboundItem(3, PriorityLow)

	require.NoError(t, q.Push(first))
	require.NoError(t, q.Push(second))
	require.NoError(t, q.Push(third)) // evicts first

	require.False(t, q.Contains(first.TxID))
	require.True(t, q.Contains(second.TxID))
	require.True(t, q.Contains(third.TxID))
	require.Equal(t, 2, q.Len())
}

func TestOutboundQueueFullWhenNothingToEvict(t *testing.T) {
	q := NewOutboundQueue(1, nil)
	require.NoError(t, q.Push(newOutboundItem(1, PriorityHigh)))
	err := q.Push(newOutboundItem(2, PriorityHigh))
	require.ErrorIs(t, err, ErrQueueFull)
}

func TestOutboundQueueCleanupStale(t *testing.T) {
	q := NewOutboundQueue(0, nil)
	item := newOutboundItem(5, PriorityNormal)
	item.CreatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, q.Push(item))

	removed := q.CleanupStale(time.Minute)
	require.Equal(t, 1, removed)
	require.Equal(t, 0, q.Len())
}

func TestOutboundQueueRestoreAndItems(t *testing.T) {
	q := NewOutboundQueue(0, nil)
	high := []*OutboundItem{newOutboundItem(1, PriorityHigh)}
	normal := []*OutboundItem{newOutboundItem(2, PriorityNormal)}
	low := []*OutboundItem{newOutboundItem(3, PriorityLow)}

	q.Restore(high, normal, low)
	gotHigh, gotNormal, gotLow := q.Items()
	require.Equal(t, high, gotHigh)
	require.Equal(t, normal, gotNormal)
	require.Equal(t, low, gotLow)
	require.True(t, q.Contains(high[0].TxID))
}
