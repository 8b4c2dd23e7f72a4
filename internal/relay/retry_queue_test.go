package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRetryQueuePopReadyRespectsNextRetryAt(t *testing.T) {
	q := NewRetryQueue(5, time.Hour, nil)
	item := &RetryItem{TxID: HashPayload([]byte("a")), Strategy: BackoffStrategy{Kind: BackoffFixed, Interval: time.Hour}}
	q.Push(item, "transient failure")

	require.Nil(t, q.PopReady(time.Now()))
	require.Equal(t, 1, q.Len())

	ready := q.PopReady(time.Now().Add(2 * time.Hour))
	require.NotNil(t, ready)
	require.Equal(t, 1, ready.AttemptCount)
	require.Equal(t, "transient failure", ready.LastError)
}

func TestRetryQueueExponentialBackoffSequence(t *testing.T) {
	strategy := BackoffStrategy{Kind: BackoffExponential, Base: 2 * time.Second}
	require.Equal(t, 2*time.Second, strategy.delayFor(1))
	require.Equal(t, 4*time.Second, strategy.delayFor(2))
	require.Equal(t, 8*time.Second, strategy.delayFor(3))
	require.Equal(t, 16*time.Second, strategy.delayFor(4))
}

func TestRetryQueueLinearAndFixedBackoff(t *testing.T) {
	linear := BackoffStrategy{Kind: BackoffLinear, Increment: 3 * time.Second}
	require.Equal(t, 9*time.Second, linear.delayFor(3))

	fixed := BackoffStrategy{Kind: BackoffFixed, Interval: 10 * time.Second}
	require.Equal(t, 10*time.Second, fixed.delayFor(5))
}

func TestRetryQueueShouldGiveUpOnAttemptCount(t *testing.T) {
	q := NewRetryQueue(2, time.Hour, nil)
	item := &RetryItem{TxID: HashPayload([]byte("a")), FirstAttemptAt: time.Now()}
	item.AttemptCount = 2
	require.True(t, q.ShouldGiveUp(item))
}

func TestRetryQueueShouldGiveUpOnMaxAge(t *testing.T) {
	q := NewRetryQueue(100, time.Millisecond, nil)
	item := &RetryItem{TxID: HashPayload([]byte("a")), FirstAttemptAt: time.Now().Add(-time.Hour)}
	require.True(t, q.ShouldGiveUp(item))
}

func TestRetryQueueReschedulingReplacesExistingEntry(t *testing.T) {
	q := NewRetryQueue(5, time.Hour, nil)
	txID := HashPayload([]byte("a"))
	item := &RetryItem{TxID: txID, Strategy: BackoffStrategy{Kind: BackoffFixed, Interval: time.Hour}}

	q.Push(item, "first failure")
	require.Equal(t, 1, q.Len())

	q.Push(item, "second failure")
	require.Equal(t, 1, q.Len())
	require.Equal(t, 2, item.AttemptCount)
	require.Equal(t, "second failure", item.LastError)
}

func TestRetryQueueNextRetryTime(t *testing.T) {
	q := NewRetryQueue(5, time.Hour, nil)
	_, ok := q.NextRetryTime()
	require.False(t, ok)

	item := &RetryItem{TxID: HashPayload([]byte("a")), Strategy: BackoffStrategy{Kind: BackoffFixed, Interval: time.Minute}}
	q.Push(item, "err")

	next, ok := q.NextRetryTime()
	require.True(t, ok)
	require.WithinDuration(t, time.Now().Add(time.Minute), next, 5*time.Second)
}

func TestRetryQueueRestoreOrdering(t *testing.T) {
	q := NewRetryQueue(5, time.Hour, nil)
	now := time.Now()
	items := []*RetryItem{
		{TxID: HashPayload([]byte("late")), NextRetryAt: now.Add(time.Hour)},
		{TxID: HashPayload([]byte("early")), NextRetryAt: now.Add(-time.Hour)},
	}
	q.Restore(items)

	ready := q.PopReady(now)
	require.NotNil(t, ready)
	require.Equal(t, HashPayload([]byte("early")), ready.TxID)
}
