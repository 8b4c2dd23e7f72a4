package relay

import (
	"container/heap"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Defaults for the retry schedule (spec.md §3, §4.F, §6).
const (
	DefaultMaxRetryAttempts = 5
	DefaultRetryMaxAge      = 24 * time.Hour
	DefaultExponentialBase  = 2 * time.Second
)

// BackoffKind selects how RetryItem.NextRetryAt advances between attempts.
type BackoffKind int

const (
	BackoffExponential BackoffKind = iota
	BackoffLinear
	BackoffFixed
)

// BackoffStrategy parameterizes one of the three scheduling families of
// spec.md §4.F. Only the field matching Kind is read.
type BackoffStrategy struct {
	Kind     BackoffKind
	Base     time.Duration // Exponential: delay = Base * 2^(attempt-1)
	Increment time.Duration // Linear: delay = Increment * attempt
	Interval time.Duration // Fixed: delay = Interval
}

// DefaultBackoff is Exponential with a 2-second base, producing the 2, 4, 8,
// 16, 32, 64s sequence of spec.md §8 property 6.
func DefaultBackoff() BackoffStrategy {
	return BackoffStrategy{Kind: BackoffExponential, Base: DefaultExponentialBase}
}

// delayFor computes the scheduling delay for the given 1-indexed attempt.
func (s BackoffStrategy) delayFor(attempt int) time.Duration {
	switch s.Kind {
	case BackoffLinear:
		return s.Increment * time.Duration(attempt)
	case BackoffFixed:
		return s.Interval
	default: // BackoffExponential
		base := s.Base
		if base <= 0 {
			base = DefaultExponentialBase
		}
		delay := base
		for i := 1; i < attempt; i++ {
			delay *= 2
		}
		return delay
	}
}

// RetryItem is a payload scheduled for resubmission.
type RetryItem struct {
	TxID            TxID
	OriginalBytes   []byte
	AttemptCount    int
	LastError       string
	FirstAttemptAt  time.Time
	NextRetryAt     time.Time
	Strategy        BackoffStrategy
}

// retryHeapEntry is the container/heap element, ordered by NextRetryAt.
type retryHeapEntry struct {
	item  *RetryItem
	index int
}

type retryHeap []*retryHeapEntry

func (h retryHeap) Len() int { return len(h) }
func (h retryHeap) Less(i, j int) bool { return h[i].item.NextRetryAt.Before(h[j].item.NextRetryAt) }
func (h retryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *retryHeap) Push(x interface{}) {
	entry := x.(*retryHeapEntry)
	entry.index = len(*h)
	*h = append(*h, entry)
}
func (h *retryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return entry
}

// RetryQueue is the time-indexed set of component F: an ordered map from
// next_retry_instant to item, with O(log n) insertion and O(1) "is anything
// ready" queries via the minimum key.
type RetryQueue struct {
	mu          sync.Mutex
	heap        retryHeap
	byTxID      map[TxID]*retryHeapEntry
	maxRetries  int
	maxAge      time.Duration
	log         *zap.Logger
}

// NewRetryQueue constructs an empty RetryQueue.
func NewRetryQueue(maxRetries int, maxAge time.Duration, log *zap.Logger) *RetryQueue {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetryAttempts
	}
	if maxAge <= 0 {
		maxAge = DefaultRetryMaxAge
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RetryQueue{
		heap:       retryHeap{},
		byTxID:     make(map[TxID]*retryHeapEntry),
		maxRetries: maxRetries,
		maxAge:     maxAge,
		log:        log,
	}
}

// Push records the error, advances AttemptCount, computes NextRetryAt from
// the item's backoff strategy, and inserts (or re-schedules) the item. Time
// collisions are broken by nudging the key forward by one nanosecond until
// unique, so the heap ordering stays a strict total order.
func (q *RetryQueue) Push(item *RetryItem, errMsg string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if existing, ok := q.byTxID[item.TxID]; ok {
		q.removeLocked(existing)
	}

	item.LastError = errMsg
	item.AttemptCount++
	if item.FirstAttemptAt.IsZero() {
		item.FirstAttemptAt = time.Now()
	}
	if item.Strategy == (BackoffStrategy{}) {
		item.Strategy = DefaultBackoff()
	}

	next := time.Now().Add(item.Strategy.delayFor(item.AttemptCount))
	for q.keyTakenLocked(next) {
		next = next.Add(time.Nanosecond)
	}
	item.NextRetryAt = next

	entry := &retryHeapEntry{item: item}
	heap.Push(&q.heap, entry)
	q.byTxID[item.TxID] = entry

	q.log.Debug("retry scheduled", zap.String("tx_id", item.TxID.String()), zap.Int("attempt", item.AttemptCount), zap.Time("next_retry_at", next))
}

// PopReady returns and removes the minimum-keyed item iff its key is <= now,
// otherwise nil.
func (q *RetryQueue) PopReady(now time.Time) *RetryItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.heap) == 0 {
		return nil
	}
	if q.heap[0].item.NextRetryAt.After(now) {
		return nil
	}
	entry := heap.Pop(&q.heap).(*retryHeapEntry)
	delete(q.byTxID, entry.item.TxID)
	return entry.item
}

// NextRetryTime exposes the minimum key for the worker's timer, or the zero
// Time if the queue is empty.
func (q *RetryQueue) NextRetryTime() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.heap) == 0 {
		return time.Time{}, false
	}
	return q.heap[0].item.NextRetryAt, true
}

// ShouldGiveUp reports whether item has exhausted its retry budget: either
// attempt_count >= max_retries, or it has been in flight longer than
// max_age.
func (q *RetryQueue) ShouldGiveUp(item *RetryItem) bool {
	return item.AttemptCount >= q.maxRetries || time.Since(item.FirstAttemptAt) > q.maxAge
}

// Len returns the number of scheduled items.
func (q *RetryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// Items returns a snapshot of all scheduled items, for persistence.
func (q *RetryQueue) Items() []*RetryItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := make([]*RetryItem, len(q.heap))
	for i, entry := range q.heap {
		items[i] = entry.item
	}
	return items
}

// Restore replaces the queue's contents wholesale, used when loading from
// persistence.
func (q *RetryQueue) Restore(items []*RetryItem) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.heap = make(retryHeap, 0, len(items))
	q.byTxID = make(map[TxID]*retryHeapEntry, len(items))
	for _, item := range items {
		entry := &retryHeapEntry{item: item}
		q.heap = append(q.heap, entry)
		q.byTxID[item.TxID] = entry
	}
	heap.Init(&q.heap)
}

func (q *RetryQueue) keyTakenLocked(t time.Time) bool {
	for _, entry := range q.heap {
		if entry.item.NextRetryAt.Equal(t) {
			return true
		}
	}
	return false
}

func (q *RetryQueue) removeLocked(entry *retryHeapEntry) {
	heap.Remove(&q.heap, entry.index)
	delete(q.byTxID, entry.item.TxID)
}
