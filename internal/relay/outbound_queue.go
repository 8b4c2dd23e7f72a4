package relay

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Priority is an outbound lane. Lanes are drained strictly high, then
// normal, then low (spec.md §4.C, §5).
type Priority int

const (
	PriorityHigh Priority = iota
	PriorityNormal
	PriorityLow
)

// DefaultMaxOutboundSize is the default overflow threshold across all three
// lanes combined.
const DefaultMaxOutboundSize = 1000

// DefaultMaxRetries is the per-item submission attempt ceiling recorded on
// OutboundItem (distinct from the retry queue's own max_retries).
const DefaultMaxRetries = 3

// OutboundItem is one payload awaiting transmission. Fragments are derived
// from OriginalBytes on demand and are never persisted (spec.md §3).
type OutboundItem struct {
	TxID          TxID
	OriginalBytes []byte
	Priority      Priority
	CreatedAt     time.Time
	RetryCount    int
	MaxRetries    int
}

// OutboundQueue is the three-lane priority queue of component C. pop is O(1);
// cleanup rebuilds the presence set in a single pass.
type OutboundQueue struct {
	mu      sync.RWMutex
	lanes   map[Priority][]*OutboundItem
	present map[TxID]struct{}
	maxSize int
	log     *zap.Logger
}

// NewOutboundQueue constructs an empty OutboundQueue with the given overflow
// threshold (0 selects DefaultMaxOutboundSize).
func NewOutboundQueue(maxSize int, log *zap.Logger) *OutboundQueue {
	if maxSize <= 0 {
		maxSize = DefaultMaxOutboundSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &OutboundQueue{
		lanes: map[Priority][]*OutboundItem{
			PriorityHigh:   {},
			PriorityNormal: {},
			PriorityLow:    {},
		},
		present: make(map[TxID]struct{}),
		maxSize: maxSize,
		log:     log,
	}
}

// Push appends item to its priority lane. Fails ErrDuplicate if the tx id is
// already present in any lane. If the queue is at capacity, evicts the
// oldest low-priority entry before rejecting with ErrQueueFull.
func (q *OutboundQueue) Push(item *OutboundItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.present[item.TxID]; exists {
		return ErrDuplicate
	}

	if q.sizeLocked() >= q.maxSize {
		if !q.evictOldestLowLocked() {
			return ErrQueueFull
		}
	}

	if item.MaxRetries == 0 {
		item.MaxRetries = DefaultMaxRetries
	}
	q.lanes[item.Priority] = append(q.lanes[item.Priority], item)
	q.present[item.TxID] = struct{}{}
	q.log.Debug("outbound push", zap.String("tx_id", item.TxID.String()), zap.Int("priority", int(item.Priority)))
	return nil
}

// Pop removes and returns the head of high, else normal, else low. Returns
// nil if all lanes are empty.
func (q *OutboundQueue) Pop() *OutboundItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, p := range []Priority{PriorityHigh, PriorityNormal, PriorityLow} {
		lane := q.lanes[p]
		if len(lane) == 0 {
			continue
		}
		item := lane[0]
		q.lanes[p] = lane[1:]
		delete(q.present, item.TxID)
		return item
	}
	return nil
}

// Peek returns the item Pop would return, without removing it.
func (q *OutboundQueue) Peek() *OutboundItem {
	q.mu.RLock()
	defer q.mu.RUnlock()

	for _, p := range []Priority{PriorityHigh, PriorityNormal, PriorityLow} {
		lane := q.lanes[p]
		if len(lane) > 0 {
			return lane[0]
		}
	}
	return nil
}

// Len returns the total number of items across all lanes.
func (q *OutboundQueue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.sizeLocked()
}

// Contains reports whether txID is present in any lane.
func (q *OutboundQueue) Contains(txID TxID) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	_, ok := q.present[txID]
	return ok
}

// Items returns a snapshot of every item across all lanes, high first, in
// lane order, for persistence.
func (q *OutboundQueue) Items() (high, normal, low []*OutboundItem) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return append([]*OutboundItem(nil), q.lanes[PriorityHigh]...),
		append([]*OutboundItem(nil), q.lanes[PriorityNormal]...),
		append([]*OutboundItem(nil), q.lanes[PriorityLow]...)
}

// Restore replaces the queue's contents wholesale, used when loading from
// persistence. It does not validate overflow thresholds against maxSize.
func (q *OutboundQueue) Restore(high, normal, low []*OutboundItem) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.lanes[PriorityHigh] = high
	q.lanes[PriorityNormal] = normal
	q.lanes[PriorityLow] = low
	q.present = make(map[TxID]struct{}, len(high)+len(normal)+len(low))
	for _, lane := range [][]*OutboundItem{high, normal, low} {
		for _, item := range lane {
			q.present[item.TxID] = struct{}{}
		}
	}
}

// CleanupStale removes entries older than threshold across all lanes and
// rebuilds the presence set in a single pass. Returns the number removed.
func (q *OutboundQueue) CleanupStale(threshold time.Duration) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	removed := 0
	newPresent := make(map[TxID]struct{}, len(q.present))

	for p, lane := range q.lanes {
		kept := lane[:0:0]
		for _, item := range lane {
			if now.Sub(item.CreatedAt) > threshold {
				removed++
				continue
			}
			kept = append(kept, item)
			newPresent[item.TxID] = struct{}{}
		}
		q.lanes[p] = kept
	}
	q.present = newPresent

	if removed > 0 {
		q.log.Warn("outbound cleanup removed stale entries", zap.Int("count", removed))
	}
	return removed
}

func (q *OutboundQueue) sizeLocked() int {
	return len(q.lanes[PriorityHigh]) + len(q.lanes[PriorityNormal]) + len(q.lanes[PriorityLow])
}

func (q *OutboundQueue) evictOldestLowLocked() bool {
	lane := q.lanes[PriorityLow]
	if len(lane) == 0 {
		return false
	}
	// Lanes are FIFO, so the oldest entry is always the head.
	evicted := lane[0]
	q.lanes[PriorityLow] = lane[1:]
	delete(q.present, evicted.TxID)
	q.log.Warn("outbound evicted oldest low-priority entry", zap.String("tx_id", evicted.TxID.String()))
	return true
}
