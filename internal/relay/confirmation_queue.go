package relay

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultConfirmationMaxSize bounds the confirmation FIFO.
const DefaultConfirmationMaxSize = 500

// DefaultMaxHopsConfirmation is the hop ceiling a confirmation may be
// relayed before it is dropped rather than forwarded.
const DefaultMaxHopsConfirmation = 5

// DefaultConfirmationTTL is how long a confirmation is allowed to live
// before it is dropped rather than forwarded (default 1 hour).
const DefaultConfirmationTTL = time.Hour

// ConfirmationStatus reports the outcome of a submission attempt.
type ConfirmationStatus struct {
	Success   bool
	Signature string // set iff Success
	ErrorMsg  string // set iff !Success
}

// Confirmation is relayed back toward a transaction's origin.
type Confirmation struct {
	TxID      TxID
	Status    ConfirmationStatus
	CreatedAt time.Time
	HopCount  uint8
}

// ConfirmationQueue is the FIFO of component E.
type ConfirmationQueue struct {
	mu       sync.Mutex
	items    []*Confirmation
	maxSize  int
	maxHops  uint8
	ttl      time.Duration
	log      *zap.Logger
}

// NewConfirmationQueue constructs an empty ConfirmationQueue.
func NewConfirmationQueue(maxSize int, maxHops uint8, ttl time.Duration, log *zap.Logger) *ConfirmationQueue {
	if maxSize <= 0 {
		maxSize = DefaultConfirmationMaxSize
	}
	if maxHops == 0 {
		maxHops = DefaultMaxHopsConfirmation
	}
	if ttl <= 0 {
		ttl = DefaultConfirmationTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ConfirmationQueue{maxSize: maxSize, maxHops: maxHops, ttl: ttl, log: log}
}

// Add appends a new confirmation. Silently drops the oldest entry if the
// queue is at capacity, since confirmations are best-effort relay traffic.
func (q *ConfirmationQueue) Add(txID TxID, status ConfirmationStatus) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.maxSize {
		q.items = q.items[1:]
	}
	q.items = append(q.items, &Confirmation{TxID: txID, Status: status, CreatedAt: time.Now()})
}

// Pop removes the head confirmation, incrementing its hop count. Returns nil
// if the resulting hop count exceeds max_hops or its age exceeds ttl — the
// confirmation is dropped before it would be sent, per spec.md §4.E.
func (q *ConfirmationQueue) Pop() *Confirmation {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	item := q.items[0]
	q.items = q.items[1:]

	item.HopCount++
	if item.HopCount > q.maxHops || time.Since(item.CreatedAt) > q.ttl {
		q.log.Debug("dropping expired confirmation before relay", zap.String("tx_id", item.TxID.String()))
		return nil
	}
	return item
}

// CleanupExpired removes items whose age exceeds ttl without popping them.
// Returns the count removed.
func (q *ConfirmationQueue) CleanupExpired() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.items[:0:0]
	removed := 0
	for _, item := range q.items {
		if time.Since(item.CreatedAt) > q.ttl {
			removed++
			continue
		}
		kept = append(kept, item)
	}
	q.items = kept
	return removed
}

// Len returns the number of queued confirmations.
func (q *ConfirmationQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Items returns a snapshot of all queued confirmations, for persistence.
func (q *ConfirmationQueue) Items() []*Confirmation {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*Confirmation(nil), q.items...)
}

// Restore replaces the queue's contents wholesale, used when loading from
// persistence.
func (q *ConfirmationQueue) Restore(items []*Confirmation) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = items
}
