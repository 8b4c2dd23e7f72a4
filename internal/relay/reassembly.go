package relay

import (
	"sync"
	"time"

	"github.com/bits-and-blooms/bitset"
	"go.uber.org/zap"
)

// DefaultReassemblyTTL is how long an incomplete group is kept before
// cleanup_stale_fragments reclaims it (spec.md §3, default 5 min).
const DefaultReassemblyTTL = 5 * time.Minute

// reassemblyGroup is the local-only record aggregating fragments sharing a
// content hash. Never transmitted.
type reassemblyGroup struct {
	txID         TxID
	expectedTotal uint16
	received      map[uint16]Fragment
	seen          *bitset.BitSet
	firstSeen     time.Time
	lastUpdated   time.Time
}

func (g *reassemblyGroup) complete() bool {
	return uint16(g.seen.Count()) == g.expectedTotal
}

// ReassemblyBuffer groups incoming fragments by content hash, detects
// completion, verifies integrity, and expires stale groups.
type ReassemblyBuffer struct {
	mu         sync.Mutex
	groups     map[TxID]*reassemblyGroup
	fragmenter *Fragmenter
	log        *zap.Logger

	// onComplete is invoked with the verified payload once a group
	// completes. Called with the buffer's lock released.
	onComplete func(TxID, []byte)
}

// NewReassemblyBuffer constructs an empty buffer. onComplete may be nil, in
// which case completed groups are not reported; the engine passes its
// callback here at construction.
func NewReassemblyBuffer(fragmenter *Fragmenter, log *zap.Logger, onComplete func(TxID, []byte)) *ReassemblyBuffer {
	if log == nil {
		log = zap.NewNop()
	}
	return &ReassemblyBuffer{
		groups:     make(map[TxID]*reassemblyGroup),
		fragmenter: fragmenter,
		log:        log,
		onComplete: onComplete,
	}
}

// AddFragment locates or creates the fragment's group, stores it (idempotent
// for duplicates), and if the group is now complete, reassembles and
// verifies it, delivering the payload via onComplete and deleting the group.
// A fragment whose total or tx id disagrees with an existing group is
// dropped without corrupting the group.
func (b *ReassemblyBuffer) AddFragment(frag Fragment) {
	b.mu.Lock()

	group, ok := b.groups[frag.TxID]
	if !ok {
		group = &reassemblyGroup{
			txID:          frag.TxID,
			expectedTotal: frag.Total,
			received:      make(map[uint16]Fragment, frag.Total),
			seen:          bitset.New(uint(frag.Total)),
			firstSeen:     time.Now(),
		}
		b.groups[frag.TxID] = group
	}

	if frag.Total != group.expectedTotal || frag.TxID != group.txID {
		b.log.Warn("dropping fragment with inconsistent group metadata",
			zap.String("tx_id", frag.TxID.String()), zap.Uint16("total", frag.Total), zap.Uint16("expected_total", group.expectedTotal))
		b.mu.Unlock()
		return
	}

	group.received[frag.Index] = frag
	group.seen.Set(uint(frag.Index))
	group.lastUpdated = time.Now()

	if !group.complete() {
		b.mu.Unlock()
		return
	}

	ordered := make([]Fragment, 0, group.expectedTotal)
	for i := uint16(0); i < group.expectedTotal; i++ {
		ordered = append(ordered, group.received[i])
	}
	delete(b.groups, frag.TxID)
	b.mu.Unlock()

	payload, err := b.fragmenter.Reassemble(ordered)
	if err != nil {
		b.log.Warn("reassembly failed integrity check, transaction corrupted on wire",
			zap.String("tx_id", frag.TxID.String()), zap.Error(err))
		return
	}

	if b.onComplete != nil {
		b.onComplete(frag.TxID, payload)
	}
}

// CleanupStaleFragments removes groups whose age exceeds timeout. Returns
// the count removed, for the worker's CleanupDue handler.
func (b *ReassemblyBuffer) CleanupStaleFragments(timeout time.Duration) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	removed := 0
	var ages []time.Duration
	for txID, group := range b.groups {
		if now.Sub(group.firstSeen) > timeout {
			ages = append(ages, now.Sub(group.firstSeen))
			delete(b.groups, txID)
			removed++
		}
	}

	if removed > 0 {
		b.log.Info("cleaned up stale reassembly groups", zap.Int("count", removed), zap.Any("ages", ages))
	}
	return removed
}

// Len returns the number of in-progress groups, for metrics.
func (b *ReassemblyBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.groups)
}
