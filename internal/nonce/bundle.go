// Package nonce implements the durable-nonce bundle (spec.md §4.H): a
// persistent collection of one-time Solana nonce accounts that lets the
// transaction service build signed transactions without network access.
package nonce

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yourusername/meshrelay/internal/relay/storage"
)

const bundleFile = "nonce_bundle.json"

// DefaultMaxSize is the default bundle capacity.
const DefaultMaxSize = 10

// Entry is one slot in the nonce bundle.
type Entry struct {
	NonceAccount string    `json:"nonce_account"` // base58 pubkey of the nonce account
	Authority    string    `json:"authority"`      // base58 pubkey of the nonce authority
	Value        string    `json:"value"`          // base58 durable sequence value ("recent blockhash" substitute)
	FeeEstimate  uint64    `json:"fee_estimate"`
	CachedAt     time.Time `json:"cached_at"`
	Used         bool      `json:"used"`
}

// Chain is the minimal blockchain capability the bundle needs: reading a
// nonce account's current durable value, and creating new nonce accounts.
// Concrete implementations live in internal/rpcclient; this interface keeps
// the nonce package decoupled from any one RPC transport.
type Chain interface {
	GetNonceValue(ctx context.Context, nonceAccount string) (value string, feeEstimate uint64, err error)
	CreateNonceAccount(ctx context.Context, payerAuthority string) (nonceAccount, authority, value string, err error)
}

// Bundle is the persistent collection of prepared nonce entries.
type Bundle struct {
	mu        sync.Mutex
	CreatedAt time.Time `json:"created_at"`
	MaxSize   int       `json:"max_size"`
	Entries   []Entry   `json:"entries"`

	dir   string
	log   *zap.Logger
	chain Chain
}

type bundleFileShape struct {
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	MaxSize   int       `json:"max_size"`
	Entries   []Entry   `json:"entries"`
}

// Load reads an existing bundle from "<dir>/nonce_bundle.json", or starts a
// fresh one with the given max size if none is persisted yet. A corrupt
// file is logged and treated as a fresh bundle, matching the engine-wide
// rule that storage failures never abort startup.
func Load(dir string, maxSize int, chain Chain, log *zap.Logger) (*Bundle, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if log == nil {
		log = zap.NewNop()
	}

	var shape bundleFileShape
	ok, err := storage.ReadJSON(dir, bundleFile, &shape)
	if err != nil {
		log.Warn("nonce bundle file is corrupt, starting fresh", zap.Error(err))
		ok = false
	}

	b := &Bundle{dir: dir, log: log, chain: chain}
	if ok {
		b.CreatedAt = shape.CreatedAt
		b.MaxSize = shape.MaxSize
		b.Entries = shape.Entries
	} else {
		b.CreatedAt = time.Now()
		b.MaxSize = maxSize
		b.Entries = nil
	}
	return b, nil
}

func (b *Bundle) persistLocked() error {
	shape := bundleFileShape{Version: 1, CreatedAt: b.CreatedAt, MaxSize: b.MaxSize, Entries: b.Entries}
	return storage.WriteAtomicJSON(b.dir, bundleFile, shape)
}

// PrepareBundle refreshes every used entry (zero-cost on-chain reads) and
// tops the bundle up to desiredCount by creating new nonce accounts
// on-chain (a small fee each, signed by an external signer via the host —
// PrepareBundle itself only talks to Chain.CreateNonceAccount, which is
// expected to have already been signed and submitted by the time it
// returns). The updated bundle is persisted before it is returned.
func (b *Bundle) PrepareBundle(ctx context.Context, desiredCount int, payerAuthority string) (*Bundle, error) {
	b.mu.Lock()
	usedIdx := make([]int, 0)
	for i, e := range b.Entries {
		if e.Used {
			usedIdx = append(usedIdx, i)
		}
	}
	b.mu.Unlock()

	if len(usedIdx) > 0 {
		g, gctx := errgroup.WithContext(ctx)
		results := make([]Entry, len(usedIdx))
		for i, idx := range usedIdx {
			i, idx := i, idx
			g.Go(func() error {
				value, fee, err := b.chain.GetNonceValue(gctx, b.Entries[idx].NonceAccount)
				if err != nil {
					return fmt.Errorf("refresh nonce %s: %w", b.Entries[idx].NonceAccount, err)
				}
				e := b.Entries[idx]
				e.Value = value
				e.FeeEstimate = fee
				e.CachedAt = time.Now()
				e.Used = false
				results[i] = e
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		b.mu.Lock()
		for i, idx := range usedIdx {
			b.Entries[idx] = results[i]
		}
		b.mu.Unlock()
	}

	b.mu.Lock()
	total := len(b.Entries)
	b.mu.Unlock()

	if total < desiredCount {
		toCreate := desiredCount - total
		for i := 0; i < toCreate; i++ {
			account, authority, value, err := b.chain.CreateNonceAccount(ctx, payerAuthority)
			if err != nil {
				return nil, fmt.Errorf("create nonce account %d/%d: %w", i+1, toCreate, err)
			}
			b.mu.Lock()
			b.Entries = append(b.Entries, Entry{
				NonceAccount: account,
				Authority:    authority,
				Value:        value,
				CachedAt:     time.Now(),
				Used:         false,
			})
			b.mu.Unlock()
		}
	}

	b.mu.Lock()
	err := b.persistLocked()
	b.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("persist nonce bundle: %w", err)
	}
	return b, nil
}

// ErrNoAvailableNonces is returned by TakeUnused when every entry is used.
var ErrNoAvailableNonces = fmt.Errorf("no unused nonce entries available")

// TakeUnused returns a copy of the first unused entry, atomically flipping
// its Used flag and persisting before returning — the flip-then-save
// sequence executes under one lock acquisition so a crash between the two
// can never happen (spec.md §4.H invariant).
func (b *Bundle) TakeUnused() (Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.Entries {
		if !b.Entries[i].Used {
			b.Entries[i].Used = true
			if err := b.persistLocked(); err != nil {
				b.Entries[i].Used = false
				return Entry{}, fmt.Errorf("persist after taking nonce: %w", err)
			}
			return b.Entries[i], nil
		}
	}
	return Entry{}, ErrNoAvailableNonces
}

// PeekUnused returns a copy of the first unused entry without mutating or
// persisting anything (spec.md S6: create_unsigned reads a nonce's durable
// value but must not flip its used flag — that happens only at submission).
func (b *Bundle) PeekUnused() (Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.Entries {
		if !b.Entries[i].Used {
			return b.Entries[i], nil
		}
	}
	return Entry{}, ErrNoAvailableNonces
}

// MarkUsed flips accountID's used flag to true and persists the change
// under one lock acquisition, the counterpart to TakeUnused for callers
// that already picked an entry via PeekUnused and later need to seal it at
// submission time (spec.md §4.H, §3: "after submission ... the nonce that
// sealed it is marked used = true").
func (b *Bundle) MarkUsed(accountID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.Entries {
		if b.Entries[i].NonceAccount == accountID {
			if b.Entries[i].Used {
				return nil
			}
			b.Entries[i].Used = true
			if err := b.persistLocked(); err != nil {
				b.Entries[i].Used = false
				return fmt.Errorf("persist after marking nonce used: %w", err)
			}
			return nil
		}
	}
	return fmt.Errorf("nonce account %s not found in bundle", accountID)
}

// MarkRefreshed updates the stored sequence value for accountID and clears
// its used flag, persisting the change.
func (b *Bundle) MarkRefreshed(accountID, newValue string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.Entries {
		if b.Entries[i].NonceAccount == accountID {
			b.Entries[i].Value = newValue
			b.Entries[i].Used = false
			b.Entries[i].CachedAt = time.Now()
			return b.persistLocked()
		}
	}
	return fmt.Errorf("nonce account %s not found in bundle", accountID)
}

// Len returns the number of entries, for metrics.
func (b *Bundle) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.Entries)
}

// UnusedCount returns the number of entries with Used == false.
func (b *Bundle) UnusedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.Entries {
		if !e.Used {
			n++
		}
	}
	return n
}
