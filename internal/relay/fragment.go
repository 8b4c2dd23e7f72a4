package relay

import (
	"encoding/hex"
	"fmt"
	"sort"

	"golang.org/x/crypto/blake2b"
)

// MaxFragmentDataSize is the default per-fragment payload ceiling. 468 bytes
// assumes an extended BLE MTU; hosts targeting an un-extended 512-byte MTU
// should configure MaxFragmentSize to 454 instead (spec.md §6).
const MaxFragmentDataSize = 468

// TxID is the 32-byte content hash of a fully signed, uncompressed
// transaction. It is the fragment group key, the outbound dedup key, and the
// confirmation correlation key.
type TxID [32]byte

// String renders the tx id as lowercase hex, the key form used by the
// outbound queue and the persisted queue files.
func (id TxID) String() string {
	return hex.EncodeToString(id[:])
}

// HashPayload computes the content hash of fully signed transaction bytes.
// BLAKE2b-256 is used in place of SHA-256 for its speed at this payload size.
func HashPayload(payload []byte) TxID {
	return TxID(blake2b.Sum256(payload))
}

// Fragment is one BLE-sized slice of a transaction's bytes. Fragments are
// immutable once produced; reassembly never mutates a stored Fragment.
type Fragment struct {
	TxID  TxID
	Index uint16
	Total uint16
	Data  []byte
}

// Fragmenter splits payloads into fragments sized to MaxFragmentSize and
// reassembles fragment sets back into verified payloads.
type Fragmenter struct {
	maxFragmentSize int
}

// NewFragmenter constructs a Fragmenter with the given per-fragment data
// ceiling. A zero or negative size falls back to MaxFragmentDataSize.
func NewFragmenter(maxFragmentSize int) *Fragmenter {
	if maxFragmentSize <= 0 {
		maxFragmentSize = MaxFragmentDataSize
	}
	return &Fragmenter{maxFragmentSize: maxFragmentSize}
}

// Fragment slices payload into ascending-index fragments sharing one content
// hash. Fails with ErrEmptyPayload for a zero-length payload.
func (f *Fragmenter) Fragment(payload []byte) ([]Fragment, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}

	txID := HashPayload(payload)
	total := (len(payload) + f.maxFragmentSize - 1) / f.maxFragmentSize
	if total > 0xFFFF {
		return nil, Wrap(ErrEmptyPayload, fmt.Errorf("payload requires %d fragments, exceeds u16 total", total))
	}

	fragments := make([]Fragment, 0, total)
	for i := 0; i < total; i++ {
		start := i * f.maxFragmentSize
		end := start + f.maxFragmentSize
		if end > len(payload) {
			end = len(payload)
		}
		chunk := make([]byte, end-start)
		copy(chunk, payload[start:end])

		fragments = append(fragments, Fragment{
			TxID:  txID,
			Index: uint16(i),
			Total: uint16(total),
			Data:  chunk,
		})
	}
	return fragments, nil
}

// Reassemble verifies a fragment set is complete and internally consistent,
// concatenates it in index order, and verifies the content hash. Duplicate
// fragments for the same index are deduplicated; extra fragments beyond the
// first seen for an index are ignored.
func (f *Fragmenter) Reassemble(fragments []Fragment) ([]byte, error) {
	if len(fragments) == 0 {
		return nil, ErrMissingFragments
	}

	txID := fragments[0].TxID
	total := fragments[0].Total
	byIndex := make(map[uint16]Fragment, total)
	for _, frag := range fragments {
		if frag.TxID != txID || frag.Total != total {
			return nil, ErrInconsistentGroup
		}
		if _, seen := byIndex[frag.Index]; !seen {
			byIndex[frag.Index] = frag
		}
	}

	missing := make([]uint16, 0)
	ordered := make([]Fragment, 0, total)
	for i := uint16(0); i < total; i++ {
		frag, ok := byIndex[i]
		if !ok {
			missing = append(missing, i)
			continue
		}
		ordered = append(ordered, frag)
	}
	if len(missing) > 0 {
		return nil, Wrap(ErrMissingFragments, fmt.Errorf("missing fragment indices: %v", missing))
	}

	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	size := 0
	for _, frag := range ordered {
		size += len(frag.Data)
	}
	payload := make([]byte, 0, size)
	for _, frag := range ordered {
		payload = append(payload, frag.Data...)
	}

	if HashPayload(payload) != txID {
		return nil, ErrIntegrityError
	}
	return payload, nil
}
