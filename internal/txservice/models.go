// Package txservice implements component I, the transaction construction
// primitives that assemble, sign (by delegation), verify, compress, and
// submit durable-nonce transactions (spec.md §4.I). Signing always happens
// off this package: callers hand signatures produced by an external signer
// (a hardware key, the host's keystore) back through ApplySignature.
package txservice

import (
	"github.com/yourusername/meshrelay/internal/nonce"
)

// TransferRequest is the input to CreateUnsigned: one SOL transfer funded by
// a durable nonce instead of a live blockhash.
type TransferRequest struct {
	SenderPubkey    string
	RecipientPubkey string
	LamportsAmount  uint64
	FeePayerPubkey  string
	NonceEntry      nonce.Entry
}
