package txservice

import "context"

// Signer delegates a signature to the host, matching the engine-wide rule
// that this module never holds a private key (spec.md §1, §9 non-goals):
// hardware wallets, the OS keystore, or a mobile app's secure enclave sit on
// the other side of the FFI boundary and implement this interface.
type Signer interface {
	// Sign returns a raw 64-byte ed25519 signature over message, produced by
	// the key identified by pubkey.
	Sign(ctx context.Context, pubkey string, message []byte) ([]byte, error)
}
