package txservice

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/meshrelay/internal/rpcclient"
)

// DefaultSubmitRetries bounds the service's own RPC-level retry loop, which
// is distinct from (and shallower than) the relay-level retry queue: it
// exists only to smooth over a transient RPC hiccup before the submission
// even reaches the durable queue (spec.md §4.I).
const DefaultSubmitRetries = 3

// Service is component I: construction, signature splicing, verification,
// compression, and submission, all grounded in CreateUnsigned/ApplySignature/
// VerifyAndSerialize/Compress/Decompress plus a pluggable RPC client.
type Service struct {
	client  rpcclient.Client
	log     *zap.Logger
	retries int
}

// NewService constructs a Service bound to client.
func NewService(client rpcclient.Client, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{client: client, log: log, retries: DefaultSubmitRetries}
}

// CreateUnsigned is a thin pass-through to the package-level builder, kept
// as a method so callers holding only a *Service (e.g. the engine) don't
// need a second import.
func (s *Service) CreateUnsigned(req TransferRequest) ([]byte, error) {
	return CreateUnsigned(req)
}

// MessageToSign is a thin pass-through to the package-level builder.
func (s *Service) MessageToSign(unsignedBytes []byte) ([]byte, error) {
	return MessageToSign(unsignedBytes)
}

// ApplySignature is a thin pass-through to the package-level builder.
func (s *Service) ApplySignature(unsignedBytes []byte, signerPubkey string, signature []byte) ([]byte, error) {
	return ApplySignature(unsignedBytes, signerPubkey, signature)
}

// VerifyAndSerialize is a thin pass-through to the package-level builder.
func (s *Service) VerifyAndSerialize(signedBytes []byte) ([]byte, error) {
	return VerifyAndSerialize(signedBytes)
}

// NonceAccountFromTx is a thin pass-through to the package-level builder.
func (s *Service) NonceAccountFromTx(txBytes []byte) (string, error) {
	return NonceAccountFromTx(txBytes)
}

// Submit sends signedBytes to the configured RPC endpoint, making up to
// s.retries attempts on any failure with a backoff of attempt x 250ms
// before surfacing an error the caller should hand to the relay-level retry
// queue instead.
func (s *Service) Submit(ctx context.Context, signedBytes []byte) (string, error) {
	encoded := base64.StdEncoding.EncodeToString(signedBytes)

	var lastErr error
	for attempt := 1; attempt <= s.retries; attempt++ {
		sig, err := s.client.SendTransaction(ctx, encoded)
		if err == nil {
			return sig, nil
		}
		lastErr = err
		s.log.Warn("transaction submission attempt failed",
			zap.Int("attempt", attempt), zap.Int("max_attempts", s.retries), zap.Error(err))

		if attempt < s.retries {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * 250 * time.Millisecond):
			}
		}
	}
	return "", fmt.Errorf("submit failed after %d attempts: %w", s.retries, lastErr)
}
