package relay

import (
	"context"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/meshrelay/internal/app"
	"github.com/yourusername/meshrelay/internal/rpcclient"
	"github.com/yourusername/meshrelay/internal/txservice"
)

// testTransferRequestForEngine prepares the engine's own nonce bundle with
// one entry via PrepareOfflineBundle (the path CreateUnsigned actually
// draws from — it never trusts a caller-supplied NonceEntry) and returns a
// TransferRequest for it, plus its sender key.
func testTransferRequestForEngine(t *testing.T, e *Engine) (txservice.TransferRequest, solana.PrivateKey) {
	t.Helper()

	sender, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	recipient, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)

	require.NoError(t, e.PrepareOfflineBundle(context.Background(), 1, sender.PublicKey().String()))

	return txservice.TransferRequest{
		SenderPubkey:    sender.PublicKey().String(),
		RecipientPubkey: recipient.PublicKey().String(),
		LamportsAmount:  1000,
		FeePayerPubkey:  sender.PublicKey().String(),
	}, sender
}

func testEngine(t *testing.T) (*Engine, *rpcclient.MockSolanaClient) {
	t.Helper()
	cfg := app.DefaultConfig()
	cfg.StorageDirectory = t.TempDir()
	cfg.AutoSaveDebounceSeconds = 0

	client := rpcclient.NewMockSolanaClient()
	client.Signatures = []string{"EngineTestSig"}

	e, err := NewEngine(cfg, client, nil)
	require.NoError(t, err)
	t.Cleanup(e.Shutdown)
	return e, client
}

func TestEngineQueueTransactionAssignsTxIDAndDedups(t *testing.T) {
	e, _ := testEngine(t)
	payload := []byte("a signed transaction payload")

	txID, err := e.QueueTransaction(payload, PriorityNormal)
	require.NoError(t, err)
	require.Equal(t, HashPayload(payload), txID)

	_, err = e.QueueTransaction(payload, PriorityNormal)
	require.ErrorIs(t, err, ErrDuplicate)
}

func TestEngineFragmentAndReassembleRoundTrip(t *testing.T) {
	e, _ := testEngine(t)
	payload := []byte("round trip payload for the pure fragment helper")

	frames, err := e.Fragment(payload)
	require.NoError(t, err)
	require.NotEmpty(t, frames)

	out, err := e.Reassemble(frames)
	require.NoError(t, err)
	require.Equal(t, payload, out)
}

func TestEnginePushInboundDropsDuplicateFrames(t *testing.T) {
	e, _ := testEngine(t)
	payload := []byte("inbound payload")

	frames, err := e.Fragment(payload)
	require.NoError(t, err)
	require.NoError(t, e.PushInbound(frames[0]))
	require.NoError(t, e.PushInbound(frames[0])) // duplicate, silently dropped
}

func TestEnginePushInboundRejectsMalformedFrame(t *testing.T) {
	e, _ := testEngine(t)
	err := e.PushInbound([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrMalformedEnvelope)
}

func TestEngineSubmitOfflineTransactionEndToEnd(t *testing.T) {
	e, _ := testEngine(t)

	req, sender := testTransferRequestForEngine(t, e)
	require.Equal(t, 1, e.CacheNonceAccounts())

	unsigned, err := e.CreateUnsigned(req)
	require.NoError(t, err)
	require.Equal(t, 1, e.CacheNonceAccounts(), "create_unsigned only reads the bundle, per S6 it must not flip used")

	msg, err := e.MessageToSign(unsigned)
	require.NoError(t, err)

	sig, err := sender.Sign(msg)
	require.NoError(t, err)

	signed, err := e.ApplySignature(unsigned, sender.PublicKey().String(), sig[:])
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	submittedSig, err := e.SubmitOfflineTransaction(ctx, signed)
	require.NoError(t, err)
	require.Equal(t, "EngineTestSig", submittedSig)
	require.Equal(t, 0, e.CacheNonceAccounts(), "submission must mark the nonce used")
}

func TestEngineMetricsAndHealthSnapshotsAreReadable(t *testing.T) {
	e, _ := testEngine(t)
	_, err := e.QueueTransaction([]byte("metrics payload"), PriorityHigh)
	require.NoError(t, err)

	snap := e.Metrics()
	require.Equal(t, int64(1), snap.TransactionsQueued)

	health := e.HealthSnapshot()
	require.Equal(t, 0, health.TotalPeers)
}

func TestEngineCacheNonceAccountsReflectsPreparedBundle(t *testing.T) {
	e, _ := testEngine(t)
	require.Equal(t, 0, e.CacheNonceAccounts())

	require.NoError(t, e.PrepareOfflineBundle(context.Background(), 2, "payer-authority"))
	require.Equal(t, 2, e.CacheNonceAccounts())
}
