package rpcclient

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSolanaClientGetAccountDecodesValue(t *testing.T) {
	rpc := NewMockRPCClient()
	rpc.SetResponse("getAccountInfo", map[string]interface{}{
		"value": map[string]interface{}{
			"lamports": 2039280,
			"owner":    "11111111111111111111111111111111",
			"data":     []string{"", "base64"},
		},
	})
	client := NewSolanaClient(rpc)

	account, err := client.GetAccount(context.Background(), "somepubkey")
	require.NoError(t, err)
	require.Equal(t, uint64(2039280), account.Lamports)
	require.Equal(t, "11111111111111111111111111111111", account.Owner)
}

func TestSolanaClientGetAccountMissingValueErrors(t *testing.T) {
	rpc := NewMockRPCClient()
	rpc.SetResponse("getAccountInfo", map[string]interface{}{"value": nil})
	client := NewSolanaClient(rpc)

	_, err := client.GetAccount(context.Background(), "somepubkey")
	require.Error(t, err)
}

func TestSolanaClientGetAccountPropagatesTransportError(t *testing.T) {
	rpc := NewMockRPCClient()
	rpc.SetError("getAccountInfo", errors.New("connection refused"))
	client := NewSolanaClient(rpc)

	_, err := client.GetAccount(context.Background(), "somepubkey")
	require.Error(t, err)
}

func TestSolanaClientGetBlockhash(t *testing.T) {
	rpc := NewMockRPCClient()
	rpc.SetResponse("getLatestBlockhash", map[string]interface{}{
		"value": map[string]interface{}{"blockhash": "exampleBlockhash111"},
	})
	client := NewSolanaClient(rpc)

	hash, err := client.GetBlockhash(context.Background())
	require.NoError(t, err)
	require.Equal(t, "exampleBlockhash111", hash)
}

func TestSolanaClientSendTransactionReturnsSignature(t *testing.T) {
	rpc := NewMockRPCClient()
	rpc.SetResponse("sendTransaction", "5VERYfakeSignature")
	client := NewSolanaClient(rpc)

	sig, err := client.SendTransaction(context.Background(), "base64tx")
	require.NoError(t, err)
	require.Equal(t, "5VERYfakeSignature", sig)
}

func TestSolanaClientCreateNonceAccountIsUnsupported(t *testing.T) {
	rpc := NewMockRPCClient()
	client := NewSolanaClient(rpc)

	_, _, _, err := client.CreateNonceAccount(context.Background(), "payer")
	require.Error(t, err)
}

func TestSolanaClientGetNonceValueDerivesFromAccountData(t *testing.T) {
	rpc := NewMockRPCClient()
	rpc.SetResponse("getAccountInfo", map[string]interface{}{
		"value": map[string]interface{}{
			"lamports": 1000000,
			"owner":    "11111111111111111111111111111111",
			"data":     []string{"", "base64"},
		},
	})
	client := NewSolanaClient(rpc)

	value, fee, err := client.GetNonceValue(context.Background(), "nonceaccount")
	require.NoError(t, err)
	require.NotEmpty(t, value)
	require.Equal(t, uint64(5000), fee)
}
