package rpcclient

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMockRPCClientCallReturnsConfiguredResponse(t *testing.T) {
	client := NewMockRPCClient()
	client.SetResponse("getBalance", map[string]int{"value": 42})

	raw, err := client.Call(context.Background(), "getBalance", nil)
	require.NoError(t, err)
	require.JSONEq(t, `{"value":42}`, string(raw))
	require.Equal(t, 1, client.GetCallCount("getBalance"))
}

func TestMockRPCClientCallReturnsConfiguredError(t *testing.T) {
	client := NewMockRPCClient()
	client.SetError("getBalance", errors.New("rpc unavailable"))

	_, err := client.Call(context.Background(), "getBalance", nil)
	require.Error(t, err)
}

func TestMockRPCClientCallUnconfiguredMethodErrors(t *testing.T) {
	client := NewMockRPCClient()
	_, err := client.Call(context.Background(), "unknownMethod", nil)
	require.Error(t, err)
}

func TestMockRPCClientReset(t *testing.T) {
	client := NewMockRPCClient()
	client.SetResponse("m", 1)
	client.Call(context.Background(), "m", nil)
	client.Reset()

	require.Equal(t, 0, client.GetCallCount("m"))
	_, err := client.Call(context.Background(), "m", nil)
	require.Error(t, err)
}

func TestMockSolanaClientCreateAndFetchNonce(t *testing.T) {
	client := NewMockSolanaClient()
	account, authority, value, err := client.CreateNonceAccount(context.Background(), "payer")
	require.NoError(t, err)
	require.NotEmpty(t, account)
	require.Equal(t, "payer", authority)
	require.NotEmpty(t, value)

	gotValue, _, err := client.GetNonceValue(context.Background(), account)
	require.NoError(t, err)
	require.Equal(t, value, gotValue)
}

func TestMockSolanaClientSendTransactionCyclesSignatures(t *testing.T) {
	client := NewMockSolanaClient()
	client.Signatures = []string{"sigA", "sigB"}

	first, err := client.SendTransaction(context.Background(), "tx1")
	require.NoError(t, err)
	require.Equal(t, "sigA", first)

	second, err := client.SendTransaction(context.Background(), "tx2")
	require.NoError(t, err)
	require.Equal(t, "sigB", second)

	third, err := client.SendTransaction(context.Background(), "tx3")
	require.NoError(t, err)
	require.Equal(t, "sigA", third)
}
