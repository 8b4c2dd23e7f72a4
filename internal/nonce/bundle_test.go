package nonce

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yourusername/meshrelay/internal/rpcclient"
)

func TestLoadFreshBundleWhenNoFileExists(t *testing.T) {
	dir := t.TempDir()
	client := rpcclient.NewMockSolanaClient()

	b, err := Load(dir, 5, client, nil)
	require.NoError(t, err)
	require.Equal(t, 5, b.MaxSize)
	require.Equal(t, 0, b.Len())
}

func TestPrepareBundleCreatesEntriesUpToDesiredCount(t *testing.T) {
	dir := t.TempDir()
	client := rpcclient.NewMockSolanaClient()

	b, err := Load(dir, 3, client, nil)
	require.NoError(t, err)

	_, err = b.PrepareBundle(context.Background(), 3, "payer-authority")
	require.NoError(t, err)
	require.Equal(t, 3, b.Len())
	require.Equal(t, 3, b.UnusedCount())
}

func TestPrepareBundlePersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()
	client := rpcclient.NewMockSolanaClient()

	b, err := Load(dir, 2, client, nil)
	require.NoError(t, err)
	_, err = b.PrepareBundle(context.Background(), 2, "payer")
	require.NoError(t, err)

	reloaded, err := Load(dir, 2, client, nil)
	require.NoError(t, err)
	require.Equal(t, 2, reloaded.Len())
}

func TestTakeUnusedFlipsUsedFlagAndPersists(t *testing.T) {
	dir := t.TempDir()
	client := rpcclient.NewMockSolanaClient()

	b, err := Load(dir, 1, client, nil)
	require.NoError(t, err)
	_, err = b.PrepareBundle(context.Background(), 1, "payer")
	require.NoError(t, err)

	entry, err := b.TakeUnused()
	require.NoError(t, err)
	require.True(t, entry.Used) // returned copy reflects state after the flip

	require.Equal(t, 0, b.UnusedCount())

	reloaded, err := Load(dir, 1, client, nil)
	require.NoError(t, err)
	require.Equal(t, 0, reloaded.UnusedCount())
}

func TestTakeUnusedErrorsWhenNoneAvailable(t *testing.T) {
	dir := t.TempDir()
	client := rpcclient.NewMockSolanaClient()
	b, err := Load(dir, 1, client, nil)
	require.NoError(t, err)

	_, err = b.TakeUnused()
	require.ErrorIs(t, err, ErrNoAvailableNonces)
}

func TestPeekUnusedDoesNotMutateOrPersist(t *testing.T) {
	dir := t.TempDir()
	client := rpcclient.NewMockSolanaClient()

	b, err := Load(dir, 1, client, nil)
	require.NoError(t, err)
	_, err = b.PrepareBundle(context.Background(), 1, "payer")
	require.NoError(t, err)

	entry, err := b.PeekUnused()
	require.NoError(t, err)
	require.False(t, entry.Used)
	require.Equal(t, 1, b.UnusedCount())

	reloaded, err := Load(dir, 1, client, nil)
	require.NoError(t, err)
	require.Equal(t, 1, reloaded.UnusedCount())
}

func TestPeekUnusedErrorsWhenNoneAvailable(t *testing.T) {
	dir := t.TempDir()
	client := rpcclient.NewMockSolanaClient()
	b, err := Load(dir, 1, client, nil)
	require.NoError(t, err)

	_, err = b.PeekUnused()
	require.ErrorIs(t, err, ErrNoAvailableNonces)
}

func TestMarkUsedFlipsFlagAndPersists(t *testing.T) {
	dir := t.TempDir()
	client := rpcclient.NewMockSolanaClient()
	b, err := Load(dir, 1, client, nil)
	require.NoError(t, err)
	_, err = b.PrepareBundle(context.Background(), 1, "payer")
	require.NoError(t, err)

	entry, err := b.PeekUnused()
	require.NoError(t, err)

	require.NoError(t, b.MarkUsed(entry.NonceAccount))
	require.Equal(t, 0, b.UnusedCount())

	reloaded, err := Load(dir, 1, client, nil)
	require.NoError(t, err)
	require.Equal(t, 0, reloaded.UnusedCount())
}

func TestMarkUsedUnknownAccountErrors(t *testing.T) {
	dir := t.TempDir()
	client := rpcclient.NewMockSolanaClient()
	b, err := Load(dir, 1, client, nil)
	require.NoError(t, err)

	require.Error(t, b.MarkUsed("does-not-exist"))
}

func TestMarkRefreshedClearsUsedFlag(t *testing.T) {
	dir := t.TempDir()
	client := rpcclient.NewMockSolanaClient()
	b, err := Load(dir, 1, client, nil)
	require.NoError(t, err)
	_, err = b.PrepareBundle(context.Background(), 1, "payer")
	require.NoError(t, err)

	entry, err := b.TakeUnused()
	require.NoError(t, err)

	require.NoError(t, b.MarkRefreshed(entry.NonceAccount, "new-durable-value"))
	require.Equal(t, 1, b.UnusedCount())
}

func TestPrepareBundleRefreshesUsedEntries(t *testing.T) {
	dir := t.TempDir()
	client := rpcclient.NewMockSolanaClient()
	b, err := Load(dir, 1, client, nil)
	require.NoError(t, err)
	_, err = b.PrepareBundle(context.Background(), 1, "payer")
	require.NoError(t, err)

	entry, err := b.TakeUnused()
	require.NoError(t, err)
	client.NonceValue[entry.NonceAccount] = "refreshed-value"

	_, err = b.PrepareBundle(context.Background(), 1, "payer")
	require.NoError(t, err)
	require.Equal(t, 1, b.UnusedCount())
}
