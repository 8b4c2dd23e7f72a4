package app

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsEmptyStorageDirectory(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StorageDirectory = ""
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsNonPositiveMaxOutboundSize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxOutboundSize = 0
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsOversizedFragmentSize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxFragmentSize = 469
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsZeroTTL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TTLInitial = 0
	require.Error(t, cfg.Validate())
}

func TestToJSONFromJSONRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RPCURL = "https://api.mainnet-beta.solana.com"

	data, err := cfg.ToJSON()
	require.NoError(t, err)

	parsed, err := FromJSON(data)
	require.NoError(t, err)
	require.Equal(t, cfg.RPCURL, parsed.RPCURL)
	require.Equal(t, cfg.MaxFragmentSize, parsed.MaxFragmentSize)
}

func TestFromJSONFillsMissingFieldsFromDefaults(t *testing.T) {
	parsed, err := FromJSON([]byte(`{"rpc_url": "https://example.com"}`))
	require.NoError(t, err)
	require.Equal(t, "https://example.com", parsed.RPCURL)
	require.Equal(t, DefaultConfig().MaxFragmentSize, parsed.MaxFragmentSize)
}
