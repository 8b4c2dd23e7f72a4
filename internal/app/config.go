// Package app holds the relay engine's top-level configuration: everything
// a host supplies once at startup to construct an Engine (spec.md's ambient
// "Config" object referenced throughout §4 and §6).
package app

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config is the engine's startup configuration. A zero Config is invalid;
// always start from DefaultConfig and override only what the host needs to
// change.
type Config struct {
	Version   string    `json:"version"`
	CreatedAt time.Time `json:"created_at"`

	// RPCURL is the Solana JSON-RPC endpoint the transaction service and
	// nonce bundle submit to and read from.
	RPCURL string `json:"rpc_url"`

	// StorageDirectory is where the queue snapshots and the nonce bundle
	// file are persisted (spec.md §4.G, §4.H).
	StorageDirectory string `json:"storage_directory"`

	EnableLogging bool   `json:"enable_logging"`
	LogLevel      string `json:"log_level"` // "debug", "info", "warn", "error"

	MaxOutboundSize          int `json:"max_outbound_size"`
	MaxRetries               int `json:"max_retries"`
	RetryMaxAgeSeconds       int `json:"retry_max_age_seconds"`
	ReassemblyTimeoutSeconds int `json:"reassembly_timeout_seconds"`
	ConfirmationTTLSeconds   int `json:"confirmation_ttl_seconds"`
	MaxFragmentSize          int `json:"max_fragment_size"`
	TTLInitial               int `json:"ttl_initial"`
	MaxHopsConfirmation      int `json:"max_hops_confirmation"`
	AutoSaveDebounceSeconds  int `json:"auto_save_debounce_seconds"`

	NonceBundleSize int `json:"nonce_bundle_size"`
}

// DefaultConfig returns a Config populated with every default named across
// spec.md §3, §4, and §6.
func DefaultConfig() *Config {
	return &Config{
		Version:                  "1.0.0",
		CreatedAt:                time.Now(),
		StorageDirectory:         "./meshrelay-data",
		EnableLogging:            true,
		LogLevel:                 "info",
		MaxOutboundSize:          1000,
		MaxRetries:               5,
		RetryMaxAgeSeconds:       24 * 60 * 60,
		ReassemblyTimeoutSeconds: 5 * 60,
		ConfirmationTTLSeconds:   60 * 60,
		MaxFragmentSize:          468,
		TTLInitial:               7,
		MaxHopsConfirmation:      5,
		AutoSaveDebounceSeconds:  5,
		NonceBundleSize:          10,
	}
}

// Validate rejects configuration values that would make the engine unsafe
// to construct (zero or negative sizes, missing storage directory).
func (c *Config) Validate() error {
	if c.StorageDirectory == "" {
		return fmt.Errorf("storage_directory must not be empty")
	}
	if c.MaxOutboundSize <= 0 {
		return fmt.Errorf("max_outbound_size must be positive, got %d", c.MaxOutboundSize)
	}
	if c.MaxFragmentSize <= 0 || c.MaxFragmentSize > 468 {
		return fmt.Errorf("max_fragment_size must be in (0, 468], got %d", c.MaxFragmentSize)
	}
	if c.TTLInitial <= 0 {
		return fmt.Errorf("ttl_initial must be positive")
	}
	if c.NonceBundleSize <= 0 {
		return fmt.Errorf("nonce_bundle_size must be positive, got %d", c.NonceBundleSize)
	}
	return nil
}

// ToJSON serializes the Config to JSON.
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// FromJSON deserializes a Config from JSON, filling any field absent from
// data with DefaultConfig's value.
func FromJSON(data []byte) (*Config, error) {
	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, err
	}
	return config, nil
}
