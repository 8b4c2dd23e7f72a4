// Package rpcclient - Mock RPC client for testing
package rpcclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MockRPCClient is a mock implementation of RPCClient for testing.
type MockRPCClient struct {
	mu        sync.RWMutex
	responses map[string]interface{} // method -> response
	errors    map[string]error        // method -> error
	callCount map[string]int          // method -> call count
}

// NewMockRPCClient creates a new mock RPC client.
func NewMockRPCClient() *MockRPCClient {
	return &MockRPCClient{
		responses: make(map[string]interface{}),
		errors:    make(map[string]error),
		callCount: make(map[string]int),
	}
}

// Call executes an RPC method with the given parameters.
func (m *MockRPCClient) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Increment call count
	m.callCount[method]++

	// Check if error is configured
	if err, exists := m.errors[method]; exists {
		return nil, err
	}

	// Check if response is configured
	response, exists := m.responses[method]
	if !exists {
		return nil, fmt.Errorf("no mock response configured for method: %s", method)
	}

	// Marshal response to JSON
	data, err := json.Marshal(response)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal mock response: %w", err)
	}

	return json.RawMessage(data), nil
}

// SetResponse configures a mock response for a method.
func (m *MockRPCClient) SetResponse(method string, response interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.responses[method] = response
}

// SetError configures a mock error for a method.
func (m *MockRPCClient) SetError(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.errors[method] = err
}

// GetCallCount returns the number of times a method was called.
func (m *MockRPCClient) GetCallCount(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.callCount[method]
}

// Close closes the RPC client connection (no-op for mock).
func (m *MockRPCClient) Close() error {
	return nil
}

// Reset clears all mock configurations.
func (m *MockRPCClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.responses = make(map[string]interface{})
	m.errors = make(map[string]error)
	m.callCount = make(map[string]int)
}

// MockSolanaClient is a hand-configurable Client for exercising the nonce
// bundle and transaction service without a live validator. Unlike
// MockRPCClient it implements the domain interface directly, since tests
// for those packages reason about nonce accounts and signatures, not raw
// JSON-RPC method names.
type MockSolanaClient struct {
	mu sync.Mutex

	Accounts   map[string]AccountInfo
	Blockhash  string
	NonceValue map[string]string
	SendErr    error
	Signatures []string // Signature returned on each successive SendTransaction call, cycled
	sendCalls  int

	nextNonceSeq int
}

// NewMockSolanaClient returns an empty, ready-to-configure mock.
func NewMockSolanaClient() *MockSolanaClient {
	return &MockSolanaClient{
		Accounts:   make(map[string]AccountInfo),
		NonceValue: make(map[string]string),
		Blockhash:  "11111111111111111111111111111111",
	}
}

func (m *MockSolanaClient) GetAccount(ctx context.Context, pubkey string) (AccountInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.Accounts[pubkey]
	if !ok {
		return AccountInfo{}, fmt.Errorf("mock: account %s not found", pubkey)
	}
	return info, nil
}

func (m *MockSolanaClient) GetBlockhash(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Blockhash, nil
}

func (m *MockSolanaClient) CreateNonceAccount(ctx context.Context, payerAuthority string) (string, string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextNonceSeq++
	account := fmt.Sprintf("MockNonce%d11111111111111111111111111", m.nextNonceSeq)
	value := fmt.Sprintf("MockNonceValue%d", m.nextNonceSeq)
	m.NonceValue[account] = value
	return account, payerAuthority, value, nil
}

func (m *MockSolanaClient) GetNonceValue(ctx context.Context, nonceAccount string) (string, uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.NonceValue[nonceAccount]
	if !ok {
		return "", 0, fmt.Errorf("mock: nonce account %s not found", nonceAccount)
	}
	return value, 5000, nil
}

func (m *MockSolanaClient) SendTransaction(ctx context.Context, signedTxBase64 string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return "", m.SendErr
	}
	if len(m.Signatures) == 0 {
		return fmt.Sprintf("MockSignature%d", m.sendCalls), nil
	}
	sig := m.Signatures[m.sendCalls%len(m.Signatures)]
	m.sendCalls++
	return sig, nil
}
