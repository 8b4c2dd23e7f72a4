package main

/*
#include <stdlib.h>
*/
import "C"

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"go.uber.org/zap"

	"github.com/yourusername/meshrelay/internal/app"
	"github.com/yourusername/meshrelay/internal/relay"
	"github.com/yourusername/meshrelay/internal/rpcclient"
	"github.com/yourusername/meshrelay/internal/txservice"
)

// buildVersion is stamped at link time in a real release build; left as a
// constant here since this module has no release pipeline of its own.
const buildVersion = "1.0.0"

var (
	registryMu sync.Mutex
	registry   = make(map[int64]*relay.Engine)
	nextHandle int64
)

func registerEngine(e *relay.Engine) int64 {
	h := atomic.AddInt64(&nextHandle, 1)
	registryMu.Lock()
	registry[h] = e
	registryMu.Unlock()
	return h
}

func lookupEngine(handle int64) (*relay.Engine, bool) {
	registryMu.Lock()
	defer registryMu.Unlock()
	e, ok := registry[handle]
	return e, ok
}

func unregisterEngine(handle int64) (*relay.Engine, bool) {
	registryMu.Lock()
	defer registryMu.Unlock()
	e, ok := registry[handle]
	if ok {
		delete(registry, handle)
	}
	return e, ok
}

// withRecover converts a panic inside fn into an ERR_LIBRARY_PANIC response
// instead of crashing the host process. Every export wraps its body in this.
func withRecover(fn func() *FFIResponse) (resp *FFIResponse) {
	defer func() {
		if r := recover(); r != nil {
			debug.PrintStack()
			resp = NewErrorResponse(errCodeLibraryPanic, fmt.Sprintf("library panic: %v", r))
		}
	}()
	return fn()
}

//export GoFree
// GoFree releases a *C.char returned by any export in this file. The host
// MUST call this on every pointer it receives and must never call it twice
// on the same pointer.
func GoFree(ptr *C.char) {
	defer func() {
		if r := recover(); r != nil {
			debug.PrintStack()
		}
	}()
	if ptr != nil {
		C.free(unsafe.Pointer(ptr))
	}
}

//export GetVersion
// GetVersion reports the library version, useful for confirming the host
// has loaded a working shared library before calling Init.
func GetVersion() *C.char {
	resp := NewSuccessResponse(map[string]interface{}{
		"version":   buildVersion,
		"goVersion": runtimeVersion(),
	})
	return C.CString(toJSON(resp))
}

//export Init
// Init constructs one Engine from a JSON app.Config (absent fields take
// app.DefaultConfig's value) and an RPC endpoint list, starts its worker,
// and returns an opaque handle for every other export to address it by.
//
// Input JSON: {"config": {...app.Config fields...}, "rpc_endpoints": ["https://..."]}
// Output JSON: {"handle": 1}
func Init(params *C.char) *C.char {
	return C.CString(toJSON(withRecover(func() *FFIResponse {
		var input struct {
			Config       json.RawMessage `json:"config"`
			RPCEndpoints []string        `json:"rpc_endpoints"`
		}
		if err := json.Unmarshal([]byte(C.GoString(params)), &input); err != nil {
			return NewErrorResponse(errCodeInvalidInput, fmt.Sprintf("invalid init request: %v", err))
		}
		if len(input.RPCEndpoints) == 0 {
			return NewErrorResponse(errCodeInvalidInput, "rpc_endpoints must contain at least one endpoint")
		}

		cfg := app.DefaultConfig()
		if len(input.Config) > 0 {
			var err error
			cfg, err = app.FromJSON(input.Config)
			if err != nil {
				return NewErrorResponse(errCodeInvalidInput, fmt.Sprintf("invalid config: %v", err))
			}
		}

		zapCfg := zap.NewProductionConfig()
		if lvl, err := zap.ParseAtomicLevel(cfg.LogLevel); err == nil {
			zapCfg.Level = lvl
		}
		log, err := zapCfg.Build()
		if err != nil || !cfg.EnableLogging {
			log = zap.NewNop()
		}

		healthTracker := rpcclient.NewSimpleHealthTracker()
		httpClient, err := rpcclient.NewHTTPRPCClient(input.RPCEndpoints, defaultFFIRPCTimeout, healthTracker)
		if err != nil {
			return NewErrorResponse(errCodeInvalidInput, fmt.Sprintf("construct rpc client: %v", err))
		}
		solanaClient := solanaClientFactory(httpClient)

		engine, err := relay.NewEngine(cfg, solanaClient, log)
		if err != nil {
			return NewErrorResponseFromErr(err)
		}

		handle := registerEngine(engine)
		return NewSuccessResponse(map[string]interface{}{"handle": handle})
	})))
}

const defaultFFIRPCTimeout = 15 * time.Second

// solanaClientFactory builds the Client every Init call wraps httpClient in.
// It defaults to the bare rpcclient.NewSolanaClient, whose CreateNonceAccount
// is a permanent stub (minting a nonce account needs a signing keypair, and
// signing always happens off-engine). A cgo host has no way to hand this
// library a function pointer across the C ABI, so the injection point lives
// here instead. This package is package main and cannot be imported, so only
// code compiled into it (such as a _test.go file in this directory) can call
// SetSolanaClientFactory before Init to supply a Client whose
// CreateNonceAccount is wired to real signing.
var solanaClientFactory = func(httpClient rpcclient.RPCClient) rpcclient.Client {
	return rpcclient.NewSolanaClient(httpClient)
}

// SetSolanaClientFactory overrides the Client every subsequent Init call
// constructs its engine with. Not exported across the cgo boundary: only a
// Go-level caller linking this package directly can call it.
func SetSolanaClientFactory(factory func(rpcclient.RPCClient) rpcclient.Client) {
	solanaClientFactory = factory
}

//export Shutdown
// Shutdown stops the worker, forces a final persistence save, and releases
// handle. handle is no longer valid after this call returns.
func Shutdown(handle C.longlong) *C.char {
	return C.CString(toJSON(withRecover(func() *FFIResponse {
		engine, ok := unregisterEngine(int64(handle))
		if !ok {
			return NewErrorResponse(errCodeUnknownHandle, "no engine registered for this handle")
		}
		engine.Shutdown()
		return NewSuccessResponse(map[string]interface{}{"shutdown": true})
	})))
}

//export PushInbound
// PushInbound feeds one BLE frame into the engine named by handle. Safe to
// call from any host thread; internally synchronized (spec.md §4.K).
//
// Input JSON: {"handle": 1, "frame": "<base64>"}
func PushInbound(params *C.char) *C.char {
	return C.CString(toJSON(withRecover(func() *FFIResponse {
		var input struct {
			Handle int64  `json:"handle"`
			Frame  string `json:"frame"`
		}
		if err := json.Unmarshal([]byte(C.GoString(params)), &input); err != nil {
			return NewErrorResponse(errCodeInvalidInput, fmt.Sprintf("invalid push_inbound request: %v", err))
		}
		engine, ok := lookupEngine(input.Handle)
		if !ok {
			return NewErrorResponse(errCodeUnknownHandle, "no engine registered for this handle")
		}
		frame, err := base64.StdEncoding.DecodeString(input.Frame)
		if err != nil {
			return NewErrorResponse(errCodeInvalidInput, fmt.Sprintf("invalid base64 frame: %v", err))
		}
		if err := engine.PushInbound(frame); err != nil {
			return NewErrorResponseFromErr(err)
		}
		return NewSuccessResponse(map[string]interface{}{"accepted": true})
	})))
}

//export NextOutbound
// NextOutbound pops the next frame ready to transmit, or null if nothing is
// ready. Safe to call from any host thread, including the BLE transmit
// callback's own thread.
//
// Input JSON: {"handle": 1, "max_len": 512}
// Output JSON: {"frame": "<base64>"} or {"frame": null}
func NextOutbound(params *C.char) *C.char {
	return C.CString(toJSON(withRecover(func() *FFIResponse {
		var input struct {
			Handle int64 `json:"handle"`
			MaxLen int   `json:"max_len"`
		}
		if err := json.Unmarshal([]byte(C.GoString(params)), &input); err != nil {
			return NewErrorResponse(errCodeInvalidInput, fmt.Sprintf("invalid next_outbound request: %v", err))
		}
		engine, ok := lookupEngine(input.Handle)
		if !ok {
			return NewErrorResponse(errCodeUnknownHandle, "no engine registered for this handle")
		}
		frame, err := engine.NextOutbound(input.MaxLen)
		if err != nil {
			return NewErrorResponseFromErr(err)
		}
		if frame == nil {
			return NewSuccessResponse(map[string]interface{}{"frame": nil})
		}
		return NewSuccessResponse(map[string]interface{}{"frame": base64.StdEncoding.EncodeToString(frame)})
	})))
}

//export QueueTransaction
// QueueTransaction enqueues a fully signed transaction for mesh delivery.
//
// Input JSON: {"handle": 1, "tx": "<base64>", "priority": "high"|"normal"|"low"}
// Output JSON: {"tx_id": "<hex>"}
func QueueTransaction(params *C.char) *C.char {
	return C.CString(toJSON(withRecover(func() *FFIResponse {
		var input struct {
			Handle   int64  `json:"handle"`
			Tx       string `json:"tx"`
			Priority string `json:"priority"`
		}
		if err := json.Unmarshal([]byte(C.GoString(params)), &input); err != nil {
			return NewErrorResponse(errCodeInvalidInput, fmt.Sprintf("invalid queue_transaction request: %v", err))
		}
		engine, ok := lookupEngine(input.Handle)
		if !ok {
			return NewErrorResponse(errCodeUnknownHandle, "no engine registered for this handle")
		}
		signed, err := base64.StdEncoding.DecodeString(input.Tx)
		if err != nil {
			return NewErrorResponse(errCodeInvalidInput, fmt.Sprintf("invalid base64 tx: %v", err))
		}
		priority, err := parsePriority(input.Priority)
		if err != nil {
			return NewErrorResponse(errCodeInvalidInput, err.Error())
		}
		txID, err := engine.QueueTransaction(signed, priority)
		if err != nil {
			return NewErrorResponseFromErr(err)
		}
		return NewSuccessResponse(map[string]interface{}{"tx_id": txID.String()})
	})))
}

func parsePriority(s string) (relay.Priority, error) {
	switch s {
	case "", "normal":
		return relay.PriorityNormal, nil
	case "high":
		return relay.PriorityHigh, nil
	case "low":
		return relay.PriorityLow, nil
	default:
		return relay.PriorityNormal, fmt.Errorf("unknown priority %q", s)
	}
}

//export CreateUnsigned
// CreateUnsigned assembles an unsigned durable-nonce transfer transaction,
// sealed with the engine's own first unused cached nonce entry (spec.md S6)
// rather than one supplied by the caller: nonce_account in the spec's FFI
// table names which account a host obtained via prepare_offline_bundle, but
// the host is never handed an entry's authority or durable value to pass
// back here, so the engine always resolves them itself from the bundle.
//
// Input JSON: {"handle":1,"sender":"<pubkey>","recipient":"<pubkey>","amount":1000,
//   "fee_payer":"<pubkey>"}
// Output JSON: {"tx": "<base64>"}
func CreateUnsigned(params *C.char) *C.char {
	return C.CString(toJSON(withRecover(func() *FFIResponse {
		var input struct {
			Handle    int64  `json:"handle"`
			Sender    string `json:"sender"`
			Recipient string `json:"recipient"`
			Amount    uint64 `json:"amount"`
			FeePayer  string `json:"fee_payer"`
		}
		if err := json.Unmarshal([]byte(C.GoString(params)), &input); err != nil {
			return NewErrorResponse(errCodeInvalidInput, fmt.Sprintf("invalid create_unsigned request: %v", err))
		}
		engine, ok := lookupEngine(input.Handle)
		if !ok {
			return NewErrorResponse(errCodeUnknownHandle, "no engine registered for this handle")
		}
		req := txservice.TransferRequest{
			SenderPubkey:    input.Sender,
			RecipientPubkey: input.Recipient,
			LamportsAmount:  input.Amount,
			FeePayerPubkey:  input.FeePayer,
		}
		unsigned, err := engine.CreateUnsigned(req)
		if err != nil {
			return NewErrorResponseFromErr(err)
		}
		return NewSuccessResponse(map[string]interface{}{"tx": base64.StdEncoding.EncodeToString(unsigned)})
	})))
}

//export MessageToSign
// MessageToSign extracts the bytes an external signer must sign over.
//
// Input JSON: {"handle": 1, "tx": "<base64>"}
// Output JSON: {"msg": "<base64>"}
func MessageToSign(params *C.char) *C.char {
	return C.CString(toJSON(withRecover(func() *FFIResponse {
		var input struct {
			Handle int64  `json:"handle"`
			Tx     string `json:"tx"`
		}
		if err := json.Unmarshal([]byte(C.GoString(params)), &input); err != nil {
			return NewErrorResponse(errCodeInvalidInput, fmt.Sprintf("invalid message_to_sign request: %v", err))
		}
		engine, ok := lookupEngine(input.Handle)
		if !ok {
			return NewErrorResponse(errCodeUnknownHandle, "no engine registered for this handle")
		}
		unsigned, err := base64.StdEncoding.DecodeString(input.Tx)
		if err != nil {
			return NewErrorResponse(errCodeInvalidInput, fmt.Sprintf("invalid base64 tx: %v", err))
		}
		msg, err := engine.MessageToSign(unsigned)
		if err != nil {
			return NewErrorResponseFromErr(err)
		}
		return NewSuccessResponse(map[string]interface{}{"msg": base64.StdEncoding.EncodeToString(msg)})
	})))
}

//export ApplySignature
// ApplySignature splices a signature produced off-engine into its slot.
//
// Input JSON: {"handle":1,"tx":"<base64>","pubkey":"<pubkey>","signature":"<base64>"}
// Output JSON: {"tx": "<base64>"}
func ApplySignature(params *C.char) *C.char {
	return C.CString(toJSON(withRecover(func() *FFIResponse {
		var input struct {
			Handle    int64  `json:"handle"`
			Tx        string `json:"tx"`
			Pubkey    string `json:"pubkey"`
			Signature string `json:"signature"`
		}
		if err := json.Unmarshal([]byte(C.GoString(params)), &input); err != nil {
			return NewErrorResponse(errCodeInvalidInput, fmt.Sprintf("invalid apply_signature request: %v", err))
		}
		engine, ok := lookupEngine(input.Handle)
		if !ok {
			return NewErrorResponse(errCodeUnknownHandle, "no engine registered for this handle")
		}
		unsigned, err := base64.StdEncoding.DecodeString(input.Tx)
		if err != nil {
			return NewErrorResponse(errCodeInvalidInput, fmt.Sprintf("invalid base64 tx: %v", err))
		}
		sig, err := base64.StdEncoding.DecodeString(input.Signature)
		if err != nil {
			return NewErrorResponse(errCodeInvalidInput, fmt.Sprintf("invalid base64 signature: %v", err))
		}
		signed, err := engine.ApplySignature(unsigned, input.Pubkey, sig)
		if err != nil {
			return NewErrorResponseFromErr(err)
		}
		return NewSuccessResponse(map[string]interface{}{"tx": base64.StdEncoding.EncodeToString(signed)})
	})))
}

//export VerifyAndSerialize
// VerifyAndSerialize checks every required signature and, on success,
// returns the canonical serialized transaction ready for submission.
//
// Input JSON: {"handle": 1, "tx": "<base64>"}
// Output JSON: {"tx": "<base64>"}
func VerifyAndSerialize(params *C.char) *C.char {
	return C.CString(toJSON(withRecover(func() *FFIResponse {
		var input struct {
			Handle int64  `json:"handle"`
			Tx     string `json:"tx"`
		}
		if err := json.Unmarshal([]byte(C.GoString(params)), &input); err != nil {
			return NewErrorResponse(errCodeInvalidInput, fmt.Sprintf("invalid verify_and_serialize request: %v", err))
		}
		engine, ok := lookupEngine(input.Handle)
		if !ok {
			return NewErrorResponse(errCodeUnknownHandle, "no engine registered for this handle")
		}
		signed, err := base64.StdEncoding.DecodeString(input.Tx)
		if err != nil {
			return NewErrorResponse(errCodeInvalidInput, fmt.Sprintf("invalid base64 tx: %v", err))
		}
		serialized, err := engine.VerifyAndSerializeTx(signed)
		if err != nil {
			return NewErrorResponseFromErr(err)
		}
		return NewSuccessResponse(map[string]interface{}{"tx": base64.StdEncoding.EncodeToString(serialized)})
	})))
}

//export PrepareOfflineBundle
// PrepareOfflineBundle tops the nonce bundle up to count entries, invoking
// RPC as needed. Intended for use while the host still has connectivity,
// ahead of going offline.
//
// Input JSON: {"handle": 1, "count": 10, "payer": "<pubkey>"}
func PrepareOfflineBundle(params *C.char) *C.char {
	return C.CString(toJSON(withRecover(func() *FFIResponse {
		var input struct {
			Handle int64  `json:"handle"`
			Count  int    `json:"count"`
			Payer  string `json:"payer"`
		}
		if err := json.Unmarshal([]byte(C.GoString(params)), &input); err != nil {
			return NewErrorResponse(errCodeInvalidInput, fmt.Sprintf("invalid prepare_offline_bundle request: %v", err))
		}
		engine, ok := lookupEngine(input.Handle)
		if !ok {
			return NewErrorResponse(errCodeUnknownHandle, "no engine registered for this handle")
		}
		ctx, cancel := context.WithTimeout(context.Background(), defaultFFIRPCTimeout*2)
		defer cancel()
		if err := engine.PrepareOfflineBundle(ctx, input.Count, input.Payer); err != nil {
			return NewErrorResponseFromErr(err)
		}
		return NewSuccessResponse(map[string]interface{}{"bundle_size": engine.CacheNonceAccounts()})
	})))
}

//export CacheNonceAccounts
// CacheNonceAccounts reports how many unused durable-nonce entries remain
// cached locally, without touching the network.
//
// Input JSON: {"handle": 1}
func CacheNonceAccounts(params *C.char) *C.char {
	return C.CString(toJSON(withRecover(func() *FFIResponse {
		var input struct {
			Handle int64 `json:"handle"`
		}
		if err := json.Unmarshal([]byte(C.GoString(params)), &input); err != nil {
			return NewErrorResponse(errCodeInvalidInput, fmt.Sprintf("invalid cache_nonce_accounts request: %v", err))
		}
		engine, ok := lookupEngine(input.Handle)
		if !ok {
			return NewErrorResponse(errCodeUnknownHandle, "no engine registered for this handle")
		}
		return NewSuccessResponse(map[string]interface{}{"available": engine.CacheNonceAccounts()})
	})))
}

//export SubmitOfflineTransaction
// SubmitOfflineTransaction verifies and submits a fully signed transaction
// directly, outside the mesh queue, returning the chain signature.
//
// Input JSON: {"handle": 1, "tx": "<base64>"}
// Output JSON: {"signature": "<base58>"}
func SubmitOfflineTransaction(params *C.char) *C.char {
	return C.CString(toJSON(withRecover(func() *FFIResponse {
		var input struct {
			Handle int64  `json:"handle"`
			Tx     string `json:"tx"`
		}
		if err := json.Unmarshal([]byte(C.GoString(params)), &input); err != nil {
			return NewErrorResponse(errCodeInvalidInput, fmt.Sprintf("invalid submit_offline_transaction request: %v", err))
		}
		engine, ok := lookupEngine(input.Handle)
		if !ok {
			return NewErrorResponse(errCodeUnknownHandle, "no engine registered for this handle")
		}
		signed, err := base64.StdEncoding.DecodeString(input.Tx)
		if err != nil {
			return NewErrorResponse(errCodeInvalidInput, fmt.Sprintf("invalid base64 tx: %v", err))
		}
		ctx, cancel := context.WithTimeout(context.Background(), defaultFFIRPCTimeout)
		defer cancel()
		sig, err := engine.SubmitOfflineTransaction(ctx, signed)
		if err != nil {
			return NewErrorResponseFromErr(err)
		}
		return NewSuccessResponse(map[string]interface{}{"signature": sig})
	})))
}

//export Metrics
// Metrics returns the engine's aggregated Prometheus-style snapshot.
//
// Input JSON: {"handle": 1}
func Metrics(params *C.char) *C.char {
	return C.CString(toJSON(withRecover(func() *FFIResponse {
		var input struct {
			Handle int64 `json:"handle"`
		}
		if err := json.Unmarshal([]byte(C.GoString(params)), &input); err != nil {
			return NewErrorResponse(errCodeInvalidInput, fmt.Sprintf("invalid metrics request: %v", err))
		}
		engine, ok := lookupEngine(input.Handle)
		if !ok {
			return NewErrorResponse(errCodeUnknownHandle, "no engine registered for this handle")
		}
		return NewSuccessResponse(engine.Metrics())
	})))
}

//export HealthSnapshot
// HealthSnapshot returns the aggregate mesh health view (component L): peer
// counts by liveness state, average latency and packet loss, and an overall
// score. Per-peer scores and hop counts are not included.
//
// Input JSON: {"handle": 1}
func HealthSnapshot(params *C.char) *C.char {
	return C.CString(toJSON(withRecover(func() *FFIResponse {
		var input struct {
			Handle int64 `json:"handle"`
		}
		if err := json.Unmarshal([]byte(C.GoString(params)), &input); err != nil {
			return NewErrorResponse(errCodeInvalidInput, fmt.Sprintf("invalid health_snapshot request: %v", err))
		}
		engine, ok := lookupEngine(input.Handle)
		if !ok {
			return NewErrorResponse(errCodeUnknownHandle, "no engine registered for this handle")
		}
		return NewSuccessResponse(engine.HealthSnapshot())
	})))
}

//export Tick
// Tick nudges the worker to re-evaluate its timers immediately, for hosts
// without access to the internal scheduler (e.g. to drive it from their own
// event loop instead of relying solely on the worker's own tickers).
//
// Input JSON: {"handle": 1}
func Tick(params *C.char) *C.char {
	return C.CString(toJSON(withRecover(func() *FFIResponse {
		var input struct {
			Handle int64 `json:"handle"`
		}
		if err := json.Unmarshal([]byte(C.GoString(params)), &input); err != nil {
			return NewErrorResponse(errCodeInvalidInput, fmt.Sprintf("invalid tick request: %v", err))
		}
		engine, ok := lookupEngine(input.Handle)
		if !ok {
			return NewErrorResponse(errCodeUnknownHandle, "no engine registered for this handle")
		}
		engine.Tick()
		return NewSuccessResponse(map[string]interface{}{"ticked": true})
	})))
}

func runtimeVersion() string {
	return "go1.25"
}

// main is required for buildmode=c-shared but carries no logic of its own;
// every capability is reachable only through the //export functions above.
func main() {}
