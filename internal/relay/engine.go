package relay

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	audit "github.com/yourusername/meshrelay/internal/auditlog"
	"github.com/yourusername/meshrelay/internal/app"
	"github.com/yourusername/meshrelay/internal/nonce"
	"github.com/yourusername/meshrelay/internal/relay/health"
	"github.com/yourusername/meshrelay/internal/relay/metrics"
	"github.com/yourusername/meshrelay/internal/relay/storage"
	"github.com/yourusername/meshrelay/internal/rpcclient"
	"github.com/yourusername/meshrelay/internal/txservice"
)

// defaultRPCTimeout bounds every submission attempt the worker makes
// (spec.md §5, "per-RPC timeouts (default 30 s) convert to retries").
const defaultRPCTimeout = 30 * time.Second

// Engine is component K's core object: the single in-process owner of every
// queue, the nonce bundle, the transaction service, and the worker that
// drains them all. A host embeds one Engine per logical device identity.
type Engine struct {
	config *app.Config
	log    *zap.Logger

	senderID SenderID

	fragmenter              *Fragmenter
	seenCache               *SeenCache
	outboundQueue           *OutboundQueue
	reassemblyBuffer        *ReassemblyBuffer
	confirmationReassembly  *ReassemblyBuffer
	confirmationQueue       *ConfirmationQueue
	retryQueue              *RetryQueue
	pendingSubmissions      *pendingSubmissionQueue
	outFrames               *outFrameStream

	store         *storage.QueueStore
	nonceBundle   *nonce.Bundle
	txSvc         *txservice.Service
	healthMonitor *health.Monitor
	metrics       metrics.RelayMetrics
	audit         *audit.AuditLogger

	worker *worker
	cancel context.CancelFunc

	shutdownOnce sync.Once
	lastErrMu    sync.Mutex
	lastErr      string
}

// NewEngine constructs an Engine from cfg, loading any persisted queue and
// nonce-bundle state from cfg.StorageDirectory, and starts its worker.
// rpc is the pluggable chain client named in spec.md §4.I; signing itself is
// always delegated to the host across the FFI boundary (component K), so
// NewEngine takes no signer.
func NewEngine(cfg *app.Config, rpc rpcclient.Client, log *zap.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}

	debounce := time.Duration(cfg.AutoSaveDebounceSeconds) * time.Second
	store, err := storage.NewQueueStore(cfg.StorageDirectory, debounce, log)
	if err != nil {
		return nil, fmt.Errorf("construct queue store: %w", err)
	}

	nonceBundle, err := nonce.Load(store.Dir(), cfg.NonceBundleSize, rpc, log)
	if err != nil {
		return nil, fmt.Errorf("load nonce bundle: %w", err)
	}

	auditLog, err := audit.NewAuditLogger(filepath.Join(store.Dir(), "audit.ndjson"))
	if err != nil {
		return nil, fmt.Errorf("construct audit logger: %w", err)
	}

	var senderID SenderID
	if _, err := rand.Read(senderID[:]); err != nil {
		return nil, fmt.Errorf("generate sender id: %w", err)
	}

	e := &Engine{
		config:             cfg,
		log:                log,
		senderID:           senderID,
		fragmenter:         NewFragmenter(cfg.MaxFragmentSize),
		seenCache:          NewSeenCache(),
		outboundQueue:      NewOutboundQueue(cfg.MaxOutboundSize, log),
		confirmationQueue:  NewConfirmationQueue(DefaultConfirmationMaxSize, uint8(cfg.MaxHopsConfirmation), time.Duration(cfg.ConfirmationTTLSeconds)*time.Second, log),
		retryQueue:         NewRetryQueue(cfg.MaxRetries, time.Duration(cfg.RetryMaxAgeSeconds)*time.Second, log),
		pendingSubmissions: newPendingSubmissionQueue(),
		outFrames:          newOutFrameStream(),
		store:              store,
		nonceBundle:        nonceBundle,
		txSvc:              txservice.NewService(rpc, log),
		healthMonitor:      health.NewMonitor(),
		metrics:            metrics.NewPrometheusMetrics(),
		audit:              auditLog,
	}
	e.reassemblyBuffer = NewReassemblyBuffer(e.fragmenter, log, e.onTxReassembled)
	e.confirmationReassembly = NewReassemblyBuffer(e.fragmenter, log, e.onConfirmationReassembled)

	if err := e.restoreFromSnapshot(store.LoadAll()); err != nil {
		log.Warn("failed to rehydrate persisted queues, starting empty", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.worker = newWorker(e)
	go e.worker.run(ctx)

	return e, nil
}

// PushInbound feeds one wire frame into the engine: deserialize, dedup,
// route to the matching reassembly buffer, and, if its TTL allows, re-queue
// it for relay to other peers (spec.md §4.K).
func (e *Engine) PushInbound(frame []byte) error {
	env, err := Decode(frame)
	if err != nil {
		e.recordErr(err)
		return err
	}

	e.healthMonitor.Touch(env.Sender.String())

	if e.seenCache.Seen(env) {
		return nil
	}
	e.seenCache.Record(env)

	switch env.Type {
	case PacketTxFragment:
		e.reassemblyBuffer.AddFragment(env.Fragment)
	case PacketConfirmationFragment:
		e.confirmationReassembly.AddFragment(env.Fragment)
	case PacketControl:
		// Control frames carry no payload for reassembly; presence alone
		// (already recorded above) is the whole effect.
	default:
		err := Wrap(ErrMalformedEnvelope, fmt.Errorf("unknown packet type %d", env.Type))
		e.recordErr(err)
		return err
	}

	if env.Relay() {
		reframed, err := env.Encode()
		if err == nil {
			e.outFrames.pushRelayed(reframed)
		}
	}

	return nil
}

// NextOutbound pulls one frame ready to transmit from the single
// prioritized stream (new outbound fragments, then confirmations, then
// relayed forwards). Non-blocking; returns (nil, nil) if nothing is ready.
// maxLen is a hint for the host's receive buffer; every frame this engine
// produces already respects MaxFrameSize.
func (e *Engine) NextOutbound(maxLen int) ([]byte, error) {
	frame := e.outFrames.pop()
	if frame == nil {
		return nil, nil
	}
	if maxLen > 0 && len(frame) > maxLen {
		return nil, fmt.Errorf("next frame is %d bytes, exceeds max_len %d", len(frame), maxLen)
	}
	return frame, nil
}

// Tick nudges the worker to re-evaluate its timers, for hosts without
// access to the internal scheduler.
func (e *Engine) Tick() {
	notify(e.worker.events, EventCleanupDue)
}

// Metrics returns the aggregated snapshot of spec.md §4.K, sampling current
// queue depths before returning.
func (e *Engine) Metrics() metrics.Snapshot {
	e.metrics.RecordQueueDepths(e.outboundQueue.Len(), e.reassemblyBuffer.Len()+e.confirmationReassembly.Len(), e.confirmationQueue.Len(), e.retryQueue.Len())
	return e.metrics.Snapshot()
}

// HealthSnapshot returns the aggregate mesh health view of component L.
func (e *Engine) HealthSnapshot() health.Snapshot {
	return e.healthMonitor.Snapshot()
}

// QueueTransaction pushes signed_bytes onto the outbound queue at the given
// priority, returning its content-hash tx id.
func (e *Engine) QueueTransaction(signedBytes []byte, priority Priority) (TxID, error) {
	txID := HashPayload(signedBytes)
	item := &OutboundItem{
		TxID:          txID,
		OriginalBytes: signedBytes,
		Priority:      priority,
		CreatedAt:     time.Now(),
		MaxRetries:    DefaultMaxRetries,
	}
	if err := e.outboundQueue.Push(item); err != nil {
		e.recordErr(err)
		if auditErr := e.audit.LogCapacityRejected(txID.String(), err.Error()); auditErr != nil {
			e.log.Warn("failed to append audit log entry", zap.Error(auditErr))
		}
		return TxID{}, err
	}
	e.metrics.RecordTransactionQueued()
	notify(e.worker.events, EventOutboundReady)
	return txID, nil
}

// Fragment is the pure helper of spec.md §4.K: split payload into wire
// frames without touching any queue.
func (e *Engine) Fragment(payload []byte) ([][]byte, error) {
	return e.buildFrames(payload, PacketTxFragment, 0)
}

// Reassemble is the pure helper counterpart to Fragment: verify and
// concatenate a complete fragment set without touching any queue.
func (e *Engine) Reassemble(frames [][]byte) ([]byte, error) {
	fragments := make([]Fragment, 0, len(frames))
	for _, frame := range frames {
		env, err := Decode(frame)
		if err != nil {
			return nil, err
		}
		fragments = append(fragments, env.Fragment)
	}
	return e.fragmenter.Reassemble(fragments)
}

// PrepareOfflineBundle is a thin wrapper over nonce.Bundle.PrepareBundle
// (spec.md §4.I, §4.H).
func (e *Engine) PrepareOfflineBundle(ctx context.Context, desiredCount int, payerAuthority string) error {
	before := e.nonceBundle.UnusedCount()
	_, err := e.nonceBundle.PrepareBundle(ctx, desiredCount, payerAuthority)
	if err != nil {
		e.recordErr(err)
		return err
	}
	if refreshed := e.nonceBundle.UnusedCount() - before; refreshed > 0 {
		if auditErr := e.audit.LogNonceRefreshed(refreshed); auditErr != nil {
			e.log.Warn("failed to append audit log entry", zap.Error(auditErr))
		}
	}
	return nil
}

// CacheNonceAccounts returns the bundle's current unused-entry count, the
// thin wrapper named `cache_nonce_accounts` in spec.md §4.K.
func (e *Engine) CacheNonceAccounts() int {
	return e.nonceBundle.UnusedCount()
}

// SubmitOfflineTransaction verifies, serializes, and submits a transfer
// transaction that is already fully signed (signing happened off-engine),
// then marks the nonce account it advanced as used so it cannot be reused
// until PrepareOfflineBundle refreshes it (spec.md §3, §4.H: "after
// submission of a transaction, the nonce that sealed it is marked
// used = true").
func (e *Engine) SubmitOfflineTransaction(ctx context.Context, signedBytes []byte) (string, error) {
	serialized, err := e.txSvc.VerifyAndSerialize(signedBytes)
	if err != nil {
		e.recordErr(err)
		return "", err
	}
	nonceAccount, err := e.txSvc.NonceAccountFromTx(serialized)
	if err != nil {
		e.recordErr(err)
		return "", err
	}
	sig, err := e.txSvc.Submit(ctx, serialized)
	if err != nil {
		e.recordErr(err)
		return "", err
	}
	if markErr := e.nonceBundle.MarkUsed(nonceAccount); markErr != nil {
		e.log.Warn("submitted transaction but failed to mark its nonce used", zap.String("nonce_account", nonceAccount), zap.Error(markErr))
	}
	return sig, nil
}

// CreateUnsigned is the thin wrapper named `create_unsigned` in spec.md
// §4.K: assemble an unsigned durable-nonce transfer transaction. It always
// seals the transaction with the bundle's own first unused nonce entry
// (spec.md S6) rather than trusting caller-supplied nonce fields — a host
// only ever learns of nonce accounts through PrepareOfflineBundle, never
// their authority or durable value, so there is nothing for it to supply.
// The entry is read, not taken: its used flag is still false afterward and
// only flips once SubmitOfflineTransaction actually seals a transaction
// with it. Signing itself always happens off-engine, across the FFI
// boundary.
func (e *Engine) CreateUnsigned(req txservice.TransferRequest) ([]byte, error) {
	entry, err := e.nonceBundle.PeekUnused()
	if err != nil {
		if errors.Is(err, nonce.ErrNoAvailableNonces) {
			err = Wrap(ErrNoAvailableNonces, err)
		}
		e.recordErr(err)
		return nil, err
	}
	req.NonceEntry = entry

	unsigned, err := e.txSvc.CreateUnsigned(req)
	if err != nil {
		e.recordErr(err)
	}
	return unsigned, err
}

// MessageToSign is the thin wrapper named `message_to_sign` in spec.md
// §4.K: extract the bytes an external signer must sign over.
func (e *Engine) MessageToSign(unsignedBytes []byte) ([]byte, error) {
	msg, err := e.txSvc.MessageToSign(unsignedBytes)
	if err != nil {
		e.recordErr(err)
	}
	return msg, err
}

// ApplySignature is the thin wrapper named `apply_signature` in spec.md
// §4.K: splice a signature produced off-engine into its slot.
func (e *Engine) ApplySignature(unsignedBytes []byte, signerPubkey string, signature []byte) ([]byte, error) {
	signed, err := e.txSvc.ApplySignature(unsignedBytes, signerPubkey, signature)
	if err != nil {
		e.recordErr(err)
	}
	return signed, err
}

// VerifyAndSerializeTx is the thin wrapper named `verify_and_serialize` in
// spec.md §4.K. Named distinctly from txservice.Service.VerifyAndSerialize,
// which it wraps and which the engine's own submission path also calls
// directly.
func (e *Engine) VerifyAndSerializeTx(signedBytes []byte) ([]byte, error) {
	serialized, err := e.txSvc.VerifyAndSerialize(signedBytes)
	if err != nil {
		e.recordErr(err)
	}
	return serialized, err
}

// Shutdown stops the worker, forces a final save of every queue, and
// releases all resources. Safe to call more than once.
func (e *Engine) Shutdown() {
	e.shutdownOnce.Do(func() {
		e.cancel()
		<-e.worker.done
	})
}

// onTxReassembled is the ReassemblyBuffer callback for PacketTxFragment
// groups: queue the verified payload for submission by the worker.
func (e *Engine) onTxReassembled(txID TxID, payload []byte) {
	e.metrics.RecordFragmentReceived(true)
	e.pendingSubmissions.push(txID, payload)
	notify(e.worker.events, EventReceivedReady)
}

// onConfirmationReassembled is the ReassemblyBuffer callback for
// PacketConfirmationFragment groups: decode the status and relay it onward.
func (e *Engine) onConfirmationReassembled(txID TxID, payload []byte) {
	var status ConfirmationStatus
	if err := json.Unmarshal(payload, &status); err != nil {
		e.log.Warn("dropping malformed confirmation payload", zap.String("tx_id", txID.String()), zap.Error(err))
		return
	}
	e.confirmationQueue.Add(txID, status)
	notify(e.worker.events, EventConfirmationReady)
}

// transmitOutboundItem fragments item and appends the resulting frames to
// the outbound lane of the prioritized output stream.
func (e *Engine) transmitOutboundItem(item *OutboundItem) {
	frames, err := e.buildFrames(item.OriginalBytes, PacketTxFragment, 0)
	if err != nil {
		e.log.Warn("failed to fragment outbound item, dropping", zap.String("tx_id", item.TxID.String()), zap.Error(err))
		e.recordErr(err)
		return
	}
	for _, frame := range frames {
		e.outFrames.pushOutbound(frame)
	}
}

// emitConfirmation serializes conf and appends its frames to the
// confirmation lane of the prioritized output stream.
func (e *Engine) emitConfirmation(conf *Confirmation) {
	payload, err := json.Marshal(conf.Status)
	if err != nil {
		e.log.Warn("failed to serialize confirmation, dropping", zap.String("tx_id", conf.TxID.String()), zap.Error(err))
		return
	}
	frames, err := e.buildFrames(payload, PacketConfirmationFragment, conf.HopCount)
	if err != nil {
		e.log.Warn("failed to fragment confirmation, dropping", zap.String("tx_id", conf.TxID.String()), zap.Error(err))
		return
	}
	for _, frame := range frames {
		e.outFrames.pushConfirmation(frame)
	}
}

// submitPayload attempts to verify and submit a reassembled transaction
// payload, queuing the resulting confirmation on success or routing it to
// the retry queue on a transient RPC failure.
func (e *Engine) submitPayload(ctx context.Context, txID TxID, payload []byte) {
	ctx, cancel := context.WithTimeout(ctx, defaultRPCTimeout)
	defer cancel()

	serialized, err := e.txSvc.VerifyAndSerialize(payload)
	if err != nil {
		e.finalizeFailure(txID, err)
		return
	}

	sig, err := e.txSvc.Submit(ctx, serialized)
	if err != nil {
		e.handleSubmitError(txID, payload, err)
		return
	}

	e.confirmationQueue.Add(txID, ConfirmationStatus{Success: true, Signature: sig})
	e.metrics.RecordTransactionConfirmed(true)
	notify(e.worker.events, EventConfirmationReady)
}

// resubmitRetryItem re-attempts a scheduled retry item, rescheduling it or
// giving up per spec.md §4.F.
func (e *Engine) resubmitRetryItem(ctx context.Context, item *RetryItem) {
	ctx, cancel := context.WithTimeout(ctx, defaultRPCTimeout)
	defer cancel()

	serialized, err := e.txSvc.VerifyAndSerialize(item.OriginalBytes)
	if err != nil {
		e.finalizeFailure(item.TxID, err)
		return
	}

	sig, err := e.txSvc.Submit(ctx, serialized)
	if err != nil {
		if e.retryQueue.ShouldGiveUp(item) {
			e.metrics.RecordRetryGivenUp()
			if auditErr := e.audit.LogRetryGivenUp(item.TxID.String(), err.Error()); auditErr != nil {
				e.log.Warn("failed to append audit log entry", zap.Error(auditErr))
			}
			e.finalizeFailure(item.TxID, err)
			return
		}
		e.retryQueue.Push(item, err.Error())
		e.recordErr(err)
		return
	}

	e.confirmationQueue.Add(item.TxID, ConfirmationStatus{Success: true, Signature: sig})
	e.metrics.RecordTransactionConfirmed(true)
	notify(e.worker.events, EventConfirmationReady)
}

// permanentRPCErrorCodes are Solana JSON-RPC error codes that mean a
// resubmission of the same transaction will never succeed: the node
// evaluated it and rejected it outright, rather than failing to deliver it.
var permanentRPCErrorCodes = map[int]struct{}{
	-32002: {}, // transaction simulation failed
	-32003: {}, // transaction signature verification failure
	-32004: {}, // blockhash/nonce not found
}

// isPermanentRPCError reports whether err carries one of
// permanentRPCErrorCodes anywhere in its chain.
func isPermanentRPCError(err error) bool {
	var rpcErr *rpcclient.RPCError
	if !errors.As(err, &rpcErr) {
		return false
	}
	_, permanent := permanentRPCErrorCodes[rpcErr.Code]
	return permanent
}

// handleSubmitError routes a fresh submission failure: permanent RPC
// rejections become a failure confirmation immediately, everything else
// enters the retry queue.
func (e *Engine) handleSubmitError(txID TxID, payload []byte, err error) {
	if isPermanentRPCError(err) {
		e.finalizeFailure(txID, Wrap(ErrRPCPermanent, err))
		return
	}
	item := &RetryItem{TxID: txID, OriginalBytes: payload, Strategy: DefaultBackoff()}
	e.retryQueue.Push(item, err.Error())
	e.recordErr(Wrap(ErrRPCTransient, err))
}

func (e *Engine) finalizeFailure(txID TxID, err error) {
	switch {
	case errors.Is(err, txservice.ErrInvalidSignature):
		err = Wrap(ErrInvalidSignature, err)
	case errors.Is(err, txservice.ErrInvalidSignatureLen):
		err = Wrap(ErrInvalidSignatureLen, err)
	case errors.Is(err, txservice.ErrSignerNotRequired):
		err = Wrap(ErrSignerNotRequired, err)
	}
	e.confirmationQueue.Add(txID, ConfirmationStatus{Success: false, ErrorMsg: err.Error()})
	e.metrics.RecordTransactionConfirmed(false)
	e.recordErr(err)
	if relayErr, ok := AsRelayError(err); ok && relayErr.Class == ClassIntegrity {
		if auditErr := e.audit.LogIntegrityFailure(txID.String(), err.Error()); auditErr != nil {
			e.log.Warn("failed to append audit log entry", zap.Error(auditErr))
		}
	}
	notify(e.worker.events, EventConfirmationReady)
}

// buildFrames fragments payload and wraps each fragment in an Envelope
// addressed from this engine's sender identity.
func (e *Engine) buildFrames(payload []byte, packetType PacketType, hopCount uint8) ([][]byte, error) {
	fragments, err := e.fragmenter.Fragment(payload)
	if err != nil {
		return nil, err
	}
	frames := make([][]byte, 0, len(fragments))
	for _, frag := range fragments {
		env := &Envelope{
			Version:  ProtocolVersion,
			Type:     packetType,
			Sender:   e.senderID,
			TTL:      uint8(e.config.TTLInitial),
			HopCount: hopCount,
			Fragment: frag,
		}
		frame, err := env.Encode()
		if err != nil {
			return nil, err
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

// saveIfNeeded persists the current queue state, subject to the configured
// debounce.
func (e *Engine) saveIfNeeded() {
	if err := e.store.SaveIfNeeded(e.snapshotNow()); err != nil {
		e.log.Warn("debounced queue save failed", zap.Error(err))
		e.recordErr(err)
	}
}

// forceSaveAll bypasses the debounce, used on shutdown.
func (e *Engine) forceSaveAll() {
	if err := e.store.ForceSave(e.snapshotNow()); err != nil {
		e.log.Error("final queue save on shutdown failed", zap.Error(err))
		e.recordErr(err)
	}
}

func (e *Engine) recordErr(err error) {
	e.lastErrMu.Lock()
	defer e.lastErrMu.Unlock()
	var relayErr *RelayError
	if errors.As(err, &relayErr) {
		e.lastErr = relayErr.Code
	} else {
		e.lastErr = err.Error()
	}
	e.metrics.RecordLastError(e.lastErr)
}

func (id SenderID) String() string {
	return fmt.Sprintf("%x", id[:])
}
