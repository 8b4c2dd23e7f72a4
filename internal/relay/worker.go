package relay

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// fallbackTimeout bounds the worker's idle wakeup cadence (spec.md §4.J).
const fallbackTimeout = 30 * time.Second

// cleanupInterval is the default period of the CleanupDue timer.
const cleanupInterval = 5 * time.Minute

// Batch sizes adapt to queue depth (spec.md §4.J).
const (
	batchSizeLarge  = 20
	batchSizeNormal = 10
	batchSizeSmall  = 5

	batchDepthLarge = 50
	batchDepthSmall = 5
)

func batchSizeFor(depth int) int {
	switch {
	case depth > batchDepthLarge:
		return batchSizeLarge
	case depth <= batchDepthSmall:
		return batchSizeSmall
	default:
		return batchSizeNormal
	}
}

// worker is the single cooperative task loop of component J. It owns no
// state of its own; every queue it touches belongs to the Engine that
// constructed it.
type worker struct {
	engine *Engine
	log    *zap.Logger

	events chan EventKind
	done   chan struct{}
}

func newWorker(e *Engine) *worker {
	return &worker{
		engine: e,
		log:    e.log,
		events: make(chan EventKind, eventChannelDepth),
		done:   make(chan struct{}),
	}
}

// notify wakes the worker with kind, conflating duplicates.
func (w *worker) notify(kind EventKind) {
	notify(w.events, kind)
}

// run is the main loop. It returns when ctx is cancelled, after forcing a
// final save of every queue.
func (w *worker) run(ctx context.Context) {
	cleanupTicker := time.NewTicker(cleanupInterval)
	defer cleanupTicker.Stop()

	defer func() {
		w.engine.forceSaveAll()
		close(w.done)
	}()

	for {
		var fallback <-chan time.Time
		if next, ok := w.engine.retryQueue.NextRetryTime(); ok {
			d := time.Until(next)
			if d < 0 {
				d = 0
			}
			fallback = time.After(d)
		} else {
			fallback = time.After(fallbackTimeout)
		}

		select {
		case <-ctx.Done():
			return

		case kind := <-w.events:
			w.handle(ctx, kind)

		case <-cleanupTicker.C:
			w.handle(ctx, EventCleanupDue)

		case <-fallback:
			w.onFallback(ctx)
		}
	}
}

func (w *worker) handle(ctx context.Context, kind EventKind) {
	switch kind {
	case EventOutboundReady:
		w.drainOutbound(ctx)
	case EventReceivedReady:
		w.drainReassembled(ctx)
	case EventRetryReady:
		w.drainRetries(ctx)
	case EventConfirmationReady:
		w.drainConfirmations(ctx)
	case EventNetworkAvailable:
		w.handle(ctx, EventReceivedReady)
		w.handle(ctx, EventRetryReady)
	case EventCleanupDue:
		w.runCleanup()
	}
}

func (w *worker) onFallback(ctx context.Context) {
	w.drainRetries(ctx)
	w.engine.saveIfNeeded()
}

func (w *worker) drainOutbound(ctx context.Context) {
	batch := batchSizeFor(w.engine.outboundQueue.Len())
	drained := 0
	for i := 0; i < batch; i++ {
		item := w.engine.outboundQueue.Pop()
		if item == nil {
			break
		}
		w.engine.transmitOutboundItem(item)
		drained++
	}
	if drained == batch && w.engine.outboundQueue.Len() > 0 {
		w.notify(EventOutboundReady)
	}
}

func (w *worker) drainReassembled(ctx context.Context) {
	batch := batchSizeFor(w.engine.pendingSubmissions.len())
	for i := 0; i < batch; i++ {
		txID, payload, ok := w.engine.pendingSubmissions.pop()
		if !ok {
			break
		}
		w.engine.submitPayload(ctx, txID, payload)
	}
	if w.engine.pendingSubmissions.len() > 0 {
		w.notify(EventReceivedReady)
	}
}

func (w *worker) drainRetries(ctx context.Context) {
	now := time.Now()
	batch := batchSizeFor(w.engine.retryQueue.Len())
	for i := 0; i < batch; i++ {
		item := w.engine.retryQueue.PopReady(now)
		if item == nil {
			break
		}
		w.engine.resubmitRetryItem(ctx, item)
	}
}

func (w *worker) drainConfirmations(ctx context.Context) {
	batch := batchSizeFor(w.engine.confirmationQueue.Len())
	for i := 0; i < batch; i++ {
		conf := w.engine.confirmationQueue.Pop()
		if conf == nil {
			if w.engine.confirmationQueue.Len() == 0 {
				break
			}
			continue
		}
		w.engine.emitConfirmation(conf)
	}
}

func (w *worker) runCleanup() {
	reassemblyTimeout := time.Duration(w.engine.config.ReassemblyTimeoutSeconds) * time.Second
	removedGroups := w.engine.reassemblyBuffer.CleanupStaleFragments(reassemblyTimeout)
	removedGroups += w.engine.confirmationReassembly.CleanupStaleFragments(reassemblyTimeout)

	removedConfirmations := w.engine.confirmationQueue.CleanupExpired()

	staleThreshold := time.Duration(w.engine.config.RetryMaxAgeSeconds) * time.Second
	removedOutbound := w.engine.outboundQueue.CleanupStale(staleThreshold)

	removedPeers := w.engine.healthMonitor.CleanupDead()

	if removedGroups+removedConfirmations+removedOutbound+removedPeers > 0 {
		w.log.Info("periodic cleanup completed",
			zap.Int("reassembly_groups", removedGroups),
			zap.Int("confirmations", removedConfirmations),
			zap.Int("outbound_items", removedOutbound),
			zap.Int("dead_peers", removedPeers))
	}

	w.engine.saveIfNeeded()
}
