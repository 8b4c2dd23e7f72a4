package metrics

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// PrometheusMetrics implements RelayMetrics with Prometheus-compatible
// export.
//
// Thread-safe implementation using sync.RWMutex for concurrent access.
type PrometheusMetrics struct {
	mu sync.RWMutex

	fragmentsReceived  int64
	fragmentsCompleted int64
	reassemblyFailures int64

	transactionsQueued  int64
	transactionsSuccess int64
	transactionsFailed  int64

	retriesGivenUp int64

	outboundDepth     int
	reassemblyDepth   int
	confirmationDepth int
	retryDepth        int

	lastErrorCode string
	sampledAt     time.Time
}

// NewPrometheusMetrics creates a new Prometheus-compatible metrics recorder.
func NewPrometheusMetrics() *PrometheusMetrics {
	return &PrometheusMetrics{}
}

func (p *PrometheusMetrics) RecordFragmentReceived(completed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fragmentsReceived++
	if completed {
		p.fragmentsCompleted++
	}
}

func (p *PrometheusMetrics) RecordReassemblyFailure() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reassemblyFailures++
}

func (p *PrometheusMetrics) RecordTransactionQueued() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transactionsQueued++
}

func (p *PrometheusMetrics) RecordTransactionConfirmed(success bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if success {
		p.transactionsSuccess++
	} else {
		p.transactionsFailed++
	}
}

func (p *PrometheusMetrics) RecordRetryGivenUp() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.retriesGivenUp++
}

func (p *PrometheusMetrics) RecordQueueDepths(outbound, reassembly, confirmation, retry int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outboundDepth = outbound
	p.reassemblyDepth = reassembly
	p.confirmationDepth = confirmation
	p.retryDepth = retry
	p.sampledAt = time.Now()
}

func (p *PrometheusMetrics) RecordLastError(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastErrorCode = code
}

func (p *PrometheusMetrics) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Snapshot{
		FragmentsReceived:      p.fragmentsReceived,
		FragmentsCompleted:     p.fragmentsCompleted,
		ReassemblyFailures:     p.reassemblyFailures,
		TransactionsQueued:     p.transactionsQueued,
		TransactionsSuccess:    p.transactionsSuccess,
		TransactionsFailed:     p.transactionsFailed,
		RetriesGivenUp:         p.retriesGivenUp,
		OutboundQueueDepth:     p.outboundDepth,
		ReassemblyBufferDepth:  p.reassemblyDepth,
		ConfirmationQueueDepth: p.confirmationDepth,
		RetryQueueDepth:        p.retryDepth,
		LastErrorCode:          p.lastErrorCode,
		SampledAt:              p.sampledAt,
	}
}

// Export renders the current counters in Prometheus text format.
func (p *PrometheusMetrics) Export() string {
	snap := p.Snapshot()
	var b strings.Builder

	writeCounter := func(name, help string, value int64) {
		fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s counter\n%s %d\n", name, help, name, name, value)
	}
	writeGauge := func(name, help string, value int) {
		fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s gauge\n%s %d\n", name, help, name, name, value)
	}

	writeCounter("meshrelay_fragments_received_total", "Total inbound mesh fragments processed", snap.FragmentsReceived)
	writeCounter("meshrelay_fragments_completed_total", "Total reassembly groups that completed", snap.FragmentsCompleted)
	writeCounter("meshrelay_reassembly_failures_total", "Total reassembly groups that failed integrity verification", snap.ReassemblyFailures)
	writeCounter("meshrelay_transactions_queued_total", "Total transactions accepted into the outbound queue", snap.TransactionsQueued)
	writeCounter("meshrelay_transactions_success_total", "Total transactions confirmed successful", snap.TransactionsSuccess)
	writeCounter("meshrelay_transactions_failed_total", "Total transactions confirmed failed", snap.TransactionsFailed)
	writeCounter("meshrelay_retries_given_up_total", "Total retry items that exhausted their budget", snap.RetriesGivenUp)
	writeGauge("meshrelay_outbound_queue_depth", "Current outbound queue size across all priority lanes", snap.OutboundQueueDepth)
	writeGauge("meshrelay_reassembly_buffer_depth", "Current number of in-progress reassembly groups", snap.ReassemblyBufferDepth)
	writeGauge("meshrelay_confirmation_queue_depth", "Current confirmation queue size", snap.ConfirmationQueueDepth)
	writeGauge("meshrelay_retry_queue_depth", "Current retry queue size", snap.RetryQueueDepth)

	return b.String()
}

// Reset clears all recorded metrics.
func (p *PrometheusMetrics) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	*p = PrometheusMetrics{}
}

var _ RelayMetrics = (*PrometheusMetrics)(nil)
