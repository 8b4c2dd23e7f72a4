// Package audit provides an append-only NDJSON log of relay-significant
// events: integrity failures, retries given up, nonce refreshes, and
// capacity rejections (spec.md §4.F, §4.G, §4.H). It is separate from the
// engine's in-memory metrics snapshot: metrics answer "how many", this log
// answers "which one, and why".
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// Event names a relay-significant occurrence worth a durable audit trail.
type Event string

const (
	EventIntegrityFailure Event = "INTEGRITY_FAILURE"
	EventRetryGivenUp     Event = "RETRY_GIVEN_UP"
	EventNonceRefreshed   Event = "NONCE_REFRESHED"
	EventCapacityRejected Event = "CAPACITY_REJECTED"
	EventConfirmed        Event = "CONFIRMED"
)

// AuditLogEntry is one line of the NDJSON audit trail.
type AuditLogEntry struct {
	ID        string    `json:"id"`
	TxID      string    `json:"txId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Event     Event     `json:"event"`
	Status    string    `json:"status"` // SUCCESS, FAILURE
	Detail    string    `json:"detail,omitempty"`
}

// AuditLogger handles append-only audit logging to a single NDJSON file.
type AuditLogger struct {
	filePath string
	mu       sync.Mutex
	seq      int64
}

// NewAuditLogger creates a new audit logger writing to filePath, creating
// its parent directory if needed.
func NewAuditLogger(filePath string) (*AuditLogger, error) {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}
	return &AuditLogger{filePath: filePath}, nil
}

// nextID produces a monotonically increasing, process-local entry id.
// Uniqueness across restarts doesn't matter: entries are read back in file
// order, never looked up by ID.
func (l *AuditLogger) nextID() string {
	return fmt.Sprintf("%d-%d", time.Now().UnixNano(), atomic.AddInt64(&l.seq, 1))
}

// Log appends one entry to the log file. Fills ID and Timestamp if unset.
func (l *AuditLogger) Log(entry AuditLogEntry) error {
	if entry.ID == "" {
		entry.ID = l.nextID()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	file, err := os.OpenFile(l.filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer file.Close()

	jsonData, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	if _, err := file.Write(append(jsonData, '\n')); err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return file.Sync()
}

// LogIntegrityFailure records a reassembly or signature verification
// failure for txID.
func (l *AuditLogger) LogIntegrityFailure(txID, detail string) error {
	return l.Log(AuditLogEntry{TxID: txID, Event: EventIntegrityFailure, Status: "FAILURE", Detail: detail})
}

// LogRetryGivenUp records that the retry queue exhausted its attempts for
// txID and the transaction was finalized as failed.
func (l *AuditLogger) LogRetryGivenUp(txID, detail string) error {
	return l.Log(AuditLogEntry{TxID: txID, Event: EventRetryGivenUp, Status: "FAILURE", Detail: detail})
}

// LogNonceRefreshed records that the durable-nonce bundle fetched fresh
// nonce values while network access was available.
func (l *AuditLogger) LogNonceRefreshed(count int) error {
	return l.Log(AuditLogEntry{Event: EventNonceRefreshed, Status: "SUCCESS", Detail: fmt.Sprintf("%d entries refreshed", count)})
}

// LogCapacityRejected records that a queue rejected an item at capacity.
func (l *AuditLogger) LogCapacityRejected(txID, detail string) error {
	return l.Log(AuditLogEntry{TxID: txID, Event: EventCapacityRejected, Status: "FAILURE", Detail: detail})
}

// ReadLog reads every entry from the log file in file order.
func (l *AuditLogger) ReadLog() ([]AuditLogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(l.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []AuditLogEntry{}, nil
		}
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}

	var entries []AuditLogEntry
	lines := string(data)
	start := 0
	for i := 0; i < len(lines); i++ {
		if lines[i] == '\n' {
			if i > start {
				var entry AuditLogEntry
				if err := json.Unmarshal([]byte(lines[start:i]), &entry); err == nil {
					entries = append(entries, entry)
				}
			}
			start = i + 1
		}
	}
	if start < len(lines) {
		var entry AuditLogEntry
		if err := json.Unmarshal([]byte(lines[start:]), &entry); err == nil {
			entries = append(entries, entry)
		}
	}

	return entries, nil
}
