package relay

import (
	"encoding/json"
	"encoding/hex"
	"time"

	"github.com/yourusername/meshrelay/internal/relay/storage"
)

// restoreFromSnapshot rehydrates the three persisted queues from snap.
// Outbound fragments are never persisted (spec.md §4.G); they are
// regenerated on demand from OriginalBytes by the fragmenter.
func (e *Engine) restoreFromSnapshot(snap storage.Snapshot) error {
	toOutboundItems := func(entries []storage.OutboundEntry, priority Priority) ([]*OutboundItem, error) {
		items := make([]*OutboundItem, 0, len(entries))
		for _, entry := range entries {
			txID, err := txIDFromHex(entry.TxID)
			if err != nil {
				return nil, err
			}
			items = append(items, &OutboundItem{
				TxID:          txID,
				OriginalBytes: entry.OriginalBytes,
				Priority:      priority,
				CreatedAt:     entry.CreatedAt,
				RetryCount:    entry.RetryCount,
				MaxRetries:    DefaultMaxRetries,
			})
		}
		return items, nil
	}

	high, err := toOutboundItems(snap.Outbound.High, PriorityHigh)
	if err != nil {
		return err
	}
	normal, err := toOutboundItems(snap.Outbound.Normal, PriorityNormal)
	if err != nil {
		return err
	}
	low, err := toOutboundItems(snap.Outbound.Low, PriorityLow)
	if err != nil {
		return err
	}
	e.outboundQueue.Restore(high, normal, low)

	retryItems := make([]*RetryItem, 0, len(snap.Retry.Items))
	for _, entry := range snap.Retry.Items {
		txID, err := txIDFromHex(entry.TxID)
		if err != nil {
			return err
		}
		retryItems = append(retryItems, &RetryItem{
			TxID:           txID,
			OriginalBytes:  entry.Bytes,
			AttemptCount:   entry.AttemptCount,
			LastError:      entry.LastError,
			FirstAttemptAt: time.UnixMilli(entry.FirstAttemptMs),
			NextRetryAt:    time.UnixMilli(entry.NextRetryMs),
			Strategy:       backoffFromName(entry.Strategy),
		})
	}
	e.retryQueue.Restore(retryItems)

	confirmations := make([]*Confirmation, 0, len(snap.Confirmation.Items))
	for _, entry := range snap.Confirmation.Items {
		txID, err := txIDFromHex(entry.TxID)
		if err != nil {
			return err
		}
		var status ConfirmationStatus
		if len(entry.Status) > 0 {
			if err := json.Unmarshal(entry.Status, &status); err != nil {
				return err
			}
		}
		confirmations = append(confirmations, &Confirmation{
			TxID:      txID,
			Status:    status,
			CreatedAt: entry.CreatedAt,
			HopCount:  entry.HopCount,
		})
	}
	e.confirmationQueue.Restore(confirmations)

	return nil
}

// snapshotNow captures the engine's current queue contents as a
// storage.Snapshot, ready for SaveIfNeeded/ForceSave.
func (e *Engine) snapshotNow() storage.Snapshot {
	high, normal, low := e.outboundQueue.Items()

	toEntries := func(items []*OutboundItem) []storage.OutboundEntry {
		entries := make([]storage.OutboundEntry, 0, len(items))
		for _, item := range items {
			entries = append(entries, storage.OutboundEntry{
				TxID:          item.TxID.String(),
				OriginalBytes: item.OriginalBytes,
				Priority:      int(item.Priority),
				CreatedAt:     item.CreatedAt,
				RetryCount:    item.RetryCount,
			})
		}
		return entries
	}

	retryEntries := make([]storage.RetryEntry, 0)
	for _, item := range e.retryQueue.Items() {
		retryEntries = append(retryEntries, storage.RetryEntry{
			TxID:           item.TxID.String(),
			Bytes:          item.OriginalBytes,
			AttemptCount:   item.AttemptCount,
			LastError:      item.LastError,
			FirstAttemptMs: item.FirstAttemptAt.UnixMilli(),
			NextRetryMs:    item.NextRetryAt.UnixMilli(),
			Strategy:       backoffName(item.Strategy),
		})
	}

	confirmationEntries := make([]storage.ConfirmationEntry, 0)
	for _, conf := range e.confirmationQueue.Items() {
		statusJSON, _ := json.Marshal(conf.Status)
		confirmationEntries = append(confirmationEntries, storage.ConfirmationEntry{
			TxID:      conf.TxID.String(),
			Status:    statusJSON,
			CreatedAt: conf.CreatedAt,
			HopCount:  conf.HopCount,
		})
	}

	return storage.Snapshot{
		Outbound: storage.OutboundFile{
			High:   toEntries(high),
			Normal: toEntries(normal),
			Low:    toEntries(low),
		},
		Retry: storage.RetryFile{
			Items: retryEntries,
		},
		Confirmation: storage.ConfirmationFile{
			Items: confirmationEntries,
		},
	}
}

func txIDFromHex(s string) (TxID, error) {
	var id TxID
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return id, err
	}
	copy(id[:], decoded)
	return id, nil
}

func backoffName(s BackoffStrategy) string {
	switch s.Kind {
	case BackoffLinear:
		return "linear"
	case BackoffFixed:
		return "fixed"
	default:
		return "exponential"
	}
}

func backoffFromName(name string) BackoffStrategy {
	switch name {
	case "linear":
		return BackoffStrategy{Kind: BackoffLinear, Increment: 2 * time.Second}
	case "fixed":
		return BackoffStrategy{Kind: BackoffFixed, Interval: 10 * time.Second}
	default:
		return DefaultBackoff()
	}
}
