// Package storage implements crash-safe, debounced, atomic persistence for
// the relay engine's three queues (spec.md §4.G).
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
)

// DefaultDebounce is how long save_if_needed waits between actual disk
// writes (spec.md §6, default 5s).
const DefaultDebounce = 5 * time.Second

// compressThresholdBytes bounds when a persisted queue file is worth zstd
// compression; an engine that has accumulated thousands of queued
// transactions produces a multi-megabyte snapshot on every debounce tick,
// and most of that is base64 transaction bytes that compress well.
const compressThresholdBytes = 4096

const (
	fileFlagRaw        byte = 0x00
	fileFlagCompressed byte = 0x01
)

var fileEncoderPool = sync.Pool{
	New: func() interface{} {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			panic(err)
		}
		return enc
	},
}

var fileDecoderPool = sync.Pool{
	New: func() interface{} {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			panic(err)
		}
		return dec
	},
}

const (
	outboundFile     = "outbound_queue.json"
	retryFile        = "retry_queue.json"
	confirmationFile = "confirmation_queue.json"
)

// OutboundEntry is the persisted form of an OutboundItem. Fragments are
// derived, not persisted — only OriginalBytes travels to disk (spec.md §3,
// §4.G "persists original bytes only").
type OutboundEntry struct {
	TxID          string    `json:"tx_id"`
	OriginalBytes []byte    `json:"original_bytes_b64"`
	Priority      int       `json:"priority"`
	CreatedAt     time.Time `json:"created_at"`
	RetryCount    int       `json:"retry_count"`
}

// OutboundFile is the on-disk shape of outbound_queue.json.
type OutboundFile struct {
	Version int             `json:"version"`
	High    []OutboundEntry `json:"high"`
	Normal  []OutboundEntry `json:"normal"`
	Low     []OutboundEntry `json:"low"`
	SavedAt int64           `json:"saved_at"`
}

// RetryEntry is the persisted form of a RetryItem.
type RetryEntry struct {
	TxID           string `json:"tx_id"`
	Bytes          []byte `json:"bytes_b64"`
	AttemptCount   int    `json:"attempt_count"`
	LastError      string `json:"last_error"`
	FirstAttemptMs int64  `json:"first_attempt_ms"`
	NextRetryMs    int64  `json:"next_retry_ms"`
	Strategy       string `json:"strategy"`
}

// RetryFile is the on-disk shape of retry_queue.json.
type RetryFile struct {
	Version int          `json:"version"`
	Items   []RetryEntry `json:"items"`
	SavedAt int64        `json:"saved_at"`
}

// ConfirmationEntry is the persisted form of a Confirmation.
type ConfirmationEntry struct {
	TxID      string          `json:"tx_id"`
	Status    json.RawMessage `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	HopCount  uint8           `json:"hop_count"`
}

// ConfirmationFile is the on-disk shape of confirmation_queue.json.
type ConfirmationFile struct {
	Version int                 `json:"version"`
	Items   []ConfirmationEntry `json:"items"`
	SavedAt int64               `json:"saved_at"`
}

// Snapshot is everything QueueStore persists in one call: plain data,
// decoupled from the relay package's live queue types so storage has no
// import-cycle back onto relay.
type Snapshot struct {
	Outbound     OutboundFile
	Retry        RetryFile
	Confirmation ConfirmationFile
}

// QueueStore is the atomic, debounced persistence layer of component G.
// Writes go through a temp file + fsync + rename so a crash mid-write always
// leaves either the previous or the new valid file, never a truncated one.
type QueueStore struct {
	mu        sync.Mutex
	dir       string
	debounce  time.Duration
	lastSave  time.Time
	log       *zap.Logger
}

// NewQueueStore constructs a QueueStore rooted at dir (created if absent).
// A zero debounce selects DefaultDebounce.
func NewQueueStore(dir string, debounce time.Duration, log *zap.Logger) (*QueueStore, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return &QueueStore{dir: dir, debounce: debounce, log: log}, nil
}

// LoadAll reads each of the three queue files if present. A missing file
// yields an empty queue; a file that fails to parse is logged as a warning
// and treated as empty — loading must never fail engine startup.
func (s *QueueStore) LoadAll() Snapshot {
	snap := Snapshot{
		Outbound:     OutboundFile{Version: 1},
		Retry:        RetryFile{Version: 1},
		Confirmation: ConfirmationFile{Version: 1},
	}

	if !s.readJSON(outboundFile, &snap.Outbound) {
		snap.Outbound = OutboundFile{Version: 1}
	}
	if !s.readJSON(retryFile, &snap.Retry) {
		snap.Retry = RetryFile{Version: 1}
	}
	if !s.readJSON(confirmationFile, &snap.Confirmation) {
		snap.Confirmation = ConfirmationFile{Version: 1}
	}
	return snap
}

func (s *QueueStore) readJSON(name string, out interface{}) bool {
	ok, err := ReadJSON(s.dir, name, out)
	if err != nil {
		s.log.Warn("persisted queue file is corrupt, starting empty; next save will overwrite it",
			zap.String("file", name), zap.Error(err))
		return false
	}
	if !ok {
		return false
	}
	return true
}

// Dir returns the directory this store persists to, so sibling persistence
// (e.g. the nonce bundle file) can share the same storage_directory.
func (s *QueueStore) Dir() string {
	return s.dir
}

// ReadJSON reads "<dir>/<name>" and unmarshals it into out. Returns
// (false, nil) if the file does not exist — a missing file is not an error,
// callers should fall back to an empty/default value. Returns (false, err)
// if the file exists but fails to parse, so the caller can log and recover
// by treating it as empty, per spec.md §4.G "graceful corruption recovery".
func ReadJSON(dir, name string, out interface{}) (bool, error) {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}

	flag, body := data[0], data[1:]
	if flag == fileFlagCompressed {
		dec := fileDecoderPool.Get().(*zstd.Decoder)
		defer fileDecoderPool.Put(dec)
		decompressed, err := dec.DecodeAll(body, nil)
		if err != nil {
			return false, fmt.Errorf("decompress: %w", err)
		}
		body = decompressed
	}

	if err := json.Unmarshal(body, out); err != nil {
		return false, err
	}
	return true, nil
}

// WriteAtomicJSON serializes v and writes it to "<dir>/<name>" via the
// temp-file + fsync + rename protocol shared by every persisted file in the
// engine (queues and the nonce bundle alike).
func WriteAtomicJSON(dir, name string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	flag := fileFlagRaw
	if len(data) > compressThresholdBytes {
		enc := fileEncoderPool.Get().(*zstd.Encoder)
		data = enc.EncodeAll(data, nil)
		fileEncoderPool.Put(enc)
		flag = fileFlagCompressed
	}
	data = append([]byte{flag}, data...)

	path := filepath.Join(dir, name)
	tmpPath := path + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// SaveIfNeeded writes snap to disk unless fewer than the configured debounce
// interval has elapsed since the last save.
func (s *QueueStore) SaveIfNeeded(snap Snapshot) error {
	s.mu.Lock()
	if time.Since(s.lastSave) < s.debounce {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return s.ForceSave(snap)
}

// ForceSave bypasses the debounce and writes snap to disk immediately. Used
// on clean shutdown and by tests asserting crash-safety.
func (s *QueueStore) ForceSave(snap Snapshot) error {
	now := time.Now()
	snap.Outbound.Version = 1
	snap.Outbound.SavedAt = now.Unix()
	snap.Retry.Version = 1
	snap.Retry.SavedAt = now.Unix()
	snap.Confirmation.Version = 1
	snap.Confirmation.SavedAt = now.Unix()

	if err := s.writeAtomic(outboundFile, snap.Outbound); err != nil {
		return fmt.Errorf("save outbound queue: %w", err)
	}
	if err := s.writeAtomic(retryFile, snap.Retry); err != nil {
		return fmt.Errorf("save retry queue: %w", err)
	}
	if err := s.writeAtomic(confirmationFile, snap.Confirmation); err != nil {
		return fmt.Errorf("save confirmation queue: %w", err)
	}

	s.mu.Lock()
	s.lastSave = now
	s.mu.Unlock()
	return nil
}

// writeAtomic serializes v and writes it to "<name>" in the store's
// directory via the shared temp-file + fsync + rename protocol.
func (s *QueueStore) writeAtomic(name string, v interface{}) error {
	return WriteAtomicJSON(s.dir, name, v)
}
