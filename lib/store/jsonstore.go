package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// JSONPeerStore is the default PeerStore: a single JSON file holding the
// last snapshot, advisory-locked so two processes sharing a data directory
// don't interleave writes. Grounded on persistence/peers_store.py.
type JSONPeerStore struct {
	path string
	mu   sync.Mutex // serialises this process's own writers
	lock *flock.Flock
}

// NewJSONPeerStore opens (without yet creating) the peer snapshot file at
// path.
func NewJSONPeerStore(path string) *JSONPeerStore {
	return &JSONPeerStore{path: path, lock: flock.New(path + ".lock")}
}

func (s *JSONPeerStore) Save(records map[string]PeerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.lock.Lock(); err != nil {
		return err
	}
	defer s.lock.Unlock()

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	b, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, b, 0o644)
}

func (s *JSONPeerStore) Load() (map[string]PeerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.lock.RLock(); err != nil {
		return nil, err
	}
	defer s.lock.Unlock()

	b, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]PeerRecord{}, nil
	}
	if err != nil {
		return nil, err
	}
	var out map[string]PeerRecord
	if err := json.Unmarshal(b, &out); err != nil || out == nil {
		return map[string]PeerRecord{}, nil
	}
	return out, nil
}

// jsonHistoryRecord is the on-disk shape of a history entry: the §6
// schema plus an internal content-hash field used only for the SPEC_FULL
// §3.1 dedup check, never surfaced through the HistoryRecord type callers
// see from Conversation.
type jsonHistoryRecord struct {
	HistoryRecord
	ContentHash string `json:"content_hash,omitempty"`
}

// JSONHistoryStore is the default HistoryStore: an append-only JSON array
// file. Grounded on persistence/history_store.py.
type JSONHistoryStore struct {
	path string
	mu   sync.Mutex
	lock *flock.Flock
}

// NewJSONHistoryStore opens the history file at path.
func NewJSONHistoryStore(path string) *JSONHistoryStore {
	return &JSONHistoryStore{path: path, lock: flock.New(path + ".lock")}
}

func (s *JSONHistoryStore) loadLocked() ([]jsonHistoryRecord, error) {
	b, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return nil, nil
	}
	var out []jsonHistoryRecord
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, nil
	}
	return out, nil
}

func (s *JSONHistoryStore) append(rec jsonHistoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.lock.Lock(); err != nil {
		return err
	}
	defer s.lock.Unlock()

	history, err := s.loadLocked()
	if err != nil {
		return err
	}
	history = append(history, rec)

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	b, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, b, 0o644)
}

func (s *JSONHistoryStore) AppendMessage(sender, recipient, message string, timestamp time.Time) error {
	return s.append(jsonHistoryRecord{HistoryRecord: HistoryRecord{
		Type:      RecordMessage,
		Sender:    sender,
		Recipient: recipient,
		Message:   message,
		Timestamp: timestamp,
	}})
}

func (s *JSONHistoryStore) AppendFile(sender, recipient, filename string, timestamp time.Time, contentHash string) error {
	rec := jsonHistoryRecord{
		HistoryRecord: HistoryRecord{
			Type:      RecordFile,
			Sender:    sender,
			Recipient: recipient,
			Filename:  filename,
			Timestamp: timestamp,
		},
		ContentHash: contentHash,
	}
	if dup, err := s.HasFileContent(sender, contentHash); err != nil {
		return err
	} else if dup {
		rec.ContentExists = contentHash
	}
	return s.append(rec)
}

func (s *JSONHistoryStore) HasFileContent(sender, contentHash string) (bool, error) {
	if contentHash == "" {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.lock.RLock(); err != nil {
		return false, err
	}
	defer s.lock.Unlock()

	history, err := s.loadLocked()
	if err != nil {
		return false, err
	}
	for _, rec := range history {
		if rec.Type == RecordFile && rec.Sender == sender && rec.ContentHash == contentHash {
			return true, nil
		}
	}
	return false, nil
}

func (s *JSONHistoryStore) Conversation(peer string) ([]HistoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.lock.RLock(); err != nil {
		return nil, err
	}
	defer s.lock.Unlock()

	history, err := s.loadLocked()
	if err != nil {
		return nil, err
	}

	var out []HistoryRecord
	for _, rec := range history {
		switch {
		case peer == GlobalRecipient:
			if rec.Recipient == GlobalRecipient {
				out = append(out, rec.HistoryRecord)
			}
		case rec.Sender == peer, rec.Recipient == peer:
			out = append(out, rec.HistoryRecord)
		case rec.Recipient == GlobalRecipient && rec.Sender != peer:
			out = append(out, rec.HistoryRecord)
		}
	}
	return out, nil
}

// Sha256Hex content-addresses b; the messaging layer uses this to hash
// received file bytes for the SPEC_FULL §3.1 dedup check.
func Sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
