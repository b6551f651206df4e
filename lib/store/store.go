// Package store defines the PeerStore and HistoryStore collaborator
// interfaces the core writes structured records to (spec §1, §6), plus
// default JSON file-backed implementations of both.
package store

import "time"

// PeerStatus is the §6 peer-record status field.
type PeerStatus string

const (
	PeerConnected    PeerStatus = "connected"
	PeerDisconnected PeerStatus = "disconnected"
)

// PeerRecord is the §6 peer-record schema.
type PeerRecord struct {
	UID      string     `json:"uid"`
	Address  string     `json:"address"`
	LastSeen time.Time  `json:"last_seen"`
	Status   PeerStatus `json:"status"`
}

// RecordType distinguishes message and file history records.
type RecordType string

const (
	RecordMessage RecordType = "message"
	RecordFile    RecordType = "file"
)

// GlobalRecipient is the recipient value used for broadcast text messages.
const GlobalRecipient = "*global*"

// HistoryRecord is the §6 message/file history record schema. Message
// carries the text payload for RecordMessage entries; Filename carries the
// suggested name for RecordFile entries; ContentExists records the
// content-hash dedup outcome from SPEC_FULL §3.1 (empty for message
// records, and for file records when no duplicate was found).
type HistoryRecord struct {
	Type          RecordType `json:"type"`
	Sender        string     `json:"sender"`
	Recipient     string     `json:"recipient"`
	Message       string     `json:"message,omitempty"`
	Filename      string     `json:"filename,omitempty"`
	ContentExists string     `json:"duplicate_of,omitempty"`
	Timestamp     time.Time  `json:"timestamp"`
}

// PeerStore is the external collaborator the core hands periodic peer
// snapshots to (spec §4.3's persistence loop) and asks for a prior
// snapshot to seed from at startup (SPEC_FULL §3.3). Its on-disk encoding
// is not constrained by the protocol.
type PeerStore interface {
	// Save replaces the stored snapshot with records, keyed by trimmed UID.
	Save(records map[string]PeerRecord) error
	// Load returns the last saved snapshot, or an empty map if none exists.
	Load() (map[string]PeerRecord, error)
}

// HistoryStore is the external collaborator the core appends message and
// file records to.
type HistoryStore interface {
	AppendMessage(sender, recipient, message string, timestamp time.Time) error
	AppendFile(sender, recipient, filename string, timestamp time.Time, contentHash string) error

	// HasFileContent reports whether a file record from sender with the
	// given content hash has already been recorded (SPEC_FULL §3.1).
	HasFileContent(sender, contentHash string) (bool, error)

	// Conversation returns the interleaved private and global history
	// involving peer, following the original implementation's filter
	// (SPEC_FULL §3.2): peer's own sent/received records, plus global
	// broadcasts not authored by peer, when peer != GlobalRecipient; only
	// global broadcasts when peer == GlobalRecipient.
	Conversation(peer string) ([]HistoryRecord, error)
}
