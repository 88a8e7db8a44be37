package storage

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Backend is durable storage for serialized profiles, keyed by user id.
// Write must replace the previous copy atomically: a failed Write leaves
// the old data readable.
type Backend interface {
	Read(userID string) ([]byte, error)
	Write(userID string, data []byte) error
	Delete(userID string) error
	List() ([]string, error)
	Close() error
}

// TurnLogger is implemented by backends that keep an append-only history
// of turns next to the profile itself.
type TurnLogger interface {
	// WriteWithLog stores the profile and appends entries in one transaction.
	WriteWithLog(userID string, data []byte, entries []LogEntry) error
	// TurnLog returns up to limit entries for userID, newest first.
	TurnLog(userID string, limit int) ([]LogEntry, error)
}

// LogEntry is one row of the turn log.
type LogEntry struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	Payload   string // JSON-encoded turn record
}

// Backend kinds accepted by Open.
const (
	KindFile   = "file"
	KindSQLite = "sqlite"
)

// Open returns the backend named by kind rooted at dataDir.
func Open(kind, dataDir string) (Backend, error) {
	switch kind {
	case KindFile, "":
		return OpenFiles(dataDir)
	case KindSQLite:
		return OpenSQLite(dataDir)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", kind)
	}
}
