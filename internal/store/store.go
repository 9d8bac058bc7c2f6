// Package store persists session records and their append-only operation
// logs in a single pebble database. The log is the durable source of truth;
// the session record's buffer is a derived cache refreshed on every append.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"

	"codecast/collabd/pkg/logger"
)

// ErrNotFound is returned when a session record or broadcast binding does
// not exist.
var ErrNotFound = errors.New("not found")

// SessionRecord is the persisted shape of a session: identity, metadata,
// the buffer snapshot as a line array, and the last assigned sequence
// number. Cursors and selections are ephemeral and never stored.
type SessionRecord struct {
	ID        string   `json:"id"`
	Broadcast string   `json:"broadcast"`
	Language  string   `json:"language,omitempty"`
	Theme     string   `json:"theme,omitempty"`
	Original  []string `json:"original"`
	Lines     []string `json:"lines"`
	Active    bool     `json:"active"`
	LastSeq   uint64   `json:"last_seq"`
	CreatedTS int64    `json:"created_ts"`
	UpdatedTS int64    `json:"updated_ts"`
}

// Store wraps the pebble database.
type Store struct {
	db   *pebble.DB
	path string
}

// Open opens (creating if needed) the pebble database at path.
func Open(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open store at %s: %w", path, err)
	}
	logger.Info("store_opened", "path", path)
	return &Store{db: db, path: path}, nil
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveSession writes the session record and its broadcast index entry.
func (s *Store) SaveSession(rec SessionRecord) error {
	rec.UpdatedTS = time.Now().UTC().UnixNano()
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal session record: %w", err)
	}
	batch := s.db.NewBatch()
	if err := batch.Set(sessionKey(rec.ID), data, nil); err != nil {
		return err
	}
	if err := batch.Set(broadcastKey(rec.Broadcast), []byte(rec.ID), nil); err != nil {
		return err
	}
	if err := s.db.Apply(batch, pebble.Sync); err != nil {
		logger.Error("save_session_failed", "session", rec.ID, "error", err)
		return err
	}
	return nil
}

// GetSession reads a session record by its session key.
func (s *Store) GetSession(sessionID string) (SessionRecord, error) {
	var rec SessionRecord
	data, closer, err := s.db.Get(sessionKey(sessionID))
	if errors.Is(err, pebble.ErrNotFound) {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, err
	}
	defer closer.Close()
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("corrupt session record %s: %w", sessionID, err)
	}
	return rec, nil
}

// SessionByBroadcast resolves the 1:1 broadcast binding to its session.
func (s *Store) SessionByBroadcast(broadcastID string) (SessionRecord, error) {
	data, closer, err := s.db.Get(broadcastKey(broadcastID))
	if errors.Is(err, pebble.ErrNotFound) {
		return SessionRecord{}, ErrNotFound
	}
	if err != nil {
		return SessionRecord{}, err
	}
	id := string(data)
	closer.Close()
	return s.GetSession(id)
}
