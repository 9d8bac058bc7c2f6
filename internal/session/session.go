// Package session holds the authoritative state of one collaborative
// editing session: the current buffer, ephemeral presence maps, and the
// single mutation entry point that assigns sequence numbers.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"codecast/collabd/internal/buffer"
	"codecast/collabd/internal/identity"
	"codecast/collabd/internal/operation"
	"codecast/collabd/internal/store"
	"codecast/collabd/pkg/telemetry"
)

var (
	// ErrNotAuthorized is returned before any sequence number is assigned
	// when the author lacks edit permission. Never silently dropped.
	ErrNotAuthorized = errors.New("user is not authorized to edit this session")

	// ErrInactive is returned when a mutating operation reaches a
	// deactivated session. Reads are still served.
	ErrInactive = errors.New("session is inactive")

	// ErrUninitialized is returned when an operation arrives before
	// InitializeCode has seeded the buffer.
	ErrUninitialized = errors.New("session buffer is not initialized")

	// ErrInitialized is returned when InitializeCode is called twice.
	ErrInitialized = errors.New("session buffer is already initialized")
)

// Range is a half-open selection range [Start, End) in flat buffer offsets.
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Presence is the filtered, ephemeral cursor and selection state of the
// currently visible editors.
type Presence struct {
	Cursors    map[string]int   `json:"cursors"`
	Selections map[string]Range `json:"selections"`
}

// Journal is the durable home of a session's record and operation log.
// *store.Store satisfies it; tests may substitute an in-memory journal.
type Journal interface {
	SaveSession(rec store.SessionRecord) error
	AppendOperation(rec store.SessionRecord, op operation.Operation) error
	OperationsSince(sessionID string, after uint64) ([]operation.Operation, error)
}

// Session owns its buffer, log tail and presence maps exclusively. All
// mutations are serialized by the session mutex: sequence assignment and
// buffer application commit together or not at all, so two concurrent
// authors can never observe the same sequence number.
type Session struct {
	mu         sync.RWMutex
	journal    Journal
	oracle     identity.Oracle
	rec        store.SessionRecord
	cursors    map[string]int
	selections map[string]Range
}

// New wraps a session record loaded from (or about to be written to) the
// journal. The record's LastSeq must already reflect the log tail.
func New(journal Journal, oracle identity.Oracle, rec store.SessionRecord) *Session {
	return &Session{
		journal:    journal,
		oracle:     oracle,
		rec:        rec,
		cursors:    make(map[string]int),
		selections: make(map[string]Range),
	}
}

// ID returns the opaque session key.
func (s *Session) ID() string { return s.rec.ID }

// Broadcast returns the owning broadcast id.
func (s *Session) Broadcast() string { return s.rec.Broadcast }

// InitializeCode seeds both the original and current buffer. It must be
// called exactly once, before any operation is recorded.
func (s *Session) InitializeCode(lines []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec.Original != nil {
		return ErrInitialized
	}
	// An empty buffer is still one empty line; seeding it keeps Original
	// non-nil, which is what marks the session initialized.
	if len(lines) == 0 {
		lines = []string{""}
	}
	s.rec.Original = append([]string(nil), lines...)
	s.rec.Lines = append([]string(nil), lines...)
	if err := s.journal.SaveSession(s.rec); err != nil {
		return fmt.Errorf("failed to persist initial buffer: %w", err)
	}
	return nil
}

// RecordOperation is the single mutation entry point. It gates the author
// through the identity oracle, assigns the next sequence number, appends
// the operation and the refreshed record atomically, applies the edit to
// the buffer, and returns the persisted operation for broadcast.
//
// Malformed payloads and unknown kinds are still appended as historical
// fact; they just never change the buffer.
func (s *Session) RecordOperation(userID string, kind operation.Kind, p operation.Payload) (operation.Operation, error) {
	if !s.oracle.CanEdit(s.rec.Broadcast, userID) {
		return operation.Operation{}, ErrNotAuthorized
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec.Original == nil {
		return operation.Operation{}, ErrUninitialized
	}
	if !s.rec.Active {
		return operation.Operation{}, ErrInactive
	}

	op := operation.Operation{
		SessionID:  s.rec.ID,
		Seq:        s.rec.LastSeq + 1,
		Kind:       kind,
		Payload:    p,
		AuthorID:   userID,
		AuthorName: s.oracle.Profile(userID).DisplayName,
		TS:         time.Now().UTC(),
	}

	flat := buffer.LinesToString(s.rec.Lines)
	op.CaptureOriginal(flat)

	next := s.rec
	next.LastSeq = op.Seq
	if op.Mutates() {
		next.Lines = buffer.StringToLines(op.Apply(flat))
	}
	if err := s.journal.AppendOperation(next, op); err != nil {
		return operation.Operation{}, fmt.Errorf("failed to append operation: %w", err)
	}
	s.rec = next
	telemetry.OperationsRecorded.WithLabelValues(string(kind)).Inc()
	return op, nil
}

// OperationsSince returns every logged operation with sequence number
// strictly greater than after, ascending. Served even when the session is
// inactive, so reconnecting clients can finish their catch-up read.
func (s *Session) OperationsSince(after uint64) ([]operation.Operation, error) {
	ops, err := s.journal.OperationsSince(s.rec.ID, after)
	if err != nil {
		return nil, err
	}
	telemetry.CatchupReads.Inc()
	return ops, nil
}

// UpdateCursor overwrites the user's cursor offset, last write wins.
// Presence updates are gated like edits but are never durably logged.
func (s *Session) UpdateCursor(userID string, pos int) error {
	if !s.oracle.CanEdit(s.rec.Broadcast, userID) {
		return ErrNotAuthorized
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[userID] = pos
	return nil
}

// UpdateSelection overwrites the user's selection range, last write wins.
func (s *Session) UpdateSelection(userID string, r Range) error {
	if !s.oracle.CanEdit(s.rec.Broadcast, userID) {
		return ErrNotAuthorized
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selections[userID] = r
	return nil
}

// ActivePresence returns cursor and selection entries for users that are
// currently connected and still hold edit permission. Stale entries are
// hidden, not deleted, so a user who reconnects without re-sending a
// cursor update reappears where they were.
func (s *Session) ActivePresence(connected func(userID string) bool) Presence {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p := Presence{
		Cursors:    make(map[string]int),
		Selections: make(map[string]Range),
	}
	for user, pos := range s.cursors {
		if connected(user) && s.oracle.CanEdit(s.rec.Broadcast, user) {
			p.Cursors[user] = pos
		}
	}
	for user, r := range s.selections {
		if connected(user) && s.oracle.CanEdit(s.rec.Broadcast, user) {
			p.Selections[user] = r
		}
	}
	return p
}

// Activate re-enables recording of new operations.
func (s *Session) Activate() error { return s.setActive(true) }

// Deactivate stops new operations from being recorded; reads still work.
func (s *Session) Deactivate() error { return s.setActive(false) }

func (s *Session) setActive(active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec.Active == active {
		return nil
	}
	s.rec.Active = active
	if err := s.journal.SaveSession(s.rec); err != nil {
		return fmt.Errorf("failed to persist active flag: %w", err)
	}
	return nil
}

// Active reports whether the session currently accepts mutations.
func (s *Session) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rec.Active
}

// Snapshot returns a copy of the persisted session state.
func (s *Session) Snapshot() store.SessionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec := s.rec
	rec.Lines = append([]string(nil), rec.Lines...)
	rec.Original = append([]string(nil), rec.Original...)
	return rec
}
