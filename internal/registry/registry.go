// Package registry maps live-broadcast ids to their one active session and
// tracks which participants are currently connected, for presence
// filtering. Sessions are loaded from the store on first use and kept in
// memory while referenced.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"codecast/collabd/internal/identity"
	"codecast/collabd/internal/session"
	"codecast/collabd/internal/store"
	"codecast/collabd/pkg/logger"
)

var (
	// ErrNotFound is returned when no session exists for a broadcast.
	ErrNotFound = errors.New("no session for broadcast")

	// ErrExists is returned when a broadcast already has its session; the
	// binding is strictly 1:1.
	ErrExists = errors.New("broadcast already has a session")
)

// Registry owns the broadcast -> session map and the connected set.
type Registry struct {
	mu        sync.RWMutex
	store     *store.Store
	oracle    identity.Oracle
	sessions  map[string]*session.Session // keyed by broadcast id
	connected map[string]map[string]int   // broadcast -> user -> connection count
}

// New creates a registry backed by the given store and identity oracle.
func New(st *store.Store, oracle identity.Oracle) *Registry {
	return &Registry{
		store:     st,
		oracle:    oracle,
		sessions:  make(map[string]*session.Session),
		connected: make(map[string]map[string]int),
	}
}

// Create makes the session for a broadcast, seeds its buffer, and persists
// it. Fails if the broadcast is already bound to a session.
func (r *Registry) Create(broadcastID, language, theme string, lines []string) (*session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[broadcastID]; ok {
		return nil, ErrExists
	}
	if _, err := r.store.SessionByBroadcast(broadcastID); err == nil {
		return nil, ErrExists
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	rec := store.SessionRecord{
		ID:        uuid.NewString(),
		Broadcast: broadcastID,
		Language:  language,
		Theme:     theme,
		Active:    true,
		CreatedTS: time.Now().UTC().UnixNano(),
	}
	if err := r.store.SaveSession(rec); err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}
	sess := session.New(r.store, r.oracle, rec)
	if err := sess.InitializeCode(lines); err != nil {
		return nil, err
	}
	r.sessions[broadcastID] = sess
	logger.Info("session_created", "broadcast", broadcastID, "session", rec.ID)
	return sess, nil
}

// Get returns the broadcast's session, loading it from the store if it is
// not already live in this process. The sequence counter is recovered from
// the log tail on load, so gapless assignment survives restarts.
func (r *Registry) Get(broadcastID string) (*session.Session, error) {
	r.mu.RLock()
	sess, ok := r.sessions[broadcastID]
	r.mu.RUnlock()
	if ok {
		return sess, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.sessions[broadcastID]; ok {
		return sess, nil
	}
	rec, err := r.store.SessionByBroadcast(broadcastID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	max, err := r.store.MaxSeq(rec.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to recover sequence counter: %w", err)
	}
	if max > rec.LastSeq {
		logger.Warn("sequence_counter_recovered", "session", rec.ID, "record", rec.LastSeq, "log", max)
		rec.LastSeq = max
	}
	sess = session.New(r.store, r.oracle, rec)
	r.sessions[broadcastID] = sess
	logger.Info("session_loaded", "broadcast", broadcastID, "session", rec.ID, "last_seq", rec.LastSeq)
	return sess, nil
}

// Connect records one live connection for the user on the broadcast.
// Connections are refcounted so a user with two editor tabs stays present
// until the last one closes.
func (r *Registry) Connect(broadcastID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.connected[broadcastID] == nil {
		r.connected[broadcastID] = make(map[string]int)
	}
	r.connected[broadcastID][userID]++
}

// Disconnect releases one live connection.
func (r *Registry) Disconnect(broadcastID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	users, ok := r.connected[broadcastID]
	if !ok {
		return
	}
	users[userID]--
	if users[userID] <= 0 {
		delete(users, userID)
	}
	if len(users) == 0 {
		delete(r.connected, broadcastID)
	}
}

// IsConnected reports whether the user currently has a live connection on
// the broadcast.
func (r *Registry) IsConnected(broadcastID, userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connected[broadcastID][userID] > 0
}

// ConnectedFilter returns the predicate sessions use to filter presence to
// currently connected participants.
func (r *Registry) ConnectedFilter(broadcastID string) func(string) bool {
	return func(userID string) bool {
		return r.IsConnected(broadcastID, userID)
	}
}
