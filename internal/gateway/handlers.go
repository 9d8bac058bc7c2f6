package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"codecast/collabd/internal/registry"
	"codecast/collabd/internal/session"
	"codecast/collabd/pkg/collabwire"
	"codecast/collabd/pkg/logger"
)

// createSessionRequest is the body of POST /sessions.
type createSessionRequest struct {
	BroadcastID string   `json:"broadcast_id"`
	Language    string   `json:"language"`
	Theme       string   `json:"theme"`
	Code        []string `json:"code"`
}

// snapshotResponse is what a joining client renders before catching up.
type snapshotResponse struct {
	SessionID  string                   `json:"session_id"`
	Broadcast  string                   `json:"broadcast"`
	Language   string                   `json:"language,omitempty"`
	Theme      string                   `json:"theme,omitempty"`
	Active     bool                     `json:"active"`
	LastSeq    uint64                   `json:"last_seq"`
	Lines      []string                 `json:"lines"`
	Cursors    map[string]int           `json:"cursors"`
	Selections map[string]session.Range `json:"selections"`
}

type operationsResponse struct {
	Operations []collabwire.OperationMessage `json:"operations"`
	LastSeq    uint64                        `json:"last_seq"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("respond_json_failed", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func (g *Gateway) snapshot(sess *session.Session) snapshotResponse {
	rec := sess.Snapshot()
	presence := sess.ActivePresence(g.registry.ConnectedFilter(rec.Broadcast))
	return snapshotResponse{
		SessionID:  rec.ID,
		Broadcast:  rec.Broadcast,
		Language:   rec.Language,
		Theme:      rec.Theme,
		Active:     rec.Active,
		LastSeq:    rec.LastSeq,
		Lines:      rec.Lines,
		Cursors:    presence.Cursors,
		Selections: presence.Selections,
	}
}

func (g *Gateway) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.BroadcastID == "" {
		respondError(w, http.StatusBadRequest, "broadcast_id is required")
		return
	}
	sess, err := g.registry.Create(req.BroadcastID, req.Language, req.Theme, req.Code)
	if errors.Is(err, registry.ErrExists) {
		respondError(w, http.StatusConflict, "broadcast already has a session")
		return
	}
	if err != nil {
		logger.Error("create_session_failed", "broadcast", req.BroadcastID, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	respondJSON(w, http.StatusCreated, g.snapshot(sess))
}

func (g *Gateway) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := g.lookup(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, g.snapshot(sess))
}

// handleOperationsSince is the catch-up read: every operation with a
// sequence number strictly greater than ?since, ascending. Served for
// inactive sessions too.
func (g *Gateway) handleOperationsSince(w http.ResponseWriter, r *http.Request) {
	sess, ok := g.lookup(w, r)
	if !ok {
		return
	}
	var since uint64
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "since must be a non-negative integer")
			return
		}
		since = parsed
	}
	ops, err := sess.OperationsSince(since)
	if err != nil {
		logger.Error("operations_since_failed", "session", sess.ID(), "error", err)
		respondError(w, http.StatusInternalServerError, "failed to read operations")
		return
	}
	msgs := make([]collabwire.OperationMessage, len(ops))
	for i, op := range ops {
		msgs[i] = collabwire.FromOperation(op)
	}
	respondJSON(w, http.StatusOK, operationsResponse{
		Operations: msgs,
		LastSeq:    sess.Snapshot().LastSeq,
	})
}

func (g *Gateway) handleSetActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := g.lookup(w, r)
		if !ok {
			return
		}
		var err error
		if active {
			err = sess.Activate()
		} else {
			err = sess.Deactivate()
		}
		if err != nil {
			logger.Error("set_active_failed", "session", sess.ID(), "active", active, "error", err)
			respondError(w, http.StatusInternalServerError, "failed to update session")
			return
		}
		respondJSON(w, http.StatusOK, g.snapshot(sess))
	}
}

// lookup resolves the {broadcast} path variable to its session, writing
// the 404 itself when absent.
func (g *Gateway) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	broadcastID := mux.Vars(r)["broadcast"]
	sess, err := g.registry.Get(broadcastID)
	if errors.Is(err, registry.ErrNotFound) {
		respondError(w, http.StatusNotFound, "no session for broadcast")
		return nil, false
	}
	if err != nil {
		logger.Error("session_lookup_failed", "broadcast", broadcastID, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to load session")
		return nil, false
	}
	return sess, true
}
