// Package collabwire defines the wire contract between the session engine
// and connected editor clients. Clients apply operation messages with the
// same splice semantics as the server, so optimistic rendering stays
// consistent with authoritative state.
package collabwire

import (
	"encoding/json"
	"time"

	"codecast/collabd/internal/operation"
)

// Message type discriminators for frames delivered over a session stream.
const (
	TypePresence      = "presence"
	TypePresencePatch = "presence_patch"
	TypeError         = "error"
)

// Intent is an inbound raw edit or presence intent from a client. Pointer
// fields distinguish absent from zero; the engine does not validate Type
// against an allow-list, so unknown types become inert logged operations.
type Intent struct {
	Type     string         `json:"type"`
	Position *int           `json:"position,omitempty"`
	Length   *int           `json:"length,omitempty"`
	Content  *string        `json:"content,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Author identifies the user an operation is attributed to.
type Author struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// OperationMessage is the unit of real-time delivery: one recorded
// operation, serialized for every connected participant.
type OperationMessage struct {
	SequenceNumber uint64         `json:"sequence_number"`
	Type           string         `json:"type"`
	Position       *int           `json:"position,omitempty"`
	Length         *int           `json:"length,omitempty"`
	Content        *string        `json:"content,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Author         Author         `json:"author"`
	Timestamp      string         `json:"timestamp"`
}

// FromOperation serializes a recorded operation into its broadcast message.
// The timestamp is ISO-8601 in UTC.
func FromOperation(op operation.Operation) OperationMessage {
	return OperationMessage{
		SequenceNumber: op.Seq,
		Type:           string(op.Kind),
		Position:       op.Position,
		Length:         op.Length,
		Content:        op.Content,
		Metadata:       op.Metadata,
		Author:         Author{ID: op.AuthorID, DisplayName: op.AuthorName},
		Timestamp:      op.TS.UTC().Format(time.RFC3339Nano),
	}
}

// SelectionRange is a half-open character range [Start, End).
type SelectionRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// PresenceMessage is a full snapshot of the filtered cursor and selection
// state for a session.
type PresenceMessage struct {
	Type       string                    `json:"type"`
	Cursors    map[string]int            `json:"cursors"`
	Selections map[string]SelectionRange `json:"selections"`
}

// PresencePatch carries an RFC 6902 patch from a subscriber's last-seen
// presence snapshot to the current one.
type PresencePatch struct {
	Type  string          `json:"type"`
	Patch json.RawMessage `json:"patch"`
}

// ErrorMessage reports a rejected intent back to its author, e.g. a
// permission denial.
type ErrorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}
