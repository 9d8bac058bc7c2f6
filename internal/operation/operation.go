// Package operation defines the immutable, sequenced edit and presence
// events a collaborative session records and broadcasts.
package operation

import (
	"time"

	"codecast/collabd/internal/buffer"
)

// Kind identifies what an operation does to the session.
type Kind string

const (
	KindInsert     Kind = "insert"
	KindDelete     Kind = "delete"
	KindReplace    Kind = "replace"
	KindCursorMove Kind = "cursor_move"
	KindSelection  Kind = "selection"
)

// MetaOriginalContent is the metadata key under which the text removed by a
// delete or replace is captured at record time. Without it those kinds have
// no lossless inverse.
const MetaOriginalContent = "original_content"

// Payload carries the kind-dependent fields of an operation. Pointer fields
// distinguish "absent" from zero values; an operation whose kind requires a
// field that is absent resolves to a structural no-op rather than an error.
type Payload struct {
	Position *int           `json:"position,omitempty"`
	Length   *int           `json:"length,omitempty"`
	Content  *string        `json:"content,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Operation is one immutable entry in a session's log. Identity is
// (SessionID, Seq); Seq is assigned at append time and never reused.
type Operation struct {
	SessionID string `json:"session_id"`
	Seq       uint64 `json:"seq"`
	Kind      Kind   `json:"type"`
	Payload
	AuthorID   string    `json:"author_id"`
	AuthorName string    `json:"author_name,omitempty"`
	TS         time.Time `json:"ts"`
}

// edit is the resolved buffer splice an operation performs. Resolving once
// here is what makes the silent no-op policy structural: every malformed or
// presence-only operation simply has no edit.
type edit struct {
	pos    int
	del    int
	insert string
}

// editSpec resolves the operation into its buffer splice. The second return
// is false for presence kinds, unknown kinds, and payloads missing a field
// their kind requires.
func (o *Operation) editSpec() (edit, bool) {
	switch o.Kind {
	case KindInsert:
		if o.Position == nil || o.Content == nil {
			return edit{}, false
		}
		return edit{pos: *o.Position, insert: *o.Content}, true
	case KindDelete:
		if o.Position == nil || o.Length == nil {
			return edit{}, false
		}
		return edit{pos: *o.Position, del: *o.Length}, true
	case KindReplace:
		if o.Position == nil || o.Length == nil || o.Content == nil {
			return edit{}, false
		}
		return edit{pos: *o.Position, del: *o.Length, insert: *o.Content}, true
	}
	return edit{}, false
}

// Mutates reports whether applying the operation can change a buffer.
func (o *Operation) Mutates() bool {
	_, ok := o.editSpec()
	return ok
}

// Apply returns the buffer after this operation. It is a pure function of
// the operation and its input: no-edit operations return the buffer
// unchanged, and offsets are clamped so Apply never fails.
func (o *Operation) Apply(s string) string {
	e, ok := o.editSpec()
	if !ok {
		return s
	}
	return buffer.Splice(s, e.pos, e.del, e.insert)
}

// CaptureOriginal records the text a delete or replace is about to remove
// into the operation's metadata, so Inverse can restore it. Call before the
// operation is applied; it is a no-op for other kinds.
func (o *Operation) CaptureOriginal(s string) {
	if o.Kind != KindDelete && o.Kind != KindReplace {
		return
	}
	e, ok := o.editSpec()
	if !ok {
		return
	}
	if o.Metadata == nil {
		o.Metadata = make(map[string]any, 1)
	}
	o.Metadata[MetaOriginalContent] = buffer.Cut(s, e.pos, e.del)
}

// originalContent returns the captured removed text, if any.
func (o *Operation) originalContent() (string, bool) {
	if o.Metadata == nil {
		return "", false
	}
	v, ok := o.Metadata[MetaOriginalContent]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Inverse returns the payload of the operation that undoes this one when
// applied immediately after it. Presence and no-edit operations have no
// meaningful inverse and yield an empty payload. A delete or replace whose
// original content was never captured degrades to inserting the empty
// string, which is lossy.
func (o *Operation) Inverse() (Kind, Payload) {
	e, ok := o.editSpec()
	if !ok {
		return "", Payload{}
	}
	pos := e.pos
	switch o.Kind {
	case KindInsert:
		n := len(e.insert)
		return KindDelete, Payload{Position: &pos, Length: &n}
	case KindDelete:
		orig, _ := o.originalContent()
		return KindInsert, Payload{Position: &pos, Content: &orig}
	case KindReplace:
		orig, _ := o.originalContent()
		n := len(e.insert)
		return KindReplace, Payload{Position: &pos, Length: &n, Content: &orig}
	}
	return "", Payload{}
}

// AffectedRange returns the half-open character range [start, end) this
// operation touches, for consumers that highlight the changed region.
// Presence and no-edit operations affect nothing.
func (o *Operation) AffectedRange() (int, int) {
	e, ok := o.editSpec()
	if !ok {
		return 0, 0
	}
	switch o.Kind {
	case KindInsert:
		return e.pos, e.pos + len(e.insert)
	default:
		return e.pos, e.pos + e.del
	}
}
