package gateway

import (
	"context"
	"encoding/json"
	"hash/crc32"

	"github.com/wI2L/jsondiff"

	"codecast/collabd/internal/session"
	"codecast/collabd/pkg/collabwire"
	"codecast/collabd/pkg/logger"
)

// Envelope kinds routed through the broadcast layer. Operation envelopes
// carry a fully serialized frame; presence envelopes carry the snapshot
// each subscriber diffs against its own last delivery.
const (
	envelopeOperation = "operation"
	envelopePresence  = "presence"
)

type envelope struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

func marshalEnvelope(kind string, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Kind: kind, Data: data})
}

// publishPresence pushes the current filtered presence snapshot into the
// session's broadcast channel. Each connection turns it into a full
// snapshot or a patch depending on what it last delivered.
func (g *Gateway) publishPresence(ctx context.Context, sess *session.Session) {
	p := sess.ActivePresence(g.registry.ConnectedFilter(sess.Broadcast()))
	msg, err := marshalEnvelope(envelopePresence, presenceSnapshot(p))
	if err != nil {
		logger.Error("presence_marshal_failed", "session", sess.ID(), "error", err)
		return
	}
	if err := g.caster.Publish(ctx, sess.ID(), msg); err != nil {
		logger.Error("presence_publish_failed", "session", sess.ID(), "error", err)
	}
}

func presenceSnapshot(p session.Presence) collabwire.PresenceMessage {
	msg := collabwire.PresenceMessage{
		Type:       collabwire.TypePresence,
		Cursors:    p.Cursors,
		Selections: make(map[string]collabwire.SelectionRange, len(p.Selections)),
	}
	for user, r := range p.Selections {
		msg.Selections[user] = collabwire.SelectionRange{Start: r.Start, End: r.End}
	}
	return msg
}

// presenceDiffer tracks one connection's last delivered presence snapshot
// and emits the smallest frame that brings the client up to date: nothing
// when the snapshot is unchanged, a patch when it drifted, and a full
// snapshot on first delivery or when diffing fails.
type presenceDiffer struct {
	last     json.RawMessage
	lastHash uint32
}

func (d *presenceDiffer) frame(snapshot json.RawMessage) ([]byte, error) {
	hash := crc32.ChecksumIEEE(snapshot)
	if d.last != nil && hash == d.lastHash {
		return nil, nil
	}
	defer func() {
		d.last = snapshot
		d.lastHash = hash
	}()

	if d.last == nil {
		return snapshot, nil
	}

	patch, err := jsondiff.CompareJSON(d.last, snapshot)
	if err != nil {
		logger.Warn("presence_diff_failed", "error", err)
		return snapshot, nil
	}
	if len(patch) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(patch)
	if err != nil {
		return nil, err
	}
	return json.Marshal(collabwire.PresencePatch{
		Type:  collabwire.TypePresencePatch,
		Patch: raw,
	})
}
