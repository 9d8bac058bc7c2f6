package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"codecast/collabd/internal/operation"
	"codecast/collabd/internal/session"
	"codecast/collabd/pkg/collabwire"
	"codecast/collabd/pkg/logger"
	"codecast/collabd/pkg/telemetry"
)

// wsClient serializes writes to one connection. Broadcast frames and
// error frames come from different goroutines.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) write(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

// handleWS upgrades the connection and runs the read and write loops for
// one participant. Every frame a participant sends is an Intent; every
// frame they receive is an operation, presence snapshot, presence patch,
// or error message.
func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")
	if userID == "" {
		respondError(w, http.StatusBadRequest, "user query parameter is required")
		return
	}
	sess, ok := g.lookup(w, r)
	if !ok {
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("ws_upgrade_failed", "session", sess.ID(), "error", err)
		return
	}
	defer conn.Close()
	client := &wsClient{conn: conn}

	ctx := r.Context()
	sub, err := g.caster.Subscribe(ctx, sess.ID())
	if err != nil {
		logger.Error("ws_subscribe_failed", "session", sess.ID(), "error", err)
		return
	}
	defer sub.Close()

	g.registry.Connect(sess.Broadcast(), userID)
	telemetry.ConnectedClients.Inc()
	logger.Info("client_connected", "session", sess.ID(), "user", userID)

	defer func() {
		g.registry.Disconnect(sess.Broadcast(), userID)
		telemetry.ConnectedClients.Dec()
		logger.Info("client_disconnected", "session", sess.ID(), "user", userID)
		// Departure hides the user's presence entries for everyone else.
		// The request context is dead by now, so publish detached.
		g.publishPresence(context.Background(), sess)
	}()

	// The write loop owns the connection's outbound side and the per
	// connection presence diff state. It exits when the subscription
	// closes or a write fails.
	done := make(chan struct{})
	go func() {
		defer close(done)
		differ := &presenceDiffer{}
		for msg := range sub.C() {
			frame, err := g.outboundFrame(differ, msg)
			if err != nil {
				logger.Error("ws_frame_failed", "session", sess.ID(), "error", err)
				continue
			}
			if frame == nil {
				continue
			}
			if err := client.write(frame); err != nil {
				return
			}
		}
	}()

	// Reconnecting participants reappear where they were; announce the
	// presence state this join made visible.
	g.publishPresence(ctx, sess)

	g.readLoop(ctx, client, sess, userID)
	// The reader is gone. Close the subscription so the write loop's range
	// ends; otherwise it would stay parked until the next publish and the
	// disconnect accounting above would never run.
	sub.Close()
	<-done
}

// outboundFrame converts a broadcast envelope into the frame this
// connection should deliver, or nil when nothing needs to go out.
func (g *Gateway) outboundFrame(differ *presenceDiffer, msg []byte) ([]byte, error) {
	var env envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return nil, err
	}
	switch env.Kind {
	case envelopeOperation:
		return env.Data, nil
	case envelopePresence:
		return differ.frame(env.Data)
	default:
		logger.Warn("unknown_envelope_kind", "kind", env.Kind)
		return nil, nil
	}
}

func (g *Gateway) readLoop(ctx context.Context, client *wsClient, sess *session.Session, userID string) {
	for {
		_, raw, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("ws_read_failed", "session", sess.ID(), "user", userID, "error", err)
			}
			return
		}

		var intent collabwire.Intent
		if err := json.Unmarshal(raw, &intent); err != nil {
			g.writeError(client, "invalid message")
			continue
		}
		g.dispatch(ctx, client, sess, userID, intent)
	}
}

// dispatch applies one intent. Presence intents update ephemeral state
// and fan out as presence envelopes; everything else is recorded as an
// operation and fans out as an operation envelope.
func (g *Gateway) dispatch(ctx context.Context, client *wsClient, sess *session.Session, userID string, intent collabwire.Intent) {
	switch operation.Kind(intent.Type) {
	case operation.KindCursorMove:
		if intent.Position == nil {
			return
		}
		if err := sess.UpdateCursor(userID, *intent.Position); err != nil {
			g.rejectIntent(client, err)
			return
		}
		g.publishPresence(ctx, sess)

	case operation.KindSelection:
		if intent.Position == nil || intent.Length == nil {
			return
		}
		r := session.Range{Start: *intent.Position, End: *intent.Position + *intent.Length}
		if err := sess.UpdateSelection(userID, r); err != nil {
			g.rejectIntent(client, err)
			return
		}
		g.publishPresence(ctx, sess)

	default:
		switch operation.Kind(intent.Type) {
		case operation.KindInsert, operation.KindDelete, operation.KindReplace:
		default:
			logger.Warn("unknown_operation_kind", "session", sess.ID(), "kind", intent.Type)
		}
		op, err := sess.RecordOperation(userID, operation.Kind(intent.Type), operation.Payload{
			Position: intent.Position,
			Length:   intent.Length,
			Content:  intent.Content,
			Metadata: intent.Metadata,
		})
		if err != nil {
			g.rejectIntent(client, err)
			return
		}
		msg, err := marshalEnvelope(envelopeOperation, collabwire.FromOperation(op))
		if err != nil {
			logger.Error("operation_marshal_failed", "session", sess.ID(), "error", err)
			return
		}
		if err := g.caster.Publish(ctx, sess.ID(), msg); err != nil {
			logger.Error("operation_publish_failed", "session", sess.ID(), "error", err)
			return
		}
		telemetry.MessagesBroadcast.Inc()
	}
}

// rejectIntent reports a denied or failed intent back to its author only.
func (g *Gateway) rejectIntent(client *wsClient, err error) {
	msg := "operation failed"
	switch {
	case errors.Is(err, session.ErrNotAuthorized):
		msg = "not_authorized"
	case errors.Is(err, session.ErrInactive):
		msg = "session_inactive"
	case errors.Is(err, session.ErrUninitialized):
		msg = "session_uninitialized"
	}
	g.writeError(client, msg)
}

func (g *Gateway) writeError(client *wsClient, msg string) {
	frame, err := json.Marshal(collabwire.ErrorMessage{Type: collabwire.TypeError, Error: msg})
	if err != nil {
		return
	}
	if err := client.write(frame); err != nil {
		logger.Warn("ws_error_write_failed", "error", err)
	}
}
