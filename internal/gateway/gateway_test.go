package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"codecast/collabd/internal/broadcast"
	"codecast/collabd/internal/config"
	"codecast/collabd/internal/identity"
	"codecast/collabd/internal/operation"
	"codecast/collabd/internal/registry"
	"codecast/collabd/internal/store"
	"codecast/collabd/pkg/collabwire"
)

type allowAll struct{}

func (allowAll) CanEdit(string, string) bool { return true }
func (allowAll) Profile(id string) identity.Profile {
	return identity.Profile{ID: id, DisplayName: "Display " + id}
}

type denyList map[string]bool

func (d denyList) CanEdit(_, userID string) bool { return !d[userID] }
func (d denyList) Profile(id string) identity.Profile {
	return identity.Profile{ID: id, DisplayName: id}
}

func newTestGateway(t *testing.T, oracle identity.Oracle) (*Gateway, *registry.Registry) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	hub := broadcast.NewHub()
	t.Cleanup(func() {
		hub.Close()
		st.Close()
	})
	reg := registry.New(st, oracle)
	cfg, err := config.LoadConfig("")
	require.NoError(t, err)
	return New(cfg, reg, oracle, hub), reg
}

func doJSON(t *testing.T, handler http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestCreateAndFetchSession(t *testing.T) {
	g, _ := newTestGateway(t, allowAll{})
	routes := g.Routes()

	rr := doJSON(t, routes, http.MethodPost, "/sessions", map[string]any{
		"broadcast_id": "bcast-1",
		"language":     "go",
		"theme":        "dark",
		"code":         []string{"package main", ""},
	})
	require.Equal(t, http.StatusCreated, rr.Code)

	var created snapshotResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&created))
	require.Equal(t, "bcast-1", created.Broadcast)
	require.True(t, created.Active)
	require.Equal(t, []string{"package main", ""}, created.Lines)
	require.NotEmpty(t, created.SessionID)

	rr = doJSON(t, routes, http.MethodGet, "/sessions/bcast-1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var fetched snapshotResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&fetched))
	require.Equal(t, created.SessionID, fetched.SessionID)

	rr = doJSON(t, routes, http.MethodGet, "/sessions/unknown", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCreateSessionValidation(t *testing.T) {
	g, _ := newTestGateway(t, allowAll{})
	routes := g.Routes()

	rr := doJSON(t, routes, http.MethodPost, "/sessions", map[string]any{"language": "go"})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	req := httptest.NewRequest(http.MethodPost, "/sessions", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rr = doJSON(t, routes, http.MethodPost, "/sessions", map[string]any{"broadcast_id": "b"})
	require.Equal(t, http.StatusCreated, rr.Code)
	rr = doJSON(t, routes, http.MethodPost, "/sessions", map[string]any{"broadcast_id": "b"})
	require.Equal(t, http.StatusConflict, rr.Code)
}

func TestOperationsSinceEndpoint(t *testing.T) {
	g, reg := newTestGateway(t, allowAll{})
	routes := g.Routes()

	sess, err := reg.Create("bcast-1", "go", "", []string{"hello"})
	require.NoError(t, err)
	for _, content := range []string{"a", "b", "c"} {
		c := content
		pos := 0
		_, err := sess.RecordOperation("u1", operation.KindInsert, operation.Payload{
			Position: &pos, Content: &c,
		})
		require.NoError(t, err)
	}

	rr := doJSON(t, routes, http.MethodGet, "/sessions/bcast-1/operations?since=1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var resp operationsResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	require.Len(t, resp.Operations, 2)
	require.Equal(t, uint64(2), resp.Operations[0].SequenceNumber)
	require.Equal(t, uint64(3), resp.Operations[1].SequenceNumber)
	require.Equal(t, uint64(3), resp.LastSeq)
	require.Equal(t, "Display u1", resp.Operations[0].Author.DisplayName)

	// Absent since means everything.
	rr = doJSON(t, routes, http.MethodGet, "/sessions/bcast-1/operations", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	resp = operationsResponse{}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	require.Len(t, resp.Operations, 3)

	rr = doJSON(t, routes, http.MethodGet, "/sessions/bcast-1/operations?since=nope", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestActivateDeactivate(t *testing.T) {
	g, reg := newTestGateway(t, allowAll{})
	routes := g.Routes()

	sess, err := reg.Create("bcast-1", "go", "", []string{""})
	require.NoError(t, err)

	rr := doJSON(t, routes, http.MethodPost, "/sessions/bcast-1/deactivate", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.False(t, sess.Active())

	// Catch-up reads keep working while inactive.
	rr = doJSON(t, routes, http.MethodGet, "/sessions/bcast-1/operations", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doJSON(t, routes, http.MethodPost, "/sessions/bcast-1/activate", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.True(t, sess.Active())
}

func readFrame(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	return raw
}

func dialWS(t *testing.T, srv *httptest.Server, broadcastID, user string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/sessions/" + broadcastID + "/ws?user=" + user
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWebSocketEditFlow(t *testing.T) {
	g, reg := newTestGateway(t, allowAll{})
	_, err := reg.Create("bcast-1", "go", "", []string{"print(1)"})
	require.NoError(t, err)

	srv := httptest.NewServer(g.Routes())
	defer srv.Close()

	conn := dialWS(t, srv, "bcast-1", "u1")

	// The join announcement arrives as a full presence snapshot.
	var presence collabwire.PresenceMessage
	require.NoError(t, json.Unmarshal(readFrame(t, conn), &presence))
	require.Equal(t, collabwire.TypePresence, presence.Type)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type": "insert", "position": 8, "content": "\nprint(2)",
	}))

	var op collabwire.OperationMessage
	require.NoError(t, json.Unmarshal(readFrame(t, conn), &op))
	require.Equal(t, uint64(1), op.SequenceNumber)
	require.Equal(t, "insert", op.Type)
	require.Equal(t, "Display u1", op.Author.DisplayName)

	sess, err := reg.Get("bcast-1")
	require.NoError(t, err)
	require.Equal(t, []string{"print(1)", "print(2)"}, sess.Snapshot().Lines)
}

func TestWebSocketRejectsUnauthorizedEdit(t *testing.T) {
	g, reg := newTestGateway(t, denyList{"intruder": true})
	sess, err := reg.Create("bcast-1", "go", "", []string{"x"})
	require.NoError(t, err)

	srv := httptest.NewServer(g.Routes())
	defer srv.Close()

	conn := dialWS(t, srv, "bcast-1", "intruder")
	readFrame(t, conn) // join presence snapshot

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type": "insert", "position": 0, "content": "pwned",
	}))

	var errMsg collabwire.ErrorMessage
	require.NoError(t, json.Unmarshal(readFrame(t, conn), &errMsg))
	require.Equal(t, collabwire.TypeError, errMsg.Type)
	require.Equal(t, "not_authorized", errMsg.Error)

	require.Equal(t, uint64(0), sess.Snapshot().LastSeq)
}

func TestWebSocketDisconnectReleasesConnection(t *testing.T) {
	g, reg := newTestGateway(t, allowAll{})
	sess, err := reg.Create("bcast-1", "go", "", []string{"x"})
	require.NoError(t, err)

	srv := httptest.NewServer(g.Routes())
	defer srv.Close()

	conn := dialWS(t, srv, "bcast-1", "u1")
	readFrame(t, conn) // join presence snapshot
	require.NoError(t, sess.UpdateCursor("u1", 1))
	require.True(t, reg.IsConnected("bcast-1", "u1"))

	// Closing the socket must run teardown even with no further traffic on
	// the session: the user drops out of the connected set and their
	// presence entries stop being visible.
	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		return !reg.IsConnected("bcast-1", "u1")
	}, 2*time.Second, 10*time.Millisecond)

	p := sess.ActivePresence(reg.ConnectedFilter("bcast-1"))
	require.Empty(t, p.Cursors)
}

func TestWebSocketRequiresUser(t *testing.T) {
	g, reg := newTestGateway(t, allowAll{})
	_, err := reg.Create("bcast-1", "go", "", nil)
	require.NoError(t, err)

	srv := httptest.NewServer(g.Routes())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/sessions/bcast-1/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPresenceDifferEmitsFullThenPatch(t *testing.T) {
	d := &presenceDiffer{}

	first := []byte(`{"type":"presence","cursors":{"u1":5},"selections":{}}`)
	frame, err := d.frame(first)
	require.NoError(t, err)
	require.JSONEq(t, string(first), string(frame))

	// Unchanged snapshot produces no frame.
	frame, err = d.frame([]byte(`{"type":"presence","cursors":{"u1":5},"selections":{}}`))
	require.NoError(t, err)
	require.Nil(t, frame)

	// A drifted snapshot produces a patch, not a full snapshot.
	frame, err = d.frame([]byte(`{"type":"presence","cursors":{"u1":9},"selections":{}}`))
	require.NoError(t, err)
	var patch collabwire.PresencePatch
	require.NoError(t, json.Unmarshal(frame, &patch))
	require.Equal(t, collabwire.TypePresencePatch, patch.Type)
	require.Contains(t, string(patch.Patch), "/cursors/u1")
}

func TestHealthEndpoint(t *testing.T) {
	g, _ := newTestGateway(t, allowAll{})
	rr := doJSON(t, g.Routes(), http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}
