package registry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"codecast/collabd/internal/identity"
	"codecast/collabd/internal/operation"
	"codecast/collabd/internal/store"
)

type allowAll struct{}

func (allowAll) CanEdit(string, string) bool { return true }
func (allowAll) Profile(id string) identity.Profile {
	return identity.Profile{ID: id, DisplayName: id}
}

func newTestRegistry(t *testing.T) (*Registry, *store.Store) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st, allowAll{}), st
}

func intp(v int) *int       { return &v }
func strp(v string) *string { return &v }

func TestCreateAndGet(t *testing.T) {
	r, _ := newTestRegistry(t)

	sess, err := r.Create("bcast-1", "go", "dark", []string{"package main"})
	require.NoError(t, err)
	require.True(t, sess.Active())
	require.NotEmpty(t, sess.ID())

	got, err := r.Get("bcast-1")
	require.NoError(t, err)
	require.Same(t, sess, got)

	_, err = r.Get("missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCreateIsExclusive(t *testing.T) {
	r, _ := newTestRegistry(t)

	_, err := r.Create("bcast-1", "go", "", nil)
	require.NoError(t, err)

	_, err = r.Create("bcast-1", "go", "", nil)
	require.ErrorIs(t, err, ErrExists)
}

func TestGetReloadsFromStoreWithSequenceRecovery(t *testing.T) {
	r, st := newTestRegistry(t)

	sess, err := r.Create("bcast-1", "go", "", []string{"x"})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := sess.RecordOperation("u1", operation.KindInsert, operation.Payload{
			Position: intp(0), Content: strp("y"),
		})
		require.NoError(t, err)
	}

	// A fresh registry (as after a restart) must load the session with its
	// sequence counter at the log tail, so the next operation is seq 4.
	fresh := New(st, allowAll{})
	reloaded, err := fresh.Get("bcast-1")
	require.NoError(t, err)
	op, err := reloaded.RecordOperation("u1", operation.KindInsert, operation.Payload{
		Position: intp(0), Content: strp("z"),
	})
	require.NoError(t, err)
	require.Equal(t, uint64(4), op.Seq)
}

func TestConnectionTracking(t *testing.T) {
	r, _ := newTestRegistry(t)

	require.False(t, r.IsConnected("b", "u1"))

	r.Connect("b", "u1")
	r.Connect("b", "u1") // second tab
	r.Connect("b", "u2")
	require.True(t, r.IsConnected("b", "u1"))
	require.True(t, r.IsConnected("b", "u2"))

	r.Disconnect("b", "u1")
	require.True(t, r.IsConnected("b", "u1"), "still one tab open")
	r.Disconnect("b", "u1")
	require.False(t, r.IsConnected("b", "u1"))

	filter := r.ConnectedFilter("b")
	require.True(t, filter("u2"))
	require.False(t, filter("u1"))

	r.Disconnect("b", "u2")
	r.Disconnect("b", "ghost") // unknown user is a no-op
	require.False(t, r.IsConnected("b", "u2"))
}
