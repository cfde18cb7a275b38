package conn

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/epokhe/kvresp/internal/engine"
	"github.com/epokhe/kvresp/internal/resp"
)

// newTestServer opens a fresh engine.Store in a temp dir, starts Serve on
// one end of an in-memory pipe, and returns a Connection wrapping the
// client end plus a cleanup func.
func newTestServer(t *testing.T) (*Connection, func()) {
	t.Helper()

	dir := t.TempDir()
	store, err := engine.Open(filepath.Join(dir, "data.log"))
	require.NoError(t, err)
	require.NoError(t, store.Load())

	shared := NewSharedStore(store)

	client, server := net.Pipe()
	go Serve(server, shared)

	cleanup := func() {
		_ = client.Close()
		_ = store.Close()
	}
	return New(client), cleanup
}

func array(items ...string) resp.Frame {
	fr := make([]resp.Frame, len(items))
	for i, s := range items {
		fr[i] = resp.NewBulk([]byte(s))
	}
	return resp.NewArray(fr...)
}

func TestScenario_SetThenGet(t *testing.T) {
	c, cleanup := newTestServer(t)
	defer cleanup()

	require.NoError(t, c.WriteFrame(array("set", "foo", "bar")))
	reply, err := c.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, resp.Simple, reply.Kind)
	require.Equal(t, "OK", reply.Str)

	require.NoError(t, c.WriteFrame(array("get", "foo")))
	reply, err = c.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, resp.Bulk, reply.Kind)
	require.Equal(t, []byte("bar"), reply.Bytes)
}

func TestScenario_OverwriteThenGetLatest(t *testing.T) {
	c, cleanup := newTestServer(t)
	defer cleanup()

	require.NoError(t, c.WriteFrame(array("set", "foo", "bar")))
	_, err := c.ReadFrame()
	require.NoError(t, err)

	require.NoError(t, c.WriteFrame(array("set", "foo", "baz")))
	_, err = c.ReadFrame()
	require.NoError(t, err)

	require.NoError(t, c.WriteFrame(array("get", "foo")))
	reply, err := c.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, []byte("baz"), reply.Bytes)
}

func TestScenario_GetMissingIsNull(t *testing.T) {
	c, cleanup := newTestServer(t)
	defer cleanup()

	require.NoError(t, c.WriteFrame(array("get", "missing")))
	reply, err := c.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, resp.Null, reply.Kind)
}

func TestScenario_SetDeleteGet(t *testing.T) {
	c, cleanup := newTestServer(t)
	defer cleanup()

	require.NoError(t, c.WriteFrame(array("set", "k", "v")))
	_, err := c.ReadFrame()
	require.NoError(t, err)

	require.NoError(t, c.WriteFrame(array("delete", "k")))
	reply, err := c.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, resp.Simple, reply.Kind)
	require.Equal(t, "OK", reply.Str)

	require.NoError(t, c.WriteFrame(array("get", "k")))
	reply, err = c.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, resp.Null, reply.Kind)
}

func TestScenario_DeleteMissingKeyStillOK(t *testing.T) {
	c, cleanup := newTestServer(t)
	defer cleanup()

	require.NoError(t, c.WriteFrame(array("delete", "never-set")))
	reply, err := c.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, resp.Simple, reply.Kind)
	require.Equal(t, "OK", reply.Str)
}

func TestScenario_Persistence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.log")

	store, err := engine.Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Load())

	shared := NewSharedStore(store)
	client, server := net.Pipe()
	go Serve(server, shared)

	c := New(client)
	require.NoError(t, c.WriteFrame(array("set", "a", "1")))
	_, err = c.ReadFrame()
	require.NoError(t, err)

	require.NoError(t, client.Close())
	require.NoError(t, store.Close())

	// restart against the same file
	store2, err := engine.Open(path)
	require.NoError(t, err)
	require.NoError(t, store2.Load())
	defer store2.Close()

	shared2 := NewSharedStore(store2)
	client2, server2 := net.Pipe()
	go Serve(server2, shared2)
	defer client2.Close()

	c2 := New(client2)
	require.NoError(t, c2.WriteFrame(array("get", "a")))
	reply, err := c2.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, []byte("1"), reply.Bytes)
}

func TestScenario_CleanClose(t *testing.T) {
	c, cleanup := newTestServer(t)
	defer cleanup()

	require.NoError(t, c.WriteFrame(array("get", "x")))
	_, err := c.ReadFrame()
	require.NoError(t, err)

	require.NoError(t, c.nc.Close())
}

func TestInvalidCommand_RepliesErrorAndContinues(t *testing.T) {
	c, cleanup := newTestServer(t)
	defer cleanup()

	require.NoError(t, c.WriteFrame(array("ping")))
	reply, err := c.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, resp.Error, reply.Kind)

	// connection must still be usable afterward
	require.NoError(t, c.WriteFrame(array("set", "k", "v")))
	reply, err = c.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, resp.Simple, reply.Kind)
}

func TestMalformedFrame_ClosesConnection(t *testing.T) {
	dir := t.TempDir()
	store, err := engine.Open(filepath.Join(dir, "data.log"))
	require.NoError(t, err)
	require.NoError(t, store.Load())
	defer store.Close()

	shared := NewSharedStore(store)
	client, server := net.Pipe()
	go Serve(server, shared)
	defer client.Close()

	_, err = client.Write([]byte("!garbage\r\n"))
	require.NoError(t, err)

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 256)
	n, _ := client.Read(buf)
	require.Contains(t, string(buf[:n]), "ERR")

	// the server should now close its side
	n, err = client.Read(buf)
	require.Zero(t, n)
	require.Error(t, err)
}

func TestTwoConnections_LastWriterWinsIsObservedConsistently(t *testing.T) {
	dir := t.TempDir()
	store, err := engine.Open(filepath.Join(dir, "data.log"))
	require.NoError(t, err)
	require.NoError(t, store.Load())
	defer store.Close()

	shared := NewSharedStore(store)

	client1, server1 := net.Pipe()
	defer client1.Close()
	go Serve(server1, shared)

	client2, server2 := net.Pipe()
	defer client2.Close()
	go Serve(server2, shared)

	c1 := New(client1)
	c2 := New(client2)

	require.NoError(t, c1.WriteFrame(array("set", "x", "1")))
	_, err = c1.ReadFrame()
	require.NoError(t, err)

	require.NoError(t, c2.WriteFrame(array("set", "x", "2")))
	_, err = c2.ReadFrame()
	require.NoError(t, err)

	require.NoError(t, c1.WriteFrame(array("get", "x")))
	reply, err := c1.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, []byte("2"), reply.Bytes)
}
