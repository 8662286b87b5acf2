package ws

import (
	"context"
	"fmt"
	"io/fs"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gsitechorg/open-belex-debug/internal/adapter/sourceview"
	"github.com/gsitechorg/open-belex-debug/internal/codec"
	"github.com/gsitechorg/open-belex-debug/internal/domain"
	"github.com/gsitechorg/open-belex-debug/internal/eventqueue"
)

type fakeRelay struct {
	units    chan domain.Unit
	restarts atomic.Int32
	shutdown chan struct{}
	once     sync.Once
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{units: make(chan domain.Unit, 8), shutdown: make(chan struct{})}
}

func (f *fakeRelay) AwaitUnit(ctx context.Context) (domain.Unit, error) {
	select {
	case unit := <-f.units:
		return unit, nil
	case <-f.shutdown:
		return domain.Unit{}, eventqueue.ErrShutdown
	case <-ctx.Done():
		return domain.Unit{}, ctx.Err()
	}
}

func (f *fakeRelay) Restart() { f.restarts.Add(1) }

func (f *fakeRelay) LoadFile(ctx context.Context, path string) (string, error) {
	switch path {
	case "/src/k.py":
		return "<pre>k</pre>", nil
	case "/etc/passwd":
		return "", fmt.Errorf("%s: %w", path, sourceview.ErrForbidden)
	default:
		return "", fmt.Errorf("reading source: %w", fs.ErrNotExist)
	}
}

func (f *fakeRelay) Shutdown() { f.once.Do(func() { close(f.shutdown) }) }

func newTestServer(t *testing.T, relay Relay, shutdownOnDisconnect bool) (*Server, string) {
	t.Helper()
	srv := NewServer(relay, NewHub(nil), Options{ShutdownOnDisconnect: shutdownOnDisconnect})
	e := echo.New()
	e.GET("/ws", srv.HandleWebSocket)
	ts := httptest.NewServer(e)
	t.Cleanup(ts.Close)
	return srv, "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

type client struct {
	t     *testing.T
	conn  *websocket.Conn
	codec codec.Codec
}

func dial(t *testing.T, url string, c codec.Codec) *client {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url+"?codec="+c.Name(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	cl := &client{t: t, conn: conn, codec: c}
	hello := cl.read()
	require.Equal(t, TypeHelloAck, hello["type"])
	return cl
}

func (c *client) send(cmd map[string]any) {
	c.t.Helper()
	data, err := c.codec.Marshal(cmd)
	require.NoError(c.t, err)
	messageType := websocket.TextMessage
	if c.codec.Binary() {
		messageType = websocket.BinaryMessage
	}
	require.NoError(c.t, c.conn.WriteMessage(messageType, data))
}

func (c *client) read() map[string]any {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	messageType, data, err := c.conn.ReadMessage()
	require.NoError(c.t, err)
	if c.codec.Binary() {
		assert.Equal(c.t, websocket.BinaryMessage, messageType)
	} else {
		assert.Equal(c.t, websocket.TextMessage, messageType)
	}
	var env map[string]any
	require.NoError(c.t, c.codec.Unmarshal(data, &env))
	return env
}

func TestAwaitAppEventBroadcastsOneUnit(t *testing.T) {
	for _, c := range []codec.Codec{codec.JSON{}, codec.CBOR{}} {
		t.Run(c.Name(), func(t *testing.T) {
			relay := newFakeRelay()
			srv, url := newTestServer(t, relay, false)
			a := dial(t, url, c)
			b := dial(t, url, codec.JSON{})
			require.Eventually(t, func() bool { return srv.Hub().Count() == 2 }, time.Second, 5*time.Millisecond)

			relay.units <- domain.NewBatchUnit([]domain.Event{domain.NewEvent("x")})
			a.send(map[string]any{"type": TypeAwaitAppEvent, "request_id": "r1"})

			for _, cl := range []*client{a, b} {
				env := cl.read()
				assert.Equal(t, TypeAppEvent, env["type"])
				assert.Equal(t, "r1", env["request_id"])
				data := env["data"].([]any)
				assert.Equal(t, domain.TagBatch, data[0])
				assert.Len(t, data[1], 1)
			}
		})
	}
}

func TestRestartCommand(t *testing.T) {
	relay := newFakeRelay()
	_, url := newTestServer(t, relay, false)
	cl := dial(t, url, codec.JSON{})

	cl.send(map[string]any{"type": TypeRestart})
	require.Eventually(t, func() bool { return relay.restarts.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestLoadFileReplies(t *testing.T) {
	relay := newFakeRelay()
	_, url := newTestServer(t, relay, false)
	cl := dial(t, url, codec.JSON{})

	cl.send(map[string]any{"type": TypeLoadFile, "data": map[string]any{"path": "/src/k.py"}})
	env := cl.read()
	assert.Equal(t, TypeFileLoad, env["type"])
	assert.Equal(t, []any{"/src/k.py", "<pre>k</pre>"}, env["data"])

	cases := map[string]string{"/etc/passwd": ErrorCodeForbidden, "/src/missing.py": ErrorCodeNotFound, "": ErrorCodeInvalidMessage}
	for path, code := range cases {
		cl.send(map[string]any{"type": TypeLoadFile, "data": map[string]any{"path": path}})
		env := cl.read()
		require.Equal(t, TypeError, env["type"], path)
		assert.Equal(t, code, env["data"].(map[string]any)["code"], path)
	}
}

func TestUnknownAndInvalidMessages(t *testing.T) {
	relay := newFakeRelay()
	_, url := newTestServer(t, relay, false)
	cl := dial(t, url, codec.JSON{})

	cl.send(map[string]any{"type": "dance"})
	env := cl.read()
	assert.Equal(t, TypeError, env["type"])
	assert.Equal(t, ErrorCodeUnknownType, env["data"].(map[string]any)["code"])

	require.NoError(t, cl.conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	env = cl.read()
	assert.Equal(t, ErrorCodeInvalidMessage, env["data"].(map[string]any)["code"])
}

func TestLastDisconnectShutsDownRelay(t *testing.T) {
	relay := newFakeRelay()
	srv, url := newTestServer(t, relay, true)
	a := dial(t, url, codec.JSON{})
	b := dial(t, url, codec.JSON{})
	require.Eventually(t, func() bool { return srv.Hub().Count() == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, a.conn.Close())
	require.Eventually(t, func() bool { return srv.Hub().Count() == 1 }, time.Second, 5*time.Millisecond)
	select {
	case <-relay.shutdown:
		t.Fatal("relay shut down while a session remained")
	default:
	}

	require.NoError(t, b.conn.Close())
	select {
	case <-relay.shutdown:
	case <-time.After(2 * time.Second):
		t.Fatal("relay not shut down after last disconnect")
	}
}

func TestUnknownCodecRejected(t *testing.T) {
	_, url := newTestServer(t, newFakeRelay(), false)
	_, resp, err := websocket.DefaultDialer.Dial(url+"?codec=msgpack", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 400, resp.StatusCode)
}
