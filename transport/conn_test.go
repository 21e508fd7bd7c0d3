package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testOrigin = "https://origin.test"

// newWSServer runs handler for each upgraded connection and returns the
// ws:// URL to dial.
func newWSServer(t *testing.T, handler func(ws *websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Origin"); got != testOrigin {
			t.Errorf("Origin header = %q, want %q", got, testOrigin)
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer ws.Close()
		handler(ws)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialTest(t *testing.T, url string) *Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := Dial(ctx, Config{URL: url, Origin: testOrigin})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.CloseNormalClosure) })
	return conn
}

func waitFrame(t *testing.T, conn *Conn) []byte {
	t.Helper()
	select {
	case f, ok := <-conn.Frames():
		require.True(t, ok, "frame channel closed")
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for inbound frame")
		return nil
	}
}

// frame prefixes a payload with its 3-byte big-endian length.
func frame(payload []byte) []byte {
	n := len(payload)
	return append([]byte{byte(n >> 16), byte(n >> 8), byte(n)}, payload...)
}

func TestSendFrameWireFormat(t *testing.T) {
	received := make(chan []byte, 2)
	url := newWSServer(t, func(ws *websocket.Conn) {
		for i := 0; i < 2; i++ {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			received <- data
		}
	})
	conn := dialTest(t, url)

	require.NoError(t, conn.SendFrame([]byte("hello")))
	require.NoError(t, conn.SendFrame([]byte("again")))

	first := <-received
	want := append(append([]byte{}, Header...), frame([]byte("hello"))...)
	assert.Equal(t, want, first, "first message carries the connection header")

	second := <-received
	assert.Equal(t, frame([]byte("again")), second, "header must be sent exactly once")
}

func TestReadFramesAcrossMessageBoundaries(t *testing.T) {
	url := newWSServer(t, func(ws *websocket.Conn) {
		combined := append(frame([]byte("alpha")), frame([]byte("beta"))...)
		// Split mid-frame: the reader has to buffer across messages.
		cut := len(combined) - 3
		if err := ws.WriteMessage(websocket.BinaryMessage, combined[:cut]); err != nil {
			return
		}
		if err := ws.WriteMessage(websocket.BinaryMessage, combined[cut:]); err != nil {
			return
		}
		// Two frames in one message also have to split apart.
		double := append(frame([]byte("gamma")), frame([]byte("delta"))...)
		_ = ws.WriteMessage(websocket.BinaryMessage, double)
		_, _, _ = ws.ReadMessage()
	})
	conn := dialTest(t, url)

	assert.Equal(t, []byte("alpha"), waitFrame(t, conn))
	assert.Equal(t, []byte("beta"), waitFrame(t, conn))
	assert.Equal(t, []byte("gamma"), waitFrame(t, conn))
	assert.Equal(t, []byte("delta"), waitFrame(t, conn))
}

func TestCloseCodeFromPeer(t *testing.T) {
	url := newWSServer(t, func(ws *websocket.Conn) {
		msg := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "stream error")
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_, _, _ = ws.ReadMessage()
	})
	conn := dialTest(t, url)

	select {
	case _, ok := <-conn.Frames():
		assert.False(t, ok, "frame channel should close without frames")
	case <-time.After(2 * time.Second):
		t.Fatal("frame channel did not close")
	}
	code, reason := conn.CloseInfo()
	assert.Equal(t, websocket.CloseInternalServerErr, code)
	assert.Equal(t, "stream error", reason)
	assert.False(t, conn.LocallyClosed())
}

func TestAbnormalCloseReportsCode1006(t *testing.T) {
	url := newWSServer(t, func(ws *websocket.Conn) {
		// Drop the TCP connection without a close frame.
		_ = ws.UnderlyingConn().Close()
	})
	conn := dialTest(t, url)

	select {
	case _, ok := <-conn.Frames():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("frame channel did not close")
	}
	code, _ := conn.CloseInfo()
	assert.Equal(t, websocket.CloseAbnormalClosure, code)
}

func TestSendFrameAfterClose(t *testing.T) {
	url := newWSServer(t, func(ws *websocket.Conn) {
		_, _, _ = ws.ReadMessage()
	})
	conn := dialTest(t, url)

	require.NoError(t, conn.Close(websocket.CloseNormalClosure))
	err := conn.SendFrame([]byte("late"))
	assert.ErrorIs(t, err, ErrConnClosed)

	code, _ := conn.CloseInfo()
	assert.Equal(t, websocket.CloseNormalClosure, code)
	assert.True(t, conn.LocallyClosed())
}

func TestSendFrameTooLarge(t *testing.T) {
	url := newWSServer(t, func(ws *websocket.Conn) {
		_, _, _ = ws.ReadMessage()
	})
	conn := dialTest(t, url)

	err := conn.SendFrame(make([]byte, FrameMaxSize+1))
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestDialRejectsBadProxyScheme(t *testing.T) {
	ctx := context.Background()
	_, err := Dial(ctx, Config{URL: "ws://127.0.0.1:1", ProxyURL: "ftp://proxy.local:21"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported proxy scheme")
}
