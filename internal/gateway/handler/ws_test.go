package handler

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

	"wtcore/internal/session"
	"wtcore/internal/widget"
)

// wsConn returns the server end of a fresh WebSocket connection.
func wsConn(t *testing.T) *websocket.Conn {
	t.Helper()
	conns := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := pushWSUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			close(conns)
			return
		}
		conns <- c
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	select {
	case c := <-conns:
		require.NotNil(t, c)
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("server never upgraded the connection")
		return nil
	}
}

func TestPusherHandsBackQueuedBodiesOnClose(t *testing.T) {
	var got []byte
	p := newWSPusher(wsConn(t), func(body []byte) { got = append(got, body...) })

	require.NoError(t, p.Push([]byte("Wt.seq(2);\n")))
	require.NoError(t, p.Push([]byte("Wt.seq(3);\n")))
	require.NoError(t, p.Close())
	p.writeLoop()

	assert.Equal(t, "Wt.seq(2);\nWt.seq(3);\n", string(got))
	assert.ErrorIs(t, p.Push([]byte("Wt.seq(4);\n")), websocket.ErrCloseSent)
}

func TestPusherClosesWhenWriteFails(t *testing.T) {
	conn := wsConn(t)
	handed := make(chan []byte, 1)
	p := newWSPusher(conn, func(body []byte) { handed <- body })
	require.NoError(t, conn.Close())

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		p.writeLoop()
	}()
	require.NoError(t, p.Push([]byte("Wt.seq(2);\n")))

	select {
	case body := <-handed:
		assert.Equal(t, "Wt.seq(2);\n", string(body))
	case <-time.After(5 * time.Second):
		t.Fatal("failed write was never handed back")
	}
	<-stopped
	assert.ErrorIs(t, p.Push([]byte("Wt.seq(3);\n")), websocket.ErrCloseSent)
}

func TestBrokenSocketRequeuesToSession(t *testing.T) {
	m, _ := newTestHandler(t)
	ctx := context.Background()
	s, err := m.Create(ctx, session.Capabilities{JavaScript: true})
	require.NoError(t, err)
	_, err = s.HandleRequest(ctx, session.Request{Kind: session.PageLoad, JavaScript: true})
	require.NoError(t, err)
	_, err = s.HandleRequest(ctx, session.Request{Kind: session.RuntimeEvent, JavaScript: true})
	require.NoError(t, err)

	conn := wsConn(t)
	var p *wsPusher
	p = newWSPusher(conn, func(body []byte) {
		s.Detach(p)
		s.Requeue(body)
	})
	require.NoError(t, s.Attach(p))
	require.NoError(t, conn.Close())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		p.writeLoop()
	}()

	require.NoError(t, s.WithLock(ctx, func(g *session.Guard) error {
		if err := g.Tree().Dispatch(ctx, widget.Event{Name: widget.EventClicked, Target: "w2"}); err != nil {
			return err
		}
		g.TriggerUpdate()
		return nil
	}))
	<-stopped
	assert.False(t, s.Attached())

	out, err := s.Poll(ctx, time.Second)
	require.NoError(t, err)
	assert.Contains(t, string(out.Body), `Wt.set("w1","content","busy")`)
}
