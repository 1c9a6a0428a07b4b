package handler

import (
	"bytes"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pushWSWriteWait = 10 * time.Second
	pushWSPongWait  = 60 * time.Second
	pushWSPingEvery = (pushWSPongWait * 9) / 10
	pushWSQueue     = 32
)

var pushWSUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

var errSlowClient = errors.New("push socket queue is full")

// wsPusher is a session.Pusher over a WebSocket. Scripts are queued and
// written by a single goroutine that also keeps the connection alive. Bodies
// that were queued but never written are handed to undelivered once the
// writer stops.
type wsPusher struct {
	conn        *websocket.Conn
	send        chan []byte
	done        chan struct{}
	undelivered func([]byte)

	mu     sync.Mutex
	closed bool
}

func newWSPusher(conn *websocket.Conn, undelivered func([]byte)) *wsPusher {
	return &wsPusher{
		conn:        conn,
		send:        make(chan []byte, pushWSQueue),
		done:        make(chan struct{}),
		undelivered: undelivered,
	}
}

func (p *wsPusher) Push(body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return websocket.ErrCloseSent
	}
	select {
	case p.send <- body:
		return nil
	default:
		return errSlowClient
	}
}

func (p *wsPusher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.done)
	}
	return nil
}

// drain empties the queue. After Close nothing can be queued any more.
func (p *wsPusher) drain(failed []byte) []byte {
	var buf bytes.Buffer
	buf.Write(failed)
	for {
		select {
		case body := <-p.send:
			buf.Write(body)
		default:
			return buf.Bytes()
		}
	}
}

func (p *wsPusher) writeLoop() {
	ticker := time.NewTicker(pushWSPingEvery)
	var failed []byte
	defer func() {
		ticker.Stop()
		_ = p.Close()
		_ = p.conn.Close()
		if rest := p.drain(failed); len(rest) > 0 && p.undelivered != nil {
			p.undelivered(rest)
		}
	}()
	for {
		select {
		case <-p.done:
			_ = p.conn.SetWriteDeadline(time.Now().Add(pushWSWriteWait))
			_ = p.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		default:
		}
		select {
		case <-p.done:
		case body := <-p.send:
			if err := p.write(websocket.TextMessage, body); err != nil {
				log.Printf("push ws write failed: %v", err)
				failed = body
				return
			}
		case <-ticker.C:
			if err := p.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (p *wsPusher) write(kind int, body []byte) error {
	if err := p.conn.SetWriteDeadline(time.Now().Add(pushWSWriteWait)); err != nil {
		return err
	}
	return p.conn.WriteMessage(kind, body)
}

// HandleWS attaches a push socket to a session. Buffered scripts are flushed
// as soon as the socket is attached.
func (h *SessionHandler) HandleWS(w http.ResponseWriter, r *http.Request) {
	sid := strings.TrimSpace(r.URL.Query().Get("sid"))
	if sid == "" {
		http.Error(w, "sid is required", http.StatusBadRequest)
		return
	}
	s, err := h.sessions.Get(sid)
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := pushWSUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	if err := conn.SetReadDeadline(time.Now().Add(pushWSPongWait)); err != nil {
		log.Printf("push ws set read deadline failed: %v", err)
		conn.Close()
		return
	}
	conn.SetPongHandler(func(string) error {
		s.Touch()
		return conn.SetReadDeadline(time.Now().Add(pushWSPongWait))
	})

	var p *wsPusher
	p = newWSPusher(conn, func(body []byte) {
		s.Detach(p)
		s.Requeue(body)
	})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		p.writeLoop()
	}()
	if err := s.Attach(p); err != nil {
		_ = p.Close()
		<-writerDone
		return
	}
	log.Printf("gateway: push socket attached sid=%s", sid)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	s.Detach(p)
	_ = p.Close()
	<-writerDone
	log.Printf("gateway: push socket closed sid=%s", sid)
}
