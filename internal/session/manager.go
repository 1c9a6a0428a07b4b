package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"

	"wtcore/internal/render/wire"
)

// Options configure sessions created by a Manager.
type Options struct {
	LockTimeout time.Duration
	PollTimeout time.Duration
	SessionTTL  time.Duration
	// GoneCapacity and GoneTTL bound the memory of destroyed session ids.
	GoneCapacity int
	GoneTTL      time.Duration
	// Verify checks every incremental batch before it is sent.
	Verify    bool
	Title     string
	WebSocket bool
	Paths     wire.Paths
}

func (o Options) withDefaults() Options {
	if o.LockTimeout <= 0 {
		o.LockTimeout = 5 * time.Second
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = 25 * time.Second
	}
	if o.SessionTTL <= 0 {
		o.SessionTTL = 10 * time.Minute
	}
	if o.GoneCapacity <= 0 {
		o.GoneCapacity = 4096
	}
	if o.GoneTTL <= 0 {
		o.GoneTTL = time.Hour
	}
	if o.Paths.Event == "" {
		o.Paths.Event = wire.DefaultPaths.Event
	}
	if o.Paths.Poll == "" {
		o.Paths.Poll = wire.DefaultPaths.Poll
	}
	if o.Paths.WebSocket == "" {
		o.Paths.WebSocket = wire.DefaultPaths.WebSocket
	}
	if o.Paths.Form == "" {
		o.Paths.Form = wire.DefaultPaths.Form
	}
	return o
}

// Capabilities describe the client that opens a session.
type Capabilities struct {
	JavaScript bool
	UserAgent  string
}

// AppFactory builds the initial widgets of a new session. It runs with the
// update lock held, before the first render.
type AppFactory func(ctx context.Context, g *Guard, caps Capabilities) error

// Manager owns the live sessions of a process.
type Manager struct {
	factory AppFactory
	opts    Options
	hooks   Hooks
	metrics *Metrics

	mu       sync.RWMutex
	sessions map[string]*Session
	gone     *expirable.LRU[string, time.Time]

	posts sync.WaitGroup
}

func NewManager(factory AppFactory, opts Options, hooks Hooks, reg prometheus.Registerer) *Manager {
	opts = opts.withDefaults()
	return &Manager{
		factory:  factory,
		opts:     opts,
		hooks:    hooks,
		metrics:  NewMetrics(reg),
		sessions: make(map[string]*Session),
		gone:     expirable.NewLRU[string, time.Time](opts.GoneCapacity, nil, opts.GoneTTL),
	}
}

// Options returns the effective options.
func (m *Manager) Options() Options { return m.opts }

// Create starts a new session and builds its application.
func (m *Manager) Create(ctx context.Context, caps Capabilities) (*Session, error) {
	s := New(uuid.NewString(), m.opts, m.hooks, m.metrics)
	if m.factory != nil {
		err := s.WithLock(ctx, func(g *Guard) error {
			return m.factory(ctx, g, caps)
		})
		if err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
	}
	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()
	m.metrics.Sessions.Inc()
	log.Printf("session: created sid=%s js=%t", s.id, caps.JavaScript)
	return s, nil
}

// Get looks a session up. Destroyed sessions yield ErrSessionGone for a
// while, anything else unknown yields ErrUnknownSession.
func (m *Manager) Get(sid string) (*Session, error) {
	sid = strings.TrimSpace(sid)
	m.mu.RLock()
	s, ok := m.sessions[sid]
	m.mu.RUnlock()
	if ok {
		return s, nil
	}
	if _, dead := m.gone.Get(sid); dead {
		return nil, fmt.Errorf("%w: %s", ErrSessionGone, sid)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownSession, sid)
}

// HandleRequest runs one turn on session sid.
func (m *Manager) HandleRequest(ctx context.Context, sid string, req Request) (Payload, error) {
	s, err := m.Get(sid)
	if err != nil {
		return Payload{}, err
	}
	return s.HandleRequest(ctx, req)
}

// Acquire locks session sid for code running outside a request.
func (m *Manager) Acquire(ctx context.Context, sid string) (*Guard, error) {
	s, err := m.Get(sid)
	if err != nil {
		return nil, err
	}
	return s.Acquire(ctx)
}

// Push runs fn on the locked session and sends the resulting changes.
func (m *Manager) Push(ctx context.Context, sid string, fn func(*Guard) error) error {
	s, err := m.Get(sid)
	if err != nil {
		return err
	}
	return s.WithLock(ctx, func(g *Guard) error {
		s.Touch()
		err := fn(g)
		g.TriggerUpdate()
		return err
	})
}

// Post is the asynchronous Push. Failures are logged.
func (m *Manager) Post(sid string, fn func(*Guard) error) {
	m.posts.Add(1)
	go func() {
		defer m.posts.Done()
		ctx, cancel := context.WithTimeout(context.Background(), m.opts.LockTimeout)
		defer cancel()
		if err := m.Push(ctx, sid, fn); err != nil {
			log.Printf("session: post sid=%s: %v", sid, err)
		}
	}()
}

// Poll waits for buffered payloads of session sid.
func (m *Manager) Poll(ctx context.Context, sid string) (Payload, error) {
	s, err := m.Get(sid)
	if err != nil {
		return Payload{}, err
	}
	return s.Poll(ctx, m.opts.PollTimeout)
}

// Destroy ends session sid.
func (m *Manager) Destroy(ctx context.Context, sid string) error {
	m.mu.Lock()
	s, ok := m.sessions[sid]
	if ok {
		delete(m.sessions, sid)
		m.gone.Add(sid, time.Now())
	}
	m.mu.Unlock()
	if !ok {
		_, err := m.Get(sid)
		return err
	}
	m.metrics.Sessions.Dec()
	s.close(ctx)
	log.Printf("session: destroyed sid=%s seq=%d", sid, s.Seq())
	return nil
}

// Reap destroys sessions idle since before now minus the session TTL.
func (m *Manager) Reap(ctx context.Context, now time.Time) int {
	cutoff := now.Add(-m.opts.SessionTTL)
	var idle []string
	m.mu.RLock()
	for id, s := range m.sessions {
		if s.LastSeen().Before(cutoff) {
			idle = append(idle, id)
		}
	}
	m.mu.RUnlock()
	sort.Strings(idle)
	n := 0
	for _, id := range idle {
		if err := m.Destroy(ctx, id); err == nil {
			n++
		}
	}
	if n > 0 {
		log.Printf("session: reaped %d idle sessions", n)
	}
	return n
}

// RunReaper reaps idle sessions every interval until ctx ends.
func (m *Manager) RunReaper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = m.opts.SessionTTL / 4
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			m.Reap(ctx, now)
		}
	}
}

// Shutdown waits for posted work and destroys every session.
func (m *Manager) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.posts.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("shutdown: posted work still running: %w", ctx.Err())
	}
	for _, id := range m.IDs() {
		if derr := m.Destroy(ctx, id); derr != nil && !errors.Is(derr, ErrSessionGone) {
			err = errors.Join(err, derr)
		}
	}
	return err
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// IDs returns the live session ids in sorted order.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Strings(ids)
	return ids
}
