// Package session runs the per-session event loop: it serializes turns on an
// update lock, dispatches client events into the widget tree, renders the
// resulting changes and hands the payload to the waiting client or the push
// connection.
package session

import (
	"bytes"
	"context"
	"errors"
	"log"
	"net/url"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"wtcore/internal/changes"
	"wtcore/internal/render"
	"wtcore/internal/render/wire"
	"wtcore/internal/widget"
)

// PayloadKind says how a payload body must be delivered.
type PayloadKind uint8

const (
	// ScriptPayload bodies are evaluated by the client runtime.
	ScriptPayload PayloadKind = iota
	// PagePayload bodies are complete HTML documents.
	PagePayload
)

func (k PayloadKind) String() string {
	if k == PagePayload {
		return "page"
	}
	return "script"
}

// Payload is one rendered response.
type Payload struct {
	Seq  int64
	Kind PayloadKind
	Body []byte
	// Full is set when the payload rebuilds the whole page, making every
	// earlier payload obsolete.
	Full bool
}

// Empty reports whether there is nothing to send.
func (p Payload) Empty() bool { return len(p.Body) == 0 }

// Request is one client request routed to a session.
type Request struct {
	Kind RequestKind
	// JavaScript is false when the client is known to run without scripts.
	JavaScript bool
	// Event is the widget event to dispatch, if any.
	Event *widget.Event
	// Values are form values the client already shows, keyed by widget id.
	Values map[string]string
	// Resync is set by a runtime that is missing a batch and wants the page
	// rebuilt.
	Resync bool
}

// RenderRecord describes one render for the journal and snapshot hooks.
type RenderRecord struct {
	SessionID string
	Seq       int64
	Kind      PayloadKind
	State     ClientState
	Source    string
	Ops       int
	Full      bool
	Reason    string
	Dropped   int
	Bytes     int
	Duration  time.Duration
	At        time.Time
	// Body is set for page renders.
	Body []byte
}

// Snapshot is a self-contained copy of a session's current page.
type Snapshot struct {
	SessionID string
	Seq       int64
	HTML      []byte
	Nodes     int
	TakenAt   time.Time
}

// Hooks observe session activity. Both run while the update lock is held.
type Hooks struct {
	OnRender  func(RenderRecord)
	OnDestroy func(Snapshot)
}

// Session is the render state of one browser session.
type Session struct {
	id      string
	lock    UpdateLock
	tree    *widget.Tree
	enc     *wire.Encoder
	opts    Options
	hooks   Hooks
	metrics *Metrics

	// seq only advances with the update lock held.
	seq    atomic.Int64
	client atomic.Int32
	loop   atomic.Int32

	// shadow is the page the client holds after the last render. It is only
	// kept when batches are verified.
	shadow *render.Element

	mu       sync.Mutex
	pending  []Payload
	pusher   Pusher
	changed  chan struct{}
	lastSeen time.Time
	closed   bool
}

// New creates a detached session with an empty tree. Sessions are normally
// created by a Manager.
func New(id string, opts Options, hooks Hooks, metrics *Metrics) *Session {
	opts = opts.withDefaults()
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Session{
		id:       id,
		tree:     widget.NewTree(changes.NewTracker()),
		enc:      wire.NewEncoder(opts.Paths),
		opts:     opts,
		hooks:    hooks,
		metrics:  metrics,
		changed:  make(chan struct{}),
		lastSeen: time.Now(),
	}
}

func (s *Session) ID() string { return s.id }

// ClientState returns the serializer state.
func (s *Session) ClientState() ClientState { return ClientState(s.client.Load()) }

// LoopState returns where the event loop is.
func (s *Session) LoopState() LoopState { return LoopState(s.loop.Load()) }

// Seq returns the last render sequence. Callers outside a turn get a value
// that may be stale by the time they use it.
func (s *Session) Seq() int64 { return s.seq.Load() }

// LastSeen returns the last time a client or push touched the session.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Touch records client activity.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Guard is proof that the caller holds the session's update lock.
type Guard struct {
	s    *Session
	once sync.Once
}

// Acquire takes the update lock, waiting at most the configured lock timeout.
func (s *Session) Acquire(ctx context.Context) (*Guard, error) {
	start := time.Now()
	err := s.lock.Acquire(ctx, s.opts.LockTimeout)
	s.metrics.LockWait.Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, ErrLockTimeout) {
			s.metrics.LockTimeouts.Inc()
			log.Printf("session: lock timeout sid=%s waited=%s", s.id, time.Since(start).Round(time.Millisecond))
		}
		return nil, err
	}
	if s.isClosed() {
		s.lock.Release()
		return nil, ErrSessionGone
	}
	return &Guard{s: s}, nil
}

// Release gives the lock to the next waiter. Only the first call counts.
func (g *Guard) Release() {
	g.once.Do(func() {
		g.s.loop.Store(int32(Idle))
		g.s.lock.Release()
	})
}

// Session returns the locked session.
func (g *Guard) Session() *Session { return g.s }

// Tree returns the widget tree, which may be mutated while the guard is held.
func (g *Guard) Tree() *widget.Tree { return g.s.tree }

// TriggerUpdate renders pending changes and delivers them to the client now,
// through the push connection or the poll queue.
func (g *Guard) TriggerUpdate() { g.s.triggerUpdate("push") }

// WithLock runs fn with the update lock held. The lock is released on every
// path, including a panic in fn.
func (s *Session) WithLock(ctx context.Context, fn func(*Guard) error) error {
	g, err := s.Acquire(ctx)
	if err != nil {
		return err
	}
	defer g.Release()
	return fn(g)
}

type guardKey struct{}

// WithGuard attaches g to ctx so that event handlers can reach it.
func WithGuard(ctx context.Context, g *Guard) context.Context {
	return context.WithValue(ctx, guardKey{}, g)
}

// GuardFrom returns the guard of the running turn.
func GuardFrom(ctx context.Context) (*Guard, bool) {
	g, ok := ctx.Value(guardKey{}).(*Guard)
	return g, ok
}

// TriggerUpdate flushes the changes made so far in the current turn. It
// reports false when ctx does not belong to a turn.
func TriggerUpdate(ctx context.Context) bool {
	g, ok := GuardFrom(ctx)
	if !ok {
		return false
	}
	g.TriggerUpdate()
	return true
}

// HandleRequest runs one turn: take the lock, dispatch the event, render and
// return what the client should receive. Once the lock is held the turn runs
// to completion even if ctx is cancelled; a payload the client could not
// receive is queued for its next request.
func (s *Session) HandleRequest(ctx context.Context, req Request) (Payload, error) {
	g, err := s.Acquire(ctx)
	if err != nil {
		return Payload{}, err
	}
	defer g.Release()
	s.Touch()

	turn := WithGuard(context.WithoutCancel(ctx), g)
	s.loop.Store(int32(HandlingRequest))
	prev := s.ClientState()
	next := nextClientState(prev, req.Kind, req.JavaScript)
	if next != prev {
		s.client.Store(int32(next))
		log.Printf("session: client state sid=%s %s -> %s", s.id, prev, next)
	}

	ids := make([]string, 0, len(req.Values))
	for id := range req.Values {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := s.tree.SyncFormValue(id, req.Values[id]); err != nil {
			log.Printf("session: form value sid=%s: %v", s.id, err)
		}
	}
	if req.Event != nil && req.Event.Target != "" {
		if err := s.tree.Dispatch(turn, *req.Event); err != nil {
			log.Printf("session: event %s sid=%s: %v", req.Event.Name, s.id, err)
		}
	}

	if req.Resync && next == Incremental {
		log.Printf("session: client asked for resync sid=%s seq=%d", s.id, s.seq.Load())
		s.tree.Tracker().RequestResync()
	}

	s.loop.Store(int32(Rendering))
	var out Payload
	if next == Incremental {
		p := s.renderScript(req.Kind.String())
		out = s.takePending(p)
	} else {
		mode := wire.NoJavaScript
		if next == Bootstrapping {
			mode = wire.Bootstrap
		}
		out = s.renderPage(mode, req.Kind.String())
	}
	s.metrics.Turns.WithLabelValues(req.Kind.String(), next.String()).Inc()

	if err := ctx.Err(); err != nil {
		if out.Kind == ScriptPayload && !out.Empty() {
			s.requeue(out)
		}
		return Payload{}, err
	}
	return out, nil
}

// renderPage produces a full document and resets the client to it.
func (s *Session) renderPage(mode wire.Mode, source string) Payload {
	start := time.Now()
	s.tree.Tracker().SnapshotAndClear()
	seq := s.seq.Add(1)
	root := render.Snapshot(s.tree.Root())
	page := wire.Page{
		SessionID: s.id,
		Seq:       seq,
		Title:     s.opts.Title,
		Mode:      mode,
		WebSocket: s.opts.WebSocket,
	}
	if mode == wire.Bootstrap {
		page.NoScriptURL = s.opts.Paths.Form + "?" + url.Values{"sid": {s.id}}.Encode()
	}
	body, errs := s.enc.Page(page, root)
	s.reportDropped(errs)
	render.Commit(s.tree)
	if s.opts.Verify {
		s.shadow = root
	}

	s.mu.Lock()
	s.setPendingLocked(nil)
	s.mu.Unlock()

	p := Payload{Seq: seq, Kind: PagePayload, Body: body, Full: true}
	s.record(RenderRecord{
		Seq: seq, Kind: PagePayload, Source: source, Ops: root.Count(), Full: true,
		Reason: mode.String(), Dropped: len(errs), Bytes: len(body),
		Duration: time.Since(start), Body: body,
	})
	return p
}

// renderScript turns the changes recorded since the last render into a
// script. It falls back to a full rebuild when the diff cannot be trusted.
func (s *Session) renderScript(source string) Payload {
	start := time.Now()
	cs := s.tree.Tracker().SnapshotAndClear()

	var (
		ops    []render.Op
		full   bool
		reason string
	)
	switch {
	case !s.tree.Root().Rendered():
		full, reason = true, "initial"
	case cs.Resync:
		full, reason = true, "resync"
	default:
		var err error
		ops, err = render.Diff(cs, s.tree)
		if err != nil {
			log.Printf("session: diff failed sid=%s, sending full render: %v", s.id, err)
			full, reason = true, "inconsistent"
		} else if s.opts.Verify {
			if err := render.VerifyAgainst(s.shadow, ops); err != nil {
				log.Printf("session: verify failed sid=%s, sending full render: %v\n%s", s.id, err, render.FormatOps(ops))
				full, reason = true, "verify"
			}
		}
	}
	if full {
		ops = render.Full(s.tree)
		s.metrics.Resyncs.WithLabelValues(reason).Inc()
	}
	if len(ops) == 0 {
		render.Commit(s.tree)
		return Payload{}
	}

	seq := s.seq.Add(1)
	encode := s.enc.Script
	if full {
		encode = s.enc.FullScript
	}
	body, errs := encode(seq, ops)
	s.reportDropped(errs)
	if len(errs) > 0 && !full {
		s.tree.Tracker().RequestResync()
	}
	render.Commit(s.tree)
	if s.opts.Verify {
		s.shadow = render.Snapshot(s.tree.Root())
	}
	s.metrics.RenderOps.Observe(float64(len(ops)))

	s.record(RenderRecord{
		Seq: seq, Kind: ScriptPayload, Source: source, Ops: len(ops), Full: full,
		Reason: reason, Dropped: len(errs), Bytes: len(body), Duration: time.Since(start),
	})
	return Payload{Seq: seq, Kind: ScriptPayload, Body: body, Full: full}
}

func (s *Session) reportDropped(errs []*wire.EncodeError) {
	for _, err := range errs {
		log.Printf("session: dropped op sid=%s: %v", s.id, err)
	}
	if len(errs) > 0 {
		s.metrics.DroppedOps.Add(float64(len(errs)))
	}
}

func (s *Session) record(rec RenderRecord) {
	s.metrics.RenderDuration.Observe(rec.Duration.Seconds())
	if s.hooks.OnRender == nil {
		return
	}
	rec.SessionID = s.id
	rec.State = s.ClientState()
	rec.At = time.Now()
	s.hooks.OnRender(rec)
}

// triggerUpdate renders outside of a request. Clients without the runtime
// pick the changes up with their next page.
func (s *Session) triggerUpdate(source string) {
	if !s.ClientState().runtime() {
		return
	}
	prev := s.LoopState()
	s.loop.Store(int32(Rendering))
	defer s.loop.Store(int32(prev))
	p := s.renderScript(source)
	if p.Empty() {
		return
	}
	s.deliver(p)
}

// Snapshot renders the current page without touching the render state.
func (s *Session) Snapshot(ctx context.Context) (Snapshot, error) {
	g, err := s.Acquire(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	defer g.Release()
	return s.snapshotLocked(), nil
}

func (s *Session) snapshotLocked() Snapshot {
	root := render.Snapshot(s.tree.Root())
	seq := s.seq.Load()
	body, _ := s.enc.Page(wire.Page{SessionID: s.id, Seq: seq, Title: s.opts.Title, Mode: wire.NoJavaScript}, root)
	return Snapshot{SessionID: s.id, Seq: seq, HTML: body, Nodes: root.Count(), TakenAt: time.Now()}
}

// close ends the session. Waiters and pollers fail with ErrSessionGone.
func (s *Session) close(ctx context.Context) {
	if s.isClosed() {
		return
	}
	g, err := s.Acquire(ctx)
	if err == nil {
		if s.hooks.OnDestroy != nil {
			s.hooks.OnDestroy(s.snapshotLocked())
		}
	} else {
		log.Printf("session: closing sid=%s without final snapshot: %v", s.id, err)
	}
	s.client.Store(int32(Disconnected))

	s.mu.Lock()
	s.closed = true
	pusher := s.pusher
	s.pusher = nil
	s.setPendingLocked(nil)
	s.notifyLocked()
	s.mu.Unlock()

	s.lock.Close()
	if g != nil {
		g.Release()
	}
	if pusher != nil {
		_ = pusher.Close()
	}
}

// joinPayloads concatenates scripts in order. Anything before the last full
// render is obsolete and left out.
func joinPayloads(ps []Payload) Payload {
	ps = dropStale(ps)
	switch len(ps) {
	case 0:
		return Payload{}
	case 1:
		return ps[0]
	}
	var b bytes.Buffer
	out := Payload{Kind: ScriptPayload}
	for _, p := range ps {
		b.Write(p.Body)
		out.Seq = max(out.Seq, p.Seq)
		out.Full = out.Full || p.Full
	}
	out.Body = b.Bytes()
	return out
}

func dropStale(ps []Payload) []Payload {
	for i := len(ps) - 1; i > 0; i-- {
		if ps[i].Full {
			return ps[i:]
		}
	}
	return ps
}
