package session

import (
	"context"
	"log"
	"time"

	"wtcore/internal/render/wire"
)

// Pusher is a server push connection, such as a WebSocket.
type Pusher interface {
	// Push sends one script body. It must not block on a slow client.
	Push(body []byte) error
	Close() error
}

// Attach makes p the session's push connection, replacing and closing any
// previous one. Buffered payloads are flushed to p right away.
func (s *Session) Attach(p Pusher) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionGone
	}
	old := s.pusher
	s.pusher = p
	s.lastSeen = time.Now()
	batch := joinPayloads(s.pending)
	s.setPendingLocked(nil)
	s.mu.Unlock()

	if old != nil && old != p {
		_ = old.Close()
	}
	if !batch.Empty() {
		s.push(p, batch)
	}
	return nil
}

// Detach forgets p if it is still the session's push connection.
func (s *Session) Detach(p Pusher) {
	s.mu.Lock()
	if s.pusher == p {
		s.pusher = nil
	}
	s.mu.Unlock()
}

// Attached reports whether a push connection is attached.
func (s *Session) Attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pusher != nil
}

// deliver sends p over the push connection or buffers it for the next poll.
func (s *Session) deliver(p Payload) {
	s.mu.Lock()
	pusher := s.pusher
	if pusher == nil {
		s.setPendingLocked(dropStale(append(s.pending, p)))
		s.notifyLocked()
		s.mu.Unlock()
		return
	}
	batch := joinPayloads(append(s.pending, p))
	s.setPendingLocked(nil)
	s.mu.Unlock()
	s.push(pusher, batch)
}

func (s *Session) push(pusher Pusher, batch Payload) {
	if err := pusher.Push(batch.Body); err != nil {
		log.Printf("session: push failed sid=%s seq=%d: %v", s.id, batch.Seq, err)
		s.Detach(pusher)
		s.requeue(batch)
		s.flush()
	}
}

// flush hands the buffer to a push connection attached in the meantime.
func (s *Session) flush() {
	s.mu.Lock()
	pusher := s.pusher
	if pusher == nil || len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	batch := joinPayloads(s.pending)
	s.setPendingLocked(nil)
	s.mu.Unlock()
	if err := pusher.Push(batch.Body); err != nil {
		log.Printf("session: push failed sid=%s seq=%d: %v", s.id, batch.Seq, err)
		s.Detach(pusher)
		s.requeue(batch)
	}
}

// takePending returns everything buffered plus p as one payload.
func (s *Session) takePending(p Payload) Payload {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return p
	}
	all := append(s.pending, p)
	if p.Empty() {
		all = s.pending
	}
	out := joinPayloads(all)
	s.setPendingLocked(nil)
	return out
}

// requeue puts an undelivered payload back in front of the buffer.
func (s *Session) requeue(p Payload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.setPendingLocked(dropStale(append([]Payload{p}, s.pending...)))
	s.notifyLocked()
}

// Requeue takes back script bodies a push connection accepted but never
// wrote. Joined bodies are split into their renders again, and whatever is
// buffered goes to the push connection attached in the meantime.
func (s *Session) Requeue(body []byte) {
	segs := wire.SplitScript(body)
	if len(segs) == 0 {
		return
	}
	ps := make([]Payload, 0, len(segs))
	for _, seg := range segs {
		ps = append(ps, Payload{Seq: seg.Seq, Kind: ScriptPayload, Body: seg.Body, Full: seg.Full})
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.setPendingLocked(dropStale(append(ps, s.pending...)))
	s.notifyLocked()
	s.mu.Unlock()
	s.flush()
}

func (s *Session) setPendingLocked(ps []Payload) {
	s.metrics.Pending.Add(float64(len(ps) - len(s.pending)))
	s.pending = ps
}

func (s *Session) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

// PendingCount returns the number of buffered payloads.
func (s *Session) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Poll waits until a payload is buffered, ctx ends, or timeout elapses. An
// empty payload with a nil error means the wait timed out.
func (s *Session) Poll(ctx context.Context, timeout time.Duration) (Payload, error) {
	if timeout <= 0 {
		timeout = s.opts.PollTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	s.Touch()
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return Payload{}, ErrSessionGone
		}
		if len(s.pending) > 0 {
			out := joinPayloads(s.pending)
			s.setPendingLocked(nil)
			s.mu.Unlock()
			if err := ctx.Err(); err != nil {
				s.requeue(out)
				return Payload{}, err
			}
			return out, nil
		}
		ch := s.changed
		s.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return Payload{}, ctx.Err()
		case <-timer.C:
			return Payload{}, nil
		}
	}
}
