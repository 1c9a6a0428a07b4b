package widget

import (
	"context"
	"errors"
	"fmt"
)

// Common event names.
const (
	EventClicked = "clicked"
	EventChanged = "changed"
	EventEnter   = "enter"
)

// Event is delivered to the handlers subscribed on the target widget.
type Event struct {
	Name   string
	Target string
	// Value carries the client-side form value for input widgets.
	Value string
	Args  map[string]string
}

// Handler reacts to an event. It runs inside a turn and may mutate the tree.
type Handler func(ctx context.Context, ev Event) error

type subscription struct {
	id uint64
	fn Handler
}

// Subscription identifies one connected handler.
type Subscription struct {
	node  *Node
	event string
	id    uint64
}

// Disconnect removes the handler. Disconnecting twice is harmless.
func (s Subscription) Disconnect() {
	if s.node == nil || s.node.subs == nil {
		return
	}
	list := s.node.subs[s.event]
	for i, sub := range list {
		if sub.id == s.id {
			s.node.subs[s.event] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// On subscribes fn to event on n. Handlers run in subscription order.
func (n *Node) On(event string, fn Handler) Subscription {
	if n == nil || fn == nil || n.destroyed {
		return Subscription{}
	}
	if n.subs == nil {
		n.subs = make(map[string][]*subscription)
	}
	n.nextSo++
	n.subs[event] = append(n.subs[event], &subscription{id: n.nextSo, fn: fn})
	return Subscription{node: n, event: event, id: n.nextSo}
}

// HasHandlers reports whether anything listens for event on n.
func (n *Node) HasHandlers(event string) bool {
	return n != nil && len(n.subs[event]) > 0
}

// Events returns the names of events n has handlers for.
func (n *Node) Events() []string {
	out := make([]string, 0, len(n.subs))
	for name, list := range n.subs {
		if len(list) > 0 {
			out = append(out, name)
		}
	}
	return out
}

// emit runs the handlers of one event. A handler that destroys the node
// stops the remaining ones.
func (n *Node) emit(ctx context.Context, ev Event) error {
	list := append([]*subscription(nil), n.subs[ev.Name]...)
	var errs []error
	for _, sub := range list {
		if n.destroyed {
			break
		}
		if err := sub.fn(ctx, ev); err != nil {
			errs = append(errs, fmt.Errorf("%s on %s: %w", ev.Name, n.id, err))
		}
	}
	return errors.Join(errs...)
}
