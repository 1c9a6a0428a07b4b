package widget

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"wtcore/internal/changes"
)

// RootID is the id of the session-owned root container.
const RootID = "root"

// Tree owns the widgets of one session and records every mutation in its
// change tracker. It is not safe for concurrent use; callers hold the session
// update lock.
type Tree struct {
	root    *Node
	nodes   map[string]*Node
	tracker *changes.Tracker
	counter uint64

	// pending holds live nodes inserted since the last Commit.
	pending map[*Node]struct{}
}

// NewTree returns a tree holding only the root container.
func NewTree(tracker *changes.Tracker) *Tree {
	if tracker == nil {
		tracker = changes.NewTracker()
	}
	t := &Tree{
		nodes:   make(map[string]*Node),
		tracker: tracker,
		pending: make(map[*Node]struct{}),
	}
	root := NewWithID(Container, RootID)
	root.tree = t
	t.root = root
	t.nodes[RootID] = root
	t.pending[root] = struct{}{}
	return t
}

func (t *Tree) Root() *Node                { return t.root }
func (t *Tree) Tracker() *changes.Tracker { return t.tracker }

// Len returns the number of live nodes including the root.
func (t *Tree) Len() int { return len(t.nodes) }

// Lookup returns the live node with id.
func (t *Tree) Lookup(id string) (*Node, bool) {
	n, ok := t.nodes[id]
	return n, ok
}

func (t *Tree) nextID() string {
	for {
		t.counter++
		id := "w" + strconv.FormatUint(t.counter, 36)
		if _, taken := t.nodes[id]; !taken {
			return id
		}
	}
}

func (t *Tree) checkLive(n *Node) error {
	if n == nil || n.destroyed {
		return ErrDestroyed
	}
	if n.tree != t {
		return ErrForeignNode
	}
	return nil
}

// checkDetached validates nodes about to be attached: they must be fresh and
// their ids must be unique in the tree and among themselves.
func (t *Tree) checkDetached(nodes ...*Node) error {
	seen := make(map[string]struct{})
	for _, node := range nodes {
		if node == nil || node.destroyed {
			return ErrDestroyed
		}
		if node.parent != nil || node.tree != nil {
			return ErrAlreadyOwned
		}
		var err error
		node.walk(func(n *Node) {
			if err != nil || n.id == "" {
				return
			}
			if _, dup := t.nodes[n.id]; dup {
				err = fmt.Errorf("%w: %s", ErrDuplicateID, n.id)
				return
			}
			if _, dup := seen[n.id]; dup {
				err = fmt.Errorf("%w: %s", ErrDuplicateID, n.id)
				return
			}
			seen[n.id] = struct{}{}
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *Tree) adopt(node *Node) {
	node.walk(func(n *Node) {
		if n.id == "" {
			n.id = t.nextID()
		}
		n.tree = t
		n.rendered = false
		t.nodes[n.id] = n
		t.pending[n] = struct{}{}
	})
}

// markStructural records a child list change on a parent the client knows.
func (t *Tree) markStructural(parent *Node, flag changes.Flag) {
	if parent.rendered {
		t.tracker.MarkStructural(parent.id, flag, parent.ChildIDs())
	}
}

// Insert adds node as child index of parent. Nodes without an id get a fresh
// one; the whole subtree is created on the next render.
func (t *Tree) Insert(parent *Node, index int, node *Node) error {
	if err := t.checkLive(parent); err != nil {
		return err
	}
	if IsVoid(parent.kind) {
		return ErrVoidElement
	}
	if index < 0 || index > len(parent.children) {
		return fmt.Errorf("%w: %d not in [0,%d]", ErrInvalidIndex, index, len(parent.children))
	}
	if node == t.root {
		return ErrAlreadyOwned
	}
	if err := t.checkDetached(node); err != nil {
		return err
	}
	t.markStructural(parent, changes.ChildrenInserted)
	t.adopt(node)
	node.parent = parent
	parent.children = append(parent.children, nil)
	copy(parent.children[index+1:], parent.children[index:])
	parent.children[index] = node
	return nil
}

// Append inserts node as the last child of parent.
func (t *Tree) Append(parent, node *Node) error {
	if parent == nil {
		return ErrDestroyed
	}
	return t.Insert(parent, len(parent.children), node)
}

// Remove detaches node from its parent and destroys its subtree.
func (t *Tree) Remove(node *Node) error {
	if err := t.checkLive(node); err != nil {
		return err
	}
	parent := node.parent
	if parent == nil {
		return ErrNotAChild
	}
	t.markStructural(parent, changes.ChildrenRemoved)
	i := parent.IndexOf(node)
	parent.children = append(parent.children[:i], parent.children[i+1:]...)
	t.destroy(node)
	return nil
}

// destroy releases a detached subtree. Rendered nodes leave a Deleted entry
// naming the parent they had when they were destroyed.
func (t *Tree) destroy(node *Node) {
	node.walk(func(n *Node) {
		parentID := ""
		if n.parent != nil {
			parentID = n.parent.id
		}
		if n.rendered {
			t.tracker.MarkDeleted(n.id, parentID)
		} else if e := t.tracker.Lookup(n.id); e == nil || e.Flags != changes.Deleted {
			// An unrendered node never reached the client. A Deleted entry
			// under the same id belongs to an earlier node and must survive.
			t.tracker.Forget(n.id)
		}
		delete(t.nodes, n.id)
		delete(t.pending, n)
	})
	node.walk(func(n *Node) {
		n.destroyed = true
		n.tree = nil
		n.subs = nil
	})
	node.parent = nil
}

// SetAttribute stores name=value on n. Setting the value it already has
// records nothing.
func (t *Tree) SetAttribute(n *Node, name, value string) error {
	if err := t.checkLive(n); err != nil {
		return err
	}
	name = strings.TrimSpace(name)
	if reservedName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if name == ContentAttr && IsVoid(n.kind) {
		return ErrVoidElement
	}
	if n.store(name, value) && n.rendered {
		t.tracker.MarkAttribute(n.id, name)
	}
	return nil
}

// reservedName reports names that cannot be stored as attributes. The id
// belongs to the widget and hidden has its own setter.
func reservedName(name string) bool {
	return name == "" || name == HiddenAttr || strings.EqualFold(name, IDAttr)
}

// RemoveAttribute drops a stored attribute, reverting to the kind default.
func (t *Tree) RemoveAttribute(n *Node, name string) error {
	if err := t.checkLive(n); err != nil {
		return err
	}
	if n.unset(name) && n.rendered {
		t.tracker.MarkAttribute(n.id, name)
	}
	return nil
}

// SetHidden toggles visibility.
func (t *Tree) SetHidden(n *Node, hidden bool) error {
	if err := t.checkLive(n); err != nil {
		return err
	}
	if n.hidden == hidden {
		return nil
	}
	n.hidden = hidden
	if n.rendered {
		t.tracker.MarkAttribute(n.id, HiddenAttr)
	}
	return nil
}

// Move reparents node under newParent at index, where index is a position in
// newParent's child list once node has been taken out of its old place.
// A rendered node keeps its client element and is moved there too.
func (t *Tree) Move(node, newParent *Node, index int) error {
	if err := t.checkLive(node); err != nil {
		return err
	}
	if err := t.checkLive(newParent); err != nil {
		return err
	}
	old := node.parent
	if old == nil {
		return ErrNotAChild
	}
	if newParent == node || node.IsAncestorOf(newParent) {
		return ErrCycle
	}
	if IsVoid(newParent.kind) {
		return ErrVoidElement
	}
	limit := len(newParent.children)
	if old == newParent {
		limit--
	}
	if index < 0 || index > limit {
		return fmt.Errorf("%w: %d not in [0,%d]", ErrInvalidIndex, index, limit)
	}
	from := old.IndexOf(node)
	if old == newParent && from == index {
		return nil
	}

	if old == newParent {
		t.markStructural(old, changes.ChildrenReordered)
	} else {
		t.markStructural(old, changes.ChildrenRemoved)
		t.markStructural(newParent, changes.ChildrenInserted)
		if node.rendered {
			t.tracker.MarkMoved(node.id, old.id)
		}
	}

	old.children = append(old.children[:from], old.children[from+1:]...)
	newParent.children = append(newParent.children, nil)
	copy(newParent.children[index+1:], newParent.children[index:])
	newParent.children[index] = node
	node.parent = newParent
	return nil
}

// ReplaceChildren destroys every child of parent and installs nodes in their
// place. The client receives a single contents replacement.
func (t *Tree) ReplaceChildren(parent *Node, nodes ...*Node) error {
	if err := t.checkLive(parent); err != nil {
		return err
	}
	if len(nodes) > 0 && IsVoid(parent.kind) {
		return ErrVoidElement
	}
	for _, n := range nodes {
		if n == t.root {
			return ErrAlreadyOwned
		}
	}
	if err := t.checkDetached(nodes...); err != nil {
		return err
	}
	t.markStructural(parent, changes.ContentsReplaced)
	old := parent.children
	parent.children = nil
	for _, c := range old {
		t.destroy(c)
	}
	for _, n := range nodes {
		t.adopt(n)
		n.parent = parent
		parent.children = append(parent.children, n)
	}
	return nil
}

// SyncFormValue records a value the client already shows, such as text typed
// into an input. Nothing is marked since the client is up to date.
func (t *Tree) SyncFormValue(id, value string) error {
	n, ok := t.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchWidget, id)
	}
	n.store("value", value)
	return nil
}

// Dispatch delivers ev to the handlers of its target widget.
func (t *Tree) Dispatch(ctx context.Context, ev Event) error {
	n, ok := t.nodes[ev.Target]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchWidget, ev.Target)
	}
	return n.emit(ctx, ev)
}

// Commit marks every node inserted since the last commit as rendered. It is
// called once the render that created them has been produced.
func (t *Tree) Commit() {
	for n := range t.pending {
		if !n.destroyed {
			n.rendered = true
		}
	}
	clear(t.pending)
}

// PendingCount returns the number of nodes awaiting their first render.
func (t *Tree) PendingCount() int { return len(t.pending) }

// SetAttribute updates an attribute of n. Detached nodes are updated in place
// without tracking.
func (n *Node) SetAttribute(name, value string) error {
	if n.tree != nil {
		return n.tree.SetAttribute(n, name, value)
	}
	if n.destroyed {
		return ErrDestroyed
	}
	if reservedName(strings.TrimSpace(name)) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if name == ContentAttr && IsVoid(n.kind) {
		return ErrVoidElement
	}
	n.store(name, value)
	return nil
}

// SetText replaces the text content of n.
func (n *Node) SetText(text string) error { return n.SetAttribute(ContentAttr, text) }

// SetHidden toggles visibility of n.
func (n *Node) SetHidden(hidden bool) error {
	if n.tree != nil {
		return n.tree.SetHidden(n, hidden)
	}
	if n.destroyed {
		return ErrDestroyed
	}
	n.hidden = hidden
	return nil
}
