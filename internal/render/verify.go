package render

import (
	"errors"
	"fmt"
)

var (
	// ErrUnorderedBatch is returned by Verify.
	ErrUnorderedBatch = errors.New("render: badly ordered batch")
	// ErrClientMismatch is returned by VerifyAgainst when a batch does not
	// fit the elements the client holds.
	ErrClientMismatch = errors.New("render: batch does not fit the client")
)

// Verify checks the ordering contract of a batch. No op may reference an id
// after its removal unless a later op creates it again, no id is removed
// twice, and no op updates or moves an element before the op that creates it.
// ReplaceContents creates the children of its target, not the target itself.
func Verify(ops []Op) error {
	createdAt := make(map[string]int)
	created := func(i int, els ...*Element) {
		for _, el := range els {
			el.Walk(func(el *Element) {
				if _, seen := createdAt[el.ID]; !seen {
					createdAt[el.ID] = i
				}
			})
		}
	}
	for i, op := range ops {
		switch op.Kind {
		case CreateElement:
			created(i, op.Element)
		case ReplaceContents:
			if op.Element != nil {
				created(i, op.Element.Children...)
			}
		}
	}

	gone := make(map[string]int)
	fail := func(i int, format string, args ...any) error {
		return fmt.Errorf("%w: op %d %s: %s", ErrUnorderedBatch, i, ops[i], fmt.Sprintf(format, args...))
	}
	ref := func(i int, ids ...string) error {
		for _, id := range ids {
			if id == "" {
				continue
			}
			if at, ok := gone[id]; ok {
				return fail(i, "%s was removed by op %d", id, at)
			}
		}
		return nil
	}
	revive := func(els ...*Element) {
		for _, el := range els {
			el.Walk(func(el *Element) { delete(gone, el.ID) })
		}
	}

	for i, op := range ops {
		switch op.Kind {
		case RemoveElement:
			if err := ref(i, op.Target); err != nil {
				return err
			}
			if at, ok := createdAt[op.Target]; ok && at < i {
				return fail(i, "removes an element created by op %d", at)
			}
			gone[op.Target] = i
		case CreateElement:
			if err := ref(i, op.Parent, op.After); err != nil {
				return err
			}
			if op.Element == nil || op.Element.ID != op.Target {
				return fail(i, "element does not match target")
			}
			revive(op.Element)
		case ReplaceContents:
			if err := ref(i, op.Target); err != nil {
				return err
			}
			if op.Element == nil || op.Element.ID != op.Target {
				return fail(i, "element does not match target")
			}
			if at, ok := createdAt[op.Target]; ok && at > i {
				return fail(i, "replaces %s before op %d creates it", op.Target, at)
			}
			revive(op.Element.Children...)
		case MoveElement:
			if err := ref(i, op.Target, op.Parent, op.After); err != nil {
				return err
			}
			if at, ok := createdAt[op.Target]; ok && at > i {
				return fail(i, "moves %s before op %d creates it", op.Target, at)
			}
		case SetAttribute:
			if err := ref(i, op.Target); err != nil {
				return err
			}
			if at, ok := createdAt[op.Target]; ok && at > i {
				return fail(i, "updates %s before op %d creates it", op.Target, at)
			}
		default:
			return fail(i, "unknown op kind")
		}
	}
	return nil
}

// VerifyAgainst runs Verify and then replays ops on the element ids of
// client, the tree the client holds before the batch. It fails when an op
// creates an id that is still on the page or touches one that is not.
func VerifyAgainst(client *Element, ops []Op) error {
	if err := Verify(ops); err != nil {
		return err
	}
	if client == nil {
		return nil
	}
	ids := newIDTree(client)
	for i, op := range ops {
		if err := ids.apply(op); err != nil {
			return fmt.Errorf("%w: op %d %s: %v", ErrClientMismatch, i, op, err)
		}
	}
	return nil
}

// idTree is the shape of the client page reduced to ids.
type idTree struct {
	root     string
	parent   map[string]string
	children map[string]map[string]struct{}
}

func newIDTree(root *Element) *idTree {
	t := &idTree{
		root:     root.ID,
		parent:   make(map[string]string),
		children: make(map[string]map[string]struct{}),
	}
	// the client's own tree is taken as is
	_ = t.add(root, "")
	return t
}

func (t *idTree) has(id string) bool {
	_, ok := t.parent[id]
	return ok
}

func (t *idTree) add(el *Element, parent string) error {
	if t.has(el.ID) {
		return fmt.Errorf("%s is already on the page", el.ID)
	}
	t.parent[el.ID] = parent
	if parent != "" {
		if t.children[parent] == nil {
			t.children[parent] = make(map[string]struct{})
		}
		t.children[parent][el.ID] = struct{}{}
	}
	for _, c := range el.Children {
		if err := t.add(c, el.ID); err != nil {
			return err
		}
	}
	return nil
}

// drop removes id and everything below it.
func (t *idTree) drop(id string) {
	for c := range t.children[id] {
		t.drop(c)
	}
	delete(t.children, id)
	if p := t.parent[id]; p != "" {
		delete(t.children[p], id)
	}
	delete(t.parent, id)
}

func (t *idTree) need(ids ...string) error {
	for _, id := range ids {
		if id != "" && !t.has(id) {
			return fmt.Errorf("%s is not on the page", id)
		}
	}
	return nil
}

func (t *idTree) sibling(parent, after string) error {
	if after != "" && t.parent[after] != parent {
		return fmt.Errorf("%s is not a child of %s", after, parent)
	}
	return nil
}

func (t *idTree) apply(op Op) error {
	switch op.Kind {
	case CreateElement:
		if err := t.need(op.Parent, op.After); err != nil {
			return err
		}
		if err := t.sibling(op.Parent, op.After); err != nil {
			return err
		}
		return t.add(op.Element, op.Parent)
	case RemoveElement:
		if err := t.need(op.Target); err != nil {
			return err
		}
		if op.Target == t.root {
			return fmt.Errorf("cannot remove the root")
		}
		t.drop(op.Target)
	case MoveElement:
		if err := t.need(op.Target, op.Parent, op.After); err != nil {
			return err
		}
		for p := op.Parent; p != ""; p = t.parent[p] {
			if p == op.Target {
				return fmt.Errorf("%s would move into itself", op.Target)
			}
		}
		delete(t.children[t.parent[op.Target]], op.Target)
		t.parent[op.Target] = op.Parent
		if t.children[op.Parent] == nil {
			t.children[op.Parent] = make(map[string]struct{})
		}
		t.children[op.Parent][op.Target] = struct{}{}
		return t.sibling(op.Parent, op.After)
	case ReplaceContents:
		if err := t.need(op.Target); err != nil {
			return err
		}
		for c := range t.children[op.Target] {
			t.drop(c)
		}
		for _, c := range op.Element.Children {
			if err := t.add(c, op.Target); err != nil {
				return err
			}
		}
	case SetAttribute:
		return t.need(op.Target)
	}
	return nil
}
