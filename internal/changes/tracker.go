// Package changes accumulates the per-turn dirty state of a widget tree.
//
// A Tracker has no lock of its own. Every call happens while the owning
// session's update lock is held.
package changes

import (
	"sort"
	"strings"
)

// Flag is a set of dirty bits recorded for one node.
type Flag uint8

const (
	AttributesChanged Flag = 1 << iota
	ChildrenInserted
	ChildrenRemoved
	ChildrenReordered
	Deleted
	ContentsReplaced
)

// Structural is the union of flags that change a node's child list.
const Structural = ChildrenInserted | ChildrenRemoved | ChildrenReordered | ContentsReplaced

var flagNames = []struct {
	f    Flag
	name string
}{
	{AttributesChanged, "AttributesChanged"},
	{ChildrenInserted, "ChildrenInserted"},
	{ChildrenRemoved, "ChildrenRemoved"},
	{ChildrenReordered, "ChildrenReordered"},
	{Deleted, "Deleted"},
	{ContentsReplaced, "ContentsReplaced"},
}

func (f Flag) Has(o Flag) bool { return f&o == o }

func (f Flag) String() string {
	if f == 0 {
		return "{}"
	}
	parts := make([]string, 0, len(flagNames))
	for _, fn := range flagNames {
		if f.Has(fn.f) {
			parts = append(parts, fn.name)
		}
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// Entry is the dirty record of one node for the current turn.
type Entry struct {
	ID    string
	Flags Flag

	// Attributes lists changed attribute names in first-change order.
	Attributes []string

	// PrevChildren is the client-side child order captured on the first
	// structural mark of the turn. Nil when the node was not rendered.
	PrevChildren []string
	hasPrev      bool

	// ParentID is the parent at the time the node was deleted.
	ParentID string

	// PrevParent is the client-side parent of a rendered node moved this turn.
	PrevParent string
	moved      bool
}

// Moved reports whether a rendered node changed parent during the turn.
func (e *Entry) Moved() bool { return e != nil && e.moved }

// HasPrevChildren reports whether PrevChildren was captured.
func (e *Entry) HasPrevChildren() bool { return e != nil && e.hasPrev }

func (e *Entry) clone() *Entry {
	out := *e
	out.Attributes = append([]string(nil), e.Attributes...)
	if e.PrevChildren != nil {
		out.PrevChildren = append([]string(nil), e.PrevChildren...)
	}
	return &out
}

// ChangeSet is an immutable snapshot of one turn's dirty entries.
type ChangeSet struct {
	Entries map[string]*Entry
	Resync  bool
}

// Len returns the number of dirty nodes.
func (c ChangeSet) Len() int { return len(c.Entries) }

// Empty reports whether nothing was recorded.
func (c ChangeSet) Empty() bool { return len(c.Entries) == 0 && !c.Resync }

// Get returns the entry for id, or nil.
func (c ChangeSet) Get(id string) *Entry {
	if c.Entries == nil {
		return nil
	}
	return c.Entries[id]
}

// IDs returns the dirty node ids in sorted order.
func (c ChangeSet) IDs() []string {
	ids := make([]string, 0, len(c.Entries))
	for id := range c.Entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Tracker records dirty flags while handlers run.
type Tracker struct {
	entries map[string]*Entry
	resync  bool
}

func NewTracker() *Tracker {
	return &Tracker{entries: make(map[string]*Entry)}
}

func (t *Tracker) entry(id string) *Entry {
	e, ok := t.entries[id]
	if !ok {
		e = &Entry{ID: id}
		t.entries[id] = e
	}
	return e
}

// MarkDirty merges flag into the entry of id. Marking twice is the same as
// marking once.
func (t *Tracker) MarkDirty(id string, flag Flag) {
	if id == "" || flag == 0 {
		return
	}
	t.entry(id).Flags |= flag
}

// MarkAttribute records a changed attribute name.
func (t *Tracker) MarkAttribute(id, name string) {
	if id == "" {
		return
	}
	e := t.entry(id)
	e.Flags |= AttributesChanged
	for _, n := range e.Attributes {
		if n == name {
			return
		}
	}
	e.Attributes = append(e.Attributes, name)
}

// MarkStructural merges a structural flag and captures prev on the first
// structural mark of the turn. prev is the child order the client holds.
func (t *Tracker) MarkStructural(id string, flag Flag, prev []string) {
	if id == "" {
		return
	}
	e := t.entry(id)
	e.Flags |= flag
	if !e.hasPrev {
		e.hasPrev = true
		e.PrevChildren = append([]string{}, prev...)
	}
}

// MarkDeleted records the removal of a rendered node. Any other dirty state
// of the node is dropped; only the move record survives because it still
// describes where the client holds the element.
func (t *Tracker) MarkDeleted(id, parentID string) {
	if id == "" {
		return
	}
	e := t.entry(id)
	e.Flags = Deleted
	e.Attributes = nil
	e.PrevChildren = nil
	e.hasPrev = false
	e.ParentID = parentID
}

// MarkMoved records the client parent of a rendered node that changes parent.
// Only the first move of the turn is kept: that is where the client has it.
func (t *Tracker) MarkMoved(id, prevParent string) {
	if id == "" {
		return
	}
	e := t.entry(id)
	if !e.moved {
		e.moved = true
		e.PrevParent = prevParent
	}
}

// Forget drops everything recorded for id.
func (t *Tracker) Forget(id string) {
	delete(t.entries, id)
}

// Lookup returns the live entry for id, or nil.
func (t *Tracker) Lookup(id string) *Entry {
	return t.entries[id]
}

// RequestResync forces the next render to be a full one.
func (t *Tracker) RequestResync() { t.resync = true }

// Len returns the number of dirty nodes.
func (t *Tracker) Len() int { return len(t.entries) }

// SnapshotAndClear returns the accumulated ChangeSet and resets the tracker.
func (t *Tracker) SnapshotAndClear() ChangeSet {
	cs := ChangeSet{Entries: t.entries, Resync: t.resync}
	t.entries = make(map[string]*Entry)
	t.resync = false
	return cs
}

// Peek returns a deep copy of the current state without clearing it.
func (t *Tracker) Peek() ChangeSet {
	out := make(map[string]*Entry, len(t.entries))
	for id, e := range t.entries {
		out[id] = e.clone()
	}
	return ChangeSet{Entries: out, Resync: t.resync}
}
