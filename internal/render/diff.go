package render

import (
	"slices"
	"sort"

	"wtcore/internal/changes"
	"wtcore/internal/widget"
)

// Diff computes the operations that turn the client DOM of the previous render
// into the current state of tree. cs must be the ChangeSet accumulated since
// that render.
//
// A node is effectively rendered when the client still holds its element at
// the right place once this batch's removals have run: it was rendered, every
// ancestor is effectively rendered, its parent's contents are not replaced and,
// if it moved, no element that held it on the client goes away. Everything
// else that is live gets created.
//
// Ops come in three phases: removals, structure in tree pre-order, attributes.
func Diff(cs changes.ChangeSet, tree *widget.Tree) ([]Op, error) {
	d := &differ{
		cs:       cs,
		tree:     tree,
		doomed:   make(map[string]bool),
		replaced: make(map[*widget.Node]bool),
		limit:    tree.Len() + cs.Len() + 1,
	}
	if err := d.check(); err != nil {
		return nil, err
	}
	if err := d.resolve(); err != nil {
		return nil, err
	}
	if err := d.removals(); err != nil {
		return nil, err
	}
	if err := d.structure(); err != nil {
		return nil, err
	}
	d.attributes()
	return d.ops, nil
}

// Full returns the from-scratch render of tree: the root element replaced by
// a fresh copy of the whole tree.
func Full(tree *widget.Tree) []Op {
	root := tree.Root()
	return []Op{{Kind: ReplaceContents, Target: root.ID(), Element: Snapshot(root)}}
}

// Commit records that the ops of the last Diff or Full reached the client.
func Commit(tree *widget.Tree) { tree.Commit() }

type differ struct {
	cs    changes.ChangeSet
	tree  *widget.Tree
	moved []*widget.Node
	limit int

	doomed   map[string]bool
	er       map[*widget.Node]bool
	replaced map[*widget.Node]bool
	ops      []Op
}

func (d *differ) deleted(id string) bool {
	e := d.cs.Get(id)
	return e != nil && e.Flags.Has(changes.Deleted)
}

// contentsReplaced reports whether n's client children are wiped this turn.
func (d *differ) contentsReplaced(n *widget.Node) bool {
	e := d.cs.Get(n.ID())
	return e != nil && !e.Flags.Has(changes.Deleted) && e.Flags.Has(changes.ContentsReplaced)
}

func (d *differ) check() error {
	for id, e := range d.cs.Entries {
		if e.Flags.Has(changes.Deleted) {
			if e.Flags != changes.Deleted {
				return inconsistent(id, "deleted entry also carries %s", e.Flags)
			}
			continue
		}
		n, ok := d.tree.Lookup(id)
		if !ok {
			return inconsistent(id, "entry %s for a node missing from the tree", e.Flags)
		}
		if e.Moved() && n.Rendered() {
			d.moved = append(d.moved, n)
		}
	}
	sort.Slice(d.moved, func(i, j int) bool { return d.moved[i].ID() < d.moved[j].ID() })
	return nil
}

// clientParent returns the parent the client holds id under, or "" for the
// root.
func (d *differ) clientParent(id string) (string, error) {
	e := d.cs.Get(id)
	if e != nil && e.Flags.Has(changes.Deleted) {
		if e.Moved() {
			return e.PrevParent, nil
		}
		return e.ParentID, nil
	}
	n, ok := d.tree.Lookup(id)
	if !ok {
		return "", inconsistent(id, "unknown client element")
	}
	if !n.Rendered() {
		return "", inconsistent(id, "client element was never rendered")
	}
	if e.Moved() {
		return e.PrevParent, nil
	}
	if p := n.Parent(); p != nil {
		return p.ID(), nil
	}
	return "", nil
}

// clientAncestors calls fn for every strict client ancestor of id, nearest
// first, until fn returns true. n is nil for deleted ancestors.
func (d *differ) clientAncestors(id string, fn func(a string, n *widget.Node) bool) error {
	steps := 0
	p, err := d.clientParent(id)
	for err == nil && p != "" {
		if steps++; steps > d.limit {
			return inconsistent(id, "cycle in client ancestry")
		}
		var n *widget.Node
		if !d.deleted(p) {
			var ok bool
			if n, ok = d.tree.Lookup(p); !ok || !n.Rendered() {
				return inconsistent(p, "client ancestor of %s is not a client element", id)
			}
		}
		if fn(p, n) {
			return nil
		}
		p, err = d.clientParent(p)
	}
	return err
}

func (d *differ) effective(n *widget.Node) bool {
	if v, ok := d.er[n]; ok {
		return v
	}
	v := n.Rendered() && !d.doomed[n.ID()]
	if p := n.Parent(); v && p != nil {
		v = d.effective(p) && !d.contentsReplaced(p)
	}
	d.er[n] = v
	return v
}

// resolve decides which moved nodes lose their client element. It starts by
// assuming none do and grows the doomed set until it is stable, since a moved
// node's fate can depend on nodes moved into its own subtree.
func (d *differ) resolve() error {
	for {
		d.er = make(map[*widget.Node]bool)
		changed := false
		for _, m := range d.moved {
			if d.doomed[m.ID()] {
				continue
			}
			doom := false
			err := d.clientAncestors(m.ID(), func(a string, n *widget.Node) bool {
				doom = n == nil || d.contentsReplaced(n) || !d.effective(n)
				return doom
			})
			if err != nil {
				return err
			}
			if doom {
				d.doomed[m.ID()] = true
				changed = true
			}
		}
		if !changed {
			return nil
		}
	}
}

// removals emits one RemoveElement per client element that goes away, leaving
// out those whose removal is implied by an enclosing one.
//
// A replaced ancestor wipes an element too, but only when the structure phase
// reaches it. An element whose node is still live can be created elsewhere
// before that, so it always needs an explicit removal unless an emitted
// removal encloses it.
func (d *differ) removals() error {
	cand := make(map[string]bool)
	for id, e := range d.cs.Entries {
		if e.Flags.Has(changes.Deleted) {
			cand[id] = true
		}
	}
	for _, m := range d.moved {
		if !d.effective(m) {
			cand[m.ID()] = true
		}
	}
	ids := make([]string, 0, len(cand))
	for id := range cand {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	emitted := make(map[string]bool, len(ids))
	var emit func(id string) (bool, error)
	emit = func(id string) (bool, error) {
		if v, ok := emitted[id]; ok {
			return v, nil
		}
		_, live := d.tree.Lookup(id)
		var (
			byRemoval, byReplace bool
			inner                error
		)
		err := d.clientAncestors(id, func(a string, n *widget.Node) bool {
			if cand[a] {
				v, err := emit(a)
				if err != nil {
					inner = err
					return true
				}
				if v {
					byRemoval = true
					return true
				}
			}
			if n != nil && d.contentsReplaced(n) {
				byReplace = true
			}
			return false
		})
		if err == nil {
			err = inner
		}
		if err != nil {
			return false, err
		}
		v := !byRemoval && (live || !byReplace)
		emitted[id] = v
		return v, nil
	}

	for _, id := range ids {
		v, err := emit(id)
		if err != nil {
			return err
		}
		if v {
			d.ops = append(d.ops, Op{Kind: RemoveElement, Target: id})
		}
	}
	return nil
}

// structure fixes the child lists of effectively rendered parents.
func (d *differ) structure() error {
	var dirty []*widget.Node
	for id, e := range d.cs.Entries {
		if e.Flags.Has(changes.Deleted) || e.Flags&changes.Structural == 0 {
			continue
		}
		if n, _ := d.tree.Lookup(id); d.effective(n) {
			dirty = append(dirty, n)
		}
	}
	paths := make(map[*widget.Node][]int, len(dirty))
	for _, n := range dirty {
		paths[n] = treePath(n)
	}
	slices.SortFunc(dirty, func(a, b *widget.Node) int { return slices.Compare(paths[a], paths[b]) })

	for _, p := range dirty {
		if err := d.children(p); err != nil {
			return err
		}
	}
	return nil
}

func (d *differ) children(p *widget.Node) error {
	e := d.cs.Get(p.ID())
	if !e.HasPrevChildren() {
		return inconsistent(p.ID(), "structural change without the previous child order")
	}
	if e.Flags.Has(changes.ContentsReplaced) {
		d.ops = append(d.ops, Op{Kind: ReplaceContents, Target: p.ID(), Element: Snapshot(p)})
		d.replaced[p] = true
		return nil
	}

	prev := make(map[string]int, len(e.PrevChildren))
	for i, id := range e.PrevChildren {
		if !d.deleted(id) {
			if n, ok := d.tree.Lookup(id); !ok || !n.Rendered() {
				return inconsistent(id, "previous child of %s is not a client element", p.ID())
			}
		}
		prev[id] = i
	}

	cur := p.Children()
	const (
		create = iota
		keep
		moveIn
	)
	plan := make([]int, len(cur))
	var keepAt []int
	var seq []int
	for i, c := range cur {
		if !d.effective(c) {
			plan[i] = create
			continue
		}
		cp, err := d.clientParent(c.ID())
		if err != nil {
			return err
		}
		if cp != p.ID() {
			plan[i] = moveIn
			continue
		}
		at, ok := prev[c.ID()]
		if !ok {
			return inconsistent(c.ID(), "child of %s missing from its previous child order", p.ID())
		}
		plan[i] = keep
		keepAt = append(keepAt, i)
		seq = append(seq, at)
	}
	stay := make(map[int]bool, len(seq))
	for _, k := range longestIncreasing(seq) {
		stay[keepAt[k]] = true
	}

	for i, c := range cur {
		after := ""
		if i > 0 {
			after = cur[i-1].ID()
		}
		switch {
		case plan[i] == create:
			d.ops = append(d.ops, Op{Kind: CreateElement, Target: c.ID(), Parent: p.ID(), After: after, Element: Snapshot(c)})
		case plan[i] == moveIn || !stay[i]:
			d.ops = append(d.ops, Op{Kind: MoveElement, Target: c.ID(), Parent: p.ID(), After: after})
		}
	}
	return nil
}

func (d *differ) attributes() {
	for _, id := range d.cs.IDs() {
		e := d.cs.Get(id)
		if e.Flags.Has(changes.Deleted) || !e.Flags.Has(changes.AttributesChanged) {
			continue
		}
		n, ok := d.tree.Lookup(id)
		if !ok || !d.effective(n) || d.replaced[n] {
			continue
		}
		for _, name := range e.Attributes {
			op := Op{Kind: SetAttribute, Target: id, Name: name}
			if v, ok := n.Attr(name); ok {
				op.Value = v
			} else {
				op.Remove = true
			}
			d.ops = append(d.ops, op)
		}
	}
}

func treePath(n *widget.Node) []int {
	var rev []int
	for p := n.Parent(); p != nil; n, p = p, p.Parent() {
		rev = append(rev, p.IndexOf(n))
	}
	slices.Reverse(rev)
	return rev
}

// longestIncreasing returns the indexes of one longest strictly increasing
// subsequence of seq.
func longestIncreasing(seq []int) []int {
	if len(seq) == 0 {
		return nil
	}
	tails := make([]int, 0, len(seq)) // index into seq of the smallest tail per length
	prev := make([]int, len(seq))
	for i, v := range seq {
		j := sort.Search(len(tails), func(k int) bool { return seq[tails[k]] >= v })
		if j > 0 {
			prev[i] = tails[j-1]
		} else {
			prev[i] = -1
		}
		if j == len(tails) {
			tails = append(tails, i)
		} else {
			tails[j] = i
		}
	}
	out := make([]int, len(tails))
	for i, k := len(tails)-1, tails[len(tails)-1]; i >= 0; i, k = i-1, prev[k] {
		out[i] = k
	}
	return out
}
