// Package widget holds the server-side widget tree of a session.
//
// A Node is one widget mapped 1:1 to a client DOM element. Concrete widget
// kinds are described by the Kind capability interface instead of a type
// hierarchy; every node enumerates its attributes and children the same way,
// which is all the renderer needs.
package widget

import (
	"sort"
	"strings"
)

// Kind describes a family of widgets.
type Kind interface {
	// Tag is the HTML element name the widget renders as.
	Tag() string
	// Defaults holds attribute values that are implied and never stored.
	Defaults() map[string]string
}

// Attr is one stored attribute.
type Attr struct {
	Name  string
	Value string
}

// HiddenAttr is the pseudo attribute recorded when visibility changes.
const HiddenAttr = "hidden"

// ContentAttr carries the text content of a widget.
const ContentAttr = "content"

// IDAttr is the element attribute that carries the widget id.
const IDAttr = "id"

// Node is a single widget in the tree.
type Node struct {
	id       string
	kind     Kind
	attrs    []Attr
	hidden   bool
	parent   *Node
	children []*Node

	tree      *Tree
	rendered  bool
	destroyed bool

	subs   map[string][]*subscription
	nextSo uint64
}

// New creates a detached node of the given kind.
func New(kind Kind) *Node {
	if kind == nil {
		kind = Container
	}
	return &Node{kind: kind}
}

// NewWithID creates a detached node with a caller-chosen id. The id must be
// unique within the tree it is inserted into.
func NewWithID(kind Kind, id string) *Node {
	n := New(kind)
	n.id = strings.TrimSpace(id)
	return n
}

func (n *Node) ID() string   { return n.id }
func (n *Node) Kind() Kind   { return n.kind }
func (n *Node) Tag() string  { return n.kind.Tag() }
func (n *Node) Hidden() bool { return n.hidden }
func (n *Node) Parent() *Node {
	if n == nil {
		return nil
	}
	return n.parent
}

// Rendered reports whether the node is part of the last state shipped to the
// client.
func (n *Node) Rendered() bool { return n.rendered }

// Destroyed reports whether the node was removed from its tree.
func (n *Node) Destroyed() bool { return n.destroyed }

// Tree returns the owning tree, or nil while detached.
func (n *Node) Tree() *Tree { return n.tree }

// Children returns a copy of the child list.
func (n *Node) Children() []*Node {
	return append([]*Node(nil), n.children...)
}

// ChildCount returns the number of children.
func (n *Node) ChildCount() int { return len(n.children) }

// ChildAt returns the child at i, or nil.
func (n *Node) ChildAt(i int) *Node {
	if i < 0 || i >= len(n.children) {
		return nil
	}
	return n.children[i]
}

// ChildIDs returns the ids of the children in order.
func (n *Node) ChildIDs() []string {
	ids := make([]string, len(n.children))
	for i, c := range n.children {
		ids[i] = c.id
	}
	return ids
}

// IndexOf returns the position of child, or -1.
func (n *Node) IndexOf(child *Node) int {
	for i, c := range n.children {
		if c == child {
			return i
		}
	}
	return -1
}

// Attr returns the effective value of name, falling back to the kind default.
func (n *Node) Attr(name string) (string, bool) {
	if name == HiddenAttr {
		if n.hidden {
			return HiddenAttr, true
		}
		return "", false
	}
	if i := n.attrIndex(name); i >= 0 {
		return n.attrs[i].Value, true
	}
	v, ok := n.kind.Defaults()[name]
	return v, ok
}

// Attrs returns the effective attributes: defaults in name order followed by
// stored attributes in insertion order. Content is excluded.
func (n *Node) Attrs() []Attr {
	defs := n.kind.Defaults()
	out := make([]Attr, 0, len(defs)+len(n.attrs))
	names := make([]string, 0, len(defs))
	for name := range defs {
		if n.attrIndex(name) < 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		if name == ContentAttr {
			continue
		}
		out = append(out, Attr{Name: name, Value: defs[name]})
	}
	for _, a := range n.attrs {
		if a.Name == ContentAttr {
			continue
		}
		out = append(out, a)
	}
	return out
}

// Content returns the text content of the node.
func (n *Node) Content() string {
	v, _ := n.Attr(ContentAttr)
	return v
}

func (n *Node) attrIndex(name string) int {
	for i, a := range n.attrs {
		if a.Name == name {
			return i
		}
	}
	return -1
}

// store writes name=value and reports whether the effective value changed.
func (n *Node) store(name, value string) bool {
	if cur, ok := n.Attr(name); ok && cur == value {
		return false
	}
	def, hasDef := n.kind.Defaults()[name]
	i := n.attrIndex(name)
	switch {
	case hasDef && def == value:
		n.attrs = append(n.attrs[:i], n.attrs[i+1:]...)
	case i >= 0:
		n.attrs[i].Value = value
	default:
		n.attrs = append(n.attrs, Attr{Name: name, Value: value})
	}
	return true
}

// unset drops a stored attribute and reports whether anything changed.
func (n *Node) unset(name string) bool {
	i := n.attrIndex(name)
	if i < 0 {
		return false
	}
	def, hasDef := n.kind.Defaults()[name]
	old := n.attrs[i].Value
	n.attrs = append(n.attrs[:i], n.attrs[i+1:]...)
	return !hasDef || def != old
}

// walk visits n and its descendants depth first, parents before children.
func (n *Node) walk(fn func(*Node)) {
	fn(n)
	for _, c := range n.children {
		c.walk(fn)
	}
}

// Walk visits n and its descendants depth first, parents before children.
func (n *Node) Walk(fn func(*Node)) {
	if n == nil {
		return
	}
	n.walk(fn)
}

// IsAncestorOf reports whether n is a strict ancestor of o.
func (n *Node) IsAncestorOf(o *Node) bool {
	for p := o.Parent(); p != nil; p = p.parent {
		if p == n {
			return true
		}
	}
	return false
}
