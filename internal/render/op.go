// Package render turns a turn's ChangeSet and the live widget tree into the
// ordered DOM operations that bring the client up to date.
package render

import (
	"fmt"
	"strings"

	"wtcore/internal/widget"
)

// OpKind tags a DOM operation.
type OpKind uint8

const (
	CreateElement OpKind = iota + 1
	SetAttribute
	RemoveElement
	MoveElement
	ReplaceContents
)

func (k OpKind) String() string {
	switch k {
	case CreateElement:
		return "CreateElement"
	case SetAttribute:
		return "SetAttribute"
	case RemoveElement:
		return "RemoveElement"
	case MoveElement:
		return "MoveElement"
	case ReplaceContents:
		return "ReplaceContents"
	default:
		return fmt.Sprintf("OpKind(%d)", uint8(k))
	}
}

// Op is one DOM operation.
//
// Target is the element the op is about; for CreateElement it is the id of the
// created subtree root. After names the sibling the element is placed behind,
// empty meaning first child. Element carries the serialized subtree of
// CreateElement and ReplaceContents; for ReplaceContents it is the replaced
// element itself, children included.
type Op struct {
	Kind    OpKind
	Target  string
	Parent  string
	After   string
	Name    string
	Value   string
	Remove  bool
	Element *Element
}

func (o Op) String() string {
	switch o.Kind {
	case CreateElement:
		return fmt.Sprintf("CreateElement(%s in %s after %q)", o.Target, o.Parent, o.After)
	case SetAttribute:
		if o.Remove {
			return fmt.Sprintf("SetAttribute(%s %s removed)", o.Target, o.Name)
		}
		return fmt.Sprintf("SetAttribute(%s %s=%q)", o.Target, o.Name, o.Value)
	case RemoveElement:
		return fmt.Sprintf("RemoveElement(%s)", o.Target)
	case MoveElement:
		return fmt.Sprintf("MoveElement(%s to %s after %q)", o.Target, o.Parent, o.After)
	case ReplaceContents:
		return fmt.Sprintf("ReplaceContents(%s)", o.Target)
	default:
		return o.Kind.String()
	}
}

// FormatOps renders ops one per line, for logs and test failures.
func FormatOps(ops []Op) string {
	var b strings.Builder
	for i, op := range ops {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(op.String())
	}
	return b.String()
}

// Element is an immutable copy of a widget subtree taken at render time.
type Element struct {
	ID       string
	Tag      string
	Attrs    []widget.Attr
	Hidden   bool
	Text     string
	Children []*Element
}

// Snapshot copies n and its descendants.
func Snapshot(n *widget.Node) *Element {
	if n == nil {
		return nil
	}
	el := &Element{
		ID:     n.ID(),
		Tag:    n.Tag(),
		Attrs:  n.Attrs(),
		Hidden: n.Hidden(),
		Text:   n.Content(),
	}
	if c := n.ChildCount(); c > 0 {
		el.Children = make([]*Element, 0, c)
		for _, child := range n.Children() {
			el.Children = append(el.Children, Snapshot(child))
		}
	}
	return el
}

// Walk visits el and its descendants, parents first.
func (el *Element) Walk(fn func(*Element)) {
	if el == nil {
		return
	}
	fn(el)
	for _, c := range el.Children {
		c.Walk(fn)
	}
}

// Count returns the number of elements in the subtree.
func (el *Element) Count() int {
	n := 0
	el.Walk(func(*Element) { n++ })
	return n
}
