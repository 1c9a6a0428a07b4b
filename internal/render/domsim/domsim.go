// Package domsim is a reference client. It applies render ops to an in-memory
// DOM the way the browser runtime does, so a batch can be checked against a
// from-scratch render.
package domsim

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"wtcore/internal/render"
	"wtcore/internal/widget"
)

var (
	ErrNoElement   = errors.New("domsim: no such element")
	ErrDuplicateID = errors.New("domsim: duplicate element id")
	ErrHierarchy   = errors.New("domsim: element cannot be moved into itself")
)

// DOM holds the client copy of the root container.
type DOM struct {
	root *html.Node
}

// New builds a DOM from a rendered root element.
func New(root *render.Element) *DOM {
	return &DOM{root: build(root)}
}

// Parse reads a full page and keeps the element with the root id.
func Parse(r io.Reader) (*DOM, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("domsim: parse: %w", err)
	}
	var found *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if found != nil {
			return
		}
		if n.Type == html.ElementNode && attr(n, "id") == widget.RootID {
			found = n
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	if found == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoElement, widget.RootID)
	}
	return &DOM{root: found}, nil
}

func build(el *render.Element) *html.Node {
	n := &html.Node{
		Type:     html.ElementNode,
		Data:     el.Tag,
		DataAtom: atom.Lookup([]byte(el.Tag)),
		Attr:     []html.Attribute{{Key: "id", Val: el.ID}},
	}
	for _, a := range el.Attrs {
		n.Attr = append(n.Attr, html.Attribute{Key: a.Name, Val: a.Value})
	}
	if el.Hidden {
		n.Attr = append(n.Attr, html.Attribute{Key: widget.HiddenAttr, Val: widget.HiddenAttr})
	}
	if el.Text != "" {
		n.AppendChild(&html.Node{Type: html.TextNode, Data: el.Text})
	}
	for _, c := range el.Children {
		n.AppendChild(build(c))
	}
	return n
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func setAttr(n *html.Node, key, val string, remove bool) {
	for i, a := range n.Attr {
		if a.Key != key {
			continue
		}
		if remove {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
		} else {
			n.Attr[i].Val = val
		}
		return
	}
	if !remove {
		n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
	}
}

// Find returns the element with id. Duplicate ids are an error: the browser
// would silently pick one of them.
func (d *DOM) Find(id string) (*html.Node, error) {
	var hits []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && attr(n, "id") == id {
			hits = append(hits, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(d.root)
	switch len(hits) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrNoElement, id)
	case 1:
		return hits[0], nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
}

// Apply runs ops in order and stops at the first one the DOM rejects.
func (d *DOM) Apply(ops []render.Op) error {
	for i, op := range ops {
		if err := d.apply(op); err != nil {
			return fmt.Errorf("op %d %s: %w", i, op, err)
		}
	}
	return nil
}

func (d *DOM) apply(op render.Op) error {
	switch op.Kind {
	case render.CreateElement:
		parent, err := d.Find(op.Parent)
		if err != nil {
			return err
		}
		var dup error
		op.Element.Walk(func(el *render.Element) {
			if dup == nil && d.holds(el.ID) {
				dup = fmt.Errorf("%w: %s is already on the page", ErrDuplicateID, el.ID)
			}
		})
		if dup != nil {
			return dup
		}
		return d.insertAfter(parent, op.After, build(op.Element))
	case render.SetAttribute:
		n, err := d.Find(op.Target)
		if err != nil {
			return err
		}
		if op.Name == widget.ContentAttr {
			setText(n, op.Value, op.Remove)
			return nil
		}
		setAttr(n, op.Name, op.Value, op.Remove)
		return nil
	case render.RemoveElement:
		n, err := d.Find(op.Target)
		if err != nil {
			return err
		}
		if n == d.root {
			return fmt.Errorf("%w: cannot remove the root", ErrHierarchy)
		}
		n.Parent.RemoveChild(n)
		return nil
	case render.MoveElement:
		n, err := d.Find(op.Target)
		if err != nil {
			return err
		}
		parent, err := d.Find(op.Parent)
		if err != nil {
			return err
		}
		for p := parent; p != nil; p = p.Parent {
			if p == n {
				return ErrHierarchy
			}
		}
		n.Parent.RemoveChild(n)
		return d.insertAfter(parent, op.After, n)
	case render.ReplaceContents:
		n, err := d.Find(op.Target)
		if err != nil {
			return err
		}
		fresh := build(op.Element)
		if n.Parent != nil {
			n.Parent.InsertBefore(fresh, n)
			n.Parent.RemoveChild(n)
		}
		if n == d.root {
			d.root = fresh
		}
		var dup error
		for _, c := range op.Element.Children {
			c.Walk(func(el *render.Element) {
				if _, err := d.Find(el.ID); dup == nil && errors.Is(err, ErrDuplicateID) {
					dup = fmt.Errorf("%w: %s is already on the page", ErrDuplicateID, el.ID)
				}
			})
		}
		return dup
	default:
		return fmt.Errorf("domsim: unknown op %s", op.Kind)
	}
}

// holds reports whether any element carries id.
func (d *DOM) holds(id string) bool {
	_, err := d.Find(id)
	return err == nil || errors.Is(err, ErrDuplicateID)
}

// insertAfter places n behind the sibling with id after, or before the first
// element child when after is empty.
func (d *DOM) insertAfter(parent *html.Node, after string, n *html.Node) error {
	if after == "" {
		for c := parent.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode {
				parent.InsertBefore(n, c)
				return nil
			}
		}
		parent.AppendChild(n)
		return nil
	}
	ref, err := d.Find(after)
	if err != nil {
		return err
	}
	if ref.Parent != parent {
		return fmt.Errorf("%w: %s is not a child of %s", ErrNoElement, after, attr(parent, "id"))
	}
	if ref.NextSibling != nil {
		parent.InsertBefore(n, ref.NextSibling)
	} else {
		parent.AppendChild(n)
	}
	return nil
}

func setText(n *html.Node, text string, remove bool) {
	first := n.FirstChild
	if first != nil && first.Type == html.TextNode {
		if remove || text == "" {
			n.RemoveChild(first)
			return
		}
		first.Data = text
		return
	}
	if remove || text == "" {
		return
	}
	t := &html.Node{Type: html.TextNode, Data: text}
	if first != nil {
		n.InsertBefore(t, first)
	} else {
		n.AppendChild(t)
	}
}

// Canonical serializes the DOM with attributes in name order, so two DOMs
// compare equal when they hold the same elements.
func (d *DOM) Canonical() string {
	var b strings.Builder
	canonical(&b, d.root)
	return b.String()
}

func canonical(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(fmt.Sprintf("%q", n.Data))
		return
	case html.ElementNode:
	default:
		return
	}
	attrs := append([]html.Attribute(nil), n.Attr...)
	sort.Slice(attrs, func(i, j int) bool { return attrs[i].Key < attrs[j].Key })
	b.WriteString("<" + n.Data)
	for _, a := range attrs {
		if a.Key == widget.HiddenAttr {
			b.WriteString(" hidden")
			continue
		}
		b.WriteString(fmt.Sprintf(" %s=%q", a.Key, a.Val))
	}
	b.WriteString(">")
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		canonical(b, c)
	}
	b.WriteString("</" + n.Data + ">")
}
