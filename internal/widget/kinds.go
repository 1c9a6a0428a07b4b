package widget

type basicKind struct {
	tag      string
	defaults map[string]string
}

func (k basicKind) Tag() string                 { return k.tag }
func (k basicKind) Defaults() map[string]string { return k.defaults }

// NewKind returns a Kind rendering as tag with the given implied attributes.
func NewKind(tag string, defaults map[string]string) Kind {
	if defaults == nil {
		defaults = map[string]string{}
	}
	return basicKind{tag: tag, defaults: defaults}
}

// Built-in kinds.
var (
	Container = NewKind("div", nil)
	Text      = NewKind("span", nil)
	Button    = NewKind("button", map[string]string{"type": "button"})
	LineEdit  = NewKind("input", map[string]string{"type": "text"})
	Anchor    = NewKind("a", nil)
	Image     = NewKind("img", nil)
	List      = NewKind("ul", nil)
	ListItem  = NewKind("li", nil)
)

// NewContainer creates a detached container.
func NewContainer() *Node { return New(Container) }

// NewText creates a detached text widget.
func NewText(content string) *Node {
	n := New(Text)
	n.store(ContentAttr, content)
	return n
}

// NewButton creates a detached push button.
func NewButton(label string) *Node {
	n := New(Button)
	n.store(ContentAttr, label)
	return n
}

// NewLineEdit creates a detached single line text input.
func NewLineEdit(value string) *Node {
	n := New(LineEdit)
	if value != "" {
		n.store("value", value)
	}
	return n
}

// NewAnchor creates a detached link.
func NewAnchor(href, label string) *Node {
	n := New(Anchor)
	n.store("href", href)
	n.store(ContentAttr, label)
	return n
}

// IsVoid reports whether a kind renders as an HTML void element that cannot
// hold children or text.
func IsVoid(k Kind) bool {
	switch k.Tag() {
	case "input", "img", "br", "hr", "meta", "link":
		return true
	}
	return false
}
