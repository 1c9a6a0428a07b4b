package widget

import "errors"

var (
	ErrInvalidIndex = errors.New("widget: invalid index")
	ErrNotAChild    = errors.New("widget: node has no parent")
	ErrAlreadyOwned = errors.New("widget: node already has a parent")
	ErrDestroyed    = errors.New("widget: node was destroyed")
	ErrCycle        = errors.New("widget: node cannot become its own descendant")
	ErrDuplicateID  = errors.New("widget: duplicate id")
	ErrForeignNode  = errors.New("widget: node belongs to another tree")
	ErrVoidElement  = errors.New("widget: element cannot have children")
	ErrInvalidName  = errors.New("widget: invalid attribute name")
	ErrNoSuchWidget = errors.New("widget: no such widget")
)
