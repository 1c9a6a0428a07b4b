package wire

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html/atom"

	"wtcore/internal/render"
)

// ErrUnencodable is wrapped by every EncodeError.
var ErrUnencodable = errors.New("wire: unencodable value")

// EncodeError reports a value the serializer refused. The op it belongs to is
// dropped from the batch.
type EncodeError struct {
	Op     render.Op
	ID     string
	Reason string
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("wire: encode %s: element %s: %s", e.Op.Kind, e.ID, e.Reason)
}

func (e *EncodeError) Unwrap() error { return ErrUnencodable }

func checkTag(tag string) error {
	if atom.Lookup([]byte(tag)) == 0 || strings.ToLower(tag) != tag {
		return fmt.Errorf("unknown tag %q", tag)
	}
	return nil
}

// checkName follows the HTML attribute name grammar.
func checkName(name string) error {
	if name == "" {
		return errors.New("empty attribute name")
	}
	for _, r := range name {
		switch {
		case r <= 0x20, r == 0x7f, r >= 0x80 && r <= 0x9f:
			return fmt.Errorf("attribute name %q has a control or space character", name)
		case r == '"', r == '\'', r == '>', r == '/', r == '=', r == '<':
			return fmt.Errorf("attribute name %q has a forbidden character", name)
		case r == utf8.RuneError:
			return fmt.Errorf("attribute name %q is not valid UTF-8", name)
		}
	}
	return nil
}

func checkValue(what, v string) error {
	if !utf8.ValidString(v) {
		return fmt.Errorf("%s is not valid UTF-8", what)
	}
	if strings.IndexByte(v, 0) >= 0 {
		return fmt.Errorf("%s contains NUL", what)
	}
	return nil
}
