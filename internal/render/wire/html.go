// Package wire encodes render ops for the client: a full HTML page for the
// first response and for clients without JavaScript, and JavaScript
// statements against the client runtime for every later turn.
package wire

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"html"
	"net/url"
	"strings"

	"wtcore/internal/render"
	"wtcore/internal/widget"
)

//go:embed runtime.js
var runtimeJS string

// RuntimeJS returns the client runtime source.
func RuntimeJS() string { return runtimeJS }

// Mode selects the page flavour.
type Mode uint8

const (
	// NoJavaScript pages turn every event source into a form submission.
	NoJavaScript Mode = iota
	// Bootstrap pages carry the client runtime and its initialization.
	Bootstrap
)

func (m Mode) String() string {
	if m == Bootstrap {
		return "bootstrap"
	}
	return "nojs"
}

// Paths are the endpoints the client talks to.
type Paths struct {
	Event     string
	Poll      string
	WebSocket string
	Form      string
}

// DefaultPaths matches the gateway routes.
var DefaultPaths = Paths{Event: "/event", Poll: "/poll", WebSocket: "/ws", Form: "/nojs"}

// Encoder serializes elements and op batches.
type Encoder struct {
	paths Paths
}

func NewEncoder(paths Paths) *Encoder {
	if paths.Event == "" {
		paths.Event = DefaultPaths.Event
	}
	if paths.Poll == "" {
		paths.Poll = DefaultPaths.Poll
	}
	if paths.Form == "" {
		paths.Form = DefaultPaths.Form
	}
	return &Encoder{paths: paths}
}

// Page describes one full document.
type Page struct {
	SessionID string
	Seq       int64
	Title     string
	Mode      Mode
	// WebSocket enables the push socket in the runtime.
	WebSocket bool
	// NoScriptURL is where a client without JavaScript is sent from a
	// bootstrap page.
	NoScriptURL string
}

type initConfig struct {
	SID   string `json:"sid"`
	Seq   int64  `json:"seq"`
	Event string `json:"event"`
	Poll  string `json:"poll"`
	WS    string `json:"ws,omitempty"`
}

// Page renders a complete document around root. Invalid attributes and
// elements are left out and reported; the rest of the page is still usable.
func (e *Encoder) Page(p Page, root *render.Element) ([]byte, []*EncodeError) {
	var b strings.Builder
	s := &sink{}
	if p.Mode == NoJavaScript {
		s.nojs = &formContext{sid: p.SessionID, action: e.paths.Form}
	}

	b.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\">")
	b.WriteString("<title>" + html.EscapeString(p.Title) + "</title>")
	if p.Mode == Bootstrap {
		b.WriteString("<script>")
		b.WriteString(runtimeJS)
		b.WriteString("</script>")
		if p.NoScriptURL != "" {
			fmt.Fprintf(&b, "<noscript><meta http-equiv=\"refresh\" content=\"0;url=%s\"></noscript>", html.EscapeString(p.NoScriptURL))
		}
	}
	b.WriteString("</head><body>")
	if p.Mode == NoJavaScript {
		fmt.Fprintf(&b, "<form method=\"post\" action=\"%s\"><input type=\"hidden\" name=\"sid\" value=\"%s\">",
			html.EscapeString(e.paths.Form), html.EscapeString(p.SessionID))
	}
	e.element(&b, root, s)
	if p.Mode == NoJavaScript {
		b.WriteString("</form>")
	}
	if p.Mode == Bootstrap {
		cfg := initConfig{SID: p.SessionID, Seq: p.Seq, Event: e.paths.Event, Poll: e.paths.Poll}
		if p.WebSocket {
			cfg.WS = e.paths.WebSocket
		}
		raw, _ := json.Marshal(cfg)
		b.WriteString("<script>Wt.init(" + string(raw) + ");</script>")
	}
	b.WriteString("</body></html>\n")
	return []byte(b.String()), s.errs
}

// Element renders el and its subtree, failing on the first invalid value.
func (e *Encoder) Element(el *render.Element) (string, error) {
	var b strings.Builder
	s := &sink{strict: true}
	if !e.element(&b, el, s) {
		return "", s.errs[0]
	}
	return b.String(), nil
}

type formContext struct {
	sid    string
	action string
}

// sink collects encode failures. A strict sink aborts on the first one.
type sink struct {
	strict bool
	nojs   *formContext
	errs   []*EncodeError
}

// fail records a problem and reports whether encoding may go on.
func (s *sink) fail(id string, err error) bool {
	s.errs = append(s.errs, &EncodeError{ID: id, Reason: err.Error()})
	return !s.strict
}

// element writes el. It returns false when a strict sink gave up.
func (e *Encoder) element(b *strings.Builder, el *render.Element, s *sink) bool {
	if err := checkTag(el.Tag); err != nil {
		return s.fail(el.ID, err)
	}
	if err := checkValue("id", el.ID); err != nil {
		return s.fail(el.ID, err)
	}
	void := widget.IsVoid(widget.NewKind(el.Tag, nil))

	attrs := make([]widget.Attr, 0, len(el.Attrs)+3)
	for _, a := range el.Attrs {
		if err := checkName(a.Name); err != nil {
			if !s.fail(el.ID, err) {
				return false
			}
			continue
		}
		if err := checkValue("attribute "+a.Name, a.Value); err != nil {
			if !s.fail(el.ID, err) {
				return false
			}
			continue
		}
		attrs = append(attrs, a)
	}
	if s.nojs != nil {
		attrs = s.nojs.rewrite(el, attrs)
	}

	b.WriteString("<" + el.Tag + ` id="` + html.EscapeString(el.ID) + `"`)
	for _, a := range attrs {
		b.WriteString(" " + a.Name + `="` + html.EscapeString(a.Value) + `"`)
	}
	if el.Hidden {
		b.WriteString(` hidden="hidden"`)
	}
	b.WriteString(">")
	if void {
		return true
	}
	if el.Text != "" {
		if err := checkValue("content", el.Text); err != nil {
			if !s.fail(el.ID, err) {
				return false
			}
		} else {
			b.WriteString(html.EscapeString(el.Text))
		}
	}
	for _, c := range el.Children {
		if !e.element(b, c, s) {
			return false
		}
	}
	b.WriteString("</" + el.Tag + ">")
	return true
}

// rewrite turns event sources into parts of the page form.
func (f *formContext) rewrite(el *render.Element, attrs []widget.Attr) []widget.Attr {
	set := func(name, value string) {
		for i := range attrs {
			if attrs[i].Name == name {
				attrs[i].Value = value
				return
			}
		}
		attrs = append(attrs, widget.Attr{Name: name, Value: value})
	}
	switch el.Tag {
	case "button":
		set("type", "submit")
		set("name", "w")
		set("value", el.ID)
	case "input":
		set("name", el.ID)
	case "a":
		for _, a := range attrs {
			if a.Name == "href" && a.Value != "" && a.Value != "#" {
				return attrs
			}
		}
		q := url.Values{"sid": {f.sid}, "w": {el.ID}, "e": {widget.EventClicked}}
		set("href", f.action+"?"+q.Encode())
	}
	return attrs
}
