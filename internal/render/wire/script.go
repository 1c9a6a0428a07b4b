package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"wtcore/internal/render"
)

// Script encodes a batch as runtime calls, one statement per op, prefixed with
// the render sequence. Ops that cannot be encoded are dropped and returned as
// errors; the rest of the batch still ships.
func (e *Encoder) Script(seq int64, ops []render.Op) ([]byte, []*EncodeError) {
	return e.script(seq, false, ops)
}

// FullScript encodes a batch that rebuilds the page. The runtime applies it
// without waiting for earlier batches, which it then discards.
func (e *Encoder) FullScript(seq int64, ops []render.Op) ([]byte, []*EncodeError) {
	return e.script(seq, true, ops)
}

func (e *Encoder) script(seq int64, full bool, ops []render.Op) ([]byte, []*EncodeError) {
	var b strings.Builder
	b.WriteString(header(seq, full) + "\n")
	var errs []*EncodeError
	for _, op := range ops {
		stmt, err := e.Statement(op)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		b.WriteString(stmt)
		b.WriteByte('\n')
	}
	return []byte(b.String()), errs
}

// Statement encodes a single op.
func (e *Encoder) Statement(op render.Op) (string, *EncodeError) {
	fail := func(id string, err error) (string, *EncodeError) {
		return "", &EncodeError{Op: op, ID: id, Reason: err.Error()}
	}
	for _, id := range []string{op.Target, op.Parent, op.After} {
		if err := checkValue("id", id); err != nil {
			return fail(op.Target, err)
		}
	}

	switch op.Kind {
	case render.CreateElement, render.ReplaceContents:
		if op.Element == nil {
			return fail(op.Target, fmt.Errorf("no element"))
		}
		markup, err := e.Element(op.Element)
		if err != nil {
			ee := err.(*EncodeError)
			ee.Op = op
			return "", ee
		}
		if op.Kind == render.CreateElement {
			return call("create", str(op.Parent), str(op.After), str(markup)), nil
		}
		return call("replace", str(op.Target), str(markup)), nil
	case render.SetAttribute:
		if err := checkName(op.Name); err != nil {
			return fail(op.Target, err)
		}
		if op.Remove {
			return call("set", str(op.Target), str(op.Name), "null"), nil
		}
		if err := checkValue("attribute "+op.Name, op.Value); err != nil {
			return fail(op.Target, err)
		}
		return call("set", str(op.Target), str(op.Name), str(op.Value)), nil
	case render.RemoveElement:
		return call("rm", str(op.Target)), nil
	case render.MoveElement:
		return call("mv", str(op.Target), str(op.Parent), str(op.After)), nil
	default:
		return fail(op.Target, fmt.Errorf("unknown op kind %s", op.Kind))
	}
}

func call(fn string, args ...string) string {
	return "Wt." + fn + "(" + strings.Join(args, ",") + ");"
}

// str quotes s as a JavaScript string literal. Scripts are evaluated by the
// runtime and never inlined into a page, so markup is left unescaped.
func str(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	return strings.TrimSuffix(buf.String(), "\n")
}

func header(seq int64, full bool) string {
	if full {
		return "Wt.seq(" + strconv.FormatInt(seq, 10) + ",1);"
	}
	return "Wt.seq(" + strconv.FormatInt(seq, 10) + ");"
}

// Statements never span lines, so a header always starts its own line.
var headerLine = regexp.MustCompile(`^Wt\.seq\((\d+)(,1)?\);$`)

// Segment is one render inside a script body.
type Segment struct {
	Seq  int64
	Full bool
	Body []byte
}

// SplitScript cuts a body of joined scripts at their sequence headers, the
// way the runtime does before ordering them. Lines ahead of the first header
// form a segment with a zero Seq.
func SplitScript(body []byte) []Segment {
	var out []Segment
	for _, line := range bytes.SplitAfter(body, []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		if m := headerLine.FindSubmatch(bytes.TrimSuffix(line, []byte("\n"))); m != nil {
			seq, err := strconv.ParseInt(string(m[1]), 10, 64)
			if err == nil {
				out = append(out, Segment{Seq: seq, Full: len(m[2]) > 0})
				out[len(out)-1].Body = append(out[len(out)-1].Body, line...)
				continue
			}
		}
		if len(out) == 0 {
			out = append(out, Segment{})
		}
		out[len(out)-1].Body = append(out[len(out)-1].Body, line...)
	}
	return out
}
