package wire

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wtcore/internal/render"
	"wtcore/internal/render/domsim"
	"wtcore/internal/widget"
)

func sampleTree(t *testing.T) *widget.Tree {
	t.Helper()
	tr := widget.NewTree(nil)
	box := widget.NewContainer()
	require.NoError(t, tr.Append(tr.Root(), box))
	require.NoError(t, tr.Append(box, widget.NewText(`a <b> & "c"`)))
	require.NoError(t, tr.Append(box, widget.NewButton("go")))
	in := widget.NewLineEdit("v")
	require.NoError(t, tr.Append(tr.Root(), in))
	hidden := widget.NewText("secret")
	require.NoError(t, hidden.SetHidden(true))
	require.NoError(t, hidden.SetAttribute("title", `it's "quoted"`))
	require.NoError(t, tr.Append(tr.Root(), hidden))
	return tr
}

func TestBootstrapPageParsesBackToTree(t *testing.T) {
	tr := sampleTree(t)
	root := render.Snapshot(tr.Root())
	page, errs := NewEncoder(DefaultPaths).Page(Page{SessionID: "s1", Seq: 3, Title: "demo", Mode: Bootstrap, WebSocket: true}, root)
	require.Empty(t, errs)

	text := string(page)
	assert.True(t, strings.HasPrefix(text, "<!DOCTYPE html>"))
	assert.Contains(t, text, "Wt.init(")
	assert.Contains(t, text, `"sid":"s1"`)
	assert.Contains(t, text, `"ws":"/ws"`)
	assert.Contains(t, text, "Wt.replace = function")

	dom, err := domsim.Parse(bytes.NewReader(page))
	require.NoError(t, err)
	assert.Equal(t, domsim.New(root).Canonical(), dom.Canonical())
}

func TestNoJavaScriptPageUsesForm(t *testing.T) {
	tr := sampleTree(t)
	page, errs := NewEncoder(DefaultPaths).Page(Page{SessionID: "s1", Mode: NoJavaScript}, render.Snapshot(tr.Root()))
	require.Empty(t, errs)

	text := string(page)
	assert.NotContains(t, text, "<script>")
	assert.Contains(t, text, `<form method="post" action="/nojs"><input type="hidden" name="sid" value="s1">`)
	assert.Contains(t, text, `<button id="w3" type="submit" name="w" value="w3">go</button>`)
	assert.Contains(t, text, `<input id="w4" type="text" value="v" name="w4">`)
}

func TestPageEscapesText(t *testing.T) {
	tr := sampleTree(t)
	page, _ := NewEncoder(DefaultPaths).Page(Page{Mode: Bootstrap}, render.Snapshot(tr.Root()))
	text := string(page)
	assert.Contains(t, text, `<span id="w2">a &lt;b&gt; &amp; &#34;c&#34;</span>`)
	assert.Contains(t, text, `title="it&#39;s &#34;quoted&#34;" hidden="hidden"`)
}

func TestPageSkipsInvalidPieces(t *testing.T) {
	root := &render.Element{ID: widget.RootID, Tag: "div", Children: []*render.Element{
		{ID: "bad", Tag: "blink-ish"},
		{ID: "ok", Tag: "span", Attrs: []widget.Attr{{Name: "x y", Value: "1"}, {Name: "class", Value: "fine"}}},
	}}
	page, errs := NewEncoder(DefaultPaths).Page(Page{Mode: Bootstrap}, root)
	require.Len(t, errs, 2)
	for _, err := range errs {
		assert.True(t, errors.Is(err, ErrUnencodable))
	}
	assert.NotContains(t, string(page), "blink")
	assert.Contains(t, string(page), `<span id="ok" class="fine"></span>`)
}

func TestScriptStatements(t *testing.T) {
	el := &render.Element{ID: "w9", Tag: "span", Text: "hi"}
	ops := []render.Op{
		{Kind: render.RemoveElement, Target: "w1"},
		{Kind: render.CreateElement, Target: "w9", Parent: "root", After: "w2", Element: el},
		{Kind: render.MoveElement, Target: "w3", Parent: "root"},
		{Kind: render.ReplaceContents, Target: "w9", Element: el},
		{Kind: render.SetAttribute, Target: "w2", Name: "class", Value: "a\"b"},
		{Kind: render.SetAttribute, Target: "w2", Name: "title", Remove: true},
	}
	out, errs := NewEncoder(DefaultPaths).Script(7, ops)
	require.Empty(t, errs)

	want := strings.Join([]string{
		`Wt.seq(7);`,
		`Wt.rm("w1");`,
		`Wt.create("root","w2","<span id=\"w9\">hi</span>");`,
		`Wt.mv("w3","root","");`,
		`Wt.replace("w9","<span id=\"w9\">hi</span>");`,
		`Wt.set("w2","class","a\"b");`,
		`Wt.set("w2","title",null);`,
	}, "\n") + "\n"
	assert.Equal(t, want, string(out))
}

func TestScriptDropsUnencodableOps(t *testing.T) {
	ops := []render.Op{
		{Kind: render.SetAttribute, Target: "w1", Name: "class", Value: "bad\x00"},
		{Kind: render.SetAttribute, Target: "w1", Name: "title", Value: "\xff"},
		{Kind: render.CreateElement, Target: "w2", Parent: "root", Element: &render.Element{ID: "w2", Tag: "nope"}},
		{Kind: render.RemoveElement, Target: "w3"},
	}
	out, errs := NewEncoder(DefaultPaths).Script(1, ops)
	require.Len(t, errs, 3)
	assert.Equal(t, "Wt.seq(1);\nWt.rm(\"w3\");\n", string(out))

	var ee *EncodeError
	require.True(t, errors.As(error(errs[2]), &ee))
	assert.Equal(t, render.CreateElement, ee.Op.Kind)
	assert.Equal(t, "w2", ee.ID)
}

func TestSplitScriptOrdersJoinedRenders(t *testing.T) {
	enc := NewEncoder(DefaultPaths)
	set := func(v string) []render.Op {
		return []render.Op{{Kind: render.SetAttribute, Target: "w1", Name: "class", Value: v}}
	}
	a, _ := enc.Script(4, set("Wt.seq(9);\nx"))
	b, _ := enc.Script(5, set("b"))
	full, _ := enc.FullScript(6, []render.Op{{Kind: render.ReplaceContents, Target: "root", Element: &render.Element{ID: "root", Tag: "div"}}})
	require.True(t, strings.HasPrefix(string(full), "Wt.seq(6,1);\n"))

	joined := append(append(append([]byte(nil), a...), b...), full...)
	segs := SplitScript(joined)
	require.Len(t, segs, 3)
	assert.Equal(t, []int64{4, 5, 6}, []int64{segs[0].Seq, segs[1].Seq, segs[2].Seq})
	assert.Equal(t, []bool{false, false, true}, []bool{segs[0].Full, segs[1].Full, segs[2].Full})
	assert.Equal(t, string(a), string(segs[0].Body))
	assert.Equal(t, string(b), string(segs[1].Body))
	assert.Equal(t, string(full), string(segs[2].Body))
}

func TestSplitScriptKeepsHeaderlessLines(t *testing.T) {
	segs := SplitScript([]byte("Wt.rm(\"w1\");\nWt.seq(2);\nWt.rm(\"w2\");\n"))
	require.Len(t, segs, 2)
	assert.Zero(t, segs[0].Seq)
	assert.Equal(t, "Wt.rm(\"w1\");\n", string(segs[0].Body))
	assert.Equal(t, int64(2), segs[1].Seq)
	assert.Empty(t, SplitScript(nil))
}

func TestRuntimeSplitsLikeServer(t *testing.T) {
	assert.Contains(t, RuntimeJS(), "/"+headerLine.String()+"/")
	assert.Contains(t, RuntimeJS(), "resync")
}
