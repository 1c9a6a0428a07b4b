package demo

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wtcore/internal/session"
	"wtcore/internal/widget"
)

func newPage(t *testing.T, caps session.Capabilities) (*session.Session, *page) {
	t.Helper()
	app := New(context.Background(), 0)
	s := session.New("demo", session.Options{}, session.Hooks{}, nil)
	var p *page
	require.NoError(t, s.WithLock(context.Background(), func(g *session.Guard) error {
		var err error
		p, err = app.build(g, caps)
		return err
	}))
	return s, p
}

func clicked(n *widget.Node) *widget.Event {
	return &widget.Event{Name: widget.EventClicked, Target: n.ID()}
}

func TestCounterScripts(t *testing.T) {
	s, p := newPage(t, session.Capabilities{JavaScript: true})
	ctx := context.Background()

	out, err := s.HandleRequest(ctx, session.Request{Kind: session.PageLoad, JavaScript: true})
	require.NoError(t, err)
	assert.Contains(t, string(out.Body), "nothing to do")

	_, err = s.HandleRequest(ctx, session.Request{Kind: session.RuntimeEvent, JavaScript: true, Event: &widget.Event{}})
	require.NoError(t, err)
	require.Equal(t, session.Incremental, s.ClientState())

	inc := p.count.Parent().ChildAt(1)
	for i := 1; i <= 2; i++ {
		out, err = s.HandleRequest(ctx, session.Request{Kind: session.RuntimeEvent, JavaScript: true, Event: clicked(inc)})
		require.NoError(t, err)
		assert.Equal(t, session.ScriptPayload, out.Kind)
		assert.Contains(t, string(out.Body), fmt.Sprintf(`Wt.set(%q,"content","%d")`, p.count.ID(), i))
	}
}

func TestTodoWithoutJavaScript(t *testing.T) {
	s, p := newPage(t, session.Capabilities{JavaScript: false})
	ctx := context.Background()
	add := p.input.Parent().ChildAt(1)

	_, err := s.HandleRequest(ctx, session.Request{Kind: session.PageLoad})
	require.NoError(t, err)

	post := func(values map[string]string, target *widget.Node) string {
		t.Helper()
		out, err := s.HandleRequest(ctx, session.Request{Kind: session.FormPost, Values: values, Event: clicked(target)})
		require.NoError(t, err)
		require.Equal(t, session.PagePayload, out.Kind)
		return string(out.Body)
	}

	body := post(map[string]string{p.input.ID(): "milk"}, add)
	assert.Contains(t, body, "milk")
	assert.Contains(t, body, "1 item")
	assert.NotContains(t, body, "nothing to do")

	post(map[string]string{p.input.ID(): "eggs"}, add)
	require.Equal(t, 2, p.list.ChildCount())
	v, _ := p.input.Attr("value")
	assert.Empty(t, v)

	// Move "eggs" to the top.
	post(nil, p.list.ChildAt(1).ChildAt(1))
	assert.Equal(t, "eggs", p.list.ChildAt(0).ChildAt(0).Content())
	assert.Equal(t, "milk", p.list.ChildAt(1).ChildAt(0).Content())

	post(nil, p.list.ChildAt(0).ChildAt(2))
	body = post(nil, p.list.ChildAt(0).ChildAt(2))
	assert.Contains(t, body, "nothing to do")
	assert.Contains(t, body, "0 items")
	assert.Equal(t, 1, p.list.ChildCount())
}

func TestBlankItemIgnored(t *testing.T) {
	s, p := newPage(t, session.Capabilities{JavaScript: false})
	add := p.input.Parent().ChildAt(1)
	_, err := s.HandleRequest(context.Background(), session.Request{
		Kind:   session.FormPost,
		Values: map[string]string{p.input.ID(): "   "},
		Event:  clicked(add),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, p.items)
	assert.Same(t, p.empty, p.list.ChildAt(0))
}

func TestClearListReplacesContents(t *testing.T) {
	s, p := newPage(t, session.Capabilities{JavaScript: true})
	ctx := context.Background()
	add := p.input.Parent().ChildAt(1)
	clearAll := p.input.Parent().ChildAt(2)

	_, err := s.HandleRequest(ctx, session.Request{Kind: session.PageLoad, JavaScript: true})
	require.NoError(t, err)
	_, err = s.HandleRequest(ctx, session.Request{Kind: session.RuntimeEvent, JavaScript: true, Event: &widget.Event{}})
	require.NoError(t, err)

	for _, item := range []string{"a", "b"} {
		_, err = s.HandleRequest(ctx, session.Request{
			Kind:       session.RuntimeEvent,
			JavaScript: true,
			Values:     map[string]string{p.input.ID(): item},
			Event:      clicked(add),
		})
		require.NoError(t, err)
	}
	require.Equal(t, 2, p.items)

	out, err := s.HandleRequest(ctx, session.Request{Kind: session.RuntimeEvent, JavaScript: true, Event: clicked(clearAll)})
	require.NoError(t, err)
	assert.Contains(t, string(out.Body), "nothing to do")
	assert.Equal(t, 1, p.list.ChildCount())
	assert.Equal(t, 0, p.items)
}

func findByContent(t *testing.T, s *session.Session, content string) string {
	t.Helper()
	var id string
	require.NoError(t, s.WithLock(context.Background(), func(g *session.Guard) error {
		g.Tree().Root().Walk(func(n *widget.Node) {
			if id == "" && n.Content() == content {
				id = n.ID()
			}
		})
		return nil
	}))
	require.NotEmpty(t, id, "no widget shows %q", content)
	return id
}

func TestClockIsPushed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app := New(ctx, 10*time.Millisecond)
	m := session.NewManager(app.Factory, session.Options{PollTimeout: time.Second}, session.Hooks{}, nil)
	app.Bind(m)

	s, err := m.Create(ctx, session.Capabilities{JavaScript: true})
	require.NoError(t, err)
	_, err = s.HandleRequest(ctx, session.Request{Kind: session.PageLoad, JavaScript: true})
	require.NoError(t, err)
	_, err = s.HandleRequest(ctx, session.Request{Kind: session.RuntimeEvent, JavaScript: true, Event: &widget.Event{}})
	require.NoError(t, err)

	clockID := findByContent(t, s, "--:--:--")
	toggle := findByContent(t, s, "start clock")

	out, err := s.HandleRequest(ctx, session.Request{
		Kind:       session.RuntimeEvent,
		JavaScript: true,
		Event:      &widget.Event{Name: widget.EventClicked, Target: toggle},
	})
	require.NoError(t, err)
	assert.Contains(t, string(out.Body), "stop clock")

	want := fmt.Sprintf(`Wt.set(%q,"content",`, clockID)
	deadline := time.Now().Add(5 * time.Second)
	for {
		p, err := m.Poll(ctx, s.ID())
		require.NoError(t, err)
		if strings.Contains(string(p.Body), want) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("clock tick never pushed, last payload %q", p.Body)
		}
	}

	require.NoError(t, m.Destroy(ctx, s.ID()))
}

func TestClockHiddenWithoutJavaScript(t *testing.T) {
	s, p := newPage(t, session.Capabilities{JavaScript: false})
	assert.True(t, p.clock.Parent().Hidden())
	out, err := s.HandleRequest(context.Background(), session.Request{Kind: session.PageLoad})
	require.NoError(t, err)
	assert.Equal(t, session.PagePayload, out.Kind)
}
