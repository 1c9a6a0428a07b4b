package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wtcore/internal/session"
	"wtcore/internal/widget"
)

// labelFactory builds a label (w1) and a button (w2) that changes it.
func labelFactory(ctx context.Context, g *session.Guard, caps session.Capabilities) error {
	tr := g.Tree()
	label := widget.NewText("idle")
	button := widget.NewButton("go")
	if err := tr.Append(tr.Root(), label); err != nil {
		return err
	}
	if err := tr.Append(tr.Root(), button); err != nil {
		return err
	}
	button.On(widget.EventClicked, func(ctx context.Context, ev widget.Event) error {
		return label.SetText("busy")
	})
	return nil
}

func newTestHandler(t *testing.T) (*session.Manager, *SessionHandler) {
	t.Helper()
	m := session.NewManager(labelFactory, session.Options{PollTimeout: 20 * time.Millisecond}, session.Hooks{}, nil)
	return m, NewSessionHandler(m)
}

func postEvent(h *SessionHandler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/event", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.HandleEvent(rec, req)
	return rec
}

func TestPageAndEvents(t *testing.T) {
	m, h := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.HandlePage(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Contains(t, rec.Body.String(), "idle")
	require.Equal(t, 1, m.Len())
	sid := m.IDs()[0]

	rec = postEvent(h, `{"sid":"`+sid+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())

	rec = postEvent(h, `{"sid":"`+sid+`","w":"w2"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/javascript")
	assert.Contains(t, rec.Body.String(), `Wt.set("w1","content","busy")`)

	rec = httptest.NewRecorder()
	h.HandlePoll(rec, httptest.NewRequest(http.MethodGet, "/poll?sid="+sid, nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestEventErrors(t *testing.T) {
	m, h := newTestHandler(t)

	assert.Equal(t, http.StatusBadRequest, postEvent(h, `{`).Code)
	assert.Equal(t, http.StatusBadRequest, postEvent(h, `{"sid":" "}`).Code)
	assert.Equal(t, http.StatusNotFound, postEvent(h, `{"sid":"nope"}`).Code)

	s, err := m.Create(context.Background(), session.Capabilities{JavaScript: true})
	require.NoError(t, err)
	require.NoError(t, m.Destroy(context.Background(), s.ID()))
	assert.Equal(t, http.StatusGone, postEvent(h, `{"sid":"`+s.ID()+`"}`).Code)

	rec := httptest.NewRecorder()
	h.HandleEvent(rec, httptest.NewRequest(http.MethodGet, "/event", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestFormWithoutJavaScript(t *testing.T) {
	m, h := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.HandlePage(rec, httptest.NewRequest(http.MethodGet, "/?js=0", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	sid := m.IDs()[0]
	s, err := m.Get(sid)
	require.NoError(t, err)
	assert.Equal(t, session.NoJavaScript, s.ClientState())

	form := url.Values{"sid": {sid}, "w": {"w2"}}
	req := httptest.NewRequest(http.MethodPost, "/nojs", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	h.HandleForm(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "busy")

	rec = httptest.NewRecorder()
	h.HandleForm(rec, httptest.NewRequest(http.MethodGet, "/nojs", nil))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/?js=0", rec.Header().Get("Location"))

	rec = httptest.NewRecorder()
	h.HandleForm(rec, httptest.NewRequest(http.MethodGet, "/nojs?sid=gone", nil))
	assert.Equal(t, http.StatusFound, rec.Code)
}

func TestReloadUnknownSessionRedirects(t *testing.T) {
	_, h := newTestHandler(t)
	rec := httptest.NewRecorder()
	h.HandlePage(rec, httptest.NewRequest(http.MethodGet, "/?sid=missing", nil))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
}

func TestResyncEventRebuildsPage(t *testing.T) {
	m, h := newTestHandler(t)
	rec := httptest.NewRecorder()
	h.HandlePage(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	sid := m.IDs()[0]
	require.Equal(t, http.StatusOK, postEvent(h, `{"sid":"`+sid+`"}`).Code)

	rec = postEvent(h, `{"sid":"`+sid+`","seq":1,"resync":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "Wt.seq(2,1);\n"), rec.Body.String())
	assert.Contains(t, rec.Body.String(), `Wt.replace("root",`)
}
