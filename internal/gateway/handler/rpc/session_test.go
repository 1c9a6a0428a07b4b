package rpc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	"wtcore/internal/session"
	"wtcore/internal/widget"
)

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

func newTestServer(t *testing.T) (*session.Manager, *httptest.Server) {
	t.Helper()
	m := session.NewManager(labelFactory, session.Options{}, session.Hooks{}, nil)
	path, h := NewSessionServiceHandler(NewSessionHandler(m))
	mux := http.NewServeMux()
	mux.Handle(path, h)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return m, srv
}

func call(t *testing.T, srv *httptest.Server, procedure string, fields map[string]any) (*structpb.Struct, error) {
	t.Helper()
	msg, err := structpb.NewStruct(fields)
	require.NoError(t, err)
	client := connect.NewClient[structpb.Struct, structpb.Struct](srv.Client(), srv.URL+procedure)
	res, err := client.CallUnary(context.Background(), connect.NewRequest(msg))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func TestSessionServiceRoundTrip(t *testing.T) {
	m, srv := newTestServer(t)

	created, err := call(t, srv, CreateSessionProcedure, map[string]any{})
	require.NoError(t, err)
	sid := created.GetFields()["sid"].GetStringValue()
	require.NotEmpty(t, sid)
	assert.Equal(t, "page", created.GetFields()["kind"].GetStringValue())
	assert.Contains(t, created.GetFields()["body"].GetStringValue(), "idle")
	assert.Equal(t, 1, m.Len())

	_, err = call(t, srv, HandleEventProcedure, map[string]any{"sid": sid})
	require.NoError(t, err)

	out, err := call(t, srv, HandleEventProcedure, map[string]any{"sid": sid, "widget": "w2"})
	require.NoError(t, err)
	assert.Equal(t, "script", out.GetFields()["kind"].GetStringValue())
	assert.Contains(t, out.GetFields()["body"].GetStringValue(), `Wt.set("w1","content","busy")`)

	snap, err := call(t, srv, SnapshotProcedure, map[string]any{"sid": sid})
	require.NoError(t, err)
	html := snap.GetFields()["html"].GetStringValue()
	assert.True(t, strings.Contains(html, "busy"), html)
}

func TestSessionServiceErrors(t *testing.T) {
	m, srv := newTestServer(t)

	_, err := call(t, srv, HandleEventProcedure, map[string]any{})
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))

	_, err = call(t, srv, SnapshotProcedure, map[string]any{"sid": "missing"})
	assert.Equal(t, connect.CodeNotFound, connect.CodeOf(err))

	created, err := call(t, srv, CreateSessionProcedure, map[string]any{"no_javascript": true})
	require.NoError(t, err)
	sid := created.GetFields()["sid"].GetStringValue()
	require.NoError(t, m.Destroy(context.Background(), sid))

	_, err = call(t, srv, HandleEventProcedure, map[string]any{"sid": sid})
	assert.Equal(t, connect.CodeFailedPrecondition, connect.CodeOf(err))
}
