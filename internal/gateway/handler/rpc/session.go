package rpc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"

	"wtcore/internal/session"
	"wtcore/internal/widget"
)

const SessionServiceName = "wtcore.v1.SessionService"

const (
	CreateSessionProcedure = "/" + SessionServiceName + "/CreateSession"
	HandleEventProcedure   = "/" + SessionServiceName + "/HandleEvent"
	SnapshotProcedure      = "/" + SessionServiceName + "/Snapshot"
)

// SessionHandler drives sessions over Connect. Messages are plain
// google.protobuf.Struct values so that no generated code is needed.
type SessionHandler struct {
	sessions *session.Manager
}

func NewSessionHandler(sessions *session.Manager) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// NewSessionServiceHandler returns the mount path and handler for the service.
func NewSessionServiceHandler(h *SessionHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	mux := http.NewServeMux()
	mux.Handle(CreateSessionProcedure, connect.NewUnaryHandler(CreateSessionProcedure, h.CreateSession, opts...))
	mux.Handle(HandleEventProcedure, connect.NewUnaryHandler(HandleEventProcedure, h.HandleEvent, opts...))
	mux.Handle(SnapshotProcedure, connect.NewUnaryHandler(SnapshotProcedure, h.Snapshot, opts...))
	return "/" + SessionServiceName + "/", mux
}

func (h *SessionHandler) CreateSession(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	js := !boolField(req.Msg, "no_javascript")
	s, err := h.sessions.Create(ctx, session.Capabilities{JavaScript: js, UserAgent: req.Header().Get("User-Agent")})
	if err != nil {
		return nil, toSessionError(err)
	}
	p, err := s.HandleRequest(ctx, session.Request{Kind: session.PageLoad, JavaScript: js})
	if err != nil {
		return nil, toSessionError(err)
	}
	return respond(map[string]any{
		"sid":  s.ID(),
		"seq":  p.Seq,
		"kind": p.Kind.String(),
		"body": string(p.Body),
	})
}

func (h *SessionHandler) HandleEvent(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	sid := stringField(req.Msg, "sid")
	if sid == "" {
		return nil, toSessionError(fmt.Errorf("sid is required"))
	}
	in := session.Request{Kind: session.RuntimeEvent, JavaScript: true, Resync: boolField(req.Msg, "resync")}
	if target := stringField(req.Msg, "widget"); target != "" {
		ev := &widget.Event{Name: stringField(req.Msg, "event"), Target: target}
		if ev.Name == "" {
			ev.Name = widget.EventClicked
		}
		if v, ok := req.Msg.GetFields()["value"]; ok {
			ev.Value = v.GetStringValue()
			in.Values = map[string]string{target: ev.Value}
		}
		in.Event = ev
	}
	p, err := h.sessions.HandleRequest(ctx, sid, in)
	if err != nil {
		return nil, toSessionError(err)
	}
	return respond(map[string]any{
		"seq":  p.Seq,
		"kind": p.Kind.String(),
		"body": string(p.Body),
		"full": p.Full,
	})
}

func (h *SessionHandler) Snapshot(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	sid := stringField(req.Msg, "sid")
	if sid == "" {
		return nil, toSessionError(fmt.Errorf("sid is required"))
	}
	s, err := h.sessions.Get(sid)
	if err != nil {
		return nil, toSessionError(err)
	}
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, toSessionError(err)
	}
	return respond(map[string]any{
		"sid":   snap.SessionID,
		"seq":   snap.Seq,
		"nodes": snap.Nodes,
		"html":  string(snap.HTML),
	})
}

func respond(fields map[string]any) (*connect.Response[structpb.Struct], error) {
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, fmt.Errorf("encode response: %w", err))
	}
	return connect.NewResponse(out), nil
}

func stringField(msg *structpb.Struct, name string) string {
	return strings.TrimSpace(msg.GetFields()[name].GetStringValue())
}

func boolField(msg *structpb.Struct, name string) bool {
	return msg.GetFields()[name].GetBoolValue()
}

func toSessionError(err error) error {
	switch {
	case errors.Is(err, session.ErrSessionGone):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, session.ErrUnknownSession):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, session.ErrLockTimeout):
		return connect.NewError(connect.CodeUnavailable, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	case strings.Contains(strings.ToLower(err.Error()), "required"):
		return connect.NewError(connect.CodeInvalidArgument, err)
	default:
		return connect.NewError(connect.CodeInternal, fmt.Errorf("session service failed: %w", err))
	}
}
