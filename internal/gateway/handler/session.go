package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"wtcore/internal/render/wire"
	"wtcore/internal/session"
	"wtcore/internal/widget"
)

// SessionHandler serves the page, event, form and poll endpoints.
type SessionHandler struct {
	sessions *session.Manager
}

func NewSessionHandler(sessions *session.Manager) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// HandlePage serves a full document. Without a sid a new session is
// created; with one the session is reloaded.
func (h *SessionHandler) HandlePage(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	js := q.Get("js") != "0"

	var (
		s   *session.Session
		err error
	)
	if sid := strings.TrimSpace(q.Get("sid")); sid != "" {
		s, err = h.sessions.Get(sid)
		if err != nil {
			http.Redirect(w, r, "/", http.StatusFound)
			return
		}
	} else {
		s, err = h.sessions.Create(r.Context(), session.Capabilities{JavaScript: js, UserAgent: r.UserAgent()})
		if err != nil {
			writeError(w, err)
			return
		}
	}

	p, err := s.HandleRequest(r.Context(), session.Request{Kind: session.PageLoad, JavaScript: js})
	if err != nil {
		writeError(w, err)
		return
	}
	writePayload(w, p)
}

type eventRequest struct {
	SID    string            `json:"sid"`
	W      string            `json:"w"`
	E      string            `json:"e"`
	V      *string           `json:"v,omitempty"`
	Seq    int64             `json:"seq"`
	Resync bool              `json:"resync,omitempty"`
	Extra  map[string]string `json:"args,omitempty"`
}

// HandleEvent receives events from the client runtime and answers with the
// script of the turn.
func (h *SessionHandler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var in eventRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	sid := strings.TrimSpace(in.SID)
	if sid == "" {
		http.Error(w, "sid is required", http.StatusBadRequest)
		return
	}

	req := session.Request{Kind: session.RuntimeEvent, JavaScript: true, Resync: in.Resync}
	if target := strings.TrimSpace(in.W); target != "" {
		ev := &widget.Event{Name: strings.TrimSpace(in.E), Target: target, Args: in.Extra}
		if ev.Name == "" {
			ev.Name = widget.EventClicked
		}
		if in.V != nil {
			ev.Value = *in.V
			req.Values = map[string]string{target: *in.V}
		}
		req.Event = ev
	}

	p, err := h.sessions.HandleRequest(r.Context(), sid, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writePayload(w, p)
}

// HandleForm serves clients without JavaScript: form submissions and plain
// links both end up here and get a full page back.
func (h *SessionHandler) HandleForm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	sid := strings.TrimSpace(r.Form.Get("sid"))
	if sid == "" {
		http.Redirect(w, r, "/?js=0", http.StatusFound)
		return
	}

	req := session.Request{Kind: session.FormPost, Values: map[string]string{}}
	for key, vals := range r.Form {
		switch key {
		case "sid", "w", "e":
			continue
		}
		if len(vals) > 0 {
			req.Values[key] = vals[len(vals)-1]
		}
	}
	if target := strings.TrimSpace(r.Form.Get("w")); target != "" {
		name := strings.TrimSpace(r.Form.Get("e"))
		if name == "" {
			name = widget.EventClicked
		}
		req.Event = &widget.Event{Name: name, Target: target}
	}

	p, err := h.sessions.HandleRequest(r.Context(), sid, req)
	if err != nil {
		if errors.Is(err, session.ErrSessionGone) || errors.Is(err, session.ErrUnknownSession) {
			http.Redirect(w, r, "/?js=0", http.StatusFound)
			return
		}
		writeError(w, err)
		return
	}
	writePayload(w, p)
}

// HandleRuntime serves the client runtime for pages that load it by URL.
func (h *SessionHandler) HandleRuntime(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = io.WriteString(w, wire.RuntimeJS())
}

// HandlePoll is the long poll for clients without a push socket.
func (h *SessionHandler) HandlePoll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	sid := strings.TrimSpace(r.URL.Query().Get("sid"))
	if sid == "" {
		http.Error(w, "sid is required", http.StatusBadRequest)
		return
	}
	p, err := h.sessions.Poll(r.Context(), sid)
	if err != nil {
		writeError(w, err)
		return
	}
	if p.Empty() {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writePayload(w, p)
}

func writePayload(w http.ResponseWriter, p session.Payload) {
	w.Header().Set("Cache-Control", "no-store")
	if p.Kind == session.PagePayload {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
	} else {
		w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
	}
	_, _ = w.Write(p.Body)
}

// statusOf maps session errors onto HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, session.ErrSessionGone):
		return http.StatusGone
	case errors.Is(err, session.ErrUnknownSession):
		return http.StatusNotFound
	case errors.Is(err, session.ErrLockTimeout):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := statusOf(err)
	if code == http.StatusInternalServerError {
		log.Printf("gateway: request failed: %v", err)
	}
	http.Error(w, err.Error(), code)
}
