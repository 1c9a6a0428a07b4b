package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"wtcore/internal/gateway/journal"
	snapshotrepo "wtcore/internal/gateway/repository/snapshot"
	"wtcore/internal/session"
)

// DebugHandler exposes render journals and page snapshots.
type DebugHandler struct {
	sessions  *session.Manager
	journal   *journal.Journal
	snapshots snapshotrepo.Store
}

func NewDebugHandler(sessions *session.Manager, j *journal.Journal, snapshots snapshotrepo.Store) *DebugHandler {
	return &DebugHandler{sessions: sessions, journal: j, snapshots: snapshots}
}

type sessionInfo struct {
	SID      string `json:"sid"`
	Client   string `json:"client"`
	Loop     string `json:"loop"`
	Seq      int64  `json:"seq"`
	Pending  int    `json:"pending"`
	Attached bool   `json:"attached"`
	LastSeen string `json:"last_seen"`
}

// HandleSessions lists live sessions.
func (h *DebugHandler) HandleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	out := make([]sessionInfo, 0, h.sessions.Len())
	for _, sid := range h.sessions.IDs() {
		s, err := h.sessions.Get(sid)
		if err != nil {
			continue
		}
		out = append(out, sessionInfo{
			SID:      sid,
			Client:   s.ClientState().String(),
			Loop:     s.LoopState().String(),
			Seq:      s.Seq(),
			Pending:  s.PendingCount(),
			Attached: s.Attached(),
			LastSeen: s.LastSeen().UTC().Format(time.RFC3339Nano),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"sessions": out})
}

func (h *DebugHandler) HandleRenderLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	sid := strings.TrimSpace(r.URL.Query().Get("sid"))
	if sid == "" {
		http.Error(w, "sid is required", http.StatusBadRequest)
		return
	}
	entries, err := h.journal.Read(sid)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"sid":     sid,
		"entries": entries,
	})
}

// HandleSnapshot returns the current page of a live session, or the last
// stored one. ?format=html returns the document itself.
func (h *DebugHandler) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	sid := strings.TrimSpace(q.Get("sid"))
	if sid == "" {
		http.Error(w, "sid is required", http.StatusBadRequest)
		return
	}

	var rec snapshotrepo.Record
	live := false
	if s, err := h.sessions.Get(sid); err == nil {
		snap, err := s.Snapshot(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		rec = snapshotrepo.Record{SessionID: snap.SessionID, Seq: snap.Seq, HTML: snap.HTML, Nodes: snap.Nodes, TakenAt: snap.TakenAt}
		live = true
	} else {
		if h.snapshots == nil {
			writeError(w, err)
			return
		}
		stored, serr := h.snapshots.Get(r.Context(), sid)
		if serr != nil {
			if errors.Is(serr, snapshotrepo.ErrNotFound) {
				writeError(w, err)
				return
			}
			http.Error(w, serr.Error(), http.StatusInternalServerError)
			return
		}
		rec = stored
	}

	if q.Get("format") == "html" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(rec.HTML)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"sid":      rec.SessionID,
		"seq":      rec.Seq,
		"nodes":    rec.Nodes,
		"live":     live,
		"taken_at": rec.TakenAt.UTC().Format(time.RFC3339Nano),
		"html":     string(rec.HTML),
	})
}
