// Package journal keeps a per-session JSONL log of renders for debugging.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"wtcore/internal/session"
)

var sessionIDSanitizer = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// Entry is one journal line.
type Entry struct {
	Timestamp string         `json:"timestamp"`
	SessionID string         `json:"session_id"`
	Source    string         `json:"source"`
	Stage     string         `json:"stage"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Journal persists session-scoped entries into JSONL files.
type Journal struct {
	dir string
	mu  sync.Mutex
}

func New(dir string) *Journal {
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" {
		trimmed = filepath.Join("tmp", "render-logs")
	}
	_ = os.MkdirAll(trimmed, 0o755)
	return &Journal{dir: trimmed}
}

func sanitizeSessionID(sid string) string {
	id := strings.TrimSpace(sid)
	if id == "" {
		return "unknown"
	}
	return sessionIDSanitizer.ReplaceAllString(id, "_")
}

func (j *Journal) filePath(sid string) string {
	return filepath.Join(j.dir, sanitizeSessionID(sid)+".jsonl")
}

// Append writes one entry for the session.
func (j *Journal) Append(sid, source, stage string, fields map[string]any) {
	if j == nil || strings.TrimSpace(sid) == "" {
		return
	}
	entry := Entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		SessionID: strings.TrimSpace(sid),
		Source:    strings.TrimSpace(source),
		Stage:     strings.TrimSpace(stage),
	}
	if len(fields) > 0 {
		entry.Fields = fields
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return
	}
	raw = append(raw, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	_ = os.MkdirAll(j.dir, 0o755)
	f, err := os.OpenFile(j.filePath(sid), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = f.Write(raw)
}

// Render is a session.Hooks.OnRender callback.
func (j *Journal) Render(rec session.RenderRecord) {
	fields := map[string]any{
		"seq":         rec.Seq,
		"kind":        rec.Kind.String(),
		"state":       rec.State.String(),
		"ops":         rec.Ops,
		"bytes":       rec.Bytes,
		"duration_us": rec.Duration.Microseconds(),
	}
	if rec.Full {
		fields["full"] = true
	}
	if rec.Reason != "" {
		fields["reason"] = rec.Reason
	}
	if rec.Dropped > 0 {
		fields["dropped"] = rec.Dropped
	}
	j.Append(rec.SessionID, rec.Source, "render", fields)
}

// Read returns every entry recorded for the session.
func (j *Journal) Read(sid string) ([]Entry, error) {
	if j == nil {
		return nil, nil
	}
	f, err := os.Open(j.filePath(sid))
	if err != nil {
		if os.IsNotExist(err) {
			return []Entry{}, nil
		}
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	out := make([]Entry, 0, 64)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan journal: %w", err)
	}
	return out, nil
}

// Remove deletes the journal of a session.
func (j *Journal) Remove(sid string) error {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := os.Remove(j.filePath(sid)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove journal: %w", err)
	}
	return nil
}
