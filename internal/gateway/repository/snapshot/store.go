package snapshot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Record is the last full page rendered for a session.
type Record struct {
	SessionID string
	Seq       int64
	HTML      []byte
	Nodes     int
	TakenAt   time.Time
}

// Store persists page snapshots, one per session.
type Store interface {
	Put(ctx context.Context, rec Record) error
	Get(ctx context.Context, sessionID string) (Record, error)
	Delete(ctx context.Context, sessionID string) error
}

var ErrNotFound = errors.New("snapshot not found")

func normalize(rec Record) (Record, error) {
	rec.SessionID = strings.TrimSpace(rec.SessionID)
	if rec.SessionID == "" {
		return Record{}, fmt.Errorf("session_id is required")
	}
	if rec.HTML == nil {
		rec.HTML = []byte{}
	}
	if rec.TakenAt.IsZero() {
		rec.TakenAt = time.Now()
	}
	rec.TakenAt = rec.TakenAt.UTC()
	return rec, nil
}

func clone(rec Record) Record {
	rec.HTML = append([]byte(nil), rec.HTML...)
	return rec
}
