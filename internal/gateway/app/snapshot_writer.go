package app

import (
	"context"
	"log"
	"sync"
	"time"

	snapshotrepo "wtcore/internal/gateway/repository/snapshot"
	"wtcore/internal/session"
)

const (
	snapshotQueue        = 256
	snapshotWriteTimeout = 10 * time.Second
)

type snapshotJob struct {
	rec   snapshotrepo.Record
	final bool
}

// snapshotWriter stores pages off the render path. Session hooks run with
// the update lock held, so enqueueing never blocks; a full queue drops.
type snapshotWriter struct {
	store   snapshotrepo.Store
	archive snapshotrepo.Store

	mu     sync.Mutex
	closed bool
	jobs   chan snapshotJob
}

func newSnapshotWriter(store, archive snapshotrepo.Store) *snapshotWriter {
	return &snapshotWriter{
		store:   store,
		archive: archive,
		jobs:    make(chan snapshotJob, snapshotQueue),
	}
}

// OnRender keeps the latest full page of a session.
func (w *snapshotWriter) OnRender(rec session.RenderRecord) {
	if rec.Kind != session.PagePayload || len(rec.Body) == 0 {
		return
	}
	w.enqueue(snapshotJob{rec: snapshotrepo.Record{
		SessionID: rec.SessionID,
		Seq:       rec.Seq,
		HTML:      append([]byte(nil), rec.Body...),
		TakenAt:   rec.At,
	}})
}

// OnDestroy stores the final page and archives it.
func (w *snapshotWriter) OnDestroy(snap session.Snapshot) {
	w.enqueue(snapshotJob{final: true, rec: snapshotrepo.Record{
		SessionID: snap.SessionID,
		Seq:       snap.Seq,
		HTML:      snap.HTML,
		Nodes:     snap.Nodes,
		TakenAt:   snap.TakenAt,
	}})
}

func (w *snapshotWriter) enqueue(job snapshotJob) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	select {
	case w.jobs <- job:
	default:
		log.Printf("snapshot writer: queue full, dropped sid=%s seq=%d", job.rec.SessionID, job.rec.Seq)
	}
}

// Run writes queued snapshots until Close, draining what is left.
func (w *snapshotWriter) Run(ctx context.Context) error {
	for job := range w.jobs {
		w.write(ctx, job)
	}
	return nil
}

func (w *snapshotWriter) write(ctx context.Context, job snapshotJob) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), snapshotWriteTimeout)
	defer cancel()
	if w.store != nil {
		if err := w.store.Put(ctx, job.rec); err != nil {
			log.Printf("snapshot writer: put sid=%s seq=%d: %v", job.rec.SessionID, job.rec.Seq, err)
		}
	}
	if job.final && w.archive != nil {
		if err := w.archive.Put(ctx, job.rec); err != nil {
			log.Printf("snapshot writer: archive sid=%s: %v", job.rec.SessionID, err)
		}
	}
}

func (w *snapshotWriter) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	close(w.jobs)
}
