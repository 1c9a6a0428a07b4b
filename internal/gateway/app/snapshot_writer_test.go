package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	snapshotrepo "wtcore/internal/gateway/repository/snapshot"
	"wtcore/internal/session"
)

func TestSnapshotWriterStoresPagesAndArchivesFinal(t *testing.T) {
	store := snapshotrepo.NewMemoryStore()
	archive := snapshotrepo.NewMemoryStore()
	w := newSnapshotWriter(store, archive)

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	now := time.Now()
	w.OnRender(session.RenderRecord{SessionID: "s1", Seq: 1, Kind: session.PagePayload, Body: []byte("<p>one</p>"), At: now})
	w.OnRender(session.RenderRecord{SessionID: "s1", Seq: 2, Kind: session.ScriptPayload, Body: []byte("Wt.seq(2);"), At: now})
	w.OnDestroy(session.Snapshot{SessionID: "s2", Seq: 7, HTML: []byte("<p>bye</p>"), Nodes: 3, TakenAt: now})
	w.Close()
	w.Close()
	require.NoError(t, <-done)

	got, err := store.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Seq)
	assert.Equal(t, "<p>one</p>", string(got.HTML))

	_, err = archive.Get(context.Background(), "s1")
	assert.ErrorIs(t, err, snapshotrepo.ErrNotFound)

	final, err := archive.Get(context.Background(), "s2")
	require.NoError(t, err)
	assert.Equal(t, 3, final.Nodes)

	// Enqueueing after close is ignored.
	w.OnDestroy(session.Snapshot{SessionID: "s3"})
}
