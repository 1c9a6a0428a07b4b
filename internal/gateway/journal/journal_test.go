package journal

import (
	"testing"
	"time"

	"wtcore/internal/session"
)

func TestJournalRoundTrip(t *testing.T) {
	j := New(t.TempDir())
	j.Render(session.RenderRecord{
		SessionID: "a/b",
		Seq:       3,
		Kind:      session.ScriptPayload,
		State:     session.Incremental,
		Source:    "runtime",
		Ops:       2,
		Full:      true,
		Reason:    "resync",
		Duration:  1500 * time.Microsecond,
	})
	j.Append("a/b", "gateway", "destroy", nil)

	got, err := j.Read("a/b")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2", len(got))
	}
	if got[0].Stage != "render" || got[0].Fields["reason"] != "resync" || got[0].Fields["seq"] != float64(3) {
		t.Fatalf("unexpected render entry %+v", got[0])
	}
	if got[1].Stage != "destroy" || got[1].SessionID != "a/b" {
		t.Fatalf("unexpected entry %+v", got[1])
	}

	if err := j.Remove("a/b"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	got, err = j.Read("a/b")
	if err != nil || len(got) != 0 {
		t.Fatalf("Read after remove = %v, %v", got, err)
	}
}
