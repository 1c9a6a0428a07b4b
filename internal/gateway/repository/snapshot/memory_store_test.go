package snapshot

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.Put(ctx, Record{SessionID: " "}); err == nil {
		t.Fatalf("expected error for empty session id")
	}
	html := []byte("<p>1</p>")
	if err := s.Put(ctx, Record{SessionID: "s1", Seq: 1, HTML: html}); err != nil {
		t.Fatalf("put: %v", err)
	}
	html[3] = '2'

	got, err := s.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got.HTML) != "<p>1</p>" || got.Seq != 1 || got.TakenAt.IsZero() {
		t.Fatalf("unexpected record %+v", got)
	}

	if err := s.Delete(ctx, "s1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get after delete: %v", err)
	}
}
