package snapshot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
)

const table = "page_snapshots"

// PostgresStore keeps snapshots in a single table, written through the ent
// SQL builder.
type PostgresStore struct {
	drv        *entsql.Driver
	schemaOnce sync.Once
	schemaErr  error
}

func NewPostgresStore(drv *entsql.Driver) *PostgresStore {
	return &PostgresStore{drv: drv}
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	s.schemaOnce.Do(func() {
		s.schemaErr = s.drv.Exec(ctx, `
CREATE TABLE IF NOT EXISTS page_snapshots (
  session_id TEXT PRIMARY KEY,
  seq BIGINT NOT NULL,
  html BYTEA NOT NULL,
  nodes INTEGER NOT NULL DEFAULT 0,
  taken_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);`, []any{}, nil)
	})
	return s.schemaErr
}

func (s *PostgresStore) check(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("store is nil")
	}
	if s.drv == nil {
		return fmt.Errorf("sql driver is nil")
	}
	if err := s.ensureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Put(ctx context.Context, rec Record) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	rec, err := normalize(rec)
	if err != nil {
		return err
	}
	query, args := entsql.Dialect(dialect.Postgres).
		Insert(table).
		Columns("session_id", "seq", "html", "nodes", "taken_at").
		Values(rec.SessionID, rec.Seq, rec.HTML, rec.Nodes, rec.TakenAt).
		OnConflict(
			entsql.ConflictColumns("session_id"),
			entsql.ResolveWithNewValues(),
		).
		Query()
	if err := s.drv.Exec(ctx, query, args, nil); err != nil {
		return fmt.Errorf("put snapshot %s: %w", rec.SessionID, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, sessionID string) (Record, error) {
	if err := s.check(ctx); err != nil {
		return Record{}, err
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return Record{}, fmt.Errorf("session_id is required")
	}
	query, args := entsql.Dialect(dialect.Postgres).
		Select("seq", "html", "nodes", "taken_at").
		From(entsql.Table(table)).
		Where(entsql.EQ("session_id", sessionID)).
		Query()
	var rows entsql.Rows
	if err := s.drv.Query(ctx, query, args, &rows); err != nil {
		return Record{}, fmt.Errorf("get snapshot %s: %w", sessionID, err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return Record{}, err
		}
		return Record{}, ErrNotFound
	}
	rec := Record{SessionID: sessionID}
	var takenAt time.Time
	if err := rows.Scan(&rec.Seq, &rec.HTML, &rec.Nodes, &takenAt); err != nil {
		return Record{}, fmt.Errorf("scan snapshot %s: %w", sessionID, err)
	}
	rec.TakenAt = takenAt.UTC()
	return rec, nil
}

func (s *PostgresStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	query, args := entsql.Dialect(dialect.Postgres).
		Delete(table).
		Where(entsql.EQ("session_id", strings.TrimSpace(sessionID))).
		Query()
	if err := s.drv.Exec(ctx, query, args, nil); err != nil {
		return fmt.Errorf("delete snapshot %s: %w", sessionID, err)
	}
	return nil
}
