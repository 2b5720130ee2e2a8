// Package sqlite implements docstore.Store on a single-file SQLite database for
// single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/sqlscan"
	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"entityid/internal/docstore"
	"entityid/pkg/platform/sentinel"
	"entityid/pkg/requestcontext"
)

//go:embed migrations/*.sql
var migrations embed.FS

const table = "documents"

var columns = []string{"id", "kind", "payload", "created_at", "updated_at", "created_by", "updated_by"}

var builder = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question)

type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// Single connection: SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("load migrations: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("goose new provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("goose up: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type row struct {
	ID        string `db:"id"`
	Kind      string `db:"kind"`
	Payload   []byte `db:"payload"`
	CreatedAt string `db:"created_at"`
	UpdatedAt string `db:"updated_at"`
	CreatedBy string `db:"created_by"`
	UpdatedBy string `db:"updated_by"`
}

func (r row) record() (docstore.Record, error) {
	created, err := time.Parse(time.RFC3339Nano, r.CreatedAt)
	if err != nil {
		return docstore.Record{}, fmt.Errorf("record %s created_at: %w", r.ID, err)
	}
	updated, err := time.Parse(time.RFC3339Nano, r.UpdatedAt)
	if err != nil {
		return docstore.Record{}, fmt.Errorf("record %s updated_at: %w", r.ID, err)
	}
	return docstore.Record{
		ID:        r.ID,
		Kind:      r.Kind,
		Payload:   r.Payload,
		CreatedAt: created,
		UpdatedAt: updated,
		CreatedBy: r.CreatedBy,
		UpdatedBy: r.UpdatedBy,
	}, nil
}

func stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func (s *Store) Create(ctx context.Context, rec docstore.Record) (docstore.Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := requestcontext.Now(ctx).UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	if rec.UpdatedBy == "" {
		rec.UpdatedBy = rec.CreatedBy
	}
	if rec.Payload == nil {
		rec.Payload = []byte("null")
	}

	query, args, err := builder.Insert(table).
		Columns(columns...).
		Values(rec.ID, rec.Kind, []byte(rec.Payload), stamp(now), stamp(now), rec.CreatedBy, rec.UpdatedBy).
		ToSql()
	if err != nil {
		return docstore.Record{}, fmt.Errorf("build insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return docstore.Record{}, fmt.Errorf("record %s: %w", rec.ID, sentinel.ErrConflict)
		}
		return docstore.Record{}, fmt.Errorf("record %s: %w", rec.ID, err)
	}
	return rec, nil
}

func (s *Store) Read(ctx context.Context, id string) (docstore.Record, error) {
	query, args, err := builder.Select(columns...).From(table).Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return docstore.Record{}, fmt.Errorf("build select: %w", err)
	}
	var r row
	if err := sqlscan.Get(ctx, s.db, &r, query, args...); err != nil {
		if sqlscan.NotFound(err) || errors.Is(err, sql.ErrNoRows) {
			return docstore.Record{}, fmt.Errorf("record %s: %w", id, sentinel.ErrNotFound)
		}
		return docstore.Record{}, fmt.Errorf("record %s: %w", id, err)
	}
	return r.record()
}

func (s *Store) Update(ctx context.Context, id string, patch map[string]any, actor string) (docstore.Record, error) {
	rec, err := s.Read(ctx, id)
	if err != nil {
		return docstore.Record{}, err
	}
	payload, err := docstore.MergePatch(rec.Payload, patch)
	if err != nil {
		return docstore.Record{}, fmt.Errorf("record %s: %w", id, err)
	}
	now := requestcontext.Now(ctx).UTC()

	query, args, err := builder.Update(table).
		Set("payload", []byte(payload)).
		Set("updated_at", stamp(now)).
		Set("updated_by", actor).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return docstore.Record{}, fmt.Errorf("build update: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return docstore.Record{}, fmt.Errorf("record %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return docstore.Record{}, fmt.Errorf("record %s: %w", id, sentinel.ErrNotFound)
	}

	rec.Payload = payload
	rec.UpdatedAt = now
	rec.UpdatedBy = actor
	return rec, nil
}

func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	query, args, err := builder.Delete(table).Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return false, fmt.Errorf("build delete: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("record %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record %s: %w", id, err)
	}
	return n > 0, nil
}

func (s *Store) Query(ctx context.Context, q docstore.Query) ([]docstore.Record, error) {
	sel := builder.Select(columns...).From(table).OrderBy("created_at ASC", "id ASC")
	if q.Kind != "" {
		sel = sel.Where(squirrel.Eq{"kind": q.Kind})
	}
	query, args, err := sel.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var rows []row
	if err := sqlscan.Select(ctx, s.db, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query %s documents: %w", q.Kind, err)
	}
	recs := make([]docstore.Record, 0, len(rows))
	for _, r := range rows {
		rec, err := r.record()
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return docstore.Apply(recs, q), nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
