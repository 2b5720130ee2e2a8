// Package postgres implements docstore.Store on the documents table.
//
// Kind, timestamp ordering and paging are pushed down to SQL. Payload filters
// are evaluated in-process against the raw bytes, so rows whose payload is not
// valid JSON remain readable.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"entityid/internal/docstore"
	"entityid/pkg/platform/sentinel"
	"entityid/pkg/requestcontext"
)

const table = "documents"

var columns = []string{"id", "kind", "payload", "created_at", "updated_at", "created_by", "updated_by"}

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// Querier is satisfied by *pgxpool.Pool, pgx.Tx and pgxmock pools.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	db Querier
}

func New(db Querier) *Store {
	return &Store{db: db}
}

type row struct {
	ID        string    `db:"id"`
	Kind      string    `db:"kind"`
	Payload   []byte    `db:"payload"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
	CreatedBy string    `db:"created_by"`
	UpdatedBy string    `db:"updated_by"`
}

func (r row) record() docstore.Record {
	return docstore.Record{
		ID:        r.ID,
		Kind:      r.Kind,
		Payload:   r.Payload,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
		CreatedBy: r.CreatedBy,
		UpdatedBy: r.UpdatedBy,
	}
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

	query, args, err := psql.Insert(table).
		Columns(columns...).
		Values(rec.ID, rec.Kind, []byte(rec.Payload), rec.CreatedAt, rec.UpdatedAt, rec.CreatedBy, rec.UpdatedBy).
		ToSql()
	if err != nil {
		return docstore.Record{}, fmt.Errorf("build insert: %w", err)
	}
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return docstore.Record{}, mapError(err, rec.ID)
	}
	return rec, nil
}

func (s *Store) Read(ctx context.Context, id string) (docstore.Record, error) {
	query, args, err := psql.Select(columns...).From(table).Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return docstore.Record{}, fmt.Errorf("build select: %w", err)
	}
	var r row
	if err := pgxscan.Get(ctx, s.db, &r, query, args...); err != nil {
		return docstore.Record{}, mapError(err, id)
	}
	return r.record(), nil
}

// Update merges patch into the stored payload. The read and the write are two
// statements; concurrent writers to one id must be serialised by the caller.
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

	query, args, err := psql.Update(table).
		Set("payload", []byte(payload)).
		Set("updated_at", now).
		Set("updated_by", actor).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return docstore.Record{}, fmt.Errorf("build update: %w", err)
	}
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return docstore.Record{}, mapError(err, id)
	}
	if tag.RowsAffected() == 0 {
		return docstore.Record{}, fmt.Errorf("record %s: %w", id, sentinel.ErrNotFound)
	}

	rec.Payload = payload
	rec.UpdatedAt = now
	rec.UpdatedBy = actor
	return rec, nil
}

func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	query, args, err := psql.Delete(table).Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return false, fmt.Errorf("build delete: %w", err)
	}
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return false, mapError(err, id)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) Query(ctx context.Context, q docstore.Query) ([]docstore.Record, error) {
	builder := psql.Select(columns...).From(table)
	if q.Kind != "" {
		builder = builder.Where(squirrel.Eq{"kind": q.Kind})
	}

	orderBy, pushdown := sqlOrder(q)
	builder = builder.OrderBy(orderBy...)
	if pushdown {
		if q.Limit > 0 {
			builder = builder.Limit(uint64(q.Limit))
		}
		if q.Offset > 0 {
			builder = builder.Offset(uint64(q.Offset))
		}
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var rows []row
	if err := pgxscan.Select(ctx, s.db, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query %s documents: %w", q.Kind, err)
	}

	recs := make([]docstore.Record, len(rows))
	for i, r := range rows {
		recs[i] = r.record()
	}
	if pushdown {
		return recs, nil
	}
	return docstore.Apply(recs, q), nil
}

// sqlOrder maps q's sort onto columns. It reports false when a filter or a
// payload sort path means the result has to be finished in-process.
func sqlOrder(q docstore.Query) ([]string, bool) {
	pushdown := len(q.Filter) == 0
	var order []string
	for _, f := range q.Sort {
		col := ""
		switch f.Path {
		case "_createdAt":
			col = "created_at"
		case "_updatedAt":
			col = "updated_at"
		case "_id":
			col = "id"
		default:
			pushdown = false
		}
		if col == "" || !pushdown {
			continue
		}
		if f.Desc {
			order = append(order, col+" DESC")
		} else {
			order = append(order, col+" ASC")
		}
	}
	if !pushdown {
		order = nil
	}
	return append(order, "created_at ASC", "id ASC"), pushdown
}

// mapError converts pgx errors to sentinel errors. Context errors pass through.
func mapError(err error, id string) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("record %s: %w", id, err)
	}
	if pgxscan.NotFound(err) || errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("record %s: %w", id, sentinel.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("record %s: %w", id, sentinel.ErrConflict)
	}
	return fmt.Errorf("record %s: %w", id, err)
}
