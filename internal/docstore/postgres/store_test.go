package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entityid/internal/docstore"
	"entityid/pkg/platform/sentinel"
	"entityid/pkg/requestcontext"
)

var rowColumns = []string{"id", "kind", "payload", "created_at", "updated_at", "created_by", "updated_by"}

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestStore_Create(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), now)

	tests := []struct {
		name    string
		setup   func(mock pgxmock.PgxPoolIface)
		wantErr error
	}{
		{
			name: "inserts the record",
			setup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`INSERT INTO documents \(id,kind,payload,created_at,updated_at,created_by,updated_by\)`).
					WithArgs("C00001", docstore.KindEUID, []byte(`{"euid":"C00001"}`), now, now, "alice", "alice").
					WillReturnResult(pgxmock.NewResult("INSERT", 1))
			},
		},
		{
			name: "unique violation maps to conflict",
			setup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`INSERT INTO documents`).
					WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
					WillReturnError(&pgconn.PgError{Code: "23505"})
			},
			wantErr: sentinel.ErrConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMock(t)
			tt.setup(mock)
			store := New(mock)

			rec, err := store.Create(ctx, docstore.Record{
				ID:        "C00001",
				Kind:      docstore.KindEUID,
				Payload:   []byte(`{"euid":"C00001"}`),
				CreatedBy: "alice",
			})
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, now, rec.CreatedAt)
				assert.Equal(t, "alice", rec.UpdatedBy)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestStore_Read(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("found", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery(`SELECT id, kind, payload, created_at, updated_at, created_by, updated_by FROM documents WHERE id = \$1`).
			WithArgs("C00001").
			WillReturnRows(pgxmock.NewRows(rowColumns).
				AddRow("C00001", docstore.KindEUID, []byte(`{"euid":"C00001"}`), now, now, "alice", "alice"))

		rec, err := New(mock).Read(context.Background(), "C00001")
		require.NoError(t, err)
		assert.Equal(t, docstore.KindEUID, rec.Kind)
		assert.JSONEq(t, `{"euid":"C00001"}`, string(rec.Payload))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery(`SELECT .+ FROM documents WHERE id = \$1`).
			WithArgs("C00009").
			WillReturnError(pgx.ErrNoRows)

		_, err := New(mock).Read(context.Background(), "C00009")
		require.ErrorIs(t, err, sentinel.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_Update(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := created.Add(time.Hour)
	ctx := requestcontext.WithTime(context.Background(), now)

	mock := newMock(t)
	mock.ExpectQuery(`SELECT .+ FROM documents WHERE id = \$1`).
		WithArgs("I00001").
		WillReturnRows(pgxmock.NewRows(rowColumns).
			AddRow("I00001", docstore.KindEUID, []byte(`{"status":"active"}`), created, created, "alice", "alice"))
	mock.ExpectExec(`UPDATE documents SET payload = \$1, updated_at = \$2, updated_by = \$3 WHERE id = \$4`).
		WithArgs([]byte(`{"status":"retired"}`), now, "bob", "I00001").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	rec, err := New(mock).Update(ctx, "I00001", map[string]any{"status": "retired"}, "bob")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"retired"}`, string(rec.Payload))
	assert.Equal(t, now, rec.UpdatedAt)
	assert.Equal(t, created, rec.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Delete(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec(`DELETE FROM documents WHERE id = \$1`).
		WithArgs("C00001").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`DELETE FROM documents WHERE id = \$1`).
		WithArgs("C00001").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	store := New(mock)
	ok, err := store.Delete(context.Background(), "C00001")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Delete(context.Background(), "C00001")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Query(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("pushes paging down when there is no filter", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery(`SELECT .+ FROM documents WHERE kind = \$1 ORDER BY updated_at DESC, created_at ASC, id ASC LIMIT 2 OFFSET 1`).
			WithArgs(docstore.KindConflict).
			WillReturnRows(pgxmock.NewRows(rowColumns).
				AddRow("a", docstore.KindConflict, []byte(`{}`), base, base, "", ""))

		recs, err := New(mock).Query(context.Background(), docstore.Query{
			Kind:   docstore.KindConflict,
			Sort:   []docstore.SortField{{Path: "_updatedAt", Desc: true}},
			Limit:  2,
			Offset: 1,
		})
		require.NoError(t, err)
		assert.Len(t, recs, 1)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("filters in process and keeps unreadable rows out", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery(`SELECT .+ FROM documents WHERE kind = \$1 ORDER BY created_at ASC, id ASC$`).
			WithArgs(docstore.KindEUID).
			WillReturnRows(pgxmock.NewRows(rowColumns).
				AddRow("C00001", docstore.KindEUID, []byte(`{"status":"historical"}`), base, base, "", "").
				AddRow("C00002", docstore.KindEUID, []byte(`{broken`), base.Add(time.Second), base, "", "").
				AddRow("C00003", docstore.KindEUID, []byte(`{"status":"active"}`), base.Add(2*time.Second), base, "", ""))

		recs, err := New(mock).Query(context.Background(), docstore.Query{
			Kind:   docstore.KindEUID,
			Filter: docstore.Filter{"status": "historical"},
			Limit:  10,
		})
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, "C00001", recs[0].ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
