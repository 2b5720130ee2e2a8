package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"entityid/internal/docstore"
	"entityid/pkg/platform/sentinel"
	"entityid/pkg/requestcontext"
)

type StoreSuite struct {
	suite.Suite
	store *Store
	ctx   context.Context
	now   time.Time
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) SetupTest() {
	s.store = New()
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
}

func (s *StoreSuite) create(id, kind, payload string) docstore.Record {
	rec, err := s.store.Create(s.ctx, docstore.Record{
		ID:        id,
		Kind:      kind,
		Payload:   []byte(payload),
		CreatedBy: "tester",
	})
	s.Require().NoError(err)
	return rec
}

func (s *StoreSuite) TestCreateAndRead() {
	s.Run("stamps timestamps and actors", func() {
		rec := s.create("C00001", docstore.KindEUID, `{"euid":"C00001"}`)
		s.Equal(s.now, rec.CreatedAt)
		s.Equal(s.now, rec.UpdatedAt)
		s.Equal("tester", rec.UpdatedBy)

		got, err := s.store.Read(s.ctx, "C00001")
		s.Require().NoError(err)
		s.JSONEq(`{"euid":"C00001"}`, string(got.Payload))
	})

	s.Run("assigns an id when none is given", func() {
		rec := s.create("", docstore.KindConflict, `{}`)
		s.NotEmpty(rec.ID)
	})

	s.Run("rejects duplicate ids", func() {
		_, err := s.store.Create(s.ctx, docstore.Record{ID: "C00001", Kind: docstore.KindEUID})
		s.ErrorIs(err, sentinel.ErrConflict)
	})

	s.Run("missing id is not found", func() {
		_, err := s.store.Read(s.ctx, "nope")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("returned payload is a copy", func() {
		got, err := s.store.Read(s.ctx, "C00001")
		s.Require().NoError(err)
		got.Payload[0] = 'x'

		again, err := s.store.Read(s.ctx, "C00001")
		s.Require().NoError(err)
		s.JSONEq(`{"euid":"C00001"}`, string(again.Payload))
	})
}

func (s *StoreSuite) TestUpdate() {
	s.create("I00001", docstore.KindEUID, `{"euid":"I00001","status":"active"}`)
	later := s.now.Add(time.Hour)

	rec, err := s.store.Update(requestcontext.WithTime(s.ctx, later), "I00001", map[string]any{"status": "retired"}, "admin")
	s.Require().NoError(err)
	s.JSONEq(`{"euid":"I00001","status":"retired"}`, string(rec.Payload))
	s.Equal(later, rec.UpdatedAt)
	s.Equal(s.now, rec.CreatedAt)
	s.Equal("admin", rec.UpdatedBy)

	_, err = s.store.Update(s.ctx, "missing", map[string]any{"a": 1}, "admin")
	s.ErrorIs(err, sentinel.ErrNotFound)

	s.store.Put(docstore.Record{ID: "broken", Kind: docstore.KindEUID, Payload: []byte("{oops")})
	_, err = s.store.Update(s.ctx, "broken", map[string]any{"a": 1}, "admin")
	s.ErrorIs(err, sentinel.ErrInvalidState)
}

func (s *StoreSuite) TestDelete() {
	s.create("D00001", docstore.KindEUID, `{}`)

	ok, err := s.store.Delete(s.ctx, "D00001")
	s.Require().NoError(err)
	s.True(ok)

	ok, err = s.store.Delete(s.ctx, "D00001")
	s.Require().NoError(err)
	s.False(ok)
}

func (s *StoreSuite) TestQuery() {
	s.create("C00001", docstore.KindEUID, `{"status":"active","seq":1}`)
	s.create("C00002", docstore.KindEUID, `{"status":"historical","seq":2}`)
	s.create("C00003", docstore.KindEUID, `{"status":"historical","seq":3}`)
	s.create("R1", docstore.KindReservedEUID, `{"status":"historical"}`)

	got, err := s.store.Query(s.ctx, docstore.Query{
		Kind:   docstore.KindEUID,
		Filter: docstore.Filter{"status": "historical"},
		Sort:   []docstore.SortField{{Path: "seq", Desc: true}},
	})
	s.Require().NoError(err)
	s.Require().Len(got, 2)
	s.Equal("C00003", got[0].ID)
	s.Equal("C00002", got[1].ID)

	all, err := s.store.Query(s.ctx, docstore.Query{})
	s.Require().NoError(err)
	s.Len(all, 4)
}
