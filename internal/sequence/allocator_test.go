package sequence

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"entityid/internal/docstore"
	"entityid/internal/docstore/memory"
	"entityid/internal/docstore/mocks"
	"entityid/pkg/euid"
	"entityid/pkg/platform/sentinel"
)

type AllocatorSuite struct {
	suite.Suite
	ctx   context.Context
	store *memory.Store
	alloc *Allocator
}

func TestAllocatorSuite(t *testing.T) {
	suite.Run(t, new(AllocatorSuite))
}

func (s *AllocatorSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = memory.New()
	s.alloc = New(NewDocstoreCounter(s.store))
}

func (s *AllocatorSuite) TestNextIsMonotonicPerKey() {
	for want := 1; want <= 3; want++ {
		got, err := s.alloc.Next(s.ctx, "C")
		s.Require().NoError(err)
		s.Equal(want, got)
	}

	got, err := s.alloc.Next(s.ctx, Key("G", "US"))
	s.Require().NoError(err)
	s.Equal(1, got, "jurisdictions are separate namespaces")
}

func (s *AllocatorSuite) TestPersistedBeforeReturn() {
	_, err := s.alloc.Next(s.ctx, "I")
	s.Require().NoError(err)
	_, err = s.alloc.Next(s.ctx, "I")
	s.Require().NoError(err)

	restarted := New(NewDocstoreCounter(s.store))
	got, err := restarted.Next(s.ctx, "I")
	s.Require().NoError(err)
	s.Equal(3, got)

	rec, err := s.store.Read(s.ctx, "sequence:I")
	s.Require().NoError(err)
	s.Equal(docstore.KindSequence, rec.Kind)
	s.JSONEq(`{"key":"I","value":3}`, string(rec.Payload))
}

func (s *AllocatorSuite) TestConcurrentCallersNeverShareANumber() {
	const callers = 64
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[int]bool)
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := s.alloc.Next(s.ctx, "D")
			s.NoError(err)
			mu.Lock()
			defer mu.Unlock()
			s.False(seen[n], "number %d issued twice", n)
			seen[n] = true
		}()
	}
	wg.Wait()
	s.Len(seen, callers)

	current, err := s.alloc.Current(s.ctx, "D")
	s.Require().NoError(err)
	s.Equal(callers, current)
}

func (s *AllocatorSuite) TestExhaustion() {
	s.Require().NoError(s.alloc.Raise(s.ctx, "T", euid.MaxSequence-1))

	got, err := s.alloc.Next(s.ctx, "T")
	s.Require().NoError(err)
	s.Equal(euid.MaxSequence, got)

	_, err = s.alloc.Next(s.ctx, "T")
	s.ErrorIs(err, sentinel.ErrExhausted)
}

func (s *AllocatorSuite) TestRaiseNeverLowers() {
	s.Require().NoError(s.alloc.Raise(s.ctx, "C", 10))
	s.Require().NoError(s.alloc.Raise(s.ctx, "C", 4))

	got, err := s.alloc.Next(s.ctx, "C")
	s.Require().NoError(err)
	s.Equal(11, got)
}

func (s *AllocatorSuite) TestStoreFailureAbortsAllocation() {
	ctrl := gomock.NewController(s.T())
	store := mocks.NewMockStore(ctrl)
	alloc := New(NewDocstoreCounter(store))
	boom := errors.New("disk full")

	gomock.InOrder(
		store.EXPECT().Read(gomock.Any(), "sequence:C").
			Return(docstore.Record{ID: "sequence:C", Kind: docstore.KindSequence, Payload: []byte(`{"key":"C","value":7}`)}, nil),
		store.EXPECT().Update(gomock.Any(), "sequence:C", map[string]any{"value": 8}, counterActor).
			Return(docstore.Record{}, boom),
		store.EXPECT().Read(gomock.Any(), "sequence:C").
			Return(docstore.Record{ID: "sequence:C", Kind: docstore.KindSequence, Payload: []byte(`{"key":"C","value":7}`)}, nil),
		store.EXPECT().Update(gomock.Any(), "sequence:C", map[string]any{"value": 8}, counterActor).
			Return(docstore.Record{}, nil),
	)

	_, err := alloc.Next(s.ctx, "C")
	s.Require().ErrorIs(err, boom)

	got, err := alloc.Next(s.ctx, "C")
	s.Require().NoError(err)
	s.Equal(8, got, "the failed number was never handed out")
}

func (s *AllocatorSuite) TestLoadFailureIsReported() {
	ctrl := gomock.NewController(s.T())
	store := mocks.NewMockStore(ctrl)
	store.EXPECT().Read(gomock.Any(), "sequence:E").Return(docstore.Record{}, sentinel.ErrUnavailable)

	_, err := New(NewDocstoreCounter(store)).Next(s.ctx, "E")
	s.ErrorIs(err, sentinel.ErrUnavailable)
}
