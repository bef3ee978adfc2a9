package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/compsearch/internal/comp"
	"github.com/roach88/compsearch/internal/store"
	"github.com/roach88/compsearch/internal/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s := New()
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestClosedStoreRejectsCalls(t *testing.T) {
	s := New()
	require.NoError(t, s.Close())

	_, err := s.Seed(context.Background(), []comp.Composition{comp.Singleton(0)})
	assert.Error(t, err)
}

func TestCancelledContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.InsertNew(ctx, []comp.Composition{comp.Singleton(0)})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, store.IsTransient(err))
}
