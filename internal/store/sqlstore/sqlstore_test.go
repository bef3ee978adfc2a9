package sqlstore

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/compsearch/internal/store"
)

func TestRebind(t *testing.T) {
	assert.Equal(t, "SELECT 1", Rebind("SELECT 1"))
	assert.Equal(t, "INSERT INTO t (a, b) VALUES ($1, $2)", Rebind("INSERT INTO t (a, b) VALUES (?, ?)"))
	assert.Equal(t, "WHERE size < $1 LIMIT $2", Rebind("WHERE size < ? LIMIT ?"))
}

func TestNewRebindsNumberedDialect(t *testing.T) {
	s := New(nil, Dialect{Numbered: true, Collate: `COLLATE "C"`})
	assert.Contains(t, s.q.fetchPending, "size < $1")
	assert.Contains(t, s.q.fetchPending, "LIMIT $2")
	assert.Contains(t, s.q.fetchPending, `id COLLATE "C" ASC`)
	assert.NotContains(t, s.q.upsertScore, "?")

	plain := New(nil, Dialect{})
	assert.Contains(t, plain.q.fetchPending, "size < ?")
}

func TestWrapClassifies(t *testing.T) {
	boom := errors.New("boom")
	s := New(nil, Dialect{IsTransient: func(err error) bool { return errors.Is(err, boom) }})

	assert.True(t, store.IsTransient(s.wrap("op", boom)))
	assert.False(t, store.IsTransient(s.wrap("op", errors.New("other"))))
	assert.Nil(t, s.wrap("op", nil))
}
