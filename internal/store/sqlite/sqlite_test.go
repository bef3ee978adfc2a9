package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/compsearch/internal/comp"
	"github.com/roach88/compsearch/internal/store"
	"github.com/roach88/compsearch/internal/store/storetest"
)

// createTestStore opens a fresh file-backed store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return createTestStore(t) })
}

func TestConformanceInMemory(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := Open(MemoryPath)
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.False(t, os.IsNotExist(err), "database file was not created")
}

func TestOpen_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	s1, err := Open(path)
	require.NoError(t, err)
	_, err = s1.Seed(ctx, []comp.Composition{comp.Singleton(0), comp.Singleton(1)})
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	ok, err := s2.Exists(ctx, "1")
	require.NoError(t, err)
	assert.True(t, ok)

	seeded, err := s2.Seed(ctx, []comp.Composition{comp.Singleton(5)})
	require.NoError(t, err)
	assert.False(t, seeded, "resume must not reseed")
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		require.NoError(t, err, "Open() iteration %d", i)
		s.Close()
	}
}

func TestPragmas(t *testing.T) {
	s := createTestStore(t)

	require.NoError(t, s.verifyPragma("journal_mode", "wal"))
	require.NoError(t, s.verifyPragma("synchronous", "1"))
	require.NoError(t, s.verifyPragma("busy_timeout", "5000"))
	require.NoError(t, s.verifyPragma("foreign_keys", "1"))
	require.NoError(t, s.verifyPragma("user_version", fmt.Sprint(currentSchemaVersion)))
}

func TestMigrateFromV1(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.DB().Exec(`DROP INDEX idx_scores_score`)
	require.NoError(t, err)
	_, err = s.DB().Exec(`PRAGMA user_version = 1`)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	var n int
	err = s.DB().QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = 'idx_scores_score'`).Scan(&n)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, s.verifyPragma("user_version", "2"))
}

func TestMembershipRowsWrittenWithComposition(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	_, err := s.InsertNew(ctx, []comp.Composition{comp.MustNew(4, 1, 9)})
	require.NoError(t, err)

	var n int
	err = s.DB().QueryRow(`SELECT COUNT(*) FROM composition_members WHERE composition_id = '1,4,9'`).Scan(&n)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, isTransient(sqlite3.Error{Code: sqlite3.ErrBusy}))
	assert.True(t, isTransient(fmt.Errorf("wrapped: %w", sqlite3.Error{Code: sqlite3.ErrLocked})))
	assert.False(t, isTransient(sqlite3.Error{Code: sqlite3.ErrConstraint}))
	assert.False(t, isTransient(errors.New("other")))
}
