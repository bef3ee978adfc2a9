package store

import (
	"context"

	"github.com/roach88/compsearch/internal/catalog"
	"github.com/roach88/compsearch/internal/comp"
)

// Frontier is the dedup set and work queue driven by the expansion engine.
//
// Every method is idempotent: re-running any call after a crash, timeout or
// retry leaves the store in the same state as running it once.
type Frontier interface {
	// Seed inserts comps atomically if and only if the store holds no
	// compositions at all. It reports whether anything was written.
	// Emptiness is decided by a single bounded existence probe.
	Seed(ctx context.Context, comps []comp.Composition) (bool, error)

	// FetchPending returns at most limit unexpanded compositions with
	// Size() < maxSize, ordered by (size, key). limit must be positive.
	FetchPending(ctx context.Context, maxSize, limit int) ([]comp.Composition, error)

	// Exists reports whether a composition with key k is stored.
	Exists(ctx context.Context, k comp.Key) (bool, error)

	// InsertNew stores each composition not already present, together with
	// its membership rows, and returns how many were new.
	// Keys already present are skipped silently.
	InsertNew(ctx context.Context, comps []comp.Composition) (int, error)

	// MarkExpanded flips the given keys from pending to expanded.
	// Unknown or already-expanded keys are ignored.
	MarkExpanded(ctx context.Context, keys []comp.Key) error

	// Apply persists one batch in a single failure-atomic transaction:
	// children not already present are inserted, then every source is
	// marked expanded. It returns the number of children inserted.
	Apply(ctx context.Context, b Batch) (int, error)
}

// Scores is the persistence surface of the scoring pass.
type Scores interface {
	// FetchUnscored returns at most limit compositions that have no score,
	// ordered by key. limit must be positive.
	FetchUnscored(ctx context.Context, limit int) ([]comp.Composition, error)

	// WriteScores upserts scores; rewriting a score replaces it.
	WriteScores(ctx context.Context, scores []ScoreRecord) error
}

// Store is the full storage surface implemented by every backend.
type Store interface {
	Frontier
	Scores

	// BindCatalog records the catalog fingerprint on first use and verifies
	// it on every later use. Binding a different catalog to a store that
	// already holds compositions fails with *CatalogMismatchError.
	BindCatalog(ctx context.Context, fingerprint string) error

	// Get returns the stored record for k, or ErrNotFound.
	// Members are read from the membership projection.
	Get(ctx context.Context, k comp.Key) (Record, error)

	// Stats reports per-size counts and the number of scored compositions.
	Stats(ctx context.Context) (Stats, error)

	// TopScored returns at most limit scored compositions of the given size,
	// best first, ties broken by key. limit must be positive.
	TopScored(ctx context.Context, size, limit int) ([]Scored, error)

	// ScoreHistogram returns the number of compositions of the given size
	// per distinct score, highest score first.
	ScoreHistogram(ctx context.Context, size int) ([]ScoreBucket, error)

	Close() error
}

// Batch is the unit of atomic persistence produced by the partitioner.
type Batch struct {
	Sources  []comp.Key
	Children []comp.Composition
}

// Empty reports whether the batch has nothing to write.
func (b Batch) Empty() bool {
	return len(b.Sources) == 0 && len(b.Children) == 0
}

// ScoreRecord is a computed score for one composition.
type ScoreRecord struct {
	Key   comp.Key
	Score float64
}

// Record is everything stored about one composition.
type Record struct {
	Key      comp.Key
	Size     int
	Expanded bool
	Members  []catalog.EntityID // from the membership projection, ascending
	Score    float64
	Scored   bool
}

// Scored is a composition with its score.
type Scored struct {
	Composition comp.Composition
	Score       float64
}

// SizeStats counts compositions of one size.
type SizeStats struct {
	Size    int
	Total   int64
	Pending int64
	Scored  int64
}

// Stats summarises store contents. Sizes is ascending and omits empty sizes.
type Stats struct {
	Sizes       []SizeStats
	Total       int64
	Pending     int64
	Scored      int64
	Fingerprint string
}

// ScoreBucket is one row of a score histogram.
type ScoreBucket struct {
	Score float64
	Count int64
}
