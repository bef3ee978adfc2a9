// Package memory is an in-process Store backed by maps.
//
// It holds everything in RAM and is intended for tests, small catalogs and
// dry runs. Every operation takes the store lock for its full duration,
// which makes Apply trivially atomic.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/roach88/compsearch/internal/comp"
	"github.com/roach88/compsearch/internal/store"
)

type record struct {
	c        comp.Composition
	expanded bool
	score    float64
	scored   bool
}

// Store is a map-backed store.Store.
type Store struct {
	mu          sync.RWMutex
	records     map[comp.Key]*record
	fingerprint string
	closed      bool
}

var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{records: make(map[comp.Key]*record)}
}

func (s *Store) check(ctx context.Context) error {
	if s.closed {
		return fmt.Errorf("memory store is closed")
	}
	return ctx.Err()
}

// Seed implements store.Frontier.
func (s *Store) Seed(ctx context.Context, comps []comp.Composition) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return false, fmt.Errorf("seed: %w", err)
	}
	if len(s.records) > 0 {
		return false, nil
	}
	s.insertLocked(comps)
	return true, nil
}

// FetchPending implements store.Frontier.
func (s *Store) FetchPending(ctx context.Context, maxSize, limit int) ([]comp.Composition, error) {
	if err := store.CheckLimit(limit); err != nil {
		return nil, fmt.Errorf("fetch pending: %w", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, fmt.Errorf("fetch pending: %w", err)
	}

	pending := []comp.Composition{}
	for _, r := range s.records {
		if !r.expanded && r.c.Size() < maxSize {
			pending = append(pending, r.c)
		}
	}
	slices.SortFunc(pending, func(a, b comp.Composition) int {
		if c := cmp.Compare(a.Size(), b.Size()); c != 0 {
			return c
		}
		return cmp.Compare(a.Key(), b.Key())
	})
	if len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

// Exists implements store.Frontier.
func (s *Store) Exists(ctx context.Context, k comp.Key) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return false, fmt.Errorf("exists: %w", err)
	}
	_, ok := s.records[k]
	return ok, nil
}

// InsertNew implements store.Frontier.
func (s *Store) InsertNew(ctx context.Context, comps []comp.Composition) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return 0, fmt.Errorf("insert new: %w", err)
	}
	return s.insertLocked(comps), nil
}

// MarkExpanded implements store.Frontier.
func (s *Store) MarkExpanded(ctx context.Context, keys []comp.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return fmt.Errorf("mark expanded: %w", err)
	}
	s.markLocked(keys)
	return nil
}

// Apply implements store.Frontier.
func (s *Store) Apply(ctx context.Context, b store.Batch) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return 0, fmt.Errorf("apply batch: %w", err)
	}
	n := s.insertLocked(b.Children)
	s.markLocked(b.Sources)
	return n, nil
}

func (s *Store) insertLocked(comps []comp.Composition) int {
	n := 0
	for _, c := range comps {
		if _, ok := s.records[c.Key()]; ok {
			continue
		}
		s.records[c.Key()] = &record{c: c}
		n++
	}
	return n
}

func (s *Store) markLocked(keys []comp.Key) {
	for _, k := range keys {
		if r, ok := s.records[k]; ok {
			r.expanded = true
		}
	}
}

// FetchUnscored implements store.Scores.
func (s *Store) FetchUnscored(ctx context.Context, limit int) ([]comp.Composition, error) {
	if err := store.CheckLimit(limit); err != nil {
		return nil, fmt.Errorf("fetch unscored: %w", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, fmt.Errorf("fetch unscored: %w", err)
	}

	out := []comp.Composition{}
	for _, r := range s.records {
		if !r.scored {
			out = append(out, r.c)
		}
	}
	slices.SortFunc(out, func(a, b comp.Composition) int { return cmp.Compare(a.Key(), b.Key()) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// WriteScores implements store.Scores.
func (s *Store) WriteScores(ctx context.Context, scores []store.ScoreRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return fmt.Errorf("write scores: %w", err)
	}
	for _, sc := range scores {
		if r, ok := s.records[sc.Key]; ok {
			r.score = sc.Score
			r.scored = true
		}
	}
	return nil
}

// BindCatalog implements store.Store.
func (s *Store) BindCatalog(ctx context.Context, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return fmt.Errorf("bind catalog: %w", err)
	}
	if s.fingerprint == "" || (s.fingerprint != fingerprint && len(s.records) == 0) {
		s.fingerprint = fingerprint
		return nil
	}
	if s.fingerprint != fingerprint {
		return &store.CatalogMismatchError{Stored: s.fingerprint, Given: fingerprint}
	}
	return nil
}

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, k comp.Key) (store.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return store.Record{}, fmt.Errorf("get: %w", err)
	}
	r, ok := s.records[k]
	if !ok {
		return store.Record{}, store.ErrNotFound
	}
	return store.Record{
		Key:      k,
		Size:     r.c.Size(),
		Expanded: r.expanded,
		Members:  slices.Clone(r.c.Members()),
		Score:    r.score,
		Scored:   r.scored,
	}, nil
}

// Stats implements store.Store.
func (s *Store) Stats(ctx context.Context) (store.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return store.Stats{}, fmt.Errorf("stats: %w", err)
	}

	bySize := make(map[int]*store.SizeStats)
	st := store.Stats{Fingerprint: s.fingerprint}
	for _, r := range s.records {
		ss, ok := bySize[r.c.Size()]
		if !ok {
			ss = &store.SizeStats{Size: r.c.Size()}
			bySize[r.c.Size()] = ss
		}
		ss.Total++
		st.Total++
		if !r.expanded {
			ss.Pending++
			st.Pending++
		}
		if r.scored {
			ss.Scored++
			st.Scored++
		}
	}
	st.Sizes = make([]store.SizeStats, 0, len(bySize))
	for _, ss := range bySize {
		st.Sizes = append(st.Sizes, *ss)
	}
	slices.SortFunc(st.Sizes, func(a, b store.SizeStats) int { return cmp.Compare(a.Size, b.Size) })
	return st, nil
}

// TopScored implements store.Store.
func (s *Store) TopScored(ctx context.Context, size, limit int) ([]store.Scored, error) {
	if err := store.CheckLimit(limit); err != nil {
		return nil, fmt.Errorf("top scored: %w", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, fmt.Errorf("top scored: %w", err)
	}

	out := []store.Scored{}
	for _, r := range s.records {
		if r.scored && r.c.Size() == size {
			out = append(out, store.Scored{Composition: r.c, Score: r.score})
		}
	}
	slices.SortFunc(out, func(a, b store.Scored) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Composition.Key(), b.Composition.Key())
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ScoreHistogram implements store.Store.
func (s *Store) ScoreHistogram(ctx context.Context, size int) ([]store.ScoreBucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, fmt.Errorf("score histogram: %w", err)
	}

	counts := make(map[float64]int64)
	for _, r := range s.records {
		if r.scored && r.c.Size() == size {
			counts[r.score]++
		}
	}
	out := make([]store.ScoreBucket, 0, len(counts))
	for score, n := range counts {
		out = append(out, store.ScoreBucket{Score: score, Count: n})
	}
	slices.SortFunc(out, func(a, b store.ScoreBucket) int { return cmp.Compare(b.Score, a.Score) })
	return out, nil
}

// Close implements store.Store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
