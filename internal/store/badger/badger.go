// Package badger is an embedded key-value frontier store built on BadgerDB.
//
// Compositions, membership rows, scores and the work-queue indexes are laid
// out as ordered keys so every paged read is a bounded prefix scan:
//
//	c/<key>                          record, value = expanded flag
//	p/<size:u16be><key>              pending index, ordered by (size, key)
//	m/<key>/<entity:u32be>           membership projection
//	u/<key>                          unscored index
//	s/<key>                          score, value = float64 bits
//	x/<size:u16be><rank:u64be><key>  scored index, best first per size
//	meta/<name>                      metadata
package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/roach88/compsearch/internal/catalog"
	"github.com/roach88/compsearch/internal/comp"
	"github.com/roach88/compsearch/internal/store"
)

// Config holds configuration for a BadgerDB-backed store.
type Config struct {
	// Path is the directory for BadgerDB files.
	// Ignored when InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// Logger receives BadgerDB's internal logs. Nil disables them.
	Logger *slog.Logger

	// GCInterval is how often to run value log garbage collection.
	// Zero disables GC.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum ratio of discardable data before GC.
	GCDiscardRatio float64
}

// DefaultConfig returns production settings for a persistent store at path.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns settings for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store is a BadgerDB-backed store.Store.
type Store struct {
	db *badger.DB
	gc *gcRunner
}

var _ store.Store = (*Store)(nil)

// Open opens (creating if needed) the store described by cfg.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	s := &Store{db: db}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.gc = newGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
		s.gc.start()
	}
	return s, nil
}

// Close stops garbage collection and closes the database.
func (s *Store) Close() error {
	if s.gc != nil {
		s.gc.stop()
		s.gc = nil
	}
	return s.db.Close()
}

// Key layout.

var (
	prefixRecord   = []byte("c/")
	prefixPending  = []byte("p/")
	prefixMember   = []byte("m/")
	prefixUnscore  = []byte("u/")
	prefixScore    = []byte("s/")
	prefixRank     = []byte("x/")
	keyFingerprint = []byte("meta/catalog_fingerprint")
)

const (
	flagPending  byte = 0
	flagExpanded byte = 1
)

func concat(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func u16(n int) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, uint16(n))
	return b
}

func recordKey(k comp.Key) []byte   { return concat(prefixRecord, []byte(k)) }
func unscoredKey(k comp.Key) []byte { return concat(prefixUnscore, []byte(k)) }
func scoreKey(k comp.Key) []byte    { return concat(prefixScore, []byte(k)) }

func pendingKey(c comp.Composition) []byte {
	return concat(prefixPending, u16(c.Size()), []byte(c.Key()))
}

func memberPrefix(k comp.Key) []byte { return concat(prefixMember, []byte(k), []byte("/")) }

func memberKey(k comp.Key, id catalog.EntityID) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(id))
	return concat(memberPrefix(k), b)
}

// rank maps a score to 8 bytes that sort best-first.
func rank(score float64) []byte {
	bits := math.Float64bits(score)
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, ^bits)
	return b
}

func rankKey(size int, score float64, k comp.Key) []byte {
	return concat(prefixRank, u16(size), rank(score), []byte(k))
}

func sizeOf(k comp.Key) int {
	n := 1
	for i := 0; i < len(k); i++ {
		if k[i] == ',' {
			n++
		}
	}
	return n
}

func isTransient(err error) bool {
	return errors.Is(err, badger.ErrConflict)
}

func (s *Store) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if isTransient(err) {
		return store.Transient(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// update runs fn in a read-write transaction bound to ctx.
func (s *Store) update(ctx context.Context, fn func(*badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := fn(txn); err != nil {
			return err
		}
		return ctx.Err()
	})
}

func (s *Store) view(ctx context.Context, fn func(*badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(fn)
}

func exists(txn *badger.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Seed implements store.Frontier.
func (s *Store) Seed(ctx context.Context, comps []comp.Composition) (bool, error) {
	seeded := false
	err := s.update(ctx, func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefixRecord})
		it.Rewind()
		nonEmpty := it.Valid()
		it.Close()
		if nonEmpty {
			return nil
		}
		if _, err := insertTxn(txn, comps); err != nil {
			return err
		}
		seeded = true
		return nil
	})
	if err != nil {
		return false, s.wrap("seed", err)
	}
	return seeded, nil
}

func insertTxn(txn *badger.Txn, comps []comp.Composition) (int, error) {
	inserted := 0
	for _, c := range comps {
		rk := recordKey(c.Key())
		ok, err := exists(txn, rk)
		if err != nil {
			return 0, fmt.Errorf("probe %s: %w", c.Key(), err)
		}
		if ok {
			continue
		}
		writes := [][2][]byte{
			{rk, {flagPending}},
			{pendingKey(c), nil},
			{unscoredKey(c.Key()), nil},
		}
		for _, m := range c.Members() {
			writes = append(writes, [2][]byte{memberKey(c.Key(), m), nil})
		}
		for _, w := range writes {
			if err := txn.Set(w[0], w[1]); err != nil {
				return 0, fmt.Errorf("insert %s: %w", c.Key(), err)
			}
		}
		inserted++
	}
	return inserted, nil
}

func markTxn(txn *badger.Txn, keys []comp.Key) error {
	for _, k := range keys {
		rk := recordKey(k)
		item, err := txn.Get(rk)
		if errors.Is(err, badger.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("mark %s: %w", k, err)
		}
		var flag byte
		if err := item.Value(func(v []byte) error {
			if len(v) > 0 {
				flag = v[0]
			}
			return nil
		}); err != nil {
			return fmt.Errorf("mark %s: %w", k, err)
		}
		if flag == flagExpanded {
			continue
		}
		if err := txn.Set(rk, []byte{flagExpanded}); err != nil {
			return fmt.Errorf("mark %s: %w", k, err)
		}
		pk := concat(prefixPending, u16(sizeOf(k)), []byte(k))
		if err := txn.Delete(pk); err != nil {
			return fmt.Errorf("mark %s: %w", k, err)
		}
	}
	return nil
}

// FetchPending implements store.Frontier.
func (s *Store) FetchPending(ctx context.Context, maxSize, limit int) ([]comp.Composition, error) {
	if err := store.CheckLimit(limit); err != nil {
		return nil, fmt.Errorf("fetch pending: %w", err)
	}
	out := []comp.Composition{}
	err := s.view(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefixPending
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid() && len(out) < limit; it.Next() {
			key := it.Item().Key()[len(prefixPending):]
			size := int(binary.BigEndian.Uint16(key[:2]))
			if size >= maxSize {
				break
			}
			c, err := comp.FromKey(comp.Key(key[2:]))
			if err != nil {
				return fmt.Errorf("stored key: %w", err)
			}
			out = append(out, c)
		}
		return nil
	})
	if err != nil {
		return nil, s.wrap("fetch pending", err)
	}
	return out, nil
}

// Exists implements store.Frontier.
func (s *Store) Exists(ctx context.Context, k comp.Key) (bool, error) {
	var ok bool
	err := s.view(ctx, func(txn *badger.Txn) error {
		var err error
		ok, err = exists(txn, recordKey(k))
		return err
	})
	if err != nil {
		return false, s.wrap("exists", err)
	}
	return ok, nil
}

// InsertNew implements store.Frontier.
func (s *Store) InsertNew(ctx context.Context, comps []comp.Composition) (int, error) {
	var n int
	err := s.update(ctx, func(txn *badger.Txn) error {
		var err error
		n, err = insertTxn(txn, comps)
		return err
	})
	if err != nil {
		return 0, s.wrap("insert new", err)
	}
	return n, nil
}

// MarkExpanded implements store.Frontier.
func (s *Store) MarkExpanded(ctx context.Context, keys []comp.Key) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		return markTxn(txn, keys)
	})
	return s.wrap("mark expanded", err)
}

// Apply implements store.Frontier.
func (s *Store) Apply(ctx context.Context, b store.Batch) (int, error) {
	var n int
	err := s.update(ctx, func(txn *badger.Txn) error {
		var err error
		if n, err = insertTxn(txn, b.Children); err != nil {
			return err
		}
		return markTxn(txn, b.Sources)
	})
	if err != nil {
		return 0, s.wrap("apply batch", err)
	}
	return n, nil
}

// FetchUnscored implements store.Scores.
func (s *Store) FetchUnscored(ctx context.Context, limit int) ([]comp.Composition, error) {
	if err := store.CheckLimit(limit); err != nil {
		return nil, fmt.Errorf("fetch unscored: %w", err)
	}
	out := []comp.Composition{}
	err := s.view(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefixUnscore
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid() && len(out) < limit; it.Next() {
			c, err := comp.FromKey(comp.Key(it.Item().Key()[len(prefixUnscore):]))
			if err != nil {
				return fmt.Errorf("stored key: %w", err)
			}
			out = append(out, c)
		}
		return nil
	})
	if err != nil {
		return nil, s.wrap("fetch unscored", err)
	}
	return out, nil
}

// WriteScores implements store.Scores.
func (s *Store) WriteScores(ctx context.Context, scores []store.ScoreRecord) error {
	if len(scores) == 0 {
		return nil
	}
	err := s.update(ctx, func(txn *badger.Txn) error {
		for _, sc := range scores {
			ok, err := exists(txn, recordKey(sc.Key))
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			size := sizeOf(sc.Key)
			if old, had, err := readScore(txn, sc.Key); err != nil {
				return err
			} else if had {
				if err := txn.Delete(rankKey(size, old, sc.Key)); err != nil {
					return err
				}
			}
			bits := make([]byte, 8)
			binary.BigEndian.PutUint64(bits, math.Float64bits(sc.Score))
			if err := txn.Set(scoreKey(sc.Key), bits); err != nil {
				return err
			}
			if err := txn.Set(rankKey(size, sc.Score, sc.Key), nil); err != nil {
				return err
			}
			if err := txn.Delete(unscoredKey(sc.Key)); err != nil {
				return err
			}
		}
		return nil
	})
	return s.wrap("write scores", err)
}

func readScore(txn *badger.Txn, k comp.Key) (float64, bool, error) {
	item, err := txn.Get(scoreKey(k))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	var score float64
	err = item.Value(func(v []byte) error {
		if len(v) != 8 {
			return fmt.Errorf("score %s: corrupt value", k)
		}
		score = math.Float64frombits(binary.BigEndian.Uint64(v))
		return nil
	})
	return score, err == nil, err
}

// BindCatalog implements store.Store.
func (s *Store) BindCatalog(ctx context.Context, fingerprint string) error {
	var mismatch error
	err := s.update(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(keyFingerprint)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return txn.Set(keyFingerprint, []byte(fingerprint))
		}
		if err != nil {
			return err
		}
		stored, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if string(stored) == fingerprint {
			return nil
		}

		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefixRecord})
		it.Rewind()
		nonEmpty := it.Valid()
		it.Close()
		if !nonEmpty {
			return txn.Set(keyFingerprint, []byte(fingerprint))
		}
		mismatch = &store.CatalogMismatchError{Stored: string(stored), Given: fingerprint}
		return nil
	})
	if err != nil {
		return s.wrap("bind catalog", err)
	}
	return mismatch
}

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, k comp.Key) (store.Record, error) {
	rec := store.Record{Key: k, Size: sizeOf(k)}
	err := s.view(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(k))
		if err != nil {
			return err
		}
		if err := item.Value(func(v []byte) error {
			rec.Expanded = len(v) > 0 && v[0] == flagExpanded
			return nil
		}); err != nil {
			return err
		}
		if rec.Score, rec.Scored, err = readScore(txn, k); err != nil {
			return err
		}

		prefix := memberPrefix(k)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		rec.Members = []catalog.EntityID{}
		for it.Rewind(); it.Valid(); it.Next() {
			id := binary.BigEndian.Uint32(it.Item().Key()[len(prefix):])
			rec.Members = append(rec.Members, catalog.EntityID(id))
		}
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return store.Record{}, store.ErrNotFound
	}
	if err != nil {
		return store.Record{}, s.wrap("get", err)
	}
	return rec, nil
}

// Stats implements store.Store.
func (s *Store) Stats(ctx context.Context) (store.Stats, error) {
	bySize := map[int]*store.SizeStats{}
	get := func(size int) *store.SizeStats {
		ss, ok := bySize[size]
		if !ok {
			ss = &store.SizeStats{Size: size}
			bySize[size] = ss
		}
		return ss
	}
	st := store.Stats{}

	err := s.view(ctx, func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefixRecord, PrefetchValues: true, PrefetchSize: 100})
		for it.Rewind(); it.Valid(); it.Next() {
			ss := get(sizeOf(comp.Key(it.Item().Key()[len(prefixRecord):])))
			ss.Total++
			if err := it.Item().Value(func(v []byte) error {
				if len(v) == 0 || v[0] != flagExpanded {
					ss.Pending++
				}
				return nil
			}); err != nil {
				it.Close()
				return err
			}
		}
		it.Close()

		it = txn.NewIterator(badger.IteratorOptions{Prefix: prefixScore})
		for it.Rewind(); it.Valid(); it.Next() {
			get(sizeOf(comp.Key(it.Item().Key()[len(prefixScore):]))).Scored++
		}
		it.Close()

		item, err := txn.Get(keyFingerprint)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		fp, err := item.ValueCopy(nil)
		st.Fingerprint = string(fp)
		return err
	})
	if err != nil {
		return store.Stats{}, s.wrap("stats", err)
	}

	st.Sizes = make([]store.SizeStats, 0, len(bySize))
	for size := 1; len(st.Sizes) < len(bySize); size++ {
		ss, ok := bySize[size]
		if !ok {
			continue
		}
		st.Sizes = append(st.Sizes, *ss)
		st.Total += ss.Total
		st.Pending += ss.Pending
		st.Scored += ss.Scored
	}
	return st, nil
}

// TopScored implements store.Store.
func (s *Store) TopScored(ctx context.Context, size, limit int) ([]store.Scored, error) {
	if err := store.CheckLimit(limit); err != nil {
		return nil, fmt.Errorf("top scored: %w", err)
	}
	out := []store.Scored{}
	err := s.scanRank(ctx, size, func(score float64, k comp.Key) (bool, error) {
		c, err := comp.FromKey(k)
		if err != nil {
			return false, fmt.Errorf("stored key: %w", err)
		}
		out = append(out, store.Scored{Composition: c, Score: score})
		return len(out) < limit, nil
	})
	if err != nil {
		return nil, s.wrap("top scored", err)
	}
	return out, nil
}

// ScoreHistogram implements store.Store.
func (s *Store) ScoreHistogram(ctx context.Context, size int) ([]store.ScoreBucket, error) {
	out := []store.ScoreBucket{}
	err := s.scanRank(ctx, size, func(score float64, _ comp.Key) (bool, error) {
		if n := len(out); n > 0 && out[n-1].Score == score {
			out[n-1].Count++
		} else {
			out = append(out, store.ScoreBucket{Score: score, Count: 1})
		}
		return true, nil
	})
	if err != nil {
		return nil, s.wrap("score histogram", err)
	}
	return out, nil
}

// scanRank walks the scored index for one size, best first, until fn
// returns false.
func (s *Store) scanRank(ctx context.Context, size int, fn func(float64, comp.Key) (bool, error)) error {
	return s.view(ctx, func(txn *badger.Txn) error {
		prefix := concat(prefixRank, u16(size))
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			rest := it.Item().Key()[len(prefix):]
			score := unrank(rest[:8])
			more, err := fn(score, comp.Key(rest[8:]))
			if err != nil {
				return err
			}
			if !more {
				return nil
			}
		}
		return nil
	})
}

func unrank(b []byte) float64 {
	bits := ^binary.BigEndian.Uint64(b)
	if bits&(1<<63) != 0 {
		bits &^= 1 << 63
	} else {
		bits = ^bits
	}
	return math.Float64frombits(bits)
}
