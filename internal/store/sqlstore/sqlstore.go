// Package sqlstore implements store.Store over database/sql.
//
// The sqlite and postgres backends share this implementation and differ only
// in their Dialect: placeholder syntax, key collation and how driver errors
// are classified as transient.
//
// Tables (created by the backend, not here):
//
//	compositions(id TEXT PRIMARY KEY, size INTEGER, is_expanded INTEGER)
//	composition_members(composition_id TEXT, entity_id INTEGER)
//	scores(composition_id TEXT PRIMARY KEY, score REAL)
//	meta(name TEXT PRIMARY KEY, value TEXT)
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/compsearch/internal/catalog"
	"github.com/roach88/compsearch/internal/comp"
	"github.com/roach88/compsearch/internal/store"
)

const metaFingerprint = "catalog_fingerprint"

// Dialect captures what differs between SQL engines.
type Dialect struct {
	// Name is used in error messages.
	Name string

	// Numbered placeholders ($1, $2, ...) instead of "?".
	Numbered bool

	// Collate is appended to every ORDER BY on a key column so that key
	// order is bytewise on every engine. Empty means the default collation
	// is already bytewise.
	Collate string

	// IsTransient reports whether a driver error should be retried.
	IsTransient func(error) bool
}

// Store is a store.Store over a *sql.DB.
type Store struct {
	db *sql.DB
	d  Dialect
	q  queries
}

var _ store.Store = (*Store)(nil)

type queries struct {
	probe         string
	insertComp    string
	insertMember  string
	exists        string
	markExpanded  string
	fetchPending  string
	fetchUnscored string
	upsertScore   string
	getMeta       string
	insertMeta    string
	updateMeta    string
	get           string
	members       string
	stats         string
	topScored     string
	histogram     string
}

// New wraps db. The schema must already exist.
func New(db *sql.DB, d Dialect) *Store {
	s := &Store{db: db, d: d}
	key := func(col string) string {
		if d.Collate == "" {
			return col
		}
		return col + " " + d.Collate
	}
	s.q = queries{
		probe:        `SELECT 1 FROM compositions LIMIT 1`,
		insertComp:   `INSERT INTO compositions (id, size) VALUES (?, ?) ON CONFLICT (id) DO NOTHING`,
		insertMember: `INSERT INTO composition_members (composition_id, entity_id) VALUES (?, ?) ON CONFLICT DO NOTHING`,
		exists:       `SELECT 1 FROM compositions WHERE id = ?`,
		markExpanded: `UPDATE compositions SET is_expanded = 1 WHERE id = ? AND is_expanded = 0`,
		fetchPending: `SELECT id FROM compositions
			WHERE is_expanded = 0 AND size < ?
			ORDER BY size ASC, ` + key("id") + ` ASC
			LIMIT ?`,
		fetchUnscored: `SELECT c.id FROM compositions c
			LEFT JOIN scores s ON s.composition_id = c.id
			WHERE s.composition_id IS NULL
			ORDER BY ` + key("c.id") + ` ASC
			LIMIT ?`,
		upsertScore: `INSERT INTO scores (composition_id, score) VALUES (?, ?)
			ON CONFLICT (composition_id) DO UPDATE SET score = excluded.score`,
		getMeta:    `SELECT value FROM meta WHERE name = ?`,
		insertMeta: `INSERT INTO meta (name, value) VALUES (?, ?)`,
		updateMeta: `UPDATE meta SET value = ? WHERE name = ?`,
		get: `SELECT c.size, c.is_expanded, s.score FROM compositions c
			LEFT JOIN scores s ON s.composition_id = c.id
			WHERE c.id = ?`,
		members: `SELECT entity_id FROM composition_members
			WHERE composition_id = ?
			ORDER BY entity_id ASC`,
		stats: `SELECT c.size,
				COUNT(*),
				SUM(CASE WHEN c.is_expanded = 0 THEN 1 ELSE 0 END),
				COUNT(s.composition_id)
			FROM compositions c
			LEFT JOIN scores s ON s.composition_id = c.id
			GROUP BY c.size
			ORDER BY c.size ASC`,
		topScored: `SELECT c.id, s.score FROM scores s
			JOIN compositions c ON c.id = s.composition_id
			WHERE c.size = ?
			ORDER BY s.score DESC, ` + key("c.id") + ` ASC
			LIMIT ?`,
		histogram: `SELECT s.score, COUNT(*) FROM scores s
			JOIN compositions c ON c.id = s.composition_id
			WHERE c.size = ?
			GROUP BY s.score
			ORDER BY s.score DESC`,
	}
	if d.Numbered {
		s.q.rebindAll()
	}
	return s
}

func (q *queries) rebindAll() {
	for _, p := range []*string{
		&q.probe, &q.insertComp, &q.insertMember, &q.exists, &q.markExpanded,
		&q.fetchPending, &q.fetchUnscored, &q.upsertScore, &q.getMeta,
		&q.insertMeta, &q.updateMeta, &q.get, &q.members, &q.stats,
		&q.topScored, &q.histogram,
	} {
		*p = Rebind(*p)
	}
}

// Rebind rewrites "?" placeholders to "$1", "$2", ... in order.
// Queries in this package never contain a literal "?".
func Rebind(query string) string {
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&sb, "$%d", n)
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// DB returns the underlying handle. Backends use it for schema management.
func (s *Store) DB() *sql.DB {
	return s.db
}

// wrap attaches op to err and marks it transient when the dialect says so.
func (s *Store) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if s.d.IsTransient != nil && s.d.IsTransient(err) {
		return store.Transient(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// withTx runs fn in a transaction, committing on success.
func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Seed implements store.Frontier.
func (s *Store) Seed(ctx context.Context, comps []comp.Composition) (bool, error) {
	seeded := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var one int
		err := tx.QueryRowContext(ctx, s.q.probe).Scan(&one)
		if err == nil {
			return nil // already seeded
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("probe: %w", err)
		}
		if _, err := s.insertTx(ctx, tx, comps); err != nil {
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

// FetchPending implements store.Frontier.
func (s *Store) FetchPending(ctx context.Context, maxSize, limit int) ([]comp.Composition, error) {
	if err := store.CheckLimit(limit); err != nil {
		return nil, fmt.Errorf("fetch pending: %w", err)
	}
	out, err := s.queryCompositions(ctx, s.q.fetchPending, maxSize, limit)
	if err != nil {
		return nil, s.wrap("fetch pending", err)
	}
	return out, nil
}

// Exists implements store.Frontier.
func (s *Store) Exists(ctx context.Context, k comp.Key) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, s.q.exists, string(k)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, s.wrap("exists", err)
	}
	return true, nil
}

// InsertNew implements store.Frontier.
func (s *Store) InsertNew(ctx context.Context, comps []comp.Composition) (int, error) {
	var n int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		n, err = s.insertTx(ctx, tx, comps)
		return err
	})
	if err != nil {
		return 0, s.wrap("insert new", err)
	}
	return n, nil
}

// MarkExpanded implements store.Frontier.
func (s *Store) MarkExpanded(ctx context.Context, keys []comp.Key) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		return s.markTx(ctx, tx, keys)
	})
	return s.wrap("mark expanded", err)
}

// Apply implements store.Frontier.
func (s *Store) Apply(ctx context.Context, b store.Batch) (int, error) {
	var n int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		if n, err = s.insertTx(ctx, tx, b.Children); err != nil {
			return err
		}
		return s.markTx(ctx, tx, b.Sources)
	})
	if err != nil {
		return 0, s.wrap("apply batch", err)
	}
	return n, nil
}

// insertTx inserts each composition and, only when the row is new, its
// membership rows. Existing keys are skipped by ON CONFLICT.
func (s *Store) insertTx(ctx context.Context, tx *sql.Tx, comps []comp.Composition) (int, error) {
	if len(comps) == 0 {
		return 0, nil
	}
	insComp, err := tx.PrepareContext(ctx, s.q.insertComp)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer insComp.Close()
	insMember, err := tx.PrepareContext(ctx, s.q.insertMember)
	if err != nil {
		return 0, fmt.Errorf("prepare insert member: %w", err)
	}
	defer insMember.Close()

	inserted := 0
	for _, c := range comps {
		res, err := insComp.ExecContext(ctx, string(c.Key()), c.Size())
		if err != nil {
			return 0, fmt.Errorf("insert %s: %w", c.Key(), err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("insert %s: %w", c.Key(), err)
		}
		if affected == 0 {
			continue
		}
		inserted++
		for _, m := range c.Members() {
			if _, err := insMember.ExecContext(ctx, string(c.Key()), int(m)); err != nil {
				return 0, fmt.Errorf("insert member %s/%d: %w", c.Key(), m, err)
			}
		}
	}
	return inserted, nil
}

func (s *Store) markTx(ctx context.Context, tx *sql.Tx, keys []comp.Key) error {
	if len(keys) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, s.q.markExpanded)
	if err != nil {
		return fmt.Errorf("prepare mark: %w", err)
	}
	defer stmt.Close()
	for _, k := range keys {
		if _, err := stmt.ExecContext(ctx, string(k)); err != nil {
			return fmt.Errorf("mark %s: %w", k, err)
		}
	}
	return nil
}

func (s *Store) queryCompositions(ctx context.Context, query string, args ...any) ([]comp.Composition, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []comp.Composition{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		c, err := comp.FromKey(comp.Key(key))
		if err != nil {
			return nil, fmt.Errorf("stored key: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// FetchUnscored implements store.Scores.
func (s *Store) FetchUnscored(ctx context.Context, limit int) ([]comp.Composition, error) {
	if err := store.CheckLimit(limit); err != nil {
		return nil, fmt.Errorf("fetch unscored: %w", err)
	}
	out, err := s.queryCompositions(ctx, s.q.fetchUnscored, limit)
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
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, s.q.upsertScore)
		if err != nil {
			return fmt.Errorf("prepare upsert: %w", err)
		}
		defer stmt.Close()
		for _, sc := range scores {
			if _, err := stmt.ExecContext(ctx, string(sc.Key), sc.Score); err != nil {
				return fmt.Errorf("upsert score %s: %w", sc.Key, err)
			}
		}
		return nil
	})
	return s.wrap("write scores", err)
}

// BindCatalog implements store.Store.
func (s *Store) BindCatalog(ctx context.Context, fingerprint string) error {
	var mismatch error
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var stored string
		err := tx.QueryRowContext(ctx, s.q.getMeta, metaFingerprint).Scan(&stored)
		if errors.Is(err, sql.ErrNoRows) {
			_, err = tx.ExecContext(ctx, s.q.insertMeta, metaFingerprint, fingerprint)
			return err
		}
		if err != nil {
			return err
		}
		if stored == fingerprint {
			return nil
		}

		var one int
		err = tx.QueryRowContext(ctx, s.q.probe).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			// Nothing was built from the old catalog yet.
			_, err = tx.ExecContext(ctx, s.q.updateMeta, fingerprint, metaFingerprint)
			return err
		}
		if err != nil {
			return err
		}
		mismatch = &store.CatalogMismatchError{Stored: stored, Given: fingerprint}
		return nil
	})
	if err != nil {
		return s.wrap("bind catalog", err)
	}
	return mismatch
}

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, k comp.Key) (store.Record, error) {
	rec := store.Record{Key: k}
	var expanded int
	var score sql.NullFloat64
	err := s.db.QueryRowContext(ctx, s.q.get, string(k)).Scan(&rec.Size, &expanded, &score)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Record{}, store.ErrNotFound
	}
	if err != nil {
		return store.Record{}, s.wrap("get", err)
	}
	rec.Expanded = expanded != 0
	rec.Score, rec.Scored = score.Float64, score.Valid

	rows, err := s.db.QueryContext(ctx, s.q.members, string(k))
	if err != nil {
		return store.Record{}, s.wrap("get members", err)
	}
	defer rows.Close()
	rec.Members = []catalog.EntityID{}
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return store.Record{}, fmt.Errorf("get members: scan: %w", err)
		}
		rec.Members = append(rec.Members, catalog.EntityID(id))
	}
	if err := rows.Err(); err != nil {
		return store.Record{}, s.wrap("get members", err)
	}
	return rec, nil
}

// Stats implements store.Store.
func (s *Store) Stats(ctx context.Context) (store.Stats, error) {
	st := store.Stats{Sizes: []store.SizeStats{}}

	rows, err := s.db.QueryContext(ctx, s.q.stats)
	if err != nil {
		return store.Stats{}, s.wrap("stats", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ss store.SizeStats
		if err := rows.Scan(&ss.Size, &ss.Total, &ss.Pending, &ss.Scored); err != nil {
			return store.Stats{}, fmt.Errorf("stats: scan: %w", err)
		}
		st.Sizes = append(st.Sizes, ss)
		st.Total += ss.Total
		st.Pending += ss.Pending
		st.Scored += ss.Scored
	}
	if err := rows.Err(); err != nil {
		return store.Stats{}, s.wrap("stats", err)
	}

	err = s.db.QueryRowContext(ctx, s.q.getMeta, metaFingerprint).Scan(&st.Fingerprint)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return store.Stats{}, s.wrap("stats", err)
	}
	return st, nil
}

// TopScored implements store.Store.
func (s *Store) TopScored(ctx context.Context, size, limit int) ([]store.Scored, error) {
	if err := store.CheckLimit(limit); err != nil {
		return nil, fmt.Errorf("top scored: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, s.q.topScored, size, limit)
	if err != nil {
		return nil, s.wrap("top scored", err)
	}
	defer rows.Close()

	out := []store.Scored{}
	for rows.Next() {
		var key string
		var score float64
		if err := rows.Scan(&key, &score); err != nil {
			return nil, fmt.Errorf("top scored: scan: %w", err)
		}
		c, err := comp.FromKey(comp.Key(key))
		if err != nil {
			return nil, fmt.Errorf("top scored: stored key: %w", err)
		}
		out = append(out, store.Scored{Composition: c, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("top scored", err)
	}
	return out, nil
}

// ScoreHistogram implements store.Store.
func (s *Store) ScoreHistogram(ctx context.Context, size int) ([]store.ScoreBucket, error) {
	rows, err := s.db.QueryContext(ctx, s.q.histogram, size)
	if err != nil {
		return nil, s.wrap("score histogram", err)
	}
	defer rows.Close()

	out := []store.ScoreBucket{}
	for rows.Next() {
		var b store.ScoreBucket
		if err := rows.Scan(&b.Score, &b.Count); err != nil {
			return nil, fmt.Errorf("score histogram: scan: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("score histogram", err)
	}
	return out, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
