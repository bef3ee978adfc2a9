package harness

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/compsearch/internal/catalog"
	"github.com/roach88/compsearch/internal/comp"
	"github.com/roach88/compsearch/internal/store"
)

// AssertionContext is what assertions are evaluated against.
type AssertionContext struct {
	Store   store.Store
	Catalog *catalog.Catalog
}

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Subject  string // What was checked, e.g. "size 2" or "{A,B}"
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s %s\n", e.Type, e.Subject)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// EvaluateAssertions checks every assertion and returns one message per
// failure. Assertions are independent; all of them are evaluated.
func EvaluateAssertions(ctx context.Context, assertions []Assertion, actx *AssertionContext) []string {
	var failures []string
	for i, a := range assertions {
		if err := evaluate(ctx, a, actx); err != nil {
			failures = append(failures, fmt.Sprintf("assertion %d: %v", i, err))
		}
	}
	return failures
}

func evaluate(ctx context.Context, a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertCount, AssertPending, AssertScored:
		return assertCount(ctx, a, actx)
	case AssertExists:
		return assertExists(ctx, a, actx)
	case AssertExpanded:
		return assertExpanded(ctx, a, actx)
	case AssertScore:
		return assertScore(ctx, a, actx)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func assertCount(ctx context.Context, a Assertion, actx *AssertionContext) error {
	stats, err := actx.Store.Stats(ctx)
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}

	var got int64
	switch {
	case a.Size == 0:
		got = pick(a.Type, stats.Total, stats.Pending, stats.Scored)
	default:
		for _, sz := range stats.Sizes {
			if sz.Size == a.Size {
				got = pick(a.Type, sz.Total, sz.Pending, sz.Scored)
			}
		}
	}

	want, _ := asInt(a.Expect)
	if got != want {
		subject := "all sizes"
		if a.Size > 0 {
			subject = fmt.Sprintf("size %d", a.Size)
		}
		return &AssertionError{
			Type:     a.Type,
			Subject:  subject,
			Expected: fmt.Sprint(want),
			Actual:   fmt.Sprint(got),
		}
	}
	return nil
}

func pick(kind string, total, pending, scored int64) int64 {
	switch kind {
	case AssertPending:
		return pending
	case AssertScored:
		return scored
	default:
		return total
	}
}

func assertExists(ctx context.Context, a Assertion, actx *AssertionContext) error {
	c, err := resolve(actx.Catalog, a.Members)
	if err != nil {
		return err
	}
	got, err := actx.Store.Exists(ctx, c.Key())
	if err != nil {
		return fmt.Errorf("exists: %w", err)
	}
	want := a.Expect.(bool)
	if got != want {
		return &AssertionError{Type: a.Type, Subject: nameSet(a.Members), Expected: fmt.Sprint(want), Actual: fmt.Sprint(got)}
	}
	return nil
}

func assertExpanded(ctx context.Context, a Assertion, actx *AssertionContext) error {
	rec, err := lookup(ctx, a, actx)
	if err != nil {
		return err
	}
	want := a.Expect.(bool)
	if rec.Expanded != want {
		return &AssertionError{Type: a.Type, Subject: nameSet(a.Members), Expected: fmt.Sprint(want), Actual: fmt.Sprint(rec.Expanded)}
	}
	return nil
}

func assertScore(ctx context.Context, a Assertion, actx *AssertionContext) error {
	rec, err := lookup(ctx, a, actx)
	if err != nil {
		return err
	}
	want, _ := asFloat(a.Expect)
	if !rec.Scored {
		return &AssertionError{Type: a.Type, Subject: nameSet(a.Members), Expected: fmt.Sprint(want), Actual: "unscored"}
	}
	if rec.Score != want {
		return &AssertionError{Type: a.Type, Subject: nameSet(a.Members), Expected: fmt.Sprint(want), Actual: fmt.Sprint(rec.Score)}
	}
	return nil
}

func lookup(ctx context.Context, a Assertion, actx *AssertionContext) (store.Record, error) {
	c, err := resolve(actx.Catalog, a.Members)
	if err != nil {
		return store.Record{}, err
	}
	rec, err := actx.Store.Get(ctx, c.Key())
	if errors.Is(err, store.ErrNotFound) {
		return store.Record{}, &AssertionError{Type: a.Type, Subject: nameSet(a.Members), Expected: "stored", Actual: "not stored"}
	}
	if err != nil {
		return store.Record{}, fmt.Errorf("get: %w", err)
	}
	return rec, nil
}

// resolve turns entity names into a composition.
func resolve(cat *catalog.Catalog, names []string) (comp.Composition, error) {
	ids := make([]catalog.EntityID, len(names))
	for i, n := range names {
		id, ok := cat.EntityByName(n)
		if !ok {
			return comp.Composition{}, fmt.Errorf("unknown entity %q", n)
		}
		ids[i] = id
	}
	c, err := comp.New(ids...)
	if err != nil {
		return comp.Composition{}, fmt.Errorf("members %v: %w", names, err)
	}
	return c, nil
}

func nameSet(names []string) string {
	return "{" + strings.Join(names, ",") + "}"
}
