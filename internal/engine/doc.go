// Package engine drives a composition search to completion.
//
// A run binds the catalog to the store, seeds one singleton per entity if
// the store is empty, then drains the frontier:
//
//  1. Fetch a bounded page of pending compositions below the size limit,
//     ordered by (size, key).
//  2. Expand the page on a pool of workers. Expansion only reads the
//     immutable catalog.
//  3. Partition the expansions into batches with no key shared inside a
//     batch.
//  4. Apply each batch atomically through a bounded pool of writers,
//     retrying the whole batch with backoff while failures are transient.
//
// The run is done when a fetch returns nothing. Every step is idempotent
// against the store, so a crashed or cancelled run resumes by simply
// running again against the same store.
package engine
