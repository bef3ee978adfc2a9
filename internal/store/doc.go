// Package store defines the durable frontier used by the expansion engine
// and the scoring pass.
//
// The frontier holds exactly one record per canonical composition key. Each
// record carries its size and a pending/expanded flag; pending records form
// the work queue. Membership rows (composition key, entity id) are written in
// the same transaction as the record they belong to, so a stored composition
// always has its full membership.
//
// # Guarantees
//
//   - Duplicate-tolerant inserts: a key that already exists is skipped, never
//     an error. Two parents producing the same child store it once.
//   - Monotonic status: pending only ever becomes expanded.
//   - Atomic batches: Apply inserts children and marks sources in one
//     transaction, so a failed batch leaves no partial state to clean up.
//   - Bounded reads: every paged read takes a positive limit.
//   - Deterministic order: pending pages are ordered by (size, key).
//
// # Backends
//
// The sqlite, postgres, badger and memory subpackages each implement Store.
// storetest holds the conformance suite they all run.
package store
