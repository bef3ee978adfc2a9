// Package catalog holds the immutable entity/trait catalog that every other
// component reads.
//
// A Catalog is constructed exactly once per process through a Builder, which
// assigns stable integer ids in declaration order. After Build returns, the
// catalog is never mutated and may be shared across goroutines without
// synchronization.
//
// Catalogs are usually loaded from a CUE or YAML file (see LoadFile). The
// dataset the project was built around ships embedded and is returned by
// Default.
//
// Every catalog has a Fingerprint: a SHA-256 digest over its canonical
// listing with domain separation. Stores record the fingerprint of the
// catalog they were seeded from so that a later run cannot silently mix
// compositions from two different catalogs.
package catalog
