package engine

import "sync/atomic"

// counters accumulate run totals. Writers update them concurrently.
type counters struct {
	iterations atomic.Int64
	expanded   atomic.Int64
	children   atomic.Int64
	inserted   atomic.Int64
	batches    atomic.Int64
	retries    atomic.Int64
}

// Snapshot is a point-in-time copy of a run's totals.
type Snapshot struct {
	Iterations int64
	Expanded   int64
	Children   int64
	Inserted   int64
	Batches    int64
	Retries    int64
}

func (c *counters) snapshot() Snapshot {
	return Snapshot{
		Iterations: c.iterations.Load(),
		Expanded:   c.expanded.Load(),
		Children:   c.children.Load(),
		Inserted:   c.inserted.Load(),
		Batches:    c.batches.Load(),
		Retries:    c.retries.Load(),
	}
}
