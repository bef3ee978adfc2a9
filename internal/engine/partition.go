package engine

import (
	"github.com/roach88/compsearch/internal/comp"
	"github.com/roach88/compsearch/internal/store"
)

// Partition groups expansions into batches that share no key internally.
//
// Expansions are taken greedily in input order. One joins the current batch
// only if neither its source key nor any of its child keys is already
// claimed by the batch; otherwise it waits for a later batch. A batch closes
// once it holds target expansions or nothing left fits, and the deferred
// expansions start the next one. The same key may still appear in two
// different batches; the store absorbs that as a duplicate insert.
//
// A target below 1 is treated as 1.
func Partition(expansions []comp.Expansion, target int) []store.Batch {
	target = max(target, 1)

	var batches []store.Batch
	remaining := expansions
	for len(remaining) > 0 {
		var (
			b        store.Batch
			deferred []comp.Expansion
			claimed  = make(map[comp.Key]struct{})
			taken    int
		)
		for _, x := range remaining {
			if taken >= target || conflicts(x, claimed) {
				deferred = append(deferred, x)
				continue
			}
			claimed[x.Source.Key()] = struct{}{}
			for _, c := range x.Children {
				claimed[c.Key()] = struct{}{}
			}
			b.Sources = append(b.Sources, x.Source.Key())
			b.Children = append(b.Children, x.Children...)
			taken++
		}
		batches = append(batches, b)
		remaining = deferred
	}
	return batches
}

func conflicts(x comp.Expansion, claimed map[comp.Key]struct{}) bool {
	for _, k := range x.Keys() {
		if _, ok := claimed[k]; ok {
			return true
		}
	}
	return false
}
