// Package harness runs end-to-end search scenarios described in YAML and
// compares their outcome against golden snapshots.
//
// # Scenario Format
//
//	name: pair
//	description: "Two entities sharing a trait converge on one child"
//	catalog:              # inline catalog, same shape as a YAML catalog file
//	  traits:
//	    - { name: T, thresholds: [2] }
//	  entities:
//	    - { name: A, traits: [T] }
//	    - { name: B, traits: [T] }
//	catalog_file: ../catalogs/small.cue   # alternative to catalog
//	max_size: 2
//	backend: memory       # memory (default) or sqlite
//	runs: 1               # run the search this many times against one store
//	score: true           # run the scoring pass afterwards
//	weights:
//	  T: [0, 2]
//	assertions:
//	  - type: count
//	    size: 2
//	    expect: 1
//	  - type: expanded
//	    members: [A]
//	    expect: true
//	  - type: score
//	    members: [A, B]
//	    expect: 1
//
// Every scenario runs against a fresh store, with a fixed run id, so its
// snapshot is reproducible.
package harness
