package testutil

// FixedRunID returns the same run id every time, so logs and golden
// output are reproducible.
type FixedRunID struct {
	id string
}

// NewFixedRunID creates a generator for id. An empty id becomes "test-run".
func NewFixedRunID(id string) *FixedRunID {
	if id == "" {
		id = "test-run"
	}
	return &FixedRunID{id: id}
}

// Generate returns the fixed id.
func (g *FixedRunID) Generate() string {
	return g.id
}
