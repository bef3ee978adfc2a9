package harness

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Errors contains one message per failed assertion.
	Errors []string `json:"errors,omitempty"`

	// Snapshot is the deterministic summary compared against golden files.
	Snapshot Snapshot `json:"snapshot"`
}

// Snapshot summarises what a scenario produced. It holds no timings, so
// identical inputs always produce identical snapshots.
type Snapshot struct {
	Scenario    string    `json:"scenario"`
	RunID       string    `json:"run_id"`
	Fingerprint string    `json:"catalog_fingerprint"`
	MaxSize     int       `json:"max_size"`
	Runs        []RunRow  `json:"runs"`
	Sizes       []SizeRow `json:"sizes"`
	Top         []TopRow  `json:"top,omitempty"`
}

// RunRow records one search run.
type RunRow struct {
	Seeded     bool  `json:"seeded"`
	Iterations int64 `json:"iterations"`
	Expanded   int64 `json:"expanded"`
	Children   int64 `json:"children"`
	Inserted   int64 `json:"inserted"`
}

// SizeRow counts stored compositions of one size.
type SizeRow struct {
	Size    int   `json:"size"`
	Total   int64 `json:"total"`
	Pending int64 `json:"pending"`
	Scored  int64 `json:"scored"`
}

// TopRow is one of the best scored compositions of a size.
type TopRow struct {
	Size    int      `json:"size"`
	Members []string `json:"members"`
	Score   float64  `json:"score"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{Pass: true}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
