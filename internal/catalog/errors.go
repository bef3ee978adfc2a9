package catalog

import (
	"fmt"
	"strings"
)

// Problem is a single invalid catalog definition.
type Problem struct {
	Field   string // e.g. "trait.Heavenly", "entity.Ahri"
	Message string
}

func (p Problem) String() string {
	return fmt.Sprintf("%s: %s", p.Field, p.Message)
}

// Error reports every problem found while building or loading a catalog.
// It is a configuration error: callers abort before any processing.
type Error struct {
	Source   string // file path, or "" for programmatic catalogs
	Problems []Problem
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString("invalid catalog")
	if e.Source != "" {
		sb.WriteString(" ")
		sb.WriteString(e.Source)
	}
	if len(e.Problems) == 1 {
		sb.WriteString(": ")
		sb.WriteString(e.Problems[0].String())
		return sb.String()
	}
	fmt.Fprintf(&sb, ": %d problems", len(e.Problems))
	for _, p := range e.Problems {
		sb.WriteString("\n  ")
		sb.WriteString(p.String())
	}
	return sb.String()
}

// ConfigurationError marks catalog errors as fatal startup errors.
func (e *Error) ConfigurationError() bool { return true }
