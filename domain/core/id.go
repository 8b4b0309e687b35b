package core

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ID represents a domain identifier
type ID string

// NewID creates a new unique identifier using UUID v7 for time-ordered generation
func NewID() ID {
	// Use UUID v7 for time-ordered, sortable IDs
	// Falls back to v4 if v7 is not available (for compatibility)
	id, err := uuid.NewV7()
	if err != nil {
		// Fallback to v4 if v7 fails
		id = uuid.New()
	}
	return ID(id.String())
}

// String returns the string representation
func (id ID) String() string {
	return string(id)
}

// IsEmpty checks if the ID is empty
func (id ID) IsEmpty() bool {
	return id == ""
}

// Domain-specific ID types
type (
	// RunID identifies one full analysis run (load, estimate, summarize).
	RunID ID
	// CorpusID identifies a loaded observation table.
	CorpusID ID
)

// String conversions for domain IDs
func (id RunID) String() string    { return ID(id).String() }
func (id CorpusID) String() string { return ID(id).String() }

// NewRunID creates a fresh run identifier.
func NewRunID() RunID { return RunID(NewID()) }

// NewCorpusID creates a fresh corpus identifier.
func NewCorpusID() CorpusID { return CorpusID(NewID()) }

// ParseRunID parses a string into RunID
func ParseRunID(s string) (RunID, error) {
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("run ID cannot be empty")
	}
	return RunID(s), nil
}

// ParseCorpusID parses a string into CorpusID
func ParseCorpusID(s string) (CorpusID, error) {
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("corpus ID cannot be empty")
	}
	return CorpusID(s), nil
}
