package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Hash represents a cryptographic hash
type Hash string

// NewHash creates a new hash from data
func NewHash(data []byte) Hash {
	sum := sha256.Sum256(data)
	return Hash(hex.EncodeToString(sum[:]))
}

// String returns the string representation
func (h Hash) String() string {
	return string(h)
}

// IsEmpty checks if the hash is empty
func (h Hash) IsEmpty() bool {
	return h == ""
}

// Equals checks if two hashes are equal
func (h Hash) Equals(other Hash) bool {
	return h == other
}

// Domain-specific hash types
type (
	// TableFingerprint identifies the exact content of an observation table,
	// independent of load order.
	TableFingerprint Hash
	// ConfigFingerprint identifies the estimation settings a run was
	// produced with, so persisted results can be matched to their config.
	ConfigFingerprint Hash
)

// Constructors
func NewTableFingerprint(data []byte) TableFingerprint   { return TableFingerprint(NewHash(data)) }
func NewConfigFingerprint(data []byte) ConfigFingerprint { return ConfigFingerprint(NewHash(data)) }

// String conversions
func (h TableFingerprint) String() string  { return Hash(h).String() }
func (h ConfigFingerprint) String() string { return Hash(h).String() }

// ComputeTableFingerprint hashes canonicalized observation rows. Rows are
// sorted before hashing so the fingerprint depends on content only.
func ComputeTableFingerprint(rows []string) TableFingerprint {
	sorted := make([]string, len(rows))
	copy(sorted, rows)
	sort.Strings(sorted)

	var data strings.Builder
	for _, row := range sorted {
		data.WriteString(row)
		data.WriteByte('\n')
	}

	return NewTableFingerprint([]byte(data.String()))
}

// ComputeConfigFingerprint hashes a settings map with stable key order.
func ComputeConfigFingerprint(settings map[string]interface{}) ConfigFingerprint {
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var data strings.Builder
	for _, key := range keys {
		data.WriteString(key)
		data.WriteString(fmt.Sprintf("%v", settings[key]))
	}

	return NewConfigFingerprint([]byte(data.String()))
}
