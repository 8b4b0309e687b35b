package study

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// ============================================================================
// STABLE PRIMITIVES (Canonical, never change)
// ============================================================================

// Observation is one reported p-value together with its provenance.
// INVARIANTS:
// - StudyID always present (unit of statistical independence)
// - PValue always present and in [0.0, 1.0]
// - Groups holds categorical labels keyed by grouping dimension
type Observation struct {
	ArticleID string            `json:"article_id"`
	StudyID   string            `json:"study_id"`
	PValue    float64           `json:"p_value"`
	Groups    map[string]string `json:"groups,omitempty"`
}

// NewObservation validates and creates an observation. The groups map is
// copied so the caller cannot mutate the observation afterwards.
func NewObservation(articleID, studyID string, pValue float64, groups map[string]string) (Observation, error) {
	if err := validateObservation(studyID, pValue); err != nil {
		return Observation{}, err
	}

	var copied map[string]string
	if len(groups) > 0 {
		copied = make(map[string]string, len(groups))
		for k, v := range groups {
			copied[k] = v
		}
	}

	return Observation{
		ArticleID: articleID,
		StudyID:   studyID,
		PValue:    pValue,
		Groups:    copied,
	}, nil
}

// MustNewObservation creates an observation or panics (for tests)
func MustNewObservation(articleID, studyID string, pValue float64, groups map[string]string) Observation {
	obs, err := NewObservation(articleID, studyID, pValue, groups)
	if err != nil {
		panic(fmt.Sprintf("invalid observation: %v", err))
	}
	return obs
}

func validateObservation(studyID string, pValue float64) error {
	if strings.TrimSpace(studyID) == "" {
		return fmt.Errorf("StudyID must be set")
	}
	if math.IsNaN(pValue) || pValue < 0.0 || pValue > 1.0 {
		return fmt.Errorf("PValue must be in [0.0, 1.0], got %f", pValue)
	}
	return nil
}

// Group returns the label of a grouping dimension and whether the
// observation carries that dimension at all.
func (o Observation) Group(dimension string) (string, bool) {
	label, ok := o.Groups[dimension]
	return label, ok
}

// CanonicalRow renders the observation as a stable string for fingerprinting.
func (o Observation) CanonicalRow() string {
	keys := make([]string, 0, len(o.Groups))
	for k := range o.Groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(o.ArticleID)
	b.WriteByte('|')
	b.WriteString(o.StudyID)
	b.WriteByte('|')
	fmt.Fprintf(&b, "%.17g", o.PValue)
	for _, k := range keys {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(o.Groups[k])
	}
	return b.String()
}

// ============================================================================
// TABLES (Immutable once constructed)
// ============================================================================

// Table is an immutable collection of observations. Multiple observations
// may share a StudyID (dependent p-values from the same study); ArticleID
// is a coarser grouping that may span several studies. Study grouping is
// indexed at construction so per-replicate resolution stays cheap.
type Table struct {
	observations []Observation
	studyIDs     []string // distinct, sorted
	byStudy      map[string][]int
}

// NewTable validates and creates a table from observations. The slice is
// copied; the table never mutates afterwards and is safe to share across
// goroutines for reading.
func NewTable(observations []Observation) (*Table, error) {
	if len(observations) == 0 {
		return nil, fmt.Errorf("table must contain at least one observation")
	}

	copied := make([]Observation, len(observations))
	copy(copied, observations)

	byStudy := make(map[string][]int)
	for i, obs := range copied {
		if err := validateObservation(obs.StudyID, obs.PValue); err != nil {
			return nil, fmt.Errorf("observation %d: %w", i, err)
		}
		byStudy[obs.StudyID] = append(byStudy[obs.StudyID], i)
	}

	studyIDs := make([]string, 0, len(byStudy))
	for id := range byStudy {
		studyIDs = append(studyIDs, id)
	}
	sort.Strings(studyIDs)

	return &Table{
		observations: copied,
		studyIDs:     studyIDs,
		byStudy:      byStudy,
	}, nil
}

// MustNewTable creates a table or panics (for tests)
func MustNewTable(observations []Observation) *Table {
	t, err := NewTable(observations)
	if err != nil {
		panic(fmt.Sprintf("invalid table: %v", err))
	}
	return t
}

// Len returns the number of observations (including dependent duplicates).
func (t *Table) Len() int {
	return len(t.observations)
}

// StudyCount returns the number of distinct studies.
func (t *Table) StudyCount() int {
	return len(t.studyIDs)
}

// Observations returns the backing slice as a shared read-only view.
// Callers must not modify it.
func (t *Table) Observations() []Observation {
	return t.observations
}

// DistinctStudyIDs returns the sorted distinct study identifiers.
func (t *Table) DistinctStudyIDs() []string {
	return t.studyIDs
}

// StudyObservations returns the observations belonging to one study,
// in table order.
func (t *Table) StudyObservations(studyID string) []Observation {
	indices, ok := t.byStudy[studyID]
	if !ok {
		return nil
	}
	obs := make([]Observation, len(indices))
	for i, idx := range indices {
		obs[i] = t.observations[idx]
	}
	return obs
}

// PValues returns a copy of all p-values, including dependent ones.
// This is the input for the raw observed discovery rate.
func (t *Table) PValues() []float64 {
	values := make([]float64, len(t.observations))
	for i, obs := range t.observations {
		values[i] = obs.PValue
	}
	return values
}

// Dimensions returns the sorted set of grouping dimensions present
// on any observation.
func (t *Table) Dimensions() []string {
	seen := make(map[string]bool)
	for _, obs := range t.observations {
		for dim := range obs.Groups {
			seen[dim] = true
		}
	}
	dims := make([]string, 0, len(seen))
	for dim := range seen {
		dims = append(dims, dim)
	}
	sort.Strings(dims)
	return dims
}

// CanonicalRows renders every observation for fingerprinting.
func (t *Table) CanonicalRows() []string {
	rows := make([]string, len(t.observations))
	for i, obs := range t.observations {
		rows[i] = obs.CanonicalRow()
	}
	return rows
}

// ============================================================================
// INDEPENDENT SAMPLES (One draw per study)
// ============================================================================

// IndependentSample holds at most one observation per study, produced by
// dependency resolution. Size never exceeds the distinct study count of
// the source table.
type IndependentSample struct {
	observations []Observation
}

// NewIndependentSample validates the one-per-study invariant.
func NewIndependentSample(observations []Observation) (IndependentSample, error) {
	seen := make(map[string]bool, len(observations))
	for i, obs := range observations {
		if seen[obs.StudyID] {
			return IndependentSample{}, fmt.Errorf("duplicate study %q at position %d", obs.StudyID, i)
		}
		seen[obs.StudyID] = true
	}
	return IndependentSample{observations: observations}, nil
}

// Len returns the number of selected observations.
func (s IndependentSample) Len() int {
	return len(s.observations)
}

// Observations returns the selected observations.
func (s IndependentSample) Observations() []Observation {
	return s.observations
}

// PValues extracts the p-value column.
func (s IndependentSample) PValues() []float64 {
	values := make([]float64, len(s.observations))
	for i, obs := range s.observations {
		values[i] = obs.PValue
	}
	return values
}

// ============================================================================
// PARTITIONS (Grouped sub-tables, built once per subgroup analysis)
// ============================================================================

// CollapseMap folds fine-grained group labels into coarser ones, e.g.
// four research-design categories into two. Labels without an entry pass
// through unchanged. Collapsing is configuration, not hardcoded hierarchy.
type CollapseMap map[string]string

// Apply returns the collapsed label for a fine label.
func (m CollapseMap) Apply(label string) string {
	if m == nil {
		return label
	}
	if coarse, ok := m[label]; ok {
		return coarse
	}
	return label
}

// Partition maps group labels of one dimension to their own sub-tables.
// Immutable after construction; labels iterate in sorted order.
type Partition struct {
	dimension string
	groups    map[string]*Table
	labels    []string
}

// NewPartition validates and creates a partition. Every label must carry
// a non-empty table; emptiness is checked upstream so the caller can
// distinguish empty groups from absent dimensions.
func NewPartition(dimension string, groups map[string]*Table) (*Partition, error) {
	if strings.TrimSpace(dimension) == "" {
		return nil, fmt.Errorf("dimension must be set")
	}
	if len(groups) == 0 {
		return nil, fmt.Errorf("partition for %q has no groups", dimension)
	}

	labels := make([]string, 0, len(groups))
	for label, table := range groups {
		if table == nil || table.Len() == 0 {
			return nil, fmt.Errorf("group %q in dimension %q has no observations", label, dimension)
		}
		labels = append(labels, label)
	}
	sort.Strings(labels)

	return &Partition{
		dimension: dimension,
		groups:    groups,
		labels:    labels,
	}, nil
}

// Dimension returns the grouping dimension this partition was built from.
func (p *Partition) Dimension() string {
	return p.dimension
}

// Labels returns the group labels in sorted order.
func (p *Partition) Labels() []string {
	return p.labels
}

// Group returns the sub-table for one label.
func (p *Partition) Group(label string) (*Table, bool) {
	table, ok := p.groups[label]
	return table, ok
}

// Size returns the number of groups.
func (p *Partition) Size() int {
	return len(p.labels)
}
