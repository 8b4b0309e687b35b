package engine

import (
	"math/rand"

	"repliscope/domain/study"
)

// DependencyResolver collapses statistically dependent p-values down to one
// independent draw per study. Multiple results reported by the same study
// share samples and procedures, so treating them as independent would
// overweight multi-result studies in the curve fit.
type DependencyResolver struct{}

func NewDependencyResolver() *DependencyResolver {
	return &DependencyResolver{}
}

// Resolve selects exactly one observation per distinct study, uniformly at
// random among that study's reported values. Studies are visited in sorted
// ID order so a given rng stream always yields the same sample. The source
// table is never mutated.
func (r *DependencyResolver) Resolve(table *study.Table, rng *rand.Rand) (study.IndependentSample, error) {
	selected := make([]study.Observation, 0, table.StudyCount())
	for _, studyID := range table.DistinctStudyIDs() {
		candidates := table.StudyObservations(studyID)
		selected = append(selected, candidates[rng.Intn(len(candidates))])
	}
	return study.NewIndependentSample(selected)
}
