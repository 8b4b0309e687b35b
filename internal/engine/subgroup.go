package engine

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"repliscope/domain/estimate"
	"repliscope/domain/study"
	"repliscope/internal"
	"repliscope/internal/errors"
)

const defaultMaxConcurrentGroups = 4

// SubgroupAggregator partitions an observation table by one grouping
// dimension and runs the full Monte Carlo pipeline per group. Every group
// run shares the caller's base seed, so replicate index i draws the same
// stream in every group and per-index contrasts are paired.
type SubgroupAggregator struct {
	driver              *MonteCarloDriver
	logger              *internal.Logger
	maxConcurrentGroups int64
}

func NewSubgroupAggregator(driver *MonteCarloDriver, logger *internal.Logger) (*SubgroupAggregator, error) {
	if driver == nil {
		return nil, errors.InvalidInput("monte carlo driver is required")
	}
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &SubgroupAggregator{
		driver:              driver,
		logger:              logger.Prefixed("subgroup"),
		maxConcurrentGroups: defaultMaxConcurrentGroups,
	}, nil
}

// SetMaxConcurrentGroups bounds how many group runs execute at once. Total
// worker count is this bound times Options.Workers.
func (a *SubgroupAggregator) SetMaxConcurrentGroups(n int) {
	if n > 0 {
		a.maxConcurrentGroups = int64(n)
	}
}

// PartitionTable splits the table by a grouping dimension, folding labels
// through the collapse map first. Observations missing the dimension are
// excluded; a dimension no observation carries is an empty partition and
// rejected outright.
func (a *SubgroupAggregator) PartitionTable(table *study.Table, dimension string, collapse study.CollapseMap) (*study.Partition, error) {
	if table == nil || table.Len() == 0 {
		return nil, errors.InvalidInput("observation table is empty")
	}
	if dimension == "" {
		return nil, errors.ConfigInvalid("grouping dimension must be set")
	}

	rows := make(map[string][]study.Observation)
	unlabeled := 0
	for _, obs := range table.Observations() {
		label, ok := obs.Group(dimension)
		if !ok {
			unlabeled++
			continue
		}
		label = collapse.Apply(label)
		rows[label] = append(rows[label], obs)
	}
	if unlabeled > 0 {
		a.logger.Warn("dimension %q: %d of %d observations carry no label and were excluded",
			dimension, unlabeled, table.Len())
	}
	if len(rows) == 0 {
		return nil, errors.New(errors.CodeEmptyGroup,
			fmt.Sprintf("dimension %q has no labeled observations", dimension))
	}

	groups := make(map[string]*study.Table, len(rows))
	for label, observations := range rows {
		groupTable, err := study.NewTable(observations)
		if err != nil {
			return nil, errors.Wrapf(err, "building group %q", label)
		}
		groups[label] = groupTable
	}
	return study.NewPartition(dimension, groups)
}

// RunGrouped executes one Monte Carlo run per group. Empty groups abort
// before any replicate starts; a failed group run aborts the whole call.
func (a *SubgroupAggregator) RunGrouped(ctx context.Context, partition *study.Partition, opts Options) (map[string]*estimate.Distribution, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if partition == nil || partition.Size() == 0 {
		return nil, errors.New(errors.CodeEmptyGroup, "partition has no groups")
	}
	for _, label := range partition.Labels() {
		group, ok := partition.Group(label)
		if !ok || group == nil || group.StudyCount() == 0 {
			return nil, errors.EmptyGroup(partition.Dimension(), label)
		}
	}

	sem := semaphore.NewWeighted(a.maxConcurrentGroups)
	distributions := make(map[string]*estimate.Distribution, partition.Size())
	var mu sync.Mutex
	var wg sync.WaitGroup
	var firstErr error

	for _, label := range partition.Labels() {
		group, _ := partition.Group(label)
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			if firstErr == nil {
				firstErr = errors.Wrap(err, "acquiring group slot")
			}
			mu.Unlock()
			break
		}
		wg.Add(1)
		go func(label string, group *study.Table) {
			defer wg.Done()
			defer sem.Release(1)
			dist, err := a.driver.Run(ctx, group, opts)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = errors.Wrapf(err, "group %q", label)
				}
				return
			}
			distributions[label] = dist
		}(label, group)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	a.logger.Debug("grouped run complete: %d groups, %d replicates each",
		partition.Size(), opts.Repetitions)
	return distributions, nil
}
