/*

Package riskfeed provides the latest per-strategy risk component snapshot. The scoring inputs are
produced elsewhere; the engine only ever reads the most recent snapshot.

*/

package riskfeed

import (
	"context"
	"sync"

	"github.com/nexxore/safeyield/internal/types"
)

// Feed returns the most recent component snapshot. Strategies absent from the result have no
// published components.
type Feed interface {
	Latest(ctx context.Context) (map[types.StrategyID]types.RiskComponents, error)
}

// StaticFeed is an in-memory feed, used in simulation mode and tests.
type StaticFeed struct {
	mu       sync.RWMutex
	snapshot map[types.StrategyID]types.RiskComponents
	err      error
}

func NewStaticFeed() *StaticFeed {
	return &StaticFeed{snapshot: make(map[types.StrategyID]types.RiskComponents)}
}

// Set replaces the components of one strategy.
func (f *StaticFeed) Set(id types.StrategyID, c types.RiskComponents) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshot[id] = c
}

// Delete drops a strategy from the snapshot.
func (f *StaticFeed) Delete(id types.StrategyID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.snapshot, id)
}

// Fail makes Latest return err; nil restores normal behaviour.
func (f *StaticFeed) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *StaticFeed) Latest(_ context.Context) (map[types.StrategyID]types.RiskComponents, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[types.StrategyID]types.RiskComponents, len(f.snapshot))
	for id, c := range f.snapshot {
		out[id] = c
	}
	return out, nil
}
