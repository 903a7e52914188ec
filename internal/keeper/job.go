package keeper

import (
	"context"
	"time"
)

// CycleJob adapts a Keeper to the scheduler's job interface.
type CycleJob struct {
	keeper  *Keeper
	ctx     context.Context
	timeout time.Duration
}

// Job returns a schedulable cycle bound to ctx. A positive timeout bounds each run.
func (k *Keeper) Job(ctx context.Context, timeout time.Duration) *CycleJob {
	return &CycleJob{keeper: k, ctx: ctx, timeout: timeout}
}

func (j *CycleJob) Name() string {
	return "keeper_cycle"
}

func (j *CycleJob) Run() error {
	ctx := j.ctx
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}
	_, err := j.keeper.RunCycle(ctx)
	return err
}
