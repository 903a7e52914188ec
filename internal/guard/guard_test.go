package guard

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnterRejectsReentry(t *testing.T) {
	var g Guard

	ctx, release, err := g.Enter(context.Background())
	require.NoError(t, err)
	defer release()

	_, innerRelease, err := g.Enter(ctx)
	assert.ErrorIs(t, err, ErrReentrantCall)
	innerRelease() // no-op, must not unlock the outer holder
	assert.True(t, Held(ctx, &g))
}

func TestDistinctGuardsDoNotConflict(t *testing.T) {
	var a, b Guard

	ctx, releaseA, err := a.Enter(context.Background())
	require.NoError(t, err)
	defer releaseA()

	_, releaseB, err := b.Enter(ctx)
	require.NoError(t, err)
	releaseB()
}

func TestEnterSerialisesGoroutines(t *testing.T) {
	var g Guard
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, release, err := g.Enter(context.Background())
			if err != nil {
				return
			}
			defer release()
			counter++
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
}

func TestReleaseIsIdempotent(t *testing.T) {
	var g Guard
	_, release, err := g.Enter(context.Background())
	require.NoError(t, err)
	release()
	release()

	_, release2, err := g.Enter(context.Background())
	require.NoError(t, err)
	release2()
}
