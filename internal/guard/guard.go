// Package guard provides the scoped mutual-exclusion guard used on every state-mutating entry
// point of the vault and its strategies.
//
// A Guard serialises callers from different goroutines and rejects re-entry: the context
// returned by Enter carries a marker, and any nested Enter on the same Guard with that context
// (for example a venue calling back into the strategy that is calling it) fails with
// ErrReentrantCall instead of deadlocking.
package guard

import (
	"context"
	"errors"
	"sync"
)

var ErrReentrantCall = errors.New("reentrant call rejected")

type marker struct{ g *Guard }

// Guard is a non-reentrant lock. The zero value is ready to use.
type Guard struct {
	mu sync.Mutex
}

// Enter acquires the guard. The returned release func must be called exactly once,
// typically with defer; it is safe on every exit path.
func (g *Guard) Enter(ctx context.Context) (context.Context, func(), error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if Held(ctx, g) {
		return ctx, func() {}, ErrReentrantCall
	}
	g.mu.Lock()
	var once sync.Once
	release := func() { once.Do(g.mu.Unlock) }
	return context.WithValue(ctx, marker{g}, true), release, nil
}

// Held reports whether ctx was produced by Enter on g.
func Held(ctx context.Context, g *Guard) bool {
	if ctx == nil {
		return false
	}
	held, _ := ctx.Value(marker{g}).(bool)
	return held
}
