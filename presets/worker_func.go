package presets

import (
	"context"

	"github.com/lancer-kit/keeper"
)

// WorkerFunc is a type of worker that consist from one function.
// Allow to use the function as worker.
type WorkerFunc func(ctx context.Context) error

// Init is a method to satisfy `keeper.Worker` interface.
func (WorkerFunc) Init() error { return nil }

// Run executes function as worker.
func (f WorkerFunc) Run(ctx context.Context) error { return f(ctx) }

// Factory returns a `keeper.WorkerFactory` that always yields `f`.
func (f WorkerFunc) Factory() keeper.WorkerFactory {
	return func() keeper.Worker { return f }
}
