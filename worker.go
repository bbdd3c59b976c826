package keeper

import (
	"context"
	"time"
)

// Worker is an interface for the long-running task
// which is launched and managed by the `Supervisor`.
type Worker interface {
	// Init prepares a fresh instance of the worker before it runs.
	Init() error
	// Run executes the worker until `ctx` is closed.
	// Run must release every resource it acquired before returning.
	// A return before `ctx` is closed is treated as a crash.
	Run(ctx context.Context) error
}

// WorkerFactory constructs a new `Worker` for every start and restart.
type WorkerFactory func() Worker

// StatsProvider is an optional interface of the `Worker`,
// its result is attached to the `StateInfo`.
type StatsProvider interface {
	Stats() map[string]interface{}
}

// handle is the runtime object of the active worker instance.
type handle struct {
	id      string
	attempt int
	worker  Worker
	started time.Time
}

// HandleInfo is a read-only view of the active worker instance.
type HandleInfo struct {
	ID        string    `json:"id"`
	Attempt   int       `json:"attempt"`
	StartedAt time.Time `json:"started_at"`
}

func (h *handle) info() HandleInfo {
	return HandleInfo{ID: h.id, Attempt: h.attempt, StartedAt: h.started}
}

// Uptime returns the time elapsed since the instance was started.
func (h HandleInfo) Uptime() time.Duration {
	return time.Since(h.StartedAt)
}
