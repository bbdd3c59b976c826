// Package schedule provides a worker that runs an action on a cron schedule.
package schedule

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
)

// Action is a single run of the scheduled task.
// An error returned from the Action stops the Worker.
type Action func(ctx context.Context) error

// Worker runs the Action by a standard five-field cron spec.
// Overlapping runs are skipped.
type Worker struct {
	spec   string
	action Action

	schedule cron.Schedule
	cron     *cron.Cron
	location cron.Option
	runs     int64
}

// NewWorker returns a new schedule Worker. The `spec` is parsed by Init.
func NewWorker(spec string, action Action) *Worker {
	return &Worker{spec: spec, action: action}
}

// InLocation sets the time zone used to evaluate the spec.
func (w *Worker) InLocation(opt cron.Option) *Worker {
	w.location = opt
	return w
}

// Init validates the cron spec and prepares the scheduler.
func (w *Worker) Init() error {
	if w.action == nil {
		return errors.New("schedule action is not set")
	}

	schedule, err := cron.ParseStandard(w.spec)
	if err != nil {
		return errors.Wrapf(err, "invalid cron spec %q", w.spec)
	}
	w.schedule = schedule

	opts := []cron.Option{cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))}
	if w.location != nil {
		opts = append(opts, w.location)
	}
	w.cron = cron.New(opts...)
	return nil
}

// Run starts the scheduler and blocks until `ctx` is closed or the Action fails.
func (w *Worker) Run(ctx context.Context) error {
	if w.cron == nil {
		return errors.New("schedule worker is not initialized")
	}

	var once sync.Once
	failed := make(chan error, 1)
	w.cron.Schedule(w.schedule, cron.FuncJob(func() {
		err := w.action(ctx)
		atomic.AddInt64(&w.runs, 1)
		if err != nil {
			once.Do(func() { failed <- err })
		}
	}))

	w.cron.Start()
	defer func() { <-w.cron.Stop().Done() }()

	select {
	case <-ctx.Done():
		return nil
	case err := <-failed:
		return errors.Wrap(err, "scheduled action failed")
	}
}

// NextRun returns the time of the next run after `now`.
func (w *Worker) NextRun(now time.Time) time.Time {
	if w.schedule == nil {
		return time.Time{}
	}
	return w.schedule.Next(now)
}

// Stats reports the number of completed runs and the next run time.
func (w *Worker) Stats() map[string]interface{} {
	return map[string]interface{}{
		"spec":     w.spec,
		"runs":     atomic.LoadInt64(&w.runs),
		"next_run": w.NextRun(time.Now()).Format(time.RFC3339),
	}
}
