package presets

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// Job is a primitive worker who performs an `action` callback with a given period.
type Job struct {
	period    time.Duration
	immediate bool
	action    func(ctx context.Context) error
}

// NewJob create new job with given `period`.
func NewJob(period time.Duration, action func(ctx context.Context) error) *Job {
	return &Job{
		period: period,
		action: action,
	}
}

// Immediately makes the job run the action once right after the start.
func (j *Job) Immediately() *Job {
	j.immediate = true
	return j
}

// Init is a method to satisfy `keeper.Worker` interface.
func (j *Job) Init() error {
	if j.period <= 0 {
		return errors.Errorf("invalid job period %s", j.period)
	}
	return nil
}

// Run executes the `action` callback with the specified `period` until a stop signal is received.
// An action error stops the job and is returned to the supervisor.
func (j *Job) Run(ctx context.Context) error {
	if j.immediate {
		if err := j.action(ctx); err != nil {
			return err
		}
	}

	ticker := time.NewTicker(j.period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := j.action(ctx); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}
