package keeper

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lancer-kit/keeper/sm"
	"github.com/pkg/errors"
)

// DefaultStopTimeout is a timeout for the worker to stop after the Stop call.
const DefaultStopTimeout = 30 * time.Second

// Option configures the `Supervisor`.
type Option func(*Supervisor)

// WithName sets the identifier used in events.
func WithName(name string) Option {
	return func(s *Supervisor) { s.name = name }
}

// WithRestartPolicy replaces the DefaultRestartPolicy.
func WithRestartPolicy(policy RestartPolicy) Option {
	return func(s *Supervisor) { s.policy = policy }
}

// WithStopTimeout bounds the duration of Stop.
func WithStopTimeout(timeout time.Duration) Option {
	return func(s *Supervisor) {
		if timeout > 0 {
			s.stopTimeout = timeout
		}
	}
}

// WithEventHandler sets the sink for lifecycle events.
func WithEventHandler(handler EventHandler) Option {
	return func(s *Supervisor) {
		if handler != nil {
			s.handler = handler
		}
	}
}

// WithContext sets the parent of every worker context.
func WithContext(ctx context.Context) Option {
	return func(s *Supervisor) { s.parent = ctx }
}

// Supervisor owns the lifecycle of one long-running `Worker`.
// It starts the worker, restarts it on crash according to the `RestartPolicy`
// and stops it on an external request.
type Supervisor struct {
	name        string
	factory     WorkerFactory
	policy      RestartPolicy
	stopTimeout time.Duration
	handler     EventHandler
	parent      context.Context

	// ctl serializes Start and Stop.
	ctl sync.Mutex
	// emit keeps the handler calls ordered.
	emit sync.Mutex

	mu            sync.Mutex
	sm            *sm.StateMachine
	pending       []Event
	handle        *handle
	cancel        context.CancelFunc
	done          chan struct{}
	restarts      int
	totalRestarts int
	failed        chan struct{}
	err           error
}

// NewSupervisor returns a stopped Supervisor that builds workers with the `factory`.
func NewSupervisor(factory WorkerFactory, opts ...Option) *Supervisor {
	s := &Supervisor{
		name:        "worker",
		factory:     factory,
		policy:      DefaultRestartPolicy,
		stopTimeout: DefaultStopTimeout,
		handler:     NopEventHandler,
		parent:      context.Background(),
		failed:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.sm = newSupervisorSM()
	s.sm.OnTransition(func(from, to sm.State) {
		s.push(transitionEvent(from, to))
	})
	return s
}

// Name returns the identifier used in events.
func (s *Supervisor) Name() string { return s.name }

// State returns the current lifecycle state.
func (s *Supervisor) State() sm.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sm.State()
}

// Handle returns the active worker instance, if any.
func (s *Supervisor) Handle() (HandleInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		return HandleInfo{}, false
	}
	return s.handle.info(), true
}

// Restarts returns the number of automatic restarts since the supervisor was created.
func (s *Supervisor) Restarts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalRestarts
}

// Failed is closed when the supervisor enters the terminal Failed state.
func (s *Supervisor) Failed() <-chan struct{} {
	return s.failed
}

// Err returns the reason of the failure, or nil.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Start constructs a new worker and runs it in the background.
// It returns `ErrAlreadyRunning` when a worker handle is active
// and `ErrFailed` after the supervisor has failed.
func (s *Supervisor) Start() error {
	s.ctl.Lock()
	defer s.ctl.Unlock()
	defer s.flush()

	s.mu.Lock()
	switch state := s.sm.State(); {
	case state == StateFailed:
		s.mu.Unlock()
		return ErrFailed
	case isActive(state):
		s.mu.Unlock()
		return errors.Wrapf(ErrAlreadyRunning, "state %s", state)
	}
	s.goTo(StateStarting)
	s.restarts = 0
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(s.parent)
	h, err := s.spawn(0)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		cancel()
		s.goTo(StateStopped)
		s.push(ErrorEvent("worker initialization failed", err))
		return errors.Wrap(err, "unable to start worker")
	}

	s.handle = h
	s.cancel = cancel
	s.done = make(chan struct{})
	s.goTo(StateRunning)
	s.push(s.handleEvent(newEvent(LvlInfo, KindStarted, "service started"), h))

	go s.supervise(ctx, h, s.done)
	return nil
}

// Stop stops the active worker and releases its handle.
// Calling Stop while nothing runs is a no-op.
// It fails with `ErrShutdownTimeout` if the worker does not return in time.
func (s *Supervisor) Stop() error {
	s.ctl.Lock()
	defer s.ctl.Unlock()
	defer s.flush()

	s.mu.Lock()
	if !isActive(s.sm.State()) {
		s.mu.Unlock()
		return nil
	}

	s.goTo(StateStopping)
	s.push(newEvent(LvlInfo, KindStopping, "stopping worker"))
	cancel, done := s.cancel, s.done
	cancel()
	s.mu.Unlock()
	s.flush()

	timer := time.NewTimer(s.stopTimeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		s.mu.Lock()
		defer s.mu.Unlock()
		err := errors.Wrapf(ErrShutdownTimeout, "timeout %s", s.stopTimeout)
		s.fail(err)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.release()
	s.goTo(StateStopped)
	s.push(newEvent(LvlInfo, KindStopped, "service stopped"))
	return nil
}

// Run starts the worker and blocks until `ctx` is closed or the supervisor fails.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return s.Stop()
	case <-s.failed:
		return s.Err()
	}
}

// supervise runs the worker instances one after another until a stop or a failure.
func (s *Supervisor) supervise(ctx context.Context, h *handle, done chan struct{}) {
	defer close(done)

	for {
		reason, err := s.runWorker(ctx, h)
		if reason == "" {
			if err != nil {
				s.publish(s.handleEvent(ErrorEvent("worker stopped with error", err), h))
			}
			return
		}

		started := h.started
		attempt := h.attempt
		for {
			delay, ok := s.crashed(ctx, started, reason, err)
			if !ok {
				return
			}
			if !sleep(ctx, delay) {
				return
			}

			attempt++
			next, spawnErr := s.spawn(attempt)
			if spawnErr == nil {
				h = next
				break
			}
			started, reason, err = time.Now(), ReasonError, spawnErr
		}

		if !s.restarted(ctx, h) {
			s.discard(ctx, h)
			return
		}
	}
}

// runWorker executes the worker and classifies its exit.
// An empty reason means the exit was requested through `ctx`.
func (s *Supervisor) runWorker(ctx context.Context, h *handle) (reason CrashReason, err error) {
	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		err = newPanicError(rec)
		reason = ReasonPanic
		if ctx.Err() != nil {
			reason = ""
		}
	}()

	err = h.worker.Run(withHandle(ctx, h.info()))
	switch {
	case ctx.Err() != nil:
		return "", err
	case err != nil:
		return ReasonError, err
	default:
		return ReasonExit, ErrWorkerExited
	}
}

// crashed records an unexpected exit and applies the restart policy.
// It returns false when the supervisor must not restart the worker.
func (s *Supervisor) crashed(ctx context.Context, started time.Time, reason CrashReason, cause error) (time.Duration, bool) {
	s.mu.Lock()
	defer s.flush()
	defer s.mu.Unlock()

	if ctx.Err() != nil {
		return 0, false
	}

	uptime := time.Since(started)
	if s.policy.ResetAfter > 0 && uptime >= s.policy.ResetAfter {
		s.restarts = 0
	}

	s.goTo(StateCrashed)
	crash := newEvent(LvlError, KindCrashed, "worker crashed").
		SetField("reason", string(reason)).
		SetField("error", cause.Error()).
		SetField("uptime", uptime.String())
	if perr, ok := cause.(*PanicError); ok {
		crash = crash.SetField("stack", string(perr.Stack))
	}
	s.push(crash)

	if !s.policy.Allows(reason, s.restarts) {
		s.fail(&FailureError{Reason: reason, Restarts: s.restarts, Cause: cause})
		return 0, false
	}

	s.restarts++
	s.totalRestarts++
	s.goTo(StateRestarting)
	s.push(newEvent(LvlWarn, KindRestarting, "restarting worker").
		SetField("restart", s.restarts).
		SetField("delay", s.policy.Delay.String()))
	return s.policy.Delay, true
}

func (s *Supervisor) restarted(ctx context.Context, h *handle) bool {
	s.mu.Lock()
	defer s.flush()
	defer s.mu.Unlock()

	if ctx.Err() != nil {
		return false
	}

	s.handle = h
	s.goTo(StateRunning)
	s.push(s.handleEvent(newEvent(LvlInfo, KindRestarted, "worker restarted"), h))
	return true
}

// discard runs an initialized worker that lost the race with Stop.
// `ctx` is already closed, so Run only releases what Init acquired.
func (s *Supervisor) discard(ctx context.Context, h *handle) {
	if _, err := s.runWorker(ctx, h); err != nil {
		s.publish(s.handleEvent(ErrorEvent("worker stopped with error", err), h))
	}
}

// spawn constructs and initializes a new worker instance.
func (s *Supervisor) spawn(attempt int) (h *handle, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = newPanicError(rec)
		}
	}()

	worker := s.factory()
	if worker == nil {
		return nil, ErrNilWorker
	}
	if err = worker.Init(); err != nil {
		return nil, err
	}

	return &handle{
		id:      uuid.NewString(),
		attempt: attempt,
		worker:  worker,
		started: time.Now(),
	}, nil
}

// fail moves the supervisor into the terminal state. s.mu must be held.
func (s *Supervisor) fail(err error) {
	s.err = err
	s.release()
	s.goTo(StateFailed)
	close(s.failed)
	failure := ErrorEvent("supervisor failed", err)
	failure.Level = LvlFatal
	failure.Kind = KindFailed
	s.push(failure)
}

// release drops the worker handle. s.mu must be held.
func (s *Supervisor) release() {
	if s.cancel != nil {
		s.cancel()
	}
	s.handle = nil
	s.cancel = nil
	s.done = nil
}

// goTo changes the state. s.mu must be held.
func (s *Supervisor) goTo(state sm.State) {
	if err := s.sm.GoTo(state); err != nil {
		s.push(ErrorEvent("unexpected state transition", err))
	}
}

func (s *Supervisor) handleEvent(e Event, h *handle) Event {
	return e.SetField("handle", h.id).SetField("attempt", h.attempt)
}

// push queues the event stamped with the current state. s.mu must be held.
func (s *Supervisor) push(e Event) {
	if e.State == "" {
		e.State = s.sm.State()
	}
	s.pending = append(s.pending, e)
}

func (s *Supervisor) publish(e Event) {
	s.mu.Lock()
	s.push(e)
	s.mu.Unlock()
	s.flush()
}

// flush delivers pending events to the handler outside of s.mu.
func (s *Supervisor) flush() {
	s.emit.Lock()
	defer s.emit.Unlock()

	s.mu.Lock()
	events := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, e := range events {
		s.handler(e.SetField("supervisor", s.name))
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
