package keeper

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lancer-kit/keeper/sm"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var errPlannedPanic = errors.New("planned panic")

// recorder collects emitted events.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) count(kind EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int
	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func (r *recorder) transitions() []sm.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res []sm.State
	for _, e := range r.events {
		if e.Kind == KindTransition {
			res = append(res, e.State)
		}
	}
	return res
}

// crashWorker runs until the context is closed or the test sends a crash cause.
type crashWorker struct {
	crash     <-chan error
	stopDelay time.Duration
	seen      chan<- HandleInfo
}

func (w *crashWorker) Init() error { return nil }

func (w *crashWorker) Run(ctx context.Context) error {
	if w.seen != nil {
		info, _ := HandleFromContext(ctx)
		w.seen <- info
	}

	select {
	case <-ctx.Done():
		time.Sleep(w.stopDelay)
		return nil
	case err := <-w.crash:
		if err == errPlannedPanic {
			panic(err)
		}
		return err
	}
}

type fixture struct {
	crash chan error
	built int32
	rec   *recorder
	sup   *Supervisor
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{crash: make(chan error), rec: new(recorder)}
	opts = append([]Option{WithName("bot"), WithEventHandler(f.rec.handle)}, opts...)
	f.sup = NewSupervisor(func() Worker {
		atomic.AddInt32(&f.built, 1)
		return &crashWorker{crash: f.crash}
	}, opts...)

	t.Cleanup(func() { _ = f.sup.Stop() })
	return f
}

func (f *fixture) waitState(t *testing.T, state sm.State) {
	t.Helper()
	require.Eventually(t, func() bool { return f.sup.State() == state }, waitFor, tick,
		"state is %s, want %s", f.sup.State(), state)
}

func (f *fixture) builds() int {
	return int(atomic.LoadInt32(&f.built))
}

func TestSupervisor_StartStop(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, f.sup.Start())
		assert.Equal(t, StateRunning, f.sup.State())
		h, ok := f.sup.Handle()
		require.True(t, ok)
		assert.NotEmpty(t, h.ID)
		assert.Equal(t, 0, h.Attempt)

		require.NoError(t, f.sup.Stop())
		assert.Equal(t, StateStopped, f.sup.State())
		_, ok = f.sup.Handle()
		assert.False(t, ok, "handle must be released")
	}

	assert.Equal(t, 3, f.builds())
	assert.Equal(t, 3, f.rec.count(KindStarted))
	assert.Equal(t, 3, f.rec.count(KindStopped))
	assert.NoError(t, f.sup.Err())
}

func TestSupervisor_StartWhenRunning(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.sup.Start())

	err := f.sup.Start()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAlreadyRunning))
	assert.Equal(t, 1, f.builds(), "second handle must not be created")
	assert.Equal(t, StateRunning, f.sup.State())
}

func TestSupervisor_StopWhenStopped(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.sup.Stop())
	assert.Equal(t, StateStopped, f.sup.State())
	assert.Zero(t, f.rec.count(KindStopping))
	assert.Empty(t, f.rec.transitions())
}

func TestSupervisor_RestartOnce(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.sup.Start())
	first, _ := f.sup.Handle()

	f.crash <- errors.New("connection lost")
	f.waitState(t, StateRunning)
	require.Eventually(t, func() bool { return f.sup.Restarts() == 1 }, waitFor, tick)

	second, ok := f.sup.Handle()
	require.True(t, ok)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 1, second.Attempt)
	assert.Equal(t, 2, f.builds())
	require.Eventually(t, func() bool { return f.rec.count(KindRestarted) == 1 }, waitFor, tick)
	assert.Equal(t, 1, f.rec.count(KindCrashed))
	assert.Equal(t,
		[]sm.State{StateStarting, StateRunning, StateCrashed, StateRestarting, StateRunning},
		f.rec.transitions())
}

func TestSupervisor_SecondCrashFails(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.sup.Start())

	f.crash <- errors.New("first")
	f.waitState(t, StateRunning)
	require.Eventually(t, func() bool { return f.sup.Restarts() == 1 }, waitFor, tick)

	f.crash <- errors.New("second")
	select {
	case <-f.sup.Failed():
	case <-time.After(waitFor):
		t.Fatal("supervisor did not fail")
	}

	assert.Equal(t, StateFailed, f.sup.State())
	assert.Equal(t, 2, f.builds(), "no second auto-restart")
	_, ok := f.sup.Handle()
	assert.False(t, ok)

	err := f.sup.Err()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRestartLimit))
	var ferr *FailureError
	require.True(t, errors.As(err, &ferr))
	assert.Equal(t, ReasonError, ferr.Reason)
	assert.Equal(t, 1, ferr.Restarts)
	require.Eventually(t, func() bool { return f.rec.count(KindFailed) == 1 }, waitFor, tick)

	assert.True(t, errors.Is(f.sup.Start(), ErrFailed))
	assert.NoError(t, f.sup.Stop())
	assert.Equal(t, StateFailed, f.sup.State())
}

func TestSupervisor_CrashReasons(t *testing.T) {
	tests := []struct {
		name    string
		cause   error
		on      RestartOption
		restart bool
		reason  CrashReason
	}{
		{"panic restarted", errPlannedPanic, RestartAlways, true, ReasonPanic},
		{"error restarted", errors.New("boom"), RestartAlways, true, ReasonError},
		{"exit restarted", nil, RestartAlways, true, ReasonExit},
		{"panic not restartable", errPlannedPanic, RestartOnError, false, ReasonPanic},
		{"exit not restartable", nil, RestartOnPanic | RestartOnError, false, ReasonExit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, WithRestartPolicy(RestartPolicy{MaxImmediateRestarts: 1, On: tt.on}))
			require.NoError(t, f.sup.Start())

			f.crash <- tt.cause
			if tt.restart {
				require.Eventually(t, func() bool { return f.sup.Restarts() == 1 }, waitFor, tick)
				f.waitState(t, StateRunning)
				return
			}

			f.waitState(t, StateFailed)
			var ferr *FailureError
			require.True(t, errors.As(f.sup.Err(), &ferr))
			assert.Equal(t, tt.reason, ferr.Reason)
			assert.Equal(t, 0, ferr.Restarts)
		})
	}
}

func TestSupervisor_PanicErrorCarriesStack(t *testing.T) {
	f := newFixture(t, WithRestartPolicy(NoRestart))
	require.NoError(t, f.sup.Start())

	f.crash <- errPlannedPanic
	f.waitState(t, StateFailed)

	var perr *PanicError
	require.True(t, errors.As(f.sup.Err(), &perr))
	assert.NotEmpty(t, perr.Stack)
	assert.True(t, errors.Is(f.sup.Err(), errPlannedPanic))
}

func TestSupervisor_ResetAfter(t *testing.T) {
	f := newFixture(t, WithRestartPolicy(RestartPolicy{
		MaxImmediateRestarts: 1,
		ResetAfter:           50 * time.Millisecond,
		On:                   RestartAlways,
	}))
	require.NoError(t, f.sup.Start())

	for i := 1; i <= 3; i++ {
		time.Sleep(80 * time.Millisecond)
		f.crash <- errors.New("flaky")
		want := i
		require.Eventually(t, func() bool { return f.sup.Restarts() == want }, waitFor, tick)
		f.waitState(t, StateRunning)
	}

	f.crash <- errors.New("too soon")
	f.waitState(t, StateFailed)
}

func TestSupervisor_StopTimeout(t *testing.T) {
	rec := new(recorder)
	sup := NewSupervisor(func() Worker {
		return &crashWorker{crash: make(chan error), stopDelay: 300 * time.Millisecond}
	}, WithStopTimeout(20*time.Millisecond), WithEventHandler(rec.handle))

	require.NoError(t, sup.Start())

	err := sup.Stop()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrShutdownTimeout))
	assert.Equal(t, StateFailed, sup.State())
	assert.True(t, errors.Is(sup.Err(), ErrShutdownTimeout))
	assert.Equal(t, 1, rec.count(KindFailed))
}

type initWorker struct {
	crashWorker
	err error
}

func (w *initWorker) Init() error { return w.err }

func TestSupervisor_InitFailure(t *testing.T) {
	var fail atomic.Value
	fail.Store(true)
	crash := make(chan error)

	sup := NewSupervisor(func() Worker {
		w := &initWorker{crashWorker: crashWorker{crash: crash}}
		if fail.Load().(bool) {
			w.err = errors.New("no credentials")
		}
		return w
	})

	err := sup.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no credentials")
	assert.Equal(t, StateStopped, sup.State())
	_, ok := sup.Handle()
	assert.False(t, ok)

	fail.Store(false)
	require.NoError(t, sup.Start())
	assert.Equal(t, StateRunning, sup.State())

	// the replacement cannot be initialized: the single restart is spent on it
	fail.Store(true)
	crash <- errors.New("crash")

	select {
	case <-sup.Failed():
	case <-time.After(waitFor):
		t.Fatal("supervisor did not fail")
	}
	assert.Contains(t, sup.Err().Error(), "no credentials")
}

func TestSupervisor_NilWorker(t *testing.T) {
	sup := NewSupervisor(func() Worker { return nil })
	err := sup.Start()
	assert.True(t, errors.Is(err, ErrNilWorker))
	assert.Equal(t, StateStopped, sup.State())
}

func TestSupervisor_StopDuringRestartDelay(t *testing.T) {
	f := newFixture(t, WithRestartPolicy(RestartPolicy{
		MaxImmediateRestarts: 1,
		Delay:                time.Minute,
		On:                   RestartAlways,
	}))
	require.NoError(t, f.sup.Start())

	f.crash <- errors.New("boom")
	f.waitState(t, StateRestarting)

	start := time.Now()
	require.NoError(t, f.sup.Stop())
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, StateStopped, f.sup.State())
	assert.Equal(t, 1, f.builds())
}

// gatedWorker blocks in Init until the gate is closed and counts finished runs.
type gatedWorker struct {
	crashWorker
	gate     <-chan struct{}
	inits    *int32
	releases *int32
}

func (w *gatedWorker) Init() error {
	atomic.AddInt32(w.inits, 1)
	if w.gate != nil {
		<-w.gate
	}
	return nil
}

func (w *gatedWorker) Run(ctx context.Context) error {
	defer atomic.AddInt32(w.releases, 1)
	return w.crashWorker.Run(ctx)
}

func TestSupervisor_StopDuringReplacementInit(t *testing.T) {
	var inits, releases, built int32
	crash := make(chan error)
	gate := make(chan struct{})

	sup := NewSupervisor(func() Worker {
		w := &gatedWorker{crashWorker: crashWorker{crash: crash}, inits: &inits, releases: &releases}
		if atomic.AddInt32(&built, 1) > 1 {
			w.gate = gate
		}
		return w
	})
	require.NoError(t, sup.Start())

	crash <- errors.New("boom")
	require.Eventually(t, func() bool { return atomic.LoadInt32(&inits) == 2 }, waitFor, tick)

	stopped := make(chan error, 1)
	go func() { stopped <- sup.Stop() }()
	require.Eventually(t, func() bool { return sup.State() == StateStopping }, waitFor, tick)
	close(gate)

	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("stop did not return")
	}

	assert.Equal(t, StateStopped, sup.State())
	assert.EqualValues(t, 2, atomic.LoadInt32(&inits))
	assert.EqualValues(t, 2, atomic.LoadInt32(&releases), "every initialized worker runs to release its resources")
	_, ok := sup.Handle()
	assert.False(t, ok)
}

func TestSupervisor_Run(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error)
	go func() { done <- f.sup.Run(ctx) }()

	f.waitState(t, StateRunning)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, StateStopped, f.sup.State())

	g := newFixture(t, WithRestartPolicy(NoRestart))
	go func() { done <- g.sup.Run(context.Background()) }()
	g.waitState(t, StateRunning)
	g.crash <- errors.New("fatal")
	err := <-done
	assert.True(t, errors.Is(err, ErrRestartLimit))
}

func TestSupervisor_HandleInContext(t *testing.T) {
	seen := make(chan HandleInfo, 2)
	crash := make(chan error)
	sup := NewSupervisor(func() Worker {
		return &crashWorker{crash: crash, seen: seen}
	})
	t.Cleanup(func() { _ = sup.Stop() })

	require.NoError(t, sup.Start())
	first := <-seen
	h, _ := sup.Handle()
	assert.Equal(t, h.ID, first.ID)

	crash <- errors.New("boom")
	second := <-seen
	assert.Equal(t, 1, second.Attempt)
	assert.NotEqual(t, first.ID, second.ID)
}

// TestSupervisor_Scenario replays a timeline with a 50ms unit:
// start at t=0, crash at t=5, running again by t=6, crash at t=10, failed.
func TestSupervisor_Scenario(t *testing.T) {
	const unit = 50 * time.Millisecond
	f := newFixture(t)

	require.NoError(t, f.sup.Start())

	time.Sleep(5 * unit)
	f.crash <- errors.New("crash at t=5")
	require.Eventually(t, func() bool {
		h, ok := f.sup.Handle()
		return ok && h.Attempt == 1 && f.sup.State() == StateRunning
	}, unit, time.Millisecond)

	time.Sleep(4 * unit)
	f.crash <- errors.New("crash at t=10")
	select {
	case <-f.sup.Failed():
	case <-time.After(waitFor):
		t.Fatal("supervisor did not fail")
	}
	assert.Equal(t, StateFailed, f.sup.State())
	require.Eventually(t, func() bool { return f.rec.count(KindCrashed) == 2 }, waitFor, tick)
	assert.Equal(t, 1, f.rec.count(KindRestarted))
}

type statsWorker struct{ crashWorker }

func (statsWorker) Stats() map[string]interface{} {
	return map[string]interface{}{"pid": 42}
}

func TestSupervisor_Info(t *testing.T) {
	app := AppInfo{Name: "bot", Version: "1.0.0"}
	sup := NewSupervisor(func() Worker {
		return &statsWorker{crashWorker{crash: make(chan error)}}
	}, WithName("bot-worker"))
	t.Cleanup(func() { _ = sup.Stop() })

	info := sup.Info(app)
	assert.Equal(t, StateStopped, info.State)
	assert.Nil(t, info.Handle)
	assert.False(t, info.IsRunning())

	require.NoError(t, sup.Start())
	info = sup.Info(app)
	assert.True(t, info.IsRunning())
	assert.Equal(t, "bot-worker", info.Worker)
	require.NotNil(t, info.Handle)
	assert.Equal(t, 42, info.Stats["pid"])
	assert.Equal(t, app, info.App)
}
