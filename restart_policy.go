package keeper

import (
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/pkg/errors"
)

// RestartOption selects which kinds of unexpected exit are restartable.
type RestartOption int

func (opt RestartOption) Is(mode RestartOption) bool {
	return opt&mode == mode
}

const (
	RestartOnPanic RestartOption = 1 << iota
	RestartOnError
	RestartOnExit

	RestartAlways = RestartOnPanic | RestartOnError | RestartOnExit
)

// CrashReason classifies an unexpected exit of the worker.
type CrashReason string

const (
	ReasonPanic CrashReason = "panic"
	ReasonError CrashReason = "error"
	ReasonExit  CrashReason = "exit"
)

func (r CrashReason) option() RestartOption {
	switch r {
	case ReasonPanic:
		return RestartOnPanic
	case ReasonError:
		return RestartOnError
	case ReasonExit:
		return RestartOnExit
	}
	return 0
}

// ParseRestartOptions builds a RestartOption from reason names ("panic", "error", "exit").
// An empty list means RestartAlways.
func ParseRestartOptions(reasons []string) (RestartOption, error) {
	if len(reasons) == 0 {
		return RestartAlways, nil
	}

	var opt RestartOption
	for _, name := range reasons {
		o := CrashReason(strings.ToLower(strings.TrimSpace(name))).option()
		if o == 0 {
			return 0, errors.Errorf("unknown restart reason %q", name)
		}
		opt |= o
	}
	return opt, nil
}

// RestartPolicy is the rule governing automatic restarts after unexpected worker termination.
type RestartPolicy struct {
	// MaxImmediateRestarts is the number of automatic restarts within one outage.
	MaxImmediateRestarts int `json:"max_immediate_restarts" yaml:"max_immediate_restarts"`
	// Delay is a pause before each restart.
	Delay time.Duration `json:"delay" yaml:"delay"`
	// ResetAfter closes the outage once a worker stays up that long. Zero disables the reset.
	ResetAfter time.Duration `json:"reset_after" yaml:"reset_after"`
	// On selects the restartable exits.
	On RestartOption `json:"-" yaml:"-"`
}

var (
	// DefaultRestartPolicy restarts the worker once per supervisor lifetime.
	DefaultRestartPolicy = RestartPolicy{MaxImmediateRestarts: 1, On: RestartAlways}
	// NoRestart turns every unexpected exit into a failure.
	NoRestart = RestartPolicy{}
)

func (p RestartPolicy) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.MaxImmediateRestarts, validation.Min(0)),
		validation.Field(&p.Delay, validation.Min(time.Duration(0))),
		validation.Field(&p.ResetAfter, validation.Min(time.Duration(0))),
	)
}

// Allows reports whether a crash of the `reason` may be restarted
// after `restarts` restarts already performed within the outage.
func (p RestartPolicy) Allows(reason CrashReason, restarts int) bool {
	return p.On.Is(reason.option()) && restarts < p.MaxImmediateRestarts
}
