// Package host runs a supervised worker inside a hosting environment:
// the interactive console or the OS service manager.
package host

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/pkg/errors"
)

// ExitCodeFailed is the process exit code after the supervisor has failed.
const ExitCodeFailed = 2

// ErrSupervisorFailed is returned by the hosts when the supervisor enters the Failed state.
var ErrSupervisorFailed = errors.New("supervisor failed")

// Supervised is the lifecycle the host drives.
type Supervised interface {
	Start() error
	Stop() error
	// Failed is closed when the supervised part can no longer recover.
	Failed() <-chan struct{}
	Err() error
}

// Host binds the Supervised to the start and stop signals of the environment.
type Host interface {
	// Run blocks until the environment requests a stop or the Supervised fails.
	Run(sup Supervised) error
}

// Descriptor is a registration metadata of the service.
type Descriptor struct {
	Name        string `json:"name" yaml:"name"`
	DisplayName string `json:"display_name" yaml:"display_name"`
	Description string `json:"description" yaml:"description"`
	// UserName is the account to run the service as, empty means the system account.
	UserName string `json:"user_name" yaml:"user_name"`
	// Arguments are passed to the executable when the service manager starts it.
	Arguments []string `json:"arguments" yaml:"arguments"`
}

// DefaultDescriptor registers the WorldBank bot under the system account.
var DefaultDescriptor = Descriptor{
	Name:        "WorldBankBot",
	DisplayName: "WorldBankBot",
	Description: "WorldBank Twitter Bot",
	Arguments:   []string{"run"},
}

// Validate - Validate descriptor required fields
func (d Descriptor) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Name, validation.Required, validation.Length(1, 256)),
		validation.Field(&d.DisplayName, validation.Length(0, 256)),
	)
}

// Recovery is the restart-on-crash policy installed into the service manager.
type Recovery struct {
	RestartOnFailure bool          `json:"restart_on_failure" yaml:"restart_on_failure"`
	Delay            time.Duration `json:"delay" yaml:"delay"`
	ResetPeriod      time.Duration `json:"reset_period" yaml:"reset_period"`
}

// DefaultRecovery restarts the service once a minute after a failure.
var DefaultRecovery = Recovery{
	RestartOnFailure: true,
	Delay:            time.Minute,
	ResetPeriod:      24 * time.Hour,
}

func (r Recovery) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Delay, validation.Min(time.Duration(0))),
		validation.Field(&r.ResetPeriod, validation.Min(time.Duration(0))),
	)
}
