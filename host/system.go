package host

import (
	"os"

	"github.com/kardianos/service"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Service status names returned by `System.Status`.
const (
	StatusRunning      = "running"
	StatusStopped      = "stopped"
	StatusNotInstalled = "not installed"
	StatusUnknown      = "unknown"
)

// ControlActions lists the commands accepted by `System.Control`.
var ControlActions = service.ControlAction

// ServiceConfig builds the service manager registration from the descriptor and recovery policy.
func ServiceConfig(desc Descriptor, recovery Recovery) *service.Config {
	opts := service.KeyValue{}
	if recovery.RestartOnFailure {
		// windows
		opts["OnFailure"] = "restart"
		opts["OnFailureDelayDuration"] = recovery.Delay.String()
		opts["OnFailureResetPeriod"] = int(recovery.ResetPeriod.Seconds())
		// systemd
		opts["Restart"] = "on-failure"
		// launchd
		opts["KeepAlive"] = true
	} else {
		opts["OnFailure"] = "noaction"
		opts["Restart"] = "no"
		opts["KeepAlive"] = false
	}

	return &service.Config{
		Name:        desc.Name,
		DisplayName: desc.DisplayName,
		Description: desc.Description,
		UserName:    desc.UserName,
		Arguments:   desc.Arguments,
		Option:      opts,
	}
}

// System hosts the Supervised under the OS service manager
// (Windows SCM, systemd, launchd and others supported by kardianos/service).
type System struct {
	prog *program
	svc  service.Service
}

// NewSystem registers the program with the service manager of the current platform.
func NewSystem(desc Descriptor, recovery Recovery, logger *logrus.Entry) (*System, error) {
	if err := desc.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid service descriptor")
	}
	if err := recovery.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid recovery policy")
	}

	prog := newProgram(logger)
	svc, err := service.New(prog, ServiceConfig(desc, recovery))
	if err != nil {
		return nil, errors.Wrap(err, "unable to init service")
	}
	return &System{prog: prog, svc: svc}, nil
}

// Managed reports whether the process was launched by the service manager.
func Managed() bool {
	return !service.Interactive()
}

// Run hands the control over to the service manager.
// It returns after the manager stops the service.
func (s *System) Run(sup Supervised) error {
	s.prog.sup = sup
	return s.svc.Run()
}

// Control sends one of the `ControlActions` to the service manager.
func (s *System) Control(action string) error {
	if err := service.Control(s.svc, action); err != nil {
		return errors.Wrapf(err, "unable to %s service", action)
	}
	return nil
}

// Status queries the service manager for the service status.
func (s *System) Status() (string, error) {
	status, err := s.svc.Status()
	switch {
	case errors.Is(err, service.ErrNotInstalled):
		return StatusNotInstalled, nil
	case err != nil:
		return StatusUnknown, errors.Wrap(err, "unable to get service status")
	}

	switch status {
	case service.StatusRunning:
		return StatusRunning, nil
	case service.StatusStopped:
		return StatusStopped, nil
	default:
		return StatusUnknown, nil
	}
}

// program adapts the Supervised to `service.Interface`.
type program struct {
	sup    Supervised
	logger *logrus.Entry
	exit   func(code int)
	done   chan struct{}
}

func newProgram(logger *logrus.Entry) *program {
	return &program{logger: logger, exit: os.Exit}
}

func (p *program) Start(service.Service) error {
	if p.sup == nil {
		return errors.New("nothing to run")
	}
	if err := p.sup.Start(); err != nil {
		return errors.Wrap(err, "unable to start")
	}

	p.done = make(chan struct{})
	go p.watch(p.done)
	return nil
}

// watch terminates the process when the supervisor fails
// so the service manager applies its recovery policy.
func (p *program) watch(done <-chan struct{}) {
	select {
	case <-done:
	case <-p.sup.Failed():
		p.logger.WithError(p.sup.Err()).Error("supervisor failed, exiting")
		p.exit(ExitCodeFailed)
	}
}

func (p *program) Stop(service.Service) error {
	if p.done != nil {
		close(p.done)
		p.done = nil
	}
	if p.sup == nil {
		return nil
	}
	return p.sup.Stop()
}
