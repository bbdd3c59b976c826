package host

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Foreground hosts the Supervised in the console until SIGINT or SIGTERM.
type Foreground struct {
	logger  *logrus.Entry
	signals []os.Signal
}

// NewForeground returns a console host. Without `signals` it listens for SIGINT and SIGTERM.
func NewForeground(logger *logrus.Entry, signals ...os.Signal) *Foreground {
	if len(signals) == 0 {
		signals = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}
	return &Foreground{logger: logger, signals: signals}
}

// Run starts the Supervised and stops it on a termination signal.
func (f *Foreground) Run(sup Supervised) error {
	ctx, stop := signal.NotifyContext(context.Background(), f.signals...)
	defer stop()
	return f.RunContext(ctx, sup)
}

// RunContext starts the Supervised and stops it when `ctx` is closed.
// It returns `ErrSupervisorFailed` if the Supervised fails first.
func (f *Foreground) RunContext(ctx context.Context, sup Supervised) error {
	if err := sup.Start(); err != nil {
		return errors.Wrap(err, "unable to start")
	}

	select {
	case <-ctx.Done():
		f.logger.Info("termination requested, stopping")
		if err := sup.Stop(); err != nil {
			return errors.Wrap(err, "unable to stop")
		}
		return nil
	case <-sup.Failed():
		f.logger.WithError(sup.Err()).Error("supervisor failed")
		return errors.Wrap(ErrSupervisorFailed, errText(sup.Err()))
	}
}

func errText(err error) string {
	if err == nil {
		return "unknown reason"
	}
	return err.Error()
}
