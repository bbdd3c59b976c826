package main

import (
	"fmt"
	"os"

	"github.com/lancer-kit/keeper"
	"github.com/lancer-kit/keeper/clicheck"
	"github.com/lancer-kit/keeper/config"
	"github.com/lancer-kit/keeper/host"
	"github.com/lancer-kit/keeper/internal/app"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

// Build details, set with -ldflags.
var (
	Version = "dev"
	Build   = ""
	Tag     = ""
)

const (
	flagConfig     = "config"
	flagForeground = "foreground"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	a := cli.NewApp()
	a.Name = "keeper"
	a.Usage = "keeps the bot worker running as an OS service"
	a.Version = Version
	a.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   flagConfig + ", c",
			Usage:  "path to the YAML config",
			EnvVar: "KEEPER_CONFIG",
		},
	}
	a.Commands = []cli.Command{
		{
			Name:   "run",
			Usage:  "starts the supervisor, under the service manager when launched by it",
			Action: runCmd,
			Flags: []cli.Flag{
				cli.BoolFlag{
					Name:  flagForeground + ", f",
					Usage: "run in the console even under a service manager",
				},
			},
		},
		clicheck.CliCheckCommand(func(c *cli.Context) string {
			cfg, err := config.Load(c.GlobalString(flagConfig))
			if err != nil {
				return appInfo(&config.Config{Service: host.DefaultDescriptor}).SocketName()
			}
			return app.SocketPath(cfg, appInfo(cfg))
		}),
		controlCmd("install", "registers the service with the recovery policy"),
		controlCmd("uninstall", "removes the service registration"),
		controlCmd("start", "starts the installed service"),
		controlCmd("stop", "stops the installed service"),
		controlCmd("restart", "restarts the installed service"),
		{
			Name:   "status",
			Usage:  "prints the service status reported by the service manager",
			Action: statusCmd,
		},
	}
	return a
}

func appInfo(cfg *config.Config) keeper.AppInfo {
	return keeper.AppInfo{
		Name:    cfg.Service.Name,
		Version: Version,
		Build:   Build,
		Tag:     Tag,
	}
}

func setup(c *cli.Context) (*config.Config, *logrus.Entry, error) {
	cfg, err := config.Load(c.GlobalString(flagConfig))
	if err != nil {
		return nil, nil, cli.NewExitError(err.Error(), 1)
	}

	logger, err := app.NewLogger(cfg.Log, os.Stderr)
	if err != nil {
		return nil, nil, cli.NewExitError(err.Error(), 1)
	}
	return cfg, logger.WithField("app", cfg.Service.Name), nil
}

func runCmd(c *cli.Context) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}

	a, err := app.New(cfg, appInfo(cfg), logger)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	var h host.Host = host.NewForeground(logger)
	if !c.Bool(flagForeground) && host.Managed() {
		sys, err := host.NewSystem(cfg.Service, cfg.Recovery, logger)
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		h = sys
	}

	if err := h.Run(a); err != nil {
		if errors.Is(err, host.ErrSupervisorFailed) {
			return cli.NewExitError(err.Error(), host.ExitCodeFailed)
		}
		return cli.NewExitError(err.Error(), 1)
	}
	return nil
}

func controlCmd(action, usage string) cli.Command {
	return cli.Command{
		Name:  action,
		Usage: usage,
		Action: func(c *cli.Context) error {
			cfg, logger, err := setup(c)
			if err != nil {
				return err
			}
			sys, err := host.NewSystem(cfg.Service, cfg.Recovery, logger)
			if err != nil {
				return cli.NewExitError(err.Error(), 1)
			}
			if err := sys.Control(action); err != nil {
				return cli.NewExitError(err.Error(), 1)
			}
			logger.Infof("service %s: %s done", cfg.Service.Name, action)
			return nil
		},
	}
}

func statusCmd(c *cli.Context) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	sys, err := host.NewSystem(cfg.Service, cfg.Recovery, logger)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	status, err := sys.Status()
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	fmt.Fprintln(c.App.Writer, status)
	return nil
}
