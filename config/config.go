// Package config loads the keeper configuration from a YAML file,
// an optional .env file and KEEPER_* environment variables.
package config

import (
	"io"
	"os"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"github.com/lancer-kit/keeper"
	"github.com/lancer-kit/keeper/host"
	"github.com/lancer-kit/keeper/presets/api"
	"github.com/lancer-kit/keeper/presets/command"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Worker kinds.
const (
	// KindCommand keeps the bot process running.
	KindCommand = "command"
	// KindSchedule launches the bot process on a cron schedule.
	KindSchedule = "schedule"
)

// Log backends.
const (
	BackendLogrus  = "logrus"
	BackendZerolog = "zerolog"
)

// Config is the root of the keeper configuration.
type Config struct {
	Service     host.Descriptor `json:"service" yaml:"service"`
	Recovery    host.Recovery   `json:"recovery" yaml:"recovery"`
	Restart     Restart         `json:"restart" yaml:"restart"`
	StopTimeout time.Duration   `json:"stop_timeout" yaml:"stop_timeout"`
	Worker      Worker          `json:"worker" yaml:"worker"`
	Log         Log             `json:"log" yaml:"log"`
	Admin       Admin           `json:"admin" yaml:"admin"`
	Socket      Socket          `json:"socket" yaml:"socket"`
	Metrics     Metrics         `json:"metrics" yaml:"metrics"`
}

// Restart is a restart policy with the restartable exits named.
type Restart struct {
	keeper.RestartPolicy `yaml:",inline"`
	On                   []string `json:"on" yaml:"on"`
}

// Policy returns the `keeper.RestartPolicy` described by the config.
func (r Restart) Policy() (keeper.RestartPolicy, error) {
	policy := r.RestartPolicy
	on, err := keeper.ParseRestartOptions(r.On)
	if err != nil {
		return policy, err
	}
	policy.On = on
	return policy, nil
}

func (r Restart) Validate() error {
	if _, err := keeper.ParseRestartOptions(r.On); err != nil {
		return err
	}
	return r.RestartPolicy.Validate()
}

// Worker describes the supervised bot.
type Worker struct {
	Name     string         `json:"name" yaml:"name"`
	Kind     string         `json:"kind" yaml:"kind"`
	Schedule string         `json:"schedule" yaml:"schedule"`
	Command  command.Config `json:"command" yaml:"command"`
}

func (w Worker) Validate() error {
	return validation.ValidateStruct(&w,
		validation.Field(&w.Name, validation.Required),
		validation.Field(&w.Kind, validation.Required, validation.In(KindCommand, KindSchedule)),
		validation.Field(&w.Schedule, validation.When(w.Kind == KindSchedule, validation.Required)),
		validation.Field(&w.Command),
	)
}

type Log struct {
	Level   string `json:"level" yaml:"level"`
	Format  string `json:"format" yaml:"format"`
	Backend string `json:"backend" yaml:"backend"`
}

func (l Log) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Level, validation.Required, validation.By(func(value interface{}) error {
			_, err := logrus.ParseLevel(value.(string))
			return err
		})),
		validation.Field(&l.Format, validation.In("text", "json")),
		validation.Field(&l.Backend, validation.In(BackendLogrus, BackendZerolog)),
	)
}

// Admin configures the HTTP admin API.
type Admin struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// AllowControl exposes the worker start and stop endpoints.
	AllowControl bool `json:"allow_control" yaml:"allow_control"`
	api.Config   `yaml:",inline"`
}

func (a Admin) Validate() error {
	if !a.Enabled {
		return nil
	}
	return a.Config.Validate()
}

// Socket configures the status socket. An empty Path means the default socket name.
type Socket struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"`
}

// Metrics configures the prometheus collector.
type Metrics struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Namespace string `json:"namespace" yaml:"namespace"`
}

// Default returns the configuration used for the missing values.
func Default() Config {
	return Config{
		Service:     host.DefaultDescriptor,
		Recovery:    host.DefaultRecovery,
		Restart:     Restart{RestartPolicy: keeper.DefaultRestartPolicy},
		StopTimeout: keeper.DefaultStopTimeout,
		Worker: Worker{
			Name: "bot",
			Kind: KindCommand,
		},
		Log: Log{
			Level:   logrus.InfoLevel.String(),
			Format:  "text",
			Backend: BackendLogrus,
		},
		Admin: Admin{
			Config: api.Config{Host: "localhost", Port: 2490},
		},
		Socket:  Socket{Enabled: true},
		Metrics: Metrics{Enabled: true, Namespace: "keeper"},
	}
}

// Validate - Validate config required fields
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Service),
		validation.Field(&c.Recovery),
		validation.Field(&c.Restart),
		validation.Field(&c.StopTimeout, validation.Required, validation.Min(time.Duration(0))),
		validation.Field(&c.Worker),
		validation.Field(&c.Log),
		validation.Field(&c.Admin),
	)
}

// Load reads the `path` YAML file over the defaults, applies the environment
// and validates the result. An empty `path` skips the file.
// The .env file in the working directory is loaded when it exists.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "unable to load .env")
	}

	cfg := Default()
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	return &cfg, nil
}

func (c *Config) readFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "unable to open config")
	}
	defer file.Close()

	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && err != io.EOF {
		return errors.Wrapf(err, "unable to parse config %s", path)
	}
	return nil
}

// Env is the set of the environment overrides.
type Env struct {
	ServiceName string        `env:"KEEPER_SERVICE_NAME"`
	StopTimeout time.Duration `env:"KEEPER_STOP_TIMEOUT"`
	WorkerPath  string        `env:"KEEPER_WORKER_PATH"`
	Schedule    string        `env:"KEEPER_WORKER_SCHEDULE"`
	LogLevel    string        `env:"KEEPER_LOG_LEVEL"`
	LogFormat   string        `env:"KEEPER_LOG_FORMAT"`
	LogBackend  string        `env:"KEEPER_LOG_BACKEND"`
	AdminHost   string        `env:"KEEPER_ADMIN_HOST"`
	AdminPort   int           `env:"KEEPER_ADMIN_PORT"`
	SocketPath  string        `env:"KEEPER_SOCKET_PATH"`
}

func (c *Config) applyEnv() error {
	var env Env
	err := envdecode.Decode(&env)
	if err == envdecode.ErrNoTargetFieldsAreSet {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "unable to decode environment")
	}

	setString(&c.Service.Name, env.ServiceName)
	setString(&c.Worker.Command.Path, env.WorkerPath)
	setString(&c.Worker.Schedule, env.Schedule)
	setString(&c.Log.Level, env.LogLevel)
	setString(&c.Log.Format, env.LogFormat)
	setString(&c.Log.Backend, env.LogBackend)
	setString(&c.Admin.Host, env.AdminHost)
	setString(&c.Socket.Path, env.SocketPath)
	if env.StopTimeout > 0 {
		c.StopTimeout = env.StopTimeout
	}
	if env.AdminPort > 0 {
		c.Admin.Port = env.AdminPort
	}
	return nil
}

func setString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}
