// Package command runs the bot as an external process under the supervisor.
package command

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/sirupsen/logrus"
)

// DefaultWaitDelay is the time between the interrupt and the kill of the process.
const DefaultWaitDelay = 10 * time.Second

// Config describes the process to launch.
type Config struct {
	Path      string        `json:"path" yaml:"path"`
	Args      []string      `json:"args" yaml:"args"`
	Dir       string        `json:"dir" yaml:"dir"`
	Env       []string      `json:"env" yaml:"env"`
	WaitDelay time.Duration `json:"wait_delay" yaml:"wait_delay"`
}

// Validate - Validate config required fields
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.WaitDelay, validation.Min(time.Duration(0))),
	)
}

// Worker starts the process on Run, interrupts it when the context is closed
// and kills it if it is still alive after the WaitDelay.
// Every line the process writes to stdout or stderr goes to the logger.
type Worker struct {
	config Config
	logger *logrus.Entry
	path   string

	mu   sync.Mutex
	proc *process.Process
}

// NewWorker returns a new process Worker.
func NewWorker(config Config, logger *logrus.Entry) *Worker {
	if config.WaitDelay <= 0 {
		config.WaitDelay = DefaultWaitDelay
	}
	return &Worker{config: config, logger: logger}
}

// Init validates the config and resolves the executable.
func (w *Worker) Init() error {
	if err := w.config.Validate(); err != nil {
		return errors.Wrap(err, "invalid command config")
	}

	path, err := exec.LookPath(w.config.Path)
	if err != nil {
		return errors.Wrap(err, "executable not found")
	}
	w.path = path
	return nil
}

// Run launches the process and waits for its exit.
// An exit before `ctx` is closed is reported as a crash.
func (w *Worker) Run(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, w.path, w.config.Args...)
	cmd.Dir = w.config.Dir
	cmd.Env = append(os.Environ(), w.config.Env...)
	cmd.WaitDelay = w.config.WaitDelay
	cmd.Cancel = func() error {
		if runtime.GOOS == "windows" {
			return cmd.Process.Kill()
		}
		return cmd.Process.Signal(os.Interrupt)
	}

	stdout := newLineWriter(w.logger.WithField("stream", "stdout"), logrus.InfoLevel)
	stderr := newLineWriter(w.logger.WithField("stream", "stderr"), logrus.WarnLevel)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return errors.Wrap(err, "unable to start process")
	}

	pid := cmd.Process.Pid
	w.logger.WithField("pid", pid).Info("process started")
	if proc, err := process.NewProcess(int32(pid)); err == nil {
		w.setProc(proc)
	}
	defer w.setProc(nil)

	err := cmd.Wait()
	stdout.Flush()
	stderr.Flush()

	state := cmd.ProcessState
	w.logger.WithFields(logrus.Fields{
		"pid":       pid,
		"exit_code": state.ExitCode(),
	}).Info("process exited")

	if ctx.Err() != nil {
		if errors.Is(err, exec.ErrWaitDelay) {
			return errors.Wrap(err, "process was killed")
		}
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "process %d failed", pid)
	}
	return nil
}

// Stats reports the resource usage of the running process.
func (w *Worker) Stats() map[string]interface{} {
	w.mu.Lock()
	proc := w.proc
	w.mu.Unlock()
	if proc == nil {
		return nil
	}

	stats := map[string]interface{}{"pid": proc.Pid}
	if mem, err := proc.MemoryInfo(); err == nil {
		stats["rss_bytes"] = mem.RSS
	}
	if cpu, err := proc.CPUPercent(); err == nil {
		stats["cpu_percent"] = cpu
	}
	if threads, err := proc.NumThreads(); err == nil {
		stats["threads"] = threads
	}
	return stats
}

func (w *Worker) setProc(proc *process.Process) {
	w.mu.Lock()
	w.proc = proc
	w.mu.Unlock()
}

// lineWriter logs every complete line written into it.
type lineWriter struct {
	mu     sync.Mutex
	logger *logrus.Entry
	level  logrus.Level
	buf    bytes.Buffer
}

func newLineWriter(logger *logrus.Entry, level logrus.Level) *lineWriter {
	return &lineWriter{logger: logger, level: level}
}

func (lw *lineWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	lw.buf.Write(p)
	for {
		line, err := lw.buf.ReadString('\n')
		if err != nil {
			// incomplete line stays buffered
			lw.buf.Reset()
			lw.buf.WriteString(line)
			break
		}
		lw.log(line)
	}
	return len(p), nil
}

// Flush logs the buffered incomplete line.
func (lw *lineWriter) Flush() {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if lw.buf.Len() > 0 {
		lw.log(lw.buf.String())
		lw.buf.Reset()
	}
}

func (lw *lineWriter) log(line string) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return
	}
	lw.logger.Log(lw.level, line)
}
