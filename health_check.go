package keeper

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"

	"github.com/lancer-kit/keeper/sm"
	"github.com/lancer-kit/keeper/socket"
)

const (
	// StatusAction is a command useful for health-checks, because it returns status of the worker.
	StatusAction = "status"
	// PingAction is a simple command that returns the "pong" message.
	PingAction = "ping"
)

// AppInfo is a details of the *Application* build.
type AppInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Build   string `json:"build"`
	Tag     string `json:"tag"`
}

// SocketName returns name of *Service Socket*.
func (app AppInfo) SocketName() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(os.TempDir(), "_keeper_"+app.Name+".socket")
	}
	return "/tmp/_keeper_" + app.Name + ".socket"
}

// StateInfo is result the `StatusAction` command.
type StateInfo struct {
	App      AppInfo                `json:"app"`
	Worker   string                 `json:"worker"`
	State    sm.State               `json:"state"`
	Restarts int                    `json:"restarts"`
	Handle   *HandleInfo            `json:"handle,omitempty"`
	Stats    map[string]interface{} `json:"stats,omitempty"`
	Error    string                 `json:"error,omitempty"`
}

// IsRunning reports whether the worker is up.
func (info StateInfo) IsRunning() bool {
	return info.State == StateRunning
}

// ParseStateInfo decodes `StateInfo` from the JSON response for the `StatusAction` command.
func ParseStateInfo(data json.RawMessage) (*StateInfo, error) {
	var res = new(StateInfo)
	err := json.Unmarshal(data, res)
	if err != nil {
		return nil, err
	}

	return res, nil
}

// Info collects the current `StateInfo` of the supervisor.
func (s *Supervisor) Info(app AppInfo) StateInfo {
	s.mu.Lock()
	info := StateInfo{
		App:      app,
		Worker:   s.name,
		State:    s.sm.State(),
		Restarts: s.totalRestarts,
	}
	if s.err != nil {
		info.Error = s.err.Error()
	}
	var worker Worker
	if s.handle != nil {
		h := s.handle.info()
		info.Handle = &h
		worker = s.handle.worker
	}
	s.mu.Unlock()

	if sp, ok := worker.(StatsProvider); ok {
		info.Stats = sp.Stats()
	}
	return info
}

// SocketActions returns the `ping` and `status` handlers for the `socket.Server`.
func (s *Supervisor) SocketActions(app AppInfo) []socket.Action {
	return []socket.Action{
		{
			Name: PingAction,
			Handler: func(socket.Request) socket.Response {
				return socket.NewResponse(socket.StatusOk, "pong", "")
			},
		},
		{
			Name: StatusAction,
			Handler: func(socket.Request) socket.Response {
				return socket.NewResponse(socket.StatusOk, s.Info(app), "")
			},
		},
	}
}
