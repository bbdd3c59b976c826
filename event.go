package keeper

import (
	"github.com/lancer-kit/keeper/sm"
	"github.com/pkg/errors"
)

type EventLevel string

const (
	LvlFatal EventLevel = "fatal"
	LvlError EventLevel = "error"
	LvlWarn  EventLevel = "warn"
	LvlInfo  EventLevel = "info"
	LvlDebug EventLevel = "debug"
)

// EventKind names the lifecycle step an Event reports.
type EventKind string

const (
	KindTransition EventKind = "transition"
	KindStarted    EventKind = "started"
	KindStopping   EventKind = "stopping"
	KindStopped    EventKind = "stopped"
	KindCrashed    EventKind = "crashed"
	KindRestarting EventKind = "restarting"
	KindRestarted  EventKind = "restarted"
	KindFailed     EventKind = "failed"
	KindError      EventKind = "error"
)

// Event is a message object that is used to signalize
// about Supervisor's lifecycle and processed by the `EventHandler`.
type Event struct {
	Level   EventLevel
	Kind    EventKind
	State   sm.State
	Fields  map[string]interface{}
	Message string
}

// EventHandler receives every Event emitted by the `Supervisor`.
// It may be called from several goroutines, but never concurrently,
// and must not call Start or Stop of the emitting Supervisor.
type EventHandler func(Event)

// NopEventHandler drops all events.
func NopEventHandler(Event) {}

// MultiEventHandler fans an Event out to every non-nil handler in order.
func MultiEventHandler(handlers ...EventHandler) EventHandler {
	return func(event Event) {
		for _, h := range handlers {
			if h != nil {
				h(event)
			}
		}
	}
}

func (e Event) IsFatal() bool {
	return e.Level == LvlFatal
}

func (e Event) IsError() bool {
	return e.Level == LvlError
}

// ToError validates event level and cast to builtin `error`.
func (e Event) ToError() error {
	if !e.IsError() && !e.IsFatal() {
		return nil
	}
	if err, ok := e.Fields["error"].(string); ok && err != "" {
		return errors.Errorf("%s: %s", e.Message, err)
	}
	return errors.New(e.Message)
}

// SetField adds to the event some Key/Value.
func (e Event) SetField(key string, value interface{}) Event {
	if e.Fields == nil {
		e.Fields = map[string]interface{}{}
	}
	e.Fields[key] = value
	return e
}

func newEvent(level EventLevel, kind EventKind, msg string) Event {
	return Event{Level: level, Kind: kind, Message: msg, Fields: map[string]interface{}{}}
}

// ErrorEvent returns new Event with `LvlError` and the error attached.
func ErrorEvent(msg string, err error) Event {
	e := newEvent(LvlError, KindError, msg)
	if err != nil {
		e.Fields["error"] = err.Error()
	}
	return e
}

func transitionEvent(from, to sm.State) Event {
	e := newEvent(LvlDebug, KindTransition, "state changed")
	e.State = to
	e.Fields["from"] = string(from)
	e.Fields["to"] = string(to)
	return e
}
