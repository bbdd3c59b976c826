package keeper

import (
	"github.com/sirupsen/logrus"
)

// LogrusEventHandler returns default `EventHandler` that can be used for `WithEventHandler(...)`.
func LogrusEventHandler(entry *logrus.Entry) EventHandler {
	return func(event Event) {
		var level logrus.Level
		switch event.Level {
		case LvlFatal, LvlError:
			level = logrus.ErrorLevel
		case LvlInfo:
			level = logrus.InfoLevel
		case LvlDebug:
			level = logrus.DebugLevel
		default:
			level = logrus.WarnLevel
		}

		fields := logrus.Fields{
			"state": event.State,
			"event": event.Kind,
		}
		for k, v := range event.Fields {
			fields[k] = v
		}
		if _, ok := fields["stack"]; ok && !entry.Logger.IsLevelEnabled(logrus.DebugLevel) {
			delete(fields, "stack")
		}

		entry.WithFields(fields).Log(level, event.Message)
	}
}
