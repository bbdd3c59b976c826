// Package zerologhook routes the supervisor events into a zerolog logger.
package zerologhook

import (
	"github.com/lancer-kit/keeper"
	"github.com/rs/zerolog"
)

// EventHandler returns `keeper.EventHandler` that can be used for `keeper.WithEventHandler(...)`.
func EventHandler(log zerolog.Logger) keeper.EventHandler {
	return func(event keeper.Event) {
		var level zerolog.Level
		switch event.Level {
		case keeper.LvlFatal, keeper.LvlError:
			level = zerolog.ErrorLevel
		case keeper.LvlInfo:
			level = zerolog.InfoLevel
		case keeper.LvlDebug:
			level = zerolog.DebugLevel
		default:
			level = zerolog.WarnLevel
		}

		l := log.WithLevel(level).
			Str("state", string(event.State)).
			Str("event", string(event.Kind))
		for s, i := range event.Fields {
			if s == "stack" && log.GetLevel() > zerolog.DebugLevel {
				continue
			}
			l = l.Interface(s, i)
		}

		l.Msg(event.Message)
	}
}
