package app

import (
	"io"
	"os"

	"github.com/lancer-kit/keeper"
	"github.com/lancer-kit/keeper/config"
	"github.com/lancer-kit/keeper/hooks/zerologhook"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/sirupsen/logrus"
)

// NewLogger configures the process logger.
func NewLogger(cfg config.Log, out io.Writer) (*logrus.Entry, error) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, errors.Wrap(err, "invalid log level")
	}

	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(level)
	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logrus.NewEntry(logger), nil
}

// eventHandler returns the lifecycle event sink of the configured backend.
func eventHandler(cfg config.Log, entry *logrus.Entry) keeper.EventHandler {
	if cfg.Backend != config.BackendZerolog {
		return keeper.LogrusEventHandler(entry)
	}

	out := entry.Logger.Out
	if out == nil {
		out = os.Stderr
	}
	logger := zerolog.New(out).With().Timestamp().Fields(map[string]interface{}(entry.Data)).Logger()
	return zerologhook.EventHandler(logger.Level(zerologLevel(entry.Logger.GetLevel())))
}

func zerologLevel(level logrus.Level) zerolog.Level {
	switch level {
	case logrus.PanicLevel:
		return zerolog.PanicLevel
	case logrus.FatalLevel:
		return zerolog.FatalLevel
	case logrus.ErrorLevel:
		return zerolog.ErrorLevel
	case logrus.WarnLevel:
		return zerolog.WarnLevel
	case logrus.InfoLevel:
		return zerolog.InfoLevel
	case logrus.DebugLevel:
		return zerolog.DebugLevel
	default:
		return zerolog.TraceLevel
	}
}
