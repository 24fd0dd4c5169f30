package scheduler

import (
	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
)

// cronLogger routes gocron's key/value logs into zerolog
type cronLogger struct {
	logger zerolog.Logger
}

func newCronLogger(logger zerolog.Logger) gocron.Logger {
	return &cronLogger{logger: logger}
}

func (l *cronLogger) Debug(msg string, args ...any) { l.logger.Debug().Fields(args).Msg(msg) }
func (l *cronLogger) Info(msg string, args ...any)  { l.logger.Info().Fields(args).Msg(msg) }
func (l *cronLogger) Warn(msg string, args ...any)  { l.logger.Warn().Fields(args).Msg(msg) }
func (l *cronLogger) Error(msg string, args ...any) { l.logger.Error().Fields(args).Msg(msg) }
