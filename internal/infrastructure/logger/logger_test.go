package logger

import (
	"bytes"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"go.uber.org/fx/fxevent"
)

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, parseLogLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, parseLogLevel("warning"))
	assert.Equal(t, zerolog.ErrorLevel, parseLogLevel(" error "))
	assert.Equal(t, zerolog.InfoLevel, parseLogLevel("bogus"))
}

func TestNewWithWriter(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	var buf bytes.Buffer
	log := NewWithWriter("warn", &buf)
	log.Info().Msg("hidden")
	log.Warn().Str("component", "test").Msg("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
	assert.Contains(t, buf.String(), "component")
}

func TestFxLogger(t *testing.T) {
	var buf bytes.Buffer
	l := &fxLogger{logger: zerolog.New(&buf)}

	l.LogEvent(&fxevent.Invoked{FunctionName: "registerRoutes", Err: errors.New("missing type")})
	l.LogEvent(&fxevent.Provided{})

	assert.Contains(t, buf.String(), "Invoke failed")
	assert.Contains(t, buf.String(), "missing type")
}
