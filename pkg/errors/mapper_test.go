package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/valyala/fasthttp"
)

func TestMapper_MapErrorToHTTP(t *testing.T) {
	mapper := NewMapper(zerolog.Nop())

	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"nil", nil, fasthttp.StatusOK, ""},
		{"validation", NewValidationErrorf("bad id %q", "x"), fasthttp.StatusBadRequest, `bad id "x"`},
		{"not found", NewNotFoundError("channel 1 not found"), fasthttp.StatusNotFound, "channel 1 not found"},
		{"wrapped conflict", fmt.Errorf("start: %w", NewConflictError("backfill already running")), fasthttp.StatusConflict, "backfill already running"},
		{"unavailable", NewServiceUnavailableError("queue is full"), fasthttp.StatusServiceUnavailable, "queue is full"},
		{"internal hides details", NewInternalError("pq: connection refused"), fasthttp.StatusInternalServerError, "internal server error"},
		{"plain error", errors.New("boom"), fasthttp.StatusInternalServerError, "internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, message := mapper.MapErrorToHTTP(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.message, message)
		})
	}
}
