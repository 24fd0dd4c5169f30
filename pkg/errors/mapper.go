package errors

import (
	"errors"

	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

// Mapper maps errors to HTTP status codes and client messages
type Mapper struct {
	logger zerolog.Logger
}

// NewMapper creates a new error mapper
func NewMapper(logger zerolog.Logger) *Mapper {
	return &Mapper{logger: logger}
}

// MapErrorToHTTP maps an error to HTTP status code and message. Server-side
// failures are logged and their details hidden from the client.
func (m *Mapper) MapErrorToHTTP(err error) (int, string) {
	if err == nil {
		return fasthttp.StatusOK, ""
	}

	var statusErr StatusError
	if !errors.As(err, &statusErr) {
		m.logger.Error().Err(err).Msg("unknown error")
		return fasthttp.StatusInternalServerError, "internal server error"
	}

	status := statusErr.StatusCode()
	if status >= fasthttp.StatusInternalServerError && status != fasthttp.StatusServiceUnavailable {
		m.logger.Error().Err(err).Msg("internal server error")
		return status, "internal server error"
	}
	return status, statusErr.Error()
}
