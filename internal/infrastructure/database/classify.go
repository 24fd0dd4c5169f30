package database

import (
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

type Class string

const (
	ClassTerminal  Class = "terminal"
	ClassTransient Class = "transient"
)

// Decision is the outcome of classifying a storage error
type Decision struct {
	Class  Class
	Reason string
}

func (d Decision) IsTransient() bool {
	return d.Class == ClassTransient
}

type classifiedError struct {
	err    error
	class  Class
	reason string
}

func (e *classifiedError) Error() string {
	return e.err.Error()
}

func (e *classifiedError) Unwrap() error {
	return e.err
}

// Transient marks err as retryable regardless of its content
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{err: err, class: ClassTransient, reason: "explicit_transient"}
}

// Terminal marks err as not retryable regardless of its content
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{err: err, class: ClassTerminal, reason: "explicit_terminal"}
}

// Classify decides whether a storage error is worth a fresh session and another try
func Classify(err error) Decision {
	if err == nil {
		return Decision{Class: ClassTerminal, Reason: "nil_error"}
	}

	var marked *classifiedError
	if errors.As(err, &marked) {
		return Decision{Class: marked.class, Reason: marked.reason}
	}

	if errors.Is(err, context.Canceled) {
		return Decision{Class: ClassTerminal, Reason: "context_canceled"}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Decision{Class: ClassTransient, Reason: "context_deadline_exceeded"}
	}
	if errors.Is(err, driver.ErrBadConn) {
		return Decision{Class: ClassTransient, Reason: "bad_connection"}
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return Decision{Class: ClassTransient, Reason: "connection_eof"}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifySQLState(pgErr.Code)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return Decision{Class: ClassTransient, Reason: "net_timeout"}
		}
		return Decision{Class: ClassTransient, Reason: "net_error"}
	}

	lower := strings.ToLower(err.Error())
	if containsAny(lower, terminalMessageTokens) {
		return Decision{Class: ClassTerminal, Reason: "message_terminal"}
	}
	if containsAny(lower, transientMessageTokens) {
		return Decision{Class: ClassTransient, Reason: "message_transient"}
	}

	return Decision{Class: ClassTerminal, Reason: "unknown_terminal_default"}
}

func classifySQLState(code string) Decision {
	switch {
	case code == "40P01":
		return Decision{Class: ClassTransient, Reason: "deadlock_detected"}
	case code == "40001":
		return Decision{Class: ClassTransient, Reason: "serialization_failure"}
	case code == "25P02":
		return Decision{Class: ClassTransient, Reason: "in_failed_transaction"}
	case code == "57P01", code == "57P02", code == "57P03":
		return Decision{Class: ClassTransient, Reason: "server_shutdown"}
	case code == "53300":
		return Decision{Class: ClassTransient, Reason: "too_many_connections"}
	case code == "57014":
		return Decision{Class: ClassTransient, Reason: "query_canceled"}
	case strings.HasPrefix(code, "08"):
		return Decision{Class: ClassTransient, Reason: "connection_exception"}
	default:
		return Decision{Class: ClassTerminal, Reason: "sqlstate_" + code}
	}
}

func containsAny(msg string, tokens []string) bool {
	for _, token := range tokens {
		if strings.Contains(msg, token) {
			return true
		}
	}
	return false
}

var transientMessageTokens = []string{
	"deadlock",
	"timeout",
	"timed out",
	"connection reset",
	"connection refused",
	"broken pipe",
	"bad connection",
	"server closed the connection",
	"conn closed",
	"pending rollback",
	"current transaction is aborted",
	"database is locked",
	"could not serialize",
}

var terminalMessageTokens = []string{
	"unique constraint",
	"duplicate key",
	"violates foreign key",
	"violates not-null",
	"not null constraint",
	"value too long",
	"invalid input syntax",
}
