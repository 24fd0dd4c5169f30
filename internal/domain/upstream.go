package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies failures reported by the upstream adapter
type ErrorKind int

const (
	// KindOther is any failure without a more specific class
	KindOther ErrorKind = iota
	// KindFloodWait means the upstream demands a pause before the next request
	KindFloodWait
	// KindUnauthorized means the session was revoked or never authorized
	KindUnauthorized
	// KindPeerUnavailable covers private, forbidden, invalid, deleted and admin-only peers
	KindPeerUnavailable
	// KindDisconnected means the transport dropped
	KindDisconnected
	// KindTimeout means a request did not finish in time
	KindTimeout
)

func (k ErrorKind) String() string {
	switch k {
	case KindFloodWait:
		return "flood_wait"
	case KindUnauthorized:
		return "unauthorized"
	case KindPeerUnavailable:
		return "peer_unavailable"
	case KindDisconnected:
		return "disconnected"
	case KindTimeout:
		return "timeout"
	default:
		return "other"
	}
}

// UpstreamError is the only error shape the upstream adapter returns
type UpstreamError struct {
	Kind ErrorKind
	// Wait is set for KindFloodWait
	Wait time.Duration
	Err  error
}

func (e *UpstreamError) Error() string {
	if e.Kind == KindFloodWait {
		return fmt.Sprintf("%s (%s): %v", e.Kind, e.Wait, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match the sentinels that share a kind
func (e *UpstreamError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Kind == KindUnauthorized
	case ErrPeerUnavailable:
		return e.Kind == KindPeerUnavailable
	case ErrNotConnected:
		return e.Kind == KindDisconnected
	}
	return false
}

// NewUpstreamError wraps err with a kind
func NewUpstreamError(kind ErrorKind, err error) *UpstreamError {
	return &UpstreamError{Kind: kind, Err: err}
}

// NewFloodWait builds a flood wait error with the demanded pause
func NewFloodWait(wait time.Duration, err error) *UpstreamError {
	if err == nil {
		err = errors.New("FLOOD_WAIT")
	}
	return &UpstreamError{Kind: KindFloodWait, Wait: wait, Err: err}
}

// KindOf extracts the kind from err, KindOther when err is not an UpstreamError
func KindOf(err error) ErrorKind {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Kind
	}
	return KindOther
}

// FloodWait reports the demanded pause when err is a flood wait
func FloodWait(err error) (time.Duration, bool) {
	var ue *UpstreamError
	if errors.As(err, &ue) && ue.Kind == KindFloodWait {
		return ue.Wait, true
	}
	return 0, false
}
