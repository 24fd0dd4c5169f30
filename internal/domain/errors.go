package domain

import "errors"

var (
	// ErrAccountNotFound is returned when account is not found
	ErrAccountNotFound = errors.New("account not found")

	// ErrChannelNotFound is returned when channel is not found
	ErrChannelNotFound = errors.New("channel not found")

	// ErrUserNotFound is returned when user is not found
	ErrUserNotFound = errors.New("user not found")

	// ErrNoActiveAccounts is returned when no connected account is available
	ErrNoActiveAccounts = errors.New("no active accounts available")

	// ErrAllClientsBlocked is returned when every connected account is in flood wait
	ErrAllClientsBlocked = errors.New("all clients are in flood wait")

	// ErrNotConnected is returned when operation requires connection
	ErrNotConnected = errors.New("not connected to Telegram")

	// ErrUnauthorized is returned when account session is not authorized
	ErrUnauthorized = errors.New("account is not authorized")

	// ErrReconnectExhausted is returned when reconnect attempts for an account are used up
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

	// ErrNoBackupAvailable is returned when no backup account can take over
	ErrNoBackupAvailable = errors.New("no backup account available")

	// ErrPeerUnavailable is returned when a peer is private, deleted or otherwise unreachable
	ErrPeerUnavailable = errors.New("peer unavailable")

	// ErrResolutionFailed is returned when every resolution strategy failed
	ErrResolutionFailed = errors.New("peer resolution failed")

	// ErrBackfillRunning is returned when a backfill is already active for the channel
	ErrBackfillRunning = errors.New("backfill already running")

	// ErrBackfillNotRunning is returned when stopping a channel without an active backfill
	ErrBackfillNotRunning = errors.New("backfill not running")

	// ErrAlreadyMonitoring is returned when the live listener is already attached
	ErrAlreadyMonitoring = errors.New("channel already monitored")

	// ErrNotMonitoring is returned when detaching a channel without a listener
	ErrNotMonitoring = errors.New("channel not monitored")

	// ErrNoMemberList is returned for broadcast channels which expose no members
	ErrNoMemberList = errors.New("channel has no enumerable member list")

	// ErrQueueFull is returned when a bounded work queue rejects a task
	ErrQueueFull = errors.New("queue is full")
)
