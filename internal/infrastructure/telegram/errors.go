package telegram

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"

	"github.com/Conte777/tgvault/internal/domain"
	"github.com/gotd/td/tgerr"
)

var unauthorizedErrors = []string{
	"AUTH_KEY_UNREGISTERED",
	"AUTH_KEY_INVALID",
	"AUTH_KEY_PERM_EMPTY",
	"SESSION_REVOKED",
	"SESSION_EXPIRED",
	"SESSION_PASSWORD_NEEDED",
	"USER_DEACTIVATED",
	"USER_DEACTIVATED_BAN",
}

var peerErrors = []string{
	"CHANNEL_PRIVATE",
	"CHANNEL_INVALID",
	"CHANNEL_PUBLIC_GROUP_NA",
	"CHAT_ADMIN_REQUIRED",
	"CHAT_FORBIDDEN",
	"CHAT_ID_INVALID",
	"PEER_ID_INVALID",
	"USER_ID_INVALID",
	"INPUT_USER_DEACTIVATED",
	"USER_PRIVACY_RESTRICTED",
	"USERNAME_INVALID",
	"USERNAME_NOT_OCCUPIED",
	"PHONE_NOT_OCCUPIED",
}

// messagePatterns is the last resort for errors that carry no RPC type,
// checked in order against the lower-cased message
var messagePatterns = []struct {
	pattern string
	kind    domain.ErrorKind
}{
	{"flood", domain.KindFloodWait},
	{"auth_key", domain.KindUnauthorized},
	{"unauthorized", domain.KindUnauthorized},
	{"session revoked", domain.KindUnauthorized},
	{"private", domain.KindPeerUnavailable},
	{"forbidden", domain.KindPeerUnavailable},
	{"admin required", domain.KindPeerUnavailable},
	{"invalid peer", domain.KindPeerUnavailable},
	{"not found", domain.KindPeerUnavailable},
	{"deleted", domain.KindPeerUnavailable},
	{"engine was closed", domain.KindDisconnected},
	{"connection", domain.KindDisconnected},
	{"broken pipe", domain.KindDisconnected},
	{"eof", domain.KindDisconnected},
	{"timeout", domain.KindTimeout},
	{"deadline", domain.KindTimeout},
}

// ClassifyError translates a gotd error into a *domain.UpstreamError.
// Cancellation is returned untouched so callers can tell shutdown apart from failures.
func ClassifyError(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return err
	}

	var ue *domain.UpstreamError
	if errors.As(err, &ue) {
		return err
	}

	if wait, ok := tgerr.AsFloodWait(err); ok {
		return domain.NewFloodWait(wait, err)
	}

	switch {
	case tgerr.Is(err, unauthorizedErrors...):
		return domain.NewUpstreamError(domain.KindUnauthorized, err)
	case tgerr.Is(err, peerErrors...):
		return domain.NewUpstreamError(domain.KindPeerUnavailable, err)
	case errors.Is(err, context.DeadlineExceeded):
		return domain.NewUpstreamError(domain.KindTimeout, err)
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, net.ErrClosed):
		return domain.NewUpstreamError(domain.KindDisconnected, err)
	}

	if rpcErr, ok := tgerr.As(err); ok {
		switch rpcErr.Code {
		case 401:
			return domain.NewUpstreamError(domain.KindUnauthorized, err)
		case 403:
			return domain.NewUpstreamError(domain.KindPeerUnavailable, err)
		}
		return domain.NewUpstreamError(domain.KindOther, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return domain.NewUpstreamError(domain.KindTimeout, err)
		}
		return domain.NewUpstreamError(domain.KindDisconnected, err)
	}

	msg := strings.ToLower(err.Error())
	for _, p := range messagePatterns {
		if strings.Contains(msg, p.pattern) {
			if p.kind == domain.KindFloodWait {
				// the wait is unknown without an RPC error
				return domain.NewFloodWait(0, err)
			}
			return domain.NewUpstreamError(p.kind, err)
		}
	}
	return domain.NewUpstreamError(domain.KindOther, err)
}
