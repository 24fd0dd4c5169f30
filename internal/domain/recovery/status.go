package recovery

import "time"

// Health is the connection state of one account
type Health string

const (
	HealthUnknown      Health = "unknown"
	HealthHealthy      Health = "healthy"
	HealthDisconnected Health = "disconnected"
	HealthUnauthorized Health = "unauthorized"
	HealthRateLimited  Health = "rate_limited"
	HealthError        Health = "error"
)

// SessionStatus is the in-memory health record of an account
type SessionStatus struct {
	AccountID         int64      `json:"account_id"`
	Health            Health     `json:"health"`
	LastCheck         time.Time  `json:"last_check"`
	LastError         string     `json:"last_error,omitempty"`
	ReconnectAttempts int        `json:"reconnect_attempts"`
	LastSuccess       *time.Time `json:"last_success,omitempty"`
	FloodWaitUntil    *time.Time `json:"flood_wait_until,omitempty"`
}

// InitReport summarizes a bulk account connection
type InitReport struct {
	Total      int             `json:"total"`
	Successful int             `json:"successful"`
	Failed     int             `json:"failed"`
	Errors     map[int64]error `json:"-"`
}
