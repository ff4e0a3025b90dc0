// Package audit records security-relevant events to an append-only trail.
// Request-derived fields are captured synchronously at the call site; the
// write itself is handed to a bounded worker pool so storage latency never
// reaches the request path. The trail is best-effort by design: it is not a
// commit log, and a lost event never fails the operation that produced it.
package audit

import (
	"context"
	"time"
)

// Event levels.
type Level string

const (
	LevelInfo     Level = "INFO"
	LevelWarn     Level = "WARN"
	LevelError    Level = "ERROR"
	LevelCritical Level = "CRITICAL"
)

// Operation results.
type Result string

const (
	ResultSuccess Result = "SUCCESS"
	ResultFailure Result = "FAILURE"
	ResultBlocked Result = "BLOCKED"
)

// Risk levels.
type Risk string

const (
	RiskLow      Risk = "LOW"
	RiskMedium   Risk = "MEDIUM"
	RiskHigh     Risk = "HIGH"
	RiskCritical Risk = "CRITICAL"
)

// Event types used by the auth flows. Record accepts any string; these are
// the ones reporting queries group by.
const (
	EventLogin             = "LOGIN"
	EventLogout            = "LOGOUT"
	EventRegister          = "REGISTER"
	EventPasswordChange    = "PASSWORD_CHANGE"
	EventPasswordReset     = "PASSWORD_RESET"
	EventTokenRefresh      = "TOKEN_REFRESH"
	EventAPIAccess         = "API_ACCESS"
	EventPermissionDenied  = "PERMISSION_DENIED"
	EventSecurityViolation = "SECURITY_VIOLATION"
	EventDataAccess        = "DATA_ACCESS"
	EventConfigChange      = "CONFIG_CHANGE"
)

// Event is one append-only audit record. Created once, never mutated,
// deleted only by retention cleanup. Extra and Params are redacted before
// the event is constructed.
type Event struct {
	ID          string
	EventType   string
	Level       Level
	Description string

	// Actor; UserID 0 means anonymous.
	UserID   int64
	Username string

	// Request snapshot.
	ClientIP  string
	UserAgent string
	Method    string
	URI       string
	Params    map[string]string
	SessionID string

	Result    Result
	RiskLevel Risk
	TraceID   string
	Extra     map[string]any
	CreatedAt time.Time
}

// Filter narrows a reporting query. Zero fields match everything.
type Filter struct {
	EventType string
	Level     Level
	Username  string // substring match
	From      time.Time
	To        time.Time
	Page      int // 1-based; defaults to 1
	Size      int // defaults to 20
}

// Page is one page of query results, newest first.
type Page struct {
	Events []Event
	Total  int64
	Page   int
	Size   int
}

// Statistics summarizes the trail over a reporting window.
type Statistics struct {
	TotalEvents    int64
	LoginEvents    int64
	FailedLogins   int64
	Violations     int64
	HighRiskEvents int64
}

// Store is the audit persistence collaborator.
type Store interface {
	Insert(ctx context.Context, event Event) error
	Query(ctx context.Context, filter Filter) (Page, error)
	Statistics(ctx context.Context, since time.Time) (Statistics, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
