package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DefaultRetention bounds CleanupOlderThan when no retention is configured.
const DefaultRetention = 90 * 24 * time.Hour

const insertTimeout = 5 * time.Second

// RecorderConfig tunes the background pipeline.
type RecorderConfig struct {
	Workers    int           // defaults to 2
	BufferSize int           // defaults to 256
	DropIfFull bool          // drop instead of blocking the caller
	Retention  time.Duration // defaults to DefaultRetention
	Logger     *slog.Logger  // defaults to slog.Default()
}

// Recorder is the audit entry point. Record and the convenience helpers
// return immediately; persistence happens on the dispatcher pool and a
// failed write is logged and swallowed, never surfaced to the caller.
type Recorder struct {
	store      Store
	dispatcher *Dispatcher
	retention  time.Duration
	logger     *slog.Logger
	now        func() time.Time
	recorded   atomic.Uint64
}

type storeSink struct {
	store  Store
	logger *slog.Logger
}

func (s storeSink) Emit(ctx context.Context, event Event) {
	ctx, cancel := context.WithTimeout(ctx, insertTimeout)
	defer cancel()

	if err := s.store.Insert(ctx, event); err != nil {
		s.logger.Warn("audit event not persisted",
			slog.String("event_type", event.EventType),
			slog.String("trace_id", event.TraceID),
			slog.Any("error", err))
	}
}

func NewRecorder(store Store, cfg RecorderConfig) *Recorder {
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	var sink Sink = NoOpSink{}
	if store != nil {
		sink = storeSink{store: store, logger: cfg.Logger}
	}

	r := &Recorder{
		store:     store,
		retention: cfg.Retention,
		logger:    cfg.Logger,
		now:       time.Now,
	}
	r.dispatcher = NewDispatcher(DispatcherConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.BufferSize,
		DropIfFull: cfg.DropIfFull,
	}, sink)

	return r
}

// ErrNoStore is returned by the reporting calls when the recorder was built
// without a persistence backend.
var ErrNoStore = errors.New("audit store not configured")

// Record captures an event. Request metadata and the acting identity are
// snapshotted from ctx synchronously, so the caller may mutate or abandon
// the request as soon as Record returns. Extra is redacted before enqueue.
func (r *Recorder) Record(ctx context.Context, eventType string, level Level, description string, result Result, risk Risk, extra map[string]any) {
	if r == nil {
		return
	}

	event := Event{
		ID:          uuid.NewString(),
		EventType:   eventType,
		Level:       level,
		Description: description,
		Result:      result,
		RiskLevel:   risk,
		TraceID:     uuid.NewString(),
		Extra:       Redact(extra),
		CreatedAt:   r.now().UTC(),
	}

	if actor, ok := ActorFromContext(ctx); ok {
		event.UserID = actor.UserID
		event.Username = actor.Username
	}
	if meta, ok := MetaFromContext(ctx); ok {
		event.ClientIP = meta.IP
		event.UserAgent = meta.UserAgent
		event.Method = meta.Method
		event.URI = meta.URI
		event.SessionID = meta.SessionID
		event.Params = RedactParams(meta.Params)
	}

	r.recorded.Add(1)
	r.dispatcher.Emit(ctx, event)
}

// LoginEvent records an authentication attempt.
func (r *Recorder) LoginEvent(ctx context.Context, username string, success bool, reason string) {
	level, result, risk := LevelInfo, ResultSuccess, RiskLow
	description := "user login"
	if !success {
		level, result, risk = LevelWarn, ResultFailure, RiskMedium
		description = "user login failed"
	}

	extra := map[string]any{"username": username}
	if reason != "" {
		extra["reason"] = reason
	}
	r.Record(ctx, EventLogin, level, description, result, risk, extra)
}

// LogoutEvent records a session teardown.
func (r *Recorder) LogoutEvent(ctx context.Context, username string) {
	r.Record(ctx, EventLogout, LevelInfo, "user logout", ResultSuccess, RiskLow,
		map[string]any{"username": username})
}

// PasswordChangeEvent records a credential change attempt.
func (r *Recorder) PasswordChangeEvent(ctx context.Context, username string, success bool) {
	level, result := LevelInfo, ResultSuccess
	description := "password changed"
	if !success {
		level, result = LevelWarn, ResultFailure
		description = "password change failed"
	}
	r.Record(ctx, EventPasswordChange, level, description, result, RiskMedium,
		map[string]any{"username": username})
}

// APIAccessEvent records one served request.
func (r *Recorder) APIAccessEvent(ctx context.Context, method, path string, status int, took time.Duration) {
	result := ResultSuccess
	level := LevelInfo
	if status >= 400 {
		result = ResultFailure
		level = LevelWarn
	}
	r.Record(ctx, EventAPIAccess, level, fmt.Sprintf("%s %s", method, path), result, RiskLow,
		map[string]any{
			"status":      status,
			"duration_ms": took.Milliseconds(),
		})
}

// SecurityViolation records a detected abuse with the given risk level.
func (r *Recorder) SecurityViolation(ctx context.Context, violationType, description string, risk Risk) {
	r.Record(ctx, EventSecurityViolation, LevelCritical, description, ResultBlocked, risk,
		map[string]any{"violation_type": violationType})
}

// Query reads the trail. Unlike Record this is synchronous and surfaces
// storage errors; reporting callers want to know.
func (r *Recorder) Query(ctx context.Context, filter Filter) (Page, error) {
	if r.store == nil {
		return Page{}, ErrNoStore
	}
	return r.store.Query(ctx, filter)
}

// Statistics summarizes events recorded in the trailing window.
func (r *Recorder) Statistics(ctx context.Context, window time.Duration) (Statistics, error) {
	if r.store == nil {
		return Statistics{}, ErrNoStore
	}
	if window <= 0 {
		window = 24 * time.Hour
	}
	return r.store.Statistics(ctx, r.now().UTC().Add(-window))
}

// CleanupOlderThan deletes events past retention and reports how many went.
// retention <= 0 falls back to the configured default.
func (r *Recorder) CleanupOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	if r.store == nil {
		return 0, ErrNoStore
	}
	if retention <= 0 {
		retention = r.retention
	}
	return r.store.DeleteBefore(ctx, r.now().UTC().Add(-retention))
}

// Recorded reports how many events were accepted by Record.
func (r *Recorder) Recorded() uint64 {
	return r.recorded.Load()
}

// Dropped reports events discarded because the buffer was full.
func (r *Recorder) Dropped() uint64 {
	return r.dispatcher.Dropped()
}

// Close drains buffered events and stops the workers.
func (r *Recorder) Close() {
	if r == nil {
		return
	}
	r.dispatcher.Close()
}
