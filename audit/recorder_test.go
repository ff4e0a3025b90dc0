package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu        sync.Mutex
	events    []Event
	insertErr error
}

func (m *memoryStore) Insert(_ context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	m.events = append(m.events, event)
	return nil
}

func (m *memoryStore) Query(_ context.Context, _ Filter) (Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Page{Events: append([]Event(nil), m.events...), Total: int64(len(m.events))}, nil
}

func (m *memoryStore) Statistics(_ context.Context, since time.Time) (Statistics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stats Statistics
	for _, event := range m.events {
		if event.CreatedAt.Before(since) {
			continue
		}
		stats.TotalEvents++
	}
	return stats, nil
}

func (m *memoryStore) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.events[:0]
	var deleted int64
	for _, event := range m.events {
		if event.CreatedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, event)
	}
	m.events = kept
	return deleted, nil
}

func (m *memoryStore) all() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

func TestRecordSnapshotsContext(t *testing.T) {
	store := &memoryStore{}
	recorder := NewRecorder(store, RecorderConfig{})

	ctx := WithActor(context.Background(), Actor{UserID: 42, Username: "alice"})
	ctx = WithMeta(ctx, RequestMeta{
		IP:        "203.0.113.9",
		UserAgent: "curl/8.0",
		Method:    "POST",
		URI:       "/api/login",
		SessionID: "sess-1",
		Params:    map[string]string{"username": "alice", "password": "hunter2"},
	})

	recorder.Record(ctx, EventLogin, LevelInfo, "user login", ResultSuccess, RiskLow, nil)
	recorder.Close()

	events := store.all()
	require.Len(t, events, 1)
	event := events[0]

	assert.NotEmpty(t, event.ID)
	assert.NotEmpty(t, event.TraceID)
	assert.Equal(t, int64(42), event.UserID)
	assert.Equal(t, "alice", event.Username)
	assert.Equal(t, "203.0.113.9", event.ClientIP)
	assert.Equal(t, "POST", event.Method)
	assert.Equal(t, "/api/login", event.URI)
	assert.Equal(t, "sess-1", event.SessionID)
	assert.Equal(t, "alice", event.Params["username"])
	assert.Equal(t, Mask, event.Params["password"], "sensitive params must be masked")
	assert.False(t, event.CreatedAt.IsZero())
}

func TestRecordRedactsExtra(t *testing.T) {
	store := &memoryStore{}
	recorder := NewRecorder(store, RecorderConfig{})

	recorder.Record(context.Background(), EventConfigChange, LevelInfo, "rotation", ResultSuccess, RiskLow,
		map[string]any{
			"jwt_secret":    "supersensitive",
			"refresh_token": "abc",
			"operator":      "bob",
		})
	recorder.Close()

	events := store.all()
	require.Len(t, events, 1)
	assert.Equal(t, Mask, events[0].Extra["jwt_secret"])
	assert.Equal(t, Mask, events[0].Extra["refresh_token"])
	assert.Equal(t, "bob", events[0].Extra["operator"])
}

func TestRecordSwallowsStoreFailure(t *testing.T) {
	store := &memoryStore{insertErr: errors.New("disk full")}
	recorder := NewRecorder(store, RecorderConfig{})

	// Must not panic or surface the error.
	recorder.LoginEvent(context.Background(), "alice", true, "")
	recorder.Close()

	assert.Empty(t, store.all())
}

func TestCloseDrainsBuffer(t *testing.T) {
	store := &memoryStore{}
	recorder := NewRecorder(store, RecorderConfig{Workers: 1, BufferSize: 64})

	for i := 0; i < 20; i++ {
		recorder.APIAccessEvent(context.Background(), "GET", "/api/me", 200, 3*time.Millisecond)
	}
	recorder.Close()

	assert.Len(t, store.all(), 20, "Close must drain everything already buffered")
	assert.Zero(t, recorder.Dropped())
}

func TestConvenienceEvents(t *testing.T) {
	store := &memoryStore{}
	recorder := NewRecorder(store, RecorderConfig{})
	ctx := context.Background()

	recorder.LoginEvent(ctx, "alice", false, "bad password")
	recorder.LogoutEvent(ctx, "alice")
	recorder.PasswordChangeEvent(ctx, "alice", true)
	recorder.SecurityViolation(ctx, "RATE_LIMIT", "too many code requests", RiskHigh)
	recorder.Close()

	events := store.all()
	require.Len(t, events, 4)

	byType := map[string]Event{}
	for _, event := range events {
		byType[event.EventType] = event
	}

	login := byType[EventLogin]
	assert.Equal(t, ResultFailure, login.Result)
	assert.Equal(t, LevelWarn, login.Level)
	assert.Equal(t, "bad password", login.Extra["reason"])

	violation := byType[EventSecurityViolation]
	assert.Equal(t, ResultBlocked, violation.Result)
	assert.Equal(t, RiskHigh, violation.RiskLevel)
	assert.Equal(t, "RATE_LIMIT", violation.Extra["violation_type"])
}

func TestCleanupUsesConfiguredRetention(t *testing.T) {
	store := &memoryStore{}
	recorder := NewRecorder(store, RecorderConfig{Retention: time.Hour})
	recorder.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }

	old := Event{ID: "old", CreatedAt: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)}
	fresh := Event{ID: "fresh", CreatedAt: time.Date(2025, 6, 1, 11, 30, 0, 0, time.UTC)}
	require.NoError(t, store.Insert(context.Background(), old))
	require.NoError(t, store.Insert(context.Background(), fresh))

	deleted, err := recorder.CleanupOlderThan(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	deleted, err = recorder.CleanupOlderThan(context.Background(), 0)
	require.NoError(t, err)
	assert.Zero(t, deleted, "second pass over the same window deletes nothing")

	recorder.Close()
}

func TestDroppedCounter(t *testing.T) {
	block := make(chan struct{})
	store := &blockingStore{release: block}
	recorder := NewRecorder(store, RecorderConfig{Workers: 1, BufferSize: 1, DropIfFull: true})

	// First event occupies the worker, second fills the buffer, the rest drop.
	for i := 0; i < 6; i++ {
		recorder.Record(context.Background(), EventAPIAccess, LevelInfo, "r", ResultSuccess, RiskLow, nil)
	}
	close(block)
	recorder.Close()

	assert.Positive(t, recorder.Dropped())
}

type blockingStore struct {
	memoryStore
	release chan struct{}
	once    sync.Once
}

func (b *blockingStore) Insert(ctx context.Context, event Event) error {
	b.once.Do(func() { <-b.release })
	return b.memoryStore.Insert(ctx, event)
}
