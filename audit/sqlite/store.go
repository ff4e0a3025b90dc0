// Package sqlite persists the audit trail in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/siku-platform/authcore/audit"
)

const schema = `
CREATE TABLE IF NOT EXISTS security_audit_log (
	id TEXT PRIMARY KEY,
	event_type TEXT NOT NULL,
	event_level TEXT NOT NULL,
	event_description TEXT NOT NULL DEFAULT '',
	user_id INTEGER NOT NULL DEFAULT 0,
	username TEXT NOT NULL DEFAULT '',
	client_ip TEXT NOT NULL DEFAULT '',
	user_agent TEXT NOT NULL DEFAULT '',
	request_method TEXT NOT NULL DEFAULT '',
	request_uri TEXT NOT NULL DEFAULT '',
	request_params TEXT NOT NULL DEFAULT '',
	session_id TEXT NOT NULL DEFAULT '',
	operation_result TEXT NOT NULL DEFAULT '',
	risk_level TEXT NOT NULL DEFAULT '',
	trace_id TEXT NOT NULL DEFAULT '',
	extra_data TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_created_at ON security_audit_log (created_at);
CREATE INDEX IF NOT EXISTS idx_audit_type_created ON security_audit_log (event_type, created_at);
CREATE INDEX IF NOT EXISTS idx_audit_username ON security_audit_log (username);
`

// Store provides SQLite-backed audit persistence.
type Store struct {
	sqlDB *sql.DB
}

// Open opens the audit database and bootstraps the schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Insert persists one audit event.
func (s *Store) Insert(ctx context.Context, event audit.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(event.ID) == "" {
		return fmt.Errorf("event id is required")
	}
	if strings.TrimSpace(event.EventType) == "" {
		return fmt.Errorf("event type is required")
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	params, err := encodeJSON(event.Params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	extra, err := encodeJSON(event.Extra)
	if err != nil {
		return fmt.Errorf("encode extra: %w", err)
	}

	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO security_audit_log (
	id,
	event_type,
	event_level,
	event_description,
	user_id,
	username,
	client_ip,
	user_agent,
	request_method,
	request_uri,
	request_params,
	session_id,
	operation_result,
	risk_level,
	trace_id,
	extra_data,
	created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		event.ID,
		event.EventType,
		string(event.Level),
		event.Description,
		event.UserID,
		event.Username,
		event.ClientIP,
		event.UserAgent,
		event.Method,
		event.URI,
		params,
		event.SessionID,
		string(event.Result),
		string(event.RiskLevel),
		event.TraceID,
		extra,
		event.CreatedAt.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// Query returns a page of events matching the filter, newest first.
func (s *Store) Query(ctx context.Context, filter audit.Filter) (audit.Page, error) {
	if err := ctx.Err(); err != nil {
		return audit.Page{}, err
	}
	if s == nil || s.sqlDB == nil {
		return audit.Page{}, fmt.Errorf("storage is not configured")
	}

	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.Size <= 0 {
		filter.Size = 20
	}

	where, args := buildWhere(filter)

	var total int64
	countQuery := "SELECT COUNT(*) FROM security_audit_log" + where
	if err := s.sqlDB.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return audit.Page{}, fmt.Errorf("count audit events: %w", err)
	}

	query := `
SELECT
	id,
	event_type,
	event_level,
	event_description,
	user_id,
	username,
	client_ip,
	user_agent,
	request_method,
	request_uri,
	request_params,
	session_id,
	operation_result,
	risk_level,
	trace_id,
	extra_data,
	created_at
FROM security_audit_log` + where + `
ORDER BY created_at DESC, id DESC
LIMIT ? OFFSET ?
`
	rows, err := s.sqlDB.QueryContext(ctx, query, append(args, filter.Size, (filter.Page-1)*filter.Size)...)
	if err != nil {
		return audit.Page{}, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	events := make([]audit.Event, 0, filter.Size)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return audit.Page{}, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return audit.Page{}, fmt.Errorf("iterate audit events: %w", err)
	}

	return audit.Page{Events: events, Total: total, Page: filter.Page, Size: filter.Size}, nil
}

// Statistics summarizes events recorded at or after since.
func (s *Store) Statistics(ctx context.Context, since time.Time) (audit.Statistics, error) {
	if err := ctx.Err(); err != nil {
		return audit.Statistics{}, err
	}
	if s == nil || s.sqlDB == nil {
		return audit.Statistics{}, fmt.Errorf("storage is not configured")
	}

	var stats audit.Statistics
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT
	COUNT(*),
	COALESCE(SUM(CASE WHEN event_type = ? THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN event_type = ? AND operation_result = ? THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN event_type = ? THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN risk_level IN (?, ?) THEN 1 ELSE 0 END), 0)
FROM security_audit_log
WHERE created_at >= ?
`,
		audit.EventLogin,
		audit.EventLogin, string(audit.ResultFailure),
		audit.EventSecurityViolation,
		string(audit.RiskHigh), string(audit.RiskCritical),
		since.UTC().UnixMilli(),
	).Scan(&stats.TotalEvents, &stats.LoginEvents, &stats.FailedLogins, &stats.Violations, &stats.HighRiskEvents)
	if err != nil {
		return audit.Statistics{}, fmt.Errorf("audit statistics: %w", err)
	}
	return stats, nil
}

// DeleteBefore removes events created before the cutoff and reports the count.
func (s *Store) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}

	result, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM security_audit_log WHERE created_at < ?`,
		cutoff.UTC().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("delete audit events: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count deleted events: %w", err)
	}
	return deleted, nil
}

func buildWhere(filter audit.Filter) (string, []any) {
	var clauses []string
	var args []any

	if filter.EventType != "" {
		clauses = append(clauses, "event_type = ?")
		args = append(args, filter.EventType)
	}
	if filter.Level != "" {
		clauses = append(clauses, "event_level = ?")
		args = append(args, string(filter.Level))
	}
	if filter.Username != "" {
		clauses = append(clauses, "username LIKE ?")
		args = append(args, "%"+filter.Username+"%")
	}
	if !filter.From.IsZero() {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, filter.From.UTC().UnixMilli())
	}
	if !filter.To.IsZero() {
		clauses = append(clauses, "created_at <= ?")
		args = append(args, filter.To.UTC().UnixMilli())
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func scanEvent(rows *sql.Rows) (audit.Event, error) {
	var event audit.Event
	var level, result, risk, params, extra string
	var createdAt int64

	if err := rows.Scan(
		&event.ID,
		&event.EventType,
		&level,
		&event.Description,
		&event.UserID,
		&event.Username,
		&event.ClientIP,
		&event.UserAgent,
		&event.Method,
		&event.URI,
		&params,
		&event.SessionID,
		&result,
		&risk,
		&event.TraceID,
		&extra,
		&createdAt,
	); err != nil {
		return audit.Event{}, fmt.Errorf("scan audit event: %w", err)
	}

	event.Level = audit.Level(level)
	event.Result = audit.Result(result)
	event.RiskLevel = audit.Risk(risk)
	event.CreatedAt = time.UnixMilli(createdAt).UTC()

	if params != "" {
		if err := json.Unmarshal([]byte(params), &event.Params); err != nil {
			return audit.Event{}, fmt.Errorf("decode params: %w", err)
		}
	}
	if extra != "" {
		if err := json.Unmarshal([]byte(extra), &event.Extra); err != nil {
			return audit.Event{}, fmt.Errorf("decode extra: %w", err)
		}
	}
	return event, nil
}

func encodeJSON(value any) (string, error) {
	switch v := value.(type) {
	case map[string]string:
		if len(v) == 0 {
			return "", nil
		}
	case map[string]any:
		if len(v) == 0 {
			return "", nil
		}
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

var _ audit.Store = (*Store)(nil)
