package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/xiaot623/opsagent/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			query TEXT NOT NULL,
			route TEXT,
			protocol TEXT NOT NULL,
			status TEXT NOT NULL,
			answer TEXT,
			started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			ended_at DATETIME,
			error TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at)`,
		`CREATE TABLE IF NOT EXISTS events (
			event_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL DEFAULT 0,
			ts INTEGER NOT NULL,
			type TEXT NOT NULL,
			payload TEXT,
			FOREIGN KEY (run_id) REFERENCES runs(run_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_run ON events(run_id, ts)`,
		`CREATE TABLE IF NOT EXISTS tool_calls (
			tool_call_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			tool_name TEXT NOT NULL,
			category TEXT NOT NULL,
			status TEXT NOT NULL,
			args TEXT,
			result TEXT,
			error TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			completed_at DATETIME,
			FOREIGN KEY (run_id) REFERENCES runs(run_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tool_calls_run ON tool_calls(run_id, created_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	// Add new columns for existing DBs (SQLite has limited ALTER TABLE support).
	if err := s.ensureColumn("events", "seq", "ALTER TABLE events ADD COLUMN seq INTEGER NOT NULL DEFAULT 0"); err != nil {
		return err
	}
	if _, err := s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_events_run_seq ON events(run_id, ts, seq)`); err != nil {
		return err
	}
	return nil
}

func (s *SQLiteStore) ensureColumn(tableName, columnName, ddl string) error {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dfltValue sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return err
		}
		if name == columnName {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	_, err = s.db.Exec(ddl)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateRun creates a new run.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *domain.Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, query, route, protocol, status, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		run.RunID, run.Query, nullString(string(run.Route)), run.Protocol, run.Status, run.StartedAt)
	return err
}

const runColumns = `run_id, query, route, protocol, status, answer, started_at, ended_at, error`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*domain.Run, error) {
	var run domain.Run
	var route, answer, errMsg sql.NullString
	var endedAt sql.NullTime
	if err := row.Scan(&run.RunID, &run.Query, &route, &run.Protocol, &run.Status, &answer, &run.StartedAt, &endedAt, &errMsg); err != nil {
		return nil, err
	}
	run.Route = domain.RoutingDecision(route.String)
	run.Answer = answer.String
	run.Error = errMsg.String
	if endedAt.Valid {
		run.EndedAt = &endedAt.Time
	}
	return &run, nil
}

// GetRun retrieves a run by ID. A missing run yields nil, nil.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

// ListRuns returns the most recent runs first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]domain.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// UpdateRunStatus updates the status of a run.
func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status domain.RunStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ? WHERE run_id = ?`,
		status, runID)
	return err
}

// UpdateRunRoute records the routing decision of a run.
func (s *SQLiteStore) UpdateRunRoute(ctx context.Context, runID string, route domain.RoutingDecision) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET route = ? WHERE run_id = ?`,
		route, runID)
	return err
}

// UpdateRunCompleted updates a run to completed state.
func (s *SQLiteStore) UpdateRunCompleted(ctx context.Context, runID string, status domain.RunStatus, answer, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, answer = ?, error = ?, ended_at = ? WHERE run_id = ?`,
		status, nullString(answer), nullString(errMsg), time.Now(), runID)
	return err
}

// CreateEvent creates a new event. Events of a run keep their insertion order
// even when they share a millisecond timestamp.
func (s *SQLiteStore) CreateEvent(ctx context.Context, event *domain.Event) error {
	payload := ""
	if event.Payload != nil {
		payload = string(event.Payload)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (event_id, run_id, seq, ts, type, payload)
		 VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM events WHERE run_id = ?), ?, ?, ?)`,
		event.EventID, event.RunID, event.RunID, event.Ts, event.Type, payload)
	return err
}

// GetEvents retrieves events for a run.
func (s *SQLiteStore) GetEvents(ctx context.Context, runID string, afterTs int64, types []string, limit int) ([]domain.Event, error) {
	query := `SELECT event_id, run_id, ts, type, payload FROM events WHERE run_id = ?`
	args := []interface{}{runID}

	if afterTs > 0 {
		query += ` AND ts > ?`
		args = append(args, afterTs)
	}

	if len(types) > 0 {
		placeholders := make([]string, len(types))
		for i, t := range types {
			placeholders[i] = "?"
			args = append(args, t)
		}
		query += fmt.Sprintf(" AND type IN (%s)", strings.Join(placeholders, ","))
	}

	query += ` ORDER BY ts ASC, seq ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var event domain.Event
		var payload sql.NullString
		if err := rows.Scan(&event.EventID, &event.RunID, &event.Ts, &event.Type, &payload); err != nil {
			return nil, err
		}
		if payload.Valid && payload.String != "" {
			event.Payload = json.RawMessage(payload.String)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// CreateToolCall creates a new tool call.
func (s *SQLiteStore) CreateToolCall(ctx context.Context, toolCall *domain.ToolCall) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tool_calls (tool_call_id, run_id, tool_name, category, status, args, result, error, created_at, completed_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		toolCall.ToolCallID, toolCall.RunID, toolCall.ToolName, toolCall.Category, toolCall.Status,
		nullStringBytes(toolCall.Args), nullString(toolCall.Result), nullString(toolCall.Error), toolCall.CreatedAt, toolCall.CompletedAt)
	return err
}

const toolCallColumns = `tool_call_id, run_id, tool_name, category, status, args, result, error, created_at, completed_at`

func scanToolCall(row rowScanner) (*domain.ToolCall, error) {
	var tc domain.ToolCall
	var args, result, errMsg sql.NullString
	var completedAt sql.NullTime
	if err := row.Scan(&tc.ToolCallID, &tc.RunID, &tc.ToolName, &tc.Category, &tc.Status, &args, &result, &errMsg, &tc.CreatedAt, &completedAt); err != nil {
		return nil, err
	}
	if args.Valid {
		tc.Args = json.RawMessage(args.String)
	}
	tc.Result = result.String
	tc.Error = errMsg.String
	if completedAt.Valid {
		tc.CompletedAt = &completedAt.Time
	}
	return &tc, nil
}

// GetToolCall retrieves a tool call by ID. A missing call yields nil, nil.
func (s *SQLiteStore) GetToolCall(ctx context.Context, toolCallID string) (*domain.ToolCall, error) {
	tc, err := scanToolCall(s.db.QueryRowContext(ctx,
		`SELECT `+toolCallColumns+` FROM tool_calls WHERE tool_call_id = ?`, toolCallID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return tc, err
}

// UpdateToolCallResult completes a tool call. It reports false when the call
// was already completed.
func (s *SQLiteStore) UpdateToolCallResult(ctx context.Context, toolCallID string, status domain.ToolCallStatus, result, errMsg string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tool_calls SET status = ?, result = ?, error = ?, completed_at = ? WHERE tool_call_id = ? AND completed_at IS NULL`,
		status, nullString(result), nullString(errMsg), time.Now(), toolCallID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// ListToolCalls returns the tool calls of a run in creation order.
func (s *SQLiteStore) ListToolCalls(ctx context.Context, runID string) ([]domain.ToolCall, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+toolCallColumns+` FROM tool_calls WHERE run_id = ? ORDER BY created_at ASC, rowid ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var calls []domain.ToolCall
	for rows.Next() {
		tc, err := scanToolCall(rows)
		if err != nil {
			return nil, err
		}
		calls = append(calls, *tc)
	}
	return calls, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullStringBytes(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
