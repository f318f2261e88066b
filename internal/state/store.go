package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/flitsinc/go-automations/internal/idgen"
)

// Store is the durable record of runs and activity entries. It holds no
// business rules: single-running-run-per-app is the orchestrator's
// invariant, not the store's.
type Store struct {
	db *sql.DB

	nowFn   func() time.Time
	newIDFn func() string
}

type Option func(*Store)

func WithClock(nowFn func() time.Time) Option {
	return func(s *Store) {
		if nowFn != nil {
			s.nowFn = nowFn
		}
	}
}

func WithIDGenerator(newIDFn func() string) Option {
	return func(s *Store) {
		if newIDFn != nil {
			s.newIDFn = newIDFn
		}
	}
}

func NewStore(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:      db,
		nowFn:   func() time.Time { return time.Now().UTC() },
		newIDFn: idgen.New,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

type RunInput struct {
	AppID       string
	SessionKey  string
	TriggerType TriggerType
	TriggerData map[string]any
}

// CreateRun inserts a new run with status running.
func (s *Store) CreateRun(ctx context.Context, input RunInput) (Run, error) {
	if input.AppID == "" {
		return Run{}, fmt.Errorf("app_id is required")
	}
	id := s.newIDFn()
	startedAt := s.nowFn().UTC()
	triggerJSON, err := encodeJSON(input.TriggerData)
	if err != nil {
		return Run{}, fmt.Errorf("encode trigger data: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO automation_runs (id, app_id, session_key, status, trigger_type, trigger_data, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id, input.AppID, input.SessionKey, RunRunning, input.TriggerType, triggerJSON, startedAt.Format(time.RFC3339Nano))
	if err != nil {
		return Run{}, fmt.Errorf("insert run: %w", err)
	}

	return Run{
		ID:          id,
		AppID:       input.AppID,
		SessionKey:  input.SessionKey,
		Status:      RunRunning,
		TriggerType: input.TriggerType,
		TriggerData: input.TriggerData,
		StartedAt:   startedAt,
	}, nil
}

type RunResult struct {
	DurationMs   int64
	TokensUsed   int64
	ErrorMessage string
}

// CompleteRun records the terminal outcome of a run.
func (s *Store) CompleteRun(ctx context.Context, runID string, status RunStatus, result RunResult) error {
	finishedAt := s.nowFn().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE automation_runs
		SET status = ?, finished_at = ?, duration_ms = ?, tokens_used = ?, error_message = ?
		WHERE id = ?
	`, status, finishedAt.Format(time.RFC3339Nano), result.DurationMs, result.TokensUsed, nullString(result.ErrorMessage), runID)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete run rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("run not found")
	}
	return nil
}

// UpdateRunStatus changes only the status of a run. Used to park a run
// in waiting_user; resolution happens through a follow-up run.
func (s *Store) UpdateRunStatus(ctx context.Context, runID string, status RunStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE automation_runs SET status = ? WHERE id = ?`, status, runID)
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update run status rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("run not found")
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, runID string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, app_id, session_key, status, trigger_type, trigger_data, started_at, finished_at, duration_ms, tokens_used, error_message
		FROM automation_runs WHERE id = ?
	`, runID)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, fmt.Errorf("run not found")
		}
		return Run{}, fmt.Errorf("load run: %w", err)
	}
	return run, nil
}

func (s *Store) ListRuns(ctx context.Context, appID string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, app_id, session_key, status, trigger_type, trigger_data, started_at, finished_at, duration_ms, tokens_used, error_message
		FROM automation_runs WHERE app_id = ? ORDER BY started_at DESC LIMIT ?
	`, appID, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	return collectRuns(rows)
}

// RunningRun returns the in-flight run for an app, or nil if none.
func (s *Store) RunningRun(ctx context.Context, appID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, app_id, session_key, status, trigger_type, trigger_data, started_at, finished_at, duration_ms, tokens_used, error_message
		FROM automation_runs WHERE app_id = ? AND status = ? ORDER BY started_at DESC LIMIT 1
	`, appID, RunRunning)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load running run: %w", err)
	}
	return &run, nil
}

// LatestRun returns the most recently started run for an app, or nil.
func (s *Store) LatestRun(ctx context.Context, appID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, app_id, session_key, status, trigger_type, trigger_data, started_at, finished_at, duration_ms, tokens_used, error_message
		FROM automation_runs WHERE app_id = ? ORDER BY started_at DESC LIMIT 1
	`, appID)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load latest run: %w", err)
	}
	return &run, nil
}

type EntryInput struct {
	AppID      string
	RunID      string
	Type       EntryType
	SessionKey string
	Content    map[string]any
}

func (s *Store) AppendEntry(ctx context.Context, input EntryInput) (Entry, error) {
	if input.AppID == "" || input.RunID == "" {
		return Entry{}, fmt.Errorf("app_id and run_id are required")
	}
	id := s.newIDFn()
	createdAt := s.nowFn().UTC()
	contentJSON, err := encodeJSON(input.Content)
	if err != nil {
		return Entry{}, fmt.Errorf("encode content: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO activity_entries (id, app_id, run_id, type, created_at, session_key, content)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id, input.AppID, input.RunID, input.Type, createdAt.Format(time.RFC3339Nano), nullString(input.SessionKey), contentJSON)
	if err != nil {
		return Entry{}, fmt.Errorf("insert entry: %w", err)
	}

	return Entry{
		ID:         id,
		AppID:      input.AppID,
		RunID:      input.RunID,
		Type:       input.Type,
		CreatedAt:  createdAt,
		SessionKey: input.SessionKey,
		Content:    input.Content,
	}, nil
}

func (s *Store) GetEntry(ctx context.Context, entryID string) (Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, app_id, run_id, type, created_at, session_key, content, user_response
		FROM activity_entries WHERE id = ?
	`, entryID)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, fmt.Errorf("entry not found")
		}
		return Entry{}, fmt.Errorf("load entry: %w", err)
	}
	return entry, nil
}

func (s *Store) ListEntries(ctx context.Context, appID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, app_id, run_id, type, created_at, session_key, content, user_response
		FROM activity_entries WHERE app_id = ? ORDER BY created_at DESC LIMIT ?
	`, appID, limit)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

func (s *Store) ListRunEntries(ctx context.Context, runID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, app_id, run_id, type, created_at, session_key, content, user_response
		FROM activity_entries WHERE run_id = ? ORDER BY created_at ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list run entries: %w", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

// PendingEscalation returns the unanswered escalation entry for the
// given app and entry id, or nil once a response is attached or on any
// type/app mismatch.
func (s *Store) PendingEscalation(ctx context.Context, appID, entryID string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, app_id, run_id, type, created_at, session_key, content, user_response
		FROM activity_entries
		WHERE id = ? AND app_id = ? AND type = ? AND user_response IS NULL
	`, entryID, appID, EntryEscalation)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load pending escalation: %w", err)
	}
	return &entry, nil
}

// AllPendingEscalations lists every unanswered escalation across all
// apps, oldest first. Used for startup recovery.
func (s *Store) AllPendingEscalations(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, app_id, run_id, type, created_at, session_key, content, user_response
		FROM activity_entries
		WHERE type = ? AND user_response IS NULL
		ORDER BY created_at ASC
	`, EntryEscalation)
	if err != nil {
		return nil, fmt.Errorf("list pending escalations: %w", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

// AttachResponse records the single user response on a pending
// escalation entry. It reports false if the entry was not pending.
func (s *Store) AttachResponse(ctx context.Context, entryID string, response UserResponse) (bool, error) {
	if response.TS.IsZero() {
		response.TS = s.nowFn().UTC()
	}
	responseJSON, err := json.Marshal(response)
	if err != nil {
		return false, fmt.Errorf("encode response: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE activity_entries SET user_response = ?
		WHERE id = ? AND type = ? AND user_response IS NULL
	`, string(responseJSON), entryID, EntryEscalation)
	if err != nil {
		return false, fmt.Errorf("attach response: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("attach response rows affected: %w", err)
	}
	return affected > 0, nil
}

// PruneOldData deletes runs that reached a terminal, non-waiting status
// before the retention cutoff and returns how many were removed.
// Entries cascade with their runs.
func (s *Store) PruneOldData(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := s.nowFn().UTC().Add(-retention)
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM automation_runs
		WHERE status NOT IN (?, ?) AND started_at < ?
	`, RunRunning, RunWaitingUser, cutoff.Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune rows affected: %w", err)
	}
	return int(affected), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var run Run
	var triggerStr, finishedAtStr, errorStr sql.NullString
	var durationMs, tokensUsed sql.NullInt64
	var startedAtStr string
	if err := row.Scan(&run.ID, &run.AppID, &run.SessionKey, &run.Status, &run.TriggerType,
		&triggerStr, &startedAtStr, &finishedAtStr, &durationMs, &tokensUsed, &errorStr); err != nil {
		return Run{}, err
	}
	run.TriggerData = decodeJSONMap(triggerStr.String)
	run.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAtStr)
	if finishedAtStr.Valid {
		if ts, err := time.Parse(time.RFC3339Nano, finishedAtStr.String); err == nil {
			run.FinishedAt = &ts
		}
	}
	run.DurationMs = durationMs.Int64
	run.TokensUsed = tokensUsed.Int64
	run.ErrorMessage = errorStr.String
	return run, nil
}

func collectRuns(rows *sql.Rows) ([]Run, error) {
	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

func scanEntry(row rowScanner) (Entry, error) {
	var entry Entry
	var sessionStr, contentStr, responseStr sql.NullString
	var createdAtStr string
	if err := row.Scan(&entry.ID, &entry.AppID, &entry.RunID, &entry.Type, &createdAtStr,
		&sessionStr, &contentStr, &responseStr); err != nil {
		return Entry{}, err
	}
	entry.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAtStr)
	entry.SessionKey = sessionStr.String
	entry.Content = decodeJSONMap(contentStr.String)
	if responseStr.Valid && responseStr.String != "" {
		var response UserResponse
		if err := json.Unmarshal([]byte(responseStr.String), &response); err == nil {
			entry.UserResponse = &response
		}
	}
	return entry, nil
}

func collectEntries(rows *sql.Rows) ([]Entry, error) {
	var out []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return out, nil
}

func encodeJSON(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeJSONMap(v string) map[string]any {
	if v == "" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(v), &out); err != nil {
		return nil
	}
	return out
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
