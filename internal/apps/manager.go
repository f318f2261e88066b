package apps

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/flitsinc/go-automations/internal/idgen"
)

// Manager owns the installed automation apps: their specs, lifecycle
// status, frequency overrides, and last-run bookkeeping.
type Manager struct {
	db *sql.DB

	mu          sync.Mutex
	nextHandler int
	handlers    map[int]StatusChangeHandler

	nowFn func() time.Time
}

type StatusChangeHandler func(appID string, status Status)

type Option func(*Manager)

func WithClock(nowFn func() time.Time) Option {
	return func(m *Manager) {
		if nowFn != nil {
			m.nowFn = nowFn
		}
	}
}

func NewManager(db *sql.DB, opts ...Option) *Manager {
	m := &Manager{
		db:       db,
		handlers: map[int]StatusChangeHandler{},
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

type InstallInput struct {
	ID   string // optional; generated from the name when empty
	Name string
	Spec Spec
}

func (m *Manager) Install(ctx context.Context, input InstallInput) (App, error) {
	if strings.TrimSpace(input.Name) == "" {
		return App{}, fmt.Errorf("app name is required")
	}
	id := input.ID
	if id == "" {
		id = idgen.AppID(m.db, slug(input.Name))
	} else if err := idgen.ValidateCustomID(id); err != nil {
		return App{}, err
	}
	now := m.nowFn().UTC()
	specJSON, err := json.Marshal(input.Spec)
	if err != nil {
		return App{}, fmt.Errorf("encode spec: %w", err)
	}

	_, err = m.db.ExecContext(ctx, `
		INSERT INTO apps (id, name, status, spec, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, input.Name, StatusActive, string(specJSON), now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return App{}, fmt.Errorf("insert app: %w", err)
	}

	return App{ID: id, Name: input.Name, Status: StatusActive, Spec: input.Spec, CreatedAt: now, UpdatedAt: now}, nil
}

// Get returns the app or nil if it does not exist.
func (m *Manager) Get(ctx context.Context, appID string) (*App, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT id, name, status, spec, frequency_overrides, pending_escalation_id, last_run_at, last_run_outcome, last_run_error, created_at, updated_at
		FROM apps WHERE id = ?
	`, appID)
	app, err := scanApp(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load app: %w", err)
	}
	return &app, nil
}

type ListFilter struct {
	Status Status
	Limit  int
}

func (m *Manager) List(ctx context.Context, filter ListFilter) ([]App, error) {
	query := `
		SELECT id, name, status, spec, frequency_overrides, pending_escalation_id, last_run_at, last_run_outcome, last_run_error, created_at, updated_at
		FROM apps`
	var args []any
	if filter.Status != "" {
		query += " WHERE status = ?"
		args = append(args, filter.Status)
	}
	query += " ORDER BY created_at ASC"
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(" LIMIT %d", limit)

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list apps: %w", err)
	}
	defer rows.Close()

	var out []App
	for rows.Next() {
		app, err := scanApp(rows)
		if err != nil {
			return nil, fmt.Errorf("scan app: %w", err)
		}
		out = append(out, app)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate apps: %w", err)
	}
	return out, nil
}

// StatusExtra carries optional fields set alongside a status change.
type StatusExtra struct {
	PendingEscalationID string
}

// UpdateStatus transitions the app's lifecycle status. When the new
// status is not waiting_user any pending escalation pointer is cleared.
func (m *Manager) UpdateStatus(ctx context.Context, appID string, status Status, extra *StatusExtra) error {
	pendingID := any(nil)
	if status == StatusWaitingUser && extra != nil && extra.PendingEscalationID != "" {
		pendingID = extra.PendingEscalationID
	}
	now := m.nowFn().UTC()
	res, err := m.db.ExecContext(ctx, `
		UPDATE apps SET status = ?, pending_escalation_id = ?, updated_at = ? WHERE id = ?
	`, status, pendingID, now.Format(time.RFC3339Nano), appID)
	if err != nil {
		return fmt.Errorf("update app status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update app status rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("app not found")
	}

	m.mu.Lock()
	handlers := make([]StatusChangeHandler, 0, len(m.handlers))
	for _, h := range m.handlers {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()
	for _, h := range handlers {
		h(appID, status)
	}
	return nil
}

// UpdateLastRun records the outcome of the most recent run on the app.
func (m *Manager) UpdateLastRun(ctx context.Context, appID, outcome, errorMessage string) error {
	now := m.nowFn().UTC()
	_, err := m.db.ExecContext(ctx, `
		UPDATE apps SET last_run_at = ?, last_run_outcome = ?, last_run_error = ?, updated_at = ? WHERE id = ?
	`, now.Format(time.RFC3339Nano), outcome, nullString(errorMessage), now.Format(time.RFC3339Nano), appID)
	if err != nil {
		return fmt.Errorf("update last run: %w", err)
	}
	return nil
}

// SetFrequencyOverride stores a per-subscription interval override.
// An empty interval removes the override.
func (m *Manager) SetFrequencyOverride(ctx context.Context, appID, subID, every string) error {
	app, err := m.Get(ctx, appID)
	if err != nil {
		return err
	}
	if app == nil {
		return fmt.Errorf("app not found")
	}
	overrides := app.FrequencyOverrides
	if overrides == nil {
		overrides = map[string]string{}
	}
	if every == "" {
		delete(overrides, subID)
	} else {
		overrides[subID] = every
	}
	overridesJSON, err := json.Marshal(overrides)
	if err != nil {
		return fmt.Errorf("encode overrides: %w", err)
	}
	now := m.nowFn().UTC()
	_, err = m.db.ExecContext(ctx, `
		UPDATE apps SET frequency_overrides = ?, updated_at = ? WHERE id = ?
	`, string(overridesJSON), now.Format(time.RFC3339Nano), appID)
	if err != nil {
		return fmt.Errorf("update overrides: %w", err)
	}
	return nil
}

// Uninstall removes the app row; runs and entries cascade with it.
func (m *Manager) Uninstall(ctx context.Context, appID string) error {
	_, err := m.db.ExecContext(ctx, `DELETE FROM apps WHERE id = ?`, appID)
	if err != nil {
		return fmt.Errorf("delete app: %w", err)
	}
	return nil
}

// OnStatusChange registers a handler invoked after every status
// transition. The returned closure unsubscribes it.
func (m *Manager) OnStatusChange(handler StatusChangeHandler) func() {
	m.mu.Lock()
	m.nextHandler++
	id := m.nextHandler
	m.handlers[id] = handler
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.handlers, id)
		m.mu.Unlock()
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApp(row rowScanner) (App, error) {
	var app App
	var specStr string
	var overridesStr, pendingStr, lastRunAtStr, lastOutcomeStr, lastErrorStr sql.NullString
	var createdAtStr, updatedAtStr string
	if err := row.Scan(&app.ID, &app.Name, &app.Status, &specStr, &overridesStr, &pendingStr,
		&lastRunAtStr, &lastOutcomeStr, &lastErrorStr, &createdAtStr, &updatedAtStr); err != nil {
		return App{}, err
	}
	if err := json.Unmarshal([]byte(specStr), &app.Spec); err != nil {
		return App{}, fmt.Errorf("decode spec: %w", err)
	}
	if overridesStr.Valid && overridesStr.String != "" {
		_ = json.Unmarshal([]byte(overridesStr.String), &app.FrequencyOverrides)
	}
	app.PendingEscalationID = pendingStr.String
	if lastRunAtStr.Valid {
		if ts, err := time.Parse(time.RFC3339Nano, lastRunAtStr.String); err == nil {
			app.LastRunAt = &ts
		}
	}
	app.LastRunOutcome = lastOutcomeStr.String
	app.LastRunError = lastErrorStr.String
	app.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAtStr)
	app.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAtStr)
	return app, nil
}

func slug(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteRune('-')
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		return "app"
	}
	return out
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
