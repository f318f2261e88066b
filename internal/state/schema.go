package state

const schemaSQL = `
CREATE TABLE IF NOT EXISTS apps (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  status TEXT NOT NULL,
  spec TEXT NOT NULL,
  frequency_overrides TEXT,
  pending_escalation_id TEXT,
  last_run_at TEXT,
  last_run_outcome TEXT,
  last_run_error TEXT,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS automation_runs (
  id TEXT PRIMARY KEY,
  app_id TEXT NOT NULL,
  session_key TEXT NOT NULL,
  status TEXT NOT NULL,
  trigger_type TEXT NOT NULL,
  trigger_data TEXT,
  started_at TEXT NOT NULL,
  finished_at TEXT,
  duration_ms INTEGER,
  tokens_used INTEGER,
  error_message TEXT,
  FOREIGN KEY(app_id) REFERENCES apps(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_runs_app_started ON automation_runs(app_id, started_at);
CREATE INDEX IF NOT EXISTS idx_runs_status ON automation_runs(status);

CREATE TABLE IF NOT EXISTS activity_entries (
  id TEXT PRIMARY KEY,
  app_id TEXT NOT NULL,
  run_id TEXT NOT NULL,
  type TEXT NOT NULL,
  created_at TEXT NOT NULL,
  session_key TEXT,
  content TEXT,
  user_response TEXT,
  FOREIGN KEY(app_id) REFERENCES apps(id) ON DELETE CASCADE,
  FOREIGN KEY(run_id) REFERENCES automation_runs(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_entries_app_created ON activity_entries(app_id, created_at);
CREATE INDEX IF NOT EXISTS idx_entries_run ON activity_entries(run_id);
`
