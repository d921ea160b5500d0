package catalog

// Migrations are the catalog schema steps, applied in order by dbopen.
var Migrations = []string{
	// 1: finished sessions, one row per session directory.
	`CREATE TABLE sessions (
    id             TEXT PRIMARY KEY,
    path           TEXT NOT NULL,
    archive        TEXT NOT NULL DEFAULT '',
    start_time     INTEGER NOT NULL,
    end_time       INTEGER NOT NULL DEFAULT 0,
    action_count   INTEGER NOT NULL DEFAULT 0,
    resource_count INTEGER NOT NULL DEFAULT 0,
    has_voice      INTEGER NOT NULL DEFAULT 0,
    created_at     INTEGER NOT NULL
);
CREATE INDEX idx_sessions_start ON sessions(start_time DESC);`,

	// 2: viewer notes. They never touch session.json; the viewer merges
	// them into the action list when serving a session.
	`CREATE TABLE notes (
    id              TEXT PRIMARY KEY,
    session_id      TEXT NOT NULL,
    after_action_id TEXT NOT NULL DEFAULT '',
    content         TEXT NOT NULL,
    created_at      INTEGER NOT NULL,
    updated_at      INTEGER NOT NULL,
    FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
);
CREATE INDEX idx_notes_session ON notes(session_id, created_at);`,
}
