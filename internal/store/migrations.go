package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS notifications (
	id                 TEXT PRIMARY KEY,
	thread_id          TEXT NOT NULL DEFAULT '',
	source_key         TEXT NOT NULL DEFAULT '',
	kind               TEXT NOT NULL,
	status             TEXT NOT NULL DEFAULT 'pending',
	needs_review       INTEGER NOT NULL DEFAULT 0,
	confidence         REAL NOT NULL DEFAULT 0,
	reasoning          TEXT NOT NULL DEFAULT '',
	subject            TEXT NOT NULL DEFAULT '',
	sender             TEXT NOT NULL DEFAULT '',
	recipients         TEXT NOT NULL DEFAULT '[]',
	body_snapshot      TEXT NOT NULL DEFAULT '',
	email_count        INTEGER NOT NULL DEFAULT 1,
	fields             TEXT NOT NULL DEFAULT '{}',
	original           TEXT NOT NULL DEFAULT '{}',
	edited             INTEGER NOT NULL DEFAULT 0,
	is_grabbed         INTEGER NOT NULL DEFAULT 0,
	grabbed_by         TEXT NOT NULL DEFAULT '',
	grabbed_at         DATETIME,
	is_priority_assist INTEGER NOT NULL DEFAULT 0,
	related_id         TEXT NOT NULL DEFAULT '',
	last_error         TEXT NOT NULL DEFAULT '',
	job_id             TEXT NOT NULL DEFAULT '',
	job_deadline       DATETIME,
	archive_due_at     DATETIME,
	archived_at        DATETIME,
	created_at         DATETIME NOT NULL,
	updated_at         DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	notification_id TEXT NOT NULL REFERENCES notifications(id),
	type            TEXT NOT NULL,
	operator        TEXT NOT NULL DEFAULT '',
	detail          TEXT NOT NULL DEFAULT '',
	at              DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_notifications_thread ON notifications(thread_id);
CREATE INDEX IF NOT EXISTS idx_notifications_archived ON notifications(archived_at);
CREATE INDEX IF NOT EXISTS idx_events_notification ON events(notification_id);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS mailbox_cursor (
	mailbox      TEXT PRIMARY KEY,
	uid_validity INTEGER NOT NULL,
	last_uid     INTEGER NOT NULL,
	updated_at   DATETIME NOT NULL
);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
