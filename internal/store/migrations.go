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

CREATE TABLE IF NOT EXISTS folders (
	id           TEXT PRIMARY KEY,
	account_id   TEXT NOT NULL,
	name         TEXT NOT NULL,
	path         TEXT NOT NULL,
	delimiter    TEXT NOT NULL DEFAULT '',
	special_use  TEXT NOT NULL DEFAULT '',
	uid_validity INTEGER,
	last_sync_at DATETIME,
	total_count  INTEGER NOT NULL DEFAULT 0,
	unread_count INTEGER NOT NULL DEFAULT 0,
	created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(account_id, path)
);

CREATE TABLE IF NOT EXISTS emails (
	id             TEXT PRIMARY KEY,
	folder_id      TEXT NOT NULL REFERENCES folders(id) ON DELETE CASCADE,
	uid            INTEGER NOT NULL,
	message_id     TEXT NOT NULL DEFAULT '',
	subject        TEXT NOT NULL DEFAULT '',
	from_addr      TEXT NOT NULL DEFAULT '',
	to_addrs       TEXT NOT NULL DEFAULT '[]',
	cc_addrs       TEXT NOT NULL DEFAULT '[]',
	date           DATETIME NOT NULL,
	flags          TEXT NOT NULL DEFAULT '[]',
	has_attachment INTEGER NOT NULL DEFAULT 0 CHECK(has_attachment IN (0, 1)),
	size           INTEGER NOT NULL DEFAULT 0,
	body_ref       TEXT NOT NULL DEFAULT '',
	body_text      TEXT NOT NULL DEFAULT '',
	sync_status    TEXT NOT NULL DEFAULT 'pending'
		CHECK(sync_status IN ('pending', 'synced', 'deleted', 'error')),
	created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(folder_id, uid)
);

CREATE TABLE IF NOT EXISTS attachments (
	id        TEXT PRIMARY KEY,
	email_id  TEXT NOT NULL REFERENCES emails(id) ON DELETE CASCADE,
	filename  TEXT NOT NULL DEFAULT '',
	mime_type TEXT NOT NULL DEFAULT '',
	size      INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS download_queue (
	id          TEXT PRIMARY KEY,
	email_id    TEXT NOT NULL REFERENCES emails(id) ON DELETE CASCADE,
	priority    INTEGER NOT NULL DEFAULT 0,
	status      TEXT NOT NULL DEFAULT 'pending'
		CHECK(status IN ('pending', 'processing', 'completed', 'error')),
	retry_count INTEGER NOT NULL DEFAULT 0,
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS operation_queue (
	id                 TEXT PRIMARY KEY,
	account_id         TEXT NOT NULL,
	op_type            TEXT NOT NULL
		CHECK(op_type IN ('delete_trash', 'delete_permanent', 'move', 'flag_add', 'flag_remove')),
	folder_path        TEXT NOT NULL,
	target_folder_path TEXT NOT NULL DEFAULT '',
	uids               TEXT NOT NULL DEFAULT '[]',
	flags              TEXT NOT NULL DEFAULT '[]',
	original_data      TEXT NOT NULL DEFAULT '',
	status             TEXT NOT NULL DEFAULT 'pending'
		CHECK(status IN ('pending', 'processing', 'completed', 'failed')),
	retry_count        INTEGER NOT NULL DEFAULT 0,
	max_retries        INTEGER NOT NULL DEFAULT 3,
	error_msg          TEXT NOT NULL DEFAULT '',
	created_at         DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at         DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_folders_account ON folders(account_id);
CREATE INDEX IF NOT EXISTS idx_emails_folder_id ON emails(folder_id);
CREATE INDEX IF NOT EXISTS idx_emails_sync_status ON emails(sync_status);
CREATE INDEX IF NOT EXISTS idx_emails_date ON emails(date);
CREATE INDEX IF NOT EXISTS idx_attachments_email_id ON attachments(email_id);
CREATE INDEX IF NOT EXISTS idx_download_queue_status ON download_queue(status);
CREATE INDEX IF NOT EXISTS idx_download_queue_priority
	ON download_queue(status, priority DESC, created_at);
CREATE INDEX IF NOT EXISTS idx_operation_queue_status ON operation_queue(status);
CREATE INDEX IF NOT EXISTS idx_operation_queue_created ON operation_queue(created_at);

-- At most one live download item per email; re-enqueuing must raise the
-- existing item's priority instead of inserting a second row.
CREATE UNIQUE INDEX IF NOT EXISTS idx_download_queue_active
	ON download_queue(email_id) WHERE status IN ('pending', 'processing');

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
