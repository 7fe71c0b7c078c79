package store

// schema is applied on every start; statements are idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS app_users (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	account_email   TEXT NOT NULL UNIQUE,
	password_hash   TEXT NOT NULL,
	recipient_email TEXT NOT NULL DEFAULT '',
	api_key_sealed  TEXT NOT NULL DEFAULT '',
	model           TEXT NOT NULL DEFAULT 'gpt-4o-mini',
	summary_prompt  TEXT NOT NULL DEFAULT '',
	delivery        TEXT NOT NULL DEFAULT 'email' CHECK (delivery IN ('email', 'web')),
	created_at      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS user_channels (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id    INTEGER NOT NULL REFERENCES app_users(id),
	channel_id TEXT NOT NULL,
	source     TEXT NOT NULL DEFAULT '',
	title      TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	UNIQUE (user_id, channel_id)
);

CREATE TABLE IF NOT EXISTS scanned_items (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id         INTEGER NOT NULL REFERENCES app_users(id),
	channel_id      TEXT NOT NULL,
	channel_title   TEXT NOT NULL DEFAULT '',
	video_id        TEXT NOT NULL,
	video_title     TEXT NOT NULL DEFAULT '',
	video_url       TEXT NOT NULL DEFAULT '',
	published_at    TEXT NOT NULL DEFAULT '',
	scanned_at      TEXT NOT NULL,
	state           TEXT NOT NULL DEFAULT 'pending',
	attempts        INTEGER NOT NULL DEFAULT 1,
	last_error      TEXT NOT NULL DEFAULT '',
	last_attempt_at TEXT NOT NULL,
	UNIQUE (user_id, video_id)
);

CREATE INDEX IF NOT EXISTS idx_scanned_user_state ON scanned_items(user_id, state);

CREATE TABLE IF NOT EXISTS generated_items (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id        INTEGER NOT NULL,
	channel_id     TEXT NOT NULL,
	channel_title  TEXT NOT NULL DEFAULT '',
	video_id       TEXT NOT NULL,
	video_title    TEXT NOT NULL DEFAULT '',
	video_url      TEXT NOT NULL DEFAULT '',
	summary_ko     TEXT NOT NULL,
	generated_at   TEXT NOT NULL,
	delivery       TEXT NOT NULL DEFAULT 'web',
	delivered_at   TEXT NOT NULL DEFAULT '',
	delivery_error TEXT NOT NULL DEFAULT '',
	UNIQUE (user_id, video_id),
	FOREIGN KEY (user_id, video_id) REFERENCES scanned_items(user_id, video_id)
);

CREATE INDEX IF NOT EXISTS idx_generated_user_time ON generated_items(user_id, generated_at DESC);
`
