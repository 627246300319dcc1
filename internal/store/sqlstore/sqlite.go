package sqlstore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/botrelay/internal/store"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS instances (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL UNIQUE,
	webhook_url TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS bots (
	id                TEXT PRIMARY KEY,
	instance_id       TEXT NOT NULL REFERENCES instances(id) ON DELETE CASCADE,
	enabled           INTEGER NOT NULL DEFAULT 1,
	description       TEXT NOT NULL DEFAULT '',
	api_url           TEXT NOT NULL DEFAULT '',
	api_key           TEXT NOT NULL DEFAULT '',
	trigger_type      TEXT NOT NULL,
	trigger_operator  TEXT NOT NULL DEFAULT '',
	trigger_value     TEXT NOT NULL DEFAULT '',
	expire            INTEGER,
	keyword_finish    TEXT,
	delay_message     INTEGER,
	unknown_message   TEXT,
	listening_from_me INTEGER,
	stop_bot_from_me  INTEGER,
	keep_open         INTEGER,
	debounce_time     INTEGER,
	ignore_jids       TEXT,
	split_messages    INTEGER,
	time_per_char     INTEGER,
	created_at        DATETIME NOT NULL,
	updated_at        DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_bots_instance ON bots(instance_id, created_at);

CREATE TABLE IF NOT EXISTS bot_settings (
	id                TEXT PRIMARY KEY,
	instance_id       TEXT NOT NULL UNIQUE REFERENCES instances(id) ON DELETE CASCADE,
	expire            INTEGER NOT NULL DEFAULT 0,
	keyword_finish    TEXT NOT NULL DEFAULT '',
	delay_message     INTEGER NOT NULL DEFAULT 0,
	unknown_message   TEXT NOT NULL DEFAULT '',
	listening_from_me INTEGER NOT NULL DEFAULT 0,
	stop_bot_from_me  INTEGER NOT NULL DEFAULT 0,
	keep_open         INTEGER NOT NULL DEFAULT 0,
	debounce_time     INTEGER NOT NULL DEFAULT 0,
	ignore_jids       TEXT NOT NULL DEFAULT '[]',
	split_messages    INTEGER NOT NULL DEFAULT 0,
	time_per_char     INTEGER NOT NULL DEFAULT 0,
	fallback_bot_id   TEXT REFERENCES bots(id) ON DELETE SET NULL,
	created_at        DATETIME NOT NULL,
	updated_at        DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS bot_sessions (
	id          TEXT PRIMARY KEY,
	instance_id TEXT NOT NULL REFERENCES instances(id) ON DELETE CASCADE,
	remote_jid  TEXT NOT NULL,
	bot_id      TEXT REFERENCES bots(id) ON DELETE CASCADE,
	status      TEXT NOT NULL,
	await_user  INTEGER NOT NULL DEFAULT 0,
	type        TEXT NOT NULL DEFAULT '',
	context     TEXT,
	created_at  DATETIME NOT NULL,
	updated_at  DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_bot_sessions_lookup ON bot_sessions(instance_id, remote_jid, created_at);
CREATE INDEX IF NOT EXISTS idx_bot_sessions_bot ON bot_sessions(bot_id);
`

// OpenSQLite opens (and creates if needed) the standalone-mode database.
// Use ":memory:" for an ephemeral database.
func OpenSQLite(path string) (*store.Stores, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single writer avoids SQLITE_BUSY; it also keeps ":memory:" on one connection.
	db.SetMaxOpenConns(1)

	if path == ":memory:" {
		if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return newStores(db, sqliteDialect), nil
}
