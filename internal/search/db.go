package search

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// schema is idempotent: the help index is updated in place as modules are
// rendered, so it is created once and never rebuilt wholesale.
const schema = `
CREATE TABLE IF NOT EXISTS help_docs (
	env_id TEXT NOT NULL,
	module TEXT NOT NULL,
	content TEXT NOT NULL,
	indexed_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
	PRIMARY KEY (env_id, module)
);

CREATE VIRTUAL TABLE IF NOT EXISTS help_fts USING fts5(
	module, content,
	content='help_docs',
	content_rowid='rowid'
);

CREATE TRIGGER IF NOT EXISTS help_docs_ai AFTER INSERT ON help_docs BEGIN
	INSERT INTO help_fts(rowid, module, content)
	VALUES (new.rowid, new.module, new.content);
END;

CREATE TRIGGER IF NOT EXISTS help_docs_ad AFTER DELETE ON help_docs BEGIN
	INSERT INTO help_fts(help_fts, rowid, module, content)
	VALUES ('delete', old.rowid, old.module, old.content);
END;

CREATE TRIGGER IF NOT EXISTS help_docs_au AFTER UPDATE ON help_docs BEGIN
	INSERT INTO help_fts(help_fts, rowid, module, content)
	VALUES ('delete', old.rowid, old.module, old.content);
	INSERT INTO help_fts(rowid, module, content)
	VALUES (new.rowid, new.module, new.content);
END;
`

func openDB(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open search db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return db, nil
}
