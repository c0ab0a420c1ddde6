package download

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // SQLite driver
)

// History records completed downloads so re-runs skip books that are
// already on disk.
type History struct {
	sql *sql.DB
}

const createDownloadsTable = `
CREATE TABLE IF NOT EXISTS downloads (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	server        TEXT    NOT NULL,
	item_id       TEXT    NOT NULL,
	title         TEXT    NOT NULL,
	author        TEXT    NOT NULL,
	dest          TEXT    NOT NULL,
	bytes         INTEGER NOT NULL DEFAULT 0,
	downloaded_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(server, item_id)
);`

// OpenHistory creates (if needed) and opens the download history database.
// The caller must Close it.
func OpenHistory(path string) (*History, error) {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil, errors.New("history path must include a directory")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping history database: %w", err)
	}
	if _, err := db.Exec(createDownloadsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure downloads table: %w", err)
	}
	return &History{sql: db}, nil
}

// Close releases the database handle.
func (h *History) Close() error {
	if h == nil || h.sql == nil {
		return nil
	}
	return h.sql.Close()
}

// Record stores one completed download, replacing any previous record for
// the same server and item.
func (h *History) Record(server, itemID, title, author, dest string, bytes int64) error {
	if h == nil || h.sql == nil {
		return errors.New("history handle is nil")
	}
	_, err := h.sql.Exec(
		`INSERT INTO downloads (server, item_id, title, author, dest, bytes) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(server, item_id) DO UPDATE SET
		   title = excluded.title, author = excluded.author, dest = excluded.dest,
		   bytes = excluded.bytes, downloaded_at = CURRENT_TIMESTAMP`,
		server, itemID, title, author, dest, bytes,
	)
	if err != nil {
		return fmt.Errorf("record download: %w", err)
	}
	return nil
}

// Seen reports whether the item was already downloaded from this server.
func (h *History) Seen(server, itemID string) (bool, error) {
	if h == nil || h.sql == nil {
		return false, errors.New("history handle is nil")
	}
	var n int
	err := h.sql.QueryRow(
		`SELECT COUNT(1) FROM downloads WHERE server = ? AND item_id = ?`,
		server, itemID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query download history: %w", err)
	}
	return n > 0, nil
}
