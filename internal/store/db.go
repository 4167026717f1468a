package store

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"

	_ "github.com/mattn/go-sqlite3"
)

// DB is a profile's local storage. It holds the access and refresh tokens,
// so the file is kept private to the user.
type DB struct {
	*sql.DB
	path string
}

// Open opens (creating if needed) the storage file at path with mode 0600.
// Writes are rare and small, so one connection serves every caller and
// lock contention never surfaces as SQLITE_BUSY.
func Open(path string) (*DB, error) {
	if err := restrict(path); err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("_journal_mode", "WAL")
	q.Set("_busy_timeout", "5000")
	q.Set("_txlock", "immediate")
	db, err := sql.Open("sqlite3", path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open storage %s: %w", path, err)
	}
	return &DB{DB: db, path: path}, nil
}

// Path returns the storage file location.
func (db *DB) Path() string { return db.path }

func restrict(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return fmt.Errorf("create storage: %w", err)
	}
	_ = f.Close()
	if err := os.Chmod(path, 0600); err != nil {
		return fmt.Errorf("restrict storage: %w", err)
	}
	return nil
}
