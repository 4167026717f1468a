package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Scope selects how long a value lives. Local values persist across daemon
// restarts; session values are cleared when the daemon starts.
type Scope string

const (
	Local   Scope = "local"
	Session Scope = "session"
)

// ErrNotFound is returned when a key holds no value.
var ErrNotFound = errors.New("not found")

// Get returns the value stored under key in scope.
func (db *DB) Get(scope Scope, key string) (string, error) {
	var v string
	err := db.QueryRow(`SELECT value FROM storage WHERE scope = ? AND key = ?`, scope, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get %s/%s: %w", scope, key, err)
	}
	return v, nil
}

// Lookup returns the value under key, preferring the local scope.
func (db *DB) Lookup(key string) (string, Scope, error) {
	for _, scope := range []Scope{Local, Session} {
		v, err := db.Get(scope, key)
		if err == nil {
			return v, scope, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return "", "", err
		}
	}
	return "", "", ErrNotFound
}

// Set stores value under key in scope, replacing any previous value.
func (db *DB) Set(scope Scope, key, value string) error {
	_, err := db.Exec(`
		INSERT INTO storage (scope, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(scope, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		scope, key, value, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("set %s/%s: %w", scope, key, err)
	}
	return nil
}

// Delete removes key from every scope.
func (db *DB) Delete(keys ...string) error {
	for _, key := range keys {
		if _, err := db.Exec(`DELETE FROM storage WHERE key = ?`, key); err != nil {
			return fmt.Errorf("delete %s: %w", key, err)
		}
	}
	return nil
}

// ClearScope removes every value in scope and returns how many were removed.
func (db *DB) ClearScope(scope Scope) (int64, error) {
	res, err := db.Exec(`DELETE FROM storage WHERE scope = ?`, scope)
	if err != nil {
		return 0, fmt.Errorf("clear %s: %w", scope, err)
	}
	return res.RowsAffected()
}
