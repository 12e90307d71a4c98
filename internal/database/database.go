package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

var ErrNotFound = errors.New("setting not found")

type DB struct {
	*sqlx.DB
}

// Setting is one row of the client's key/value store.
type Setting struct {
	Key       string    `db:"key"`
	Value     []byte    `db:"value"`
	UpdatedAt time.Time `db:"updated_at"`
}

// NewDB opens (and if needed creates) the SQLite file at path.
func NewDB(path string) (*DB, error) {
	if path == "" {
		path = "voiceforge.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sqlx.Connect("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	dbWrapper := &DB{DB: db}
	if err := dbWrapper.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return dbWrapper, nil
}

func (db *DB) createTables() error {
	settingsTable := `
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at DATETIME NOT NULL
	);`

	if _, err := db.Exec(settingsTable); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	return nil
}

func (db *DB) GetSetting(ctx context.Context, key string) (*Setting, error) {
	var s Setting
	err := db.GetContext(ctx, &s, `SELECT key, value, updated_at FROM settings WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read setting %q: %w", key, err)
	}
	return &s, nil
}

func (db *DB) PutSetting(ctx context.Context, key string, value []byte) error {
	query := `
		INSERT INTO settings (key, value, updated_at)
		VALUES (:key, :value, :updated_at)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	_, err := db.NamedExecContext(ctx, query, Setting{Key: key, Value: value, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to write setting %q: %w", key, err)
	}
	return nil
}

func (db *DB) DeleteSetting(ctx context.Context, key string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete setting %q: %w", key, err)
	}
	return nil
}

func (db *DB) Close() error {
	return db.DB.Close()
}
