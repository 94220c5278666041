package database

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// DB is the local player database. It holds last-known playback positions so
// a new session can warm-start at the resume offset instead of seeking from
// zero.
type DB struct {
	conn *sql.DB
}

// Position is a saved resume point for a source path.
type Position struct {
	Path      string
	Position  float64
	Duration  float64
	UpdatedAt time.Time
}

// nearEndFraction: positions within this fraction of the end are treated as
// finished and the entry is cleared.
const nearEndFraction = 0.05

// Open opens (creating if needed) the player database and runs migrations.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set migration dialect: %w", err)
	}
	if err := goose.Up(conn, "migrations"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

// SavePosition stores the resume point for a path. Positions near the end of
// the media clear the entry so finished items restart from the beginning.
func (d *DB) SavePosition(path string, position, duration float64) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}
	if duration > 0 && position >= duration*(1-nearEndFraction) {
		return d.DeletePosition(path)
	}
	_, err := d.conn.Exec(`
		INSERT INTO positions (path, position, duration, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			position = excluded.position,
			duration = excluded.duration,
			updated_at = excluded.updated_at`,
		path, position, duration, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save position: %w", err)
	}
	return nil
}

// Position returns the saved resume point for a path, or nil when none exists.
func (d *DB) Position(path string) (*Position, error) {
	row := d.conn.QueryRow(
		`SELECT path, position, duration, updated_at FROM positions WHERE path = ?`, path)
	var p Position
	if err := row.Scan(&p.Path, &p.Position, &p.Duration, &p.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load position: %w", err)
	}
	return &p, nil
}

// DeletePosition removes the saved resume point for a path.
func (d *DB) DeletePosition(path string) error {
	if _, err := d.conn.Exec(`DELETE FROM positions WHERE path = ?`, path); err != nil {
		return fmt.Errorf("delete position: %w", err)
	}
	return nil
}
