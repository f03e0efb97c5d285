// Package store keeps the installer's ledger of applied updates in SQLite.
//
// The update coordinator never reads it. The installer records every
// binary swap here so a later launch can roll back to the backup it left.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver, WAL-friendly
)

// DatabaseFileName is the ledger file created under the user directory.
const DatabaseFileName = "appshell.db"

// ErrNoInstalls is returned when the ledger has no recorded installs.
var ErrNoInstalls = errors.New("no installs recorded")

// Install is one applied update.
type Install struct {
	ID             int64
	Version        string
	ExecutablePath string
	BackupPath     string
	InstalledAt    time.Time
}

// Ledger is the install history database.
type Ledger struct {
	db   *sql.DB
	path string
}

const schema = `
CREATE TABLE IF NOT EXISTS installs (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	version         TEXT    NOT NULL,
	executable_path TEXT    NOT NULL,
	backup_path     TEXT    NOT NULL,
	installed_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS installs_installed_at ON installs(installed_at);
`

// Open opens (creating if needed) the ledger at path.
func Open(ctx context.Context, path string) (*Ledger, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("ledger path is empty")
	}
	//nolint:gosec // G301: User data directory needs standard permissions
	if err := os.MkdirAll(filepath.Dir(trimmed), 0755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}

	db, err := sql.Open("sqlite", buildDSN(trimmed))
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping ledger: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate ledger: %w", err)
	}
	return &Ledger{db: db, path: trimmed}, nil
}

// buildDSN creates a read-write WAL DSN for the given path.
func buildDSN(dbPath string) string {
	u := url.URL{
		Scheme: "file",
		Path:   filepath.ToSlash(dbPath),
	}
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(3000)")
	q.Add("_pragma", "journal_mode(WAL)")
	u.RawQuery = q.Encode()
	return u.String()
}

// Path returns the database file path.
func (l *Ledger) Path() string {
	return l.path
}

// Close releases the database handle.
func (l *Ledger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// RecordInstall appends an install and returns it with its ID set.
func (l *Ledger) RecordInstall(ctx context.Context, in Install) (Install, error) {
	if in.InstalledAt.IsZero() {
		in.InstalledAt = time.Now()
	}
	res, err := l.db.ExecContext(ctx, `
		INSERT INTO installs (version, executable_path, backup_path, installed_at)
		VALUES (?, ?, ?, ?)
	`, in.Version, in.ExecutablePath, in.BackupPath, in.InstalledAt.UnixNano())
	if err != nil {
		return Install{}, fmt.Errorf("record install: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Install{}, fmt.Errorf("record install id: %w", err)
	}
	in.ID = id
	return in, nil
}

// LatestInstall returns the most recent install, or ErrNoInstalls.
func (l *Ledger) LatestInstall(ctx context.Context) (Install, error) {
	history, err := l.History(ctx, 1)
	if err != nil {
		return Install{}, err
	}
	if len(history) == 0 {
		return Install{}, ErrNoInstalls
	}
	return history[0], nil
}

// History returns up to limit installs, newest first. limit <= 0 returns all.
func (l *Ledger) History(ctx context.Context, limit int) ([]Install, error) {
	query := `
		SELECT id, version, executable_path, backup_path, installed_at
		FROM installs
		ORDER BY installed_at DESC, id DESC
	`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query installs: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var installs []Install
	for rows.Next() {
		var (
			in    Install
			nanos int64
		)
		if err := rows.Scan(&in.ID, &in.Version, &in.ExecutablePath, &in.BackupPath, &nanos); err != nil {
			return nil, fmt.Errorf("scan install: %w", err)
		}
		in.InstalledAt = time.Unix(0, nanos)
		installs = append(installs, in)
	}
	return installs, rows.Err()
}
