// Package sqlite keeps the ledger and mailbox settings in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vdavid/listsweep/internal/ledger"
	"github.com/vdavid/listsweep/internal/models"

	_ "modernc.org/sqlite"
)

// Store implements ledger.Store and settings.Store.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and runs migrations.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS ledger_entries (
	position      INTEGER PRIMARY KEY AUTOINCREMENT,
	newsletter_id TEXT NOT NULL UNIQUE,
	unsubscribed  INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS mailbox_settings (
	id           INTEGER PRIMARY KEY CHECK (id = 1),
	email        TEXT NOT NULL DEFAULT '',
	password     TEXT NOT NULL DEFAULT '',
	imap_server  TEXT NOT NULL DEFAULT '',
	imap_port    INTEGER NOT NULL DEFAULT 993,
	updated_at   TEXT NOT NULL DEFAULT ''
);
`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Load reads the ledger in insertion order.
func (s *Store) Load(ctx context.Context) (ledger.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT newsletter_id, unsubscribed FROM ledger_entries ORDER BY position")
	if err != nil {
		return ledger.Snapshot{}, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	snap := ledger.Snapshot{ProcessedIDs: []string{}, Unsubscribed: []string{}}
	for rows.Next() {
		var id string
		var unsubscribed bool
		if err := rows.Scan(&id, &unsubscribed); err != nil {
			return ledger.Snapshot{}, fmt.Errorf("scan ledger row: %w", err)
		}
		snap.ProcessedIDs = append(snap.ProcessedIDs, id)
		if unsubscribed {
			snap.Unsubscribed = append(snap.Unsubscribed, id)
		}
	}
	return snap, rows.Err()
}

// Save replaces the whole ledger in one transaction.
func (s *Store) Save(ctx context.Context, snap ledger.Snapshot) error {
	unsubscribed := make(map[string]bool, len(snap.Unsubscribed))
	for _, id := range snap.Unsubscribed {
		unsubscribed[id] = true
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM ledger_entries"); err != nil {
		return fmt.Errorf("clear ledger: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO ledger_entries (newsletter_id, unsubscribed) VALUES (?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, id := range snap.ProcessedIDs {
		if _, err := stmt.ExecContext(ctx, id, unsubscribed[id]); err != nil {
			return fmt.Errorf("insert ledger row: %w", err)
		}
	}
	return tx.Commit()
}

// SettingsStore adapts the same database to settings.Store.
func (s *Store) SettingsStore() *SettingsStore {
	return &SettingsStore{db: s.db}
}

type SettingsStore struct {
	db *sql.DB
}

func (s *SettingsStore) Load(ctx context.Context) (*models.MailboxSettings, error) {
	result := models.DefaultMailboxSettings()
	var updatedAt string
	err := s.db.QueryRowContext(ctx,
		"SELECT email, password, imap_server, imap_port, updated_at FROM mailbox_settings WHERE id = 1",
	).Scan(&result.Email, &result.EncryptedPassword, &result.IMAPServer, &result.IMAPPort, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return result, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query settings: %w", err)
	}

	if result.IMAPServer == "" {
		result.IMAPServer = models.DefaultIMAPServer
	}
	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		result.UpdatedAt = t
	}
	return result, nil
}

func (s *SettingsStore) Save(ctx context.Context, settings *models.MailboxSettings) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mailbox_settings (id, email, password, imap_server, imap_port, updated_at)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			email       = excluded.email,
			password    = excluded.password,
			imap_server = excluded.imap_server,
			imap_port   = excluded.imap_port,
			updated_at  = excluded.updated_at
	`, settings.Email, settings.EncryptedPassword, settings.IMAPServer, settings.IMAPPort,
		settings.UpdatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}
