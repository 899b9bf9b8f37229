package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vdavid/listsweep/internal/models"
)

// SettingsStore implements settings.Store on the single-row mailbox_settings table.
type SettingsStore struct {
	pool *pgxpool.Pool
}

func NewSettingsStore(pool *pgxpool.Pool) *SettingsStore {
	return &SettingsStore{pool: pool}
}

// Load returns the defaults when nothing has been saved yet.
func (s *SettingsStore) Load(ctx context.Context) (*models.MailboxSettings, error) {
	settings := models.DefaultMailboxSettings()

	err := s.pool.QueryRow(ctx, `
		SELECT email, encrypted_password, imap_server, imap_port, updated_at
		FROM mailbox_settings
		WHERE id = 1
	`).Scan(
		&settings.Email,
		&settings.EncryptedPassword,
		&settings.IMAPServer,
		&settings.IMAPPort,
		&settings.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return models.DefaultMailboxSettings(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mailbox settings: %w", err)
	}

	return settings, nil
}

func (s *SettingsStore) Save(ctx context.Context, settings *models.MailboxSettings) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO mailbox_settings (
			id,
			email,
			encrypted_password,
			imap_server,
			imap_port
		) VALUES (1, $1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			encrypted_password = EXCLUDED.encrypted_password,
			imap_server = EXCLUDED.imap_server,
			imap_port = EXCLUDED.imap_port,
			updated_at = NOW()
	`,
		settings.Email,
		settings.EncryptedPassword,
		settings.IMAPServer,
		settings.IMAPPort,
	)

	if err != nil {
		return fmt.Errorf("failed to save mailbox settings: %w", err)
	}

	return nil
}
