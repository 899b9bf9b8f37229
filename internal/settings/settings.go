// Package settings stores the mailbox address and its encrypted credential.
package settings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vdavid/listsweep/internal/crypto"
	"github.com/vdavid/listsweep/internal/jsonfile"
	"github.com/vdavid/listsweep/internal/models"
)

var (
	// ErrNotConfigured is returned when no mailbox address or password has been saved.
	ErrNotConfigured = errors.New("mailbox is not configured")
	ErrInvalidPort   = errors.New("invalid IMAP port")
)

// Store loads and saves mailbox settings.
// Load returns models.DefaultMailboxSettings() when nothing has been saved yet.
type Store interface {
	Load(ctx context.Context) (*models.MailboxSettings, error)
	Save(ctx context.Context, s *models.MailboxSettings) error
}

// Credentials returns the stored settings with the decrypted password.
// A password saved before encryption was available is returned as-is.
func Credentials(ctx context.Context, store Store, enc *crypto.Encryptor) (*models.MailboxSettings, string, error) {
	s, err := store.Load(ctx)
	if err != nil {
		return nil, "", err
	}
	if s.Email == "" || s.EncryptedPassword == "" {
		return nil, "", ErrNotConfigured
	}

	if !crypto.IsToken(s.EncryptedPassword) {
		return s, s.EncryptedPassword, nil
	}

	password, err := enc.DecryptToken(s.EncryptedPassword)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decrypt mailbox password: %w", err)
	}
	return s, password, nil
}

// Apply merges a request into the stored settings and saves the result.
// Empty fields keep their stored values, and so does the masked password placeholder.
func Apply(ctx context.Context, store Store, enc *crypto.Encryptor, req *models.MailboxSettingsRequest) (*models.MailboxSettings, error) {
	s, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}

	if email := strings.TrimSpace(req.Email); email != "" {
		s.Email = email
	}
	if server := strings.TrimSpace(req.IMAPServer); server != "" {
		s.IMAPServer = server
	}
	if req.IMAPPort != 0 {
		if req.IMAPPort < 1 || req.IMAPPort > 65535 {
			return nil, fmt.Errorf("%w %d", ErrInvalidPort, req.IMAPPort)
		}
		s.IMAPPort = req.IMAPPort
	}
	if req.Password != "" && req.Password != models.MaskedPassword {
		token, err := enc.EnsureToken(req.Password)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt mailbox password: %w", err)
		}
		s.EncryptedPassword = token
	}
	s.UpdatedAt = time.Now().UTC()

	if err := store.Save(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Response converts stored settings to the API shape with the password masked.
func Response(s *models.MailboxSettings) *models.MailboxSettingsResponse {
	resp := &models.MailboxSettingsResponse{
		Email:      s.Email,
		IMAPServer: s.IMAPServer,
		IMAPPort:   s.IMAPPort,
	}
	if s.EncryptedPassword != "" {
		resp.Password = models.MaskedPassword
	}
	return resp
}

// FileStore keeps the settings in a JSON document.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) Load(_ context.Context) (*models.MailboxSettings, error) {
	s := models.DefaultMailboxSettings()
	if _, err := jsonfile.Read(f.path, s); err != nil {
		return nil, err
	}
	if s.IMAPServer == "" {
		s.IMAPServer = models.DefaultIMAPServer
	}
	if s.IMAPPort == 0 {
		s.IMAPPort = models.DefaultIMAPPort
	}
	return s, nil
}

func (f *FileStore) Save(_ context.Context, s *models.MailboxSettings) error {
	return jsonfile.Write(f.path, s)
}
