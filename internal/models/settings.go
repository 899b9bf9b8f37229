package models

import "time"

const (
	// DefaultIMAPServer is the mailbox host used when nothing is configured.
	DefaultIMAPServer = "imap.mail.me.com"
	// DefaultIMAPPort is the implicit-TLS IMAP port.
	DefaultIMAPPort = 993
	// MaskedPassword replaces the stored password in API responses.
	MaskedPassword = "********"
)

// MailboxSettings holds the mailbox address and its encrypted credential.
type MailboxSettings struct {
	Email             string    `json:"email"`
	EncryptedPassword string    `json:"password"`
	IMAPServer        string    `json:"imap_server"`
	IMAPPort          int       `json:"imap_port"`
	UpdatedAt         time.Time `json:"updated_at,omitempty"`
}

// DefaultMailboxSettings returns the settings used before anything is saved.
func DefaultMailboxSettings() *MailboxSettings {
	return &MailboxSettings{
		IMAPServer: DefaultIMAPServer,
		IMAPPort:   DefaultIMAPPort,
	}
}

// MailboxSettingsRequest is the payload for saving mailbox settings.
// Empty fields keep the stored value. A masked password keeps the stored password.
type MailboxSettingsRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	IMAPServer string `json:"imap_server"`
	IMAPPort   int    `json:"imap_port"`
}

// MailboxSettingsResponse never carries the credential, only whether one is set.
type MailboxSettingsResponse struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	IMAPServer string `json:"imap_server"`
	IMAPPort   int    `json:"imap_port"`
}

// LedgerCounts summarizes the processed-state ledger.
type LedgerCounts struct {
	Processed    int `json:"processed"`
	Unsubscribed int `json:"unsubscribed"`
}
