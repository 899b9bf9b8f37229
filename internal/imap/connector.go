package imap

import (
	"context"

	"github.com/vdavid/listsweep/internal/crypto"
	"github.com/vdavid/listsweep/internal/settings"
)

// Connector opens sessions with the stored mailbox settings.
type Connector struct {
	settings  settings.Store
	encryptor *crypto.Encryptor
	dialer    Dialer
}

func NewConnector(store settings.Store, encryptor *crypto.Encryptor, dialer Dialer) *Connector {
	return &Connector{settings: store, encryptor: encryptor, dialer: dialer}
}

// Connect returns a logged-in session. It fails with settings.ErrNotConfigured
// before dialing when no credentials are stored.
func (c *Connector) Connect(ctx context.Context) (Mailbox, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s, password, err := settings.Credentials(ctx, c.settings, c.encryptor)
	if err != nil {
		return nil, err
	}

	sess, err := c.dialer.Dial(s.IMAPServer, s.IMAPPort, s.Email, password)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// Test connects, logs in and logs out again.
func (c *Connector) Test(ctx context.Context) error {
	mb, err := c.Connect(ctx)
	if err != nil {
		return err
	}
	return mb.Logout()
}
