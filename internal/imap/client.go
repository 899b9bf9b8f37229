// Package imap talks to the mailbox: it opens sessions and scans folders for list mail.
package imap

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-imap/client"
)

var (
	// ErrNotConnected is returned when a session is used after logout.
	ErrNotConnected = errors.New("not connected")
	// ErrConnectFailed wraps dial and handshake failures.
	ErrConnectFailed = errors.New("connection failed")
	// ErrAuthFailed wraps login failures.
	ErrAuthFailed = errors.New("authentication failed")
)

// Mailbox is the subset of an IMAP session the scanner and the jobs need.
// A Mailbox is not safe for concurrent use.
type Mailbox interface {
	ListFolders() ([]string, error)
	Select(folder string) error
	SearchAll() ([]uint32, error)
	FetchHeaders(uids []uint32) (map[uint32][]byte, error)
	Delete(folder string, uid uint32) error
	Logout() error
}

// Dialer opens IMAP sessions.
type Dialer struct {
	// UseTLS selects implicit TLS. Plain connections are only meant for tests.
	UseTLS bool
	// Timeout bounds the dial and every command after it.
	Timeout   time.Duration
	TLSConfig *tls.Config
}

// Dial connects and logs in.
func (d Dialer) Dial(host string, port int, username, password string) (*Session, error) {
	timeout := d.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	c, err := connect(net.JoinHostPort(host, strconv.Itoa(port)), d.UseTLS, timeout, d.TLSConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}
	c.Timeout = timeout

	if err := c.Login(username, password); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("%w: %w", ErrAuthFailed, err)
	}

	return &Session{client: c}, nil
}

func connect(addr string, useTLS bool, timeout time.Duration, tlsConfig *tls.Config) (*client.Client, error) {
	dialer := &net.Dialer{
		Timeout: timeout,
	}

	if useTLS {
		c, err := client.DialWithDialerTLS(dialer, addr, tlsConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to dial with TLS: %w", err)
		}
		return c, nil
	}

	c, err := client.DialWithDialer(dialer, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}

	return c, nil
}
