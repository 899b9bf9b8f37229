package testutil

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend/memory"
	imapclient "github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/server"
)

// TestIMAPServer represents a test IMAP server instance.
type TestIMAPServer struct {
	Server   *server.Server
	Address  string
	Backend  *memory.Backend
	cleanup  func()
	username string
	password string
}

// NewTestIMAPServer starts a plain-text IMAP server backed by memory on a random local port.
// The memory backend has one user, "username" / "password", whose INBOX holds a single
// ordinary message without a List-Unsubscribe header.
func NewTestIMAPServer(t *testing.T) *TestIMAPServer {
	t.Helper()

	be := memory.New()

	s := server.New(be)
	s.AllowInsecureAuth = true

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	go func() {
		if err := s.Serve(listener); err != nil {
			t.Logf("IMAP server error: %v", err)
		}
	}()

	// Give server time to start
	time.Sleep(100 * time.Millisecond)

	srv := &TestIMAPServer{
		Server:   s,
		Address:  listener.Addr().String(),
		Backend:  be,
		username: "username",
		password: "password",
	}
	srv.cleanup = func() {
		_ = s.Close()
	}
	t.Cleanup(srv.Close)

	return srv
}

// Close shuts down the test IMAP server. Calling it twice is harmless.
func (s *TestIMAPServer) Close() {
	if s.cleanup != nil {
		s.cleanup()
		s.cleanup = nil
	}
}

func (s *TestIMAPServer) Username() string {
	return s.username
}

func (s *TestIMAPServer) Password() string {
	return s.password
}

// Host returns the host part of the listening address.
func (s *TestIMAPServer) Host() string {
	host, _, _ := net.SplitHostPort(s.Address)
	return host
}

// Port returns the port part of the listening address.
func (s *TestIMAPServer) Port() int {
	_, port, _ := net.SplitHostPort(s.Address)
	p, _ := strconv.Atoi(port)
	return p
}

// Connect creates a new logged-in IMAP client connection to the test server.
func (s *TestIMAPServer) Connect(t *testing.T) (*imapclient.Client, func()) {
	t.Helper()

	client, err := imapclient.Dial(s.Address)
	if err != nil {
		t.Fatalf("Failed to connect to test server: %v", err)
	}

	if err := client.Login(s.username, s.password); err != nil {
		_ = client.Logout()
		t.Fatalf("Failed to login: %v", err)
	}

	cleanup := func() {
		_ = client.Logout()
	}

	return client, cleanup
}

// EnsureFolder creates the folder unless it already exists.
func (s *TestIMAPServer) EnsureFolder(t *testing.T, name string) {
	t.Helper()

	client, cleanup := s.Connect(t)
	defer cleanup()

	if _, err := client.Select(name, true); err == nil {
		return
	}
	if err := client.Create(name); err != nil {
		t.Fatalf("Failed to create folder %s: %v", name, err)
	}
}

// AddRawMessage appends a raw RFC 822 message to the folder and returns its UID.
func (s *TestIMAPServer) AddRawMessage(t *testing.T, folderName, raw string) uint32 {
	t.Helper()

	client, cleanup := s.Connect(t)
	defer cleanup()

	raw = strings.ReplaceAll(strings.ReplaceAll(raw, "\r\n", "\n"), "\n", "\r\n")
	if err := client.Append(folderName, nil, time.Now(), strings.NewReader(raw)); err != nil {
		t.Fatalf("Failed to append message: %v", err)
	}

	if _, err := client.Select(folderName, true); err != nil {
		t.Fatalf("Failed to select folder: %v", err)
	}
	uids, err := client.UidSearch(imap.NewSearchCriteria())
	if err != nil {
		t.Fatalf("Failed to search for message: %v", err)
	}
	if len(uids) == 0 {
		t.Fatalf("Message not found after append")
	}

	highest := uids[0]
	for _, uid := range uids {
		if uid > highest {
			highest = uid
		}
	}
	return highest
}

// Newsletter describes a list message for AddNewsletter.
// An empty MessageID leaves the Message-ID header out.
type Newsletter struct {
	From            string
	Subject         string
	MessageID       string
	ListUnsubscribe string
	Date            time.Time
}

// AddNewsletter appends a message carrying a List-Unsubscribe header and returns its UID.
func (s *TestIMAPServer) AddNewsletter(t *testing.T, folderName string, n Newsletter) uint32 {
	t.Helper()

	date := n.Date
	if date.IsZero() {
		date = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	}

	var b strings.Builder
	if n.MessageID != "" {
		fmt.Fprintf(&b, "Message-ID: %s\n", n.MessageID)
	}
	fmt.Fprintf(&b, "Date: %s\n", date.Format(time.RFC1123Z))
	fmt.Fprintf(&b, "From: %s\n", n.From)
	b.WriteString("To: username@example.org\n")
	fmt.Fprintf(&b, "Subject: %s\n", n.Subject)
	if n.ListUnsubscribe != "" {
		fmt.Fprintf(&b, "List-Unsubscribe: %s\n", n.ListUnsubscribe)
	}
	b.WriteString("Content-Type: text/plain; charset=utf-8\n\nNewsletter body.\n")

	return s.AddRawMessage(t, folderName, b.String())
}
