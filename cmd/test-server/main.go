// Command test-server runs listsweep against a seeded in-memory IMAP server and a local
// site of unsubscribe pages, for end-to-end tests and manual poking.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/emersion/go-imap/backend/memory"
	imapclient "github.com/emersion/go-imap/client"
	imapserver "github.com/emersion/go-imap/server"
	"github.com/sirupsen/logrus"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/vdavid/listsweep/internal/app"
	"github.com/vdavid/listsweep/internal/config"
	"github.com/vdavid/listsweep/internal/crypto"
	"github.com/vdavid/listsweep/internal/models"
	"github.com/vdavid/listsweep/internal/settings"
)

// The memory backend's only user.
const (
	imapUsername = "username"
	imapPassword = "password"
)

const testEncryptionKey = "dGVzdC1rZXktMTIzNDU2Nzg5MDEyMzQ1Njc4OTAxMjM="

func main() {
	store := flag.String("store", config.StoreFile, "storage backend: file, sqlite or postgres (started in a container)")
	port := flag.String("port", "5000", "HTTP port")
	flag.Parse()

	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *store, *port, logger); err != nil {
		logger.WithError(err).Fatal("Test server failed")
	}
}

func run(ctx context.Context, store, port string, logger *logrus.Logger) error {
	dataDir, err := os.MkdirTemp("", "listsweep-test-server-")
	if err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(dataDir) }()

	cfg := &config.Config{
		Environment:         "test",
		Port:                port,
		LogLevel:            "debug",
		EncryptionKeyBase64: testEncryptionKey,
		Store:               store,
		DataDir:             dataDir,
		SQLitePath:          dataDir + "/listsweep.db",
		IMAPUseTLS:          false,
		ScanFolders:         []string{"INBOX", "Junk"},
		ScanLimitPerFolder:  200,
		FetchTimeout:        5 * time.Second,
		BrowserEnabled:      os.Getenv("LISTSWEEP_BROWSER_ENABLED") == "true",
		BrowserHeadless:     true,
		BrowserTimeout:      15 * time.Second,
	}

	if store == config.StorePostgres {
		terminate, err := startPostgres(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer terminate()
	}

	pages, err := startPageServer(logger)
	if err != nil {
		return err
	}
	defer func() { _ = pages.Close() }()

	imapAddr, closeIMAP, err := startIMAPServer(logger)
	if err != nil {
		return err
	}
	defer closeIMAP()

	if err := seedMailbox(imapAddr, "http://"+pages.Addr); err != nil {
		return fmt.Errorf("failed to seed mailbox: %w", err)
	}

	stores, err := app.OpenStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer stores.Close()

	if err := seedSettings(ctx, stores.Settings, imapAddr); err != nil {
		return fmt.Errorf("failed to seed settings: %w", err)
	}

	application, err := app.New(ctx, cfg, stores, cfg.EncryptionKeyBase64, logger)
	if err != nil {
		return err
	}

	httpServer := &http.Server{Addr: ":" + cfg.Port, Handler: application.Handler, ReadHeaderTimeout: 10 * time.Second}
	serverErr := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	logger.WithFields(logrus.Fields{
		"address":    httpServer.Addr,
		"imap":       imapAddr,
		"pages":      pages.Addr,
		"store":      store,
		"imap_login": imapUsername + " / " + imapPassword,
	}).Info("Test server ready. Press Ctrl+C to stop.")

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	application.Runner.Wait()
	return nil
}

// startPostgres starts a throwaway database and points cfg at it.
func startPostgres(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) (func(), error) {
	logger.Info("Starting test Postgres database...")
	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("listsweep_test"),
		postgres.WithUsername("listsweep"),
		postgres.WithPassword("listsweep"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start Postgres container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(context.Background())
		return nil, fmt.Errorf("failed to get Postgres host: %w", err)
	}
	mapped, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		_ = container.Terminate(context.Background())
		return nil, fmt.Errorf("failed to get Postgres port: %w", err)
	}

	cfg.DBHost = host
	cfg.DBPort = mapped.Port()
	cfg.DBUsername = "listsweep"
	cfg.DBPassword = "listsweep"
	cfg.DBName = "listsweep_test"
	cfg.DBSSLMode = "disable"

	return func() {
		if err := container.Terminate(context.Background()); err != nil {
			logger.WithError(err).Warn("Failed to terminate Postgres container")
		}
	}, nil
}

func startIMAPServer(logger logrus.FieldLogger) (string, func(), error) {
	s := imapserver.New(memory.New())
	s.AllowInsecureAuth = true

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", nil, fmt.Errorf("failed to listen for IMAP: %w", err)
	}
	go func() {
		if err := s.Serve(listener); err != nil {
			logger.WithError(err).Debug("IMAP server stopped")
		}
	}()

	return listener.Addr().String(), func() { _ = s.Close() }, nil
}

// Unsubscribe pages, one per outcome the orchestrator distinguishes.
const (
	pageDone    = `<html><body><h1>You have been successfully unsubscribed.</h1></body></html>`
	pageConfirm = `<html><body><p>Do you really want to leave?</p>
<form method="post" action="/confirm/done"><button type="submit">Unsubscribe</button></form></body></html>`
	pageGerman = `<html><body><p>Sie wurden erfolgreich abgemeldet.</p></body></html>`
	pagePlain  = `<html><body><p>Thanks for reading.</p></body></html>`
)

func startPageServer(logger logrus.FieldLogger) (*http.Server, error) {
	mux := http.NewServeMux()
	page := func(body string) http.HandlerFunc {
		return func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = fmt.Fprint(w, body)
		}
	}
	mux.Handle("/done", page(pageDone))
	mux.Handle("/confirm", page(pageConfirm))
	mux.Handle("/confirm/done", page(pageDone))
	mux.Handle("/de", page(pageGerman))
	mux.Handle("/plain", page(pagePlain))
	mux.HandleFunc("/broken", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(30 * time.Second):
		case <-r.Context().Done():
		}
	})

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to listen for pages: %w", err)
	}
	srv := &http.Server{Addr: listener.Addr().String(), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("Page server stopped")
		}
	}()
	return srv, nil
}

type seedMessage struct {
	folder      string
	from        string
	subject     string
	messageID   string
	unsubscribe string
}

func seedMailbox(addr, pagesURL string) error {
	c, err := imapclient.Dial(addr)
	if err != nil {
		return err
	}
	defer func() { _ = c.Logout() }()

	if err := c.Login(imapUsername, imapPassword); err != nil {
		return err
	}
	if err := c.Create("Junk"); err != nil && !strings.Contains(err.Error(), "exists") {
		return err
	}

	messages := []seedMessage{
		{"INBOX", "Weekly Digest <digest@weekly.example>", "Your weekly digest", "<digest-1@weekly.example>",
			fmt.Sprintf("<%s/done>, <mailto:leave@weekly.example>", pagesURL)},
		{"INBOX", "Shop <news@shop.example>", "=?UTF-8?Q?Gro=C3=9Fer_Sale?=", "<sale-1@shop.example>",
			fmt.Sprintf("<%s/confirm>", pagesURL)},
		{"INBOX", "Blog <posts@blog.example>", "New post", "<post-1@blog.example>",
			fmt.Sprintf("<%s/plain>", pagesURL)},
		{"INBOX", "Verein <info@verein.example>", "Rundbrief", "<rb-1@verein.example>",
			fmt.Sprintf("<%s/de>", pagesURL)},
		{"INBOX", "Broken <hello@broken.example>", "Oops", "<b-1@broken.example>",
			fmt.Sprintf("<%s/broken>, <%s/slow>", pagesURL, pagesURL)},
		{"INBOX", "Mail Only <list@mailonly.example>", "Mailto only", "", "<mailto:unsubscribe@mailonly.example>"},
		{"Junk", "Weekly Digest <digest@weekly.example>", "Your weekly digest (older)", "<digest-0@weekly.example>",
			fmt.Sprintf("<%s/done>", pagesURL)},
		{"Junk", "Promo <promo@spam.example>", "You won", "<promo-1@spam.example>",
			fmt.Sprintf("<%s/done>", pagesURL)},
	}

	date := time.Now().Add(-time.Duration(len(messages)) * time.Hour)
	for _, m := range messages {
		date = date.Add(time.Hour)
		if err := c.Append(m.folder, nil, date, strings.NewReader(rawMessage(m, date))); err != nil {
			return fmt.Errorf("failed to append %q: %w", m.subject, err)
		}
	}
	return nil
}

func rawMessage(m seedMessage, date time.Time) string {
	var b strings.Builder
	if m.messageID != "" {
		fmt.Fprintf(&b, "Message-ID: %s\r\n", m.messageID)
	}
	fmt.Fprintf(&b, "Date: %s\r\n", date.Format(time.RFC1123Z))
	fmt.Fprintf(&b, "From: %s\r\n", m.from)
	fmt.Fprintf(&b, "To: %s@example.org\r\n", imapUsername)
	fmt.Fprintf(&b, "Subject: %s\r\n", m.subject)
	fmt.Fprintf(&b, "List-Unsubscribe: %s\r\n", m.unsubscribe)
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\nHello.\r\n")
	return b.String()
}

func seedSettings(ctx context.Context, store settings.Store, imapAddr string) error {
	host, portStr, err := net.SplitHostPort(imapAddr)
	if err != nil {
		return err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return err
	}

	enc, err := crypto.NewEncryptor(testEncryptionKey)
	if err != nil {
		return err
	}
	_, err = settings.Apply(ctx, store, enc, &models.MailboxSettingsRequest{
		Email:      imapUsername,
		Password:   imapPassword,
		IMAPServer: host,
		IMAPPort:   port,
	})
	return err
}
