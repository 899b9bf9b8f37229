// Package app wires the configured stores, the mailbox connector, the unsubscribe
// pipeline and the HTTP API into one handler.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/vdavid/listsweep/internal/api"
	"github.com/vdavid/listsweep/internal/browser"
	"github.com/vdavid/listsweep/internal/config"
	"github.com/vdavid/listsweep/internal/crypto"
	"github.com/vdavid/listsweep/internal/db"
	"github.com/vdavid/listsweep/internal/imap"
	"github.com/vdavid/listsweep/internal/jobs"
	"github.com/vdavid/listsweep/internal/ledger"
	"github.com/vdavid/listsweep/internal/settings"
	"github.com/vdavid/listsweep/internal/sqlite"
	"github.com/vdavid/listsweep/internal/unsubscribe"
	ws "github.com/vdavid/listsweep/internal/websocket"
)

// Stores holds the ledger and settings backends selected by the config.
type Stores struct {
	Ledger   ledger.Store
	Settings settings.Store
	close    func()
}

// Close releases the backends.
func (s *Stores) Close() {
	s.close()
}

// OpenStores opens the backends named by cfg.Store. PostgreSQL is migrated on open.
func OpenStores(ctx context.Context, cfg *config.Config) (*Stores, error) {
	switch cfg.Store {
	case config.StoreSQLite:
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &Stores{
			Ledger:   store,
			Settings: store.SettingsStore(),
			close:    func() { _ = store.Close() },
		}, nil

	case config.StorePostgres:
		pool, err := db.NewConnection(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := db.Migrate(ctx, pool); err != nil {
			db.CloseConnection(pool)
			return nil, err
		}
		return &Stores{
			Ledger:   db.NewLedgerStore(pool),
			Settings: db.NewSettingsStore(pool),
			close:    func() { db.CloseConnection(pool) },
		}, nil

	default:
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		return &Stores{
			Ledger:   ledger.NewFileStore(cfg.LedgerPath()),
			Settings: settings.NewFileStore(cfg.SettingsPath()),
			close:    func() {},
		}, nil
	}
}

// EncryptionKey returns the configured key, or the one persisted in the keyring.
func EncryptionKey(cfg *config.Config) (string, error) {
	if cfg.EncryptionKeyBase64 != "" {
		return cfg.EncryptionKeyBase64, nil
	}

	ring, err := crypto.OpenKeyring(crypto.KeyringOptions{
		Backend:      cfg.KeyringBackend,
		FileDir:      cfg.KeyringDir,
		FilePassword: cfg.KeyringPassword,
	})
	if err != nil {
		return "", err
	}
	return crypto.LoadOrCreateKey(ring)
}

// App is the wired application.
type App struct {
	Handler http.Handler
	Runner  *jobs.Runner
	Hub     *ws.Hub
}

// New wires the application. Jobs run on ctx and stop when it is cancelled.
func New(ctx context.Context, cfg *config.Config, stores *Stores, key string, logger *logrus.Logger) (*App, error) {
	encryptor, err := crypto.NewEncryptor(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create encryptor: %w", err)
	}

	l, err := ledger.Open(ctx, stores.Ledger)
	if err != nil {
		return nil, err
	}
	logger.WithFields(logrus.Fields{
		"processed":    l.Counts().Processed,
		"unsubscribed": l.Counts().Unsubscribed,
	}).Info("Ledger loaded")

	var automator unsubscribe.Automator = browser.Unavailable{}
	if cfg.BrowserEnabled {
		browserCfg := browser.DefaultConfig()
		browserCfg.ExecPath = cfg.BrowserPath
		browserCfg.Headless = cfg.BrowserHeadless
		browserCfg.Timeout = cfg.BrowserTimeout
		automator = browser.NewChrome(browserCfg, logger.WithField("component", "browser"))
	}

	orchestrator := unsubscribe.NewOrchestrator(
		unsubscribe.NewHTTPFetcher(cfg.FetchTimeout),
		automator,
		l,
		logger.WithField("component", "unsubscribe"),
	)

	connector := imap.NewConnector(stores.Settings, encryptor, imap.Dialer{UseTLS: cfg.IMAPUseTLS})
	hub := ws.NewHub(10, logger.WithField("component", "websocket"))

	runner := jobs.NewRunner(ctx, connector, l, orchestrator,
		jobs.ScanOptions{Folders: cfg.ScanFolders, LimitPerFolder: cfg.ScanLimitPerFolder},
		hub,
		logger.WithField("component", "jobs"),
	)

	handler := api.NewRouter(api.Handlers{
		Config:    api.NewConfigHandler(stores.Settings, encryptor, connector, logger),
		Folders:   api.NewFoldersHandler(connector, logger),
		Jobs:      api.NewJobsHandler(runner, l, logger),
		WebSocket: api.NewWebSocketHandler(hub, logger),
	}, cfg.APIToken, logger)

	return &App{Handler: handler, Runner: runner, Hub: hub}, nil
}
