package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/listsweep/internal/config"
	"github.com/vdavid/listsweep/internal/models"
	"github.com/vdavid/listsweep/internal/testutil"
)

func getTestConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Environment:        "test",
		Port:               "5000",
		LogLevel:           "debug",
		Store:              config.StoreFile,
		DataDir:            t.TempDir(),
		IMAPUseTLS:         false,
		ScanFolders:        []string{"INBOX"},
		ScanLimitPerFolder: 50,
		FetchTimeout:       5 * time.Second,
		BrowserEnabled:     false,
	}
}

func newTestServer(t *testing.T, cfg *config.Config) (*App, *httptest.Server) {
	t.Helper()
	logger, _ := testutil.NewTestLogger()

	stores, err := OpenStores(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(stores.Close)

	server, err := New(context.Background(), cfg, stores, testutil.TestEncryptionKey, logger)
	require.NoError(t, err)

	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)
	return server, ts
}

func doJSON(t *testing.T, method, url string, body any, out any) int {
	t.Helper()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = res.Body.Close() }()

	if out != nil {
		require.NoError(t, json.NewDecoder(res.Body).Decode(out))
	}
	return res.StatusCode
}

func TestHandleRoot(t *testing.T) {
	_, ts := newTestServer(t, getTestConfig(t))

	res, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer func() { _ = res.Body.Close() }()

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "text/plain", res.Header.Get("Content-Type"))
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Equal(t, "listsweep API is running", string(body))
}

func TestScanAndUnsubscribeFlow(t *testing.T) {
	pages := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, "<html><body><p>You have been successfully unsubscribed.</p></body></html>")
	}))
	defer pages.Close()

	imapServer := testutil.NewTestIMAPServer(t)
	imapServer.AddNewsletter(t, "INBOX", testutil.Newsletter{
		From:            "Weekly <news@weekly.example>",
		Subject:         "Issue 12",
		MessageID:       "<issue12@weekly.example>",
		ListUnsubscribe: "<" + pages.URL + "/unsub>, <mailto:leave@weekly.example>",
	})

	server, ts := newTestServer(t, getTestConfig(t))
	api := ts.URL + "/api/v1"

	var saved map[string]any
	status := doJSON(t, http.MethodPost, api+"/config", models.MailboxSettingsRequest{
		Email:      imapServer.Username(),
		Password:   imapServer.Password(),
		IMAPServer: imapServer.Host(),
		IMAPPort:   imapServer.Port(),
	}, &saved)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, saved["success"])

	var cfgResp models.MailboxSettingsResponse
	doJSON(t, http.MethodGet, api+"/config", nil, &cfgResp)
	assert.Equal(t, models.MaskedPassword, cfgResp.Password)
	assert.Equal(t, imapServer.Port(), cfgResp.IMAPPort)

	var tested map[string]any
	doJSON(t, http.MethodPost, api+"/test-connection", nil, &tested)
	assert.Equal(t, true, tested["success"], tested["message"])

	var folders []string
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, api+"/folders", nil, &folders))
	assert.Equal(t, "INBOX", folders[0])

	var started models.JobStartResponse
	assert.Equal(t, http.StatusAccepted, doJSON(t, http.MethodPost, api+"/scan", nil, &started))
	assert.True(t, started.Success)
	server.Runner.Wait()

	var scan models.ScanStatus
	doJSON(t, http.MethodGet, api+"/scan/status", nil, &scan)
	assert.False(t, scan.Scanning)
	assert.Equal(t, 100, scan.Progress)

	var newsletters []models.Newsletter
	doJSON(t, http.MethodGet, api+"/newsletters", nil, &newsletters)
	require.Len(t, newsletters, 1)
	assert.Equal(t, "news@weekly.example", newsletters[0].FromEmail)
	assert.Equal(t, []string{"mailto:leave@weekly.example"}, newsletters[0].UnsubscribeLinks.Mailto)

	assert.Equal(t, http.StatusAccepted, doJSON(t, http.MethodPost, api+"/unsubscribe", map[string]any{
		"ids": []string{newsletters[0].ID},
	}, &started))
	server.Runner.Wait()

	var unsub models.UnsubscribeStatus
	doJSON(t, http.MethodGet, api+"/unsubscribe/status", nil, &unsub)
	require.Len(t, unsub.Results, 1)
	assert.Equal(t, models.StatusSuccess, unsub.Results[0].Status)

	var counts models.LedgerCounts
	doJSON(t, http.MethodGet, api+"/ledger", nil, &counts)
	assert.Equal(t, models.LedgerCounts{Processed: 1, Unsubscribed: 1}, counts)

	doJSON(t, http.MethodGet, api+"/newsletters", nil, &newsletters)
	assert.True(t, newsletters[0].Processed)
	assert.True(t, newsletters[0].Unsubscribed)
}

func TestUnsubscribeWithoutSelection(t *testing.T) {
	_, ts := newTestServer(t, getTestConfig(t))

	var resp models.JobStartResponse
	status := doJSON(t, http.MethodPost, ts.URL+"/api/v1/unsubscribe", map[string]any{"ids": []string{}}, &resp)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.False(t, resp.Success)
	assert.Equal(t, "No newsletters selected", resp.Message)
}

func TestAPIToken(t *testing.T) {
	cfg := getTestConfig(t)
	cfg.APIToken = "secret"
	_, ts := newTestServer(t, cfg)

	res, err := http.Get(ts.URL + "/api/v1/ledger")
	require.NoError(t, err)
	_ = res.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/ledger", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer secret")
	res, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, err = http.Get(ts.URL + "/")
	require.NoError(t, err)
	_ = res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestOpenStoresSQLite(t *testing.T) {
	cfg := getTestConfig(t)
	cfg.Store = config.StoreSQLite
	cfg.SQLitePath = filepath.Join(cfg.DataDir, "listsweep.db")

	stores, err := OpenStores(context.Background(), cfg)
	require.NoError(t, err)
	defer stores.Close()

	s, err := stores.Settings.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.DefaultIMAPServer, s.IMAPServer)
}

func TestEncryptionKey(t *testing.T) {
	t.Run("explicit key wins", func(t *testing.T) {
		cfg := getTestConfig(t)
		cfg.EncryptionKeyBase64 = testutil.TestEncryptionKey

		key, err := EncryptionKey(cfg)
		require.NoError(t, err)
		assert.Equal(t, testutil.TestEncryptionKey, key)
	})

	t.Run("generated key is reused", func(t *testing.T) {
		cfg := getTestConfig(t)
		cfg.KeyringBackend = "file"
		cfg.KeyringDir = filepath.Join(cfg.DataDir, ".keyring")
		cfg.KeyringPassword = "test"

		first, err := EncryptionKey(cfg)
		require.NoError(t, err)
		second, err := EncryptionKey(cfg)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})
}
