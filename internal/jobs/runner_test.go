package jobs

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	goimap "github.com/emersion/go-imap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/listsweep/internal/imap"
	"github.com/vdavid/listsweep/internal/ledger"
	"github.com/vdavid/listsweep/internal/models"
	"github.com/vdavid/listsweep/internal/settings"
	"github.com/vdavid/listsweep/internal/testutil"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
	last   map[string]any
}

func (n *recordingNotifier) Publish(kind string, data any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.last == nil {
		n.last = map[string]any{}
	}
	n.events = append(n.events, kind)
	n.last[kind] = data
}

func (n *recordingNotifier) lastOf(kind string) any {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.last[kind]
}

// gatedConnector waits for release before connecting, or fails with err when set.
type gatedConnector struct {
	next    Connector
	release chan struct{}
	err     error
}

func (g *gatedConnector) Connect(ctx context.Context) (imap.Mailbox, error) {
	if g.release != nil {
		<-g.release
	}
	if g.err != nil {
		return nil, g.err
	}
	return g.next.Connect(ctx)
}

type fakeUnsubscriber struct {
	mu       sync.Mutex
	byEmail  map[string][]models.Attempt
	panicFor string
	calls    []string
}

func (f *fakeUnsubscriber) Unsubscribe(_ context.Context, nl models.Newsletter, _ bool) ([]models.Attempt, error) {
	f.mu.Lock()
	f.calls = append(f.calls, nl.FromEmail)
	f.mu.Unlock()
	if nl.FromEmail == f.panicFor {
		panic("boom")
	}
	return f.byEmail[nl.FromEmail], nil
}

type failingReloadStore struct {
	ledger.Store
	fail bool
}

func (s *failingReloadStore) Load(ctx context.Context) (ledger.Snapshot, error) {
	if s.fail {
		return ledger.Snapshot{}, errors.New("ledger unreadable")
	}
	return s.Store.Load(ctx)
}

type fixture struct {
	server       *testutil.TestIMAPServer
	connector    *gatedConnector
	ledgerStore  *failingReloadStore
	ledger       *ledger.Ledger
	unsubscriber *fakeUnsubscriber
	notifier     *recordingNotifier
	runner       *Runner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	server := testutil.NewTestIMAPServer(t)
	server.AddNewsletter(t, "INBOX", testutil.Newsletter{
		From:            "Weekly News <news@weekly.example>",
		Subject:         "This week",
		MessageID:       "<w1@weekly.example>",
		ListUnsubscribe: "<https://weekly.example/unsub>",
	})
	server.AddNewsletter(t, "INBOX", testutil.Newsletter{
		From:            "Deals <deals@shop.example>",
		Subject:         "Sale",
		MessageID:       "<d1@shop.example>",
		ListUnsubscribe: "<https://shop.example/unsub>",
	})

	enc := testutil.GetTestEncryptor(t)
	settingsStore := settings.NewFileStore(filepath.Join(t.TempDir(), "config.json"))
	_, err := settings.Apply(ctx, settingsStore, enc, &models.MailboxSettingsRequest{
		Email:      server.Username(),
		Password:   server.Password(),
		IMAPServer: server.Host(),
		IMAPPort:   server.Port(),
	})
	require.NoError(t, err)

	connector := &gatedConnector{
		next: imap.NewConnector(settingsStore, enc, imap.Dialer{Timeout: 5 * time.Second}),
	}
	store := &failingReloadStore{Store: ledger.NewFileStore(filepath.Join(t.TempDir(), "processed.json"))}
	l, err := ledger.Open(ctx, store)
	require.NoError(t, err)

	logger, _ := testutil.NewTestLogger()
	unsubscriber := &fakeUnsubscriber{byEmail: map[string][]models.Attempt{}}
	notifier := &recordingNotifier{}

	runner := NewRunner(ctx, connector, l, unsubscriber,
		ScanOptions{Folders: []string{"INBOX"}, LimitPerFolder: 50}, notifier, logger)

	return &fixture{
		server:       server,
		connector:    connector,
		ledgerStore:  store,
		ledger:       l,
		unsubscriber: unsubscriber,
		notifier:     notifier,
		runner:       runner,
	}
}

func (f *fixture) scan(t *testing.T) map[string]models.Newsletter {
	t.Helper()
	ok, msg := f.runner.StartScan(ScanOptions{})
	require.True(t, ok, msg)
	f.runner.Wait()

	byEmail := map[string]models.Newsletter{}
	for _, nl := range f.runner.ScanStatus().Newsletters {
		byEmail[nl.FromEmail] = nl
	}
	return byEmail
}

func TestRunner_Scan(t *testing.T) {
	f := newFixture(t)

	ok, msg := f.runner.StartScan(ScanOptions{})
	assert.True(t, ok)
	assert.Equal(t, "Scan started", msg)
	f.runner.Wait()

	status := f.runner.ScanStatus()
	assert.False(t, status.Scanning)
	assert.Equal(t, 100, status.Progress)
	assert.Equal(t, "2 newsletters found", status.Message)
	assert.NotEmpty(t, status.JobID)
	require.Len(t, status.Newsletters, 2)
	for _, nl := range status.Newsletters {
		assert.Equal(t, "INBOX", nl.Folder)
		assert.NotZero(t, nl.MessageUID)
		assert.False(t, nl.Processed)
	}

	last, ok := f.notifier.lastOf(EventScan).(models.ScanStatus)
	require.True(t, ok)
	assert.Equal(t, 100, last.Progress)
	assert.False(t, last.Scanning)
}

func TestRunner_ScanSingleFlight(t *testing.T) {
	f := newFixture(t)
	f.connector.release = make(chan struct{})

	ok, _ := f.runner.StartScan(ScanOptions{})
	require.True(t, ok)

	ok, msg := f.runner.StartScan(ScanOptions{})
	assert.False(t, ok)
	assert.Equal(t, "Scan already running", msg)
	assert.True(t, f.runner.ScanStatus().Scanning)

	close(f.connector.release)
	f.runner.Wait()
	assert.False(t, f.runner.ScanStatus().Scanning)

	ok, _ = f.runner.StartScan(ScanOptions{})
	assert.True(t, ok, "a finished scan can be started again")
	f.runner.Wait()
}

func TestRunner_ScanConnectFailure(t *testing.T) {
	f := newFixture(t)
	f.connector.err = settings.ErrNotConfigured

	ok, _ := f.runner.StartScan(ScanOptions{})
	require.True(t, ok)
	f.runner.Wait()

	status := f.runner.ScanStatus()
	assert.False(t, status.Scanning)
	assert.Equal(t, settings.ErrNotConfigured.Error(), status.Message)
	assert.Empty(t, status.Newsletters)
}

func TestRunner_NewslettersReflectLedger(t *testing.T) {
	f := newFixture(t)
	found := f.scan(t)

	weekly := found["news@weekly.example"]
	require.NoError(t, f.ledger.Record(context.Background(), weekly.ID, true))

	for _, nl := range f.runner.Newsletters() {
		if nl.ID == weekly.ID {
			assert.True(t, nl.Processed)
			assert.True(t, nl.Unsubscribed)
		} else {
			assert.False(t, nl.Processed)
		}
	}
}

func TestRunner_StartUnsubscribeRejects(t *testing.T) {
	f := newFixture(t)

	ok, msg := f.runner.StartUnsubscribe(nil, UnsubscribeOptions{})
	assert.False(t, ok)
	assert.Equal(t, "No newsletters selected", msg)
}

func TestRunner_Unsubscribe(t *testing.T) {
	f := newFixture(t)
	found := f.scan(t)
	weekly := found["news@weekly.example"]
	deals := found["deals@shop.example"]

	f.unsubscriber.byEmail["news@weekly.example"] = []models.Attempt{
		{Link: "https://weekly.example/unsub", Status: models.StatusSuccess, Message: "Successfully unsubscribed"},
	}
	f.unsubscriber.byEmail["deals@shop.example"] = []models.Attempt{
		{Link: "https://shop.example/unsub", Status: models.StatusNeedsConfirmation, Message: "Manual confirmation required"},
	}

	ok, msg := f.runner.StartUnsubscribe([]string{deals.ID, weekly.ID, "unknown"}, UnsubscribeOptions{})
	require.True(t, ok)
	assert.Equal(t, "Unsubscribe started", msg)
	f.runner.Wait()

	status := f.runner.UnsubscribeStatus()
	assert.False(t, status.Running)
	assert.Equal(t, 2, status.Total)
	assert.Equal(t, 2, status.Current)
	require.Len(t, status.Results, 2)
	assert.Equal(t, "Done: 1 unsubscribed, 1 need confirmation, 0 failed", status.Message)

	byID := map[string]models.Outcome{}
	for _, o := range status.Results {
		byID[o.NewsletterID] = o
	}
	assert.Equal(t, models.StatusSuccess, byID[weekly.ID].Status)
	assert.Equal(t, models.StatusNeedsConfirmation, byID[deals.ID].Status)
	assert.Equal(t, "Manual confirmation required - https://shop.example/unsub", byID[deals.ID].Message)

	last, ok := f.notifier.lastOf(EventUnsubscribe).(models.UnsubscribeStatus)
	require.True(t, ok)
	assert.False(t, last.Running)
}

func TestRunner_UnsubscribeDeletesSucceededMessages(t *testing.T) {
	f := newFixture(t)
	found := f.scan(t)
	weekly := found["news@weekly.example"]
	deals := found["deals@shop.example"]

	f.unsubscriber.byEmail["news@weekly.example"] = []models.Attempt{
		{Link: "https://weekly.example/unsub", Status: models.StatusSuccess, Message: "Successfully unsubscribed"},
	}
	f.unsubscriber.byEmail["deals@shop.example"] = []models.Attempt{
		{Link: "https://shop.example/unsub", Status: models.StatusError, Message: "HTTP 500"},
	}

	ok, _ := f.runner.StartUnsubscribe([]string{weekly.ID, deals.ID}, UnsubscribeOptions{DeleteMessages: true})
	require.True(t, ok)
	f.runner.Wait()

	byID := map[string]models.Outcome{}
	for _, o := range f.runner.UnsubscribeStatus().Results {
		byID[o.NewsletterID] = o
	}
	assert.Contains(t, byID[weekly.ID].Message, "message deleted")
	assert.Equal(t, "HTTP 500", byID[deals.ID].Message)

	client, cleanup := f.server.Connect(t)
	defer cleanup()
	_, err := client.Select("INBOX", true)
	require.NoError(t, err)
	uids, err := client.UidSearch(goimap.NewSearchCriteria())
	require.NoError(t, err)
	assert.NotContains(t, uids, weekly.MessageUID)
	assert.Contains(t, uids, deals.MessageUID)
}

func TestRunner_UnsubscribeDeletionFailure(t *testing.T) {
	f := newFixture(t)
	found := f.scan(t)
	weekly := found["news@weekly.example"]

	f.unsubscriber.byEmail["news@weekly.example"] = []models.Attempt{
		{Link: "https://weekly.example/unsub", Status: models.StatusSuccess, Message: "Successfully unsubscribed"},
	}
	f.connector.err = errors.New("mailbox unreachable")

	ok, _ := f.runner.StartUnsubscribe([]string{weekly.ID}, UnsubscribeOptions{DeleteMessages: true})
	require.True(t, ok)
	f.runner.Wait()

	results := f.runner.UnsubscribeStatus().Results
	require.Len(t, results, 1)
	assert.Equal(t, models.StatusSuccess, results[0].Status)
	assert.Contains(t, results[0].Message, "message deletion failed: mailbox unreachable")
}

func TestRunner_UnsubscribeDeletionMailboxGone(t *testing.T) {
	f := newFixture(t)
	found := f.scan(t)
	weekly := found["news@weekly.example"]
	deals := found["deals@shop.example"]

	for _, email := range []string{"news@weekly.example", "deals@shop.example"} {
		f.unsubscriber.byEmail[email] = []models.Attempt{
			{Link: "https://example.com/unsub", Status: models.StatusSuccess, Message: "Successfully unsubscribed"},
		}
	}
	f.server.Close()

	ok, _ := f.runner.StartUnsubscribe([]string{weekly.ID, deals.ID}, UnsubscribeOptions{DeleteMessages: true})
	require.True(t, ok)
	f.runner.Wait()

	status := f.runner.UnsubscribeStatus()
	assert.False(t, status.Running)
	require.Len(t, status.Results, 2)
	for _, o := range status.Results {
		assert.Equal(t, models.StatusSuccess, o.Status)
		assert.Contains(t, o.Message, "message deletion failed")
	}
	assert.Equal(t, "Done: 2 unsubscribed, 0 need confirmation, 0 failed", status.Message)
}

func TestRunner_UnsubscribePanicBecomesError(t *testing.T) {
	f := newFixture(t)
	found := f.scan(t)
	f.unsubscriber.panicFor = "deals@shop.example"
	f.unsubscriber.byEmail["news@weekly.example"] = []models.Attempt{
		{Link: "https://weekly.example/unsub", Status: models.StatusSuccess, Message: "Successfully unsubscribed"},
	}

	ids := []string{found["deals@shop.example"].ID, found["news@weekly.example"].ID}
	ok, _ := f.runner.StartUnsubscribe(ids, UnsubscribeOptions{})
	require.True(t, ok)
	f.runner.Wait()

	status := f.runner.UnsubscribeStatus()
	require.Len(t, status.Results, 2)
	statuses := []models.AttemptStatus{status.Results[0].Status, status.Results[1].Status}
	assert.ElementsMatch(t, []models.AttemptStatus{models.StatusError, models.StatusSuccess}, statuses)
	assert.Len(t, f.unsubscriber.calls, 2, "the batch continues after a crashed item")
}

func TestRunner_UnsubscribeLedgerReloadFailure(t *testing.T) {
	f := newFixture(t)
	found := f.scan(t)
	f.ledgerStore.fail = true

	ok, _ := f.runner.StartUnsubscribe([]string{found["news@weekly.example"].ID}, UnsubscribeOptions{})
	require.True(t, ok)
	f.runner.Wait()

	status := f.runner.UnsubscribeStatus()
	assert.False(t, status.Running)
	assert.Contains(t, status.Message, "ledger unreadable")
	assert.Empty(t, status.Results)
	assert.Empty(t, f.unsubscriber.calls)
}
