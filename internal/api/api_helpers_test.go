package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/vdavid/listsweep/internal/imap"
	"github.com/vdavid/listsweep/internal/jobs"
	"github.com/vdavid/listsweep/internal/models"
)

func newJSONRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	if body == nil {
		return httptest.NewRequest(method, target, nil)
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Failed to encode request: %v", err)
	}
	req := httptest.NewRequest(method, target, bytes.NewReader(encoded))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rr.Body.String(), err)
	}
	return v
}

type fakeRunner struct {
	mu          sync.Mutex
	scanOpts    *jobs.ScanOptions
	unsubIDs    []string
	unsubOpts   jobs.UnsubscribeOptions
	running     bool
	scan        models.ScanStatus
	unsub       models.UnsubscribeStatus
	newsletters []models.Newsletter
}

func (f *fakeRunner) StartScan(opts jobs.ScanOptions) (bool, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return false, "Scan already running"
	}
	f.scanOpts = &opts
	return true, "Scan started"
}

func (f *fakeRunner) StartUnsubscribe(ids []string, opts jobs.UnsubscribeOptions) (bool, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return false, "Unsubscribe already running"
	}
	if len(ids) == 0 {
		return false, "No newsletters selected"
	}
	f.unsubIDs = ids
	f.unsubOpts = opts
	return true, "Unsubscribe started"
}

func (f *fakeRunner) ScanStatus() models.ScanStatus {
	return f.scan
}

func (f *fakeRunner) UnsubscribeStatus() models.UnsubscribeStatus {
	return f.unsub
}

func (f *fakeRunner) Newsletters() []models.Newsletter {
	return f.newsletters
}

type fakeCounter struct{ counts models.LedgerCounts }

func (f fakeCounter) Counts() models.LedgerCounts {
	return f.counts
}

type fakeTester struct{ err error }

func (f fakeTester) Test(context.Context) error {
	return f.err
}

type fakeConnector struct {
	mailbox imap.Mailbox
	err     error
}

func (f fakeConnector) Connect(context.Context) (imap.Mailbox, error) {
	return f.mailbox, f.err
}

type fakeMailbox struct {
	folders   []string
	listErr   error
	loggedOut bool
}

func (m *fakeMailbox) ListFolders() ([]string, error) {
	return m.folders, m.listErr
}

func (m *fakeMailbox) Select(string) error {
	return nil
}

func (m *fakeMailbox) SearchAll() ([]uint32, error) {
	return nil, nil
}

func (m *fakeMailbox) FetchHeaders([]uint32) (map[uint32][]byte, error) {
	return nil, nil
}

func (m *fakeMailbox) Delete(string, uint32) error {
	return nil
}

func (m *fakeMailbox) Logout() error {
	m.loggedOut = true
	return nil
}
