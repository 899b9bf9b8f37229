package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/vdavid/listsweep/internal/imap"
	"github.com/vdavid/listsweep/internal/settings"
)

// MailboxConnector opens a mailbox session with the stored settings.
type MailboxConnector interface {
	Connect(ctx context.Context) (imap.Mailbox, error)
}

// FoldersHandler lists the selectable folders of the mailbox.
type FoldersHandler struct {
	connector MailboxConnector
	logger    logrus.FieldLogger
}

func NewFoldersHandler(connector MailboxConnector, logger logrus.FieldLogger) *FoldersHandler {
	return &FoldersHandler{connector: connector, logger: logger.WithField("handler", "folders")}
}

// GetFolders returns the folder names, INBOX first and the rest alphabetically.
func (h *FoldersHandler) GetFolders(w http.ResponseWriter, r *http.Request) {
	mailbox, err := h.connector.Connect(r.Context())
	if err != nil {
		h.writeConnectError(w, err)
		return
	}
	defer func() {
		if err := mailbox.Logout(); err != nil {
			h.logger.WithError(err).Debug("Logout after listing folders failed")
		}
	}()

	folders, err := mailbox.ListFolders()
	if err != nil {
		h.logger.WithError(err).Error("Failed to list folders")
		http.Error(w, "Failed to list folders", http.StatusBadGateway)
		return
	}

	sortFolders(folders)
	writeJSON(w, h.logger, http.StatusOK, folders)
}

// writeConnectError maps connection failures to a status and a hint the user can act on.
func (h *FoldersHandler) writeConnectError(w http.ResponseWriter, err error) {
	h.logger.WithError(err).Warn("Failed to connect to mailbox")

	var netErr net.Error
	switch {
	case errors.Is(err, settings.ErrNotConfigured):
		http.Error(w, "Mailbox is not configured", http.StatusBadRequest)
	case errors.Is(err, imap.ErrAuthFailed):
		http.Error(w, "Mailbox login failed. Please check your email address and password.", http.StatusBadGateway)
	case errors.As(err, &netErr) && netErr.Timeout():
		http.Error(w, "Connection to IMAP server timed out. Please double-check your server hostname and try again.", http.StatusServiceUnavailable)
	default:
		http.Error(w, "Failed to connect to IMAP server", http.StatusBadGateway)
	}
}

func sortFolders(folders []string) {
	sort.Slice(folders, func(i, j int) bool {
		inboxI := strings.EqualFold(folders[i], "INBOX")
		inboxJ := strings.EqualFold(folders[j], "INBOX")
		if inboxI != inboxJ {
			return inboxI
		}
		return folders[i] < folders[j]
	})
}
