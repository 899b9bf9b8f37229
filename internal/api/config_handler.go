package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/vdavid/listsweep/internal/crypto"
	"github.com/vdavid/listsweep/internal/models"
	"github.com/vdavid/listsweep/internal/settings"
)

// ConnectionTester checks the stored mailbox credentials.
type ConnectionTester interface {
	Test(ctx context.Context) error
}

// ConfigHandler serves the mailbox settings and the connection test.
type ConfigHandler struct {
	store     settings.Store
	encryptor *crypto.Encryptor
	tester    ConnectionTester
	logger    logrus.FieldLogger
}

func NewConfigHandler(store settings.Store, encryptor *crypto.Encryptor, tester ConnectionTester, logger logrus.FieldLogger) *ConfigHandler {
	return &ConfigHandler{
		store:     store,
		encryptor: encryptor,
		tester:    tester,
		logger:    logger.WithField("handler", "config"),
	}
}

// GetConfig returns the stored settings with the password masked.
func (h *ConfigHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	s, err := h.store.Load(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to load settings")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, settings.Response(s))
}

// PostConfig merges the request into the stored settings.
func (h *ConfigHandler) PostConfig(w http.ResponseWriter, r *http.Request) {
	var req models.MailboxSettingsRequest
	if err := decodeJSON(r, &req); err != nil {
		h.logger.WithError(err).Debug("Invalid settings request")
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if _, err := settings.Apply(r.Context(), h.store, h.encryptor, &req); err != nil {
		if errors.Is(err, settings.ErrInvalidPort) {
			writeAction(w, h.logger, http.StatusBadRequest, false, err.Error())
			return
		}
		h.logger.WithError(err).Error("Failed to save settings")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.logger.Info("Mailbox settings saved")
	writeAction(w, h.logger, http.StatusOK, true, "Configuration saved")
}

// TestConnection logs in to the mailbox with the stored settings and logs out again.
// A failed login is reported in the body, not as an HTTP error.
func (h *ConfigHandler) TestConnection(w http.ResponseWriter, r *http.Request) {
	err := h.tester.Test(r.Context())
	switch {
	case err == nil:
		writeAction(w, h.logger, http.StatusOK, true, "Connection successful")
	case errors.Is(err, settings.ErrNotConfigured):
		writeAction(w, h.logger, http.StatusOK, false, "Mailbox is not configured")
	default:
		h.logger.WithError(err).Info("Connection test failed")
		writeAction(w, h.logger, http.StatusOK, false, err.Error())
	}
}
