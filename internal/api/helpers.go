// Package api exposes the scan and unsubscribe jobs over HTTP.
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"
)

// actionResponse is returned by endpoints that perform or start an action.
type actionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// writeJSON encodes v to a buffer first so a failed encoding never produces a partial body.
func writeJSON(w http.ResponseWriter, logger logrus.FieldLogger, status int, v any) bool {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		logger.WithError(err).Error("Failed to encode response")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return false
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		logger.WithError(err).Warn("Failed to write response")
		return false
	}
	return true
}

func writeAction(w http.ResponseWriter, logger logrus.FieldLogger, status int, success bool, message string) {
	writeJSON(w, logger, status, actionResponse{Success: success, Message: message})
}

// decodeJSON decodes an optional JSON body. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
