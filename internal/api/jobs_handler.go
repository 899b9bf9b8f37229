package api

import (
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/vdavid/listsweep/internal/jobs"
	"github.com/vdavid/listsweep/internal/models"
)

// JobRunner starts the background jobs and reports their state.
type JobRunner interface {
	StartScan(opts jobs.ScanOptions) (bool, string)
	StartUnsubscribe(ids []string, opts jobs.UnsubscribeOptions) (bool, string)
	ScanStatus() models.ScanStatus
	UnsubscribeStatus() models.UnsubscribeStatus
	Newsletters() []models.Newsletter
}

// LedgerCounter reports how many newsletters have been processed.
type LedgerCounter interface {
	Counts() models.LedgerCounts
}

// JobsHandler serves the scan and unsubscribe endpoints.
type JobsHandler struct {
	runner JobRunner
	ledger LedgerCounter
	logger logrus.FieldLogger
}

func NewJobsHandler(runner JobRunner, ledger LedgerCounter, logger logrus.FieldLogger) *JobsHandler {
	return &JobsHandler{runner: runner, ledger: ledger, logger: logger.WithField("handler", "jobs")}
}

type unsubscribeRequest struct {
	IDs []string `json:"ids"`
	jobs.UnsubscribeOptions
}

// StartScan starts a scan. The body is optional.
func (h *JobsHandler) StartScan(w http.ResponseWriter, r *http.Request) {
	var opts jobs.ScanOptions
	if err := decodeJSON(r, &opts); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	ok, message := h.runner.StartScan(opts)
	if !ok {
		writeAction(w, h.logger, http.StatusConflict, false, message)
		return
	}
	writeAction(w, h.logger, http.StatusAccepted, true, message)
}

func (h *JobsHandler) ScanStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, h.runner.ScanStatus())
}

// Newsletters returns the last scan result with the ledger flags as they are now.
func (h *JobsHandler) Newsletters(w http.ResponseWriter, _ *http.Request) {
	newsletters := h.runner.Newsletters()
	if newsletters == nil {
		newsletters = []models.Newsletter{}
	}
	writeJSON(w, h.logger, http.StatusOK, newsletters)
}

func (h *JobsHandler) StartUnsubscribe(w http.ResponseWriter, r *http.Request) {
	var req unsubscribeRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	ok, message := h.runner.StartUnsubscribe(req.IDs, req.UnsubscribeOptions)
	switch {
	case ok:
		writeAction(w, h.logger, http.StatusAccepted, true, message)
	case len(req.IDs) == 0:
		writeAction(w, h.logger, http.StatusBadRequest, false, message)
	default:
		writeAction(w, h.logger, http.StatusConflict, false, message)
	}
}

func (h *JobsHandler) UnsubscribeStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, h.runner.UnsubscribeStatus())
}

func (h *JobsHandler) Ledger(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, h.ledger.Counts())
}
