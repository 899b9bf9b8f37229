// Package jobs runs scans and unsubscribe batches in the background and tracks their progress.
package jobs

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/vdavid/listsweep/internal/imap"
	"github.com/vdavid/listsweep/internal/ledger"
	"github.com/vdavid/listsweep/internal/models"
	"github.com/vdavid/listsweep/internal/unsubscribe"
)

// Event types published to the notifier.
const (
	EventScan        = "scan_status"
	EventUnsubscribe = "unsubscribe_status"
)

// Connector opens a mailbox session.
type Connector interface {
	Connect(ctx context.Context) (imap.Mailbox, error)
}

// Unsubscriber attempts the links of one newsletter and records the result.
type Unsubscriber interface {
	Unsubscribe(ctx context.Context, nl models.Newsletter, autoConfirm bool) ([]models.Attempt, error)
}

// Notifier receives a copy of every status change.
type Notifier interface {
	Publish(kind string, data any)
}

type ScanOptions struct {
	Folders        []string `json:"folders"`
	LimitPerFolder int      `json:"limit_per_folder"`
}

type UnsubscribeOptions struct {
	AutoConfirm    bool `json:"auto_confirm"`
	DeleteMessages bool `json:"delete_messages"`
}

// Runner starts jobs. Jobs run on the runner's context, not the caller's,
// so they outlive the request that started them.
type Runner struct {
	ctx          context.Context
	connector    Connector
	ledger       *ledger.Ledger
	unsubscriber Unsubscriber
	defaults     ScanOptions
	notifier     Notifier
	logger       logrus.FieldLogger

	scanJob        ScanJob
	unsubscribeJob UnsubscribeJob
	wg             sync.WaitGroup
}

func NewRunner(
	ctx context.Context,
	connector Connector,
	l *ledger.Ledger,
	unsubscriber Unsubscriber,
	defaults ScanOptions,
	notifier Notifier,
	logger logrus.FieldLogger,
) *Runner {
	return &Runner{
		ctx:          ctx,
		connector:    connector,
		ledger:       l,
		unsubscriber: unsubscriber,
		defaults:     defaults,
		notifier:     notifier,
		logger:       logger,
	}
}

// Wait blocks until all started jobs have finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) ScanStatus() models.ScanStatus {
	return r.scanJob.Status()
}

func (r *Runner) UnsubscribeStatus() models.UnsubscribeStatus {
	return r.unsubscribeJob.Status()
}

// Newsletters returns the result of the last scan with flags refreshed from the ledger.
func (r *Runner) Newsletters() []models.Newsletter {
	newsletters := r.scanJob.Status().Newsletters
	r.ledger.Annotate(newsletters)
	return newsletters
}

// StartScan starts a scan unless one is running. Zero-valued options fall back to the defaults.
func (r *Runner) StartScan(opts ScanOptions) (bool, string) {
	if len(opts.Folders) == 0 {
		opts.Folders = r.defaults.Folders
	}
	if opts.LimitPerFolder <= 0 {
		opts.LimitPerFolder = r.defaults.LimitPerFolder
	}

	jobID := uuid.NewString()
	if !r.scanJob.tryStart(jobID) {
		return false, "Scan already running"
	}
	r.publishScan(r.scanJob.Status())

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.runScan(jobID, opts)
	}()

	return true, "Scan started"
}

func (r *Runner) runScan(jobID string, opts ScanOptions) {
	log := r.logger.WithFields(logrus.Fields{"job": "scan", "job_id": jobID})

	defer func() {
		if p := recover(); p != nil {
			log.WithField("panic", p).Error("Scan crashed")
			r.setScan(func(s *models.ScanStatus) {
				s.Scanning = false
				s.Message = fmt.Sprintf("Scan failed: %v", p)
			})
		}
	}()

	mailbox, err := r.connector.Connect(r.ctx)
	if err != nil {
		log.WithError(err).Warn("Scan could not connect")
		r.setScan(func(s *models.ScanStatus) {
			s.Scanning = false
			s.Message = err.Error()
		})
		return
	}
	defer func() {
		if err := mailbox.Logout(); err != nil {
			log.WithError(err).Debug("Logout after scan failed")
		}
	}()

	r.setScan(func(s *models.ScanStatus) {
		s.Progress = 20
	})

	scanner := imap.NewScanner(mailbox, r.ledger, log)
	newsletters, err := scanner.ScanAll(r.ctx, opts.Folders, opts.LimitPerFolder, func(i int, folder string) {
		r.setScan(func(s *models.ScanStatus) {
			s.Progress = 20 + 70*i/len(opts.Folders)
			s.Message = fmt.Sprintf("Scanning %s...", folder)
		})
	})
	if err != nil {
		log.WithError(err).Warn("Scan interrupted")
		r.setScan(func(s *models.ScanStatus) {
			s.Scanning = false
			s.Message = fmt.Sprintf("Scan interrupted: %v", err)
			s.Newsletters = newsletters
		})
		return
	}

	r.setScan(func(s *models.ScanStatus) {
		s.Progress = 90
		s.Message = fmt.Sprintf("%d newsletters found", len(newsletters))
		s.Newsletters = newsletters
	})

	r.setScan(func(s *models.ScanStatus) {
		s.Progress = 100
		s.Scanning = false
	})
	log.WithField("newsletters", len(newsletters)).Info("Scan finished")
}

// StartUnsubscribe starts an unsubscribe batch for the given newsletter ids of the last scan.
func (r *Runner) StartUnsubscribe(ids []string, opts UnsubscribeOptions) (bool, string) {
	if r.unsubscribeJob.Status().Running {
		return false, "Unsubscribe already running"
	}
	if len(ids) == 0 {
		return false, "No newsletters selected"
	}

	var selected []models.Newsletter
	for _, nl := range r.scanJob.Status().Newsletters {
		if slices.Contains(ids, nl.ID) {
			selected = append(selected, nl)
		}
	}

	jobID := uuid.NewString()
	if !r.unsubscribeJob.tryStart(jobID, len(selected)) {
		return false, "Unsubscribe already running"
	}
	r.publishUnsubscribe(r.unsubscribeJob.Status())

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.runUnsubscribe(jobID, selected, opts)
	}()

	return true, "Unsubscribe started"
}

func (r *Runner) runUnsubscribe(jobID string, selected []models.Newsletter, opts UnsubscribeOptions) {
	log := r.logger.WithFields(logrus.Fields{"job": "unsubscribe", "job_id": jobID})

	defer func() {
		if p := recover(); p != nil {
			log.WithField("panic", p).Error("Unsubscribe job crashed")
			r.setUnsubscribe(func(s *models.UnsubscribeStatus) {
				s.Running = false
				s.Message = fmt.Sprintf("Unsubscribe failed: %v", p)
			})
		}
	}()

	if err := r.ledger.Reload(r.ctx); err != nil {
		log.WithError(err).Error("Unsubscribe aborted")
		r.setUnsubscribe(func(s *models.UnsubscribeStatus) {
			s.Running = false
			s.Message = err.Error()
		})
		return
	}

	deleter := &messageDeleter{connector: r.connector, ctx: r.ctx}
	defer deleter.close(log)

	counts := map[models.AttemptStatus]int{}
	for i, nl := range selected {
		r.setUnsubscribe(func(s *models.UnsubscribeStatus) {
			s.Current = i + 1
			s.Message = fmt.Sprintf("Unsubscribing from %s", nl.From)
		})

		outcome := r.unsubscribeOne(log, nl, opts.AutoConfirm)
		if opts.DeleteMessages && outcome.Status == models.StatusSuccess && nl.MessageUID != 0 {
			if err := deleter.delete(nl.Folder, nl.MessageUID); err != nil {
				log.WithError(err).WithField("newsletter", nl.ID).Warn("Failed to delete message")
				outcome.Message += "; message deletion failed: " + err.Error()
			} else {
				outcome.Message += "; message deleted"
			}
		}
		counts[outcome.Status]++

		r.setUnsubscribe(func(s *models.UnsubscribeStatus) {
			s.Results = append(s.Results, outcome)
		})
	}

	r.setUnsubscribe(func(s *models.UnsubscribeStatus) {
		s.Running = false
		s.Message = fmt.Sprintf("Done: %d unsubscribed, %d need confirmation, %d failed",
			counts[models.StatusSuccess], counts[models.StatusNeedsConfirmation], counts[models.StatusError])
	})
	log.WithField("total", len(selected)).Info("Unsubscribe finished")
}

// unsubscribeOne turns any failure, including a panic, into an error outcome for the item.
func (r *Runner) unsubscribeOne(log logrus.FieldLogger, nl models.Newsletter, autoConfirm bool) (outcome models.Outcome) {
	defer func() {
		if p := recover(); p != nil {
			log.WithField("panic", p).WithField("newsletter", nl.ID).Error("Unsubscribe crashed")
			outcome = models.Outcome{
				NewsletterID: nl.ID,
				Newsletter:   nl.From,
				Status:       models.StatusError,
				Message:      fmt.Sprintf("%v", p),
			}
		}
	}()

	attempts, err := r.unsubscriber.Unsubscribe(r.ctx, nl, autoConfirm)
	outcome = unsubscribe.Aggregate(nl, attempts)
	if err != nil {
		log.WithError(err).WithField("newsletter", nl.ID).Error("Failed to record unsubscribe")
		outcome.Status = models.StatusError
		outcome.Message = err.Error()
	}
	return outcome
}

func (r *Runner) setScan(fn func(*models.ScanStatus)) {
	r.publishScan(r.scanJob.update(fn))
}

func (r *Runner) setUnsubscribe(fn func(*models.UnsubscribeStatus)) {
	r.publishUnsubscribe(r.unsubscribeJob.update(fn))
}

func (r *Runner) publishScan(status models.ScanStatus) {
	if r.notifier != nil {
		r.notifier.Publish(EventScan, status)
	}
}

func (r *Runner) publishUnsubscribe(status models.UnsubscribeStatus) {
	if r.notifier != nil {
		r.notifier.Publish(EventUnsubscribe, status)
	}
}

// messageDeleter connects on first use and reuses the session for the rest of the batch.
type messageDeleter struct {
	connector Connector
	ctx       context.Context
	mailbox   imap.Mailbox
	err       error
}

func (d *messageDeleter) delete(folder string, uid uint32) error {
	if d.mailbox == nil && d.err == nil {
		d.mailbox, d.err = d.connector.Connect(d.ctx)
	}
	if d.err != nil {
		return d.err
	}
	return d.mailbox.Delete(folder, uid)
}

func (d *messageDeleter) close(log logrus.FieldLogger) {
	if d.mailbox == nil || d.err != nil {
		return
	}
	if err := d.mailbox.Logout(); err != nil {
		log.WithError(err).Debug("Logout after deleting messages failed")
	}
}
