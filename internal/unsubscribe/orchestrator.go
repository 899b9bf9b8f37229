// Package unsubscribe follows List-Unsubscribe links and decides whether each one worked.
package unsubscribe

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/vdavid/listsweep/internal/ledger"
	"github.com/vdavid/listsweep/internal/models"
)

// Automator clicks through confirmation pages in a real browser.
// It is optional: when Available reports false the orchestrator asks for manual confirmation instead.
type Automator interface {
	Available() bool
	// ClickThrough opens link, clicks the first control whose text matches keywordPattern
	// and returns the page text after the click.
	ClickThrough(ctx context.Context, link, keywordPattern string) (string, error)
}

const (
	msgUnsubscribed  = "Successfully unsubscribed"
	msgAlreadyDone   = "Page confirms the unsubscribe"
	msgAutoConfirmed = "Automatically confirmed"
	msgManual        = "Manual confirmation required"
	msgNoLinks       = "No links found"
)

// Orchestrator attempts the web links of a newsletter one after another
// and records the result in the ledger.
type Orchestrator struct {
	fetcher   Fetcher
	automator Automator
	ledger    *ledger.Ledger
	logger    logrus.FieldLogger
}

func NewOrchestrator(fetcher Fetcher, automator Automator, l *ledger.Ledger, logger logrus.FieldLogger) *Orchestrator {
	return &Orchestrator{fetcher: fetcher, automator: automator, ledger: l, logger: logger}
}

// Unsubscribe tries every web link of the newsletter in header order. Mailto links are ignored.
// The newsletter is recorded as processed, and as unsubscribed when any attempt succeeded,
// before Unsubscribe returns. A failed ledger write is returned together with the attempts.
func (o *Orchestrator) Unsubscribe(ctx context.Context, nl models.Newsletter, autoConfirm bool) ([]models.Attempt, error) {
	log := o.logger.WithFields(logrus.Fields{"newsletter": nl.ID, "from": nl.FromEmail})

	attempts := make([]models.Attempt, 0, len(nl.UnsubscribeLinks.HTTP))
	succeeded := false
	for _, link := range nl.UnsubscribeLinks.HTTP {
		attempt := o.attempt(ctx, link, autoConfirm)
		log.WithFields(logrus.Fields{"link": link, "status": attempt.Status}).Info("Unsubscribe attempt finished")
		if attempt.Status == models.StatusSuccess {
			succeeded = true
		}
		attempts = append(attempts, attempt)
	}

	if err := o.ledger.Record(ctx, nl.ID, succeeded); err != nil {
		return attempts, err
	}
	return attempts, nil
}

func (o *Orchestrator) attempt(ctx context.Context, link string, autoConfirm bool) models.Attempt {
	page, err := o.fetcher.Fetch(ctx, link)
	if err != nil {
		// Timeouts wrap ErrTimeout, so their message starts with "timeout".
		return models.Attempt{Link: link, Status: models.StatusError, Message: err.Error()}
	}

	if page.StatusCode != http.StatusOK {
		return models.Attempt{Link: link, Status: models.StatusError, Message: fmt.Sprintf("HTTP %d", page.StatusCode)}
	}

	analysis := Analyze(page.Body)
	switch {
	case analysis.AlreadyUnsubscribed:
		return models.Attempt{Link: link, Status: models.StatusSuccess, Message: msgAlreadyDone}
	case !analysis.NeedsConfirmation:
		return models.Attempt{Link: link, Status: models.StatusSuccess, Message: msgUnsubscribed}
	case !autoConfirm:
		return needsConfirmation(link, "")
	}

	if o.automator == nil || !o.automator.Available() {
		return needsConfirmation(link, "browser automation unavailable")
	}

	text, err := o.automator.ClickThrough(ctx, link, ConfirmAlternation())
	if err != nil {
		o.logger.WithError(err).WithField("link", link).Warn("Automatic confirmation failed")
		return needsConfirmation(link, "automatic confirmation failed: "+err.Error())
	}

	message := msgAutoConfirmed
	if ContainsSuccessPhrase(text) {
		message += "; page confirms the unsubscribe"
	}
	return models.Attempt{Link: link, Status: models.StatusSuccess, Message: message}
}

func needsConfirmation(link, detail string) models.Attempt {
	message := msgManual + ": " + link
	if detail != "" {
		message += " (" + detail + ")"
	}
	return models.Attempt{Link: link, Status: models.StatusNeedsConfirmation, Message: message}
}

// Aggregate folds the attempts for one newsletter into a single outcome.
// Any success wins, then the first link that needs confirmation, then the first error.
func Aggregate(nl models.Newsletter, attempts []models.Attempt) models.Outcome {
	outcome := models.Outcome{
		NewsletterID: nl.ID,
		Newsletter:   nl.From,
		Attempts:     attempts,
	}

	if len(attempts) == 0 {
		outcome.Status = models.StatusError
		outcome.Message = msgNoLinks
		return outcome
	}

	for _, a := range attempts {
		if a.Status == models.StatusSuccess {
			outcome.Status = models.StatusSuccess
			outcome.Message = msgUnsubscribed
			return outcome
		}
	}

	for _, a := range attempts {
		if a.Status == models.StatusNeedsConfirmation {
			outcome.Status = models.StatusNeedsConfirmation
			outcome.Message = msgManual + " - " + a.Link
			return outcome
		}
	}

	outcome.Status = models.StatusError
	outcome.Message = attempts[0].Message
	return outcome
}
