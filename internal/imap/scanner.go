package imap

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/vdavid/listsweep/internal/classify"
	"github.com/vdavid/listsweep/internal/ledger"
	"github.com/vdavid/listsweep/internal/models"
)

const fetchBatchSize = 100

// Scanner finds list mail in the folders of one session.
type Scanner struct {
	mailbox Mailbox
	ledger  *ledger.Ledger
	logger  logrus.FieldLogger
}

func NewScanner(mailbox Mailbox, l *ledger.Ledger, logger logrus.FieldLogger) *Scanner {
	return &Scanner{mailbox: mailbox, ledger: l, logger: logger}
}

// Scan returns one record per message in folder that carries a List-Unsubscribe header,
// newest first, looking at no more than limit messages (0 means all of them).
// Folder and transport problems are logged and end the scan of that folder early;
// only context cancellation is returned as an error.
func (s *Scanner) Scan(ctx context.Context, folder string, limit int) ([]models.Newsletter, error) {
	log := s.logger.WithField("folder", folder)
	newsletters := []models.Newsletter{}

	if err := s.mailbox.Select(folder); err != nil {
		log.WithError(err).Warn("Skipping folder that could not be selected")
		return newsletters, nil
	}

	uids, err := s.mailbox.SearchAll()
	if err != nil {
		log.WithError(err).Warn("Failed to search folder")
		return newsletters, nil
	}

	sort.Slice(uids, func(i, j int) bool { return uids[i] > uids[j] })
	if limit > 0 && len(uids) > limit {
		uids = uids[:limit]
	}

	for start := 0; start < len(uids); start += fetchBatchSize {
		if err := ctx.Err(); err != nil {
			return newsletters, err
		}

		end := min(start+fetchBatchSize, len(uids))
		batch := uids[start:end]

		headers, err := s.mailbox.FetchHeaders(batch)
		var unreadable *UnreadableHeadersError
		if errors.As(err, &unreadable) {
			log.WithError(err).WithField("uids", unreadable.UIDs).Warn("Skipping messages with unreadable headers")
			err = nil
		} else if err != nil {
			log.WithError(err).Warn("Failed to fetch headers, keeping what was scanned")
		}

		for _, uid := range batch {
			raw, ok := headers[uid]
			if !ok {
				continue
			}

			result, err := classify.Classify(raw)
			if err != nil {
				log.WithError(err).WithField("uid", uid).Debug("Skipping unparsable message")
				continue
			}
			if !result.IsNewsletter {
				continue
			}

			newsletters = append(newsletters, models.Newsletter{
				ID:               result.ID,
				MessageUID:       uid,
				From:             result.From,
				FromEmail:        result.FromEmail,
				Subject:          result.Subject,
				Date:             result.Date,
				Folder:           folder,
				UnsubscribeLinks: result.Links,
			})
		}

		if err != nil {
			break
		}
	}

	s.ledger.Annotate(newsletters)
	log.WithField("count", len(newsletters)).Debug("Scanned folder")
	return newsletters, nil
}

// ScanAll scans the folders in order and keeps the first record per sender address,
// compared case-insensitively. onFolder, if set, is called before each folder.
func (s *Scanner) ScanAll(ctx context.Context, folders []string, limit int, onFolder func(index int, folder string)) ([]models.Newsletter, error) {
	var all []models.Newsletter
	for i, folder := range folders {
		if onFolder != nil {
			onFolder(i, folder)
		}
		found, err := s.Scan(ctx, folder, limit)
		all = append(all, found...)
		if err != nil {
			return Dedupe(all), err
		}
	}
	return Dedupe(all), nil
}

// Dedupe keeps the first newsletter for each lowercased sender address.
func Dedupe(newsletters []models.Newsletter) []models.Newsletter {
	seen := make(map[string]struct{}, len(newsletters))
	unique := make([]models.Newsletter, 0, len(newsletters))
	for _, nl := range newsletters {
		sender := strings.ToLower(nl.FromEmail)
		if _, ok := seen[sender]; ok {
			continue
		}
		seen[sender] = struct{}{}
		unique = append(unique, nl)
	}
	return unique
}
