package jobs

import (
	"sync"

	"github.com/vdavid/listsweep/internal/models"
)

// ScanJob owns the status of the scan job. At most one scan runs at a time.
type ScanJob struct {
	mu     sync.Mutex
	status models.ScanStatus
}

func (j *ScanJob) tryStart(jobID string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Scanning {
		return false
	}
	j.status = models.ScanStatus{
		JobID:       jobID,
		Scanning:    true,
		Message:     "Connecting...",
		Newsletters: []models.Newsletter{},
	}
	return true
}

func (j *ScanJob) update(fn func(*models.ScanStatus)) models.ScanStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	fn(&j.status)
	return j.copyLocked()
}

// Status returns a copy of the current status.
func (j *ScanJob) Status() models.ScanStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.copyLocked()
}

func (j *ScanJob) copyLocked() models.ScanStatus {
	s := j.status
	s.Newsletters = append([]models.Newsletter{}, j.status.Newsletters...)
	return s
}

// UnsubscribeJob owns the status of the unsubscribe job. At most one runs at a time.
type UnsubscribeJob struct {
	mu     sync.Mutex
	status models.UnsubscribeStatus
}

func (j *UnsubscribeJob) tryStart(jobID string, total int) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Running {
		return false
	}
	j.status = models.UnsubscribeStatus{
		JobID:   jobID,
		Running: true,
		Total:   total,
		Results: []models.Outcome{},
	}
	return true
}

func (j *UnsubscribeJob) update(fn func(*models.UnsubscribeStatus)) models.UnsubscribeStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	fn(&j.status)
	return j.copyLocked()
}

// Status returns a copy of the current status.
func (j *UnsubscribeJob) Status() models.UnsubscribeStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.copyLocked()
}

func (j *UnsubscribeJob) copyLocked() models.UnsubscribeStatus {
	s := j.status
	s.Results = append([]models.Outcome{}, j.status.Results...)
	return s
}
