package models

// ScanStatus is the pollable state of the scan job.
type ScanStatus struct {
	JobID       string       `json:"job_id,omitempty"`
	Scanning    bool         `json:"scanning"`
	Progress    int          `json:"progress"`
	Message     string       `json:"message"`
	Newsletters []Newsletter `json:"newsletters"`
}

// UnsubscribeStatus is the pollable state of the unsubscribe job.
type UnsubscribeStatus struct {
	JobID   string    `json:"job_id,omitempty"`
	Running bool      `json:"running"`
	Current int       `json:"current"`
	Total   int       `json:"total"`
	Message string    `json:"message,omitempty"`
	Results []Outcome `json:"results"`
}

// JobStartResponse is returned by endpoints that start a background job.
type JobStartResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
