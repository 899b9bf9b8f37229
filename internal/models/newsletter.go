package models

// Links holds the unsubscribe endpoints extracted from a List-Unsubscribe header,
// bucketed by scheme and kept in header order.
type Links struct {
	HTTP   []string `json:"http"`
	Mailto []string `json:"mailto"`
}

// Newsletter is one distinct sender discovered during a scan.
// Processed and Unsubscribed are derived from the ledger whenever the record is listed.
type Newsletter struct {
	ID               string `json:"id"`
	MessageUID       uint32 `json:"message_id,omitempty"`
	From             string `json:"from"`
	FromEmail        string `json:"from_email"`
	Subject          string `json:"subject"`
	Date             string `json:"date"`
	Folder           string `json:"folder"`
	UnsubscribeLinks Links  `json:"unsubscribe_links"`
	Processed        bool   `json:"processed"`
	Unsubscribed     bool   `json:"unsubscribed"`
}

// AttemptStatus is the outcome of a single unsubscribe attempt.
type AttemptStatus string

const (
	StatusSuccess           AttemptStatus = "success"
	StatusNeedsConfirmation AttemptStatus = "needs_confirmation"
	StatusError             AttemptStatus = "error"
)

// Attempt is the result of following one unsubscribe link.
type Attempt struct {
	Link    string        `json:"link"`
	Status  AttemptStatus `json:"status"`
	Message string        `json:"message"`
}

// Outcome is the newsletter-level aggregation of all link attempts.
type Outcome struct {
	NewsletterID string        `json:"newsletter_id"`
	Newsletter   string        `json:"newsletter"`
	Status       AttemptStatus `json:"status"`
	Message      string        `json:"message"`
	Attempts     []Attempt     `json:"attempts,omitempty"`
}
