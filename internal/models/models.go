package models

import (
	"fmt"
	"strings"
	"time"
)

// ApprovalState is the moderation state of a stored mention
type ApprovalState string

const (
	ApprovalPending  ApprovalState = "pending"
	ApprovalApproved ApprovalState = "approved"
	ApprovalRejected ApprovalState = "rejected"
)

// ParseApprovalState converts a configuration value into an ApprovalState.
// Accepts the named states as well as the numeric forms "0" and "1".
func ParseApprovalState(value string) (ApprovalState, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "0", "pending", "hold":
		return ApprovalPending, nil
	case "1", "approved", "approve":
		return ApprovalApproved, nil
	case "rejected", "reject", "spam":
		return ApprovalRejected, nil
	}
	return "", fmt.Errorf("unknown approval state %q", value)
}

// Mention represents one verified webmention stored against a document
type Mention struct {
	ID               string        `json:"id" db:"id"`
	TargetDocumentID string        `json:"target_document_id" db:"document_id"`
	SourceURL        string        `json:"source_url" db:"source_url"`
	Title            string        `json:"title" db:"title"`
	BodyHTML         string        `json:"body_html" db:"body_html"`
	RawBody          string        `json:"-" db:"raw_body"`
	Type             string        `json:"type" db:"type"`
	ApprovalState    ApprovalState `json:"approval_state" db:"approval_state"`
	ParentMentionID  string        `json:"parent_mention_id,omitempty" db:"parent_id"`
	CrossPostLink    string        `json:"crossposting_link,omitempty" db:"crosspost_link"`
	CreatedAt        time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at" db:"updated_at"`
}

// Document is the host's view of a document that can send or receive mentions
type Document struct {
	ID        string `json:"id" db:"id"`
	URL       string `json:"url" db:"url"`
	Content   string `json:"content" db:"content"`
	Format    string `json:"format" db:"format"`
	PingsOpen bool   `json:"pings_open" db:"pings_open"`
}

// DeliveryAttempt tracks outbound retries for a document
type DeliveryAttempt struct {
	DocumentID string    `json:"document_id"`
	TryCount   int       `json:"try_count"`
	NextRunAt  time.Time `json:"next_run_at"`
}

// DiscoveryResult is the outcome of endpoint discovery for a target URL.
// An empty Endpoint means no endpoint was found.
type DiscoveryResult struct {
	Endpoint string `json:"endpoint,omitempty"`
	Via      string `json:"via,omitempty"` // "header", "link" or "anchor"
}

// Found reports whether an endpoint was discovered
func (r DiscoveryResult) Found() bool {
	return r.Endpoint != ""
}

// SendStatus classifies the outcome of a single outbound webmention
type SendStatus string

const (
	SendSent    SendStatus = "sent"
	SendSkipped SendStatus = "skipped"
	SendFailed  SendStatus = "failed"
	SendRetry   SendStatus = "retry"
)

// SendOutcome records what happened when notifying one target
type SendOutcome struct {
	Source     string     `json:"source"`
	Target     string     `json:"target"`
	Endpoint   string     `json:"endpoint,omitempty"`
	Status     SendStatus `json:"status"`
	StatusCode int        `json:"status_code,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	Err        error      `json:"-"`
}
