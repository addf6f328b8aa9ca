package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status enumerates the publication states a content record moves through.
type Status string

const (
	StatusDraft          Status = "draft"
	StatusScheduled      Status = "scheduled"
	StatusReadyToPublish Status = "ready_to_publish"
	StatusPublished      Status = "published"
	StatusUnknown        Status = "unknown"
)

// ContentRecord is the pipeline's transient copy of a record store entry.
type ContentRecord struct {
	ID                 string
	Title              string
	Body               string
	SEOSummary         string
	PrimaryKeyword     string
	AdditionalKeywords string
	Status             Status
	// RawStatus keeps the store value so unknown statuses pass through untouched.
	RawStatus    string
	PublishAt    *time.Time
	RemotePostID string
	CreatedAt    time.Time
}

// FocusKeywords joins the primary keyword with the additional ones verbatim.
func (r ContentRecord) FocusKeywords() string {
	if r.AdditionalKeywords == "" {
		return r.PrimaryKeyword
	}
	return r.PrimaryKeyword + ", " + r.AdditionalKeywords
}

// AlreadyPublished reports whether the CMS already holds a post for the record.
func (r ContentRecord) AlreadyPublished() bool {
	return strings.TrimSpace(r.RemotePostID) != ""
}

// Mode selects which records a pipeline run considers and how they are posted.
type Mode string

const (
	ModeImmediate Mode = "immediate"
	ModeScheduled Mode = "scheduled"
)

// ParseMode accepts the CLI/HTTP spelling of a mode; empty means scheduled.
func ParseMode(value string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "scheduled", "batch", "due":
		return ModeScheduled, nil
	case "immediate", "now", "publish":
		return ModeImmediate, nil
	default:
		return "", fmt.Errorf("unknown mode %q", value)
	}
}

// Outcome describes what happened to one record during a cycle.
type Outcome string

const (
	OutcomePublished       Outcome = "published"
	OutcomeSkipped         Outcome = "skipped"
	OutcomePublishFailed   Outcome = "publish_failed"
	OutcomeReconcileFailed Outcome = "reconcile_failed"
	OutcomeStoreFailed     Outcome = "store_failed"
)

// RecordResult is the per-record entry of a cycle summary.
type RecordResult struct {
	RecordID     string  `json:"recordId"`
	Title        string  `json:"title,omitempty"`
	Outcome      Outcome `json:"outcome"`
	RemotePostID string  `json:"remotePostId,omitempty"`
	Reason       string  `json:"reason,omitempty"`
	Err          error   `json:"-"`
}

// CycleSummary is returned by every pipeline invocation.
type CycleSummary struct {
	CycleID    string         `json:"cycleId"`
	Mode       Mode           `json:"mode"`
	StartedAt  time.Time      `json:"startedAt"`
	FinishedAt time.Time      `json:"finishedAt"`
	Fetched    int            `json:"fetched"`
	Published  int            `json:"published"`
	Skipped    int            `json:"skipped"`
	Failed     int            `json:"failed"`
	Results    []RecordResult `json:"results"`
}

// Add appends a record result and updates the counters.
func (s *CycleSummary) Add(result RecordResult) {
	switch result.Outcome {
	case OutcomePublished:
		s.Published++
	case OutcomeSkipped:
		s.Skipped++
	default:
		s.Failed++
	}
	s.Results = append(s.Results, result)
}

// FirstError returns the first record-level error, if any.
func (s CycleSummary) FirstError() error {
	for _, r := range s.Results {
		if r.Err != nil {
			return r.Err
		}
	}
	return nil
}
