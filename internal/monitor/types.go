// Package monitor defines core types shared across subsystems.
package monitor

import (
	"net/http"
	"time"
)

// TargetType selects the fetch strategy for a target.
type TargetType string

// Supported target types.
const (
	TargetProfile      TargetType = "profile"
	TargetOrganization TargetType = "organization"
	TargetWebsite      TargetType = "website"
)

// Valid reports whether the type is one of the supported values.
func (t TargetType) Valid() bool {
	switch t {
	case TargetProfile, TargetOrganization, TargetWebsite:
		return true
	default:
		return false
	}
}

// Frequency is the check cadence of a target.
type Frequency string

// Supported check frequencies.
const (
	FrequencyHourly Frequency = "hourly"
	FrequencyDaily  Frequency = "daily"
	FrequencyWeekly Frequency = "weekly"
)

// Valid reports whether the frequency is one of the supported values.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyHourly, FrequencyDaily, FrequencyWeekly:
		return true
	default:
		return false
	}
}

// Target is a monitored source.
type Target struct {
	ID           string     `json:"id"`
	URL          string     `json:"url"`
	Type         TargetType `json:"type"`
	Frequency    Frequency  `json:"frequency"`
	LastChecked  *time.Time `json:"last_checked,omitempty"`
	LastSnapshot []byte     `json:"-"`
	Active       bool       `json:"active"`
	// Owner is the notification recipient address. Empty means nobody is notified.
	Owner     string    `json:"owner,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// FetchJob is the queue payload for one monitoring run.
type FetchJob struct {
	TargetID  string     `json:"target_id"`
	URL       string     `json:"url"`
	Type      TargetType `json:"type"`
	Attempt   int        `json:"attempt"`
	Submitted int64      `json:"submitted"`
}

// Next returns a copy of the job with the attempt counter advanced.
func (j FetchJob) Next() FetchJob {
	next := j
	if next.Attempt < 1 {
		next.Attempt = 1
	}
	next.Attempt++
	return next
}

// PageRequest describes a single page retrieval.
type PageRequest struct {
	TargetID string
	URL      string
	Headers  http.Header
}

// PageResponse captures the raw result of a page retrieval.
type PageResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	Strategy   string
}

// ChangeRecord is persisted once per run that detects a notifiable change.
type ChangeRecord struct {
	ID         string    `json:"id"`
	TargetID   string    `json:"target_id"`
	DetectedAt time.Time `json:"detected_at"`
	Severity   Severity  `json:"severity"`
	Summary    string    `json:"summary"`
	KeyChanges []string  `json:"key_changes"`
	Impact     string    `json:"impact,omitempty"`
	Before     string    `json:"before,omitempty"`
	After      string    `json:"after,omitempty"`
	Notified   bool      `json:"notified"`
}

// RunOutcome summarizes how a monitoring run ended.
type RunOutcome string

// Run outcomes recorded per executed job.
const (
	OutcomeBaseline       RunOutcome = "baseline"
	OutcomeUnchanged      RunOutcome = "unchanged"
	OutcomeChanged        RunOutcome = "changed"
	OutcomeChangeRecorded RunOutcome = "change_recorded"
	OutcomeFetchFailed    RunOutcome = "fetch_failed"
	OutcomeRescheduled    RunOutcome = "rescheduled"
	OutcomeFailed         RunOutcome = "failed"
)

// RunRecord is the persisted summary of one executed fetch job.
type RunRecord struct {
	ID         string     `json:"id"`
	TargetID   string     `json:"target_id"`
	Attempt    int        `json:"attempt"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
	Outcome    RunOutcome `json:"outcome"`
	Error      string     `json:"error,omitempty"`
	Trace      []string   `json:"trace"`
}

// Notification is the payload handed to a Notifier.
type Notification struct {
	Recipient  string     `json:"recipient"`
	TargetID   string     `json:"target_id"`
	URL        string     `json:"url"`
	Type       TargetType `json:"type"`
	Severity   Severity   `json:"severity"`
	Summary    string     `json:"summary"`
	KeyChanges []string   `json:"key_changes"`
}
