package monitor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"
)

// Metadata holds the page-level attributes extracted from a fetch.
type Metadata struct {
	Title         string   `json:"title,omitempty"`
	Description   string   `json:"description,omitempty"`
	OGTitle       string   `json:"og_title,omitempty"`
	OGDescription string   `json:"og_description,omitempty"`
	CanonicalURL  string   `json:"canonical_url,omitempty"`
	Links         []string `json:"links,omitempty"`
	Images        []string `json:"images,omitempty"`
}

// Snapshot is the normalized representation of one fetch. Its serialized
// form carries no fetch timestamp, so unchanged content encodes to the same
// bytes on every run.
type Snapshot struct {
	URL        string         `json:"url"`
	FinalURL   string         `json:"final_url,omitempty"`
	StatusCode int            `json:"status_code,omitempty"`
	Metadata   Metadata       `json:"metadata"`
	Text       string         `json:"text"`
	RichText   string         `json:"rich_text,omitempty"`
	Digest     string         `json:"digest"`
	Record     map[string]any `json:"record,omitempty"`
}

// Encode serializes the snapshot for storage as a target's last snapshot.
func (s Snapshot) Encode() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

// DecodeSnapshot restores a snapshot previously produced by Encode.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return s, nil
}

// Identical reports whether two snapshots serialize to the same bytes.
func Identical(a, b Snapshot) bool {
	left, errA := a.Encode()
	right, errB := b.Encode()
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(left, right)
}

// Truncate cuts s to at most limit bytes without splitting a UTF-8 sequence.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// Verdict is the classifier's structured assessment of two snapshots.
type Verdict struct {
	HasChanges bool      `json:"has_changes"`
	Severity   Severity  `json:"severity"`
	Summary    string    `json:"summary"`
	KeyChanges []string  `json:"key_changes"`
	Impact     string    `json:"impact,omitempty"`
	Analyzer   string    `json:"analyzer,omitempty"`
	AnalyzedAt time.Time `json:"analyzed_at"`
}

// Notifiable reports whether the verdict warrants a change record and notification.
func (v Verdict) Notifiable() bool {
	return v.HasChanges && v.Severity.Notifiable()
}

// ClassifyRequest is sent to the classification collaborator.
type ClassifyRequest struct {
	Type         TargetType `json:"type"`
	OldText      string     `json:"old_text"`
	NewText      string     `json:"new_text"`
	Instructions string     `json:"instructions"`
}

// ClassifyResponse is the collaborator's answer before validation.
type ClassifyResponse struct {
	HasChanges bool     `json:"has_changes"`
	Severity   string   `json:"severity"`
	Summary    string   `json:"summary"`
	KeyChanges []string `json:"key_changes"`
	Impact     string   `json:"impact"`
}
