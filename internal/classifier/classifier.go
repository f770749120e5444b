// Package classifier decides whether two snapshots differ meaningfully.
//
// Identical snapshots short-circuit without calling the collaborator. Any
// collaborator failure degrades to a deterministic field-level heuristic, so
// Classify always returns a usable verdict.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/change-monitor/internal/metrics"
	"github.com/JakeFAU/change-monitor/internal/monitor"
)

// Analyzer names recorded on verdicts.
const (
	AnalyzerIdentity     = "identity"
	AnalyzerHeuristic    = "heuristic"
	AnalyzerCollaborator = "collaborator"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultMaxExcerpt = 3000
)

var instructions = map[monitor.TargetType]string{
	monitor.TargetProfile: `You compare two versions of a professional profile.
Report career changes, new positions, certifications, education and location changes.
Severity guide:
- New jobs or job title changes: high
- New certifications or education: medium
- Headline or bio changes: low`,
	monitor.TargetOrganization: `You compare two versions of an organization page.
Report growth, new posts and other updates.
Severity guide:
- Employee count or location changes: high
- New posts or updates: medium
- Follower count changes: low`,
	monitor.TargetWebsite: `You compare two versions of a web page.
Report content changes and updates.
Severity guide:
- Major content changes: high
- New sections or articles: medium
- Title or metadata changes: low`,
}

const genericInstructions = "You compare two versions of a data record and report meaningful differences."

// Instructions returns the classification guidance for a target type.
func Instructions(t monitor.TargetType) string {
	if s, ok := instructions[t]; ok {
		return s
	}
	return genericInstructions
}

// Config tunes collaborator calls.
type Config struct {
	Timeout    time.Duration
	MaxExcerpt int
}

// Classifier produces verdicts for snapshot pairs.
type Classifier struct {
	collaborator monitor.ClassificationCollaborator
	clock        monitor.Clock
	cfg          Config
	logger       *zap.Logger
}

// New builds a Classifier. A nil collaborator always uses the heuristic.
func New(collaborator monitor.ClassificationCollaborator, clock monitor.Clock, cfg Config, logger *zap.Logger) *Classifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxExcerpt <= 0 {
		cfg.MaxExcerpt = defaultMaxExcerpt
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{collaborator: collaborator, clock: clock, cfg: cfg, logger: logger}
}

// Classify compares old and updated snapshots. It never fails.
func (c *Classifier) Classify(ctx context.Context, old, updated monitor.Snapshot, t monitor.TargetType) monitor.Verdict {
	if monitor.Identical(old, updated) {
		return c.finish(monitor.Verdict{
			HasChanges: false,
			Severity:   monitor.SeverityNone,
			Summary:    "No changes detected",
			KeyChanges: []string{},
			Impact:     "Data is identical",
			Analyzer:   AnalyzerIdentity,
		})
	}

	if c.collaborator == nil {
		return c.finish(Heuristic(old, updated, t))
	}

	verdict, err := c.callCollaborator(ctx, old, updated, t)
	if err != nil {
		c.logger.Warn("classification collaborator failed, using heuristic",
			zap.String("type", string(t)),
			zap.Error(err),
		)
		return c.finish(Heuristic(old, updated, t))
	}
	return c.finish(verdict)
}

func (c *Classifier) callCollaborator(
	ctx context.Context,
	old, updated monitor.Snapshot,
	t monitor.TargetType,
) (monitor.Verdict, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	resp, err := c.collaborator.Classify(callCtx, monitor.ClassifyRequest{
		Type:         t,
		OldText:      monitor.Truncate(ComparisonText(old), c.cfg.MaxExcerpt),
		NewText:      monitor.Truncate(ComparisonText(updated), c.cfg.MaxExcerpt),
		Instructions: Instructions(t),
	})
	if err != nil {
		return monitor.Verdict{}, fmt.Errorf("%w: %w", monitor.ErrClassificationFailure, err)
	}
	verdict, err := validate(resp)
	if err != nil {
		return monitor.Verdict{}, fmt.Errorf("%w: %w", monitor.ErrClassificationFailure, err)
	}
	verdict.Analyzer = AnalyzerCollaborator
	if named, ok := c.collaborator.(interface{ Name() string }); ok {
		verdict.Analyzer = named.Name()
	}
	return verdict, nil
}

func validate(resp monitor.ClassifyResponse) (monitor.Verdict, error) {
	raw := strings.TrimSpace(resp.Severity)
	severity := monitor.ParseSeverity(raw)
	if raw != "" && !strings.EqualFold(raw, string(severity)) {
		return monitor.Verdict{}, fmt.Errorf("unknown severity %q", resp.Severity)
	}
	if resp.HasChanges && severity == monitor.SeverityNone {
		return monitor.Verdict{}, errors.New("changes reported without severity")
	}
	if !resp.HasChanges {
		severity = monitor.SeverityNone
	}
	keyChanges := resp.KeyChanges
	if keyChanges == nil {
		keyChanges = []string{}
	}
	return monitor.Verdict{
		HasChanges: resp.HasChanges,
		Severity:   severity,
		Summary:    strings.TrimSpace(resp.Summary),
		KeyChanges: keyChanges,
		Impact:     strings.TrimSpace(resp.Impact),
	}, nil
}

func (c *Classifier) finish(v monitor.Verdict) monitor.Verdict {
	if c.clock != nil {
		v.AnalyzedAt = c.clock.Now().UTC()
	}
	metrics.ObserveClassification(v.Analyzer)
	return v
}

// ComparisonText is the snapshot text shown to the collaborator. Structured
// records use their indented JSON form.
func ComparisonText(s monitor.Snapshot) string {
	if s.Record != nil && s.RichText != "" {
		return s.RichText
	}
	var b strings.Builder
	if s.Metadata.Title != "" {
		b.WriteString("Title: ")
		b.WriteString(s.Metadata.Title)
		b.WriteByte('\n')
	}
	if s.Metadata.Description != "" {
		b.WriteString("Description: ")
		b.WriteString(s.Metadata.Description)
		b.WriteByte('\n')
	}
	b.WriteString(s.Text)
	return b.String()
}
