package classifier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/change-monitor/internal/monitor"
)

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

type countingCollaborator struct {
	mu    sync.Mutex
	calls int
	last  monitor.ClassifyRequest
	resp  monitor.ClassifyResponse
	err   error
	delay time.Duration
}

func (c *countingCollaborator) Classify(ctx context.Context, req monitor.ClassifyRequest) (monitor.ClassifyResponse, error) {
	c.mu.Lock()
	c.calls++
	c.last = req
	c.mu.Unlock()
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return monitor.ClassifyResponse{}, ctx.Err()
		}
	}
	return c.resp, c.err
}

func (c *countingCollaborator) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func profile(record map[string]any) monitor.Snapshot {
	return monitor.Snapshot{URL: "https://x.test/in/jane", Text: "{}", Record: record}
}

func TestClassifyIdenticalSkipsCollaborator(t *testing.T) {
	t.Parallel()

	collab := &countingCollaborator{}
	c := New(collab, fakeClock{now: now}, Config{}, nil)

	snap := profile(map[string]any{"headline": "Engineer"})
	v := c.Classify(context.Background(), snap, profile(map[string]any{"headline": "Engineer"}), monitor.TargetProfile)

	require.Zero(t, collab.callCount())
	require.False(t, v.HasChanges)
	require.Equal(t, monitor.SeverityNone, v.Severity)
	require.Equal(t, "No changes detected", v.Summary)
	require.Equal(t, "Data is identical", v.Impact)
	require.Equal(t, AnalyzerIdentity, v.Analyzer)
	require.Equal(t, now, v.AnalyzedAt)
}

func TestClassifyUsesCollaborator(t *testing.T) {
	t.Parallel()

	collab := &countingCollaborator{resp: monitor.ClassifyResponse{
		HasChanges: true, Severity: "HIGH", Summary: " New role ", KeyChanges: []string{"Joined Acme"}, Impact: "Career move",
	}}
	c := New(collab, fakeClock{now: now}, Config{MaxExcerpt: 10}, nil)

	old := monitor.Snapshot{Text: strings.Repeat("a", 50)}
	updated := monitor.Snapshot{Text: strings.Repeat("b", 50)}
	v := c.Classify(context.Background(), old, updated, monitor.TargetWebsite)

	require.Equal(t, 1, collab.callCount())
	require.Equal(t, monitor.TargetWebsite, collab.last.Type)
	require.Len(t, collab.last.OldText, 10)
	require.Len(t, collab.last.NewText, 10)
	require.Contains(t, collab.last.Instructions, "Major content changes: high")

	require.True(t, v.HasChanges)
	require.Equal(t, monitor.SeverityHigh, v.Severity)
	require.Equal(t, "New role", v.Summary)
	require.Equal(t, AnalyzerCollaborator, v.Analyzer)
}

func TestClassifyFallsBackToHeuristic(t *testing.T) {
	t.Parallel()

	old := profile(map[string]any{"headline": "Engineer", "experience": []any{"a"}})
	updated := profile(map[string]any{"headline": "Engineer", "experience": []any{"a", "b"}})

	tests := []struct {
		name   string
		collab *countingCollaborator
	}{
		{name: "error", collab: &countingCollaborator{err: errors.New("quota exceeded")}},
		{name: "unknown severity", collab: &countingCollaborator{resp: monitor.ClassifyResponse{HasChanges: true, Severity: "critical"}}},
		{name: "changes without severity", collab: &countingCollaborator{resp: monitor.ClassifyResponse{HasChanges: true, Severity: "none"}}},
		{name: "timeout", collab: &countingCollaborator{delay: time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := New(tt.collab, fakeClock{now: now}, Config{Timeout: 20 * time.Millisecond}, nil)
			v := c.Classify(context.Background(), old, updated, monitor.TargetProfile)
			require.Equal(t, 1, tt.collab.callCount())
			require.Equal(t, AnalyzerHeuristic, v.Analyzer)
			require.True(t, v.HasChanges)
			require.Equal(t, monitor.SeverityHigh, v.Severity)
			require.Equal(t, []string{"New job added"}, v.KeyChanges)
		})
	}
}

func TestClassifyNilCollaborator(t *testing.T) {
	t.Parallel()

	c := New(nil, fakeClock{now: now}, Config{}, nil)
	v := c.Classify(context.Background(),
		profile(map[string]any{"headline": "Engineer"}),
		profile(map[string]any{"headline": "Senior Engineer"}),
		monitor.TargetProfile)

	require.True(t, v.HasChanges)
	require.Equal(t, monitor.SeverityLow, v.Severity)
	require.Equal(t, "Headline changed", v.Summary)
	require.Equal(t, now, v.AnalyzedAt)
}

func TestClassifyNoChangesFromCollaborator(t *testing.T) {
	t.Parallel()

	collab := &countingCollaborator{resp: monitor.ClassifyResponse{HasChanges: false, Severity: "low", Summary: "cosmetic"}}
	c := New(collab, nil, Config{}, nil)
	v := c.Classify(context.Background(), monitor.Snapshot{Text: "a"}, monitor.Snapshot{Text: "b"}, monitor.TargetWebsite)

	require.False(t, v.HasChanges)
	require.Equal(t, monitor.SeverityNone, v.Severity)
	require.NotNil(t, v.KeyChanges)
}

func TestHeuristicRules(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		typ      monitor.TargetType
		old      monitor.Snapshot
		updated  monitor.Snapshot
		severity monitor.Severity
		changes  []string
	}{
		{
			name:     "profile certification",
			typ:      monitor.TargetProfile,
			old:      profile(map[string]any{"certification": []any{}}),
			updated:  profile(map[string]any{"certification": []any{"CKA"}}),
			severity: monitor.SeverityMedium,
			changes:  []string{"New certification or education added"},
		},
		{
			name:     "profile headline and job",
			typ:      monitor.TargetProfile,
			old:      profile(map[string]any{"headline": "A"}),
			updated:  profile(map[string]any{"headline": "B", "experience": []any{"x"}}),
			severity: monitor.SeverityHigh,
			changes:  []string{"Headline changed", "New job added"},
		},
		{
			name:     "organization headcount",
			typ:      monitor.TargetOrganization,
			old:      profile(map[string]any{"company_size": "11-50", "followers": 10.0}),
			updated:  profile(map[string]any{"company_size": "51-200", "followers": 12.0}),
			severity: monitor.SeverityHigh,
			changes:  []string{"Employee count changed", "Follower count changed"},
		},
		{
			name:     "organization tagline",
			typ:      monitor.TargetOrganization,
			old:      profile(map[string]any{"tagline": "old"}),
			updated:  profile(map[string]any{"tagline": "new"}),
			severity: monitor.SeverityLow,
			changes:  []string{"Description changed"},
		},
		{
			name:     "website content",
			typ:      monitor.TargetWebsite,
			old:      monitor.Snapshot{Digest: "a", Metadata: monitor.Metadata{Title: "T", Links: []string{"x", "y"}}},
			updated:  monitor.Snapshot{Digest: "b", Metadata: monitor.Metadata{Title: "T", Links: []string{"y", "x"}}},
			severity: monitor.SeverityMedium,
			changes:  []string{"Page content changed"},
		},
		{
			name:     "website metadata and links",
			typ:      monitor.TargetWebsite,
			old:      monitor.Snapshot{Digest: "a", Metadata: monitor.Metadata{Title: "T"}},
			updated:  monitor.Snapshot{Digest: "a", Metadata: monitor.Metadata{Title: "U", Links: []string{"z"}}},
			severity: monitor.SeverityLow,
			changes:  []string{"Metadata changed", "Links changed"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			v := Heuristic(tt.old, tt.updated, tt.typ)
			require.True(t, v.HasChanges)
			require.Equal(t, tt.severity, v.Severity)
			require.Equal(t, tt.changes, v.KeyChanges)
			require.Equal(t, strings.Join(tt.changes, "; "), v.Summary)
		})
	}
}

func TestHeuristicNeverPanics(t *testing.T) {
	t.Parallel()

	inputs := []monitor.Snapshot{
		{},
		{Record: map[string]any{}},
		{Record: map[string]any{"experience": "not a list", "headline": nil}},
		{Record: map[string]any{"experience": []any{nil}}},
	}
	for _, typ := range []monitor.TargetType{monitor.TargetProfile, monitor.TargetOrganization, monitor.TargetWebsite, "other"} {
		for _, a := range inputs {
			for _, b := range inputs {
				require.NotPanics(t, func() {
					v := Heuristic(a, b, typ)
					require.True(t, v.Severity.Valid())
					if !v.HasChanges {
						require.Equal(t, monitor.SeverityNone, v.Severity)
					}
				})
			}
		}
	}
}

func TestHeuristicNoRuleFires(t *testing.T) {
	t.Parallel()

	v := Heuristic(profile(map[string]any{"fullName": "A"}), profile(map[string]any{"fullName": "B"}), monitor.TargetProfile)
	require.False(t, v.HasChanges)
	require.Equal(t, monitor.SeverityNone, v.Severity)
	require.Equal(t, "No changes", v.Summary)
}

func TestInstructionsPerType(t *testing.T) {
	t.Parallel()

	require.Contains(t, Instructions(monitor.TargetProfile), "New jobs or job title changes: high")
	require.Contains(t, Instructions(monitor.TargetOrganization), "Follower count changes: low")
	require.Equal(t, genericInstructions, Instructions("other"))
}
