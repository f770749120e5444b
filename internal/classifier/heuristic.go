package classifier

import (
	"reflect"
	"slices"
	"strings"

	"github.com/JakeFAU/change-monitor/internal/monitor"
)

type rule struct {
	message  string
	severity monitor.Severity
	fired    func(old, updated monitor.Snapshot) bool
}

var (
	profileRules = []rule{
		{"Headline changed", monitor.SeverityLow, fieldChanged("headline")},
		{"New job added", monitor.SeverityHigh, listGrew("experience", "experiences")},
		{"New certification or education added", monitor.SeverityMedium, func(old, updated monitor.Snapshot) bool {
			return listGrew("certification", "certifications")(old, updated) || listGrew("education")(old, updated)
		}},
	}
	organizationRules = []rule{
		{"Employee count changed", monitor.SeverityHigh, fieldChanged("employee_count", "employees", "company_size", "staffCount")},
		{"Location changed", monitor.SeverityHigh, fieldChanged("headquarters", "location", "locations")},
		{"Follower count changed", monitor.SeverityLow, fieldChanged("follower_count", "followers")},
		{"Description changed", monitor.SeverityLow, func(old, updated monitor.Snapshot) bool {
			return fieldChanged("description", "about")(old, updated) || fieldChanged("tagline")(old, updated)
		}},
	}
	websiteRules = []rule{
		{"Page content changed", monitor.SeverityMedium, func(old, updated monitor.Snapshot) bool {
			return old.Digest != updated.Digest
		}},
		{"Metadata changed", monitor.SeverityLow, func(old, updated monitor.Snapshot) bool {
			a, b := old.Metadata, updated.Metadata
			return a.Title != b.Title || a.Description != b.Description ||
				a.OGTitle != b.OGTitle || a.OGDescription != b.OGDescription
		}},
		{"Links changed", monitor.SeverityLow, func(old, updated monitor.Snapshot) bool {
			return !sameSet(old.Metadata.Links, updated.Metadata.Links)
		}},
	}
)

// Heuristic compares snapshots field by field for the given target type. It
// is deterministic and tolerates missing fields and empty snapshots.
func Heuristic(old, updated monitor.Snapshot, t monitor.TargetType) monitor.Verdict {
	var rules []rule
	switch t {
	case monitor.TargetProfile:
		rules = profileRules
	case monitor.TargetOrganization:
		rules = organizationRules
	case monitor.TargetWebsite:
		rules = websiteRules
	}

	changes := []string{}
	severity := monitor.SeverityNone
	for _, r := range rules {
		if r.fired(old, updated) {
			changes = append(changes, r.message)
			severity = monitor.MaxSeverity(severity, r.severity)
		}
	}

	if len(changes) == 0 {
		return monitor.Verdict{
			HasChanges: false,
			Severity:   monitor.SeverityNone,
			Summary:    "No changes",
			KeyChanges: changes,
			Analyzer:   AnalyzerHeuristic,
		}
	}
	return monitor.Verdict{
		HasChanges: true,
		Severity:   severity,
		Summary:    strings.Join(changes, "; "),
		KeyChanges: changes,
		Impact:     "Detected by field comparison",
		Analyzer:   AnalyzerHeuristic,
	}
}

// lookup returns the first present value among keys.
func lookup(record map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := record[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func fieldChanged(keys ...string) func(old, updated monitor.Snapshot) bool {
	return func(old, updated monitor.Snapshot) bool {
		return !reflect.DeepEqual(lookup(old.Record, keys...), lookup(updated.Record, keys...))
	}
}

func listGrew(keys ...string) func(old, updated monitor.Snapshot) bool {
	return func(old, updated monitor.Snapshot) bool {
		return listLen(lookup(updated.Record, keys...)) > listLen(lookup(old.Record, keys...))
	}
}

func listLen(v any) int {
	if list, ok := v.([]any); ok {
		return len(list)
	}
	return 0
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	left := slices.Clone(a)
	right := slices.Clone(b)
	slices.Sort(left)
	slices.Sort(right)
	return slices.Equal(left, right)
}
