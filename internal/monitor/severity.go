package monitor

import "strings"

// Severity grades a detected change. The set is closed: none < low < medium < high.
type Severity string

// Severity values.
const (
	SeverityNone   Severity = "none"
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

var severityRank = map[Severity]int{
	SeverityNone:   0,
	SeverityLow:    1,
	SeverityMedium: 2,
	SeverityHigh:   3,
}

// ParseSeverity maps free-form input onto the closed set. Unknown values become none.
func ParseSeverity(raw string) Severity {
	s := Severity(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := severityRank[s]; ok {
		return s
	}
	return SeverityNone
}

// Valid reports whether s is a member of the closed set.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// Rank returns the ordinal of s; invalid values rank as none.
func (s Severity) Rank() int {
	return severityRank[s]
}

// AtLeast reports whether s ranks at or above other.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// Notifiable reports whether the severity crosses the notification and
// change-record threshold.
func (s Severity) Notifiable() bool {
	return s.AtLeast(SeverityMedium)
}

// MaxSeverity returns the highest of the provided severities.
func MaxSeverity(values ...Severity) Severity {
	best := SeverityNone
	for _, v := range values {
		if v.Rank() > best.Rank() {
			best = v
		}
	}
	return best
}
