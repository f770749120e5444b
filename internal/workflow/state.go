// Package workflow sequences one monitoring run: fetch, analyze, persist,
// notify.
//
// A run is modeled as an immutable State threaded through pure stage
// functions. Each stage returns a new State naming the next stage, and the
// engine loops until StageDone. Results are persisted before any
// notification goes out; the notifier's outcome only updates the change
// record's notified flag.
package workflow

import (
	"fmt"
	"slices"

	"github.com/JakeFAU/change-monitor/internal/monitor"
)

// Stage names a step of the run.
type Stage int

// Stages in execution order.
const (
	StageFetch Stage = iota
	StageAnalyze
	StagePersist
	StageNotify
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageFetch:
		return "fetch"
	case StageAnalyze:
		return "analyze"
	case StagePersist:
		return "persist"
	case StageNotify:
		return "notify"
	case StageDone:
		return "done"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// NotificationResult records what the notify stage did.
type NotificationResult struct {
	Attempted bool
	Sent      bool
	Reason    string
}

// State is the value passed between stages. Stages never mutate a State in
// place; the with* helpers return modified copies.
type State struct {
	Target       monitor.Target
	Next         Stage
	Snapshot     monitor.Snapshot
	Fetched      bool
	Baseline     bool
	Verdict      monitor.Verdict
	Analyzed     bool
	Notification NotificationResult
	ChangeID     string
	FetchErr     error
	Err          error
	Trace        []string
}

func newState(target monitor.Target) State {
	return State{Target: target, Next: StageFetch}
}

func (s State) then(next Stage) State {
	s.Next = next
	return s
}

func (s State) withTrace(format string, args ...any) State {
	s.Trace = append(slices.Clip(s.Trace), fmt.Sprintf(format, args...))
	return s
}

func (s State) withSnapshot(snap monitor.Snapshot) State {
	s.Snapshot = snap
	s.Fetched = true
	return s
}

func (s State) withFetchErr(err error) State {
	s.FetchErr = err
	return s
}

func (s State) withBaseline() State {
	s.Baseline = true
	s.Verdict = monitor.Verdict{Severity: monitor.SeverityNone, Summary: "Baseline established", KeyChanges: []string{}}
	return s
}

func (s State) withVerdict(v monitor.Verdict) State {
	s.Verdict = v
	s.Analyzed = true
	return s
}

func (s State) withNotification(n NotificationResult) State {
	s.Notification = n
	return s
}

func (s State) withChangeID(id string) State {
	s.ChangeID = id
	return s
}

func (s State) withErr(err error) State {
	s.Err = err
	return s
}

// ShouldRecord reports whether the run produced a change worth persisting.
func (s State) ShouldRecord() bool {
	return s.Analyzed && s.Verdict.Notifiable()
}

// Outcome classifies the finished state.
func (s State) Outcome() monitor.RunOutcome {
	switch {
	case !s.Fetched:
		return monitor.OutcomeFetchFailed
	case s.Err != nil:
		return monitor.OutcomeFailed
	case s.Baseline:
		return monitor.OutcomeBaseline
	case !s.Analyzed || !s.Verdict.HasChanges:
		return monitor.OutcomeUnchanged
	case s.ShouldRecord():
		return monitor.OutcomeChangeRecorded
	default:
		return monitor.OutcomeChanged
	}
}
