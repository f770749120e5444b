// Package notify decides whether a verdict warrants a notification and
// delivers it through a Notifier.
package notify

import (
	"context"
	"strings"

	"github.com/JakeFAU/change-monitor/internal/metrics"
	"github.com/JakeFAU/change-monitor/internal/monitor"
)

// Skip reasons reported by Decide.
const (
	ReasonNoRecipient    = "no recipient configured"
	ReasonBelowThreshold = "severity below threshold"
)

// Decision is the gate's verdict on whether to notify.
type Decision struct {
	Notify bool
	Reason string
}

// Outcome reports a dispatch attempt.
type Outcome struct {
	Sent   bool
	Reason string
}

// Gate applies the notification policy.
type Gate struct {
	notifier monitor.Notifier
}

// NewGate builds a Gate that delivers through notifier.
func NewGate(notifier monitor.Notifier) *Gate {
	return &Gate{notifier: notifier}
}

// Decide reports whether a change of the given severity is sent to recipient.
func (g *Gate) Decide(severity monitor.Severity, recipient string) Decision {
	if !severity.Notifiable() {
		return Decision{Reason: ReasonBelowThreshold}
	}
	if strings.TrimSpace(recipient) == "" {
		return Decision{Reason: ReasonNoRecipient}
	}
	return Decision{Notify: true}
}

// Dispatch delivers n. Failures are reported in the outcome, never returned.
func (g *Gate) Dispatch(ctx context.Context, n monitor.Notification) Outcome {
	if g.notifier == nil {
		metrics.ObserveNotification("skipped")
		return Outcome{Reason: "no notifier configured"}
	}
	ok, err := g.notifier.Notify(ctx, n)
	switch {
	case err != nil:
		metrics.ObserveNotification("error")
		return Outcome{Reason: monitor.ErrNotificationFailure.Error() + ": " + err.Error()}
	case !ok:
		metrics.ObserveNotification("rejected")
		return Outcome{Reason: "notifier reported not delivered"}
	default:
		metrics.ObserveNotification("sent")
		return Outcome{Sent: true}
	}
}
