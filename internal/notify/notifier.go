package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/change-monitor/internal/monitor"
)

// ChangeNotification is the event published for a notifiable change.
type ChangeNotification struct {
	Recipient  string             `json:"recipient"`
	Subject    string             `json:"subject"`
	Body       string             `json:"body"`
	TargetID   string             `json:"target_id"`
	URL        string             `json:"url"`
	Type       monitor.TargetType `json:"type"`
	Severity   monitor.Severity   `json:"severity"`
	Summary    string             `json:"summary"`
	KeyChanges []string           `json:"key_changes"`
	DetectedAt time.Time          `json:"detected_at"`
}

// Attributes are attached as message attributes by bus publishers.
func (c ChangeNotification) Attributes() map[string]string {
	return map[string]string{
		"event":     "change_detected",
		"severity":  string(c.Severity),
		"target_id": c.TargetID,
	}
}

// Subject formats the notification subject line.
func Subject(severity monitor.Severity, url string) string {
	return fmt.Sprintf("%s Change Detected: %s", strings.ToUpper(string(severity)), url)
}

// Body renders the plain-text notification body.
func Body(n monitor.Notification, detectedAt time.Time) string {
	var b strings.Builder
	b.WriteString("CHANGE DETECTION ALERT\n\n")
	fmt.Fprintf(&b, "Severity: %s\n\n", strings.ToUpper(string(n.Severity)))
	fmt.Fprintf(&b, "Summary:\n%s\n", n.Summary)
	if len(n.KeyChanges) > 0 {
		b.WriteString("\nKey Changes:\n")
		for _, change := range n.KeyChanges {
			fmt.Fprintf(&b, "  - %s\n", change)
		}
	}
	b.WriteString("\nDetails:\n")
	fmt.Fprintf(&b, "URL: %s\n", n.URL)
	fmt.Fprintf(&b, "Type: %s\n", n.Type)
	fmt.Fprintf(&b, "Detected: %s\n", detectedAt.UTC().Format("2006-01-02 15:04 UTC"))
	return b.String()
}

// PublishNotifier emits change notifications onto a message bus topic.
type PublishNotifier struct {
	publisher monitor.Publisher
	topic     string
	clock     monitor.Clock
	logger    *zap.Logger
}

// NewPublishNotifier builds a PublishNotifier.
func NewPublishNotifier(publisher monitor.Publisher, topic string, clock monitor.Clock, logger *zap.Logger) *PublishNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublishNotifier{publisher: publisher, topic: topic, clock: clock, logger: logger}
}

// Notify publishes the event. Delivery means the bus accepted the message.
func (p *PublishNotifier) Notify(ctx context.Context, n monitor.Notification) (bool, error) {
	detectedAt := p.clock.Now().UTC()
	event := ChangeNotification{
		Recipient:  n.Recipient,
		Subject:    Subject(n.Severity, n.URL),
		Body:       Body(n, detectedAt),
		TargetID:   n.TargetID,
		URL:        n.URL,
		Type:       n.Type,
		Severity:   n.Severity,
		Summary:    n.Summary,
		KeyChanges: n.KeyChanges,
		DetectedAt: detectedAt,
	}
	id, err := p.publisher.Publish(ctx, p.topic, event)
	if err != nil {
		return false, fmt.Errorf("publish notification: %w", err)
	}
	p.logger.Info("notification published",
		zap.String("target_id", n.TargetID),
		zap.String("severity", string(n.Severity)),
		zap.String("message_id", id),
	)
	return true, nil
}

// LogNotifier writes notifications to the log. It is used when no topic is
// configured. Nothing reaches the recipient, so Notify never reports
// delivery.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier builds a LogNotifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// Notify logs n and reports it undelivered.
func (l *LogNotifier) Notify(_ context.Context, n monitor.Notification) (bool, error) {
	l.logger.Info(Subject(n.Severity, n.URL),
		zap.String("recipient", n.Recipient),
		zap.String("target_id", n.TargetID),
		zap.String("summary", n.Summary),
		zap.Strings("key_changes", n.KeyChanges),
	)
	return false, nil
}
