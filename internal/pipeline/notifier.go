package pipeline

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Notification kinds.
const (
	NotifyCompletion = "completion"
	NotifyAlert      = "alert"
)

// Notification is the message delivered at a scheduled run's terminal
// states: a completion summary when the run converges normally, an alert
// when the quality gate blocks downstream steps.
type Notification struct {
	Kind     string                 `json:"kind"`
	RunID    string                 `json:"run_id"`
	Pipeline string                 `json:"pipeline"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`
}

// Notifier delivers run notifications. Implementations must tolerate
// being called once per run per kind.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the structured log. Alerts log at
// error level so they surface in filtered log streams.
type LogNotifier struct {
	log *logrus.Logger
}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier(log *logrus.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(_ context.Context, msg Notification) error {
	entry := n.log.WithFields(logrus.Fields{
		"kind":     msg.Kind,
		"run_id":   msg.RunID,
		"pipeline": msg.Pipeline,
		"details":  msg.Details,
	})
	if msg.Kind == NotifyAlert {
		entry.Error(msg.Message)
	} else {
		entry.Info(msg.Message)
	}
	return nil
}
