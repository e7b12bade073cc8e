// Package notification delivers operator alerts (venue errors, forced
// reconciliations) to a log or an HTTP webhook without blocking the engine.
package notification

import (
	"context"
	"log"
	"log/slog"
	"time"

	"autotrader-v1/internal/logger"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

func (l AlertLevel) slogLevel() slog.Level {
	switch l {
	case AlertCritical:
		return slog.LevelError
	case AlertWarning:
		return slog.LevelWarn
	}
	return slog.LevelInfo
}

// Alert is one operator notification.
type Alert struct {
	Level   AlertLevel
	Title   string
	Message string
}

// Notifier delivers alerts to one backend.
type Notifier interface {
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the structured log. It is the backend used
// when no webhook is configured.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(l *slog.Logger) *LogNotifier {
	return &LogNotifier{log: logger.Component(l, "alerts")}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	n.log.Log(ctx, alert.Level.slogLevel(), alert.Title, "alert_level", string(alert.Level), "detail", alert.Message)
	return nil
}

// Async queues alerts for a background sender. Notify never blocks; alerts
// are dropped when the queue is full. A nil *Async discards everything.
type Async struct {
	backend Notifier
	queue   chan Alert
	timeout time.Duration
}

// NewAsync wraps backend with a queue of size buffer.
func NewAsync(backend Notifier, buffer int) *Async {
	return &Async{
		backend: backend,
		queue:   make(chan Alert, buffer),
		timeout: 10 * time.Second,
	}
}

// Notify enqueues an alert. It reports false if the alert was dropped.
func (a *Async) Notify(alert Alert) bool {
	if a == nil {
		return false
	}
	select {
	case a.queue <- alert:
		return true
	default:
		log.Printf("[notify] queue full, dropping %s alert: %s", alert.Level, alert.Title)
		return false
	}
}

// Run delivers queued alerts until ctx is cancelled.
func (a *Async) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case alert := <-a.queue:
			sendCtx, cancel := context.WithTimeout(ctx, a.timeout)
			if err := a.backend.Send(sendCtx, alert); err != nil {
				log.Printf("[notify] delivery failed: %v", err)
			}
			cancel()
		}
	}
}
