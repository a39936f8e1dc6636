// Package notification delivers regime alerts (triggers, decisions, mode
// reverts, fetch errors) to external channels.
package notification

import (
	"context"
	"fmt"
	"log"
	"time"

	"regime-engine/internal/model"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level     AlertLevel `json:"level"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	Symbol    string     `json:"symbol,omitempty"`
	TriggerID string     `json:"trigger_id,omitempty"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier is a simple notifier that logs alerts (useful for development).
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

// AlertFromEvent maps an engine event to an alert. SIGNALS events and
// unchanged modes are not alert-worthy.
func AlertFromEvent(ev model.Event) (Alert, bool) {
	switch ev.Kind {
	case model.EventTrigger:
		if ev.Trigger == nil {
			return Alert{}, false
		}
		t := ev.Trigger
		level := AlertWarning
		if t.Direction == model.DirectionDown {
			level = AlertCritical
		}
		return Alert{
			Level:     level,
			Title:     fmt.Sprintf("%s EVENT mode", ev.Symbol),
			Message:   fmt.Sprintf("%s @ %.4f", t.Reason(), t.Price),
			Symbol:    ev.Symbol,
			TriggerID: t.ID,
		}, true

	case model.EventDecision:
		if ev.Decision == nil {
			return Alert{}, false
		}
		d := ev.Decision
		return Alert{
			Level:     AlertInfo,
			Title:     fmt.Sprintf("%s %s", ev.Symbol, d.Recommendation),
			Message:   d.Detail,
			Symbol:    ev.Symbol,
			TriggerID: d.TriggerID,
		}, true

	case model.EventMode:
		if ev.Mode.Current != model.ModeNormal {
			return Alert{}, false
		}
		return Alert{
			Level:   AlertInfo,
			Title:   fmt.Sprintf("%s back to NORMAL", ev.Symbol),
			Message: "EVENT hold expired: " + ev.Mode.LastTriggerReason,
			Symbol:  ev.Symbol,
		}, true

	case model.EventError:
		return Alert{
			Level:   AlertWarning,
			Title:   fmt.Sprintf("%s data stale", ev.Symbol),
			Message: ev.Error,
			Symbol:  ev.Symbol,
		}, true
	}
	return Alert{}, false
}

// Dispatcher fans alerts out to every configured notifier.
type Dispatcher struct {
	notifiers []Notifier
	timeout   time.Duration

	// OnError is called when a notifier fails (for metrics).
	OnError func(err error)
}

// NewDispatcher creates a dispatcher. A nil or empty list falls back to a LogNotifier.
func NewDispatcher(notifiers ...Notifier) *Dispatcher {
	if len(notifiers) == 0 {
		notifiers = []Notifier{NewLogNotifier()}
	}
	return &Dispatcher{notifiers: notifiers, timeout: 10 * time.Second}
}

// Notify sends one alert to every backend. Failures are logged, not returned,
// so one broken channel never blocks the others.
func (d *Dispatcher) Notify(ctx context.Context, alert Alert) int {
	sent := 0
	for _, n := range d.notifiers {
		sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
		err := n.Send(sendCtx, alert)
		cancel()
		if err != nil {
			log.Printf("[notify] %T failed: %v", n, err)
			if d.OnError != nil {
				d.OnError(err)
			}
			continue
		}
		sent++
	}
	return sent
}

// Run consumes engine events until ctx is cancelled or ch is closed.
func (d *Dispatcher) Run(ctx context.Context, ch <-chan model.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if alert, ok := AlertFromEvent(ev); ok {
				d.Notify(ctx, alert)
			}
		}
	}
}
