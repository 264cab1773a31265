package availability

import (
	"fmt"
	"log"
	"slices"
	"sync"
	"time"

	"github.com/example/ticket-inventory/internal/domain/inventory"
	"github.com/example/ticket-inventory/internal/metrics"
)

type Alert struct {
	EventID      string    `json:"event_id"`
	TicketTypeID string    `json:"ticket_type_id"`
	Level        Level     `json:"level"`
	Available    int       `json:"available"`
	Message      string    `json:"message"`
	Severity     string    `json:"severity"`
	RaisedAt     time.Time `json:"raised_at"`
}

const maxAlerts = 200

// Alerter raises an alert when a ledger change moves a ticket type into a
// scarcer bucket. Movement back towards available is silent.
type Alerter struct {
	view *View
	now  func() time.Time

	mu     sync.Mutex
	alerts []Alert
	sinks  []func(Alert)
}

func NewAlerter(view *View, now func() time.Time) *Alerter {
	return &Alerter{view: view, now: now}
}

// OnAlert registers a sink that runs for each raised alert.
func (a *Alerter) OnAlert(fn func(Alert)) {
	a.mu.Lock()
	a.sinks = append(a.sinks, fn)
	a.mu.Unlock()
}

// Observe is meant to be registered with inventory.WithObserver.
func (a *Alerter) Observe(c inventory.Change) {
	metrics.TicketsAvailable.WithLabelValues(c.After.EventID, c.After.TicketTypeID).Set(float64(c.After.Available()))
	metrics.TicketsHeld.WithLabelValues(c.After.EventID, c.After.TicketTypeID).Set(float64(c.After.Held))

	alert, ok := a.Evaluate(c.Before, c.After)
	if !ok {
		return
	}
	metrics.StockAlerts.WithLabelValues(string(alert.Level)).Inc()
	log.Printf("[Alerter] %s: %s", alert.Severity, alert.Message)

	a.mu.Lock()
	a.alerts = append(a.alerts, alert)
	if len(a.alerts) > maxAlerts {
		a.alerts = a.alerts[len(a.alerts)-maxAlerts:]
	}
	sinks := slices.Clone(a.sinks)
	a.mu.Unlock()

	for _, fn := range sinks {
		fn(alert)
	}
}

// Evaluate returns the alert for a before/after pair, if any.
func (a *Alerter) Evaluate(before, after inventory.Record) (Alert, bool) {
	from, to := a.view.Level(before), a.view.Level(after)
	if from == to || rank(to) <= rank(from) {
		return Alert{}, false
	}

	alert := Alert{
		EventID:      after.EventID,
		TicketTypeID: after.TicketTypeID,
		Level:        to,
		Available:    after.Available(),
		RaisedAt:     a.now(),
	}
	switch to {
	case SoldOut:
		alert.Severity = "warning"
		alert.Message = fmt.Sprintf("%s is now sold out", after.Name)
	case CriticalStock:
		alert.Severity = "warning"
		alert.Message = fmt.Sprintf("%s is almost gone (%d left)", after.Name, alert.Available)
	default:
		alert.Severity = "info"
		alert.Message = fmt.Sprintf("%s is running low (%d left)", after.Name, alert.Available)
	}
	return alert, true
}

// Recent returns raised alerts for an event, newest first. An empty eventID
// matches every event.
func (a *Alerter) Recent(eventID string) []Alert {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []Alert
	for i := len(a.alerts) - 1; i >= 0; i-- {
		if eventID == "" || a.alerts[i].EventID == eventID {
			out = append(out, a.alerts[i])
		}
	}
	return out
}

func rank(l Level) int {
	switch l {
	case LowStock:
		return 1
	case CriticalStock:
		return 2
	case SoldOut:
		return 3
	default:
		return 0
	}
}
