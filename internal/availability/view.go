// Package availability buckets ledger counters into the statuses shown to buyers.
package availability

import (
	"fmt"

	"github.com/example/ticket-inventory/internal/domain/inventory"
)

type Level string

const (
	Available     Level = "available"
	LowStock      Level = "low-stock"
	CriticalStock Level = "critical-stock"
	SoldOut       Level = "sold-out"
)

type ThresholdPolicy string

const (
	Absolute ThresholdPolicy = "absolute"
	Percent  ThresholdPolicy = "percent"
)

type Status struct {
	TicketTypeID      string `json:"ticket_type_id"`
	Name              string `json:"name,omitempty"`
	AvailableQuantity int    `json:"available_quantity"`
	TotalQuantity     int    `json:"total_quantity"`
	Status            Level  `json:"status"`
	Message           string `json:"message"`
}

// Thresholds are counts under Absolute and whole percentages of total under Percent.
type Thresholds struct {
	Policy   ThresholdPolicy
	Critical int
	Low      int
}

func DefaultThresholds() Thresholds {
	return Thresholds{Policy: Absolute, Critical: 5, Low: 10}
}

func DefaultPercentThresholds() Thresholds {
	return Thresholds{Policy: Percent, Critical: 5, Low: 20}
}

type View struct {
	thresholds Thresholds
}

func NewView(t Thresholds) *View {
	return &View{thresholds: t}
}

// Level buckets the available count of rec.
func (v *View) Level(rec inventory.Record) Level {
	avail := rec.Available()
	critical, low := v.limits(rec.Total)
	switch {
	case avail == 0:
		return SoldOut
	case avail <= critical:
		return CriticalStock
	case avail <= low:
		return LowStock
	default:
		return Available
	}
}

// Classify is recomputed from the record on every call.
func (v *View) Classify(rec inventory.Record) Status {
	avail := rec.Available()
	level := v.Level(rec)
	return Status{
		TicketTypeID:      rec.TicketTypeID,
		Name:              rec.Name,
		AvailableQuantity: avail,
		TotalQuantity:     rec.Total,
		Status:            level,
		Message:           message(level, avail),
	}
}

// limits rounds percentages up so small ticket types still reach the
// critical and low buckets.
func (v *View) limits(total int) (critical, low int) {
	if v.thresholds.Policy == Percent {
		return ceilPercent(total, v.thresholds.Critical), ceilPercent(total, v.thresholds.Low)
	}
	return v.thresholds.Critical, v.thresholds.Low
}

func ceilPercent(total, pct int) int {
	return (total*pct + 99) / 100
}

func message(level Level, avail int) string {
	switch level {
	case SoldOut:
		return "Sold Out"
	case CriticalStock:
		return fmt.Sprintf("Only %d left!", avail)
	case LowStock:
		return fmt.Sprintf("Only %d remaining", avail)
	default:
		return fmt.Sprintf("%d available", avail)
	}
}
