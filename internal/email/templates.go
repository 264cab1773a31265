package email

import (
	"fmt"
	"html"
	"strings"

	"github.com/example/ticket-inventory/internal/availability"
	"github.com/example/ticket-inventory/internal/domain/inventory"
)

func levelLabel(level availability.Level) string {
	switch level {
	case availability.SoldOut:
		return "Sold Out"
	case availability.CriticalStock:
		return "Critical Stock"
	case availability.LowStock:
		return "Low Stock"
	default:
		return "Available"
	}
}

func levelColor(level availability.Level) string {
	switch level {
	case availability.SoldOut:
		return "#c0392b"
	case availability.CriticalStock:
		return "#e67e22"
	default:
		return "#f1c40f"
	}
}

// BuildStockAlertBody builds the HTML body for a stock alert email
func BuildStockAlertBody(alert availability.Alert, rec inventory.Record) string {
	rows := [][2]string{
		{"Event", rec.EventID},
		{"Ticket type", fmt.Sprintf("%s (%s)", rec.Name, rec.TicketTypeID)},
		{"Available", formatNumber(alert.Available)},
		{"Total", formatNumber(rec.Total)},
		{"Unit price", formatPrice(rec.UnitPrice)},
		{"Raised at", alert.RaisedAt.UTC().Format("2006-01-02 15:04:05 MST")},
	}

	var rowsHTML strings.Builder
	for _, row := range rows {
		rowsHTML.WriteString(fmt.Sprintf(
			`<tr>
				<td style="padding: 8px 12px; border-bottom: 1px solid #eee; color: #666;">%s</td>
				<td style="padding: 8px 12px; border-bottom: 1px solid #eee; text-align: right; font-weight: 600;">%s</td>
			</tr>`,
			row[0], html.EscapeString(row[1]),
		))
	}

	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
	<meta charset="UTF-8">
	<meta name="viewport" content="width=device-width, initial-scale=1.0">
</head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
	<div style="background: %s; padding: 24px; border-radius: 10px 10px 0 0;">
		<h1 style="color: white; margin: 0; font-size: 22px;">%s</h1>
	</div>

	<div style="background: #fff; padding: 24px; border: 1px solid #eee; border-top: none; border-radius: 0 0 10px 10px;">
		<p style="margin-top: 0;">%s</p>

		<table style="width: 100%%; border-collapse: collapse; margin: 20px 0;">
			<tbody>
				%s
			</tbody>
		</table>

		<hr style="border: none; border-top: 1px solid #eee; margin: 24px 0;">

		<p style="font-size: 12px; color: #999; margin-bottom: 0;">
			Sent automatically by the ticket inventory alerter.
		</p>
	</div>
</body>
</html>`, levelColor(alert.Level), levelLabel(alert.Level), html.EscapeString(alert.Message), rowsHTML.String())
}

// formatPrice renders an amount in cents
func formatPrice(cents int64) string {
	return fmt.Sprintf("$%s.%02d", formatNumber(int(cents/100)), cents%100)
}

// formatNumber formats a number with comma separators
func formatNumber(n int) string {
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	var result strings.Builder
	remainder := len(str) % 3
	if remainder > 0 {
		result.WriteString(str[:remainder])
		if len(str) > remainder {
			result.WriteString(",")
		}
	}

	for i := remainder; i < len(str); i += 3 {
		result.WriteString(str[i : i+3])
		if i+3 < len(str) {
			result.WriteString(",")
		}
	}

	return result.String()
}
