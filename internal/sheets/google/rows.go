package google

import (
	"time"

	"expensedesk/internal/core"
	"expensedesk/internal/totals"
)

const lastColumn = "M"

// Header is the expected first row of the export sheet.
var Header = []any{
	"ID", "Date", "Document Number", "Vendor", "Project", "Category",
	"Currency", "Total", "Discount %", "Amount", "Due Date", "Status", "Exported At",
}

// expenseRow renders the columns A..M for e.
func expenseRow(e core.Expense, now time.Time) []any {
	total := totals.Total(e.Items)
	if len(e.Items) == 0 {
		total = e.TotalAmount
	}
	return []any{
		e.ID,
		e.Date.String(),
		core.Deref(e.DocumentNumber),
		core.Deref(e.VendorName),
		core.Deref(e.Project),
		e.PrimaryCategory(),
		core.Deref(e.Currency),
		total.StringFixed(2),
		e.Discount.String(),
		totals.DiscountedTotal(total, e.Discount).StringFixed(2),
		e.DueDate.String(),
		string(e.Status(now)),
		now.UTC().Format(time.RFC3339),
	}
}
