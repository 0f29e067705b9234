package sheets

import (
	"context"

	"expensedesk/internal/core"
)

// ExpenseExporter writes a submitted expense to an external spreadsheet.
// Exporting the same expense again replaces its earlier row.
type ExpenseExporter interface {
	Export(ctx context.Context, e core.Expense) (rowRef string, err error)
}
