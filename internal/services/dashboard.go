package services

import (
	"cmp"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"expensedesk/internal/core"
	"expensedesk/internal/totals"
)

// BuildOverview computes the dashboard cards for the expenses dated inside
// period, counted back from now's calendar day. Amounts are discounted
// totals. Payables are the documents in the window whose due date has
// passed, earliest due first.
func BuildOverview(expenses []core.Expense, period core.Period, now time.Time) core.Overview {
	n := now.UTC()
	to := core.NewDate(n.Year(), int(n.Month()), n.Day())
	from := core.Date{Time: to.AddDate(0, -period.Months(), 0)}

	ov := core.Overview{
		Period:      period,
		From:        from,
		To:          to,
		Total:       decimal.Zero,
		Outstanding: decimal.Zero,
	}
	byCategory := map[string]decimal.Decimal{}

	for _, e := range expenses {
		if e.Date.Before(from.Time) || e.Date.After(to.Time) {
			continue
		}
		amount := totals.Discounted(e)
		ov.Count++
		ov.Total = ov.Total.Add(amount)
		cat := e.PrimaryCategory()
		byCategory[cat] = byCategory[cat].Add(amount)

		if status := e.Status(now); status == core.StatusOverdue {
			ov.Outstanding = ov.Outstanding.Add(amount)
			ov.Payables = append(ov.Payables, core.PayableDocument{
				ExpenseID:      e.ID,
				VendorName:     core.Deref(e.VendorName),
				DocumentNumber: core.Deref(e.DocumentNumber),
				DueDate:        e.DueDate,
				Amount:         amount,
				Status:         status,
			})
		}
	}

	for name, amount := range byCategory {
		ov.ByCategory = append(ov.ByCategory, core.CategoryAmount{Name: name, Amount: amount})
	}
	slices.SortFunc(ov.ByCategory, func(a, b core.CategoryAmount) int {
		if c := b.Amount.Cmp(a.Amount); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	slices.SortStableFunc(ov.Payables, func(a, b core.PayableDocument) int {
		return a.DueDate.Compare(b.DueDate.Time)
	})
	return ov
}
