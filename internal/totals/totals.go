// Package totals computes the derived money fields of an expense: per-item
// amounts, the grand total and the discounted total.
//
// All functions are pure. Amounts are rounded half away from zero to two
// decimal places.
package totals

import (
	"github.com/shopspring/decimal"

	"expensedesk/internal/core"
)

const places = 2

var hundred = decimal.NewFromInt(100)

// ItemAmount returns round(quantity*unitPrice, 2). Negative inputs count as 0.
func ItemAmount(quantity, unitPrice decimal.Decimal) decimal.Decimal {
	q := core.NonNegative(quantity)
	p := core.NonNegative(unitPrice)
	return q.Mul(p).Round(places)
}

// Total recomputes each item amount from its inputs and returns the rounded
// sum. Stored item amounts are ignored.
func Total(items []core.ExpenseItem) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(ItemAmount(it.Quantity, it.UnitPrice))
	}
	return sum.Round(places)
}

// DiscountedTotal returns round(total*(1-pct/100), 2). A negative pct is a
// validation error upstream and is not clamped here.
func DiscountedTotal(total, pct decimal.Decimal) decimal.Decimal {
	factor := decimal.NewFromInt(1).Sub(pct.Div(hundred))
	return total.Mul(factor).Round(places)
}

// Discounted is DiscountedTotal for a whole expense, using freshly computed
// item amounts.
func Discounted(e core.Expense) decimal.Decimal {
	return DiscountedTotal(Total(e.Items), e.Discount)
}

// Recompute rewrites every derived field of e in place. It reports whether
// anything changed; a second call always returns false.
func Recompute(e *core.Expense) bool {
	changed := false
	for i := range e.Items {
		amt := ItemAmount(e.Items[i].Quantity, e.Items[i].UnitPrice)
		if !amt.Equal(e.Items[i].Amount) {
			e.Items[i].Amount = amt
			changed = true
		}
	}
	total := sumAmounts(e.Items)
	if !total.Equal(e.TotalAmount) {
		e.TotalAmount = total
		changed = true
	}
	return changed
}

// Consistent reports whether the derived fields of e match its inputs.
func Consistent(e core.Expense) bool {
	c := e.Clone()
	return !Recompute(&c)
}

func sumAmounts(items []core.ExpenseItem) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.Amount)
	}
	return sum.Round(places)
}
