package core

import "github.com/shopspring/decimal"

// CategoryAmount represents an amount aggregated by category name.
type CategoryAmount struct {
	Name   string
	Amount decimal.Decimal
}

// PayableDocument is one unpaid document listed on the payables card.
type PayableDocument struct {
	ExpenseID      int64
	VendorName     string
	DocumentNumber string
	DueDate        Date
	Amount         decimal.Decimal
	Status         ExpenseStatus
}

// Period is a dashboard filter window counted back from today.
type Period string

const (
	PeriodThreeMonths Period = "3m"
	PeriodSixMonths   Period = "6m"
	PeriodOneYear     Period = "1y"
)

// Months returns the window length, defaulting to three months.
func (p Period) Months() int {
	switch p {
	case PeriodSixMonths:
		return 6
	case PeriodOneYear:
		return 12
	default:
		return 3
	}
}

// Overview is the data behind the dashboard cards for one period.
type Overview struct {
	Period      Period
	From        Date
	To          Date
	Count       int
	Total       decimal.Decimal // discounted totals, summed
	ByCategory  []CategoryAmount
	Outstanding decimal.Decimal
	Payables    []PayableDocument
}
