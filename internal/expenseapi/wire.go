package expenseapi

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"expensedesk/internal/core"
)

// number is a decimal that travels as a bare JSON number.
type number decimal.Decimal

func (n number) MarshalJSON() ([]byte, error) {
	return []byte(decimal.Decimal(n).String()), nil
}

func (n *number) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*n = number(decimal.Zero)
		return nil
	}
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return fmt.Errorf("decode number: %w", err)
	}
	*n = number(d)
	return nil
}

// date travels as yyyy-MM-dd; timestamps are accepted on input.
type date core.Date

func (d date) MarshalJSON() ([]byte, error) {
	s := core.Date(d).String()
	if s == "" {
		return []byte("null"), nil
	}
	return json.Marshal(s)
}

func (d *date) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*d = date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("decode date: %w", err)
	}
	if s == "" {
		*d = date{}
		return nil
	}
	parsed, err := core.ParseDate(s)
	if err != nil {
		return fmt.Errorf("decode date %q: %w", s, err)
	}
	*d = date(parsed)
	return nil
}

type itemDTO struct {
	ID          int64  `json:"id"`
	ExpenseID   int64  `json:"expenseId"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Quantity    number `json:"quantity"`
	Unit        string `json:"unit"`
	UnitPrice   number `json:"unitPrice"`
	Amount      number `json:"amount"`
}

type expenseDTO struct {
	ID              int64     `json:"id"`
	DocumentNumber  *string   `json:"documentNumber"`
	VendorName      *string   `json:"vendorName"`
	VendorDetail    *string   `json:"vendorDetail"`
	Project         *string   `json:"project"`
	ReferenceNumber *string   `json:"referenceNumber"`
	Date            date      `json:"date"`
	CreditTerm      int       `json:"creditTerm"`
	DueDate         date      `json:"dueDate"`
	Currency        *string   `json:"currency"`
	Discount        number    `json:"discount"`
	VATIncluded     bool      `json:"vatIncluded"`
	Remark          *string   `json:"remark"`
	InternalNote    *string   `json:"internalNote"`
	TotalAmount     number    `json:"totalAmount"`
	ExpenseItems    []itemDTO `json:"expenseItems"`
}

type pageDTO struct {
	Items      []expenseDTO `json:"items"`
	TotalCount int          `json:"totalCount"`
	PageNumber int          `json:"pageNumber"`
	PageSize   int          `json:"pageSize"`
	TotalPages int          `json:"totalPages"`
}

type latestDTO struct {
	DocumentNumber *string `json:"documentNumber"`
}

type errorDTO struct {
	Message string `json:"message"`
	Title   string `json:"title"`
}

func toDTO(e core.Expense) expenseDTO {
	items := make([]itemDTO, 0, len(e.Items))
	for _, it := range e.Items {
		items = append(items, itemDTO{
			ID:          it.ID,
			ExpenseID:   it.ExpenseID,
			Description: it.Description,
			Category:    it.Category,
			Quantity:    number(it.Quantity),
			Unit:        it.Unit,
			UnitPrice:   number(it.UnitPrice),
			Amount:      number(it.Amount),
		})
	}
	return expenseDTO{
		ID:              e.ID,
		DocumentNumber:  e.DocumentNumber,
		VendorName:      e.VendorName,
		VendorDetail:    e.VendorDetail,
		Project:         e.Project,
		ReferenceNumber: e.ReferenceNumber,
		Date:            date(e.Date),
		CreditTerm:      e.CreditTerm,
		DueDate:         date(e.DueDate),
		Currency:        e.Currency,
		Discount:        number(e.Discount),
		VATIncluded:     e.VATIncluded,
		Remark:          e.Remark,
		InternalNote:    e.InternalNote,
		TotalAmount:     number(e.TotalAmount),
		ExpenseItems:    items,
	}
}

func fromDTO(d expenseDTO) core.Expense {
	items := make([]core.ExpenseItem, 0, len(d.ExpenseItems))
	for _, it := range d.ExpenseItems {
		items = append(items, core.ExpenseItem{
			ID:          it.ID,
			ExpenseID:   it.ExpenseID,
			Description: it.Description,
			Category:    it.Category,
			Quantity:    decimal.Decimal(it.Quantity),
			Unit:        it.Unit,
			UnitPrice:   decimal.Decimal(it.UnitPrice),
			Amount:      decimal.Decimal(it.Amount),
		})
	}
	return core.Expense{
		ID:              d.ID,
		DocumentNumber:  d.DocumentNumber,
		VendorName:      d.VendorName,
		VendorDetail:    d.VendorDetail,
		Project:         d.Project,
		ReferenceNumber: d.ReferenceNumber,
		Date:            core.Date(d.Date),
		CreditTerm:      d.CreditTerm,
		DueDate:         core.Date(d.DueDate),
		Currency:        d.Currency,
		Discount:        decimal.Decimal(d.Discount),
		VATIncluded:     d.VATIncluded,
		Remark:          d.Remark,
		InternalNote:    d.InternalNote,
		TotalAmount:     decimal.Decimal(d.TotalAmount),
		Items:           items,
	}
}

// JSON is an expense that marshals in the API wire format. Handlers that
// echo expenses back to a browser use it so both sides share one shape.
type JSON core.Expense

func (j JSON) MarshalJSON() ([]byte, error) {
	return json.Marshal(toDTO(core.Expense(j)))
}
