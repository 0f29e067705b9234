package http

import (
	"time"

	"github.com/shopspring/decimal"

	"expensedesk/internal/core"
	"expensedesk/internal/expenseapi"
	"expensedesk/internal/form"
	"expensedesk/internal/listview"
	"expensedesk/internal/storage"
)

// amount is a money value rendered as a bare JSON number with two decimals.
type amount decimal.Decimal

func (a amount) MarshalJSON() ([]byte, error) {
	return []byte(decimal.Decimal(a).StringFixed(2)), nil
}

type formResponse struct {
	FormID                 string               `json:"formId"`
	Mode                   form.Mode            `json:"mode"`
	State                  form.State           `json:"state"`
	Expense                expenseapi.JSON      `json:"expense"`
	DiscountedTotal        amount               `json:"discountedTotal"`
	DocumentNumberReadOnly bool                 `json:"documentNumberReadOnly"`
	Errors                 []fieldErrorResponse `json:"errors,omitempty"`
	SubmitError            string               `json:"submitError,omitempty"`
	NumberError            string               `json:"documentNumberError,omitempty"`
	Saved                  *expenseapi.JSON     `json:"saved,omitempty"`
	Currencies             []string             `json:"currencies"`
}

func newFormResponse(v form.View) formResponse {
	out := formResponse{
		FormID:                 v.ID,
		Mode:                   v.Mode,
		State:                  v.State,
		Expense:                expenseapi.JSON(v.Expense),
		DiscountedTotal:        amount(v.Discounted),
		DocumentNumberReadOnly: v.NumberReadOnly,
		Currencies:             core.Currencies,
	}
	if len(v.Errors) > 0 {
		out.Errors = fieldErrors(v.Errors)
	}
	if v.SubmitError != nil {
		out.SubmitError = userMessage(v.SubmitError)
	}
	if v.NumberError != nil {
		out.NumberError = userMessage(v.NumberError)
	}
	if v.State == form.StateSuccess {
		saved := expenseapi.JSON(v.Saved)
		out.Saved = &saved
	}
	return out
}

type rowResponse struct {
	ID             int64              `json:"id"`
	DocumentNumber string             `json:"documentNumber"`
	VendorName     string             `json:"vendorName"`
	Project        string             `json:"project"`
	Date           string             `json:"date"`
	DueDate        string             `json:"dueDate"`
	Currency       string             `json:"currency"`
	Category       string             `json:"category"`
	Total          amount             `json:"total"`
	Amount         amount             `json:"amount"`
	AmountText     string             `json:"amountText"`
	Status         core.ExpenseStatus `json:"status"`
}

type listResponse struct {
	ViewID     string        `json:"viewId"`
	Search     string        `json:"search"`
	Page       int           `json:"page"`
	PageSize   int           `json:"pageSize"`
	PageSizes  []int         `json:"pageSizes"`
	TotalCount int           `json:"totalCount"`
	TotalPages int           `json:"totalPages"`
	From       int           `json:"from"`
	To         int           `json:"to"`
	HasPrev    bool          `json:"hasPrev"`
	HasNext    bool          `json:"hasNext"`
	Rows       []rowResponse `json:"rows"`
}

func newListResponse(viewID string, p listview.Page) listResponse {
	from, to, total := p.Range()
	rows := make([]rowResponse, 0, len(p.Rows))
	for _, r := range p.Rows {
		rows = append(rows, rowResponse{
			ID:             r.ID,
			DocumentNumber: r.DocumentNumber,
			VendorName:     r.VendorName,
			Project:        r.Project,
			Date:           r.Date.String(),
			DueDate:        r.DueDate.String(),
			Currency:       r.Currency,
			Category:       r.Category,
			Total:          amount(r.Total),
			Amount:         amount(r.Amount),
			AmountText:     core.FormatAmount(r.Currency, r.Amount),
			Status:         r.Status,
		})
	}
	return listResponse{
		ViewID:     viewID,
		Search:     p.State.Search,
		Page:       p.State.Page,
		PageSize:   p.State.PageSize,
		PageSizes:  listview.PageSizes,
		TotalCount: total,
		TotalPages: p.TotalPages,
		From:       from,
		To:         to,
		HasPrev:    p.HasPrev(),
		HasNext:    p.HasNext(),
		Rows:       rows,
	}
}

type categoryResponse struct {
	Name   string `json:"name"`
	Amount amount `json:"amount"`
}

type payableResponse struct {
	ExpenseID      int64              `json:"expenseId"`
	VendorName     string             `json:"vendorName"`
	DocumentNumber string             `json:"documentNumber"`
	DueDate        string             `json:"dueDate"`
	Amount         amount             `json:"amount"`
	Status         core.ExpenseStatus `json:"status"`
}

type overviewResponse struct {
	Period      core.Period        `json:"period"`
	From        string             `json:"from"`
	To          string             `json:"to"`
	Count       int                `json:"count"`
	Total       amount             `json:"total"`
	ByCategory  []categoryResponse `json:"byCategory"`
	Outstanding amount             `json:"outstanding"`
	Payables    []payableResponse  `json:"payables"`
}

func newOverviewResponse(ov core.Overview) overviewResponse {
	out := overviewResponse{
		Period:      ov.Period,
		From:        ov.From.String(),
		To:          ov.To.String(),
		Count:       ov.Count,
		Total:       amount(ov.Total),
		Outstanding: amount(ov.Outstanding),
		ByCategory:  make([]categoryResponse, 0, len(ov.ByCategory)),
		Payables:    make([]payableResponse, 0, len(ov.Payables)),
	}
	for _, c := range ov.ByCategory {
		out.ByCategory = append(out.ByCategory, categoryResponse{Name: c.Name, Amount: amount(c.Amount)})
	}
	for _, p := range ov.Payables {
		out.Payables = append(out.Payables, payableResponse{
			ExpenseID:      p.ExpenseID,
			VendorName:     p.VendorName,
			DocumentNumber: p.DocumentNumber,
			DueDate:        p.DueDate.String(),
			Amount:         amount(p.Amount),
			Status:         p.Status,
		})
	}
	return out
}

type draftResponse struct {
	FormID    string    `json:"formId"`
	Mode      form.Mode `json:"mode"`
	ExpenseID int64     `json:"expenseId,omitempty"`
	CreatedAt string    `json:"createdAt"`
	UpdatedAt string    `json:"updatedAt"`
}

func newDraftResponses(drafts []storage.DraftSummary) []draftResponse {
	out := make([]draftResponse, 0, len(drafts))
	for _, d := range drafts {
		out = append(out, draftResponse{
			FormID:    d.ID,
			Mode:      d.Mode,
			ExpenseID: d.ExpenseID,
			CreatedAt: d.CreatedAt.Format(time.RFC3339),
			UpdatedAt: d.UpdatedAt.Format(time.RFC3339),
		})
	}
	return out
}
