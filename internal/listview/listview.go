// Package listview filters and paginates expenses for the list screen.
//
// State is a plain value: every change returns a new State, and the caller
// keeps it between requests.
package listview

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"expensedesk/internal/core"
	"expensedesk/internal/expenseapi"
	"expensedesk/internal/totals"
)

const DefaultPageSize = 10

// PageSizes are the selectable page sizes.
var PageSizes = []int{10, 20, 50, 100}

var ErrInvalidPageSize = errors.New("invalid page size")

type State struct {
	Search   string
	Page     int
	PageSize int
}

// NewState returns page 1 with the default size and no search.
func NewState() State {
	return State{Page: 1, PageSize: DefaultPageSize}
}

// ValidPageSize reports whether n is one of PageSizes.
func ValidPageSize(n int) bool {
	return slices.Contains(PageSizes, n)
}

func (s State) normalized() State {
	if !ValidPageSize(s.PageSize) {
		s.PageSize = DefaultPageSize
	}
	if s.Page < 1 {
		s.Page = 1
	}
	return s
}

// WithSearch sets the search term. A different term resets to page 1.
func (s State) WithSearch(term string) State {
	s = s.normalized()
	term = strings.TrimSpace(term)
	if term != s.Search {
		s.Search = term
		s.Page = 1
	}
	return s
}

// WithPageSize changes the page size. A different size resets to page 1.
func (s State) WithPageSize(n int) (State, error) {
	s = s.normalized()
	if !ValidPageSize(n) {
		return s, fmt.Errorf("%w: %d", ErrInvalidPageSize, n)
	}
	if n != s.PageSize {
		s.PageSize = n
		s.Page = 1
	}
	return s, nil
}

// GoTo moves to page p, clamped to [1, totalPages].
func (s State) GoTo(p, totalPages int) State {
	s = s.normalized()
	s.Page = clamp(p, 1, max(totalPages, 1))
	return s
}

func (s State) Next(totalPages int) State { return s.GoTo(s.Page+1, totalPages) }

func (s State) Prev(totalPages int) State { return s.GoTo(s.Page-1, totalPages) }

// Row is one list entry as displayed.
type Row struct {
	ID             int64
	DocumentNumber string
	VendorName     string
	Project        string
	Date           core.Date
	DueDate        core.Date
	Currency       string
	Category       string
	Total          decimal.Decimal
	Amount         decimal.Decimal // after discount
	Status         core.ExpenseStatus
}

// Page is the visible slice of the list plus its paging figures.
type Page struct {
	State      State
	Rows       []Row
	TotalCount int
	TotalPages int
	From       int
	To         int
}

// Range returns the "Showing from to to of total" figures.
func (p Page) Range() (from, to, total int) {
	return p.From, p.To, p.TotalCount
}

func (p Page) HasPrev() bool { return p.State.Page > 1 }

func (p Page) HasNext() bool { return p.State.Page < p.TotalPages }

// TotalPages is ceil(count/size), never less than 1. An empty result is
// reported as page 1 of 1.
func TotalPages(count, size int) int {
	if size <= 0 {
		size = DefaultPageSize
	}
	return max((count+size-1)/size, 1)
}

func normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch r {
		case '-', '_', '/', '.', ' ':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Matches reports whether term occurs in the document number or vendor name,
// ignoring case and separators. An empty term matches everything.
func Matches(e core.Expense, term string) bool {
	t := normalize(strings.TrimSpace(term))
	if t == "" {
		return true
	}
	return strings.Contains(normalize(core.Deref(e.DocumentNumber)), t) ||
		strings.Contains(normalize(core.Deref(e.VendorName)), t)
}

// Filter returns the expenses matching term, in their original order.
func Filter(items []core.Expense, term string) []core.Expense {
	out := make([]core.Expense, 0, len(items))
	for _, e := range items {
		if Matches(e, term) {
			out = append(out, e)
		}
	}
	return out
}

// NewRow derives the displayed fields of e.
func NewRow(e core.Expense, now time.Time) Row {
	total := totals.Total(e.Items)
	if len(e.Items) == 0 {
		total = e.TotalAmount
	}
	return Row{
		ID:             e.ID,
		DocumentNumber: core.Deref(e.DocumentNumber),
		VendorName:     core.Deref(e.VendorName),
		Project:        core.Deref(e.Project),
		Date:           e.Date,
		DueDate:        e.DueDate,
		Currency:       core.Deref(e.Currency),
		Category:       e.PrimaryCategory(),
		Total:          total,
		Amount:         totals.DiscountedTotal(total, e.Discount),
		Status:         e.Status(now),
	}
}

// Local filters and paginates an in-memory collection.
func Local(items []core.Expense, s State, now time.Time) Page {
	s = s.normalized()
	filtered := Filter(items, s.Search)
	pages := TotalPages(len(filtered), s.PageSize)
	s.Page = clamp(s.Page, 1, pages)

	start := min((s.Page-1)*s.PageSize, len(filtered))
	end := min(start+s.PageSize, len(filtered))
	rows := make([]Row, 0, end-start)
	for _, e := range filtered[start:end] {
		rows = append(rows, NewRow(e, now))
	}
	return newPage(s, rows, len(filtered), pages)
}

// Lister is the server-side paginated source.
type Lister interface {
	List(ctx context.Context, page, pageSize int, search string) (expenseapi.Page, error)
}

// Remote fetches the page from the server, which does the filtering.
func Remote(ctx context.Context, l Lister, s State, now time.Time) (Page, error) {
	s = s.normalized()
	res, err := l.List(ctx, s.Page, s.PageSize, s.Search)
	if err != nil {
		return Page{State: s}, fmt.Errorf("list expenses: %w", err)
	}
	pages := res.TotalPages
	if pages < 1 {
		pages = TotalPages(res.TotalCount, s.PageSize)
	}
	rows := make([]Row, 0, len(res.Items))
	for _, e := range res.Items {
		rows = append(rows, NewRow(e, now))
	}
	return newPage(s, rows, res.TotalCount, pages), nil
}

func newPage(s State, rows []Row, count, pages int) Page {
	p := Page{State: s, Rows: rows, TotalCount: count, TotalPages: pages}
	if count > 0 && len(rows) > 0 {
		p.From = (s.Page-1)*s.PageSize + 1
		p.To = p.From + len(rows) - 1
	}
	return p
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}
