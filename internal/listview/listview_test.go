package listview

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"expensedesk/internal/core"
	"expensedesk/internal/expenseapi"
)

var now = time.Date(2025, 5, 20, 12, 0, 0, 0, time.UTC)

func expenses(n int) []core.Expense {
	out := make([]core.Expense, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, core.Expense{
			ID:             int64(i),
			DocumentNumber: core.StringPtr(fmt.Sprintf("EXP-2025-05-10-%04d", i)),
			VendorName:     core.StringPtr(fmt.Sprintf("Vendor %d", i)),
			DueDate:        core.NewDate(2025, 6, 1),
		})
	}
	return out
}

func TestSearchIgnoresCaseAndSeparators(t *testing.T) {
	items := []core.Expense{
		{ID: 1, DocumentNumber: core.StringPtr("EXP-2025-05-10-0001"), VendorName: core.StringPtr("Acme Co")},
		{ID: 2, DocumentNumber: core.StringPtr("EXP-2024-01-01-0001"), VendorName: core.StringPtr("Globex")},
	}
	cases := []struct {
		term string
		want []int64
	}{
		{"EXP2025", []int64{1}},
		{"exp-2025", []int64{1}},
		{"acme", []int64{1}},
		{"GLOB", []int64{2}},
		{"", []int64{1, 2}},
		{"  ", []int64{1, 2}},
		{"initech", nil},
	}
	for _, tc := range cases {
		got := Filter(items, tc.term)
		if len(got) != len(tc.want) {
			t.Fatalf("%q: expected %d results, got %d", tc.term, len(tc.want), len(got))
		}
		for i := range got {
			if got[i].ID != tc.want[i] {
				t.Fatalf("%q: unexpected result order %v", tc.term, got)
			}
		}
	}
}

func TestStateResets(t *testing.T) {
	s := NewState().GoTo(3, 5)
	if s.Page != 3 {
		t.Fatalf("expected page 3, got %d", s.Page)
	}
	if s2 := s.WithSearch("EXP2025"); s2.Page != 1 || s2.Search != "EXP2025" {
		t.Fatalf("search change must reset page: %+v", s2)
	}
	if s2 := s.WithSearch(""); s2.Page != 3 {
		t.Fatalf("unchanged search must keep page: %+v", s2)
	}
	s2, err := s.WithPageSize(20)
	if err != nil || s2.Page != 1 || s2.PageSize != 20 {
		t.Fatalf("page size change must reset page: %+v %v", s2, err)
	}
	s3, err := s.WithPageSize(10)
	if err != nil || s3.Page != 3 {
		t.Fatalf("unchanged page size must keep page: %+v %v", s3, err)
	}
	if _, err := s.WithPageSize(15); !errors.Is(err, ErrInvalidPageSize) {
		t.Fatalf("expected ErrInvalidPageSize, got %v", err)
	}
}

func TestPrevNextClamp(t *testing.T) {
	s := NewState()
	if s.Prev(3).Page != 1 {
		t.Fatalf("prev on first page must stay on 1")
	}
	s = s.GoTo(3, 3)
	if s.Next(3).Page != 3 {
		t.Fatalf("next on last page must stay on last")
	}
	if s.GoTo(10, 0).Page != 1 {
		t.Fatalf("empty list has a single page")
	}
}

func TestTotalPages(t *testing.T) {
	cases := []struct{ count, size, want int }{
		{0, 10, 1},
		{1, 10, 1},
		{10, 10, 1},
		{11, 10, 2},
		{101, 50, 3},
	}
	for _, tc := range cases {
		if got := TotalPages(tc.count, tc.size); got != tc.want {
			t.Fatalf("TotalPages(%d, %d) = %d, want %d", tc.count, tc.size, got, tc.want)
		}
	}
}

func TestLocalPagination(t *testing.T) {
	items := expenses(25)
	p := Local(items, NewState().GoTo(3, 3), now)
	if len(p.Rows) != 5 || p.TotalPages != 3 || p.TotalCount != 25 {
		t.Fatalf("unexpected page %+v", p)
	}
	if from, to, total := p.Range(); from != 21 || to != 25 || total != 25 {
		t.Fatalf("unexpected range %d-%d of %d", from, to, total)
	}
	if !p.HasPrev() || p.HasNext() {
		t.Fatalf("unexpected prev/next flags")
	}

	// A stale page past the end is clamped after filtering shrinks the list.
	p = Local(items, State{Search: "0025", Page: 3, PageSize: 10}, now)
	if p.State.Page != 1 || len(p.Rows) != 1 || p.Rows[0].ID != 25 {
		t.Fatalf("unexpected filtered page %+v", p)
	}

	p = Local(nil, NewState(), now)
	if from, to, total := p.Range(); from != 0 || to != 0 || total != 0 || p.TotalPages != 1 {
		t.Fatalf("unexpected empty range %d-%d of %d (%d pages)", from, to, total, p.TotalPages)
	}
	if p.HasPrev() || p.HasNext() || p.State.Next(p.TotalPages).Page != 1 {
		t.Fatalf("empty result must not navigate away from page 1")
	}
}

func TestRowDerivedFields(t *testing.T) {
	e := core.Expense{
		ID:       1,
		Discount: decimal.NewFromInt(10),
		DueDate:  core.NewDate(2025, 5, 1),
		Items: []core.ExpenseItem{
			{Category: "Travel", Quantity: decimal.NewFromInt(2), UnitPrice: decimal.NewFromInt(50), Amount: decimal.NewFromInt(1)},
		},
	}
	r := NewRow(e, now)
	if !r.Amount.Equal(decimal.NewFromInt(90)) || !r.Total.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("unexpected amounts %s %s", r.Total, r.Amount)
	}
	if r.Status != core.StatusOverdue || r.Category != "Travel" {
		t.Fatalf("unexpected status/category %s %s", r.Status, r.Category)
	}

	r = NewRow(core.Expense{TotalAmount: decimal.NewFromInt(40), DueDate: core.NewDate(2025, 7, 1)}, now)
	if !r.Amount.Equal(decimal.NewFromInt(40)) || r.Status != core.StatusActive || r.Category != core.NoCategory {
		t.Fatalf("unexpected row without items %+v", r)
	}
}

type fakeLister struct {
	page, size int
	search     string
	res        expenseapi.Page
	err        error
}

func (f *fakeLister) List(_ context.Context, page, size int, search string) (expenseapi.Page, error) {
	f.page, f.size, f.search = page, size, search
	return f.res, f.err
}

func TestRemote(t *testing.T) {
	l := &fakeLister{res: expenseapi.Page{Items: expenses(20)[:10], TotalCount: 20, PageNumber: 2, PageSize: 10}}
	s := NewState().WithSearch("vendor").GoTo(2, 2)
	p, err := Remote(context.Background(), l, s, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l.page != 2 || l.size != 10 || l.search != "vendor" {
		t.Fatalf("unexpected request %d %d %q", l.page, l.size, l.search)
	}
	if p.TotalPages != 2 || p.From != 11 || p.To != 20 {
		t.Fatalf("unexpected page %+v", p)
	}

	l.err = expenseapi.ErrUnreachable
	if _, err := Remote(context.Background(), l, s, now); !errors.Is(err, expenseapi.ErrUnreachable) {
		t.Fatalf("expected ErrUnreachable, got %v", err)
	}
}
