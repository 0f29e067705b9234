package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"expensedesk/internal/core"
	"expensedesk/internal/docnum"
	"expensedesk/internal/expenseapi"
	"expensedesk/internal/form"
	"expensedesk/internal/listview"
	"expensedesk/internal/log"
	"expensedesk/internal/middleware/ratelimit"
	"expensedesk/internal/services"
)

var fixedNow = time.Date(2025, 5, 20, 10, 0, 0, 0, time.UTC)

type fakeRepo struct {
	mu       sync.Mutex
	expenses []core.Expense
	nextID   int64
	fail     error
}

func newFakeRepo(n int) *fakeRepo {
	r := &fakeRepo{nextID: int64(n) + 1}
	for i := 1; i <= n; i++ {
		r.expenses = append(r.expenses, core.Expense{
			ID:             int64(i),
			DocumentNumber: core.StringPtr(fmt.Sprintf("EXP-2025-05-10-%04d", i)),
			VendorName:     core.StringPtr(fmt.Sprintf("Vendor %d", i)),
			Date:           core.NewDate(2025, 5, 10),
			DueDate:        core.NewDate(2025, 5, 15),
			Currency:       core.StringPtr("THB"),
			Items: []core.ExpenseItem{{
				ID:          int64(i) * 10,
				ExpenseID:   int64(i),
				Description: "Paper",
				Category:    "Office",
				Quantity:    decimal.NewFromInt(1),
				Unit:        "box",
				UnitPrice:   decimal.NewFromInt(100),
				Amount:      decimal.NewFromInt(100),
			}},
			TotalAmount: decimal.NewFromInt(100),
		})
	}
	return r
}

func (r *fakeRepo) setFail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail = err
}

func (r *fakeRepo) List(_ context.Context, page, pageSize int, search string) (expenseapi.Page, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return expenseapi.Page{}, r.fail
	}
	matched := listview.Filter(r.expenses, search)
	start := min((page-1)*pageSize, len(matched))
	end := min(start+pageSize, len(matched))
	return expenseapi.Page{
		Items:      append([]core.Expense(nil), matched[start:end]...),
		TotalCount: len(matched),
		PageNumber: page,
		PageSize:   pageSize,
		TotalPages: listview.TotalPages(len(matched), pageSize),
	}, nil
}

func (r *fakeRepo) GetByID(_ context.Context, id int64) (core.Expense, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return core.Expense{}, r.fail
	}
	for _, e := range r.expenses {
		if e.ID == id {
			return e.Clone(), nil
		}
	}
	return core.Expense{}, &expenseapi.APIError{Status: http.StatusNotFound, Message: "Expense not found"}
}

func (r *fakeRepo) Create(_ context.Context, e core.Expense) (core.Expense, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return core.Expense{}, r.fail
	}
	e.ID = r.nextID
	r.nextID++
	r.expenses = append(r.expenses, e.Clone())
	return e, nil
}

func (r *fakeRepo) Update(_ context.Context, id int64, e core.Expense) (core.Expense, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return core.Expense{}, r.fail
	}
	for i := range r.expenses {
		if r.expenses[i].ID == id {
			r.expenses[i] = e.Clone()
			return e, nil
		}
	}
	return core.Expense{}, &expenseapi.APIError{Status: http.StatusNotFound, Message: "Expense not found"}
}

func (r *fakeRepo) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	for i := range r.expenses {
		if r.expenses[i].ID == id {
			r.expenses = append(r.expenses[:i], r.expenses[i+1:]...)
			return nil
		}
	}
	return &expenseapi.APIError{Status: http.StatusNotFound, Message: "Expense not found"}
}

func (r *fakeRepo) LatestDocumentNumber(context.Context, core.Date) (*string, error) {
	return nil, nil
}

type testServer struct {
	repo   *fakeRepo
	server *Server
}

func newTestServer(t *testing.T, n int, rl ratelimit.Config) *testServer {
	t.Helper()
	logger := log.New(log.Config{Output: &bytes.Buffer{}})
	repo := newFakeRepo(n)
	now := func() time.Time { return fixedNow }

	expenses := services.NewExpenseService(repo, nil, logger, services.ExpenseServiceConfig{CacheTTL: time.Minute, Now: now})
	forms := services.NewFormService(form.Deps{
		Repo:            repo,
		Numbers:         docnum.NewAllocator(repo),
		Rules:           form.Lenient,
		DefaultCurrency: core.DefaultCurrency,
		Now:             now,
		OnSubmitted:     expenses.ExpenseSubmitted,
	}, nil, logger, services.FormServiceConfig{})

	if rl.RequestsPerMinute == 0 {
		rl = ratelimit.DefaultConfig()
	}
	srv := NewServer(":0", Deps{
		Expenses: expenses,
		Forms:    forms,
		Logger:   logger,
		ReadyChecks: map[string]ReadyCheck{
			"expense_api": func(ctx context.Context) error {
				repo.mu.Lock()
				defer repo.mu.Unlock()
				return repo.fail
			},
		},
		RateLimit: rl,
	})
	t.Cleanup(func() { srv.limiter.Stop() })
	return &testServer{repo: repo, server: srv}
}

func (ts *testServer) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.server.Handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

// Field names in the JSON bodies the tests read back.
type listBody struct {
	ViewID     string `json:"viewId"`
	Page       int    `json:"page"`
	PageSize   int    `json:"pageSize"`
	TotalPages int    `json:"totalPages"`
	TotalCount int    `json:"totalCount"`
	From       int    `json:"from"`
	To         int    `json:"to"`
	Rows       []struct {
		ID         int64  `json:"id"`
		Status     string `json:"status"`
		AmountText string `json:"amountText"`
	} `json:"rows"`
}

type formBody struct {
	FormID          string          `json:"formId"`
	Mode            string          `json:"mode"`
	State           string          `json:"state"`
	DiscountedTotal json.Number     `json:"discountedTotal"`
	Expense         json.RawMessage `json:"expense"`
	Errors          []struct {
		Field string `json:"field"`
	} `json:"errors"`
}

type errorBody struct {
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	RequestID string `json:"requestId"`
	Errors    []struct {
		Field   string `json:"field"`
		Message string `json:"message"`
	} `json:"errors"`
	Form *formBody `json:"form"`
}

func TestHealthAndReady(t *testing.T) {
	ts := newTestServer(t, 0, ratelimit.Config{})

	if rec := ts.do(t, http.MethodGet, "/healthz", nil); rec.Code != http.StatusOK {
		t.Errorf("healthz status = %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodGet, "/readyz", nil); rec.Code != http.StatusOK {
		t.Errorf("readyz status = %d", rec.Code)
	}

	ts.repo.setFail(expenseapi.ErrUnreachable)
	rec := ts.do(t, http.MethodGet, "/readyz", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz status with failing check = %d", rec.Code)
	}
	body := decode[map[string]any](t, rec)
	if body["status"] != "not ready" {
		t.Errorf("readyz body = %v", body)
	}
	requests, _ := body["requests"].(map[string]any)
	if requests["total"] != float64(2) || requests["serverErrors"] != float64(0) {
		t.Errorf("request counters = %v, want 2 completed requests and no server errors", body["requests"])
	}
}

func TestResponsesCarryRequestIDAndSecurityHeaders(t *testing.T) {
	ts := newTestServer(t, 0, ratelimit.Config{})
	rec := ts.do(t, http.MethodGet, "/healthz", nil)
	if !strings.HasPrefix(rec.Header().Get("X-Request-ID"), "req_") {
		t.Errorf("X-Request-ID = %q", rec.Header().Get("X-Request-ID"))
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Errorf("missing nosniff header")
	}
}

func TestUnknownRouteIsJSON404(t *testing.T) {
	ts := newTestServer(t, 0, ratelimit.Config{})
	rec := ts.do(t, http.MethodGet, "/api/nothing", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decode[errorBody](t, rec).Message; got != "Not found" {
		t.Errorf("message = %q", got)
	}
}

func TestListViewKeepsStateAcrossRequests(t *testing.T) {
	ts := newTestServer(t, 25, ratelimit.Config{})

	first := decode[listBody](t, ts.do(t, http.MethodGet, "/api/expenses", nil))
	if first.ViewID == "" {
		t.Fatal("no view id returned")
	}
	if first.Page != 1 || first.PageSize != 10 || first.TotalPages != 3 || first.From != 1 || first.To != 10 {
		t.Fatalf("first page = %+v", first)
	}
	if first.Rows[0].Status != string(core.StatusOverdue) {
		t.Errorf("row status = %q", first.Rows[0].Status)
	}
	if first.Rows[0].AmountText != "THB 100.00" {
		t.Errorf("row amountText = %q", first.Rows[0].AmountText)
	}

	view := "/api/expenses?view=" + first.ViewID
	tests := []struct {
		name     string
		query    string
		wantPage int
		wantSize int
		wantFrom int
	}{
		{"next", "&nav=next", 2, 10, 11},
		{"next again", "&nav=next", 3, 10, 21},
		{"next clamps", "&nav=next", 3, 10, 21},
		{"prev", "&nav=prev", 2, 10, 11},
		{"page size resets page", "&pageSize=20", 1, 20, 1},
		{"explicit page", "&page=2", 2, 20, 21},
		{"search resets page", "&search=EXP", 1, 20, 1},
		{"page past the end", "&page=99", 2, 20, 21},
	}
	for _, tt := range tests {
		rec := ts.do(t, http.MethodGet, view+tt.query, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status = %d body %s", tt.name, rec.Code, rec.Body)
		}
		got := decode[listBody](t, rec)
		if got.Page != tt.wantPage || got.PageSize != tt.wantSize || got.From != tt.wantFrom {
			t.Errorf("%s: page=%d size=%d from=%d, want %d %d %d",
				tt.name, got.Page, got.PageSize, got.From, tt.wantPage, tt.wantSize, tt.wantFrom)
		}
	}
}

func TestListViewSearchIgnoresSeparators(t *testing.T) {
	ts := newTestServer(t, 25, ratelimit.Config{})
	got := decode[listBody](t, ts.do(t, http.MethodGet, "/api/expenses?search=20250510-0012", nil))
	if got.TotalCount != 1 || len(got.Rows) != 1 || got.Rows[0].ID != 12 {
		t.Errorf("search result = %+v", got)
	}
}

func TestListViewRejectsBadQuery(t *testing.T) {
	ts := newTestServer(t, 5, ratelimit.Config{})
	for _, q := range []string{"pageSize=15", "pageSize=ten", "page=x"} {
		if rec := ts.do(t, http.MethodGet, "/api/expenses?"+q, nil); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d", q, rec.Code)
		}
	}
}

func TestUnreachableServerIsRetryable502(t *testing.T) {
	ts := newTestServer(t, 5, ratelimit.Config{})
	ts.repo.setFail(fmt.Errorf("%w: connection refused", expenseapi.ErrUnreachable))

	rec := ts.do(t, http.MethodGet, "/api/expenses", nil)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode[errorBody](t, rec)
	if body.Message != expenseapi.UnreachableMessage || !body.Retryable {
		t.Errorf("body = %+v", body)
	}
	if body.RequestID == "" || body.RequestID != rec.Header().Get("X-Request-ID") {
		t.Errorf("requestId = %q, header %q", body.RequestID, rec.Header().Get("X-Request-ID"))
	}
}

func TestGetExpense(t *testing.T) {
	ts := newTestServer(t, 3, ratelimit.Config{})

	rec := ts.do(t, http.MethodGet, "/api/expenses/2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode[map[string]any](t, rec)
	if body["documentNumber"] != "EXP-2025-05-10-0002" {
		t.Errorf("documentNumber = %v", body["documentNumber"])
	}

	if rec := ts.do(t, http.MethodGet, "/api/expenses/99", nil); rec.Code != http.StatusNotFound {
		t.Errorf("missing expense status = %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodGet, "/api/expenses/abc", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad id status = %d", rec.Code)
	}
}

func TestDeleteRequiresConfirmation(t *testing.T) {
	ts := newTestServer(t, 3, ratelimit.Config{})

	if rec := ts.do(t, http.MethodDelete, "/api/expenses/1", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("unconfirmed delete status = %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodDelete, "/api/expenses/1?confirm=true", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("confirmed delete status = %d", rec.Code)
	}
	rec := ts.do(t, http.MethodDelete, "/api/expenses/1?confirm=true", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d", rec.Code)
	}
	if got := decode[errorBody](t, rec).Message; got != "Expense not found" {
		t.Errorf("message = %q, want server message verbatim", got)
	}

	list := decode[listBody](t, ts.do(t, http.MethodGet, "/api/expenses", nil))
	if list.TotalCount != 2 {
		t.Errorf("total after delete = %d", list.TotalCount)
	}
}

func TestFormLifecycle(t *testing.T) {
	ts := newTestServer(t, 2, ratelimit.Config{})

	rec := ts.do(t, http.MethodPost, "/api/forms", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}
	created := decode[formBody](t, rec)
	if created.Mode != string(form.ModeCreate) || created.State != string(form.StateDraft) {
		t.Fatalf("created form = %+v", created)
	}
	if rec.Header().Get("Location") != "/api/forms/"+created.FormID {
		t.Errorf("Location = %q", rec.Header().Get("Location"))
	}
	var exp map[string]any
	if err := json.Unmarshal(created.Expense, &exp); err != nil {
		t.Fatal(err)
	}
	if exp["documentNumber"] != "EXP-2025-05-20-0001" || exp["currency"] != "THB" {
		t.Errorf("defaults = %v", exp)
	}

	base := "/api/forms/" + created.FormID
	if rec := ts.do(t, http.MethodPost, base+"/items", nil); rec.Code != http.StatusCreated {
		t.Fatalf("add item status = %d", rec.Code)
	}
	rec = ts.do(t, http.MethodPatch, base, map[string]any{
		"fields": map[string]any{"vendorName": "Acme", "discount": 10},
		"items": []map[string]any{
			{"index": 0, "fields": map[string]any{"description": "Paper", "category": "Office", "unit": "box", "quantity": 2, "unitPrice": "150"}},
			{"index": 1, "fields": map[string]any{"description": "Ink", "category": "Office", "unit": "pc", "unitPrice": 100}},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("patch status = %d body %s", rec.Code, rec.Body)
	}
	if got := decode[formBody](t, rec).DiscountedTotal.String(); got != "360.00" {
		t.Errorf("discountedTotal = %s, want 360.00", got)
	}

	rec = ts.do(t, http.MethodPost, base+"/submit", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("submit status = %d body %s", rec.Code, rec.Body)
	}
	var submitted struct {
		Form    formBody       `json:"form"`
		Expense map[string]any `json:"expense"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &submitted); err != nil {
		t.Fatal(err)
	}
	if submitted.Form.State != string(form.StateSuccess) {
		t.Errorf("state after submit = %q", submitted.Form.State)
	}
	if submitted.Expense["id"] != float64(3) || submitted.Expense["totalAmount"] != float64(400) {
		t.Errorf("saved expense = %v", submitted.Expense)
	}

	if rec := ts.do(t, http.MethodPatch, base, map[string]any{"fields": map[string]any{"remark": "late"}}); rec.Code != http.StatusConflict {
		t.Errorf("edit after success status = %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodDelete, base, nil); rec.Code != http.StatusNoContent {
		t.Errorf("close status = %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodGet, base, nil); rec.Code != http.StatusNotFound {
		t.Errorf("get after close status = %d", rec.Code)
	}
}

func TestPatchCollectsFieldErrors(t *testing.T) {
	ts := newTestServer(t, 0, ratelimit.Config{})
	created := decode[formBody](t, ts.do(t, http.MethodPost, "/api/forms", nil))

	rec := ts.do(t, http.MethodPatch, "/api/forms/"+created.FormID, map[string]any{
		"fields": map[string]any{"creditTerm": "ten", "dueDate": "someday", "vendorName": "Acme"},
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode[errorBody](t, rec)
	if len(body.Errors) != 2 || body.Errors[0].Field != "creditTerm" || body.Errors[1].Field != "dueDate" {
		t.Errorf("errors = %+v", body.Errors)
	}
	if body.Form == nil || !strings.Contains(string(body.Form.Expense), `"vendorName":"Acme"`) {
		t.Errorf("valid edits in the same request were not applied: %+v", body.Form)
	}
}

func TestPatchRejectsMalformedRequests(t *testing.T) {
	ts := newTestServer(t, 0, ratelimit.Config{})
	created := decode[formBody](t, ts.do(t, http.MethodPost, "/api/forms", nil))
	base := "/api/forms/" + created.FormID

	tests := []struct {
		name string
		body any
	}{
		{"unknown field", map[string]any{"fields": map[string]any{"colour": "red"}}},
		{"read-only amount", map[string]any{"items": []map[string]any{{"index": 0, "fields": map[string]any{"amount": 5}}}}},
		{"item out of range", map[string]any{"items": []map[string]any{{"index": 4, "fields": map[string]any{"unit": "pc"}}}}},
		{"object value", map[string]any{"fields": map[string]any{"vendorName": map[string]any{"a": 1}}}},
		{"unknown top-level key", `{"field": {}}`},
		{"empty body", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := tt.body
			if s, ok := body.(string); ok && s == "" {
				body = nil
			}
			if rec := ts.do(t, http.MethodPatch, base, body); rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d body %s", rec.Code, rec.Body)
			}
		})
	}
}

func TestSubmitInvalidFormIs422WithoutNetworkCall(t *testing.T) {
	ts := newTestServer(t, 0, ratelimit.Config{})
	created := decode[formBody](t, ts.do(t, http.MethodPost, "/api/forms", nil))

	rec := ts.do(t, http.MethodPost, "/api/forms/"+created.FormID+"/submit", nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode[errorBody](t, rec)
	if body.Form == nil || body.Form.State != string(form.StateDraft) {
		t.Errorf("form after failed validation = %+v", body.Form)
	}
	if len(ts.repo.expenses) != 0 {
		t.Errorf("repository was written to")
	}
}

func TestSubmitSurfacesServerMessage(t *testing.T) {
	ts := newTestServer(t, 0, ratelimit.Config{})
	created := decode[formBody](t, ts.do(t, http.MethodPost, "/api/forms", nil))
	base := "/api/forms/" + created.FormID
	ts.do(t, http.MethodPatch, base, map[string]any{
		"fields": map[string]any{"vendorName": "Acme"},
		"items":  []map[string]any{{"index": 0, "fields": map[string]any{"description": "Paper", "category": "Office", "unit": "box", "unitPrice": 10}}},
	})

	ts.repo.setFail(&expenseapi.APIError{Status: http.StatusBadRequest, Message: "Document number already exists"})
	rec := ts.do(t, http.MethodPost, base+"/submit", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode[errorBody](t, rec)
	if body.Message != "Document number already exists" {
		t.Errorf("message = %q", body.Message)
	}
	if body.Form == nil || body.Form.State != string(form.StateDraft) {
		t.Errorf("form should be back in draft: %+v", body.Form)
	}
}

func TestEditFormKeepsNumberReadOnly(t *testing.T) {
	ts := newTestServer(t, 2, ratelimit.Config{})

	rec := ts.do(t, http.MethodPost, "/api/forms/edit/2", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d", rec.Code)
	}
	edit := decode[formBody](t, rec)
	if edit.Mode != string(form.ModeEdit) {
		t.Fatalf("mode = %q", edit.Mode)
	}
	rec = ts.do(t, http.MethodPatch, "/api/forms/"+edit.FormID, map[string]any{"fields": map[string]any{"documentNumber": "X-1"}})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("document number edit status = %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodPost, "/api/forms/edit/77", nil); rec.Code != http.StatusNotFound {
		t.Errorf("edit missing expense status = %d", rec.Code)
	}
}

func TestRemoveLastItemIsNoop(t *testing.T) {
	ts := newTestServer(t, 0, ratelimit.Config{})
	created := decode[formBody](t, ts.do(t, http.MethodPost, "/api/forms", nil))
	base := "/api/forms/" + created.FormID

	rec := ts.do(t, http.MethodDelete, base+"/items/0", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Expense struct {
			Items []json.RawMessage `json:"expenseItems"`
		} `json:"expense"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Expense.Items) != 1 {
		t.Errorf("items = %d, want 1", len(body.Expense.Items))
	}
	if rec := ts.do(t, http.MethodDelete, base+"/items/5", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("out of range status = %d", rec.Code)
	}
}

func TestDashboard(t *testing.T) {
	ts := newTestServer(t, 4, ratelimit.Config{})

	rec := ts.do(t, http.MethodGet, "/api/dashboard", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Period      string          `json:"period"`
		Count       int             `json:"count"`
		Total       json.Number     `json:"total"`
		Outstanding json.Number     `json:"outstanding"`
		Payables    json.RawMessage `json:"payables"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Period != "3m" || body.Count != 4 || body.Total.String() != "400.00" || body.Outstanding.String() != "400.00" {
		t.Errorf("overview = %+v", body)
	}

	if rec := ts.do(t, http.MethodGet, "/api/dashboard?period=2w", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid period status = %d", rec.Code)
	}
}

func TestMutatingRequestsAreRateLimited(t *testing.T) {
	ts := newTestServer(t, 0, ratelimit.Config{RequestsPerMinute: 2, CleanupInterval: time.Minute})

	for i := range 2 {
		if rec := ts.do(t, http.MethodPost, "/api/forms", nil); rec.Code != http.StatusCreated {
			t.Fatalf("request %d status = %d", i, rec.Code)
		}
	}
	rec := ts.do(t, http.MethodPost, "/api/forms", nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
	if rec := ts.do(t, http.MethodGet, "/api/expenses", nil); rec.Code != http.StatusOK {
		t.Errorf("reads should not be limited, status = %d", rec.Code)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", form.ValidationErrors{{Field: "vendorName", Message: "required"}}, http.StatusUnprocessableEntity},
		{"bad request", badRequest("nope"), http.StatusBadRequest},
		{"form missing", services.ErrFormNotFound, http.StatusNotFound},
		{"unreachable", fmt.Errorf("list: %w", expenseapi.ErrUnreachable), http.StatusBadGateway},
		{"api not found", &expenseapi.APIError{Status: 404, Message: "gone"}, http.StatusNotFound},
		{"api conflict", &expenseapi.APIError{Status: 409, Message: "dup"}, http.StatusConflict},
		{"api 500", &expenseapi.APIError{Status: 500, Message: "boom"}, http.StatusBadGateway},
		{"api 400", &expenseapi.APIError{Status: 400, Message: "bad"}, http.StatusBadRequest},
		{"in flight", form.ErrSubmitInFlight, http.StatusConflict},
		{"unknown field", form.ErrUnknownField, http.StatusBadRequest},
		{"page size", listview.ErrInvalidPageSize, http.StatusBadRequest},
		{"malformed number", docnum.ErrMalformedDocumentNumber, http.StatusBadRequest},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"other", errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, body := errorStatus(tt.err)
			if got != tt.want {
				t.Errorf("errorStatus(%v) = %d, want %d", tt.err, got, tt.want)
			}
			if got == http.StatusInternalServerError && strings.Contains(body.Message, "disk") {
				t.Errorf("internal error leaked: %q", body.Message)
			}
		})
	}
}
