// Package form holds the expense form controller: the editable state of one
// open form, its validation and its submission to the repository.
package form

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"expensedesk/internal/core"
	"expensedesk/internal/totals"
)

var (
	ErrUnknownField   = errors.New("unknown form field")
	ErrReadOnlyField  = errors.New("field is read-only")
	ErrItemOutOfRange = errors.New("expense item index out of range")
)

// Repository is the part of the expense API the form needs.
type Repository interface {
	GetByID(ctx context.Context, id int64) (core.Expense, error)
	Create(ctx context.Context, e core.Expense) (core.Expense, error)
	Update(ctx context.Context, id int64, e core.Expense) (core.Expense, error)
}

// NumberAllocator suggests the next document number for a date.
type NumberAllocator interface {
	Allocate(ctx context.Context, date core.Date) (string, error)
}

// SubmittedFunc is called once after a successful create or update.
type SubmittedFunc func(ctx context.Context, mode Mode, saved core.Expense)

type Deps struct {
	Repo            Repository
	Numbers         NumberAllocator
	Rules           Rules
	DefaultCurrency string
	Now             func() time.Time
	OnSubmitted     SubmittedFunc
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d Deps) today() core.Date {
	n := d.now().UTC()
	return core.NewDate(n.Year(), int(n.Month()), n.Day())
}

// Controller is safe for concurrent use. Network calls run without the lock
// held, so edits made meanwhile are visible to the stale-response guard.
type Controller struct {
	mu        sync.Mutex
	id        string
	mode      Mode
	state     State
	expense   core.Expense
	errs      ValidationErrors
	submitErr error
	numberErr error
	saved     core.Expense
	deps      Deps
}

// View is a point-in-time copy of the controller state.
type View struct {
	ID              string
	Mode            Mode
	State           State
	Expense         core.Expense
	Discounted      decimal.Decimal
	Errors          ValidationErrors
	SubmitError     error
	NumberError     error
	NumberReadOnly  bool
	Saved           core.Expense
	DefaultCurrency string
}

func newController(mode Mode, e core.Expense, deps Deps) *Controller {
	if deps.Rules.Name == "" {
		deps.Rules = Lenient
	}
	if deps.DefaultCurrency == "" {
		deps.DefaultCurrency = core.DefaultCurrency
	}
	totals.Recompute(&e)
	return &Controller{
		id:      uuid.NewString(),
		mode:    mode,
		state:   StateDraft,
		expense: e,
		deps:    deps,
	}
}

// NewCreate opens a blank form dated today with one item and asks for the
// first document number. A failed lookup leaves the number empty and is
// reported through View.
func NewCreate(ctx context.Context, deps Deps) *Controller {
	today := deps.today()
	currency := deps.DefaultCurrency
	if currency == "" {
		currency = core.DefaultCurrency
	}
	c := newController(ModeCreate, core.Expense{
		Date:     today,
		DueDate:  today,
		Currency: core.StringPtr(currency),
		Items:    []core.ExpenseItem{core.NewItem()},
	}, deps)
	_ = c.RefreshDocumentNumber(ctx)
	return c
}

// OpenEdit loads the expense with its items and opens it for editing.
func OpenEdit(ctx context.Context, deps Deps, id int64) (*Controller, error) {
	e, err := deps.Repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load expense %d: %w", id, err)
	}
	if len(e.Items) == 0 {
		e.Items = []core.ExpenseItem{core.NewItem()}
	}
	return newController(ModeEdit, e, deps), nil
}

func (c *Controller) ID() string { return c.id }

func (c *Controller) Mode() Mode { return c.mode }

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return View{
		ID:              c.id,
		Mode:            c.mode,
		State:           c.state,
		Expense:         c.expense.Clone(),
		Discounted:      totals.Discounted(c.expense),
		Errors:          append(ValidationErrors(nil), c.errs...),
		SubmitError:     c.submitErr,
		NumberError:     c.numberErr,
		NumberReadOnly:  c.mode == ModeEdit,
		Saved:           c.saved.Clone(),
		DefaultCurrency: c.deps.DefaultCurrency,
	}
}

func (c *Controller) editable() error {
	switch c.state {
	case StateDraft:
		return nil
	case StateValidating, StateSubmitting:
		return fmt.Errorf("%w: %w", ErrNotEditable, ErrSubmitInFlight)
	}
	return fmt.Errorf("%w in state %s", ErrNotEditable, c.state)
}

// edit runs fn under the lock and recomputes the derived totals afterwards.
func (c *Controller) edit(fn func(e *core.Expense) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.editable(); err != nil {
		return err
	}
	if err := fn(&c.expense); err != nil {
		return err
	}
	totals.Recompute(&c.expense)
	return nil
}

func fieldError(field, msg string) error {
	return ValidationErrors{{Field: field, Message: msg}}
}

// SetField sets one header field from its text form. Changing "date" goes
// through SetDate and may trigger a document number lookup.
func (c *Controller) SetField(ctx context.Context, name, value string) error {
	switch name {
	case "date":
		return c.SetDate(ctx, value)
	case "discount":
		return c.SetDiscount(value)
	}
	return c.edit(func(e *core.Expense) error {
		v := strings.TrimSpace(value)
		switch name {
		case "documentNumber":
			if c.mode == ModeEdit {
				return fmt.Errorf("%w: %s", ErrReadOnlyField, name)
			}
			e.DocumentNumber = core.StringPtr(v)
		case "vendorName":
			e.VendorName = core.StringPtr(v)
		case "vendorDetail":
			e.VendorDetail = core.StringPtr(v)
		case "project":
			e.Project = core.StringPtr(v)
		case "referenceNumber":
			e.ReferenceNumber = core.StringPtr(v)
		case "remark":
			e.Remark = core.StringPtr(v)
		case "internalNote":
			e.InternalNote = core.StringPtr(v)
		case "currency":
			e.Currency = core.StringPtr(strings.ToUpper(v))
		case "creditTerm":
			if v == "" {
				e.CreditTerm = 0
				return nil
			}
			n, err := strconv.Atoi(v)
			if err != nil {
				return fieldError(name, "Credit term must be a whole number")
			}
			e.CreditTerm = n
		case "dueDate":
			d, err := core.ParseDate(v)
			if err != nil {
				return fieldError(name, "Due date is invalid")
			}
			e.DueDate = d
		case "vatIncluded":
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fieldError(name, "VAT included must be true or false")
			}
			e.VATIncluded = b
		default:
			return fmt.Errorf("%w: %s", ErrUnknownField, name)
		}
		return nil
	})
}

// SetDiscount stores the discount percentage. Non-numeric input counts as 0;
// negative values are kept so validation can reject them.
func (c *Controller) SetDiscount(value string) error {
	return c.edit(func(e *core.Expense) error {
		e.Discount = core.ParseNumber(value)
		return nil
	})
}

// SetDate changes the document date. In create mode a real change triggers a
// document number lookup for the new date; setting the same date again does
// not.
func (c *Controller) SetDate(ctx context.Context, value string) error {
	d, err := core.ParseDate(value)
	if err != nil {
		return fieldError("date", "Date is invalid")
	}
	changed := false
	err = c.edit(func(e *core.Expense) error {
		changed = !e.Date.Equal(d)
		e.Date = d
		return nil
	})
	if err != nil || !changed {
		return err
	}
	_ = c.RefreshDocumentNumber(ctx)
	return nil
}

// RefreshDocumentNumber asks the allocator for the number matching the
// current date. The answer is applied only if that date is still selected
// when it arrives. Edit mode never re-allocates.
func (c *Controller) RefreshDocumentNumber(ctx context.Context) error {
	c.mu.Lock()
	if c.mode != ModeCreate || c.deps.Numbers == nil {
		c.mu.Unlock()
		return nil
	}
	date := c.expense.Date
	c.mu.Unlock()

	number, err := c.deps.Numbers.Allocate(ctx, date)
	if err != nil {
		c.mu.Lock()
		if c.expense.Date.Equal(date) {
			c.numberErr = err
		}
		c.mu.Unlock()
		slog.WarnContext(ctx, "Document number lookup failed", "form", c.id, "date", date.String(), "error", err)
		return err
	}
	if !c.ApplyDocumentNumber(date, number) {
		slog.DebugContext(ctx, "Discarded stale document number", "form", c.id, "date", date.String(), "number", number)
	}
	return nil
}

// ApplyDocumentNumber sets number if date is still the selected date and the
// form is still a draft. It reports whether the number was applied.
func (c *Controller) ApplyDocumentNumber(date core.Date, number string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode != ModeCreate || c.state != StateDraft || !c.expense.Date.Equal(date) {
		return false
	}
	c.expense.DocumentNumber = core.StringPtr(number)
	c.numberErr = nil
	return true
}

// SetItemField sets one field of the item at index.
func (c *Controller) SetItemField(index int, name, value string) error {
	return c.edit(func(e *core.Expense) error {
		if index < 0 || index >= len(e.Items) {
			return fmt.Errorf("%w: %d", ErrItemOutOfRange, index)
		}
		it := &e.Items[index]
		switch name {
		case "description":
			it.Description = strings.TrimSpace(value)
		case "category":
			it.Category = strings.TrimSpace(value)
		case "unit":
			it.Unit = strings.TrimSpace(value)
		case "quantity":
			it.Quantity = core.ParseNumber(value)
		case "unitPrice":
			it.UnitPrice = core.ParseNumber(value)
		case "amount":
			return fmt.Errorf("%w: %s", ErrReadOnlyField, name)
		default:
			return fmt.Errorf("%w: %s", ErrUnknownField, name)
		}
		return nil
	})
}

// AddItem appends a blank row and returns its index.
func (c *Controller) AddItem() (int, error) {
	idx := -1
	err := c.edit(func(e *core.Expense) error {
		e.Items = append(e.Items, core.NewItem())
		idx = len(e.Items) - 1
		return nil
	})
	return idx, err
}

// RemoveItem deletes the row at index. Removing the only row is a no-op and
// reports false.
func (c *Controller) RemoveItem(index int) (bool, error) {
	removed := false
	err := c.edit(func(e *core.Expense) error {
		if index < 0 || index >= len(e.Items) {
			return fmt.Errorf("%w: %d", ErrItemOutOfRange, index)
		}
		if len(e.Items) == 1 {
			return nil
		}
		e.Items = append(e.Items[:index], e.Items[index+1:]...)
		removed = true
		return nil
	})
	return removed, err
}

func (c *Controller) transition(to State) error {
	if err := checkTransition(c.state, to); err != nil {
		return err
	}
	c.state = to
	return nil
}

// fail records a failed run and returns the form to draft.
func (c *Controller) fail() {
	if c.transition(StateFailed) == nil {
		_ = c.transition(StateDraft)
	}
}

// Submit validates the form and sends the whole expense in one request.
// Validation failures never reach the network. On any failure the form
// returns to draft with the error attached; nothing is retried.
func (c *Controller) Submit(ctx context.Context) (core.Expense, error) {
	c.mu.Lock()
	if c.state == StateValidating || c.state == StateSubmitting {
		c.mu.Unlock()
		return core.Expense{}, ErrSubmitInFlight
	}
	if err := c.transition(StateValidating); err != nil {
		c.mu.Unlock()
		return core.Expense{}, err
	}
	totals.Recompute(&c.expense)
	if errs := c.deps.Rules.Validate(c.expense); len(errs) > 0 {
		c.errs = errs
		c.submitErr = nil
		c.fail()
		c.mu.Unlock()
		return core.Expense{}, errs
	}
	c.errs = nil
	c.submitErr = nil
	_ = c.transition(StateSubmitting)
	payload := c.expense.Clone()
	mode := c.mode
	c.mu.Unlock()

	var (
		saved core.Expense
		err   error
	)
	if mode == ModeCreate {
		saved, err = c.deps.Repo.Create(ctx, payload)
	} else {
		saved, err = c.deps.Repo.Update(ctx, payload.ID, payload)
	}

	c.mu.Lock()
	if err != nil {
		c.submitErr = err
		c.fail()
		c.mu.Unlock()
		slog.ErrorContext(ctx, "Expense submission failed", "form", c.id, "mode", mode, "error", err)
		return core.Expense{}, fmt.Errorf("submit expense: %w", err)
	}
	c.saved = saved
	_ = c.transition(StateSuccess)
	c.mu.Unlock()

	slog.InfoContext(ctx, "Expense submitted", "form", c.id, "mode", mode, "id", saved.ID, "document_number", core.Deref(saved.DocumentNumber))
	if c.deps.OnSubmitted != nil {
		c.deps.OnSubmitted(ctx, mode, saved)
	}
	return saved, nil
}
