package core

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	StatusActive  ExpenseStatus = "Active"
	StatusOverdue ExpenseStatus = "Overdue"

	DefaultCurrency = "THB"
	NoCategory      = "N/A"

	dateLayout = "2006-01-02"
)

// Currencies offered by the form out of the box. Any other 3-letter code is
// accepted as well.
var Currencies = []string{"THB", "USD", "EUR"}

type (
	ExpenseStatus string

	Date struct {
		time.Time
	}

	// ExpenseItem is one line of an expense document. Amount is derived from
	// Quantity and UnitPrice and never trusted on its own.
	ExpenseItem struct {
		ID          int64 // 0 for rows not yet persisted
		ExpenseID   int64
		Description string
		Category    string
		Quantity    decimal.Decimal
		Unit        string
		UnitPrice   decimal.Decimal
		Amount      decimal.Decimal
	}

	// Expense is the aggregate edited by the form and exchanged with the API.
	Expense struct {
		ID              int64 // server-assigned, 0 while unsaved
		DocumentNumber  *string
		VendorName      *string
		VendorDetail    *string
		Project         *string
		ReferenceNumber *string
		Date            Date
		CreditTerm      int
		DueDate         Date
		Currency        *string
		Discount        decimal.Decimal // percentage
		VATIncluded     bool
		Remark          *string
		InternalNote    *string
		TotalAmount     decimal.Decimal
		Items           []ExpenseItem
	}
)

var (
	ErrInvalidDate     = errors.New("invalid date")
	ErrInvalidCurrency = errors.New("invalid currency code")

	currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)
	dayFirstPattern = regexp.MustCompile(`^(\d{2})/(\d{2})/(\d{4})$`)
)

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate accepts yyyy-MM-dd, dd/MM/yyyy and RFC 3339 timestamps (only the
// calendar part of a timestamp is kept).
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Date{}, ErrInvalidDate
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		return Date{Time: t}, nil
	}
	if m := dayFirstPattern.FindStringSubmatch(s); m != nil {
		if t, err := time.Parse(dateLayout, m[3]+"-"+m[2]+"-"+m[1]); err == nil {
			return Date{Time: t}, nil
		}
		return Date{}, ErrInvalidDate
	}
	if len(s) > 10 && s[10] == 'T' {
		if t, err := time.Parse(dateLayout, s[:10]); err == nil {
			return Date{Time: t}, nil
		}
	}
	return Date{}, ErrInvalidDate
}

// String renders the date as yyyy-MM-dd, or "" for the zero date.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

// Equal reports whether both dates fall on the same calendar day.
func (d Date) Equal(o Date) bool {
	return d.String() == o.String()
}

// AddDays returns the date n calendar days later.
func (d Date) AddDays(n int) Date {
	return Date{Time: d.Time.AddDate(0, 0, n)}
}

// ValidateCurrency accepts any three-letter upper-case code.
func ValidateCurrency(code string) error {
	if !currencyPattern.MatchString(code) {
		return ErrInvalidCurrency
	}
	return nil
}

// NewItem returns the blank row the form starts with.
func NewItem() ExpenseItem {
	return ExpenseItem{Quantity: decimal.NewFromInt(1)}
}

// Status is Active while the due date lies in the future, Overdue afterwards.
func (e Expense) Status(now time.Time) ExpenseStatus {
	if e.DueDate.After(now) {
		return StatusActive
	}
	return StatusOverdue
}

// PrimaryCategory is the category shown in list rows: the first item's.
func (e Expense) PrimaryCategory() string {
	if len(e.Items) == 0 || strings.TrimSpace(e.Items[0].Category) == "" {
		return NoCategory
	}
	return e.Items[0].Category
}

// Clone returns a deep copy so callers can hand out state without aliasing.
func (e Expense) Clone() Expense {
	out := e
	out.DocumentNumber = cloneString(e.DocumentNumber)
	out.VendorName = cloneString(e.VendorName)
	out.VendorDetail = cloneString(e.VendorDetail)
	out.Project = cloneString(e.Project)
	out.ReferenceNumber = cloneString(e.ReferenceNumber)
	out.Currency = cloneString(e.Currency)
	out.Remark = cloneString(e.Remark)
	out.InternalNote = cloneString(e.InternalNote)
	out.Items = append([]ExpenseItem(nil), e.Items...)
	return out
}

// StringPtr returns nil for blank input, mirroring how the form sends empty
// text fields as null.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
