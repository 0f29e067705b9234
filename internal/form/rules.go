package form

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"expensedesk/internal/core"
)

var ErrValidation = errors.New("validation failed")

// ValidationError is a problem with a single field. Item fields are named
// like "expenseItems[0].quantity".
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects every failed rule of one validation run.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	msgs := make([]string, 0, len(v))
	for _, e := range v {
		msgs = append(msgs, e.Error())
	}
	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(msgs, "; "))
}

func (v ValidationErrors) Unwrap() error { return ErrValidation }

// For returns the message recorded for field, if any.
func (v ValidationErrors) For(field string) (string, bool) {
	for _, e := range v {
		if e.Field == field {
			return e.Message, true
		}
	}
	return "", false
}

func (v ValidationErrors) err() error {
	if len(v) == 0 {
		return nil
	}
	return v
}

// Rules is the single validation rule set. The Require* flags decide which
// optional text fields must be non-empty; everything else always applies.
type Rules struct {
	Name                string
	RequireVendorName   bool
	RequireVendorDetail bool
	RequireProject      bool
	RequireRemark       bool
	RequireInternalNote bool
}

var (
	Strict = Rules{
		Name:                "strict",
		RequireVendorName:   true,
		RequireVendorDetail: true,
		RequireProject:      true,
		RequireRemark:       true,
		RequireInternalNote: true,
	}
	Lenient = Rules{
		Name:              "lenient",
		RequireVendorName: true,
	}
)

// RulesByName resolves "strict" or "lenient" (case-insensitive).
func RulesByName(name string) (Rules, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "strict":
		return Strict, nil
	case "lenient", "":
		return Lenient, nil
	}
	return Rules{}, fmt.Errorf("unknown form rules %q", name)
}

// Validate checks e and returns every violation, or nil.
func (r Rules) Validate(e core.Expense) ValidationErrors {
	var errs ValidationErrors
	add := func(field, msg string) {
		errs = append(errs, ValidationError{Field: field, Message: msg})
	}
	required := []struct {
		on    bool
		field string
		value *string
		msg   string
	}{
		{r.RequireVendorName, "vendorName", e.VendorName, "Vendor name is required"},
		{r.RequireVendorDetail, "vendorDetail", e.VendorDetail, "Vendor detail is required"},
		{r.RequireProject, "project", e.Project, "Project is required"},
		{r.RequireRemark, "remark", e.Remark, "Remark is required"},
		{r.RequireInternalNote, "internalNote", e.InternalNote, "Internal note is required"},
	}
	for _, f := range required {
		if f.on && strings.TrimSpace(core.Deref(f.value)) == "" {
			add(f.field, f.msg)
		}
	}

	if e.Date.Validate() != nil {
		add("date", "Date is required")
	}
	if e.DueDate.Validate() != nil {
		add("dueDate", "Due date is required")
	}
	if e.CreditTerm < 0 {
		add("creditTerm", "Credit term must be at least 0")
	}
	if e.Discount.IsNegative() {
		add("discount", "Discount must be at least 0")
	}
	if e.Currency != nil && core.ValidateCurrency(*e.Currency) != nil {
		add("currency", "Currency must be a 3-letter code")
	}

	if len(e.Items) == 0 {
		add("expenseItems", "At least one expense item is required")
	}
	one := decimal.NewFromInt(1)
	for i, it := range e.Items {
		prefix := "expenseItems[" + strconv.Itoa(i) + "]."
		if strings.TrimSpace(it.Description) == "" {
			add(prefix+"description", "Description is required")
		}
		if strings.TrimSpace(it.Category) == "" {
			add(prefix+"category", "Category is required")
		}
		if it.Quantity.LessThan(one) {
			add(prefix+"quantity", "Quantity must be at least 1")
		}
		if strings.TrimSpace(it.Unit) == "" {
			add(prefix+"unit", "Unit is required")
		}
		if it.UnitPrice.IsNegative() {
			add(prefix+"unitPrice", "Unit price must be at least 0")
		}
	}
	return errs
}
