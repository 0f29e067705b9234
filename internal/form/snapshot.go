package form

import (
	"fmt"
	"time"

	"expensedesk/internal/core"
	"expensedesk/internal/totals"
)

// Snapshot is the persistable state of a draft form.
type Snapshot struct {
	FormID  string       `json:"formId"`
	Mode    Mode         `json:"mode"`
	Expense core.Expense `json:"expense"`
	SavedAt time.Time    `json:"savedAt"`
}

// Snapshot captures the current form. Only drafts are worth saving, but the
// call works in any state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		FormID:  c.id,
		Mode:    c.mode,
		Expense: c.expense.Clone(),
		SavedAt: c.deps.now().UTC(),
	}
}

// Restore reopens a saved draft. The document number is kept as saved and
// not looked up again.
func Restore(s Snapshot, deps Deps) (*Controller, error) {
	if !s.Mode.Valid() {
		return nil, fmt.Errorf("restore form %s: invalid mode %q", s.FormID, s.Mode)
	}
	if s.Mode == ModeEdit && s.Expense.ID == 0 {
		return nil, fmt.Errorf("restore form %s: edit draft without expense id", s.FormID)
	}
	e := s.Expense.Clone()
	if len(e.Items) == 0 {
		e.Items = []core.ExpenseItem{core.NewItem()}
	}
	totals.Recompute(&e)
	c := newController(s.Mode, e, deps)
	if s.FormID != "" {
		c.id = s.FormID
	}
	return c, nil
}
