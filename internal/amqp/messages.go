package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type EventKind string

const (
	EventCreated EventKind = "created"
	EventUpdated EventKind = "updated"
	EventDeleted EventKind = "deleted"
)

func (k EventKind) Valid() bool {
	switch k {
	case EventCreated, EventUpdated, EventDeleted:
		return true
	}
	return false
}

// ExpenseEvent announces a change to an expense. It carries only the id;
// consumers re-read the expense from the API.
type ExpenseEvent struct {
	EventID        string    `json:"eventId"`
	Kind           EventKind `json:"kind"`
	ExpenseID      int64     `json:"expenseId"`
	DocumentNumber string    `json:"documentNumber,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

func NewExpenseEvent(kind EventKind, expenseID int64, documentNumber string) *ExpenseEvent {
	return &ExpenseEvent{
		EventID:        uuid.NewString(),
		Kind:           kind,
		ExpenseID:      expenseID,
		DocumentNumber: documentNumber,
		Timestamp:      time.Now().UTC(),
	}
}

func (m *ExpenseEvent) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ExpenseEventFromJSON decodes and checks an event body.
func ExpenseEventFromJSON(data []byte) (*ExpenseEvent, error) {
	var msg ExpenseEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if !msg.Kind.Valid() {
		return nil, fmt.Errorf("unknown event kind %q", msg.Kind)
	}
	if msg.ExpenseID <= 0 {
		return nil, fmt.Errorf("invalid expense id %d", msg.ExpenseID)
	}
	return &msg, nil
}
