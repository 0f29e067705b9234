// Package docnum allocates sequential expense document numbers of the form
// EXP-YYYY-MM-DD-NNNN.
package docnum

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sync/singleflight"

	"expensedesk/internal/core"
)

const (
	Prefix    = "EXP"
	separator = "-"
	width     = 4
)

var ErrMalformedDocumentNumber = errors.New("malformed document number")

// LatestNumberSource returns the latest document number issued for a date,
// or nil when none exists yet.
type LatestNumberSource interface {
	LatestDocumentNumber(ctx context.Context, date core.Date) (*string, error)
}

// First returns the first number of the day, e.g. EXP-2025-05-11-0001.
func First(date core.Date) string {
	return fmt.Sprintf("%s-%04d-%02d-%02d-%0*d", Prefix, date.Year(), int(date.Month()), date.Day(), width, 1)
}

// Next computes the number following latest. A nil or blank latest yields the
// first number for date. The trailing segment of latest must be an unsigned
// integer; it is incremented and re-padded while the other segments are kept
// as they are. Counters past 9999 widen rather than wrap.
func Next(date core.Date, latest *string) (string, error) {
	if latest == nil || strings.TrimSpace(*latest) == "" {
		return First(date), nil
	}
	value := strings.TrimSpace(*latest)
	idx := strings.LastIndex(value, separator)
	head, tail := "", value
	if idx >= 0 {
		head, tail = value[:idx+1], value[idx+1:]
	}
	if !isDigits(tail) {
		return "", fmt.Errorf("%w: %q", ErrMalformedDocumentNumber, value)
	}
	n, err := strconv.ParseUint(tail, 10, 64)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrMalformedDocumentNumber, value, err)
	}
	return fmt.Sprintf("%s%0*d", head, width, n+1), nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Allocator looks up the latest number through a source and computes the
// next one. Concurrent calls for the same date share a single lookup.
type Allocator struct {
	source LatestNumberSource
	group  singleflight.Group
}

func NewAllocator(source LatestNumberSource) *Allocator {
	return &Allocator{source: source}
}

// Allocate returns the suggested next document number for date. Nothing is
// reserved on the server; the number is only a suggestion for the form.
func (a *Allocator) Allocate(ctx context.Context, date core.Date) (string, error) {
	if err := date.Validate(); err != nil {
		return "", fmt.Errorf("allocate document number: %w", err)
	}
	v, err, _ := a.group.Do(date.String(), func() (any, error) {
		latest, err := a.source.LatestDocumentNumber(ctx, date)
		if err != nil {
			return "", fmt.Errorf("get latest document number: %w", err)
		}
		return Next(date, latest)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
