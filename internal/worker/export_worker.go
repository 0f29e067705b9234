package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"expensedesk/internal/amqp"
	"expensedesk/internal/cache"
	"expensedesk/internal/core"
	"expensedesk/internal/expenseapi"
	"expensedesk/internal/sheets"
	"expensedesk/internal/totals"
)

// ExpenseReader re-reads an expense by id.
type ExpenseReader interface {
	GetByID(ctx context.Context, id int64) (core.Expense, error)
}

// ExportWorker turns expense events into spreadsheet rows. Events only carry
// the id, so the current state is always read back from the API.
type ExportWorker struct {
	reader   ExpenseReader
	exporter sheets.ExpenseExporter
	seen     *cache.LRUCache[struct{}]
}

func NewExportWorker(reader ExpenseReader, exporter sheets.ExpenseExporter) *ExportWorker {
	return &ExportWorker{
		reader:   reader,
		exporter: exporter,
		seen:     cache.NewLRUCache[struct{}](1000, time.Hour),
	}
}

// HandleEvent processes one event. A returned error requeues the message.
func (w *ExportWorker) HandleEvent(ctx context.Context, ev *amqp.ExpenseEvent) error {
	if ev.EventID != "" {
		if _, dup := w.seen.Get(ev.EventID); dup {
			slog.InfoContext(ctx, "Skipping duplicate expense event", "event_id", ev.EventID, "expense_id", ev.ExpenseID)
			return nil
		}
	}

	switch ev.Kind {
	case amqp.EventDeleted:
		// Exported rows are kept as a record of what was submitted.
		slog.InfoContext(ctx, "Expense deleted upstream, keeping exported row",
			"expense_id", ev.ExpenseID,
			"document_number", ev.DocumentNumber)
	default:
		if err := w.export(ctx, ev.ExpenseID); err != nil {
			return err
		}
	}
	w.markSeen(ev.EventID)
	return nil
}

func (w *ExportWorker) export(ctx context.Context, id int64) error {
	e, err := w.reader.GetByID(ctx, id)
	if errors.Is(err, expenseapi.ErrNotFound) {
		slog.WarnContext(ctx, "Expense vanished before export, skipping", "expense_id", id)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get expense %d: %w", id, err)
	}
	ref, err := w.exporter.Export(ctx, recomputed(ctx, e))
	if err != nil {
		return fmt.Errorf("export expense %d: %w", id, err)
	}
	slog.InfoContext(ctx, "Expense exported", "expense_id", id, "ref", ref)
	return nil
}

func (w *ExportWorker) markSeen(eventID string) {
	if eventID != "" {
		w.seen.Set(eventID, struct{}{})
	}
}

// ExportAll exports every expense given, continuing past failures. It is
// used to backfill a sheet and returns the number exported.
func (w *ExportWorker) ExportAll(ctx context.Context, expenses []core.Expense) (int, error) {
	var errs []error
	n := 0
	for _, e := range expenses {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if _, err := w.exporter.Export(ctx, recomputed(ctx, e)); err != nil {
			errs = append(errs, fmt.Errorf("expense %d: %w", e.ID, err))
			continue
		}
		n++
	}
	slog.InfoContext(ctx, "Backfill finished", "exported", n, "failed", len(errs))
	return n, errors.Join(errs...)
}

// recomputed returns e with its item amounts and total derived from the
// quantities and prices, so the sheet never carries totals that disagree
// with the line items.
func recomputed(ctx context.Context, e core.Expense) core.Expense {
	if totals.Consistent(e) {
		return e
	}
	slog.WarnContext(ctx, "Expense totals disagree with its items, recomputing before export",
		"expense_id", e.ID, "total_amount", e.TotalAmount.String())
	out := e.Clone()
	totals.Recompute(&out)
	return out
}
