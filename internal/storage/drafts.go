// Package storage keeps unsubmitted form drafts in a local SQLite database so
// an open form survives a restart of the service.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"expensedesk/internal/form"
)

var ErrDraftNotFound = errors.New("draft not found")

type draftRow struct {
	ID        string `db:"id"`
	Mode      string `db:"mode"`
	ExpenseID int64  `db:"expense_id"`
	Payload   []byte `db:"payload"`
	CreatedAt int64  `db:"created_at"`
	UpdatedAt int64  `db:"updated_at"`
}

// DraftSummary describes a stored draft without decoding it.
type DraftSummary struct {
	ID        string
	Mode      form.Mode
	ExpenseID int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

type DraftStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewDraftStore opens (creating if needed) the database at dbPath and
// applies pending migrations.
func NewDraftStore(dbPath string) (*DraftStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	if err := RunMigrations(dbPath); err != nil {
		return nil, err
	}
	db, err := sqlx.Connect("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	return &DraftStore{db: db, now: time.Now}, nil
}

func (s *DraftStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks the database connection.
func (s *DraftStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveDraft inserts or replaces the draft for snap.FormID.
func (s *DraftStore) SaveDraft(ctx context.Context, snap form.Snapshot) error {
	if snap.FormID == "" {
		return errors.New("save draft: missing form id")
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode draft: %w", err)
	}
	now := s.now().UnixMilli()
	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO drafts (id, mode, expense_id, payload, created_at, updated_at)
		VALUES (:id, :mode, :expense_id, :payload, :created_at, :updated_at)
		ON CONFLICT(id) DO UPDATE SET
			mode = excluded.mode,
			expense_id = excluded.expense_id,
			payload = excluded.payload,
			updated_at = excluded.updated_at`,
		draftRow{
			ID:        snap.FormID,
			Mode:      string(snap.Mode),
			ExpenseID: snap.Expense.ID,
			Payload:   payload,
			CreatedAt: now,
			UpdatedAt: now,
		})
	if err != nil {
		return fmt.Errorf("save draft %s: %w", snap.FormID, err)
	}
	slog.DebugContext(ctx, "Draft saved", "form", snap.FormID, "mode", snap.Mode)
	return nil
}

func (s *DraftStore) GetDraft(ctx context.Context, id string) (form.Snapshot, error) {
	var row draftRow
	err := s.db.GetContext(ctx, &row, `SELECT id, mode, expense_id, payload, created_at, updated_at FROM drafts WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return form.Snapshot{}, fmt.Errorf("%w: %s", ErrDraftNotFound, id)
	}
	if err != nil {
		return form.Snapshot{}, fmt.Errorf("get draft %s: %w", id, err)
	}
	var snap form.Snapshot
	if err := json.Unmarshal(row.Payload, &snap); err != nil {
		return form.Snapshot{}, fmt.Errorf("decode draft %s: %w", id, err)
	}
	return snap, nil
}

// ListDrafts returns the stored drafts, most recently updated first.
func (s *DraftStore) ListDrafts(ctx context.Context) ([]DraftSummary, error) {
	var rows []draftRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT id, mode, expense_id, created_at, updated_at FROM drafts ORDER BY updated_at DESC, id`); err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}
	out := make([]DraftSummary, 0, len(rows))
	for _, r := range rows {
		out = append(out, DraftSummary{
			ID:        r.ID,
			Mode:      form.Mode(r.Mode),
			ExpenseID: r.ExpenseID,
			CreatedAt: time.UnixMilli(r.CreatedAt).UTC(),
			UpdatedAt: time.UnixMilli(r.UpdatedAt).UTC(),
		})
	}
	return out, nil
}

// DeleteDraft removes a draft. Deleting a missing draft is not an error.
func (s *DraftStore) DeleteDraft(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM drafts WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete draft %s: %w", id, err)
	}
	return nil
}

// PurgeOlderThan deletes drafts not touched since cutoff and returns how
// many were removed.
func (s *DraftStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM drafts WHERE updated_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purge drafts: %w", err)
	}
	return res.RowsAffected()
}
