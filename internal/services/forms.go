package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"expensedesk/internal/cache"
	"expensedesk/internal/core"
	"expensedesk/internal/form"
	"expensedesk/internal/log"
	"expensedesk/internal/storage"
)

var ErrFormNotFound = errors.New("form not found")

// DraftStore persists open forms between requests and restarts.
type DraftStore interface {
	SaveDraft(ctx context.Context, snap form.Snapshot) error
	GetDraft(ctx context.Context, id string) (form.Snapshot, error)
	ListDrafts(ctx context.Context) ([]storage.DraftSummary, error)
	DeleteDraft(ctx context.Context, id string) error
}

// FormServiceConfig configures NewFormService.
type FormServiceConfig struct {
	MaxOpen int
	IdleTTL time.Duration
}

// FormService keeps the open form controllers. Controllers live in memory
// and every edit is written through to the draft store, so a form evicted
// from memory or lost in a restart is restored on next access.
type FormService struct {
	deps   form.Deps
	drafts DraftStore
	open   *cache.LRUCache[*form.Controller]
	logger *log.Logger

	restores singleflight.Group
}

// NewFormService builds the registry. drafts may be nil, which keeps forms in
// memory only.
func NewFormService(deps form.Deps, drafts DraftStore, logger *log.Logger, cfg FormServiceConfig) *FormService {
	if cfg.MaxOpen <= 0 {
		cfg.MaxOpen = 256
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 30 * time.Minute
	}
	return &FormService{
		deps:   deps,
		drafts: drafts,
		open:   cache.NewLRUCache[*form.Controller](cfg.MaxOpen, cfg.IdleTTL),
		logger: logger.WithComponent(log.ComponentForm),
	}
}

// Cache returns the in-memory form cache for periodic cleanup.
func (s *FormService) Cache() cache.Cleaner { return s.open }

// Create opens a blank create-mode form.
func (s *FormService) Create(ctx context.Context) *form.Controller {
	c := form.NewCreate(ctx, s.deps)
	s.track(ctx, c)
	s.logger.InfoContext(ctx, "Form opened", log.NewFields().
		WithForm(c.ID(), string(c.Mode())).
		WithExpense(0, core.Deref(c.View().Expense.DocumentNumber)).ToSlice()...)
	return c
}

// OpenEdit opens the stored expense id for editing.
func (s *FormService) OpenEdit(ctx context.Context, id int64) (*form.Controller, error) {
	c, err := form.OpenEdit(ctx, s.deps, id)
	if err != nil {
		return nil, err
	}
	s.track(ctx, c)
	s.logger.InfoContext(ctx, "Form opened", log.NewFields().
		WithForm(c.ID(), string(c.Mode())).
		WithExpense(id, "").ToSlice()...)
	return c, nil
}

func (s *FormService) track(ctx context.Context, c *form.Controller) {
	s.open.Set(c.ID(), c)
	s.saveDraft(ctx, c)
}

// Get returns the open form, restoring it from its draft when needed.
// Concurrent misses for one form share a single restore so every caller
// gets the same controller.
func (s *FormService) Get(ctx context.Context, formID string) (*form.Controller, error) {
	if c, ok := s.open.Get(formID); ok {
		return c, nil
	}
	if s.drafts == nil {
		return nil, fmt.Errorf("%w: %s", ErrFormNotFound, formID)
	}
	v, err, _ := s.restores.Do(formID, func() (any, error) {
		if c, ok := s.open.Get(formID); ok {
			return c, nil
		}
		snap, err := s.drafts.GetDraft(context.WithoutCancel(ctx), formID)
		if errors.Is(err, storage.ErrDraftNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrFormNotFound, formID)
		}
		if err != nil {
			return nil, fmt.Errorf("load form %s: %w", formID, err)
		}
		c, err := form.Restore(snap, s.deps)
		if err != nil {
			return nil, err
		}
		s.open.Set(formID, c)
		s.logger.DebugContext(ctx, "Form restored from draft", log.FieldFormID, formID)
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*form.Controller), nil
}

// Edit applies fn to the open form and saves the resulting draft. The draft
// is saved even when fn fails, since a rejected edit may follow accepted ones
// in the same call.
func (s *FormService) Edit(ctx context.Context, formID string, fn func(*form.Controller) error) (*form.Controller, error) {
	c, err := s.Get(ctx, formID)
	if err != nil {
		return nil, err
	}
	err = fn(c)
	if c.State() == form.StateDraft {
		s.saveDraft(ctx, c)
	}
	return c, err
}

// Submit submits the form. On success the draft is removed; the controller
// stays open in memory so its outcome can still be read.
func (s *FormService) Submit(ctx context.Context, formID string) (*form.Controller, core.Expense, error) {
	c, err := s.Get(ctx, formID)
	if err != nil {
		return nil, core.Expense{}, err
	}
	saved, err := c.Submit(ctx)
	if err != nil {
		if c.State() == form.StateDraft {
			s.saveDraft(ctx, c)
		}
		return c, core.Expense{}, err
	}
	s.deleteDraft(ctx, formID)
	return c, saved, nil
}

// Close discards the form and its draft.
func (s *FormService) Close(ctx context.Context, formID string) error {
	_, inMemory := s.open.Get(formID)
	s.open.Delete(formID)
	if s.drafts == nil {
		if !inMemory {
			return fmt.Errorf("%w: %s", ErrFormNotFound, formID)
		}
		return nil
	}
	s.deleteDraft(ctx, formID)
	s.logger.InfoContext(ctx, "Form closed", log.FieldFormID, formID)
	return nil
}

// Drafts lists the stored drafts.
func (s *FormService) Drafts(ctx context.Context) ([]storage.DraftSummary, error) {
	if s.drafts == nil {
		return nil, nil
	}
	return s.drafts.ListDrafts(ctx)
}

func (s *FormService) saveDraft(ctx context.Context, c *form.Controller) {
	if s.drafts == nil {
		return
	}
	if err := s.drafts.SaveDraft(ctx, c.Snapshot()); err != nil {
		s.logger.WarnContext(ctx, "Failed to save draft", log.FieldFormID, c.ID(), log.FieldError, err)
	}
}

func (s *FormService) deleteDraft(ctx context.Context, formID string) {
	if s.drafts == nil {
		return
	}
	if err := s.drafts.DeleteDraft(ctx, formID); err != nil {
		s.logger.WarnContext(ctx, "Failed to delete draft", log.FieldFormID, formID, log.FieldError, err)
	}
}
