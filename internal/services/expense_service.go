// Package services wires the repository client, the caches, the change-event
// publisher and the draft store into the operations the HTTP layer serves.
package services

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"expensedesk/internal/amqp"
	"expensedesk/internal/cache"
	"expensedesk/internal/core"
	"expensedesk/internal/expenseapi"
	"expensedesk/internal/form"
	"expensedesk/internal/listview"
	"expensedesk/internal/log"
)

const (
	// fetchPageSize is the page size used when every expense is needed.
	fetchPageSize = 100
	fetchParallel = 4

	allKey = "all"
)

// ExpenseRepository is the remote expense API.
type ExpenseRepository interface {
	List(ctx context.Context, page, pageSize int, search string) (expenseapi.Page, error)
	GetByID(ctx context.Context, id int64) (core.Expense, error)
	Create(ctx context.Context, e core.Expense) (core.Expense, error)
	Update(ctx context.Context, id int64, e core.Expense) (core.Expense, error)
	Delete(ctx context.Context, id int64) error
	LatestDocumentNumber(ctx context.Context, d core.Date) (*string, error)
}

// EventPublisher publishes expense change events.
type EventPublisher interface {
	PublishEvent(ctx context.Context, ev *amqp.ExpenseEvent) error
}

// ExpenseServiceConfig configures NewExpenseService.
type ExpenseServiceConfig struct {
	// LocalList filters and paginates in process over every expense instead
	// of asking the server for one page.
	LocalList bool
	CacheTTL  time.Duration
	Now       func() time.Time
}

// ExpenseService orchestrates reads and writes against the expense API,
// keeping the list and dashboard caches coherent and announcing changes.
type ExpenseService struct {
	repo      ExpenseRepository
	publisher EventPublisher
	logger    *log.Logger
	localList bool
	now       func() time.Time

	all       *cache.LRUCache[[]core.Expense]
	overviews *cache.LRUCache[core.Overview]
	group     singleflight.Group

	// generation counts invalidations. Results computed from a read that
	// began before the latest invalidation are never cached.
	generation atomic.Uint64
}

// NewExpenseService builds the service. publisher may be nil, in which case
// change events are skipped.
func NewExpenseService(repo ExpenseRepository, publisher EventPublisher, logger *log.Logger, cfg ExpenseServiceConfig) *ExpenseService {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 2 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &ExpenseService{
		repo:      repo,
		publisher: publisher,
		logger:    logger.WithComponent(log.ComponentAPI),
		localList: cfg.LocalList,
		now:       cfg.Now,
		all:       cache.NewLRUCache[[]core.Expense](1, cfg.CacheTTL),
		overviews: cache.NewLRUCache[core.Overview](8, cfg.CacheTTL),
	}
}

// Caches returns the service caches for periodic cleanup.
func (s *ExpenseService) Caches() []cache.Cleaner {
	return []cache.Cleaner{s.all, s.overviews}
}

// All returns every expense, reading page 1 first to learn the page count
// and the remaining pages in parallel. The result is cached until the next
// write or the cache TTL. Concurrent callers share one fetch per cache
// generation; the fetch outlives a caller that gives up.
func (s *ExpenseService) All(ctx context.Context) ([]core.Expense, error) {
	if items, ok := s.all.Get(allKey); ok {
		return items, nil
	}
	gen := s.generation.Load()
	v, err, _ := s.group.Do(allKey+"-"+strconv.FormatUint(gen, 10), func() (any, error) {
		items, err := s.fetchAll(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		if s.generation.Load() == gen {
			s.all.Set(allKey, items)
		}
		return items, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]core.Expense), nil
}

func (s *ExpenseService) fetchAll(ctx context.Context) ([]core.Expense, error) {
	first, err := s.repo.List(ctx, 1, fetchPageSize, "")
	if err != nil {
		return nil, fmt.Errorf("fetch expenses page 1: %w", err)
	}
	if first.TotalPages <= 1 {
		return first.Items, nil
	}

	pages := make([][]core.Expense, first.TotalPages)
	pages[0] = first.Items

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchParallel)
	for p := 2; p <= first.TotalPages; p++ {
		g.Go(func() error {
			page, err := s.repo.List(gctx, p, fetchPageSize, "")
			if err != nil {
				return fmt.Errorf("fetch expenses page %d: %w", p, err)
			}
			pages[p-1] = page.Items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]core.Expense, 0, first.TotalCount)
	for _, items := range pages {
		out = append(out, items...)
	}
	s.logger.DebugContext(ctx, "Fetched all expenses", "count", len(out), "pages", first.TotalPages)
	return out, nil
}

// List returns one page of the list view for state.
func (s *ExpenseService) List(ctx context.Context, state listview.State) (listview.Page, error) {
	if !s.localList {
		return listview.Remote(ctx, s.repo, state, s.now())
	}
	items, err := s.All(ctx)
	if err != nil {
		return listview.Page{}, err
	}
	return listview.Local(items, state, s.now()), nil
}

func (s *ExpenseService) Get(ctx context.Context, id int64) (core.Expense, error) {
	return s.repo.GetByID(ctx, id)
}

// Delete removes the expense on the server, then drops cached views and
// announces the deletion. Event failures are logged, not returned.
func (s *ExpenseService) Delete(ctx context.Context, id int64) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete expense %d: %w", id, err)
	}
	s.Invalidate()
	s.logger.InfoContext(ctx, "Expense deleted", log.FieldExpenseID, id)
	s.publish(ctx, amqp.EventDeleted, id, "")
	return nil
}

// ExpenseSubmitted is the form's success hook: the list is refreshed and a
// created or updated event goes out.
func (s *ExpenseService) ExpenseSubmitted(ctx context.Context, mode form.Mode, saved core.Expense) {
	s.Invalidate()
	kind := amqp.EventCreated
	if mode == form.ModeEdit {
		kind = amqp.EventUpdated
	}
	s.logger.InfoContext(ctx, "Expense saved", log.NewFields().
		WithExpense(saved.ID, core.Deref(saved.DocumentNumber)).
		WithOperation(string(kind)).ToSlice()...)
	s.publish(ctx, kind, saved.ID, core.Deref(saved.DocumentNumber))
}

// Overview returns the dashboard figures for period.
func (s *ExpenseService) Overview(ctx context.Context, period core.Period) (core.Overview, error) {
	key := string(period)
	if ov, ok := s.overviews.Get(key); ok {
		return ov, nil
	}
	gen := s.generation.Load()
	items, err := s.All(ctx)
	if err != nil {
		return core.Overview{}, err
	}
	ov := BuildOverview(items, period, s.now())
	if s.generation.Load() == gen {
		s.overviews.Set(key, ov)
	}
	return ov, nil
}

// Invalidate drops every cached list and dashboard view.
func (s *ExpenseService) Invalidate() {
	s.generation.Add(1)
	s.all.Clear()
	s.overviews.Clear()
}

func (s *ExpenseService) publish(ctx context.Context, kind amqp.EventKind, id int64, docNumber string) {
	if s.publisher == nil {
		s.logger.DebugContext(ctx, "AMQP publisher not configured, skipping event", log.FieldEventKind, kind)
		return
	}
	ev := amqp.NewExpenseEvent(kind, id, docNumber)
	if err := s.publisher.PublishEvent(ctx, ev); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish expense event", log.NewFields().
			WithEvent(ev.EventID, string(kind)).
			WithExpense(id, docNumber).
			WithError(err).ToSlice()...)
	}
}

// Ready reports whether the expense API answers.
func (s *ExpenseService) Ready(ctx context.Context) error {
	p, ok := s.repo.(interface{ Ping(context.Context) error })
	if !ok {
		return nil
	}
	if err := p.Ping(ctx); err != nil {
		return fmt.Errorf("expense api not ready: %w", err)
	}
	return nil
}
