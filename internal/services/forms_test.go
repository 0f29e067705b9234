package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"expensedesk/internal/amqp"
	"expensedesk/internal/core"
	"expensedesk/internal/docnum"
	"expensedesk/internal/form"
	"expensedesk/internal/storage"
)

type formFixture struct {
	repo   *fakeRepo
	pub    *fakePublisher
	svc    *ExpenseService
	drafts *storage.DraftStore
	forms  *FormService
	deps   form.Deps
}

func newFormFixture(t *testing.T) *formFixture {
	t.Helper()
	drafts, err := storage.NewDraftStore(filepath.Join(t.TempDir(), "drafts.db"))
	if err != nil {
		t.Fatalf("NewDraftStore() error = %v", err)
	}
	t.Cleanup(func() { drafts.Close() })

	f := &formFixture{repo: newFakeRepo(2), pub: &fakePublisher{}, drafts: drafts}
	f.svc = newService(f.repo, f.pub, true)
	f.deps = form.Deps{
		Repo:        f.repo,
		Numbers:     docnum.NewAllocator(f.repo),
		Rules:       form.Lenient,
		Now:         func() time.Time { return fixedNow },
		OnSubmitted: f.svc.ExpenseSubmitted,
	}
	f.forms = NewFormService(f.deps, drafts, testLogger(), FormServiceConfig{})
	return f
}

func fill(c *form.Controller) error {
	ctx := context.Background()
	steps := []func() error{
		func() error { return c.SetField(ctx, "vendorName", "Acme") },
		func() error { return c.SetItemField(0, "description", "Paper") },
		func() error { return c.SetItemField(0, "category", "Office") },
		func() error { return c.SetItemField(0, "unit", "box") },
		func() error { return c.SetItemField(0, "unitPrice", "250") },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

func TestFormCreateSavesDraft(t *testing.T) {
	f := newFormFixture(t)
	ctx := context.Background()

	c := f.forms.Create(ctx)
	if got := core.Deref(c.View().Expense.DocumentNumber); got != "EXP-2025-05-20-0001" {
		t.Errorf("document number = %q", got)
	}
	snap, err := f.drafts.GetDraft(ctx, c.ID())
	if err != nil {
		t.Fatalf("draft not saved: %v", err)
	}
	if snap.Mode != form.ModeCreate {
		t.Errorf("draft mode = %q", snap.Mode)
	}
}

func TestFormRestoredFromDraft(t *testing.T) {
	f := newFormFixture(t)
	ctx := context.Background()

	c := f.forms.Create(ctx)
	if _, err := f.forms.Edit(ctx, c.ID(), fill); err != nil {
		t.Fatalf("Edit() error = %v", err)
	}

	// A second registry over the same store has nothing in memory.
	other := NewFormService(f.deps, f.drafts, testLogger(), FormServiceConfig{})
	restored, err := other.Get(ctx, c.ID())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	v := restored.View()
	if core.Deref(v.Expense.VendorName) != "Acme" || !v.Expense.TotalAmount.Equal(decimal.NewFromInt(250)) {
		t.Errorf("restored expense = vendor %q total %s", core.Deref(v.Expense.VendorName), v.Expense.TotalAmount)
	}
	if restored.ID() != c.ID() {
		t.Errorf("restored id = %q, want %q", restored.ID(), c.ID())
	}
}

func TestFormGetUnknown(t *testing.T) {
	f := newFormFixture(t)
	if _, err := f.forms.Get(context.Background(), "missing"); !errors.Is(err, ErrFormNotFound) {
		t.Fatalf("Get() error = %v, want ErrFormNotFound", err)
	}
}

func TestFormSubmitDeletesDraftAndPublishes(t *testing.T) {
	f := newFormFixture(t)
	ctx := context.Background()

	c := f.forms.Create(ctx)
	if _, err := f.forms.Edit(ctx, c.ID(), fill); err != nil {
		t.Fatal(err)
	}
	_, saved, err := f.forms.Submit(ctx, c.ID())
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if saved.ID != 3 {
		t.Errorf("saved id = %d, want 3", saved.ID)
	}
	if _, err := f.drafts.GetDraft(ctx, c.ID()); !errors.Is(err, storage.ErrDraftNotFound) {
		t.Errorf("draft still present after submit: %v", err)
	}
	if len(f.pub.events) != 1 || f.pub.events[0].Kind != amqp.EventCreated {
		t.Errorf("events = %+v", f.pub.events)
	}
	got, err := f.forms.Get(ctx, c.ID())
	if err != nil || got.State() != form.StateSuccess {
		t.Errorf("form after submit: state=%v err=%v", got, err)
	}
}

func TestFormSubmitValidationKeepsDraft(t *testing.T) {
	f := newFormFixture(t)
	ctx := context.Background()

	c := f.forms.Create(ctx)
	_, _, err := f.forms.Submit(ctx, c.ID())
	if !errors.Is(err, form.ErrValidation) {
		t.Fatalf("Submit() error = %v, want ErrValidation", err)
	}
	if _, err := f.drafts.GetDraft(ctx, c.ID()); err != nil {
		t.Errorf("draft lost after failed submit: %v", err)
	}
	if f.repo.nextID != 3 {
		t.Error("invalid form reached the server")
	}
}

func TestFormOpenEditAndClose(t *testing.T) {
	f := newFormFixture(t)
	ctx := context.Background()

	c, err := f.forms.OpenEdit(ctx, 2)
	if err != nil {
		t.Fatalf("OpenEdit() error = %v", err)
	}
	if c.Mode() != form.ModeEdit {
		t.Errorf("mode = %q", c.Mode())
	}
	drafts, err := f.forms.Drafts(ctx)
	if err != nil || len(drafts) != 1 || drafts[0].ExpenseID != 2 {
		t.Fatalf("Drafts() = %+v, %v", drafts, err)
	}

	if err := f.forms.Close(ctx, c.ID()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := f.forms.Get(ctx, c.ID()); !errors.Is(err, ErrFormNotFound) {
		t.Errorf("Get() after close error = %v", err)
	}

	if _, err := f.forms.OpenEdit(ctx, 404); err == nil {
		t.Error("OpenEdit() of a missing expense should fail")
	}
}

func TestFormServiceWithoutDrafts(t *testing.T) {
	forms := NewFormService(form.Deps{Repo: newFakeRepo(0), Now: func() time.Time { return fixedNow }}, nil, testLogger(), FormServiceConfig{})
	ctx := context.Background()

	c := forms.Create(ctx)
	if _, err := forms.Get(ctx, c.ID()); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if err := forms.Close(ctx, c.ID()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := forms.Close(ctx, c.ID()); !errors.Is(err, ErrFormNotFound) {
		t.Errorf("second Close() error = %v, want ErrFormNotFound", err)
	}
}

type fakePurger struct {
	cutoffs []time.Time
	n       int64
}

func (p *fakePurger) PurgeOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	p.cutoffs = append(p.cutoffs, cutoff)
	return p.n, nil
}

func TestJanitorRunOnce(t *testing.T) {
	p := &fakePurger{n: 2}
	j := NewJanitor(p, testLogger(), JanitorConfig{DraftTTL: 24 * time.Hour})
	j.now = func() time.Time { return fixedNow }

	if n := j.RunOnce(context.Background()); n != 2 {
		t.Errorf("RunOnce() = %d, want 2", n)
	}
	if want := fixedNow.Add(-24 * time.Hour); !p.cutoffs[0].Equal(want) {
		t.Errorf("cutoff = %v, want %v", p.cutoffs[0], want)
	}
}

func TestJanitorStartStop(t *testing.T) {
	j := NewJanitor(&fakePurger{}, testLogger(), JanitorConfig{Interval: time.Hour})
	ctx := context.Background()

	if err := j.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := j.Start(ctx); err == nil {
		t.Error("second Start() should fail")
	}
	if !j.IsRunning() {
		t.Error("IsRunning() = false")
	}
	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := j.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if j.IsRunning() {
		t.Error("IsRunning() after Stop = true")
	}
}

// slowDrafts holds the first GetDraft until gate is closed.
type slowDrafts struct {
	*storage.DraftStore
	gets    atomic.Int32
	once    sync.Once
	entered chan struct{}
	gate    chan struct{}
}

func (d *slowDrafts) GetDraft(ctx context.Context, id string) (form.Snapshot, error) {
	d.gets.Add(1)
	d.once.Do(func() {
		close(d.entered)
		<-d.gate
	})
	return d.DraftStore.GetDraft(ctx, id)
}

func TestConcurrentRestoreSharesController(t *testing.T) {
	f := newFormFixture(t)
	ctx := context.Background()
	c := f.forms.Create(ctx)

	drafts := &slowDrafts{DraftStore: f.drafts, entered: make(chan struct{}), gate: make(chan struct{})}
	other := NewFormService(f.deps, drafts, testLogger(), FormServiceConfig{})

	const callers = 6
	got := make([]*form.Controller, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			restored, err := other.Get(ctx, c.ID())
			if err != nil {
				t.Errorf("Get() error = %v", err)
				return
			}
			got[i] = restored
		}()
	}
	<-drafts.entered
	time.Sleep(20 * time.Millisecond)
	close(drafts.gate)
	wg.Wait()

	for i := 1; i < callers; i++ {
		if got[i] != got[0] {
			t.Fatalf("caller %d got a different controller", i)
		}
	}
	if n := drafts.gets.Load(); n != 1 {
		t.Errorf("GetDraft calls = %d, want 1", n)
	}
}
