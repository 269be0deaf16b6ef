package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"remindd/internal/event"
	"remindd/internal/monitor"
	"remindd/internal/storage"
	logx "remindd/pkg/logx"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (r *recordingNotifier) Send(_ context.Context, userID, rendered string, _ map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, userID+":"+rendered)
	return nil
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func cacheRow(parent, typ, user string, start time.Time) event.Definition {
	u := user
	s := start
	return event.Definition{
		Type: typ, UserID: &u, Title: "take meds", Enabled: true,
		ParentID: parent, StartDateTime: &s,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func TestTickDispatchesAndDeletes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := storage.NewMemory()
	reg := event.NewRegistry()
	if err := reg.Register(event.TypeReminder, event.ReminderHandler()); err != nil {
		t.Fatalf("Register: %v", err)
	}
	n := &recordingNotifier{}
	svc := New(Config{Workers: 1}, store, reg, n, monitor.Nop(), logx.Nop())
	svc.Start(ctx)
	defer svc.Stop(ctx)

	minute := time.Date(2021, 6, 1, 10, 0, 0, 0, time.UTC)
	rows := []event.Definition{
		cacheRow("p1", event.TypeReminder, "u1", minute.Add(5*time.Second)),
		cacheRow("p2", event.TypeReminder, "u2", minute.Add(30*time.Second)),
		cacheRow("p3", event.TypeReminder, "u3", minute.Add(2*time.Minute)),
	}
	if err := store.InsertCache(ctx, rows); err != nil {
		t.Fatalf("InsertCache: %v", err)
	}

	if err := svc.Tick(ctx, minute); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	waitFor(t, func() bool { return n.count() == 2 })

	left, err := store.FindCache(ctx)
	if err != nil {
		t.Fatalf("FindCache: %v", err)
	}
	if len(left) != 1 || left[0].ParentID != "p3" {
		t.Fatalf("cache after tick = %+v", left)
	}
}

func TestUnknownTagSkipped(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := storage.NewMemory()
	reg := event.NewRegistry()
	if err := reg.Register(event.TypeReminder, event.ReminderHandler()); err != nil {
		t.Fatalf("Register: %v", err)
	}
	n := &recordingNotifier{}
	svc := New(Config{Workers: 1}, store, reg, n, monitor.Nop(), logx.Nop())
	svc.Start(ctx)
	defer svc.Stop(ctx)

	minute := time.Date(2021, 6, 1, 10, 0, 0, 0, time.UTC)
	rows := []event.Definition{
		cacheRow("p1", "no_such_type", "u1", minute),
		cacheRow("p2", event.TypeReminder, "u2", minute.Add(10*time.Second)),
	}
	if err := store.InsertCache(ctx, rows); err != nil {
		t.Fatalf("InsertCache: %v", err)
	}
	if err := svc.Tick(ctx, minute); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	// The known row still goes out; the unknown one is dropped either way.
	waitFor(t, func() bool { return n.count() == 1 })
	left, _ := store.FindCache(ctx)
	if len(left) != 0 {
		t.Fatalf("cache after tick = %+v", left)
	}
}

type failingNotifier struct{ recordingNotifier }

func (f *failingNotifier) Send(context.Context, string, string, map[string]any) error {
	return errors.New("transport down")
}

func TestExecuteFailureDoesNotFailTick(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := storage.NewMemory()
	reg := event.NewRegistry()
	if err := reg.Register(event.TypeReminder, event.ReminderHandler()); err != nil {
		t.Fatalf("Register: %v", err)
	}
	svc := New(Config{Workers: 1}, store, reg, &failingNotifier{}, monitor.Nop(), logx.Nop())
	svc.Start(ctx)
	defer svc.Stop(ctx)

	minute := time.Date(2021, 6, 1, 10, 0, 0, 0, time.UTC)
	if err := store.InsertCache(ctx, []event.Definition{
		cacheRow("p1", event.TypeReminder, "u1", minute),
	}); err != nil {
		t.Fatalf("InsertCache: %v", err)
	}
	if err := svc.Tick(ctx, minute); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	// Rows are deleted after hand-off regardless of delivery outcome.
	waitFor(t, func() bool {
		left, _ := store.FindCache(ctx)
		return len(left) == 0
	})
}
