package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"remindd/internal/event"
)

func strp(s string) *string { return &s }

func timep(t time.Time) *time.Time { return &t }

func seedDefinitions(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2021, 5, 1, 8, 0, 0, 0, time.UTC)
	defs := []event.Definition{
		{ID: "a", Type: "reminder", UserID: strp("u1"), Enabled: true, ParentID: "a", CreateDateTime: now, UpdateDateTime: now},
		{ID: "b", Type: "key_action", UserID: strp("u1"), Enabled: false, ParentID: "b", CreateDateTime: now, UpdateDateTime: now},
		{ID: "c", Type: "reminder", UserID: strp("u2"), Enabled: true, ParentID: "c", CreateDateTime: now, UpdateDateTime: now},
	}
	for _, d := range defs {
		if err := s.PutDefinition(ctx, d); err != nil {
			t.Fatalf("PutDefinition(%s): %v", d.ID, err)
		}
	}
}

func TestMemoryFilterPredicates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemory()
	seedDefinitions(t, s)

	got, err := s.FindDefinitions(ctx, Eq("userId", "u1"), Eq("enabled", true))
	if err != nil {
		t.Fatalf("FindDefinitions: %v", err)
	}
	if len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("eq filters: got %+v", got)
	}

	got, err = s.FindDefinitions(ctx, In("id", "a", "c"))
	if err != nil {
		t.Fatalf("FindDefinitions: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("in filter: got %d rows", len(got))
	}

	got, err = s.FindDefinitions(ctx, NotIn("type", "key_action"))
	if err != nil {
		t.Fatalf("FindDefinitions: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("not-in filter: got %d rows", len(got))
	}

	if _, err := s.FindDefinitions(ctx, Eq("bogus", 1)); !errors.Is(err, ErrUnknownField) {
		t.Fatalf("unknown field err = %v", err)
	}
}

func TestMemoryComparisonFilters(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemory()
	base := time.Date(2021, 5, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		d := event.Definition{
			ID: id, Type: "reminder", Enabled: true, ParentID: id,
			StartDateTime:  timep(base.Add(time.Duration(i) * time.Hour)),
			CreateDateTime: base, UpdateDateTime: base,
		}
		if err := s.PutDefinition(ctx, d); err != nil {
			t.Fatalf("PutDefinition: %v", err)
		}
	}

	got, err := s.FindDefinitions(ctx, Gte("startDateTime", base.Add(time.Hour)))
	if err != nil {
		t.Fatalf("FindDefinitions: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("gte: got %d rows, want 2", len(got))
	}

	got, err = s.FindDefinitions(ctx, Lt("startDateTime", base.Add(time.Hour)))
	if err != nil {
		t.Fatalf("FindDefinitions: %v", err)
	}
	if len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("lt: got %+v", got)
	}
}

func TestMemoryUpdateDeleteNotFound(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemory()
	seedDefinitions(t, s)

	if err := s.UpdateDefinition(ctx, event.Definition{ID: "nope"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update missing err = %v", err)
	}
	if _, err := s.GetDefinition(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get missing err = %v", err)
	}
	n, err := s.DeleteDefinitions(ctx, "a", "nope")
	if err != nil {
		t.Fatalf("DeleteDefinitions: %v", err)
	}
	if n != 1 {
		t.Fatalf("deleted %d rows, want 1", n)
	}
}

func TestMemoryCacheDueAndDeletes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemory()
	minute := time.Date(2021, 5, 1, 10, 0, 0, 0, time.UTC)

	rows := []event.Definition{
		{Type: "reminder", ParentID: "p1", StartDateTime: timep(minute.Add(10 * time.Second))},
		{Type: "reminder", ParentID: "p2", StartDateTime: timep(minute.Add(59 * time.Second))},
		{Type: "reminder", ParentID: "p3", StartDateTime: timep(minute.Add(time.Minute))},
	}
	if err := s.InsertCache(ctx, rows); err != nil {
		t.Fatalf("InsertCache: %v", err)
	}

	due, err := s.FindCacheDue(ctx, minute.Add(30*time.Second))
	if err != nil {
		t.Fatalf("FindCacheDue: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("due rows = %d, want 2 (seconds truncated)", len(due))
	}

	if err := s.DeleteCacheRows(ctx, due); err != nil {
		t.Fatalf("DeleteCacheRows: %v", err)
	}
	left, err := s.FindCache(ctx)
	if err != nil {
		t.Fatalf("FindCache: %v", err)
	}
	if len(left) != 1 || left[0].ParentID != "p3" {
		t.Fatalf("left = %+v", left)
	}

	if err := s.DeleteCacheByParent(ctx, "p3"); err != nil {
		t.Fatalf("DeleteCacheByParent: %v", err)
	}
	left, _ = s.FindCache(ctx)
	if len(left) != 0 {
		t.Fatalf("cache not empty after parent delete: %+v", left)
	}
}

func TestCompileFiltersSQL(t *testing.T) {
	t.Parallel()
	where, args, err := compileFilters(defColumns, []Filter{
		Eq("userId", "u1"),
		In("parentId", "p1", "p2"),
		Gte("startDateTime", time.Date(2021, 5, 1, 0, 0, 0, 0, time.UTC)),
		Eq("enabled", true),
	})
	if err != nil {
		t.Fatalf("compileFilters: %v", err)
	}
	want := " WHERE user_id = ? AND parent_id IN (?,?) AND start_at >= ? AND enabled = ?"
	if where != want {
		t.Fatalf("where = %q, want %q", where, want)
	}
	if len(args) != 5 {
		t.Fatalf("args = %v", args)
	}
	if args[3] != "2021-05-01T00:00:00Z" {
		t.Fatalf("time arg = %v", args[3])
	}
	if args[4] != 1 {
		t.Fatalf("bool arg = %v", args[4])
	}

	if _, _, err := compileFilters(defColumns, []Filter{Eq("nope", 1)}); !errors.Is(err, ErrUnknownField) {
		t.Fatalf("unknown field err = %v", err)
	}
}
