package directory

import (
	"context"
	"testing"
	"time"

	"remindd/internal/event"
	"remindd/internal/storage"
	logx "remindd/pkg/logx"
)

func TestStaticAllEnabled(t *testing.T) {
	t.Parallel()
	d := NewStatic([]User{
		{ID: "u1", Timezone: "UTC", Enabled: true},
		{ID: "u2", Timezone: "Asia/Tokyo", Enabled: true},
		{ID: "u3", Timezone: "UTC", Enabled: false},
	})
	zones, err := d.Timezones(context.Background(), nil)
	if err != nil {
		t.Fatalf("Timezones: %v", err)
	}
	if len(zones) != 2 {
		t.Fatalf("zones = %v, want u1 and u2 only", zones)
	}
	if zones["u2"].String() != "Asia/Tokyo" {
		t.Fatalf("u2 zone = %v", zones["u2"])
	}
}

func TestStaticExplicitIDsIncludeDisabled(t *testing.T) {
	t.Parallel()
	d := NewStatic([]User{
		{ID: "u1", Timezone: "UTC", Enabled: false},
	})
	zones, err := d.Timezones(context.Background(), []string{"u1", "missing"})
	if err != nil {
		t.Fatalf("Timezones: %v", err)
	}
	if len(zones) != 1 || zones["u1"] != time.UTC {
		t.Fatalf("zones = %v", zones)
	}
}

func TestStoreBacked(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := storage.NewMemory()
	u1, u2 := "u1", "u2"
	now := time.Now().UTC()
	defs := []event.Definition{
		{ID: "a", Type: "reminder", UserID: &u1, Timezone: "Europe/Berlin", Enabled: true, ParentID: "a", CreateDateTime: now, UpdateDateTime: now},
		{ID: "b", Type: "reminder", UserID: &u2, Timezone: "not-a-zone", Enabled: true, ParentID: "b", CreateDateTime: now, UpdateDateTime: now},
		{ID: "c", Type: "reminder", UserID: &u1, Timezone: "UTC", Enabled: true, ParentID: "c", CreateDateTime: now, UpdateDateTime: now},
	}
	for _, d := range defs {
		if err := store.PutDefinition(ctx, d); err != nil {
			t.Fatalf("PutDefinition: %v", err)
		}
	}

	dir := NewStoreBacked(store, logx.Nop())
	zones, err := dir.Timezones(ctx, nil)
	if err != nil {
		t.Fatalf("Timezones: %v", err)
	}
	if len(zones) != 2 {
		t.Fatalf("zones = %v", zones)
	}
	if zones["u1"].String() != "Europe/Berlin" {
		t.Fatalf("u1 zone = %v (first seen wins)", zones["u1"])
	}
	if zones["u2"] != time.UTC {
		t.Fatalf("u2 zone = %v, want UTC fallback", zones["u2"])
	}
}
