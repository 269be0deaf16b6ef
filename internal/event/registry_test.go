package event

import (
	"errors"
	"testing"
	"time"
)

func TestRegistryResolveUnknownTag(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	if _, err := r.Resolve("ghost"); !errors.Is(err, ErrUnregisteredType) {
		t.Fatalf("Resolve(ghost) err = %v, want ErrUnregisteredType", err)
	}
	if _, err := r.Load("ghost", map[string]any{}); !errors.Is(err, ErrUnregisteredType) {
		t.Fatalf("Load(ghost) err = %v, want ErrUnregisteredType", err)
	}
}

func TestRegistryDuplicateRegistration(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	if err := r.Register("reminder", ReminderHandler()); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register("reminder", ReminderHandler()); err == nil {
		t.Fatal("expected error on duplicate registration")
	}
}

func TestRegistryClear(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	if err := r.Register("reminder", ReminderHandler()); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if got := r.Tags(); len(got) != 1 || got[0] != "reminder" {
		t.Fatalf("Tags = %v", got)
	}
	r.Clear()
	if got := r.Tags(); len(got) != 0 {
		t.Fatalf("Tags after Clear = %v", got)
	}
}

func TestRegistryLoadUnpacksExtraFields(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	if err := r.Register("key_action", Handler{ExtraFields: []string{"moduleId", "moduleConfigId"}}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	doc := map[string]any{
		"id":             "d1",
		"title":          "Take medication",
		"isRecurring":    true,
		"moduleId":       "m1",
		"moduleConfigId": "mc1",
	}
	def, err := r.Load("key_action", doc)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if def.Type != "key_action" || def.ID != "d1" || def.Title != "Take medication" {
		t.Fatalf("unexpected definition: %+v", def)
	}
	if def.ExtraFields["moduleId"] != "m1" || def.ExtraFields["moduleConfigId"] != "mc1" {
		t.Fatalf("extra fields not unpacked: %+v", def.ExtraFields)
	}
}

func TestRegistryDumpPacksExtraFields(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	if err := r.Register("key_action", Handler{ExtraFields: []string{"moduleId"}}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	def := Definition{
		ID:          "d1",
		Type:        "key_action",
		Title:       "Walk",
		ExtraFields: map[string]any{"moduleId": "m1"},
	}
	doc, err := r.Dump(def)
	if err != nil {
		t.Fatalf("Dump: %v", err)
	}
	if doc["moduleId"] != "m1" {
		t.Fatalf("moduleId not packed into envelope: %v", doc)
	}
	if _, still := doc["extraFields"]; still {
		t.Fatalf("extraFields should be flattened away, got %v", doc["extraFields"])
	}
}

func TestOccurrenceDoesNotAliasDefinition(t *testing.T) {
	t.Parallel()
	start := time.Date(2021, 3, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	def := Definition{
		ID:          "d1",
		Type:        TypeReminder,
		IsRecurring: true,
		Snoozing:    []string{"PT15M"},
		ExtraFields: map[string]any{"k": "v"},
	}
	occ := def.Occurrence(start, end)

	if occ.IsRecurring || occ.RecurrencePattern != "" {
		t.Fatalf("occurrence must be non-recurring: %+v", occ)
	}
	if occ.ParentID != "d1" {
		t.Fatalf("ParentID = %q, want d1", occ.ParentID)
	}
	if !occ.StartDateTime.Equal(start) || !occ.EndDateTime.Equal(end) {
		t.Fatalf("bounds = %v..%v", occ.StartDateTime, occ.EndDateTime)
	}

	occ.Snoozing[0] = "PT1H"
	occ.ExtraFields["k"] = "mutated"
	if def.Snoozing[0] != "PT15M" || def.ExtraFields["k"] != "v" {
		t.Fatal("occurrence mutation leaked into the canonical definition")
	}
}
