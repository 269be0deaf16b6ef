package recurrence

import (
	"testing"
	"time"

	"github.com/teambition/rrule-go"

	"remindd/internal/event"
)

func anchoredDef() event.Definition {
	return event.Definition{
		ID:                "ka1",
		Type:              "key_action",
		IsRecurring:       true,
		Enabled:           true,
		Timezone:          "UTC",
		RecurrencePattern: "DTSTART:20210104T090000Z\nRRULE:FREQ=DAILY;BYHOUR=9;BYMINUTE=0;UNTIL=20210204T090000Z",
	}
}

func TestReanchorKeepsWallClock(t *testing.T) {
	t.Parallel()
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skipf("zone database unavailable: %v", err)
	}

	def, err := Reanchor(anchoredDef(), berlin)
	if err != nil {
		t.Fatalf("Reanchor: %v", err)
	}
	if def.Timezone != "Europe/Berlin" {
		t.Fatalf("Timezone = %q", def.Timezone)
	}

	r, err := rrule.StrToRRule(def.RecurrencePattern)
	if err != nil {
		t.Fatalf("parse re-anchored rrule: %v", err)
	}
	// 09:00 wall clock in Berlin (winter, UTC+1) is 08:00 UTC.
	if got := r.OrigOptions.Dtstart.UTC().Hour(); got != 8 {
		t.Fatalf("dtstart hour = %d UTC, want 8", got)
	}
	if got := r.OrigOptions.Byhour; len(got) != 1 || got[0] != 8 {
		t.Fatalf("byhour = %v, want [8]", got)
	}
	if got := r.OrigOptions.Until.UTC().Hour(); got != 8 {
		t.Fatalf("until hour = %d UTC, want 8", got)
	}
}

func TestReanchorIdempotent(t *testing.T) {
	t.Parallel()
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skipf("zone database unavailable: %v", err)
	}

	once, err := Reanchor(anchoredDef(), berlin)
	if err != nil {
		t.Fatalf("Reanchor: %v", err)
	}
	twice, err := Reanchor(once, berlin)
	if err != nil {
		t.Fatalf("Reanchor (second): %v", err)
	}
	if once.RecurrencePattern != twice.RecurrencePattern {
		t.Fatalf("re-anchoring is not idempotent:\n%q\n%q", once.RecurrencePattern, twice.RecurrencePattern)
	}
}

func TestReanchorNoopForNonRecurring(t *testing.T) {
	t.Parallel()
	def := event.Definition{ID: "s1", Type: event.TypeReminder}
	got, err := Reanchor(def, time.UTC)
	if err != nil {
		t.Fatalf("Reanchor: %v", err)
	}
	if got.RecurrencePattern != "" || got.Timezone != "" {
		t.Fatalf("non-recurring definition mutated: %+v", got)
	}
}
