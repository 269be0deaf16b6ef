package recurrence

import (
	"errors"
	"testing"
	"time"

	"remindd/internal/event"
)

func ptr(t time.Time) *time.Time { return &t }

func weeklyDef() event.Definition {
	return event.Definition{
		ID:          "d1",
		Type:        event.TypeReminder,
		IsRecurring: true,
		Enabled:     true,
		// Anchored Monday 2021-01-04 10:00 UTC, bounded three weeks out.
		RecurrencePattern: "DTSTART:20210104T100000Z\nRRULE:FREQ=WEEKLY;UNTIL=20210125T095900Z",
	}
}

func TestExpandNonRecurringGating(t *testing.T) {
	t.Parallel()
	start := time.Date(2021, 1, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(5 * time.Minute)
	def := event.Definition{
		ID:            "single",
		Type:          event.TypeReminder,
		Enabled:       true,
		StartDateTime: ptr(start),
		EndDateTime:   ptr(end),
	}

	in, err := Expand(def, At(start.Add(2*time.Minute)), Options{})
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(in) != 1 {
		t.Fatalf("in-window: got %d occurrences, want 1", len(in))
	}
	if in[0].ParentID != "single" || !in[0].StartDateTime.Equal(start) {
		t.Fatalf("unexpected occurrence: %+v", in[0])
	}

	out, err := Expand(def, At(end.Add(time.Minute)), Options{})
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("out-of-window: got %d occurrences, want 0", len(out))
	}
}

func TestExpandWeeklySecondWeekOnly(t *testing.T) {
	t.Parallel()
	w := Between(
		time.Date(2021, 1, 11, 0, 0, 0, 0, time.UTC),
		time.Date(2021, 1, 18, 0, 0, 0, 0, time.UTC),
		false,
	)
	occs, err := Expand(weeklyDef(), w, Options{})
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(occs) != 1 {
		t.Fatalf("got %d occurrences, want 1", len(occs))
	}
	want := time.Date(2021, 1, 11, 10, 0, 0, 0, time.UTC)
	if !occs[0].StartDateTime.Equal(want) {
		t.Fatalf("start = %v, want %v", occs[0].StartDateTime, want)
	}
}

func TestExpandExpiringWindow(t *testing.T) {
	t.Parallel()
	start := time.Date(2021, 1, 1, 10, 0, 0, 0, time.UTC)
	def := event.Definition{
		ID:            "exp",
		Type:          event.TypeReminder,
		Enabled:       true,
		StartDateTime: ptr(start),
		EndDateTime:   ptr(start.Add(5 * time.Minute)),
	}
	w := Expiring(
		time.Date(2021, 1, 1, 9, 0, 0, 0, time.UTC),
		time.Date(2021, 1, 1, 10, 10, 0, 0, time.UTC),
	)
	occs, err := Expand(def, w, Options{})
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(occs) != 1 {
		t.Fatalf("got %d occurrences, want 1 (end inside window)", len(occs))
	}
}

func TestExpandSynthesizesUntilForUnboundedRules(t *testing.T) {
	t.Parallel()
	now := time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)
	def := event.Definition{
		ID:                "unbounded",
		Type:              event.TypeReminder,
		IsRecurring:       true,
		Enabled:           true,
		RecurrencePattern: "DTSTART:20210101T100000Z\nRRULE:FREQ=DAILY",
	}

	occs, err := Expand(def, At(now), Options{Now: now})
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	// Default lifetime is one week, so several daily candidates still
	// contain the instant; the point is that iteration terminated at all.
	if len(occs) == 0 {
		t.Fatal("expected occurrences containing now")
	}
	for _, o := range occs {
		if o.StartDateTime.After(now) {
			t.Fatalf("occurrence starts after now: %v", o.StartDateTime)
		}
		if o.EndDateTime.Before(now) {
			t.Fatalf("occurrence ended before now: %v", o.EndDateTime)
		}
	}
}

func TestExpandHonorsExplicitUntil(t *testing.T) {
	t.Parallel()
	occs, err := Expand(weeklyDef(), Between(
		time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC),
		false,
	), Options{})
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(occs) != 3 {
		t.Fatalf("got %d occurrences, want 3 (Jan 4, 11, 18)", len(occs))
	}
}

func TestExpandSnoozing(t *testing.T) {
	t.Parallel()
	def := weeklyDef()
	def.Snoozing = []string{"PT10M", "PT20M"}

	w := Between(
		time.Date(2021, 1, 11, 0, 0, 0, 0, time.UTC),
		time.Date(2021, 1, 12, 0, 0, 0, 0, time.UTC),
		false,
	)

	occs, err := Expand(def, w, Options{WithSnoozing: true})
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(occs) != 3 {
		t.Fatalf("got %d occurrences, want primary + 2 snoozed", len(occs))
	}
	primary := occs[0]
	for i, o := range occs[1:] {
		wantStart := primary.StartDateTime.Add(time.Duration(10*(i+1)) * time.Minute)
		if !o.StartDateTime.Equal(wantStart) {
			t.Fatalf("snoozed[%d] start = %v, want %v", i, o.StartDateTime, wantStart)
		}
		if !o.EndDateTime.Equal(*primary.EndDateTime) {
			t.Fatalf("snoozed[%d] end = %v, want %v", i, o.EndDateTime, primary.EndDateTime)
		}
		if o.Snoozing != nil {
			t.Fatalf("snoozed copy kept its offsets: %v", o.Snoozing)
		}
	}

	// Without the flag, derived occurrences must not appear.
	plain, err := Expand(def, w, Options{})
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(plain) != 1 {
		t.Fatalf("got %d occurrences without snoozing, want 1", len(plain))
	}
}

func TestExpandMissingWindowBounds(t *testing.T) {
	t.Parallel()
	_, err := Expand(weeklyDef(), Window{Mode: ModeRange}, Options{})
	if err == nil {
		t.Fatal("expected error for missing window bounds")
	}
}

func TestExpandClipsToDefinitionEnd(t *testing.T) {
	t.Parallel()
	def := weeklyDef()
	def.EndDateTime = ptr(time.Date(2021, 1, 12, 0, 0, 0, 0, time.UTC))

	occs, err := Expand(def, Between(
		time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2021, 2, 1, 0, 0, 0, 0, time.UTC),
		false,
	), Options{})
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(occs) != 2 {
		t.Fatalf("got %d occurrences, want 2 (Jan 18 is past the anchor end)", len(occs))
	}
	for _, o := range occs {
		if o.EndDateTime.After(*def.EndDateTime) {
			t.Fatalf("occurrence end %v exceeds definition end", o.EndDateTime)
		}
	}
}

func TestExpandDenseRuleHitsCandidateCap(t *testing.T) {
	t.Parallel()
	def := event.Definition{
		ID:                "dense",
		Type:              event.TypeReminder,
		IsRecurring:       true,
		Enabled:           true,
		RecurrencePattern: "DTSTART:20210101T000000Z\nRRULE:FREQ=MINUTELY;UNTIL=20210201T000000Z",
	}
	_, err := Expand(def, Between(
		time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2021, 2, 1, 0, 0, 0, 0, time.UTC),
		false,
	), Options{})
	if !errors.Is(err, ErrTooManyCandidates) {
		t.Fatalf("err = %v, want ErrTooManyCandidates", err)
	}
}

func TestDisableCompletedRoundTrip(t *testing.T) {
	t.Parallel()
	occs, err := Expand(weeklyDef(), Between(
		time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC),
		false,
	), Options{})
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(occs) != 3 {
		t.Fatalf("setup: got %d occurrences", len(occs))
	}

	completedAt := time.Date(2021, 1, 11, 10, 30, 0, 0, time.UTC)
	logs := []event.CompletionLog{{
		ID:             "log1",
		ParentID:       "d1",
		StartDateTime:  *occs[1].StartDateTime,
		CreateDateTime: completedAt,
	}}

	DisableCompleted(occs, logs)

	if occs[1].Enabled {
		t.Fatal("matched occurrence should be disabled")
	}
	if occs[1].CompleteDateTime == nil || !occs[1].CompleteDateTime.Equal(completedAt) {
		t.Fatalf("completeDateTime = %v, want %v", occs[1].CompleteDateTime, completedAt)
	}
	if !occs[0].Enabled || !occs[2].Enabled {
		t.Fatal("unmatched occurrences must stay enabled")
	}
}
