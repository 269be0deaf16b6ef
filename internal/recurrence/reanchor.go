package recurrence

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	"remindd/internal/event"
)

// Reanchor rewrites a recurring Definition's RRULE for a new timezone.
//
// The intent of "9 AM" is a wall-clock time in the zone the rule was
// created in. Re-anchoring recovers that wall-clock time-of-day from the
// stored UTC instants, rebuilds it in the new zone, and converts back to
// UTC for DTSTART, BYHOUR/BYMINUTE and UNTIL. Naively shifting the UTC
// instant would silently change the intended local time-of-day.
//
// Re-anchoring to the zone the rule is already anchored in is a no-op, so
// the operation is idempotent.
func Reanchor(def event.Definition, loc *time.Location) (event.Definition, error) {
	if loc == nil || !def.IsRecurring || def.RecurrencePattern == "" {
		return def, nil
	}

	fromName := def.Timezone
	if fromName == "" {
		fromName = "UTC"
	}
	if fromName == loc.String() {
		return def, nil
	}
	from, err := time.LoadLocation(fromName)
	if err != nil {
		return def, fmt.Errorf("definition %s: anchor zone %q: %w", def.ID, fromName, err)
	}

	r, err := rrule.StrToRRule(def.RecurrencePattern)
	if err != nil {
		return def, fmt.Errorf("definition %s: parse rrule: %w", def.ID, err)
	}
	opt := r.OrigOptions

	opt.Dtstart = relocalize(opt.Dtstart, from, loc)
	if !opt.Until.IsZero() {
		opt.Until = relocalize(opt.Until, from, loc)
	}
	if len(opt.Byhour) > 0 {
		opt.Byhour = []int{opt.Dtstart.Hour()}
	}
	if len(opt.Byminute) > 0 {
		opt.Byminute = []int{opt.Dtstart.Minute()}
	}

	nr, err := rrule.NewRRule(opt)
	if err != nil {
		return def, fmt.Errorf("definition %s: rebuild rrule: %w", def.ID, err)
	}
	def.RecurrencePattern = nr.OrigOptions.String()
	def.Timezone = loc.String()
	return def, nil
}

// relocalize keeps t's wall clock as seen in from, re-reads it in to, and
// returns the UTC instant.
func relocalize(t time.Time, from, to *time.Location) time.Time {
	w := t.In(from)
	return time.Date(w.Year(), w.Month(), w.Day(), w.Hour(), w.Minute(), w.Second(), 0, to).UTC()
}
