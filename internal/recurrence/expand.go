package recurrence

import (
	"errors"
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	"remindd/internal/event"
	"remindd/internal/isoduration"
)

// Candidate starts are bounded by UNTIL/COUNT, but a malformed pattern
// (e.g. MINUTELY over a year) could still flood a window. Hitting the cap
// fails the expansion rather than dropping the tail.
const maxCandidates = 10000

var (
	// ErrNoRecurrencePattern marks a recurring Definition without an RRULE.
	ErrNoRecurrencePattern = errors.New("recurring definition has no recurrence pattern")
	// ErrNoStartAnchor marks a non-recurring Definition without a start.
	ErrNoStartAnchor = errors.New("definition has no start anchor")
	// ErrTooManyCandidates marks a pattern still producing candidates at
	// the cap; the tail would be silently lost, so the caller must know.
	ErrTooManyCandidates = errors.New("recurrence pattern exceeds candidate cap")
)

// Options tweaks a single Expand call.
type Options struct {
	// WithSnoozing also emits the derived snooze occurrences for each
	// valid primary occurrence.
	WithSnoozing bool

	// Location re-anchors recurring definitions to the given zone before
	// expansion. Nil keeps the stored anchor.
	Location *time.Location

	// Now is the clock used when an UNTIL must be synthesized for a
	// point-in-time query. Zero means time.Now().UTC().
	Now time.Time
}

// Expand evaluates one Definition against a query window and returns its
// concrete occurrences in chronological order.
func Expand(def event.Definition, w Window, opts Options) ([]event.Definition, error) {
	if err := w.validate(); err != nil {
		return nil, err
	}

	expires, err := isoduration.Parse(def.ExpiresInOrDefault())
	if err != nil {
		return nil, fmt.Errorf("definition %s: instanceExpiresIn: %w", def.ID, err)
	}

	var snoozes []isoduration.Duration
	if opts.WithSnoozing {
		for _, raw := range def.Snoozing {
			d, err := isoduration.Parse(raw)
			if err != nil {
				return nil, fmt.Errorf("definition %s: snoozing offset: %w", def.ID, err)
			}
			snoozes = append(snoozes, d)
		}
	}

	if !def.IsRecurring {
		return expandSingle(def, w, expires, snoozes), nil
	}
	return expandRecurring(def, w, expires, snoozes, opts)
}

func expandSingle(def event.Definition, w Window, expires isoduration.Duration, snoozes []isoduration.Duration) []event.Definition {
	if def.StartDateTime == nil {
		// Nothing to anchor on; a single event without a start never fires.
		return nil
	}
	start := *def.StartDateTime
	var end time.Time
	if def.EndDateTime != nil {
		end = *def.EndDateTime
	} else {
		end = expires.AddTo(start).Add(-time.Minute)
	}

	var out []event.Definition
	if w.Contains(start, end) {
		out = append(out, def.Occurrence(start, end))
		out = append(out, snoozed(def, start, end, w, snoozes)...)
	}
	return out
}

func expandRecurring(def event.Definition, w Window, expires isoduration.Duration, snoozes []isoduration.Duration, opts Options) ([]event.Definition, error) {
	if def.RecurrencePattern == "" {
		return nil, fmt.Errorf("definition %s: %w", def.ID, ErrNoRecurrencePattern)
	}
	if opts.Location != nil {
		var err error
		def, err = Reanchor(def, opts.Location)
		if err != nil {
			return nil, err
		}
	}

	r, err := rrule.StrToRRule(def.RecurrencePattern)
	if err != nil {
		return nil, fmt.Errorf("definition %s: parse rrule: %w", def.ID, err)
	}

	// The stored rule must carry a bound; enforce one at read time so the
	// iteration below always terminates.
	opt := r.OrigOptions
	if opt.Until.IsZero() && opt.Count == 0 {
		until, ok := w.endBound()
		if !ok {
			now := opts.Now
			if now.IsZero() {
				now = time.Now().UTC()
			}
			until = expires.AddTo(now)
		}
		opt.Until = until.UTC()
		r, err = rrule.NewRRule(opt)
		if err != nil {
			return nil, fmt.Errorf("definition %s: bound rrule: %w", def.ID, err)
		}
	}

	upper, hasUpper := w.upperBound()

	var out []event.Definition
	next := r.Iterator()
	for i := 0; ; i++ {
		if i == maxCandidates {
			return nil, fmt.Errorf("definition %s: %w", def.ID, ErrTooManyCandidates)
		}
		start, ok := next()
		if !ok {
			break
		}
		if def.EndDateTime != nil && start.After(*def.EndDateTime) {
			break
		}
		if hasUpper && start.After(upper) {
			break
		}

		end := expires.AddTo(start).Add(-time.Minute)
		if def.EndDateTime != nil && end.After(*def.EndDateTime) {
			end = *def.EndDateTime
		}

		if !w.Contains(start, end) {
			continue
		}
		out = append(out, def.Occurrence(start, end))
		out = append(out, snoozed(def, start, end, w, snoozes)...)
	}
	return out, nil
}

// snoozed derives secondary occurrences from a valid primary one: start
// shifted by each offset, same end, independently window-filtered, with
// Snoozing stripped so derived copies never re-snooze.
func snoozed(def event.Definition, start, end time.Time, w Window, snoozes []isoduration.Duration) []event.Definition {
	var out []event.Definition
	for _, off := range snoozes {
		s := off.AddTo(start)
		if !w.Contains(s, end) {
			continue
		}
		occ := def.Occurrence(s, end)
		occ.Snoozing = nil
		out = append(out, occ)
	}
	return out
}

// DisableCompleted correlates occurrences with completion logs: an
// occurrence whose (parentId, startDateTime) matches a log is disabled and
// stamped with the log's creation time. Multiple matching logs all disable
// the same occurrence.
func DisableCompleted(occs []event.Definition, logs []event.CompletionLog) {
	if len(occs) == 0 || len(logs) == 0 {
		return
	}
	type key struct {
		parent string
		start  int64
	}
	done := make(map[key]time.Time, len(logs))
	for _, lg := range logs {
		k := key{parent: lg.ParentID, start: lg.StartDateTime.UTC().Unix()}
		if _, seen := done[k]; !seen {
			done[k] = lg.CreateDateTime
		}
	}
	for i := range occs {
		if occs[i].StartDateTime == nil {
			continue
		}
		k := key{parent: occs[i].ParentID, start: occs[i].StartDateTime.UTC().Unix()}
		if at, ok := done[k]; ok {
			occs[i].Enabled = false
			completed := at
			occs[i].CompleteDateTime = &completed
		}
	}
}
