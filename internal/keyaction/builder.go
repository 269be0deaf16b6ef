// Package keyaction derives recurring reminder Definitions ("key actions")
// from clinical trigger configuration: an ISO-8601 duration encoding the
// recurrence unit and time-of-day, a delta from the trigger instant, and a
// validity window length.
package keyaction

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"remindd/internal/event"
	"remindd/internal/isoduration"
)

// TypeKeyAction is the registry tag for key-action events.
const TypeKeyAction = "key_action"

// TriggerKind names what anchors a key action in time.
type TriggerKind string

const (
	TriggerSignUp  TriggerKind = "sign_up"
	TriggerSurgery TriggerKind = "surgery"
	TriggerManual  TriggerKind = "manual"
)

var (
	// ErrUnsupportedDuration marks a duration whose date part names no
	// usable recurrence unit.
	ErrUnsupportedDuration = errors.New("key action duration has no supported recurrence unit")
	// ErrAmbiguousDuration marks a duration naming more than one
	// recurrence unit (e.g. "1 week + 1 day"); those are rejected rather
	// than silently truncated.
	ErrAmbiguousDuration = errors.New("key action duration names multiple recurrence units")
	// ErrZeroInterval marks a zero recurrence interval, which would
	// produce a degenerate rule.
	ErrZeroInterval = errors.New("key action interval is zero")
)

// Config is the external key-action configuration consumed by Build.
type Config struct {
	Trigger TriggerKind

	// DurationISO encodes the recurrence unit (date part) and the
	// wall-clock time-of-day (time part), e.g. "P1DT9H0M" = daily at 9:00.
	DurationISO string

	// DeltaFromTriggerISO offsets the first occurrence from the trigger.
	DeltaFromTriggerISO string

	// DurationFromTriggerISO is the validity window length.
	DurationFromTriggerISO string

	// NotifyEveryISO plus NumberOfNotifications describe the snoozing
	// ladder; both optional.
	NotifyEveryISO        string
	NumberOfNotifications int

	ModuleID       string
	ModuleConfigID string

	Title       string
	Description string
}

// Build derives a bounded recurring Definition from cfg and the trigger
// instant. The time-of-day is computed in loc (UTC when nil) and stored as
// a UTC anchor; the rule does not re-adjust for DST drift after creation.
func Build(cfg Config, trigger time.Time, userID string, loc *time.Location) (event.Definition, error) {
	if loc == nil {
		loc = time.UTC
	}

	dur, err := parseRecurrence(cfg.DurationISO)
	if err != nil {
		return event.Definition{}, err
	}
	freq, interval, err := frequencyOf(dur, cfg.DurationISO)
	if err != nil {
		return event.Definition{}, err
	}

	delta, err := parseOptional(cfg.DeltaFromTriggerISO)
	if err != nil {
		return event.Definition{}, fmt.Errorf("deltaFromTriggerTime: %w", err)
	}
	validity, err := parseOptional(cfg.DurationFromTriggerISO)
	if err != nil {
		return event.Definition{}, fmt.Errorf("durationFromTrigger: %w", err)
	}

	anchor := delta.AddTo(trigger)
	hour, minute := dur.TimeOfDay()
	local := anchor.In(loc)
	dtstart := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc).UTC()
	until := validity.AddTo(anchor).Add(-time.Minute).UTC()

	rule, err := rrule.NewRRule(rrule.ROption{
		Freq:     freq,
		Interval: interval,
		Dtstart:  dtstart,
		Until:    until,
		Byhour:   []int{dtstart.Hour()},
		Byminute: []int{dtstart.Minute()},
		Bysecond: []int{0},
	})
	if err != nil {
		return event.Definition{}, fmt.Errorf("build rrule: %w", err)
	}

	snoozing, err := BuildSnoozing(cfg.NotifyEveryISO, cfg.NumberOfNotifications)
	if err != nil {
		return event.Definition{}, fmt.Errorf("notifyEvery: %w", err)
	}

	def := event.Definition{
		Type:              TypeKeyAction,
		Title:             cfg.Title,
		Description:       cfg.Description,
		IsRecurring:       true,
		RecurrencePattern: rule.OrigOptions.String(),
		StartDateTime:     &dtstart,
		EndDateTime:       &until,
		Enabled:           true,
		Snoozing:          snoozing,
		Timezone:          loc.String(),
		ExtraFields: map[string]any{
			"moduleId":       cfg.ModuleID,
			"moduleConfigId": cfg.ModuleConfigID,
			"trigger":        string(cfg.Trigger),
		},
	}
	if userID != "" {
		uid := userID
		def.UserID = &uid
	}
	return def, nil
}

// Handler returns the registry behavior set for key-action events. The
// dispatch side effect is the plain reminder rendering.
func Handler() event.Handler {
	h := event.ReminderHandler()
	h.ExtraFields = []string{"moduleId", "moduleConfigId", "trigger"}
	return h
}

// BuildSnoozing expands a notify-every interval into exactly count
// strictly increasing offsets (1x, 2x, ... nx). Empty interval or a
// non-positive count yields nil.
func BuildSnoozing(everyISO string, count int) ([]string, error) {
	if strings.TrimSpace(everyISO) == "" || count <= 0 {
		return nil, nil
	}
	every, err := isoduration.Parse(everyISO)
	if err != nil {
		return nil, err
	}
	if every.IsZero() {
		return nil, nil
	}
	out := make([]string, 0, count)
	for i := 1; i <= count; i++ {
		out = append(out, every.Scale(i).String())
	}
	return out, nil
}

func parseRecurrence(raw string) (isoduration.Duration, error) {
	dur, err := isoduration.Parse(raw)
	if err != nil {
		if errors.Is(err, isoduration.ErrUnit) {
			return isoduration.Duration{}, fmt.Errorf("%w: %q", ErrUnsupportedDuration, raw)
		}
		return isoduration.Duration{}, err
	}
	return dur, nil
}

// frequencyOf maps the single date-part unit of dur to an RRULE frequency
// and its truncated integer interval.
func frequencyOf(dur isoduration.Duration, raw string) (rrule.Frequency, int, error) {
	units := dur.DateUnits()
	switch {
	case len(units) == 0:
		return 0, 0, fmt.Errorf("%w: %q", ErrUnsupportedDuration, raw)
	case len(units) > 1:
		return 0, 0, fmt.Errorf("%w: %q", ErrAmbiguousDuration, raw)
	}

	var (
		freq      rrule.Frequency
		magnitude float64
	)
	switch units[0] {
	case 'Y':
		freq, magnitude = rrule.YEARLY, dur.Years
	case 'M':
		freq, magnitude = rrule.MONTHLY, dur.Months
	case 'W':
		freq, magnitude = rrule.WEEKLY, dur.Weeks
	case 'D':
		freq, magnitude = rrule.DAILY, dur.Days
	default:
		return 0, 0, fmt.Errorf("%w: %q", ErrUnsupportedDuration, raw)
	}

	interval := int(magnitude)
	if interval == 0 {
		return 0, 0, fmt.Errorf("%w: %q", ErrZeroInterval, raw)
	}
	return freq, interval, nil
}

func parseOptional(raw string) (isoduration.Duration, error) {
	if strings.TrimSpace(raw) == "" {
		return isoduration.Duration{}, nil
	}
	return isoduration.Parse(raw)
}
