package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	ical "github.com/arran4/golang-ical"

	"remindd/internal/recurrence"
	"remindd/internal/storage"
)

// ExportCalendar renders the occurrences between from and to as an
// iCalendar document. Occurrences that cannot be mapped to a VEVENT are
// reported and skipped. Snooze copies are excluded; a calendar shows
// the primary occurrence only.
func (s *Service) ExportCalendar(ctx context.Context, from, to time.Time, loc *time.Location, filters ...storage.Filter) (string, error) {
	occs, err := s.Retrieve(ctx, recurrence.Between(from, to, true), loc, false, filters...)
	if err != nil {
		return "", fmt.Errorf("scheduling: export: %w", err)
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId("-//remindd//reminder export//EN")

	for _, occ := range occs {
		if occ.StartDateTime == nil || occ.EndDateTime == nil {
			s.mon.Report(errors.New("occurrence missing start or end"),
				"scheduling.export.map",
				map[string]any{"parentId": occ.ParentID}, nil)
			continue
		}
		uid := fmt.Sprintf("%s-%d@remindd", occ.ParentID, occ.StartDateTime.UTC().Unix())
		ev := cal.AddEvent(uid)
		ev.SetCreatedTime(occ.CreateDateTime)
		ev.SetDtStampTime(occ.CreateDateTime)
		ev.SetModifiedAt(occ.UpdateDateTime)
		ev.SetStartAt(occ.StartDateTime.UTC())
		ev.SetEndAt(occ.EndDateTime.UTC())
		ev.SetSummary(occ.Title)
		if occ.Description != "" {
			ev.SetDescription(occ.Description)
		}
	}
	return cal.Serialize(), nil
}
