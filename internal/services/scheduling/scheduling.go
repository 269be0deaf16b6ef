// Package scheduling owns the canonical event definitions: CRUD with
// day-cache maintenance, windowed retrieval, the nightly cache rebuild
// and iCalendar export.
package scheduling

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"remindd/internal/directory"
	"remindd/internal/event"
	"remindd/internal/monitor"
	"remindd/internal/recurrence"
	"remindd/internal/storage"
	logx "remindd/pkg/logx"
)

// Config tunes cache maintenance. CutoffHHMM is the UTC wall time at
// which a "day" of cached occurrences rolls over; it doubles as the
// nightly rebuild time.
type Config struct {
	CutoffHHMM string `json:"cutoffTime"`
}

// Service is the scheduling core. All times handed to the Store are UTC.
type Service struct {
	log   logx.Logger
	store storage.Store
	dir   directory.Directory
	mon   monitor.Reporter

	cutoffHour   int
	cutoffMinute int

	now func() time.Time
}

func New(cfg Config, store storage.Store, dir directory.Directory, mon monitor.Reporter, log logx.Logger) (*Service, error) {
	h, m := 3, 0
	if cfg.CutoffHHMM != "" {
		var err error
		h, m, err = parseCutoff(cfg.CutoffHHMM)
		if err != nil {
			return nil, err
		}
	}
	return &Service{
		log:          log.With(logx.String("component", "scheduling")),
		store:        store,
		dir:          dir,
		mon:          mon,
		cutoffHour:   h,
		cutoffMinute: m,
		now:          func() time.Time { return time.Now().UTC() },
	}, nil
}

func parseCutoff(v string) (int, int, error) {
	var h, m int
	if _, err := fmt.Sscanf(v, "%d:%d", &h, &m); err != nil {
		return 0, 0, fmt.Errorf("scheduling: cutoff %q: %w", v, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("scheduling: cutoff %q out of range", v)
	}
	return h, m, nil
}

// nextCutoff returns the next day-cache rollover strictly after t.
func (s *Service) nextCutoff(t time.Time) time.Time {
	t = t.UTC()
	c := time.Date(t.Year(), t.Month(), t.Day(), s.cutoffHour, s.cutoffMinute, 0, 0, time.UTC)
	if !c.After(t) {
		c = c.AddDate(0, 0, 1)
	}
	return c
}

// Create persists a new canonical definition and seeds the day cache
// with its remaining occurrences for the current day slice.
func (s *Service) Create(ctx context.Context, def event.Definition, loc *time.Location) (event.Definition, error) {
	now := s.now()
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	def.ParentID = def.ID
	def.CreateDateTime = now
	def.UpdateDateTime = now

	if err := s.store.PutDefinition(ctx, def); err != nil {
		return event.Definition{}, fmt.Errorf("scheduling: create %s: %w", def.ID, err)
	}
	if err := s.refreshDayCache(ctx, def, loc, now); err != nil {
		// The canonical row is saved; the nightly rebuild repairs the cache.
		s.mon.Report(err, "scheduling.create.cache",
			map[string]any{"id": def.ID}, nil)
	}
	s.log.Info("definition created",
		logx.String("id", def.ID), logx.String("type", def.Type))
	return def, nil
}

// Update replaces a canonical definition and rebuilds its slice of the
// day cache. ErrNotFound when the id does not exist.
func (s *Service) Update(ctx context.Context, def event.Definition, loc *time.Location) (event.Definition, error) {
	if def.ID == "" {
		return event.Definition{}, fmt.Errorf("scheduling: update: %w", storage.ErrNotFound)
	}
	now := s.now()
	def.ParentID = def.ID
	def.UpdateDateTime = now

	if err := s.store.UpdateDefinition(ctx, def); err != nil {
		return event.Definition{}, fmt.Errorf("scheduling: update %s: %w", def.ID, err)
	}
	if err := s.refreshDayCache(ctx, def, loc, now); err != nil {
		s.mon.Report(err, "scheduling.update.cache",
			map[string]any{"id": def.ID}, nil)
	}
	s.log.Info("definition updated", logx.String("id", def.ID))
	return def, nil
}

// Delete removes one canonical definition and its cached occurrences.
func (s *Service) Delete(ctx context.Context, id string) error {
	n, err := s.store.DeleteDefinitions(ctx, id)
	if err != nil {
		return fmt.Errorf("scheduling: delete %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("scheduling: delete %s: %w", id, storage.ErrNotFound)
	}
	if err := s.store.DeleteCacheByParent(ctx, id); err != nil {
		s.mon.Report(err, "scheduling.delete.cache", map[string]any{"id": id}, nil)
	}
	s.log.Info("definition deleted", logx.String("id", id))
	return nil
}

// BatchDelete removes many definitions at once, returning how many
// existed. Missing ids are not an error here.
func (s *Service) BatchDelete(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := s.store.DeleteDefinitions(ctx, ids...)
	if err != nil {
		return 0, fmt.Errorf("scheduling: batch delete: %w", err)
	}
	if err := s.store.DeleteCacheByParent(ctx, ids...); err != nil {
		s.mon.Report(err, "scheduling.batchdelete.cache",
			map[string]any{"count": len(ids)}, nil)
	}
	return n, nil
}

// LogCompletion records that the user acted on an occurrence and mutes
// the rest of its parent's cached notifications for the day.
func (s *Service) LogCompletion(ctx context.Context, lg event.CompletionLog) (event.CompletionLog, error) {
	now := s.now()
	if lg.ID == "" {
		lg.ID = uuid.NewString()
	}
	lg.CreateDateTime = now
	lg.UpdateDateTime = now

	if err := s.store.PutLog(ctx, lg); err != nil {
		return event.CompletionLog{}, fmt.Errorf("scheduling: log completion: %w", err)
	}
	if err := s.store.DeleteCacheByParent(ctx, lg.ParentID); err != nil {
		s.mon.Report(err, "scheduling.completion.cache",
			map[string]any{"parentId": lg.ParentID}, nil)
	}
	s.log.Info("completion logged",
		logx.String("parent", lg.ParentID), logx.String("user", lg.UserID))
	return lg, nil
}

// Retrieve expands the stored definitions matching the filters against
// a query window and marks completed occurrences disabled. A definition
// that fails to expand is reported and skipped, never fails the sweep.
func (s *Service) Retrieve(ctx context.Context, w recurrence.Window, loc *time.Location, withSnoozing bool, filters ...storage.Filter) ([]event.Definition, error) {
	defs, err := s.store.FindDefinitions(ctx, filters...)
	if err != nil {
		return nil, fmt.Errorf("scheduling: retrieve: %w", err)
	}

	var occs []event.Definition
	parents := make([]any, 0, len(defs))
	for _, def := range defs {
		if !def.Enabled {
			continue
		}
		parents = append(parents, def.ID)
		out, err := recurrence.Expand(def, w, recurrence.Options{
			WithSnoozing: withSnoozing,
			Location:     loc,
			Now:          s.now(),
		})
		if err != nil {
			s.mon.Report(err, "scheduling.retrieve.expand",
				map[string]any{"id": def.ID}, nil)
			continue
		}
		occs = append(occs, out...)
	}

	if len(parents) > 0 {
		logs, err := s.store.FindLogs(ctx, storage.In("parentId", parents...))
		if err != nil {
			return nil, fmt.Errorf("scheduling: retrieve logs: %w", err)
		}
		recurrence.DisableCompleted(occs, logs)
	}

	sort.SliceStable(occs, func(i, j int) bool {
		return occStart(occs[i]).Before(occStart(occs[j]))
	})
	return occs, nil
}

func occStart(d event.Definition) time.Time {
	if d.StartDateTime == nil {
		return time.Time{}
	}
	return *d.StartDateTime
}

// NightlyRebuild regenerates the whole day cache from the canonical
// definitions: every enabled definition is expanded for the coming day
// slice in its owner's timezone. An owner missing from the directory
// gets its rows dropped and the miss reported; the sweep continues.
func (s *Service) NightlyRebuild(ctx context.Context) error {
	now := s.now()
	end := s.nextCutoff(now)
	w := recurrence.Between(now, end, false)

	zones, err := s.dir.Timezones(ctx, nil)
	if err != nil {
		return fmt.Errorf("scheduling: rebuild: directory: %w", err)
	}

	defs, err := s.store.FindDefinitions(ctx, storage.Eq("enabled", true))
	if err != nil {
		return fmt.Errorf("scheduling: rebuild: load definitions: %w", err)
	}

	if err := s.store.ClearCache(ctx); err != nil {
		return fmt.Errorf("scheduling: rebuild: clear cache: %w", err)
	}

	var rows []event.Definition
	for _, def := range defs {
		loc := time.UTC
		if def.UserID != nil {
			owner, ok := zones[*def.UserID]
			if !ok {
				s.mon.Report(errors.New("definition owner not in directory"),
					"scheduling.rebuild.owner",
					map[string]any{"id": def.ID}, map[string]string{"user": *def.UserID})
				continue
			}
			loc = owner
		}

		occs, err := recurrence.Expand(def, w, recurrence.Options{
			WithSnoozing: true,
			Location:     loc,
			Now:          now,
		})
		if err != nil {
			s.mon.Report(err, "scheduling.rebuild.expand",
				map[string]any{"id": def.ID}, nil)
			continue
		}
		for _, occ := range occs {
			rows = append(rows, occ.AsCacheRow())
		}
	}

	rows, err = s.dropCompleted(ctx, rows)
	if err != nil {
		return fmt.Errorf("scheduling: rebuild: load logs: %w", err)
	}

	if err := s.store.InsertCache(ctx, rows); err != nil {
		return fmt.Errorf("scheduling: rebuild: insert cache: %w", err)
	}
	s.log.Info("day cache rebuilt",
		logx.Int("definitions", len(defs)), logx.Int("rows", len(rows)),
		logx.Time("until", end))
	return nil
}

// dropCompleted filters out occurrences the user already acted on, so a
// rebuild never puts a completed occurrence back in front of the
// dispatch loop.
func (s *Service) dropCompleted(ctx context.Context, rows []event.Definition) ([]event.Definition, error) {
	if len(rows) == 0 {
		return rows, nil
	}
	seen := make(map[string]bool, len(rows))
	parents := make([]any, 0, len(rows))
	for _, r := range rows {
		if !seen[r.ParentID] {
			seen[r.ParentID] = true
			parents = append(parents, r.ParentID)
		}
	}
	logs, err := s.store.FindLogs(ctx, storage.In("parentId", parents...))
	if err != nil {
		return nil, err
	}
	recurrence.DisableCompleted(rows, logs)
	kept := rows[:0]
	for _, r := range rows {
		if r.Enabled {
			kept = append(kept, r)
		}
	}
	return kept, nil
}

// refreshDayCache replaces a single definition's slice of the day
// cache: stale rows out, occurrences from now to the next cutoff in.
func (s *Service) refreshDayCache(ctx context.Context, def event.Definition, loc *time.Location, now time.Time) error {
	if err := s.store.DeleteCacheByParent(ctx, def.ID); err != nil {
		return err
	}
	if !def.Enabled {
		return nil
	}
	w := recurrence.Between(now, s.nextCutoff(now), false)
	occs, err := recurrence.Expand(def, w, recurrence.Options{
		WithSnoozing: true,
		Location:     loc,
		Now:          now,
	})
	if err != nil {
		return err
	}
	rows := make([]event.Definition, 0, len(occs))
	for _, occ := range occs {
		rows = append(rows, occ.AsCacheRow())
	}
	rows, err = s.dropCompleted(ctx, rows)
	if err != nil {
		return err
	}
	return s.store.InsertCache(ctx, rows)
}
