package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"remindd/internal/event"
)

// memoryStore keeps all three collections in process. It backs tests and
// the preview mode; semantics mirror the sqlite driver.
type memoryStore struct {
	mu    sync.RWMutex
	defs  map[string]event.Definition
	logs  []event.CompletionLog
	cache []event.Definition
}

// NewMemory returns an empty in-memory store.
func NewMemory() Store {
	return &memoryStore{defs: map[string]event.Definition{}}
}

func (s *memoryStore) Close() error { return nil }

func (s *memoryStore) PutDefinition(_ context.Context, def event.Definition) error {
	if def.ID == "" {
		return fmt.Errorf("storage: definition has no id")
	}
	s.mu.Lock()
	s.defs[def.ID] = def
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) GetDefinition(_ context.Context, id string) (event.Definition, error) {
	s.mu.RLock()
	def, ok := s.defs[id]
	s.mu.RUnlock()
	if !ok {
		return event.Definition{}, fmt.Errorf("%w: definition %s", ErrNotFound, id)
	}
	return def, nil
}

func (s *memoryStore) FindDefinitions(_ context.Context, filters ...Filter) ([]event.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []event.Definition
	for _, def := range s.defs {
		ok, err := matchDefinition(def, filters)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, def)
		}
	}
	// Map iteration order is random; keep output stable for callers.
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryStore) UpdateDefinition(_ context.Context, def event.Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.defs[def.ID]; !ok {
		return fmt.Errorf("%w: definition %s", ErrNotFound, def.ID)
	}
	s.defs[def.ID] = def
	return nil
}

func (s *memoryStore) DeleteDefinitions(_ context.Context, ids ...string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, id := range ids {
		if _, ok := s.defs[id]; ok {
			delete(s.defs, id)
			n++
		}
	}
	return n, nil
}

func (s *memoryStore) PutLog(_ context.Context, lg event.CompletionLog) error {
	if lg.ID == "" {
		return fmt.Errorf("storage: completion log has no id")
	}
	s.mu.Lock()
	s.logs = append(s.logs, lg)
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) FindLogs(_ context.Context, filters ...Filter) ([]event.CompletionLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []event.CompletionLog
	for _, lg := range s.logs {
		ok, err := matchLog(lg, filters)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, lg)
		}
	}
	return out, nil
}

func (s *memoryStore) InsertCache(_ context.Context, rows []event.Definition) error {
	s.mu.Lock()
	s.cache = append(s.cache, rows...)
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) FindCache(_ context.Context, filters ...Filter) ([]event.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []event.Definition
	for _, row := range s.cache {
		ok, err := matchDefinition(row, filters)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *memoryStore) FindCacheDue(_ context.Context, minute time.Time) ([]event.Definition, error) {
	from := minute.Truncate(time.Minute)
	to := from.Add(time.Minute)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []event.Definition
	for _, row := range s.cache {
		if row.StartDateTime == nil {
			continue
		}
		st := *row.StartDateTime
		if !st.Before(from) && st.Before(to) {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *memoryStore) DeleteCacheByParent(_ context.Context, parentIDs ...string) error {
	drop := make(map[string]struct{}, len(parentIDs))
	for _, id := range parentIDs {
		drop[id] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.cache[:0]
	for _, row := range s.cache {
		if _, gone := drop[row.ParentID]; !gone {
			kept = append(kept, row)
		}
	}
	s.cache = kept
	return nil
}

func (s *memoryStore) DeleteCacheRows(_ context.Context, rows []event.Definition) error {
	type key struct {
		parent string
		start  int64
	}
	drop := make(map[key]struct{}, len(rows))
	for _, row := range rows {
		if row.StartDateTime == nil {
			continue
		}
		drop[key{row.ParentID, row.StartDateTime.UTC().Unix()}] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.cache[:0]
	for _, row := range s.cache {
		if row.StartDateTime != nil {
			if _, gone := drop[key{row.ParentID, row.StartDateTime.UTC().Unix()}]; gone {
				continue
			}
		}
		kept = append(kept, row)
	}
	s.cache = kept
	return nil
}

func (s *memoryStore) ClearCache(_ context.Context) error {
	s.mu.Lock()
	s.cache = nil
	s.mu.Unlock()
	return nil
}

func matchDefinition(def event.Definition, filters []Filter) (bool, error) {
	for _, f := range filters {
		got, err := definitionField(def, f.Field)
		if err != nil {
			return false, err
		}
		ok, err := matchFilter(got, f)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func matchLog(lg event.CompletionLog, filters []Filter) (bool, error) {
	for _, f := range filters {
		got, err := logField(lg, f.Field)
		if err != nil {
			return false, err
		}
		ok, err := matchFilter(got, f)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}
