package scheduling

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"remindd/internal/event"
	"remindd/internal/storage"
	logx "remindd/pkg/logx"
)

// Sync reconciles declarative definition documents, typically the
// config file's events list, with the store: new documents are created,
// drifted ones updated, unchanged ones left alone. Each document passes
// through the registry so type-specific keys land in the ExtraFields
// envelope. A bad document is reported and skipped, never fails the
// sweep.
func (s *Service) Sync(ctx context.Context, reg *event.Registry, docs []map[string]any) error {
	created, updated := 0, 0
	for _, doc := range docs {
		tag, _ := doc["type"].(string)
		def, err := reg.Load(tag, doc)
		if err != nil {
			s.mon.Report(err, "scheduling.sync.load",
				map[string]any{"id": doc["id"]}, map[string]string{"type": tag})
			continue
		}
		if _, ok := doc["enabled"]; !ok {
			// Declared definitions are live unless said otherwise.
			def.Enabled = true
		}
		loc := time.UTC
		if def.Timezone != "" {
			if l, err := time.LoadLocation(def.Timezone); err == nil {
				loc = l
			}
		}

		existing, err := s.store.GetDefinition(ctx, def.ID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			if _, err := s.Create(ctx, def, loc); err != nil {
				s.mon.Report(err, "scheduling.sync.create",
					map[string]any{"id": def.ID}, nil)
				continue
			}
			created++
		case err != nil:
			return fmt.Errorf("scheduling: sync %s: %w", def.ID, err)
		default:
			same, err := sameDocument(reg, def, existing)
			if err != nil {
				s.mon.Report(err, "scheduling.sync.compare",
					map[string]any{"id": def.ID}, nil)
				continue
			}
			if same {
				continue
			}
			def.CreateDateTime = existing.CreateDateTime
			if _, err := s.Update(ctx, def, loc); err != nil {
				s.mon.Report(err, "scheduling.sync.update",
					map[string]any{"id": def.ID}, nil)
				continue
			}
			updated++
		}
	}
	if created > 0 || updated > 0 {
		s.log.Info("declared definitions synced",
			logx.Int("created", created), logx.Int("updated", updated))
	}
	return nil
}

// sameDocument compares two definitions by their dumped documents with
// the lifecycle stamps stripped, so an untouched declaration does not
// dirty the stored row on every boot.
func sameDocument(reg *event.Registry, a, b event.Definition) (bool, error) {
	da, err := reg.Dump(a)
	if err != nil {
		return false, err
	}
	db, err := reg.Dump(b)
	if err != nil {
		return false, err
	}
	for _, k := range []string{"createDateTime", "updateDateTime", "parentId", "completeDateTime"} {
		delete(da, k)
		delete(db, k)
	}
	return reflect.DeepEqual(da, db), nil
}
