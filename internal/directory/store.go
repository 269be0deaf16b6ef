package directory

import (
	"context"
	"time"

	"remindd/internal/storage"
	logx "remindd/pkg/logx"
)

type storeBacked struct {
	store storage.Store
	log   logx.Logger
}

// NewStoreBacked derives the user population from the stored
// definitions themselves: every owner of an enabled definition is a
// user, anchored in the zone recorded on their definitions. Useful when
// no external directory is configured.
func NewStoreBacked(store storage.Store, log logx.Logger) Directory {
	return &storeBacked{store: store, log: log.With(logx.String("component", "directory"))}
}

func (d *storeBacked) Timezones(ctx context.Context, userIDs []string) (map[string]*time.Location, error) {
	filters := []storage.Filter{storage.Eq("enabled", true)}
	if len(userIDs) > 0 {
		ids := make([]any, len(userIDs))
		for i, id := range userIDs {
			ids[i] = id
		}
		filters = append(filters, storage.In("userId", ids...))
	}
	defs, err := d.store.FindDefinitions(ctx, filters...)
	if err != nil {
		return nil, err
	}

	out := map[string]*time.Location{}
	for _, def := range defs {
		if def.UserID == nil {
			continue
		}
		if _, seen := out[*def.UserID]; seen {
			continue
		}
		loc, err := loadZone(def.Timezone)
		if err != nil {
			// A bad stored zone must not hide the rest of the users.
			d.log.Warn("unresolvable user timezone, using UTC",
				logx.String("user", *def.UserID), logx.Err(err))
			loc = time.UTC
		}
		out[*def.UserID] = loc
	}
	return out, nil
}
