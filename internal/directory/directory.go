// Package directory answers which users the scheduler should plan for
// and which timezone each of them lives in.
package directory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Directory resolves users to their IANA timezones. A nil or empty
// userIDs slice means "all enabled users".
type Directory interface {
	Timezones(ctx context.Context, userIDs []string) (map[string]*time.Location, error)
}

// User is a directory record.
type User struct {
	ID       string
	Timezone string
	Enabled  bool
}

type static struct {
	mu    sync.RWMutex
	users map[string]User
}

// NewStatic builds an in-process Directory from a fixed user list,
// typically sourced from the config file. Unknown or empty timezones
// fall back to UTC.
func NewStatic(users []User) Directory {
	m := make(map[string]User, len(users))
	for _, u := range users {
		if u.ID == "" {
			continue
		}
		m[u.ID] = u
	}
	return &static{users: m}
}

func (d *static) Timezones(_ context.Context, userIDs []string) (map[string]*time.Location, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ids := userIDs
	if len(ids) == 0 {
		ids = make([]string, 0, len(d.users))
		for id, u := range d.users {
			if u.Enabled {
				ids = append(ids, id)
			}
		}
		sort.Strings(ids)
	}

	out := make(map[string]*time.Location, len(ids))
	for _, id := range ids {
		u, ok := d.users[id]
		if !ok {
			continue
		}
		loc, err := loadZone(u.Timezone)
		if err != nil {
			return nil, fmt.Errorf("directory: user %s: %w", id, err)
		}
		out[id] = loc
	}
	return out, nil
}

func loadZone(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(name)
}
