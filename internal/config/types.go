// Package config loads the daemon configuration from a YAML or JSON
// file, decodes it strictly, and watches the file for live edits.
package config

import (
	"fmt"
	"time"
)

// Config is the full daemon configuration. YAML input is coerced to
// JSON before decoding, so one set of tags covers both formats.
type Config struct {
	Logging  Logging  `json:"logging"`
	Storage  Storage  `json:"storage"`
	Trigger  Trigger  `json:"trigger"`
	Dispatch Dispatch `json:"dispatch"`
	Notify   Notify   `json:"notify"`
	Users    []User   `json:"users"`

	// Events are declarative definition documents reconciled into the
	// store at startup. Each document needs at least "id" and "type";
	// the remaining keys follow the registered event type's shape.
	Events []map[string]any `json:"events"`
}

type Logging struct {
	Level   string `json:"level"`
	Console bool   `json:"console"`
	File    string `json:"file"`
}

type Storage struct {
	Driver string `json:"driver"`
	Path   string `json:"path"`
	// BusyTimeout is a Go duration string, sqlite only.
	BusyTimeout string `json:"busyTimeout"`
}

// Trigger configures the control loops. RebuildTime is the daily cache
// rebuild wall time (UTC HH:MM); it doubles as the day-cache cutoff.
type Trigger struct {
	Workers     int    `json:"workers"`
	QueueSize   int    `json:"queueSize"`
	HistorySize int    `json:"historySize"`
	RebuildTime string `json:"rebuildTime"`
	TickEvery   string `json:"tickEvery"`
	LoopTimeout string `json:"loopTimeout"`
}

type Dispatch struct {
	Workers   int `json:"workers"`
	QueueSize int `json:"queueSize"`
}

type Notify struct {
	Workers     int    `json:"workers"`
	QueueSize   int    `json:"queueSize"`
	RatePerSec  int    `json:"ratePerSec"`
	SendTimeout string `json:"sendTimeout"`
}

type User struct {
	ID       string `json:"id"`
	Timezone string `json:"timezone"`
	Enabled  bool   `json:"enabled"`
}

// RebuildTimeOrDefault falls back to 03:00 UTC.
func (t Trigger) RebuildTimeOrDefault() string {
	if t.RebuildTime == "" {
		return "03:00"
	}
	return t.RebuildTime
}

// TickInterval parses TickEvery, defaulting to one minute.
func (t Trigger) TickInterval() (time.Duration, error) {
	return ParseDurationOrDefault("trigger.tickEvery", t.TickEvery, time.Minute)
}

// Timeout parses LoopTimeout, defaulting to five minutes.
func (t Trigger) Timeout() (time.Duration, error) {
	return ParseDurationOrDefault("trigger.loopTimeout", t.LoopTimeout, 5*time.Minute)
}

// Validate rejects configurations the services would choke on later.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "", "memory", "sqlite", "sqlite3":
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
	}
	if (c.Storage.Driver == "sqlite" || c.Storage.Driver == "sqlite3") && c.Storage.Path == "" {
		return fmt.Errorf("storage.path: required for sqlite")
	}
	if _, err := ParseDurationField("storage.busyTimeout", c.Storage.BusyTimeout); err != nil {
		return err
	}
	if _, err := c.Trigger.TickInterval(); err != nil {
		return err
	}
	if _, err := c.Trigger.Timeout(); err != nil {
		return err
	}
	if _, err := ParseDurationField("notify.sendTimeout", c.Notify.SendTimeout); err != nil {
		return err
	}
	seen := map[string]bool{}
	for i, u := range c.Users {
		if u.ID == "" {
			return fmt.Errorf("users[%d].id: required", i)
		}
		if seen[u.ID] {
			return fmt.Errorf("users[%d].id: duplicate %q", i, u.ID)
		}
		seen[u.ID] = true
		if u.Timezone != "" {
			if _, err := time.LoadLocation(u.Timezone); err != nil {
				return fmt.Errorf("users[%d].timezone: %w", i, err)
			}
		}
	}
	seenEv := map[string]bool{}
	for i, doc := range c.Events {
		id, _ := doc["id"].(string)
		if id == "" {
			return fmt.Errorf("events[%d].id: required", i)
		}
		if seenEv[id] {
			return fmt.Errorf("events[%d].id: duplicate %q", i, id)
		}
		seenEv[id] = true
		if tag, _ := doc["type"].(string); tag == "" {
			return fmt.Errorf("events[%d].type: required", i)
		}
	}
	return nil
}
