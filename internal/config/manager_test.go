package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "remindd/pkg/logx"
)

const sampleYAML = `
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: /var/lib/remindd/remindd.db
  busyTimeout: 5s
trigger:
  workers: 2
  rebuildTime: "03:00"
  tickEvery: 1m
dispatch:
  workers: 4
notify:
  workers: 2
  ratePerSec: 10
users:
  - id: u1
    timezone: Europe/Berlin
    enabled: true
events:
  - id: seed1
    type: reminder
    title: evening medication
    userId: u1
    isRecurring: true
    recurrencePattern: "DTSTART:20210101T180000Z\nRRULE:FREQ=DAILY;UNTIL=20221231T180000Z"
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	m := NewManager(writeFile(t, "remindd.yaml", sampleYAML), logx.Nop())
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Logging.Level != "debug" {
		t.Fatalf("decoded config: %+v", cfg)
	}
	if len(cfg.Users) != 1 || cfg.Users[0].Timezone != "Europe/Berlin" {
		t.Fatalf("users: %+v", cfg.Users)
	}
	if len(cfg.Events) != 1 || cfg.Events[0]["id"] != "seed1" || cfg.Events[0]["isRecurring"] != true {
		t.Fatalf("events: %+v", cfg.Events)
	}
	tick, err := cfg.Trigger.TickInterval()
	if err != nil || tick != time.Minute {
		t.Fatalf("tick = %v, %v", tick, err)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get did not return committed config")
	}
}

func TestUnknownFieldRejected(t *testing.T) {
	t.Parallel()
	m := NewManager(writeFile(t, "bad.yaml", "loggging:\n  level: info\n"), logx.Nop())
	if _, err := m.Load(); err == nil {
		t.Fatal("expected unknown-field error")
	}
}

func TestValidateRejects(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		body string
	}{
		{name: "unknown driver", body: "storage:\n  driver: postgres\n"},
		{name: "sqlite without path", body: "storage:\n  driver: sqlite\n"},
		{name: "bad tick", body: "trigger:\n  tickEvery: soon\n"},
		{name: "bad timezone", body: "users:\n  - id: u1\n    timezone: Mars/Olympus\n"},
		{name: "duplicate user", body: "users:\n  - id: u1\n  - id: u1\n"},
		{name: "event without id", body: "events:\n  - type: reminder\n"},
		{name: "event without type", body: "events:\n  - id: e1\n"},
		{name: "duplicate event", body: "events:\n  - id: e1\n    type: reminder\n  - id: e1\n    type: reminder\n"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			m := NewManager(writeFile(t, "c.yaml", tc.body), logx.Nop())
			if _, err := m.Load(); err == nil {
				t.Fatalf("config accepted: %s", tc.body)
			}
		})
	}
}

func TestRebuildTimeDefault(t *testing.T) {
	t.Parallel()
	var tr Trigger
	if got := tr.RebuildTimeOrDefault(); got != "03:00" {
		t.Fatalf("default rebuild time = %q", got)
	}
}
