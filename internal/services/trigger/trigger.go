// Package trigger runs the engine's periodic control loops on top of a
// cron schedule, pushing firings through a bounded queue to a small
// worker pool so a slow sweep never blocks the clock.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "remindd/pkg/logx"
)

var ErrNotStarted = errors.New("trigger service not started")

type Config struct {
	Workers     int    `json:"workers"`
	QueueSize   int    `json:"queueSize"`
	HistorySize int    `json:"historySize"`
	Timezone    string `json:"timezone"` // IANA TZ; empty means UTC
}

// HistoryItem records one loop firing for status inspection.
type HistoryItem struct {
	ID       string
	Name     string
	Started  time.Time
	Duration time.Duration
	Error    string
}

type task struct {
	id      string
	name    string
	timeout time.Duration
	run     func(ctx context.Context) error
}

type scheduleDef struct {
	id      string
	name    string
	spec    string
	timeout time.Duration
	job     func(ctx context.Context) error
}

// Service schedules recurring jobs. Loops register before or after
// Start; a timezone change via Apply restarts cron in the new zone and
// re-registers every definition.
type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location

	parser cron.Parser
	c      *cron.Cron
	defs   []scheduleDef
	nextID int

	queue  chan task
	stopCh chan struct{}

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, log logx.Logger) *Service {
	return &Service{
		cfg:    cfg,
		log:    log.With(logx.String("component", "trigger")),
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	newTZ := strings.TrimSpace(cfg.Timezone)
	s.cfg = cfg

	if s.stopCh == nil {
		return
	}
	if oldTZ != newTZ {
		s.restartLocked()
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}
	s.stopCh = make(chan struct{})

	workers := s.cfg.Workers
	if workers <= 0 {
		workers = 2
	}
	size := s.cfg.QueueSize
	if size <= 0 {
		size = 64
	}
	s.queue = make(chan task, size)

	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))

	for _, d := range s.defs {
		s.addCronLocked(d)
	}

	for i := 0; i < workers; i++ {
		go s.worker(ctx)
	}
	s.c.Start()
	s.log.Info("trigger service started",
		logx.Int("workers", workers), logx.String("tz", loc.String()))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh == nil {
		return
	}
	close(s.stopCh)
	s.stopCh = nil
	if s.c != nil {
		stopCtx := s.c.Stop()
		select {
		case <-stopCtx.Done():
		case <-ctx.Done():
		}
		s.c = nil
	}
	s.log.Info("trigger service stopped")
}

// AddCron registers a job on a raw cron spec in the service timezone.
func (s *Service) AddCron(name, spec string, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	d := scheduleDef{
		id:      fmt.Sprintf("%s#%d", name, s.nextID),
		name:    name,
		spec:    spec,
		timeout: timeout,
		job:     job,
	}
	if s.c != nil {
		if err := s.addCronLocked(d); err != nil {
			return "", err
		}
	} else if _, err := s.parser.Parse(spec); err != nil {
		return "", fmt.Errorf("trigger: spec %q: %w", spec, err)
	}
	s.defs = append(s.defs, d)
	return d.id, nil
}

// AddInterval registers a job firing every fixed duration.
func (s *Service) AddInterval(name string, every, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	return s.AddCron(name, fmt.Sprintf("@every %s", every.String()), timeout, job)
}

// AddDaily registers a job firing once a day at HH:MM service time.
func (s *Service) AddDaily(name, atHHMM string, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	h, m, err := parseHHMM(atHHMM)
	if err != nil {
		return "", err
	}
	return s.AddCron(name, fmt.Sprintf("%d %d * * *", m, h), timeout, job)
}

// Snapshot returns a copy of the recent firing history.
func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	out := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return out
}

func (s *Service) addCronLocked(d scheduleDef) error {
	_, err := s.c.AddFunc(d.spec, func() {
		s.enqueue(task{id: d.id, name: d.name, timeout: d.timeout, run: d.job})
	})
	return err
}

func (s *Service) restartLocked() {
	if s.c != nil {
		<-s.c.Stop().Done()
	}
	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	for _, d := range s.defs {
		_ = s.addCronLocked(d)
	}
	s.c.Start()
	s.log.Info("trigger service restarted", logx.String("tz", loc.String()))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, falling back to UTC",
			logx.String("tz", tz), logx.Err(err))
		return time.UTC
	}
	return loc
}

func (s *Service) enqueue(t task) {
	select {
	case s.queue <- t:
	default:
		s.log.Warn("trigger queue full, dropping firing", logx.String("loop", t.name))
	}
}

func (s *Service) worker(ctx context.Context) {
	s.mu.Lock()
	stopCh := s.stopCh
	queue := s.queue
	s.mu.Unlock()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case t := <-queue:
			s.execOne(ctx, t)
		}
	}
}

func (s *Service) execOne(ctx context.Context, t task) {
	start := time.Now()
	runCtx := ctx
	if t.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	err := t.run(runCtx)

	item := HistoryItem{ID: t.id, Name: t.name, Started: start, Duration: time.Since(start)}
	if err != nil {
		item.Error = err.Error()
		s.log.Warn("loop failed", logx.String("loop", t.name), logx.Err(err))
	} else {
		s.log.Debug("loop ok", logx.String("loop", t.name), logx.Duration("took", item.Duration))
	}

	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, item)
	max := s.cfg.HistorySize
	if max <= 0 {
		max = 100
	}
	if len(s.history) > max {
		s.history = s.history[len(s.history)-max:]
	}
}

func parseHHMM(v string) (hour, minute int, err error) {
	v = strings.TrimSpace(v)
	parts := strings.Split(v, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", v)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", v)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", v)
	}
	return h, m, nil
}
