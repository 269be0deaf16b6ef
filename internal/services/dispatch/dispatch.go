// Package dispatch drains the day cache: every minute the due rows are
// batched out to workers that resolve each row's type handler and fire
// its side effect.
//
// Hand-off and row deletion are deliberately not transactional: a crash
// between the two redelivers on the next tick. At-least-once, no dedup.
package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"remindd/internal/event"
	"remindd/internal/monitor"
	"remindd/internal/storage"
	logx "remindd/pkg/logx"
)

const batchSize = 10

// Config tunes the worker pool.
type Config struct {
	Workers   int `json:"workers"`
	QueueSize int `json:"queueSize"`
}

// Service owns the per-minute dispatch sweep. Tick is driven externally
// by the trigger service so the clock stays in one place.
type Service struct {
	mu sync.Mutex

	log      logx.Logger
	store    storage.Store
	registry *event.Registry
	notifier event.Notifier
	mon      monitor.Reporter

	cfg Config

	queue    chan []event.Definition
	stopCh   chan struct{}
	workerWG sync.WaitGroup
}

func New(cfg Config, store storage.Store, reg *event.Registry, n event.Notifier, mon monitor.Reporter, log logx.Logger) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	return &Service{
		log:      log.With(logx.String("component", "dispatch")),
		store:    store,
		registry: reg,
		notifier: n,
		mon:      mon,
		cfg:      cfg,
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}
	s.stopCh = make(chan struct{})
	s.queue = make(chan []event.Definition, s.cfg.QueueSize)

	for i := 0; i < s.cfg.Workers; i++ {
		s.workerWG.Add(1)
		go func() {
			defer s.workerWG.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("panic in dispatch worker",
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())))
				}
			}()
			s.worker(ctx)
		}()
	}
	s.log.Info("dispatch started", logx.Int("workers", s.cfg.Workers))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	stopCh := s.stopCh
	s.stopCh = nil
	s.mu.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)

	done := make(chan struct{})
	go func() {
		s.workerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	s.log.Info("dispatch stopped")
}

// Tick runs one sweep for the given minute: load due rows, hand them to
// the workers in fixed-size batches, then delete them from the cache.
// Rebuild-driven reinsertion plus this deletion keeps the cache a pure
// work queue.
func (s *Service) Tick(ctx context.Context, minute time.Time) error {
	due, err := s.store.FindCacheDue(ctx, minute)
	if err != nil {
		return fmt.Errorf("dispatch: find due: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	s.mu.Lock()
	queue := s.queue
	stopCh := s.stopCh
	s.mu.Unlock()
	if queue == nil {
		return fmt.Errorf("dispatch: not started")
	}

	for off := 0; off < len(due); off += batchSize {
		hi := off + batchSize
		if hi > len(due) {
			hi = len(due)
		}
		batch := due[off:hi]
		select {
		case queue <- batch:
		case <-stopCh:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	// Delete after hand-off, not after completion: at-least-once.
	if err := s.store.DeleteCacheRows(ctx, due); err != nil {
		return fmt.Errorf("dispatch: delete dispatched rows: %w", err)
	}
	s.log.Debug("minute sweep dispatched",
		logx.Int("rows", len(due)), logx.Time("minute", minute))
	return nil
}

func (s *Service) worker(ctx context.Context) {
	s.mu.Lock()
	queue := s.queue
	stopCh := s.stopCh
	s.mu.Unlock()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case batch := <-queue:
			for _, row := range batch {
				s.dispatchOne(ctx, row)
			}
		}
	}
}

// dispatchOne fires a single cached occurrence. A bad row never stops
// the batch: unknown tags and handler failures are reported and skipped.
func (s *Service) dispatchOne(ctx context.Context, row event.Definition) {
	h, err := s.registry.Resolve(row.Type)
	if err != nil {
		s.mon.Report(err, "dispatch.resolve",
			map[string]any{"parentId": row.ParentID}, map[string]string{"type": row.Type})
		return
	}
	if h.Execute == nil {
		return
	}
	if err := h.Execute(ctx, row, s.notifier); err != nil {
		s.mon.Report(err, "dispatch.execute",
			map[string]any{"parentId": row.ParentID}, map[string]string{"type": row.Type})
		return
	}
	s.log.Debug("occurrence dispatched",
		logx.String("parent", row.ParentID), logx.String("type", row.Type))
}
