// Package notify delivers rendered reminders to users through a
// pluggable Sender, decoupling dispatch workers from transport latency
// with a bounded queue and a token-bucket rate limit.
package notify

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"

	logx "remindd/pkg/logx"
)

var (
	ErrQueueFull = errors.New("notify queue full")
	ErrStopped   = errors.New("notify service stopped")
)

// Sender is the outbound transport. Implementations push the rendered
// text to whatever channel the user is reachable on.
type Sender interface {
	Send(ctx context.Context, userID, text string, payload map[string]any) error
}

// Config tunes the async pipeline.
type Config struct {
	Workers     int           `json:"workers"`
	QueueSize   int           `json:"queueSize"`
	RatePerSec  int           `json:"ratePerSec"`
	SendTimeout time.Duration `json:"-"`
}

// HistoryItem records a delivered notification for status inspection.
type HistoryItem struct {
	At     time.Time
	UserID string
	Text   string
}

type job struct {
	userID  string
	text    string
	payload map[string]any
}

// Service is an async notification pipeline: bounded queue, worker
// pool, rate limit. Delivery failures are logged and never retried;
// the next occurrence of a recurring reminder is the retry.
//
// It is safe for concurrent use and implements event.Notifier.
type Service struct {
	mu sync.Mutex

	log    logx.Logger
	sender Sender

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup

	queue    chan job
	stopDone chan struct{}

	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, sender Sender, log logx.Logger) *Service {
	s := &Service{sender: sender, log: log.With(logx.String("component", "notify"))}
	s.applyLocked(cfg)
	return s
}

// Apply swaps the config; takes effect for subsequent sends, the queue
// itself is resized only on restart.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 512
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	s.cfg = cfg
	// Burst equals the per-second rate so short spikes drain quickly.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.queue != nil {
		s.mu.Unlock()
		return
	}
	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	s.stopDone = make(chan struct{})
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	workers := s.cfg.Workers
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		i := i
		s.workerWG.Add(1)
		go func() {
			defer s.workerWG.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("panic in notify worker",
						logx.Int("worker", i), logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())))
				}
			}()
			s.workerLoop()
		}()
	}
}

// Stop blocks intake and drains the queue best-effort until ctx expires.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q := s.queue
	done := s.stopDone
	cancel := s.runCancel
	if q == nil {
		s.mu.Unlock()
		return
	}
	s.accepting = false
	s.mu.Unlock()

	// Wait for in-flight enqueues before closing the channel.
	ch := make(chan struct{})
	go func() {
		s.sendWG.Wait()
		close(ch)
	}()
	select {
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
		return
	case <-ch:
	}

	close(q)

	go func() {
		s.workerWG.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
	case <-done:
	}
	if cancel != nil {
		cancel()
	}

	s.mu.Lock()
	s.queue = nil
	s.stopDone = nil
	s.runCtx = nil
	s.runCancel = nil
	s.mu.Unlock()
}

// Send enqueues a rendered notification. It never blocks: a full queue
// returns ErrQueueFull and the notification is dropped.
func (s *Service) Send(ctx context.Context, userID, text string, payload map[string]any) error {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	s.mu.Lock()
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	select {
	case q <- job{userID: userID, text: text, payload: payload}:
		return nil
	default:
		s.log.Warn("notification dropped, queue full", logx.String("user", userID))
		return ErrQueueFull
	}
}

// Snapshot returns a copy of the recent delivery history.
func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	out := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return out
}

func (s *Service) appendHistory(userID, text string) {
	s.hmu.Lock()
	s.history = append(s.history, HistoryItem{At: time.Now(), UserID: userID, Text: text})
	if len(s.history) > 300 {
		s.history = s.history[len(s.history)-300:]
	}
	s.hmu.Unlock()
}

func (s *Service) workerLoop() {
	s.mu.Lock()
	q := s.queue
	runCtx := s.runCtx
	s.mu.Unlock()

	for j := range q {
		if runCtx != nil {
			select {
			case <-runCtx.Done():
				return
			default:
			}
		}
		s.deliver(runCtx, j)
	}
}

func (s *Service) deliver(runCtx context.Context, j job) {
	s.mu.Lock()
	lim := s.limiter
	sender := s.sender
	timeout := s.cfg.SendTimeout
	s.mu.Unlock()

	if sender == nil {
		return
	}

	wctx := runCtx
	if wctx == nil {
		wctx = context.Background()
	}
	if lim != nil {
		if err := lim.Wait(wctx); err != nil {
			return
		}
	}

	callCtx, cancelCall := context.WithTimeout(wctx, timeout)
	err := sender.Send(callCtx, j.userID, j.text, j.payload)
	cancelCall()
	if err != nil {
		s.log.Warn("notification delivery failed",
			logx.Err(err), logx.String("user", j.userID))
		return
	}
	s.appendHistory(j.userID, j.text)
}
