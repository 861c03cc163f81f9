package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/leadflow/internal/logging"
)

// DefaultSchedule runs a pass every minute.
const DefaultSchedule = "@every 1m"

// ErrPassInProgress is returned by RunPass while another pass of the same
// scheduler is still running.
var ErrPassInProgress = errors.New("scheduler pass already in progress")

// Processor runs one pass over due executions. Satisfied by the engine
// (avoids import cycle).
type Processor interface {
	ProcessScheduledSteps(ctx context.Context) (int, error)
}

// Stats describes the scheduler's passes so far.
type Stats struct {
	Passes        int64     `json:"passes"`
	Overlaps      int64     `json:"overlaps"`
	Processed     int64     `json:"processed"`
	LastRunAt     time.Time `json:"last_run_at,omitempty"`
	LastProcessed int       `json:"last_processed"`
	LastError     string    `json:"last_error,omitempty"`
	NextRunAt     time.Time `json:"next_run_at,omitempty"`
}

// Scheduler invokes the processor on a cron schedule. Passes never overlap
// within one scheduler; overlap across processes is handled by execution claims.
type Scheduler struct {
	processor Processor
	schedule  cron.Schedule
	logger    *slog.Logger
	cancel    context.CancelFunc
	done      chan struct{}
	mu        sync.Mutex

	running atomic.Bool

	statsMu sync.Mutex
	stats   Stats
}

// ParseSchedule parses a five-field cron expression or a descriptor such as
// "@hourly" or "@every 30s". An empty spec yields DefaultSchedule.
func ParseSchedule(spec string) (cron.Schedule, error) {
	if spec == "" {
		spec = DefaultSchedule
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	sched, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	return sched, nil
}

// New creates a Scheduler running p on spec.
func New(p Processor, spec string, logger *slog.Logger) (*Scheduler, error) {
	sched, err := ParseSchedule(spec)
	if err != nil {
		return nil, err
	}
	return NewWithSchedule(p, sched, logger), nil
}

// NewWithSchedule creates a Scheduler from an already parsed schedule.
func NewWithSchedule(p Processor, sched cron.Schedule, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		processor: p,
		schedule:  sched,
		logger:    logging.WithModule(logger, "scheduler"),
	}
}

// Start launches the background loop. The first pass runs immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started")
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	s.tick(ctx)

	for {
		next := s.schedule.Next(time.Now())
		s.statsMu.Lock()
		s.stats.NextRunAt = next
		s.statsMu.Unlock()

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if _, err := s.RunPass(ctx); err != nil && !errors.Is(err, ErrPassInProgress) && ctx.Err() == nil {
		s.logger.Error("scheduler pass failed", slog.String("error", err.Error()))
	}
}

// RunPass runs one pass now unless one is already running.
func (s *Scheduler) RunPass(ctx context.Context) (int, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.statsMu.Lock()
		s.stats.Overlaps++
		s.statsMu.Unlock()
		s.logger.Warn("previous pass still running, skipping")
		return 0, ErrPassInProgress
	}
	defer s.running.Store(false)

	started := time.Now().UTC()
	n, err := s.processor.ProcessScheduledSteps(ctx)

	s.statsMu.Lock()
	s.stats.Passes++
	s.stats.Processed += int64(n)
	s.stats.LastRunAt = started
	s.stats.LastProcessed = n
	s.stats.LastError = ""
	if err != nil {
		s.stats.LastError = err.Error()
	}
	s.statsMu.Unlock()

	if n > 0 {
		s.logger.Info("scheduler pass", slog.Int("processed", n), slog.Duration("took", time.Since(started)))
	}
	return n, err
}

// Stats returns a snapshot of the pass counters.
func (s *Scheduler) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

// Stop cancels the loop and waits for an in-flight pass to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}
