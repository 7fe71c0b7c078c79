// Package scheduler runs the scan cycle on a fixed interval.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one scheduled cycle.
type Job func(ctx context.Context) error

// Scheduler triggers a Job every interval. A tick that fires while the
// previous run is still going is skipped.
type Scheduler struct {
	cron    *cron.Cron
	entry   cron.EntryID
	job     Job
	timeout time.Duration
	logger  *slog.Logger

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup // run-on-start cycle, outside cron's own waiter
}

// New creates a scheduler. timeout bounds each run; zero means unbounded.
func New(interval, timeout time.Duration, job Job, logger *slog.Logger) (*Scheduler, error) {
	if job == nil {
		return nil, errors.New("job must not be nil")
	}
	if interval < time.Second {
		return nil, fmt.Errorf("interval %s is shorter than one second", interval)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "scheduler"))
	cl := cronLogger{logger}

	base, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:    cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		job:     job,
		timeout: timeout,
		logger:  logger,
		base:    base,
		cancel:  cancel,
	}
	id, err := s.cron.AddFunc("@every "+interval.String(), s.run)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("add cron: %w", err)
	}
	s.entry = id
	return s, nil
}

// Start begins ticking. With runNow the first cycle starts immediately
// instead of one interval later.
func (s *Scheduler) Start(runNow bool) {
	s.cron.Start()
	if runNow {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.RunNow()
		}()
	}
}

// RunNow runs the job through the same chain as a tick, so it is skipped
// when a scheduled run is in progress.
func (s *Scheduler) RunNow() {
	if e := s.cron.Entry(s.entry); e.WrappedJob != nil {
		e.WrappedJob.Run()
	}
}

// Next returns the time of the next scheduled tick.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

// Stop cancels a running cycle and waits for it to return, including the
// one launched by Start(true).
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.wg.Wait()
}

func (s *Scheduler) run() {
	ctx, cancel := s.base, context.CancelFunc(func() {})
	if s.timeout > 0 {
		ctx, cancel = context.WithTimeout(s.base, s.timeout)
	}
	defer cancel()

	start := time.Now()
	if err := s.job(ctx); err != nil {
		s.logger.Warn("scheduled cycle failed", slog.Any("error", err), slog.Duration("elapsed", time.Since(start)))
		return
	}
	s.logger.Info("scheduled cycle done", slog.Duration("elapsed", time.Since(start)))
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append([]any{slog.Any("error", err)}, keysAndValues...)...)
}
