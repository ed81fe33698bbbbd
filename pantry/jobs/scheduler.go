// jobs/scheduler.go
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ScheduledJob is a recurring job.
type ScheduledJob struct {
	// Name identifies the job. It is also the lock key suffix.
	Name string

	// Interval between runs.
	Interval time.Duration

	// Handler does the work.
	Handler func(ctx context.Context) error

	// Aligned starts runs on wall-clock multiples of Interval, so a one
	// minute job runs just after each minute boundary.
	Aligned bool

	// RunImmediately executes the job once on start.
	RunImmediately bool

	// Timeout for each execution. Default: Interval, or 5 minutes when
	// Interval is zero.
	Timeout time.Duration
}

// Scheduler runs recurring jobs, optionally under a Locker so that only one
// instance in a fleet runs a given job at a time.
type Scheduler struct {
	mu       sync.Mutex
	jobs     map[string]*scheduledEntry
	logger   *zap.Logger
	running  bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
	locker   Locker
	workerID string
	now      func() time.Time
}

type scheduledEntry struct {
	job    *ScheduledJob
	stopCh chan struct{}
}

// SchedulerOption configures the scheduler.
type SchedulerOption func(*Scheduler)

// WithLocker makes each execution acquire a lock first. Executions whose
// lock is held elsewhere are skipped.
func WithLocker(locker Locker) SchedulerOption {
	return func(s *Scheduler) {
		s.locker = locker
	}
}

// WithWorkerID sets the id logged with each execution.
func WithWorkerID(id string) SchedulerOption {
	return func(s *Scheduler) {
		s.workerID = id
	}
}

// WithClock replaces time.Now for alignment.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		s.now = now
	}
}

// NewScheduler creates a scheduler.
func NewScheduler(logger *zap.Logger, opts ...SchedulerOption) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Scheduler{
		jobs:     make(map[string]*scheduledEntry),
		logger:   logger,
		stopCh:   make(chan struct{}),
		workerID: uuid.NewString(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add registers a job. Jobs added while running start right away.
func (s *Scheduler) Add(job *ScheduledJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.Name == "" {
		return fmt.Errorf("jobs: job name is required")
	}
	if job.Interval <= 0 {
		return fmt.Errorf("jobs: job %q needs a positive interval", job.Name)
	}
	if job.Handler == nil {
		return fmt.Errorf("jobs: job %q has no handler", job.Name)
	}
	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("jobs: job %q already exists", job.Name)
	}
	if job.Timeout <= 0 {
		job.Timeout = job.Interval
	}

	entry := &scheduledEntry{job: job, stopCh: make(chan struct{})}
	s.jobs[job.Name] = entry

	s.logger.Info("scheduled job added",
		zap.String("name", job.Name),
		zap.Duration("interval", job.Interval),
		zap.Bool("aligned", job.Aligned),
	)

	if s.running {
		s.startJob(entry)
	}
	return nil
}

// Every adds an unaligned recurring job.
func (s *Scheduler) Every(interval time.Duration, name string, handler func(ctx context.Context) error) error {
	return s.Add(&ScheduledJob{
		Name:     name,
		Interval: interval,
		Handler:  handler,
	})
}

// Start begins executing all jobs.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})

	s.logger.Info("starting scheduler",
		zap.Int("jobs", len(s.jobs)),
		zap.String("worker_id", s.workerID),
	)

	for _, entry := range s.jobs {
		s.startJob(entry)
	}
}

// Run starts the scheduler, blocks until ctx is done, then stops it,
// waiting at most grace for running executions.
func (s *Scheduler) Run(ctx context.Context, grace time.Duration) error {
	s.Start()
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	return s.Stop(stopCtx)
}

func (s *Scheduler) startJob(entry *scheduledEntry) {
	stopCh := s.stopCh
	job := entry.job

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		if job.RunImmediately {
			s.execute(job)
		}

		for {
			timer := time.NewTimer(s.untilNext(job))
			select {
			case <-entry.stopCh:
				timer.Stop()
				return
			case <-stopCh:
				timer.Stop()
				return
			case <-timer.C:
				s.execute(job)
			}
		}
	}()
}

func (s *Scheduler) untilNext(job *ScheduledJob) time.Duration {
	if !job.Aligned {
		return job.Interval
	}
	now := s.now()
	return nextBoundary(now, job.Interval).Sub(now)
}

// nextBoundary returns the first multiple of interval strictly after now.
func nextBoundary(now time.Time, interval time.Duration) time.Time {
	return now.Truncate(interval).Add(interval)
}

// execute runs job once. It returns ErrLockNotAcquired when another
// instance holds the job's lock.
func (s *Scheduler) execute(job *ScheduledJob) error {
	ctx, cancel := context.WithTimeout(context.Background(), job.Timeout)
	defer cancel()

	start := time.Now()
	log := s.logger.With(
		zap.String("name", job.Name),
		zap.String("worker_id", s.workerID),
	)

	if s.locker != nil {
		lockKey := "scheduler:" + job.Name
		acquired, err := s.locker.Acquire(ctx, lockKey, job.Timeout)
		if err != nil {
			log.Error("failed to acquire lock", zap.Error(err))
			return err
		}
		if !acquired {
			log.Debug("skipping job, lock held by another instance")
			return ErrLockNotAcquired
		}
		defer func() {
			if _, err := s.locker.Release(context.Background(), lockKey); err != nil {
				log.Warn("failed to release lock", zap.Error(err))
			}
		}()
	}

	err := job.Handler(ctx)
	duration := time.Since(start)
	if err != nil {
		log.Error("scheduled job failed",
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return err
	}

	log.Debug("scheduled job completed", zap.Duration("duration", duration))
	return nil
}

// Stop stops all jobs and waits for running executions or ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.logger.Info("stopping scheduler")

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("scheduler shutdown timed out")
		return ctx.Err()
	}
}

// Remove stops and removes a job.
func (s *Scheduler) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.jobs[name]
	if !exists {
		return false
	}
	close(entry.stopCh)
	delete(s.jobs, name)
	s.logger.Info("scheduled job removed", zap.String("name", name))
	return true
}

// RunNow executes a job immediately, under the lock when one is set.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	entry, exists := s.jobs[name]
	s.mu.Unlock()

	if !exists {
		return fmt.Errorf("jobs: job %q not found", name)
	}
	return s.execute(entry.job)
}

// IsRunning reports whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// IsSkipped reports whether err means an execution was skipped because
// another instance held the lock.
func IsSkipped(err error) bool {
	return errors.Is(err, ErrLockNotAcquired)
}
