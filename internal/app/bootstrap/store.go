package bootstrap

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dalemusser/sessionkeep/config"
	"github.com/dalemusser/sessionkeep/metrics"
	"github.com/dalemusser/sessionkeep/pantry/jobs"
	"github.com/dalemusser/sessionkeep/pantry/session"
	"github.com/dalemusser/sessionkeep/pantry/session/binding"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// SweepJobName names the expiration sweep in the scheduler and its lock.
const SweepJobName = "session-sweep"

// Store is the wired session stack on one Redis client.
type Store struct {
	Backend   *session.RedisBackend
	Repo      *session.Repository
	Index     *session.ExpirationIndex
	Sessions  *binding.Manager
	Scheduler *jobs.Scheduler
	Sweeper   *Sweeper
	Metrics   *metrics.SessionMetrics
}

// StoreOptions are the collaborators NewStore does not build itself.
type StoreOptions struct {
	// Events receives session events next to the metrics. Optional.
	Events session.Listener

	// Registerer for the session collectors.
	// Default: prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer

	// Clock. Default: time.Now.
	Clock func() time.Time
}

// NewStore builds repository, expiration index, binding manager and sweep
// scheduler from cfg.
func NewStore(cfg *config.CoreConfig, client redis.UniversalClient, opts StoreOptions, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	fm, err := flushMode(cfg.Session.FlushMode)
	if err != nil {
		return nil, err
	}
	sm, err := saveMode(cfg.Session.SaveMode)
	if err != nil {
		return nil, err
	}
	res, err := resolver(cfg.Session)
	if err != nil {
		return nil, err
	}

	m := metrics.NewSessionMetrics(logger, opts.Registerer)
	var listener session.Listener = m
	if opts.Events != nil {
		listener = session.Listeners(m, opts.Events)
	}

	log := logger.Named("session")
	backend := session.NewRedisBackend(client)
	keys := session.NewKeys(cfg.Session.Namespace)

	index := session.NewExpirationIndex(backend, keys, session.IndexConfig{
		Clock:       opts.Clock,
		Logger:      log,
		Listener:    listener,
		Metrics:     m,
		Concurrency: cfg.Sweep.Concurrency,
	})

	repo := session.NewRepository(backend, session.Config{
		DefaultMaxInactiveInterval: cfg.Session.MaxInactive,
		Namespace:                  cfg.Session.Namespace,
		FlushMode:                  fm,
		SaveMode:                   sm,
		Clock:                      opts.Clock,
		Logger:                     log,
		Index:                      index,
		Listener:                   listener,
		Metrics:                    m,
	})

	manager := binding.NewManager(repo, binding.Config{
		Resolver: res,
		Clock:    opts.Clock,
		Logger:   log,
	})

	schedOpts := []jobs.SchedulerOption{jobs.WithClock(opts.Clock)}
	if cfg.Sweep.Lock {
		locker := jobs.NewRedisLocker(jobs.RedisLockerConfig{
			Client: client,
			Prefix: keys.Namespace() + ":lock:",
		})
		schedOpts = append(schedOpts, jobs.WithLocker(locker), jobs.WithWorkerID(locker.OwnerID()))
	}
	sched := jobs.NewScheduler(logger.Named("jobs"), schedOpts...)

	sweeper := &Sweeper{index: index, scheduler: sched}
	err = sched.Add(&jobs.ScheduledJob{
		Name:     SweepJobName,
		Interval: cfg.Sweep.Interval,
		Aligned:  true,
		Handler:  sweeper.run,
	})
	if err != nil {
		return nil, fmt.Errorf("schedule sweep: %w", err)
	}

	return &Store{
		Backend:   backend,
		Repo:      repo,
		Index:     index,
		Sessions:  manager,
		Scheduler: sched,
		Sweeper:   sweeper,
		Metrics:   m,
	}, nil
}

// Sweeper runs the expiration sweep through the scheduler, so on-demand
// sweeps take the same lock as scheduled ones.
type Sweeper struct {
	index     *session.ExpirationIndex
	scheduler *jobs.Scheduler

	mu   sync.Mutex
	last session.SweepResult
}

func (s *Sweeper) run(ctx context.Context) error {
	res, err := s.index.Sweep(ctx)
	s.mu.Lock()
	s.last = res
	s.mu.Unlock()
	return err
}

// SweepNow runs one sweep and returns its result. It returns an error
// satisfying jobs.IsSkipped when another instance holds the sweep lock.
func (s *Sweeper) SweepNow() (session.SweepResult, error) {
	if err := s.scheduler.RunNow(SweepJobName); err != nil {
		if jobs.IsSkipped(err) {
			return session.SweepResult{}, err
		}
		return s.Last(), err
	}
	return s.Last(), nil
}

// Last returns the result of the most recent sweep.
func (s *Sweeper) Last() session.SweepResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}
