package tasks

import (
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"cryptopulse/internal/logger"
)

// Scheduler turns the catalog's cron entries into queued tasks. It holds no
// domain logic; workers do the actual work.
type Scheduler struct {
	s *asynq.Scheduler
}

// SchedulerOptions configure the scheduler process.
type SchedulerOptions struct {
	RedisURL string
	// Location is the timezone cron expressions are evaluated in. Briefing
	// slots are local times of day, so this must be the configured app
	// timezone, not UTC.
	Location *time.Location
}

// NewScheduler registers every catalog entry. Each enqueued task carries its
// catalog retry and timeout options.
func NewScheduler(opts SchedulerOptions) (*Scheduler, error) {
	if opts.RedisURL == "" {
		return nil, errors.New("scheduler requires a redis broker, set REDIS_URL")
	}
	connOpt, err := asynq.ParseRedisURI(opts.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}

	s := asynq.NewScheduler(connOpt, &asynq.SchedulerOpts{
		Location: loc,
		Logger:   asynqLogger{},
		PostEnqueueFunc: func(info *asynq.TaskInfo, err error) {
			if errors.Is(err, asynq.ErrDuplicateTask) {
				logger.Debug("scheduled task still in flight, skipped", "task", info.Type)
				return
			}
			if err != nil {
				logger.Error("failed to enqueue scheduled task", err)
				return
			}
			logger.Debug("scheduled task enqueued", "task", info.Type, "id", info.ID)
		},
	})

	for _, spec := range Catalog() {
		_, err := s.Register(spec.Cron, asynq.NewTask(spec.Name, nil), scheduleOptions(spec)...)
		if err != nil {
			return nil, fmt.Errorf("failed to register task %s: %w", spec.Name, err)
		}
	}

	logger.Info("scheduler configured", "tasks", len(Catalog()), "timezone", loc.String())
	return &Scheduler{s: s}, nil
}

// scheduleOptions builds the enqueue options for one catalog row. Uniqueness
// spans the task's timeout: if the previous run is still pending or active
// when the next cron tick fires, the tick is dropped instead of stacking.
func scheduleOptions(spec Spec) []asynq.Option {
	return []asynq.Option{
		asynq.MaxRetry(spec.MaxRetry),
		asynq.Timeout(spec.Timeout),
		asynq.Unique(spec.Timeout),
	}
}

// Run blocks until Shutdown.
func (s *Scheduler) Run() error {
	return s.s.Run()
}

// Shutdown stops the scheduler.
func (s *Scheduler) Shutdown() {
	s.s.Shutdown()
}
