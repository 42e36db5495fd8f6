// Package sweeper runs periodic cleanup of expired PIN records and idle rate-limit keys.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs every sweep once a minute.
const DefaultSchedule = "@every 1m"

// Job is one named cleanup function. Run returns how many entries it removed.
type Job struct {
	Name string
	Run  func(ctx context.Context) (int, error)
}

// Observer is notified after every job run.
type Observer func(job string, removed int, err error)

// Sweeper schedules jobs with cron and can also run them on demand.
type Sweeper struct {
	cron     *cron.Cron
	schedule string
	jobs     []Job
	logger   *slog.Logger
	timeout  time.Duration
	observer Observer
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithLogger sets the logger used for job results and the cron recover chain.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTimeout bounds each scheduled run. Zero means no bound.
func WithTimeout(d time.Duration) Option {
	return func(s *Sweeper) { s.timeout = d }
}

// WithObserver registers fn to receive per-job results.
func WithObserver(fn Observer) Option {
	return func(s *Sweeper) { s.observer = fn }
}

// New validates schedule and registers jobs. The scheduler is idle until Start.
func New(schedule string, jobs []Job, opts ...Option) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	for _, job := range jobs {
		if job.Name == "" || job.Run == nil {
			return nil, errors.New("sweeper: job requires a name and a run function")
		}
	}

	s := &Sweeper{
		schedule: schedule,
		jobs:     append([]Job(nil), jobs...),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	cronLogger := cron.PrintfLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelInfo))
	s.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger), cron.Recover(cronLogger)))

	if _, err := s.cron.AddFunc(schedule, s.tick); err != nil {
		return nil, fmt.Errorf("sweeper: invalid schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins scheduled runs in the background.
func (s *Sweeper) Start() {
	s.cron.Start()
	s.logger.Info("sweeper started", slog.String("schedule", s.schedule), slog.Int("jobs", len(s.jobs)))
}

// Stop halts the scheduler. The returned context is done once running jobs finish.
func (s *Sweeper) Stop() context.Context {
	return s.cron.Stop()
}

// RunOnce runs every job synchronously and returns the total removed.
// A failing job does not prevent the others from running.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	var (
		total int
		errs  []error
	)
	for _, job := range s.jobs {
		removed, err := job.Run(ctx)
		total += removed

		if s.observer != nil {
			s.observer(job.Name, removed, err)
		}
		if err != nil {
			s.logger.Error("sweep job failed", slog.String("job", job.Name), slog.Any("error", err))
			errs = append(errs, fmt.Errorf("%s: %w", job.Name, err))
			continue
		}
		if removed > 0 {
			s.logger.Debug("sweep job removed entries", slog.String("job", job.Name), slog.Int("removed", removed))
		}
	}
	return total, errors.Join(errs...)
}

func (s *Sweeper) tick() {
	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	_, _ = s.RunOnce(ctx)
}
