package housekeeping

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/rolesync/pkg/observability"
	"github.com/robfig/cron/v3"
)

// DefaultSweepSchedule runs the expired entry sweep once a minute
const DefaultSweepSchedule = "@every 1m"

// Sweeper removes expired entries and reports how many it removed.
// *rolecache.Service implements it.
type Sweeper interface {
	EvictExpired() int
}

// Scheduler runs periodic maintenance jobs
type Scheduler struct {
	cron   *cron.Cron
	logger *observability.Logger
}

// NewScheduler creates a stopped scheduler. A nil logger discards output.
func NewScheduler(logger *observability.Logger) *Scheduler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Scheduler{
		// an overrunning sweep is skipped rather than stacked
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger: logger,
	}
}

// AddSweep schedules sweeper.EvictExpired. An empty spec means
// DefaultSweepSchedule.
func (s *Scheduler) AddSweep(spec string, sweeper Sweeper) (cron.EntryID, error) {
	if spec == "" {
		spec = DefaultSweepSchedule
	}

	id, err := s.cron.AddFunc(spec, func() {
		defer observability.RecoverPanic(s.logger, "role cache sweep")

		started := time.Now()
		removed := sweeper.EvictExpired()
		s.logger.WithFields(map[string]interface{}{
			"removed":     removed,
			"duration_ms": time.Since(started).Milliseconds(),
		}).Debug("role cache sweep finished")
	})
	if err != nil {
		return 0, fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}

	s.logger.WithField("schedule", spec).Info("role cache sweep scheduled")
	return id, nil
}

// Run executes the job with the given id immediately, outside its schedule
func (s *Scheduler) Run(id cron.EntryID) bool {
	entry := s.cron.Entry(id)
	if !entry.Valid() {
		return false
	}
	entry.WrappedJob.Run()
	return true
}

// Start begins running scheduled jobs in the background
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for running jobs until ctx ends
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("housekeeping jobs still running: %w", ctx.Err())
	}
}
