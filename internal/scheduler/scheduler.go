package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"

	"weather-source/internal/services"
	"weather-source/pkg/logging"
)

// Scheduler periodically re-invokes the fetch-and-flatten pipeline. Each
// tick is a fresh, independent invocation; no state is carried between
// runs. Production deployments usually schedule the runner externally and
// leave this off.
type Scheduler struct {
	scheduler *gocron.Scheduler
	pipeline  *services.PipelineService
	interval  time.Duration
	logger    *logging.StructuredLogger
}

// New creates a new Scheduler
func New(pipeline *services.PipelineService, interval time.Duration, logger *logging.StructuredLogger) *Scheduler {
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		pipeline:  pipeline,
		interval:  interval,
		logger:    logger,
	}
}

// Start schedules the periodic invocation and starts the underlying
// scheduler asynchronously.
func (s *Scheduler) Start() error {
	_, err := s.scheduler.Every(s.interval).Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		s.logger.Info(ctx, "[SCHEDULER_TICK] Running scheduled invocation", logging.Fields{
			"interval": s.interval.String(),
		})

		result, err := s.pipeline.Run(ctx)
		if err != nil {
			s.logger.Error(ctx, "[SCHEDULER_RUN_ERROR] Scheduled invocation failed", logging.Fields{}, err)
			return
		}

		s.logger.Info(ctx, "[SCHEDULER_RUN_OK] Scheduled invocation completed", logging.Fields{
			"records_appended": result.RecordsAppended,
			"load_datetime":    result.LoadDatetime,
		})
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler and cancels any future jobs
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
