package scheduler

import (
	"context"

	"github.com/robfig/cron/v3"

	"gemini-chatter/internal/logger"
)

// DefaultSpec runs the export at the top of every hour.
const DefaultSpec = "0 * * * *"

// Scheduler runs a job on a cron schedule until stopped.
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	job    func(ctx context.Context) error
}

func New() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Scheduler) SetJob(f func(ctx context.Context) error) {
	s.job = f
}

// Start registers the job under spec (standard five-field cron syntax) and
// starts the scheduler. An empty spec means DefaultSpec.
func (s *Scheduler) Start(spec string) error {
	if s.job == nil {
		logger.Warnf("scheduler job not set, nothing will run")
		return nil
	}
	if spec == "" {
		spec = DefaultSpec
	}
	_, err := s.cron.AddFunc(spec, func() {
		if err := s.job(s.ctx); err != nil {
			logger.Errorf("scheduled export failed: %v", err)
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	logger.Infof("scheduler started with %q", spec)
	return nil
}

// Stop waits for a running job to finish and cancels its context.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	if s.cancel != nil {
		s.cancel()
	}
	logger.Info("scheduler stopped")
}

func (s *Scheduler) IsRunning() bool {
	return s.cron != nil && len(s.cron.Entries()) > 0
}
