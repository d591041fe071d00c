package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dshanske/wordpress-webmention/internal/config"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// minDelay keeps one-shot tasks in the future when scheduled with no delay
const minDelay = time.Second

// Sweeper runs every pending delivery
type Sweeper interface {
	RunPending(ctx context.Context) (int, error)
}

// Service handles scheduling of webmention sweeps
type Service struct {
	config *config.Config
	cron   *cron.Cron
}

// NewService creates a new scheduler service
func NewService(cfg *config.Config) *Service {
	return &Service{
		config: cfg,
		cron:   cron.New(cron.WithSeconds()),
	}
}

// Start registers the periodic sweep and starts the scheduler
func (s *Service) Start(sweeper Sweeper) error {
	_, err := s.cron.AddFunc(s.config.SweepSchedule, func() {
		logrus.Debug("Starting scheduled webmention sweep")
		processed, err := sweeper.RunPending(context.Background())
		if err != nil {
			logrus.Errorf("Scheduled webmention sweep failed: %v", err)
			return
		}
		if processed > 0 {
			logrus.Infof("Scheduled sweep sent webmentions for %d documents", processed)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.config.SweepSchedule, err)
	}

	s.cron.Start()
	logrus.Infof("Scheduler started with sweep schedule %s", s.config.SweepSchedule)
	return nil
}

// ScheduleAfter runs task once after delay
func (s *Service) ScheduleAfter(delay time.Duration, task func()) {
	if delay < minDelay {
		delay = minDelay
	}

	var (
		mu sync.Mutex
		id cron.EntryID
	)
	mu.Lock()
	defer mu.Unlock()

	id = s.cron.Schedule(once{at: time.Now().Add(delay)}, cron.FuncJob(func() {
		mu.Lock()
		entry := id
		mu.Unlock()

		s.cron.Remove(entry)
		task()
	}))
}

// Pending returns the number of registered entries, including the sweep
func (s *Service) Pending() int {
	return len(s.cron.Entries())
}

// Stop stops the scheduler and waits for running jobs
func (s *Service) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
		logrus.Info("Scheduler stopped")
	}
}

// once is a cron schedule that fires a single time
type once struct {
	at time.Time
}

func (o once) Next(t time.Time) time.Time {
	if t.Before(o.at) {
		return o.at
	}
	return time.Time{}
}
