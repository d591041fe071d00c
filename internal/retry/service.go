// Package retry tracks failed deliveries per document and re-runs them on a
// linear backoff until the retry cap is reached.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/dshanske/wordpress-webmention/internal/config"
	"github.com/dshanske/wordpress-webmention/internal/models"
	"github.com/dshanske/wordpress-webmention/internal/storage"
	"github.com/sirupsen/logrus"
)

// TaskScheduler runs a task once after a delay
type TaskScheduler interface {
	ScheduleAfter(delay time.Duration, task func())
}

// DocumentSender sends every webmention of a document
type DocumentSender interface {
	SendAllForDocument(ctx context.Context, documentID string) ([]models.SendOutcome, error)
}

// Sweeper runs every pending delivery
type Sweeper interface {
	RunPending(ctx context.Context) (int, error)
}

// ExhaustedFunc is called when a document ran out of retries
type ExhaustedFunc func(ctx context.Context, documentID string, tries int)

// Service schedules and runs pending deliveries
type Service struct {
	config      *config.Config
	attempts    storage.AttemptStore
	scheduler   TaskScheduler
	sender      DocumentSender
	onExhausted ExhaustedFunc
	sweeper     Sweeper
	now         func() time.Time
}

// NewService creates a new retry service
func NewService(cfg *config.Config, attempts storage.AttemptStore, scheduler TaskScheduler) *Service {
	return &Service{
		config:    cfg,
		attempts:  attempts,
		scheduler: scheduler,
		now:       time.Now,
	}
}

// SetSender sets the sender used by pending runs
func (s *Service) SetSender(sender DocumentSender) {
	s.sender = sender
}

// SetSweeper sets what scheduled sweeps run, typically this service wrapped
// by instrumentation. Without one, scheduled sweeps call RunPending directly.
func (s *Service) SetSweeper(sweeper Sweeper) {
	s.sweeper = sweeper
}

// SetExhaustedHook registers a callback for documents that gave up. Without
// one, exhaustion is only logged at debug level.
func (s *Service) SetExhaustedHook(fn ExhaustedFunc) {
	s.onExhausted = fn
}

// Reschedule records another failed run for documentID. While the retry cap
// is not exceeded the document is flagged pending and a sweep is scheduled
// after tries times the base delay. It returns nil once retries are exhausted.
func (s *Service) Reschedule(ctx context.Context, documentID string) (*models.DeliveryAttempt, error) {
	tries, err := s.attempts.IncrementTryCount(ctx, documentID)
	if err != nil {
		return nil, err
	}

	log := logrus.WithFields(logrus.Fields{"document": documentID, "tries": tries})

	if tries > s.config.MaxRetries {
		if err := s.attempts.ClearTryCount(ctx, documentID); err != nil {
			return nil, err
		}
		log.Debug("Giving up on webmentions for document")
		if s.onExhausted != nil {
			s.onExhausted(ctx, documentID, tries-1)
		}
		return nil, nil
	}

	if err := s.attempts.MarkPending(ctx, documentID); err != nil {
		return nil, err
	}

	delay := time.Duration(tries) * s.config.RetryBaseDelay
	s.scheduler.ScheduleAfter(delay, s.sweep)
	log.Infof("Rescheduled webmentions in %v", delay)

	return &models.DeliveryAttempt{
		DocumentID: documentID,
		TryCount:   tries,
		NextRunAt:  s.now().Add(delay),
	}, nil
}

// MarkPublished flags a freshly published document for sending and
// schedules an immediate sweep. It reports whether the document was flagged.
func (s *Service) MarkPublished(ctx context.Context, documentID string) (bool, error) {
	if !s.config.SendOnPublish {
		return false, nil
	}
	if err := s.attempts.MarkPending(ctx, documentID); err != nil {
		return false, err
	}
	s.scheduler.ScheduleAfter(0, s.sweep)
	return true, nil
}

// RunPending sends the webmentions of every pending document. The pending
// flag is cleared before sending so a failure in this run can set it again.
func (s *Service) RunPending(ctx context.Context) (int, error) {
	if s.sender == nil {
		return 0, fmt.Errorf("no sender configured")
	}

	ids, err := s.attempts.ListPending(ctx)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, id := range ids {
		if err := s.attempts.ClearPending(ctx, id); err != nil {
			logrus.WithField("document", id).Errorf("Failed to clear pending flag: %v", err)
			continue
		}
		if _, err := s.sender.SendAllForDocument(ctx, id); err != nil {
			logrus.WithField("document", id).Errorf("Failed to send webmentions: %v", err)
			continue
		}
		processed++
	}

	return processed, nil
}

func (s *Service) sweep() {
	var sweeper Sweeper = s
	if s.sweeper != nil {
		sweeper = s.sweeper
	}
	if _, err := sweeper.RunPending(context.Background()); err != nil {
		logrus.Errorf("Pending webmentions run failed: %v", err)
	}
}
