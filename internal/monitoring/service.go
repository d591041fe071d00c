package monitoring

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/dshanske/wordpress-webmention/internal/config"
	"github.com/dshanske/wordpress-webmention/internal/models"
	"github.com/dshanske/wordpress-webmention/internal/notifications"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Sweeper runs every pending delivery
type Sweeper interface {
	RunPending(ctx context.Context) (int, error)
}

// Service observes the engine: it counts received and sent webmentions and
// forwards noteworthy events to the notification service
type Service struct {
	config              *config.Config
	notificationService notifications.NotificationInterface
	prom                *PromMetrics
	metrics             *Metrics
	mu                  sync.RWMutex
}

// Metrics holds monitoring metrics
type Metrics struct {
	MentionsReceived  int            `json:"mentions_received"`
	MentionsUpdated   int            `json:"mentions_updated"`
	Rejections        map[string]int `json:"rejections"`
	SendOutcomes      map[string]int `json:"send_outcomes"`
	RetriesExhausted  int            `json:"retries_exhausted"`
	LastSweep         time.Time      `json:"last_sweep"`
	LastSweepDuration string         `json:"last_sweep_duration"`
	ErrorCount        int            `json:"error_count"`
}

// NewService creates a new monitoring service. Collectors are registered on reg.
func NewService(cfg *config.Config, notificationService notifications.NotificationInterface, reg prometheus.Registerer) *Service {
	return &Service{
		config:              cfg,
		notificationService: notificationService,
		prom:                NewPromMetrics(reg),
		metrics: &Metrics{
			Rejections:   make(map[string]int),
			SendOutcomes: make(map[string]int),
		},
	}
}

// RecordStored counts a stored mention and announces new ones
func (s *Service) RecordStored(ctx context.Context, mention *models.Mention, permalink string, updated bool) {
	s.prom.Received.WithLabelValues("200").Inc()

	s.mu.Lock()
	if updated {
		s.metrics.MentionsUpdated++
	} else {
		s.metrics.MentionsReceived++
	}
	s.mu.Unlock()

	if updated || s.notificationService == nil {
		return
	}
	if err := s.notificationService.NotifyMention(ctx, mention, permalink); err != nil {
		s.recordError()
		logrus.Warnf("Failed to notify about mention %s: %v", mention.ID, err)
	}
}

// RecordRejected counts a refused inbound webmention
func (s *Service) RecordRejected(status int, message string) {
	s.prom.Received.WithLabelValues(strconv.Itoa(status)).Inc()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics.Rejections[message]++
}

// RecordSent counts the outcome of one outbound webmention
func (s *Service) RecordSent(ctx context.Context, documentID string, outcome models.SendOutcome) {
	s.prom.Sent.WithLabelValues(string(outcome.Status)).Inc()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics.SendOutcomes[string(outcome.Status)]++
}

// RecordExhausted counts a document that gave up delivery and, when
// enabled, tells the owner about it
func (s *Service) RecordExhausted(ctx context.Context, documentID string, tries int) {
	s.prom.Exhausted.Inc()

	s.mu.Lock()
	s.metrics.RetriesExhausted++
	s.mu.Unlock()

	if !s.config.NotifyOnExhausted || s.notificationService == nil {
		return
	}
	if err := s.notificationService.NotifyExhausted(ctx, documentID, tries); err != nil {
		s.recordError()
		logrus.Warnf("Failed to notify about exhausted document %s: %v", documentID, err)
	}
}

// RunSweep runs a pending delivery sweep and records its duration
func (s *Service) RunSweep(ctx context.Context, sweeper Sweeper) (int, error) {
	start := time.Now()
	processed, err := sweeper.RunPending(ctx)
	duration := time.Since(start)

	s.prom.SweepDuration.Observe(duration.Seconds())
	s.prom.SweepDocuments.Add(float64(processed))

	s.mu.Lock()
	s.metrics.LastSweep = start
	s.metrics.LastSweepDuration = duration.String()
	if err != nil {
		s.metrics.ErrorCount++
	}
	s.mu.Unlock()

	return processed, err
}

func (s *Service) recordError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics.ErrorCount++
}

// Snapshot returns a copy of the current metrics
func (s *Service) Snapshot() Metrics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := *s.metrics
	snapshot.Rejections = make(map[string]int, len(s.metrics.Rejections))
	for k, v := range s.metrics.Rejections {
		snapshot.Rejections[k] = v
	}
	snapshot.SendOutcomes = make(map[string]int, len(s.metrics.SendOutcomes))
	for k, v := range s.metrics.SendOutcomes {
		snapshot.SendOutcomes[k] = v
	}
	return snapshot
}

// GetMetrics returns current metrics as JSON
func (s *Service) GetMetrics() string {
	snapshot := s.Snapshot()
	data, _ := json.MarshalIndent(snapshot, "", "  ")
	return string(data)
}

// Observe wraps sweeper so every run is recorded
func (s *Service) Observe(sweeper Sweeper) Sweeper {
	return &observedSweeper{service: s, sweeper: sweeper}
}

type observedSweeper struct {
	service *Service
	sweeper Sweeper
}

func (o *observedSweeper) RunPending(ctx context.Context) (int, error) {
	return o.service.RunSweep(ctx, o.sweeper)
}
