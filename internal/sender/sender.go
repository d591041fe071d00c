// Package sender notifies the targets linked from a published document.
package sender

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/dshanske/wordpress-webmention/internal/config"
	"github.com/dshanske/wordpress-webmention/internal/fetch"
	"github.com/dshanske/wordpress-webmention/internal/models"
	"github.com/dshanske/wordpress-webmention/internal/storage"
	"github.com/dshanske/wordpress-webmention/internal/urlutil"
	"github.com/sirupsen/logrus"
)

var linkRe = regexp.MustCompile(`(?i)<a[^>]+href=.(https?://[^'"]+)`)

// EndpointDiscoverer resolves the webmention endpoint of a target
type EndpointDiscoverer interface {
	Discover(ctx context.Context, targetURL string) models.DiscoveryResult
}

// Rescheduler schedules another delivery run for a document
type Rescheduler interface {
	Reschedule(ctx context.Context, documentID string) (*models.DeliveryAttempt, error)
}

// Hooks customize sending. Nil fields keep the default behaviour.
type Hooks struct {
	// EndpointOverride may replace the discovered endpoint; "" skips the target
	EndpointOverride func(ctx context.Context, endpoint, target string) string
	// LinkFilter selects which extracted links are notified
	LinkFilter func(doc *models.Document, links []string) []string
	OnSent     func(ctx context.Context, documentID string, outcome models.SendOutcome)
}

// Sender dispatches outbound webmentions
type Sender struct {
	config      *config.Config
	client      fetch.Client
	discoverer  EndpointDiscoverer
	documents   storage.DocumentStore
	attempts    storage.AttemptStore
	rescheduler Rescheduler
	hooks       Hooks
}

// NewSender creates a sender
func NewSender(cfg *config.Config, client fetch.Client, discoverer EndpointDiscoverer, documents storage.DocumentStore, attempts storage.AttemptStore) *Sender {
	return &Sender{
		config:     cfg,
		client:     client,
		discoverer: discoverer,
		documents:  documents,
		attempts:   attempts,
	}
}

// SetRescheduler sets where server failures are reported for retry
func (s *Sender) SetRescheduler(r Rescheduler) {
	s.rescheduler = r
}

// SetHooks replaces the sending hooks
func (s *Sender) SetHooks(hooks Hooks) {
	s.hooks = hooks
}

// SendOne notifies target that source links to it. When documentID is set,
// a successful send is remembered for the document and a server error
// schedules a retry for it.
func (s *Sender) SendOne(ctx context.Context, source, target, documentID string) models.SendOutcome {
	outcome := s.send(ctx, source, target, documentID)
	if outcome.Status == models.SendRetry && documentID != "" {
		s.reschedule(ctx, documentID)
	}
	return outcome
}

// SendAllForDocument notifies every target linked from the document's
// content. Each link is handled independently; every server error counts as
// one retry of the document, and a run without server errors resets the
// retry counter.
func (s *Sender) SendAllForDocument(ctx context.Context, documentID string) ([]models.SendOutcome, error) {
	doc, err := s.documents.GetDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load document %s: %w", documentID, err)
	}

	pung, err := s.attempts.GetPung(ctx, documentID)
	if err != nil {
		return nil, err
	}
	notified := make(map[string]bool, len(pung))
	for _, target := range pung {
		notified[target] = true
	}

	var targets []string
	for _, link := range ExtractLinks(doc.Content) {
		if !notified[link] {
			targets = append(targets, link)
		}
	}
	if s.hooks.LinkFilter != nil {
		targets = s.hooks.LinkFilter(doc, targets)
	}

	log := logrus.WithFields(logrus.Fields{"document": documentID, "source": doc.URL})
	log.Infof("Sending webmentions to %d targets", len(targets))

	outcomes := make([]models.SendOutcome, 0, len(targets))
	retries := 0
	for _, target := range targets {
		outcome := s.send(ctx, doc.URL, target, documentID)
		if outcome.Status == models.SendRetry {
			retries++
			s.reschedule(ctx, documentID)
		}
		outcomes = append(outcomes, outcome)
	}

	if retries > 0 {
		return outcomes, nil
	}
	if err := s.attempts.ClearTryCount(ctx, documentID); err != nil {
		log.Warnf("Failed to clear retry counter: %v", err)
	}

	return outcomes, nil
}

func (s *Sender) send(ctx context.Context, source, target, documentID string) models.SendOutcome {
	outcome := models.SendOutcome{Source: source, Target: target}
	log := logrus.WithFields(logrus.Fields{"source": source, "target": target})

	defer func() {
		if s.hooks.OnSent != nil {
			s.hooks.OnSent(ctx, documentID, outcome)
		}
	}()

	if s.config.DisableSelfPingsSameURL && source == target {
		outcome.Status, outcome.Reason = models.SendSkipped, "same url"
		return outcome
	}
	if s.config.DisableSelfPingsSameDomain && urlutil.Host(source) == urlutil.Host(target) {
		outcome.Status, outcome.Reason = models.SendSkipped, "same domain"
		return outcome
	}

	endpoint := s.discoverer.Discover(ctx, target).Endpoint
	if s.hooks.EndpointOverride != nil {
		endpoint = s.hooks.EndpointOverride(ctx, endpoint, target)
	}
	if endpoint == "" {
		outcome.Status, outcome.Reason = models.SendSkipped, "no endpoint"
		return outcome
	}
	outcome.Endpoint = endpoint

	resp, err := s.client.PostForm(ctx, endpoint, map[string]string{
		"source": source,
		"target": target,
	})
	if err != nil {
		log.Warnf("Failed to send webmention: %v", err)
		outcome.Status, outcome.Reason, outcome.Err = models.SendFailed, "transport error", err
		return outcome
	}
	outcome.StatusCode = resp.StatusCode

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		log.Warnf("Endpoint %s answered %d, will retry", endpoint, resp.StatusCode)
		outcome.Status, outcome.Reason = models.SendRetry, "server error"
	case resp.StatusCode < http.StatusBadRequest:
		outcome.Status = models.SendSent
		if documentID != "" {
			if err := s.attempts.AddPing(ctx, documentID, target); err != nil {
				log.Warnf("Failed to record notified target: %v", err)
			}
		}
		log.Infof("Sent webmention via %s", endpoint)
	default:
		log.Debugf("Endpoint %s rejected webmention with %d", endpoint, resp.StatusCode)
		outcome.Status, outcome.Reason = models.SendFailed, strings.TrimSpace(resp.Body)
	}

	return outcome
}

func (s *Sender) reschedule(ctx context.Context, documentID string) {
	if s.rescheduler == nil {
		return
	}
	if _, err := s.rescheduler.Reschedule(ctx, documentID); err != nil {
		logrus.WithField("document", documentID).Errorf("Failed to reschedule webmentions: %v", err)
	}
}

// ExtractLinks returns the distinct absolute http(s) hrefs of <a> elements
// in content, in document order
func ExtractLinks(content string) []string {
	seen := make(map[string]bool)
	var links []string
	for _, match := range linkRe.FindAllStringSubmatch(content, -1) {
		link := match[1]
		if !seen[link] {
			seen[link] = true
			links = append(links, link)
		}
	}
	return links
}
