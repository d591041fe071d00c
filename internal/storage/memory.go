package storage

import (
	"context"
	"fmt"
	"html"
	"sort"
	"sync"
	"time"

	"github.com/dshanske/wordpress-webmention/internal/models"
	"github.com/dshanske/wordpress-webmention/internal/urlutil"
	"github.com/google/uuid"
)

// MemoryStore is an in-process implementation of the document, mention and
// attempt stores, suitable for development and tests
type MemoryStore struct {
	mu         sync.RWMutex
	normalizer *urlutil.Normalizer
	documents  map[string]models.Document
	mentions   map[string]models.Mention
	sources    map[string]string // document id + source key -> mention id
	tries      map[string]int
	pending    map[string]bool
	pung       map[string][]string
}

// Ensure MemoryStore implements the store interfaces
var (
	_ DocumentStore = (*MemoryStore)(nil)
	_ MentionStore  = (*MemoryStore)(nil)
	_ AttemptStore  = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty store. siteURL decides how document and
// source URLs are normalized for lookups.
func NewMemoryStore(siteURL string) *MemoryStore {
	return &MemoryStore{
		normalizer: urlutil.NewNormalizer(siteURL),
		documents:  make(map[string]models.Document),
		mentions:   make(map[string]models.Mention),
		sources:    make(map[string]string),
		tries:      make(map[string]int),
		pending:    make(map[string]bool),
		pung:       make(map[string][]string),
	}
}

func (s *MemoryStore) ResolveURL(ctx context.Context, url string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := s.normalizer.Key(url)
	match := ""
	for id, doc := range s.documents {
		if s.normalizer.Key(doc.URL) == want && (match == "" || id < match) {
			match = id
		}
	}
	return match, nil
}

func (s *MemoryStore) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.documents[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return &doc, nil
}

func (s *MemoryStore) SaveDocument(ctx context.Context, doc *models.Document) error {
	if doc.ID == "" {
		return fmt.Errorf("document id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.documents[doc.ID] = *doc
	return nil
}

func (s *MemoryStore) FindBySourceURL(ctx context.Context, documentID, sourceURL string) (*models.Mention, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.mentions {
		if m.TargetDocumentID == documentID && m.SourceURL == sourceURL {
			found := m
			return &found, nil
		}
	}
	return nil, nil
}

// FindByNormalizedSource finds the mention whose source has the same
// normalized key as sourceURL, the key InsertMention enforces uniqueness on
func (s *MemoryStore) FindByNormalizedSource(ctx context.Context, documentID, sourceURL string) (*models.Mention, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.sources[s.sourceKey(&models.Mention{TargetDocumentID: documentID, SourceURL: sourceURL})]
	if !ok {
		return nil, nil
	}
	found := s.mentions[id]
	return &found, nil
}

func (s *MemoryStore) FindByCrossPostLink(ctx context.Context, documentID, link string) (*models.Mention, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.mentions {
		if m.TargetDocumentID == documentID && m.CrossPostLink != "" && m.CrossPostLink == link {
			found := m
			return &found, nil
		}
	}
	return nil, nil
}

// InsertMention stores a new mention and assigns its ID. A second mention for
// the same document and normalized source fails with ErrDuplicate.
func (s *MemoryStore) InsertMention(ctx context.Context, mention *models.Mention) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := s.sourceKey(mention)
	if _, exists := s.sources[key]; exists {
		return fmt.Errorf("mention for %s on document %s: %w", mention.SourceURL, mention.TargetDocumentID, ErrDuplicate)
	}

	now := time.Now().UTC()
	mention.ID = uuid.NewString()
	mention.CreatedAt = now
	mention.UpdatedAt = now

	s.mentions[mention.ID] = *mention
	s.sources[key] = mention.ID
	return nil
}

func (s *MemoryStore) UpdateMention(ctx context.Context, mention *models.Mention) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.mentions[mention.ID]
	if !ok {
		return fmt.Errorf("mention %s: %w", mention.ID, ErrNotFound)
	}

	delete(s.sources, s.sourceKey(&existing))
	mention.CreatedAt = existing.CreatedAt
	mention.UpdatedAt = time.Now().UTC()

	s.mentions[mention.ID] = *mention
	s.sources[s.sourceKey(mention)] = mention.ID
	return nil
}

func (s *MemoryStore) GetMention(ctx context.Context, id string) (*models.Mention, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.mentions[id]
	if !ok {
		return nil, fmt.Errorf("mention %s: %w", id, ErrNotFound)
	}
	return &m, nil
}

func (s *MemoryStore) ListMentions(ctx context.Context, documentID string) ([]models.Mention, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mentions := []models.Mention{}
	for _, m := range s.mentions {
		if m.TargetDocumentID == documentID {
			mentions = append(mentions, m)
		}
	}
	sort.Slice(mentions, func(i, j int) bool {
		return mentions[i].CreatedAt.Before(mentions[j].CreatedAt)
	})
	return mentions, nil
}

func (s *MemoryStore) IncrementTryCount(ctx context.Context, documentID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tries[documentID]++
	return s.tries[documentID], nil
}

func (s *MemoryStore) GetTryCount(ctx context.Context, documentID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.tries[documentID], nil
}

func (s *MemoryStore) ClearTryCount(ctx context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tries, documentID)
	return nil
}

func (s *MemoryStore) MarkPending(ctx context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending[documentID] = true
	return nil
}

func (s *MemoryStore) ClearPending(ctx context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.pending, documentID)
	return nil
}

func (s *MemoryStore) ListPending(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.pending))
	for id := range s.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) AddPing(ctx context.Context, documentID, target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.pung[documentID] {
		if existing == target {
			return nil
		}
	}
	s.pung[documentID] = append(s.pung[documentID], target)
	return nil
}

func (s *MemoryStore) GetPung(ctx context.Context, documentID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]string(nil), s.pung[documentID]...), nil
}

func (s *MemoryStore) sourceKey(m *models.Mention) string {
	return m.TargetDocumentID + "\x00" + s.normalizer.Key(html.UnescapeString(m.SourceURL))
}
