// Package matcher finds an already stored mention that a new webmention
// should update instead of duplicating.
package matcher

import (
	"context"
	"fmt"
	"html"

	"github.com/dshanske/wordpress-webmention/internal/models"
)

// MentionFinder is the lookup contract the host mention store provides.
// Both methods return nil, nil when nothing matches.
type MentionFinder interface {
	FindBySourceURL(ctx context.Context, documentID, sourceURL string) (*models.Mention, error)
	FindByCrossPostLink(ctx context.Context, documentID, link string) (*models.Mention, error)
}

// Matcher implements duplicate detection for incoming mentions
type Matcher struct {
	store MentionFinder
}

// New creates a matcher backed by store
func New(store MentionFinder) *Matcher {
	return &Matcher{store: store}
}

// EncodeURL returns the entity-encoded form used when storing and comparing source URLs
func EncodeURL(raw string) string {
	return html.EscapeString(raw)
}

// FindDuplicate looks up a mention of documentID by its source URL, falling
// back to the cross-posting link used by relays that cannot set the source.
// It returns nil when no duplicate exists.
func (m *Matcher) FindDuplicate(ctx context.Context, documentID, authorURL string) (*models.Mention, error) {
	encoded := EncodeURL(authorURL)

	existing, err := m.store.FindBySourceURL(ctx, documentID, encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to look up mention by source: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	existing, err = m.store.FindByCrossPostLink(ctx, documentID, encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to look up mention by crossposting link: %w", err)
	}

	return existing, nil
}
