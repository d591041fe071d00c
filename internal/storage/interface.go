package storage

import (
	"context"
	"errors"

	"github.com/dshanske/wordpress-webmention/internal/models"
)

var (
	// ErrNotFound is returned when a requested record does not exist
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a mention for the same document and source already exists
	ErrDuplicate = errors.New("duplicate mention")
)

// BlobStore keeps opaque blobs by name. Retrieve returns ErrNotFound for
// an unknown name.
type BlobStore interface {
	Store(ctx context.Context, name string, data []byte) error
	Retrieve(ctx context.Context, name string) ([]byte, error)
}

// DocumentStore resolves and loads host documents.
// ResolveURL returns "" and a nil error when no document matches.
type DocumentStore interface {
	ResolveURL(ctx context.Context, url string) (string, error)
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	SaveDocument(ctx context.Context, doc *models.Document) error
}

// MentionStore persists mentions. Find methods return nil, nil when nothing matches.
type MentionStore interface {
	FindBySourceURL(ctx context.Context, documentID, sourceURL string) (*models.Mention, error)
	FindByCrossPostLink(ctx context.Context, documentID, link string) (*models.Mention, error)
	FindByNormalizedSource(ctx context.Context, documentID, sourceURL string) (*models.Mention, error)
	InsertMention(ctx context.Context, mention *models.Mention) error
	UpdateMention(ctx context.Context, mention *models.Mention) error
	GetMention(ctx context.Context, id string) (*models.Mention, error)
	ListMentions(ctx context.Context, documentID string) ([]models.Mention, error)
}

// AttemptStore keeps small per-document delivery state: the retry counter,
// the pending-send flag and the set of already notified targets.
type AttemptStore interface {
	IncrementTryCount(ctx context.Context, documentID string) (int, error)
	GetTryCount(ctx context.Context, documentID string) (int, error)
	ClearTryCount(ctx context.Context, documentID string) error
	MarkPending(ctx context.Context, documentID string) error
	ClearPending(ctx context.Context, documentID string) error
	ListPending(ctx context.Context) ([]string, error)
	AddPing(ctx context.Context, documentID, target string) error
	GetPung(ctx context.Context, documentID string) ([]string, error)
}
