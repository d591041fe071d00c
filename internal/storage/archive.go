package storage

import (
	"context"
	"fmt"
	"path"

	"github.com/dshanske/wordpress-webmention/internal/models"
)

// SourceArchive keeps the unsanitized source document of each mention in
// blob storage so it can be re-processed later
type SourceArchive struct {
	blobs BlobStore
}

// NewSourceArchive creates an archive on top of a blob store
func NewSourceArchive(blobs BlobStore) *SourceArchive {
	return &SourceArchive{blobs: blobs}
}

// ArchiveKey is the blob name used for a mention's raw source
func ArchiveKey(m *models.Mention) string {
	return path.Join("sources", m.TargetDocumentID, m.ID+".html")
}

// ArchiveSource stores the raw body of m
func (a *SourceArchive) ArchiveSource(ctx context.Context, m *models.Mention) error {
	if m.ID == "" {
		return fmt.Errorf("cannot archive a mention without id")
	}
	return a.blobs.Store(ctx, ArchiveKey(m), []byte(m.RawBody))
}

// LoadSource returns the archived raw body of m, or ErrNotFound
func (a *SourceArchive) LoadSource(ctx context.Context, m *models.Mention) (string, error) {
	data, err := a.blobs.Retrieve(ctx, ArchiveKey(m))
	if err != nil {
		return "", err
	}
	return string(data), nil
}
