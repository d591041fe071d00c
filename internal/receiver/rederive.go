package receiver

import (
	"context"
	"errors"
	"fmt"
	"html"

	"github.com/sirupsen/logrus"
)

// ErrNoArchive is returned by Rederive when no source archive is configured
var ErrNoArchive = errors.New("source archive is not configured")

// Rederive rebuilds the title and content of a stored mention from its
// archived source with the current hooks, without fetching the source
// again. Approval state, parent and cross-post link are left untouched.
func (r *Receiver) Rederive(ctx context.Context, mentionID string) (*Result, error) {
	if r.archiver == nil {
		return nil, ErrNoArchive
	}

	m, err := r.mentions.GetMention(ctx, mentionID)
	if err != nil {
		return nil, err
	}
	doc, err := r.documents.GetDocument(ctx, m.TargetDocumentID)
	if err != nil {
		return nil, err
	}
	raw, err := r.archiver.LoadSource(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("failed to load archived source of mention %s: %w", mentionID, err)
	}

	src := r.newSource(html.UnescapeString(m.SourceURL), doc.URL, doc, raw)
	m.Title = r.deriveTitle(src)
	m.BodyHTML = r.policy.Sanitize(r.deriveContent(src))
	m.RawBody = raw

	if err := r.mentions.UpdateMention(ctx, m); err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{"mention": m.ID, "document": doc.ID}).Info("Re-derived mention from archived source")

	return &Result{
		Mention:   m,
		Permalink: r.permalink(doc, m),
		Updated:   true,
	}, nil
}
