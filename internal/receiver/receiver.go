// Package receiver validates inbound webmentions and turns them into stored
// mention records.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/dshanske/wordpress-webmention/internal/config"
	"github.com/dshanske/wordpress-webmention/internal/fetch"
	"github.com/dshanske/wordpress-webmention/internal/matcher"
	"github.com/dshanske/wordpress-webmention/internal/models"
	"github.com/dshanske/wordpress-webmention/internal/storage"
	"github.com/dshanske/wordpress-webmention/internal/urlutil"
	"github.com/microcosm-cc/bluemonday"
	"github.com/sirupsen/logrus"
)

// Messages returned to the submitter
const (
	MsgSourceMissing  = `"source" is missing`
	MsgTargetMissing  = `"target" is missing`
	MsgSourceInvalid  = `"source" is not a valid URL`
	MsgTargetInvalid  = `"target" is not a valid URL`
	MsgTargetNotFound = "Specified target URL not found."
	MsgPingsClosed    = "Pings are disabled for this post"
	MsgSourceNotFound = "Source URL not found."
	MsgNoLinkToTarget = "Source Site Does Not Link to Target."
	MsgHandlerFailed  = "Webmention Handler Failed."
)

// Rejection is returned when an inbound webmention is refused. Status is the
// HTTP status the submitter should receive.
type Rejection struct {
	Status  int
	Message string
	Err     error
}

func (r *Rejection) Error() string {
	if r.Err != nil {
		return fmt.Sprintf("%d %s: %v", r.Status, r.Message, r.Err)
	}
	return fmt.Sprintf("%d %s", r.Status, r.Message)
}

func (r *Rejection) Unwrap() error {
	return r.Err
}

func reject(status int, message string, err error) *Rejection {
	return &Rejection{Status: status, Message: message, Err: err}
}

// Result describes a stored mention
type Result struct {
	Mention   *models.Mention
	Permalink string
	Updated   bool
}

// Source is what derivation hooks get to look at
type Source struct {
	URL       string
	Target    string
	Document  *models.Document
	Raw       string
	Sanitized string
	HTML      *goquery.Document
}

// Hooks customize how a mention is derived from its source. Nil fields use
// the defaults.
type Hooks struct {
	// DocumentID may redirect a resolved target to another document.
	// resolved is "" when no document matched the target.
	DocumentID func(ctx context.Context, target, resolved string) string
	Title      func(src *Source) string
	Content    func(src *Source) string
	// Parent returns the ID of the stored mention this one replies to
	Parent    func(ctx context.Context, src *Source) string
	Permalink func(doc *models.Document, m *models.Mention) string
	// OnStored runs after a mention was inserted or updated
	OnStored func(ctx context.Context, result *Result)
}

// Archiver keeps the raw source of a stored mention
type Archiver interface {
	ArchiveSource(ctx context.Context, m *models.Mention) error
	LoadSource(ctx context.Context, m *models.Mention) (string, error)
}

// Receiver processes inbound webmentions
type Receiver struct {
	config    *config.Config
	client    fetch.Client
	documents storage.DocumentStore
	mentions  storage.MentionStore
	matcher   *matcher.Matcher
	policy    *bluemonday.Policy
	hooks     Hooks
	archiver  Archiver
}

// NewReceiver creates a receiver
func NewReceiver(cfg *config.Config, client fetch.Client, documents storage.DocumentStore, mentions storage.MentionStore) *Receiver {
	return &Receiver{
		config:    cfg,
		client:    client,
		documents: documents,
		mentions:  mentions,
		matcher:   matcher.New(mentions),
		policy:    bluemonday.UGCPolicy(),
	}
}

// SetHooks replaces the derivation hooks
func (r *Receiver) SetHooks(hooks Hooks) {
	r.hooks = hooks
}

// SetArchiver enables archiving of raw sources
func (r *Receiver) SetArchiver(archiver Archiver) {
	r.archiver = archiver
}

// Receive verifies that source links to target and stores the mention.
// Any failure is returned as a *Rejection and leaves storage untouched.
func (r *Receiver) Receive(ctx context.Context, source, target string) (*Result, error) {
	source = strings.TrimSpace(source)
	target = strings.TrimSpace(target)

	if source == "" {
		return nil, reject(http.StatusBadRequest, MsgSourceMissing, nil)
	}
	if target == "" {
		return nil, reject(http.StatusBadRequest, MsgTargetMissing, nil)
	}
	if !isHTTPURL(source) {
		return nil, reject(http.StatusBadRequest, MsgSourceInvalid, nil)
	}
	if !isHTTPURL(target) {
		return nil, reject(http.StatusBadRequest, MsgTargetInvalid, nil)
	}

	log := logrus.WithFields(logrus.Fields{"source": source, "target": target})

	doc, rejection := r.resolveDocument(ctx, target)
	if rejection != nil {
		return nil, rejection
	}

	if !doc.PingsOpen {
		return nil, reject(http.StatusForbidden, MsgPingsClosed, nil)
	}

	resp, err := r.client.Get(ctx, source)
	if err != nil {
		log.Debugf("Failed to fetch source: %v", err)
		return nil, reject(http.StatusBadRequest, MsgSourceNotFound, err)
	}

	if !LinksTo(resp.Body, source, target) {
		return nil, reject(http.StatusBadRequest, MsgNoLinkToTarget, nil)
	}

	src := r.newSource(source, target, doc, resp.Body)

	candidate := &models.Mention{
		TargetDocumentID: doc.ID,
		SourceURL:        matcher.EncodeURL(source),
		Title:            r.deriveTitle(src),
		BodyHTML:         r.policy.Sanitize(r.deriveContent(src)),
		RawBody:          resp.Body,
		Type:             r.config.CommentType,
		ApprovalState:    r.config.DefaultApproval,
	}
	if r.hooks.Parent != nil {
		candidate.ParentMentionID = r.hooks.Parent(ctx, src)
	}

	updated, err := r.store(ctx, candidate, source)
	if err != nil {
		log.Errorf("Failed to store mention: %v", err)
		return nil, reject(http.StatusInternalServerError, MsgHandlerFailed, err)
	}

	log.WithFields(logrus.Fields{"mention": candidate.ID, "updated": updated}).Info("Stored webmention")

	if r.archiver != nil {
		if err := r.archiver.ArchiveSource(ctx, candidate); err != nil {
			log.Warnf("Failed to archive source: %v", err)
		}
	}

	result := &Result{
		Mention:   candidate,
		Permalink: r.permalink(doc, candidate),
		Updated:   updated,
	}
	if r.hooks.OnStored != nil {
		r.hooks.OnStored(ctx, result)
	}
	return result, nil
}

// resolveDocument maps target to a host document, trying http:// before https://
func (r *Receiver) resolveDocument(ctx context.Context, target string) (*models.Document, *Rejection) {
	schemeless := urlutil.StripHTTPScheme(target)

	var id string
	for _, scheme := range []string{"http://", "https://"} {
		resolved, err := r.documents.ResolveURL(ctx, scheme+schemeless)
		if err != nil {
			return nil, reject(http.StatusInternalServerError, MsgHandlerFailed, err)
		}
		if resolved != "" {
			id = resolved
			break
		}
	}

	if r.hooks.DocumentID != nil {
		id = r.hooks.DocumentID(ctx, target, id)
	}
	if id == "" {
		return nil, reject(http.StatusNotFound, MsgTargetNotFound, nil)
	}

	doc, err := r.documents.GetDocument(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, reject(http.StatusNotFound, MsgTargetNotFound, err)
	}
	if err != nil {
		return nil, reject(http.StatusInternalServerError, MsgHandlerFailed, err)
	}
	return doc, nil
}

// store inserts candidate or merges it into the mention it duplicates
func (r *Receiver) store(ctx context.Context, candidate *models.Mention, source string) (bool, error) {
	existing, err := r.matcher.FindDuplicate(ctx, candidate.TargetDocumentID, source)
	if err != nil {
		return false, err
	}

	if existing == nil {
		err = r.mentions.InsertMention(ctx, candidate)
		if !errors.Is(err, storage.ErrDuplicate) {
			return false, err
		}
		// same source under another scheme, www. prefix or trailing slash, or a
		// concurrent receive that inserted first
		existing, err = r.mentions.FindByNormalizedSource(ctx, candidate.TargetDocumentID, candidate.SourceURL)
		if err != nil {
			return false, err
		}
		if existing == nil {
			return false, fmt.Errorf("duplicate mention for %s could not be loaded", source)
		}
	}

	r.merge(candidate, existing)
	if err := r.mentions.UpdateMention(ctx, candidate); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Receiver) merge(candidate, existing *models.Mention) {
	candidate.ID = existing.ID
	candidate.CreatedAt = existing.CreatedAt
	candidate.CrossPostLink = existing.CrossPostLink
	if candidate.ParentMentionID == "" {
		candidate.ParentMentionID = existing.ParentMentionID
	}
	if r.config.PreserveApproval {
		candidate.ApprovalState = existing.ApprovalState
	}
}

func (r *Receiver) permalink(doc *models.Document, m *models.Mention) string {
	if r.hooks.Permalink != nil {
		return r.hooks.Permalink(doc, m)
	}
	return doc.URL + "#comment-" + m.ID
}

func (r *Receiver) newSource(source, target string, doc *models.Document, raw string) *Source {
	src := &Source{
		URL:       source,
		Target:    target,
		Document:  doc,
		Raw:       raw,
		Sanitized: r.policy.Sanitize(raw),
	}
	if parsed, err := goquery.NewDocumentFromReader(strings.NewReader(raw)); err == nil {
		src.HTML = parsed
	}
	return src
}

func (r *Receiver) deriveTitle(src *Source) string {
	if r.hooks.Title != nil {
		return r.hooks.Title(src)
	}
	return DefaultTitle(src)
}

func (r *Receiver) deriveContent(src *Source) string {
	if r.hooks.Content != nil {
		return r.hooks.Content(src)
	}
	return DefaultContent(src)
}

// LinksTo reports whether body references target. The target is compared
// without scheme, leading www., fragment or trailing slash, and relative
// hrefs are resolved against source before comparison.
func LinksTo(body, source, target string) bool {
	needle := urlutil.LinkNeedle(target)
	if needle == "" {
		return false
	}

	if strings.Contains(html.UnescapeString(body), needle) {
		return true
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return false
	}

	found := false
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		if urlutil.LinkNeedle(urlutil.Absolutize(source, href)) == needle {
			found = true
			return false
		}
		return true
	})
	return found
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}
