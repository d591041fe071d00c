// Package discovery locates the webmention endpoint advertised by a target URL.
package discovery

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/dshanske/wordpress-webmention/internal/fetch"
	"github.com/dshanske/wordpress-webmention/internal/models"
	"github.com/dshanske/wordpress-webmention/internal/urlutil"
	"github.com/sirupsen/logrus"
)

var (
	// linkValueRe matches one "<uri>; params" entry of a Link header
	linkValueRe = regexp.MustCompile(`<([^>]*)>([^<]*)`)
	relParamRe  = regexp.MustCompile(`(?i);\s*rel\s*=\s*(?:"([^"]*)"|'([^']*)'|([^\s;,]+))`)
	relTokenRe  = regexp.MustCompile(`(?i)^(?:(?:http://)?webmention\.org/?|webmention/?)$`)
	binaryRe    = regexp.MustCompile(`(?i)(image|audio|video|model)/`)
)

// Discoverer finds webmention endpoints using the Link header first and the
// document's HTML second
type Discoverer struct {
	client       fetch.Client
	mediaBaseURL string
}

// NewDiscoverer creates a discoverer. Targets starting with mediaBaseURL are
// never queried.
func NewDiscoverer(client fetch.Client, mediaBaseURL string) *Discoverer {
	return &Discoverer{
		client:       client,
		mediaBaseURL: mediaBaseURL,
	}
}

// Discover returns the endpoint for targetURL. Every failure, including
// transport errors, results in an empty DiscoveryResult.
func (d *Discoverer) Discover(ctx context.Context, targetURL string) models.DiscoveryResult {
	log := logrus.WithField("target", targetURL)

	parsed, err := url.Parse(targetURL)
	if err != nil || parsed.Host == "" {
		log.Debug("Skipping discovery for URL without host")
		return models.DiscoveryResult{}
	}

	if d.mediaBaseURL != "" && strings.HasPrefix(targetURL, d.mediaBaseURL) {
		log.Debug("Skipping discovery for local media")
		return models.DiscoveryResult{}
	}

	head, err := d.client.Head(ctx, targetURL)
	if err != nil {
		log.Debugf("HEAD request failed: %v", err)
		return models.DiscoveryResult{}
	}

	if endpoint, ok := FromLinkHeaders(head.Header.Values("Link")); ok {
		return models.DiscoveryResult{Endpoint: urlutil.Absolutize(targetURL, endpoint), Via: "header"}
	}

	// not an (x)html, sgml, or xml page, no use going further
	if binaryRe.MatchString(head.Header.Get("Content-Type")) {
		log.Debug("Target is binary media, not fetching body")
		return models.DiscoveryResult{}
	}

	page, err := d.client.Get(ctx, targetURL)
	if err != nil {
		log.Debugf("GET request failed: %v", err)
		return models.DiscoveryResult{}
	}

	href, via, ok := FromHTML(page.Body)
	if !ok {
		return models.DiscoveryResult{}
	}

	return models.DiscoveryResult{Endpoint: urlutil.Absolutize(targetURL, href), Via: via}
}

// FromLinkHeaders returns the first URI whose relation is webmention
func FromLinkHeaders(values []string) (string, bool) {
	for _, value := range values {
		for _, link := range linkValueRe.FindAllStringSubmatch(value, -1) {
			params := relParamRe.FindStringSubmatch(link[2])
			if params == nil {
				continue
			}
			if isWebmentionRel(params[1] + params[2] + params[3]) {
				return strings.TrimSpace(link[1]), true
			}
		}
	}
	return "", false
}

// FromHTML searches head <link> elements, then body <a> elements, for a
// webmention relation. Parsing is lenient; unparseable input finds nothing.
func FromHTML(body string) (href string, via string, found bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return "", "", false
	}

	if href, ok := firstMatch(doc.Find("head link[rel]")); ok {
		return href, "link", true
	}

	if href, ok := firstMatch(doc.Find("body a[rel]")); ok {
		return href, "anchor", true
	}

	return "", "", false
}

func firstMatch(selection *goquery.Selection) (string, bool) {
	var (
		href  string
		found bool
	)
	selection.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		rel, _ := s.Attr("rel")
		if !isWebmentionRel(rel) {
			return true
		}
		value, ok := s.Attr("href")
		if !ok {
			return true
		}
		href, found = value, true
		return false
	})
	return href, found
}

// isWebmentionRel reports whether a space separated rel value carries one of
// the webmention relation tokens
func isWebmentionRel(rel string) bool {
	for _, token := range strings.Fields(rel) {
		if relTokenRe.MatchString(token) {
			return true
		}
	}
	return false
}
