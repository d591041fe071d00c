// Package urlutil normalizes and absolutizes URLs for webmention processing.
package urlutil

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	schemeRe     = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.\-]*:`)
	httpSchemeRe = regexp.MustCompile(`(?i)^https?://`)
	linkPrefixRe = regexp.MustCompile(`(?i)^https?://(www\.)?`)
)

// Normalizer compares URLs against a canonical site URL
type Normalizer struct {
	useWWW bool
}

// NewNormalizer creates a normalizer for the given canonical site URL
func NewNormalizer(siteURL string) *Normalizer {
	return &Normalizer{useWWW: strings.HasPrefix(strings.ToLower(hostPart(stripScheme(siteURL))), "www.")}
}

// Normalize strips scheme, query, fragment and trailing slashes and aligns
// the www. prefix with the canonical site URL. Malformed input still yields
// a best-effort result.
func (n *Normalizer) Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	s = stripScheme(s)
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimRight(s, "/")

	host := hostPart(s)
	rest := s[len(host):]
	host = strings.ToLower(host)

	if n.useWWW {
		if !strings.HasPrefix(host, "www.") && host != "" {
			host = "www." + host
		}
	} else {
		host = strings.TrimPrefix(host, "www.")
	}

	return host + rest
}

// Key is Normalize with the query string kept, so it still tells apart
// resources such as ?p=1 and ?p=2. Stores use it to identify documents and
// mention sources.
func (n *Normalizer) Key(raw string) string {
	s := strings.TrimSpace(raw)
	if i := strings.Index(s, "#"); i >= 0 {
		s = s[:i]
	}
	query := ""
	if i := strings.Index(s, "?"); i >= 0 {
		s, query = s[:i], s[i+1:]
	}

	key := n.Normalize(s)
	if query != "" {
		key += "?" + query
	}
	return key
}

// Equal reports whether two URLs are the same under normalization
func (n *Normalizer) Equal(a, b string) bool {
	return n.Normalize(a) == n.Normalize(b)
}

// NormalizeForComparison normalizes raw relative to the canonical siteURL
func NormalizeForComparison(siteURL, raw string) string {
	return NewNormalizer(siteURL).Normalize(raw)
}

// LinkNeedle returns the form of a target URL that is searched for in a
// source document: fragment, scheme, leading www. and trailing slashes removed.
func LinkNeedle(target string) string {
	s := strings.TrimSpace(target)
	if i := strings.Index(s, "#"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimRight(s, "/")
	return linkPrefixRe.ReplaceAllString(s, "")
}

// StripHTTPScheme removes a leading http:// or https://
func StripHTTPScheme(raw string) string {
	return httpSchemeRe.ReplaceAllString(raw, "")
}

// Host returns the host of raw without port, or "" if it has none
func Host(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// StripWWW removes a single leading www. from a host
func StripWWW(host string) string {
	return strings.TrimPrefix(host, "www.")
}

// Absolutize resolves rel against base. base must be an absolute URL with a
// host; when it is not, only an already absolute rel is returned and any
// other input yields "".
func Absolutize(base, rel string) string {
	rel = strings.TrimSpace(rel)

	b, err := url.Parse(base)
	if err != nil || b.Host == "" {
		if schemeRe.MatchString(rel) {
			return rel
		}
		return ""
	}

	if rel == "" {
		return base
	}

	if strings.HasPrefix(rel, "//") {
		return b.Scheme + ":" + rel
	}

	if schemeRe.MatchString(rel) {
		return rel
	}

	if rel[0] == '#' || rel[0] == '?' {
		return base + rel
	}

	// Split off any query or fragment so dot segments only apply to the path.
	suffix := ""
	if i := strings.IndexAny(rel, "?#"); i >= 0 {
		rel, suffix = rel[:i], rel[i:]
	}

	dir := ""
	if rel[0] != '/' {
		dir = b.EscapedPath()
		if i := strings.LastIndex(dir, "/"); i >= 0 {
			dir = dir[:i]
		} else {
			dir = ""
		}
	}

	return b.Scheme + "://" + b.Host + collapseDots(dir+"/"+strings.TrimPrefix(rel, "/")) + suffix
}

// collapseDots removes empty, "." and ".." segments from an absolute path
func collapseDots(p string) string {
	segments := strings.Split(p, "/")
	out := make([]string, 0, len(segments))
	for _, seg := range segments {
		switch seg {
		case "", ".":
		case "..":
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, seg)
		}
	}

	result := "/" + strings.Join(out, "/")
	last := segments[len(segments)-1]
	if (last == "" || last == "." || last == "..") && result != "/" {
		result += "/"
	}
	return result
}

func stripScheme(s string) string {
	if i := strings.Index(s, "://"); i >= 0 && schemeRe.MatchString(s[:i+1]) {
		return s[i+3:]
	}
	return strings.TrimPrefix(s, "//")
}

// hostPart returns everything up to the first path separator
func hostPart(schemeless string) string {
	if i := strings.IndexAny(schemeless, "/?#"); i >= 0 {
		return schemeless[:i]
	}
	return schemeless
}
