package api

import (
	"fmt"
	"html"
	"net/http"
)

// Relation tokens a webmention endpoint is advertised under
var relations = []string{"webmention", "http://webmention.org/"}

// JRDLink is one link of a JSON resource descriptor
type JRDLink struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
}

// JRD is a JSON resource descriptor as served for host-meta and webfinger
type JRD struct {
	Subject string    `json:"subject,omitempty"`
	Links   []JRDLink `json:"links"`
}

// LinkTags returns the HTML <link> elements advertising endpoint
func LinkTags(endpoint string) string {
	escaped := html.EscapeString(endpoint)
	tags := ""
	for _, rel := range relations {
		tags += fmt.Sprintf("<link rel=\"%s\" href=\"%s\" />\n", rel, escaped)
	}
	return tags
}

// LinkHeaders returns the HTTP Link header values advertising endpoint
func LinkHeaders(endpoint string) []string {
	values := make([]string, 0, len(relations))
	for _, rel := range relations {
		values = append(values, fmt.Sprintf(`<%s>; rel="%s"`, endpoint, rel))
	}
	return values
}

// JRDLinks returns the resource descriptor links advertising endpoint
func JRDLinks(endpoint string) []JRDLink {
	links := make([]JRDLink, 0, len(relations))
	for _, rel := range relations {
		links = append(links, JRDLink{Rel: rel, Href: endpoint})
	}
	return links
}

// advertiseMiddleware adds the endpoint Link headers to every response
func advertiseMiddleware(endpoint string) func(http.Handler) http.Handler {
	headers := LinkHeaders(endpoint)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, value := range headers {
				w.Header().Add("Link", value)
			}
			next.ServeHTTP(w, r)
		})
	}
}
