package receiver

import (
	"fmt"
	"strings"

	"github.com/dshanske/wordpress-webmention/internal/urlutil"
)

var formatNames = map[string]string{
	"aside":   "Aside",
	"gallery": "Gallery",
	"link":    "Link",
	"image":   "Image",
	"quote":   "Quote",
	"status":  "Status",
	"video":   "Video",
	"audio":   "Audio",
	"chat":    "Chat",
}

// FormatName returns the display name of a document format. Unknown and
// standard formats are shown as "Article".
func FormatName(format string) string {
	if name, ok := formatNames[strings.ToLower(strings.TrimSpace(format))]; ok {
		return name
	}
	return "Article"
}

// DefaultTitle uses the source's author meta tag, then its <title>, then
// its host name without www.
func DefaultTitle(src *Source) string {
	if src.HTML != nil {
		if author, ok := src.HTML.Find(`meta[name="author"]`).First().Attr("content"); ok {
			if author = strings.TrimSpace(author); author != "" {
				return author
			}
		}
		if title := strings.TrimSpace(src.HTML.Find("title").First().Text()); title != "" {
			return title
		}
	}
	return urlutil.StripWWW(urlutil.Host(src.URL))
}

// DefaultContent is a one-line notice naming the mentioning host
func DefaultContent(src *Source) string {
	format := ""
	if src.Document != nil {
		format = src.Document.Format
	}
	host := urlutil.StripWWW(urlutil.Host(src.URL))
	return fmt.Sprintf(`This %s was mentioned on <a href="%s">%s</a>`, FormatName(format), src.URL, host)
}
