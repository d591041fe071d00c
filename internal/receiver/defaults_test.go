package receiver

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/dshanske/wordpress-webmention/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sourceFor(t *testing.T, url, body string) *Source {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	require.NoError(t, err)
	return &Source{URL: url, Raw: body, HTML: doc}
}

func TestDefaultTitle(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected string
	}{
		{
			name:     "Author meta wins",
			body:     `<html><head><meta name="author" content="Jane Doe"><title>Post</title></head></html>`,
			expected: "Jane Doe",
		},
		{
			name:     "Title tag",
			body:     `<html><head><title> A post </title></head></html>`,
			expected: "A post",
		},
		{
			name:     "Host fallback",
			body:     `<p>no metadata</p>`,
			expected: "blog.example",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DefaultTitle(sourceFor(t, "https://www.blog.example/entry", tt.body)))
		})
	}
}

func TestDefaultContent(t *testing.T) {
	tests := []struct {
		format   string
		expected string
	}{
		{format: "", expected: "Article"},
		{format: "standard", expected: "Article"},
		{format: "status", expected: "Status"},
		{format: "Gallery", expected: "Gallery"},
		{format: "chat", expected: "Chat"},
	}

	for _, tt := range tests {
		t.Run(tt.expected+"/"+tt.format, func(t *testing.T) {
			src := &Source{URL: "https://www.a.example/reply", Document: &models.Document{Format: tt.format}}
			assert.Equal(t,
				`This `+tt.expected+` was mentioned on <a href="https://www.a.example/reply">a.example</a>`,
				DefaultContent(src))
		})
	}
}
