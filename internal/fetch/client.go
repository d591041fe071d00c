// Package fetch performs the outbound HTTP requests made during discovery,
// verification and delivery of webmentions.
package fetch

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultTimeout bounds every request made by the engine
const DefaultTimeout = 100 * time.Second

// Response is the part of an HTTP response the engine inspects
type Response struct {
	StatusCode int
	Header     http.Header
	Body       string
}

// Client defines the HTTP operations used by the webmention engine.
// A non-nil error always means a transport failure; HTTP error statuses are
// reported through Response.StatusCode.
type Client interface {
	Head(ctx context.Context, url string) (*Response, error)
	Get(ctx context.Context, url string) (*Response, error)
	PostForm(ctx context.Context, url string, form map[string]string) (*Response, error)
}

// RestyClient implements Client on top of resty
type RestyClient struct {
	client *resty.Client
}

// Ensure RestyClient implements Client
var _ Client = (*RestyClient)(nil)

// NewClient creates a client with the given timeout and user agent
func NewClient(timeout time.Duration, userAgent string) *RestyClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &RestyClient{
		client: resty.New().
			SetTimeout(timeout).
			SetHeader("User-Agent", userAgent),
	}
}

func (c *RestyClient) Head(ctx context.Context, url string) (*Response, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		Head(url)
	return toResponse(resp, err, "HEAD", url)
}

func (c *RestyClient) Get(ctx context.Context, url string) (*Response, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Accept", "text/html, application/xhtml+xml, */*;q=0.8").
		Get(url)
	return toResponse(resp, err, "GET", url)
}

func (c *RestyClient) PostForm(ctx context.Context, url string, form map[string]string) (*Response, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetFormData(form).
		Post(url)
	return toResponse(resp, err, "POST", url)
}

func toResponse(resp *resty.Response, err error, method, url string) (*Response, error) {
	if err != nil {
		return nil, fmt.Errorf("%s %s failed: %w", method, url, err)
	}
	return &Response{
		StatusCode: resp.StatusCode(),
		Header:     resp.Header(),
		Body:       resp.String(),
	}, nil
}
