package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRestyClient_HeadAndGet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Webmention-Test/1.0", r.Header.Get("User-Agent"))
		w.Header().Set("Link", `</wm>; rel="webmention"`)
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			w.Write([]byte("<html></html>"))
		}
	}))
	defer server.Close()

	client := NewClient(5*time.Second, "Webmention-Test/1.0")

	head, err := client.Head(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, head.StatusCode)
	assert.Equal(t, `</wm>; rel="webmention"`, head.Header.Get("Link"))
	assert.Empty(t, head.Body)

	get, err := client.Get(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "<html></html>", get.Body)
}

func TestRestyClient_PostForm(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "https://a.example/post", r.PostForm.Get("source"))
		assert.Equal(t, "https://b.example/post", r.PostForm.Get("target"))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	client := NewClient(5*time.Second, "Webmention-Test/1.0")
	resp, err := client.PostForm(context.Background(), server.URL, map[string]string{
		"source": "https://a.example/post",
		"target": "https://b.example/post",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestRestyClient_ErrorStatusIsNotTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(5*time.Second, "Webmention-Test/1.0")
	resp, err := client.Get(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestRestyClient_TimeoutFailsClosed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client := NewClient(20*time.Millisecond, "Webmention-Test/1.0")
	_, err := client.Get(context.Background(), server.URL)
	assert.Error(t, err)
}
