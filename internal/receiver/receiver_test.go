package receiver

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/dshanske/wordpress-webmention/internal/config"
	"github.com/dshanske/wordpress-webmention/internal/fetch"
	"github.com/dshanske/wordpress-webmention/internal/models"
	"github.com/dshanske/wordpress-webmention/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockClient is a mock implementation of fetch.Client
type MockClient struct {
	mock.Mock
}

func (m *MockClient) Head(ctx context.Context, url string) (*fetch.Response, error) {
	args := m.Called(ctx, url)
	resp, _ := args.Get(0).(*fetch.Response)
	return resp, args.Error(1)
}

func (m *MockClient) Get(ctx context.Context, url string) (*fetch.Response, error) {
	args := m.Called(ctx, url)
	resp, _ := args.Get(0).(*fetch.Response)
	return resp, args.Error(1)
}

func (m *MockClient) PostForm(ctx context.Context, url string, form map[string]string) (*fetch.Response, error) {
	args := m.Called(ctx, url, form)
	resp, _ := args.Get(0).(*fetch.Response)
	return resp, args.Error(1)
}

// MockArchiver is a mock implementation of Archiver
type MockArchiver struct {
	mock.Mock
}

func (m *MockArchiver) ArchiveSource(ctx context.Context, mention *models.Mention) error {
	args := m.Called(ctx, mention)
	return args.Error(0)
}

func (m *MockArchiver) LoadSource(ctx context.Context, mention *models.Mention) (string, error) {
	args := m.Called(ctx, mention)
	return args.String(0), args.Error(1)
}

func page(body string) *fetch.Response {
	return &fetch.Response{StatusCode: http.StatusOK, Header: http.Header{}, Body: body}
}

func testConfig() *config.Config {
	return &config.Config{
		SiteURL:         "https://example.com",
		CommentType:     "webmention",
		DefaultApproval: models.ApprovalPending,
	}
}

func setup(t *testing.T, cfg *config.Config) (*Receiver, *MockClient, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore(cfg.SiteURL)
	require.NoError(t, store.SaveDocument(context.Background(), &models.Document{
		ID:        "42",
		URL:       "https://example.com/p/1",
		PingsOpen: true,
	}))
	require.NoError(t, store.SaveDocument(context.Background(), &models.Document{
		ID:  "43",
		URL: "https://example.com/closed",
	}))

	client := &MockClient{}
	return NewReceiver(cfg, client, store, store), client, store
}

func rejectionOf(t *testing.T, err error) *Rejection {
	t.Helper()
	var rejection *Rejection
	require.True(t, errors.As(err, &rejection), "expected a rejection, got %v", err)
	return rejection
}

func TestReceive_ValidationRejections(t *testing.T) {
	tests := []struct {
		name    string
		source  string
		target  string
		status  int
		message string
	}{
		{name: "Missing source", source: "", target: "https://example.com/p/1", status: 400, message: MsgSourceMissing},
		{name: "Missing target", source: "https://a.example/", target: "", status: 400, message: MsgTargetMissing},
		{name: "Malformed source", source: "not a url", target: "https://example.com/p/1", status: 400, message: MsgSourceInvalid},
		{name: "Malformed target", source: "https://a.example/", target: "ftp://example.com/p/1", status: 400, message: MsgTargetInvalid},
		{name: "Unknown target", source: "https://a.example/", target: "https://example.com/nope", status: 404, message: MsgTargetNotFound},
		{name: "Pings closed", source: "https://a.example/", target: "https://example.com/closed", status: 403, message: MsgPingsClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, client, _ := setup(t, testConfig())

			result, err := r.Receive(context.Background(), tt.source, tt.target)

			assert.Nil(t, result)
			rejection := rejectionOf(t, err)
			assert.Equal(t, tt.status, rejection.Status)
			assert.Equal(t, tt.message, rejection.Message)
			client.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
		})
	}
}

func TestReceive_SourceTransportFailure(t *testing.T) {
	r, client, _ := setup(t, testConfig())
	client.On("Get", mock.Anything, "https://a.example/").Return(nil, errors.New("timeout"))

	_, err := r.Receive(context.Background(), "https://a.example/", "https://example.com/p/1")

	rejection := rejectionOf(t, err)
	assert.Equal(t, http.StatusBadRequest, rejection.Status)
	assert.Equal(t, MsgSourceNotFound, rejection.Message)
}

func TestReceive_RejectsSourceWithoutLink(t *testing.T) {
	r, client, store := setup(t, testConfig())
	client.On("Get", mock.Anything, "https://a.example/").Return(page(`<p>Nothing to see <a href="https://example.com/p/2">here</a></p>`), nil)

	_, err := r.Receive(context.Background(), "https://a.example/", "https://example.com/p/1")

	rejection := rejectionOf(t, err)
	assert.Equal(t, http.StatusBadRequest, rejection.Status)
	assert.Equal(t, MsgNoLinkToTarget, rejection.Message)

	mentions, _ := store.ListMentions(context.Background(), "42")
	assert.Empty(t, mentions)
}

func TestReceive_StoresMention(t *testing.T) {
	r, client, store := setup(t, testConfig())
	client.On("Get", mock.Anything, "https://www.a.example/reply").Return(page(
		`<html><head><title>A reply</title></head><body><a href="https://example.com/p/1">post</a><script>alert(1)</script></body></html>`), nil)

	result, err := r.Receive(context.Background(), "https://www.a.example/reply", "https://example.com/p/1")
	require.NoError(t, err)

	assert.False(t, result.Updated)
	assert.Equal(t, "https://example.com/p/1#comment-"+result.Mention.ID, result.Permalink)

	m := result.Mention
	assert.Equal(t, "42", m.TargetDocumentID)
	assert.Equal(t, "A reply", m.Title)
	assert.Equal(t, `This Article was mentioned on <a href="https://www.a.example/reply" rel="nofollow">a.example</a>`, m.BodyHTML)
	assert.Contains(t, m.RawBody, "<script>")
	assert.Equal(t, "webmention", m.Type)
	assert.Equal(t, models.ApprovalPending, m.ApprovalState)

	mentions, _ := store.ListMentions(context.Background(), "42")
	assert.Len(t, mentions, 1)
}

func TestReceive_IsIdempotent(t *testing.T) {
	cfg := testConfig()
	r, client, store := setup(t, cfg)
	client.On("Get", mock.Anything, "https://a.example/reply").Return(page(`<title>First</title><a href="https://example.com/p/1">x</a>`), nil).Once()
	client.On("Get", mock.Anything, "https://a.example/reply").Return(page(`<title>Second</title><a href="https://example.com/p/1">x</a>`), nil).Once()

	first, err := r.Receive(context.Background(), "https://a.example/reply", "https://example.com/p/1")
	require.NoError(t, err)

	cfg.DefaultApproval = models.ApprovalApproved
	second, err := r.Receive(context.Background(), "https://a.example/reply", "https://example.com/p/1")
	require.NoError(t, err)

	assert.True(t, second.Updated)
	assert.Equal(t, first.Mention.ID, second.Mention.ID)

	mentions, _ := store.ListMentions(context.Background(), "42")
	require.Len(t, mentions, 1)
	assert.Equal(t, "Second", mentions[0].Title)
	assert.Equal(t, models.ApprovalApproved, mentions[0].ApprovalState)
}

func TestReceive_PreserveApproval(t *testing.T) {
	cfg := testConfig()
	cfg.PreserveApproval = true
	r, client, store := setup(t, cfg)
	client.On("Get", mock.Anything, "https://a.example/reply").Return(page(`<a href="https://example.com/p/1">x</a>`), nil)

	_, err := r.Receive(context.Background(), "https://a.example/reply", "https://example.com/p/1")
	require.NoError(t, err)

	cfg.DefaultApproval = models.ApprovalApproved
	_, err = r.Receive(context.Background(), "https://a.example/reply", "https://example.com/p/1")
	require.NoError(t, err)

	mentions, _ := store.ListMentions(context.Background(), "42")
	require.Len(t, mentions, 1)
	assert.Equal(t, models.ApprovalPending, mentions[0].ApprovalState)
}

func TestReceive_CrossPostLinkDuplicate(t *testing.T) {
	r, client, store := setup(t, testConfig())
	ctx := context.Background()
	existing := &models.Mention{
		TargetDocumentID: "42",
		SourceURL:        "https://relay.example/salmon/9",
		CrossPostLink:    "https://a.example/note",
		Title:            "old",
	}
	require.NoError(t, store.InsertMention(ctx, existing))
	client.On("Get", mock.Anything, "https://a.example/note").Return(page(`<title>new</title><a href="https://example.com/p/1">x</a>`), nil)

	result, err := r.Receive(ctx, "https://a.example/note", "https://example.com/p/1")
	require.NoError(t, err)

	assert.True(t, result.Updated)
	assert.Equal(t, existing.ID, result.Mention.ID)
	assert.Equal(t, "https://a.example/note", result.Mention.CrossPostLink)

	mentions, _ := store.ListMentions(ctx, "42")
	require.Len(t, mentions, 1)
	assert.Equal(t, "new", mentions[0].Title)
}

func TestReceive_SchemeAndWWWTolerance(t *testing.T) {
	cfg := testConfig()
	cfg.SiteURL = "https://www.example.com"
	store := storage.NewMemoryStore(cfg.SiteURL)
	require.NoError(t, store.SaveDocument(context.Background(), &models.Document{ID: "7", URL: "https://www.example.com/p/1", PingsOpen: true}))
	client := &MockClient{}
	client.On("Get", mock.Anything, "https://a.example/").Return(page(`I read example.com/p/1 today`), nil)
	r := NewReceiver(cfg, client, store, store)

	result, err := r.Receive(context.Background(), "https://a.example/", "https://www.example.com/p/1")

	require.NoError(t, err)
	assert.Equal(t, "7", result.Mention.TargetDocumentID)
}

func TestReceive_QueryDistinguishesSources(t *testing.T) {
	r, client, store := setup(t, testConfig())
	linking := page(`<a href="https://example.com/p/1">x</a>`)
	client.On("Get", mock.Anything, "https://blog.test/?p=1").Return(linking, nil)
	client.On("Get", mock.Anything, "https://blog.test/?p=2").Return(linking, nil)

	first, err := r.Receive(context.Background(), "https://blog.test/?p=1", "https://example.com/p/1")
	require.NoError(t, err)
	second, err := r.Receive(context.Background(), "https://blog.test/?p=2", "https://example.com/p/1")
	require.NoError(t, err)

	assert.False(t, second.Updated)
	assert.NotEqual(t, first.Mention.ID, second.Mention.ID)
	mentions, _ := store.ListMentions(context.Background(), "42")
	assert.Len(t, mentions, 2)
}

func TestReceive_SchemeAndWWWVariantsOfSourceUpdate(t *testing.T) {
	r, client, store := setup(t, testConfig())
	client.On("Get", mock.Anything, "http://www.a.example/post").Return(page(`<title>Old</title><a href="https://example.com/p/1">x</a>`), nil)
	client.On("Get", mock.Anything, "https://a.example/post/").Return(page(`<title>New</title><a href="https://example.com/p/1">x</a>`), nil)

	first, err := r.Receive(context.Background(), "http://www.a.example/post", "https://example.com/p/1")
	require.NoError(t, err)
	second, err := r.Receive(context.Background(), "https://a.example/post/", "https://example.com/p/1")
	require.NoError(t, err)

	assert.True(t, second.Updated)
	assert.Equal(t, first.Mention.ID, second.Mention.ID)
	mentions, _ := store.ListMentions(context.Background(), "42")
	require.Len(t, mentions, 1)
	assert.Equal(t, "New", mentions[0].Title)
	assert.Equal(t, "https://a.example/post/", mentions[0].SourceURL)
}

func TestReceive_QueryPermalinksResolveToTheirOwnDocument(t *testing.T) {
	cfg := testConfig()
	store := storage.NewMemoryStore(cfg.SiteURL)
	ctx := context.Background()
	require.NoError(t, store.SaveDocument(ctx, &models.Document{ID: "10", URL: "https://example.com/?p=10", PingsOpen: true}))
	require.NoError(t, store.SaveDocument(ctx, &models.Document{ID: "20", URL: "https://example.com/?p=20", PingsOpen: true}))
	client := &MockClient{}
	client.On("Get", mock.Anything, mock.Anything).Return(page(`<a href="https://example.com/?p=20">x</a>`), nil)
	r := NewReceiver(cfg, client, store, store)

	for i := 0; i < 20; i++ {
		result, err := r.Receive(ctx, "https://a.example/reply", "https://example.com/?p=20")
		require.NoError(t, err)
		require.Equal(t, "20", result.Mention.TargetDocumentID)
	}

	wrong, _ := store.ListMentions(ctx, "10")
	assert.Empty(t, wrong)
}

func TestReceive_Hooks(t *testing.T) {
	r, client, _ := setup(t, testConfig())
	client.On("Get", mock.Anything, "https://a.example/").Return(page(`<a href="https://example.com/elsewhere">x</a>`), nil)

	var stored *Result
	r.SetHooks(Hooks{
		DocumentID: func(ctx context.Context, target, resolved string) string {
			assert.Equal(t, "", resolved)
			return "42"
		},
		Title:   func(src *Source) string { return "custom title" },
		Content: func(src *Source) string { return `<b>hi</b><iframe src="x"></iframe>` },
		Parent:  func(ctx context.Context, src *Source) string { return "parent-1" },
		Permalink: func(doc *models.Document, m *models.Mention) string {
			return "https://example.com/mentions/" + m.ID
		},
		OnStored: func(ctx context.Context, result *Result) {
			stored = result
		},
	})

	result, err := r.Receive(context.Background(), "https://a.example/", "https://example.com/elsewhere")
	require.NoError(t, err)

	assert.Equal(t, "custom title", result.Mention.Title)
	assert.Equal(t, "<b>hi</b>", result.Mention.BodyHTML)
	assert.Equal(t, "parent-1", result.Mention.ParentMentionID)
	assert.True(t, strings.HasPrefix(result.Permalink, "https://example.com/mentions/"))
	assert.Same(t, result, stored)
}

func TestReceive_ArchiveFailureDoesNotReject(t *testing.T) {
	r, client, _ := setup(t, testConfig())
	client.On("Get", mock.Anything, "https://a.example/").Return(page(`<a href="https://example.com/p/1">x</a>`), nil)
	archiver := &MockArchiver{}
	archiver.On("ArchiveSource", mock.Anything, mock.Anything).Return(errors.New("blob store down"))
	r.SetArchiver(archiver)

	_, err := r.Receive(context.Background(), "https://a.example/", "https://example.com/p/1")

	assert.NoError(t, err)
	archiver.AssertExpectations(t)
}

func TestLinksTo(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		source string
		target string
		want   bool
	}{
		{name: "Absolute link", body: `<a href="https://example.com/p/1">x</a>`, source: "https://a.example/", target: "https://example.com/p/1", want: true},
		{name: "Scheme and www stripped", body: `see example.com/p/1`, source: "https://a.example/", target: "https://www.example.com/p/1", want: true},
		{name: "Fragment and trailing slash ignored", body: `<a href="http://example.com/p/1">x</a>`, source: "https://a.example/", target: "https://example.com/p/1/#reply", want: true},
		{name: "Entity encoded", body: `<a href="https://example.com/?p=1&amp;x=2">x</a>`, source: "https://a.example/", target: "https://example.com/?p=1&x=2", want: true},
		{name: "Relative link on same host", body: `<a href="/post/1">x</a>`, source: "http://example.com/", target: "http://example.com/post/1", want: true},
		{name: "Relative link with dots", body: `<a href="../post/1">x</a>`, source: "http://example.com/notes/today", target: "http://example.com/post/1", want: true},
		{name: "No link", body: `<a href="https://example.com/p/2">x</a>`, source: "https://a.example/", target: "https://example.com/p/1", want: false},
		{name: "Empty body", body: ``, source: "https://a.example/", target: "https://example.com/p/1", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LinksTo(tt.body, tt.source, tt.target))
		})
	}
}
