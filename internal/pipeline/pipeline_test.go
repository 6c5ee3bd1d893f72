package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itai-hania/HFI/internal/config"
	"github.com/itai-hania/HFI/internal/database"
	"github.com/itai-hania/HFI/internal/llm"
	"github.com/itai-hania/HFI/internal/media"
	"github.com/itai-hania/HFI/internal/thread"
	"github.com/itai-hania/HFI/internal/translate"
)

const (
	rootURL   = "https://x.com/alice/status/1"
	hebrewOut = "זה שרשור מעניין על פינטק והשקעות בישראל"
)

type post struct {
	id, text, extra string
}

func renderPage(posts ...post) string {
	var b strings.Builder
	b.WriteString("<html><body><main>")
	for _, p := range posts {
		fmt.Fprintf(&b, `<article data-testid="tweet">
  <div data-testid="User-Name"><a href="/alice"><span>Alice</span></a>
    <a href="/alice/status/%[1]s"><time datetime="2026-03-01T10:00:00.000Z">Mar 1</time></a></div>
  <div data-testid="tweetText"><span>%[2]s</span></div>%[3]s
</article>`, p.id, p.text, p.extra)
	}
	b.WriteString("</main></body></html>")
	return b.String()
}

// pageBrowser renders one static page.
type pageBrowser struct {
	html      string
	scrollErr error
}

func (b *pageBrowser) Navigate(ctx context.Context, url string) error { return nil }
func (b *pageBrowser) Snapshot(ctx context.Context) (string, error) { return b.html, nil }
func (b *pageBrowser) ExpandReplies(ctx context.Context) (int, error) { return 0, nil }
func (b *pageBrowser) Scroll(ctx context.Context, pixels int) error { return b.scrollErr }
func (b *pageBrowser) Resources() []string { return nil }

// scriptedProvider answers every call with reply, or with badReply when the
// prompt names the post position in failAt.
type scriptedProvider struct {
	mu       sync.Mutex
	reply    string
	badReply string
	failAt   string
	calls    int
}

func (p *scriptedProvider) Complete(ctx context.Context, req llm.Request) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.failAt != "" && strings.Contains(req.User, p.failAt) {
		return p.badReply, nil
	}
	return p.reply, nil
}

func (p *scriptedProvider) IsConfigured() bool { return true }

func (p *scriptedProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// fileExtractor writes a small file for every video.
type fileExtractor struct {
	mu    sync.Mutex
	calls int
}

func (e *fileExtractor) Extract(ctx context.Context, sourceURI, destBase string, maxBytes int64) (string, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	path := destBase + ".mp4"
	return path, os.WriteFile(path, []byte("video"), 0o644)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Default()
	require.NoError(t, err)
	cfg.Output.DataDir = t.TempDir()
	cfg.Media.Dir = filepath.Join(cfg.Output.DataDir, "media")
	cfg.Traversal.SettleMillis = 0
	cfg.Traversal.NavRetries = 0
	return cfg
}

func openDB(t *testing.T, cfg *config.Config) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(cfg.GetDataDir(), "hfi.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func photoServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("png-bytes"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func threadPage(photoURL string) string {
	return renderPage(
		post{id: "1", text: "Fintech funding is back", extra: fmt.Sprintf(`<div data-testid="tweetPhoto"><img src="%s/media/a.png"></div>`, photoURL)},
		post{id: "2", text: "Valuations are up across the market"},
		post{id: "3", text: "Investors are watching stablecoins", extra: `<div data-testid="videoPlayer"><video poster="https://pbs.twimg.com/ext_tw_video_thumb/999/pu/img/x.jpg"></video></div>`},
	)
}

func TestRunConsolidated(t *testing.T) {
	cfg := testConfig(t)
	db := openDB(t, cfg)
	srv := photoServer(t)
	provider := &scriptedProvider{reply: hebrewOut}
	extractor := &fileExtractor{}

	p := New(cfg, db, Deps{Browser: &pageBrowser{html: threadPage(srv.URL)}, Provider: provider, Extractor: extractor})
	res, err := p.Run(context.Background(), rootURL, Options{Mode: translate.Consolidated, AuthorMatch: true})
	require.NoError(t, err)
	require.NotZero(t, res.ThreadID)
	for _, s := range res.Steps {
		assert.NoError(t, s.Err, s.Name)
	}

	th, err := db.GetThread(res.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, database.StatusTranslated, th.Status)
	require.NotNil(t, th.TranslationDraft)
	assert.Equal(t, hebrewOut, *th.TranslationDraft)
	assert.Equal(t, 3, th.PostCount)
	assert.Equal(t, 1, provider.count())

	posts, err := db.GetPosts(res.ThreadID)
	require.NoError(t, err)
	require.Len(t, posts, 3)
	require.Len(t, posts[0].Media, 1)
	assert.Equal(t, media.StatusSuccess, posts[0].Media[0].Status)
	require.NotNil(t, posts[0].Media[0].LocalPath)
	assert.FileExists(t, *posts[0].Media[0].LocalPath)
	assert.Empty(t, posts[1].Media)
	require.Len(t, posts[2].Media, 1)
	assert.Equal(t, thread.Video, posts[2].Media[0].Type)
	assert.Equal(t, media.StatusSuccess, posts[2].Media[0].Status)
	assert.Equal(t, 1, extractor.calls)
}

func TestRunSequentialIsolatesFailedPost(t *testing.T) {
	cfg := testConfig(t)
	db := openDB(t, cfg)
	provider := &scriptedProvider{reply: hebrewOut, badReply: "still English text here", failAt: "CURRENT POST (2 of 3)"}

	p := New(cfg, db, Deps{Browser: &pageBrowser{html: threadPage("http://127.0.0.1:1")}, Provider: provider, Extractor: &fileExtractor{}})
	res, err := p.Run(context.Background(), rootURL, Options{Mode: translate.Sequential, AuthorMatch: true, SkipMedia: true})
	require.NoError(t, err)

	th, err := db.GetThread(res.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, database.StatusFailed, th.Status)
	require.NotNil(t, th.Mode)
	assert.Equal(t, "sequential", *th.Mode)

	posts, err := db.GetPosts(res.ThreadID)
	require.NoError(t, err)
	require.Len(t, posts, 3)
	assert.Equal(t, database.StatusTranslated, posts[0].Status)
	assert.Equal(t, database.StatusFailed, posts[1].Status)
	require.NotNil(t, posts[1].TranslationDraft)
	assert.Equal(t, "still English text here", *posts[1].TranslationDraft)
	require.NotNil(t, posts[1].ErrorMessage)
	assert.Equal(t, database.StatusTranslated, posts[2].Status)

	// Two good posts plus three attempts on the failing one.
	assert.Equal(t, 5, provider.count())

	// SkipMedia leaves items skipped, not failed.
	require.Len(t, posts[0].Media, 1)
	assert.Equal(t, media.StatusSkipped, posts[0].Media[0].Status)
}

func TestRunAuthExpiredStoresPartialThread(t *testing.T) {
	cfg := testConfig(t)
	db := openDB(t, cfg)
	provider := &scriptedProvider{reply: hebrewOut}
	b := &pageBrowser{html: threadPage("http://127.0.0.1:1"), scrollErr: thread.ErrAuthExpired}

	p := New(cfg, db, Deps{Browser: b, Provider: provider, Extractor: &fileExtractor{}})
	res, err := p.Run(context.Background(), rootURL, Options{Mode: translate.Consolidated, AuthorMatch: true})
	require.ErrorIs(t, err, thread.ErrAuthExpired)
	require.NotZero(t, res.ThreadID)

	th, err := db.GetThread(res.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, database.StatusPending, th.Status)
	require.NotNil(t, th.StopReason)
	assert.Equal(t, string(thread.StopAuthExpired), *th.StopReason)
	assert.Zero(t, provider.count())
}

func TestRunNavigationFailureStillProcesses(t *testing.T) {
	cfg := testConfig(t)
	db := openDB(t, cfg)
	provider := &scriptedProvider{reply: hebrewOut}
	b := &pageBrowser{html: threadPage("http://127.0.0.1:1"), scrollErr: errors.New("page crashed")}

	p := New(cfg, db, Deps{Browser: b, Provider: provider, Extractor: &fileExtractor{}})
	res, err := p.Run(context.Background(), rootURL, Options{Mode: translate.Consolidated, AuthorMatch: true, SkipMedia: true})
	var navErr *thread.NavigationError
	require.ErrorAs(t, err, &navErr)

	th, err := db.GetThread(res.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, database.StatusTranslated, th.Status)
	assert.Equal(t, 1, provider.count())
}

func TestRunPartialRerunKeepsStoredPosts(t *testing.T) {
	cfg := testConfig(t)
	db := openDB(t, cfg)
	srv := photoServer(t)
	provider := &scriptedProvider{reply: hebrewOut}

	full := New(cfg, db, Deps{Browser: &pageBrowser{html: threadPage(srv.URL)}, Provider: provider, Extractor: &fileExtractor{}})
	first, err := full.Run(context.Background(), rootURL, Options{Mode: translate.Consolidated, AuthorMatch: true})
	require.NoError(t, err)

	// The page crashes after showing only the root post.
	b := &pageBrowser{html: renderPage(post{id: "1", text: "Fintech funding is back"}), scrollErr: errors.New("page crashed")}
	partial := New(cfg, db, Deps{Browser: b, Provider: provider, Extractor: &fileExtractor{}})
	second, err := partial.Run(context.Background(), rootURL, Options{Mode: translate.Consolidated, AuthorMatch: true, SkipMedia: true})
	var navErr *thread.NavigationError
	require.ErrorAs(t, err, &navErr)
	assert.Equal(t, first.ThreadID, second.ThreadID)

	th, err := db.GetThread(first.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, 3, th.PostCount)
	require.NotNil(t, th.StopReason)
	assert.Equal(t, string(thread.StopNavFailed), *th.StopReason)

	posts, err := db.GetPosts(first.ThreadID)
	require.NoError(t, err)
	require.Len(t, posts, 3)
	require.Len(t, posts[2].Media, 1)
	assert.Equal(t, media.StatusSuccess, posts[2].Media[0].Status)
	require.NotNil(t, posts[2].Media[0].LocalPath)
	assert.FileExists(t, *posts[2].Media[0].LocalPath)
}

func TestRunSequentialLeavesMediaOnlyPostPending(t *testing.T) {
	cfg := testConfig(t)
	db := openDB(t, cfg)
	provider := &scriptedProvider{reply: hebrewOut}
	page := renderPage(
		post{id: "1", text: "Fintech funding is back"},
		post{id: "2", extra: `<div data-testid="tweetPhoto"><img src="http://127.0.0.1:1/media/b.png"></div>`},
		post{id: "3", text: "Investors are watching stablecoins"},
	)

	p := New(cfg, db, Deps{Browser: &pageBrowser{html: page}, Provider: provider, Extractor: &fileExtractor{}})
	res, err := p.Run(context.Background(), rootURL, Options{Mode: translate.Sequential, AuthorMatch: true, SkipMedia: true})
	require.NoError(t, err)
	assert.Equal(t, 2, provider.count())
	assert.Equal(t, "Translated 2 posts", res.Steps[len(res.Steps)-1].Summary)

	posts, err := db.GetPosts(res.ThreadID)
	require.NoError(t, err)
	require.Len(t, posts, 3)
	assert.Equal(t, database.StatusTranslated, posts[0].Status)
	assert.Equal(t, database.StatusPending, posts[1].Status)
	assert.Nil(t, posts[1].TranslationDraft)
	assert.Equal(t, database.StatusTranslated, posts[2].Status)

	th, err := db.GetThread(res.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, database.StatusTranslated, th.Status)
}

func TestRunWithoutBrowser(t *testing.T) {
	cfg := testConfig(t)
	p := New(cfg, openDB(t, cfg), Deps{Provider: &scriptedProvider{reply: hebrewOut}, Extractor: &fileExtractor{}})
	_, err := p.Run(context.Background(), rootURL, Options{Mode: translate.Consolidated})
	assert.Error(t, err)
}

func TestRetryTranslationAfterFailure(t *testing.T) {
	cfg := testConfig(t)
	db := openDB(t, cfg)
	provider := &scriptedProvider{reply: "no hebrew at all here"}

	p := New(cfg, db, Deps{Browser: &pageBrowser{html: threadPage("http://127.0.0.1:1")}, Provider: provider, Extractor: &fileExtractor{}})
	res, err := p.Run(context.Background(), rootURL, Options{Mode: translate.Consolidated, AuthorMatch: true, SkipMedia: true})
	require.NoError(t, err)

	th, err := db.GetThread(res.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, database.StatusFailed, th.Status)
	require.NotNil(t, th.TranslationDraft)
	assert.Equal(t, "no hebrew at all here", *th.TranslationDraft)

	provider.mu.Lock()
	provider.reply = hebrewOut
	provider.mu.Unlock()

	retry, err := p.RetryTranslation(context.Background(), res.ThreadID, translate.Consolidated)
	require.NoError(t, err)
	require.Len(t, retry.Steps, 1)
	assert.NoError(t, retry.Steps[0].Err)

	th, err = db.GetThread(res.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, database.StatusTranslated, th.Status)
	assert.Nil(t, th.ErrorMessage)
}

func TestRetryTranslationUnknownThread(t *testing.T) {
	cfg := testConfig(t)
	p := New(cfg, openDB(t, cfg), Deps{Provider: &scriptedProvider{reply: hebrewOut}, Extractor: &fileExtractor{}})
	_, err := p.RetryTranslation(context.Background(), 42, translate.Consolidated)
	assert.Error(t, err)
}

func TestRedownloadMediaIsIdempotent(t *testing.T) {
	cfg := testConfig(t)
	db := openDB(t, cfg)
	srv := photoServer(t)
	extractor := &fileExtractor{}

	p := New(cfg, db, Deps{Browser: &pageBrowser{html: threadPage(srv.URL)}, Provider: &scriptedProvider{reply: hebrewOut}, Extractor: extractor})
	res, err := p.Run(context.Background(), rootURL, Options{Mode: translate.Consolidated, AuthorMatch: true, SkipMedia: true, SkipTranslate: true})
	require.NoError(t, err)
	assert.Zero(t, extractor.calls)

	first, err := p.RedownloadMedia(context.Background(), res.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, "Downloaded 2, 0 already stored, 0 failed", first.Steps[0].Summary)

	second, err := p.RedownloadMedia(context.Background(), res.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, "Downloaded 0, 2 already stored, 0 failed", second.Steps[0].Summary)
	assert.Equal(t, 1, extractor.calls)

	// A later run keeps the stored media state.
	_, err = p.Run(context.Background(), rootURL, Options{Mode: translate.Consolidated, AuthorMatch: true, SkipMedia: true, SkipTranslate: true})
	require.NoError(t, err)
	posts, err := db.GetPosts(res.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, media.StatusSuccess, posts[0].Media[0].Status)
}

func TestDryRunWritesNothing(t *testing.T) {
	cfg := testConfig(t)
	db := openDB(t, cfg)
	p := New(cfg, db, Deps{Browser: &pageBrowser{html: threadPage("http://127.0.0.1:1")}, Provider: &scriptedProvider{reply: hebrewOut}, Extractor: &fileExtractor{}})

	res, err := p.DryRun(context.Background(), rootURL, Options{Mode: translate.Sequential, AuthorMatch: true})
	require.NoError(t, err)
	require.Len(t, res.Steps, 4)
	assert.Equal(t, "[dry-run] 1 photos, 1 videos", res.Steps[2].Summary)

	threads, err := db.ListThreads(10)
	require.NoError(t, err)
	assert.Empty(t, threads)
}

func TestDryRunReportsStoreErrors(t *testing.T) {
	cfg := testConfig(t)
	db, err := database.Open(filepath.Join(cfg.GetDataDir(), "hfi.db"))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	p := New(cfg, db, Deps{Browser: &pageBrowser{html: threadPage("http://127.0.0.1:1")}, Provider: &scriptedProvider{reply: hebrewOut}, Extractor: &fileExtractor{}})
	res, err := p.DryRun(context.Background(), rootURL, Options{Mode: translate.Consolidated, AuthorMatch: true})
	require.Error(t, err)
	require.Len(t, res.Steps, 2)
	assert.Equal(t, "Persist", res.Steps[1].Name)
	assert.Error(t, res.Steps[1].Err)
}
