package style

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itai-hania/HFI/internal/fetch"
)

type memStore struct {
	rows    []storedExample
	sources map[string]bool
}

type storedExample struct {
	content, sourceType string
	sourceURL           *string
	tags                []string
	words               int
}

func newMemStore() *memStore { return &memStore{sources: map[string]bool{}} }

func (m *memStore) InsertStyleExample(content, sourceType string, sourceURL *string, tags []string, wordCount int) (int64, error) {
	m.rows = append(m.rows, storedExample{content, sourceType, sourceURL, tags, wordCount})
	if sourceURL != nil {
		m.sources[*sourceURL] = true
	}
	return int64(len(m.rows)), nil
}

func (m *memStore) HasStyleSource(sourceURL string) (bool, error) {
	return m.sources[sourceURL], nil
}

type stubFetcher struct {
	pages map[string]string
	calls int
}

func (s *stubFetcher) Fetch(ctx context.Context, url string) (*fetch.Page, error) {
	s.calls++
	text, ok := s.pages[url]
	if !ok {
		return nil, &fetch.HTTPError{Code: http.StatusNotFound}
	}
	return &fetch.Page{URL: url, Text: text}, nil
}

const hebrewPara = "הבנק המרכזי הודיע היום על העלאת הריבית בחצי אחוז, צעד שהפתיע את המשקיעים בשוק ההון המקומי"

func TestAddValidates(t *testing.T) {
	store := newMemStore()
	im := NewImporter(store, nil, nil)
	ctx := context.Background()

	_, err := im.Add(ctx, "קצר מדי", SourceManual, nil, nil)
	assert.ErrorIs(t, err, ErrTooShort)

	_, err = im.Add(ctx, "This English paragraph is long enough to pass the word count check easily", SourceManual, nil, nil)
	assert.ErrorIs(t, err, ErrNotHebrew)

	id, err := im.Add(ctx, "  "+hebrewPara+"  ", SourceManual, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
	require.Len(t, store.rows, 1)
	assert.Equal(t, hebrewPara, store.rows[0].content)
	assert.Contains(t, store.rows[0].tags, "banking")
	assert.Equal(t, 16, store.rows[0].words)
}

func TestAddKeepsGivenTags(t *testing.T) {
	store := newMemStore()
	im := NewImporter(store, nil, nil)
	_, err := im.Add(context.Background(), hebrewPara, SourceFile, nil, []string{"markets"})
	require.NoError(t, err)
	assert.Equal(t, []string{"markets"}, store.rows[0].tags)
}

func TestImportURL(t *testing.T) {
	store := newMemStore()
	fetcher := &stubFetcher{pages: map[string]string{"https://blog.example/a": hebrewPara}}
	im := NewImporter(store, fetcher, nil)
	ctx := context.Background()

	_, err := im.ImportURL(ctx, "https://blog.example/a")
	require.NoError(t, err)
	require.Len(t, store.rows, 1)
	assert.Equal(t, SourceWeb, store.rows[0].sourceType)

	_, err = im.ImportURL(ctx, "https://blog.example/a")
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.Equal(t, 1, fetcher.calls)

	_, err = NewImporter(store, nil, nil).ImportURL(ctx, "https://blog.example/b")
	assert.Error(t, err)
}

const feedTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>בלוג</title><link>%[1]s</link><description>x</description>
<item><title>one</title><link>%[1]s/one</link><description><![CDATA[<p>%[2]s</p>]]></description></item>
<item><title>two</title><link>%[1]s/two</link><description>קצר</description></item>
<item><title>three</title><link>%[1]s/three</link><description>Plain English text that will not be accepted as a Hebrew style example here</description></item>
<item><title>four</title><link>%[1]s/four</link><description><![CDATA[%[2]s]]></description></item>
</channel></rss>`

func TestImportFeed(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprintf(w, feedTemplate, srv.URL, hebrewPara)
	}))
	defer srv.Close()

	store := newMemStore()
	store.sources[srv.URL+"/four"] = true
	fetcher := &stubFetcher{pages: map[string]string{srv.URL + "/two": hebrewPara + " והמשך"}}
	im := NewImporter(store, fetcher, nil)

	res, err := im.ImportFeed(context.Background(), srv.URL+"/feed", 10)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Imported)
	assert.Equal(t, 1, res.AlreadyHad)
	assert.Equal(t, 1, res.Skipped)

	require.Len(t, store.rows, 2)
	assert.Equal(t, hebrewPara, store.rows[0].content)
	assert.Equal(t, SourceFeed, store.rows[0].sourceType)
	assert.True(t, strings.HasSuffix(store.rows[1].content, "והמשך"))
}

func TestImportFeedLimit(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, feedTemplate, srv.URL, hebrewPara)
	}))
	defer srv.Close()

	store := newMemStore()
	res, err := NewImporter(store, nil, nil).ImportFeed(context.Background(), srv.URL, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Imported)
	assert.Len(t, store.rows, 1)
}

func TestImportFeedBadURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not a feed"))
	}))
	defer srv.Close()

	_, err := NewImporter(newMemStore(), nil, nil).ImportFeed(context.Background(), srv.URL, 5)
	assert.Error(t, err)
}
