package thread

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSnapshot(t *testing.T) {
	media := `
  <div data-testid="tweetPhoto"><img src="https://pbs.twimg.com/media/AbC?format=jpg&amp;name=small"></div>
  <div data-testid="videoPlayer"><video poster="https://pbs.twimg.com/ext_tw_video_thumb/77/pu/img/x.jpg" src="blob:https://x.com/1"></video></div>`
	html := page(fakePost{handle: "alice", id: "42", text: `Rates <img alt="📈" src="e.svg"> up<br>again`, extra: media})

	snap, err := ParseSnapshot(html)
	require.NoError(t, err)
	require.Len(t, snap.Posts, 1)

	p := snap.Posts[0]
	assert.Equal(t, "42", p.ID)
	assert.Equal(t, "alice", p.AuthorHandle)
	assert.Equal(t, "https://x.com/alice/status/42", p.Permalink)
	assert.Equal(t, "Rates 📈 up\nagain", p.Text)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), p.Timestamp.UTC())

	require.Len(t, p.Media, 2)
	assert.Equal(t, Photo, p.Media[0].Type)
	assert.Equal(t, "https://pbs.twimg.com/media/AbC?format=jpg&name=small", p.Media[0].SourceURI)
	assert.Equal(t, Video, p.Media[1].Type)
	assert.Equal(t, "https://pbs.twimg.com/ext_tw_video_thumb/77/pu/img/x.jpg", p.Media[1].SourceURI)
	assert.Equal(t, "42", p.Media[1].PostID)
}

func TestParseSnapshotDropsArticlesWithoutStatusLink(t *testing.T) {
	html := `<article data-testid="tweet"><div data-testid="tweetText">Promoted</div></article>`
	snap, err := ParseSnapshot(html)
	require.NoError(t, err)
	assert.Empty(t, snap.Posts)
}

func TestParseStatusURL(t *testing.T) {
	tests := []struct {
		url    string
		handle string
		id     string
		ok     bool
	}{
		{"https://x.com/alice/status/123", "alice", "123", true},
		{"https://twitter.com/Bob_1/status/456?s=20", "Bob_1", "456", true},
		{"x.com/alice/status/789/photo/1", "alice", "789", true},
		{"https://x.com/alice", "", "", false},
		{"https://example.com/alice/status/1", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			handle, id, err := ParseStatusURL(tt.url)
			if !tt.ok {
				assert.ErrorIs(t, err, ErrInvalidURL)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.handle, handle)
			assert.Equal(t, tt.id, id)
		})
	}
}
