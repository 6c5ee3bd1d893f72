package thread

import (
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/itai-hania/HFI/internal/hebrew"
)

// Snapshot is one read of the rendered page, already converted into posts.
type Snapshot struct {
	Posts []Post
	// Collapsed counts reply affordances ("Show replies") still folded.
	Collapsed int
}

var collapsedLabels = []string{"show replies", "show more replies", "show additional replies"}

// ParseSnapshot converts rendered page HTML into posts in display order.
// Articles without a status link (ads, tombstones) are dropped. Positions are
// left zero; the traversal assigns them.
func ParseSnapshot(page string) (Snapshot, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return Snapshot{}, fmt.Errorf("parsing page: %w", err)
	}

	var snap Snapshot
	doc.Find(`article[data-testid="tweet"]`).Each(func(_ int, s *goquery.Selection) {
		if p, ok := parseArticle(s); ok {
			snap.Posts = append(snap.Posts, p)
		}
	})

	doc.Find(`[role="button"], button`).Each(func(_ int, s *goquery.Selection) {
		label := strings.ToLower(strings.TrimSpace(s.Text()))
		for _, l := range collapsedLabels {
			if label == l {
				snap.Collapsed++
				return
			}
		}
	})

	return snap, nil
}

func parseArticle(s *goquery.Selection) (Post, bool) {
	var p Post

	timeEl := s.Find("time[datetime]").First()
	href, _ := timeEl.Closest("a").Attr("href")
	m := statusPathRe.FindStringSubmatch(href)
	if m == nil {
		return p, false
	}
	p.ID = m[2]
	p.Permalink = Permalink(m[1], m[2])
	p.AuthorHandle = m[1]

	// The User-Name block links to the author's profile; prefer it over the
	// status link because quoted posts can nest their own time element.
	s.Find(`[data-testid="User-Name"] a[href^="/"]`).EachWithBreak(func(_ int, a *goquery.Selection) bool {
		h, _ := a.Attr("href")
		h = strings.TrimPrefix(h, "/")
		if h != "" && !strings.Contains(h, "/") {
			p.AuthorHandle = h
			return false
		}
		return true
	})

	if dt, ok := timeEl.Attr("datetime"); ok {
		if ts, err := time.Parse(time.RFC3339, dt); err == nil {
			p.Timestamp = ts
		}
	}

	p.Text = hebrew.Normalize(nodeText(s.Find(`[data-testid="tweetText"]`).First()))

	s.Find(`[data-testid="tweetPhoto"] img`).Each(func(_ int, img *goquery.Selection) {
		if src, ok := img.Attr("src"); ok && src != "" {
			p.Media = append(p.Media, MediaRef{PostID: p.ID, Type: Photo, SourceURI: src})
		}
	})
	s.Find(`[data-testid="videoPlayer"] video, [data-testid="videoComponent"] video`).Each(func(_ int, v *goquery.Selection) {
		src, _ := v.Attr("src")
		if src == "" || strings.HasPrefix(src, "blob:") {
			src, _ = v.Attr("poster")
		}
		if src != "" {
			p.Media = append(p.Media, MediaRef{PostID: p.ID, Type: Video, SourceURI: src})
		}
	})

	return p, true
}

// nodeText flattens a text block, keeping emoji that the site renders as
// <img alt="..."> and line breaks.
func nodeText(s *goquery.Selection) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
		case html.ElementNode:
			switch n.Data {
			case "img":
				for _, a := range n.Attr {
					if a.Key == "alt" {
						b.WriteString(a.Val)
					}
				}
			case "br":
				b.WriteString("\n")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range s.Nodes {
		walk(n)
	}
	return b.String()
}
