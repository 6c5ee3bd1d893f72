package style

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"github.com/itai-hania/HFI/internal/fetch"
	"github.com/itai-hania/HFI/internal/hebrew"
)

// Source types recorded with each example.
const (
	SourceManual = "manual"
	SourceFile   = "local_file"
	SourceThread = "x_thread"
	SourceWeb    = "web"
	SourceFeed   = "feed"
)

// MinWords is the shortest example worth keeping.
const MinWords = 10

var (
	ErrTooShort  = errors.New("content too short")
	ErrNotHebrew = errors.New("content is not Hebrew")
	ErrDuplicate = errors.New("source already imported")
)

// Store persists style examples.
type Store interface {
	InsertStyleExample(content, sourceType string, sourceURL *string, tags []string, wordCount int) (int64, error)
	HasStyleSource(sourceURL string) (bool, error)
}

// PageFetcher returns the readable text of a web page.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (*fetch.Page, error)
}

// ImportResult holds the counters of a feed import.
type ImportResult struct {
	Imported   int
	AlreadyHad int
	Skipped    int
}

// Importer adds style examples from text, web pages and feeds.
type Importer struct {
	store   Store
	fetcher PageFetcher
	tagger  *Tagger
	parser  *gofeed.Parser
}

// NewImporter creates an importer. fetcher may be nil, which disables URL
// imports and full-page fallback for short feed items.
func NewImporter(store Store, fetcher PageFetcher, tagger *Tagger) *Importer {
	return &Importer{store: store, fetcher: fetcher, tagger: tagger, parser: gofeed.NewParser()}
}

// Add validates and stores one example. Tags are assigned when none are given.
func (im *Importer) Add(ctx context.Context, content, sourceType string, sourceURL *string, tags []string) (int64, error) {
	content = hebrew.Normalize(content)
	words := hebrew.CountWords(content)
	if words < MinWords {
		return 0, fmt.Errorf("%w: %d words, minimum %d", ErrTooShort, words, MinWords)
	}
	if !hebrew.IsHebrew(content) {
		return 0, fmt.Errorf("%w: %.0f%% Hebrew letters", ErrNotHebrew, hebrew.Ratio(content)*100)
	}
	if len(tags) == 0 {
		tags = im.tagger.Tag(ctx, content)
	}

	id, err := im.store.InsertStyleExample(content, sourceType, sourceURL, tags, words)
	if err != nil {
		return 0, fmt.Errorf("storing style example: %w", err)
	}
	log.Printf("Added style example %d (%d words, tags=%v)", id, words, tags)
	return id, nil
}

// ImportURL stores the readable text of a web page as an example.
func (im *Importer) ImportURL(ctx context.Context, pageURL string) (int64, error) {
	if im.fetcher == nil {
		return 0, errors.New("URL import not configured")
	}
	if has, err := im.store.HasStyleSource(pageURL); err != nil {
		return 0, err
	} else if has {
		return 0, fmt.Errorf("%w: %s", ErrDuplicate, pageURL)
	}

	page, err := im.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return 0, err
	}
	return im.Add(ctx, page.Text, SourceWeb, &pageURL, nil)
}

// ImportFeed stores up to limit Hebrew items of an RSS or Atom feed. Items
// already imported, too short or not Hebrew are counted and skipped.
func (im *Importer) ImportFeed(ctx context.Context, feedURL string, limit int) (*ImportResult, error) {
	feed, err := im.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("parsing feed %s: %w", feedURL, err)
	}
	if limit <= 0 {
		limit = 20
	}

	result := &ImportResult{}
	for _, item := range feed.Items {
		if result.Imported >= limit {
			break
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}

		itemURL := item.Link
		if itemURL == "" {
			itemURL = item.GUID
		}
		if itemURL == "" {
			result.Skipped++
			continue
		}
		if has, err := im.store.HasStyleSource(itemURL); err != nil {
			return result, err
		} else if has {
			result.AlreadyHad++
			continue
		}

		content := itemText(item)
		if hebrew.CountWords(content) < MinWords && im.fetcher != nil {
			if page, err := im.fetcher.Fetch(ctx, itemURL); err == nil {
				content = page.Text
			}
		}

		if _, err := im.Add(ctx, content, SourceFeed, &itemURL, nil); err != nil {
			log.Printf("Skipping feed item %s: %v", itemURL, err)
			result.Skipped++
			continue
		}
		result.Imported++
	}

	log.Printf("Feed import complete: %d imported, %d already had, %d skipped",
		result.Imported, result.AlreadyHad, result.Skipped)
	return result, nil
}

// itemText returns the plain text of a feed item's content or description.
func itemText(item *gofeed.Item) string {
	raw := item.Content
	if raw == "" {
		raw = item.Description
	}
	if raw == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return ""
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
