// Package thread drives a browser session through one reply thread and turns
// what it renders into ordered, deduplicated posts.
package thread

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// MediaType classifies a media reference.
type MediaType string

const (
	Photo MediaType = "photo"
	Video MediaType = "video"
)

// MediaRef is a media item attached to a post.
type MediaRef struct {
	PostID    string    `json:"post_id"`
	Type      MediaType `json:"type"`
	SourceURI string    `json:"source_uri"`
}

// Post is one message of a thread as rendered by the site. Posts are not
// modified after traversal returns them.
type Post struct {
	ID           string
	AuthorHandle string
	Text         string
	Position     int
	Permalink    string
	Timestamp    time.Time
	Media        []MediaRef
}

// StopReason records which condition ended a traversal.
type StopReason string

const (
	StopAuthorChanged StopReason = "author_changed"
	StopEndOfThread   StopReason = "end_of_thread"
	StopBudget        StopReason = "budget_exhausted"
	StopNavFailed     StopReason = "navigation_failed"
	StopAuthExpired   StopReason = "auth_expired"
)

// Result is the outcome of one traversal. It is passed by value between stages.
type Result struct {
	RootURL      string
	AuthorHandle string
	Posts        []Post
	// Resources are network URIs observed before the stop condition fired.
	Resources    []string
	StopReason   StopReason
	Interactions int
	CollectedAt  time.Time
}

// Texts returns the post texts in traversal order.
func (r Result) Texts() []string {
	out := make([]string, len(r.Posts))
	for i, p := range r.Posts {
		out[i] = p.Text
	}
	return out
}

// Browser is the capability a traversal needs from an authenticated browser
// session. Implementations return ErrAuthExpired when the session has been
// logged out.
type Browser interface {
	Navigate(ctx context.Context, url string) error
	// Snapshot returns the HTML of the currently rendered page.
	Snapshot(ctx context.Context) (string, error)
	// ExpandReplies clicks collapsed reply affordances and returns how many
	// were clicked.
	ExpandReplies(ctx context.Context) (int, error)
	Scroll(ctx context.Context, pixels int) error
	// Resources returns the media-related network URIs observed so far.
	Resources() []string
}

var (
	// ErrAuthExpired means the browsing session is no longer logged in.
	ErrAuthExpired = errors.New("browser session is not authenticated")
	// ErrEmptyThread means the root post could not be found on the page.
	ErrEmptyThread = errors.New("thread has no posts")
	ErrInvalidURL  = errors.New("not a post URL")
)

// NavigationError reports a page that stayed unreachable after retries.
// Posts collected before the failure are still returned with it.
type NavigationError struct {
	URL      string
	Op       string
	Attempts int
	Err      error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("%s %s failed after %d attempts: %v", e.Op, e.URL, e.Attempts, e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }

var statusURLRe = regexp.MustCompile(`^(?:https?://)?(?:www\.|mobile\.)?(?:x|twitter)\.com/([A-Za-z0-9_]{1,15})/status/(\d+)`)
var statusPathRe = regexp.MustCompile(`^/([A-Za-z0-9_]{1,15})/status/(\d+)`)

// ParseStatusURL extracts the author handle and status id from a post URL.
func ParseStatusURL(raw string) (handle, id string, err error) {
	m := statusURLRe.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	return m[1], m[2], nil
}

// Permalink builds the canonical URL for a status.
func Permalink(handle, id string) string {
	return "https://x.com/" + handle + "/status/" + id
}
