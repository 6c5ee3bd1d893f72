package thread

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"
)

// Options bound one traversal.
type Options struct {
	// MaxInteractions caps navigate, expand and scroll actions for a single
	// Traverse call, retries included. It is never reset.
	MaxInteractions int
	MaxIdleScrolls  int
	ScrollPixels    int
	Settle          time.Duration
	NavRetries      int
	RetryBackoff    time.Duration
}

// DefaultOptions mirrors the shipped configuration.
func DefaultOptions() Options {
	return Options{
		MaxInteractions: 50,
		MaxIdleScrolls:  3,
		ScrollPixels:    1000,
		Settle:          1500 * time.Millisecond,
		NavRetries:      3,
		RetryBackoff:    time.Second,
	}
}

// Traverser walks a thread through a Browser.
type Traverser struct {
	browser Browser
	opts    Options
	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time
}

// NewTraverser creates a traverser over an existing browser session.
func NewTraverser(b Browser, opts Options) *Traverser {
	return &Traverser{browser: b, opts: opts, sleep: sleepCtx, now: time.Now}
}

// errBudget is internal: it ends the loop without being surfaced.
var errBudget = errors.New("interaction budget exhausted")

// budget counts interactions for one traversal.
type budget struct {
	limit, used int
}

func (b *budget) spend() error {
	if b.used >= b.limit {
		return errBudget
	}
	b.used++
	return nil
}

// buffer holds posts keyed by permalink in traversal order.
type buffer struct {
	rootID     string
	rootAuthor string
	seenRoot   bool
	ancestors  map[string]bool
	known      map[string]bool
	posts      []Post
}

func newBuffer(rootID string) *buffer {
	return &buffer{rootID: rootID, ancestors: map[string]bool{}, known: map[string]bool{}}
}

// absorb adds the new posts of a snapshot. It returns how many were added and
// whether a post by another author was reached under author matching.
func (b *buffer) absorb(snapshot []Post, authorMatch bool) (added int, authorChanged bool) {
	rootIdx := -1
	for i, p := range snapshot {
		if p.ID == b.rootID {
			rootIdx = i
			break
		}
	}

	for i, p := range snapshot {
		// Posts rendered above the root are the conversation it replies to.
		if rootIdx >= 0 && i < rootIdx {
			b.ancestors[p.Permalink] = true
			continue
		}
		if rootIdx < 0 && !b.seenRoot {
			b.ancestors[p.Permalink] = true
			continue
		}
		if b.ancestors[p.Permalink] || b.known[p.Permalink] {
			continue
		}
		if p.ID == b.rootID {
			b.seenRoot = true
			b.rootAuthor = p.AuthorHandle
		}
		if authorMatch && !strings.EqualFold(p.AuthorHandle, b.rootAuthor) {
			return added, true
		}
		b.known[p.Permalink] = true
		p.Position = len(b.posts) + 1
		b.posts = append(b.posts, p)
		added++
	}
	return added, false
}

// Traverse collects the posts of the thread rooted at rootURL. With
// authorMatch it stops at the first post whose author differs from the root's.
//
// On a persistent navigation failure it returns the posts collected so far
// together with a *NavigationError. ErrAuthExpired is returned as soon as the
// browser reports it.
func (t *Traverser) Traverse(ctx context.Context, rootURL string, authorMatch bool) (Result, error) {
	handle, rootID, err := ParseStatusURL(rootURL)
	if err != nil {
		return Result{RootURL: rootURL}, err
	}

	res := Result{RootURL: rootURL, AuthorHandle: handle, CollectedAt: t.now().UTC()}
	buf := newBuffer(rootID)
	bud := &budget{limit: t.opts.MaxInteractions}

	finish := func(reason StopReason, err error) (Result, error) {
		res.Posts = buf.posts
		if buf.rootAuthor != "" {
			res.AuthorHandle = buf.rootAuthor
		}
		res.StopReason = reason
		res.Interactions = bud.used
		res.Resources = t.browser.Resources()
		log.Printf("Traversal of %s stopped (%s) with %d posts after %d interactions",
			rootURL, reason, len(res.Posts), bud.used)
		if err == nil && len(res.Posts) == 0 {
			err = ErrEmptyThread
		}
		return res, err
	}

	err = t.retry(ctx, rootURL, "navigate", func() error {
		if err := bud.spend(); err != nil {
			return err
		}
		return t.browser.Navigate(ctx, rootURL)
	})
	if stop, err := t.classify(err); stop != "" {
		return finish(stop, err)
	}
	if err := t.sleep(ctx, t.opts.Settle); err != nil {
		return finish(StopNavFailed, err)
	}

	idle := 0
	scrolled := false
	for {
		var snap Snapshot
		err := t.retry(ctx, rootURL, "read", func() error {
			page, err := t.browser.Snapshot(ctx)
			if err != nil {
				return err
			}
			snap, err = ParseSnapshot(page)
			return err
		})
		if stop, err := t.classify(err); stop != "" {
			return finish(stop, err)
		}

		added, authorChanged := buf.absorb(snap.Posts, authorMatch)
		if authorChanged {
			return finish(StopAuthorChanged, nil)
		}
		if scrolled {
			if added == 0 {
				idle++
			} else {
				idle = 0
			}
		}
		if idle >= t.opts.MaxIdleScrolls {
			return finish(StopEndOfThread, nil)
		}

		if snap.Collapsed > 0 {
			var clicked int
			err := t.retry(ctx, rootURL, "expand", func() error {
				if err := bud.spend(); err != nil {
					return err
				}
				var err error
				clicked, err = t.browser.ExpandReplies(ctx)
				return err
			})
			if stop, err := t.classify(err); stop != "" {
				return finish(stop, err)
			}
			if clicked > 0 {
				scrolled = false
				if err := t.sleep(ctx, t.opts.Settle); err != nil {
					return finish(StopNavFailed, err)
				}
				continue
			}
		}

		err = t.retry(ctx, rootURL, "scroll", func() error {
			if err := bud.spend(); err != nil {
				return err
			}
			return t.browser.Scroll(ctx, t.opts.ScrollPixels)
		})
		if stop, err := t.classify(err); stop != "" {
			return finish(stop, err)
		}
		scrolled = true
		if err := t.sleep(ctx, t.opts.Settle); err != nil {
			return finish(StopNavFailed, err)
		}
	}
}

// classify maps a step error to a stop reason; an empty reason means continue.
func (t *Traverser) classify(err error) (StopReason, error) {
	switch {
	case err == nil:
		return "", nil
	case errors.Is(err, errBudget):
		return StopBudget, nil
	case errors.Is(err, ErrAuthExpired):
		return StopAuthExpired, err
	default:
		return StopNavFailed, err
	}
}

// retry runs fn until it succeeds, the session expires or retries run out.
func (t *Traverser) retry(ctx context.Context, url, op string, fn func() error) error {
	attempts := t.opts.NavRetries + 1
	var last error
	for i := 0; i < attempts; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrAuthExpired) || errors.Is(err, errBudget) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		last = err
		if i == attempts-1 {
			break
		}
		backoff := t.opts.RetryBackoff << i
		log.Printf("%s %s failed (attempt %d/%d), retrying in %s: %v", op, url, i+1, attempts, backoff, err)
		if err := t.sleep(ctx, backoff); err != nil {
			return err
		}
	}
	return &NavigationError{URL: url, Op: op, Attempts: attempts, Err: last}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
