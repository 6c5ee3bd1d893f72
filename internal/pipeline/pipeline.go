// Package pipeline runs a thread through traversal, persistence, media
// download and translation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/itai-hania/HFI/internal/config"
	"github.com/itai-hania/HFI/internal/database"
	"github.com/itai-hania/HFI/internal/llm"
	"github.com/itai-hania/HFI/internal/media"
	"github.com/itai-hania/HFI/internal/style"
	"github.com/itai-hania/HFI/internal/thread"
	"github.com/itai-hania/HFI/internal/translate"
)

// StepResult holds the result of a single pipeline step.
type StepResult struct {
	Name    string
	Summary string
	Err     error
}

// Result holds the results of a pipeline run.
type Result struct {
	ThreadID int64
	Steps    []StepResult
}

func (r *Result) add(s StepResult) StepResult {
	r.Steps = append(r.Steps, s)
	return s
}

// Options select what a run does.
type Options struct {
	Mode          translate.Mode
	AuthorMatch   bool
	SkipMedia     bool
	SkipTranslate bool
}

// Deps are the collaborators a pipeline is built from. Nil fields are
// created from the configuration, except Browser, which only Run and DryRun
// need.
type Deps struct {
	Browser   thread.Browser
	Provider  llm.Provider
	Extractor media.Extractor
}

// Pipeline orchestrates thread acquisition and translation. It is the only
// writer of thread and post status; the media branch writes post media only.
type Pipeline struct {
	cfg        *config.Config
	db         *database.DB
	traverser  *thread.Traverser
	downloader *media.Downloader
	engine     *translate.Engine
}

// NewProvider returns the configured completion provider behind the call
// budget, or nil when none is available.
func NewProvider(cfg *config.Config) llm.Provider {
	c := cfg.Completion
	p := llm.CreateProvider(c.Provider, c.Model, c.OllamaURL, c.OpenAIModel, c.OpenAIURL, c.APIKeyEnv)
	if p == nil {
		return nil
	}
	return llm.NewLimited(p, c.CallsPerHour, c.MaxRetries)
}

// New creates a new pipeline.
func New(cfg *config.Config, db *database.DB, deps Deps) *Pipeline {
	p := &Pipeline{cfg: cfg, db: db}

	if deps.Browser != nil {
		tr := cfg.Traversal
		opts := thread.DefaultOptions()
		opts.MaxInteractions = tr.MaxInteractions
		opts.MaxIdleScrolls = tr.MaxIdleScrolls
		opts.ScrollPixels = tr.ScrollPixels
		opts.Settle = tr.Settle()
		opts.NavRetries = tr.NavRetries
		p.traverser = thread.NewTraverser(deps.Browser, opts)
	}

	m := cfg.Media
	extractor := deps.Extractor
	if extractor == nil {
		extractor = &media.YtDlp{
			Path:      m.YtDlpPath,
			Timeout:   time.Duration(m.VideoTimeout) * time.Second,
			MaxOutput: m.MaxToolOutput,
		}
	}
	p.downloader = media.NewDownloader(cfg.GetMediaDir(), extractor, media.Options{
		Workers:       m.Workers,
		MaxPhotoBytes: m.MaxPhotoBytes,
		MaxVideoBytes: m.MaxVideoBytes,
		PhotoTimeout:  time.Duration(m.PhotoTimeout) * time.Second,
	})

	provider := deps.Provider
	if provider == nil {
		provider = NewProvider(cfg)
	}
	tc := cfg.Translation
	selector := style.NewSelector(db, style.Options{
		MinExamples: tc.MinExamples,
		MaxExamples: tc.MaxExamples,
		Glossary:    tc.Glossary,
		KeepEnglish: tc.KeepEnglish,
	})
	p.engine = translate.NewEngine(provider, selector, translate.Options{
		Temperature: tc.Temperature,
		MaxAttempts: tc.MaxAttempts,
		MaxTokens:   cfg.Completion.MaxTokens,
	})
	return p
}

// Run acquires the thread at rootURL and processes it. Posts collected
// before a navigation failure are still stored and processed; the failure is
// returned alongside the result. Expired sessions and empty threads end the
// run after whatever was collected is stored.
func (p *Pipeline) Run(ctx context.Context, rootURL string, opts Options) (*Result, error) {
	r := &Result{}
	if p.traverser == nil {
		return r, errors.New("no browser session configured")
	}

	log.Println("Step 1/4: Traversing thread...")
	res, travErr := p.traverser.Traverse(ctx, rootURL, opts.AuthorMatch)
	step := r.add(StepResult{
		Name:    "Traverse",
		Summary: fmt.Sprintf("Collected %d posts by @%s (stop: %s, %d interactions)", len(res.Posts), res.AuthorHandle, res.StopReason, res.Interactions),
		Err:     travErr,
	})
	if len(res.Posts) == 0 {
		return r, step.Err
	}

	refs := media.Collect(res)
	res = attachMedia(res, refs)

	log.Println("Step 2/4: Saving posts...")
	threadID, err := p.db.SaveThread(res)
	r.add(StepResult{Name: "Persist", Summary: fmt.Sprintf("Saved thread #%d with %d posts and %d media items", threadID, len(res.Posts), len(refs)), Err: err})
	if err != nil {
		return r, err
	}
	r.ThreadID = threadID

	if errors.Is(travErr, thread.ErrAuthExpired) {
		return r, travErr
	}

	posts, err := p.mergeMedia(threadID, refs)
	if err != nil {
		return r, err
	}

	log.Println("Step 3/4: Downloading media and translating...")
	var mediaStep, translateStep StepResult
	var g errgroup.Group
	g.Go(func() error {
		mediaStep = p.mediaBranch(ctx, posts, opts.SkipMedia)
		return nil
	})
	var unit translate.Unit
	var trErr error
	if !opts.SkipTranslate {
		g.Go(func() error {
			unit, trErr = p.engine.Translate(ctx, postTexts(posts), opts.Mode)
			return nil
		})
	}
	g.Wait()
	r.add(mediaStep)

	if opts.SkipTranslate {
		return r, travErr
	}

	log.Println("Step 4/4: Saving translation...")
	translateStep = p.applyTranslation(ctx, threadID, posts, opts.Mode, unit, trErr)
	r.add(translateStep)
	return r, travErr
}

// DryRun traverses the thread and reports what a run would store, download
// and translate, without writing anything.
func (p *Pipeline) DryRun(ctx context.Context, rootURL string, opts Options) (*Result, error) {
	r := &Result{}
	if p.traverser == nil {
		return r, errors.New("no browser session configured")
	}

	res, err := p.traverser.Traverse(ctx, rootURL, opts.AuthorMatch)
	r.add(StepResult{
		Name:    "Traverse",
		Summary: fmt.Sprintf("[dry-run] %d posts by @%s (stop: %s)", len(res.Posts), res.AuthorHandle, res.StopReason),
		Err:     err,
	})
	if len(res.Posts) == 0 {
		return r, err
	}

	existing, dbErr := p.db.GetThreadByURL(res.RootURL)
	if dbErr != nil {
		r.add(StepResult{Name: "Persist", Err: dbErr})
		return r, fmt.Errorf("looking up stored thread: %w", dbErr)
	}
	if existing != nil {
		r.add(StepResult{Name: "Persist", Summary: fmt.Sprintf("[dry-run] Would update thread #%d", existing.ID)})
	} else {
		r.add(StepResult{Name: "Persist", Summary: "[dry-run] Would create a new thread"})
	}

	refs := media.Collect(res)
	photos := 0
	for _, ref := range refs {
		if ref.Type == thread.Photo {
			photos++
		}
	}
	r.add(StepResult{Name: "Media", Summary: fmt.Sprintf("[dry-run] %d photos, %d videos", photos, len(refs)-photos)})
	r.add(StepResult{Name: "Translate", Summary: fmt.Sprintf("[dry-run] Would translate %d posts (%s)", len(res.Posts), opts.Mode)})
	return r, err
}

// RetryTranslation translates a stored thread again.
func (p *Pipeline) RetryTranslation(ctx context.Context, threadID int64, mode translate.Mode) (*Result, error) {
	r := &Result{ThreadID: threadID}
	posts, err := p.storedPosts(threadID)
	if err != nil {
		return r, err
	}
	unit, trErr := p.engine.Translate(ctx, postTexts(posts), mode)
	r.add(p.applyTranslation(ctx, threadID, posts, mode, unit, trErr))
	return r, nil
}

// RedownloadMedia downloads the stored media of a thread that is not yet
// stored locally.
func (p *Pipeline) RedownloadMedia(ctx context.Context, threadID int64) (*Result, error) {
	r := &Result{ThreadID: threadID}
	posts, err := p.storedPosts(threadID)
	if err != nil {
		return r, err
	}
	r.add(p.mediaBranch(ctx, posts, false))
	return r, nil
}

func (p *Pipeline) storedPosts(threadID int64) ([]database.Post, error) {
	th, err := p.db.GetThread(threadID)
	if err != nil {
		return nil, err
	}
	if th == nil {
		return nil, fmt.Errorf("thread %d not found", threadID)
	}
	return p.db.GetPosts(threadID)
}

// attachMedia replaces each post's DOM media with the collected refs.
func attachMedia(res thread.Result, refs []thread.MediaRef) thread.Result {
	byPost := make(map[string][]thread.MediaRef)
	for _, ref := range refs {
		byPost[ref.PostID] = append(byPost[ref.PostID], ref)
	}
	posts := make([]thread.Post, len(res.Posts))
	for i, post := range res.Posts {
		post.Media = byPost[post.ID]
		posts[i] = post
	}
	res.Posts = posts
	return res
}

// mergeMedia folds newly collected refs into the media already stored for
// each post and returns the posts in order.
func (p *Pipeline) mergeMedia(threadID int64, refs []thread.MediaRef) ([]database.Post, error) {
	posts, err := p.db.GetPosts(threadID)
	if err != nil {
		return nil, err
	}
	byPost := make(map[string][]thread.MediaRef)
	for _, ref := range refs {
		byPost[ref.PostID] = append(byPost[ref.PostID], ref)
	}
	for i := range posts {
		merged := media.Merge(posts[i].Media, byPost[posts[i].StatusID])
		if len(merged) == len(posts[i].Media) {
			continue
		}
		if err := p.db.UpdatePostMedia(posts[i].ID, merged); err != nil {
			return nil, fmt.Errorf("saving media of post %d: %w", posts[i].ID, err)
		}
		posts[i].Media = merged
	}
	return posts, nil
}

func (p *Pipeline) mediaBranch(ctx context.Context, posts []database.Post, skip bool) StepResult {
	var items []media.Download
	for _, post := range posts {
		items = append(items, post.Media...)
	}
	if len(items) == 0 {
		return StepResult{Name: "Media", Summary: "No media"}
	}

	var updated []media.Download
	var summary string
	if skip {
		var skipped int
		updated, skipped = media.Skip(items)
		summary = fmt.Sprintf("Skipped %d media items", skipped)
	} else {
		var res *media.Result
		updated, res = p.downloader.DownloadAll(ctx, items)
		summary = fmt.Sprintf("Downloaded %d, %d already stored, %d failed", res.Downloaded, res.AlreadyDone, res.Failed)
	}

	grouped := media.ByPost(updated)
	var errs []error
	for _, post := range posts {
		if len(post.Media) == 0 {
			continue
		}
		if err := p.db.UpdatePostMedia(post.ID, grouped[post.StatusID]); err != nil {
			errs = append(errs, fmt.Errorf("post %d: %w", post.ID, err))
		}
	}
	return StepResult{Name: "Media", Summary: summary, Err: errors.Join(errs...)}
}

func (p *Pipeline) applyTranslation(ctx context.Context, threadID int64, posts []database.Post, mode translate.Mode, unit translate.Unit, trErr error) StepResult {
	step := StepResult{Name: "Translate"}
	if ctx.Err() != nil {
		step.Err = ctx.Err()
		step.Summary = "Cancelled"
		return step
	}

	var writeErrs []error
	write := func(err error) {
		if err != nil {
			writeErrs = append(writeErrs, err)
		}
	}

	switch {
	case mode == translate.Sequential && (trErr == nil || isPartial(trErr)):
		failed := map[int]error{}
		var pe *translate.PartialError
		if errors.As(trErr, &pe) {
			failed = pe.Errs
		}
		translated := 0
		for i, post := range posts {
			if err, ok := failed[i+1]; ok {
				write(p.db.SetPostTranslation(post.ID, lastAttempt(err), database.StatusFailed, strPtr(err.Error())))
				continue
			}
			// Media-only posts have nothing to translate and stay pending.
			if strings.TrimSpace(post.Text) == "" {
				continue
			}
			text := unit.Texts[i]
			write(p.db.SetPostTranslation(post.ID, &text, database.StatusTranslated, nil))
			translated++
		}
		if len(failed) > 0 {
			write(p.db.SetThreadTranslation(threadID, string(mode), nil, database.StatusFailed, strPtr(trErr.Error())))
			step.Err = trErr
			step.Summary = fmt.Sprintf("Translated %d of %d posts", translated, len(posts))
		} else {
			write(p.db.SetThreadTranslation(threadID, string(mode), nil, database.StatusTranslated, nil))
			step.Summary = fmt.Sprintf("Translated %d posts", translated)
		}

	case trErr != nil:
		write(p.db.SetThreadTranslation(threadID, string(mode), lastAttempt(trErr), database.StatusFailed, strPtr(trErr.Error())))
		step.Err = trErr
		step.Summary = "Translation failed"

	default:
		text := unit.Text
		write(p.db.SetThreadTranslation(threadID, string(mode), &text, database.StatusTranslated, nil))
		step.Summary = fmt.Sprintf("Consolidated translation: %d characters", len([]rune(text)))
	}

	if len(writeErrs) > 0 {
		step.Err = errors.Join(append([]error{step.Err}, writeErrs...)...)
	}
	return step
}

func isPartial(err error) bool {
	var pe *translate.PartialError
	return errors.As(err, &pe)
}

// lastAttempt returns the rejected output kept for diagnosis, if any.
func lastAttempt(err error) *string {
	var fe *translate.FailedError
	if errors.As(err, &fe) && fe.LastAttempt != "" {
		return &fe.LastAttempt
	}
	return nil
}

func postTexts(posts []database.Post) []string {
	out := make([]string, len(posts))
	for i, post := range posts {
		out[i] = post.Text
	}
	return out
}

func strPtr(s string) *string {
	s = strings.TrimSpace(s)
	return &s
}
