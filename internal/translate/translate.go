// Package translate rewrites thread text into Hebrew, either as one
// consolidated narrative or post by post with the earlier posts as context.
package translate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/itai-hania/HFI/internal/hebrew"
	"github.com/itai-hania/HFI/internal/llm"
	"github.com/itai-hania/HFI/internal/style"
)

// Mode selects the translation strategy.
type Mode string

const (
	Consolidated Mode = "consolidated"
	Sequential   Mode = "sequential"
)

// ParseMode accepts "consolidated" or "sequential".
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case Consolidated, Sequential:
		return m, nil
	}
	return "", fmt.Errorf("unknown translation mode %q (want consolidated or sequential)", s)
}

// Unit is the result of one translation invocation. Consolidated units carry
// Text; sequential units carry Texts, index-aligned with the input posts.
type Unit struct {
	Mode  Mode
	Text  string
	Texts []string
	// ExampleIDs are the style examples shown to the model.
	ExampleIDs []int64
}

var ErrNoPosts = errors.New("nothing to translate")

// FailedError reports that no attempt produced a valid translation.
type FailedError struct {
	// Position is the 1-based post position in sequential mode, 0 otherwise.
	Position    int
	Attempts    int
	LastAttempt string
	Err         error
}

func (e *FailedError) Error() string {
	if e.Position > 0 {
		return fmt.Sprintf("post %d: translation failed after %d attempts: %v", e.Position, e.Attempts, e.Err)
	}
	return fmt.Sprintf("translation failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *FailedError) Unwrap() error { return e.Err }

// UnavailableError reports that the completion service stayed unavailable.
type UnavailableError struct {
	Position int
	Err      error
}

func (e *UnavailableError) Error() string {
	if e.Position > 0 {
		return fmt.Sprintf("post %d: completion service unavailable: %v", e.Position, e.Err)
	}
	return fmt.Sprintf("completion service unavailable: %v", e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// PartialError lists the posts that failed in sequential mode. The other
// posts of the unit are valid.
type PartialError struct {
	Errs map[int]error
}

// Positions returns the failed 1-based positions in order.
func (e *PartialError) Positions() []int {
	out := make([]int, 0, len(e.Errs))
	for p := range e.Errs {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("%d posts failed to translate (positions %v)", len(e.Errs), e.Positions())
}

func (e *PartialError) Unwrap() []error {
	out := make([]error, 0, len(e.Errs))
	for _, p := range e.Positions() {
		out = append(out, e.Errs[p])
	}
	return out
}

// Styler supplies style guidance for a source text.
type Styler interface {
	Select(ctx context.Context, sourceText string) (style.Guide, error)
}

// Options tune the engine. Zero values take defaults.
type Options struct {
	Temperature float64
	MaxAttempts int
	MaxTokens   int
}

// Engine translates thread text with a completion provider.
type Engine struct {
	provider llm.Provider
	styler   Styler
	opts     Options
}

// NewEngine creates an engine. styler may be nil.
func NewEngine(provider llm.Provider, styler Styler, opts Options) *Engine {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 4000
	}
	return &Engine{provider: provider, styler: styler, opts: opts}
}

// Translate rewrites texts with the given mode. In sequential mode a
// *PartialError is returned together with a unit whose failed slots are
// empty.
func (e *Engine) Translate(ctx context.Context, texts []string, mode Mode) (Unit, error) {
	if joinPosts(texts) == "" {
		return Unit{Mode: mode}, ErrNoPosts
	}
	switch mode {
	case Consolidated:
		return e.consolidated(ctx, texts)
	case Sequential:
		return e.sequential(ctx, texts)
	}
	return Unit{}, fmt.Errorf("unknown translation mode %q", mode)
}

func (e *Engine) consolidated(ctx context.Context, texts []string) (Unit, error) {
	unit := Unit{Mode: Consolidated}
	source := joinPosts(texts)
	if hebrew.IsHebrew(source) {
		log.Println("Thread already Hebrew, passing through")
		unit.Text = source
		return unit, nil
	}

	guide, err := e.guide(ctx, source)
	if err != nil {
		return unit, err
	}
	unit.ExampleIDs = guide.ExampleIDs()

	out, err := e.complete(ctx, BuildSystemPrompt(guide, source), BuildConsolidatedPrompt(texts))
	if err != nil {
		return unit, err
	}
	unit.Text = out
	log.Printf("Consolidated translation complete: %d posts, %d characters", len(texts), len([]rune(out)))
	return unit, nil
}

func (e *Engine) sequential(ctx context.Context, texts []string) (Unit, error) {
	unit := Unit{Mode: Sequential, Texts: make([]string, len(texts))}
	guide, err := e.guide(ctx, joinPosts(texts))
	if err != nil {
		return unit, err
	}
	unit.ExampleIDs = guide.ExampleIDs()

	failed := make(map[int]error)
	var history ContextLog
	for i, text := range texts {
		position := i + 1
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if hebrew.IsHebrew(text) {
			unit.Texts[i] = text
			history = history.With(text)
			continue
		}

		out, err := e.complete(ctx, BuildSystemPrompt(guide, text), BuildSequentialPrompt(history, text, position, len(texts)))
		if ctxErr := ctx.Err(); ctxErr != nil {
			return unit, ctxErr
		}
		if err != nil {
			failed[position] = withPosition(err, position)
			log.Printf("Post %d of %d failed: %v", position, len(texts), err)
		} else {
			unit.Texts[i] = out
		}
		history = history.With(text)
	}

	log.Printf("Sequential translation complete: %d ok, %d failed", len(texts)-len(failed), len(failed))
	if len(failed) > 0 {
		return unit, &PartialError{Errs: failed}
	}
	return unit, nil
}

func withPosition(err error, position int) error {
	var fe *FailedError
	if errors.As(err, &fe) {
		fe.Position = position
		return fe
	}
	var ue *UnavailableError
	if errors.As(err, &ue) {
		ue.Position = position
		return ue
	}
	return fmt.Errorf("post %d: %w", position, err)
}

func (e *Engine) guide(ctx context.Context, source string) (style.Guide, error) {
	if e.styler == nil {
		return style.Guide{}, nil
	}
	g, err := e.styler.Select(ctx, source)
	if err != nil {
		if ctx.Err() != nil {
			return style.Guide{}, ctx.Err()
		}
		log.Printf("Style selection failed, continuing without examples: %v", err)
		return style.Guide{}, nil
	}
	return g, nil
}

// complete asks for a translation until one validates. The prompt is the
// same on every attempt.
func (e *Engine) complete(ctx context.Context, system, user string) (string, error) {
	if e.provider == nil {
		return "", &UnavailableError{Err: fmt.Errorf("%w: no provider configured", llm.ErrUnavailable)}
	}
	req := llm.Request{
		System:      system,
		User:        user,
		Temperature: e.opts.Temperature,
		MaxTokens:   e.opts.MaxTokens,
	}

	var last string
	var lastErr error
	for attempt := 1; attempt <= e.opts.MaxAttempts; attempt++ {
		out, err := e.provider.Complete(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			if errors.Is(err, llm.ErrUnavailable) {
				return "", &UnavailableError{Err: err}
			}
			return "", fmt.Errorf("completion: %w", err)
		}
		out = strings.TrimSpace(out)
		if verr := Validate(out); verr != nil {
			log.Printf("Validation failed (attempt %d/%d): %v", attempt, e.opts.MaxAttempts, verr)
			last, lastErr = out, verr
			continue
		}
		return out, nil
	}
	return "", &FailedError{Attempts: e.opts.MaxAttempts, LastAttempt: last, Err: lastErr}
}
