package translate

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itai-hania/HFI/internal/llm"
	"github.com/itai-hania/HFI/internal/style"
)

// stubProvider replays replies in order and records every request.
type stubProvider struct {
	mu       sync.Mutex
	replies  []string
	fallback string
	err      error
	requests []llm.Request
}

func (s *stubProvider) Complete(ctx context.Context, req llm.Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.err != nil {
		return "", s.err
	}
	if len(s.replies) > 0 {
		r := s.replies[0]
		s.replies = s.replies[1:]
		return r, nil
	}
	return s.fallback, nil
}

func (s *stubProvider) IsConfigured() bool { return true }

// echoProvider answers with a Hebrew sentence derived from the current post.
type echoProvider struct {
	stubProvider
	byPost map[string]string
}

func (e *echoProvider) Complete(ctx context.Context, req llm.Request) (string, error) {
	e.stubProvider.Complete(ctx, req)
	for src, out := range e.byPost {
		if strings.Contains(req.User, "\n"+src+"\n\nTranscreate") {
			return out, nil
		}
	}
	return "English only reply", nil
}

type stubStyler struct {
	guide style.Guide
	err   error
}

func (s *stubStyler) Select(ctx context.Context, sourceText string) (style.Guide, error) {
	return s.guide, s.err
}

const hebrewParagraph = "חדשות מרעישות ברשת X: החברה מפרסמת פרטים נוספים ומסכמת במחשבות אחרונות על העתיד."

var threePosts = []string{"Breaking news on X", "More details here", "Final thoughts"}

func TestConsolidatedEndToEnd(t *testing.T) {
	p := &stubProvider{fallback: hebrewParagraph}
	e := NewEngine(p, nil, Options{Temperature: 0.7})

	unit, err := e.Translate(context.Background(), threePosts, Consolidated)
	require.NoError(t, err)
	assert.Equal(t, Consolidated, unit.Mode)
	assert.Equal(t, hebrewParagraph, unit.Text)
	assert.Empty(t, unit.Texts)
	assert.NoError(t, Validate(unit.Text))

	require.Len(t, p.requests, 1)
	req := p.requests[0]
	assert.Equal(t, 0.7, req.Temperature)
	assert.Contains(t, req.User, "Breaking news on X\n\nMore details here\n\nFinal thoughts")
	assert.NotContains(t, req.User, "---")
}

func TestConsolidatedRejectsMarkersAndSeparators(t *testing.T) {
	p := &stubProvider{replies: []string{
		"1/ חדשות מרעישות ברשת\n2/ פרטים נוספים\n3/ מחשבות אחרונות",
		"חדשות מרעישות ברשת\n---\nפרטים נוספים ומחשבות אחרונות",
		"חדשות מרעישות 1/5 ברשת X והחברה מפרסמת 2/5 פרטים נוספים",
		hebrewParagraph,
	}}
	e := NewEngine(p, nil, Options{MaxAttempts: 4})

	unit, err := e.Translate(context.Background(), threePosts, Consolidated)
	require.NoError(t, err)
	assert.Len(t, p.requests, 4)
	for _, bad := range []string{"1/", "2/", "1/5", "---"} {
		assert.NotContains(t, unit.Text, bad)
	}
}

func TestNonHebrewFailsAfterThreeAttempts(t *testing.T) {
	p := &stubProvider{fallback: "This is still English, sorry."}
	e := NewEngine(p, nil, Options{})

	_, err := e.Translate(context.Background(), threePosts, Consolidated)
	var fe *FailedError
	require.True(t, errors.As(err, &fe), "expected FailedError, got %v", err)
	assert.Equal(t, 3, fe.Attempts)
	assert.Equal(t, "This is still English, sorry.", fe.LastAttempt)
	var ve *ValidationError
	assert.True(t, errors.As(err, &ve))

	require.Len(t, p.requests, 3)
	for _, r := range p.requests[1:] {
		assert.Equal(t, p.requests[0], r, "retries must reuse the same prompt")
	}
}

func TestUnavailableSurfaces(t *testing.T) {
	p := &stubProvider{err: &llm.StatusError{Provider: "OpenAI", Code: 503}}
	e := NewEngine(p, nil, Options{})

	_, err := e.Translate(context.Background(), threePosts, Consolidated)
	var ue *UnavailableError
	require.True(t, errors.As(err, &ue))
	assert.ErrorIs(t, err, llm.ErrUnavailable)
	assert.Len(t, p.requests, 1)
}

func TestFinalProviderErrorNotRetried(t *testing.T) {
	p := &stubProvider{err: &llm.StatusError{Provider: "OpenAI", Code: 401}}
	_, err := NewEngine(p, nil, Options{}).Translate(context.Background(), threePosts, Consolidated)
	require.Error(t, err)
	assert.NotErrorIs(t, err, llm.ErrUnavailable)
	assert.Len(t, p.requests, 1)
}

func TestNoProvider(t *testing.T) {
	_, err := NewEngine(nil, nil, Options{}).Translate(context.Background(), threePosts, Consolidated)
	assert.ErrorIs(t, err, llm.ErrUnavailable)
}

func TestHebrewPassThrough(t *testing.T) {
	p := &stubProvider{}
	e := NewEngine(p, nil, Options{})

	unit, err := e.Translate(context.Background(), []string{"שלום לכולם", "עוד פוסט בעברית"}, Consolidated)
	require.NoError(t, err)
	assert.Equal(t, "שלום לכולם\n\nעוד פוסט בעברית", unit.Text)

	unit, err = e.Translate(context.Background(), []string{"שלום לכולם", "עוד פוסט בעברית"}, Sequential)
	require.NoError(t, err)
	assert.Equal(t, []string{"שלום לכולם", "עוד פוסט בעברית"}, unit.Texts)
	assert.Empty(t, p.requests)
}

func TestNothingToTranslate(t *testing.T) {
	_, err := NewEngine(&stubProvider{}, nil, Options{}).Translate(context.Background(), []string{" ", ""}, Sequential)
	assert.ErrorIs(t, err, ErrNoPosts)
}

func TestSequentialPromptCarriesSourceContext(t *testing.T) {
	p := &echoProvider{byPost: map[string]string{
		"Breaking news on X": "חדשות מרעישות ברשת",
		"More details here":  "הנה עוד פרטים",
		"Final thoughts":     "מחשבות אחרונות",
	}}
	e := NewEngine(p, nil, Options{})

	unit, err := e.Translate(context.Background(), threePosts, Sequential)
	require.NoError(t, err)
	assert.Equal(t, Sequential, unit.Mode)
	assert.Equal(t, []string{"חדשות מרעישות ברשת", "הנה עוד פרטים", "מחשבות אחרונות"}, unit.Texts)

	require.Len(t, p.requests, 3)
	third := p.requests[2].User
	assert.Contains(t, third, "Breaking news on X")
	assert.Contains(t, third, "More details here")
	assert.NotContains(t, third, "חדשות מרעישות ברשת")
	assert.NotContains(t, third, "הנה עוד פרטים")
	assert.NotContains(t, p.requests[0].User, "EARLIER POSTS")
}

func TestSequentialIsolatesFailures(t *testing.T) {
	p := &echoProvider{byPost: map[string]string{
		"Breaking news on X": "חדשות מרעישות ברשת",
		"Final thoughts":     "מחשבות אחרונות",
	}}
	e := NewEngine(p, nil, Options{})

	unit, err := e.Translate(context.Background(), threePosts, Sequential)
	var pe *PartialError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, []int{2}, pe.Positions())
	assert.Equal(t, []string{"חדשות מרעישות ברשת", "", "מחשבות אחרונות"}, unit.Texts)

	var fe *FailedError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, 2, fe.Position)
	assert.Equal(t, "English only reply", fe.LastAttempt)

	// 1 + 3 attempts + 1; the failed post still enters the context.
	require.Len(t, p.requests, 5)
	assert.Contains(t, p.requests[4].User, "More details here")
}

func TestSequentialCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &stubProvider{err: context.Canceled}
	_, err := NewEngine(p, nil, Options{}).Translate(ctx, threePosts, Sequential)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, p.requests, 1)
}

func TestStyleGuideInPrompt(t *testing.T) {
	guide := style.Guide{
		Examples:    []style.Example{{ID: 7, Content: "דוגמת סגנון על שוק ההון"}},
		Glossary:    []style.Term{{English: "ETF", Hebrew: "קרן סל"}},
		KeepEnglish: []string{"API", "ETF"},
	}
	p := &stubProvider{fallback: hebrewParagraph}
	e := NewEngine(p, &stubStyler{guide: guide}, Options{})

	unit, err := e.Translate(context.Background(), []string{"New ETF from @blackrock https://t.co/abc #markets"}, Consolidated)
	require.NoError(t, err)
	assert.Equal(t, []int64{7}, unit.ExampleIDs)

	sys := p.requests[0].System
	assert.Contains(t, sys, "דוגמת סגנון על שוק ההון")
	assert.Contains(t, sys, "- ETF: קרן סל")
	assert.Contains(t, sys, "API, ETF")
	assert.Contains(t, sys, "https://t.co/abc")
	assert.Contains(t, sys, "@blackrock")
	assert.Contains(t, sys, "#markets")
}

func TestStyleErrorIsNotFatal(t *testing.T) {
	p := &stubProvider{fallback: hebrewParagraph}
	e := NewEngine(p, &stubStyler{err: errors.New("db locked")}, Options{})
	_, err := e.Translate(context.Background(), threePosts, Consolidated)
	assert.NoError(t, err)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode(" Sequential ")
	require.NoError(t, err)
	assert.Equal(t, Sequential, m)
	_, err = ParseMode("summary")
	assert.Error(t, err)
}
