// Package style picks Hebrew writing samples and terminology that steer a
// translation toward the house style.
package style

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/itai-hania/HFI/internal/database"
)

// Corpus is the store of style examples.
type Corpus interface {
	ActiveStyleExamples() ([]database.StyleExample, error)
}

// Options tune selection. Zero values take defaults.
type Options struct {
	MinExamples      int
	MaxExamples      int
	MaxExampleChars  int
	MaxGlossaryTerms int
	Glossary         map[string]string
	KeepEnglish      []string
}

func (o Options) withDefaults() Options {
	if o.MaxExamples <= 0 {
		o.MaxExamples = 5
	}
	if o.MinExamples <= 0 {
		o.MinExamples = 3
	}
	if o.MinExamples > o.MaxExamples {
		o.MinExamples = o.MaxExamples
	}
	if o.MaxExampleChars <= 0 {
		o.MaxExampleChars = 800
	}
	if o.MaxGlossaryTerms <= 0 {
		o.MaxGlossaryTerms = 20
	}
	return o
}

// Example is a selected style sample, already truncated for prompting.
type Example struct {
	ID      int64
	Content string
	Tags    []string
}

// Term is one glossary entry.
type Term struct {
	English string
	Hebrew  string
}

// Guide is everything a prompt needs to imitate the house style.
type Guide struct {
	Examples    []Example
	Glossary    []Term
	KeepEnglish []string
	// Tags are the topic tags detected in the source text.
	Tags []string
}

// ExampleIDs returns the IDs of the selected examples.
func (g Guide) ExampleIDs() []int64 {
	ids := make([]int64, len(g.Examples))
	for i, e := range g.Examples {
		ids[i] = e.ID
	}
	return ids
}

// Selector builds Guides from a corpus.
type Selector struct {
	corpus Corpus
	opts   Options
	now    func() time.Time
}

// NewSelector creates a selector. A nil corpus yields guides without examples.
func NewSelector(corpus Corpus, opts Options) *Selector {
	return &Selector{corpus: corpus, opts: opts.withDefaults(), now: time.Now}
}

// Select picks examples whose topic tags overlap the source text, ranked by
// overlap, recency and reviewer feedback. When fewer than MinExamples match,
// the most recent examples fill the gap.
func (s *Selector) Select(ctx context.Context, sourceText string) (Guide, error) {
	if err := ctx.Err(); err != nil {
		return Guide{}, err
	}

	tags := ExtractTags(sourceText)
	guide := Guide{
		Tags:        tags,
		Glossary:    RelevantGlossary(s.opts.Glossary, sourceText, s.opts.MaxGlossaryTerms),
		KeepEnglish: s.opts.KeepEnglish,
	}
	if s.corpus == nil {
		return guide, nil
	}

	all, err := s.corpus.ActiveStyleExamples()
	if err != nil {
		return Guide{}, fmt.Errorf("loading style examples: %w", err)
	}

	picked := s.rank(all, tags)
	if len(picked) < s.opts.MinExamples {
		chosen := make(map[int64]bool, len(picked))
		for _, e := range picked {
			chosen[e.ID] = true
		}
		for _, e := range newestFirst(all) {
			if len(picked) >= s.opts.MinExamples {
				break
			}
			if !chosen[e.ID] {
				picked = append(picked, e)
				chosen[e.ID] = true
			}
		}
	}

	for _, e := range picked {
		guide.Examples = append(guide.Examples, Example{
			ID:      e.ID,
			Content: SmartTruncate(e.Content, s.opts.MaxExampleChars),
			Tags:    e.TopicTags,
		})
	}
	log.Printf("Selected %d style examples (tags=%v)", len(guide.Examples), tags)
	return guide, nil
}

// rank returns the tag-matching examples, best first, capped at MaxExamples.
func (s *Selector) rank(all []database.StyleExample, tags []string) []database.StyleExample {
	if len(tags) == 0 {
		return nil
	}
	type scored struct {
		ex    database.StyleExample
		score int
	}
	now := s.now()
	var matches []scored
	for _, e := range all {
		overlap := tagOverlap(tags, e.TopicTags)
		if overlap == 0 {
			continue
		}
		score := overlap*10 + recencyBonus(now, e.Created()) + e.ApprovalCount - 2*e.RejectionCount
		matches = append(matches, scored{e, score})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].ex.WordCount > matches[j].ex.WordCount
	})

	var out []database.StyleExample
	for _, m := range matches {
		if len(out) == s.opts.MaxExamples {
			break
		}
		out = append(out, m.ex)
	}
	return out
}

func tagOverlap(source, example []string) int {
	have := make(map[string]bool, len(example))
	for _, t := range example {
		have[strings.ToLower(t)] = true
	}
	n := 0
	for _, t := range source {
		if have[strings.ToLower(t)] {
			n++
		}
	}
	return n
}

func recencyBonus(now, created time.Time) int {
	if created.IsZero() {
		return 0
	}
	age := now.Sub(created)
	switch {
	case age <= 7*24*time.Hour:
		return 3
	case age <= 30*24*time.Hour:
		return 2
	case age <= 90*24*time.Hour:
		return 1
	}
	return 0
}

func newestFirst(all []database.StyleExample) []database.StyleExample {
	out := append([]database.StyleExample(nil), all...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Created().After(out[j].Created())
	})
	return out
}

// commonTerms fill the glossary when the source matches few entries.
var commonTerms = map[string]bool{
	"Bitcoin": true, "Ethereum": true, "blockchain": true, "crypto": true, "fintech": true,
	"IPO": true, "ETF": true, "stock": true, "market": true, "investor": true,
}

// RelevantGlossary scores glossary entries against the source text: +10 when
// the English term occurs in it, +5 when a source word shares a prefix with
// the term. It returns at most limit terms, best first, topped up with common
// finance terms when fewer than 5 match. With no source text, or no match at
// all, the whole glossary is returned up to limit.
func RelevantGlossary(glossary map[string]string, sourceText string, limit int) []Term {
	if len(glossary) == 0 {
		return nil
	}
	keys := make([]string, 0, len(glossary))
	for k := range glossary {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	all := func() []Term {
		out := make([]Term, 0, len(keys))
		for _, k := range keys {
			out = append(out, Term{k, glossary[k]})
		}
		if len(out) > limit {
			out = out[:limit]
		}
		return out
	}
	if strings.TrimSpace(sourceText) == "" {
		return all()
	}

	lower := strings.ToLower(sourceText)
	var words []string
	for _, w := range strings.Fields(lower) {
		if utf8.RuneCountInString(w) > 2 {
			words = append(words, w)
		}
	}

	type scored struct {
		term  Term
		score int
	}
	var matched []scored
	for _, k := range keys {
		kl := strings.ToLower(k)
		score := 0
		if strings.Contains(lower, kl) {
			score = 10
		} else {
			for _, w := range words {
				if strings.HasPrefix(w, kl) || strings.HasPrefix(kl, w) {
					score = 5
					break
				}
			}
		}
		if score > 0 {
			matched = append(matched, scored{Term{k, glossary[k]}, score})
		}
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].score > matched[j].score })

	out := make([]Term, 0, limit)
	picked := make(map[string]bool)
	for _, m := range matched {
		out = append(out, m.term)
		picked[m.term.English] = true
	}
	if len(out) < 5 {
		for _, k := range keys {
			if len(out) >= limit {
				break
			}
			if commonTerms[k] && !picked[k] {
				out = append(out, Term{k, glossary[k]})
			}
		}
	}
	if len(out) == 0 {
		return all()
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

var sentenceEnds = []string{". ", "! ", "? ", ".\n", "!\n", "?\n", "\n"}

// SmartTruncate shortens text to at most maxChars characters, cutting at the
// last sentence end when that keeps at least half, else at the last space.
// Cuts that are not at a sentence end get an ellipsis.
func SmartTruncate(text string, maxChars int) string {
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	truncated := string(runes[:maxChars])
	half := maxChars / 2

	for _, sep := range sentenceEnds {
		pos := strings.LastIndex(truncated, sep)
		if pos >= 0 && utf8.RuneCountInString(truncated[:pos]) >= half {
			return strings.TrimRightFunc(truncated[:pos+1], unicode.IsSpace)
		}
	}

	if pos := strings.LastIndex(truncated, " "); pos >= 0 && utf8.RuneCountInString(truncated[:pos]) >= half {
		return strings.TrimRightFunc(truncated[:pos], unicode.IsSpace) + "..."
	}
	return strings.TrimRightFunc(truncated, unicode.IsSpace) + "..."
}
