package translate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/itai-hania/HFI/internal/style"
)

// ContextLog is the ordered source text of the posts already translated in
// sequential mode. It is a value: With returns a new log and never changes
// the receiver.
type ContextLog struct {
	entries []string
}

// With returns a copy of the log with text appended.
func (l ContextLog) With(text string) ContextLog {
	entries := make([]string, len(l.entries), len(l.entries)+1)
	copy(entries, l.entries)
	return ContextLog{entries: append(entries, text)}
}

// Entries returns a copy of the logged source texts.
func (l ContextLog) Entries() []string {
	return append([]string(nil), l.entries...)
}

// Len returns the number of logged posts.
func (l ContextLog) Len() int { return len(l.entries) }

// Preservables are tokens that must appear in the output exactly as written.
type Preservables struct {
	URLs     []string
	Mentions []string
	Hashtags []string
}

var (
	urlRe     = regexp.MustCompile(`https?://\S+`)
	mentionRe = regexp.MustCompile(`@\w+`)
	hashtagRe = regexp.MustCompile(`#[\p{L}\p{N}_]+`)
)

// ExtractPreservables finds URLs, @mentions and #hashtags in text.
func ExtractPreservables(text string) Preservables {
	withoutURLs := urlRe.ReplaceAllString(text, " ")
	return Preservables{
		URLs:     urlRe.FindAllString(text, -1),
		Mentions: mentionRe.FindAllString(withoutURLs, -1),
		Hashtags: hashtagRe.FindAllString(withoutURLs, -1),
	}
}

func listOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}

const systemPrompt = `You are an expert Hebrew financial content creator specializing in fintech and tech news.

Your task is to TRANSCREATE (not just translate) English content into Hebrew.

CRITICAL RULES - FOLLOW EXACTLY:

1. KEEP THESE TERMS IN ENGLISH (do NOT translate):
   %s

2. PRESERVE EXACTLY (copy as-is):
   - All URLs: %s
   - All @mentions: %s
   - All #hashtags: %s
   - All numbers and company names

3. PUNCTUATION:
   - NO dashes for punctuation
   - Use commas, periods, parentheses instead

4. GLOSSARY (use these term translations):
%s

5. %s

6. OUTPUT REQUIREMENTS:
   - Output ONLY Hebrew content
   - 1-2 emojis maximum
   - No explanations or metadata
   - At least 50%% of letters must be Hebrew
   - Never number posts (no "1/", "2/5") and never use separator lines ("---", "===", "***") or the thread emoji`

const consolidatedInstruction = `Rewrite the following thread as ONE flowing Hebrew narrative.
The posts are consecutive parts of a single thread by one author. Merge them into continuous prose with natural transitions. Do not mark where one post ends and the next begins.

THREAD:
%s`

const sequentialInstruction = `CURRENT POST (%d of %d):
%s

Transcreate ONLY the current post into Hebrew. It continues the earlier posts above: keep continuity of terms and tone, and do not repeat information they already covered.`

func styleSection(g style.Guide) string {
	if len(g.Examples) == 0 {
		return "STYLE GUIDE:\n   Write in a professional, engaging Hebrew style suitable for financial/tech content on social media."
	}
	var b strings.Builder
	b.WriteString("STYLE EXAMPLES (match this writing style):\n")
	for i, e := range g.Examples {
		fmt.Fprintf(&b, "\nExample %d:\n%s\n", i+1, e.Content)
	}
	b.WriteString("\nMatch the tone, vocabulary and sentence structure of the examples above.")
	return b.String()
}

func glossarySection(terms []style.Term) string {
	if len(terms) == 0 {
		return "   none"
	}
	lines := make([]string, len(terms))
	for i, t := range terms {
		lines[i] = fmt.Sprintf("   - %s: %s", t.English, t.Hebrew)
	}
	return strings.Join(lines, "\n")
}

// BuildSystemPrompt renders the rules, terminology and style samples shared
// by both modes. source supplies the tokens to preserve.
func BuildSystemPrompt(g style.Guide, source string) string {
	p := ExtractPreservables(source)
	return fmt.Sprintf(systemPrompt,
		listOrNone(g.KeepEnglish),
		listOrNone(p.URLs), listOrNone(p.Mentions), listOrNone(p.Hashtags),
		glossarySection(g.Glossary),
		styleSection(g),
	)
}

// BuildConsolidatedPrompt renders the user message for consolidated mode.
// Posts are separated by blank lines only.
func BuildConsolidatedPrompt(texts []string) string {
	return fmt.Sprintf(consolidatedInstruction, joinPosts(texts))
}

// BuildSequentialPrompt renders the user message for the post at position
// (1-based) of total. The context holds the source text of every earlier
// post.
func BuildSequentialPrompt(history ContextLog, current string, position, total int) string {
	var b strings.Builder
	if history.Len() > 0 {
		b.WriteString("EARLIER POSTS OF THIS THREAD (original text, for context only):\n")
		for i, text := range history.entries {
			fmt.Fprintf(&b, "\n[post %d]\n%s\n", i+1, text)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, sequentialInstruction, position, total, current)
	return b.String()
}

func joinPosts(texts []string) string {
	parts := make([]string, 0, len(texts))
	for _, t := range texts {
		if t = strings.TrimSpace(t); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n\n")
}
