package style

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/itai-hania/HFI/internal/llm"
)

type keywordTag struct {
	tag      string
	keywords []string
}

// sourceKeywords map English source text to topic tags.
var sourceKeywords = []keywordTag{
	{"fintech", []string{"fintech", "financial technology", "neobank", "digital bank"}},
	{"crypto", []string{"crypto", "cryptocurrency", "token", "coin"}},
	{"bitcoin", []string{"bitcoin", "btc"}},
	{"ethereum", []string{"ethereum", "eth"}},
	{"blockchain", []string{"blockchain", "distributed ledger"}},
	{"banking", []string{"bank", "banking", "deposit", "loan", "mortgage"}},
	{"payments", []string{"payment", "transfer", "remittance", "paypal", "stripe"}},
	{"investing", []string{"invest", "portfolio", "fund", "asset", "wealth"}},
	{"trading", []string{"trading", "trade", "exchange", "broker"}},
	{"markets", []string{"market", "stock", "bond", "equity", "dow", "nasdaq", "s&p"}},
	{"regulation", []string{"regulat", "compliance", "sec", "fed", "central bank"}},
	{"startups", []string{"startup", "founder", "seed", "series a", "venture"}},
	{"AI", []string{"artificial intelligence", " ai ", "machine learning", "llm", "gpt"}},
	{"technology", []string{"tech", "software", "platform", "saas", "cloud"}},
	{"DeFi", []string{"defi", "decentralized finance", "yield", "liquidity pool"}},
	{"IPO", []string{"ipo", "public offering", "listing"}},
}

// exampleKeywords tag Hebrew style examples when no completion service is
// available.
var exampleKeywords = []keywordTag{
	{"fintech", []string{"פינטק", "fintech", "פיננסי", "financial"}},
	{"crypto", []string{"קריפטו", "crypto", "מטבע דיגיטלי"}},
	{"bitcoin", []string{"ביטקוין", "bitcoin", "btc"}},
	{"blockchain", []string{"בלוקצ'יין", "blockchain"}},
	{"banking", []string{"בנק", "bank", "בנקאות"}},
	{"payments", []string{"תשלום", "payment", "העברה"}},
	{"investing", []string{"השקע", "invest", "תיק השקעות"}},
	{"AI", []string{"בינה מלאכותית", " ai ", "למידת מכונה"}},
	{"startups", []string{"סטארטאפ", "startup", "יזמות"}},
	{"regulation", []string{"רגולציה", "regulation", "פיקוח"}},
}

// Vocabulary is the closed set of tags a completion service may assign.
var Vocabulary = []string{
	"fintech", "crypto", "bitcoin", "ethereum", "blockchain",
	"banking", "payments", "investing", "trading", "markets",
	"regulation", "startups", "AI", "technology", "economics",
	"inflation", "interest_rates", "stocks", "IPO", "VC",
	"DeFi", "NFT", "Web3", "digital_assets", "CBDC",
}

const maxTags = 5

func matchKeywords(text string, table []keywordTag) []string {
	lower := " " + strings.ToLower(text) + " "
	var found []string
	for _, kt := range table {
		for _, kw := range kt.keywords {
			if strings.Contains(lower, kw) {
				found = append(found, kt.tag)
				break
			}
		}
	}
	return found
}

// ExtractTags returns the topic tags of an English source text.
func ExtractTags(text string) []string {
	return matchKeywords(text, sourceKeywords)
}

// KeywordTags tags a Hebrew example by keyword, defaulting to fintech.
func KeywordTags(content string) []string {
	tags := matchKeywords(content, exampleKeywords)
	if len(tags) == 0 {
		return []string{"fintech"}
	}
	if len(tags) > maxTags {
		tags = tags[:maxTags]
	}
	return tags
}

const tagPrompt = `Analyze this Hebrew financial/tech content and select 2-5 relevant topic tags.

AVAILABLE TAGS:
%s

CONTENT:
%s

Return ONLY a JSON array of tags, e.g.: ["fintech", "crypto", "blockchain"]
Select the most specific and relevant tags.`

// Tagger assigns topic tags to style examples.
type Tagger struct {
	provider llm.Provider
}

// NewTagger creates a tagger. A nil provider means keyword tagging only.
func NewTagger(provider llm.Provider) *Tagger {
	return &Tagger{provider: provider}
}

// Tag asks the completion service for tags from Vocabulary and falls back
// to keyword tagging when it is unavailable or answers with nothing usable.
func (t *Tagger) Tag(ctx context.Context, content string) []string {
	if t == nil || t.provider == nil {
		return KeywordTags(content)
	}

	excerpt := []rune(content)
	if len(excerpt) > 1500 {
		excerpt = excerpt[:1500]
	}
	out, err := t.provider.Complete(ctx, llm.Request{
		System:    "You extract topic tags from Hebrew financial content. Return only a JSON array.",
		User:      fmt.Sprintf(tagPrompt, strings.Join(Vocabulary, ", "), string(excerpt)),
		MaxTokens: 100,
	})
	if err != nil {
		log.Printf("Tag extraction failed, using keywords: %v", err)
		return KeywordTags(content)
	}

	var raw []string
	if err := llm.DecodeJSON(out, &raw); err != nil {
		log.Printf("Could not parse tags from %q", out)
		return KeywordTags(content)
	}

	valid := validTags(raw)
	if len(valid) == 0 {
		return KeywordTags(content)
	}
	return valid
}

// validTags keeps vocabulary tags in their canonical spelling.
func validTags(raw []string) []string {
	canonical := make(map[string]string, len(Vocabulary))
	for _, v := range Vocabulary {
		canonical[strings.ToLower(v)] = v
	}
	var out []string
	seen := make(map[string]bool)
	for _, r := range raw {
		v, ok := canonical[strings.ToLower(strings.TrimSpace(r))]
		if !ok || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
		if len(out) == maxTags {
			break
		}
	}
	return out
}
