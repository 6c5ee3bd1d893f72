package translate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	valid := []string{
		"הבנק המרכזי העלה את הריבית ב-0.25%",
		"חברת OpenAI הודיעה היום על מודל חדש 🚀",
		"השירות זמין 24/7 לכל הלקוחות בארץ",
		"פרטים נוספים בקישור https://example.com/2024/05/ כאן",
		"הדוח פורסם ב-12/05/2024 לפני הפתיחה",
	}
	for _, text := range valid {
		assert.NoError(t, Validate(text), text)
	}

	invalid := map[string]string{
		"empty":            "   ",
		"no letters":       "123 456 !!!",
		"english":          "Breaking news on X",
		"bare marker":      "1/ חדשות מרעישות ברשת היום",
		"leading fraction": "2/5 עוד פרטים על העסקה הגדולה",
		"trailing count":   "עוד פרטים על העסקה הגדולה 3/5",
		"parenthesized":    "עוד פרטים (3/7) על העסקה הגדולה",
		"mid-sentence":     "חדשות מרעישות 1/5 ברשת X והחברה מפרסמת 2/5 פרטים",
		"hyphenated":       "מחיר המניה עלה ב-1/3 מאז הבוקר",
		"dashes":           "חלק ראשון\n---\nחלק שני של השרשור",
		"equals":           "חלק ראשון\n===\nחלק שני של השרשור",
		"asterisks":        "חלק ראשון *** חלק שני של השרשור",
		"thread emoji":     "שרשור חשוב על שוק ההון 🧵",
	}
	for name, text := range invalid {
		err := Validate(text)
		var ve *ValidationError
		assert.True(t, errors.As(err, &ve), name)
	}
}

func TestContextLogIsImmutable(t *testing.T) {
	var empty ContextLog
	one := empty.With("first")
	two := one.With("second")
	branch := one.With("other")

	assert.Equal(t, 0, empty.Len())
	assert.Equal(t, []string{"first"}, one.Entries())
	assert.Equal(t, []string{"first", "second"}, two.Entries())
	assert.Equal(t, []string{"first", "other"}, branch.Entries())

	entries := two.Entries()
	entries[0] = "changed"
	assert.Equal(t, "first", two.Entries()[0])
}

func TestBuildSequentialPrompt(t *testing.T) {
	history := ContextLog{}.With("Breaking news on X").With("More details here")
	prompt := BuildSequentialPrompt(history, "Final thoughts", 3, 3)

	assert.Contains(t, prompt, "Breaking news on X")
	assert.Contains(t, prompt, "More details here")
	assert.Contains(t, prompt, "CURRENT POST (3 of 3):\nFinal thoughts")
	assert.Contains(t, prompt, "do not repeat")

	first := BuildSequentialPrompt(ContextLog{}, "Breaking news on X", 1, 3)
	assert.NotContains(t, first, "EARLIER POSTS")
}

func TestExtractPreservables(t *testing.T) {
	p := ExtractPreservables("Read https://t.co/x#frag by @alice and @bob_2 #fintech #כלכלה")
	assert.Equal(t, []string{"https://t.co/x#frag"}, p.URLs)
	assert.Equal(t, []string{"@alice", "@bob_2"}, p.Mentions)
	assert.Equal(t, []string{"#fintech", "#כלכלה"}, p.Hashtags)
}
