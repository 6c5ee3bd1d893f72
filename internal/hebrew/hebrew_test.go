package hebrew

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRatio(t *testing.T) {
	tests := []struct {
		name string
		text string
		want float64
	}{
		{"pure hebrew", "שלום עולם", 1},
		{"pure english", "hello world", 0},
		{"empty", "", 0},
		{"digits only", "123 456", 0},
		{"half", "אב ab", 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Ratio(tt.text), 0.001)
		})
	}
}

func TestIsHebrew(t *testing.T) {
	assert.True(t, IsHebrew("הבנק המרכזי העלה את הריבית ב-0.25%"))
	assert.True(t, IsHebrew("חברת OpenAI הודיעה היום על מודל חדש"))
	assert.False(t, IsHebrew("Breaking news on X"))
	assert.True(t, IsHebrew("אב ab"))
	assert.False(t, IsHebrew("א abc"))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "Café", Normalize("  Cafe\u0301\n"))
	// Hebrew presentation forms are composition exclusions; NFC leaves them decomposed.
	assert.Equal(t, "\u05d1\u05bc", Normalize("\u05d1\u05bc"))
}

func TestCountWords(t *testing.T) {
	assert.Equal(t, 0, CountWords("   "))
	assert.Equal(t, 3, CountWords("one  two\nthree"))
}
