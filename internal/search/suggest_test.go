package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEditDistance(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"guide", "guide", 0},
		{"gide", "guide", 1},
		{"api", "apo", 1},
		{"", "api", 3},
		{"kitten", "sitting", 3},
		{"deployment", "deploy", 4},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, editDistance(tt.a, tt.b), "%s vs %s", tt.a, tt.b)
	}
}

func TestSuggestDocTypes(t *testing.T) {
	suggestions := suggestDocTypes("gide")
	assert.NotEmpty(t, suggestions)
	assert.Equal(t, "guide", suggestions[0], "closest match first")

	assert.Empty(t, suggestDocTypes("zzzzzzzzzzzz"), "nothing close enough")

	suggestions = suggestDocTypes("APO")
	assert.Contains(t, suggestions, "api", "case-insensitive")
}
