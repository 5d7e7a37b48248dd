package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/indexer/tokenizer"
)

func TestParseNormalisesLikeIndexing(t *testing.T) {
	tok := tokenizer.New(true)
	plan := Parse("  The Café, the CAT and cafe! ", tok)
	assert.Equal(t, "The Café, the CAT and cafe!", plan.RawQuery)
	assert.Equal(t, tok.Tokenize("The Café, the CAT and cafe!"), plan.Terms)
	assert.Equal(t, []string{"cafe", "cat", "cafe"}, plan.Terms)
}

func TestParseEmpty(t *testing.T) {
	plan := Parse("   ", tokenizer.New(true))
	assert.Empty(t, plan.Terms)
	assert.Empty(t, plan.RawQuery)
	assert.Empty(t, plan.Weights())
}

func TestWeightsCountRepeats(t *testing.T) {
	plan := Parse("cat CAT dog", tokenizer.New(true))
	assert.Equal(t, map[string]int{"cat": 2, "dog": 1}, plan.Weights())
}

func TestKeyIgnoresOrder(t *testing.T) {
	tok := tokenizer.New(false)
	assert.Equal(t, Parse("whale sea", tok).Key(), Parse("SEA whale", tok).Key())
	assert.NotEqual(t, Parse("whale sea", tok).Key(), Parse("whale whale sea", tok).Key())
}
