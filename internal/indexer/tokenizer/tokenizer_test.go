package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenizeNormalises(t *testing.T) {
	got := New(true).Tokenize("The Café-owner's CAT sat, in 1984; a b 7!")
	assert.Equal(t, []string{"cafe", "owner", "cat", "sat", "1984", "7"}, got)
}

func TestTokenizeKeepsRepeatsInOrder(t *testing.T) {
	assert.Equal(t, []string{"naive", "cat", "naive"}, New(true).Tokenize("naïve cat NAIVE"))
}

func TestTokenizeKeepsStopWordsWhenDisabled(t *testing.T) {
	got := New(false).Tokenize("The cat")
	assert.Equal(t, []string{"the", "cat"}, got)
}

func TestTokenizeEmpty(t *testing.T) {
	tok := New(true)
	assert.Empty(t, tok.Tokenize(""))
	assert.Empty(t, tok.Tokenize("  ,;  "))
}

func TestFrequencies(t *testing.T) {
	tf := New(true).Frequencies("Cat cat dog. The CAT!")
	assert.Equal(t, map[string]int{"cat": 3, "dog": 1}, tf)
}
