package parser

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the BPE encoding used by text-embedding-3-small.
const DefaultEncoding = "cl100k_base"

// WordsTokenizerName selects the whitespace tokenizer in configuration.
const WordsTokenizerName = "words"

// Tokenizer counts tokens the way the embedding provider bills them.
type Tokenizer interface {
	Count(text string) int
}

// Tiktoken counts BPE tokens.
type Tiktoken struct {
	enc *tiktoken.Tiktoken
}

// Compile-time check that Tiktoken implements Tokenizer.
var _ Tokenizer = (*Tiktoken)(nil)

// NewTiktoken loads a BPE encoding by name (e.g. "cl100k_base").
// The rank file is fetched on first use unless TIKTOKEN_CACHE_DIR holds it.
func NewTiktoken(encoding string) (*Tiktoken, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load encoding %s: %w", encoding, err)
	}
	return &Tiktoken{enc: enc}, nil
}

// Count returns the number of BPE tokens in text.
func (t *Tiktoken) Count(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

// WordTokenizer counts whitespace-separated words.
type WordTokenizer struct{}

// Count returns the number of words in text.
func (WordTokenizer) Count(text string) int {
	return len(strings.Fields(text))
}

// NewTokenizer returns the tokenizer named in configuration.
func NewTokenizer(name string) (Tokenizer, error) {
	if name == WordsTokenizerName {
		return WordTokenizer{}, nil
	}
	return NewTiktoken(name)
}
