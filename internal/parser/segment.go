// Package parser turns raw text into sentences and embedding batches.
package parser

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// abbreviations end with a period that never closes a sentence.
var abbreviations = map[string]bool{
	"mr":   true,
	"mrs":  true,
	"dr":   true,
	"ms":   true,
	"prof": true,
}

var (
	terminalDigit = regexp.MustCompile(`(\s*[.?!])(\d+)`)
	bareNumber    = regexp.MustCompile(`^\d+\.?$`)
)

// Segment splits raw text into ordered sentences.
// The result depends only on the input, so sentence positions are stable
// across runs and can be used as resume offsets.
func Segment(raw string) []string {
	text := normalize(raw)
	if text == "" {
		return nil
	}

	var sentences []string
	for _, s := range splitSentences(text) {
		s = strings.TrimSpace(s)
		if utf8.RuneCountInString(s) <= 2 || bareNumber.MatchString(s) {
			continue
		}
		sentences = append(sentences, s)
	}
	return sentences
}

// normalize collapses whitespace runs and separates terminal punctuation
// from a directly following digit ("?1" becomes "? 1").
func normalize(raw string) string {
	text := strings.Join(strings.Fields(raw), " ")
	return terminalDigit.ReplaceAllString(text, "$1 $2")
}

func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		current.WriteRune(r)

		if !isTerminal(r) {
			continue
		}

		// Absorb the rest of the terminal run ("?!", "...") and closing marks.
		start := i
		for i+1 < len(runes) && (isTerminal(runes[i+1]) || isCloser(runes[i+1])) {
			i++
			current.WriteRune(runes[i])
		}

		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if i == start && r == '.' && isAbbreviation(runes[:start]) {
			continue
		}

		sentences = append(sentences, current.String())
		current.Reset()
	}

	if strings.TrimSpace(current.String()) != "" {
		sentences = append(sentences, current.String())
	}

	return sentences
}

// isAbbreviation reports whether the word directly before a period is a
// known abbreviation.
func isAbbreviation(before []rune) bool {
	j := len(before)
	for j > 0 && unicode.IsLetter(before[j-1]) {
		j--
	}
	if j == len(before) {
		return false
	}
	return abbreviations[strings.ToLower(string(before[j:]))]
}

func isTerminal(r rune) bool {
	return r == '.' || r == '?' || r == '!'
}

func isCloser(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '”', '’':
		return true
	}
	return false
}
