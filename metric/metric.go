// Package metric scores recognition output against reference transcripts.
package metric

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/unicode/norm"
)

// CharacterErrorRate accumulates character level edit distance across a
// corpus. Transcripts are NFC normalized and spaces are dropped before
// comparison, so spacing differences do not count as errors.
type CharacterErrorRate struct {
	distance int
	length   int
}

// Update scores one hypothesis against its reference.
func (c *CharacterErrorRate) Update(reference, hypothesis string) {
	ref := strings.ReplaceAll(norm.NFC.String(reference), " ", "")
	hyp := strings.ReplaceAll(norm.NFC.String(hypothesis), " ", "")

	c.distance += levenshtein.ComputeDistance(ref, hyp)
	c.length += utf8.RuneCountInString(ref)
}

// Rate returns the accumulated error rate.
func (c *CharacterErrorRate) Rate() float64 {
	return rate(c.distance, c.length)
}

// WordErrorRate accumulates word level edit distance across a corpus.
type WordErrorRate struct {
	distance int
	length   int
}

// Update scores one hypothesis against its reference.
func (w *WordErrorRate) Update(reference, hypothesis string) {
	refWords := strings.Fields(norm.NFC.String(reference))
	hypWords := strings.Fields(norm.NFC.String(hypothesis))

	symbols := make(map[string]rune, len(refWords)+len(hypWords))
	w.distance += levenshtein.ComputeDistance(encode(refWords, symbols), encode(hypWords, symbols))
	w.length += len(refWords)
}

// Rate returns the accumulated error rate.
func (w *WordErrorRate) Rate() float64 {
	return rate(w.distance, w.length)
}

// CER returns the character error rate of a single hypothesis.
func CER(reference, hypothesis string) float64 {
	var c CharacterErrorRate
	c.Update(reference, hypothesis)
	return c.Rate()
}

// WER returns the word error rate of a single hypothesis.
func WER(reference, hypothesis string) float64 {
	var w WordErrorRate
	w.Update(reference, hypothesis)
	return w.Rate()
}

func rate(distance, length int) float64 {
	switch {
	case length > 0:
		return float64(distance) / float64(length)
	case distance > 0:
		return math.Inf(1)
	default:
		return 0
	}
}

// encode maps each distinct word to a single rune so the character distance
// over the result is the word level edit distance. The surrogate range is
// skipped, those runes do not survive a string round-trip.
func encode(words []string, symbols map[string]rune) string {
	var sb strings.Builder
	for _, word := range words {
		r, ok := symbols[word]
		if !ok {
			r = rune(len(symbols))
			if r >= 0xd800 {
				r += 0x800
			}
			symbols[word] = r
		}

		sb.WriteRune(r)
	}

	return sb.String()
}
