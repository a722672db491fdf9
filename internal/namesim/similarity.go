// Package namesim ranks display-name similarity to catch autocomplete
// mistakes, where a sender picks a recipient whose name closely resembles a
// frequent contact's.
package namesim

import (
	"math"
	"sort"
	"strings"

	"golang.org/x/text/cases"
)

// SimilarityThreshold is the minimum score at which two names are considered
// confusable.
const SimilarityThreshold = 0.90

var fold = cases.Fold()

// Similarity scores how confusable two display names are, in [0, 1].
// The base score is the better of a direct longest-common-blocks ratio and the
// same ratio over token-sorted names, so "Verma Rahul" still matches
// "Rahul Verma". When both names share a first token, last-name edit distance
// can raise the score past the threshold; the heuristics never lower it.
func Similarity(a, b string) float64 {
	aNorm := normalize(a)
	bNorm := normalize(b)
	if aNorm == "" || bNorm == "" {
		return 0.0
	}

	score := ratio(aNorm, bNorm)
	if sorted := ratio(sortTokens(aNorm), sortTokens(bNorm)); sorted > score {
		score = sorted
	}

	aFirst, aLast := firstLastTokens(aNorm)
	bFirst, bLast := firstLastTokens(bNorm)
	if aFirst != "" && aFirst == bFirst {
		distance := levenshtein(aLast, bLast)
		switch {
		case distance <= 2:
			score = math.Max(score, 0.93)
		case aLast != "" && bLast != "" && min(len(aLast), len(bLast)) >= 4 && distance <= 4:
			score = math.Max(score, 0.90)
		case aLast != "" && bLast != "" && ratio(aLast, bLast) >= 0.6:
			score = math.Max(score, 0.91)
		}
	}

	return math.Round(score*10000) / 10000
}

func normalize(name string) string {
	return strings.Join(strings.Fields(fold.String(name)), " ")
}

func sortTokens(name string) string {
	tokens := strings.Fields(name)
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

func firstLastTokens(name string) (string, string) {
	tokens := strings.Fields(name)
	switch len(tokens) {
	case 0:
		return "", ""
	case 1:
		return tokens[0], ""
	default:
		return tokens[0], tokens[len(tokens)-1]
	}
}

// ratio is the Ratcliff/Obershelp similarity: twice the total length of the
// matching blocks over the combined length.
func ratio(a, b string) float64 {
	ar := []rune(a)
	br := []rune(b)
	if len(ar)+len(br) == 0 {
		return 0.0
	}
	matched := matchingBlockTotal(ar, br)
	return 2.0 * float64(matched) / float64(len(ar)+len(br))
}

// matchingBlockTotal sums the lengths of the recursively aligned longest
// common substrings, preferring the leftmost block on ties.
func matchingBlockTotal(a, b []rune) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	ai, bi, size := longestCommonBlock(a, b)
	if size == 0 {
		return 0
	}
	total := size
	total += matchingBlockTotal(a[:ai], b[:bi])
	total += matchingBlockTotal(a[ai+size:], b[bi+size:])
	return total
}

func longestCommonBlock(a, b []rune) (bestA, bestB, bestSize int) {
	// lengths[j] holds the run length ending at a[i-1], b[j-1].
	lengths := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		prevDiag := 0
		for j := 1; j <= len(b); j++ {
			cur := lengths[j]
			if a[i-1] == b[j-1] {
				run := prevDiag + 1
				lengths[j] = run
				if run > bestSize {
					bestSize = run
					bestA = i - run
					bestB = j - run
				}
			} else {
				lengths[j] = 0
			}
			prevDiag = cur
		}
	}
	return bestA, bestB, bestSize
}

func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	ar := []rune(a)
	br := []rune(b)
	if len(ar) == 0 {
		return len(br)
	}
	if len(br) == 0 {
		return len(ar)
	}

	prev := make([]int, len(br)+1)
	curr := make([]int, len(br)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ar); i++ {
		curr[0] = i
		for j := 1; j <= len(br); j++ {
			cost := 1
			if ar[i-1] == br[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, min(curr[j-1]+1, prev[j-1]+cost))
		}
		prev, curr = curr, prev
	}
	return prev[len(br)]
}
