// Package tokens provides the deterministic token estimation heuristic used
// for pre-flight admission and as a fallback when a vendor omits usage data.
//
// DESIGN: CJK characters encode denser than Latin text in every tokenizer we
// route to, so they are weighted separately: a CJK rune counts 1/1.5 of a
// token, any other rune 1/4. Counts are summed across all text segments and
// rounded up once at the end. This is an estimate, not a tokenizer.
package tokens

import (
	"math"
	"unicode"

	"github.com/relaymeter/llm-gateway/internal/relay"
)

var cjkTables = []*unicode.RangeTable{
	unicode.Han,
	unicode.Hiragana,
	unicode.Katakana,
	unicode.Hangul,
}

func isCJK(r rune) bool {
	for _, t := range cjkTables {
		if unicode.Is(t, r) {
			return true
		}
	}
	return false
}

// Count classifies every rune of s and returns the CJK and non-CJK totals.
func Count(s string) (cjk, other int) {
	for _, r := range s {
		if isCJK(r) {
			cjk++
		} else {
			other++
		}
	}
	return cjk, other
}

// FromCounts converts accumulated character counts into a token estimate.
func FromCounts(cjk, other int) int {
	if cjk == 0 && other == 0 {
		return 0
	}
	return int(math.Ceil(float64(cjk)/1.5 + float64(other)/4.0))
}

// EstimateText estimates tokens for a single text segment.
func EstimateText(s string) int {
	return FromCounts(Count(s))
}

// EstimateMessages estimates input tokens for a canonical message list.
// Character counts are summed over all text segments of all messages and
// rounded up once, so the estimate is monotonic in total text length.
func EstimateMessages(messages []relay.Message) int {
	var cjk, other int
	for _, m := range messages {
		c, o := Count(m.Content.Flatten())
		cjk += c
		other += o
	}
	return FromCounts(cjk, other)
}
