package tokens_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relaymeter/llm-gateway/internal/relay"
	"github.com/relaymeter/llm-gateway/internal/tokens"
)

func userMessage(text string) relay.Message {
	return relay.Message{Role: relay.RoleUser, Content: relay.Content{Text: text}}
}

func TestEstimateText_KnownValues(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{"empty", "", 0},
		{"ascii short", "Hello!", 2},      // 6/4 = 1.5 -> 2
		{"ascii exact", "12345678", 2},    // 8/4 = 2
		{"single char", "a", 1},           // 1/4 -> rounds up
		{"cjk", "你好", 2},                  // 2/1.5 = 1.33 -> 2
		{"cjk heavy", "这是一个测试", 4},        // 6/1.5 = 4
		{"mixed", "hi你好", 2},              // 2/4 + 2/1.5 = 1.83 -> 2
		{"kana", "こんにちは", 4},              // 5/1.5 = 3.33 -> 4
		{"hangul", "안녕하세요", 4},             // 5/1.5 = 3.33 -> 4
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tokens.EstimateText(tt.text))
		})
	}
}

func TestEstimate_MonotonicInLength(t *testing.T) {
	prev := 0
	for i := 1; i <= 64; i++ {
		est := tokens.EstimateText(strings.Repeat("x", i*3))
		assert.GreaterOrEqual(t, est, prev, "estimate must not shrink as text grows")
		prev = est
	}
}

func TestEstimate_WhitespaceEditInvariant(t *testing.T) {
	// Swapping one whitespace kind for another must not change the estimate:
	// both sides of the edit are non-CJK runes with the same weight.
	base := "some words separated by spaces"
	edited := strings.ReplaceAll(base, " ", "\t")
	assert.Equal(t, tokens.EstimateText(base), tokens.EstimateText(edited))
}

func TestEstimateMessages_SumsBeforeRounding(t *testing.T) {
	// Two one-char messages: 2 * (1/4) = 0.5 -> 1, not 2. Rounding happens
	// once over the summed counts.
	msgs := []relay.Message{userMessage("a"), userMessage("b")}
	assert.Equal(t, 1, tokens.EstimateMessages(msgs))
}

func TestEstimateMessages_FlattensParts(t *testing.T) {
	msg := relay.Message{
		Role: relay.RoleUser,
		Content: relay.Content{Parts: []relay.ContentPart{
			{Type: "text", Text: "Hell"},
			{Type: "text", Text: "o!"},
		}},
	}
	assert.Equal(t, tokens.EstimateText("Hello!"), tokens.EstimateMessages([]relay.Message{msg}))
}

func TestFromCounts_Zero(t *testing.T) {
	assert.Equal(t, 0, tokens.FromCounts(0, 0))
}
