package stream_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/relaymeter/llm-gateway/internal/adapters"
	"github.com/relaymeter/llm-gateway/internal/stream"
)

// geminiStream is a complete two-event vendor stream: "Hel" then "lo" with a
// STOP finish and no usage metadata.
const geminiStream = `data: {"candidates":[{"content":{"parts":[{"text":"Hel"}]}}]}

data: {"candidates":[{"content":{"parts":[{"text":"lo"}]},"finishReason":"STOP"}]}

`

// run feeds the whole stream in one call and returns every emitted record.
func run(t *testing.T, a adapters.Adapter, raw string) ([]string, *adapters.StreamState) {
	t.Helper()
	re := stream.NewReencoder(a, "chatcmpl-test", "alias-model", 1700000000)
	var records []string
	for _, rec := range re.Feed([]byte(raw)) {
		records = append(records, string(rec))
	}
	for _, rec := range re.Close() {
		records = append(records, string(rec))
	}
	return records, re.State()
}

func TestReencoder_GeminiStream(t *testing.T) {
	records, st := run(t, &adapters.GeminiAdapter{}, geminiStream)

	// Role chunk, two content chunks, finish chunk, terminal marker.
	require.Len(t, records, 5)
	assert.Equal(t, stream.TerminalMarker, records[4])

	for _, rec := range records[:4] {
		assert.True(t, strings.HasPrefix(rec, "data: "), "every record is SSE framed")
		assert.True(t, strings.HasSuffix(rec, "\n\n"))
	}

	first := gjson.Parse(strings.TrimPrefix(strings.TrimSpace(records[0]), "data: "))
	assert.Equal(t, "assistant", first.Get("choices.0.delta.role").String())
	assert.Equal(t, "alias-model", first.Get("model").String())
	assert.Equal(t, "chatcmpl-test", first.Get("id").String())

	var text strings.Builder
	for _, rec := range records[1:3] {
		text.WriteString(gjson.Parse(strings.TrimPrefix(strings.TrimSpace(rec), "data: ")).Get("choices.0.delta.content").String())
	}
	assert.Equal(t, "Hello", text.String())

	last := gjson.Parse(strings.TrimPrefix(strings.TrimSpace(records[3]), "data: "))
	assert.Equal(t, "stop", last.Get("choices.0.finish_reason").String())

	assert.True(t, st.Done)
	assert.False(t, st.SawCompletionUsage)
	assert.Equal(t, 2, st.EstimatedOutputTokens(), "5 chars accumulated, ceil(5/4)")
}

func TestReencoder_SplitInvariance(t *testing.T) {
	// The emitted records must not depend on where the transport split the
	// bytes: feed the same stream at every possible split point and compare
	// against the single-feed result.
	want, _ := run(t, &adapters.GeminiAdapter{}, geminiStream)

	for cut := 1; cut < len(geminiStream); cut++ {
		re := stream.NewReencoder(&adapters.GeminiAdapter{}, "chatcmpl-test", "alias-model", 1700000000)
		var got []string
		for _, rec := range re.Feed([]byte(geminiStream[:cut])) {
			got = append(got, string(rec))
		}
		for _, rec := range re.Feed([]byte(geminiStream[cut:])) {
			got = append(got, string(rec))
		}
		for _, rec := range re.Close() {
			got = append(got, string(rec))
		}
		require.Equal(t, want, got, "split at byte %d changed the output", cut)
	}
}

func TestReencoder_DoneMarkerSetsState(t *testing.T) {
	re := stream.NewReencoder(&adapters.OpenAIAdapter{}, "id", "m", 0)
	out := re.Feed([]byte("data: [DONE]\n\n"))
	assert.Empty(t, out, "the vendor marker itself is not forwarded")
	assert.True(t, re.State().Done)
}

func TestReencoder_MalformedLineSkipped(t *testing.T) {
	raw := "data: {broken json\n\n" +
		`data: {"candidates":[{"content":{"parts":[{"text":"ok"}]},"finishReason":"STOP"}]}` + "\n\n"
	records, st := run(t, &adapters.GeminiAdapter{}, raw)

	// Role chunk, content chunk, finish chunk, terminal marker; the broken
	// line contributes nothing.
	require.Len(t, records, 4)
	assert.True(t, st.Done)
}

func TestReencoder_EventLinesIgnored(t *testing.T) {
	raw := "event: content_block_delta\n" +
		`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"hi"}}` + "\n\n"
	records, _ := run(t, &adapters.AnthropicAdapter{}, raw)

	// The event: line is framing, not payload: only the data line produces
	// chunks. With no message_start seen, the first content delta also
	// triggers the role-only opening chunk.
	require.Len(t, records, 3)
	opening := gjson.Parse(strings.TrimPrefix(strings.TrimSpace(records[0]), "data: "))
	assert.Equal(t, "assistant", opening.Get("choices.0.delta.role").String())
	payload := gjson.Parse(strings.TrimPrefix(strings.TrimSpace(records[1]), "data: "))
	assert.Equal(t, "hi", payload.Get("choices.0.delta.content").String())
	assert.Equal(t, stream.TerminalMarker, records[2])
}

func TestReencoder_CloseFlushesUnterminatedTail(t *testing.T) {
	re := stream.NewReencoder(&adapters.GeminiAdapter{}, "id", "m", 0)
	out := re.Feed([]byte(`data: {"candidates":[{"content":{"parts":[{"text":"tail"}]}}]}`))
	assert.Empty(t, out, "no newline yet, nothing emitted")

	records := re.Close()
	// Role chunk, content chunk, terminal marker.
	require.Len(t, records, 3)
	assert.Equal(t, stream.TerminalMarker, string(records[2]))
}
