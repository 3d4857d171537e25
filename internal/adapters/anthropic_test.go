package adapters_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/relaymeter/llm-gateway/internal/adapters"
	"github.com/relaymeter/llm-gateway/internal/relay"
)

func floatPtr(f float64) *float64 { return &f }

func TestAnthropic_BuildRequest(t *testing.T) {
	a := &adapters.AnthropicAdapter{}
	req := &relay.Request{
		Model: "claude-3-5-sonnet",
		Messages: []relay.Message{
			{Role: relay.RoleSystem, Content: relay.Content{Text: "be brief"}},
			{Role: relay.RoleSystem, Content: relay.Content{Text: "be kind"}},
			{Role: relay.RoleUser, Content: relay.Content{Text: "hi"}},
			{Role: relay.RoleAssistant, Content: relay.Content{Text: "hello"}},
		},
		Temperature: floatPtr(0.5),
		Stop:        relay.StopSequences{"END"},
		Stream:      true,
	}

	body, err := a.BuildRequest(req)
	require.NoError(t, err)

	root := gjson.ParseBytes(body)
	assert.Equal(t, "claude-3-5-sonnet", root.Get("model").String())
	assert.Equal(t, "be brief\nbe kind", root.Get("system").String(),
		"system messages merge into the dedicated field")
	assert.Equal(t, int64(2), root.Get("messages.#").Int(), "system turns removed from the list")
	assert.Equal(t, "assistant", root.Get("messages.1.role").String(), "assistant role preserved verbatim")
	assert.Equal(t, 0.5, root.Get("temperature").Float())
	assert.False(t, root.Get("top_p").Exists(), "absent params are omitted, not null")
	assert.Equal(t, "END", root.Get("stop_sequences.0").String())
	assert.Equal(t, int64(adapters.DefaultAnthropicMaxTokens), root.Get("max_tokens").Int())
	assert.True(t, root.Get("stream").Bool())
}

func TestAnthropic_ParseResponse(t *testing.T) {
	a := &adapters.AnthropicAdapter{}
	body := []byte(`{
		"id": "msg_01",
		"content": [{"type":"text","text":"Hi "},{"type":"text","text":"there!"}],
		"stop_reason": "end_turn",
		"usage": {"input_tokens": 5, "output_tokens": 3}
	}`)

	resp := a.ParseResponse(body)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "msg_01", resp.ID)
	assert.Equal(t, "Hi there!", resp.Choices[0].Message.Content, "segments flatten in order")
	require.NotNil(t, resp.Choices[0].FinishReason)
	assert.Equal(t, relay.FinishStop, *resp.Choices[0].FinishReason)
	assert.Equal(t, 5, resp.Usage.PromptTokens)
	assert.Equal(t, 3, resp.Usage.CompletionTokens)
	assert.Equal(t, 8, resp.Usage.TotalTokens)
}

func TestAnthropic_FinishReasonMapping(t *testing.T) {
	a := &adapters.AnthropicAdapter{}
	tests := []struct {
		vendor string
		want   string
	}{
		{"end_turn", "stop"},
		{"stop_sequence", "stop"},
		{"max_tokens", "length"},
		{"refusal", "content_filter"},
		{"Some_New_Reason", "some_new_reason"}, // unmapped passes through lower-cased
	}
	for _, tt := range tests {
		resp := a.ParseResponse([]byte(`{"content":[],"stop_reason":"` + tt.vendor + `"}`))
		require.NotNil(t, resp.Choices[0].FinishReason)
		assert.Equal(t, tt.want, *resp.Choices[0].FinishReason)
	}
}

func TestAnthropic_RoundTripPlainText(t *testing.T) {
	a := &adapters.AnthropicAdapter{}
	const text = "The quick brown fox jumps over the lazy dog"
	body, err := a.BuildRequest(&relay.Request{
		Model:    "claude-3-5-sonnet",
		Messages: []relay.Message{{Role: relay.RoleUser, Content: relay.Content{Text: text}}},
	})
	require.NoError(t, err)

	// Echo the text that actually went on the wire back in the vendor's
	// response shape: plain text must survive the translation pair intact.
	sent := gjson.GetBytes(body, "messages.0.content").String()
	resp := a.ParseResponse([]byte(`{"id":"msg_rt","content":[{"type":"text","text":"` + sent + `"}],"stop_reason":"end_turn"}`))

	require.Len(t, resp.Choices, 1)
	assert.Equal(t, text, resp.Choices[0].Message.Content)
	assert.Equal(t, relay.RoleAssistant, resp.Choices[0].Message.Role)
}

func TestAnthropic_ParseResponse_MalformedBody(t *testing.T) {
	a := &adapters.AnthropicAdapter{}
	resp := a.ParseResponse([]byte(`{{{not json`))
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "", resp.Choices[0].Message.Content, "best-effort empty response, no panic")
}

func TestAnthropic_TranslateEvent_Sequence(t *testing.T) {
	a := &adapters.AnthropicAdapter{}
	st := &adapters.StreamState{ID: "chatcmpl-1", Model: "gpt-4o"}

	out := a.TranslateEvent([]byte(`{"type":"message_start","message":{"id":"msg_9","usage":{"input_tokens":10}}}`), st)
	require.Len(t, out, 1)
	opening := gjson.ParseBytes(out[0])
	assert.Equal(t, "assistant", opening.Get("choices.0.delta.role").String())
	assert.Equal(t, "gpt-4o", opening.Get("model").String(), "requested model, not the upstream name")
	assert.Equal(t, 10, st.Usage.PromptTokens)
	assert.True(t, st.SawPromptUsage)

	out = a.TranslateEvent([]byte(`{"type":"content_block_delta","delta":{"type":"text_delta","text":"Hello"}}`), st)
	require.Len(t, out, 1)
	assert.Equal(t, "Hello", gjson.ParseBytes(out[0]).Get("choices.0.delta.content").String())

	out = a.TranslateEvent([]byte(`{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":3}}`), st)
	require.Len(t, out, 1)
	assert.Equal(t, "stop", gjson.ParseBytes(out[0]).Get("choices.0.finish_reason").String())
	assert.Equal(t, 3, st.Usage.CompletionTokens)
	assert.True(t, st.SawCompletionUsage)

	out = a.TranslateEvent([]byte(`{"type":"message_stop"}`), st)
	assert.Empty(t, out)
	assert.True(t, st.Done)
}

func TestAnthropic_TranslateEvent_PingIgnored(t *testing.T) {
	a := &adapters.AnthropicAdapter{}
	st := &adapters.StreamState{}
	assert.Empty(t, a.TranslateEvent([]byte(`{"type":"ping"}`), st))
}
