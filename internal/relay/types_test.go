package relay_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymeter/llm-gateway/internal/relay"
)

func TestContent_UnmarshalString(t *testing.T) {
	var m relay.Message
	require.NoError(t, json.Unmarshal([]byte(`{"role":"user","content":"hello"}`), &m))
	assert.Equal(t, "hello", m.Content.Flatten())
}

func TestContent_UnmarshalParts(t *testing.T) {
	raw := `{"role":"user","content":[{"type":"text","text":"Hel"},{"type":"text","text":"lo"}]}`
	var m relay.Message
	require.NoError(t, json.Unmarshal([]byte(raw), &m))
	assert.Equal(t, "Hello", m.Content.Flatten(), "parts concatenate in document order")
}

func TestStopSequences_SingleString(t *testing.T) {
	var req relay.Request
	require.NoError(t, json.Unmarshal([]byte(`{"model":"m","stop":"END"}`), &req))
	assert.Equal(t, relay.StopSequences{"END"}, req.Stop)
}

func TestStopSequences_List(t *testing.T) {
	var req relay.Request
	require.NoError(t, json.Unmarshal([]byte(`{"model":"m","stop":["a","b"]}`), &req))
	assert.Equal(t, relay.StopSequences{"a", "b"}, req.Stop)
}

func TestSystemPrompt_MergesInOrder(t *testing.T) {
	req := relay.Request{Messages: []relay.Message{
		{Role: relay.RoleSystem, Content: relay.Content{Text: "first"}},
		{Role: relay.RoleUser, Content: relay.Content{Text: "hi"}},
		{Role: relay.RoleSystem, Content: relay.Content{Text: "second"}},
	}}
	assert.Equal(t, "first\nsecond", req.SystemPrompt())
	assert.Len(t, req.NonSystemMessages(), 1)
}

func TestChunk_FinishReasonNullWhileInProgress(t *testing.T) {
	chunk := relay.Chunk{
		Object:  relay.ObjectChunk,
		Model:   "m",
		Choices: []relay.ChunkChoice{{Delta: relay.Delta{Content: "x"}, FinishReason: nil}},
	}
	raw, err := json.Marshal(chunk)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"finish_reason":null`)
}
