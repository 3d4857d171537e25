package adapters

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/relaymeter/llm-gateway/internal/relay"
)

// DefaultAnthropicMaxTokens is applied when the canonical request carries no
// max_output_tokens; the Anthropic API rejects requests without one.
const DefaultAnthropicMaxTokens = 4096

// AnthropicAdapter speaks the Anthropic Messages format: system instruction
// in a dedicated top-level field, SSE streaming framed as typed events
// (message_start, content_block_delta, message_delta, message_stop).
type AnthropicAdapter struct{}

func (a *AnthropicAdapter) Vendor() Vendor { return VendorAnthropic }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model         string             `json:"model"`
	System        string             `json:"system,omitempty"`
	Messages      []anthropicMessage `json:"messages"`
	MaxTokens     int                `json:"max_tokens"`
	Temperature   *float64           `json:"temperature,omitempty"`
	TopP          *float64           `json:"top_p,omitempty"`
	StopSequences []string           `json:"stop_sequences,omitempty"`
	Stream        bool               `json:"stream,omitempty"`
}

var anthropicFinishTable = map[string]string{
	"end_turn":      relay.FinishStop,
	"stop_sequence": relay.FinishStop,
	"max_tokens":    relay.FinishLength,
	"refusal":       relay.FinishContentFilter,
}

// BuildRequest converts a canonical request to the Messages body. All
// system messages travel merged in the dedicated system field.
func (a *AnthropicAdapter) BuildRequest(req *relay.Request) ([]byte, error) {
	out := anthropicRequest{
		Model:       req.Model,
		System:      req.SystemPrompt(),
		MaxTokens:   DefaultAnthropicMaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stream:      req.Stream,
	}
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		out.MaxTokens = *req.MaxTokens
	}
	if len(req.Stop) > 0 {
		out.StopSequences = req.Stop
	}
	for _, m := range req.NonSystemMessages() {
		out.Messages = append(out.Messages, anthropicMessage{
			Role:    m.Role,
			Content: m.Content.Flatten(),
		})
	}
	return json.Marshal(out)
}

// ParseResponse normalizes a Messages response. Content segments are
// flattened in document order; malformed bodies yield an empty response.
func (a *AnthropicAdapter) ParseResponse(body []byte) *relay.Response {
	resp := &relay.Response{Object: relay.ObjectCompletion}
	if !gjson.ValidBytes(body) {
		resp.Choices = emptyChoice()
		return resp
	}
	root := gjson.ParseBytes(body)
	resp.ID = root.Get("id").String()

	var text strings.Builder
	root.Get("content").ForEach(func(_, seg gjson.Result) bool {
		if seg.Get("type").String() == "text" {
			text.WriteString(seg.Get("text").String())
		}
		return true
	})

	finish := mapFinishReason(anthropicFinishTable, root.Get("stop_reason").String())
	resp.Choices = []relay.Choice{{
		Index: 0,
		Message: relay.ResponseMessage{
			Role:    relay.RoleAssistant,
			Content: text.String(),
		},
		FinishReason: relay.FinishReasonPtr(finish),
	}}
	resp.Usage = relay.Usage{
		PromptTokens:     int(root.Get("usage.input_tokens").Int()),
		CompletionTokens: int(root.Get("usage.output_tokens").Int()),
	}
	resp.Usage.TotalTokens = resp.Usage.PromptTokens + resp.Usage.CompletionTokens
	return resp
}

// TranslateEvent re-encodes one Messages stream event into canonical chunk
// payloads. Returns nil for events that carry nothing client-visible.
func (a *AnthropicAdapter) TranslateEvent(data []byte, st *StreamState) [][]byte {
	if !gjson.ValidBytes(data) {
		return nil
	}
	ev := gjson.ParseBytes(data)

	switch ev.Get("type").String() {
	case "message_start":
		if id := ev.Get("message.id").String(); id != "" {
			st.ID = id
		}
		if in := ev.Get("message.usage.input_tokens"); in.Exists() {
			st.Usage.PromptTokens = int(in.Int())
			st.SawPromptUsage = true
		}
		return [][]byte{openingChunk(st)}

	case "content_block_delta":
		text := ev.Get("delta.text").String()
		if text == "" {
			return nil
		}
		countOutput(st, text)
		var out [][]byte
		if !st.RoleSent {
			out = append(out, openingChunk(st))
		}
		return append(out, emitChunk(st, relay.Delta{Content: text}, ""))

	case "message_delta":
		if out := ev.Get("usage.output_tokens"); out.Exists() {
			st.Usage.CompletionTokens = int(out.Int())
			st.SawCompletionUsage = true
		}
		if in := ev.Get("usage.input_tokens"); in.Exists() && in.Int() > 0 {
			st.Usage.PromptTokens = int(in.Int())
			st.SawPromptUsage = true
		}
		if reason := ev.Get("delta.stop_reason").String(); reason != "" {
			st.FinishReason = mapFinishReason(anthropicFinishTable, reason)
			return [][]byte{emitChunk(st, relay.Delta{}, st.FinishReason)}
		}
		return nil

	case "message_stop":
		st.Done = true
		return nil
	}

	// ping, content_block_start, content_block_stop: nothing to re-emit.
	return nil
}

func emptyChoice() []relay.Choice {
	return []relay.Choice{{
		Index:        0,
		Message:      relay.ResponseMessage{Role: relay.RoleAssistant},
		FinishReason: nil,
	}}
}
