package adapters

import (
	"encoding/json"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/relaymeter/llm-gateway/internal/relay"
)

// OpenAIAdapter is the pass-through vendor: its wire format is the canonical
// format. BuildRequest still normalizes (merged system message, stop as an
// array, absent params omitted) and streaming still runs through the
// re-encoder so the model field and usage accounting stay consistent.
type OpenAIAdapter struct{}

func (a *OpenAIAdapter) Vendor() Vendor { return VendorOpenAI }

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	Stop        []string        `json:"stop,omitempty"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
}

// BuildRequest re-serializes the canonical request. System messages are
// merged into a single leading system message; multipart content is
// flattened.
func (a *OpenAIAdapter) BuildRequest(req *relay.Request) ([]byte, error) {
	out := openaiRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
		Stream:      req.Stream,
	}
	if len(req.Stop) > 0 {
		out.Stop = req.Stop
	}
	if system := req.SystemPrompt(); system != "" {
		out.Messages = append(out.Messages, openaiMessage{Role: relay.RoleSystem, Content: system})
	}
	for _, m := range req.NonSystemMessages() {
		out.Messages = append(out.Messages, openaiMessage{
			Role:    m.Role,
			Content: m.Content.Flatten(),
		})
	}
	return json.Marshal(out)
}

// ParseResponse decodes an already canonical-shaped response. Malformed
// bodies yield an empty canonical response.
func (a *OpenAIAdapter) ParseResponse(body []byte) *relay.Response {
	var resp relay.Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return &relay.Response{Object: relay.ObjectCompletion, Choices: emptyChoice()}
	}
	resp.Object = relay.ObjectCompletion
	if len(resp.Choices) == 0 {
		resp.Choices = emptyChoice()
	}
	if resp.Usage.TotalTokens == 0 {
		resp.Usage.TotalTokens = resp.Usage.PromptTokens + resp.Usage.CompletionTokens
	}
	return &resp
}

// TranslateEvent forwards an already canonical chunk, overriding the model
// field with the requested identifier and harvesting any usage block along
// the way. Chunks are forwarded byte-for-byte otherwise so vendor fields
// the canonical form does not model survive.
func (a *OpenAIAdapter) TranslateEvent(data []byte, st *StreamState) [][]byte {
	if !gjson.ValidBytes(data) {
		return nil
	}
	ev := gjson.ParseBytes(data)

	if id := ev.Get("id").String(); id != "" {
		st.ID = id
	}
	if ev.Get("choices.0.delta.role").Exists() {
		st.RoleSent = true
	}
	if text := ev.Get("choices.0.delta.content").String(); text != "" {
		countOutput(st, text)
	}
	if u := ev.Get("usage"); u.Exists() && u.IsObject() {
		if in := u.Get("prompt_tokens"); in.Exists() {
			st.Usage.PromptTokens = int(in.Int())
			st.SawPromptUsage = true
		}
		if out := u.Get("completion_tokens"); out.Exists() {
			st.Usage.CompletionTokens = int(out.Int())
			st.SawCompletionUsage = true
		}
	}
	if reason := ev.Get("choices.0.finish_reason").String(); reason != "" {
		st.FinishReason = reason
	}

	forwarded, err := sjson.SetBytes(data, "model", st.Model)
	if err != nil {
		forwarded = data
	}
	return [][]byte{forwarded}
}
