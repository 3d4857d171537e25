package adapters

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/relaymeter/llm-gateway/internal/relay"
)

// GeminiAdapter speaks the Google generateContent format: turns in a
// contents list with the assistant role renamed to "model", the system
// instruction in a structurally separate systemInstruction field, sampling
// parameters nested under generationConfig.
type GeminiAdapter struct{}

func (a *GeminiAdapter) Vendor() Vendor { return VendorGemini }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

var geminiFinishTable = map[string]string{
	"STOP":       relay.FinishStop,
	"MAX_TOKENS": relay.FinishLength,
	"SAFETY":     relay.FinishContentFilter,
	"RECITATION": relay.FinishContentFilter,
}

func geminiRole(role string) string {
	if role == relay.RoleAssistant {
		return "model"
	}
	return role
}

// BuildRequest converts a canonical request to the generateContent body.
// The model name does not appear in the body; the client embeds it in the
// URL path.
func (a *GeminiAdapter) BuildRequest(req *relay.Request) ([]byte, error) {
	out := geminiRequest{}
	if system := req.SystemPrompt(); system != "" {
		out.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: system}}}
	}
	for _, m := range req.NonSystemMessages() {
		out.Contents = append(out.Contents, geminiContent{
			Role:  geminiRole(m.Role),
			Parts: []geminiPart{{Text: m.Content.Flatten()}},
		})
	}
	if req.Temperature != nil || req.TopP != nil || req.MaxTokens != nil || len(req.Stop) > 0 {
		cfg := &geminiGenerationConfig{
			Temperature:     req.Temperature,
			TopP:            req.TopP,
			MaxOutputTokens: req.MaxTokens,
		}
		if len(req.Stop) > 0 {
			cfg.StopSequences = req.Stop
		}
		out.GenerationConfig = cfg
	}
	return json.Marshal(out)
}

// ParseResponse normalizes a generateContent response: candidate parts are
// concatenated in document order, the SCREAMING finish vocabulary is mapped
// to the canonical enum, usageMetadata supplies the token counts.
func (a *GeminiAdapter) ParseResponse(body []byte) *relay.Response {
	resp := &relay.Response{Object: relay.ObjectCompletion}
	if !gjson.ValidBytes(body) {
		resp.Choices = emptyChoice()
		return resp
	}
	root := gjson.ParseBytes(body)

	var text strings.Builder
	root.Get("candidates.0.content.parts").ForEach(func(_, part gjson.Result) bool {
		text.WriteString(part.Get("text").String())
		return true
	})

	finish := mapFinishReason(geminiFinishTable, root.Get("candidates.0.finishReason").String())
	resp.Choices = []relay.Choice{{
		Index: 0,
		Message: relay.ResponseMessage{
			Role:    relay.RoleAssistant,
			Content: text.String(),
		},
		FinishReason: relay.FinishReasonPtr(finish),
	}}
	resp.Usage = relay.Usage{
		PromptTokens:     int(root.Get("usageMetadata.promptTokenCount").Int()),
		CompletionTokens: int(root.Get("usageMetadata.candidatesTokenCount").Int()),
	}
	resp.Usage.TotalTokens = resp.Usage.PromptTokens + resp.Usage.CompletionTokens
	return resp
}

// TranslateEvent re-encodes one streamed generateContent event. Each event
// is a full GenerateContentResponse whose candidate text extends the
// running output; usageMetadata, when present, is authoritative.
func (a *GeminiAdapter) TranslateEvent(data []byte, st *StreamState) [][]byte {
	if !gjson.ValidBytes(data) {
		return nil
	}
	ev := gjson.ParseBytes(data)

	if u := ev.Get("usageMetadata"); u.Exists() {
		if in := u.Get("promptTokenCount"); in.Exists() && in.Int() > 0 {
			st.Usage.PromptTokens = int(in.Int())
			st.SawPromptUsage = true
		}
		if out := u.Get("candidatesTokenCount"); out.Exists() && out.Int() > 0 {
			st.Usage.CompletionTokens = int(out.Int())
			st.SawCompletionUsage = true
		}
	}

	var out [][]byte
	if !st.RoleSent {
		out = append(out, openingChunk(st))
	}

	var text strings.Builder
	ev.Get("candidates.0.content.parts").ForEach(func(_, part gjson.Result) bool {
		text.WriteString(part.Get("text").String())
		return true
	})
	if text.Len() > 0 {
		countOutput(st, text.String())
		out = append(out, emitChunk(st, relay.Delta{Content: text.String()}, ""))
	}

	if reason := ev.Get("candidates.0.finishReason").String(); reason != "" {
		st.FinishReason = mapFinishReason(geminiFinishTable, reason)
		st.Done = true
		out = append(out, emitChunk(st, relay.Delta{}, st.FinishReason))
	}
	return out
}
