// Package relay defines the canonical chat-completion wire shapes.
//
// DESIGN: The canonical form follows the common chat-completions convention.
// Every vendor format is translated to/from these types; they are the hub
// all adapters meet at. Values are request-scoped and carry no shared state.
package relay

import (
	"encoding/json"
	"strings"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Finish reasons. An empty string means the response is still in progress
// (serialized as null on chunks).
const (
	FinishStop          = "stop"
	FinishLength        = "length"
	FinishContentFilter = "content_filter"
)

// ContentPart is one typed segment of a multipart message content.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Content holds message content that may arrive either as a plain string
// or as an ordered list of typed parts.
type Content struct {
	Text  string
	Parts []ContentPart
}

// UnmarshalJSON accepts both the string and the part-list form.
func (c *Content) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &c.Text)
	}
	return json.Unmarshal(data, &c.Parts)
}

// MarshalJSON emits the part list when present, the plain string otherwise.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.Parts != nil {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

// Flatten returns the content as a single string, concatenating typed
// parts in document order.
func (c Content) Flatten() string {
	if c.Parts == nil {
		return c.Text
	}
	var b strings.Builder
	for _, p := range c.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

// Message is one turn of a conversation.
type Message struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

// StopSequences accepts either a single string or a list of strings and
// always normalizes to a list.
type StopSequences []string

// UnmarshalJSON accepts "stop" or ["stop", ...].
func (s *StopSequences) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var one string
		if err := json.Unmarshal(data, &one); err != nil {
			return err
		}
		*s = StopSequences{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

// Request is the canonical inbound chat-completion request.
type Request struct {
	Model       string        `json:"model"`
	Messages    []Message     `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
	Stop        StopSequences `json:"stop,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

// SystemPrompt merges all system-role messages into one instruction,
// concatenated in order with a newline separator. At most one logical
// system instruction is honored downstream.
func (r *Request) SystemPrompt() string {
	var parts []string
	for _, m := range r.Messages {
		if m.Role == RoleSystem {
			parts = append(parts, m.Content.Flatten())
		}
	}
	return strings.Join(parts, "\n")
}

// NonSystemMessages returns the conversation turns with system messages
// removed (they travel in the vendor's system slot instead).
func (r *Request) NonSystemMessages() []Message {
	out := make([]Message, 0, len(r.Messages))
	for _, m := range r.Messages {
		if m.Role != RoleSystem {
			out = append(out, m)
		}
	}
	return out
}

// Usage is the canonical token accounting block.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ResponseMessage is the assistant message of one choice. Content is always
// flattened to a single string on the canonical side.
type ResponseMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Choice is one completion alternative of a non-streaming response.
type Choice struct {
	Index        int             `json:"index"`
	Message      ResponseMessage `json:"message"`
	FinishReason *string         `json:"finish_reason"`
}

// Response is the canonical non-streaming completion response.
type Response struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// Delta carries the incremental part of a streamed choice.
type Delta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// ChunkChoice is the single choice of a streamed chunk.
type ChunkChoice struct {
	Index        int     `json:"index"`
	Delta        Delta   `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

// Chunk is one canonical streaming event. The stream is terminated by a
// literal "[DONE]" marker rather than a chunk.
type Chunk struct {
	ID      string        `json:"id,omitempty"`
	Object  string        `json:"object"`
	Created int64         `json:"created,omitempty"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
	Usage   *Usage        `json:"usage,omitempty"`
}

// ObjectCompletion and ObjectChunk are the canonical object type tags.
const (
	ObjectCompletion = "chat.completion"
	ObjectChunk      = "chat.completion.chunk"
)

// FinishReasonPtr returns a pointer for a non-empty finish reason, nil for
// an in-progress choice.
func FinishReasonPtr(reason string) *string {
	if reason == "" {
		return nil
	}
	return &reason
}
