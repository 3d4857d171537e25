package adapters

import (
	"encoding/json"

	"github.com/relaymeter/llm-gateway/internal/relay"
	"github.com/relaymeter/llm-gateway/internal/tokens"
)

// emitChunk serializes one canonical chunk for the current stream state.
func emitChunk(st *StreamState, delta relay.Delta, finishReason string) []byte {
	chunk := relay.Chunk{
		ID:      st.ID,
		Object:  relay.ObjectChunk,
		Created: st.Created,
		Model:   st.Model,
		Choices: []relay.ChunkChoice{{
			Index:        0,
			Delta:        delta,
			FinishReason: relay.FinishReasonPtr(finishReason),
		}},
	}
	payload, err := json.Marshal(chunk)
	if err != nil {
		return nil
	}
	return payload
}

// openingChunk emits the role-only delta that starts a canonical stream.
func openingChunk(st *StreamState) []byte {
	st.RoleSent = true
	return emitChunk(st, relay.Delta{Role: relay.RoleAssistant}, "")
}

// countOutput adds streamed text to the running character counters backing
// the estimator fallback.
func countOutput(st *StreamState, text string) {
	cjk, other := tokens.Count(text)
	st.CJKChars += cjk
	st.OtherChars += other
}

// EstimatedOutputTokens converts the accumulated character counters into a
// token estimate. Only meaningful when the vendor never supplied usage.
func (st *StreamState) EstimatedOutputTokens() int {
	return tokens.FromCounts(st.CJKChars, st.OtherChars)
}
