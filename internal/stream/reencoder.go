// Package stream re-encodes vendor byte streams into canonical chunk
// streams.
//
// DESIGN: The re-encoder is an explicit state machine advanced one raw
// chunk at a time, independent of whatever moves the bytes. It assembles
// newline-delimited event records across chunk boundaries (a raw read may
// split a record anywhere, including mid-line), translates each complete
// record through the vendor's adapter, and keeps token accounting in the
// shared StreamState as a side channel. Canonical chunks are emitted in the
// exact order their source events arrived.
package stream

import (
	"bytes"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/relaymeter/llm-gateway/internal/adapters"
)

var (
	dataPrefix  = []byte("data:")
	eventPrefix = []byte("event:")
	doneMarker  = []byte("[DONE]")
)

// TerminalMarker is the canonical end-of-stream record.
const TerminalMarker = "data: [DONE]\n\n"

// Reencoder translates one vendor stream into the canonical chunk stream.
type Reencoder struct {
	adapter adapters.Adapter
	state   *adapters.StreamState
	buf     []byte
	skipped int
}

// NewReencoder creates a re-encoder for one request. id and model seed the
// canonical chunk envelope; model is the identifier the client asked for,
// never the upstream's internal name.
func NewReencoder(adapter adapters.Adapter, id, model string, created int64) *Reencoder {
	return &Reencoder{
		adapter: adapter,
		state: &adapters.StreamState{
			ID:      id,
			Model:   model,
			Created: created,
		},
	}
}

// State exposes the accumulator for settlement once the stream is over.
func (r *Reencoder) State() *adapters.StreamState {
	return r.state
}

// Feed consumes one raw chunk from the vendor and returns zero or more
// fully framed canonical records ready to write to the client. Any trailing
// partial line is retained for the next call.
func (r *Reencoder) Feed(chunk []byte) [][]byte {
	r.buf = append(r.buf, chunk...)

	var out [][]byte
	for {
		idx := bytes.IndexByte(r.buf, '\n')
		if idx < 0 {
			return out
		}
		line := r.buf[:idx]
		r.buf = r.buf[idx+1:]
		out = append(out, r.processLine(line)...)
	}
}

// Close flushes a trailing unterminated line and emits the canonical
// terminal marker. Call exactly once, after the vendor stream ends.
func (r *Reencoder) Close() [][]byte {
	var out [][]byte
	if tail := bytes.TrimSpace(r.buf); len(tail) > 0 {
		out = r.processLine(tail)
		r.buf = nil
	}
	if r.skipped > 0 {
		log.Warn().Int("events", r.skipped).Msg("stream contained undecodable event lines")
	}
	return append(out, []byte(TerminalMarker))
}

func (r *Reencoder) processLine(line []byte) [][]byte {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || bytes.HasPrefix(line, eventPrefix) {
		return nil
	}
	if bytes.HasPrefix(line, dataPrefix) {
		line = bytes.TrimSpace(line[len(dataPrefix):])
	}
	if len(line) == 0 {
		return nil
	}
	if bytes.Equal(line, doneMarker) {
		r.state.Done = true
		return nil
	}
	if !gjson.ValidBytes(line) {
		// A single undecodable event is skipped, never fatal.
		r.skipped++
		log.Debug().Str("line", truncate(line, 200)).Msg("skipping malformed stream event")
		return nil
	}

	payloads := r.adapter.TranslateEvent(line, r.state)
	out := make([][]byte, 0, len(payloads))
	for _, p := range payloads {
		out = append(out, frame(p))
	}
	return out
}

func frame(payload []byte) []byte {
	framed := make([]byte, 0, len(payload)+8)
	framed = append(framed, "data: "...)
	framed = append(framed, payload...)
	framed = append(framed, "\n\n"...)
	return framed
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n])
}
