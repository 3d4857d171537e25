// Package adapters translates between the canonical chat-completion form and
// each vendor's native wire format.
//
// DESIGN: One adapter per vendor, all implementing the same capability
// surface:
//   - BuildRequest:   canonical request  -> vendor request body
//   - ParseResponse:  vendor response    -> canonical response (best effort)
//   - TranslateEvent: one vendor stream event -> canonical chunk payloads
//
// Adapters are pure: no I/O, no retries, no auth. Transport concerns
// (headers, endpoint paths, credentials) live in internal/upstream.
// BuildRequest must not fail on well-formed canonical input, and
// ParseResponse degrades to an empty canonical response on malformed vendor
// output rather than erroring.
package adapters

import (
	"strings"

	"github.com/relaymeter/llm-gateway/internal/relay"
)

// Vendor identifies which upstream wire format a channel speaks.
type Vendor string

const (
	VendorAnthropic Vendor = "anthropic"
	VendorOpenAI    Vendor = "openai"
	VendorGemini    Vendor = "gemini"
	VendorUnknown   Vendor = "unknown"
)

// String returns the vendor name.
func (v Vendor) String() string {
	return string(v)
}

// VendorFromString converts a stored channel vendor tag to a Vendor.
func VendorFromString(s string) Vendor {
	switch s {
	case "anthropic":
		return VendorAnthropic
	case "openai":
		return VendorOpenAI
	case "gemini":
		return VendorGemini
	default:
		return VendorUnknown
	}
}

// StreamState is the per-request accumulator a stream re-encode advances one
// vendor event at a time. It carries everything settlement needs once the
// terminal marker is reached.
type StreamState struct {
	// ID is the canonical response id echoed on every chunk.
	ID string
	// Model is the requested model identifier, force-set on every chunk so
	// clients never see the upstream's internal name.
	Model string
	// Created is the chunk timestamp (unix seconds).
	Created int64

	// Usage holds the running token counts. Vendor-supplied values are
	// authoritative and overwrite the running estimate.
	Usage relay.Usage
	// SawPromptUsage / SawCompletionUsage record whether the vendor ever
	// supplied the respective count.
	SawPromptUsage     bool
	SawCompletionUsage bool

	// CJKChars / OtherChars count streamed output characters for the
	// estimator fallback.
	CJKChars   int
	OtherChars int

	// FinishReason is the mapped canonical finish reason, once known.
	FinishReason string
	// RoleSent tracks whether the opening role-only delta went out.
	RoleSent bool
	// Done is set when the vendor signalled end-of-stream.
	Done bool
}

// Adapter is the capability surface shared by all vendors.
type Adapter interface {
	Vendor() Vendor
	BuildRequest(req *relay.Request) ([]byte, error)
	ParseResponse(body []byte) *relay.Response
	TranslateEvent(data []byte, st *StreamState) [][]byte
}

var registry = map[Vendor]Adapter{
	VendorAnthropic: &AnthropicAdapter{},
	VendorOpenAI:    &OpenAIAdapter{},
	VendorGemini:    &GeminiAdapter{},
}

// ForVendor returns the adapter for a vendor, or nil for an unknown one.
func ForVendor(v Vendor) Adapter {
	return registry[v]
}

// mapFinishReason maps a vendor stop reason through the vendor's fixed
// table. Unmapped reasons pass through lower-cased rather than erroring.
func mapFinishReason(table map[string]string, vendorReason string) string {
	if vendorReason == "" {
		return ""
	}
	if mapped, ok := table[vendorReason]; ok {
		return mapped
	}
	return strings.ToLower(vendorReason)
}
