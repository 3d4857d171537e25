// Package upstream dispatches vendor-native requests over HTTP.
//
// DESIGN: Clients own exactly the per-vendor transport concerns: auth
// header shape (bearer token, custom key header, query-string key), the
// version header, and endpoint path templating. No business logic, no
// retries — a non-2xx response surfaces as *UpstreamError and retry policy
// is the caller's concern.
package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/relaymeter/llm-gateway/internal/adapters"
	"github.com/relaymeter/llm-gateway/internal/store"
)

// Default vendor endpoints, used when a channel has no base URL override.
const (
	DefaultOpenAIBaseURL    = "https://api.openai.com"
	DefaultAnthropicBaseURL = "https://api.anthropic.com"
	DefaultGeminiBaseURL    = "https://generativelanguage.googleapis.com"

	// DefaultAnthropicVersion is sent when the channel carries no version tag.
	DefaultAnthropicVersion = "2023-06-01"
)

// ErrStreamingUnsupported is returned for transports that cannot produce a
// newline-delimited event stream (Bedrock frames streams as binary AWS
// event-stream records).
var ErrStreamingUnsupported = errors.New("streaming not supported on this channel transport")

// UpstreamError carries a vendor's non-2xx status and raw error body.
type UpstreamError struct {
	Vendor     adapters.Vendor
	StatusCode int
	Body       []byte
}

func (e *UpstreamError) Error() string {
	body := e.Body
	if len(body) > 500 {
		body = body[:500]
	}
	return fmt.Sprintf("upstream %s returned %d: %s", e.Vendor, e.StatusCode, body)
}

// Client dispatches vendor requests. Safe for concurrent use.
type Client struct {
	httpClient   *http.Client
	streamClient *http.Client
	aws          *awsConfigCache
}

// New creates a client. timeout bounds non-streaming round trips; streaming
// reads are bounded by the request context instead. The streaming path uses
// a separate http.Client without a Timeout: Client.Timeout covers reading
// the response body and would sever long-lived streams mid-flight.
func New(timeout time.Duration) *Client {
	return &Client{
		httpClient:   &http.Client{Timeout: timeout},
		streamClient: &http.Client{},
		aws:          newAWSConfigCache(),
	}
}

// Complete performs one blocking round trip and returns the raw vendor
// response body and its content type.
func (c *Client) Complete(ctx context.Context, ch *store.Channel, model string, body []byte) ([]byte, string, error) {
	vendor := adapters.VendorFromString(ch.Vendor)
	if vendor == adapters.VendorAnthropic && ch.AWSRegion != "" {
		return c.completeBedrock(ctx, ch, model, body)
	}

	req, err := c.newRequest(ctx, ch, model, body, false)
	if err != nil {
		return nil, "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("dispatch to %s: %w", vendor, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read %s response: %w", vendor, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", &UpstreamError{Vendor: vendor, StatusCode: resp.StatusCode, Body: respBody}
	}
	return respBody, resp.Header.Get("Content-Type"), nil
}

// CompleteStreaming opens one long-lived vendor byte stream. The caller
// owns the returned reader and must close it; abandoning the context tears
// the vendor connection down.
func (c *Client) CompleteStreaming(ctx context.Context, ch *store.Channel, model string, body []byte) (io.ReadCloser, error) {
	vendor := adapters.VendorFromString(ch.Vendor)
	if vendor == adapters.VendorAnthropic && ch.AWSRegion != "" {
		return nil, ErrStreamingUnsupported
	}

	req, err := c.newRequest(ctx, ch, model, body, true)
	if err != nil {
		return nil, err
	}
	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dispatch to %s: %w", vendor, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		_ = resp.Body.Close()
		return nil, &UpstreamError{Vendor: vendor, StatusCode: resp.StatusCode, Body: respBody}
	}
	return resp.Body, nil
}

func (c *Client) newRequest(ctx context.Context, ch *store.Channel, model string, body []byte, streaming bool) (*http.Request, error) {
	endpoint, err := c.endpointFor(ch, model, streaming)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if streaming {
		req.Header.Set("Accept", "text/event-stream")
	}

	switch adapters.VendorFromString(ch.Vendor) {
	case adapters.VendorOpenAI:
		req.Header.Set("Authorization", "Bearer "+ch.APIKey)
	case adapters.VendorAnthropic:
		req.Header.Set("x-api-key", ch.APIKey)
		version := ch.APIVersion
		if version == "" {
			version = DefaultAnthropicVersion
		}
		req.Header.Set("anthropic-version", version)
	case adapters.VendorGemini:
		// Credential travels as a query parameter; nothing to set here.
	default:
		return nil, fmt.Errorf("unknown channel vendor %q", ch.Vendor)
	}

	// Channel extras win over computed headers.
	for k, v := range ch.Headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

func (c *Client) endpointFor(ch *store.Channel, model string, streaming bool) (string, error) {
	switch adapters.VendorFromString(ch.Vendor) {
	case adapters.VendorOpenAI:
		base := baseOr(ch.BaseURL, DefaultOpenAIBaseURL)
		if strings.HasSuffix(base, "/v1") {
			return base + "/chat/completions", nil
		}
		return base + "/v1/chat/completions", nil

	case adapters.VendorAnthropic:
		return baseOr(ch.BaseURL, DefaultAnthropicBaseURL) + "/v1/messages", nil

	case adapters.VendorGemini:
		// The upstream model name is embedded in the URL path and the
		// credential in the query string.
		base := baseOr(ch.BaseURL, DefaultGeminiBaseURL)
		method := ":generateContent"
		query := "?key=" + url.QueryEscape(ch.APIKey)
		if streaming {
			method = ":streamGenerateContent"
			query += "&alt=sse"
		}
		return base + "/v1beta/models/" + url.PathEscape(model) + method + query, nil
	}
	return "", fmt.Errorf("unknown channel vendor %q", ch.Vendor)
}

func baseOr(base, fallback string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return fallback
	}
	return base
}
