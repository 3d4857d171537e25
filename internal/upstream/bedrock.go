package upstream

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/tidwall/sjson"

	"github.com/relaymeter/llm-gateway/internal/adapters"
	"github.com/relaymeter/llm-gateway/internal/store"
)

// Bedrock transport for Anthropic channels: instead of an API key the
// channel names an AWS region, and requests are SigV4-signed against the
// Bedrock runtime. The invoke body is the Messages body with the model and
// stream fields removed and the Bedrock anthropic_version pinned.
const bedrockAnthropicVersion = "bedrock-2023-05-31"

type awsConfigCache struct {
	mu   sync.Mutex
	byRg map[string]aws.Config
}

func newAWSConfigCache() *awsConfigCache {
	return &awsConfigCache{byRg: make(map[string]aws.Config)}
}

func (c *awsConfigCache) get(ctx context.Context, region string) (aws.Config, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cfg, ok := c.byRg[region]; ok {
		return cfg, nil
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	c.byRg[region] = cfg
	return cfg, nil
}

func (c *Client) completeBedrock(ctx context.Context, ch *store.Channel, model string, body []byte) ([]byte, string, error) {
	cfg, err := c.aws.get(ctx, ch.AWSRegion)
	if err != nil {
		return nil, "", err
	}
	creds, err := cfg.Credentials.Retrieve(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("aws credentials: %w", err)
	}

	invokeBody := body
	invokeBody, _ = sjson.DeleteBytes(invokeBody, "model")
	invokeBody, _ = sjson.DeleteBytes(invokeBody, "stream")
	invokeBody, err = sjson.SetBytes(invokeBody, "anthropic_version", bedrockAnthropicVersion)
	if err != nil {
		return nil, "", fmt.Errorf("build invoke body: %w", err)
	}

	endpoint := fmt.Sprintf("https://bedrock-runtime.%s.amazonaws.com/model/%s/invoke",
		ch.AWSRegion, url.PathEscape(model))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(invokeBody))
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	sum := sha256.Sum256(invokeBody)
	signer := v4.NewSigner()
	if err := signer.SignHTTP(ctx, creds, req, hex.EncodeToString(sum[:]),
		"bedrock", ch.AWSRegion, time.Now()); err != nil {
		return nil, "", fmt.Errorf("sign bedrock request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("dispatch to bedrock: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read bedrock response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", &UpstreamError{Vendor: adapters.VendorAnthropic, StatusCode: resp.StatusCode, Body: respBody}
	}
	return respBody, resp.Header.Get("Content-Type"), nil
}
