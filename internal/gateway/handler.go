package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/relaymeter/llm-gateway/internal/adapters"
	"github.com/relaymeter/llm-gateway/internal/billing"
	"github.com/relaymeter/llm-gateway/internal/config"
	"github.com/relaymeter/llm-gateway/internal/relay"
	"github.com/relaymeter/llm-gateway/internal/store"
	"github.com/relaymeter/llm-gateway/internal/stream"
	"github.com/relaymeter/llm-gateway/internal/tokens"
	"github.com/relaymeter/llm-gateway/internal/upstream"
)

// requestEnv is everything resolved before dispatch.
type requestEnv struct {
	user           *store.User
	model          *store.Model
	channel        *store.Channel
	adapter        adapters.Adapter
	promptEstimate int
}

// handleChatCompletions is the single completions endpoint.
func (g *Gateway) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, codeBadRequest, "method not allowed")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, config.MaxRequestBodySize)
	var req relay.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "malformed request body")
		return
	}
	if strings.TrimSpace(req.Model) == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest, "model is required")
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, codeBadRequest, "messages must not be empty")
		return
	}

	env, ok := g.resolve(w, r, &req)
	if !ok {
		return
	}

	// Outbound translation uses the channel's upstream model override; the
	// response always echoes the identifier the client asked for.
	outbound := req
	outbound.Model = env.model.UpstreamName()
	body, err := env.adapter.BuildRequest(&outbound)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to translate request")
		return
	}

	if req.Stream {
		g.completeStreaming(w, r, &req, env, body)
		return
	}
	g.completeBlocking(w, r, &req, env, body)
}

// resolve runs the pre-dispatch stages: authentication, model and channel
// lookup, admission. Writes the error response itself when a stage fails.
func (g *Gateway) resolve(w http.ResponseWriter, r *http.Request, req *relay.Request) (*requestEnv, bool) {
	key := clientKey(r)
	if key == "" {
		writeError(w, http.StatusUnauthorized, codeUnauthenticated, "missing credential")
		return nil, false
	}
	user, err := g.store.UserByKey(key)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusUnauthorized, codeUnauthenticated, "invalid credential")
		return nil, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternal, "credential lookup failed")
		return nil, false
	}
	if user.Blocked {
		writeError(w, http.StatusForbidden, codeForbidden, "account disabled")
		return nil, false
	}

	model, err := g.store.ModelByID(req.Model)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !model.Enabled) {
		writeError(w, http.StatusNotFound, codeModelUnavailable,
			fmt.Sprintf("model %q does not exist or is disabled", req.Model))
		return nil, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternal, "model lookup failed")
		return nil, false
	}

	channel, err := g.store.ChannelByID(model.ChannelID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !channel.Enabled) {
		writeError(w, http.StatusNotFound, codeModelUnavailable,
			fmt.Sprintf("model %q has no usable channel", req.Model))
		return nil, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternal, "channel lookup failed")
		return nil, false
	}

	adapter := adapters.ForVendor(adapters.VendorFromString(channel.Vendor))
	if adapter == nil {
		writeError(w, http.StatusNotFound, codeModelUnavailable,
			fmt.Sprintf("channel vendor %q is not supported", channel.Vendor))
		return nil, false
	}

	// Admission: the balance must cover the estimated input plus a fixed
	// placeholder output, checked before any vendor dispatch. A balance
	// exactly equal to the estimate is admitted.
	promptEstimate := tokens.EstimateMessages(req.Messages)
	admission := billing.AdmissionCost(model, promptEstimate)
	if user.Balance < admission {
		writeError(w, http.StatusPaymentRequired, codeInsufficientBalance,
			fmt.Sprintf("balance %.6f is below the estimated cost %.6f", user.Balance, admission))
		return nil, false
	}

	return &requestEnv{
		user:           user,
		model:          model,
		channel:        channel,
		adapter:        adapter,
		promptEstimate: promptEstimate,
	}, true
}

// completeBlocking runs the non-streaming round trip: dispatch, normalize,
// respond, settle.
func (g *Gateway) completeBlocking(w http.ResponseWriter, r *http.Request, req *relay.Request, env *requestEnv, body []byte) {
	respBody, _, err := g.client.Complete(r.Context(), env.channel, env.model.UpstreamName(), body)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}

	resp := env.adapter.ParseResponse(respBody)
	resp.Model = req.Model
	if resp.ID == "" {
		resp.ID = completionID()
	}
	if resp.Created == 0 {
		resp.Created = time.Now().Unix()
	}

	// Estimator fallback, applied per missing usage field: a vendor may
	// report one count and omit the other.
	if resp.Usage.PromptTokens == 0 {
		resp.Usage.PromptTokens = env.promptEstimate
	}
	if resp.Usage.CompletionTokens == 0 && len(resp.Choices) > 0 {
		resp.Usage.CompletionTokens = tokens.EstimateText(resp.Choices[0].Message.Content)
	}
	resp.Usage.TotalTokens = resp.Usage.PromptTokens + resp.Usage.CompletionTokens

	writeJSON(w, http.StatusOK, resp)

	cost := billing.Cost(env.model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	g.settler.Settle(env.user.ID, req.Model, resp.Usage, cost)
}

// completeStreaming opens the vendor stream and re-encodes it chunk by
// chunk. Settlement runs asynchronously after the terminal marker; a client
// disconnect abandons the vendor read but already-accumulated usage is
// still settled best-effort.
func (g *Gateway) completeStreaming(w http.ResponseWriter, r *http.Request, req *relay.Request, env *requestEnv, body []byte) {
	vendorStream, err := g.client.CompleteStreaming(r.Context(), env.channel, env.model.UpstreamName(), body)
	if err != nil {
		if errors.Is(err, upstream.ErrStreamingUnsupported) {
			writeError(w, http.StatusBadRequest, codeBadRequest, err.Error())
			return
		}
		writeUpstreamError(w, err)
		return
	}
	defer func() { _ = vendorStream.Close() }()

	flusher, canFlush := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	re := stream.NewReencoder(env.adapter, completionID(), req.Model, time.Now().Unix())

	writeRecords := func(records [][]byte) bool {
		for _, rec := range records {
			if _, err := w.Write(rec); err != nil {
				log.Debug().Err(err).Msg("client disconnected mid-stream")
				return false
			}
		}
		if canFlush && len(records) > 0 {
			flusher.Flush()
		}
		return true
	}

	buf := make([]byte, config.DefaultBufferSize)
	clientGone := false
	for {
		n, readErr := vendorStream.Read(buf)
		if n > 0 {
			if !writeRecords(re.Feed(buf[:n])) {
				clientGone = true
				break
			}
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				log.Debug().Err(readErr).Msg("vendor stream ended")
			}
			break
		}
		if re.State().Done {
			break
		}
	}
	if !clientGone {
		writeRecords(re.Close())
	}

	go g.settleStream(env, req.Model, re.State())
}

// settleStream resolves final usage for a finished (or abandoned) stream
// and applies it. Vendor-supplied counts win; otherwise the pre-flight
// input estimate and the estimator over the re-encoded output text are
// used, with a fixed placeholder when no output text ever arrived.
func (g *Gateway) settleStream(env *requestEnv, model string, st *adapters.StreamState) {
	usage := relay.Usage{
		PromptTokens:     st.Usage.PromptTokens,
		CompletionTokens: st.Usage.CompletionTokens,
	}
	if !st.SawPromptUsage {
		usage.PromptTokens = env.promptEstimate
	}
	if !st.SawCompletionUsage {
		usage.CompletionTokens = st.EstimatedOutputTokens()
		if usage.CompletionTokens == 0 {
			usage.CompletionTokens = billing.StreamFallbackOutputTokens
		}
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens

	cost := billing.Cost(env.model, usage.PromptTokens, usage.CompletionTokens)
	g.settler.Settle(env.user.ID, model, usage, cost)
}

// clientKey extracts the caller's credential: bearer token first, the
// legacy key header as a fallback.
func clientKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.Header.Get("x-api-key")
}

func completionID() string {
	return "chatcmpl-" + uuid.NewString()
}

func writeUpstreamError(w http.ResponseWriter, err error) {
	var ue *upstream.UpstreamError
	if errors.As(err, &ue) {
		log.Error().Int("status", ue.StatusCode).Str("vendor", ue.Vendor.String()).Msg("upstream error response")
		writeError(w, http.StatusBadGateway, codeUpstreamError,
			fmt.Sprintf("upstream returned status %d", ue.StatusCode))
		return
	}
	log.Error().Err(err).Msg("upstream dispatch failed")
	writeError(w, http.StatusBadGateway, codeUpstreamError, "upstream request failed")
}
