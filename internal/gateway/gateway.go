// Package gateway is the request orchestrator: it authenticates the caller,
// resolves model and channel configuration, enforces balance admission,
// selects the adapter/client pair for the channel's vendor, and coordinates
// streaming and non-streaming completion including post-stream settlement.
//
// DESIGN: Per-request flow:
//
//	authenticate -> resolve model -> resolve channel -> admission check
//	  -> translate -> dispatch -> [non-stream: normalize + settle]
//	                              [stream: re-encode + async settle]
//
// Each request is handled independently; the only shared resource is the
// store, and balance mutation goes through its atomic conditional debit.
package gateway

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/relaymeter/llm-gateway/internal/billing"
	"github.com/relaymeter/llm-gateway/internal/config"
	"github.com/relaymeter/llm-gateway/internal/monitoring"
	"github.com/relaymeter/llm-gateway/internal/store"
	"github.com/relaymeter/llm-gateway/internal/upstream"
)

// HeaderRequestID carries the inbound request correlation id.
const HeaderRequestID = "X-Request-ID"

// Gateway wires the relay core to its collaborators.
type Gateway struct {
	cfg     *config.Config
	store   *store.Store
	client  *upstream.Client
	settler *billing.Settler
	feed    *monitoring.Feed
}

// New creates a gateway.
func New(cfg *config.Config, st *store.Store) *Gateway {
	feed := monitoring.NewFeed()
	return &Gateway{
		cfg:     cfg,
		store:   st,
		client:  upstream.New(cfg.Upstream.Timeout),
		settler: billing.NewSettler(st, feed),
		feed:    feed,
	}
}

// Routes returns the gateway's HTTP handler.
func (g *Gateway) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", g.handleChatCompletions)
	mux.HandleFunc("/v1/models", g.handleListModels)
	mux.HandleFunc("/healthz", g.handleHealth)
	mux.HandleFunc("/api/usage", g.handleRecentUsage)
	mux.HandleFunc("/api/usage/stream", g.handleUsageStream)
	return withRequestID(mux)
}

// withRequestID tags every request with a correlation id and logs it.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, requestID)

		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("elapsed", time.Since(start)).
			Msg("request handled")
	})
}

// handleHealth reports gateway health, exercising the store on the way.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := g.store.Ping(); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{
		"status": status,
		"time":   time.Now().Format(time.RFC3339),
	})
}
