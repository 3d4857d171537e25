// Package billing computes monetary cost from token counts and applies it
// to the user balance and the usage ledger.
//
// DESIGN: Cost tracking is exact where the vendor supplies usage and
// estimator-derived otherwise; the caller resolves which counts to bill
// before handing them here. Settlement after a delivered response is
// best-effort: a failed ledger write is logged and never retried, since the
// client already has its bytes.
package billing

import (
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/relaymeter/llm-gateway/internal/monitoring"
	"github.com/relaymeter/llm-gateway/internal/relay"
	"github.com/relaymeter/llm-gateway/internal/store"
)

const (
	// PreflightOutputTokens is the placeholder output length assumed by the
	// pre-flight admission estimate.
	PreflightOutputTokens = 100

	// StreamFallbackOutputTokens is billed for a stream that finished with
	// neither a vendor usage block nor any re-encoded output text.
	StreamFallbackOutputTokens = 500
)

// RoundMoney rounds to micro-currency, the finest precision configured
// prices carry.
func RoundMoney(x float64) float64 {
	return math.Round(x*1e6) / 1e6
}

// Cost computes the monetary cost of a request against a model's
// per-1000-token prices. Never negative.
func Cost(m *store.Model, promptTokens, completionTokens int) float64 {
	if promptTokens < 0 {
		promptTokens = 0
	}
	if completionTokens < 0 {
		completionTokens = 0
	}
	cost := float64(promptTokens)/1000*m.InputPrice +
		float64(completionTokens)/1000*m.OutputPrice
	return RoundMoney(cost)
}

// AdmissionCost is the pre-flight estimate checked against the balance
// before any vendor dispatch: the estimated input plus a fixed placeholder
// output length.
func AdmissionCost(m *store.Model, estimatedPromptTokens int) float64 {
	return Cost(m, estimatedPromptTokens, PreflightOutputTokens)
}

// Settler applies final cost to the balance and ledger collaborators.
type Settler struct {
	store *store.Store
	feed  *monitoring.Feed
}

// NewSettler wires a settler to its collaborators. feed may be nil.
func NewSettler(st *store.Store, feed *monitoring.Feed) *Settler {
	return &Settler{store: st, feed: feed}
}

// Settle debits the user and appends exactly one ledger entry for a
// completed request. Failures are logged only: the response has already
// been delivered, so there is nothing useful to surface.
func (s *Settler) Settle(userID int64, model string, usage relay.Usage, cost float64) {
	if _, err := s.store.DebitBalance(userID, cost); err != nil {
		log.Error().Err(err).
			Int64("user", userID).
			Str("model", model).
			Float64("cost", cost).
			Msg("settlement debit failed")
	}

	rec := store.UsageRecord{
		UserID:           userID,
		Model:            model,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		Cost:             cost,
		CreatedAt:        time.Now(),
	}
	if err := s.store.AppendUsage(&rec); err != nil {
		log.Error().Err(err).
			Int64("user", userID).
			Str("model", model).
			Msg("settlement ledger write failed")
		return
	}
	if s.feed != nil {
		s.feed.Publish(rec)
	}

	log.Info().
		Int64("user", userID).
		Str("model", model).
		Int("prompt_tokens", usage.PromptTokens).
		Int("completion_tokens", usage.CompletionTokens).
		Float64("cost", cost).
		Msg("request settled")
}
