package billing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymeter/llm-gateway/internal/billing"
	"github.com/relaymeter/llm-gateway/internal/store"
)

func model(inputPrice, outputPrice float64) *store.Model {
	return &store.Model{ID: "m", InputPrice: inputPrice, OutputPrice: outputPrice}
}

func TestCost_ZeroTokensCostNothing(t *testing.T) {
	assert.Equal(t, 0.0, billing.Cost(model(5, 15), 0, 0))
}

func TestCost_Scenario(t *testing.T) {
	// 5 input at $5/1k plus 3 output at $15/1k.
	cost := billing.Cost(model(5, 15), 5, 3)
	assert.InDelta(t, 0.07, cost, 1e-9)
}

func TestCost_LinearInEachArgument(t *testing.T) {
	m := model(2, 8)
	base := billing.Cost(m, 100, 50)
	require.Greater(t, base, 0.0)

	assert.InDelta(t, 2*base, billing.Cost(m, 200, 100), 1e-9)
	assert.InDelta(t,
		billing.Cost(m, 100, 0)+billing.Cost(m, 0, 50),
		base, 1e-9)
}

func TestCost_NeverNegative(t *testing.T) {
	assert.Equal(t, 0.0, billing.Cost(model(5, 15), -10, -10))
}

func TestCost_RoundsToMicro(t *testing.T) {
	// 1 token at $0.0000019/1k would be 1.9e-9; rounding at micro precision
	// collapses it to zero rather than carrying float dust.
	assert.Equal(t, 0.0, billing.Cost(model(0.0000019, 0), 1, 0))
}

func TestAdmissionCost_UsesPlaceholderOutput(t *testing.T) {
	m := model(5, 15)
	want := billing.Cost(m, 40, billing.PreflightOutputTokens)
	assert.Equal(t, want, billing.AdmissionCost(m, 40))
}
