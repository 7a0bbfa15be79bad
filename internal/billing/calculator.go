// Package billing prices metered generations.
//
// Rates are expressed per one million tokens. All arithmetic is decimal so
// that small per-message charges accumulate without drift.
package billing

import (
	"fmt"
	"strings"
	"sync"

	"sage-gateway-go/internal/models"

	"github.com/shopspring/decimal"
)

var tokensPerMillion = decimal.NewFromInt(1_000_000)

// Flat estimates assume 1.3 tokens per word.
const (
	tokensPerTenWords = 13
	wordsPerTen       = 10
)

// Pricing holds the input and output token rates.
type Pricing struct {
	InputPerMillion  decimal.Decimal
	OutputPerMillion decimal.Decimal
}

func (p Pricing) validate() error {
	if p.InputPerMillion.IsNegative() {
		return fmt.Errorf("input rate cannot be negative, got %s", p.InputPerMillion)
	}
	if p.OutputPerMillion.IsNegative() {
		return fmt.Errorf("output rate cannot be negative, got %s", p.OutputPerMillion)
	}
	return nil
}

// Calculator prices token usage. Safe for concurrent use; pricing may be
// swapped at runtime with UpdatePricing.
type Calculator struct {
	mu      sync.RWMutex
	pricing Pricing
}

func NewCalculator(pricing Pricing) (*Calculator, error) {
	if err := pricing.validate(); err != nil {
		return nil, err
	}
	return &Calculator{pricing: pricing}, nil
}

// TokenCost returns the cost breakdown for a generation.
// Negative token counts are treated as zero.
func (c *Calculator) TokenCost(inputTokens, outputTokens int64) models.TokenCost {
	pricing := c.Pricing()

	if inputTokens < 0 {
		inputTokens = 0
	}
	if outputTokens < 0 {
		outputTokens = 0
	}

	inputCost := calculateTokenCost(inputTokens, pricing.InputPerMillion)
	outputCost := calculateTokenCost(outputTokens, pricing.OutputPerMillion)

	return models.TokenCost{
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		InputCost:    inputCost,
		OutputCost:   outputCost,
		TotalCost:    inputCost.Add(outputCost),
	}
}

// EstimateCost prices a flat token estimate at the input rate.
func (c *Calculator) EstimateCost(estimatedTokens int64) models.TokenCost {
	return c.TokenCost(estimatedTokens, 0)
}

func (c *Calculator) Pricing() Pricing {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pricing
}

func (c *Calculator) UpdatePricing(pricing Pricing) error {
	if err := pricing.validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.pricing = pricing
	return nil
}

func calculateTokenCost(tokens int64, ratePerMillion decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(tokens).Mul(ratePerMillion).Div(tokensPerMillion)
}

// EstimateTokens approximates a token count from whitespace-separated words.
func EstimateTokens(text string) int64 {
	words := int64(len(strings.Fields(text)))
	return (words*tokensPerTenWords + wordsPerTen - 1) / wordsPerTen
}
