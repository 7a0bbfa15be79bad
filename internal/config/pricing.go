package config

import (
	"fmt"
	"os"
	"path/filepath"

	"sage-gateway-go/internal/models"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"
)

// PricingFile overrides the billing settings from the environment. Fields
// left empty keep their environment value.
type PricingFile struct {
	MonthlyBudget    string `yaml:"monthly_budget"`
	PaymentThreshold string `yaml:"payment_threshold"`
	InputPerMillion  string `yaml:"input_per_million"`
	OutputPerMillion string `yaml:"output_per_million"`

	parsed map[string]decimal.Decimal
}

func LoadPricingFile(pricingFile string) (*PricingFile, error) {
	var pricingPath string
	if filepath.IsAbs(pricingFile) {
		pricingPath = pricingFile
	} else {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		pricingPath = filepath.Join(wd, pricingFile)
	}

	data, err := os.ReadFile(pricingPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", pricingFile, err)
	}

	var pricing PricingFile
	if err := yaml.Unmarshal(data, &pricing); err != nil {
		return nil, fmt.Errorf("unable to parse %s: %w", pricingFile, err)
	}

	pricing.parsed = make(map[string]decimal.Decimal)
	fields := map[string]string{
		"monthly_budget":     pricing.MonthlyBudget,
		"payment_threshold":  pricing.PaymentThreshold,
		"input_per_million":  pricing.InputPerMillion,
		"output_per_million": pricing.OutputPerMillion,
	}
	for name, value := range fields {
		if value == "" {
			continue
		}
		amount, err := decimal.NewFromString(value)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid %s %q", pricingFile, name, value)
		}
		if amount.IsNegative() {
			return nil, fmt.Errorf("%s: %s cannot be negative", pricingFile, name)
		}
		pricing.parsed[name] = amount
	}

	return &pricing, nil
}

func (p *PricingFile) apply(billing *models.BillingConfig) {
	if v, ok := p.parsed["monthly_budget"]; ok {
		billing.MonthlyBudget = v
	}
	if v, ok := p.parsed["payment_threshold"]; ok {
		billing.DefaultThreshold = v
	}
	if v, ok := p.parsed["input_per_million"]; ok {
		billing.InputRatePerMillion = v
	}
	if v, ok := p.parsed["output_per_million"]; ok {
		billing.OutputRatePerMillion = v
	}
}
