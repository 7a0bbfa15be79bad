package common

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestFormatUSD(t *testing.T) {
	tests := []struct {
		amount   string
		expected string
	}{
		{"0", "$0.00"},
		{"2.5", "$2.50"},
		{"3.456", "$3.46"},
		{"-1.2", "-$1.20"},
	}

	for _, tt := range tests {
		if got := FormatUSD(decimal.RequireFromString(tt.amount)); got != tt.expected {
			t.Errorf("FormatUSD(%s) = %q, expected %q", tt.amount, got, tt.expected)
		}
	}
}
