package model

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestFromDecimalRoundsHalfUp(t *testing.T) {
	tests := []struct {
		name  string
		input decimal.Decimal
		want  Money
	}{
		{"exact", decimal.NewFromInt(1500), 1500},
		{"below half", decimal.RequireFromString("1500.4"), 1500},
		{"exactly half", decimal.RequireFromString("1500.5"), 1501},
		{"above half", decimal.RequireFromString("1500.6"), 1501},
		{"zero", decimal.Zero, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FromDecimal(tt.input))
		})
	}
}

func TestMoneyString(t *testing.T) {
	assert.Equal(t, "85.00", Money(8500).String())
	assert.Equal(t, "0.05", Money(5).String())
	assert.Equal(t, "-1.50", Money(-150).String())
}
